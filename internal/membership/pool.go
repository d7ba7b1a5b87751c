package membership

import "sync"

// Pool is the concurrency-safe set of live worker endpoints. Membership is
// unique: adding a present endpoint and removing an absent one are no-ops,
// so replayed watch events cannot skew the set.
type Pool struct {
	mu        sync.RWMutex
	endpoints map[Endpoint]struct{}
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{endpoints: make(map[Endpoint]struct{})}
}

// Add inserts the endpoint. Returns false when it was already present.
func (p *Pool) Add(ep Endpoint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.endpoints[ep]; ok {
		return false
	}
	p.endpoints[ep] = struct{}{}
	return true
}

// Remove deletes the endpoint. Returns false when it was not present.
func (p *Pool) Remove(ep Endpoint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.endpoints[ep]; !ok {
		return false
	}
	delete(p.endpoints, ep)
	return true
}

// Clear empties the pool and returns how many endpoints were dropped.
func (p *Pool) Clear() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.endpoints)
	p.endpoints = make(map[Endpoint]struct{})
	return n
}

// Snapshot returns the current members as a fresh slice. The slice never
// aliases pool state, so callers can use it without holding any lock.
func (p *Pool) Snapshot() []Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Endpoint, 0, len(p.endpoints))
	for ep := range p.endpoints {
		out = append(out, ep)
	}
	return out
}

// Len returns the number of live endpoints.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.endpoints)
}
