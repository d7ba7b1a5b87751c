package dispatch

import (
	"math/rand/v2"

	"github.com/inferscale/inferscale/internal/membership"
)

// Picker chooses which worker serves a given request.
type Picker interface {
	// Pick selects one endpoint. endpoints must be non-empty.
	Pick(endpoints []membership.Endpoint) membership.Endpoint
}

// RandomPicker selects uniformly at random. Workers are stateless, so
// selection needs no coordination across dispatcher instances the way a
// round-robin cursor would.
type RandomPicker struct{}

func (RandomPicker) Pick(endpoints []membership.Endpoint) membership.Endpoint {
	return endpoints[rand.IntN(len(endpoints))]
}
