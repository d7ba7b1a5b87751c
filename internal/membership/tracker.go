package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/inferscale/inferscale/internal/logging"
)

// State identifies the tracker's position in its watch lifecycle.
type State int

const (
	// Connecting means the tracker is (re)establishing the pod watch.
	Connecting State = iota
	// Streaming means watch events are being consumed.
	Streaming
	// Backoff means the last watch ended and the tracker is pausing
	// before reconnecting.
	Backoff
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Streaming:
		return "Streaming"
	case Backoff:
		return "Backoff"
	default:
		return "Unknown"
	}
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// Namespace holds the worker pods. Defaults to "default".
	Namespace string
	// LabelSelector selects the worker pods.
	LabelSelector string
	// WorkerPort is the port workers serve predictions on.
	WorkerPort int
	// WatchTimeout is the server-side timeout requested per watch.
	WatchTimeout time.Duration
	// Backoff is the pause before reconnecting after a watch failure.
	Backoff time.Duration
}

// Tracker feeds the endpoint pool from a Kubernetes pod watch. It cycles
// Connecting -> Streaming -> Backoff for the life of the process: any watch
// failure clears the pool before the pause, so the pool never serves
// addresses Kubernetes stopped vouching for. A single Run per tracker.
type Tracker struct {
	client kubernetes.Interface
	pool   *Pool
	config *TrackerConfig

	// byPod remembers the endpoint added per pod name, so DELETED and
	// degraded MODIFIED events that omit the pod IP still remove the
	// right member.
	byPod map[string]Endpoint

	stream watch.Interface
}

// NewTracker creates a Tracker feeding pool from a watch on the configured
// pods.
func NewTracker(client kubernetes.Interface, pool *Pool, config *TrackerConfig) (*Tracker, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if pool == nil {
		return nil, fmt.Errorf("pool cannot be nil")
	}
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.LabelSelector == "" {
		return nil, fmt.Errorf("label selector cannot be empty")
	}
	if config.WorkerPort < 1 || config.WorkerPort > 65535 {
		return nil, fmt.Errorf("worker port must be between 1 and 65535, got %d", config.WorkerPort)
	}
	if config.Namespace == "" {
		config.Namespace = metav1.NamespaceDefault
	}
	if config.WatchTimeout <= 0 {
		config.WatchTimeout = 60 * time.Second
	}
	if config.Backoff <= 0 {
		config.Backoff = 5 * time.Second
	}
	return &Tracker{
		client: client,
		pool:   pool,
		config: config,
		byPod:  make(map[string]Endpoint),
	}, nil
}

// Run drives the state machine until ctx is canceled, which is the only way
// it returns. Watch failures are logged and absorbed by the Backoff state.
func (t *Tracker) Run(ctx context.Context) error {
	logger := ctrl.LoggerFrom(ctx)
	state := Connecting
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next := t.step(ctx, state)
		if next != state {
			logger.V(logging.TRACE).Info("Membership state transition", "from", state, "to", next)
		}
		state = next
	}
}

func (t *Tracker) step(ctx context.Context, state State) State {
	switch state {
	case Connecting:
		return t.connect(ctx)
	case Streaming:
		return t.consume(ctx)
	case Backoff:
		return t.pause(ctx)
	default:
		return Connecting
	}
}

func (t *Tracker) connect(ctx context.Context) State {
	logger := ctrl.LoggerFrom(ctx)
	stream, err := t.client.CoreV1().Pods(t.config.Namespace).Watch(ctx, metav1.ListOptions{
		LabelSelector:  t.config.LabelSelector,
		TimeoutSeconds: ptr.To(int64(t.config.WatchTimeout / time.Second)),
	})
	if err != nil {
		logger.Error(err, "Pod watch failed to start",
			"namespace", t.config.Namespace,
			"selector", t.config.LabelSelector)
		t.drop(logger)
		return Backoff
	}
	logger.V(logging.DEBUG).Info("Pod watch established",
		"namespace", t.config.Namespace,
		"selector", t.config.LabelSelector)
	t.stream = stream
	return Streaming
}

func (t *Tracker) consume(ctx context.Context) State {
	logger := ctrl.LoggerFrom(ctx)
	defer func() {
		t.stream.Stop()
		t.stream = nil
	}()
	for {
		select {
		case <-ctx.Done():
			return Backoff
		case ev, ok := <-t.stream.ResultChan():
			if !ok {
				// Server-side close: the requested watch timeout
				// elapsed or the stream broke.
				logger.V(logging.DEBUG).Info("Pod watch stream closed")
				t.drop(logger)
				return Backoff
			}
			if ev.Type == watch.Error {
				logger.Info("Pod watch reported an error event", "object", ev.Object)
				t.drop(logger)
				return Backoff
			}
			t.handle(logger, ev)
		}
	}
}

func (t *Tracker) pause(ctx context.Context) State {
	select {
	case <-ctx.Done():
	case <-time.After(t.config.Backoff):
	}
	return Connecting
}

// drop clears the pool and the pod index. Stale addresses must never
// outlive the watch that vouched for them.
func (t *Tracker) drop(logger logr.Logger) {
	t.byPod = make(map[string]Endpoint)
	if n := t.pool.Clear(); n > 0 {
		logger.Info("Cleared worker pool pending watch recovery", "dropped", n)
	}
}

func (t *Tracker) handle(logger logr.Logger, ev watch.Event) {
	pod, ok := ev.Object.(*corev1.Pod)
	if !ok {
		logger.V(logging.DEBUG).Info("Ignoring non-pod watch object", "eventType", ev.Type)
		return
	}
	switch ev.Type {
	case watch.Added, watch.Modified:
		ep, dispatchable := EndpointForPod(pod, t.config.WorkerPort)
		if !dispatchable {
			// The pod lost its address or left Running; stop routing
			// to it.
			t.forget(logger, pod)
			return
		}
		if prev, known := t.byPod[pod.Name]; known && prev != ep {
			if t.pool.Remove(prev) {
				logger.Info("Removed worker after address change", "pod", pod.Name, "endpoint", prev)
			}
		}
		t.byPod[pod.Name] = ep
		if t.pool.Add(ep) {
			logger.Info("Added worker", "pod", pod.Name, "endpoint", ep)
		}
	case watch.Deleted:
		t.forget(logger, pod)
	}
}

// forget removes the pod's endpoint from the pool, falling back to the pod's
// reported IP when the pod was never indexed. Absent members are a no-op.
func (t *Tracker) forget(logger logr.Logger, pod *corev1.Pod) {
	ep, known := t.byPod[pod.Name]
	delete(t.byPod, pod.Name)
	if !known {
		if pod.Status.PodIP == "" {
			return
		}
		ep = endpointOf(pod.Status.PodIP, t.config.WorkerPort)
	}
	if t.pool.Remove(ep) {
		logger.Info("Removed worker", "pod", pod.Name, "endpoint", ep)
	}
}
