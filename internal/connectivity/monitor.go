// Package connectivity tracks whether the memory service is reachable.
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rcliao/memory-relay/internal/model"
)

const DefaultProbeTimeout = 5 * time.Second

// HealthChecker is the remote health endpoint.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Options configures a Monitor.
type Options struct {
	Timeout time.Duration
	Logger  *zap.Logger
}

// Monitor holds the connectivity state. State only changes on probe outcomes;
// the monitor never probes on its own.
type Monitor struct {
	checker HealthChecker
	timeout time.Duration
	logger  *zap.Logger
	group   singleflight.Group

	mu        sync.Mutex
	state     model.ConnectivityState
	listeners []func()
}

// New creates a Monitor in the unknown state.
func New(checker HealthChecker, opts Options) *Monitor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultProbeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Monitor{
		checker: checker,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		state:   model.StateUnknown,
	}
}

// OnConnected registers fn to run each time the state becomes connected
// from any other state. Repeated successful probes do not fire it again.
// Listeners run on the probing goroutine, in registration order.
func (m *Monitor) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// State returns the last probe outcome.
func (m *Monitor) State() model.ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the last probe succeeded.
func (m *Monitor) Connected() bool {
	return m.State() == model.StateConnected
}

// Probe checks the health endpoint within the probe deadline and returns the
// resulting state. Concurrent probes share one request.
func (m *Monitor) Probe(ctx context.Context) model.ConnectivityState {
	v, _, _ := m.group.Do("probe", func() (any, error) {
		return m.probe(ctx), nil
	})
	return v.(model.ConnectivityState)
}

func (m *Monitor) probe(ctx context.Context) model.ConnectivityState {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	err := m.checker.Health(ctx)

	next := model.StateConnected
	if err != nil {
		next = model.StateDisconnected
	}

	m.mu.Lock()
	prev := m.state
	m.state = next
	var fire []func()
	if next == model.StateConnected && prev != model.StateConnected {
		fire = append(fire, m.listeners...)
	}
	m.mu.Unlock()

	if prev != next {
		fields := []zap.Field{
			zap.String("from", string(prev)),
			zap.String("to", string(next)),
			zap.Duration("took", time.Since(start)),
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		m.logger.Info("Connectivity changed", fields...)
	}

	for _, fn := range fire {
		fn()
	}
	return next
}
