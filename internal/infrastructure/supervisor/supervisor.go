// Package supervisor keeps long-lived connections to external resources
// alive. Each Resource owns one handle, dials it in the background, retries
// with a constant delay until it succeeds, and redials when a health check
// fails. Callers never see dial errors; they ask for the current handle and
// get domain.ErrNotConnected while none is available.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/99minutos/authstream/internal/core/domain"
	"github.com/99minutos/authstream/internal/metrics"
)

const DefaultRetryInterval = 5 * time.Second

// State is a resource's position in Disconnected → Connecting → Connected.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Dialer opens a new handle. It must return promptly once ctx is done.
type Dialer[T any] func(ctx context.Context) (T, error)

// Pinger reports whether an open handle is still usable.
type Pinger[T any] func(ctx context.Context, handle T) error

// Closer releases a handle that is being replaced or torn down.
type Closer[T any] func(handle T)

// Status is the read-only view used by readiness probes.
type Status interface {
	Name() string
	State() State
}

// Resource supervises a single connection handle of type T.
type Resource[T any] struct {
	name           string
	dial           Dialer[T]
	ping           Pinger[T]
	close          Closer[T]
	retryInterval  time.Duration
	healthInterval time.Duration
	log            zerolog.Logger

	handle    atomic.Pointer[T]
	state     atomic.Int32
	attempts  atomic.Int64
	ready     chan struct{}
	readyOnce sync.Once
}

// Option configures a Resource.
type Option[T any] func(*Resource[T])

// WithRetryInterval sets the constant delay between failed dials.
func WithRetryInterval[T any](d time.Duration) Option[T] {
	return func(r *Resource[T]) {
		if d > 0 {
			r.retryInterval = d
		}
	}
}

// WithHealthCheck enables periodic pings of the open handle. A failed ping
// moves the resource back to Disconnected and triggers a redial.
func WithHealthCheck[T any](ping Pinger[T], interval time.Duration) Option[T] {
	return func(r *Resource[T]) {
		r.ping = ping
		r.healthInterval = interval
	}
}

// WithCloser sets how replaced or torn-down handles are released.
func WithCloser[T any](c Closer[T]) Option[T] {
	return func(r *Resource[T]) { r.close = c }
}

// WithLogger sets the logger; the resource name is added as a field.
func WithLogger[T any](log zerolog.Logger) Option[T] {
	return func(r *Resource[T]) { r.log = log }
}

func NewResource[T any](name string, dial Dialer[T], opts ...Option[T]) *Resource[T] {
	r := &Resource[T]{
		name:          name,
		dial:          dial,
		retryInterval: DefaultRetryInterval,
		log:           zerolog.Nop(),
		ready:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With().Str("component", "supervisor").Str("resource", name).Logger()
	r.setState(Disconnected)
	return r
}

func (r *Resource[T]) Name() string { return r.name }

func (r *Resource[T]) State() State { return State(r.state.Load()) }

// Attempts returns the number of dials made so far.
func (r *Resource[T]) Attempts() int64 { return r.attempts.Load() }

// Ready is closed the first time the resource connects.
func (r *Resource[T]) Ready() <-chan struct{} { return r.ready }

// Get returns the current handle, or domain.ErrNotConnected.
func (r *Resource[T]) Get() (T, error) {
	var zero T
	h := r.handle.Load()
	if h == nil || r.State() != Connected {
		return zero, fmt.Errorf("%s: %w", r.name, domain.ErrNotConnected)
	}
	return *h, nil
}

// Run dials and supervises the resource until ctx is cancelled, then
// releases the handle. It always returns ctx.Err().
func (r *Resource[T]) Run(ctx context.Context) error {
	defer r.teardown()

	for {
		if !r.connect(ctx) {
			return ctx.Err()
		}
		if !r.watch(ctx) {
			return ctx.Err()
		}
	}
}

// connect dials until it succeeds (true) or ctx is done (false).
func (r *Resource[T]) connect(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}

		r.setState(Connecting)
		attempt := r.attempts.Add(1)

		h, err := r.dial(ctx)
		if err == nil {
			r.swap(&h)
			r.setState(Connected)
			metrics.ConnectionAttemptsTotal.WithLabelValues(r.name, "success").Inc()
			r.log.Info().Int64("attempt", attempt).Msg("connected")
			r.readyOnce.Do(func() { close(r.ready) })
			return true
		}

		r.setState(Disconnected)
		metrics.ConnectionAttemptsTotal.WithLabelValues(r.name, "failure").Inc()
		r.log.Error().Err(err).
			Int64("attempt", attempt).
			Dur("retry_in", r.retryInterval).
			Msg("connection failed")

		if !sleep(ctx, r.retryInterval) {
			return false
		}
	}
}

// watch pings the handle until a ping fails (true) or ctx is done (false).
func (r *Resource[T]) watch(ctx context.Context) bool {
	if r.ping == nil || r.healthInterval <= 0 {
		<-ctx.Done()
		return false
	}

	ticker := time.NewTicker(r.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			h := r.handle.Load()
			if h == nil {
				return true
			}
			if err := r.ping(ctx, *h); err != nil {
				if ctx.Err() != nil {
					return false
				}
				r.setState(Disconnected)
				r.log.Warn().Err(err).Msg("health check failed, reconnecting")
				return true
			}
		}
	}
}

// swap installs h and releases whatever handle it replaced.
func (r *Resource[T]) swap(h *T) {
	if old := r.handle.Swap(h); old != nil && r.close != nil {
		r.close(*old)
	}
}

func (r *Resource[T]) teardown() {
	r.setState(Disconnected)
	if old := r.handle.Swap(nil); old != nil && r.close != nil {
		r.close(*old)
	}
	r.log.Info().Msg("closed")
}

func (r *Resource[T]) setState(s State) {
	r.state.Store(int32(s))
	metrics.ConnectionState.WithLabelValues(r.name).Set(float64(s))
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
