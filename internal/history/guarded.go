package history

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/nihara/internal/observe"
	"github.com/MrWong99/nihara/internal/resilience"
)

// DefaultWriteTimeout bounds a single guarded Append.
const DefaultWriteTimeout = 5 * time.Second

// GuardOption configures a [Guarded] sink.
type GuardOption func(*Guarded)

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) GuardOption {
	return func(g *Guarded) { g.breaker = cb }
}

// WithWriteTimeout overrides [DefaultWriteTimeout].
func WithWriteTimeout(d time.Duration) GuardOption {
	return func(g *Guarded) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithGuardMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithGuardMetrics(m *observe.Metrics) GuardOption {
	return func(g *Guarded) { g.metrics = m }
}

// Guarded wraps a [Sink] with a per-write timeout and a circuit breaker.
// While the breaker is open, writes are rejected immediately with
// [resilience.ErrCircuitOpen]. Every failed write is counted.
type Guarded struct {
	next    Sink
	breaker *resilience.CircuitBreaker
	timeout time.Duration
	metrics *observe.Metrics
}

var _ Sink = (*Guarded)(nil)

// NewGuarded wraps next.
func NewGuarded(next Sink, opts ...GuardOption) *Guarded {
	g := &Guarded{next: next, timeout: DefaultWriteTimeout}
	for _, o := range opts {
		o(g)
	}
	if g.breaker == nil {
		g.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "history",
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
		})
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Append implements [Sink].
func (g *Guarded) Append(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return g.next.Append(ctx, entries...)
	})
	if err != nil {
		reason := "error"
		if errors.Is(err, resilience.ErrCircuitOpen) {
			reason = "circuit_open"
		}
		g.metrics.HistoryWriteFailures.Add(ctx, 1, metric.WithAttributes(observe.Attr("reason", reason)))
	}
	return err
}

// State reports the breaker state.
func (g *Guarded) State() resilience.State {
	return g.breaker.State()
}
