package voicecmd

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/nihara/internal/companion"
	"github.com/MrWong99/nihara/internal/observe"
	"github.com/MrWong99/nihara/pkg/provider/live"
)

// ResultOK is the result reported for every call, applied or not.
const ResultOK = "ok"

// DefaultStatusTTL is how long an action status stays visible.
const DefaultStatusTTL = 3 * time.Second

// StatusFunc receives transient action status text. An empty string clears
// the status.
type StatusFunc func(text string)

// Option is a functional option for configuring a [Dispatcher].
type Option func(*Dispatcher)

// WithStatus registers the action status callback.
func WithStatus(fn StatusFunc) Option {
	return func(d *Dispatcher) { d.status = fn }
}

// WithStatusTTL overrides [DefaultStatusTTL].
func WithStatusTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher applies voice commands to a [companion.Store].
//
// Dispatch is called synchronously from the session's event loop, so calls
// are applied in arrival order. The status clear timer runs on its own
// goroutine; all methods are safe for concurrent use.
type Dispatcher struct {
	store     *companion.Store
	status    StatusFunc
	ttl       time.Duration
	metrics   *observe.Metrics
	suggester *Suggester

	mu    sync.Mutex
	gen   uint64
	timer *time.Timer
}

// New creates a Dispatcher writing to store.
func New(store *companion.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		ttl:       DefaultStatusTTL,
		suggester: NewSuggester(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Dispatch parses and applies call and returns the response to send back.
// The response always carries the call's ID and name and [ResultOK].
func (d *Dispatcher) Dispatch(ctx context.Context, call live.FunctionCall) live.ToolResponse {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "live.toolcall",
		trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("tool.call_id", call.ID),
		),
	)

	cmd := Parse(call)
	outcome := d.apply(ctx, cmd)

	span.SetAttributes(attribute.String("tool.outcome", outcome))
	span.End()
	d.metrics.ToolCallDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("tool", call.Name)))
	d.metrics.RecordToolCall(ctx, call.Name, outcome)

	return live.ToolResponse{ID: call.ID, Name: call.Name, Result: ResultOK}
}

// apply executes cmd and returns "applied", "ignored" or "failed".
func (d *Dispatcher) apply(ctx context.Context, cmd Command) string {
	log := observe.Logger(ctx)

	switch c := cmd.(type) {
	case ChangePersonality:
		if err := d.store.SetPersona(c.Persona); err != nil {
			log.Warn("voicecmd: command failed", "command", c.Name(), "error", err)
			return "failed"
		}
		log.Info("voicecmd: command executed", "command", c.Name(), "persona", string(c.Persona))
		d.showStatus("Personality switched to " + string(c.Persona))
		return "applied"

	case ChangeMode:
		if err := d.store.SetMode(c.Mode); err != nil {
			log.Warn("voicecmd: command failed", "command", c.Name(), "error", err)
			return "failed"
		}
		log.Info("voicecmd: command executed", "command", c.Name(), "mode", string(c.Mode))
		d.showStatus("Mode switched to " + string(c.Mode))
		return "applied"

	case Unknown:
		attrs := []any{"command", c.Function, "reason", c.Reason}
		if c.Arg != "" {
			attrs = append(attrs, "value", c.Arg)
			if s, score, ok := d.suggester.Suggest(c.Arg, declaredValues(c.Function)); ok {
				attrs = append(attrs, "closest", s, "score", score)
			}
		}
		log.Warn("voicecmd: command ignored", attrs...)
		return "ignored"

	default:
		return "ignored"
	}
}

func declaredValues(function string) []string {
	var out []string
	switch function {
	case FuncChangePersonality:
		for _, p := range companion.Personas() {
			out = append(out, string(p))
		}
	case FuncChangeMode:
		for _, m := range companion.VoiceSwitchableModes() {
			out = append(out, string(m))
		}
	}
	return out
}

// showStatus publishes text and schedules its removal after the TTL. A newer
// status cancels the pending clear of an older one.
func (d *Dispatcher) showStatus(text string) {
	if d.status == nil {
		return
	}
	d.mu.Lock()
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.ttl, func() { d.clearStatus(gen) })
	d.mu.Unlock()

	d.status(text)
}

func (d *Dispatcher) clearStatus(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	d.status("")
}

// Close cancels a pending status clear. The status is left as is.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
