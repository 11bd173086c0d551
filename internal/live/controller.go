package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/MrWong99/nihara/internal/capture"
	"github.com/MrWong99/nihara/internal/companion"
	"github.com/MrWong99/nihara/internal/history"
	"github.com/MrWong99/nihara/internal/observe"
	"github.com/MrWong99/nihara/internal/playback"
	"github.com/MrWong99/nihara/internal/transcript"
	"github.com/MrWong99/nihara/internal/voicecmd"
	"github.com/MrWong99/nihara/pkg/audio"
	"github.com/MrWong99/nihara/pkg/provider/live"
)

var (
	// ErrClosed is returned by [Controller.Start] after [Controller.Close].
	ErrClosed = errors.New("live: controller closed")

	// ErrSessionActive is returned by [Controller.Start] while a session is
	// connecting or open.
	ErrSessionActive = errors.New("live: session already active")

	// ErrStopped is returned by [Controller.Start] when [Controller.Stop] was
	// called before the session finished opening.
	ErrStopped = errors.New("live: session stopped while starting")
)

const historyBacklog = 16

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithStatusSink sets where state, transcripts and alerts are reported.
// Default: [LogSink].
func WithStatusSink(s StatusSink) Option {
	return func(c *Controller) { c.sink = s }
}

// WithHistory sets the sink for flushed turns. Without one, turns are only
// logged.
func WithHistory(h history.Sink) Option {
	return func(c *Controller) { c.history = h }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithCaptureConfig overrides the microphone framing and meter settings.
func WithCaptureConfig(cfg capture.Config) Option {
	return func(c *Controller) { c.captureCfg = cfg }
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(c *Controller) { c.model = model }
}

// WithOutboxCapacity bounds the number of frames held while the transport is
// not ready. Default: [DefaultOutboxCapacity].
func WithOutboxCapacity(n int) Option {
	return func(c *Controller) { c.outboxCap = n }
}

// Controller is the live session state machine. It is safe for concurrent
// use; Start and Stop are typically called from UI handlers while the
// session's own goroutines process device and transport events.
type Controller struct {
	backend    audio.Backend
	provider   live.Provider
	store      *companion.Store
	dispatcher *voicecmd.Dispatcher
	history    history.Sink
	sink       StatusSink
	metrics    *observe.Metrics
	captureCfg capture.Config
	model      string
	outboxCap  int

	// idle is signalled by the scheduler when the last source finishes.
	idle chan struct{}

	mu     sync.Mutex
	state  State
	sess   *session
	out    audio.OutputContext
	sched  *playback.Scheduler
	closed bool

	wg sync.WaitGroup
}

// New creates a Controller in [StateIdle]. The output device is opened on the
// first Start and kept until Close, so sessions can be restarted quickly.
func New(backend audio.Backend, provider live.Provider, store *companion.Store, dispatcher *voicecmd.Dispatcher, opts ...Option) *Controller {
	c := &Controller{
		backend:    backend,
		provider:   provider,
		store:      store,
		dispatcher: dispatcher,
		outboxCap:  DefaultOutboxCapacity,
		idle:       make(chan struct{}, 1),
		state:      StateIdle,
	}
	for _, o := range opts {
		o(c)
	}
	if c.sink == nil {
		c.sink = LogSink{}
	}
	if c.dispatcher == nil {
		c.dispatcher = voicecmd.New(store)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// session owns everything that lives exactly as long as one connection.
// Fields guarded by Controller.mu are marked.
type session struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	span    trace.Span
	log     *slog.Logger
	started time.Time

	handle live.SessionHandle // guarded by Controller.mu
	graph  *capture.Graph     // guarded by Controller.mu

	outbox  *outbox
	acc     transcript.Accumulator
	flushes chan []history.Entry

	dropLog   rate.Sometimes
	readyOnce sync.Once
	endOnce   sync.Once
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Meter returns the smoothed microphone level in [0, 1], or 0 when no
// session is capturing.
func (c *Controller) Meter() float64 {
	c.mu.Lock()
	var g *capture.Graph
	if c.sess != nil {
		g = c.sess.graph
	}
	c.mu.Unlock()
	if g == nil {
		return 0
	}
	return g.Meter()
}

// Start opens a new session. It acquires the microphone, then dials the
// service with the current persona, mode and preferences. Start returns once
// the transport is connected; the session reaches [StateListening] when the
// service reports the socket open.
//
// Start is accepted from idle, closed and errored. A microphone failure
// returns an error wrapping [audio.ErrDeviceUnavailable] and shows
// [MicrophoneAlert]; transport failures return a *[live.TransportError].
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state.Active() {
		c.mu.Unlock()
		return ErrSessionActive
	}
	sess := c.newSession()
	c.sess = sess
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	outcome := "ok"
	defer func() { c.metrics.RecordSessionStart(ctx, outcome) }()

	if err := c.ensureOutput(ctx); err != nil {
		outcome = "output_unavailable"
		c.abort(sess, "", err)
		return err
	}

	graph, err := capture.Open(sess.ctx, c.backend, c.captureCfg)
	if err != nil {
		outcome = "device_unavailable"
		sess.log.Warn("live: microphone unavailable", "error", err)
		err = fmt.Errorf("live: start: %w", err)
		c.abort(sess, MicrophoneAlert, err)
		return err
	}
	if !c.attach(sess, func() { sess.graph = graph }) {
		outcome = "stopped"
		_ = graph.Close()
		return ErrStopped
	}

	cfg := c.sessionConfig(sess)
	dialCtx, cancel := context.WithCancel(ctx)
	stopDial := context.AfterFunc(sess.ctx, cancel)
	handle, err := c.provider.Connect(dialCtx, cfg)
	stopDial()
	cancel()
	if err != nil {
		outcome = "transport_error"
		c.metrics.RecordTransportError(ctx, transportOp(err))
		sess.log.Warn("live: connect failed", "error", err)
		err = fmt.Errorf("live: start: %w", err)
		c.abort(sess, "", err)
		return err
	}
	// The goroutines are registered under the lock so that Close cannot start
	// waiting before they are counted.
	if !c.attach(sess, func() { sess.handle = handle; c.wg.Add(3) }) {
		outcome = "stopped"
		_ = handle.Close()
		return ErrStopped
	}

	c.metrics.ActiveSessions.Add(ctx, 1)
	sess.log.Info("live: session connected", "voice", cfg.Voice, "language", cfg.LanguageCode, "model", cfg.Model)

	events := handle.Events()
	go func() { defer c.wg.Done(); c.run(sess, handle, events) }()
	go func() { defer c.wg.Done(); c.send(sess, handle) }()
	go func() { defer c.wg.Done(); c.writeHistory(sess) }()
	return nil
}

func (c *Controller) newSession() *session {
	id := uuid.NewString()
	ctx, span := observe.StartSpan(observe.WithSessionID(context.Background(), id), "live.session",
		trace.WithAttributes(attribute.String("session.id", id)))
	ctx, cancel := context.WithCancel(ctx)
	return &session{
		id:      id,
		ctx:     ctx,
		cancel:  cancel,
		span:    span,
		log:     observe.Logger(ctx),
		started: time.Now(),
		outbox:  newOutbox(c.outboxCap),
		flushes: make(chan []history.Entry, historyBacklog),
		dropLog: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

// sessionConfig reads the settings once for this session.
func (c *Controller) sessionConfig(sess *session) live.SessionConfig {
	snap := c.store.Snapshot()
	prefs := snap.Preferences

	cfg := live.SessionConfig{
		Model:         c.model,
		Voice:         prefs.Voice,
		Instructions:  companion.SystemInstruction(c.store.Profile(snap.Persona), snap.Mode, prefs.MegaPro, prefs.UserName),
		Tools:         voicecmd.Declarations(),
		Transcription: true,
	}
	if code, ok := companion.LanguageCode(prefs.Language); ok {
		cfg.LanguageCode = code
	} else {
		sess.log.Debug("live: unknown language, using service default", "language", prefs.Language)
	}
	sess.span.SetAttributes(
		attribute.String("persona", string(snap.Persona)),
		attribute.String("mode", string(snap.Mode)),
		attribute.String("voice", cfg.Voice),
	)
	return cfg
}

// ensureOutput opens the playback device once per controller.
func (c *Controller) ensureOutput(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out != nil {
		return nil
	}
	out, err := c.backend.NewOutputContext(ctx, audio.Format{SampleRate: audio.PlaybackSampleRate, Channels: 1})
	if err != nil {
		return fmt.Errorf("live: open output: %w", err)
	}
	c.out = out
	c.sched = playback.New(out, playback.WithIdleHandler(func() {
		select {
		case c.idle <- struct{}{}:
		default:
		}
	}))
	return nil
}

// attach stores a resource on sess if it is still the current session.
func (c *Controller) attach(sess *session, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		return false
	}
	fn()
	return true
}

// abort moves a session that never finished starting to errored.
func (c *Controller) abort(sess *session, alert string, cause error) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.setStateLocked(StateErrored)
	if alert != "" {
		c.sink.Alert(alert)
	}
	c.mu.Unlock()
	c.teardown(sess, audio.SessionFailure, cause)
}

// Stop ends the current session: playback is halted immediately, capture and
// transport are closed. Transport close errors are logged. Stop is
// idempotent and leaves the controller in [StateClosed].
func (c *Controller) Stop() {
	c.mu.Lock()
	sess := c.sess
	if sess == nil {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	sess.log.Info("live: session stopped")
	c.teardown(sess, audio.SessionStop, nil)
}

// end is the terminal transition for remote errors and closes.
func (c *Controller) end(sess *session, err error) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	if err != nil {
		c.setStateLocked(StateErrored)
	} else {
		c.setStateLocked(StateClosed)
	}
	c.mu.Unlock()

	if err != nil {
		c.metrics.RecordTransportError(sess.ctx, transportOp(err))
		sess.log.Warn("live: session failed", "error", err)
	} else {
		sess.log.Info("live: session closed by remote")
	}
	c.teardown(sess, audio.SessionFailure, err)
}

// teardown releases the session's resources exactly once. It must be called
// after sess was detached from the controller.
func (c *Controller) teardown(sess *session, reason audio.InterruptReason, cause error) {
	sess.endOnce.Do(func() {
		sess.cancel()

		c.mu.Lock()
		sched := c.sched
		graph, handle := sess.graph, sess.handle
		c.mu.Unlock()

		if sched != nil {
			if n := sched.Interrupt(reason); n > 0 {
				c.metrics.RecordInterruption(context.Background(), interruptLabel(reason))
			}
		}
		if graph != nil {
			if err := graph.Close(); err != nil {
				sess.log.Warn("live: close capture", "error", err)
			}
		}
		sess.outbox.close()
		sess.acc.Reset()

		if handle != nil {
			if err := handle.Close(); err != nil {
				sess.log.Warn("live: close transport", "error", err)
			}
			c.metrics.ActiveSessions.Add(context.Background(), -1)
			c.metrics.SessionDuration.Record(context.Background(), time.Since(sess.started).Seconds())
		}
		observe.EndSpan(sess.span, cause)
	})
}

// setStateLocked must be called with c.mu held.
func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.sink.SessionState(s)
}

// transition moves the current session to s. from, when non-empty, limits
// the transition to those source states.
func (c *Controller) transition(sess *session, to State, from ...State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		return
	}
	if len(from) > 0 {
		ok := false
		for _, f := range from {
			if c.state == f {
				ok = true
				break
			}
		}
		if !ok {
			return
		}
	}
	c.setStateLocked(to)
}

// Close stops any session, closes the output device and waits for all
// session goroutines to exit. The controller cannot be restarted.
func (c *Controller) Close() error {
	c.Stop()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	out, sched := c.out, c.sched
	c.mu.Unlock()

	c.wg.Wait()

	var err error
	if sched != nil {
		sched.Close()
	}
	if out != nil {
		if cerr := out.Close(); cerr != nil {
			err = fmt.Errorf("live: close output: %w", cerr)
		}
	}
	return err
}

func transportOp(err error) string {
	var te *live.TransportError
	if errors.As(err, &te) {
		return te.Op
	}
	return "unknown"
}

func (c *Controller) recordHistoryFailure(ctx context.Context, reason string) {
	c.metrics.HistoryWriteFailures.Add(ctx, 1, metric.WithAttributes(observe.Attr("reason", reason)))
}
