// Package mock provides in-memory implementations of [audio.Backend],
// [audio.InputStream] and [audio.OutputContext] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on scheduling decisions without real hardware, and expose
// exported fields that control return values.
//
// Typical usage:
//
//	out := mock.NewOutput()
//	backend := &mock.Backend{Output: out}
//	// ... run the code under test ...
//	backend.Input().Emit(make([]float32, 4096))
//	out.Advance(500 * time.Millisecond) // finishes sources whose end has passed
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/nihara/pkg/audio"
)

// ─── InputStream ──────────────────────────────────────────────────────────────

// InputStream is a mock [audio.InputStream]. Tests push samples with Emit.
type InputStream struct {
	mu        sync.Mutex
	format    audio.Format
	onSamples func([]float32)
	closed    bool

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// Format implements [audio.InputStream].
func (s *InputStream) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// Emit delivers samples to the registered callback as the device would.
// Emit after Close is a no-op.
func (s *InputStream) Emit(samples []float32) {
	s.mu.Lock()
	cb := s.onSamples
	closed := s.closed
	s.mu.Unlock()
	if closed || cb == nil {
		return
	}
	cb(samples)
}

// Close implements [audio.InputStream].
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── OutputContext ────────────────────────────────────────────────────────────

// ScheduleCall records a single [Output.Schedule] invocation.
type ScheduleCall struct {
	// At is the requested start position.
	At time.Duration

	// Duration is the buffer's playback length.
	Duration time.Duration

	// Source is the handle returned to the caller.
	Source *Source
}

// Source is a mock [audio.Source].
type Source struct {
	mu      sync.Mutex
	start   time.Duration
	end     time.Duration
	onEnded func()
	stopped bool
	ended   bool
}

// Stop implements [audio.Source].
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

// Stopped reports whether Stop has been called.
func (s *Source) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Ended reports whether the source finished naturally.
func (s *Source) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Start returns the clock position at which the source begins playing.
func (s *Source) Start() time.Duration { return s.start }

// End returns the clock position at which the source finishes.
func (s *Source) End() time.Duration { return s.end }

// Output is a mock [audio.OutputContext] with a manually driven clock.
type Output struct {
	mu  sync.Mutex
	now time.Duration

	// ScheduleErr, if set, is returned by Schedule.
	ScheduleErr error

	// Calls records every successful Schedule invocation in order.
	Calls []ScheduleCall

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// NewOutput returns an Output whose clock is at zero.
func NewOutput() *Output { return &Output{} }

// Now implements [audio.OutputContext].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Schedule implements [audio.OutputContext]. It never renders audio; sources
// finish when the clock is advanced past their end.
func (o *Output) Schedule(buf *audio.PlaybackBuffer, at time.Duration, onEnded func()) (audio.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ScheduleErr != nil {
		return nil, o.ScheduleErr
	}
	start := max(at, o.now)
	src := &Source{start: start, end: start + buf.Duration(), onEnded: onEnded}
	o.Calls = append(o.Calls, ScheduleCall{At: at, Duration: buf.Duration(), Source: src})
	return src, nil
}

// Advance moves the clock forward by d and fires the ended callback of every
// non-stopped source whose end is at or before the new clock position, in
// scheduling order. Callbacks run on the calling goroutine.
func (o *Output) Advance(d time.Duration) {
	o.mu.Lock()
	o.now += d
	now := o.now
	var fire []func()
	for _, c := range o.Calls {
		s := c.Source
		s.mu.Lock()
		if !s.stopped && !s.ended && s.end <= now {
			s.ended = true
			if s.onEnded != nil {
				fire = append(fire, s.onEnded)
			}
		}
		s.mu.Unlock()
	}
	o.mu.Unlock()

	for _, fn := range fire {
		fn()
	}
}

// ScheduleCalls returns a copy of the recorded calls.
func (o *Output) ScheduleCalls() []ScheduleCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ScheduleCall, len(o.Calls))
	copy(out, o.Calls)
	return out
}

// Close implements [audio.OutputContext]. It stops every scheduled source.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CloseCalls++
	for _, c := range o.Calls {
		c.Source.Stop()
	}
	return nil
}

// ─── Backend ──────────────────────────────────────────────────────────────────

// OpenInputCall records a single [Backend.OpenInput] invocation.
type OpenInputCall struct {
	Want audio.Format
}

// Backend is a mock [audio.Backend].
type Backend struct {
	mu sync.Mutex

	// InputFormat is reported by opened streams. Zero means "same as requested".
	InputFormat audio.Format

	// OpenInputErr is returned by OpenInput when set. Wrap
	// [audio.ErrDeviceUnavailable] to simulate denied microphone access.
	OpenInputErr error

	// Output is returned by NewOutputContext. A fresh [Output] is created on
	// first use when nil.
	Output *Output

	// NewOutputErr is returned by NewOutputContext when set.
	NewOutputErr error

	// OpenInputCalls records all OpenInput invocations.
	OpenInputCalls []OpenInputCall

	// NewOutputCalls counts NewOutputContext invocations.
	NewOutputCalls int

	inputs []*InputStream
}

// OpenInput implements [audio.Backend].
func (b *Backend) OpenInput(_ context.Context, want audio.Format, onSamples func([]float32)) (audio.InputStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.OpenInputCalls = append(b.OpenInputCalls, OpenInputCall{Want: want})
	if b.OpenInputErr != nil {
		return nil, b.OpenInputErr
	}
	f := b.InputFormat
	if f.SampleRate == 0 {
		f = want
	}
	s := &InputStream{format: f, onSamples: onSamples}
	b.inputs = append(b.inputs, s)
	return s, nil
}

// NewOutputContext implements [audio.Backend].
func (b *Backend) NewOutputContext(_ context.Context, _ audio.Format) (audio.OutputContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.NewOutputCalls++
	if b.NewOutputErr != nil {
		return nil, b.NewOutputErr
	}
	if b.Output == nil {
		b.Output = NewOutput()
	}
	return b.Output, nil
}

// Input returns the most recently opened input stream, or nil.
func (b *Backend) Input() *InputStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.inputs) == 0 {
		return nil
	}
	return b.inputs[len(b.inputs)-1]
}

// Inputs returns every input stream opened so far.
func (b *Backend) Inputs() []*InputStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*InputStream, len(b.inputs))
	copy(out, b.inputs)
	return out
}
