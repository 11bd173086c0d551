// Package playback schedules decoded model audio on an output device so that
// fragments arriving at irregular intervals play back-to-back without gaps,
// and can all be silenced at once when the user barges in.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/nihara/pkg/audio"
)

// ErrClosed is returned by [Scheduler.Enqueue] after [Scheduler.Close].
var ErrClosed = errors.New("playback: scheduler closed")

// Option is a functional option for [New].
type Option func(*Scheduler)

// WithIdleHandler registers fn to be called whenever the last registered
// source finishes naturally and the registry becomes empty. fn runs on the
// output device's goroutine and must not block.
func WithIdleHandler(fn func()) Option {
	return func(s *Scheduler) {
		s.onIdle = fn
	}
}

// Scheduled describes one buffer accepted by [Scheduler.Enqueue].
type Scheduled struct {
	// ID identifies the source in the registry.
	ID uint64

	// Start is the device clock position at which the buffer begins.
	Start time.Duration

	// End is Start plus the buffer duration.
	End time.Duration
}

// Scheduler owns the "next start time" cursor for one output context and the
// registry of in-flight sources.
//
// Invariant: between resets the cursor never decreases, so every buffer
// starts at or after the end of the previously enqueued one.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	out    audio.OutputContext
	onIdle func()

	mu        sync.Mutex
	nextStart time.Duration
	sources   map[uint64]audio.Source

	// The cursor is derived from the frames enqueued since the current run
	// began, so per-buffer rounding never accumulates across fragments.
	runStart  time.Duration
	runFrames int64
	runRate   int
	nextID    uint64
	closed    bool
}

// New creates a Scheduler on top of out. The scheduler does not take
// ownership of out; closing the output context is the caller's job.
func New(out audio.OutputContext, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:     out,
		sources: make(map[uint64]audio.Source),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue schedules buf at max(nextStart, now), advances the cursor by the
// buffer's duration and registers the resulting source. The source is
// removed from the registry when it finishes.
func (s *Scheduler) Enqueue(buf *audio.PlaybackBuffer) (Scheduled, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Scheduled{}, ErrClosed
	}

	start := s.nextStart
	if now := s.out.Now(); now >= start || buf.SampleRate != s.runRate {
		start = max(start, now)
		s.runStart, s.runFrames, s.runRate = start, 0, buf.SampleRate
	}
	s.nextID++
	id := s.nextID

	src, err := s.out.Schedule(buf, start, func() { s.ended(id) })
	if err != nil {
		return Scheduled{}, fmt.Errorf("playback: schedule: %w", err)
	}

	s.sources[id] = src
	s.runFrames += int64(buf.Frames())
	s.nextStart = s.runStart + framesToDuration(s.runFrames, s.runRate)
	return Scheduled{ID: id, Start: start, End: s.nextStart}, nil
}

func framesToDuration(frames int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(frames * int64(time.Second) / int64(rate))
}

// ended removes a naturally finished source and fires the idle handler when
// it was the last one. Sources already removed by Interrupt are ignored.
func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	if _, ok := s.sources[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sources, id)
	idle := len(s.sources) == 0
	s.mu.Unlock()

	if idle && s.onIdle != nil {
		s.onIdle()
	}
}

// Interrupt stops every registered source immediately, clears the registry and
// resets the cursor to zero so the next buffer starts as soon as possible.
// It returns the number of sources that were stopped.
func (s *Scheduler) Interrupt(reason audio.InterruptReason) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.sources)
	for id, src := range s.sources {
		src.Stop()
		delete(s.sources, id)
	}
	s.nextStart = 0
	s.runRate = 0

	if n > 0 {
		slog.Debug("playback: interrupted", "reason", reason.String(), "stopped", n)
	}
	return n
}

// Active returns the number of sources currently registered.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sources)
}

// NextStartTime returns the cursor position.
func (s *Scheduler) NextStartTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Close interrupts all playback and rejects further Enqueue calls.
func (s *Scheduler) Close() {
	s.Interrupt(audio.SessionStop)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
