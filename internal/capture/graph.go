// Package capture turns a raw microphone stream into fixed-size [audio.AudioFrame]
// windows and exposes a smoothed input level for the UI.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/nihara/pkg/audio"
)

// Config configures a capture [Graph]. Zero values take the defaults.
type Config struct {
	// SampleRate of emitted frames. Default: [audio.CaptureSampleRate].
	SampleRate int

	// FrameSize is the number of samples per emitted frame.
	// Default: [audio.FrameSize].
	FrameSize int

	// FFTSize is the analysis window of the level meter.
	// Default: [audio.DefaultFFTSize].
	FFTSize int

	// Smoothing is the meter's time-smoothing constant. Default: 0.8.
	Smoothing float64
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.CaptureSampleRate
	}
	if c.FrameSize <= 0 {
		c.FrameSize = audio.FrameSize
	}
	if c.FFTSize <= 0 {
		c.FFTSize = audio.DefaultFFTSize
	}
	if c.Smoothing <= 0 || c.Smoothing >= 1 {
		c.Smoothing = audio.DefaultSmoothing
	}
}

// Graph owns one open microphone stream for the lifetime of a session.
//
// Samples are windowed into frames of exactly FrameSize samples and delivered,
// in capture order, to the callback registered with [Graph.OnFrame]. Samples
// captured before a callback is registered only feed the meter.
//
// All methods are safe for concurrent use.
type Graph struct {
	cfg      Config
	stream   audio.InputStream
	analyser *audio.Analyser

	mu       sync.Mutex
	ready    bool
	closed   bool
	conv     audio.Converter
	format   audio.Format
	pending  []float32
	emitted  int64 // samples delivered so far
	onFrame  func(audio.AudioFrame)
	unwired  int
	closeErr error

	closeOnce sync.Once
}

// Open acquires the microphone through backend. When the device cannot be
// acquired the returned error wraps [audio.ErrDeviceUnavailable].
func Open(ctx context.Context, backend audio.Backend, cfg Config) (*Graph, error) {
	cfg.applyDefaults()
	target := audio.Format{SampleRate: cfg.SampleRate, Channels: 1}

	g := &Graph{
		cfg:      cfg,
		analyser: audio.NewAnalyser(cfg.FFTSize, audio.WithSmoothing(cfg.Smoothing)),
		conv:     audio.Converter{Target: target},
		pending:  make([]float32, 0, cfg.FrameSize*2),
	}

	stream, err := backend.OpenInput(ctx, target, g.process)
	if err != nil {
		if errors.Is(err, audio.ErrDeviceUnavailable) {
			return nil, fmt.Errorf("capture: open: %w", err)
		}
		return nil, fmt.Errorf("capture: open: %w: %v", audio.ErrDeviceUnavailable, err)
	}

	g.mu.Lock()
	g.stream = stream
	g.format = stream.Format()
	g.ready = true
	g.mu.Unlock()

	slog.Debug("capture: microphone open", "device_format", g.format.String(), "frame_size", cfg.FrameSize)
	return g, nil
}

// OnFrame registers the frame callback, replacing any previous one. fn is
// invoked from the device goroutine once per completed frame and must not
// block; the frame's sample slice is owned by fn.
func (g *Graph) OnFrame(fn func(audio.AudioFrame)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onFrame = fn
}

// process is the device callback.
func (g *Graph) process(samples []float32) {
	g.mu.Lock()
	if !g.ready || g.closed {
		g.mu.Unlock()
		return
	}
	mono := g.conv.Convert(samples, g.format)
	g.analyser.Write(mono)

	var frames []audio.AudioFrame
	g.pending = append(g.pending, mono...)
	for len(g.pending) >= g.cfg.FrameSize {
		frame := make([]float32, g.cfg.FrameSize)
		copy(frame, g.pending)
		g.pending = append(g.pending[:0], g.pending[g.cfg.FrameSize:]...)

		frames = append(frames, audio.AudioFrame{
			Samples:    frame,
			SampleRate: g.cfg.SampleRate,
			Timestamp:  time.Duration(g.emitted) * time.Second / time.Duration(g.cfg.SampleRate),
		})
		g.emitted += int64(g.cfg.FrameSize)
	}
	fn := g.onFrame
	if fn == nil {
		g.unwired += len(frames)
	}
	g.mu.Unlock()

	if fn == nil {
		return
	}
	for _, f := range frames {
		fn(f)
	}
}

// Meter returns a smoothed loudness proxy in [0, 1]. Call it at a steady
// tick rate; each call advances the smoothing by one step. Returns 0 once
// the graph is closed.
func (g *Graph) Meter() float64 {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return 0
	}
	return g.analyser.Level()
}

// Format reports the device-side format of the underlying stream.
func (g *Graph) Format() audio.Format {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.format
}

// Close releases the device and the analysis state. Samples still pending in
// a partial frame are discarded. Safe to call more than once.
func (g *Graph) Close() error {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		g.closed = true
		g.onFrame = nil
		g.pending = nil
		unwired := g.unwired
		stream := g.stream
		g.mu.Unlock()

		if stream != nil {
			if err := stream.Close(); err != nil {
				g.closeErr = fmt.Errorf("capture: close: %w", err)
			}
		}
		g.analyser.Reset()
		slog.Debug("capture: microphone closed", "frames_before_wiring", unwired)
	})
	return g.closeErr
}
