// Package malgo implements [audio.Backend] on top of miniaudio via
// github.com/gen2brain/malgo. Both capture and playback run in 32-bit float
// format; miniaudio performs any device-side format conversion.
package malgo

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/nihara/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Backend = (*Backend)(nil)

// Backend owns one miniaudio context and opens devices from it.
type Backend struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	closed bool
}

// New initialises the miniaudio context. Call [Backend.Close] when done.
func New() (*Backend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	return &Backend{ctx: ctx}, nil
}

// OpenInput implements [audio.Backend]. Failures to initialise or start the
// capture device are reported as [audio.ErrDeviceUnavailable].
func (b *Backend) OpenInput(_ context.Context, want audio.Format, onSamples func([]float32)) (audio.InputStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("malgo: backend closed")
	}
	if want.Channels <= 0 {
		want.Channels = 1
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = uint32(want.SampleRate)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(want.Channels)
	cfg.Alsa.NoMMap = 1
	cfg.PerformanceProfile = malgo.LowLatency

	s := &inputStream{format: want}
	bytesPerFrame := malgo.SampleSizeInBytes(malgo.FormatF32) * want.Channels

	device, err := malgo.InitDevice(b.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(pInput) < n {
				return
			}
			onSamples(bytesToFloats(pInput[:n]))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: init capture device: %v", audio.ErrDeviceUnavailable, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("%w: start capture device: %v", audio.ErrDeviceUnavailable, err)
	}
	s.device = device
	return s, nil
}

// NewOutputContext implements [audio.Backend].
func (b *Backend) NewOutputContext(_ context.Context, format audio.Format) (audio.OutputContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("malgo: backend closed")
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(format.Channels)
	cfg.Alsa.NoMMap = 1
	cfg.PeriodSizeInFrames = uint32(format.SampleRate / 50) // 20 ms
	cfg.Periods = 3

	o := &outputContext{tl: newTimeline(format.SampleRate, format.Channels)}
	device, err := malgo.InitDevice(b.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: o.render,
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("malgo: start playback device: %w", err)
	}
	o.device = device
	return o, nil
}

// Close releases the miniaudio context. Devices opened from it must be closed
// first. Safe to call more than once.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	err := b.ctx.Uninit()
	b.ctx.Free()
	if err != nil {
		return fmt.Errorf("malgo: uninit context: %w", err)
	}
	return nil
}

// ─── Input ────────────────────────────────────────────────────────────────────

type inputStream struct {
	format    audio.Format
	device    *malgo.Device
	closeOnce sync.Once
}

func (s *inputStream) Format() audio.Format { return s.format }

func (s *inputStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if e := s.device.Stop(); e != nil {
			err = fmt.Errorf("malgo: stop capture device: %w", e)
		}
		s.device.Uninit()
	})
	return err
}

func bytesToFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func putFloats(dst []byte, samples []float32) {
	for i, s := range samples {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
}
