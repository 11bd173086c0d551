// Package audio defines the sample types, the PCM wire codec and the device
// abstraction used by the live voice pipeline.
//
// The device abstraction is split in two:
//
//   - [Backend] opens the microphone ([InputStream]) and creates an output
//     context ([OutputContext]) for playback.
//   - [OutputContext] exposes a monotonically advancing device clock and
//     schedules [PlaybackBuffer] values to start at an exact clock position,
//     returning a [Source] handle that can be stopped.
//
// Real hardware lives in audio/malgo; audio/mock provides a recording test
// double with a manually driven clock.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrDeviceUnavailable is returned (wrapped) by [Backend.OpenInput] when the
// microphone cannot be acquired: permission denied, no input device, or the
// device is held exclusively elsewhere.
var ErrDeviceUnavailable = errors.New("audio: input device unavailable")

// InputStream is an open microphone stream. Samples are pushed to the
// callback given to [Backend.OpenInput] until Close is called.
type InputStream interface {
	// Format reports the format of the samples delivered to the callback.
	Format() Format

	// Close stops the device and releases it. Safe to call more than once.
	Close() error
}

// Source is one buffer scheduled on an [OutputContext].
type Source interface {
	// Stop silences the source immediately. The source's ended callback is not
	// invoked for a stopped source. Safe to call more than once.
	Stop()
}

// OutputContext is an open playback device with its own clock.
//
// Implementations must be safe for concurrent use.
type OutputContext interface {
	// Now returns the current position of the device clock. The clock starts at
	// zero when the context is created and never goes backwards.
	Now() time.Duration

	// Schedule queues buf to start playing when the clock reaches at. If at is
	// already in the past the buffer starts immediately. onEnded, if non-nil,
	// is called once from a device goroutine after the last frame was rendered.
	Schedule(buf *PlaybackBuffer, at time.Duration, onEnded func()) (Source, error)

	// Close stops every scheduled source and releases the device.
	Close() error
}

// Backend opens audio devices.
type Backend interface {
	// OpenInput acquires the default microphone and starts delivering sample
	// blocks to onSamples from a device goroutine. want is the preferred
	// format; the stream's actual format is reported by [InputStream.Format].
	// Returns an error wrapping [ErrDeviceUnavailable] when no usable input
	// device exists.
	OpenInput(ctx context.Context, want Format, onSamples func([]float32)) (InputStream, error)

	// NewOutputContext opens the default playback device at the given format.
	NewOutputContext(ctx context.Context, format Format) (OutputContext, error)
}
