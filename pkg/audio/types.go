package audio

import (
	"mime"
	"strconv"
	"time"
)

// Wire formats of the live pipeline.
const (
	// CaptureSampleRate is the rate at which microphone frames are sent upstream.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of model audio received from the service.
	PlaybackSampleRate = 24000

	// FrameSize is the number of samples in one captured [AudioFrame].
	FrameSize = 4096

	// CaptureMIMEType tags every [EncodedChunk] produced by [EncodeSamples].
	CaptureMIMEType = "audio/pcm;rate=16000"
)

// AudioFrame is one fixed-size window of captured microphone audio.
// Frames are produced continuously while a session is open and never persisted.
type AudioFrame struct {
	// Samples are mono samples normalised to [-1.0, 1.0].
	Samples []float32

	// SampleRate in Hz. Always [CaptureSampleRate] for frames leaving the
	// capture graph.
	SampleRate int

	// Timestamp marks the start of this frame relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// EncodedChunk is a base64-wrapped buffer of 16-bit signed little-endian PCM
// ready for the transport. Each chunk is consumed exactly once.
type EncodedChunk struct {
	// Data is the base64 (standard encoding) representation of the PCM bytes.
	Data string

	// MIMEType describes the payload, e.g. "audio/pcm;rate=16000".
	MIMEType string
}

// Rate returns the rate parameter of MIMEType, or 0 when it is missing or
// malformed.
func (c EncodedChunk) Rate() int {
	_, params, err := mime.ParseMediaType(c.MIMEType)
	if err != nil {
		return 0
	}
	r, err := strconv.Atoi(params["rate"])
	if err != nil || r <= 0 {
		return 0
	}
	return r
}

// PlaybackBuffer is a decoded, de-interleaved sample buffer ready to be
// scheduled on an [OutputContext].
type PlaybackBuffer struct {
	// Channels holds one slice of normalised samples per channel. All slices
	// have the same length.
	Channels [][]float32

	// SampleRate in Hz.
	SampleRate int
}

// Frames returns the number of sample frames (samples per channel).
func (b *PlaybackBuffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of the buffer.
func (b *PlaybackBuffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}
