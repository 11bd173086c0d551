package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrDecodeAnomaly is returned when a received audio payload is malformed or
// truncated. The fragment must be dropped; playback continues with the next one.
var ErrDecodeAnomaly = errors.New("audio: decode anomaly")

// pcmScale maps normalised float samples onto the int16 range.
const pcmScale = 32768

// EncodeSamples converts normalised float samples into a 16-bit little-endian
// PCM [EncodedChunk] tagged with [CaptureMIMEType].
//
// Each sample is multiplied by 32768 and truncated toward zero. Finite values
// outside the int16 range saturate; NaN and ±Inf encode as 0.
func EncodeSamples(samples []float32) EncodedChunk {
	return EncodedChunk{
		Data:     base64.StdEncoding.EncodeToString(samplesToPCM(samples)),
		MIMEType: CaptureMIMEType,
	}
}

func samplesToPCM(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(floatToInt16(s)))
	}
	return pcm
}

func floatToInt16(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	v = math.Trunc(v * pcmScale)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// DecodeChunk reverses the byte packing of [EncodeSamples]: it base64-decodes
// data and unpacks little-endian int16 samples. A trailing odd byte is reported
// as [ErrDecodeAnomaly].
func DecodeChunk(data string) ([]int16, error) {
	raw, err := decodeBase64(data)
	if err != nil {
		return nil, err
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrDecodeAnomaly, len(raw))
	}
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return out, nil
}

func decodeBase64(data string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecodeAnomaly, err)
	}
	return raw, nil
}

// SamplesToPlaybackBuffer de-interleaves 16-bit little-endian PCM into one
// normalised float slice per channel.
//
// A byte length that is not a multiple of channels*2 is a partial frame and
// yields [ErrDecodeAnomaly] instead of a silently truncated buffer.
func SamplesToPlaybackBuffer(raw []byte, sampleRate, channels int) (*PlaybackBuffer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: invalid format %s", ErrDecodeAnomaly, formatString(sampleRate, channels))
	}
	stride := channels * 2
	if len(raw)%stride != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d (%s)",
			ErrDecodeAnomaly, len(raw), stride, formatString(sampleRate, channels))
	}

	frames := len(raw) / stride
	buf := &PlaybackBuffer{
		Channels:   make([][]float32, channels),
		SampleRate: sampleRate,
	}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			s := int16(binary.LittleEndian.Uint16(raw[(i*channels+ch)*2:]))
			buf.Channels[ch][i] = float32(s) / pcmScale
		}
	}
	return buf, nil
}

// DecodePlayback base64-decodes a received mono chunk and converts it with
// [SamplesToPlaybackBuffer] at the rate named in its MIME type, falling back
// to [PlaybackSampleRate].
func DecodePlayback(chunk EncodedChunk) (*PlaybackBuffer, error) {
	raw, err := decodeBase64(chunk.Data)
	if err != nil {
		return nil, err
	}
	rate := chunk.Rate()
	if rate == 0 {
		rate = PlaybackSampleRate
	}
	return SamplesToPlaybackBuffer(raw, rate, 1)
}
