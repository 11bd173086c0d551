package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Analyser defaults. They match the behaviour of a browser AnalyserNode.
const (
	DefaultFFTSize     = 256
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

// Analyser computes a smoothed loudness level from the most recent input
// samples using a windowed FFT. Write is called from the capture goroutine,
// Level from the UI tick; both are safe for concurrent use.
type Analyser struct {
	mu        sync.Mutex
	fft       *fourier.FFT
	size      int
	smoothing float64
	minDB     float64
	maxDB     float64

	ring   []float64
	pos    int
	filled bool

	smoothed []float64
	seq      []float64
	coeffs   []complex128
}

// AnalyserOption configures an [Analyser].
type AnalyserOption func(*Analyser)

// WithSmoothing sets the time-smoothing constant in [0, 1). Default: 0.8.
func WithSmoothing(tau float64) AnalyserOption {
	return func(a *Analyser) {
		if tau >= 0 && tau < 1 {
			a.smoothing = tau
		}
	}
}

// WithDecibelRange sets the dB range mapped onto [0, 1]. Default: -100..-30.
func WithDecibelRange(minDB, maxDB float64) AnalyserOption {
	return func(a *Analyser) {
		if minDB < maxDB {
			a.minDB, a.maxDB = minDB, maxDB
		}
	}
}

// NewAnalyser returns an analyser over windows of size samples. size must be
// a power of two; other values fall back to [DefaultFFTSize].
func NewAnalyser(size int, opts ...AnalyserOption) *Analyser {
	if size < 32 || size&(size-1) != 0 {
		size = DefaultFFTSize
	}
	a := &Analyser{
		fft:       fourier.NewFFT(size),
		size:      size,
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDecibels,
		maxDB:     DefaultMaxDecibels,
		ring:      make([]float64, size),
		smoothed:  make([]float64, size/2),
		seq:       make([]float64, size),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Write feeds captured samples into the analysis window.
func (a *Analyser) Write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		a.ring[a.pos] = float64(s)
		a.pos++
		if a.pos == a.size {
			a.pos = 0
			a.filled = true
		}
	}
}

// Level returns the current loudness in [0, 1]: the mean of the smoothed
// frequency bins mapped from the configured decibel range. Each call advances
// the smoothing by one step, so call it at a steady tick rate.
func (a *Analyser) Level() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.filled && a.pos == 0 {
		return 0
	}

	// Oldest sample first.
	n := copy(a.seq, a.ring[a.pos:])
	copy(a.seq[n:], a.ring[:a.pos])
	window.Blackman(a.seq)

	a.coeffs = a.fft.Coefficients(a.coeffs, a.seq)

	var sum float64
	span := a.maxDB - a.minDB
	for k := range a.smoothed {
		mag := cmplx.Abs(a.coeffs[k]) / float64(a.size)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag

		db := math.Inf(-1)
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		v := (db - a.minDB) / span
		sum += math.Min(1, math.Max(0, v))
	}
	return sum / float64(len(a.smoothed))
}

// Reset clears the analysis window and smoothing state.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.ring)
	clear(a.smoothed)
	a.pos = 0
	a.filled = false
}
