package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/nihara/pkg/audio"
)

func sine(n int, amp, freq, rate float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	return out
}

func TestAnalyser_EmptyIsZero(t *testing.T) {
	t.Parallel()

	a := audio.NewAnalyser(audio.DefaultFFTSize)
	if got := a.Level(); got != 0 {
		t.Errorf("Level() = %v, want 0", got)
	}
}

func TestAnalyser_SilenceIsZero(t *testing.T) {
	t.Parallel()

	a := audio.NewAnalyser(audio.DefaultFFTSize)
	a.Write(make([]float32, 1024))
	if got := a.Level(); got != 0 {
		t.Errorf("Level() = %v, want 0", got)
	}
}

func TestAnalyser_LoudSignalRises(t *testing.T) {
	t.Parallel()

	a := audio.NewAnalyser(audio.DefaultFFTSize)
	tone := sine(4096, 0.9, 440, 16000)

	var prev float64
	for i := range 10 {
		a.Write(tone)
		got := a.Level()
		if got < 0 || got > 1 {
			t.Fatalf("tick %d: Level() = %v, out of [0,1]", i, got)
		}
		if got < prev {
			t.Fatalf("tick %d: Level() decreased from %v to %v under constant input", i, prev, got)
		}
		prev = got
	}
	if prev == 0 {
		t.Error("expected a non-zero level for a loud tone")
	}
}

func TestAnalyser_LouderIsHigher(t *testing.T) {
	t.Parallel()

	quiet := audio.NewAnalyser(audio.DefaultFFTSize, audio.WithSmoothing(0))
	loud := audio.NewAnalyser(audio.DefaultFFTSize, audio.WithSmoothing(0))
	quiet.Write(sine(512, 0.01, 440, 16000))
	loud.Write(sine(512, 0.8, 440, 16000))

	if q, l := quiet.Level(), loud.Level(); l <= q {
		t.Errorf("loud level %v <= quiet level %v", l, q)
	}
}

func TestAnalyser_Reset(t *testing.T) {
	t.Parallel()

	a := audio.NewAnalyser(audio.DefaultFFTSize)
	a.Write(sine(512, 0.8, 440, 16000))
	_ = a.Level()
	a.Reset()
	if got := a.Level(); got != 0 {
		t.Errorf("Level() after Reset = %v, want 0", got)
	}
}

func TestNewAnalyser_InvalidSizeFallsBack(t *testing.T) {
	t.Parallel()

	a := audio.NewAnalyser(100)
	a.Write(sine(512, 0.8, 440, 16000))
	if got := a.Level(); got <= 0 {
		t.Errorf("Level() = %v, want > 0", got)
	}
}
