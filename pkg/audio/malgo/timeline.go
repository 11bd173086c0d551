package malgo

import (
	"sync"
	"time"

	"github.com/MrWong99/nihara/pkg/audio"
)

// timeline mixes scheduled buffers against a frame-counting clock. The device
// callback drives it; Schedule and Stop may be called from any goroutine.
type timeline struct {
	mu       sync.Mutex
	rate     int
	channels int
	clock    int64 // frames rendered so far
	voices   []*voice
	mix      []float32
}

type voice struct {
	tl      *timeline
	start   int64
	buf     *audio.PlaybackBuffer
	onEnded func()
	stopped bool
}

func newTimeline(rate, channels int) *timeline {
	return &timeline{rate: rate, channels: channels}
}

func (t *timeline) framesToDuration(frames int64) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(t.rate)
}

// durationToFrames rounds to the nearest frame. Callers hand in positions
// that were truncated to whole nanoseconds from exact frame counts.
func (t *timeline) durationToFrames(d time.Duration) int64 {
	return (int64(d)*int64(t.rate) + int64(time.Second)/2) / int64(time.Second)
}

func (t *timeline) now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.framesToDuration(t.clock)
}

// schedule adds buf so that it starts at clock position at. Positions already
// rendered start immediately.
func (t *timeline) schedule(buf *audio.PlaybackBuffer, at time.Duration, onEnded func()) *voice {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := &voice{
		tl:      t,
		start:   max(t.durationToFrames(at), t.clock),
		buf:     buf,
		onEnded: onEnded,
	}
	t.voices = append(t.voices, v)
	return v
}

// Stop implements [audio.Source].
func (v *voice) Stop() {
	v.tl.mu.Lock()
	defer v.tl.mu.Unlock()
	v.stopped = true
}

// stopAll silences every voice without firing ended callbacks.
func (t *timeline) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, v := range t.voices {
		v.stopped = true
	}
	t.voices = nil
}

// renderFrames mixes frames interleaved frames into out and advances the clock.
// It returns the ended callbacks of voices that finished inside this block;
// the caller invokes them after rendering.
func (t *timeline) renderFrames(out []float32, frames int) []func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	clear(out)
	blockStart := t.clock
	blockEnd := blockStart + int64(frames)

	var ended []func()
	kept := t.voices[:0]
	for _, v := range t.voices {
		if v.stopped {
			continue
		}
		n := int64(v.buf.Frames())
		vEnd := v.start + n
		if v.start < blockEnd && vEnd > blockStart {
			from := max(v.start, blockStart)
			to := min(vEnd, blockEnd)
			for f := from; f < to; f++ {
				idx := f - v.start
				o := int(f-blockStart) * t.channels
				for ch := range t.channels {
					src := v.buf.Channels[ch%len(v.buf.Channels)]
					out[o+ch] += src[idx]
				}
			}
		}
		if vEnd <= blockEnd {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(t.voices[len(kept):])
	t.voices = kept

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}
	t.clock = blockEnd
	return ended
}

// ─── Output context ──────────────────────────────────────────────────────────

type outputContext struct {
	tl        *timeline
	device    interface{ Uninit() }
	closeOnce sync.Once
}

var _ audio.OutputContext = (*outputContext)(nil)

func (o *outputContext) Now() time.Duration { return o.tl.now() }

func (o *outputContext) Schedule(buf *audio.PlaybackBuffer, at time.Duration, onEnded func()) (audio.Source, error) {
	return o.tl.schedule(buf, at, onEnded), nil
}

func (o *outputContext) Close() error {
	o.closeOnce.Do(func() {
		o.tl.stopAll()
		if o.device != nil {
			o.device.Uninit()
		}
	})
	return nil
}

// render is the miniaudio playback callback.
func (o *outputContext) render(pOutput, _ []byte, frameCount uint32) {
	frames := int(frameCount)
	need := frames * o.tl.channels
	if len(o.tl.mix) < need {
		o.tl.mix = make([]float32, need)
	}
	mix := o.tl.mix[:need]
	ended := o.tl.renderFrames(mix, frames)
	putFloats(pOutput, mix)
	for _, fn := range ended {
		fn()
	}
}
