package live

import (
	"context"
	"sync"

	"github.com/MrWong99/nihara/pkg/audio"
)

// DefaultOutboxCapacity holds roughly 16 s of 4096-sample frames at 16 kHz.
const DefaultOutboxCapacity = 64

// outbox is the bounded queue between the microphone callback and the
// transport. Frames pushed before the service is ready are held and released
// in capture order by markReady. When full, the oldest frame is dropped.
type outbox struct {
	mu       sync.Mutex
	frames   []audio.EncodedChunk
	capacity int
	ready    bool
	closed   bool
	wake     chan struct{}
}

func newOutbox(capacity int) *outbox {
	if capacity <= 0 {
		capacity = DefaultOutboxCapacity
	}
	return &outbox{
		frames:   make([]audio.EncodedChunk, 0, capacity),
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

// push never blocks. It reports whether an older frame was evicted to make
// room. Pushes after close are discarded and reported as not dropped.
func (o *outbox) push(chunk audio.EncodedChunk) (dropped bool) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	if len(o.frames) == o.capacity {
		copy(o.frames, o.frames[1:])
		o.frames = o.frames[:len(o.frames)-1]
		dropped = true
	}
	o.frames = append(o.frames, chunk)
	o.mu.Unlock()

	o.signal()
	return dropped
}

// markReady opens the gate. Queued frames become available to next.
func (o *outbox) markReady() {
	o.mu.Lock()
	o.ready = true
	o.mu.Unlock()
	o.signal()
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.frames = nil
	o.mu.Unlock()
	o.signal()
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// next blocks until a frame can be sent, the outbox is closed or ctx is done.
func (o *outbox) next(ctx context.Context) (audio.EncodedChunk, bool) {
	for {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return audio.EncodedChunk{}, false
		}
		if o.ready && len(o.frames) > 0 {
			chunk := o.frames[0]
			copy(o.frames, o.frames[1:])
			o.frames = o.frames[:len(o.frames)-1]
			o.mu.Unlock()
			return chunk, true
		}
		o.mu.Unlock()

		select {
		case <-o.wake:
		case <-ctx.Done():
			return audio.EncodedChunk{}, false
		}
	}
}
