package live

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/nihara/internal/history"
	"github.com/MrWong99/nihara/internal/transcript"
	"github.com/MrWong99/nihara/pkg/audio"
	"github.com/MrWong99/nihara/pkg/provider/live"
)

// run is the session's event loop. Inbound events are handled one at a time
// in arrival order; tool calls are answered before the next event is read.
func (c *Controller) run(sess *session, h live.SessionHandle, events <-chan live.Event) {
	defer close(sess.flushes)

	for {
		select {
		case <-sess.ctx.Done():
			return

		case <-c.idle:
			c.onIdle(sess)

		case ev, ok := <-events:
			if !ok {
				// Stream ended without a terminal event.
				c.end(sess, h.Err())
				return
			}
			if c.handleEvent(sess, h, ev) {
				return
			}
		}
	}
}

// handleEvent reports whether the session ended.
func (c *Controller) handleEvent(sess *session, h live.SessionHandle, ev live.Event) bool {
	switch ev.Kind {
	case live.EventOpen:
		c.mu.Lock()
		graph := sess.graph
		c.mu.Unlock()
		if graph != nil {
			graph.OnFrame(func(f audio.AudioFrame) { c.onFrame(sess, f) })
		}
		c.transition(sess, StateListening, StateConnecting)

	case live.EventReady:
		sess.readyOnce.Do(func() {
			c.metrics.SetupDuration.Record(sess.ctx, time.Since(sess.started).Seconds())
			sess.log.Info("live: session ready", "queued_frames", sess.outbox.len())
		})
		sess.outbox.markReady()

	case live.EventAudio:
		c.play(sess, ev.Audio)

	case live.EventInterrupted:
		c.interrupt(sess)

	case live.EventInputTranscript:
		sess.acc.AppendUser(ev.Text)
		c.report(sess, func() { c.sink.Transcript(sess.acc.Snapshot()) })

	case live.EventOutputTranscript:
		sess.acc.AppendAssistant(ev.Text)
		c.report(sess, func() { c.sink.Transcript(sess.acc.Snapshot()) })

	case live.EventTurnComplete:
		c.completeTurn(sess)

	case live.EventToolCall:
		c.dispatchTools(sess, h, ev.Calls)

	case live.EventError:
		err := ev.Err
		if err == nil {
			err = errors.New("live: unspecified session error")
		}
		c.end(sess, err)
		return true

	case live.EventClose:
		c.end(sess, nil)
		return true

	default:
		sess.log.Debug("live: ignoring event", "kind", ev.Kind.String())
	}
	return false
}

// onFrame runs on the device goroutine and must not block.
func (c *Controller) onFrame(sess *session, f audio.AudioFrame) {
	if sess.outbox.push(audio.EncodeSamples(f.Samples)) {
		c.metrics.RecordFrameDropped(sess.ctx, "overflow")
		sess.dropLog.Do(func() {
			sess.log.Warn("live: outbound queue full, dropping oldest frame", "capacity", sess.outbox.capacity)
		})
	}
}

// send drains the outbox into the transport in capture order.
func (c *Controller) send(sess *session, h live.SessionHandle) {
	for {
		chunk, ok := sess.outbox.next(sess.ctx)
		if !ok {
			return
		}
		if err := h.SendAudio(chunk); err != nil {
			var te *live.TransportError
			if !errors.As(err, &te) {
				err = &live.TransportError{Op: "write", Err: err}
			}
			c.end(sess, err)
			return
		}
		c.metrics.FramesSent.Add(sess.ctx, 1)
	}
}

// play decodes one fragment and schedules it after everything already queued.
// Malformed fragments are dropped and the session continues.
func (c *Controller) play(sess *session, chunk audio.EncodedChunk) {
	buf, err := audio.DecodePlayback(chunk)
	if err != nil {
		c.metrics.DecodeAnomalies.Add(sess.ctx, 1)
		sess.log.Warn("live: dropping malformed audio", "error", err, "mime_type", chunk.MIMEType)
		return
	}
	if buf.Frames() == 0 {
		return
	}

	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	scheduled, err := c.sched.Enqueue(buf)
	if err != nil {
		c.mu.Unlock()
		sess.log.Warn("live: schedule playback", "error", err)
		return
	}
	c.setStateLocked(StateSpeaking)
	c.mu.Unlock()

	c.metrics.BuffersScheduled.Add(sess.ctx, 1)
	sess.log.Debug("live: buffer scheduled", "start", scheduled.Start, "end", scheduled.End)
}

// interrupt silences the assistant at once after a barge-in.
func (c *Controller) interrupt(sess *session) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	n := c.sched.Interrupt(audio.UserBargeIn)
	c.setStateLocked(StateListening)
	c.mu.Unlock()

	c.metrics.RecordInterruption(sess.ctx, interruptLabel(audio.UserBargeIn))
	sess.log.Debug("live: interrupted", "stopped_sources", n)
}

func (c *Controller) onIdle(sess *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess || c.state != StateSpeaking || c.sched.Active() > 0 {
		return
	}
	c.setStateLocked(StateListening)
}

// completeTurn flushes the accumulator and queues the entries for history.
func (c *Controller) completeTurn(sess *session) {
	entries := sess.acc.Flush()
	c.report(sess, func() { c.sink.Transcript(transcript.Snapshot{}) })
	if len(entries) == 0 {
		return
	}
	c.metrics.TurnsFlushed.Add(sess.ctx, 1)

	if c.history == nil {
		sess.log.Debug("live: turn complete", "entries", len(entries))
		return
	}
	rows := history.NewEntries(sess.id, c.store.Snapshot(), entries, time.Now())
	select {
	case sess.flushes <- rows:
	default:
		c.recordHistoryFailure(sess.ctx, "backlog")
		sess.log.Warn("live: history backlog full, dropping turn", "entries", len(rows))
	}
}

// writeHistory persists flushed turns in order. Pending turns are still
// written after the session ends.
func (c *Controller) writeHistory(sess *session) {
	ctx := context.WithoutCancel(sess.ctx)
	for rows := range sess.flushes {
		if err := c.history.Append(ctx, rows...); err != nil {
			sess.log.Warn("live: history write failed", "error", err, "entries", len(rows))
		}
	}
}

// dispatchTools answers every call, in order, before returning to the loop.
func (c *Controller) dispatchTools(sess *session, h live.SessionHandle, calls []live.FunctionCall) {
	c.transition(sess, StateThinking, StateListening, StateSpeaking)

	for _, call := range calls {
		resp := c.dispatcher.Dispatch(sess.ctx, call)
		if err := h.SendToolResponse(resp); err != nil {
			sess.log.Warn("live: send tool response", "call_id", call.ID, "name", call.Name, "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess || c.state != StateThinking {
		return
	}
	if c.sched.Active() > 0 {
		c.setStateLocked(StateSpeaking)
	} else {
		c.setStateLocked(StateListening)
	}
}

// report runs fn under the controller lock if sess is still current, so that
// a stopped session never reports over its successor.
func (c *Controller) report(sess *session, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == sess {
		fn()
	}
}

func interruptLabel(r audio.InterruptReason) string {
	switch r {
	case audio.UserBargeIn:
		return "barge_in"
	case audio.SessionStop:
		return "stop"
	case audio.SessionFailure:
		return "failure"
	default:
		return "unknown"
	}
}
