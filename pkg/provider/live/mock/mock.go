// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controllable sessions.
// Use Session to feed inbound events and inspect what the caller sent.
//
// Example:
//
//	p := &mock.Provider{}
//	handle, _ := p.Connect(ctx, cfg) // handle's stream starts with EventOpen
//	sess := p.Last()
//	sess.Push(live.Event{Kind: live.EventReady})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/nihara/pkg/audio"
	"github.com/MrWong99/nihara/pkg/provider/live"
)

// ErrClosed is returned by Session send methods after Close.
var ErrClosed = errors.New("mock: session closed")

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// NewSession, if set, builds the session returned by each Connect. When
	// nil a fresh Session with a 64-event buffer is used.
	NewSession func() *Session

	// SkipOpen suppresses the EventOpen pushed on every successful Connect.
	SkipOpen bool

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	sessions []*Session
}

// Connect records the call and returns a new Session or ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		err := p.ConnectErr
		p.mu.Unlock()
		return nil, err
	}
	var sess *Session
	if p.NewSession != nil {
		sess = p.NewSession()
	} else {
		sess = NewSession(64)
	}
	p.sessions = append(p.sessions, sess)
	skip := p.SkipOpen
	p.mu.Unlock()

	if !skip {
		sess.Push(live.Event{Kind: live.EventOpen})
	}
	return sess, nil
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

// Sessions returns every session handed out so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

// Last returns the most recently created session, or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// Session is a mock implementation of live.SessionHandle.
//
// Tests drive the inbound stream with Push and Finish. The event channel is
// closed by Finish or Close, whichever comes first.
type Session struct {
	mu     sync.Mutex
	events chan live.Event
	closed bool // events channel closed
	local  bool // Close was called

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendToolResponseErr, if non-nil, is returned by every SendToolResponse call.
	SendToolResponseErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// FinalErr is returned by Err.
	FinalErr error

	sentAudio     []audio.EncodedChunk
	toolResponses []live.ToolResponse
	closeCalls    int
	audioSignal   chan struct{}
}

// NewSession returns a Session whose event channel holds up to buffer events.
func NewSession(buffer int) *Session {
	return &Session{
		events:      make(chan live.Event, buffer),
		audioSignal: make(chan struct{}, 1),
	}
}

// Push queues an inbound event. It returns false if the stream is already
// closed. Push blocks when the buffer is full.
func (s *Session) Push(ev live.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.events <- ev
	return true
}

// Finish pushes a terminal event (EventClose or EventError) and closes the
// stream, as a remote close would.
func (s *Session) Finish(ev live.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if ev.Kind == live.EventError && s.FinalErr == nil {
		s.FinalErr = ev.Err
	}
	s.events <- ev
	s.closed = true
	close(s.events)
}

// SendAudio records chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk audio.EncodedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.local {
		return ErrClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.sentAudio = append(s.sentAudio, chunk)
	select {
	case s.audioSignal <- struct{}{}:
	default:
	}
	return nil
}

// SendToolResponse records resp and returns SendToolResponseErr.
func (s *Session) SendToolResponse(resp live.ToolResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.local {
		return ErrClosed
	}
	if s.SendToolResponseErr != nil {
		return s.SendToolResponseErr
	}
	s.toolResponses = append(s.toolResponses, resp)
	return nil
}

// Events returns the inbound event channel.
func (s *Session) Events() <-chan live.Event { return s.events }

// Err returns FinalErr.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FinalErr
}

// Close closes the event stream without a terminal event and returns CloseErr
// on the first call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if s.local {
		return nil
	}
	s.local = true
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return s.CloseErr
}

// SentAudio returns a copy of the chunks passed to SendAudio.
func (s *Session) SentAudio() []audio.EncodedChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.EncodedChunk(nil), s.sentAudio...)
}

// AudioSent is signalled (without blocking) after each recorded SendAudio.
func (s *Session) AudioSent() <-chan struct{} { return s.audioSignal }

// ToolResponses returns a copy of the responses passed to SendToolResponse.
func (s *Session) ToolResponses() []live.ToolResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]live.ToolResponse(nil), s.toolResponses...)
}

// CloseCalls returns the number of Close invocations.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// Ensure Session implements live.SessionHandle at compile time.
var _ live.SessionHandle = (*Session)(nil)
