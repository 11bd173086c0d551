package ui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MrWong99/nihara/internal/companion"
	"github.com/MrWong99/nihara/internal/live"
	"github.com/MrWong99/nihara/internal/observe"
	"github.com/MrWong99/nihara/internal/transcript"
	"github.com/MrWong99/nihara/pkg/audio"
)

const (
	clientBuffer   = 64
	writeTimeout   = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxCommandSize = 4096
)

// ErrNoController is returned for session commands before [Hub.Attach].
var ErrNoController = errors.New("ui: no session controller attached")

// Controller is the part of the live session controller the hub drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	State() live.State
	Meter() float64
}

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithHubMetrics sets the metrics used for the connected client gauge.
func WithHubMetrics(m *observe.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithMeterInterval sets how often the input level is pushed while
// listening. Default: 100ms.
func WithMeterInterval(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.meterInterval = d
		}
	}
}

// WithAllowedOrigins permits cross-origin websocket connections from the
// listed origins. Without it only same-origin requests are accepted.
func WithAllowedOrigins(origins ...string) HubOption {
	return func(h *Hub) {
		if len(origins) == 0 {
			return
		}
		allowed := slices.Clone(origins)
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowed, origin)
		}
	}
}

// Hub fans session status out to every connected browser and applies their
// commands. It implements [live.StatusSink]; those methods never block.
type Hub struct {
	store         *companion.Store
	metrics       *observe.Metrics
	meterInterval time.Duration
	upgrader      websocket.Upgrader

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	mu       sync.Mutex
	ctrl     Controller
	clients  map[*client]struct{}
	state    live.State
	snapshot transcript.Snapshot
	status   string
	closed   bool
}

var _ live.StatusSink = (*Hub)(nil)

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// NewHub creates a hub over store. Preference changes in store are pushed to
// clients as they happen.
func NewHub(store *companion.Store, opts ...HubOption) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		store:         store,
		metrics:       observe.DefaultMetrics(),
		meterInterval: 100 * time.Millisecond,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	h.unsubscribe = store.Subscribe(func(c companion.Change) {
		snap := c.Snapshot
		h.broadcast(Event{Type: EventPreferences, Settings: &snap})
	})
	return h
}

// Attach sets the controller that start and stop commands drive.
func (h *Hub) Attach(ctrl Controller) {
	h.mu.Lock()
	h.ctrl = ctrl
	h.mu.Unlock()
}

func (h *Hub) controller() Controller {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ctrl
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// SessionState implements [live.StatusSink].
func (h *Hub) SessionState(s live.State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
	h.broadcast(Event{Type: EventState, State: s.String()})
}

// Transcript implements [live.StatusSink].
func (h *Hub) Transcript(s transcript.Snapshot) {
	h.mu.Lock()
	h.snapshot = s
	h.mu.Unlock()
	h.broadcast(Event{Type: EventTranscript, Transcript: &s})
}

// ActionStatus implements [live.StatusSink]. An empty text clears the status.
func (h *Hub) ActionStatus(text string) {
	h.mu.Lock()
	h.status = text
	h.mu.Unlock()
	h.broadcast(Event{Type: EventActionStatus, Text: text})
}

// Alert implements [live.StatusSink].
func (h *Hub) Alert(text string) {
	h.broadcast(Event{Type: EventAlert, Text: text})
}

// Run pushes the input level while the session is listening until ctx is
// done. A single zero level is sent when listening stops so meters fall back.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.meterInterval)
	defer ticker.Stop()

	metering := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		ctrl := h.controller()
		if ctrl == nil {
			continue
		}
		if ctrl.State() == live.StateListening {
			level := ctrl.Meter()
			h.broadcast(Event{Type: EventMeter, Level: &level})
			metering = true
		} else if metering {
			zero := 0.0
			h.broadcast(Event{Type: EventMeter, Level: &zero})
			metering = false
		}
	}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.cancel()
	h.unsubscribe()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// ServeHTTP upgrades the request to a websocket and serves the client until
// it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		observe.Logger(r.Context()).Debug("ui: websocket upgrade failed", "err", err)
		return
	}
	c := &client{
		conn: conn,
		send: make(chan []byte, clientBuffer),
		done: make(chan struct{}),
	}
	if !h.register(r.Context(), c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeTimeout))
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(r.Context(), c)
}

// register adds c and queues the current status so a fresh page is in sync.
func (h *Hub) register(ctx context.Context, c *client) bool {
	settings := h.store.Snapshot()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	snap := h.snapshot
	for _, ev := range []Event{
		{Type: EventState, State: h.state.String()},
		{Type: EventPreferences, Settings: &settings},
		{Type: EventTranscript, Transcript: &snap},
		{Type: EventActionStatus, Text: h.status},
	} {
		if data, err := json.Marshal(ev); err == nil {
			c.send <- data
		}
	}
	h.clients[c] = struct{}{}
	h.metrics.UIClients.Add(ctx, 1)
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.close()
	h.metrics.UIClients.Add(context.Background(), -1)
}

// broadcast queues ev for every client. Clients whose buffer is full are
// disconnected rather than slowing the session down.
func (h *Hub) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("ui: encode event", "type", ev.Type, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slog.Warn("ui: client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
			h.removeLocked(c)
		}
	}
}

// reply queues ev for a single client.
func (h *Hub) reply(c *client, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.unregister(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, c *client) {
	defer h.unregister(c)
	log := observe.Logger(ctx)

	c.conn.SetReadLimit(maxCommandSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("ui: client read failed", "err", err)
			}
			return
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.reply(c, Event{Type: EventError, Text: "malformed command"})
			continue
		}
		if err := h.handle(c, cmd); err != nil {
			log.Debug("ui: command rejected", "type", cmd.Type, "err", err)
			h.reply(c, Event{Type: EventError, Text: err.Error()})
		}
	}
}

// handle applies one command. Start runs asynchronously because dialing the
// service takes a while; its failure is reported to the issuing client.
func (h *Hub) handle(c *client, cmd Command) error {
	switch cmd.Type {
	case CmdStart:
		ctrl := h.controller()
		if ctrl == nil {
			return ErrNoController
		}
		go func() {
			err := ctrl.Start(h.ctx)
			// Microphone failures are already shown as an alert.
			if err != nil && !errors.Is(err, audio.ErrDeviceUnavailable) {
				h.reply(c, Event{Type: EventError, Text: err.Error()})
			}
		}()
		return nil

	case CmdStop:
		ctrl := h.controller()
		if ctrl == nil {
			return ErrNoController
		}
		ctrl.Stop()
		return nil

	case CmdSetVoice:
		if !companion.ValidVoice(cmd.Value) {
			return fmt.Errorf("ui: unknown voice %q", cmd.Value)
		}
		return h.store.UpdatePreferences(func(p *companion.Preferences) { p.Voice = cmd.Value })

	case CmdSetLanguage:
		lang := strings.TrimSpace(cmd.Value)
		if lang == "" {
			return errors.New("ui: language must not be empty")
		}
		return h.store.UpdatePreferences(func(p *companion.Preferences) { p.Language = lang })

	case CmdSetUserName:
		return h.store.UpdatePreferences(func(p *companion.Preferences) { p.UserName = cmd.Value })

	case CmdSetMegaPro:
		return h.store.UpdatePreferences(func(p *companion.Preferences) { p.MegaPro = cmd.Enabled })

	case CmdSetPersona:
		p, err := companion.ParsePersona(cmd.Value)
		if err != nil {
			return err
		}
		return h.store.SetPersona(p)

	case CmdSetMode:
		// Every mode is selectable here, including those the voice command
		// refuses.
		m, err := companion.ParseMode(cmd.Value)
		if err != nil {
			return err
		}
		return h.store.SetMode(m)

	default:
		return fmt.Errorf("ui: unknown command %q", cmd.Type)
	}
}
