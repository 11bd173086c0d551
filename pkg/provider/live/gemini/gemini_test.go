package gemini_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/nihara/pkg/audio"
	"github.com/MrWong99/nihara/pkg/provider/live"
	"github.com/MrWong99/nihara/pkg/provider/live/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func writeRaw(t *testing.T, conn *websocket.Conn, data string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(data)); err != nil {
		t.Logf("writeRaw: %v", err)
	}
}

// sendSetupComplete sends the server-side setupComplete ack.
func sendSetupComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// newProvider creates a Provider pointing at the given test server.
func newProvider(srv *httptest.Server) *gemini.Provider {
	return gemini.New("test-api-key", gemini.WithBaseURL(wsURL(srv)), gemini.WithKeepalive(0))
}

// nextEvent waits for the next event or fails the test.
func nextEvent(t *testing.T, h live.SessionHandle) live.Event {
	t.Helper()
	select {
	case ev, ok := <-h.Events():
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return live.Event{}
}

// waitClosed waits for the event channel to close.
func waitClosed(t *testing.T, h live.SessionHandle) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-h.Events():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("timeout waiting for event channel to close")
		}
	}
}

// ── TestNew ───────────────────────────────────────────────────────────────────

func TestNew_DefaultModel(t *testing.T) {
	t.Parallel()
	if got := gemini.New("key").Model(); got != gemini.DefaultModel {
		t.Errorf("Model() = %q, want %q", got, gemini.DefaultModel)
	}
	if got := gemini.New("key", gemini.WithModel("")).Model(); got != gemini.DefaultModel {
		t.Errorf("empty WithModel changed the model to %q", got)
	}
}

// ── TestConnect_SendsSetup ─────────────────────────────────────────────────────

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
					LanguageCode string `json:"languageCode"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			Tools []struct {
				FunctionDeclarations []struct {
					Name       string         `json:"name"`
					Parameters map[string]any `json:"parameters"`
				} `json:"functionDeclarations"`
			} `json:"tools"`
			InputAudioTranscription  *struct{} `json:"inputAudioTranscription"`
			OutputAudioTranscription *struct{} `json:"outputAudioTranscription"`
		} `json:"setup"`
	}

	received := make(chan setupMsg, 1)
	apiKey := make(chan string, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		apiKey <- r.URL.Query().Get("key")
		var msg setupMsg
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	handle, err := newProvider(srv).Connect(context.Background(), live.SessionConfig{
		Voice:         "Zephyr",
		LanguageCode:  "en-US",
		Instructions:  "You are Nihara.",
		Transcription: true,
		Tools: []live.ToolDefinition{{
			Name: "changeMode",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"mode": map[string]any{"type": "string", "enum": []string{"Chat"}},
				},
			},
		}},
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if ev := nextEvent(t, handle); ev.Kind != live.EventOpen {
		t.Errorf("first event = %v, want open", ev.Kind)
	}

	select {
	case msg := <-received:
		s := msg.Setup
		if s.Model != "models/"+gemini.DefaultModel {
			t.Errorf("model = %q", s.Model)
		}
		if len(s.GenerationConfig.ResponseModalities) != 1 || s.GenerationConfig.ResponseModalities[0] != "AUDIO" {
			t.Errorf("responseModalities = %v, want [AUDIO]", s.GenerationConfig.ResponseModalities)
		}
		if got := s.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Zephyr" {
			t.Errorf("voice = %q, want Zephyr", got)
		}
		if got := s.GenerationConfig.SpeechConfig.LanguageCode; got != "en-US" {
			t.Errorf("languageCode = %q, want en-US", got)
		}
		if s.SystemInstruction == nil || len(s.SystemInstruction.Parts) != 1 || s.SystemInstruction.Parts[0].Text != "You are Nihara." {
			t.Errorf("systemInstruction = %+v", s.SystemInstruction)
		}
		if s.InputAudioTranscription == nil || s.OutputAudioTranscription == nil {
			t.Error("transcription not enabled in setup")
		}
		if len(s.Tools) != 1 || len(s.Tools[0].FunctionDeclarations) != 1 || s.Tools[0].FunctionDeclarations[0].Name != "changeMode" {
			t.Errorf("tools = %+v", s.Tools)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for setup message")
	}

	if got := <-apiKey; got != "test-api-key" {
		t.Errorf("api key = %q", got)
	}
}

func TestConnect_OmitsOptionalSetupFields(t *testing.T) {
	t.Parallel()

	received := make(chan map[string]any, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		received <- raw
		<-conn.CloseRead(context.Background()).Done()
	})

	handle, err := newProvider(srv).Connect(context.Background(), live.SessionConfig{Model: "override"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case raw := <-received:
		setup, _ := raw["setup"].(map[string]any)
		if setup["model"] != "models/override" {
			t.Errorf("model = %v, want models/override", setup["model"])
		}
		for _, key := range []string{"systemInstruction", "tools", "inputAudioTranscription", "outputAudioTranscription"} {
			if _, ok := setup[key]; ok {
				t.Errorf("unexpected %q in setup", key)
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for setup message")
	}
}

func TestConnect_DialFailure(t *testing.T) {
	t.Parallel()

	p := gemini.New("key", gemini.WithBaseURL("ws://127.0.0.1:1"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := p.Connect(ctx, live.SessionConfig{})
	var terr *live.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want *live.TransportError", err)
	}
	if terr.Op != "dial" {
		t.Errorf("Op = %q, want dial", terr.Op)
	}
}

// ── TestSendAudio ─────────────────────────────────────────────────────────────

func TestSendAudio_SendsMediaChunk(t *testing.T) {
	t.Parallel()

	type mediaMsg struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}
	received := make(chan mediaMsg, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		var msg mediaMsg
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	handle, err := newProvider(srv).Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	chunk := audio.EncodeSamples(make([]float32, 16))
	if err := handle.SendAudio(chunk); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-received:
		if len(msg.RealtimeInput.MediaChunks) != 1 {
			t.Fatalf("chunks = %d, want 1", len(msg.RealtimeInput.MediaChunks))
		}
		mc := msg.RealtimeInput.MediaChunks[0]
		if mc.MIMEType != "audio/pcm;rate=16000" || mc.Data != chunk.Data {
			t.Errorf("media chunk = %+v", mc)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for media chunk")
	}
}

func TestSendAudio_AfterClose(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})
	handle, err := newProvider(srv).Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := handle.SendAudio(audio.EncodedChunk{Data: "AAA="}); err == nil {
		t.Error("expected error sending after Close")
	}
	if err := handle.SendToolResponse(live.ToolResponse{ID: "1"}); err == nil {
		t.Error("expected error responding after Close")
	}
	waitClosed(t, handle)
}

// ── TestSendToolResponse ──────────────────────────────────────────────────────

func TestSendToolResponse(t *testing.T) {
	t.Parallel()

	type respMsg struct {
		ToolResponse struct {
			FunctionResponses []struct {
				ID       string         `json:"id"`
				Name     string         `json:"name"`
				Response map[string]any `json:"response"`
			} `json:"functionResponses"`
		} `json:"toolResponse"`
	}
	received := make(chan respMsg, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		var msg respMsg
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	handle, err := newProvider(srv).Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if err := handle.SendToolResponse(live.ToolResponse{ID: "call-1", Name: "changeMode", Result: "ok"}); err != nil {
		t.Fatalf("SendToolResponse: %v", err)
	}

	select {
	case msg := <-received:
		frs := msg.ToolResponse.FunctionResponses
		if len(frs) != 1 {
			t.Fatalf("responses = %d, want 1", len(frs))
		}
		if frs[0].ID != "call-1" || frs[0].Name != "changeMode" || frs[0].Response["result"] != "ok" {
			t.Errorf("response = %+v", frs[0])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for tool response")
	}
}

// ── TestEvents ────────────────────────────────────────────────────────────────

func TestEvents_ServerContentOrder(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		writeRaw(t, conn, "not json")
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []any{
						map[string]any{"text": "ignored"},
						map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "AAAA"}},
						map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "BBBB"}},
					},
				},
				"inputTranscription":  map[string]any{"text": "hello"},
				"outputTranscription": map[string]any{"text": "hi there"},
			},
		})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"interrupted": true}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle, err := newProvider(srv).Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	want := []live.EventKind{
		live.EventOpen,
		live.EventReady,
		live.EventAudio,
		live.EventInputTranscript,
		live.EventOutputTranscript,
		live.EventInterrupted,
		live.EventTurnComplete,
	}
	var got []live.Event
	for range want {
		got = append(got, nextEvent(t, handle))
	}
	for i, k := range want {
		if got[i].Kind != k {
			t.Fatalf("event %d = %v, want %v", i, got[i].Kind, k)
		}
	}
	if got[2].Audio.Data != "AAAA" || got[2].Audio.MIMEType != "audio/pcm;rate=24000" {
		t.Errorf("audio = %+v, want only the first inline part", got[2].Audio)
	}
	if got[3].Text != "hello" || got[4].Text != "hi there" {
		t.Errorf("transcripts = %q / %q", got[3].Text, got[4].Text)
	}
}

func TestEvents_ToolCall(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		writeJSON(t, conn, map[string]any{
			"toolCall": map[string]any{
				"functionCalls": []any{
					map[string]any{"id": "c1", "name": "changePersonality", "args": map[string]any{"personality": "Luna"}},
				},
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle, err := newProvider(srv).Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	_ = nextEvent(t, handle) // open
	ev := nextEvent(t, handle)
	if ev.Kind != live.EventToolCall || len(ev.Calls) != 1 {
		t.Fatalf("event = %+v", ev)
	}
	c := ev.Calls[0]
	if c.ID != "c1" || c.Name != "changePersonality" || c.Args["personality"] != "Luna" {
		t.Errorf("call = %+v", c)
	}
}

func TestEvents_ServerError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		writeJSON(t, conn, map[string]any{
			"error": map[string]any{"code": 403, "message": "API key invalid", "status": "PERMISSION_DENIED"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle, err := newProvider(srv).Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	_ = nextEvent(t, handle) // open
	ev := nextEvent(t, handle)
	if ev.Kind != live.EventError {
		t.Fatalf("event = %v, want error", ev.Kind)
	}
	var terr *live.TransportError
	if !errors.As(ev.Err, &terr) || terr.Op != "server" {
		t.Errorf("err = %v, want server TransportError", ev.Err)
	}
	if !strings.Contains(ev.Err.Error(), "API key invalid") {
		t.Errorf("err = %q, want server message", ev.Err.Error())
	}
	waitClosed(t, handle)
	if handle.Err() == nil {
		t.Error("Err() = nil after server error")
	}
}

func TestEvents_RemoteNormalClose(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		conn.Close(websocket.StatusNormalClosure, "bye")
	})

	handle, err := newProvider(srv).Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	_ = nextEvent(t, handle) // open
	if ev := nextEvent(t, handle); ev.Kind != live.EventClose {
		t.Errorf("event = %v, want close", ev.Kind)
	}
	waitClosed(t, handle)
	if err := handle.Err(); err != nil {
		t.Errorf("Err() = %v, want nil after normal close", err)
	}
}

func TestEvents_RemoteAbnormalClose(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		conn.Close(websocket.StatusInternalError, "boom")
	})

	handle, err := newProvider(srv).Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	_ = nextEvent(t, handle) // open
	ev := nextEvent(t, handle)
	if ev.Kind != live.EventError {
		t.Fatalf("event = %v, want error", ev.Kind)
	}
	var terr *live.TransportError
	if !errors.As(ev.Err, &terr) || terr.Op != "read" {
		t.Errorf("err = %v, want read TransportError", ev.Err)
	}
}
