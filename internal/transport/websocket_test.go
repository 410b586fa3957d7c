package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/booktalk/internal/protocol"
)

// fakeGateway accepts one call, replays script after the start frame, and
// ends the call when the client sends stop.
func fakeGateway(t *testing.T, script []map[string]any, started chan<- protocol.StartCall) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key-1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.ParseClientMessage(data)
			if err != nil {
				continue
			}
			switch m := msg.(type) {
			case protocol.StartCall:
				if started != nil {
					started <- m
				}
				for _, frame := range script {
					if err := conn.WriteJSON(frame); err != nil {
						return
					}
				}
			case protocol.StopCall:
				_ = conn.WriteJSON(map[string]any{"type": "call-end"})
				return
			}
		}
	}))
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func collect(tr Transport) <-chan Event {
	ch := make(chan Event, 32)
	tr.Subscribe(func(ev Event) { ch <- ev })
	return ch
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for transport event")
		return Event{}
	}
}

func TestNewWebSocketRequiresKeyAndURL(t *testing.T) {
	_, err := NewWebSocket(WebSocketConfig{GatewayURL: "ws://x"})
	assert.Error(t, err)
	_, err = NewWebSocket(WebSocketConfig{APIKey: "k"})
	assert.Error(t, err)
}

func TestWebSocketCallLifecycle(t *testing.T) {
	started := make(chan protocol.StartCall, 1)
	ts := fakeGateway(t, []map[string]any{
		{"type": "call-start"},
		{"type": "speech-start"},
		{"type": "message", "message_type": "transcript", "role": "assistant", "transcript_type": "final", "transcript": "Hello there."},
		{"type": "message", "message_type": "conversation-update"},
		{"type": "speech-end"},
	}, started)
	defer ts.Close()

	tr, err := NewWebSocket(WebSocketConfig{GatewayURL: wsURL(ts), APIKey: "key-1"})
	require.NoError(t, err)
	events := collect(tr)

	err = tr.Start(context.Background(), AssistantConfig{
		AssistantID: "asst-1",
		Voice:       VoiceSettings{VoiceID: "voice-1"},
	})
	require.NoError(t, err)

	select {
	case s := <-started:
		assert.Equal(t, "asst-1", s.Assistant.AssistantID)
		assert.Equal(t, "voice-1", s.Assistant.Voice.VoiceID)
	case <-time.After(2 * time.Second):
		t.Fatalf("gateway never saw start")
	}

	assert.Equal(t, EventCallStart, next(t, events).Type)
	assert.Equal(t, EventSpeechStart, next(t, events).Type)
	msg := next(t, events)
	require.Equal(t, EventMessage, msg.Type)
	assert.Equal(t, "transcript", msg.Message.Type)
	assert.Equal(t, "Hello there.", msg.Message.Transcript)
	other := next(t, events)
	assert.Equal(t, "conversation-update", other.Message.Type)
	assert.Equal(t, EventSpeechEnd, next(t, events).Type)

	assert.ErrorIs(t, tr.Start(context.Background(), AssistantConfig{AssistantID: "asst-1"}), ErrCallActive)

	require.NoError(t, tr.Stop())
	assert.Equal(t, EventCallEnd, next(t, events).Type)

	select {
	case ev := <-events:
		t.Fatalf("unexpected trailing event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebSocketGatewayErrorFrame(t *testing.T) {
	ts := fakeGateway(t, []map[string]any{
		{"type": "call-start"},
		{"type": "error", "error": "Meeting ended due to silence timeout"},
	}, nil)
	defer ts.Close()

	tr, err := NewWebSocket(WebSocketConfig{GatewayURL: wsURL(ts), APIKey: "key-1"})
	require.NoError(t, err)
	events := collect(tr)
	require.NoError(t, tr.Start(context.Background(), AssistantConfig{AssistantID: "asst-1"}))

	assert.Equal(t, EventCallStart, next(t, events).Type)
	ev := next(t, events)
	require.Equal(t, EventError, ev.Type)
	assert.Contains(t, ev.Err.Error(), "silence")
	assert.Equal(t, EventCallEnd, next(t, events).Type)

	// The error ends the call on its own; the slot is free for the next one.
	tr.mu.Lock()
	assert.Nil(t, tr.call)
	tr.mu.Unlock()
	assert.NoError(t, tr.Stop())
	require.NoError(t, tr.Start(context.Background(), AssistantConfig{AssistantID: "asst-1"}))
	assert.Equal(t, EventCallStart, next(t, events).Type)
}

func TestWebSocketConnectionLossEmitsErrorThenCallEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = conn.ReadMessage()
		raw, _ := json.Marshal(map[string]any{"type": "call-start"})
		_ = conn.WriteMessage(websocket.TextMessage, raw)
		_ = conn.Close()
	}))
	defer ts.Close()

	tr, err := NewWebSocket(WebSocketConfig{GatewayURL: wsURL(ts), APIKey: "key-1"})
	require.NoError(t, err)
	events := collect(tr)
	require.NoError(t, tr.Start(context.Background(), AssistantConfig{AssistantID: "asst-1"}))

	assert.Equal(t, EventCallStart, next(t, events).Type)
	ev := next(t, events)
	require.Equal(t, EventError, ev.Type)
	assert.Contains(t, ev.Err.Error(), "connection lost")
	assert.Equal(t, EventCallEnd, next(t, events).Type)

	// The call slot is free again.
	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.call == nil
	}, time.Second, 10*time.Millisecond)
}

func TestWebSocketStopWithoutCallIsNoop(t *testing.T) {
	tr, err := NewWebSocket(WebSocketConfig{GatewayURL: "ws://127.0.0.1:1", APIKey: "k"})
	require.NoError(t, err)
	assert.NoError(t, tr.Stop())
}
