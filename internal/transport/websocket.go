package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/booktalk/internal/protocol"
)

const (
	defaultStopGrace = 5 * time.Second
	writeTimeout     = 10 * time.Second
)

type WebSocketConfig struct {
	// GatewayURL is the base URL of the voice gateway. http(s) URLs are
	// dialled as ws(s).
	GatewayURL string
	APIKey     string
	// StopGrace bounds how long Stop waits for the gateway to end the call
	// before the socket is closed locally.
	StopGrace time.Duration
	Dialer    *websocket.Dialer
}

// WebSocket runs calls against a realtime voice gateway over one websocket
// per call.
type WebSocket struct {
	Emitter

	cfg WebSocketConfig

	mu   sync.Mutex
	call *wsCall
}

type wsCall struct {
	id       string
	conn     *websocket.Conn
	writeMu  sync.Mutex
	stopping atomic.Bool
	failed   atomic.Bool
	ended    atomic.Bool
}

func NewWebSocket(cfg WebSocketConfig) (*WebSocket, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("voice gateway api key is not set")
	}
	if strings.TrimSpace(cfg.GatewayURL) == "" {
		return nil, fmt.Errorf("voice gateway url is not set")
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &WebSocket{cfg: cfg}, nil
}

func (w *WebSocket) Start(ctx context.Context, cfg AssistantConfig) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.call != nil {
		return ErrCallActive
	}

	u, err := url.Parse(strings.TrimRight(w.cfg.GatewayURL, "/") + "/v1/call")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("assistant_id", cfg.AssistantID)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+w.cfg.APIKey)

	conn, _, err := w.cfg.Dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return fmt.Errorf("dial voice gateway: %w", err)
	}

	call := &wsCall{id: uuid.NewString(), conn: conn}
	if err := call.writeJSON(protocol.NewStartCall(call.id, cfg)); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send start: %w", err)
	}
	w.call = call
	go w.readLoop(call)
	return nil
}

func (w *WebSocket) Stop() error {
	w.mu.Lock()
	call := w.call
	w.mu.Unlock()
	if call == nil {
		return nil
	}
	if !call.stopping.CompareAndSwap(false, true) {
		return nil
	}

	err := call.writeJSON(protocol.NewStopCall(call.id))
	if err != nil {
		_ = call.conn.Close()
		return fmt.Errorf("send stop: %w", err)
	}
	time.AfterFunc(w.cfg.StopGrace, func() {
		if !call.ended.Load() {
			_ = call.conn.Close()
		}
	})
	return nil
}

func (w *WebSocket) readLoop(call *wsCall) {
	defer w.finish(call)
	for {
		_, data, err := call.conn.ReadMessage()
		if err != nil {
			if !call.stopping.Load() && !call.failed.Load() && !call.ended.Load() {
				w.fail(call, fmt.Errorf("connection lost: %w", err))
			}
			return
		}
		ev, err := protocol.ParseServerEvent(data)
		if err != nil {
			if !errors.Is(err, protocol.ErrUnsupportedType) {
				log.Printf("voice gateway: dropping frame: %v", err)
			}
			continue
		}
		switch ev.Type {
		case protocol.TypeCallStart:
			w.Emit(Event{Type: EventCallStart})
		case protocol.TypeSpeechStart:
			w.Emit(Event{Type: EventSpeechStart})
		case protocol.TypeSpeechEnd:
			w.Emit(Event{Type: EventSpeechEnd})
		case protocol.TypeMessage:
			w.Emit(Event{Type: EventMessage, Message: &Message{
				Type:           ev.MessageType,
				Role:           ev.Role,
				TranscriptType: ev.TranscriptType,
				Transcript:     ev.Transcript,
			}})
		case protocol.TypeError:
			w.fail(call, errors.New(ev.Error))
			return
		case protocol.TypeCallEnd:
			call.ended.Store(true)
			_ = call.conn.Close()
			w.detach(call)
			w.Emit(Event{Type: EventCallEnd})
			return
		}
	}
}

// fail ends the call on an error. The slot is released before the error is
// emitted so a handler may start the next call straight away.
func (w *WebSocket) fail(call *wsCall, err error) {
	call.failed.Store(true)
	_ = call.conn.Close()
	w.detach(call)
	w.Emit(Event{Type: EventError, Err: err})
}

// finish releases the call and emits call-end unless the gateway already did.
func (w *WebSocket) finish(call *wsCall) {
	_ = call.conn.Close()
	w.detach(call)
	if call.ended.CompareAndSwap(false, true) {
		w.Emit(Event{Type: EventCallEnd})
	}
}

func (w *WebSocket) detach(call *wsCall) {
	w.mu.Lock()
	if w.call == call {
		w.call = nil
	}
	w.mu.Unlock()
}

func (c *wsCall) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}
