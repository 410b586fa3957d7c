package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/booktalk/internal/protocol"
)

const gatewayWriteTimeout = 10 * time.Second

// handleDevCall is a scripted voice gateway for local runs: it confirms the
// call, speaks the assistant's first message, and then waits for a stop. A
// call left silent past the idle timeout fails with a silence timeout. Every
// error frame ends the call.
func (s *Server) handleDevCall(w http.ResponseWriter, r *http.Request) {
	if key := strings.TrimSpace(s.cfg.VoiceAPIKey); key != "" {
		if r.Header.Get("Authorization") != "Bearer "+key {
			respondError(w, http.StatusUnauthorized, "unauthorized", "invalid gateway api key")
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.ClientEvent("gateway_connected")

	conn.SetReadLimit(1 << 20)
	frames := make(chan any, 16)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(frames)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			parsed, err := protocol.ParseClientMessage(data)
			if err != nil {
				parsed = err
			}
			select {
			case frames <- parsed:
			case <-done:
				return
			}
		}
	}()

	write := func(ev protocol.ServerEvent) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(gatewayWriteTimeout))
		return conn.WriteJSON(ev) == nil
	}

	idle := time.NewTimer(s.cfg.DevGatewayIdleTimeout)
	defer idle.Stop()
	callID := ""

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return
			}
			switch m := frame.(type) {
			case error:
				// An error frame ends the call, as it does on the client.
				write(protocol.ServerEvent{Type: protocol.TypeError, CallID: callID, Error: "invalid client message: " + m.Error()})
				return
			case protocol.StartCall:
				if callID != "" {
					continue
				}
				callID = m.CallID
				for _, ev := range greeting(callID, m.Assistant.FirstMessage) {
					if !write(ev) {
						return
					}
				}
				idle.Reset(s.cfg.DevGatewayIdleTimeout)
			case protocol.StopCall:
				write(protocol.ServerEvent{Type: protocol.TypeCallEnd, CallID: callID})
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended"),
					time.Now().Add(time.Second))
				return
			}
		case <-idle.C:
			write(protocol.ServerEvent{Type: protocol.TypeError, CallID: callID, Error: "call ended after silence timeout"})
			return
		}
	}
}

func greeting(callID, text string) []protocol.ServerEvent {
	events := []protocol.ServerEvent{
		{Type: protocol.TypeCallStart, CallID: callID},
	}
	if strings.TrimSpace(text) == "" {
		return events
	}
	return append(events,
		protocol.ServerEvent{Type: protocol.TypeSpeechStart, CallID: callID},
		protocol.ServerEvent{
			Type:           protocol.TypeMessage,
			CallID:         callID,
			MessageType:    protocol.TranscriptMessageType,
			Role:           "assistant",
			TranscriptType: "final",
			Transcript:     text,
		},
		protocol.ServerEvent{Type: protocol.TypeSpeechEnd, CallID: callID},
	)
}
