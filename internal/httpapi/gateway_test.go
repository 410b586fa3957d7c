package httpapi

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/booktalk/internal/config"
	"github.com/ent0n29/booktalk/internal/persona"
	"github.com/ent0n29/booktalk/internal/plan"
	"github.com/ent0n29/booktalk/internal/protocol"
	"github.com/ent0n29/booktalk/internal/quota"
	"github.com/ent0n29/booktalk/internal/session"
	"github.com/ent0n29/booktalk/internal/transport"
	"github.com/ent0n29/booktalk/internal/voicesession"
)

const (
	waitFor = 3 * time.Second
	pollAt  = 5 * time.Millisecond
)

func newTalkSession(t *testing.T, baseURL string) *voicesession.Orchestrator {
	t.Helper()
	client, err := quota.NewHTTPClient(quota.HTTPClientConfig{BaseURL: baseURL})
	require.NoError(t, err)
	handle := transport.NewHandle(func() (transport.Transport, error) {
		return transport.NewWebSocket(transport.WebSocketConfig{
			GatewayURL: baseURL,
			APIKey:     "gw-key",
			StopGrace:  time.Second,
		})
	})
	o, err := voicesession.New(voicesession.Config{
		Identity:    voicesession.Identity{UserID: "reader-1", Tier: plan.Free},
		Book:        persona.Book{ID: "book-9", Title: "Middlemarch", Author: "George Eliot", Persona: "sarah"},
		AssistantID: "asst-dev",
		Quota:       client,
		Transport:   handle,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func sessionEnded(authority *quota.Authority, id string) func() bool {
	return func() bool {
		sess, err := authority.Get(context.Background(), id)
		return err == nil && sess.Status == session.StatusEnded
	}
}

func TestDevGatewayRunsCallEndToEnd(t *testing.T) {
	ts, authority := newTestServer(t, config.Config{DevGateway: true, VoiceAPIKey: "gw-key"}, nil)
	o := newTalkSession(t, ts.URL)

	require.NoError(t, o.Start(context.Background()))
	require.Eventually(t, func() bool {
		st := o.State()
		return st.Status == voicesession.StatusListening && len(st.Messages) == 1
	}, waitFor, pollAt, "greeting")
	st := o.State()
	assert.Equal(t, persona.FirstMessage(persona.Book{Title: "Middlemarch"}), st.Messages[0].Content)
	sessionID := st.SessionID

	o.Stop()
	require.Eventually(t, func() bool { return o.State().Status == voicesession.StatusIdle }, waitFor, pollAt)
	assert.Empty(t, o.State().Error, "a clean stop reports nothing")
	require.Eventually(t, sessionEnded(authority, sessionID), waitFor, pollAt)
}

func TestDevGatewaySilenceTimeoutSurfacesInactivity(t *testing.T) {
	ts, authority := newTestServer(t, config.Config{
		DevGateway:            true,
		VoiceAPIKey:           "gw-key",
		DevGatewayIdleTimeout: 300 * time.Millisecond,
	}, nil)
	o := newTalkSession(t, ts.URL)

	require.NoError(t, o.Start(context.Background()))
	require.Eventually(t, func() bool { return o.State().SessionID != "" }, waitFor, pollAt)
	sessionID := o.State().SessionID

	require.Eventually(t, func() bool { return o.State().Status == voicesession.StatusIdle }, waitFor, pollAt)
	assert.Equal(t, voicesession.MsgInactivity, o.State().Error)
	require.Eventually(t, sessionEnded(authority, sessionID), waitFor, pollAt)

	// The error released the call, so the user can simply start again.
	require.NoError(t, o.Start(context.Background()))
	require.Eventually(t, func() bool {
		st := o.State()
		return st.SessionID != "" && st.SessionID != sessionID && st.Status == voicesession.StatusListening
	}, waitFor, pollAt, "second call never reached listening")
}

func TestDevGatewayRejectsWrongKey(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{DevGateway: true, VoiceAPIKey: "other-key"}, nil)
	o := newTalkSession(t, ts.URL)

	assert.Error(t, o.Start(context.Background()), "dial should fail")
	st := o.State()
	assert.Equal(t, voicesession.StatusIdle, st.Status)
	assert.Equal(t, voicesession.MsgStartFailed, st.Error)
}

func TestDevGatewayInvalidFrameEndsCall(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{DevGateway: true}, nil)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/call", http.Header{})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))
	_ = conn.SetReadDeadline(time.Now().Add(waitFor))

	var ev protocol.ServerEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, protocol.TypeError, ev.Type)
	assert.Contains(t, ev.Error, "invalid client message")

	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "the gateway closes the socket after an error frame")
}
