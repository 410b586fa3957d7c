package app

import (
	"fmt"
	"strings"

	"github.com/ent0n29/booktalk/internal/config"
	"github.com/ent0n29/booktalk/internal/observability"
	"github.com/ent0n29/booktalk/internal/quota"
	"github.com/ent0n29/booktalk/internal/transport"
)

type TransportInfo struct {
	Kind   string
	Detail string
}

// NewTransportHandle returns the lazily built process-wide voice transport
// selected by VOICE_TRANSPORT. The mock is returned directly so callers can
// script it.
func NewTransportHandle(cfg config.Config) (*transport.Handle, *transport.Mock, TransportInfo, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.VoiceTransport)) {
	case config.TransportMock:
		m := transport.NewMock()
		return transport.HandleFor(m), m, TransportInfo{Kind: config.TransportMock, Detail: "in-process mock"}, nil
	case config.TransportWebSocket, "":
		if strings.TrimSpace(cfg.VoiceGatewayURL) == "" {
			return nil, nil, TransportInfo{}, fmt.Errorf("VOICE_TRANSPORT=websocket requires VOICE_GATEWAY_URL")
		}
		wsCfg := transport.WebSocketConfig{
			GatewayURL: cfg.VoiceGatewayURL,
			APIKey:     cfg.VoiceAPIKey,
		}
		handle := transport.NewHandle(func() (transport.Transport, error) {
			return transport.NewWebSocket(wsCfg)
		})
		return handle, nil, TransportInfo{Kind: config.TransportWebSocket, Detail: cfg.VoiceGatewayURL}, nil
	default:
		return nil, nil, TransportInfo{}, fmt.Errorf("unsupported VOICE_TRANSPORT %q", cfg.VoiceTransport)
	}
}

// NewQuotaClient talks to the authority at QUOTA_URL, or to embedded when it
// is non-nil.
func NewQuotaClient(cfg config.Config, embedded *quota.Authority, metrics *observability.Metrics) (quota.Client, error) {
	if embedded != nil {
		return embedded, nil
	}
	return quota.NewHTTPClient(quota.HTTPClientConfig{
		BaseURL: cfg.QuotaURL,
		Metrics: metrics,
	})
}
