package quota

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/booktalk/internal/observability"
	"github.com/ent0n29/booktalk/internal/reliability"
)

const (
	closeAttempts    = 3
	closeBackoffBase = 200 * time.Millisecond
	closeBackoffCap  = 2 * time.Second
)

type HTTPClientConfig struct {
	BaseURL string
	// HTTPClient defaults to a client without an explicit timeout; callers
	// bound requests through the context.
	HTTPClient *http.Client
	Metrics    *observability.Metrics
}

// HTTPClient talks to the authority's HTTP API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	metrics *observability.Metrics
}

func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("quota authority url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("quota authority url: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &HTTPClient{baseURL: base, http: hc, metrics: cfg.Metrics}, nil
}

type reserveRequest struct {
	UserID string `json:"user_id"`
	BookID string `json:"book_id"`
}

type closeRequest struct {
	DurationSeconds int `json:"duration_seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StatusError is a non-2xx authority response.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("quota authority: status %d", e.StatusCode)
	}
	return fmt.Sprintf("quota authority: status %d: %s", e.StatusCode, e.Message)
}

func (c *HTTPClient) Reserve(ctx context.Context, userID, bookID string) (Decision, error) {
	var d Decision
	err := c.post(ctx, "/v1/voice/sessions", reserveRequest{UserID: userID, BookID: bookID}, &d)
	switch {
	case err != nil:
		c.metrics.QuotaRequest("reserve", "error")
		return Decision{}, err
	case d.Granted:
		c.metrics.QuotaRequest("reserve", "granted")
	default:
		c.metrics.QuotaRequest("reserve", "denied")
	}
	return d, nil
}

func (c *HTTPClient) Close(ctx context.Context, sessionID string, elapsedSeconds int) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrUnknownSession
	}
	path := "/v1/voice/sessions/" + url.PathEscape(sessionID) + "/end"
	err := reliability.Retry(ctx, closeAttempts, closeBackoffBase, closeBackoffCap, func() (bool, error) {
		err := c.post(ctx, path, closeRequest{DurationSeconds: elapsedSeconds}, nil)
		var se *StatusError
		if errors.As(err, &se) {
			if se.StatusCode == http.StatusNotFound {
				return false, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
			}
			return reliability.IsRetryableHTTPStatus(se.StatusCode), err
		}
		// Network failures are worth another try; close is idempotent.
		return err != nil, err
	})
	if err != nil {
		c.metrics.QuotaRequest("close", "error")
		return err
	}
	c.metrics.QuotaRequest("close", "ok")
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("quota authority request: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read quota authority response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		var er errorResponse
		_ = json.Unmarshal(raw, &er)
		return &StatusError{StatusCode: res.StatusCode, Code: er.Code, Message: er.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode quota authority response: %w", err)
	}
	return nil
}
