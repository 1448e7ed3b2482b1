// Package transport implements the abstract send(request) -> response
// contract over HTTP, in two flavors: via the intercepting proxy and direct.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
)

// maxBodyBytes caps how much of a response body is read. OTP endpoints
// answer with small JSON documents; anything larger is truncated.
const maxBodyBytes = 1 << 20

type httpTransport struct {
	client  *http.Client
	kind    schemas.TransportKind
	headers map[string]string
	log     *zap.Logger
}

func (t *httpTransport) Kind() schemas.TransportKind { return t.kind }

// Send issues exactly one HTTP request. Connection-level failures are
// returned as errors for the caller to classify; Send itself never retries.
func (t *httpTransport) Send(ctx context.Context, req *schemas.Request) (*schemas.Response, error) {
	var body io.Reader
	if req.Payload != nil {
		data, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if req.Payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending %s %s via %s: %w", req.Method, req.URL, t.kind, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	t.log.Debug("Request completed",
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode),
		zap.Int("body_length", len(data)))

	return &schemas.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		ReceivedAt: time.Now(),
	}, nil
}
