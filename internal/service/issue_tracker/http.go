package issue_tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxErrorBody = 512

// NewHTTPClient returns the client REST adapters share. Requests carry trace
// context to the backend.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}
}

type jsonRequest struct {
	backend string
	op      string
	method  string
	url     string
	headers map[string]string
	body    any
}

// doJSON sends req and decodes a 2xx JSON body into out. Every failure comes
// back as a *BackendError.
func doJSON(ctx context.Context, client *http.Client, req jsonRequest, out any) error {
	fail := func(status int, err error) error {
		return &BackendError{Backend: req.backend, Op: req.op, StatusCode: status, Err: err}
	}

	var body io.Reader
	if req.body != nil {
		buf, err := json.Marshal(req.body)
		if err != nil {
			return fail(0, fmt.Errorf("encoding request: %w", err))
		}
		body = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return fail(0, fmt.Errorf("building request: %w", err))
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fail(resp.StatusCode, errors.New(string(bytes.TrimSpace(snippet))))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fail(resp.StatusCode, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}
