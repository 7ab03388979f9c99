// Package dispatch issues the unsubscribe request for a chosen link.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Outcome describes one unsubscribe attempt. Err is set for transport
// failures; StatusCode is zero in that case.
type Outcome struct {
	StatusCode int
	Err        error
}

// OK reports whether the attempt counts as a success: exactly HTTP 200.
func (o Outcome) OK() bool { return o.Err == nil && o.StatusCode == http.StatusOK }

// HTTPDispatcher performs a plain GET against the link. It adds no headers
// and relies on the client's default redirect handling. No retries are made
// and the client's own timeout (none for http.DefaultClient) applies.
type HTTPDispatcher struct {
	Client *http.Client
}

// New returns a dispatcher using client, or http.DefaultClient when nil.
func New(client *http.Client) *HTTPDispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPDispatcher{Client: client}
}

// Attempt requests link once. Cancellation of ctx does not interrupt an
// in-flight request; only its values are carried over.
func (d *HTTPDispatcher) Attempt(ctx context.Context, link string) Outcome {
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, link, nil)
	if err != nil {
		return Outcome{Err: fmt.Errorf("build request: %w", err)}
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return Outcome{Err: fmt.Errorf("get %s: %w", req.URL.Redacted(), err)}
	}
	defer func() { _ = resp.Body.Close() }()
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)
	return Outcome{StatusCode: resp.StatusCode}
}
