// Package httpclient is the outbound HTTP transport used to talk to federation gateways.
// It resolves request paths against a base URL, authenticates with an API key and an
// optional client certificate, retries transient failures, and turns error responses
// into HTTPError values.
package httpclient

import (
	"context"
	"net/http"
)

// Doer is implemented by Client. Callers depend on it so tests can substitute a stub.
type Doer interface {
	Do(ctx context.Context, opts RequestOptions) (*Response, error)
}

var _ Doer = &Client{}

// RequestOptions describes one request. Path is joined to the base URL.
type RequestOptions struct {
	Method      string
	Path        string
	QueryParams map[string]string
	Header      http.Header
	Body        []byte
	ContentType string
	Accept      string
}

// Response is a fully read response with a status below 400.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
