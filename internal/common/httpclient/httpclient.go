package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// HTTPError represents an error response from the server.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the request may succeed when repeated.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// IsStatus reports whether err is an HTTPError with one of the given status codes.
func IsStatus(err error, codes ...int) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	for _, c := range codes {
		if httpErr.StatusCode == c {
			return true
		}
	}
	return false
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	APIKey         string
	ClientCertFile string
	ClientKeyFile  string
	UserAgent      string
	Timeout        time.Duration
	// Attempts is the total number of tries for transient failures. Zero means 3.
	Attempts   uint
	RetryDelay time.Duration
	// HTTPClient replaces the client built from the options above.
	HTTPClient *http.Client
}

// Client makes requests against a single gateway.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	userAgent  string
	attempts   uint
	retryDelay time.Duration
	httpClient *http.Client
}

// New builds a client. Client certificates are loaded eagerly so configuration errors
// surface at startup.
func New(opts Options) (*Client, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL: %q", opts.BaseURL)
	}
	c := &Client{
		baseURL:    u,
		apiKey:     opts.APIKey,
		userAgent:  opts.UserAgent,
		attempts:   opts.Attempts,
		retryDelay: opts.RetryDelay,
		httpClient: opts.HTTPClient,
	}
	if c.attempts == 0 {
		c.attempts = 3
	}
	if c.retryDelay == 0 {
		c.retryDelay = time.Second
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: opts.Timeout}
		if opts.ClientCertFile != "" {
			cert, err := tls.LoadX509KeyPair(opts.ClientCertFile, opts.ClientKeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			c.httpClient.Transport = &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					Certificates: []tls.Certificate{cert},
					MinVersion:   tls.VersionTLS12,
				},
			}
		}
	}
	return c, nil
}

// HTTPClient returns the underlying client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Do sends the request, retrying transport errors, 429 and 5xx responses with
// exponential backoff. Responses with a status of 400 or above return an *HTTPError.
func (c *Client) Do(ctx context.Context, opts RequestOptions) (*Response, error) {
	u := *c.baseURL
	u.Path = path.Join(u.Path, opts.Path)
	q := u.Query()
	for k, v := range opts.QueryParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	var rsp *Response
	err := retry.Do(func() error {
		var err error
		rsp, err = c.do(ctx, u.String(), opts)
		if err == nil {
			return nil
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.Temporary() {
			return retry.Unrecoverable(err)
		}
		return err
	},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Warn().Err(err).Uint("attempt", n+1).Str("url", u.Redacted()).Msg("retrying gateway request")
		}),
	)
	if err != nil {
		return nil, err
	}
	return rsp, nil
}

func (c *Client) do(ctx context.Context, target string, opts RequestOptions) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, opts.Method, target, bytes.NewReader(opts.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vv := range opts.Header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	if opts.Accept != "" {
		req.Header.Set("Accept", opts.Accept)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: errorMessage(body, resp.Status)}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// errorMessage extracts the message of a JSON error body, falling back to the raw body.
func errorMessage(body []byte, status string) string {
	if gjson.ValidBytes(body) {
		for _, field := range []string{"error", "message", "description"} {
			if m := gjson.GetBytes(body, field); m.Exists() && m.String() != "" {
				return m.String()
			}
		}
	}
	if len(body) == 0 {
		return status
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return string(body)
}
