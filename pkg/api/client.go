package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to a key server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	config     clientConfig
}

// KeyFile is a downloaded export.
type KeyFile struct {
	Body           []byte
	Signature      []byte
	KeyID          string
	PublishedUntil time.Time
	// NotModified is set when the server had no keys for the request.
	NotModified bool
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout   time.Duration
	userAgent string
	transport http.RoundTripper
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithUserAgent sets the "app;appVersion;build;os;osVersion" header of every request.
func WithUserAgent(ua string) ClientOption {
	return func(c *clientConfig) {
		c.userAgent = ua
	}
}

func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *clientConfig) {
		c.transport = rt
	}
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	config := clientConfig{timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&config)
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	return &Client{
		httpClient: &http.Client{Timeout: config.timeout, Transport: config.transport},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		userAgent:  config.userAgent,
		config:     config,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any, token string) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.userAgent != "" {
		req.Header.Set(HeaderUserAgent, c.userAgent)
	}
	return req, nil
}

func (c *Client) post(ctx context.Context, path string, body any, token string) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, body, token)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// UploadKeys sends the keys of a diagnosed user.
func (c *Client) UploadKeys(ctx context.Context, token string, req *GaenRequest) error {
	return c.post(ctx, "/v1/gaen/exposed", req, token)
}

// UploadDelayedKey sends the key of the upload day once it has expired.
func (c *Client) UploadDelayedKey(ctx context.Context, token string, req *GaenSecondDay) error {
	return c.post(ctx, "/v1/gaen/exposednextday", req, token)
}

// KeysForDate fetches the keys of one UTC date released after publishedAfter.
func (c *Client) KeysForDate(ctx context.Context, keyDate time.Time, publishedAfter *time.Time) (*KeyFile, error) {
	path := "/v1/gaen/exposed/" + strconv.FormatInt(keyDate.UnixMilli(), 10)
	if publishedAfter != nil {
		path += "?publishedafter=" + strconv.FormatInt(publishedAfter.UnixMilli(), 10)
	}
	return c.getKeyFile(ctx, path)
}

// Keys fetches the keys of all dates released after lastKeyBundleTag.
func (c *Client) Keys(ctx context.Context, lastKeyBundleTag string) (*KeyFile, error) {
	path := "/v2/gaen/exposed"
	if lastKeyBundleTag != "" {
		path += "?lastKeyBundleTag=" + url.QueryEscape(lastKeyBundleTag)
	}
	return c.getKeyFile(ctx, path)
}

func (c *Client) getKeyFile(ctx context.Context, path string) (*KeyFile, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return nil, fmt.Errorf("get keys failed with status %d: %s", resp.StatusCode, string(body))
	}

	kf := &KeyFile{
		Body:        body,
		KeyID:       resp.Header.Get(HeaderKeyID),
		NotModified: resp.StatusCode == http.StatusNoContent,
	}
	if s := resp.Header.Get(HeaderSignature); s != "" {
		if kf.Signature, err = base64.StdEncoding.DecodeString(s); err != nil {
			return nil, fmt.Errorf("invalid signature header: %w", err)
		}
	}
	if s := resp.Header.Get(HeaderPublishedUntil); s != "" {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s header: %w", HeaderPublishedUntil, err)
		}
		kf.PublishedUntil = time.UnixMilli(ms).UTC()
	}
	return kf, nil
}
