// Package httpclient talks to the ops API of a running pulse daemon.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/etlpulse/errors"
	"github.com/teranos/etlpulse/version"
)

// APIError is a non-2xx response from the daemon
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.StatusCode)
	}
	return e.Message
}

// Client wraps http.Client with a base URL and JSON handling
type Client struct {
	*http.Client
	baseURL *url.URL
}

// New creates a client for the daemon at addr. addr may be a full URL or a
// listen address such as ":8787".
func New(addr string, timeout time.Duration) (*Client, error) {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid daemon address %q", addr)
	}
	if err := validateURL(u); err != nil {
		return nil, err
	}
	return &Client{Client: &http.Client{Timeout: timeout}, baseURL: u}, nil
}

// BaseURL returns the daemon URL requests are sent to
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func validateURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Newf("scheme %q not allowed (only http and https)", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("daemon address has no host")
	}
	return nil
}

// PostJSON posts body (may be nil) to path and decodes the response into out
func (c *Client) PostJSON(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// GetJSON fetches path and decodes the response into out
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		reader = bytes.NewReader(data)
	}

	target := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.Get().UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to reach the pulse daemon at %s", c.baseURL)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &payload)
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}
