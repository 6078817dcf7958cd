package control

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/absfs/keyfs"
)

// Client talks to a running keyfs mount over its control socket.
type Client struct {
	http *http.Client
	base string
}

// NewClient returns a client for the socket at path.
func NewClient(socket string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		},
	}
	return &Client{
		http: &http.Client{Transport: transport, Timeout: 30 * time.Second},
		// The host is ignored by the dialer.
		base: "http://keyfs",
	}
}

// APIError is a non-success reply. It unwraps to the keyfs sentinel that
// matches the status code, so callers can use errors.Is.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control API: %s (status %d)", e.Message, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return keyfs.ErrNotFound
	case http.StatusForbidden:
		return keyfs.ErrAccessDenied
	case http.StatusServiceUnavailable:
		return keyfs.ErrClosed
	}
	return nil
}

// SetKey registers key for path.
func (c *Client) SetKey(ctx context.Context, path string, key []byte) error {
	return c.sendKey(ctx, http.MethodPut, "/v1/keys", path, key)
}

// RotateKey re-encrypts path under key.
func (c *Client) RotateKey(ctx context.Context, path string, key []byte) error {
	return c.sendKey(ctx, http.MethodPost, "/v1/keys/rotate", path, key)
}

// Stat returns the metadata of path.
func (c *Client) Stat(ctx context.Context, path string) (*StatResult, error) {
	var res StatResult
	if err := c.get(ctx, "/v1/stat", path, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// List returns the entries of the directory at path.
func (c *Client) List(ctx context.Context, path string) (*ListResult, error) {
	var res ListResult
	if err := c.get(ctx, "/v1/list", path, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) sendKey(ctx context.Context, method, endpoint, path string, key []byte) error {
	body, err := json.Marshal(KeyRequest{
		Path: path,
		Key:  base64.StdEncoding.EncodeToString(key),
	})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) get(ctx context.Context, endpoint, path string, out any) error {
	u := c.base + endpoint + "?" + url.Values{"path": {path}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("control API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var envelope Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: "malformed response"}
	}
	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: envelope.Error}
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}
