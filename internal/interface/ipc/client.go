package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Client talks to a running Server over its Unix domain socket.
type Client struct {
	socketPath string
	http       *http.Client
}

// NewClient builds a Client bound to socketPath. The returned Client
// does not dial until the first request.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// IsRunning reports whether a daemon is listening on the socket, used
// by `sentinelfsctl daemon start` to avoid double-starting.
func (c *Client) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	var resp StatusResponse
	return c.get(ctx, "/status", &resp) == nil
}

// Status fetches the daemon's current status summary.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	err := c.get(ctx, "/status", &resp)
	return resp, err
}

// Peers fetches the scored peer list.
func (c *Client) Peers(ctx context.Context) (ListPeersResponse, error) {
	var resp ListPeersResponse
	err := c.get(ctx, "/peers", &resp)
	return resp, err
}

// PinList fetches the certificate pin set.
func (c *Client) PinList(ctx context.Context) (ListPinsResponse, error) {
	var resp ListPinsResponse
	err := c.get(ctx, "/pin/list", &resp)
	return resp, err
}

// PinRotate replaces a pinned key for hostname.
func (c *Client) PinRotate(ctx context.Context, req PinRotateRequest) (GenericResponse, error) {
	var resp GenericResponse
	err := c.post(ctx, "/pin/rotate", req, &resp)
	return resp, err
}

// ConflictsList fetches unresolved sync conflicts.
func (c *Client) ConflictsList(ctx context.Context) (ListConflictsResponse, error) {
	var resp ListConflictsResponse
	err := c.get(ctx, "/conflicts/list", &resp)
	return resp, err
}

// ConflictsResolve marks a conflict resolved using strategyID.
func (c *Client) ConflictsResolve(ctx context.Context, req ResolveConflictRequest) (GenericResponse, error) {
	var resp GenericResponse
	err := c.post(ctx, "/conflicts/resolve", req, &resp)
	return resp, err
}

// Shutdown asks the daemon behind the socket to stop.
func (c *Client) Shutdown(ctx context.Context) (GenericResponse, error) {
	var resp GenericResponse
	err := c.post(ctx, "/shutdown", nil, &resp)
	return resp, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix"+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://unix"+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ipc request: %w", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode ipc response: %w", err)
	}
	return nil
}
