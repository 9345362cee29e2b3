package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	apitypes "github.com/quadpad/quadpad/apitypes"
)

// Client provides a high-level interface to the QuadPad API, handling request
// formatting, response parsing, and error handling.
type Client struct{ transport *Transport }

// New constructs a high-level API client using the internal low-level Transport.
// The addr parameter specifies the TCP address (host:port) of the QuadPad API server.
func New(addr string) *Client { return &Client{transport: NewTransport(addr)} }

// NewWithPassword constructs a client that authenticates with the given password.
func NewWithPassword(addr, password string) *Client {
	return &Client{transport: NewTransportWithPassword(addr, password)}
}

// NewWithConfig constructs a client with custom transport timeouts.
func NewWithConfig(addr string, cfg *Config) *Client {
	return &Client{transport: NewTransportWithConfig(addr, cfg)}
}

// WithTransport constructs a Client using a custom Transport implementation.
// This is primarily useful for testing or when advanced transport configuration is needed.
func WithTransport(t *Transport) *Client { return &Client{transport: t} }

// Ping returns the version and identity of the QuadPad server.
func (c *Client) Ping() (*apitypes.PingResponse, error) {
	return c.PingCtx(context.Background())
}

// PingCtx is the context-aware version of Ping.
func (c *Client) PingCtx(ctx context.Context) (*apitypes.PingResponse, error) {
	const path = "ping"
	raw, err := c.transport.DoCtx(ctx, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.PingResponse](raw)
}

// Status retrieves the full adapter state: exported mask, reconfiguration
// state, per-port samples and acquisition counters.
func (c *Client) Status() (*apitypes.StatusResponse, error) {
	return c.StatusCtx(context.Background())
}

func (c *Client) StatusCtx(ctx context.Context) (*apitypes.StatusResponse, error) {
	const path = "status"
	raw, err := c.transport.DoCtx(ctx, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.StatusResponse](raw)
}

// Mask retrieves the currently exported port bitmask.
func (c *Client) Mask() (*apitypes.MaskResponse, error) {
	return c.MaskCtx(context.Background())
}

func (c *Client) MaskCtx(ctx context.Context) (*apitypes.MaskResponse, error) {
	const path = "mask"
	raw, err := c.transport.DoCtx(ctx, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.MaskResponse](raw)
}

// PadEnable forces the given port (0-based) into the exported set.
// The server applies the change on the next sampling tick.
func (c *Client) PadEnable(port int) error {
	return c.PadEnableCtx(context.Background(), port)
}

func (c *Client) PadEnableCtx(ctx context.Context, port int) error {
	pathParams := map[string]string{"port": fmt.Sprintf("%d", port)}
	const path = "pad/{port}/enable"
	raw, err := c.transport.DoCtx(ctx, path, nil, pathParams)
	if err != nil {
		return err
	}
	return parseEmpty(raw)
}

// PadDisable forces the given port (0-based) out of the exported set.
func (c *Client) PadDisable(port int) error {
	return c.PadDisableCtx(context.Background(), port)
}

func (c *Client) PadDisableCtx(ctx context.Context, port int) error {
	pathParams := map[string]string{"port": fmt.Sprintf("%d", port)}
	const path = "pad/{port}/disable"
	raw, err := c.transport.DoCtx(ctx, path, nil, pathParams)
	if err != nil {
		return err
	}
	return parseEmpty(raw)
}

// PadSet injects a controller sample on a feed-backed server. Servers
// running on hardware or simulated backends reject the request.
func (c *Client) PadSet(port int, req apitypes.PadSetRequest) error {
	return c.PadSetCtx(context.Background(), port, req)
}

func (c *Client) PadSetCtx(ctx context.Context, port int, req apitypes.PadSetRequest) error {
	pathParams := map[string]string{"port": fmt.Sprintf("%d", port)}
	const path = "pad/{port}/set"
	payloadBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal pad set request: %w", err)
	}
	raw, err := c.transport.DoCtx(ctx, path, string(payloadBytes), pathParams)
	if err != nil {
		return err
	}
	return parseEmpty(raw)
}

// Log retrieves the server's buffered log lines, oldest first.
func (c *Client) Log() (*apitypes.LogResponse, error) {
	return c.LogCtx(context.Background())
}

func (c *Client) LogCtx(ctx context.Context) (*apitypes.LogResponse, error) {
	const path = "log"
	raw, err := c.transport.DoCtx(ctx, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.LogResponse](raw)
}

func parse[T any](data string) (*T, error) {
	if data == "" {
		return nil, errors.New("empty response")
	}
	var problem apitypes.ApiError
	if err := json.Unmarshal([]byte(data), &problem); err == nil && (problem.Status != 0 || problem.Title != "") {
		return nil, &problem
	}
	var out T
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &out, nil
}

// parseEmpty handles routes whose success response carries no body.
func parseEmpty(data string) error {
	if data == "" {
		return nil
	}
	var problem apitypes.ApiError
	if err := json.Unmarshal([]byte(data), &problem); err == nil && (problem.Status != 0 || problem.Title != "") {
		return &problem
	}
	return nil
}
