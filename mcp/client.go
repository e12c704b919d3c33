package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/internal/protocol"
	"github.com/effective-security/mcpbridge/mcp/transport"
	"github.com/effective-security/xlog"
)

// RPCError is a JSON-RPC error returned by the remote side
type RPCError = protocol.RPCError

var (
	// ErrClosed is returned when the connection closes before a reply arrives
	ErrClosed = protocol.ErrClosed
	// ErrTimeout is returned when a reply does not arrive in time
	ErrTimeout = protocol.ErrTimeout
)

// maxPages bounds tools/list pagination against servers that never stop
const maxPages = 100

// ClientOption configures a Client
type ClientOption func(*Client)

// WithClientInfo sets the name and version announced to the server
func WithClientInfo(name, version string) ClientOption {
	return func(c *Client) {
		c.info = Implementation{Name: name, Version: version}
	}
}

// WithRequestTimeout sets the timeout for each request
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithOnClose sets a callback invoked when the connection closes
func WithOnClose(fn func()) ClientOption {
	return func(c *Client) {
		c.onClose = fn
	}
}

// Client talks to a tool host over a transport
type Client struct {
	tr      transport.Transport
	p       *protocol.Protocol
	info    Implementation
	timeout time.Duration
	onClose func()

	server *InitializeResult
}

// NewClient returns a client for the transport. The transport is started by Initialize.
func NewClient(tr transport.Transport, opts ...ClientOption) *Client {
	c := &Client{
		tr:   tr,
		info: Implementation{Name: "mcpbridge", Version: "dev"},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.p = protocol.NewProtocol(&protocol.ProtocolOptions{DefaultTimeout: c.timeout})
	c.p.OnClose = func() {
		if c.onClose != nil {
			c.onClose()
		}
	}
	return c
}

// Initialize starts the transport and performs the handshake
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	if err := c.p.Connect(c.tr); err != nil {
		return nil, errors.Wrap(err, "failed to start transport")
	}

	raw, err := c.p.Request(ctx, MethodInitialize, &InitializeRequest{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      c.info,
	}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "initialize")
	}

	res := new(InitializeResult)
	if err = json.Unmarshal(raw, res); err != nil {
		return nil, errors.Wrap(err, "invalid initialize result")
	}

	if err = c.p.Notification(ctx, MethodInitialized, nil); err != nil {
		return nil, errors.Wrap(err, "failed to send initialized notification")
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "initialized",
		"server", res.ServerInfo.Name,
		"version", res.ServerInfo.Version,
		"protocol", res.ProtocolVersion,
	)
	c.server = res
	return res, nil
}

// ServerInfo returns the result of the handshake, or nil before Initialize
func (c *Client) ServerInfo() *InitializeResult {
	return c.server
}

// ListTools returns one page of tools
func (c *Client) ListTools(ctx context.Context, cursor string) (*ListToolsResult, error) {
	raw, err := c.p.Request(ctx, MethodToolsList, &ListToolsRequest{Cursor: cursor}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "tools/list")
	}
	res := new(ListToolsResult)
	if err = json.Unmarshal(raw, res); err != nil {
		return nil, errors.Wrap(err, "invalid tools/list result")
	}
	return res, nil
}

// ListAllTools follows nextCursor until the catalog is complete
func (c *Client) ListAllTools(ctx context.Context) ([]Tool, error) {
	tools := []Tool{}
	cursor := ""
	for range maxPages {
		page, err := c.ListTools(ctx, cursor)
		if err != nil {
			return nil, err
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" {
			return tools, nil
		}
		cursor = page.NextCursor
	}
	return nil, errors.Errorf("tools/list: more than %d pages", maxPages)
}

// CallTool invokes a tool. A result with IsError set is returned without an error;
// the caller decides how to treat host-reported failures.
func (c *Client) CallTool(ctx context.Context, name string, args any) (*CallToolResult, error) {
	raw, err := c.p.Request(ctx, MethodToolsCall, &CallToolRequest{Name: name, Arguments: args}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "tools/call %s", name)
	}
	res := new(CallToolResult)
	if err = json.Unmarshal(raw, res); err != nil {
		return nil, errors.Wrapf(err, "invalid tools/call %s result", name)
	}
	return res, nil
}

// Ping checks that the server is responsive
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.p.Request(ctx, MethodPing, nil, nil)
	return errors.Wrap(err, "ping")
}

// IsClosed returns true once the connection has closed
func (c *Client) IsClosed() bool {
	return c.p.IsClosed()
}

// Close closes the transport
func (c *Client) Close() error {
	return c.p.Close()
}
