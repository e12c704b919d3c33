// Package toolhost owns the connection to one tool host: it launches the host,
// performs the MCP handshake, caches the tool catalog and invokes tools.
package toolhost

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/catalog"
	"github.com/effective-security/mcpbridge/mcp"
	"github.com/effective-security/mcpbridge/mcp/transport"
	"github.com/effective-security/mcpbridge/mcp/transport/httptransport"
	"github.com/effective-security/mcpbridge/mcp/transport/localtransport"
	"github.com/effective-security/mcpbridge/pkg/metricskey"
	"github.com/effective-security/mcpbridge/toolresult"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge", "toolhost")

// State of a connection
type State int

// States, in lifecycle order. Closed is terminal.
const (
	Unconnected State = iota
	Connecting
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Unconnected:
		return "unconnected"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Default timeouts
const (
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultRequestTimeout   = 60 * time.Second
	DefaultCloseGrace       = 5 * time.Second
)

type options struct {
	nodeBinary       string
	pythonBinary     string
	env              []string
	dir              string
	handshakeTimeout time.Duration
	requestTimeout   time.Duration
	closeGrace       time.Duration
	clientName       string
	clientVersion    string
}

// Option configures a Conn
type Option func(*options)

// WithNodeBinary sets the interpreter for .js hosts
func WithNodeBinary(path string) Option {
	return func(o *options) {
		o.nodeBinary = path
	}
}

// WithPythonBinary sets the interpreter for .py hosts
func WithPythonBinary(path string) Option {
	return func(o *options) {
		o.pythonBinary = path
	}
}

// WithEnv adds KEY=VALUE entries to the host environment
func WithEnv(env ...string) Option {
	return func(o *options) {
		o.env = append(o.env, env...)
	}
}

// WithDir sets the working directory of the host
func WithDir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// WithHandshakeTimeout bounds initialize and the catalog fetch
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

// WithRequestTimeout bounds each request without a deadline of its own
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

// WithCloseGrace sets how long Close waits for the host to exit before killing it
func WithCloseGrace(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.closeGrace = d
		}
	}
}

// WithClientInfo sets the name and version announced in the handshake
func WithClientInfo(name, version string) Option {
	return func(o *options) {
		o.clientName = name
		o.clientVersion = version
	}
}

// Conn is a connection to a single tool host.
// It is safe for concurrent use once Ready.
type Conn struct {
	opts options

	lock    sync.RWMutex
	state   State
	gen     int
	locator *Locator
	client  *mcp.Client
	proc    *process
	catalog *catalog.Catalog
}

// New returns an unconnected Conn
func New(opts ...Option) *Conn {
	o := options{
		pythonBinary:     DefaultPython(),
		nodeBinary:       "node",
		handshakeTimeout: DefaultHandshakeTimeout,
		requestTimeout:   DefaultRequestTimeout,
		closeGrace:       DefaultCloseGrace,
		clientName:       "mcpbridge",
		clientVersion:    "dev",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Conn{
		opts:  o,
		state: Unconnected,
	}
}

// State returns the current state
func (c *Conn) State() State {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.state
}

// Locator returns the locator of the connected host, or nil
func (c *Conn) Locator() *Locator {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.locator
}

// Connect launches the tool host named by locator, performs the handshake
// and fetches the tool catalog. An unsupported locator fails before any
// process is started.
func (c *Conn) Connect(ctx context.Context, locator string) error {
	gen, err := c.begin()
	if err != nil {
		return err
	}

	loc, err := ParseLocator(locator, c.opts.nodeBinary, c.opts.pythonBinary)
	if err != nil {
		return c.fail(ctx, loc, err)
	}

	var proc *process
	var tr transport.Transport
	switch {
	case loc.Spawns():
		proc, err = startProcess(loc, &c.opts)
		if err != nil {
			return c.fail(ctx, loc, err)
		}
		tr = proc.tr
	case loc.Kind == KindHTTP:
		tr = localtransport.NewClient(httptransport.NewClient(loc.URL))
	default:
		return c.fail(ctx, loc, errors.Errorf("no launcher for %s", loc.Kind))
	}

	return c.attach(ctx, gen, loc, tr, proc)
}

// ConnectTransport performs the handshake over an existing transport,
// such as an in-process tool host
func (c *Conn) ConnectTransport(ctx context.Context, tr transport.Transport) error {
	gen, err := c.begin()
	if err != nil {
		return err
	}
	loc := &Locator{Raw: string(KindTransport), Kind: KindTransport}
	return c.attach(ctx, gen, loc, tr, nil)
}

func (c *Conn) begin() (int, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.state != Unconnected {
		return 0, &IllegalStateError{Op: "connect", State: c.state}
	}
	c.state = Connecting
	c.gen++
	return c.gen, nil
}

func (c *Conn) attach(ctx context.Context, gen int, loc *Locator, tr transport.Transport, proc *process) error {
	started := time.Now()
	defer metricskey.PerfToolhostConnect.MeasureSince(started, string(loc.Kind))

	client := mcp.NewClient(tr,
		mcp.WithClientInfo(c.opts.clientName, c.opts.clientVersion),
		mcp.WithRequestTimeout(c.opts.requestTimeout),
		mcp.WithOnClose(func() { c.onClosed(gen) }),
	)

	hctx, cancel := context.WithTimeout(ctx, c.opts.handshakeTimeout)
	defer cancel()

	info, err := client.Initialize(hctx)
	if err == nil {
		var tools []mcp.Tool
		tools, err = client.ListAllTools(hctx)
		if err == nil {
			cat := catalog.New(tools)

			c.lock.Lock()
			if c.state != Connecting || c.gen != gen {
				c.lock.Unlock()
				_ = client.Close()
				if proc != nil {
					_ = proc.stop(c.opts.closeGrace)
				}
				return &ConnectionError{Locator: loc.Raw, Kind: loc.Kind, Err: errors.New("connection closed during handshake")}
			}
			c.state = Ready
			c.locator = loc
			c.client = client
			c.proc = proc
			c.catalog = cat
			c.lock.Unlock()

			metricskey.StatsToolhostConnected.IncrCounter(1, string(loc.Kind))
			logger.ContextKV(ctx, xlog.INFO,
				"status", "connected",
				"kind", loc.Kind,
				"locator", loc.Raw,
				"server", info.ServerInfo.Name,
				"version", info.ServerInfo.Version,
				"tools", cat.Len(),
				"fingerprint", cat.Fingerprint(),
				"elapsed", time.Since(started).String(),
			)
			return nil
		}
	}

	_ = client.Close()
	if proc != nil {
		_ = proc.stop(c.opts.closeGrace)
	}
	return c.fail(ctx, loc, err)
}

func (c *Conn) fail(ctx context.Context, loc *Locator, err error) error {
	c.lock.Lock()
	// a Close during the handshake keeps the connection closed
	if c.state == Connecting {
		c.state = Unconnected
	}
	c.lock.Unlock()

	metricskey.StatsToolhostConnectFailed.IncrCounter(1, string(loc.Kind))
	logger.ContextKV(ctx, xlog.ERROR,
		"reason", "connect",
		"kind", loc.Kind,
		"locator", loc.Raw,
		"err", err.Error(),
	)
	return &ConnectionError{Locator: loc.Raw, Kind: loc.Kind, Err: err}
}

// onClosed handles the host closing the channel on its own
func (c *Conn) onClosed(gen int) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if gen != c.gen || c.state != Ready {
		return
	}
	c.state = Closed
	logger.KV(xlog.WARNING,
		"status", "host_closed",
		"locator", c.locator.Raw,
	)
}

// ListTools returns the cached catalog; it never re-fetches
func (c *Conn) ListTools() []mcp.Tool {
	return c.Catalog().Tools()
}

// Catalog returns the cached catalog, nil before Connect
func (c *Conn) Catalog() *catalog.Catalog {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.catalog
}

// Refresh re-fetches the catalog from the host
func (c *Conn) Refresh(ctx context.Context) (*catalog.Catalog, error) {
	client, err := c.ready("refresh")
	if err != nil {
		return nil, err
	}
	tools, err := client.ListAllTools(ctx)
	if err != nil {
		return nil, err
	}
	cat := catalog.New(tools)

	c.lock.Lock()
	prev := c.catalog
	c.catalog = cat
	c.lock.Unlock()

	if prev.Fingerprint() != cat.Fingerprint() {
		logger.ContextKV(ctx, xlog.INFO,
			"status", "catalog_changed",
			"tools", cat.Len(),
			"fingerprint", cat.Fingerprint(),
		)
	}
	return cat, nil
}

// Invoke calls a tool and waits for its result.
// A result flagged as an error by the host is returned with a ToolInvocationError.
func (c *Conn) Invoke(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	client, err := c.ready("invoke")
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}

	res, err := client.CallTool(ctx, name, args)
	if err != nil {
		return nil, &ToolInvocationError{Tool: name, Err: err}
	}
	if res.IsError {
		msg := toolresult.Flatten(res)
		if msg == "" {
			msg = "tool reported an error"
		}
		return res, &ToolInvocationError{Tool: name, Err: errors.New(msg), Result: res}
	}
	return res, nil
}

// Ping checks that the host is responsive
func (c *Conn) Ping(ctx context.Context) error {
	client, err := c.ready("ping")
	if err != nil {
		return err
	}
	return client.Ping(ctx)
}

func (c *Conn) ready(op string) (*mcp.Client, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.state != Ready {
		return nil, &IllegalStateError{Op: op, State: c.state}
	}
	return c.client, nil
}

// Close shuts the host down and releases the process.
// It is idempotent: the state is Closed afterwards, whatever it was.
func (c *Conn) Close() error {
	c.lock.Lock()
	if c.state == Closed && c.client == nil && c.proc == nil {
		c.lock.Unlock()
		return nil
	}
	c.state = Closed
	client := c.client
	proc := c.proc
	c.client = nil
	c.proc = nil
	c.lock.Unlock()

	var err error
	if client != nil {
		if cerr := client.Close(); cerr != nil && !errors.Is(cerr, mcp.ErrClosed) {
			err = errors.Wrap(cerr, "failed to close tool host channel")
		}
	}
	if proc != nil {
		if perr := proc.stop(c.opts.closeGrace); perr != nil && err == nil {
			err = perr
		}
	}
	if client != nil || proc != nil {
		logger.KV(xlog.DEBUG, "status", "closed")
	}
	return err
}
