// Package stdio implements a newline-delimited JSON-RPC transport over a byte
// stream, typically the stdin/stdout pipes of a tool host process.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/transport"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge/mcp/transport", "stdio")

// MaxMessageSize bounds a single line read from the stream.
const MaxMessageSize = 16 * 1024 * 1024

var _ transport.Transport = (*Transport)(nil)

// Transport reads messages from r and writes them to w, one JSON document per line.
type Transport struct {
	r io.Reader
	w io.Writer

	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()
	mu             sync.RWMutex
	writeMu        sync.Mutex

	started   bool
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// New returns a transport over the given stream pair.
// If r or w implement io.Closer, they are closed by Close.
func New(r io.Reader, w io.Writer) *Transport {
	return &Transport{
		r:    r,
		w:    w,
		done: make(chan struct{}),
	}
}

// Start launches the read loop.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport is closed")
	}
	if t.started {
		return errors.New("transport already started")
	}
	t.started = true
	go t.readLoop(context.WithoutCancel(ctx))
	return nil
}

// Done is closed once the transport has shut down.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

func (t *Transport) readLoop(ctx context.Context) {
	defer t.shutdown()

	scanner := bufio.NewScanner(t.r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxMessageSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := transport.ParseMessage(line)
		if err != nil {
			t.reportError(err)
			continue
		}

		t.mu.RLock()
		handler := t.messageHandler
		t.mu.RUnlock()
		if handler != nil {
			handler(ctx, msg)
		}
	}
	if err := scanner.Err(); err != nil && !isClosedErr(err) {
		t.reportError(errors.Wrap(err, "failed to read message"))
	}
}

func (t *Transport) reportError(err error) {
	t.mu.RLock()
	handler := t.errorHandler
	t.mu.RUnlock()
	if handler != nil {
		handler(err)
		return
	}
	logger.KV(xlog.WARNING, "reason", "read", "err", err.Error())
}

// Send writes a message followed by a newline.
func (t *Transport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	js, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}
	js = append(js, '\n')

	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return errors.New("transport is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.w.Write(js); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

// Close closes both ends of the stream and fires the close handler once.
func (t *Transport) Close() error {
	var err error
	t.mu.Lock()
	alreadyClosed := t.closed
	t.closed = true
	t.mu.Unlock()

	if !alreadyClosed {
		if c, ok := t.w.(io.Closer); ok {
			err = c.Close()
		}
		if c, ok := t.r.(io.Closer); ok {
			_ = c.Close()
		}
	}

	t.mu.RLock()
	started := t.started
	t.mu.RUnlock()
	if !started {
		// no read loop to observe EOF
		t.shutdown()
	}
	return err
}

func (t *Transport) shutdown() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		handler := t.closeHandler
		t.mu.Unlock()

		if handler != nil {
			handler()
		}
		close(t.done)
	})
}

// SetCloseHandler implements Transport.SetCloseHandler
func (t *Transport) SetCloseHandler(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeHandler = handler
}

// SetErrorHandler implements Transport.SetErrorHandler
func (t *Transport) SetErrorHandler(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorHandler = handler
}

// SetMessageHandler implements Transport.SetMessageHandler
func (t *Transport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageHandler = handler
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed)
}
