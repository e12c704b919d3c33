// Package httptransport carries MCP messages over stateless HTTP POST requests.
//
// Client implements localtransport.Handler, so a remote tool host is reached with
//
//	tr := localtransport.NewClient(httptransport.NewClient(endpoint))
//
// and NewHTTPHandler exposes any localtransport.Handler on an HTTP endpoint.
package httptransport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/transport/localtransport"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge/mcp/transport", "httptransport")

// SessionHeader carries the session id assigned by a streamable HTTP server
const SessionHeader = "Mcp-Session-Id"

const maxBodySize = 16 * 1024 * 1024

var _ localtransport.Handler = (*Client)(nil)

// Client posts each message to an endpoint
type Client struct {
	endpoint   string
	httpClient *http.Client

	lock      sync.RWMutex
	sessionID string
}

// NewClient returns a client for the given endpoint
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: http.DefaultClient,
	}
}

// WithHTTPClient sets the HTTP client
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// SessionID returns the session id assigned by the server, if any
func (c *Client) SessionID() string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.sessionID
}

// HandleMCP implements localtransport.Handler
func (c *Client) HandleMCP(ctx context.Context, req *localtransport.Request) (*localtransport.Response, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(req.Body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}
	if sid := c.SessionID(); sid != "" {
		hreq.Header.Set(SessionHeader, sid)
	}

	hresp, err := c.httpClient.Do(hreq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer hresp.Body.Close()

	if sid := hresp.Header.Get(SessionHeader); sid != "" {
		c.lock.Lock()
		c.sessionID = sid
		c.lock.Unlock()
	}

	body, err := io.ReadAll(io.LimitReader(hresp.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	mediaType, _, _ := mime.ParseMediaType(hresp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		body = firstEventData(body)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"endpoint", c.endpoint,
		"status", hresp.StatusCode,
		"size", len(body),
	)

	headers := make(map[string]string, len(hresp.Header))
	for k := range hresp.Header {
		headers[k] = hresp.Header.Get(k)
	}
	return &localtransport.Response{
		Status:  hresp.StatusCode,
		Body:    bytes.TrimSpace(body),
		Headers: headers,
	}, nil
}

// firstEventData returns the data of the first server-sent event
func firstEventData(body []byte) []byte {
	var data []string
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), maxBodySize)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 {
				break
			}
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(after, " "))
		}
	}
	return []byte(strings.Join(data, "\n"))
}

// NewHTTPHandler serves MCP messages posted to it by dispatching them to h
func NewHTTPHandler(h localtransport.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Only POST method is supported", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		headers := make(map[string]string, len(r.Header))
		for k := range r.Header {
			headers[k] = r.Header.Get(k)
		}

		resp, err := h.HandleMCP(r.Context(), &localtransport.Request{
			Body:    body,
			Headers: headers,
		})
		if err != nil {
			logger.ContextKV(r.Context(), xlog.ERROR, "reason", "HandleMCP", "err", err.Error())
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.Status)
		if len(resp.Body) > 0 {
			_, _ = w.Write(resp.Body)
		}
	})
}
