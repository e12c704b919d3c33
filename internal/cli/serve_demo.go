package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp"
	"github.com/effective-security/mcpbridge/mcp/transport/httptransport"
	"github.com/effective-security/mcpbridge/mcp/transport/localtransport"
	"github.com/effective-security/mcpbridge/mcp/transport/stdio"
	"github.com/effective-security/xlog"
	"github.com/spf13/cobra"
)

// DemoWeatherTool is the tool served by serve-demo
var DemoWeatherTool = mcp.Tool{
	Name:        "getWeather",
	Description: "Get the current weather for a city",
	InputSchema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"city": {"type": "string", "description": "City name, e.g. Paris"},
			"unit": {"type": "string", "enum": ["celsius", "fahrenheit"]}
		},
		"required": ["city"]
	}`),
}

var conditions = []string{"Sunny", "Cloudy", "Rainy", "Windy", "Foggy"}

// demoWeather reports a made up, stable forecast for the city
func demoWeather(_ context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in struct {
		City string `json:"city"`
		Unit string `json:"unit"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, errors.Wrap(err, "invalid arguments")
	}
	city := strings.TrimSpace(in.City)
	if city == "" {
		return nil, errors.New("city is required")
	}

	h := xxhash.Sum64String(strings.ToLower(city))
	celsius := int(h%35) - 5
	condition := conditions[(h>>8)%uint64(len(conditions))]

	if in.Unit == "fahrenheit" {
		return mcp.NewTextResult(fmt.Sprintf("%s, %dF in %s", condition, celsius*9/5+32, city)), nil
	}
	return mcp.NewTextResult(fmt.Sprintf("%s, %dC in %s", condition, celsius, city)), nil
}

func newDemoServer() (*mcp.Server, error) {
	srv := mcp.NewServer("mcpbridge-demo", Version)
	if err := srv.RegisterTool(DemoWeatherTool, demoWeather); err != nil {
		return nil, err
	}
	return srv, nil
}

// DemoShutdownTimeout bounds the graceful stop of the HTTP demo server
const DemoShutdownTimeout = 5 * time.Second

func newServeDemoCmd(_ *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:     "serve-demo",
		Short:   "Serve a demo weather tool over stdio or HTTP",
		GroupID: "tools",
		Args:    cobra.NoArgs,
		Example: `  # Use the demo as the tool host of a chat
  mcpbridge chat "stdio://mcpbridge serve-demo"

  # Serve over HTTP and connect by URL
  mcpbridge serve-demo --http 127.0.0.1:8080
  mcpbridge chat http://127.0.0.1:8080/mcp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := newDemoServer()
			if err != nil {
				return err
			}

			if addr != "" {
				ln, err := net.Listen("tcp", addr)
				if err != nil {
					return errors.Wrapf(err, "unable to listen on %s", addr)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Serving %s on http://%s\n", DemoWeatherTool.Name, ln.Addr())
				return serveDemoHTTP(cmd.Context(), srv, ln)
			}

			// stdout carries the protocol, logs go to stderr
			if err := srv.Serve(stdio.New(cmd.InOrStdin(), cmd.OutOrStdout())); err != nil {
				return errors.WithMessage(err, "unable to serve")
			}
			logger.KV(xlog.DEBUG, "status", "serving", "tools", len(srv.Tools()))

			select {
			case <-srv.Done():
			case <-cmd.Context().Done():
				_ = srv.Close()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "http", "", "serve over HTTP on this address instead of stdio, e.g. :8080")
	return cmd
}

// serveDemoHTTP serves srv on ln until ctx is done.
// Each POST carries one message, any path is accepted.
func serveDemoHTTP(ctx context.Context, srv *mcp.Server, ln net.Listener) error {
	local := localtransport.New()
	if err := srv.Serve(local); err != nil {
		_ = ln.Close()
		return errors.WithMessage(err, "unable to serve")
	}
	defer srv.Close()

	hs := &http.Server{
		Handler:           httptransport.NewHTTPHandler(local),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- hs.Serve(ln)
	}()
	logger.KV(xlog.DEBUG, "status", "serving_http", "addr", ln.Addr().String(), "tools", len(srv.Tools()))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.WithMessage(err, "unable to serve")
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DemoShutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(sctx); err != nil {
		return errors.WithMessage(err, "unable to stop HTTP server")
	}
	return nil
}
