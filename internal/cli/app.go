package cli

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/callbacks"
	"github.com/effective-security/mcpbridge/config"
	"github.com/effective-security/mcpbridge/gateway"
	"github.com/effective-security/mcpbridge/orchestrator"
	"github.com/effective-security/mcpbridge/store"
	"github.com/effective-security/mcpbridge/toolhost"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

// app is the state shared by the commands: the configuration and
// the tool host connection, and the orchestrator for commands that ask a model.
type app struct {
	cfg  *config.Config
	conn *toolhost.Conn
	orch *orchestrator.Orchestrator
	// stats records per query stats, see takeStats
	stats *callbacks.Scratchpad

	store      store.Store
	closeStore func() error
}

// connect loads the configuration and connects to the tool host.
// The locator argument takes precedence over the configured one.
func (o *globalOptions) connect(ctx context.Context, locator string) (*app, error) {
	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return nil, err
	}

	locator = values.StringsCoalesce(locator, cfg.ToolHost.Locator)
	if locator == "" {
		return nil, errors.Errorf("tool host locator is required: pass it as an argument or set %s", config.LocatorEnvVarName)
	}

	conn := toolhost.New(cfg.ToolHostOptions()...)
	if err := o.dial(ctx, conn, locator); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &app{cfg: cfg, conn: conn}, nil
}

// connectOrchestrator connects to the tool host and binds it to the model
func (o *globalOptions) connectOrchestrator(ctx context.Context, locator string, trace io.Writer) (*app, error) {
	a, err := o.connect(ctx, locator)
	if err != nil {
		return nil, err
	}

	model, err := o.newModel(a.cfg)
	if err != nil {
		_ = a.Close()
		return nil, errors.WithMessage(err, "unable to create model")
	}

	st, closeStore, err := a.cfg.NewStore(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.store = st
	a.closeStore = closeStore

	a.stats = callbacks.NewScratchpad(callbacks.ModeDefault)
	fanout := callbacks.NewFanout(
		callbacks.NewPackageLogger(logger),
		callbacks.NewArchive(st, model.GetName()),
		a.stats,
	)
	if o.Verbose {
		fanout.Add(callbacks.NewPrinter(trace, callbacks.ModeVerbose))
	}

	opts := append(a.cfg.OrchestratorOptions(), orchestrator.WithCallback(fanout))
	a.orch = orchestrator.New(a.conn, gateway.New(model, a.cfg.GatewayOptions()...), opts...)

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "ready",
		"model", model.GetName(),
		"tools", a.conn.Catalog().Names(),
	)
	return a, nil
}

// takeStats releases the recorded stats of a finished query,
// and prints them to w when show is set
func (a *app) takeStats(w io.Writer, sessionID string, show bool) {
	stats, _ := a.stats.Take(sessionID)
	if show && stats != nil {
		printStats(w, stats)
	}
}

// Close releases the tool host and the store
func (a *app) Close() error {
	err := a.conn.Close()
	if a.closeStore != nil {
		if serr := a.closeStore(); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}
