// Package cli implements the mcpbridge command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/config"
	"github.com/effective-security/mcpbridge/pkg/llmfactory"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/toolhost"
	"github.com/effective-security/xlog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge", "cli")

var (
	// Version is the version of the CLI
	Version = "dev"

	// GitCommit is the commit that the CLI was built from
	GitCommit = "unknown"
)

type globalOptions struct {
	ConfigFile string
	EnvFile    string
	Verbose    bool
	Plain      bool

	// newModel and dial are replaced in tests
	newModel func(cfg *config.Config) (llms.Model, error)
	dial     func(ctx context.Context, conn *toolhost.Conn, locator string) error
}

func defaultOptions() *globalOptions {
	return &globalOptions{
		EnvFile:  ".env",
		newModel: factoryModel,
		dial: func(ctx context.Context, conn *toolhost.Conn, locator string) error {
			return conn.Connect(ctx, locator)
		},
	}
}

// NewRootCmd returns the root command
func NewRootCmd() *cobra.Command {
	return newRootCmd(defaultOptions())
}

func newRootCmd(options *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mcpbridge",
		Short:         "mcpbridge: answer questions with a language model and the tools of an MCP host.",
		Version:       fmt.Sprintf("%s (%s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := xlog.ERROR
			if options.Verbose {
				level = xlog.DEBUG
			}
			xlog.SetFormatter(xlog.NewStringFormatter(cmd.ErrOrStderr()))
			xlog.SetGlobalLogLevel(level)

			if options.EnvFile != "" {
				if err := godotenv.Load(options.EnvFile); err != nil && !os.IsNotExist(err) {
					return errors.WithMessagef(err, "failed to load %s", options.EnvFile)
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&options.ConfigFile, "config", "c", "", "configuration file, the environment is used if not set")
	cmd.PersistentFlags().StringVar(&options.EnvFile, "env-file", options.EnvFile, "file with environment variables, ignored if missing")
	cmd.PersistentFlags().BoolVarP(&options.Verbose, "verbose", "v", false, "print tool calls and debug logs")
	cmd.PersistentFlags().BoolVar(&options.Plain, "plain", false, "print answers without markdown rendering")

	cmd.AddGroup(
		&cobra.Group{
			ID:    "core",
			Title: "Core Commands",
		},
		&cobra.Group{
			ID:    "tools",
			Title: "Tool Commands",
		},
	)

	cmd.AddCommand(newChatCmd(options))
	cmd.AddCommand(newQueryCmd(options))
	cmd.AddCommand(newToolsCmd(options))
	cmd.AddCommand(newCallCmd(options))
	cmd.AddCommand(newTranscriptsCmd(options))
	cmd.AddCommand(newServeDemoCmd(options))
	return cmd
}

// Execute runs the root command and exits on failure
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		cancel()
		os.Exit(1)
	}
}

func factoryModel(cfg *config.Config) (llms.Model, error) {
	f := llmfactory.New(&cfg.LLM)
	if cfg.Orchestrator.Model != "" {
		return f.ModelByName(cfg.Orchestrator.Model)
	}
	return f.DefaultModel()
}
