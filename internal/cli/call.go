package cli

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/orchestrator"
	"github.com/effective-security/mcpbridge/toolhost"
	"github.com/effective-security/mcpbridge/toolresult"
	"github.com/spf13/cobra"
)

type callOptions struct {
	Locator        string
	Output         OutputFormat
	SkipValidation bool
}

func newCallCmd(options *globalOptions) *cobra.Command {
	opts := &callOptions{Output: OutputFormatText}

	cmd := &cobra.Command{
		Use:     "call [flags] <tool> [arguments]",
		Short:   "Invoke a tool directly, without a model",
		GroupID: "tools",
		Args:    cobra.RangeArgs(1, 2),
		Example: `  # Call a tool with JSON arguments
  mcpbridge call -l ./weather.py getWeather '{"city":"Paris"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			var raw string
			if len(args) > 1 {
				raw = args[1]
			}
			toolArgs, err := orchestrator.DecodeArguments(raw)
			if err != nil {
				return err
			}

			a, err := options.connect(cmd.Context(), opts.Locator)
			if err != nil {
				return err
			}
			defer a.Close()

			if !opts.SkipValidation {
				if err := a.conn.Catalog().ValidateArguments(name, toolArgs); err != nil {
					return err
				}
			}

			res, err := a.conn.Invoke(cmd.Context(), name, toolArgs)
			var ierr *toolhost.ToolInvocationError
			if err != nil && !(errors.As(err, &ierr) && res != nil) {
				return err
			}

			result := toolresult.Parse(res)
			if opts.Output != OutputFormatText {
				if rerr := renderValue(cmd.OutOrStdout(), result, opts.Output); rerr != nil {
					return rerr
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), result.Text)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&opts.Locator, "locator", "l", "", "tool host: script path, stdio:// command or http(s) URL")
	cmd.Flags().VarP(&opts.Output, "output", "o", "output format: text, json or yaml")
	cmd.Flags().BoolVar(&opts.SkipValidation, "skip-validation", false, "send the arguments without checking the input schema")
	return cmd
}
