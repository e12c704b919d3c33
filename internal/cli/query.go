package cli

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

type queryOptions struct {
	Locator string
	Output  OutputFormat
	Stats   bool
}

func newQueryCmd(options *globalOptions) *cobra.Command {
	opts := &queryOptions{Output: OutputFormatText}

	cmd := &cobra.Command{
		Use:     "query [flags] <question...>",
		Short:   "Answer a single question",
		GroupID: "core",
		Args:    cobra.MinimumNArgs(1),
		Example: `  # Ask once, with the host from MCP_SERVER_PATH
  mcpbridge query "What is the weather in Paris?"

  # Print the tool calls and results as JSON
  mcpbridge query -l ./weather.py -o json "Weather in Paris?"

  # Print model and tool call counts to stderr
  mcpbridge query --stats "Weather in Paris?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return errors.New("question is empty")
			}

			a, err := options.connectOrchestrator(cmd.Context(), opts.Locator, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.orch.ProcessQueryResult(cmd.Context(), query)
			if err != nil {
				return err
			}
			a.takeStats(cmd.ErrOrStderr(), res.SessionID, opts.Stats)
			if opts.Output == OutputFormatText {
				return renderAnswer(cmd.OutOrStdout(), res.Answer, options.Plain)
			}
			return renderValue(cmd.OutOrStdout(), res, opts.Output)
		},
	}

	cmd.Flags().StringVarP(&opts.Locator, "locator", "l", "", "tool host: script path, stdio:// command or http(s) URL")
	cmd.Flags().VarP(&opts.Output, "output", "o", "output format: text, json or yaml")
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "print query stats to stderr")
	return cmd
}
