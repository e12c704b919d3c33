package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/effective-security/mcpbridge/config"
	"github.com/effective-security/x/slices"
	"github.com/spf13/cobra"
)

type transcriptsOptions struct {
	Limit  int
	Output OutputFormat
}

func newTranscriptsCmd(options *globalOptions) *cobra.Command {
	opts := &transcriptsOptions{Limit: 20, Output: OutputFormatText}

	cmd := &cobra.Command{
		Use:     "transcripts [session-id]",
		Short:   "List archived queries, or show one",
		GroupID: "core",
		Args:    cobra.MaximumNArgs(1),
		Example: `  # List the last queries archived in Redis
  mcpbridge transcripts -c mcpbridge.yaml

  # Show one with its messages
  mcpbridge transcripts -c mcpbridge.yaml -o json 1786523745601429504`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(options.ConfigFile)
			if err != nil {
				return err
			}
			st, closeStore, err := cfg.NewStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			if len(args) == 1 {
				t, err := st.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if opts.Output == OutputFormatText {
					return renderValue(cmd.OutOrStdout(), t, OutputFormatYAML)
				}
				return renderValue(cmd.OutOrStdout(), t, opts.Output)
			}

			ids, err := st.List(ctx, opts.Limit)
			if err != nil {
				return err
			}
			if opts.Output != OutputFormatText {
				return renderValue(cmd.OutOrStdout(), ids, opts.Output)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tENDED\tSTATUS\tQUERY")
			for _, id := range ids {
				t, err := st.Get(ctx, id)
				if err != nil {
					// expired between List and Get
					continue
				}
				status := "ok"
				if t.Failed() {
					status = "failed"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, t.EndedAt.Local().Format(time.DateTime), status, slices.StringUpto(t.Query, 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", opts.Limit, "number of transcripts to list, 0 for all")
	cmd.Flags().VarP(&opts.Output, "output", "o", "output format: text, json or yaml")
	return cmd
}
