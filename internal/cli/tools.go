package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// ToolDisplay is a tool as listed by the tools command
type ToolDisplay struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters  map[string]any `json:"parameters" yaml:"parameters"`
}

type toolsOptions struct {
	Output OutputFormat
}

func newToolsCmd(options *globalOptions) *cobra.Command {
	opts := &toolsOptions{Output: OutputFormatText}

	cmd := &cobra.Command{
		Use:     "tools [locator]",
		Short:   "List the tools of a host",
		Aliases: []string{"ls"},
		GroupID: "tools",
		Args:    cobra.MaximumNArgs(1),
		Example: `  # List tools
  mcpbridge tools ./weather.py

  # Show the parameter schemas offered to the model
  mcpbridge tools ./weather.py -o yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := options.connect(cmd.Context(), firstArg(args))
			if err != nil {
				return err
			}
			defer a.Close()

			cat := a.conn.Catalog()
			displays := make([]*ToolDisplay, 0, cat.Len())
			for _, t := range cat.LLMTools() {
				displays = append(displays, &ToolDisplay{
					Name:        t.Function.Name,
					Description: t.Function.Description,
					Parameters:  t.Function.ParametersMap(),
				})
			}

			if opts.Output != OutputFormatText {
				return renderValue(cmd.OutOrStdout(), displays, opts.Output)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION")
			for _, d := range displays {
				fmt.Fprintf(w, "%s\t%s\n", d.Name, d.Description)
			}
			return w.Flush()
		},
	}

	cmd.Flags().VarP(&opts.Output, "output", "o", "output format: text, json or yaml")
	return cmd
}
