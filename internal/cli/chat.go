package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// QuitCommand ends the chat loop
const QuitCommand = "quit"

func newChatCmd(options *globalOptions) *cobra.Command {
	var showStats bool
	cmd := &cobra.Command{
		Use:     "chat [locator]",
		Short:   "Ask questions interactively",
		GroupID: "core",
		Args:    cobra.MaximumNArgs(1),
		Example: `  # Chat with the tools of a Node.js host
  mcpbridge chat ./build/index.js

  # Use MCP_SERVER_PATH as the host
  mcpbridge chat`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := options.connectOrchestrator(ctx, firstArg(args), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Connected, %d tools available: %s\n", a.conn.Catalog().Len(), strings.Join(a.conn.Catalog().Names(), ", "))
			fmt.Fprintf(out, "Type your queries or '%s' to exit.\n", QuitCommand)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for ctx.Err() == nil {
				fmt.Fprint(out, "\nQuery: ")
				if !scanner.Scan() {
					break
				}
				query := strings.TrimSpace(scanner.Text())
				if query == "" {
					continue
				}
				if strings.EqualFold(query, QuitCommand) {
					break
				}

				res, err := a.orch.ProcessQueryResult(ctx, query)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())
					continue
				}
				a.takeStats(cmd.ErrOrStderr(), res.SessionID, showStats)
				fmt.Fprintln(out)
				if err := renderAnswer(out, res.Answer, options.Plain); err != nil {
					return err
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().BoolVar(&showStats, "stats", false, "print stats of each query to stderr")
	return cmd
}

func firstArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}
