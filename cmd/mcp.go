package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Inspect configured MCP servers",
}

var mcpStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show MCP server connections and discovered tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			statuses := a.mcp.Status()
			if len(statuses) == 0 {
				fmt.Println("no mcp servers connected")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SERVER\tTRANSPORT\tCONNECTED\tTOOLS\tERROR")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%s\t%v\t%d\t%s\n",
					s.Name, s.Transport, s.Connected, s.ToolCount, s.Error)
			}
			return w.Flush()
		})
	},
}

func init() {
	mcpCmd.AddCommand(mcpStatusCmd)
	rootCmd.AddCommand(mcpCmd)
}
