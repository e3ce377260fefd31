// File path: cmd/devtrail/graph.go
package main

import (
	"github.com/spf13/cobra"

	"github.com/devtrail/devtrail/internal/modgraph"
)

func newGraphCommand() *cobra.Command {
	var workspace string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Build and print the module graph for a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspace == "" {
				return exitf(exitUsage, "--workspace is required")
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			graph, err := modgraph.NewService(st).Graph(cmd.Context(), workspace)
			if err != nil {
				return exitf(exitIO, "build graph: %v", err)
			}
			return printJSON(cmd, graph)
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "workspace path")
	return cmd
}
