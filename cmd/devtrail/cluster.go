// File path: cmd/devtrail/cluster.go
package main

import (
	"github.com/spf13/cobra"

	"github.com/devtrail/devtrail/internal/cluster"
	"github.com/devtrail/devtrail/internal/llm"
	"github.com/devtrail/devtrail/internal/workspace"
)

func newClusterCommand() *cobra.Command {
	var (
		sampleSize int
		strict     bool
	)
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Run privacy-validated clustering over stored prompts",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			pipeline := cluster.NewPipeline(st, workspace.NewAnalyzer(st), llm.NewProvider(), cluster.Config{
				SampleSize: sampleSize,
				Strict:     strict,
			})
			result, err := pipeline.Run(cmd.Context())
			if err != nil {
				return exitf(exitIO, "cluster: %v", err)
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().IntVar(&sampleSize, "sample-size", 0, "cap on sampled prompts (default 100000)")
	cmd.Flags().BoolVar(&strict, "strict", false, "drop clusters with any privacy violation")
	return cmd
}
