// File path: cmd/devtrail/export.go
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/devtrail/devtrail/internal/common"
	"github.com/devtrail/devtrail/internal/export"
)

func newExportCommand() *cobra.Command {
	var (
		out              string
		limit            int
		since            string
		until            string
		excludeEvents    bool
		excludePrompts   bool
		excludeTerminal  bool
		excludeContext   bool
		noCodeDiffs      bool
		noLinkedData     bool
		noTemporalChunks bool
		abstractionLevel int
		stream           bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an export document",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := export.Options{
				Limit:            limit,
				ExcludeEvents:    excludeEvents,
				ExcludePrompts:   excludePrompts,
				ExcludeTerminal:  excludeTerminal,
				ExcludeContext:   excludeContext,
				NoCodeDiffs:      noCodeDiffs,
				NoLinkedData:     noLinkedData,
				NoTemporalChunks: noTemporalChunks,
				AbstractionLevel: abstractionLevel,
				Stream:           stream,
			}
			if abstractionLevel < 0 || abstractionLevel > 3 {
				return exitf(exitValidation, "abstraction level must be 0..3, got %d", abstractionLevel)
			}
			var err error
			if since != "" {
				if opts.Since, err = export.ParseTimeBound(since, false); err != nil {
					return exitf(exitValidation, "parse --since: %v", err)
				}
			}
			if until != "" {
				if opts.Until, err = export.ParseTimeBound(until, true); err != nil {
					return exitf(exitValidation, "parse --until: %v", err)
				}
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			dest := cmd.OutOrStdout()
			if out != "" {
				file, err := os.Create(out)
				if err != nil {
					return exitf(exitIO, "create %s: %v", out, err)
				}
				defer file.Close()
				dest = file
			}
			streamed, err := export.New(st).Export(cmd.Context(), opts, dest)
			if err != nil {
				return exitf(exitIO, "export: %v", err)
			}
			common.Logger().Info("devtrail: export written", "out", out, "streamed", streamed)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file (default stdout)")
	cmd.Flags().IntVar(&limit, "limit", 0, "cap records per collection")
	cmd.Flags().StringVar(&since, "since", "", "lower time bound (ms epoch or ISO date)")
	cmd.Flags().StringVar(&until, "until", "", "upper time bound (ms epoch or ISO date)")
	cmd.Flags().BoolVar(&excludeEvents, "exclude-events", false, "drop generic events and temporal chunks")
	cmd.Flags().BoolVar(&excludePrompts, "exclude-prompts", false, "drop prompts")
	cmd.Flags().BoolVar(&excludeTerminal, "exclude-terminal", false, "drop terminal commands")
	cmd.Flags().BoolVar(&excludeContext, "exclude-context", false, "drop context snapshots")
	cmd.Flags().BoolVar(&noCodeDiffs, "no-code-diffs", false, "strip code payloads")
	cmd.Flags().BoolVar(&noLinkedData, "no-linked-data", false, "omit the relationships section")
	cmd.Flags().BoolVar(&noTemporalChunks, "no-temporal-chunks", false, "omit temporal chunks")
	cmd.Flags().IntVar(&abstractionLevel, "abstraction-level", 0, "0 raw, 1 redact, 2 abstract prompts, 3 extract patterns")
	cmd.Flags().BoolVar(&stream, "stream", false, "force the streaming envelope")
	return cmd
}
