// File path: cmd/devtrail/import.go
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devtrail/devtrail/internal/export"
)

func newImportCommand() *cobra.Command {
	var (
		in              string
		strategy        string
		overwrite       bool
		dryRun          bool
		workspaceFilter string
		mappings        []string
		skipLinkedData  bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Merge an export document into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in == "" {
				return exitf(exitUsage, "--in is required")
			}
			merge, err := export.ParseMergeStrategy(strategy)
			if err != nil {
				return exitf(exitValidation, "%v", err)
			}
			mapped := make(map[string]string, len(mappings))
			for _, pair := range mappings {
				from, to, ok := strings.Cut(pair, "=")
				if !ok || from == "" || to == "" {
					return exitf(exitValidation, "bad --map %q, want FROM=TO", pair)
				}
				mapped[from] = to
			}

			file, err := os.Open(in)
			if err != nil {
				return exitf(exitIO, "open %s: %v", in, err)
			}
			defer file.Close()

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			result, err := export.NewImporter(st).Import(cmd.Context(), file, export.ImportOptions{
				Strategy:          merge,
				Overwrite:         overwrite,
				DryRun:            dryRun,
				WorkspaceFilter:   workspaceFilter,
				WorkspaceMappings: mapped,
				SkipLinkedData:    skipLinkedData,
			})
			if err != nil {
				return exitf(exitValidation, "import: %v", err)
			}
			if err := printJSON(cmd, result); err != nil {
				return err
			}
			if result.Status == "partial" {
				return exitf(exitPartial, "%d of %d records failed", result.Errors, result.Imported+result.Skipped+result.Errors)
			}
			if result.Status == "error" {
				return exitf(exitValidation, "no records imported, %d errors", result.Errors)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "imported %d, skipped %d\n", result.Imported, result.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "input file")
	cmd.Flags().StringVar(&strategy, "merge-strategy", "skip", "skip, overwrite, merge or append")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "force overwrite regardless of --merge-strategy")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without writing")
	cmd.Flags().StringVar(&workspaceFilter, "workspace-filter", "", "only import records from this workspace")
	cmd.Flags().StringArrayVar(&mappings, "map", nil, "workspace mapping FROM=TO (repeatable)")
	cmd.Flags().BoolVar(&skipLinkedData, "skip-linked-data", false, "drop correlation references on import")
	return cmd
}
