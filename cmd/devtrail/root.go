// File path: cmd/devtrail/root.go
package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/devtrail/devtrail/internal/common"
	"github.com/devtrail/devtrail/internal/data/orchestrator"
	"github.com/devtrail/devtrail/internal/store"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "devtrail",
		Short:         "Developer activity telemetry service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err == nil {
				common.Logger().Info("devtrail: environment loaded from .env")
			}
		},
	}
	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newExportCommand(),
		newImportCommand(),
		newGraphCommand(),
		newClusterCommand(),
	)
	return root
}

// openStore opens the configured store, mapping failures to the I/O
// exit code. Migration runs inside Open; a migration failure keeps the
// prior version on disk.
func openStore() (*store.Store, error) {
	st, err := store.Open("")
	if err != nil {
		return nil, exitf(exitIO, "open store: %v", err)
	}
	return st, nil
}

func openOrchestrator(ctx context.Context, st *store.Store) (*orchestrator.Orchestrator, error) {
	cfg, err := orchestrator.LoadConfig()
	if err != nil {
		return nil, exitf(exitValidation, "load config: %v", err)
	}
	orch, err := orchestrator.New(ctx, cfg, orchestrator.WithStore(st))
	if err != nil {
		return nil, exitf(exitIO, "init orchestrator: %v", err)
	}
	return orch, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return exitf(exitIO, "encode output: %v", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}
