// File path: cmd/devtrail/migrate.go
package main

import (
	"github.com/spf13/cobra"

	"github.com/devtrail/devtrail/internal/store"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and report the schema state",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open("")
			if err != nil {
				return exitf(exitMigration, "migrate: %v", err)
			}
			defer st.Close()
			doc, err := st.Schema(cmd.Context())
			if err != nil {
				return exitf(exitMigration, "read schema: %v", err)
			}
			return printJSON(cmd, doc)
		},
	}
}
