package main

import (
	"context"

	"github.com/spf13/cobra"
)

// migrateCmd applies the Postgres schema and exits. wire() already applies
// it on every invocation, so this is only useful for a dedicated
// provisioning step ahead of the first connector run.
func migrateCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			d, err := wire(cfgPath)
			if err != nil {
				return err
			}
			defer d.db.Close()
			d.log.Info().Msg("schema applied")
			return nil
		},
	}
}
