package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Execute builds and runs the ingestor root command against ctx, which
// carries the process's shutdown signal (spec §5 "graceful shutdown").
func Execute(ctx context.Context) error {
	root := &cobra.Command{Use: "ingestor", Short: "Exchange market-data connector core"}
	root.PersistentFlags().String("config", "config/ingestor.yaml", "path to the YAML deployment config")

	root.AddCommand(streamCmd(ctx))
	root.AddCommand(crawlCmd(ctx))
	root.AddCommand(serveCmd(ctx))
	root.AddCommand(migrateCmd(ctx))

	log.Info().Msg("ingestor starting")
	return root.ExecuteContext(ctx)
}
