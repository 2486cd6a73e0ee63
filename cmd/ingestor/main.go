// Command ingestor runs the arbitrage-sub000 connector core: a live
// websocket streamer, a periodic crawler, or both together, against any of
// the eight supported exchanges. Grounded on the teacher's
// cmd/cprotocol/main.go (signal.NotifyContext + ExecuteContext) and
// cmd/cryptorun/main.go (per-subcommand flag wiring via cobra).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
