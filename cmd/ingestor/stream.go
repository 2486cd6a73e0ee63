package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RuSwift/arbitrage-sub000/internal/connector"
	"github.com/RuSwift/arbitrage-sub000/internal/domain"
)

// streamCmd opens one (exchange, kind) connector's websocket and publishes
// every event it emits through the orchestrator (spec §4.3, §4.7).
func streamCmd(ctx context.Context) *cobra.Command {
	var (
		tagFlag     string
		symbolsFlag string
		depth       int
	)
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream live book/depth/kline events for one exchange/kind pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			d, err := wire(cfgPath)
			if err != nil {
				return err
			}
			defer d.db.Close()

			tag, err := parseTag(tagFlag)
			if err != nil {
				return err
			}
			symbols := parseSymbols(symbolsFlag)
			orch := buildOrchestrator(d, tag)

			cb := connector.CallbackFunc(func(book *domain.BookTicker, bd *domain.BookDepth, kline *domain.CandleStick) {
				handleStreamEvent(cmd.Context(), d, orch, symbols, book, bd, kline)
			})

			var conn connector.Streaming
			switch tag.Kind {
			case domain.KindSpot:
				c, berr := buildCachedSpot(d, tag, defaultLimiterTimeout)
				if berr != nil {
					return berr
				}
				conn = c
			case domain.KindPerpetual:
				c, berr := buildCachedPerpetual(d, tag, defaultLimiterTimeout)
				if berr != nil {
					return berr
				}
				conn = c
			}
			if err := conn.Start(cmd.Context(), cb, symbols, depth); err != nil {
				return fmt.Errorf("start stream %s: %w", tag, err)
			}
			defer conn.Stop()

			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&tagFlag, "tag", "binance/spot", "exchange/kind, e.g. binance/spot")
	cmd.Flags().StringVar(&symbolsFlag, "symbols", "", "comma-separated canonical symbols (BASE/QUOTE); empty means all")
	cmd.Flags().IntVar(&depth, "depth", 20, "order book depth to subscribe")
	return cmd
}

func parseSymbols(s string) []domain.Symbol {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]domain.Symbol, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, domain.Symbol(strings.ToUpper(p)))
		}
	}
	return out
}
