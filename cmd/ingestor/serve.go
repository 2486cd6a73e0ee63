package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/RuSwift/arbitrage-sub000/internal/connector"
	"github.com/RuSwift/arbitrage-sub000/internal/domain"
	"github.com/RuSwift/arbitrage-sub000/internal/orchestrator"
)

// serveCmd runs the live stream and a periodic crawler tick side by side
// for one exchange/kind pair until the process is signaled to stop (spec
// §5 "long-running deployment").
func serveCmd(ctx context.Context) *cobra.Command {
	var (
		tagFlag     string
		symbolsFlag string
		depth       int
		crawlEvery  time.Duration
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run live streaming and periodic crawling together",
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

			metricsSrv := startMetricsServer(d, metricsAddr)
			defer metricsSrv.Close()

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

			cb := connector.CallbackFunc(func(book *domain.BookTicker, bd *domain.BookDepth, kline *domain.CandleStick) {
				handleStreamEvent(cmd.Context(), d, orch, symbols, book, bd, kline)
			})
			if err := conn.Start(cmd.Context(), cb, symbols, depth); err != nil {
				return fmt.Errorf("start stream %s: %w", tag, err)
			}
			defer conn.Stop()

			ticker := time.NewTicker(crawlEvery)
			defer ticker.Stop()
			d.log.Info().Str("tag", tag.String()).Dur("crawl_every", crawlEvery).Msg("serve: started")

			for {
				select {
				case <-cmd.Context().Done():
					d.log.Info().Str("tag", tag.String()).Msg("serve: shutting down")
					return nil
				case <-ticker.C:
					if err := runCrawlOnce(cmd.Context(), d, tag); err != nil {
						d.log.Warn().Err(err).Str("tag", tag.String()).Msg("serve: crawl tick failed")
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&tagFlag, "tag", "binance/spot", "exchange/kind, e.g. binance/spot")
	cmd.Flags().StringVar(&symbolsFlag, "symbols", "", "comma-separated canonical symbols (BASE/QUOTE); empty means all")
	cmd.Flags().IntVar(&depth, "depth", 20, "order book depth to subscribe")
	cmd.Flags().DurationVar(&crawlEvery, "crawl-every", 15*time.Minute, "crawler pass interval")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "listen address for the /metrics and /healthz endpoints")
	return cmd
}

// startMetricsServer exposes the process's Prometheus registry and a liveness
// probe over plain HTTP, routed with gorilla/mux the way the teacher's own
// HTTP surfaces are (internal/interfaces/http). This is a bare observability
// endpoint, not the teacher's admin/login surface, which is out of scope.
func startMetricsServer(d *deps, addr string) *http.Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(d.promReg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.Warn().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	return srv
}

// handleStreamEvent routes one connector callback invocation to the
// matching Orchestrator publish call (spec §4.7). Shared by stream and
// serve so both subcommands apply identical publish semantics.
func handleStreamEvent(ctx context.Context, d *deps, orch *orchestrator.Orchestrator, symbols []domain.Symbol, book *domain.BookTicker, bd *domain.BookDepth, kline *domain.CandleStick) {
	switch {
	case book != nil:
		base, quote, ok := book.Symbol.Split()
		mid := (book.BidPrice + book.AskPrice) / 2
		if !ok || mid <= 0 {
			return
		}
		pair := domain.CurrencyPair{Base: base, Quote: quote, Ratio: mid, UTC: book.UTC}
		if err := orch.PublishPrice(ctx, pair); err != nil {
			d.log.Warn().Err(err).Str("symbol", book.Symbol.String()).Msg("publish price failed")
		}
	case bd != nil:
		if err := orch.PublishBookDepth(ctx, *bd, orchestratorMergeStrategy); err != nil {
			d.log.Warn().Err(err).Str("symbol", bd.Symbol.String()).Msg("publish depth failed")
		}
	case kline != nil:
		// The connector contract doesn't carry the symbol on the candle
		// itself; multi-symbol candle routing needs one invocation per
		// symbol until the contract grows a symbol field.
		if len(symbols) == 1 {
			if err := orch.PublishCandlestick(ctx, symbols[0], *kline); err != nil {
				d.log.Warn().Err(err).Msg("publish candle failed")
			}
		}
	}
}
