package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RuSwift/arbitrage-sub000/internal/connector"
	"github.com/RuSwift/arbitrage-sub000/internal/crawler"
	"github.com/RuSwift/arbitrage-sub000/internal/domain"
)

// crawlCmd runs a single crawler pass for one exchange/kind pair (spec §4.8).
func crawlCmd(ctx context.Context) *cobra.Command {
	var tagFlag string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawler pass against an exchange/kind pair",
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
			return runCrawlOnce(cmd.Context(), d, tag)
		},
	}
	cmd.Flags().StringVar(&tagFlag, "tag", "binance/spot", "exchange/kind, e.g. binance/perpetual")
	return cmd
}

// runCrawlOnce builds the cached connector, source adapter, and crawler
// service for tag, then runs one pass.
func runCrawlOnce(ctx context.Context, d *deps, tag connector.Tag) error {
	orch := buildOrchestrator(d, tag)

	var src crawler.Source
	switch tag.Kind {
	case domain.KindSpot:
		conn, err := buildCachedSpot(d, tag, defaultLimiterTimeout)
		if err != nil {
			return err
		}
		src = crawler.SpotSource{Conn: conn}
	case domain.KindPerpetual:
		conn, err := buildCachedPerpetual(d, tag, defaultLimiterTimeout)
		if err != nil {
			return err
		}
		src = crawler.PerpetualSource{Conn: conn}
	}

	crawlCfg, err := crawler.LoadConfig(ctx, d.uow)
	if err != nil {
		return fmt.Errorf("load crawler config: %w", err)
	}
	svc := crawler.New(d.uow, tag.Exchange, tag.Kind, src, orch, crawlCfg).SetMetrics(d.metrics)
	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("crawl %s: %w", tag, err)
	}
	return nil
}
