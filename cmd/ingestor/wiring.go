package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/RuSwift/arbitrage-sub000/internal/cachedconn"
	"github.com/RuSwift/arbitrage-sub000/internal/config"
	"github.com/RuSwift/arbitrage-sub000/internal/connector"
	"github.com/RuSwift/arbitrage-sub000/internal/domain"
	"github.com/RuSwift/arbitrage-sub000/internal/metrics"
	"github.com/RuSwift/arbitrage-sub000/internal/orchestrator"
	"github.com/RuSwift/arbitrage-sub000/internal/persistence"
	"github.com/RuSwift/arbitrage-sub000/internal/persistence/postgres"
	"github.com/RuSwift/arbitrage-sub000/internal/service"
	"github.com/RuSwift/arbitrage-sub000/internal/store"
)

// deps bundles everything a subcommand needs once its config is loaded:
// the DB pool, the cache, the assembled repository set, a metrics registry,
// and a logger. Built once per invocation and handed to whichever unit of
// work the subcommand drives (spec §4.9).
type deps struct {
	cfg     config.Config
	db      *sqlx.DB
	uow     *service.UnitOfWork
	metrics *metrics.Registry
	promReg *prometheus.Registry
	log     zerolog.Logger
}

func wire(cfgPath string) (*deps, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := sqlx.Connect("postgres", cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)

	if _, err := db.Exec(postgres.Schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	repos := persistence.Repository{
		Tokens:     postgres.NewTokenRepo(db, cfg.QueryTimeout()),
		Jobs:       postgres.NewCrawlerJobRepo(db, cfg.QueryTimeout()),
		Iterations: postgres.NewCrawlerIterationRepo(db, cfg.QueryTimeout()),
		Snapshots:  postgres.NewSnapshotRepo(db, cfg.QueryTimeout()),
		ServiceCfg: postgres.NewServiceConfigRepo(db, cfg.QueryTimeout()),
	}

	cache := store.NewAutoAddr(cfg.Redis.Addr, cfg.Redis.DB)
	log := buildLogger(cfg.Log)

	promReg := prometheus.NewRegistry()
	reg := metrics.NewRegistry(promReg)

	return &deps{
		cfg:     cfg,
		db:      db,
		uow:     service.New(cache, repos, log),
		metrics: reg,
		promReg: promReg,
		log:     log,
	}, nil
}

func buildLogger(cfg config.LogConfig) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if cfg.JSON {
		return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(lvl)
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(writer).With().Timestamp().Logger().Level(lvl)
}

// parseTag resolves "exchange/kind" (e.g. "binance/spot") to a
// connector.Tag, per spec §9's explicit tagged-variant enumeration.
func parseTag(s string) (connector.Tag, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return connector.Tag{}, fmt.Errorf("invalid tag %q, expected exchange/kind", s)
	}
	exchange := domain.ExchangeID(strings.ToLower(parts[0]))
	kind := domain.Kind(strings.ToLower(parts[1]))
	tag, ok := connector.ParseTag(exchange, kind)
	if !ok {
		return connector.Tag{}, fmt.Errorf("unsupported exchange/kind %q", s)
	}
	return tag, nil
}

// buildOrchestrator assembles the orchestrator for one tag, fronted by the
// same cache the unit of work uses (spec §4.7).
func buildOrchestrator(d *deps, tag connector.Tag) *orchestrator.Orchestrator {
	return orchestrator.New(tag.Exchange, tag.Kind, d.uow.Cache, d.uow.Repos, orchestrator.DefaultConfig(), d.log)
}

// buildCachedSpot builds the rate-limited live Spot connector for tag,
// fronted by the cached facade (spec §4.6). Returns an error if tag has no
// spot variant.
func buildCachedSpot(d *deps, tag connector.Tag, limiterTimeout time.Duration) (connector.Spot, error) {
	live, err := connector.NewSpot(tag, limiterTimeout, d.uow.Cache, d.metrics, d.log)
	if err != nil {
		return nil, err
	}
	return cachedconn.NewSpot(live, d.uow.Cache, tag.Exchange, defaultCacheTTL).SetMetrics(d.metrics), nil
}

// buildCachedPerpetual is buildCachedSpot's Perpetual analogue.
func buildCachedPerpetual(d *deps, tag connector.Tag, limiterTimeout time.Duration) (connector.Perpetual, error) {
	live, err := connector.NewPerpetual(tag, limiterTimeout, d.uow.Cache, d.metrics, d.log)
	if err != nil {
		return nil, err
	}
	return cachedconn.NewPerpetual(live, d.uow.Cache, tag.Exchange, defaultCacheTTL).SetMetrics(d.metrics), nil
}

const (
	defaultLimiterTimeout = 10 * time.Second
	defaultCacheTTL       = 5 * time.Second
	// orchestratorMergeStrategy is the CLI's default depth-publish strategy.
	// Connectors that push bid/ask sides separately (e.g. Gate) would want
	// orchestrator.Merge; stream wires Replace since it has no per-exchange
	// knowledge of which connectors split sides.
	orchestratorMergeStrategy = orchestrator.Replace
)
