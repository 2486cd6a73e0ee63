package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/RuSwift/arbitrage-sub000/internal/domain"
	"github.com/RuSwift/arbitrage-sub000/internal/metrics"
	"github.com/RuSwift/arbitrage-sub000/internal/orchestrator"
	"github.com/RuSwift/arbitrage-sub000/internal/persistence"
	"github.com/RuSwift/arbitrage-sub000/internal/service"
)

// Config holds the artifact cooldown windows and book-size heuristics
// loaded via ServiceConfig (§4.8 "Config").
type Config struct {
	FundingRateWindowMin     int `json:"funding_rate_window_min"`
	FundingHistoryWindowMin  int `json:"funding_history_window_min"`
	LiquidityBookWindowMin   int `json:"liquidity_book_window_min"`
	LiquidityBookDepthFactor int `json:"liquidity_book_depth_factor"`
	LiquidityBookAmountFactor int `json:"liquidity_book_amount_factor"`
}

// DefaultConfig returns the spec's stated default window minutes and
// sizing factors.
func DefaultConfig() Config {
	return Config{
		FundingRateWindowMin:      15,
		FundingHistoryWindowMin:   60,
		LiquidityBookWindowMin:    30,
		LiquidityBookDepthFactor:  5,
		LiquidityBookAmountFactor: 1000,
	}
}

// ConfigClass is this service's ServiceConfig registry key (§4.9).
const ConfigClass = "crawler.Service"

const (
	klinesLimit       = 60
	fundingHistoryLimit = 100
	depthLimit          = 50
)

// Service is one (exchange, kind) crawler. It is built per run target; the
// caller owns the Source (a cached or live connector facade) and the
// service.UnitOfWork (DB + cache).
type Service struct {
	service.Base
	exchange domain.ExchangeID
	kind     domain.Kind
	source   Source
	orch     *orchestrator.Orchestrator
	cfg      Config
	metrics  *metrics.Registry
}

// New builds a crawler Service for one (exchange, kind) pair.
func New(uow *service.UnitOfWork, exchange domain.ExchangeID, kind domain.Kind, source Source, orch *orchestrator.Orchestrator, cfg Config) *Service {
	return &Service{Base: service.NewBase(uow), exchange: exchange, kind: kind, source: source, orch: orch, cfg: cfg}
}

// SetMetrics attaches a metrics.Registry; subsequent runs record iteration
// and artifact outcome counts against it. Returns s for chaining at
// construction time.
func (s *Service) SetMetrics(m *metrics.Registry) *Service {
	s.metrics = m
	return s
}

// LoadConfig loads this crawler's Config from the ServiceConfig registry,
// falling back to DefaultConfig (§4.9).
func LoadConfig(ctx context.Context, uow *service.UnitOfWork) (Config, error) {
	return service.LoadConfig(ctx, uow, ConfigClass, DefaultConfig())
}

// Run performs one full crawl per §4.8 steps 1-7: prepare job, list
// tokens, snapshot the connector's universe, upsert+map each iteration,
// tick pending iterations' artifacts, and finish the job.
func (s *Service) Run(ctx context.Context) (err error) {
	runID := uuid.New().String()
	now := time.Now()
	s.Log().Info().Str("run_id", runID).Str("exchange", string(s.exchange)).Str("kind", string(s.kind)).Msg("crawler: run starting")
	job, err := s.DB().Jobs.StartRun(ctx, s.exchange, s.kind, now)
	if err != nil {
		return fmt.Errorf("crawler %s/%s: start run: %w", s.exchange, s.kind, err)
	}
	defer func() {
		if ferr := s.DB().Jobs.FinishRun(ctx, job.ID, time.Now(), err); ferr != nil {
			s.Log().Warn().Err(ferr).Msg("crawler: finish job failed")
		}
	}()

	tokens, terr := s.orderedTokens(ctx)
	if terr != nil {
		err = fmt.Errorf("crawler %s/%s: list tokens: %w", s.exchange, s.kind, terr)
		return err
	}

	listed, lerr := s.source.ListSymbols(ctx)
	if lerr != nil {
		err = fmt.Errorf("crawler %s/%s: list symbols: %w", s.exchange, s.kind, lerr)
		return err
	}
	byBase := make(map[string]domain.Symbol, len(listed))
	for _, info := range listed {
		byBase[info.Base] = info.Symbol
	}

	var onExchange []domain.Symbol
	tokenSymbol := make(map[int64]domain.Symbol, len(tokens))
	for _, tok := range tokens {
		if sym, ok := byBase[tok.Symbol]; ok {
			onExchange = append(onExchange, sym)
			tokenSymbol[tok.ID] = sym
		}
	}

	pairs, perr := s.source.GetPairs(ctx, onExchange)
	if perr != nil {
		err = fmt.Errorf("crawler %s/%s: get pairs: %w", s.exchange, s.kind, perr)
		return err
	}
	pairBySymbol := make(map[domain.Symbol]domain.CurrencyPair, len(pairs))
	for _, p := range pairs {
		pairBySymbol[p.Symbol()] = p
	}

	for _, tok := range tokens {
		if ierr := s.upsertIteration(ctx, job.ID, tok, tokenSymbol, byBase, pairBySymbol); ierr != nil {
			s.Log().Warn().Err(ierr).Str("symbol", tok.Symbol).Msg("crawler: iteration upsert failed")
		}
	}

	pending, plerr := s.DB().Iterations.ListPending(ctx, job.ID)
	if plerr != nil {
		err = fmt.Errorf("crawler %s/%s: list pending: %w", s.exchange, s.kind, plerr)
		return err
	}
	for _, it := range pending {
		s.tickIteration(ctx, it)
	}
	return nil
}

func (s *Service) orderedTokens(ctx context.Context) ([]persistence.Token, error) {
	all, err := s.DB().Tokens.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(all))
	out := make([]persistence.Token, 0, len(all))
	for _, t := range all {
		if seen[t.Symbol] {
			continue
		}
		seen[t.Symbol] = true
		out = append(out, t)
	}
	return out, nil
}

// upsertIteration performs §4.8 step 4 for one token: find-or-create the
// iteration row, then transition it to pending (with its CurrencyPair
// payload, publishing the price) or to ignore with a distinguishing
// comment. The two ignore-comment strings and the branch that picks
// between them are taken verbatim from services/crawlers/perpetual.py's
// prepare_job_iterations: "missing in exchange" when the token's base
// isn't in the connector's full listing at all, "missing in tokens list"
// when it is listed but get_pairs didn't return a price for it.
func (s *Service) upsertIteration(ctx context.Context, jobID int64, tok persistence.Token, tokenSymbol map[int64]domain.Symbol, byBase map[string]domain.Symbol, pairBySymbol map[domain.Symbol]domain.CurrencyPair) error {
	now := time.Now()
	sym, onExchange := tokenSymbol[tok.ID]
	symbolStr := tok.Symbol
	if onExchange {
		symbolStr = sym.String()
	}

	it, err := s.DB().Iterations.FindOrCreate(ctx, jobID, tok.ID, symbolStr, now)
	if err != nil {
		return err
	}

	pair, found := pairBySymbol[sym]
	if !found {
		comment := "missing in exchange"
		if onExchange {
			comment = "missing in tokens list"
		}
		return s.DB().Iterations.TransitionMapped(ctx, it.ID, nil, comment, now)
	}

	payload, jerr := json.Marshal(pair)
	if jerr != nil {
		return fmt.Errorf("marshal pair %s: %w", sym, jerr)
	}
	if err := s.DB().Iterations.TransitionMapped(ctx, it.ID, payload, "", now); err != nil {
		return err
	}
	if s.orch != nil {
		if perr := s.orch.PublishPrice(ctx, pair); perr != nil {
			s.Log().Warn().Err(perr).Str("symbol", sym.String()).Msg("crawler: publish price failed")
		}
	}
	return nil
}

// tickIteration performs §4.8 steps 5-6 for one pending iteration: attempt
// each artifact guarded by its cooldown window, then transition the
// iteration to error if any artifact call failed, else to success if at
// least one artifact was recorded; otherwise it stays pending.
func (s *Service) tickIteration(ctx context.Context, it persistence.CrawlerIteration) {
	symbol := domain.Symbol(it.Symbol)
	now := time.Now()
	anySuccess := false
	var lastErr error

	record := func(ok bool, err error) {
		if err != nil {
			lastErr = err
		}
		if ok {
			anySuccess = true
		}
	}

	record(s.tryArtifact(ctx, "book_depth", symbol, s.cfg.LiquidityBookWindowMin, it.ID, now, func() (interface{}, error) {
		return s.source.GetDepth(ctx, symbol, depthLimit)
	}))
	record(s.tryArtifact(ctx, "klines", symbol, s.cfg.LiquidityBookWindowMin, it.ID, now, func() (interface{}, error) {
		return s.source.GetKlines(ctx, symbol, klinesLimit)
	}))
	if fs, ok := s.source.(FundingSource); ok {
		record(s.tryArtifact(ctx, "funding_rate", symbol, s.cfg.FundingRateWindowMin, it.ID, now, func() (interface{}, error) {
			return fs.GetFundingRate(ctx, symbol)
		}))
		record(s.tryArtifact(ctx, "funding_rate_history", symbol, s.cfg.FundingHistoryWindowMin, it.ID, now, func() (interface{}, error) {
			return fs.GetFundingRateHistory(ctx, symbol, fundingHistoryLimit)
		}))
	}

	stop := time.Now()
	if lastErr != nil {
		msg := lastErr.Error()
		if ferr := s.DB().Iterations.Finish(ctx, it.ID, persistence.IterationError, &msg, stop); ferr != nil {
			s.Log().Warn().Err(ferr).Int64("iteration", it.ID).Msg("crawler: finish (error) failed")
		}
		s.recordIteration("error")
		return
	}
	if anySuccess {
		if ferr := s.DB().Iterations.Finish(ctx, it.ID, persistence.IterationSuccess, nil, stop); ferr != nil {
			s.Log().Warn().Err(ferr).Int64("iteration", it.ID).Msg("crawler: finish (success) failed")
		}
		s.recordIteration("success")
	}
}

func (s *Service) recordIteration(status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.CrawlerIterations.WithLabelValues(string(s.exchange), string(s.kind), status).Inc()
}

// tryArtifact attempts one artifact fetch guarded by its cooldown window
// (§4.8 step 5). It returns (true, nil) on a recorded success, (false,
// nil) when the window is still live or the call returned an empty
// result, and (false, err) when the call itself failed — the window is
// left unset in both non-success cases so the next tick retries.
func (s *Service) tryArtifact(ctx context.Context, artifact string, symbol domain.Symbol, windowMin int, iterationID int64, now time.Time, fetch func() (interface{}, error)) (bool, error) {
	key := fmt.Sprintf("%s:%s:crawler:window:%s:%s", s.exchange, s.kind, artifact, symbol)
	if windowMin <= 0 {
		windowMin = 1
	}
	ttl := time.Duration(windowMin) * time.Minute

	if _, ok, err := s.Redis().Get(ctx, key); err == nil && ok {
		return false, nil // window already set: skip on this tick
	}

	payload, err := fetch()
	if err != nil {
		s.recordArtifact(artifact, "error")
		return false, err
	}
	if isNilArtifact(payload) {
		s.recordArtifact(artifact, "empty")
		return false, nil
	}

	raw, merr := json.Marshal(payload)
	if merr != nil {
		return false, merr
	}
	if serr := s.Redis().Set(ctx, key, []byte("1"), ttl); serr != nil {
		s.Log().Warn().Err(serr).Str("key", key).Msg("crawler: window cache write failed")
	}
	if rerr := s.DB().Iterations.RecordArtifact(ctx, iterationID, artifact, raw, now); rerr != nil {
		return false, rerr
	}
	s.recordArtifact(artifact, "success")
	return true, nil
}

func (s *Service) recordArtifact(artifact, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.CrawlerArtifacts.WithLabelValues(string(s.exchange), string(s.kind), artifact, result).Inc()
}

func isNilArtifact(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case *domain.BookDepth:
		return t == nil
	case []domain.CandleStick:
		return t == nil
	case *domain.FundingRate:
		return t == nil
	case []domain.FundingRatePoint:
		return t == nil
	default:
		return false
	}
}
