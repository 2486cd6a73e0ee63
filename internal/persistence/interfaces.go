// Package persistence declares the repository interfaces backing the
// ingestion core's durable state (spec §3 "Persistent entities", §6
// "Persistent snapshot layout"): tokens, crawler jobs/iterations, the
// bucket-aligned currency-pair snapshot table, and per-service JSON config
// rows. Concrete implementations live in internal/persistence/postgres,
// grounded on the teacher's internal/persistence/postgres package.
package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/RuSwift/arbitrage-sub000/internal/domain"
)

// TokenSource distinguishes how a Token row entered the universe.
type TokenSource string

const (
	TokenSourceManual       TokenSource = "manual"
	TokenSourceCoinMarketCap TokenSource = "coinmarketcap"
)

// Token is a (symbol, source) pair the crawler walks each run.
type Token struct {
	ID        int64       `json:"id" db:"id"`
	Symbol    string      `json:"symbol" db:"symbol"`
	Source    TokenSource `json:"source" db:"source"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`
}

// IterationStatus enumerates a CrawlerIteration's lifecycle states (§3).
type IterationStatus string

const (
	IterationInit    IterationStatus = "init"
	IterationPending IterationStatus = "pending"
	IterationSuccess IterationStatus = "success"
	IterationError   IterationStatus = "error"
	IterationIgnore  IterationStatus = "ignore"
)

// CrawlerJob is the single upserted row per (exchange, kind) run (§3, §6).
type CrawlerJob struct {
	ID        int64         `json:"id" db:"id"`
	Exchange  domain.ExchangeID `json:"exchange" db:"exchange"`
	Kind      domain.Kind   `json:"connector" db:"connector"`
	Start     time.Time     `json:"start" db:"start"`
	Stop      *time.Time    `json:"stop,omitempty" db:"stop"`
	Error     *string       `json:"error,omitempty" db:"error"`
}

// CrawlerIteration is one (job, token) row carrying per-artifact payloads.
type CrawlerIteration struct {
	ID                 int64           `json:"id" db:"id"`
	CrawlerJobID        int64           `json:"crawler_job_id" db:"crawler_job_id"`
	TokenID             int64           `json:"token" db:"token"`
	Symbol              string          `json:"symbol" db:"symbol"`
	Start               time.Time       `json:"start" db:"start"`
	Stop                *time.Time      `json:"stop,omitempty" db:"stop"`
	Done                bool            `json:"done" db:"done"`
	Status              IterationStatus `json:"status" db:"status"`
	Comment             *string         `json:"comment,omitempty" db:"comment"`
	Error               *string         `json:"error,omitempty" db:"error"`
	LastUpdate          time.Time       `json:"last_update" db:"last_update"`
	CurrencyPair        json.RawMessage `json:"currency_pair,omitempty" db:"currency_pair"`
	BookDepth           json.RawMessage `json:"book_depth,omitempty" db:"book_depth"`
	Klines              json.RawMessage `json:"klines,omitempty" db:"klines"`
	FundingRate         json.RawMessage `json:"funding_rate,omitempty" db:"funding_rate"`
	NextFundingRate      json.RawMessage `json:"next_funding_rate,omitempty" db:"next_funding_rate"`
	FundingRateHistory   json.RawMessage `json:"funding_rate_history,omitempty" db:"funding_rate_history"`
}

// CurrencyPairSnapshot is one bucket-aligned persisted price row (§4.7).
type CurrencyPairSnapshot struct {
	ID               int64      `json:"id" db:"id"`
	ExchangeID       domain.ExchangeID `json:"exchange_id" db:"exchange_id"`
	Kind             domain.Kind `json:"kind" db:"kind"`
	Symbol           string     `json:"symbol" db:"symbol"`
	AlignToMinutes   int        `json:"align_to_minutes" db:"align_to_minutes"`
	AlignedTimestamp int64      `json:"aligned_timestamp" db:"aligned_timestamp"`
	Base             string     `json:"base" db:"base"`
	Quote            string     `json:"quote" db:"quote"`
	Ratio            float64    `json:"ratio" db:"ratio"`
	UTC              *int64     `json:"utc,omitempty" db:"utc"`
}

// ServiceConfigRow is one JSON-encoded configuration blob keyed by the
// owning service's class name (§4.9).
type ServiceConfigRow struct {
	ServiceClass string          `json:"service_class" db:"service_class"`
	Payload      json.RawMessage `json:"payload" db:"payload"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// TokenRepo persists the token universe (§3 "Token").
type TokenRepo interface {
	// ListAll returns every token ordered by id ascending.
	ListAll(ctx context.Context) ([]Token, error)
	// Upsert inserts a token if the (symbol, source) pair is new, else
	// bumps updated_at; returns the row's id.
	Upsert(ctx context.Context, symbol string, source TokenSource) (int64, error)
}

// CrawlerJobRepo persists the one-row-per-(exchange,kind) job record (§4.8
// step 1, step 7).
type CrawlerJobRepo interface {
	// StartRun upserts the job row for (exchange, kind), resetting
	// start=now, stop=nil, error=nil, and returns it.
	StartRun(ctx context.Context, exchange domain.ExchangeID, kind domain.Kind, start time.Time) (*CrawlerJob, error)
	// FinishRun sets stop=now (and error, if non-nil) on the given job.
	FinishRun(ctx context.Context, jobID int64, stop time.Time, runErr error) error
}

// CrawlerIterationRepo persists per-(job,token) iteration rows (§4.8 steps
// 4-6).
type CrawlerIterationRepo interface {
	// FindOrCreate returns the iteration row for (jobID, tokenID),
	// inserting one with status=init if absent.
	FindOrCreate(ctx context.Context, jobID, tokenID int64, symbol string, now time.Time) (*CrawlerIteration, error)
	// ListPending returns every iteration for jobID currently in
	// status=pending.
	ListPending(ctx context.Context, jobID int64) ([]CrawlerIteration, error)
	// TransitionMapped moves an iteration to pending with its resolved
	// CurrencyPair payload, or to ignore with the given comment.
	TransitionMapped(ctx context.Context, id int64, pair json.RawMessage, comment string, now time.Time) error
	// RecordArtifact stores one artifact's JSON payload on the iteration
	// identified by column name ("book_depth", "klines", "funding_rate",
	// "next_funding_rate", "funding_rate_history").
	RecordArtifact(ctx context.Context, id int64, column string, payload json.RawMessage, now time.Time) error
	// Finish transitions the iteration to success/error at stop, per §4.8
	// step 6.
	Finish(ctx context.Context, id int64, status IterationStatus, errMsg *string, stop time.Time) error
}

// SnapshotRepo persists the bucket-aligned orchestrator snapshot table
// (§4.7, §6).
type SnapshotRepo interface {
	// Upsert writes or updates the row for the unique key
	// (exchange_id, kind, symbol, align_to_minutes, aligned_timestamp).
	Upsert(ctx context.Context, snap CurrencyPairSnapshot) error
	// Latest returns the most-recently-written row for
	// (exchange_id, kind, symbol, align_to_minutes), or nil on miss.
	Latest(ctx context.Context, exchange domain.ExchangeID, kind domain.Kind, symbol string, alignToMinutes int) (*CurrencyPairSnapshot, error)
	// LastWriteTime returns the aligned_timestamp of the most recent row
	// for the symbol, used to decide whether the DB-write interval has
	// elapsed (§4.7 publish_price).
	LastWriteTime(ctx context.Context, exchange domain.ExchangeID, kind domain.Kind, symbol string, alignToMinutes int) (int64, bool, error)
}

// ServiceConfigRepo persists the ServiceConfig registry (§4.9).
type ServiceConfigRepo interface {
	// Get returns the JSON payload for class, or (nil, false) on miss.
	Get(ctx context.Context, class string) (json.RawMessage, bool, error)
	// Put stores/overwrites the JSON payload for class.
	Put(ctx context.Context, class string, payload json.RawMessage) error
}

// Repository aggregates every persistence interface the core depends on
// (§2 C10).
type Repository struct {
	Tokens      TokenRepo
	Jobs        CrawlerJobRepo
	Iterations  CrawlerIterationRepo
	Snapshots   SnapshotRepo
	ServiceCfg  ServiceConfigRepo
}
