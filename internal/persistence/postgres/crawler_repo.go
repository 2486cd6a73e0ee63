package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/RuSwift/arbitrage-sub000/internal/domain"
	"github.com/RuSwift/arbitrage-sub000/internal/persistence"
)

type crawlerJobRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCrawlerJobRepo builds a persistence.CrawlerJobRepo over crawler_job.
func NewCrawlerJobRepo(db *sqlx.DB, timeout time.Duration) persistence.CrawlerJobRepo {
	return &crawlerJobRepo{db: db, timeout: timeout}
}

// StartRun upserts the single (exchange, kind) row, per §4.8 step 1: reset
// start/stop/error if the row already exists, else insert it.
func (r *crawlerJobRepo) StartRun(ctx context.Context, exchange domain.ExchangeID, kind domain.Kind, start time.Time) (*persistence.CrawlerJob, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO crawler_job (exchange, connector, start, stop, error)
		VALUES ($1, $2, $3, NULL, NULL)
		ON CONFLICT (exchange, connector) DO UPDATE
			SET start = EXCLUDED.start, stop = NULL, error = NULL
		RETURNING id, exchange, connector, start, stop, error`

	var job persistence.CrawlerJob
	row := r.db.QueryRowxContext(ctx, query, string(exchange), string(kind), start)
	if err := row.Scan(&job.ID, &job.Exchange, &job.Kind, &job.Start, &job.Stop, &job.Error); err != nil {
		return nil, fmt.Errorf("start crawler job %s/%s: %w", exchange, kind, err)
	}
	return &job, nil
}

func (r *crawlerJobRepo) FinishRun(ctx context.Context, jobID int64, stop time.Time, runErr error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var errText *string
	if runErr != nil {
		msg := runErr.Error()
		errText = &msg
	}
	_, err := r.db.ExecContext(ctx, `UPDATE crawler_job SET stop = $1, error = $2 WHERE id = $3`, stop, errText, jobID)
	if err != nil {
		return fmt.Errorf("finish crawler job %d: %w", jobID, err)
	}
	return nil
}

type crawlerIterationRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCrawlerIterationRepo builds a persistence.CrawlerIterationRepo over
// crawler_iteration.
func NewCrawlerIterationRepo(db *sqlx.DB, timeout time.Duration) persistence.CrawlerIterationRepo {
	return &crawlerIterationRepo{db: db, timeout: timeout}
}

func (r *crawlerIterationRepo) FindOrCreate(ctx context.Context, jobID, tokenID int64, symbol string, now time.Time) (*persistence.CrawlerIteration, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO crawler_iteration (crawler_job_id, token, symbol, start, done, status, last_update)
		VALUES ($1, $2, $3, $4, false, $5, $4)
		ON CONFLICT (crawler_job_id, token) DO UPDATE
			SET last_update = EXCLUDED.last_update
		RETURNING id, crawler_job_id, token, symbol, start, stop, done, status, comment, error,
			last_update, currency_pair, book_depth, klines, funding_rate, next_funding_rate, funding_rate_history`

	var it persistence.CrawlerIteration
	row := r.db.QueryRowxContext(ctx, query, jobID, tokenID, symbol, now, persistence.IterationInit)
	if err := scanIteration(row, &it); err != nil {
		return nil, fmt.Errorf("find-or-create iteration job=%d token=%d: %w", jobID, tokenID, err)
	}
	return &it, nil
}

func (r *crawlerIterationRepo) ListPending(ctx context.Context, jobID int64) ([]persistence.CrawlerIteration, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, crawler_job_id, token, symbol, start, stop, done, status, comment, error,
			last_update, currency_pair, book_depth, klines, funding_rate, next_funding_rate, funding_rate_history
		FROM crawler_iteration
		WHERE crawler_job_id = $1 AND status = $2
		ORDER BY id`

	rows, err := r.db.QueryxContext(ctx, query, jobID, persistence.IterationPending)
	if err != nil {
		return nil, fmt.Errorf("list pending iterations job=%d: %w", jobID, err)
	}
	defer rows.Close()

	var out []persistence.CrawlerIteration
	for rows.Next() {
		var it persistence.CrawlerIteration
		if err := scanIterationRows(rows, &it); err != nil {
			return nil, fmt.Errorf("scan pending iteration: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *crawlerIterationRepo) TransitionMapped(ctx context.Context, id int64, pair json.RawMessage, comment string, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	status := persistence.IterationIgnore
	if pair != nil {
		status = persistence.IterationPending
	}
	var commentArg *string
	if comment != "" {
		commentArg = &comment
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE crawler_iteration
		SET status = $1, currency_pair = $2, comment = $3, last_update = $4
		WHERE id = $5`, status, pair, commentArg, now, id)
	if err != nil {
		return fmt.Errorf("transition-mapped iteration %d: %w", id, err)
	}
	return nil
}

func (r *crawlerIterationRepo) RecordArtifact(ctx context.Context, id int64, column string, payload json.RawMessage, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if !validArtifactColumn(column) {
		return fmt.Errorf("record artifact: unknown column %q", column)
	}
	query := fmt.Sprintf(`UPDATE crawler_iteration SET %s = $1, last_update = $2 WHERE id = $3`, column)
	if _, err := r.db.ExecContext(ctx, query, payload, now, id); err != nil {
		return fmt.Errorf("record artifact %s iteration %d: %w", column, id, err)
	}
	return nil
}

func validArtifactColumn(column string) bool {
	switch column {
	case "book_depth", "klines", "funding_rate", "next_funding_rate", "funding_rate_history":
		return true
	default:
		return false
	}
}

func (r *crawlerIterationRepo) Finish(ctx context.Context, id int64, status persistence.IterationStatus, errMsg *string, stop time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE crawler_iteration SET status = $1, error = $2, done = true, stop = $3, last_update = $3 WHERE id = $4`,
		status, errMsg, stop, id)
	if err != nil {
		return fmt.Errorf("finish iteration %d: %w", id, err)
	}
	return nil
}

func scanIteration(row *sqlx.Row, it *persistence.CrawlerIteration) error {
	err := row.Scan(&it.ID, &it.CrawlerJobID, &it.TokenID, &it.Symbol, &it.Start, &it.Stop, &it.Done, &it.Status,
		&it.Comment, &it.Error, &it.LastUpdate, &it.CurrencyPair, &it.BookDepth, &it.Klines, &it.FundingRate,
		&it.NextFundingRate, &it.FundingRateHistory)
	if err == sql.ErrNoRows {
		return err
	}
	return err
}

func scanIterationRows(rows *sqlx.Rows, it *persistence.CrawlerIteration) error {
	return rows.Scan(&it.ID, &it.CrawlerJobID, &it.TokenID, &it.Symbol, &it.Start, &it.Stop, &it.Done, &it.Status,
		&it.Comment, &it.Error, &it.LastUpdate, &it.CurrencyPair, &it.BookDepth, &it.Klines, &it.FundingRate,
		&it.NextFundingRate, &it.FundingRateHistory)
}
