package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/RuSwift/arbitrage-sub000/internal/domain"
	"github.com/RuSwift/arbitrage-sub000/internal/persistence"
)

type snapshotRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSnapshotRepo builds a persistence.SnapshotRepo over
// currency_pair_snapshot, grounded on the teacher's regime_repo.go upsert
// pattern against a unique composite key.
func NewSnapshotRepo(db *sqlx.DB, timeout time.Duration) persistence.SnapshotRepo {
	return &snapshotRepo{db: db, timeout: timeout}
}

// Upsert writes the row for the unique (exchange_id, kind, symbol,
// align_to_minutes, aligned_timestamp) tuple, updating in place if a write
// already landed in this bucket (§4.7 "multiple writes for the same
// aligned bucket update the existing row").
func (r *snapshotRepo) Upsert(ctx context.Context, snap persistence.CurrencyPairSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO currency_pair_snapshot
			(exchange_id, kind, symbol, align_to_minutes, aligned_timestamp, base, quote, ratio, utc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (exchange_id, kind, symbol, align_to_minutes, aligned_timestamp) DO UPDATE
			SET base = EXCLUDED.base, quote = EXCLUDED.quote, ratio = EXCLUDED.ratio, utc = EXCLUDED.utc`

	_, err := r.db.ExecContext(ctx, query,
		string(snap.ExchangeID), string(snap.Kind), snap.Symbol, snap.AlignToMinutes, snap.AlignedTimestamp,
		snap.Base, snap.Quote, snap.Ratio, snap.UTC)
	if err != nil {
		return fmt.Errorf("upsert snapshot %s/%s/%s: %w", snap.ExchangeID, snap.Kind, snap.Symbol, err)
	}
	return nil
}

func (r *snapshotRepo) Latest(ctx context.Context, exchange domain.ExchangeID, kind domain.Kind, symbol string, alignToMinutes int) (*persistence.CurrencyPairSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, exchange_id, kind, symbol, align_to_minutes, aligned_timestamp, base, quote, ratio, utc
		FROM currency_pair_snapshot
		WHERE exchange_id = $1 AND kind = $2 AND symbol = $3 AND align_to_minutes = $4
		ORDER BY aligned_timestamp DESC
		LIMIT 1`

	var snap persistence.CurrencyPairSnapshot
	row := r.db.QueryRowxContext(ctx, query, string(exchange), string(kind), symbol, alignToMinutes)
	err := row.Scan(&snap.ID, &snap.ExchangeID, &snap.Kind, &snap.Symbol, &snap.AlignToMinutes,
		&snap.AlignedTimestamp, &snap.Base, &snap.Quote, &snap.Ratio, &snap.UTC)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot %s/%s/%s: %w", exchange, kind, symbol, err)
	}
	return &snap, nil
}

func (r *snapshotRepo) LastWriteTime(ctx context.Context, exchange domain.ExchangeID, kind domain.Kind, symbol string, alignToMinutes int) (int64, bool, error) {
	snap, err := r.Latest(ctx, exchange, kind, symbol, alignToMinutes)
	if err != nil {
		return 0, false, err
	}
	if snap == nil {
		return 0, false, nil
	}
	return snap.AlignedTimestamp, true, nil
}

type serviceConfigRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewServiceConfigRepo builds a persistence.ServiceConfigRepo over
// service_config (§4.9).
func NewServiceConfigRepo(db *sqlx.DB, timeout time.Duration) persistence.ServiceConfigRepo {
	return &serviceConfigRepo{db: db, timeout: timeout}
}

func (r *serviceConfigRepo) Get(ctx context.Context, class string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var payload []byte
	err := r.db.QueryRowxContext(ctx, `SELECT payload FROM service_config WHERE service_class = $1`, class).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get service config %s: %w", class, err)
	}
	return payload, true, nil
}

func (r *serviceConfigRepo) Put(ctx context.Context, class string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO service_config (service_class, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (service_class) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`
	if _, err := r.db.ExecContext(ctx, query, class, payload); err != nil {
		return fmt.Errorf("put service config %s: %w", class, err)
	}
	return nil
}
