package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/RuSwift/arbitrage-sub000/internal/persistence"
)

type tokenRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTokenRepo builds a persistence.TokenRepo backed by the token table.
func NewTokenRepo(db *sqlx.DB, timeout time.Duration) persistence.TokenRepo {
	return &tokenRepo{db: db, timeout: timeout}
}

func (r *tokenRepo) ListAll(ctx context.Context) ([]persistence.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var tokens []persistence.Token
	err := r.db.SelectContext(ctx, &tokens, `SELECT id, symbol, source, created_at, updated_at FROM token ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

func (r *tokenRepo) Upsert(ctx context.Context, symbol string, source persistence.TokenSource) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var id int64
	query := `
		INSERT INTO token (symbol, source, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (symbol, source) DO UPDATE SET updated_at = now()
		RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, symbol, source).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert token %s/%s: %w", symbol, source, err)
	}
	return id, nil
}
