package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"logorender/internal/tokens"
)

const schemaDDL = `CREATE TABLE IF NOT EXISTS api_tokens (
	token TEXT PRIMARY KEY,
	user_id TEXT,
	rate_limit INTEGER NOT NULL DEFAULT 60,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	comment TEXT
);`

const indexDDL = `CREATE INDEX IF NOT EXISTS idx_api_tokens_user_id ON api_tokens (user_id);`

// TokenRepository reads api_tokens.
type TokenRepository struct {
	DB  *DB
	DSN string
}

// NewTokenRepository returns a repository reading from dsn through db.
func NewTokenRepository(db *DB, dsn string) *TokenRepository {
	return &TokenRepository{DB: db, DSN: dsn}
}

// EnsureSchema creates the token table if it does not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("create api_tokens: %w", err)
	}
	if _, err := db.ExecContext(ctx, indexDDL); err != nil {
		return fmt.Errorf("create api_tokens index: %w", err)
	}
	return nil
}

// LoadTokens returns the whole table keyed by token.
func (r *TokenRepository) LoadTokens(ctx context.Context) (map[string]tokens.Entry, error) {
	db, err := r.DB.Get(r.DSN)
	if err != nil {
		return nil, err
	}
	if err := EnsureSchema(ctx, db); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT token, user_id, rate_limit FROM api_tokens`)
	if err != nil {
		return nil, fmt.Errorf("query api_tokens: %w", err)
	}
	defer rows.Close()

	out := make(map[string]tokens.Entry)
	for rows.Next() {
		var (
			token     string
			userID    sql.NullString
			rateLimit int
		)
		if err := rows.Scan(&token, &userID, &rateLimit); err != nil {
			return nil, fmt.Errorf("scan api_tokens: %w", err)
		}
		out[token] = tokens.Entry{UserID: userID.String, RateLimit: rateLimit}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
