// internal/database/db.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pool against dsn and pings it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS game_history (
	game_id    UUID        NOT NULL,
	seq        INT         NOT NULL,
	channel_id UUID        NOT NULL,
	day        INT         NOT NULL,
	kind       TEXT        NOT NULL,
	actor      UUID        NOT NULL,
	target     UUID        NOT NULL,
	voters     JSONB       NOT NULL DEFAULT '[]',
	result     TEXT        NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (game_id, seq)
);
CREATE INDEX IF NOT EXISTS game_history_kind ON game_history (game_id, kind, seq);

CREATE TABLE IF NOT EXISTS chat_messages (
	id         UUID        PRIMARY KEY,
	channel_id UUID        NOT NULL,
	game_id    UUID        NOT NULL,
	sender_id  UUID        NOT NULL,
	type       TEXT        NOT NULL,
	body       TEXT        NOT NULL,
	day        INT         NOT NULL,
	phase      TEXT        NOT NULL,
	receivers  JSONB       NOT NULL,
	sent_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_messages_channel ON chat_messages (channel_id, sent_at);
`

// EnsureSchema creates the history tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
