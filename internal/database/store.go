// internal/database/store.go
package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/werewolf/internal/models"
)

// Store persists game history and chat in postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// SaveRecords writes records in one transaction. Records already stored under
// the same (game, seq) are skipped, so redelivered batches are harmless.
func (s *Store) SaveRecords(ctx context.Context, records []models.HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return InsertRecordsTx(ctx, tx, records)
	})
	if err != nil {
		return fmt.Errorf("tx insert history: %w", err)
	}
	return nil
}

// InsertRecordsTx inserts records inside an existing transaction.
func InsertRecordsTx(ctx context.Context, tx pgx.Tx, records []models.HistoryRecord) error {
	q := `
		INSERT INTO game_history (
			game_id, seq, channel_id, day, kind, actor, target, voters, result, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (game_id, seq) DO NOTHING
	`
	for _, r := range records {
		voters := r.Voters
		if voters == nil {
			voters = []uuid.UUID{}
		}
		votersJSON, err := json.Marshal(voters)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, q,
			r.GameID, r.Seq, r.ChannelID, r.Day, string(r.Kind), r.Actor, r.Target, votersJSON, r.Result, r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert record %d of game %v: %w", r.Seq, r.GameID, err)
		}
	}
	return nil
}

func (s *Store) ListRecords(ctx context.Context, gameID uuid.UUID, kind models.HistoryKind) ([]models.HistoryRecord, error) {
	q := `
		SELECT game_id, seq, channel_id, day, kind, actor, target, voters, result, created_at
		FROM game_history
		WHERE game_id = $1 AND kind = $2
		ORDER BY seq
	`
	rows, err := s.pool.Query(ctx, q, gameID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := []models.HistoryRecord{}
	for rows.Next() {
		var (
			r          models.HistoryRecord
			k          string
			votersJSON []byte
		)
		if err := rows.Scan(&r.GameID, &r.Seq, &r.ChannelID, &r.Day, &k, &r.Actor, &r.Target, &votersJSON, &r.Result, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		r.Kind = models.HistoryKind(k)
		if err := json.Unmarshal(votersJSON, &r.Voters); err != nil {
			return nil, fmt.Errorf("decode voters: %w", err)
		}
		if len(r.Voters) == 0 {
			r.Voters = nil
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SaveMessage(ctx context.Context, msg models.ChatMessage) error {
	receivers, err := json.Marshal(msg.Receivers)
	if err != nil {
		return err
	}
	q := `
		INSERT INTO chat_messages (
			id, channel_id, game_id, sender_id, type, body, day, phase, receivers, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.pool.Exec(ctx, q,
		msg.ID, msg.ChannelID, msg.GameID, msg.SenderID, msg.Type, msg.Body, msg.Day, msg.Phase, receivers, msg.SentAt,
	)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}
