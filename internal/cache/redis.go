// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/history"
	"github.com/jason-s-yu/werewolf/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list the historian drains.
const DefaultQueueName = "werewolf_history"

// Queue item kinds.
const (
	ItemRecords = "records"
	ItemMessage = "message"
)

// QueueItem is one unit pushed to the history queue.
type QueueItem struct {
	Kind    string                 `json:"kind"`
	Records []models.HistoryRecord `json:"records,omitempty"`
	Message *models.ChatMessage    `json:"message,omitempty"`
	// Receivers travels beside Message because ChatMessage omits it from JSON.
	Receivers []uuid.UUID `json:"receivers,omitempty"`
}

// EncodeItem serializes an item for RPush.
func EncodeItem(item QueueItem) ([]byte, error) {
	if item.Message != nil {
		item.Receivers = item.Message.Receivers
	}
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal queue item: %w", err)
	}
	return data, nil
}

// DecodeItem parses a popped payload.
func DecodeItem(data []byte) (QueueItem, error) {
	var item QueueItem
	if err := json.Unmarshal(data, &item); err != nil {
		return QueueItem{}, fmt.Errorf("invalid queue item: %w", err)
	}
	switch item.Kind {
	case ItemRecords:
	case ItemMessage:
		if item.Message == nil {
			return QueueItem{}, fmt.Errorf("message item without message")
		}
		item.Message.Receivers = item.Receivers
	default:
		return QueueItem{}, fmt.Errorf("unknown queue item kind %q", item.Kind)
	}
	return item, nil
}

// Connect returns a client that answered a ping.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// QueueStore pushes writes onto a Redis list for the historian to persist and
// serves reads from the durable store. Records become readable once the
// historian has flushed them.
type QueueStore struct {
	rdb   *redis.Client
	queue string
	reads history.Store
}

func NewQueueStore(rdb *redis.Client, queue string, reads history.Store) *QueueStore {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &QueueStore{rdb: rdb, queue: queue, reads: reads}
}

func (q *QueueStore) push(ctx context.Context, item QueueItem) error {
	data, err := EncodeItem(item)
	if err != nil {
		return err
	}
	if err := q.rdb.RPush(ctx, q.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.queue, err)
	}
	return nil
}

// SaveRecords queues records as a single item, so the historian writes them
// in one transaction.
func (q *QueueStore) SaveRecords(ctx context.Context, records []models.HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	return q.push(ctx, QueueItem{Kind: ItemRecords, Records: records})
}

func (q *QueueStore) SaveMessage(ctx context.Context, msg models.ChatMessage) error {
	return q.push(ctx, QueueItem{Kind: ItemMessage, Message: &msg})
}

func (q *QueueStore) ListRecords(ctx context.Context, gameID uuid.UUID, kind models.HistoryKind) ([]models.HistoryRecord, error) {
	return q.reads.ListRecords(ctx, gameID, kind)
}
