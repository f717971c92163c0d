// internal/history/store.go
package history

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/models"
)

// Store is the durable sink for game history and routed chat. Implementations
// must be safe for concurrent use.
type Store interface {
	// SaveRecords persists records atomically: either all of them are stored or none.
	SaveRecords(ctx context.Context, records []models.HistoryRecord) error
	// ListRecords returns the records of one kind for a game, ordered by Seq.
	ListRecords(ctx context.Context, gameID uuid.UUID, kind models.HistoryKind) ([]models.HistoryRecord, error)
	SaveMessage(ctx context.Context, msg models.ChatMessage) error
}

// MemoryStore keeps everything in process. It backs tests and single-node
// deployments without postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[uuid.UUID][]models.HistoryRecord
	messages map[uuid.UUID][]models.ChatMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[uuid.UUID][]models.HistoryRecord),
		messages: make(map[uuid.UUID][]models.ChatMessage),
	}
}

func (s *MemoryStore) SaveRecords(ctx context.Context, records []models.HistoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.GameID] = append(s.records[r.GameID], r)
	}
	return nil
}

func (s *MemoryStore) ListRecords(ctx context.Context, gameID uuid.UUID, kind models.HistoryKind) ([]models.HistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.HistoryRecord
	for _, r := range s.records[gameID] {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) SaveMessage(ctx context.Context, msg models.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ChannelID] = append(s.messages[msg.ChannelID], msg)
	return nil
}

// Messages returns the stored chat of a channel in arrival order.
func (s *MemoryStore) Messages(channelID uuid.UUID) []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChatMessage, len(s.messages[channelID]))
	copy(out, s.messages[channelID])
	return out
}
