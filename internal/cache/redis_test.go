package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/history"
	"github.com/jason-s-yu/werewolf/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ history.Store = (*QueueStore)(nil)

func TestMessageItemKeepsReceivers(t *testing.T) {
	receivers := []uuid.UUID{uuid.New(), uuid.New()}
	msg := models.ChatMessage{ID: uuid.New(), Type: "dead", Body: "boo", Receivers: receivers}

	data, err := EncodeItem(QueueItem{Kind: ItemMessage, Message: &msg})
	require.NoError(t, err)
	item, err := DecodeItem(data)
	require.NoError(t, err)
	require.NotNil(t, item.Message)
	assert.Equal(t, receivers, item.Message.Receivers)
	assert.Equal(t, "boo", item.Message.Body)
}

func TestDecodeRejectsUnknownItems(t *testing.T) {
	_, err := DecodeItem([]byte(`{"kind":"gossip"}`))
	assert.Error(t, err)
	_, err = DecodeItem([]byte(`{"kind":"message"}`))
	assert.Error(t, err)
	_, err = DecodeItem([]byte(`not json`))
	assert.Error(t, err)
}

func TestQueueStorePushesAndDelegatesReads(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb, err := Connect(ctx, addr, 0)
	require.NoError(t, err)
	defer rdb.Close()

	queue := "werewolf_test_" + uuid.NewString()
	defer rdb.Del(ctx, queue)

	reads := history.NewMemoryStore()
	gameID := uuid.New()
	rec := models.HistoryRecord{GameID: gameID, Seq: 1, Kind: models.HistoryVote, CreatedAt: time.Now()}
	require.NoError(t, reads.SaveRecords(ctx, []models.HistoryRecord{rec}))

	q := NewQueueStore(rdb, queue, reads)
	require.NoError(t, q.SaveRecords(ctx, []models.HistoryRecord{rec}))
	require.NoError(t, q.SaveMessage(ctx, models.ChatMessage{ID: uuid.New(), Body: "hi"}))

	n, err := rdb.LLen(ctx, queue).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	raw, err := rdb.LPop(ctx, queue).Result()
	require.NoError(t, err)
	item, err := DecodeItem([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, ItemRecords, item.Kind)
	assert.Len(t, item.Records, 1)

	got, err := q.ListRecords(ctx, gameID, models.HistoryVote)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
