// internal/historian/historian.go
package historian

import (
	"context"
	"errors"
	"time"

	"github.com/jason-s-yu/werewolf/internal/cache"
	"github.com/jason-s-yu/werewolf/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Source yields queued payloads. Pop returns nil, nil when nothing arrived
// within timeout.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// Sink is the durable store the historian writes into.
type Sink interface {
	SaveRecords(ctx context.Context, records []models.HistoryRecord) error
	SaveMessage(ctx context.Context, msg models.ChatMessage) error
}

// RedisSource pops from a Redis list with BLPop.
type RedisSource struct {
	rdb   *redis.Client
	queue string
}

func NewRedisSource(rdb *redis.Client, queue string) *RedisSource {
	if queue == "" {
		queue = cache.DefaultQueueName
	}
	return &RedisSource{rdb: rdb, queue: queue}
}

func (s *RedisSource) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := s.rdb.BLPop(ctx, timeout, s.queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// res[0] is the queue name and res[1] the payload.
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// Service drains the history queue into the sink in batches.
type Service struct {
	source    Source
	sink      Sink
	batchSize int
	flushWait time.Duration
	log       *logrus.Logger

	batch     []cache.QueueItem
	lastFlush time.Time
}

func New(source Source, sink Sink, batchSize int, flushWait time.Duration, logger *logrus.Logger) *Service {
	if batchSize <= 0 {
		batchSize = 20
	}
	if flushWait <= 0 {
		flushWait = 500 * time.Millisecond
	}
	return &Service{
		source:    source,
		sink:      sink,
		batchSize: batchSize,
		flushWait: flushWait,
		log:       logger,
		batch:     make([]cache.QueueItem, 0, batchSize),
	}
}

// Run pops until ctx is cancelled, then flushes what it holds and returns.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("historian started")
	s.lastFlush = time.Now()
	for {
		if ctx.Err() != nil {
			s.flush(context.Background())
			s.log.Info("historian shutting down")
			return nil
		}

		data, err := s.source.Pop(ctx, s.flushWait)
		switch {
		case err != nil && ctx.Err() == nil:
			s.log.Errorf("pop: %v", err)
			time.Sleep(s.flushWait)
		case data != nil:
			item, err := cache.DecodeItem(data)
			if err != nil {
				s.log.Warnf("dropping queue item: %v", err)
				break
			}
			s.batch = append(s.batch, item)
		}

		if len(s.batch) >= s.batchSize || time.Since(s.lastFlush) >= s.flushWait {
			s.flush(ctx)
		}
	}
}

// flush writes the batch. All records of the batch go in one transaction;
// on failure the batch is kept and retried on the next flush.
func (s *Service) flush(ctx context.Context) {
	s.lastFlush = time.Now()
	if len(s.batch) == 0 {
		return
	}

	var records []models.HistoryRecord
	for _, item := range s.batch {
		records = append(records, item.Records...)
	}
	if err := s.sink.SaveRecords(ctx, records); err != nil {
		s.log.Errorf("flush %d records: %v", len(records), err)
		return
	}

	kept := s.batch[:0]
	for _, item := range s.batch {
		if item.Kind != cache.ItemMessage {
			continue
		}
		if err := s.sink.SaveMessage(ctx, *item.Message); err != nil {
			s.log.Errorf("flush message %v: %v", item.Message.ID, err)
			// records were written; keep only the message for the retry
			kept = append(kept, item)
		}
	}
	s.log.Debugf("flushed %d items", len(s.batch)-len(kept))
	s.batch = kept
}
