// internal/hub/hub.go
package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/models"
	"github.com/sirupsen/logrus"
)

// OutboxSize is the per-connection buffer. A client that falls this far behind
// is disconnected instead of stalling delivery to everyone else.
const OutboxSize = 32

// Conn is one websocket attached to one channel.
type Conn struct {
	UserID    uuid.UUID
	ChannelID uuid.UUID
	Out       chan models.Envelope

	cancel  context.CancelFunc
	closed  bool
	dropped atomic.Bool
}

// Dropped reports whether the hub disconnected c for falling behind.
func (c *Conn) Dropped() bool { return c.dropped.Load() }

// Hub fans published envelopes out to connected users.
type Hub struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]map[*Conn]struct{}
	log   *logrus.Logger
}

func New(logger *logrus.Logger) *Hub {
	return &Hub{conns: make(map[uuid.UUID]map[*Conn]struct{}), log: logger}
}

// Register attaches a connection. cancel is invoked if the hub drops it.
func (h *Hub) Register(userID, channelID uuid.UUID, cancel context.CancelFunc) *Conn {
	c := &Conn{
		UserID:    userID,
		ChannelID: channelID,
		Out:       make(chan models.Envelope, OutboxSize),
		cancel:    cancel,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[userID]
	if !ok {
		set = make(map[*Conn]struct{})
		h.conns[userID] = set
	}
	set[c] = struct{}{}
	return c
}

// Unregister detaches c and closes its outbox. Safe to call twice.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeUnsafe(c)
}

func (h *Hub) removeUnsafe(c *Conn) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.Out)
	if set, ok := h.conns[c.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, c.UserID)
		}
	}
}

// Connected reports how many connections userID currently holds.
func (h *Hub) Connected(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// Publish delivers env to every connection of each receiver that is attached
// to env's channel. It never blocks.
func (h *Hub) Publish(_ context.Context, env models.Envelope, receivers []uuid.UUID) {
	var slow []*Conn

	h.mu.RLock()
	for _, id := range receivers {
		for c := range h.conns[id] {
			if c.ChannelID != env.ChannelID {
				continue
			}
			select {
			case c.Out <- env:
			default:
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		if c.closed {
			continue
		}
		h.log.WithFields(logrus.Fields{
			"user":    c.UserID,
			"channel": c.ChannelID,
			"type":    env.Type,
		}).Warn("outbox full, dropping connection")
		c.dropped.Store(true)
		h.removeUnsafe(c)
		if c.cancel != nil {
			c.cancel()
		}
	}
	h.mu.Unlock()
}
