// internal/channel/registry.go
package channel

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/errs"
	"github.com/jason-s-yu/werewolf/internal/game"
	"github.com/jason-s-yu/werewolf/internal/models"
	"github.com/sirupsen/logrus"
)

// Registry owns every live channel. It is created once per process and handed
// to whoever needs it; there is no package-level instance.
type Registry struct {
	mu       sync.RWMutex
	channels map[uuid.UUID]*Channel

	defaults game.Rules
	log      *logrus.Logger
	now      func() time.Time
}

// NewRegistry returns an empty registry. New channels start from defaults.
func NewRegistry(defaults game.Rules, logger *logrus.Logger) *Registry {
	return &Registry{
		channels: make(map[uuid.UUID]*Channel),
		defaults: defaults,
		log:      logger,
		now:      time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Create builds a channel administered by admin, who becomes its first member.
func (r *Registry) Create(admin models.User, p Params) (*Channel, error) {
	c, err := newChannel(admin, p, r.defaults.Clone(), r.now())
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.channels[c.ID] = c
	r.mu.Unlock()
	r.log.WithFields(logrus.Fields{"channel": c.ID, "admin": admin.ID}).Info("channel created")
	return c, nil
}

// Get returns the channel or ErrUnknownChannel.
func (r *Registry) Get(id uuid.UUID) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[id]
	if !ok {
		return nil, errs.ErrUnknownChannel
	}
	return c, nil
}

// Lookup returns a view of the channel.
func (r *Registry) Lookup(id uuid.UUID) (View, error) {
	c, err := r.Get(id)
	if err != nil {
		return View{}, err
	}
	return c.View(), nil
}

// Delete removes a channel on behalf of its admin.
func (r *Registry) Delete(adminID, id uuid.UUID) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[id]
	if !ok {
		return nil, errs.ErrUnknownChannel
	}
	if c.AdminID != adminID {
		return nil, errs.ErrNotAdmin
	}
	delete(r.channels, id)
	r.log.WithFields(logrus.Fields{"channel": id}).Info("channel deleted")
	return c, nil
}

// List returns views of every channel ordered by creation time.
func (r *Registry) List() []View {
	r.mu.RLock()
	out := make([]View, 0, len(r.channels))
	for _, c := range r.channels {
		out = append(out, c.View())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// EvictIdle removes channels in lobby mode whose last activity is older than
// idle and returns their ids. Channels hosting a game are never evicted.
func (r *Registry) EvictIdle(idle time.Duration) []uuid.UUID {
	cutoff := r.now().Add(-idle)
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []uuid.UUID
	for id, c := range r.channels {
		v := c.View()
		if v.InGame() || !v.LastActivity.Before(cutoff) {
			continue
		}
		delete(r.channels, id)
		evicted = append(evicted, id)
		r.log.WithFields(logrus.Fields{"channel": id, "idleSince": v.LastActivity}).Info("evicted idle channel")
	}
	return evicted
}

// Len is the number of live channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
