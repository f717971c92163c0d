// internal/entry/coordinator.go
package entry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/errs"
	"github.com/sirupsen/logrus"
)

// Channels is the slice of the channel registry the coordinator needs.
type Channels interface {
	// Admission reports whether userID may register in channelID and the
	// channel's current roster capacity.
	Admission(channelID, userID uuid.UUID) (member bool, capacity int, err error)
}

// Snapshot is a read-only copy of a roster.
type Snapshot struct {
	ChannelID uuid.UUID   `json:"channelId"`
	Capacity  int         `json:"capacity"`
	Entries   []uuid.UUID `json:"entries"`
	Finalized bool        `json:"finalized"`
}

// roster is the per-channel entry list. Its mutex serializes all register and
// cancel calls for one channel; different channels never contend.
type roster struct {
	mu        sync.Mutex
	capacity  int
	entries   []uuid.UUID
	finalized bool
}

func (r *roster) indexOf(userID uuid.UUID) int {
	for i, id := range r.entries {
		if id == userID {
			return i
		}
	}
	return -1
}

func (r *roster) snapshotUnsafe(channelID uuid.UUID) Snapshot {
	entries := make([]uuid.UUID, len(r.entries))
	copy(entries, r.entries)
	return Snapshot{ChannelID: channelID, Capacity: r.capacity, Entries: entries, Finalized: r.finalized}
}

// Coordinator collects players for the next game of each channel and hands a
// completed roster to OnComplete exactly once.
type Coordinator struct {
	mu      sync.Mutex
	rosters map[uuid.UUID]*roster

	channels Channels
	log      *logrus.Logger

	// OnChange receives the roster after every accepted register or cancel.
	OnChange func(Snapshot)
	// OnComplete receives the finalized roster in registration order. The
	// roster stays finalized until Reopen is called.
	OnComplete func(channelID uuid.UUID, players []uuid.UUID)
}

func NewCoordinator(channels Channels, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		rosters:  make(map[uuid.UUID]*roster),
		channels: channels,
		log:      logger,
	}
}

func (c *Coordinator) rosterFor(channelID uuid.UUID) *roster {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rosters[channelID]
	if !ok {
		r = &roster{}
		c.rosters[channelID] = r
	}
	return r
}

// lookup returns the roster of a channel without creating one.
func (c *Coordinator) lookup(channelID uuid.UUID) (*roster, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rosters[channelID]
	return r, ok
}

// Register adds userID to the channel's roster. When the roster reaches
// capacity it is finalized under the same lock and OnComplete fires.
func (c *Coordinator) Register(channelID, userID uuid.UUID) error {
	member, capacity, err := c.channels.Admission(channelID, userID)
	if err != nil {
		return err
	}
	r := c.rosterFor(channelID)

	r.mu.Lock()
	switch {
	case r.finalized:
		r.mu.Unlock()
		return errs.ErrRosterFull.WithReason("roster already finalized")
	case r.indexOf(userID) >= 0:
		r.mu.Unlock()
		return errs.ErrAlreadyRegistered
	case len(r.entries) >= capacity:
		r.mu.Unlock()
		return errs.ErrRosterFull
	case !member:
		r.mu.Unlock()
		return errs.ErrNotAMember
	}
	r.capacity = capacity
	r.entries = append(r.entries, userID)
	var complete []uuid.UUID
	if len(r.entries) == capacity {
		r.finalized = true
		complete = make([]uuid.UUID, len(r.entries))
		copy(complete, r.entries)
	}
	snap := r.snapshotUnsafe(channelID)
	r.mu.Unlock()

	c.log.WithFields(logrus.Fields{"channel": channelID, "user": userID, "entries": len(snap.Entries), "capacity": capacity}).Debug("registered")
	c.notify(snap, complete)
	return nil
}

// Refresh re-reads the channel capacity and finalizes an open roster that
// already fills it, e.g. after the admin lowered the capacity.
func (c *Coordinator) Refresh(channelID uuid.UUID) {
	_, capacity, err := c.channels.Admission(channelID, uuid.Nil)
	if err != nil {
		return
	}
	r, ok := c.lookup(channelID)
	if !ok {
		return
	}
	r.mu.Lock()
	r.capacity = capacity
	if r.finalized || len(r.entries) == 0 || len(r.entries) < capacity {
		r.mu.Unlock()
		return
	}
	r.finalized = true
	complete := make([]uuid.UUID, len(r.entries))
	copy(complete, r.entries)
	snap := r.snapshotUnsafe(channelID)
	r.mu.Unlock()
	c.notify(snap, complete)
}

// notify runs the callbacks for an accepted change. Must be called without
// the roster lock.
func (c *Coordinator) notify(snap Snapshot, complete []uuid.UUID) {
	if c.OnChange != nil {
		c.OnChange(snap)
	}
	if complete != nil {
		c.log.WithFields(logrus.Fields{"channel": snap.ChannelID, "players": len(complete)}).Info("roster finalized")
		if c.OnComplete != nil {
			c.OnComplete(snap.ChannelID, complete)
		}
	}
}

// Cancel withdraws userID. Once the roster is finalized cancellations are
// refused with ErrRosterFull.
func (c *Coordinator) Cancel(channelID, userID uuid.UUID) error {
	if _, _, err := c.channels.Admission(channelID, uuid.Nil); err != nil {
		return err
	}
	r, ok := c.lookup(channelID)
	if !ok {
		return errs.ErrNotRegistered
	}
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return errs.ErrRosterFull.WithReason("roster already finalized")
	}
	i := r.indexOf(userID)
	if i < 0 {
		r.mu.Unlock()
		return errs.ErrNotRegistered
	}
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	snap := r.snapshotUnsafe(channelID)
	r.mu.Unlock()

	if c.OnChange != nil {
		c.OnChange(snap)
	}
	return nil
}

// Drop removes userID from an open roster without error, e.g. when they leave
// the channel. It reports whether anything changed.
func (c *Coordinator) Drop(channelID, userID uuid.UUID) bool {
	if err := c.Cancel(channelID, userID); err != nil {
		return false
	}
	return true
}

// Reopen clears a roster so the channel can gather players for a new game.
// Channels that never had a roster, or were forgotten, are left alone.
func (c *Coordinator) Reopen(channelID uuid.UUID) {
	r, ok := c.lookup(channelID)
	if !ok {
		return
	}
	r.mu.Lock()
	r.entries = nil
	r.finalized = false
	snap := r.snapshotUnsafe(channelID)
	r.mu.Unlock()
	if c.OnChange != nil {
		c.OnChange(snap)
	}
}

// Forget discards the roster of a deleted channel.
func (c *Coordinator) Forget(channelID uuid.UUID) {
	c.mu.Lock()
	delete(c.rosters, channelID)
	c.mu.Unlock()
}

// Len reports how many channels currently hold a roster.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rosters)
}

// Snapshot returns the current roster of a channel. A channel without a
// roster reads as empty.
func (c *Coordinator) Snapshot(channelID uuid.UUID) Snapshot {
	r, ok := c.lookup(channelID)
	if !ok {
		return (&roster{}).snapshotUnsafe(channelID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotUnsafe(channelID)
}
