// internal/channel/channel.go
package channel

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/auth"
	"github.com/jason-s-yu/werewolf/internal/errs"
	"github.com/jason-s-yu/werewolf/internal/game"
	"github.com/jason-s-yu/werewolf/internal/models"
	"github.com/jason-s-yu/werewolf/internal/role"
)

// Member is a user currently present in a channel.
type Member struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	IsGuest  bool      `json:"isGuest"`
	JoinedAt time.Time `json:"joinedAt"`
}

// ChatPolicy holds the per-channel toggles consulted by message routing.
type ChatPolicy struct {
	SpectatorBroadcast    bool `json:"spectatorBroadcast"`    // spectators may post to everyone
	SpectatorsSeeAlliance bool `json:"spectatorsSeeAlliance"` // spectators read werewolf chat
	DeadReadPublic        bool `json:"deadReadPublic"`        // dead players read the living's chat
	AllianceChatNightOnly bool `json:"allianceChatNightOnly"` // werewolf chat closes by day
}

// DefaultChatPolicy is applied to new channels. Dead players stay out of the
// living's chat and the pack may talk in any phase.
func DefaultChatPolicy() ChatPolicy {
	return ChatPolicy{}
}

// Channel is a persistent room that alternates between lobby mode and
// hosting one game at a time. All fields are guarded by mu; callers read
// through View.
type Channel struct {
	ID      uuid.UUID
	AdminID uuid.UUID

	name         string
	capacity     int
	denyGuests   bool
	passwordHash string
	chat         ChatPolicy
	rules        game.Rules
	gameID       uuid.UUID
	createdAt    time.Time
	lastActivity time.Time

	members map[uuid.UUID]Member
	blocked map[uuid.UUID]bool

	mu sync.RWMutex
}

// View is an immutable copy of a channel's state.
type View struct {
	ID           uuid.UUID  `json:"id"`
	AdminID      uuid.UUID  `json:"adminId"`
	Name         string     `json:"name"`
	Capacity     int        `json:"capacity"`
	DenyGuests   bool       `json:"denyGuests"`
	HasPassword  bool       `json:"hasPassword"`
	Chat         ChatPolicy `json:"chat"`
	Rules        game.Rules `json:"rules"`
	GameID       uuid.UUID  `json:"gameId,omitempty"`
	Members      []Member   `json:"members"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastActivity time.Time  `json:"lastActivity"`
}

// InGame reports whether the channel was hosting a game when the view was taken.
func (v View) InGame() bool { return v.GameID != uuid.Nil }

// IsMember reports whether userID was a member when the view was taken.
func (v View) IsMember(userID uuid.UUID) bool {
	for _, m := range v.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// MemberIDs lists member ids in join order.
func (v View) MemberIDs() []uuid.UUID {
	out := make([]uuid.UUID, len(v.Members))
	for i, m := range v.Members {
		out[i] = m.UserID
	}
	return out
}

// Params configure a new channel. Zero values fall back to defaults.
type Params struct {
	Name       string                 `json:"name"`
	Capacity   int                    `json:"capacity"`
	Password   string                 `json:"password,omitempty"`
	DenyGuests bool                   `json:"denyGuests"`
	Chat       *ChatPolicy            `json:"chat,omitempty"`
	Rules      map[string]interface{} `json:"rules,omitempty"`
}

func newChannel(admin models.User, p Params, defaults game.Rules, now time.Time) (*Channel, error) {
	c := &Channel{
		ID:           uuid.New(),
		AdminID:      admin.ID,
		name:         p.Name,
		capacity:     p.Capacity,
		denyGuests:   p.DenyGuests,
		chat:         DefaultChatPolicy(),
		rules:        defaults,
		createdAt:    now,
		lastActivity: now,
		members:      make(map[uuid.UUID]Member),
		blocked:      make(map[uuid.UUID]bool),
	}
	if c.name == "" {
		c.name = "channel-" + c.ID.String()[:8]
	}
	if c.capacity == 0 {
		c.capacity = role.MaxPlayers
	}
	if c.capacity < role.MinPlayers || c.capacity > role.MaxPlayers {
		return nil, errs.ErrInvalidRules.WithReason("capacity must be between %d and %d", role.MinPlayers, role.MaxPlayers)
	}
	if p.Chat != nil {
		c.chat = *p.Chat
	}
	if p.Rules != nil {
		if err := c.rules.Update(p.Rules); err != nil {
			return nil, errs.ErrInvalidRules.WithReason("%v", err)
		}
	}
	if err := c.rules.Validate(c.capacity); err != nil {
		return nil, errs.ErrInvalidRules.WithReason("%v", err)
	}
	if p.Password != "" {
		hash, err := auth.HashPassword(p.Password, auth.ChannelPasswordParams)
		if err != nil {
			return nil, fmt.Errorf("hash channel password: %w", err)
		}
		c.passwordHash = hash
	}
	c.members[admin.ID] = Member{UserID: admin.ID, Username: admin.Username, IsGuest: admin.IsGuest, JoinedAt: now}
	return c, nil
}

// View returns a snapshot of the channel.
func (c *Channel) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewUnsafe()
}

// viewUnsafe assumes the lock is held.
func (c *Channel) viewUnsafe() View {
	members := make([]Member, 0, len(c.members))
	for _, m := range c.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].UserID.String() < members[j].UserID.String()
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return View{
		ID:           c.ID,
		AdminID:      c.AdminID,
		Name:         c.name,
		Capacity:     c.capacity,
		DenyGuests:   c.denyGuests,
		HasPassword:  c.passwordHash != "",
		Chat:         c.chat,
		Rules:        c.rules.Clone(),
		GameID:       c.gameID,
		Members:      members,
		CreatedAt:    c.createdAt,
		LastActivity: c.lastActivity,
	}
}

// IsMember reports whether userID is currently in the channel.
func (c *Channel) IsMember(userID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.members[userID]
	return ok
}

// Capacity is the roster size required to start a game.
func (c *Channel) Capacity() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capacity
}

// Join admits user. Joining twice is a no-op. The admin bypasses the password
// and guest checks but not a block.
func (c *Channel) Join(user models.User, password string, now time.Time) error {
	c.mu.RLock()
	blocked := c.blocked[user.ID]
	_, already := c.members[user.ID]
	hash := c.passwordHash
	denyGuests := c.denyGuests
	isAdmin := user.ID == c.AdminID
	c.mu.RUnlock()

	switch {
	case blocked:
		return errs.ErrBlocked
	case already:
		return nil
	case isAdmin:
	case denyGuests && user.IsGuest:
		return errs.ErrGuestDenied
	case hash != "":
		ok, err := auth.CheckPassword(password, hash)
		if err != nil {
			return fmt.Errorf("check channel password: %w", err)
		}
		if !ok {
			return errs.ErrBadPassword
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blocked[user.ID] {
		return errs.ErrBlocked
	}
	if _, ok := c.members[user.ID]; !ok {
		c.members[user.ID] = Member{UserID: user.ID, Username: user.Username, IsGuest: user.IsGuest, JoinedAt: now}
	}
	c.lastActivity = now
	return nil
}

// Leave removes userID and reports whether they were a member.
func (c *Channel) Leave(userID uuid.UUID, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[userID]; !ok {
		return false
	}
	delete(c.members, userID)
	c.lastActivity = now
	return true
}

// Block bans userID from the channel and removes them if present.
func (c *Channel) Block(adminID, userID uuid.UUID, now time.Time) (wasMember bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if adminID != c.AdminID {
		return false, errs.ErrNotAdmin
	}
	if userID == c.AdminID {
		return false, errs.ErrForbidden.WithReason("admin cannot block themselves")
	}
	c.blocked[userID] = true
	_, wasMember = c.members[userID]
	delete(c.members, userID)
	c.lastActivity = now
	return wasMember, nil
}

// Unblock lifts a block.
func (c *Channel) Unblock(adminID, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if adminID != c.AdminID {
		return errs.ErrNotAdmin
	}
	delete(c.blocked, userID)
	return nil
}

// IsBlocked reports whether userID is banned.
func (c *Channel) IsBlocked(userID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocked[userID]
}

// UpdateSettings applies a partial settings map. Unknown keys are ignored and
// absent keys keep their value. Game rules take effect from the next game.
func (c *Channel) UpdateSettings(adminID uuid.UUID, settings map[string]interface{}, now time.Time) error {
	c.mu.RLock()
	isAdmin := adminID == c.AdminID
	c.mu.RUnlock()
	if !isAdmin {
		return errs.ErrNotAdmin
	}

	var newHash *string
	if raw, ok := settings["password"]; ok {
		pw, ok := raw.(string)
		if !ok {
			return errs.ErrInvalidRules.WithReason("invalid type for password")
		}
		hash := ""
		if pw != "" {
			var err error
			if hash, err = auth.HashPassword(pw, auth.ChannelPasswordParams); err != nil {
				return fmt.Errorf("hash channel password: %w", err)
			}
		}
		newHash = &hash
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	name, capacity, denyGuests, chat, rules := c.name, c.capacity, c.denyGuests, c.chat, c.rules.Clone()
	if v, ok := settings["name"].(string); ok && v != "" {
		name = v
	}
	if v, ok := settings["capacity"]; ok {
		n, err := game.AsInt(v)
		if err != nil {
			return errs.ErrInvalidRules.WithReason("invalid type for capacity")
		}
		if n < role.MinPlayers || n > role.MaxPlayers {
			return errs.ErrInvalidRules.WithReason("capacity must be between %d and %d", role.MinPlayers, role.MaxPlayers)
		}
		capacity = n
	}
	for key, field := range map[string]*bool{
		"denyGuests":            &denyGuests,
		"spectatorBroadcast":    &chat.SpectatorBroadcast,
		"spectatorsSeeAlliance": &chat.SpectatorsSeeAlliance,
		"deadReadPublic":        &chat.DeadReadPublic,
		"allianceChatNightOnly": &chat.AllianceChatNightOnly,
	} {
		if raw, ok := settings[key]; ok {
			b, ok := raw.(bool)
			if !ok {
				return errs.ErrInvalidRules.WithReason("invalid type for %s", key)
			}
			*field = b
		}
	}
	if raw, ok := settings["rules"]; ok {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return errs.ErrInvalidRules.WithReason("invalid type for rules")
		}
		if err := rules.Update(m); err != nil {
			return errs.ErrInvalidRules.WithReason("%v", err)
		}
	}
	if err := rules.Validate(capacity); err != nil {
		return errs.ErrInvalidRules.WithReason("%v", err)
	}

	c.name, c.capacity, c.denyGuests, c.chat, c.rules = name, capacity, denyGuests, chat, rules
	if newHash != nil {
		c.passwordHash = *newHash
	}
	c.lastActivity = now
	return nil
}

// AttachGame marks the channel as hosting gameID.
func (c *Channel) AttachGame(gameID uuid.UUID, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gameID != uuid.Nil {
		return errs.ErrGameInProgress
	}
	c.gameID = gameID
	c.lastActivity = now
	return nil
}

// DetachGame returns the channel to lobby mode if it still hosts gameID.
func (c *Channel) DetachGame(gameID uuid.UUID, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gameID != gameID {
		return false
	}
	c.gameID = uuid.Nil
	c.lastActivity = now
	return true
}

// GameID is the hosted game, or uuid.Nil in lobby mode.
func (c *Channel) GameID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gameID
}

// Touch records activity for idle eviction.
func (c *Channel) Touch(now time.Time) {
	c.mu.Lock()
	if now.After(c.lastActivity) {
		c.lastActivity = now
	}
	c.mu.Unlock()
}
