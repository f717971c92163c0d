// internal/router/router.go
package router

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/channel"
	"github.com/jason-s-yu/werewolf/internal/errs"
	"github.com/jason-s-yu/werewolf/internal/game"
	"github.com/jason-s-yu/werewolf/internal/role"
)

// MessageType is the declared audience of a chat message.
type MessageType string

const (
	TypePublic    MessageType = "public"    // lobby chat
	TypeAlive     MessageType = "alive"     // living players' chat
	TypeDead      MessageType = "dead"      // graveyard
	TypeWerewolf  MessageType = "werewolf"  // werewolf alliance
	TypeSpectator MessageType = "spectator" // spectators only
	TypeBroadcast MessageType = "broadcast" // spectator to everyone, when enabled
)

// ParseMessageType validates a client supplied type.
func ParseMessageType(s string) (MessageType, bool) {
	switch t := MessageType(s); t {
	case TypePublic, TypeAlive, TypeDead, TypeWerewolf, TypeSpectator, TypeBroadcast:
		return t, true
	}
	return "", false
}

// Audience is the point-in-time state a routing decision is computed from.
type Audience struct {
	Members []uuid.UUID
	Policy  channel.ChatPolicy
	// Game is nil, or finished, while the channel is in lobby mode.
	Game *game.Snapshot
}

func (a Audience) inGame() bool { return a.Game != nil && !a.Game.Finished() }

// Decision is the outcome of routing one message.
type Decision struct {
	Type      MessageType
	Receivers []uuid.UUID // sorted, always a subset of the channel members
	GameID    uuid.UUID
	Day       int
	Phase     game.Phase
}

// Permitted lists the types sender may post right now.
func Permitted(a Audience, sender uuid.UUID) []MessageType {
	if !a.inGame() {
		return []MessageType{TypePublic}
	}
	p, ok := a.Game.Player(sender)
	switch {
	case !ok || p.Status == game.StatusSpectator:
		if a.Policy.SpectatorBroadcast {
			return []MessageType{TypeSpectator, TypeBroadcast}
		}
		return []MessageType{TypeSpectator}
	case p.Status == game.StatusDead:
		return []MessageType{TypeDead}
	}
	out := []MessageType{TypeAlive}
	if info, known := role.Lookup(p.Role); known && info.AllianceChat {
		if !a.Policy.AllianceChatNightOnly || a.Game.Phase == game.PhasePre || a.Game.Phase == game.PhaseNight {
			out = append(out, TypeWerewolf)
		}
	}
	return out
}

// Decide checks that sender may post declared and resolves its receivers.
func Decide(a Audience, sender uuid.UUID, declared MessageType) (Decision, error) {
	allowed := false
	for _, t := range Permitted(a, sender) {
		if t == declared {
			allowed = true
			break
		}
	}
	if !allowed {
		return Decision{}, errs.ErrForbidden.WithReason("cannot post %s messages", declared)
	}

	d := Decision{Type: declared}
	if a.inGame() {
		d.GameID, d.Day, d.Phase = a.Game.GameID, a.Game.Day, a.Game.Phase
	}

	var include func(id uuid.UUID) bool
	switch declared {
	case TypePublic, TypeBroadcast:
		include = func(uuid.UUID) bool { return true }
	case TypeAlive:
		include = func(id uuid.UUID) bool {
			st := statusOf(a.Game, id)
			return st == game.StatusAlive || st == game.StatusSpectator || (st == game.StatusDead && a.Policy.DeadReadPublic)
		}
	case TypeDead:
		include = func(id uuid.UUID) bool {
			st := statusOf(a.Game, id)
			return st == game.StatusDead || st == game.StatusSpectator
		}
	case TypeWerewolf:
		include = func(id uuid.UUID) bool {
			st := statusOf(a.Game, id)
			if st == game.StatusSpectator {
				return a.Policy.SpectatorsSeeAlliance
			}
			if st != game.StatusAlive {
				return false
			}
			p, _ := a.Game.Player(id)
			info, known := role.Lookup(p.Role)
			return known && info.Alliance == role.AllianceWerewolf
		}
	case TypeSpectator:
		include = func(id uuid.UUID) bool { return statusOf(a.Game, id) == game.StatusSpectator }
	}

	d.Receivers = []uuid.UUID{}
	for _, id := range a.Members {
		if include(id) {
			d.Receivers = append(d.Receivers, id)
		}
	}
	sort.Slice(d.Receivers, func(i, j int) bool {
		return bytes.Compare(d.Receivers[i][:], d.Receivers[j][:]) < 0
	})
	return d, nil
}

// statusOf treats channel members outside the game as spectators.
func statusOf(s *game.Snapshot, id uuid.UUID) game.Status {
	p, ok := s.Player(id)
	if !ok {
		return game.StatusSpectator
	}
	return p.Status
}

// Channels resolves channel state for routing. *channel.Registry satisfies it.
type Channels interface {
	Get(id uuid.UUID) (*channel.Channel, error)
}

// Games finds the game a channel is hosting. *game.Store satisfies it.
type Games interface {
	ByChannel(channelID uuid.UUID) (*game.Game, bool)
}

// Router binds Decide to live channel and game state.
type Router struct {
	channels Channels
	games    Games
}

func New(channels Channels, games Games) *Router {
	return &Router{channels: channels, games: games}
}

// Audience captures the routing state of a channel.
func (r *Router) Audience(channelID uuid.UUID) (channel.View, Audience, error) {
	ch, err := r.channels.Get(channelID)
	if err != nil {
		return channel.View{}, Audience{}, errs.ErrForbidden.WithReason("unknown channel")
	}
	view := ch.View()
	a := Audience{Members: view.MemberIDs(), Policy: view.Chat}
	if view.InGame() {
		if g, ok := r.games.ByChannel(channelID); ok && g.ID == view.GameID {
			a.Game = g.Snapshot()
		}
	}
	return view, a, nil
}

// Route decides a message from sender in channelID. Blocked senders and
// non-members are rejected before the type check.
func (r *Router) Route(channelID, sender uuid.UUID, declared MessageType) (Decision, error) {
	ch, err := r.channels.Get(channelID)
	if err != nil {
		return Decision{}, errs.ErrForbidden.WithReason("unknown channel")
	}
	if ch.IsBlocked(sender) {
		return Decision{}, errs.ErrForbidden.WithReason("sender is blocked")
	}
	_, a, err := r.Audience(channelID)
	if err != nil {
		return Decision{}, err
	}
	member := false
	for _, id := range a.Members {
		if id == sender {
			member = true
			break
		}
	}
	if !member {
		return Decision{}, errs.ErrForbidden.WithReason("sender is not a member")
	}
	return Decide(a, sender, declared)
}
