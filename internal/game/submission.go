// internal/game/submission.go
package game

import (
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/role"
)

// Kind is the type of an action submission.
type Kind string

const (
	KindVote    Kind = "vote"
	KindFortune Kind = "fortune"
	KindGuard   Kind = "guard"
	KindAttack  Kind = "attack"
)

// ParseKind validates a kind received from a client.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindVote, KindFortune, KindGuard, KindAttack:
		return k, true
	}
	return "", false
}

// phase is the phase in which k may be submitted.
func (k Kind) phase() Phase {
	if k == KindVote {
		return PhaseDay
	}
	return PhaseNight
}

// allowedFor reports whether a holder of info may submit k.
func (k Kind) allowedFor(info role.Info) bool {
	switch k {
	case KindVote:
		return info.CanVote
	case KindFortune:
		return info.NightAction == role.ActionFortune
	case KindGuard:
		return info.NightAction == role.ActionGuard
	case KindAttack:
		return info.NightAction == role.ActionAttack
	}
	return false
}

// Submission is the live value of one (actor, kind, day) slot. A later
// submission to the same slot replaces the earlier one.
type Submission struct {
	Actor       uuid.UUID `json:"actor"`
	Kind        Kind      `json:"kind"`
	Target      uuid.UUID `json:"target"`
	Day         int       `json:"day"`
	SubmittedAt time.Time `json:"submittedAt"`
	seq         uint64
}

// later reports whether s was submitted after o. The sequence number breaks
// clock ties.
func (s Submission) later(o Submission) bool {
	if !s.SubmittedAt.Equal(o.SubmittedAt) {
		return s.SubmittedAt.After(o.SubmittedAt)
	}
	return s.seq > o.seq
}

type slotKey struct {
	actor uuid.UUID
	kind  Kind
	day   int
}

// Player is one participant of a game.
type Player struct {
	ID        uuid.UUID `json:"id"`
	Role      role.Role `json:"role"`
	Status    Status    `json:"status"`
	DiedOnDay int       `json:"diedOnDay,omitempty"`
	Cause     string    `json:"cause,omitempty"`
}

func (p Player) alive() bool { return p.Status == StatusAlive }

func (p Player) info() role.Info { return role.MustLookup(p.Role) }
