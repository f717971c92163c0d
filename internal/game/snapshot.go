// internal/game/snapshot.go
package game

import (
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/models"
	"github.com/jason-s-yu/werewolf/internal/role"
)

// Snapshot is an immutable copy of a game taken at the end of a committed
// mutation. It holds the full truth and must be filtered with ViewFor or
// HistoryFor before it leaves the server.
type Snapshot struct {
	GameID         uuid.UUID
	ChannelID      uuid.UUID
	Version        uint64
	Day            int
	Phase          Phase
	PhaseStartedAt time.Time
	PhaseEndsAt    time.Time
	Players        []Player // seating order
	Submitted      map[uuid.UUID][]Kind
	History        []models.HistoryRecord
	Result         *Result
	Frozen         bool
}

// publishUnsafe stores a fresh snapshot. Assumes lock is held.
func (g *Game) publishUnsafe() {
	s := &Snapshot{
		GameID:         g.ID,
		ChannelID:      g.ChannelID,
		Version:        g.version,
		Day:            g.day,
		Phase:          g.phase,
		PhaseStartedAt: g.phaseStartedAt,
		PhaseEndsAt:    g.phaseEndsAt,
		Players:        make([]Player, 0, len(g.order)),
		Submitted:      make(map[uuid.UUID][]Kind),
		History:        make([]models.HistoryRecord, len(g.history)),
		Frozen:         g.frozen,
	}
	for _, pid := range g.order {
		s.Players = append(s.Players, *g.players[pid])
	}
	for k := range g.slots {
		if k.day == g.day && k.kind.phase() == g.phase {
			s.Submitted[k.actor] = append(s.Submitted[k.actor], k.kind)
		}
	}
	copy(s.History, g.history)
	if g.result != nil {
		res := *g.result
		s.Result = &res
	}
	g.snap.Store(s)
}

// Player looks up a participant.
func (s *Snapshot) Player(id uuid.UUID) (Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// Finished reports whether the game has ended.
func (s *Snapshot) Finished() bool { return s.Phase == PhaseFinished }

// IsSpectator reports whether id watches rather than plays: either never a
// player or a player who left while alive.
func (s *Snapshot) IsSpectator(id uuid.UUID) bool {
	p, ok := s.Player(id)
	return !ok || p.Status == StatusSpectator
}

// IDsWith lists players whose status is st.
func (s *Snapshot) IDsWith(st Status) []uuid.UUID {
	var out []uuid.UUID
	for _, p := range s.Players {
		if p.Status == st {
			out = append(out, p.ID)
		}
	}
	return out
}

// omniscient reports whether viewer may see every role and record: anyone
// once the game is over, and anyone who is not an alive player.
func (s *Snapshot) omniscient(viewer uuid.UUID) bool {
	if s.Finished() {
		return true
	}
	p, ok := s.Player(viewer)
	return !ok || !p.alive()
}

// PlayerView is a player as seen by one viewer.
type PlayerView struct {
	ID        uuid.UUID `json:"id"`
	Role      role.Role `json:"role,omitempty"`
	Status    Status    `json:"status"`
	DiedOnDay int       `json:"diedOnDay,omitempty"`
	Cause     string    `json:"cause,omitempty"`
	Submitted bool      `json:"submitted"`
}

// View is the per-viewer game state sent to clients.
type View struct {
	GameID      uuid.UUID    `json:"gameId"`
	ChannelID   uuid.UUID    `json:"channelId"`
	Version     uint64       `json:"version"`
	Day         int          `json:"day"`
	Phase       Phase        `json:"phase"`
	PhaseEndsAt *time.Time   `json:"phaseEndsAt,omitempty"`
	Self        *PlayerView  `json:"self,omitempty"`
	Players     []PlayerView `json:"players"`
	Result      *Result      `json:"result,omitempty"`
	Frozen      bool         `json:"frozen"`
}

// ViewFor filters the snapshot for viewer. Alive players see their own role
// and the roles of alliance peers they know; everyone else sees all roles.
func (s *Snapshot) ViewFor(viewer uuid.UUID) View {
	v := View{
		GameID:    s.GameID,
		ChannelID: s.ChannelID,
		Version:   s.Version,
		Day:       s.Day,
		Phase:     s.Phase,
		Players:   make([]PlayerView, 0, len(s.Players)),
		Result:    s.Result,
		Frozen:    s.Frozen,
	}
	if !s.PhaseEndsAt.IsZero() {
		ends := s.PhaseEndsAt
		v.PhaseEndsAt = &ends
	}

	all := s.omniscient(viewer)
	self, isPlayer := s.Player(viewer)
	inPack := isPlayer && self.Role != "" && role.MustLookup(self.Role).Alliance == role.AllianceWerewolf
	for _, p := range s.Players {
		pv := PlayerView{ID: p.ID, Status: p.Status, DiedOnDay: p.DiedOnDay}
		pv.Submitted = s.submittedVisible(p, viewer, all, inPack)
		switch {
		case all, p.ID == viewer:
			pv.Role = p.Role
			pv.Cause = p.Cause
		case isPlayer && self.Role != "" && p.Role != "" && role.KnowsPeer(self.Role, p.Role):
			pv.Role = p.Role
		}
		if p.ID == viewer {
			own := pv
			v.Self = &own
		}
		v.Players = append(v.Players, pv)
	}
	return v
}

// submittedVisible reports whether viewer may see that p has acted this
// phase. Day votes are public. At night a player sees their own progress,
// the pack sees its members' attacks and omniscient viewers see everything.
func (s *Snapshot) submittedVisible(p Player, viewer uuid.UUID, all, inPack bool) bool {
	kinds := s.Submitted[p.ID]
	if len(kinds) == 0 {
		return false
	}
	if s.Phase != PhaseNight || all || p.ID == viewer {
		return true
	}
	if !inPack || p.Role == "" || role.MustLookup(p.Role).Alliance != role.AllianceWerewolf {
		return false
	}
	for _, k := range kinds {
		if k == KindAttack {
			return true
		}
	}
	return false
}

// HistoryFor returns the records of kind that viewer may read. Votes and
// deaths are public, without the cause. Fortune, medium and guard records
// are private to their actor; attack records are shared by the werewolf
// alliance. Omniscient viewers read everything.
func (s *Snapshot) HistoryFor(viewer uuid.UUID, kind models.HistoryKind) []models.HistoryRecord {
	all := s.omniscient(viewer)
	self, _ := s.Player(viewer)
	inPack := self.Role != "" && role.MustLookup(self.Role).Alliance == role.AllianceWerewolf

	out := []models.HistoryRecord{}
	for _, r := range s.History {
		if r.Kind != kind {
			continue
		}
		switch {
		case all:
		case kind == models.HistoryVote:
		case kind == models.HistoryDeath:
			r.Result = ""
		case kind == models.HistoryAttack && inPack:
		case (kind == models.HistoryFortune || kind == models.HistoryMedium || kind == models.HistoryGuard) && r.Actor == viewer:
		default:
			continue
		}
		out = append(out, r)
	}
	return out
}
