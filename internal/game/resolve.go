// internal/game/resolve.go
package game

import (
	"sort"

	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/models"
	"github.com/jason-s-yu/werewolf/internal/role"
)

// state is the copy of a game that resolution works on. Resolution never
// touches the live game, so a failed persist can simply be retried.
type state struct {
	day      int
	rules    Rules
	order    []uuid.UUID
	players  map[uuid.UUID]Player
	slots    map[slotKey]Submission
	executed []uuid.UUID
}

type death struct {
	id    uuid.UUID
	cause string
}

type privateEvent struct {
	to []uuid.UUID
	ev Event
}

// outcome is everything a resolution produces. Records are stamped with ids
// and sequence numbers by the game before they are persisted.
type outcome struct {
	deaths   []death
	executed []uuid.UUID
	tally    map[uuid.UUID][]uuid.UUID
	records  []models.HistoryRecord
	private  []privateEvent
}

func (g *Game) stateUnsafe() *state {
	st := &state{
		day:      g.day,
		rules:    g.Rules,
		order:    g.order,
		players:  make(map[uuid.UUID]Player, len(g.players)),
		slots:    make(map[slotKey]Submission, len(g.slots)),
		executed: append([]uuid.UUID(nil), g.executed...),
	}
	for pid, p := range g.players {
		st.players[pid] = *p
	}
	for k, s := range g.slots {
		st.slots[k] = s
	}
	return st
}

func (s *state) alive(id uuid.UUID) bool {
	p, ok := s.players[id]
	return ok && p.alive()
}

// aliveWith lists alive players holding a role that satisfies pred, in seating order.
func (s *state) aliveWith(pred func(role.Info) bool) []uuid.UUID {
	var out []uuid.UUID
	for _, pid := range s.order {
		if p := s.players[pid]; p.alive() && pred(p.info()) {
			out = append(out, pid)
		}
	}
	return out
}

func (s *state) kill(id uuid.UUID, cause string, out *outcome) {
	p, ok := s.players[id]
	if !ok || !p.alive() {
		return
	}
	p.Status = StatusDead
	p.Cause = cause
	s.players[id] = p
	out.deaths = append(out.deaths, death{id: id, cause: cause})
	out.records = append(out.records, models.HistoryRecord{Day: s.day, Kind: models.HistoryDeath, Target: id, Result: cause})
}

// despair kills every alive immoralist once no fox is left alive.
func (s *state) despair(out *outcome) {
	if len(s.aliveWith(func(i role.Info) bool { return i.Species == role.SpeciesFox })) > 0 {
		return
	}
	for _, pid := range s.aliveWith(func(i role.Info) bool { return i.Role == role.Immoralist }) {
		s.kill(pid, CauseDespair, out)
	}
}

// speciesReading is what fortune and mediumship report: werewolves read as
// werewolf, everything else as human.
func speciesReading(info role.Info) string {
	if info.Species == role.SpeciesWolf {
		return string(role.SpeciesWolf)
	}
	return string(role.SpeciesHuman)
}

// resolveDay tallies the day's votes. Votes from players who are no longer
// alive, or for targets who are no longer alive, are discarded. The single
// player with the strictly highest count is executed; a tie executes nobody
// unless TieEliminatesAll is set.
func resolveDay(s *state) outcome {
	out := outcome{tally: make(map[uuid.UUID][]uuid.UUID)}

	byTarget := make(map[uuid.UUID][]Submission)
	for _, pid := range s.order {
		if !s.alive(pid) {
			continue
		}
		sub, ok := s.slots[slotKey{actor: pid, kind: KindVote, day: s.day}]
		if !ok || !s.alive(sub.Target) {
			continue
		}
		byTarget[sub.Target] = append(byTarget[sub.Target], sub)
	}

	best := 0
	var leaders []uuid.UUID
	for _, target := range s.order {
		subs := byTarget[target]
		if len(subs) == 0 {
			continue
		}
		sort.SliceStable(subs, func(i, j int) bool { return subs[j].later(subs[i]) })
		voters := make([]uuid.UUID, len(subs))
		for i, sub := range subs {
			voters[i] = sub.Actor
		}
		out.tally[target] = voters
		out.records = append(out.records, models.HistoryRecord{Day: s.day, Kind: models.HistoryVote, Target: target, Voters: voters})

		switch {
		case len(subs) > best:
			best = len(subs)
			leaders = []uuid.UUID{target}
		case len(subs) == best:
			leaders = append(leaders, target)
		}
	}

	if len(leaders) == 1 || (len(leaders) > 1 && s.rules.TieEliminatesAll) {
		out.executed = leaders
		for _, pid := range leaders {
			s.kill(pid, CauseExecution, &out)
		}
	}
	s.despair(&out)
	return out
}

// resolveNight applies night actions in a fixed order: mediumship, fortune,
// guard, attack, then immoralist despair.
func resolveNight(s *state) outcome {
	var out outcome

	for _, medium := range s.aliveWith(func(i role.Info) bool { return i.Role == role.Medium }) {
		for _, executed := range s.executed {
			reading := speciesReading(s.players[executed].info())
			out.records = append(out.records, models.HistoryRecord{Day: s.day, Kind: models.HistoryMedium, Actor: medium, Target: executed, Result: reading})
			out.private = append(out.private, privateEvent{to: []uuid.UUID{medium}, ev: Event{
				Type:    EventPrivateMedium,
				Payload: map[string]interface{}{"target": executed, "result": reading},
			}})
		}
	}

	for _, seer := range s.aliveWith(func(i role.Info) bool { return i.NightAction == role.ActionFortune }) {
		sub, ok := s.slots[slotKey{actor: seer, kind: KindFortune, day: s.day}]
		if !ok {
			continue
		}
		target, ok := s.players[sub.Target]
		if !ok {
			continue
		}
		reading := speciesReading(target.info())
		out.records = append(out.records, models.HistoryRecord{Day: s.day, Kind: models.HistoryFortune, Actor: seer, Target: sub.Target, Result: reading})
		out.private = append(out.private, privateEvent{to: []uuid.UUID{seer}, ev: Event{
			Type:    EventPrivateFortune,
			Payload: map[string]interface{}{"target": sub.Target, "result": reading},
		}})
		if target.info().Species == role.SpeciesFox && s.rules.FoxDiesWhenDivined {
			s.kill(sub.Target, CauseCurse, &out)
		}
	}

	guarded := make(map[uuid.UUID]bool)
	for _, hunter := range s.aliveWith(func(i role.Info) bool { return i.NightAction == role.ActionGuard }) {
		sub, ok := s.slots[slotKey{actor: hunter, kind: KindGuard, day: s.day}]
		if !ok {
			continue
		}
		guarded[sub.Target] = true
		out.records = append(out.records, models.HistoryRecord{Day: s.day, Kind: models.HistoryGuard, Actor: hunter, Target: sub.Target})
	}

	wolves := s.aliveWith(func(i role.Info) bool { return i.NightAction == role.ActionAttack })
	var chosen *Submission
	for _, wolf := range wolves {
		sub, ok := s.slots[slotKey{actor: wolf, kind: KindAttack, day: s.day}]
		if !ok {
			continue
		}
		if chosen == nil || sub.later(*chosen) {
			picked := sub
			chosen = &picked
		}
	}
	if chosen != nil {
		target := s.players[chosen.Target]
		result := "killed"
		switch {
		case !target.alive():
			result = "none"
		case guarded[chosen.Target]:
			result = "guarded"
		case target.info().Species == role.SpeciesFox && s.rules.FoxImmuneToAttack:
			result = "immune"
		}
		if result == "killed" {
			s.kill(chosen.Target, CauseAttack, &out)
		}
		out.records = append(out.records, models.HistoryRecord{Day: s.day, Kind: models.HistoryAttack, Actor: chosen.Actor, Target: chosen.Target, Result: result})
		// The pack is told "guarded" for an immune fox too.
		told := result
		if told == "immune" {
			told = "guarded"
		}
		out.private = append(out.private, privateEvent{to: wolves, ev: Event{
			Type:    EventPrivateAttackResult,
			Payload: map[string]interface{}{"target": chosen.Target, "result": told},
		}})
	}

	s.despair(&out)
	return out
}
