// internal/game/game.go
package game

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/errs"
	"github.com/jason-s-yu/werewolf/internal/history"
	"github.com/jason-s-yu/werewolf/internal/models"
	"github.com/jason-s-yu/werewolf/internal/role"
	"github.com/sirupsen/logrus"
)

// persistTimeout bounds a single history write during resolution.
const persistTimeout = 5 * time.Second

// Game is one werewolf game hosted by a channel. Every mutation happens under
// mu; readers use Snapshot, which never blocks on a running resolution.
type Game struct {
	ID        uuid.UUID
	ChannelID uuid.UUID
	Rules     Rules

	// Unit scales the second-based durations in Rules.
	Unit time.Duration

	mu             sync.Mutex
	deliverMu      sync.Mutex
	started        bool
	day            int
	phase          Phase
	phaseStartedAt time.Time
	phaseEndsAt    time.Time
	version        uint64
	timer          *time.Timer
	players        map[uuid.UUID]*Player
	order          []uuid.UUID
	slots          map[slotKey]Submission
	submitSeq      uint64
	executed       []uuid.UUID // executed during the current day, read by mediums at night
	history        []models.HistoryRecord
	result         *Result
	frozen         bool

	pending []outbound
	after   []func()

	snap atomic.Pointer[Snapshot]

	store history.Store
	log   *logrus.Entry
	now   func() time.Time
	rng   *rand.Rand

	// BroadcastFn sends an event to the whole channel.
	BroadcastFn func(ev Event)
	// SendFn sends an event to specific users.
	SendFn func(receivers []uuid.UUID, ev Event)
	// OnGameEnd runs once after the game finishes, outside the game lock.
	OnGameEnd func(g *Game, result Result)
	// OnFault runs when resolution cannot be persisted and the game freezes.
	OnFault func(g *Game, err error)
}

// NewGame prepares a game for the given roster. Roles are dealt by Begin.
func NewGame(channelID uuid.UUID, playerIDs []uuid.UUID, rules Rules, store history.Store, logger *logrus.Logger) (*Game, error) {
	if err := rules.Validate(len(playerIDs)); err != nil {
		return nil, errs.ErrInvalidRules.WithReason("%v", err)
	}
	id := uuid.New()
	g := &Game{
		ID:        id,
		ChannelID: channelID,
		Rules:     rules.Clone(),
		Unit:      time.Second,
		players:   make(map[uuid.UUID]*Player, len(playerIDs)),
		order:     make([]uuid.UUID, 0, len(playerIDs)),
		slots:     make(map[slotKey]Submission),
		store:     store,
		log:       logger.WithFields(logrus.Fields{"game": id, "channel": channelID}),
		now:       time.Now,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, pid := range playerIDs {
		if _, dup := g.players[pid]; dup {
			return nil, errs.ErrInvalidRules.WithReason("duplicate player %s", pid)
		}
		g.players[pid] = &Player{ID: pid, Status: StatusAlive}
		g.order = append(g.order, pid)
	}
	g.publishUnsafe()
	return g, nil
}

// SetClock replaces the time source. Must be called before Begin.
func (g *Game) SetClock(now func() time.Time) { g.now = now }

// SetRand replaces the role dealing source. Must be called before Begin.
func (g *Game) SetRand(rng *rand.Rand) { g.rng = rng }

// AssignRoles deals a fixed set of roles instead of a random one. Every player
// must receive exactly one known role. Must be called before Begin.
func (g *Game) AssignRoles(roles map[uuid.UUID]role.Role) error {
	g.mu.Lock()
	defer g.unlock()
	if g.started {
		return errs.ErrWrongPhase.WithReason("roles are already dealt")
	}
	if len(roles) != len(g.players) {
		return fmt.Errorf("got %d roles for %d players", len(roles), len(g.players))
	}
	for pid, r := range roles {
		p, ok := g.players[pid]
		if !ok {
			return fmt.Errorf("role for unknown player %s", pid)
		}
		if _, known := role.Lookup(r); !known {
			return fmt.Errorf("unknown role %q", r)
		}
		p.Role = r
	}
	return nil
}

// Begin deals roles if they were not assigned, reveals them privately and
// enters the pre phase.
func (g *Game) Begin() error {
	g.mu.Lock()
	defer g.unlock()
	if g.started {
		return errs.ErrWrongPhase.WithReason("game already started")
	}
	if g.players[g.order[0]].Role == "" {
		roles, err := role.Assign(g.order, g.Rules.CompositionFor(len(g.order)), g.rng)
		if err != nil {
			return errs.ErrInvalidRules.WithReason("%v", err)
		}
		for pid, r := range roles {
			g.players[pid].Role = r
		}
	}
	g.started = true
	g.day = 1

	for _, pid := range g.order {
		p := g.players[pid]
		var peers []uuid.UUID
		for _, other := range g.order {
			if other != pid && role.KnowsPeer(p.Role, g.players[other].Role) {
				peers = append(peers, other)
			}
		}
		g.sendUnsafe([]uuid.UUID{pid}, Event{
			Type: EventPrivateRole,
			Payload: map[string]interface{}{
				"role":  role.MustLookup(p.Role),
				"peers": peers,
			},
		})
	}
	g.log.WithField("players", len(g.order)).Info("game started")
	g.enterPhaseUnsafe(PhasePre)
	return nil
}

// Snapshot returns the last committed state. It is never nil.
func (g *Game) Snapshot() *Snapshot { return g.snap.Load() }

// Advance ends the phase identified by version. Stale or duplicate calls are
// no-ops and report false.
func (g *Game) Advance(version uint64) bool {
	g.mu.Lock()
	defer g.unlock()
	return g.advanceUnsafe(version, "timer")
}

// ForceAdvance ends the phase identified by version immediately. A version
// that is no longer current means the phase already closed.
func (g *Game) ForceAdvance(version uint64) error {
	g.mu.Lock()
	defer g.unlock()
	switch {
	case !g.started:
		return errs.ErrWrongPhase.WithReason("game has not started")
	case g.phase == PhaseFinished:
		return errs.ErrPhaseClosed.WithReason("game finished")
	case g.frozen:
		return errs.ErrGameFrozen
	case version != g.version:
		return errs.ErrPhaseClosed.WithReason("phase %d already closed", version)
	}
	g.advanceUnsafe(version, "forced")
	return nil
}

// Submit validates and records an action. A later submission to the same
// (actor, kind, day) slot replaces the earlier one.
func (g *Game) Submit(actor uuid.UUID, kind Kind, target uuid.UUID) error {
	observed := g.Snapshot().Version

	g.mu.Lock()
	defer g.unlock()

	switch {
	case g.phase == PhaseFinished:
		return errs.ErrPhaseClosed.WithReason("game finished")
	case g.frozen:
		return errs.ErrGameFrozen
	case g.version != observed:
		return errs.ErrPhaseClosed
	}

	p, ok := g.players[actor]
	if !ok {
		return errs.ErrNotAPlayer
	}
	if !p.alive() {
		return errs.ErrNotAlive
	}
	if g.phase != kind.phase() {
		return errs.ErrWrongPhase.WithReason("%s requires the %s phase", kind, kind.phase())
	}
	if !kind.allowedFor(p.info()) {
		return errs.ErrWrongRole.WithReason("%s cannot %s", p.Role, kind)
	}
	t, ok := g.players[target]
	if !ok {
		return errs.ErrUnknownTarget
	}
	if target == actor {
		return errs.ErrInvalidTarget.WithReason("cannot target self")
	}
	if !t.alive() {
		return errs.ErrInvalidTarget.WithReason("target not alive")
	}
	if kind == KindAttack && t.info().Species == role.SpeciesWolf {
		return errs.ErrInvalidTarget.WithReason("cannot attack a werewolf")
	}

	g.submitSeq++
	sub := Submission{Actor: actor, Kind: kind, Target: target, Day: g.day, SubmittedAt: g.now(), seq: g.submitSeq}
	g.slots[slotKey{actor: actor, kind: kind, day: g.day}] = sub
	g.sendUnsafe([]uuid.UUID{actor}, Event{
		Type:    EventPrivateSubmission,
		Payload: map[string]interface{}{"kind": kind, "target": target},
	})
	if kind == KindAttack {
		g.sendUnsafe(g.aliveWithUnsafe(func(p *Player) bool { return p.info().Alliance == role.AllianceWerewolf }), Event{
			Type:    EventPrivateAttackEcho,
			Payload: map[string]interface{}{"actor": actor, "target": target},
		})
	}
	g.log.WithFields(logrus.Fields{"actor": actor, "kind": kind, "target": target, "day": g.day}).Debug("submission accepted")
	g.publishUnsafe()

	if g.completeUnsafe() {
		g.advanceUnsafe(g.version, "completion")
	}
	return nil
}

// Leave turns an alive player into a spectator. Dead players stay dead.
func (g *Game) Leave(userID uuid.UUID) error {
	g.mu.Lock()
	defer g.unlock()
	p, ok := g.players[userID]
	if !ok {
		return errs.ErrNotAPlayer
	}
	if !p.alive() || g.phase == PhaseFinished {
		return nil
	}
	p.Status = StatusSpectator
	for k := range g.slots {
		if k.actor == userID {
			delete(g.slots, k)
		}
	}
	g.broadcastUnsafe(Event{Type: EventPlayerLeft, Payload: map[string]interface{}{"player": userID}})
	g.log.WithField("player", userID).Info("player left the game")
	g.publishUnsafe()

	if !g.frozen && (g.phase == PhaseDay || g.phase == PhaseNight) && g.completeUnsafe() {
		g.advanceUnsafe(g.version, "completion")
	}
	return nil
}

// Abort ends the game as a draw without resolving the current phase, e.g.
// when its channel is deleted or an operator gives up on a frozen game.
func (g *Game) Abort(reason string) {
	g.mu.Lock()
	defer g.unlock()
	if g.phase == PhaseFinished {
		return
	}
	g.finishUnsafe(Result{Draw: true, Reason: reason})
}

// unlock releases mu and then delivers the events and callbacks queued while
// it was held. deliverMu is taken before mu is released so deliveries keep
// the order of the critical sections that produced them.
func (g *Game) unlock() {
	pending, after := g.pending, g.after
	g.pending, g.after = nil, nil
	g.deliverMu.Lock()
	g.mu.Unlock()
	for _, o := range pending {
		o.ev.GameID = g.ID
		switch {
		case o.broadcast && g.BroadcastFn != nil:
			g.BroadcastFn(o.ev)
		case !o.broadcast && g.SendFn != nil && len(o.receivers) > 0:
			g.SendFn(o.receivers, o.ev)
		}
	}
	g.deliverMu.Unlock()
	for _, fn := range after {
		fn()
	}
}

// broadcastUnsafe queues a channel-wide event. Assumes lock is held.
func (g *Game) broadcastUnsafe(ev Event) {
	ev.Day, ev.Phase = g.day, g.phase
	g.pending = append(g.pending, outbound{ev: ev, broadcast: true})
}

// sendUnsafe queues an event for specific users. Assumes lock is held.
func (g *Game) sendUnsafe(receivers []uuid.UUID, ev Event) {
	if len(receivers) == 0 {
		return
	}
	ev.Day, ev.Phase = g.day, g.phase
	g.pending = append(g.pending, outbound{ev: ev, receivers: receivers})
}

func (g *Game) aliveWithUnsafe(pred func(p *Player) bool) []uuid.UUID {
	var out []uuid.UUID
	for _, pid := range g.order {
		if p := g.players[pid]; p.alive() && pred(p) {
			out = append(out, pid)
		}
	}
	return out
}

// completeUnsafe reports whether every required submission of the current
// phase is present: a vote from every alive player by day, a night action
// from every alive player whose role has one by night.
func (g *Game) completeUnsafe() bool {
	for _, pid := range g.order {
		p := g.players[pid]
		if !p.alive() {
			continue
		}
		var kind Kind
		switch g.phase {
		case PhaseDay:
			kind = KindVote
		case PhaseNight:
			switch p.info().NightAction {
			case role.ActionFortune:
				kind = KindFortune
			case role.ActionGuard:
				kind = KindGuard
			case role.ActionAttack:
				kind = KindAttack
			default:
				continue
			}
		default:
			return false
		}
		if _, ok := g.slots[slotKey{actor: pid, kind: kind, day: g.day}]; !ok {
			return false
		}
	}
	return true
}

// advanceUnsafe closes the phase identified by version. Assumes lock is held.
func (g *Game) advanceUnsafe(version uint64, reason string) bool {
	if !g.started || g.phase == PhaseFinished || g.frozen || version != g.version {
		g.log.WithFields(logrus.Fields{"version": version, "current": g.version, "reason": reason}).Debug("ignoring stale advance")
		return false
	}
	g.stopTimerUnsafe()
	g.log.WithFields(logrus.Fields{"phase": g.phase, "day": g.day, "reason": reason}).Info("phase ending")

	if g.phase == PhasePre {
		g.enterPhaseUnsafe(PhaseDay)
		return true
	}

	out, err := g.resolveUnsafe()
	if err != nil {
		g.freezeUnsafe(err)
		return false
	}
	g.applyUnsafe(out)

	if res, over := g.evaluateUnsafe(); over {
		g.finishUnsafe(res)
		return true
	}
	if g.phase == PhaseDay {
		g.enterPhaseUnsafe(PhaseNight)
	} else {
		g.day++
		g.executed = nil
		g.enterPhaseUnsafe(PhaseDay)
	}
	return true
}

// resolveUnsafe computes the outcome of the current phase on a copy of the
// game and persists its history. A failed write is retried once from a fresh
// copy; the game itself is not touched until the write succeeds.
func (g *Game) resolveUnsafe() (outcome, error) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		st := g.stateUnsafe()
		var out outcome
		if g.phase == PhaseDay {
			out = resolveDay(st)
		} else {
			out = resolveNight(st)
		}
		g.stampUnsafe(out.records)
		if g.store == nil || len(out.records) == 0 {
			return out, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := g.store.SaveRecords(ctx, out.records)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err
		g.log.WithError(err).WithField("attempt", attempt).Warn("failed to persist phase resolution")
	}
	return outcome{}, errs.ErrTransient.Wrap(lastErr)
}

// stampUnsafe fills the identity and ordering fields of new records.
func (g *Game) stampUnsafe(records []models.HistoryRecord) {
	now := g.now()
	seq := len(g.history)
	for i := range records {
		seq++
		records[i].GameID = g.ID
		records[i].ChannelID = g.ChannelID
		records[i].Seq = seq
		records[i].CreatedAt = now
	}
}

// applyUnsafe commits a persisted outcome. Assumes lock is held.
func (g *Game) applyUnsafe(out outcome) {
	deaths := make([]uuid.UUID, 0, len(out.deaths))
	for _, d := range out.deaths {
		p := g.players[d.id]
		p.Status = StatusDead
		p.DiedOnDay = g.day
		p.Cause = d.cause
		deaths = append(deaths, d.id)
	}
	g.history = append(g.history, out.records...)
	for k := range g.slots {
		if k.day == g.day && k.kind.phase() == g.phase {
			delete(g.slots, k)
		}
	}
	for _, pe := range out.private {
		g.sendUnsafe(pe.to, pe.ev)
	}

	if g.phase == PhaseDay {
		g.executed = out.executed
		tally := make(map[string][]uuid.UUID, len(out.tally))
		for target, voters := range out.tally {
			tally[target.String()] = voters
		}
		g.broadcastUnsafe(Event{
			Type:    EventVoteResult,
			Payload: map[string]interface{}{"executed": out.executed, "tally": tally, "deaths": deaths},
		})
	} else {
		g.broadcastUnsafe(Event{
			Type:    EventNightResult,
			Payload: map[string]interface{}{"deaths": deaths},
		})
	}
	g.log.WithFields(logrus.Fields{"phase": g.phase, "day": g.day, "deaths": len(deaths), "records": len(out.records)}).Info("phase resolved")
}

// evaluateUnsafe checks for a finished game. Assumes lock is held.
func (g *Game) evaluateUnsafe() (Result, bool) {
	players := make([]Player, 0, len(g.order))
	for _, pid := range g.order {
		players = append(players, *g.players[pid])
	}
	if res, over := Evaluate(players); over {
		return res, true
	}
	if g.Rules.MaxDays > 0 && g.phase == PhaseNight && g.day >= g.Rules.MaxDays {
		return Result{Draw: true, Reason: "day limit reached"}, true
	}
	return Result{}, false
}

// enterPhaseUnsafe moves to p, bumps the version token and arms the phase
// timer. Assumes lock is held.
func (g *Game) enterPhaseUnsafe(p Phase) {
	if g.phase != "" && !g.phase.CanTransitionTo(p) {
		g.log.Errorf("illegal phase transition %s -> %s", g.phase, p)
		return
	}
	g.phase = p
	g.version++
	g.phaseStartedAt = g.now()
	g.phaseEndsAt = time.Time{}
	g.stopTimerUnsafe()

	if d := g.Rules.PhaseDuration(p, g.Unit); d > 0 {
		g.phaseEndsAt = g.phaseStartedAt.Add(d)
		version := g.version
		g.timer = time.AfterFunc(d, func() {
			g.Advance(version)
		})
	}

	payload := map[string]interface{}{"version": g.version}
	if !g.phaseEndsAt.IsZero() {
		payload["endsAt"] = g.phaseEndsAt
	}
	g.broadcastUnsafe(Event{Type: EventPhaseChange, Payload: payload})
	g.log.WithFields(logrus.Fields{"phase": p, "day": g.day, "version": g.version}).Info("phase started")
	g.publishUnsafe()
}

// finishUnsafe seals the game. Assumes lock is held.
func (g *Game) finishUnsafe(res Result) {
	res.Day = g.day
	res.Roles = make(map[uuid.UUID]role.Role, len(g.order))
	for _, pid := range g.order {
		res.Roles[pid] = g.players[pid].Role
	}
	g.result = &res
	g.phase = PhaseFinished
	g.version++
	g.phaseStartedAt = g.now()
	g.phaseEndsAt = time.Time{}
	g.stopTimerUnsafe()

	g.broadcastUnsafe(Event{Type: EventGameEnd, Payload: map[string]interface{}{"result": res}})
	g.log.WithFields(logrus.Fields{"winner": res.Winner, "draw": res.Draw, "reason": res.Reason, "day": res.Day}).Info("game finished")
	g.publishUnsafe()

	if fn := g.OnGameEnd; fn != nil {
		g.after = append(g.after, func() { fn(g, res) })
	}
}

// freezeUnsafe stops the game after an unrecoverable resolution failure.
// State is left exactly as it was before the failed resolution.
func (g *Game) freezeUnsafe(err error) {
	g.frozen = true
	g.stopTimerUnsafe()
	g.log.WithError(err).WithFields(logrus.Fields{"phase": g.phase, "day": g.day}).Error("resolution failed twice; game frozen")
	g.broadcastUnsafe(Event{Type: EventGameFrozen, Payload: map[string]interface{}{"reason": "history could not be saved"}})
	g.publishUnsafe()
	if fn := g.OnFault; fn != nil {
		g.after = append(g.after, func() { fn(g, err) })
	}
}

func (g *Game) stopTimerUnsafe() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}
