// internal/game/game_test.go
package game

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/errs"
	"github.com/jason-s-yu/werewolf/internal/history"
	"github.com/jason-s-yu/werewolf/internal/models"
	"github.com/jason-s-yu/werewolf/internal/role"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBroadcaster collects events instead of sending them over WS.
type mockBroadcaster struct {
	mu      sync.Mutex
	all     []Event
	private map[uuid.UUID][]Event
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{private: make(map[uuid.UUID][]Event)}
}

func (mb *mockBroadcaster) broadcast(ev Event) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.all = append(mb.all, ev)
}

func (mb *mockBroadcaster) send(receivers []uuid.UUID, ev Event) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for _, r := range receivers {
		mb.private[r] = append(mb.private[r], ev)
	}
}

func (mb *mockBroadcaster) privateOf(id uuid.UUID, t EventType) []Event {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	var out []Event
	for _, ev := range mb.private[id] {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (mb *mockBroadcaster) publicOf(t EventType) []Event {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	var out []Event
	for _, ev := range mb.all {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// fakeClock ticks one second on every read so submissions are strictly ordered.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// flakyStore fails the first `failures` SaveRecords calls.
type flakyStore struct {
	*history.MemoryStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) SaveRecords(ctx context.Context, records []models.HistoryRecord) error {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("db down")
	}
	return f.MemoryStore.SaveRecords(ctx, records)
}

// blockingStore holds SaveRecords until release is closed.
type blockingStore struct {
	*history.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) SaveRecords(ctx context.Context, records []models.HistoryRecord) error {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return b.MemoryStore.SaveRecords(ctx, records)
}

// manualRules disables every phase timer.
func manualRules() Rules {
	r := DefaultRules()
	r.PreSec, r.DaySec, r.NightSec = 0, 0, 0
	return r
}

type testGame struct {
	*Game
	ids []uuid.UUID
	mb  *mockBroadcaster
}

// newTestGame starts a game whose i-th player holds roles[i]. configure runs
// before Begin.
func newTestGame(t *testing.T, rules Rules, store history.Store, configure func(*Game), roles ...role.Role) testGame {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ids := make([]uuid.UUID, len(roles))
	assign := make(map[uuid.UUID]role.Role, len(roles))
	for i, r := range roles {
		ids[i] = uuid.New()
		assign[ids[i]] = r
	}
	if store == nil {
		store = history.NewMemoryStore()
	}
	g, err := NewGame(uuid.New(), ids, rules, store, logger)
	require.NoError(t, err)
	g.SetClock((&fakeClock{t: time.Unix(1_700_000_000, 0)}).Now)
	mb := newMockBroadcaster()
	g.BroadcastFn = mb.broadcast
	g.SendFn = mb.send
	if configure != nil {
		configure(g)
	}
	require.NoError(t, g.AssignRoles(assign))
	require.NoError(t, g.Begin())
	return testGame{Game: g, ids: ids, mb: mb}
}

func (tg testGame) status(i int) Status {
	p, _ := tg.Snapshot().Player(tg.ids[i])
	return p.Status
}

func (tg testGame) vote(t *testing.T, from, to int) {
	t.Helper()
	require.NoError(t, tg.Submit(tg.ids[from], KindVote, tg.ids[to]))
}

func (tg testGame) act(t *testing.T, from int, kind Kind, to int) {
	t.Helper()
	require.NoError(t, tg.Submit(tg.ids[from], kind, tg.ids[to]))
}

// advance force-closes the phase the caller currently sees.
func (tg testGame) advance() error {
	return tg.ForceAdvance(tg.Snapshot().Version)
}

func (tg testGame) toDay(t *testing.T) {
	t.Helper()
	require.Equal(t, PhasePre, tg.Snapshot().Phase)
	require.NoError(t, tg.advance())
	require.Equal(t, PhaseDay, tg.Snapshot().Phase)
}

// toNight skips day 1 without votes.
func (tg testGame) toNight(t *testing.T) {
	t.Helper()
	tg.toDay(t)
	require.NoError(t, tg.advance())
	require.Equal(t, PhaseNight, tg.Snapshot().Phase)
}

func TestBeginDealsRolesAndRevealsPeers(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	ids := make([]uuid.UUID, 8)
	for i := range ids {
		ids[i] = uuid.New()
	}
	g, err := NewGame(uuid.New(), ids, manualRules(), nil, logger)
	require.NoError(t, err)
	g.SetRand(rand.New(rand.NewSource(42)))
	mb := newMockBroadcaster()
	g.BroadcastFn, g.SendFn = mb.broadcast, mb.send
	require.NoError(t, g.Begin())
	assert.Error(t, g.Begin())

	snap := g.Snapshot()
	assert.Equal(t, PhasePre, snap.Phase)
	assert.Equal(t, 1, snap.Day)

	var wolves []uuid.UUID
	counts := role.Composition{}
	for _, p := range snap.Players {
		counts[p.Role]++
		if p.Role == role.Werewolf {
			wolves = append(wolves, p.ID)
		}
	}
	assert.Equal(t, role.DefaultComposition(8), counts)
	require.Len(t, wolves, 2)

	reveal := mb.privateOf(wolves[0], EventPrivateRole)
	require.Len(t, reveal, 1)
	assert.Equal(t, []uuid.UUID{wolves[1]}, reveal[0].Payload["peers"])
	assert.Len(t, mb.publicOf(EventPhaseChange), 1)
}

func TestVoteTieEliminatesNobody(t *testing.T) {
	tg := newTestGame(t, manualRules(), nil, nil, role.Werewolf, role.Seer, role.Villager, role.Villager)
	tg.toDay(t)

	tg.vote(t, 0, 1)
	tg.vote(t, 1, 0)
	tg.vote(t, 2, 1)
	tg.vote(t, 3, 0) // completes the day

	snap := tg.Snapshot()
	assert.Equal(t, PhaseNight, snap.Phase)
	for i := range tg.ids {
		assert.Equal(t, StatusAlive, tg.status(i))
	}
	assert.Len(t, snap.HistoryFor(tg.ids[2], models.HistoryVote), 2)

	results := tg.mb.publicOf(EventVoteResult)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Payload["executed"])
}

func TestVoteTieEliminatesAllWhenConfigured(t *testing.T) {
	rules := manualRules()
	rules.TieEliminatesAll = true
	var ended []Result
	tg := newTestGame(t, rules, nil, func(g *Game) {
		g.OnGameEnd = func(_ *Game, r Result) { ended = append(ended, r) }
	}, role.Werewolf, role.Seer, role.Villager, role.Villager)
	tg.toDay(t)

	tg.vote(t, 0, 1)
	tg.vote(t, 1, 0)
	tg.vote(t, 2, 1)
	tg.vote(t, 3, 0)

	assert.Equal(t, StatusDead, tg.status(0))
	assert.Equal(t, StatusDead, tg.status(1))
	snap := tg.Snapshot()
	require.True(t, snap.Finished())
	assert.Equal(t, role.TeamVillage, snap.Result.Winner)
	require.Len(t, ended, 1)
	assert.ElementsMatch(t, []uuid.UUID{tg.ids[1], tg.ids[2], tg.ids[3]}, ended[0].Winners)
}

func TestLaterVoteReplacesEarlier(t *testing.T) {
	tg := newTestGame(t, manualRules(), nil, nil, role.Werewolf, role.Seer, role.Villager, role.Villager, role.Villager)
	tg.toDay(t)

	tg.vote(t, 1, 0)
	tg.vote(t, 2, 4)
	tg.vote(t, 2, 0) // replaces the vote for 4
	tg.vote(t, 3, 0)
	require.NoError(t, tg.advance())

	assert.Equal(t, StatusDead, tg.status(0))
	votes := tg.Snapshot().HistoryFor(tg.ids[4], models.HistoryVote)
	require.Len(t, votes, 1)
	assert.Equal(t, tg.ids[0], votes[0].Target)
	assert.Equal(t, []uuid.UUID{tg.ids[1], tg.ids[2], tg.ids[3]}, votes[0].Voters)
	assert.True(t, tg.Snapshot().Finished())
}

func TestAttackOnGuardedTargetIsNegated(t *testing.T) {
	tg := newTestGame(t, manualRules(), nil, nil, role.Werewolf, role.Hunter, role.Seer, role.Villager, role.Villager)
	tg.toNight(t)

	tg.act(t, 0, KindAttack, 3)
	tg.act(t, 1, KindGuard, 3)
	tg.act(t, 2, KindFortune, 0) // completes the night

	snap := tg.Snapshot()
	assert.Equal(t, PhaseDay, snap.Phase)
	assert.Equal(t, 2, snap.Day)
	assert.Equal(t, StatusAlive, tg.status(3))

	attacks := snap.HistoryFor(tg.ids[0], models.HistoryAttack)
	require.Len(t, attacks, 1)
	assert.Equal(t, "guarded", attacks[0].Result)
	assert.Len(t, snap.HistoryFor(tg.ids[1], models.HistoryGuard), 1)

	fortunes := tg.mb.privateOf(tg.ids[2], EventPrivateFortune)
	require.Len(t, fortunes, 1)
	assert.Equal(t, "werewolf", fortunes[0].Payload["result"])
}

func TestUnguardedAttackKills(t *testing.T) {
	tg := newTestGame(t, manualRules(), nil, nil, role.Werewolf, role.Hunter, role.Seer, role.Villager, role.Villager)
	tg.toNight(t)

	tg.act(t, 0, KindAttack, 3)
	tg.act(t, 1, KindGuard, 4)
	tg.act(t, 2, KindFortune, 4)

	p, _ := tg.Snapshot().Player(tg.ids[3])
	assert.Equal(t, StatusDead, p.Status)
	assert.Equal(t, CauseAttack, p.Cause)
	assert.Equal(t, 1, p.DiedOnDay)

	results := tg.mb.publicOf(EventNightResult)
	require.Len(t, results, 1)
	assert.Equal(t, []uuid.UUID{tg.ids[3]}, results[0].Payload["deaths"])
}

func TestLastWolfSubmissionWins(t *testing.T) {
	tg := newTestGame(t, manualRules(), nil, nil,
		role.Werewolf, role.Werewolf, role.Seer, role.Villager, role.Villager, role.Villager, role.Villager)
	tg.toNight(t)

	tg.act(t, 1, KindAttack, 4)
	tg.act(t, 0, KindAttack, 3) // later, wins
	tg.act(t, 2, KindFortune, 5)

	assert.Equal(t, StatusDead, tg.status(3))
	assert.Equal(t, StatusAlive, tg.status(4))

	echoes := tg.mb.privateOf(tg.ids[1], EventPrivateAttackEcho)
	assert.Len(t, echoes, 2, "every wolf sees each pack submission")
}

func TestFortuneCursesFoxAndImmoralistDespairs(t *testing.T) {
	tg := newTestGame(t, manualRules(), nil, nil,
		role.Werewolf, role.Seer, role.Fox, role.Immoralist, role.Villager, role.Villager)
	tg.toNight(t)

	tg.act(t, 1, KindFortune, 2)
	tg.act(t, 0, KindAttack, 4)

	snap := tg.Snapshot()
	assert.False(t, snap.Finished())
	causes := map[int]string{}
	for i := range tg.ids {
		p, _ := snap.Player(tg.ids[i])
		causes[i] = p.Cause
	}
	assert.Equal(t, CauseCurse, causes[2])
	assert.Equal(t, CauseDespair, causes[3])
	assert.Equal(t, CauseAttack, causes[4])
	assert.Equal(t, StatusAlive, tg.status(5))

	fortunes := tg.mb.privateOf(tg.ids[1], EventPrivateFortune)
	require.Len(t, fortunes, 1)
	assert.Equal(t, "human", fortunes[0].Payload["result"])
}

func TestFoxImmuneToAttack(t *testing.T) {
	tg := newTestGame(t, manualRules(), nil, nil,
		role.Werewolf, role.Seer, role.Hunter, role.Fox, role.Villager, role.Villager)
	tg.toNight(t)

	tg.act(t, 0, KindAttack, 3)
	tg.act(t, 1, KindFortune, 4)
	tg.act(t, 2, KindGuard, 5)

	assert.Equal(t, StatusAlive, tg.status(3))
	attacks := tg.Snapshot().HistoryFor(tg.ids[0], models.HistoryAttack)
	require.Len(t, attacks, 1)
	assert.Equal(t, "immune", attacks[0].Result)

	told := tg.mb.privateOf(tg.ids[0], EventPrivateAttackResult)
	require.Len(t, told, 1)
	assert.Equal(t, "guarded", told[0].Payload["result"])
}

func TestMediumAndHistoryVisibility(t *testing.T) {
	tg := newTestGame(t, manualRules(), nil, nil,
		role.Werewolf, role.Werewolf, role.Medium, role.Seer, role.Villager, role.Villager, role.Villager, role.Villager)
	tg.toDay(t)
	for _, voter := range []int{2, 3, 4, 5} {
		tg.vote(t, voter, 0)
	}
	require.NoError(t, tg.advance())
	require.Equal(t, StatusDead, tg.status(0))

	tg.act(t, 1, KindAttack, 4)
	tg.act(t, 3, KindFortune, 5)

	medium := tg.mb.privateOf(tg.ids[2], EventPrivateMedium)
	require.Len(t, medium, 1)
	assert.Equal(t, tg.ids[0], medium[0].Payload["target"])
	assert.Equal(t, "werewolf", medium[0].Payload["result"])

	snap := tg.Snapshot()
	villager := tg.ids[6]
	assert.Empty(t, snap.HistoryFor(villager, models.HistoryFortune))
	assert.Empty(t, snap.HistoryFor(villager, models.HistoryMedium))
	assert.Empty(t, snap.HistoryFor(villager, models.HistoryAttack))
	assert.Len(t, snap.HistoryFor(tg.ids[3], models.HistoryFortune), 1)
	assert.Len(t, snap.HistoryFor(tg.ids[2], models.HistoryMedium), 1)
	assert.Len(t, snap.HistoryFor(tg.ids[1], models.HistoryAttack), 1)
	assert.Len(t, snap.HistoryFor(tg.ids[0], models.HistoryFortune), 1, "dead players read everything")
	assert.Len(t, snap.HistoryFor(uuid.New(), models.HistoryAttack), 1, "spectators read everything")

	deaths := snap.HistoryFor(villager, models.HistoryDeath)
	require.Len(t, deaths, 2)
	for _, d := range deaths {
		assert.Empty(t, d.Result, "causes are hidden from the living")
	}

	view := snap.ViewFor(villager)
	require.NotNil(t, view.Self)
	assert.Equal(t, role.Villager, view.Self.Role)
	for _, pv := range view.Players {
		if pv.ID == tg.ids[1] {
			assert.Empty(t, pv.Role)
		}
	}
	wolfView := snap.ViewFor(tg.ids[1])
	assert.Equal(t, role.Werewolf, wolfView.Players[0].Role, "wolves know their pack")
}

// submitted reports the Submitted flag viewer sees on player.
func submitted(v View, player uuid.UUID) bool {
	for _, pv := range v.Players {
		if pv.ID == player {
			return pv.Submitted
		}
	}
	return false
}

func TestNightSubmissionsAreHiddenFromOthers(t *testing.T) {
	tg := newTestGame(t, manualRules(), nil, nil,
		role.Werewolf, role.Werewolf, role.Seer, role.Hunter, role.Villager, role.Villager, role.Villager)
	tg.toNight(t)

	tg.act(t, 0, KindAttack, 4)
	tg.act(t, 2, KindFortune, 5)
	snap := tg.Snapshot()
	require.Equal(t, PhaseNight, snap.Phase, "the hunter has not guarded yet")

	wolf, peer, seer, villager := tg.ids[0], tg.ids[1], tg.ids[2], tg.ids[5]

	v := snap.ViewFor(villager)
	assert.False(t, submitted(v, seer), "villagers cannot tell the seer has acted")
	assert.False(t, submitted(v, wolf), "villagers cannot tell the wolves have acted")

	v = snap.ViewFor(seer)
	assert.True(t, submitted(v, seer))
	assert.False(t, submitted(v, wolf))

	v = snap.ViewFor(peer)
	assert.True(t, submitted(v, wolf), "the pack sees its attacks")
	assert.False(t, submitted(v, seer))
	assert.False(t, submitted(v, peer))

	v = snap.ViewFor(uuid.New())
	assert.True(t, submitted(v, seer), "spectators see everything")
	assert.True(t, submitted(v, wolf))

	tg.act(t, 3, KindGuard, 4)
	require.NoError(t, tg.advance())
	require.Equal(t, PhaseDay, tg.Snapshot().Phase)
	tg.vote(t, 6, 0)
	assert.True(t, submitted(tg.Snapshot().ViewFor(villager), tg.ids[6]), "day votes are public")
}

func TestEvaluate(t *testing.T) {
	mk := func(roles ...role.Role) []Player {
		out := make([]Player, len(roles))
		for i, r := range roles {
			out[i] = Player{ID: uuid.New(), Role: r, Status: StatusAlive}
		}
		return out
	}

	_, over := Evaluate(mk(role.Werewolf, role.Villager, role.Villager, role.Villager))
	assert.False(t, over, "1 werewolf against 3 villagers continues")

	res, over := Evaluate(mk(role.Werewolf, role.Werewolf, role.Villager, role.Seer))
	require.True(t, over)
	assert.Equal(t, role.TeamWerewolf, res.Winner)

	res, over = Evaluate(mk(role.Werewolf, role.Fanatic))
	require.True(t, over, "the fanatic counts as human")
	assert.Equal(t, role.TeamWerewolf, res.Winner)

	players := mk(role.Werewolf, role.Villager, role.Villager)
	players[0].Status = StatusDead
	res, over = Evaluate(players)
	require.True(t, over)
	assert.Equal(t, role.TeamVillage, res.Winner)
	assert.Len(t, res.Winners, 2)

	res, over = Evaluate(mk(role.Werewolf, role.Villager, role.Fox))
	require.True(t, over)
	assert.Equal(t, role.TeamFox, res.Winner, "a surviving fox takes precedence")

	_, over = Evaluate(mk(role.Werewolf, role.Villager, role.Villager, role.Fox))
	assert.False(t, over)

	dead := mk(role.Werewolf, role.Villager)
	for i := range dead {
		dead[i].Status = StatusDead
	}
	res, over = Evaluate(dead)
	require.True(t, over)
	assert.True(t, res.Draw)
}

func TestConcurrentAdvanceIsIdempotent(t *testing.T) {
	tg := newTestGame(t, manualRules(), nil, nil, role.Werewolf, role.Seer, role.Villager, role.Villager, role.Villager)
	tg.toDay(t)
	tg.vote(t, 1, 2)
	version := tg.Snapshot().Version

	var wg sync.WaitGroup
	var mu sync.Mutex
	advanced := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tg.Advance(version) {
				mu.Lock()
				advanced++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, advanced)
	snap := tg.Snapshot()
	assert.Equal(t, PhaseNight, snap.Phase)
	assert.Equal(t, version+1, snap.Version)
	assert.Len(t, snap.HistoryFor(tg.ids[0], models.HistoryVote), 1)
	assert.Len(t, tg.mb.publicOf(EventVoteResult), 1)
}

func TestConcurrentForcedAdvanceClosesOnePhase(t *testing.T) {
	tg := newTestGame(t, manualRules(), nil, nil, role.Werewolf, role.Seer, role.Hunter, role.Villager, role.Villager, role.Villager)
	tg.toDay(t)
	version := tg.Snapshot().Version

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { results <- tg.ForceAdvance(version) }()
	}
	first, second := <-results, <-results

	closed := 0
	for _, err := range []error{first, second} {
		if err != nil {
			assert.ErrorIs(t, err, errs.ErrPhaseClosed)
			closed++
		}
	}
	assert.Equal(t, 1, closed, "exactly one forced advance may resolve the day")
	snap := tg.Snapshot()
	assert.Equal(t, PhaseNight, snap.Phase)
	assert.Equal(t, 1, snap.Day)

	assert.ErrorIs(t, tg.ForceAdvance(version), errs.ErrPhaseClosed, "a stale version never closes the night")
	assert.Equal(t, PhaseNight, tg.Snapshot().Phase)
}

func TestSubmissionValidation(t *testing.T) {
	tg := newTestGame(t, manualRules(), nil, nil,
		role.Werewolf, role.Werewolf, role.Seer, role.Hunter, role.Villager, role.Villager, role.Villager, role.Villager)
	id := tg.ids

	assert.ErrorIs(t, tg.Submit(id[4], KindVote, id[0]), errs.ErrWrongPhase)
	tg.toDay(t)

	assert.ErrorIs(t, tg.Submit(uuid.New(), KindVote, id[0]), errs.ErrNotAPlayer)
	assert.ErrorIs(t, tg.Submit(id[4], KindVote, id[4]), errs.ErrInvalidTarget)
	assert.ErrorIs(t, tg.Submit(id[4], KindVote, uuid.New()), errs.ErrUnknownTarget)
	assert.ErrorIs(t, tg.Submit(id[2], KindFortune, id[0]), errs.ErrWrongPhase)

	for _, voter := range []int{0, 1, 2, 3, 5} {
		tg.vote(t, voter, 4)
	}
	require.NoError(t, tg.advance())
	require.Equal(t, StatusDead, tg.status(4))

	assert.ErrorIs(t, tg.Submit(id[4], KindGuard, id[5]), errs.ErrNotAlive)
	assert.ErrorIs(t, tg.Submit(id[5], KindFortune, id[0]), errs.ErrWrongRole)
	assert.ErrorIs(t, tg.Submit(id[0], KindAttack, id[1]), errs.ErrInvalidTarget)
	assert.ErrorIs(t, tg.Submit(id[0], KindAttack, id[4]), errs.ErrInvalidTarget)
	assert.ErrorIs(t, tg.Submit(id[5], KindVote, id[0]), errs.ErrWrongPhase)

	tg.Abort("test over")
	assert.ErrorIs(t, tg.Submit(id[0], KindAttack, id[5]), errs.ErrPhaseClosed)
	assert.ErrorIs(t, tg.advance(), errs.ErrPhaseClosed)
}

func TestSubmissionDuringResolutionIsPhaseClosed(t *testing.T) {
	store := &blockingStore{MemoryStore: history.NewMemoryStore(), entered: make(chan struct{}, 1), release: make(chan struct{})}
	tg := newTestGame(t, manualRules(), store, nil, role.Werewolf, role.Seer, role.Villager, role.Villager, role.Villager)
	tg.toDay(t)
	tg.vote(t, 2, 3)

	advanced := make(chan error, 1)
	go func() { advanced <- tg.advance() }()
	<-store.entered

	submitted := make(chan error, 1)
	go func() { submitted <- tg.Submit(tg.ids[4], KindVote, tg.ids[2]) }()
	time.Sleep(50 * time.Millisecond)
	close(store.release)

	require.NoError(t, <-advanced)
	assert.ErrorIs(t, <-submitted, errs.ErrPhaseClosed)
	assert.Equal(t, PhaseNight, tg.Snapshot().Phase)
}

func TestPersistFailureIsRetriedOnce(t *testing.T) {
	store := &flakyStore{MemoryStore: history.NewMemoryStore(), failures: 1}
	tg := newTestGame(t, manualRules(), store, nil, role.Werewolf, role.Seer, role.Villager, role.Villager, role.Villager)
	tg.toDay(t)
	tg.vote(t, 2, 3)
	require.NoError(t, tg.advance())

	assert.Equal(t, 2, store.calls)
	assert.Equal(t, PhaseNight, tg.Snapshot().Phase)
	saved, err := store.ListRecords(context.Background(), tg.ID, models.HistoryVote)
	require.NoError(t, err)
	assert.Len(t, saved, 1)
	assert.Equal(t, 1, saved[0].Seq)
}

func TestPersistFailureTwiceFreezes(t *testing.T) {
	store := &flakyStore{MemoryStore: history.NewMemoryStore(), failures: 2}
	var faults []error
	var ended []Result
	tg := newTestGame(t, manualRules(), store, func(g *Game) {
		g.OnFault = func(_ *Game, err error) { faults = append(faults, err) }
		g.OnGameEnd = func(_ *Game, r Result) { ended = append(ended, r) }
	}, role.Werewolf, role.Seer, role.Villager, role.Villager, role.Villager)
	tg.toDay(t)
	tg.vote(t, 2, 3)
	before := tg.Snapshot().Version
	require.NoError(t, tg.advance())

	snap := tg.Snapshot()
	assert.True(t, snap.Frozen)
	assert.Equal(t, PhaseDay, snap.Phase)
	assert.Equal(t, before, snap.Version)
	assert.Equal(t, StatusAlive, tg.status(3), "state is untouched")
	assert.Empty(t, snap.History)
	require.Len(t, faults, 1)
	assert.ErrorIs(t, faults[0], errs.ErrTransient)

	assert.ErrorIs(t, tg.advance(), errs.ErrGameFrozen)
	assert.ErrorIs(t, tg.Submit(tg.ids[4], KindVote, tg.ids[2]), errs.ErrGameFrozen)
	assert.False(t, tg.Advance(before))
	assert.Len(t, tg.mb.publicOf(EventGameFrozen), 1)

	tg.Abort("operator gave up")
	require.Len(t, ended, 1)
	assert.True(t, ended[0].Draw)
}

func TestLeaveCompletesPhase(t *testing.T) {
	var ended []Result
	tg := newTestGame(t, manualRules(), nil, func(g *Game) {
		g.OnGameEnd = func(_ *Game, r Result) { ended = append(ended, r) }
	}, role.Werewolf, role.Seer, role.Villager, role.Villager)
	tg.toDay(t)

	tg.vote(t, 0, 2)
	tg.vote(t, 1, 0)
	tg.vote(t, 2, 0)
	require.NoError(t, tg.Leave(tg.ids[3]))

	assert.Equal(t, StatusSpectator, tg.status(3))
	assert.Equal(t, StatusDead, tg.status(0))
	require.Len(t, ended, 1)
	assert.Equal(t, role.TeamVillage, ended[0].Winner)
	assert.ElementsMatch(t, []uuid.UUID{tg.ids[1], tg.ids[2]}, ended[0].Winners)
	assert.Equal(t, role.Werewolf, ended[0].Roles[tg.ids[0]])

	assert.NoError(t, tg.Leave(tg.ids[0]), "leaving after the end is a no-op")
	assert.ErrorIs(t, tg.Leave(uuid.New()), errs.ErrNotAPlayer)
}

func TestMaxDaysDraw(t *testing.T) {
	rules := manualRules()
	rules.MaxDays = 1
	tg := newTestGame(t, rules, nil, nil, role.Werewolf, role.Seer, role.Villager, role.Villager, role.Villager)
	tg.toNight(t)
	require.NoError(t, tg.advance())

	snap := tg.Snapshot()
	require.True(t, snap.Finished())
	assert.True(t, snap.Result.Draw)
	assert.Equal(t, "day limit reached", snap.Result.Reason)
}

func TestTimersDriveThePhases(t *testing.T) {
	rules := manualRules()
	rules.PreSec, rules.DaySec, rules.NightSec = 1, 1, 1
	tg := newTestGame(t, rules, nil, func(g *Game) { g.Unit = 20 * time.Millisecond },
		role.Werewolf, role.Seer, role.Villager, role.Villager, role.Villager)

	assert.Eventually(t, func() bool { return tg.Snapshot().Day >= 2 }, 2*time.Second, 5*time.Millisecond)
	tg.Abort("test over")
	final := tg.Snapshot().Version
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, final, tg.Snapshot().Version, "timers stop once finished")
}

func TestStoreIndexesByChannel(t *testing.T) {
	tg := newTestGame(t, manualRules(), nil, nil, role.Werewolf, role.Seer, role.Villager, role.Villager)
	s := NewStore()
	s.Add(tg.Game)

	g, ok := s.ByChannel(tg.ChannelID)
	require.True(t, ok)
	assert.Equal(t, tg.ID, g.ID)
	snap, ok := s.Snapshot(tg.ID)
	require.True(t, ok)
	assert.Equal(t, PhasePre, snap.Phase)

	s.Remove(tg.ID)
	_, ok = s.ByChannel(tg.ChannelID)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestRulesUpdate(t *testing.T) {
	r := DefaultRules()
	require.NoError(t, r.Update(map[string]interface{}{
		"daySec":           float64(90),
		"tieEliminatesAll": true,
		"composition":      map[string]interface{}{"werewolf": float64(1), "seer": float64(1), "villager": float64(3)},
	}))
	assert.Equal(t, 90, r.DaySec)
	assert.True(t, r.TieEliminatesAll)
	assert.NoError(t, r.Validate(5))
	assert.Error(t, r.Validate(6))

	assert.Error(t, r.Update(map[string]interface{}{"daySec": "long"}))
	assert.Error(t, r.Update(map[string]interface{}{"nightSec": float64(-1)}))
	assert.Error(t, r.Update(map[string]interface{}{"composition": map[string]interface{}{"ghost": float64(1)}}))
	assert.Equal(t, 5*time.Second, Rules{DaySec: 5}.PhaseDuration(PhaseDay, time.Second))
	assert.True(t, PhaseNight.CanTransitionTo(PhaseDay))
	assert.False(t, PhaseDay.CanTransitionTo(PhasePre))
}
