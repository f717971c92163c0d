package orchestrator

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/channel"
	"github.com/jason-s-yu/werewolf/internal/errs"
	"github.com/jason-s-yu/werewolf/internal/game"
	"github.com/jason-s-yu/werewolf/internal/history"
	"github.com/jason-s-yu/werewolf/internal/models"
	"github.com/jason-s-yu/werewolf/internal/role"
	"github.com/jason-s-yu/werewolf/internal/router"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	env       models.Envelope
	receivers []uuid.UUID
}

// mockPublisher records every publish instead of writing to sockets.
type mockPublisher struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (m *mockPublisher) Publish(_ context.Context, env models.Envelope, receivers []uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, delivery{env: env, receivers: append([]uuid.UUID(nil), receivers...)})
}

// received lists the envelopes of type typ delivered to user.
func (m *mockPublisher) received(user uuid.UUID, typ string) []models.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Envelope
	for _, d := range m.deliveries {
		if d.env.Type != typ {
			continue
		}
		for _, r := range d.receivers {
			if r == user {
				out = append(out, d.env)
				break
			}
		}
	}
	return out
}

type brokenStore struct{ *history.MemoryStore }

func (brokenStore) SaveRecords(context.Context, []models.HistoryRecord) error {
	return errors.New("disk on fire")
}

type fixture struct {
	o       *Orchestrator
	pub     *mockPublisher
	store   *history.MemoryStore
	admin   models.User
	members []models.User // admin first
	ch      uuid.UUID
}

func manualRules() game.Rules {
	r := game.DefaultRules()
	r.PreSec, r.DaySec, r.NightSec = 0, 0, 0
	return r
}

// newFixture creates a channel of the given capacity with that many members.
func newFixture(t *testing.T, capacity int, store history.Store) fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	mem := history.NewMemoryStore()
	if store == nil {
		store = mem
	}
	pub := &mockPublisher{}
	o := New(DefaultOptions(), manualRules(), store, pub, logger)

	admin := models.User{ID: uuid.New(), Username: "admin"}
	view, err := o.CreateChannel(admin, channel.Params{Name: "hamlet", Capacity: capacity})
	require.NoError(t, err)

	f := fixture{o: o, pub: pub, store: mem, admin: admin, members: []models.User{admin}, ch: view.ID}
	for len(f.members) < capacity {
		u := models.User{ID: uuid.New(), Username: "villager"}
		_, err := o.Join(u, view.ID, "")
		require.NoError(t, err)
		f.members = append(f.members, u)
	}
	return f
}

// fillRoster registers every member and returns the game that starts.
func (f fixture) fillRoster(t *testing.T) *game.Game {
	t.Helper()
	for _, m := range f.members {
		require.NoError(t, f.o.Register(f.ch, m.ID))
	}
	g, ok := f.o.Games.ByChannel(f.ch)
	require.True(t, ok)
	return g
}

// advance has the admin close the phase the game is currently in.
func (f fixture) advance(g *game.Game) error {
	return f.o.ForceAdvance(f.admin.ID, f.ch, g.Snapshot().Version)
}

func withRole(s *game.Snapshot, r role.Role) []uuid.UUID {
	var out []uuid.UUID
	for _, p := range s.Players {
		if p.Role == r {
			out = append(out, p.ID)
		}
	}
	return out
}

func TestFullRosterStartsGameAndVillageWins(t *testing.T) {
	f := newFixture(t, 4, nil)
	g := f.fillRoster(t)

	view, err := f.o.Channels.Lookup(f.ch)
	require.NoError(t, err)
	assert.Equal(t, g.ID, view.GameID)
	snap := g.Snapshot()
	assert.Equal(t, game.PhasePre, snap.Phase)
	for _, m := range f.members {
		assert.Len(t, f.pub.received(m.ID, string(game.EventPrivateRole)), 1)
		assert.NotEmpty(t, f.pub.received(m.ID, models.EnvelopeGameStarted))
	}

	extra := models.User{ID: uuid.New(), Username: "late"}
	_, err = f.o.Join(extra, f.ch, "")
	require.NoError(t, err)
	assert.ErrorIs(t, f.o.Register(f.ch, extra.ID), errs.ErrRosterFull)

	wolf := withRole(snap, role.Werewolf)[0]
	assert.ErrorIs(t, f.o.Submit(f.ch, wolf, game.KindVote, f.admin.ID), errs.ErrWrongPhase)
	assert.ErrorIs(t, f.o.ForceAdvance(extra.ID, f.ch, snap.Version), errs.ErrNotAdmin)
	require.NoError(t, f.advance(g))

	var other uuid.UUID
	for _, p := range snap.Players {
		if p.ID != wolf {
			other = p.ID
			break
		}
	}
	for _, p := range snap.Players {
		target := wolf
		if p.ID == wolf {
			target = other
		}
		require.NoError(t, f.o.Submit(f.ch, p.ID, game.KindVote, target))
	}

	final := g.Snapshot()
	require.True(t, final.Finished())
	assert.Equal(t, role.TeamVillage, final.Result.Winner)

	view, err = f.o.Channels.Lookup(f.ch)
	require.NoError(t, err)
	assert.False(t, view.InGame())
	assert.Empty(t, f.o.Entries.Snapshot(f.ch).Entries)
	assert.False(t, f.o.Entries.Snapshot(f.ch).Finalized)
	assert.NotEmpty(t, f.pub.received(extra.ID, string(game.EventGameEnd)))
	assert.NotEmpty(t, f.pub.received(extra.ID, models.EnvelopeChannel))

	assert.ErrorIs(t, f.o.Submit(f.ch, wolf, game.KindVote, other), errs.ErrWrongPhase)
	assert.NoError(t, f.o.Register(f.ch, extra.ID), "roster reopens after the game")
}

func TestRepeatedAdvanceClosesOnePhase(t *testing.T) {
	f := newFixture(t, 4, nil)
	g := f.fillRoster(t)
	seen := g.Snapshot().Version

	require.NoError(t, f.o.ForceAdvance(f.admin.ID, f.ch, seen))
	assert.ErrorIs(t, f.o.ForceAdvance(f.admin.ID, f.ch, seen), errs.ErrPhaseClosed)
	snap := g.Snapshot()
	assert.Equal(t, game.PhaseDay, snap.Phase, "a retried advance must not skip the day")
	assert.Equal(t, 1, snap.Day)
}

func TestChatRoutingThroughOrchestrator(t *testing.T) {
	f := newFixture(t, 4, nil)
	ctx := context.Background()

	msg, err := f.o.PostMessage(ctx, f.ch, f.members[1].ID, router.TypePublic, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Body)
	assert.Len(t, msg.Receivers, 4)
	assert.Len(t, f.store.Messages(f.ch), 1)

	_, err = f.o.PostMessage(ctx, f.ch, uuid.New(), router.TypePublic, "hi")
	assert.ErrorIs(t, err, errs.ErrForbidden)
	_, err = f.o.PostMessage(ctx, uuid.New(), f.admin.ID, router.TypePublic, "hi")
	assert.ErrorIs(t, err, errs.ErrForbidden)
	_, err = f.o.PostMessage(ctx, f.ch, f.admin.ID, router.TypePublic, "   ")
	assert.ErrorIs(t, err, errs.ErrBadMessage)

	g := f.fillRoster(t)
	snap := g.Snapshot()
	wolf := withRole(snap, role.Werewolf)[0]
	seer := withRole(snap, role.Seer)[0]
	villagers := withRole(snap, role.Villager)

	// Night of day 1: the wolf kills villagers[0].
	require.NoError(t, f.advance(g))
	require.NoError(t, f.advance(g))
	require.Equal(t, game.PhaseNight, g.Snapshot().Phase)

	msg, err = f.o.PostMessage(ctx, f.ch, wolf, router.TypeWerewolf, "tonight")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{wolf}, msg.Receivers)
	assert.Equal(t, g.ID, msg.GameID)

	require.NoError(t, f.o.Submit(f.ch, seer, game.KindFortune, villagers[1]))
	require.NoError(t, f.o.Submit(f.ch, wolf, game.KindAttack, villagers[0]))
	require.Equal(t, game.PhaseDay, g.Snapshot().Phase)

	dead := villagers[0]
	_, err = f.o.PostMessage(ctx, f.ch, dead, router.TypeAlive, "boo")
	assert.ErrorIs(t, err, errs.ErrForbidden)
	msg, err = f.o.PostMessage(ctx, f.ch, dead, router.TypeDead, "boo")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{dead}, msg.Receivers)
	for _, env := range f.pub.received(wolf, models.EnvelopeChat) {
		assert.NotEqual(t, "boo", env.Payload.(models.ChatMessage).Body, "the living never read the graveyard")
	}
}

func TestHistoryVisibility(t *testing.T) {
	f := newFixture(t, 4, nil)
	ctx := context.Background()
	g := f.fillRoster(t)
	snap := g.Snapshot()
	wolf := withRole(snap, role.Werewolf)[0]
	seer := withRole(snap, role.Seer)[0]
	villagers := withRole(snap, role.Villager)

	require.NoError(t, f.advance(g))
	require.NoError(t, f.advance(g))
	require.NoError(t, f.o.Submit(f.ch, seer, game.KindFortune, wolf))
	require.NoError(t, f.o.Submit(f.ch, wolf, game.KindAttack, villagers[0]))

	recs, err := f.o.History(ctx, villagers[1], g.ID, models.HistoryFortune)
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = f.o.History(ctx, seer, g.ID, models.HistoryFortune)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "werewolf", recs[0].Result)

	recs, err = f.o.History(ctx, villagers[0], g.ID, models.HistoryFortune)
	require.NoError(t, err)
	assert.Len(t, recs, 1, "the dead see everything")

	_, err = f.o.History(ctx, uuid.New(), g.ID, models.HistoryAttack)
	assert.ErrorIs(t, err, errs.ErrNotAMember)

	// Once the game is evicted from memory the durable copy is served.
	f.o.Games.Remove(g.ID)
	recs, err = f.o.History(ctx, villagers[1], g.ID, models.HistoryAttack)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestStateForViewer(t *testing.T) {
	f := newFixture(t, 4, nil)
	st, err := f.o.State(f.members[2].ID, f.ch)
	require.NoError(t, err)
	assert.Nil(t, st.Game)
	assert.Equal(t, []router.MessageType{router.TypePublic}, st.Permitted)

	g := f.fillRoster(t)
	villager := withRole(g.Snapshot(), role.Villager)[0]
	st, err = f.o.State(villager, f.ch)
	require.NoError(t, err)
	require.NotNil(t, st.Game)
	require.NotNil(t, st.Game.Self)
	assert.Equal(t, role.Villager, st.Game.Self.Role)
	assert.True(t, st.Roster.Finalized)
	assert.Equal(t, []router.MessageType{router.TypeAlive}, st.Permitted)

	_, err = f.o.State(uuid.New(), f.ch)
	assert.ErrorIs(t, err, errs.ErrNotAMember)
	_, err = f.o.State(villager, uuid.New())
	assert.ErrorIs(t, err, errs.ErrUnknownChannel)
}

func TestLeaveDuringGame(t *testing.T) {
	f := newFixture(t, 4, nil)
	g := f.fillRoster(t)
	villager := withRole(g.Snapshot(), role.Villager)[0]

	require.NoError(t, f.o.Leave(villager, f.ch))
	p, _ := g.Snapshot().Player(villager)
	assert.Equal(t, game.StatusSpectator, p.Status)
	assert.NotEmpty(t, f.pub.received(f.admin.ID, models.EnvelopeMemberLeft))
	assert.ErrorIs(t, f.o.Leave(villager, f.ch), errs.ErrNotAMember)
}

func TestLeaveDropsRegistration(t *testing.T) {
	f := newFixture(t, 5, nil)
	require.NoError(t, f.o.Register(f.ch, f.members[1].ID))
	require.NoError(t, f.o.Leave(f.members[1].ID, f.ch))
	assert.Empty(t, f.o.Entries.Snapshot(f.ch).Entries)
	assert.NotEmpty(t, f.pub.received(f.admin.ID, models.EnvelopeRoster))
}

func TestCapacityCannotDropBelowRegistrations(t *testing.T) {
	f := newFixture(t, 6, nil)
	for _, m := range f.members[:5] {
		require.NoError(t, f.o.Register(f.ch, m.ID))
	}
	_, err := f.o.UpdateSettings(f.admin.ID, f.ch, map[string]interface{}{"capacity": float64(4)})
	assert.ErrorIs(t, err, errs.ErrInvalidRules)

	view, err := f.o.UpdateSettings(f.admin.ID, f.ch, map[string]interface{}{"capacity": float64(5)})
	require.NoError(t, err)
	assert.Equal(t, 5, view.Capacity)
	_, started := f.o.Games.ByChannel(f.ch)
	assert.True(t, started, "a roster that already fills the new capacity is finalized")

	_, err = f.o.UpdateSettings(f.members[1].ID, f.ch, map[string]interface{}{"name": "mine"})
	assert.ErrorIs(t, err, errs.ErrNotAdmin)
}

func TestDeleteChannelAbortsGame(t *testing.T) {
	f := newFixture(t, 4, nil)
	g := f.fillRoster(t)

	assert.ErrorIs(t, f.o.DeleteChannel(f.members[1].ID, f.ch), errs.ErrNotAdmin)
	require.NoError(t, f.o.DeleteChannel(f.admin.ID, f.ch))

	snap := g.Snapshot()
	require.True(t, snap.Finished())
	assert.True(t, snap.Result.Draw)
	assert.Equal(t, "channel deleted", snap.Result.Reason)
	assert.NotEmpty(t, f.pub.received(f.members[3].ID, models.EnvelopeChannelDeleted))
	_, err := f.o.Channels.Get(f.ch)
	assert.ErrorIs(t, err, errs.ErrUnknownChannel)
}

func TestFrozenGameCanBeAborted(t *testing.T) {
	f := newFixture(t, 4, brokenStore{history.NewMemoryStore()})
	var faulted []uuid.UUID
	f.o.OnFault = func(gameID, _ uuid.UUID, _ error) { faulted = append(faulted, gameID) }
	g := f.fillRoster(t)
	snap := g.Snapshot()
	wolf := withRole(snap, role.Werewolf)[0]
	seer := withRole(snap, role.Seer)[0]

	require.NoError(t, f.advance(g))
	require.NoError(t, f.o.Submit(f.ch, seer, game.KindVote, wolf))
	require.NoError(t, f.advance(g))

	assert.True(t, g.Snapshot().Frozen)
	assert.Equal(t, []uuid.UUID{g.ID}, faulted)
	assert.ErrorIs(t, f.o.Submit(f.ch, wolf, game.KindVote, seer), errs.ErrGameFrozen)

	assert.ErrorIs(t, f.o.AbortGame(f.members[1].ID, f.ch), errs.ErrNotAdmin)
	require.NoError(t, f.o.AbortGame(f.admin.ID, f.ch))
	view, err := f.o.Channels.Lookup(f.ch)
	require.NoError(t, err)
	assert.False(t, view.InGame())
}

func TestSweepEvictsIdleChannels(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	o := New(DefaultOptions(), manualRules(), history.NewMemoryStore(), &mockPublisher{}, logger)
	now := time.Unix(1_700_000_000, 0)
	o.SetClock(func() time.Time { return now })

	admin := models.User{ID: uuid.New(), Username: "admin"}
	idle, err := o.CreateChannel(admin, channel.Params{Capacity: 4})
	require.NoError(t, err)
	now = now.Add(20 * time.Minute)
	busy, err := o.CreateChannel(admin, channel.Params{Capacity: 4})
	require.NoError(t, err)

	now = now.Add(15 * time.Minute)
	o.Sweep()

	_, err = o.Channels.Get(idle.ID)
	assert.ErrorIs(t, err, errs.ErrUnknownChannel)
	_, err = o.Channels.Get(busy.ID)
	assert.NoError(t, err)
}

func TestRunAbortsGamesOnShutdown(t *testing.T) {
	f := newFixture(t, 4, nil)
	g := f.fillRoster(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.o.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)
	assert.True(t, g.Snapshot().Finished())
}
