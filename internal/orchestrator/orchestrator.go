// internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/channel"
	"github.com/jason-s-yu/werewolf/internal/entry"
	"github.com/jason-s-yu/werewolf/internal/errs"
	"github.com/jason-s-yu/werewolf/internal/game"
	"github.com/jason-s-yu/werewolf/internal/history"
	"github.com/jason-s-yu/werewolf/internal/models"
	"github.com/jason-s-yu/werewolf/internal/router"
	"github.com/sirupsen/logrus"
)

// Publisher delivers an envelope to exactly the given users. Delivery is best
// effort to whoever is connected; the receiver set is never widened.
type Publisher interface {
	Publish(ctx context.Context, env models.Envelope, receivers []uuid.UUID)
}

// Options tune the orchestrator's lifecycle.
type Options struct {
	IdleTimeout     time.Duration // lobby channels untouched this long are evicted
	JanitorInterval time.Duration
	PhaseUnit       time.Duration // unit of the second-based rule durations
	MaxMessageLen   int           // in runes
}

func DefaultOptions() Options {
	return Options{
		IdleTimeout:     30 * time.Minute,
		JanitorInterval: time.Minute,
		PhaseUnit:       time.Second,
		MaxMessageLen:   1000,
	}
}

// Orchestrator is the process-wide owner of channels, rosters and games. Every
// transport operation goes through it with an already authenticated user.
type Orchestrator struct {
	Channels *channel.Registry
	Entries  *entry.Coordinator
	Games    *game.Store
	Router   *router.Router

	opts    Options
	history history.Store
	pub     Publisher
	log     *logrus.Logger
	now     func() time.Time

	// OnFault is the operator hook for games frozen by a persistence fault.
	OnFault func(gameID, channelID uuid.UUID, err error)
}

func New(opts Options, defaults game.Rules, store history.Store, pub Publisher, logger *logrus.Logger) *Orchestrator {
	o := &Orchestrator{
		Channels: channel.NewRegistry(defaults, logger),
		Games:    game.NewStore(),
		opts:     opts,
		history:  store,
		pub:      pub,
		log:      logger,
		now:      time.Now,
	}
	o.Entries = entry.NewCoordinator(o, logger)
	o.Entries.OnChange = o.rosterChanged
	o.Entries.OnComplete = o.startGame
	o.Router = router.New(o.Channels, o.Games)
	return o
}

// SetClock replaces the time source of the orchestrator and its registry.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
	o.Channels.SetClock(now)
}

// Admission implements entry.Channels.
func (o *Orchestrator) Admission(channelID, userID uuid.UUID) (bool, int, error) {
	ch, err := o.Channels.Get(channelID)
	if err != nil {
		return false, 0, err
	}
	return ch.IsMember(userID), ch.Capacity(), nil
}

// Run evicts idle channels and finished games until ctx is cancelled, then
// aborts every game still running.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.opts.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			for _, g := range o.Games.All() {
				g.Abort("server shutting down")
			}
			return nil
		case <-ticker.C:
			o.Sweep()
		}
	}
}

// Sweep runs one eviction pass.
func (o *Orchestrator) Sweep() {
	for _, id := range o.Channels.EvictIdle(o.opts.IdleTimeout) {
		o.Entries.Forget(id)
		o.log.WithField("channel", id).Info("evicted idle channel")
	}
	cutoff := o.now().Add(-o.opts.IdleTimeout)
	pruned := o.Games.Prune(func(g *game.Game) bool {
		s := g.Snapshot()
		return s.Finished() && s.PhaseStartedAt.Before(cutoff)
	})
	if len(pruned) > 0 {
		o.log.WithField("games", len(pruned)).Debug("pruned finished games")
	}
}

func (o *Orchestrator) publish(channelID uuid.UUID, typ string, payload interface{}, receivers []uuid.UUID) {
	if o.pub == nil || len(receivers) == 0 {
		return
	}
	o.pub.Publish(context.Background(), models.Envelope{Type: typ, ChannelID: channelID, Payload: payload}, receivers)
}

func (o *Orchestrator) publishToMembers(channelID uuid.UUID, typ string, payload interface{}) {
	view, err := o.Channels.Lookup(channelID)
	if err != nil {
		return
	}
	o.publish(channelID, typ, payload, view.MemberIDs())
}

func (o *Orchestrator) rosterChanged(snap entry.Snapshot) {
	o.publishToMembers(snap.ChannelID, models.EnvelopeRoster, snap)
}

// startGame turns a finalized roster into a running game.
func (o *Orchestrator) startGame(channelID uuid.UUID, players []uuid.UUID) {
	log := o.log.WithField("channel", channelID)
	ch, err := o.Channels.Get(channelID)
	if err != nil {
		log.WithError(err).Warn("roster completed for a missing channel")
		o.Entries.Forget(channelID)
		return
	}
	g, err := game.NewGame(channelID, players, ch.View().Rules, o.history, o.log)
	if err != nil {
		log.WithError(err).Error("cannot start game")
		o.publish(channelID, models.EnvelopeError, errorPayload(err), players)
		o.Entries.Reopen(channelID)
		return
	}
	g.Unit = o.opts.PhaseUnit
	g.BroadcastFn = func(ev game.Event) {
		o.publishToMembers(channelID, string(ev.Type), ev)
	}
	g.SendFn = func(receivers []uuid.UUID, ev game.Event) {
		o.publish(channelID, string(ev.Type), ev, receivers)
	}
	g.OnGameEnd = o.gameEnded
	g.OnFault = o.gameFaulted

	if err := ch.AttachGame(g.ID, o.now()); err != nil {
		log.WithError(err).Error("channel refused the new game")
		o.Entries.Reopen(channelID)
		return
	}
	o.Games.Add(g)
	o.publishToMembers(channelID, models.EnvelopeGameStarted, map[string]interface{}{"gameId": g.ID, "players": players})
	if err := g.Begin(); err != nil {
		log.WithError(err).Error("cannot begin game")
		ch.DetachGame(g.ID, o.now())
		o.Games.Remove(g.ID)
		o.Entries.Reopen(channelID)
	}
}

// gameEnded returns the channel to lobby mode.
func (o *Orchestrator) gameEnded(g *game.Game, res game.Result) {
	o.log.WithFields(logrus.Fields{"channel": g.ChannelID, "game": g.ID, "winner": res.Winner, "draw": res.Draw}).Info("game over")
	ch, err := o.Channels.Get(g.ChannelID)
	if err != nil {
		return
	}
	ch.DetachGame(g.ID, o.now())
	o.Entries.Reopen(g.ChannelID)
	o.publishToMembers(g.ChannelID, models.EnvelopeChannel, ch.View())
}

func (o *Orchestrator) gameFaulted(g *game.Game, err error) {
	o.log.WithError(err).WithFields(logrus.Fields{"channel": g.ChannelID, "game": g.ID}).Error("game frozen; operator attention required")
	if o.OnFault != nil {
		o.OnFault(g.ID, g.ChannelID, err)
	}
}

func errorPayload(err error) map[string]interface{} {
	if e, ok := errs.As(err); ok {
		return map[string]interface{}{"code": e.Code, "reason": e.Reason}
	}
	return map[string]interface{}{"code": "internal", "reason": err.Error()}
}

// CreateChannel opens a channel with admin as its first member.
func (o *Orchestrator) CreateChannel(admin models.User, p channel.Params) (channel.View, error) {
	ch, err := o.Channels.Create(admin, p)
	if err != nil {
		return channel.View{}, err
	}
	return ch.View(), nil
}

// DeleteChannel aborts any running game and tells the former members.
func (o *Orchestrator) DeleteChannel(adminID, channelID uuid.UUID) error {
	ch, err := o.Channels.Delete(adminID, channelID)
	if err != nil {
		return err
	}
	if g, ok := o.Games.ByChannel(channelID); ok {
		g.Abort("channel deleted")
	}
	o.Entries.Forget(channelID)
	view := ch.View()
	o.publish(channelID, models.EnvelopeChannelDeleted, map[string]interface{}{"channelId": channelID}, view.MemberIDs())
	return nil
}

// Join admits user to a channel.
func (o *Orchestrator) Join(user models.User, channelID uuid.UUID, password string) (channel.View, error) {
	ch, err := o.Channels.Get(channelID)
	if err != nil {
		return channel.View{}, err
	}
	wasMember := ch.IsMember(user.ID)
	if err := ch.Join(user, password, o.now()); err != nil {
		return channel.View{}, err
	}
	if !wasMember {
		o.publishToMembers(channelID, models.EnvelopeMemberJoined, map[string]interface{}{"userId": user.ID, "username": user.Username})
	}
	return ch.View(), nil
}

// Leave removes userID from the channel, its roster and its running game.
func (o *Orchestrator) Leave(userID, channelID uuid.UUID) error {
	ch, err := o.Channels.Get(channelID)
	if err != nil {
		return err
	}
	if !ch.Leave(userID, o.now()) {
		return errs.ErrNotAMember
	}
	o.departed(userID, channelID)
	return nil
}

// Block bans userID; a blocked member is removed as if they had left.
func (o *Orchestrator) Block(adminID, channelID, userID uuid.UUID) error {
	ch, err := o.Channels.Get(channelID)
	if err != nil {
		return err
	}
	wasMember, err := ch.Block(adminID, userID, o.now())
	if err != nil {
		return err
	}
	if wasMember {
		o.departed(userID, channelID)
	}
	return nil
}

func (o *Orchestrator) departed(userID, channelID uuid.UUID) {
	o.Entries.Drop(channelID, userID)
	if g, ok := o.Games.ByChannel(channelID); ok {
		if err := g.Leave(userID); err != nil && !errors.Is(err, errs.ErrNotAPlayer) {
			o.log.WithError(err).WithFields(logrus.Fields{"channel": channelID, "user": userID}).Warn("game leave failed")
		}
	}
	o.publishToMembers(channelID, models.EnvelopeMemberLeft, map[string]interface{}{"userId": userID})
}

// UpdateSettings changes channel settings. The capacity may not drop below
// the number of players already registered.
func (o *Orchestrator) UpdateSettings(adminID, channelID uuid.UUID, settings map[string]interface{}) (channel.View, error) {
	ch, err := o.Channels.Get(channelID)
	if err != nil {
		return channel.View{}, err
	}
	if raw, ok := settings["capacity"]; ok && raw != nil && ch.AdminID == adminID {
		if n, err := game.AsInt(raw); err == nil {
			if registered := len(o.Entries.Snapshot(channelID).Entries); n < registered {
				return channel.View{}, errs.ErrInvalidRules.WithReason("capacity %d is below the %d registered players", n, registered)
			}
		}
	}
	if err := ch.UpdateSettings(adminID, settings, o.now()); err != nil {
		return channel.View{}, err
	}
	view := ch.View()
	o.publishToMembers(channelID, models.EnvelopeChannel, view)
	o.Entries.Refresh(channelID)
	return view, nil
}

// Register enters userID into the next game of a channel.
func (o *Orchestrator) Register(channelID, userID uuid.UUID) error {
	if err := o.Entries.Register(channelID, userID); err != nil {
		return err
	}
	o.touch(channelID)
	return nil
}

// Cancel withdraws a registration.
func (o *Orchestrator) Cancel(channelID, userID uuid.UUID) error {
	if err := o.Entries.Cancel(channelID, userID); err != nil {
		return err
	}
	o.touch(channelID)
	return nil
}

func (o *Orchestrator) touch(channelID uuid.UUID) {
	if ch, err := o.Channels.Get(channelID); err == nil {
		ch.Touch(o.now())
	}
}

// liveGame returns the game currently attached to a channel.
func (o *Orchestrator) liveGame(channelID uuid.UUID) (*channel.Channel, *game.Game, error) {
	ch, err := o.Channels.Get(channelID)
	if err != nil {
		return nil, nil, err
	}
	g, ok := o.Games.ByChannel(channelID)
	if !ok || ch.GameID() != g.ID {
		return ch, nil, errs.ErrWrongPhase.WithReason("no game in progress")
	}
	return ch, g, nil
}

// Submit records a vote, fortune, guard or attack.
func (o *Orchestrator) Submit(channelID, actor uuid.UUID, kind game.Kind, target uuid.UUID) error {
	_, g, err := o.liveGame(channelID)
	if err != nil {
		return err
	}
	return g.Submit(actor, kind, target)
}

// ForceAdvance lets the channel admin end the phase identified by version
// early. Repeated requests for the same phase close it only once.
func (o *Orchestrator) ForceAdvance(adminID, channelID uuid.UUID, version uint64) error {
	ch, g, err := o.liveGame(channelID)
	if ch != nil && ch.AdminID != adminID {
		return errs.ErrNotAdmin
	}
	if err != nil {
		return err
	}
	return g.ForceAdvance(version)
}

// AbortGame lets the channel admin end the running game as a draw, including
// one frozen by a persistence fault.
func (o *Orchestrator) AbortGame(adminID, channelID uuid.UUID) error {
	ch, g, err := o.liveGame(channelID)
	if ch != nil && ch.AdminID != adminID {
		return errs.ErrNotAdmin
	}
	if err != nil {
		return err
	}
	g.Abort("aborted by admin")
	return nil
}

// PostMessage routes, persists and publishes a chat message.
func (o *Orchestrator) PostMessage(ctx context.Context, channelID, sender uuid.UUID, declared router.MessageType, body string) (models.ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" || utf8.RuneCountInString(body) > o.opts.MaxMessageLen {
		return models.ChatMessage{}, errs.ErrBadMessage
	}
	d, err := o.Router.Route(channelID, sender, declared)
	if err != nil {
		return models.ChatMessage{}, err
	}
	msg := models.ChatMessage{
		ID:        uuid.New(),
		ChannelID: channelID,
		GameID:    d.GameID,
		SenderID:  sender,
		Type:      string(d.Type),
		Body:      body,
		Day:       d.Day,
		Phase:     string(d.Phase),
		SentAt:    o.now(),
		Receivers: d.Receivers,
	}
	if err := o.history.SaveMessage(ctx, msg); err != nil {
		o.log.WithError(err).WithField("channel", channelID).Warn("failed to save chat message")
		return models.ChatMessage{}, errs.ErrTransient.Wrap(fmt.Errorf("save message: %w", err))
	}
	if o.pub != nil {
		o.pub.Publish(ctx, models.Envelope{Type: models.EnvelopeChat, ChannelID: channelID, Payload: msg}, d.Receivers)
	}
	o.touch(channelID)
	return msg, nil
}

// History returns the records of kind viewer may read. Live and recently
// finished games are filtered from their snapshot; older games are read from
// the history store and are, being over, fully visible to their participants
// and channel members.
func (o *Orchestrator) History(ctx context.Context, viewer, gameID uuid.UUID, kind models.HistoryKind) ([]models.HistoryRecord, error) {
	if g, ok := o.Games.Get(gameID); ok {
		snap := g.Snapshot()
		if _, isPlayer := snap.Player(viewer); !isPlayer && !o.isMember(snap.ChannelID, viewer) {
			return nil, errs.ErrNotAMember
		}
		return snap.HistoryFor(viewer, kind), nil
	}

	records, err := o.history.ListRecords(ctx, gameID, kind)
	if err != nil {
		return nil, errs.ErrTransient.Wrap(fmt.Errorf("list %s records: %w", kind, err))
	}
	if len(records) == 0 {
		return []models.HistoryRecord{}, nil
	}
	if !o.isMember(records[0].ChannelID, viewer) && !involved(records, viewer) {
		return nil, errs.ErrNotAMember
	}
	return records, nil
}

func (o *Orchestrator) isMember(channelID, userID uuid.UUID) bool {
	ch, err := o.Channels.Get(channelID)
	return err == nil && ch.IsMember(userID)
}

func involved(records []models.HistoryRecord, userID uuid.UUID) bool {
	for _, r := range records {
		if r.Actor == userID || r.Target == userID {
			return true
		}
		for _, v := range r.Voters {
			if v == userID {
				return true
			}
		}
	}
	return false
}

// State is the full current state a client needs after (re)connecting.
type State struct {
	Channel   channel.View         `json:"channel"`
	Roster    entry.Snapshot       `json:"roster"`
	Game      *game.View           `json:"game,omitempty"`
	Permitted []router.MessageType `json:"permitted"`
}

// State returns viewer's filtered view of a channel. The most recent game is
// included even after it finished.
func (o *Orchestrator) State(viewer, channelID uuid.UUID) (State, error) {
	view, audience, err := o.Router.Audience(channelID)
	if err != nil {
		return State{}, errs.ErrUnknownChannel
	}
	if !view.IsMember(viewer) {
		return State{}, errs.ErrNotAMember
	}
	st := State{
		Channel:   view,
		Roster:    o.Entries.Snapshot(channelID),
		Permitted: router.Permitted(audience, viewer),
	}
	if g, ok := o.Games.ByChannel(channelID); ok {
		gv := g.Snapshot().ViewFor(viewer)
		st.Game = &gv
	}
	return st, nil
}
