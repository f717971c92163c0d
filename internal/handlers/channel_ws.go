// internal/handlers/channel_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/errs"
	"github.com/jason-s-yu/werewolf/internal/hub"
	"github.com/jason-s-yu/werewolf/internal/middleware"
	"github.com/jason-s-yu/werewolf/internal/models"
	"github.com/jason-s-yu/werewolf/internal/router"
	"github.com/sirupsen/logrus"
)

// Subprotocol is the websocket subprotocol clients must request.
const Subprotocol = "werewolf"

const (
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
)

// errLeft ends the read loop after the user leaves the channel.
var errLeft = errors.New("left channel")

// channelWSHandler attaches an authenticated member to a channel. The first
// envelope sent is the member's full state; everything after it is pushed by
// the hub or is a reply to an inbound action.
func (s *Server) channelWSHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	channelID := channelFrom(r)

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: s.AllowedOrigins,
	})
	if err != nil {
		s.log.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != Subprotocol {
		c.Close(BadSubprotocolError, "client must speak the werewolf subprotocol")
		return
	}

	st, err := s.orch.State(user.ID, channelID)
	if err != nil {
		if errors.Is(err, errs.ErrUnknownChannel) {
			c.Close(InvalidChannelIDError, "channel does not exist")
		} else {
			c.Close(NotAMemberError, "join the channel first")
		}
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	conn := s.hub.Register(user.ID, channelID, cancel)
	middleware.LogWebSocketConnect(s.log, r.RemoteAddr, r.URL.Path)

	s.reply(ctx, c, models.Envelope{Type: models.EnvelopeState, ChannelID: channelID, Payload: st})
	go s.writePump(ctx, c, conn)

	err = s.readPump(ctx, c, user, channelID)

	cancel()
	s.hub.Unregister(conn)
	middleware.LogWebSocketDisconnect(s.log, r.RemoteAddr, r.URL.Path, err)

	switch {
	case conn.Dropped():
		c.Close(SlowConsumerError, "outbox overflow, reconnect")
	case errors.Is(err, errLeft):
		c.Close(websocket.StatusNormalClosure, "left channel")
	default:
		c.Close(websocket.StatusNormalClosure, "")
	}
}

// writePump drains the hub outbox onto the socket and keeps it alive with pings.
func (s *Server) writePump(ctx context.Context, c *websocket.Conn, conn *hub.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-conn.Out:
			if !ok {
				return
			}
			if err := s.write(ctx, c, env); err != nil {
				s.log.WithFields(logrus.Fields{"user": conn.UserID, "channel": conn.ChannelID}).
					Warnf("failed to write to websocket: %v", err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, c *websocket.Conn, env models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.Write(writeCtx, websocket.MessageText, data)
}

// reply sends a direct response. Failures surface on the next read.
func (s *Server) reply(ctx context.Context, c *websocket.Conn, env models.Envelope) {
	if err := s.write(ctx, c, env); err != nil {
		s.log.Debugf("websocket reply failed: %v", err)
	}
}

func (s *Server) replyError(ctx context.Context, c *websocket.Conn, channelID uuid.UUID, err error) {
	if _, typed := errs.As(err); !typed {
		s.log.WithFields(logrus.Fields{"channel": channelID}).Errorf("websocket action failed: %v", err)
	}
	s.reply(ctx, c, models.Envelope{Type: models.EnvelopeError, ChannelID: channelID, Payload: errorBody(err)})
}

// readPump handles inbound actions until the socket closes or the user leaves.
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, user models.User, channelID uuid.UUID) error {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		var action models.GameAction
		if err := json.Unmarshal(msg, &action); err != nil {
			s.reply(ctx, c, models.Envelope{
				Type:      models.EnvelopeError,
				ChannelID: channelID,
				Payload:   map[string]string{"code": "bad_request", "reason": "invalid JSON"},
			})
			continue
		}

		reply, err := s.handleAction(ctx, user, channelID, action)
		if errors.Is(err, errLeft) {
			return err
		}
		if err != nil {
			s.replyError(ctx, c, channelID, err)
			continue
		}
		if reply != nil {
			s.reply(ctx, c, *reply)
		}
	}
}

// handleAction runs one inbound action. Successful mutations are announced
// through the hub, so only queries produce a direct reply.
func (s *Server) handleAction(ctx context.Context, user models.User, channelID uuid.UUID, a models.GameAction) (*models.Envelope, error) {
	switch a.Type {
	case models.ActionSubmit:
		kind, target, ok := parseSubmission(a.Kind, a.Target)
		if !ok {
			return nil, errs.ErrInvalidTarget.WithReason("invalid kind or target")
		}
		return nil, s.orch.Submit(channelID, user.ID, kind, target)

	case models.ActionChat:
		mt, ok := router.ParseMessageType(a.Channel)
		if !ok {
			return nil, errs.ErrForbidden.WithReason("unknown message type %q", a.Channel)
		}
		_, err := s.orch.PostMessage(ctx, channelID, user.ID, mt, a.Body)
		return nil, err

	case models.ActionRegister:
		return nil, s.orch.Register(channelID, user.ID)

	case models.ActionCancel:
		return nil, s.orch.Cancel(channelID, user.ID)

	case models.ActionAdvance:
		return nil, s.orch.ForceAdvance(user.ID, channelID, a.Version)

	case models.ActionAbort:
		return nil, s.orch.AbortGame(user.ID, channelID)

	case models.ActionState:
		st, err := s.orch.State(user.ID, channelID)
		if err != nil {
			return nil, err
		}
		return &models.Envelope{Type: models.EnvelopeState, ChannelID: channelID, Payload: st}, nil

	case models.ActionHistory:
		return s.history(ctx, user, channelID, a)

	case models.ActionLeave:
		if err := s.orch.Leave(user.ID, channelID); err != nil {
			return nil, err
		}
		return nil, errLeft
	}
	return nil, errs.ErrForbidden.WithReason("unknown action type %q", a.Type)
}

// history answers a history query. Without a game id the channel's current
// or most recent game is used.
func (s *Server) history(ctx context.Context, user models.User, channelID uuid.UUID, a models.GameAction) (*models.Envelope, error) {
	kind, ok := models.ParseHistoryKind(a.Kind)
	if !ok {
		return nil, errs.ErrInvalidTarget.WithReason("unknown history kind %q", a.Kind)
	}
	var gameID uuid.UUID
	if a.GameID != "" {
		id, err := uuid.Parse(a.GameID)
		if err != nil {
			return nil, errs.ErrUnknownGame
		}
		gameID = id
	} else if g, ok := s.orch.Games.ByChannel(channelID); ok {
		gameID = g.ID
	} else {
		return nil, errs.ErrUnknownGame
	}

	records, err := s.orch.History(ctx, user.ID, gameID, kind)
	if err != nil {
		return nil, err
	}
	return &models.Envelope{
		Type:      models.EnvelopeHistory,
		ChannelID: channelID,
		Payload: map[string]interface{}{
			"gameId":  gameID,
			"kind":    kind,
			"records": records,
		},
	}, nil
}
