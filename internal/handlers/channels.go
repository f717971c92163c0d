// internal/handlers/channels.go
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/channel"
	"github.com/jason-s-yu/werewolf/internal/game"
	"github.com/jason-s-yu/werewolf/internal/models"
	"github.com/jason-s-yu/werewolf/internal/router"
)

func (s *Server) listChannelsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Channels.List())
}

// createChannelHandler makes the caller admin of a new channel.
func (s *Server) createChannelHandler(w http.ResponseWriter, r *http.Request) {
	var p channel.Params
	if err := decodeBody(r, &p); err != nil {
		badRequest(w, "bad channel request payload")
		return
	}
	view, err := s.orch.CreateChannel(userFrom(r), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) getChannelHandler(w http.ResponseWriter, r *http.Request) {
	view, err := s.orch.Channels.Lookup(channelFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) deleteChannelHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteChannel(userFrom(r).ID, channelFrom(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	settings := map[string]interface{}{}
	if err := decodeBody(r, &settings); err != nil {
		badRequest(w, "bad settings payload")
		return
	}
	view, err := s.orch.UpdateSettings(userFrom(r).ID, channelFrom(r), settings)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type joinRequest struct {
	Password string `json:"password"`
}

func (s *Server) joinHandler(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "bad join payload")
		return
	}
	view, err := s.orch.Join(userFrom(r), channelFrom(r), req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) leaveHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Leave(userFrom(r).ID, channelFrom(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) blockHandler(w http.ResponseWriter, r *http.Request) {
	target, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		badRequest(w, "invalid user id")
		return
	}
	if err := s.orch.Block(userFrom(r).ID, channelFrom(r), target); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// registerHandler enters the caller into the roster for the next game.
func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Register(channelFrom(r), userFrom(r).ID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Entries.Snapshot(channelFrom(r)))
}

func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Cancel(channelFrom(r), userFrom(r).ID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Entries.Snapshot(channelFrom(r)))
}

type submitRequest struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
}

func (s *Server) submitHandler(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "bad action payload")
		return
	}
	kind, target, ok := parseSubmission(req.Kind, req.Target)
	if !ok {
		badRequest(w, "invalid kind or target")
		return
	}
	if err := s.orch.Submit(channelFrom(r), userFrom(r).ID, kind, target); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func parseSubmission(kind, target string) (game.Kind, uuid.UUID, bool) {
	k, ok := game.ParseKind(kind)
	if !ok {
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(target)
	if err != nil {
		return "", uuid.Nil, false
	}
	return k, id, true
}

// advanceRequest names the phase the admin wants to close, as the version
// last seen in the game view.
type advanceRequest struct {
	Version uint64 `json:"version"`
}

func (s *Server) advanceHandler(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if err := s.orch.ForceAdvance(userFrom(r).ID, channelFrom(r), req.Version); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) abortHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.AbortGame(userFrom(r).ID, channelFrom(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type messageRequest struct {
	Type string `json:"type"`
	Body string `json:"body"`
}

func (s *Server) postMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "bad message payload")
		return
	}
	mt, ok := router.ParseMessageType(req.Type)
	if !ok {
		badRequest(w, "unknown message type")
		return
	}
	msg, err := s.orch.PostMessage(r.Context(), channelFrom(r), userFrom(r).ID, mt, req.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.orch.State(userFrom(r).ID, channelFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	gameID, err := uuid.Parse(chi.URLParam(r, "gameID"))
	if err != nil {
		badRequest(w, "invalid game id")
		return
	}
	kind, ok := models.ParseHistoryKind(chi.URLParam(r, "kind"))
	if !ok {
		badRequest(w, "unknown history kind")
		return
	}
	records, err := s.orch.History(r.Context(), userFrom(r).ID, gameID, kind)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
