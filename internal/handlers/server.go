// internal/handlers/server.go
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/auth"
	"github.com/jason-s-yu/werewolf/internal/hub"
	"github.com/jason-s-yu/werewolf/internal/middleware"
	"github.com/jason-s-yu/werewolf/internal/models"
	"github.com/jason-s-yu/werewolf/internal/orchestrator"
	"github.com/sirupsen/logrus"
)

// Server exposes the orchestrator over HTTP and websockets.
type Server struct {
	orch     *orchestrator.Orchestrator
	hub      *hub.Hub
	sessions *auth.Sessions
	log      *logrus.Logger

	// AllowedOrigins feeds both CORS and the websocket origin check.
	AllowedOrigins []string
}

func NewServer(orch *orchestrator.Orchestrator, h *hub.Hub, sessions *auth.Sessions, logger *logrus.Logger) *Server {
	return &Server{
		orch:           orch,
		hub:            h,
		sessions:       sessions,
		log:            logger,
		AllowedOrigins: []string{"*"},
	}
}

// Routes builds the HTTP handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.LogMiddleware(s.log))
	r.Use(chimw.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/guest", s.guestHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticated)

		r.Get("/channels", s.listChannelsHandler)
		r.Post("/channels", s.createChannelHandler)
		r.Route("/channels/{channelID}", func(r chi.Router) {
			r.Use(channelParam)
			r.Get("/", s.getChannelHandler)
			r.Delete("/", s.deleteChannelHandler)
			r.Patch("/settings", s.updateSettingsHandler)
			r.Post("/join", s.joinHandler)
			r.Post("/leave", s.leaveHandler)
			r.Post("/block/{userID}", s.blockHandler)
			r.Post("/entry", s.registerHandler)
			r.Delete("/entry", s.cancelHandler)
			r.Post("/actions", s.submitHandler)
			r.Post("/advance", s.advanceHandler)
			r.Post("/abort", s.abortHandler)
			r.Post("/messages", s.postMessageHandler)
			r.Get("/state", s.stateHandler)
			r.Get("/ws", s.channelWSHandler)
		})
		r.Get("/games/{gameID}/history/{kind}", s.historyHandler)
	})
	return r
}

type ctxKey int

const (
	userKey ctxKey = iota
	channelKey
)

// authenticated resolves the session token into a user, or rejects with 401.
func (s *Server) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "unauthenticated", "reason": "missing auth_token"})
			return
		}
		user, err := s.sessions.Authenticate(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "unauthenticated", "reason": "invalid token"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func channelParam(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "channelID"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"code": "bad_request", "reason": "invalid channel id"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), channelKey, id)))
	})
}

func userFrom(r *http.Request) models.User {
	u, _ := r.Context().Value(userKey).(models.User)
	return u
}

func channelFrom(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(channelKey).(uuid.UUID)
	return id
}

// fail writes err with its mapped status. Untyped errors are logged and hidden.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.WithFields(logrus.Fields{"path": r.URL.Path, "method": r.Method}).Errorf("request failed: %v", err)
	}
	writeJSON(w, status, errorBody(err))
}

func badRequest(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"code": "bad_request", "reason": reason})
}

type guestRequest struct {
	Name string `json:"name"`
}

type guestResponse struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

// guestHandler issues a fresh guest identity and sets its session cookie.
func (s *Server) guestHandler(w http.ResponseWriter, r *http.Request) {
	var req guestRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "bad guest request payload")
		return
	}
	user := auth.NewGuest(req.Name)
	token, err := s.sessions.Issue(user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(24 * time.Hour),
	})
	writeJSON(w, http.StatusCreated, guestResponse{User: user, Token: token})
}
