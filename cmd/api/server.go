package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/PaulBabatuyi/recircle-chat/internal/auth"
	"github.com/PaulBabatuyi/recircle-chat/internal/data"
	"github.com/PaulBabatuyi/recircle-chat/internal/metrics"
	"github.com/PaulBabatuyi/recircle-chat/internal/middleware"
	"github.com/PaulBabatuyi/recircle-chat/internal/realtime"

	"github.com/go-playground/validator/v10"
)

// Server holds the stores, auth and realtime services shared by the HTTP and
// gRPC transports.
type Server struct {
	log      *slog.Logger
	users    data.UserStore
	convs    data.ConversationStore
	auth     *auth.JWTManager
	hub      *realtime.Hub
	channel  *realtime.Channel
	ws       *realtime.WSGateway
	limiter  middleware.Limiter
	validate *validator.Validate

	// ready reports whether backing services are reachable; nil means always.
	ready func(context.Context) error
	// sendQueue sizes each gRPC event stream's outbox.
	sendQueue int
}

// newServer returns a ready-to-use Server. limiter guards the credential
// endpoints; the channel carries its own.
func newServer(log *slog.Logger, users data.UserStore, convs data.ConversationStore, authMgr *auth.JWTManager,
	hub *realtime.Hub, channel *realtime.Channel, ws *realtime.WSGateway, limiter middleware.Limiter) *Server {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("password", strongPassword)

	return &Server{
		log:       log,
		users:     users,
		convs:     convs,
		auth:      authMgr,
		hub:       hub,
		channel:   channel,
		ws:        ws,
		limiter:   limiter,
		validate:  v,
		sendQueue: realtime.DefaultSendQueue,
	}
}

// routes builds the HTTP handler.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	limited := middleware.RateLimit(s.limiter, nil)
	mux.Handle("POST /auth/sign-up", limited(http.HandlerFunc(s.signUp)))
	mux.Handle("POST /auth/sign-in", limited(http.HandlerFunc(s.signIn)))
	mux.Handle("GET /auth/profile", s.requireAuth(http.HandlerFunc(s.profile)))

	mux.Handle("GET /conversation/with/{peerId}", s.requireAuth(http.HandlerFunc(s.getOrCreateConversation)))
	mux.Handle("GET /conversation/chats/{conversationId}", s.requireAuth(http.HandlerFunc(s.getConversation)))
	mux.Handle("GET /conversation/last-chats", s.requireAuth(http.HandlerFunc(s.getLastChats)))
	mux.Handle("PATCH /conversation/seen/{conversationId}/{peerId}", s.requireAuth(http.HandlerFunc(s.markSeen)))

	mux.Handle("GET /ws", s.ws)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, envelope{"status": "ok"})
	})
	mux.HandleFunc("GET /readyz", s.readyz)
	mux.Handle("GET /metrics", metrics.Handler())

	return withRequestLogging(mux, s.log)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.log.Warn("readyz.fail", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, envelope{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, envelope{"status": "ready"})
}
