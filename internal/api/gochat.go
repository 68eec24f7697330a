package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-realtime-chat/internal/auth"
	"github.com/npezzotti/go-realtime-chat/internal/config"
	"github.com/npezzotti/go-realtime-chat/internal/database"
	"github.com/npezzotti/go-realtime-chat/internal/server"
	"github.com/sirupsen/logrus"
)

// TokenIssuer verifies access tokens and signs new ones at login.
type TokenIssuer interface {
	auth.Verifier
	Issue(userId int, ttl time.Duration) (string, error)
}

type GoChatApp struct {
	log            logrus.FieldLogger
	db             database.ChatRepository
	cs             *server.ChatServer
	tokens         TokenIssuer
	tokenTTL       time.Duration
	allowedOrigins []string
	upgrader       websocket.Upgrader
	srv            *http.Server
}

// NewGoChatApp wires the HTTP routes. metrics may be nil, in which case
// /debug/vars is not served.
func NewGoChatApp(logger logrus.FieldLogger, cs *server.ChatServer, db database.ChatRepository, tokens TokenIssuer, metrics http.Handler, cfg *config.Config) *GoChatApp {
	s := &GoChatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		tokens:         tokens,
		tokenTTL:       cfg.TokenTTL,
		allowedOrigins: cfg.AllowedOrigins,
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = auth.DefaultTokenTTL
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	r := mux.NewRouter()
	r.HandleFunc("/auth/register", s.createAccount).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.login).Methods(http.MethodPost)
	r.HandleFunc("/dms", s.authMiddleware(s.listDMs)).Methods(http.MethodGet)
	r.HandleFunc("/messages/{room_id}", s.authMiddleware(s.getMessages)).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{room_id}/read", s.authMiddleware(s.markRead)).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.healthCheck).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.serveWs).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/debug/vars", metrics).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, NewNotFoundError())
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, NewMethodNotAllowedError())
	})

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(r)

	h = s.requestLogger(h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped router.
func (s *GoChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *GoChatApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	return slices.Contains(s.allowedOrigins, origin)
}

func (s *GoChatApp) Start() error {
	s.log.Infof("starting server on %s", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
