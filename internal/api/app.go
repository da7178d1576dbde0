package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-pickup/internal/config"
	"github.com/npezzotti/go-pickup/internal/invite"
	"github.com/npezzotti/go-pickup/internal/server"
	"github.com/teris-io/shortid"
)

// Inviter turns a room id and role into a scannable invite.
type Inviter interface {
	Generate(roomID, role string) (*invite.Invite, error)
}

type PickupApp struct {
	log            *log.Logger
	mux            *http.Server
	hub            *server.Hub
	inviter        Inviter
	allowedOrigins []string
	newRoomID      func() (string, error)
}

func NewPickupApp(mux *http.ServeMux, logger *log.Logger, hub *server.Hub, inviter Inviter, cfg *config.Config) *PickupApp {
	s := &PickupApp{
		log:            logger,
		hub:            hub,
		inviter:        inviter,
		allowedOrigins: cfg.AllowedOrigins,
		newRoomID:      shortid.Generate,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /invite", s.noStore(s.invite))
	mux.HandleFunc("GET /api/qrcode", s.noStore(s.invite))
	mux.HandleFunc("POST /api/rooms", s.noStore(s.createRoom))
	mux.HandleFunc("GET /api/rooms/{id}", s.noStore(s.getRoom))
	mux.HandleFunc("GET /ws", s.serveWs)

	if cfg.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
	)(mux)

	if logger != nil {
		h = handlers.LoggingHandler(logger.Writer(), h)
	}
	h = s.errorHandler(h)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}
	return s
}

func (s *PickupApp) Handler() http.Handler {
	return s.mux.Handler
}

func (s *PickupApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *PickupApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
