package server

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/hisoka-md/pairing-server/api"
	"github.com/hisoka-md/pairing-server/utils"
)

// Server represents the HTTP server
type Server struct {
	handler   *api.Handler
	publicDir string
}

// NewServer creates a new HTTP server. publicDir is served at the root when
// it exists; session credential storage must live elsewhere.
func NewServer(handler *api.Handler, publicDir string) *Server {
	return &Server{
		handler:   handler,
		publicDir: publicDir,
	}
}

// Router assembles all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(api.Recoverer)

	r.Post("/request-pairing", s.handler.HandleRequestPairing)
	r.Get("/server-status", s.handler.HandleServerStatus)
	r.Get("/bot-counts", s.handler.HandleBotCounts)
	r.Get("/health", s.handler.HandleHealth)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.handler.RequireAuth)
		r.Use(s.handler.RequireAdmin)
		r.Get("/keys", s.handler.HandleListKeys)
		r.Post("/generate-key", s.handler.HandleGenerateKey)
		r.Get("/users", s.handler.HandleListUsers)
		r.Post("/add-user", s.handler.HandleAddUser)
		r.Delete("/users/{username}", s.handler.HandleRemoveUser)
	})

	r.Get("/session/{sessionID}/status", s.handler.HandleSessionStatus)
	r.Delete("/session/{sessionID}", s.handler.HandleDeleteSession)

	if info, err := os.Stat(s.publicDir); err == nil && info.IsDir() {
		r.Handle("/*", http.FileServer(http.Dir(s.publicDir)))
	}

	return r
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	utils.Logger.Info("starting REST API server", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}
