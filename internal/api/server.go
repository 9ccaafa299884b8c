// Package api serves the public read API: the ranked instance snapshot,
// the CSV graph exports and the mail verification flow.
package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nitter-community/nitter-status/internal/config"
	"github.com/nitter-community/nitter-status/internal/mailer"
	"github.com/nitter-community/nitter-status/internal/scanner"
	"github.com/nitter-community/nitter-status/internal/store"
)

// Server wires the handlers to the scanner snapshot and the store.
type Server struct {
	cfg     *config.Config
	scanner *scanner.Scanner
	store   *store.Store
	mail    mailer.Mailer
	router  *chi.Mux
}

// NewServer creates the API server and sets up all routes.
func NewServer(cfg *config.Config, sc *scanner.Scanner, st *store.Store, mail mailer.Mailer) *Server {
	s := &Server{
		cfg:     cfg,
		scanner: sc,
		store:   st,
		mail:    mail,
	}
	s.router = s.setupRoutes()
	return s
}

// Handler returns the top-level mux.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// responses stay valid for one probe interval
	r.Use(s.cacheHeaders)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/instances", s.GetInstances)
		r.Route("/graph", func(r chi.Router) {
			r.Get("/health", s.GetHealthGraph)
			r.Get("/stats", s.GetStatsGraph)
		})
		r.Post("/hosts/{id}/verify", s.RequestVerification)
		r.Get("/verify/{public}/{secret}", s.ConsumeVerification)
	})

	return r
}

func (s *Server) cacheHeaders(next http.Handler) http.Handler {
	maxAge := int(s.cfg.Scanner.InstanceCheckInterval().Seconds())
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet {
			w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
		}
		w.Header().Set("X-Robots-Tag", "noindex, nofollow")
		next.ServeHTTP(w, req)
	})
}
