package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/podscope/podscope/pkg/domain"
)

// Server represents HTTP server instance
type Server struct {
	config    ConfigProvider
	db        Database
	refresher Refresher
	lifecycle Lifecycle
	version   string
	debug     bool

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// Database interface for server operations
type Database interface {
	CreatePodcast(ctx context.Context, podcast *domain.Podcast) error
	GetPodcast(ctx context.Context, id int64) (*domain.Podcast, error)
	GetPodcasts(ctx context.Context) ([]*domain.Podcast, error)
	DeletePodcast(ctx context.Context, id int64) error
	GetEpisodesByState(ctx context.Context, state domain.EpisodeState, limit, offset int) ([]*domain.Episode, error)
	GetEpisodesByPodcast(ctx context.Context, podcastID int64, limit, offset int) ([]*domain.Episode, error)
}

// Refresher interface for on-demand refresh operations
type Refresher interface {
	RefreshPodcast(ctx context.Context, podcastID int64) (int, error)
	RefreshAll(ctx context.Context) (int, error)
}

// Lifecycle interface for episode state operations
type Lifecycle interface {
	SetState(ctx context.Context, episodeID int64, state domain.EpisodeState) error
	Sweep(ctx context.Context) (int64, error)
}

// ConfigProvider provides server configuration
type ConfigProvider interface {
	GetServerConfig() (listen string, timeout time.Duration)
}

// New initializes a new server instance
func New(cfg ConfigProvider, db Database, refresher Refresher, lifecycle Lifecycle, version string, debug bool) *Server {
	s := &Server{
		config:    cfg,
		db:        db,
		refresher: refresher,
		lifecycle: lifecycle,
		version:   version,
		debug:     debug,
		router:    routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	listen, timeout := s.config.GetServerConfig()
	log.Printf("[INFO] starting server on %s", listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:         listen,
		Handler:      s.router,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		log.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("podscope", "podscope", s.version))
	s.router.Use(rest.Ping)

	if s.debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(1024 * 1024)) // 1MB
}

// setupRoutes registers the API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /status", s.statusHandler)

	s.router.Mount("/api/v1").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("POST /podcasts", s.createPodcastHandler)
		r.HandleFunc("GET /podcasts", s.listPodcastsHandler)
		r.HandleFunc("DELETE /podcasts/{id}", s.deletePodcastHandler)
		r.HandleFunc("POST /podcasts/{id}/refresh", s.refreshPodcastHandler)
		r.HandleFunc("GET /podcasts/{id}/episodes", s.podcastEpisodesHandler)
		r.HandleFunc("POST /refresh", s.refreshAllHandler)
		r.HandleFunc("POST /decay", s.decayHandler)
		r.HandleFunc("GET /episodes", s.episodesByStateHandler)
		r.HandleFunc("PUT /episodes/{id}/state", s.setEpisodeStateHandler)
	})
}
