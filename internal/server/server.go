// Package server wires the control API, the notification hub and both background loops.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stwalsh4118/couchcast/internal/api"
	"github.com/stwalsh4118/couchcast/internal/config"
	"github.com/stwalsh4118/couchcast/internal/db"
	"github.com/stwalsh4118/couchcast/internal/download"
	"github.com/stwalsh4118/couchcast/internal/engine"
	"github.com/stwalsh4118/couchcast/internal/logger"
	"github.com/stwalsh4118/couchcast/internal/media"
	"github.com/stwalsh4118/couchcast/internal/middleware"
	"github.com/stwalsh4118/couchcast/internal/notify"
	"github.com/stwalsh4118/couchcast/internal/playback"
	"github.com/stwalsh4118/couchcast/internal/queue"
	"github.com/stwalsh4118/couchcast/internal/scheduler"
	"github.com/stwalsh4118/couchcast/internal/ytdlp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Server represents the couchcast process
type Server struct {
	config       *config.Config
	db           *db.DB
	repos        *db.Repositories
	hub          *notify.Hub
	scheduler    *scheduler.Scheduler
	orchestrator *playback.Orchestrator
	coordinator  *download.Coordinator
	queueService *queue.Service
	router       *gin.Engine
	server       *http.Server
}

// New creates a new server instance
func New(cfg *config.Config, database *db.DB) *Server {
	repos := db.NewRepositories(database)
	hub := notify.NewHub(cfg.API.CORSOrigins)

	sched := scheduler.New(repos.Items, scheduler.Weights{
		PriorityWeight: cfg.Scheduler.PriorityWeight,
		PenaltyScale:   cfg.Scheduler.PenaltyScale,
		BoostScale:     cfg.Scheduler.BoostScale,
		ItemWindow:     cfg.Scheduler.ItemWindow,
		UserWindow:     cfg.Scheduler.UserWindow,
	})

	eng := engine.NewProcess(cfg.Playback.EnginePath, cfg.Playback.EngineArgs)
	orchestrator := playback.NewOrchestrator(repos, sched, eng, hub, playback.Config{
		PollInterval:     cfg.Playback.PollInterval,
		ReleaseDelay:     cfg.Playback.ReleaseDelay,
		StallTicks:       cfg.Playback.StallTicks,
		BreakerThreshold: cfg.Playback.BreakerThreshold,
		BreakerReset:     cfg.Playback.BreakerReset,
		PanicBackoff:     cfg.Playback.PanicBackoff,
		EventBuffer:      cfg.Playback.EventBuffer,
	})

	yt := ytdlp.New(cfg.Downloads.YtdlpPath, cfg.Downloads.Format)
	var prober download.Prober
	if p := media.NewProber(cfg.Downloads.FFprobePath, 0); p.Available() {
		prober = p
	} else {
		logger.Log.Warn().
			Str("ffprobe", cfg.Downloads.FFprobePath).
			Msg("ffprobe not found, durations will come from metadata only")
	}
	if !yt.Available() {
		logger.Log.Warn().
			Str("yt_dlp", cfg.Downloads.YtdlpPath).
			Msg("yt-dlp not found, downloads will fail until it is installed")
	}

	coordinator := download.NewCoordinator(repos.Items, yt, yt, prober, hub, download.Config{
		Directory:       cfg.Downloads.Directory,
		PollInterval:    cfg.Downloads.PollInterval,
		BatchSize:       cfg.Downloads.BatchSize,
		MaxConcurrent:   cfg.Downloads.MaxConcurrent,
		MinFreeBytes:    cfg.Downloads.MinFreeBytes,
		ShutdownGrace:   cfg.Downloads.ShutdownGrace,
		ExtractTimeout:  cfg.Downloads.ExtractTimeout,
		DownloadTimeout: cfg.Downloads.DownloadTimeout,
	})

	return &Server{
		config:       cfg,
		db:           database,
		repos:        repos,
		hub:          hub,
		scheduler:    sched,
		orchestrator: orchestrator,
		coordinator:  coordinator,
		queueService: queue.NewService(repos, hub),
	}
}

// setupRouter initializes the Gin router with middleware and routes
func (s *Server) setupRouter() {
	if s.router != nil {
		return
	}

	// Set Gin mode based on log level
	if s.config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.router.Use(middleware.RequestLogger())
	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware(s.config.API.CORSOrigins))

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := s.router.Group("/api")

	handler := api.NewQueueHandler(s.orchestrator, s.scheduler, s.queueService, s.config.Scheduler.PreviewLimit)
	skipLimiter := middleware.NewRateLimiter(rate.Limit(s.config.API.SkipRate), s.config.API.SkipBurst)

	api.SetupHealthRoutes(apiGroup, api.NewHealthHandler(s.db, s.repos, s.coordinator))
	api.SetupQueueRoutes(apiGroup, handler, middleware.RateLimit(skipLimiter))
	api.SetupNotifyRoutes(apiGroup, s.hub)
}

// corsMiddleware allows any origin unless specific origins are configured
func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		return cors.Default()
	}
	return cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
	})
}

// Handler returns the HTTP handler with all routes registered
func (s *Server) Handler() http.Handler {
	s.setupRouter()
	return s.router
}

// Run serves HTTP and drives the playback and download loops until ctx is cancelled.
// A fatal error from any part stops the others.
func (s *Server) Run(ctx context.Context) error {
	s.setupRouter()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		if err := s.orchestrator.Run(gctx); err != nil {
			return fmt.Errorf("playback orchestrator: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := s.coordinator.Run(gctx); err != nil {
			return fmt.Errorf("download coordinator: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Log.Info().
			Str("host", s.config.Server.Host).
			Int("port", s.config.Server.Port).
			Msg("Starting HTTP server")

		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Log.Info().Msg("Shutting down server gracefully")

	// Check if server was started before attempting shutdown
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	logger.Log.Info().Msg("Server stopped")
	return nil
}
