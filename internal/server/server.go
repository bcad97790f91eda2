package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/SableWorks/SableBrowser/core/internal/api/middleware"
	"github.com/SableWorks/SableBrowser/core/internal/config"
	"github.com/SableWorks/SableBrowser/core/internal/download"
	"github.com/SableWorks/SableBrowser/core/internal/logging"
	"github.com/SableWorks/SableBrowser/core/internal/monitoring"
	"github.com/SableWorks/SableBrowser/core/internal/sanitize"
	"github.com/SableWorks/SableBrowser/core/internal/session"
	"github.com/SableWorks/SableBrowser/core/internal/session/environment"
	"github.com/SableWorks/SableBrowser/core/internal/wipe"
)

// Server owns the privacy core's components and serves the control API.
type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics

	engine   *sanitize.Engine
	sessions *session.Manager
	wiper    *wipe.Worker

	// gates maps session id to its quarantine gate. A gate lives exactly
	// as long as its session.
	gates sync.Map // string -> *download.Gate

	router *gin.Engine
	http   *http.Server

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// New assembles the core from configuration. The environment provider may be
// nil, in which case sessions get local on-disk profile environments.
func New(cfg *config.Config, provider environment.Provider, logger *logging.Logger) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logging.NewDefault()
	}

	baseDir := cfg.Storage.BaseDir
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "sable-sessions")
	}

	wiper := wipe.NewWorker(wipe.Config{
		OverwriteCeiling: cfg.Wipe.OverwriteCeiling,
		MaxRetries:       cfg.Wipe.MaxRetries,
		RetryBackoff:     cfg.Wipe.RetryBackoff,
	}, logger)

	sessions, err := session.NewManager(session.Config{
		BaseDir:        baseDir,
		EnvExitTimeout: cfg.Storage.EnvExitTimeout,
		Staleness:      cfg.Sweep.Staleness,
	}, provider, wiper, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		metrics:  monitoring.NewMetrics(),
		engine:   sanitize.NewEngine(logger),
		sessions: sessions,
		wiper:    wiper,
	}
	s.router = s.setupRouter()
	return s, nil
}

func (s *Server) setupRouter() *gin.Engine {
	if !s.cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(monitoring.Middleware(s.metrics))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if s.cfg.RateLimit.Enabled {
		r.Use(middleware.GlobalRateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: s.cfg.RateLimit.RequestsPerSecond,
			Burst:             s.cfg.RateLimit.Burst,
		}))
	}

	r.GET("/", s.Root)
	r.GET("/health", s.Health)
	r.GET("/stats", s.Stats)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sessions := r.Group("/sessions")
	{
		sessions.POST("", s.CreateSession)
		sessions.GET("", s.ListSessions)
		sessions.POST("/sweep", s.SweepOrphans)
		sessions.GET("/:id", s.GetSession)
		sessions.GET("/:id/environment", s.GetEnvironment)
		sessions.DELETE("/:id", s.DisposeSession)

		sessions.POST("/:id/downloads", s.StartDownload)
		sessions.GET("/:id/downloads", s.ListDownloads)
		sessions.GET("/:id/downloads/metrics", s.DownloadMetrics)
		sessions.POST("/:id/downloads/:did/promote", s.PromoteDownload)
		sessions.DELETE("/:id/downloads/:did", s.DeleteDownload)
	}

	r.POST("/sanitize", s.Sanitize)
	r.POST("/sanitize/rules", s.LoadRules)
	r.GET("/sanitize/metrics/:domain", s.DomainMetrics)
	r.POST("/navigation/decide", s.Decide)

	return r
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// createSession allocates a session together with its quarantine gate. The
// quarantine area lives under the session's storage so session disposal
// takes undecided downloads with it.
func (s *Server) createSession(ctx context.Context, optionalID string) (session.Info, error) {
	info, err := s.sessions.Create(ctx, optionalID)
	if err != nil {
		return session.Info{}, err
	}

	gate := download.NewGate(download.Config{
		AllowedTypes:      s.cfg.Download.AllowedTypes,
		BlockedExtensions: s.cfg.Download.BlockedExtensions,
	}, s.wiper, nil, s.logger)

	if err := gate.Initialize(nil, filepath.Join(info.StoragePath, "quarantine")); err != nil {
		_ = s.sessions.Dispose(ctx, info.ID)
		return session.Info{}, fmt.Errorf("failed to initialize quarantine gate: %w", err)
	}

	s.gates.Store(info.ID, gate)
	s.metrics.RecordSessionCreated()
	s.metrics.SetSessionsActive(s.sessions.ActiveCount())
	return info, nil
}

// disposeSession closes the session's gate, then destroys the session.
// Quarantined leftovers are erased by the gate before the storage wipe runs.
func (s *Server) disposeSession(ctx context.Context, sid string) error {
	_, existed := s.sessions.Get(sid)
	if g, ok := s.gates.LoadAndDelete(sid); ok {
		g.(*download.Gate).Close(ctx)
	}
	err := s.sessions.Dispose(ctx, sid)
	if existed {
		s.metrics.RecordSessionDisposed()
	}
	s.metrics.SetSessionsActive(s.sessions.ActiveCount())
	s.metrics.SetDownloadsActive(s.activeDownloads())
	return err
}

func (s *Server) gate(sid string) (*download.Gate, bool) {
	v, ok := s.gates.Load(sid)
	if !ok {
		return nil, false
	}
	return v.(*download.Gate), true
}

// activeDownloads sums undecided records across every session gate.
func (s *Server) activeDownloads() int {
	count := 0
	s.gates.Range(func(_, value any) bool {
		count += len(value.(*download.Gate).Active())
		return true
	})
	return count
}

// Run serves the control API until the context is canceled, then shuts
// everything down: HTTP drain, sweeper stop, gate teardown, session wipe.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.cfg.Sweep.Enabled {
		sweepCtx, cancel := context.WithCancel(context.Background())
		s.sweepCancel = cancel
		s.sweepDone = make(chan struct{})
		go func() {
			defer close(s.sweepDone)
			s.sessions.RunSweeper(sweepCtx, s.cfg.Sweep.Interval)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control API listening", zap.String("addr", addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		s.shutdown(context.Background())
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	<-errCh
	return s.shutdown(shutdownCtx)
}

// shutdown tears down sessions after the HTTP surface has stopped.
func (s *Server) shutdown(ctx context.Context) error {
	if s.sweepCancel != nil {
		s.sweepCancel()
		<-s.sweepDone
		s.sweepCancel = nil
	}

	s.gates.Range(func(key, value any) bool {
		value.(*download.Gate).Close(ctx)
		s.gates.Delete(key)
		return true
	})

	if err := s.sessions.DisposeAll(ctx); err != nil {
		s.logger.Error("session teardown incomplete", zap.Error(err))
		return err
	}
	s.logger.Info("privacy core stopped cleanly")
	return nil
}
