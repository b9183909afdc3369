// Package server assembles the sync server from its configuration.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"tigsync/internal/api"
	"tigsync/internal/auth"
	"tigsync/internal/config"
	"tigsync/internal/logging"
	"tigsync/internal/metrics"
	"tigsync/internal/middleware"
	"tigsync/internal/objects"
	"tigsync/internal/repo"
	"tigsync/internal/storage"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

// Server is a configured sync server and the resources it owns.
type Server struct {
	cfg        *config.Config
	logger     *logging.Logger
	handler    http.Handler
	httpServer *http.Server
	tokens     *auth.TokenStore
	cleanups   []func() error
}

// OpenTokenStore opens the token database named by cfg. The returned
// function closes it.
func OpenTokenStore(cfg *config.Config, logger *zap.Logger) (*auth.TokenStore, func() error, error) {
	db, err := storage.Open(cfg.Auth.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return auth.NewTokenStore(db, cfg.Auth.Secret, logger), db.Close, nil
}

// New builds the server. Resources opened along the way are released by
// Close, including when New itself fails.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *Server, err error) {
	s := &Server{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			if cerr := s.Close(); cerr != nil {
				err = multierror.Append(err, cerr)
			}
		}
	}()

	var backend objects.Backend
	if cfg.Storage.Backend == "s3" {
		backend, err = objects.NewS3Backend(ctx, objects.S3Config(cfg.Storage.S3), logger.Logger)
		if err != nil {
			return nil, fmt.Errorf("creating s3 backend: %w", err)
		}
	}

	var gate auth.Gate = auth.AllowAll{}
	if cfg.Auth.Enabled {
		tokens, closeDB, err := OpenTokenStore(cfg, logger.Logger)
		if err != nil {
			return nil, err
		}
		s.addCleanup(closeDB)
		s.tokens = tokens
		gate = tokens
	} else {
		logger.Warn("authentication disabled; every request is treated as admin")
	}

	refs, err := repo.NewRefCache(cfg.RefCacheSize, logger.Logger)
	if err != nil {
		return nil, err
	}
	s.addCleanup(refs.Close)

	syncAPI := api.NewServer(api.Options{
		Root:      cfg.Storage.Root,
		Backend:   backend,
		Gate:      gate,
		GateReads: cfg.Auth.GateReads,
		RefCache:  refs,
		PublicURL: cfg.PublicURL,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	syncAPI.Register(mux)
	if cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	s.handler = middleware.Chain(
		mux,
		middleware.Metrics,
		middleware.Recover(logger),
		middleware.Logger(logger),
		middleware.RequestID,
	)
	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  2 * time.Minute,
	}
	return s, nil
}

func (s *Server) addCleanup(fn func() error) {
	s.cleanups = append(s.cleanups, fn)
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Tokens returns the token store, or nil when auth is disabled.
func (s *Server) Tokens() *auth.TokenStore { return s.tokens }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("sync server starting",
			zap.String("addr", s.httpServer.Addr),
			zap.String("root", s.cfg.Storage.Root),
			zap.String("backend", s.cfg.Storage.Backend),
			zap.Bool("auth", s.cfg.Auth.Enabled))
		serverErrors <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("graceful shutdown failed", zap.Error(err))
		if err := s.httpServer.Close(); err != nil {
			return fmt.Errorf("could not stop server: %w", err)
		}
	}
	s.logger.Info("shutdown complete")
	return nil
}

// Close releases everything New opened, last opened first.
func (s *Server) Close() error {
	var result *multierror.Error
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		if err := s.cleanups[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.cleanups = nil
	return result.ErrorOrNil()
}
