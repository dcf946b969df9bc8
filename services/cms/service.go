// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cms assembles the Phoebe content service: the BadgerDB store, the
// delayed-save registry, the HTTP API and their shutdown order.
package cms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/AleutianAI/phoebe/pkg/extensions"
	"github.com/AleutianAI/phoebe/pkg/undosave"
	"github.com/AleutianAI/phoebe/services/cms/config"
	"github.com/AleutianAI/phoebe/services/cms/datatypes"
	"github.com/AleutianAI/phoebe/services/cms/drafts"
	"github.com/AleutianAI/phoebe/services/cms/handlers"
	"github.com/AleutianAI/phoebe/services/cms/middleware"
	"github.com/AleutianAI/phoebe/services/cms/observability"
	"github.com/AleutianAI/phoebe/services/cms/routes"
	"github.com/AleutianAI/phoebe/services/cms/store"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
)

// Options carries collaborators that tests replace. Every field is optional.
//
//   - Logger: Default slog.Default().
//   - Clock: Time source for delayed saves. Default undosave.RealClock.
//   - Metrics: Prometheus collectors. Default observability.DefaultMetrics().
//   - MetricsHandler: Served on /metrics. Default promhttp.Handler().
type Options struct {
	Logger         *slog.Logger
	Clock          undosave.Clock
	Metrics        *observability.SaveMetrics
	MetricsHandler http.Handler
}

// Service is a running Phoebe instance.
type Service struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *store.Store
	hub      *drafts.Hub
	registry *drafts.Registry
	audit    *extensions.SlogAuditLogger
	router   *gin.Engine

	listener net.Listener
}

// New opens the store, seeds roles and the bootstrap administrator, and
// builds the router.
//
// # Outputs
//
//   - *Service: Ready to Run. Close releases it when Run is never called.
//   - error: Store or registry construction failures.
func New(ctx context.Context, cfg config.Config, opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.DefaultMetrics()
	}

	storeCfg := cfg.Store
	storeCfg.Logger = logger
	st, err := store.Open(storeCfg)
	if err != nil {
		return nil, err
	}
	if err := seed(ctx, st, cfg.Bootstrap, logger); err != nil {
		_ = st.Close()
		return nil, err
	}

	instruments, err := observability.NewCommitInstruments()
	if err != nil {
		logger.Warn("otel commit instruments unavailable", "error", err)
	}
	hub := drafts.NewHub(0, logger)
	registry, err := drafts.NewRegistry(drafts.Config{
		Delay:          cfg.Saves.Delay,
		CommitTimeout:  cfg.Saves.CommitTimeout,
		IdleTTL:        cfg.Saves.IdleTTL,
		SweepInterval:  cfg.Saves.SweepInterval,
		FailureMessage: handlers.FailureMessage,
	}, drafts.Deps{
		Clock:       opts.Clock,
		Hub:         hub,
		Metrics:     metrics,
		Instruments: instruments,
		Logger:      logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	audit := extensions.NewSlogAuditLogger(logger, cfg.Server.AuditKeep)
	provider := middleware.NewStoreAuthProvider(st, func(err error) bool {
		return errors.Is(err, store.ErrNotFound)
	})

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	router.Use(metrics.GinMiddleware())
	routes.SetupRoutes(router, &handlers.Deps{
		Store:   st,
		Drafts:  registry,
		Audit:   audit,
		Metrics: metrics,
		Logger:  logger,
	}, routes.Options{
		Extensions: extensions.DefaultOptions().WithAuth(provider).WithAudit(audit),
		RateLimit:  cfg.RateLimit,
		Metrics:    opts.MetricsHandler,
	})

	return &Service{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		hub:      hub,
		registry: registry,
		audit:    audit,
		router:   router,
	}, nil
}

// seed creates the built-in roles and, on an empty user table, the bootstrap
// administrator.
func seed(ctx context.Context, st *store.Store, boot config.BootstrapConfig, logger *slog.Logger) error {
	if err := st.EnsureRoles(ctx); err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}
	count, err := st.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}
	if boot.AdminPassword == "" {
		logger.Warn("no users exist and no bootstrap password is set; set " +
			config.EnvAdminPassword + " to create the first administrator")
		return nil
	}
	hash, err := middleware.HashPassword(boot.AdminPassword)
	if err != nil {
		return err
	}
	admin, err := st.CreateUser(ctx, datatypes.User{
		Username:     boot.AdminUsername,
		Email:        boot.AdminEmail,
		PasswordHash: hash,
		RoleIDs:      []int64{store.RoleIDAdmin},
		Enabled:      true,
	})
	if err != nil {
		return fmt.Errorf("create bootstrap admin: %w", err)
	}
	logger.Info("bootstrap administrator created", "username", admin.Username, "user_id", admin.ID)
	return nil
}

// Router returns the HTTP handler.
func (s *Service) Router() http.Handler {
	return s.router
}

// Store returns the content store.
func (s *Service) Store() *store.Store {
	return s.store
}

// Audit returns the in-memory audit trail.
func (s *Service) Audit() *extensions.SlogAuditLogger {
	return s.audit
}

// ApplyConfig applies the settings that can change without a restart.
// Currently only the undo grace period; forms opened before the change keep
// their old delay until they are disposed.
func (s *Service) ApplyConfig(cfg config.Config) {
	if cfg.Saves.Delay == s.registry.Delay() {
		return
	}
	if err := s.registry.SetDelay(cfg.Saves.Delay); err != nil {
		s.logger.Warn("ignoring save delay from reloaded config", "error", err)
		return
	}
	s.logger.Info("save delay updated", "delay", cfg.Saves.Delay)
}

// Listen binds the configured address. Run calls it when it has not been
// called yet; tests call it first to learn the port.
func (s *Service) Listen() (net.Addr, error) {
	if s.listener == nil {
		l, err := net.Listen("tcp", s.cfg.Server.Listen)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", s.cfg.Server.Listen, err)
		}
		s.listener = l
	}
	return s.listener.Addr(), nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
//
// # Description
//
// Shutdown stops accepting requests and waits for in-flight ones, then
// closes the registry: pending saves are dropped and writes already running
// are awaited, all within Server.ShutdownTimeout. The store closes last.
func (s *Service) Run(ctx context.Context) error {
	addr, err := s.Listen()
	if err != nil {
		return errors.Join(err, s.Close(context.Background()))
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("phoebe listening", "addr", addr.String())
		if err := srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	return errors.Join(runErr, s.Close(closeCtx))
}

// Close releases the registry, the save streams and the store.
func (s *Service) Close(ctx context.Context) error {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	regErr := s.registry.Close(ctx)
	s.hub.Close()
	if err := s.audit.Flush(ctx); err != nil {
		s.logger.Warn("audit flush failed", "error", err)
	}
	return errors.Join(regErr, s.store.Close())
}

func (s *Service) shutdownTimeout() time.Duration {
	if s.cfg.Server.ShutdownTimeout > 0 {
		return s.cfg.Server.ShutdownTimeout
	}
	return 30 * time.Second
}
