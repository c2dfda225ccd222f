package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stagerui/stager-ui/internal/api"
	"github.com/stagerui/stager-ui/internal/auth"
	"github.com/stagerui/stager-ui/internal/config"
	"github.com/stagerui/stager-ui/internal/credential"
	"github.com/stagerui/stager-ui/internal/logging"
	"github.com/stagerui/stager-ui/internal/metrics"
	"github.com/stagerui/stager-ui/internal/ratelimit"
	"github.com/stagerui/stager-ui/internal/rdm"
	"github.com/stagerui/stager-ui/internal/session"
	"github.com/stagerui/stager-ui/internal/stager"
)

const (
	sweepInterval   = 5 * time.Minute
	limiterIdle     = 30 * time.Minute
	shutdownTimeout = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: `Serve runs the web UI. Configuration is read from the environment
(LISTEN_ADDR, SESSION_SECRET, STAGER_ENDPOINT, RDM_WEBDAV_ENDPOINT, ...) and
the optional YAML file named by CONFIG_FILE.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			defer logging.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logging.Info("stager-ui starting",
		zap.String("version", Version),
		zap.String("listen", cfg.ListenAddr),
		zap.String("stager", cfg.StagerEndpoint),
		zap.String("rdm", cfg.RDMWebDAVEndpoint))

	var store session.Store
	if cfg.SessionDatabaseURL != "" {
		logging.Info("connecting to PostgreSQL session store...")
		pg, err := session.NewPostgresStore(ctx, cfg.SessionDatabaseURL, cfg.SessionSecret)
		if err != nil {
			return fmt.Errorf("session store: %w", err)
		}
		defer pg.Close()
		store = pg
	} else {
		logging.Info("sessions kept in memory")
		store = session.NewMemoryStore()
	}
	sessions := session.NewManager(store, cfg.SessionSecret, cfg.SessionMaxAge, cfg.TLSEnabled())

	authn, err := auth.New(ctx, auth.Config{
		IssuerURL:     cfg.OIDCIssuerURL,
		ClientID:      cfg.OIDCClientID,
		ClientSecret:  cfg.OIDCClientSecret,
		RedirectURL:   cfg.OIDCRedirectURL,
		Scopes:        cfg.OIDCScopes,
		UsernameClaim: cfg.OIDCUsernameClaim,
		EndSessionURL: cfg.OIDCEndSessionURL,
	}, sessions)
	if err != nil {
		return fmt.Errorf("oidc provider: %w", err)
	}
	if authn == nil {
		logging.Warn("OIDC disabled, all routes are public")
	}

	encryptor, err := credential.Load(cfg.RDMPublicKeyFile)
	if err != nil {
		return fmt.Errorf("rdm public key: %w", err)
	}
	if encryptor == nil {
		logging.Warn("no RDM public key configured, job submission is disabled")
	}

	limiter := ratelimit.New(cfg.JobsPerMinute)

	srv := api.NewServer(api.Deps{
		Config:    cfg,
		Sessions:  sessions,
		Auth:      authn,
		RDM:       rdm.New(cfg.RDMWebDAVEndpoint),
		Stager:    stager.New(stager.Config{BaseURL: cfg.StagerEndpoint}),
		Encryptor: encryptor,
		Limiter:   limiter,
		Version:   Version,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.TLSEnabled() {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", metrics.Handler())
	adminMux.Handle("/log/level", logging.LevelHandler())
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           adminMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if cfg.TLSEnabled() {
			logging.Info("server listening (TLS)", zap.String("addr", cfg.ListenAddr))
			return listen(httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile))
		}
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		return listen(httpServer.ListenAndServe())
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			return listen(metricsServer.ListenAndServe())
		})
	}
	g.Go(func() error {
		sessions.RunSweeper(gctx, sweepInterval)
		return nil
	})
	g.Go(func() error {
		limiter.RunCleanup(gctx, sweepInterval, limiterIdle)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(httpServer.Shutdown(shutdownCtx), metricsServer.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		logging.Error("server stopped", zap.Error(err))
		return err
	}
	logging.Info("server stopped")
	return nil
}

// listen treats a closed server as a clean exit.
func listen(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
