package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/xraph/remittance"
	"github.com/xraph/remittance/api"
	audithook "github.com/xraph/remittance/audit_hook"
	"github.com/xraph/remittance/natsbridge"
	"github.com/xraph/remittance/observability"
	"github.com/xraph/remittance/store/backend"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ledger HTTP API",
		Long:  "Open the configured store, initialize the ledger on first use and serve the HTTP API until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := buildService(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return svc.run(ctx, cfg.Listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides the config file)")
	return cmd
}

// service is a started ledger and the HTTP handler serving it.
type service struct {
	ledger  *remittance.Ledger
	handler http.Handler
	logger  *slog.Logger
}

func buildService(ctx context.Context, cfg fileConfig, logger *slog.Logger) (*service, error) {
	rc := cfg.Remittance
	if rc.JWTSecret == "" {
		return nil, fmt.Errorf("no jwt secret: set remittance.jwt_secret or %s", envJWTSecret)
	}

	s, err := backend.Open(ctx, rc.Store)
	if err != nil {
		return nil, err
	}
	if rc.Store.Durable() {
		// Payouts land in a vault that does not survive a restart.
		logger.Warn("remittance: durable store uses the in-process custody vault, claimed and withdrawn value is not paid out",
			"driver", rc.Store.Driver)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ledgerOpts := append([]remittance.Option{remittance.WithLogger(logger)}, rc.LedgerOptions()...)
	ledgerOpts = append(ledgerOpts, remittance.WithPlugin(audithook.New(auditLog(logger), audithook.WithLogger(logger))))
	if cfg.Metrics {
		factory := observability.NewPrometheusFactory(reg)
		ledgerOpts = append(ledgerOpts, remittance.WithPlugin(observability.NewMetricsExtension(factory)))
	}
	if cfg.NATS.URL != "" {
		bridge, err := natsbridge.Dial(cfg.NATS, natsbridge.WithLogger(logger))
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		ledgerOpts = append(ledgerOpts, remittance.WithPlugin(bridge))
	}

	l := remittance.New(s, ledgerOpts...)
	if err := l.Start(ctx); err != nil {
		_ = l.Stop()
		return nil, err
	}

	apiCfg := api.Config{
		BasePath: rc.BasePath,
		Auth: api.AuthConfig{
			Secret: []byte(rc.JWTSecret),
			Issuer: rc.JWTIssuer,
		},
		Health:   s.Ping,
		Decimals: rc.Decimals,
		Logger:   logger,
	}
	if cfg.Metrics {
		apiCfg.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	gin.SetMode(gin.ReleaseMode)
	return &service{
		ledger:  l,
		handler: api.NewRouter(l, apiCfg),
		logger:  logger,
	}, nil
}

// run serves until ctx is canceled, then drains requests and stops the
// ledger.
func (s *service) run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("remittance: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("remittance: http shutdown", "error", err)
	}
	if err := s.ledger.Stop(); err != nil {
		s.logger.Warn("remittance: ledger stop", "error", err)
	}
	s.logger.Info("remittance: stopped")
	return serveErr
}

// auditLog records audit events as structured log lines.
func auditLog(logger *slog.Logger) audithook.Recorder {
	return audithook.RecorderFunc(func(ctx context.Context, e *audithook.AuditEvent) error {
		level := slog.LevelInfo
		if e.Outcome == audithook.OutcomeFailure {
			level = slog.LevelWarn
		}
		logger.LogAttrs(ctx, level, "audit",
			slog.String("action", e.Action),
			slog.String("resource", e.Resource),
			slog.String("resource_id", e.ResourceID),
			slog.String("actor", e.Actor),
			slog.String("outcome", e.Outcome),
			slog.String("severity", e.Severity),
			slog.Any("metadata", e.Metadata),
		)
		return nil
	})
}
