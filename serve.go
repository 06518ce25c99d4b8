package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gluk-w/claworc/shellbridge/internal/collector"
	"github.com/gluk-w/claworc/shellbridge/internal/config"
	"github.com/gluk-w/claworc/shellbridge/internal/crypto"
	"github.com/gluk-w/claworc/shellbridge/internal/database"
	"github.com/gluk-w/claworc/shellbridge/internal/handlers"
	"github.com/gluk-w/claworc/shellbridge/internal/metrics"
	"github.com/gluk-w/claworc/shellbridge/internal/sshaudit"
	"github.com/gluk-w/claworc/shellbridge/internal/sshpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session pool, jobs and audit log over HTTP",
	Long: `Start the HTTP API. Every profile becomes a pooled session that connects
on first use, jobs from the profiles file run on their cron schedules, and
every command is recorded in the audit database.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	f, err := loadProfiles()
	if err != nil {
		return err
	}

	if err := database.Init(); err != nil {
		return err
	}
	defer database.Close()

	auditor := sshaudit.InitGlobal(database.DB, config.Cfg.AuditRetentionDays)

	pool, err := newPool(f, nil, auditor,
		sshpool.WithHealthCheck(config.Cfg.HealthCommand, config.Cfg.HealthInterval),
		sshpool.WithIdleTimeout(config.Cfg.IdleTimeout),
	)
	if err != nil {
		return err
	}
	handlers.SessionPool = pool
	log.Info().Strs("profiles", pool.Names()).Msg("session pool initialized")

	sched, err := collector.New(pool, f.Jobs, collector.WithAuditPurge(auditor, ""))
	if err != nil {
		pool.CloseAll()
		return err
	}
	handlers.Scheduler = sched

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool.StartHealthChecker(ctx)
	sched.Start()

	reg := metrics.NewRegistry(pool)
	router := handlers.NewRouter(config.Cfg.APIToken, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              config.Cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if config.Cfg.TLS {
		cert, err := crypto.LoadOrGenerateServerCert(config.Cfg.DataPath)
		if err != nil {
			pool.CloseAll()
			return err
		}
		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{*cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Bool("tls", srv.TLSConfig != nil).Msg("server starting")
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case runErr = <-serveErr:
		log.Error().Err(runErr).Msg("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown")
	}
	if err := pool.CloseAll(); err != nil {
		log.Error().Err(err).Msg("session pool shutdown")
	}
	log.Info().Msg("server stopped")
	return runErr
}
