package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/xela07ax/obsidian-remote-cli/internal/api/handler"
	"github.com/xela07ax/obsidian-remote-cli/internal/api/server"
	"github.com/xela07ax/obsidian-remote-cli/internal/audit"
	"github.com/xela07ax/obsidian-remote-cli/internal/command"
	"github.com/xela07ax/obsidian-remote-cli/internal/engine"
	"github.com/xela07ax/obsidian-remote-cli/internal/infra"
	"github.com/xela07ax/obsidian-remote-cli/internal/infra/auth"
	"github.com/xela07ax/obsidian-remote-cli/internal/repository/postgres"
	"github.com/xela07ax/obsidian-remote-cli/internal/service"
	"github.com/xela07ax/obsidian-remote-cli/internal/vault"
)

func main() {
	configFile := pflag.StringP("config", "c", "", "path to config.yaml (default: ./config.yaml or ./configs/config.yaml)")
	pflag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "remote-cli: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	// 1. Конфиг и логгер
	cfg, err := infra.LoadConfig(configFile)
	if err != nil {
		return err
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Vault.Root == "" || cfg.Agent.Workspace == "" {
		logger.Warn("vault.root or agent.workspace is empty, agent routes will answer 503",
			zap.String("vault_root", cfg.Vault.Root),
			zap.String("workspace", cfg.Agent.Workspace))
	}

	// 2. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 3. Журнал событий: stdout всегда, Postgres - если задан journal.database_url
	journalOpts := []audit.JournalOption{audit.WithDropCounter(metrics.JournalDropped)}
	if cfg.Journal.DatabaseURL != "" {
		repo, err := openEventRepo(cfg.Journal.DatabaseURL)
		if err != nil {
			return err
		}
		defer func() { _ = repo.Close() }()
		journalOpts = append(journalOpts, audit.WithStore(repo, cfg.Journal.FlushInterval))
		logger.Info("journal persistence enabled")
	}
	journal := audit.NewJournal(os.Stdout, cfg.Journal.BufferSize, logger, journalOpts...)
	journal.Start()
	defer journal.Stop()

	// 4. Execution Layer (процесс + ограничители)
	executor := engine.NewReliabilityWrapper(
		engine.NewProcessExecutor(cfg.Agent.MaxOutput, cfg.Agent.KillGrace, logger),
		engine.ReliabilityConfig{
			RateLimit:       cfg.Limits.RateLimit,
			RateBurst:       cfg.Limits.RateBurst,
			MaxConcurrent:   cfg.Limits.MaxConcurrent,
			BreakerFailures: cfg.Limits.BreakerFailures,
			BreakerTimeout:  cfg.Limits.BreakerTimeout,
		},
		metrics,
		logger,
	)

	// 5. Core
	svc := service.NewAgentService(
		&vault.Scanner{
			Root:           cfg.Vault.Root,
			Extension:      cfg.Vault.Extension,
			Reserved:       cfg.Vault.Reserved,
			MarkerPrefixes: cfg.Vault.MarkerPrefixes,
		},
		&command.Builder{
			Executable:     cfg.Agent.Executable,
			Flags:          cfg.Agent.Flags,
			DirectoryFlag:  cfg.Agent.DirectoryFlag,
			MessageFlag:    cfg.Agent.MessageFlag,
			PromptTemplate: cfg.Agent.OrganizePrompt,
		},
		executor,
		journal,
		metrics,
		service.Options{
			Workspace:            cfg.Agent.Workspace,
			Timeout:              cfg.Agent.Timeout,
			OrganizeOutputWindow: cfg.Agent.OrganizeOutputWindow,
			ExecuteOutputWindow:  cfg.Agent.ExecuteOutputWindow,
		},
		logger,
	)

	// 6. HTTP
	var opts []server.Option
	if cfg.Auth.Enabled() {
		pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithAuth(auth.NewVerifier(pubKey, 0), cfg.Auth.RequiredScope))
		logger.Info("bearer auth enabled", zap.String("required_scope", cfg.Auth.RequiredScope))
	}
	api := server.New(logger, metrics,
		handler.NewHealthHandler(),
		handler.NewNotesHandler(svc, cfg.Server.MaxBodyBytes, logger),
		opts...)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Экспортируем метрики для Prometheus
	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	// 7. Graceful Shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("remote-cli started",
			zap.String("addr", srv.Addr),
			zap.String("vault_root", cfg.Vault.Root),
			zap.String("workspace", cfg.Agent.Workspace),
			zap.Duration("agent_timeout", cfg.Agent.Timeout))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
	case <-ctx.Done():
	}
	logger.Info("remote-cli stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	logger.Info("remote-cli exited properly")
	return nil
}

// openEventRepo подключается к Postgres и создаёт таблицу событий при необходимости.
func openEventRepo(dsn string) (*postgres.EventRepo, error) {
	repo, err := postgres.NewEventRepo(dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("journal database: %w", err)
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("journal database: %w", err)
	}
	return repo, nil
}
