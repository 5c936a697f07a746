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

	"github.com/spf13/cobra"

	"github.com/opensource-finance/avia/internal/analysis"
	"github.com/opensource-finance/avia/internal/api"
	"github.com/opensource-finance/avia/internal/auth"
	"github.com/opensource-finance/avia/internal/bus"
	"github.com/opensource-finance/avia/internal/cache"
	"github.com/opensource-finance/avia/internal/documents"
	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/history"
	"github.com/opensource-finance/avia/internal/metrics"
	"github.com/opensource-finance/avia/internal/repository"
	"github.com/opensource-finance/avia/internal/rules"
	"github.com/opensource-finance/avia/internal/scoring"
	"github.com/opensource-finance/avia/internal/seed"
	"github.com/opensource-finance/avia/internal/telemetry"
	"github.com/opensource-finance/avia/internal/worker"
)

const (
	shutdownTimeout      = 10 * time.Second
	dbStatsInterval      = 15 * time.Second
	sessionSweepInterval = time.Hour
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the analysis worker",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(os.Stdout)
	if err != nil {
		return err
	}

	logger.Info("starting avia",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	logger.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version, logger)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("failed to flush traces", "error", err)
		}
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("initializing repository: %w", err)
	}
	defer repo.Close()
	go metrics.StartDBStatsCollector(ctx, repo.DB(), dbStatsInterval)
	logger.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initializing cache: %w", err)
	}
	defer cacheImpl.Close()
	logger.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus, logger)
	if err != nil {
		return fmt.Errorf("initializing event bus: %w", err)
	}
	defer busImpl.Close()
	logger.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Scoring engine; missing artifacts leave it in degraded mode
	engine := newScoringEngine(cfg.Scoring, logger)
	logger.Info("scoring engine initialized", "mode", engine.Status().Mode, "version", engine.Version())

	ruleEngine, err := rules.NewEngine(cfg.Scoring.RuleWorkers, logger)
	if err != nil {
		return fmt.Errorf("initializing rule engine: %w", err)
	}
	defer ruleEngine.Close()

	if cfg.Seed.Enabled {
		summary, err := seed.NewSeeder(repo, ruleEngine, logger).Run(ctx, cfg.Seed.CSVPath)
		if err != nil {
			return fmt.Errorf("seeding demo data: %w", err)
		}
		logger.Info("demo data seeded",
			"organizations", summary.Organizations,
			"users", summary.Users,
			"claims", summary.Claims,
			"skipped", summary.Skipped,
		)
	}

	svc := analysis.NewService(analysis.Deps{
		Repo:    repo,
		Cache:   cacheImpl,
		Bus:     busImpl,
		Scorer:  engine,
		Rules:   ruleEngine,
		History: history.NewService(repo),
	}, cfg.Scoring, logger)

	// Async analysis worker, one subscription per organization
	orgs, err := repo.ListOrganizations(ctx)
	if err != nil {
		return fmt.Errorf("listing organizations: %w", err)
	}
	orgIDs := make([]string, 0, len(orgs))
	for _, o := range orgs {
		orgIDs = append(orgIDs, o.ID)
	}
	asyncWorker := worker.NewWorker(busImpl, svc, logger)
	if len(orgIDs) > 0 {
		if err := asyncWorker.Start(worker.Config{OrgIDs: orgIDs}); err != nil {
			return fmt.Errorf("starting worker: %w", err)
		}
		logger.Info("async worker started", "org_count", len(orgIDs))
	} else {
		logger.Warn("no organizations found; async analysis disabled until restart")
	}

	go sweepSessions(ctx, repo, logger)

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Analysis:  svc,
		Model:     engine,
		Auth:      auth.NewService(repo, cacheImpl, cfg.Auth, logger),
		Documents: documents.NewStore(cfg.Upload, repo, logger),
	}, Version, cfg.Tier, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("avia is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cmd, cfg, engine.Status().Mode)

	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		return err
	}

	// Stop async worker first
	if err := asyncWorker.Stop(); err != nil {
		logger.Error("failed to stop async worker", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("avia shutdown complete")
	return nil
}

func newScoringEngine(cfg domain.ScoringConfig, logger *slog.Logger) *scoring.Engine {
	return scoring.NewEngine(scoring.DirLoader(cfg.ModelDir), scoring.Options{
		DisableAttribution: cfg.DisableAttribution,
	}, logger)
}

// sweepSessions removes expired sessions until ctx is done.
func sweepSessions(ctx context.Context, repo domain.Repository, logger *slog.Logger) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := repo.DeleteExpiredSessions(ctx, now)
			if err != nil {
				logger.Warn("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("expired sessions removed", "count", n)
			}
		}
	}
}

func printBanner(cmd *cobra.Command, cfg *domain.Config, mode scoring.Mode) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  AVIA - Fraud Investigation Platform")
	fmt.Fprintln(out, "  Every claim, three lenses.")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Version:  %s\n", Version)
	fmt.Fprintf(out, "  Tier:     %s\n", cfg.Tier)
	fmt.Fprintf(out, "  Scoring:  %s\n", mode)
	fmt.Fprintf(out, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Endpoints:")
	fmt.Fprintln(out, "    POST /auth/login                  - Open a session")
	fmt.Fprintln(out, "    GET  /claims                      - List claims")
	fmt.Fprintln(out, "    POST /claims                      - File a claim")
	fmt.Fprintln(out, "    POST /claims/{id}/analyze         - Score and flag a claim")
	fmt.Fprintln(out, "    POST /claims/{id}/decide          - Record a decision")
	fmt.Fprintln(out, "    GET  /claims/{id}/escalation-package")
	fmt.Fprintln(out, "    POST /score                       - Score a claim record")
	fmt.Fprintln(out, "    GET  /rules                       - List flag rules")
	fmt.Fprintln(out, "    GET  /health                      - Health check")
	fmt.Fprintln(out, "    GET  /metrics                     - Prometheus metrics")
	fmt.Fprintln(out)
}
