package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deliveryctl/core/internal/clock"
	"github.com/deliveryctl/core/internal/config"
	"github.com/deliveryctl/core/internal/database"
	"github.com/deliveryctl/core/internal/database/postgres"
	"github.com/deliveryctl/core/internal/deliveryconfig"
	"github.com/deliveryctl/core/internal/httpmw"
	"github.com/deliveryctl/core/internal/registry"
	"github.com/deliveryctl/core/internal/resource"
)

const serviceName = "deliverycore"

// runReconciliationLoop periodically claims delivery configs and resources
// whose last check is older than cfg.CheckInterval, up to cfg.ClaimBatchSize
// at a time. Claiming is the full extent of this core's responsibility;
// actually reconciling a claimed item is external collaborator territory.
func runReconciliationLoop(ctx context.Context, cfg config.PromotionConfig, configRepo deliveryconfig.Repository, resourceRepo resource.Repository, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			claimedConfigs, err := configRepo.ItemsDueForCheck(ctx, cfg.CheckInterval, cfg.ClaimBatchSize)
			if err != nil {
				logger.Error("claiming delivery configs due for check failed", "error", err)
			} else if len(claimedConfigs) > 0 {
				logger.Info("claimed delivery configs for check", "count", len(claimedConfigs))
			}

			claimedResources, err := resourceRepo.ItemsDueForCheck(ctx, cfg.CheckInterval, cfg.ClaimBatchSize)
			if err != nil {
				logger.Error("claiming resources due for check failed", "error", err)
			} else if len(claimedResources) > 0 {
				logger.Info("claimed resources for check", "count", len(claimedResources))
			}
		}
	}
}

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to config file (optional; env vars and defaults otherwise)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", serviceName, "0.1.0")
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("starting delivery control-plane core", "app", cfg.App.Name, "environment", cfg.App.Environment)

	dbConfig := postgres.LoadFromEnv()
	if dbConfig.Database == "" {
		dbConfig.Database = cfg.Database.Database
	}
	pool := postgres.NewPostgresPool(dbConfig, logger)

	ctx := context.Background()
	if err := pool.Connect(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to postgres")

	if err := database.RunMigrations(ctx, pool, logger); err != nil {
		logger.Error("failed to run database migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations complete")

	systemClock := clock.System{}
	artifactRepo := registry.NewPostgresArtifactRepository(pool.Pool(), systemClock, logger.With("component", "artifact_repository"))
	configRepo := deliveryconfig.NewPostgresRepository(pool.Pool(), systemClock, logger.With("component", "delivery_config_repository"))
	resourceRepo := resource.NewPostgresRepository(pool.Pool(), systemClock, logger.With("component", "resource_repository"))

	// artifactRepo is reachable for request handlers wired in future
	// iterations; the reconciliation loop only drives the two repositories
	// that carry a claim-for-check queue.
	_ = artifactRepo

	reconcileCtx, stopReconcile := context.WithCancel(context.Background())
	defer stopReconcile()
	go runReconciliationLoop(reconcileCtx, cfg.Promotion, configRepo, resourceRepo, logger)

	poolExporter := postgres.NewPrometheusExporter(pool, nil)
	poolExporter.Start(reconcileCtx, 15*time.Second)
	defer poolExporter.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("unhealthy"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	rateLimit := httpmw.RateLimit(reconcileCtx, cfg.Server.RateLimitPerMinute, cfg.Server.RateLimitBurst)
	handler := httpmw.RequestID(rateLimit(mux))

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: handler,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("http server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := pool.Close(); err != nil {
		logger.Error("failed to close database pool", "error", err)
	}

	logger.Info("server exited")
}
