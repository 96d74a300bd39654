// Package app wires configuration, storage and the pipeline services for the
// server and the CLI.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/naperu/zapinsight/internal/api"
	"github.com/naperu/zapinsight/internal/gateway"
	"github.com/naperu/zapinsight/internal/llm"
	"github.com/naperu/zapinsight/internal/metrics"
	"github.com/naperu/zapinsight/internal/repository"
	"github.com/naperu/zapinsight/internal/scheduler"
	"github.com/naperu/zapinsight/internal/service"
	"github.com/naperu/zapinsight/internal/storage"
	"github.com/naperu/zapinsight/internal/ws"
	"github.com/naperu/zapinsight/pkg/cache"
	"github.com/naperu/zapinsight/pkg/config"
	"github.com/naperu/zapinsight/pkg/database"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Options select the optional parts of the wiring.
type Options struct {
	// Live starts the websocket hub so services publish events to dashboards.
	Live bool
}

type App struct {
	Config   *config.Config
	DB       *pgxpool.Pool
	Repos    *repository.Repositories
	Cache    *cache.Cache
	Storage  *storage.Storage
	Hub      *ws.Hub
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Services *service.Services
}

// New connects to the database, runs migrations and builds the services.
// Redis and MinIO are optional: a failure there only disables the feature.
func New(cfg *config.Config, opts Options) (*App, error) {
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a := &App{
		Config:   cfg,
		DB:       db,
		Repos:    repository.NewRepositories(db),
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Initialize storage (MinIO)
	if cfg.MinioEndpoint != "" {
		store, err := storage.New(storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MinioPublicURL,
		})
		if err != nil {
			log.Printf("Warning: Failed to initialize storage: %v (avatar mirroring disabled)", err)
		} else {
			a.Storage = store
			log.Printf("✅ MinIO storage initialized at %s", cfg.MinioEndpoint)
		}
	}

	// Initialize Redis cache
	if cfg.RedisURL != "" {
		c, err := cache.New(cfg.RedisURL)
		if err != nil {
			log.Printf("Warning: Failed to initialize Redis cache: %v (caching disabled)", err)
		} else {
			a.Cache = c
			log.Printf("✅ Redis cache initialized")
		}
	}

	var clients func() int
	if opts.Live {
		a.Hub = ws.NewHub()
		go a.Hub.Run()
		clients = a.Hub.GetClientCount
	}
	a.Metrics = metrics.New(a.Registry, clients)

	deps := service.Deps{
		Stores:  a.Repos.Stores(),
		Gateway: gateway.NewClient(cfg.GatewayURL, cfg.GatewayToken, cfg.GatewayInstance, cfg.GatewayMinInterval),
		LLM:     llm.NewOpenAIClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout),
		Metrics: a.Metrics,
	}
	// typed nils must not reach the interfaces
	if a.Cache != nil {
		deps.Cache = a.Cache
	}
	if a.Storage != nil {
		deps.Avatars = a.Storage
	}
	if a.Hub != nil {
		deps.Notifier = a.Hub
	}
	a.Services = service.NewServices(deps, service.OptionsFromConfig(cfg), cfg.JWTSecret)
	return a, nil
}

// HealthChecks probes the configured dependencies.
func (a *App) HealthChecks() map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{
		"database": func(ctx context.Context) error { return a.Repos.DB().Ping(ctx) },
	}
	if a.Cache != nil {
		checks["redis"] = a.Cache.Ping
	}
	if a.Storage != nil {
		checks["storage"] = a.Storage.Ping
	}
	return checks
}

// Jobs are the periodic triggers: general poll, analysis batch and stale
// lease release. Each tick processes one bounded batch.
func (a *App) Jobs() []scheduler.Job {
	cfg := a.Config
	svc := a.Services
	return []scheduler.Job{
		{
			Name:     "poll",
			Interval: cfg.PollInterval,
			Timeout:  cfg.PollInterval * 3,
			Run: func(ctx context.Context) error {
				_, err := svc.Ingest.PollChats(ctx, cfg.PollChatLimit, cfg.PollMessageLimit)
				return err
			},
		},
		{
			Name:     "analysis",
			Interval: cfg.AnalysisInterval,
			Timeout:  cfg.AnalysisLease,
			Run: func(ctx context.Context) error {
				_, err := svc.Worker.RunBatch(ctx, cfg.AnalysisBatchSize)
				return err
			},
		},
		{
			Name:     "release_stale",
			Interval: cfg.AnalysisLease / 2,
			Timeout:  time.Minute,
			Run: func(ctx context.Context) error {
				_, err := svc.Queue.ReleaseStale(ctx)
				return err
			},
		},
	}
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			log.Printf("Redis close error: %v", err)
		}
	}
	a.DB.Close()
}
