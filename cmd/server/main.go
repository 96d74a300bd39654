package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/naperu/zapinsight/internal/api"
	"github.com/naperu/zapinsight/internal/app"
	"github.com/naperu/zapinsight/internal/scheduler"
	"github.com/naperu/zapinsight/pkg/config"
)

func main() {
	// Load configuration
	cfg := config.Load()

	a, err := app.New(cfg, app.Options{Live: true})
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.Close()

	// Background work (scheduled batches, async full syncs) stops with ctx
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := api.NewServer(ctx, cfg, a.Services, a.Hub, a.Registry, a.HealthChecks())

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		sched = scheduler.New(a.Jobs()...)
		sched.Start(ctx)
		server.SetScheduler(sched)
		log.Printf("⏱️  Scheduler enabled: poll every %v, analysis every %v", cfg.PollInterval, cfg.AnalysisInterval)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")

		if sched != nil {
			sched.Stop()
		}
		cancel()

		if err := server.Shutdown(); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	log.Printf("🚀 zapinsight server starting on port %s", cfg.Port)
	if err := server.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
