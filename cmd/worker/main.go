package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-analytics/internal/api/handlers"
	"github.com/dvloznov/finance-analytics/internal/app"
	"github.com/dvloznov/finance-analytics/internal/config"
	"github.com/dvloznov/finance-analytics/internal/jobs"
	"github.com/dvloznov/finance-analytics/internal/jobs/inmemory"
	"github.com/dvloznov/finance-analytics/internal/scheduler"
	"github.com/rs/zerolog"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file")
	runOnce := flag.Bool("once", false, "Enqueue the scheduled analyses immediately, process them and exit")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := app.NewLogger(cfg.Log, "analytics-worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(context.Background(), cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(a.Context(context.Background()))
	defer cancel()

	jobQueue, jobStore := a.NewQueue()
	if err := jobQueue.Start(ctx, a.Service.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	sched := scheduler.New(jobQueue, cfg.Scheduler.Organizations, cfg.Scheduler.LookbackMonths)

	if *runOnce {
		if err := sched.Enqueue(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to enqueue analyses")
		}
		if err := drain(ctx, jobStore); err != nil {
			log.Error().Err(err).Msg("Failed waiting for analyses")
		}
		shutdown(log, jobQueue, cfg.Server.ShutdownTimeout)
		return
	}

	if len(cfg.Scheduler.Organizations) == 0 {
		log.Warn().Msg("No organizations configured, scheduler will not enqueue jobs")
	}
	if err := sched.Start(ctx, cfg.Scheduler.Cron); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	// Metrics endpoint
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.Health)
	mux.Handle("/metrics", a.Metrics.Handler())
	server := &http.Server{Addr: cfg.Addr(), Handler: mux, ReadTimeout: 15 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	log.Info().Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")
	sched.Stop()
	_ = server.Close()
	shutdown(log, jobQueue, cfg.Server.ShutdownTimeout)
	cancel()

	log.Info().Msg("Worker service exited")
}

// drain blocks until no job in store is waiting or running.
func drain(ctx context.Context, store jobs.JobStore) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		all, err := store.ListJobs(ctx, jobs.JobFilter{})
		if err != nil {
			return err
		}
		active := 0
		for _, j := range all {
			if j.Status != jobs.JobStatusCompleted && j.Status != jobs.JobStatusFailed {
				active++
			}
		}
		if active == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// shutdown stops the queue and waits up to timeout for in-flight jobs.
func shutdown(log zerolog.Logger, queue *inmemory.Queue, timeout time.Duration) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
}
