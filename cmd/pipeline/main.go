package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scoutdata/medallion/internal/aggregate"
	"github.com/scoutdata/medallion/internal/config"
	"github.com/scoutdata/medallion/internal/db"
	"github.com/scoutdata/medallion/internal/domain"
	"github.com/scoutdata/medallion/internal/ingest"
	"github.com/scoutdata/medallion/internal/middleware"
	"github.com/scoutdata/medallion/internal/monitor"
	"github.com/scoutdata/medallion/internal/repository"
	"github.com/scoutdata/medallion/internal/retention"
	"github.com/scoutdata/medallion/internal/scheduler"
	"github.com/scoutdata/medallion/internal/validator"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

func main() {
	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Database, "./migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create repositories
	rawRepo := repository.NewRawEventRepository(conn.Pool)
	canonicalRepo := repository.NewCanonicalRepository(conn.Pool)
	refRepo := repository.NewReferenceRepository(conn.Pool)
	snapshotRepo := repository.NewSnapshotRepository(conn)
	monitoringRepo := repository.NewMonitoringRepository(conn.Pool)

	// Create pipeline services
	validatorSvc := validator.NewService(rawRepo, canonicalRepo, refRepo, cfg.Pipeline.BatchSize, cfg.Pipeline.MinConfidence)
	aggregatorSvc := aggregate.NewService(canonicalRepo, snapshotRepo, cfg.Pipeline.LookbackDays)
	monitorSvc := monitor.NewService(rawRepo, snapshotRepo, monitoringRepo, monitor.Thresholds{
		BacklogThreshold:   cfg.Pipeline.BacklogThreshold,
		BacklogMinAge:      cfg.Pipeline.BacklogMinAge,
		StalenessThreshold: cfg.Pipeline.StalenessThreshold,
	})
	sweeper := retention.NewSweeper(rawRepo, cfg.Pipeline.RetentionDays)

	// Register jobs: fast-cadence validation per source type,
	// slow-cadence aggregates, monitor and retention on their own clocks.
	sched := scheduler.New()
	for _, sourceType := range domain.AllSourceTypes() {
		st := sourceType
		sched.Register(
			scheduler.NewJob(fmt.Sprintf("validate_%s", st), func(ctx context.Context) error {
				summary, err := validatorSvc.Run(ctx, st)
				if err != nil {
					return err
				}
				if summary.Scanned > 0 {
					log.Printf("[VALIDATOR] %s: scanned=%d promoted=%d rejected=%d deferred=%d",
						st, summary.Scanned, summary.Promoted, summary.Rejected, summary.Deferred)
				}
				return nil
			}),
			cfg.Pipeline.ValidatorCadence,
			cfg.Pipeline.JobTimeout,
		)
	}
	for _, jobName := range aggregate.JobNames() {
		name := jobName
		sched.Register(
			scheduler.NewJob(fmt.Sprintf("aggregate_%s", name), func(ctx context.Context) error {
				_, err := aggregatorSvc.RunJob(ctx, name)
				return err
			}),
			cfg.Pipeline.AggregateCadence,
			cfg.Pipeline.JobTimeout,
		)
	}
	sched.Register(scheduler.NewJob("health_monitor", monitorSvc.Run), cfg.Pipeline.MonitorCadence, cfg.Pipeline.JobTimeout)
	sched.Register(scheduler.NewJob("retention_sweep", sweeper.Run), cfg.Pipeline.RetentionCadence, cfg.Pipeline.JobTimeout)

	sched.Start(ctx)
	defer sched.Stop()

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	mux := http.NewServeMux()
	mux.Handle("/events/", corsHandler.Handler(middleware.LoggingMiddleware(ingest.NewHTTPHandler(rawRepo))))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sched.Statuses())
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting pipeline server on %s", cfg.HTTP.Addr)
		log.Printf("Ingest endpoint available at POST %s/events/{source_type}", cfg.HTTP.Addr)
		log.Printf("Metrics available at %s/metrics", cfg.HTTP.Addr)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	sched.Stop()
	log.Println("Pipeline exited")
}
