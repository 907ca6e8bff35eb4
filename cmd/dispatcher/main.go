// Dispatcher entry point: the standalone delivery worker process.  It owns
// the dispatch queue and the periodic winner evaluation loop, and exposes
// only health and metrics endpoints.  Run either this alongside an apiserver
// started without delivery duties, or a single apiserver that owns both;
// never two queue owners against one database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/reachforge/outreach-core/internal/application/evaluation"
	"github.com/reachforge/outreach-core/internal/application/orchestrator"
	"github.com/reachforge/outreach-core/internal/config"
	"github.com/reachforge/outreach-core/internal/domain/dispatch"
	"github.com/reachforge/outreach-core/internal/domain/experiment"
	"github.com/reachforge/outreach-core/internal/domain/tracking"
	"github.com/reachforge/outreach-core/internal/infrastructure/database/postgres"
	"github.com/reachforge/outreach-core/internal/infrastructure/database/postgres/repositories"
	"github.com/reachforge/outreach-core/internal/infrastructure/database/redis"
	"github.com/reachforge/outreach-core/internal/infrastructure/delivery"
	"github.com/reachforge/outreach-core/internal/infrastructure/messaging/kafka"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/prometheus"
	"github.com/reachforge/outreach-core/internal/interfaces/rest"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (env-only when empty)")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath == "" {
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.Load(*configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatcher: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatcher: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("dispatcher")

	if err := run(cfg, logger); err != nil {
		logger.Fatal("dispatcher failed", logging.Err(err))
	}
}

func run(cfg *config.Config, logger logging.Logger) error {
	conn, err := postgres.NewConnection(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.RunMigrations(cfg.Database.MigrationPath); err != nil {
		return err
	}

	var counter dispatch.HotRateCounter
	redisClient, err := redis.NewClient(cfg.Redis, logger)
	if err != nil {
		logger.Warn("redis unavailable, hot rate counters disabled", logging.Err(err))
	} else {
		defer redisClient.Close()
		counter = redis.NewRateCounter(redisClient, logger)
	}

	var publisher tracking.EventPublisher
	kafkaPublisher := kafka.NewEventPublisher(cfg.Kafka, logger)
	if kafkaPublisher != nil {
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	clock := common.SystemClock{}
	metrics := prometheus.New(cfg.Metrics.Namespace)
	db := conn.DB()

	tests := repositories.NewTestRepository(db, logger)
	engine := experiment.NewEngine(tests,
		repositories.NewAssignmentRepository(db, logger), clock, logger)
	tracker := tracking.NewTracker(tests,
		repositories.NewEventRepository(db, logger),
		repositories.NewAggregateRepository(db, logger),
		publisher, cfg.Experiment.SampleSizeFloor, clock, logger)
	evaluator := evaluation.NewEvaluator(tests, tracker, metrics, clock, logger)
	tracker.SetCompletionHook(evaluator.CompletionHook())

	queue, err := dispatch.NewQueue(cfg.Dispatch, dispatch.Options{
		Repo:    repositories.NewQueueRepository(db, logger),
		Rates:   repositories.NewRateStateRepository(db, logger),
		Counter: counter,
		Sender:  delivery.FromConfig(cfg.Delivery, logger),
		Clock:   clock,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	// Registers the completion callback so delivery outcomes are recorded.
	orchestrator.New(engine, tracker, queue, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := queue.Initialize(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		evaluator.Run(ctx, cfg.Experiment.EvaluationInterval)
	}()

	healthChecks := map[string]rest.HealthChecker{"postgres": conn}
	if redisClient != nil {
		healthChecks["redis"] = redisClient
	}
	router := rest.NewRouter(rest.RouterConfig{
		Health:  rest.NewHealthHandler(healthChecks),
		Logger:  logger,
		Metrics: metrics,
		Server:  cfg.Server,
	})
	server := rest.NewServer(cfg.Server, router, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", logging.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("status server shutdown failed", logging.Err(err))
	}
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Error("queue shutdown failed", logging.Err(err))
	}
	logger.Info("dispatcher stopped")
	return nil
}
