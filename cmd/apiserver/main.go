// API server entry point: hosts the REST surface and, in the default
// single-process deployment, the dispatch workers and evaluator hook.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/reachforge/outreach-core/internal/application/evaluation"
	"github.com/reachforge/outreach-core/internal/application/orchestrator"
	"github.com/reachforge/outreach-core/internal/config"
	"github.com/reachforge/outreach-core/internal/domain/dispatch"
	"github.com/reachforge/outreach-core/internal/domain/experiment"
	"github.com/reachforge/outreach-core/internal/domain/tracking"
	"github.com/reachforge/outreach-core/internal/infrastructure/delivery"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/prometheus"
	"github.com/reachforge/outreach-core/internal/interfaces/rest"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (env-only when empty)")
	port := flag.Int("port", 0, "HTTP port override")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("apiserver")

	if err := run(cfg, logger); err != nil {
		logger.Fatal("apiserver failed", logging.Err(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromEnv()
	}
	return config.Load(path)
}

func run(cfg *config.Config, logger logging.Logger) error {
	deps, err := buildDependencies(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	clock := common.SystemClock{}
	metrics := prometheus.New(cfg.Metrics.Namespace)

	service := experiment.NewService(deps.tests, clock, logger)
	engine := experiment.NewEngine(deps.tests, deps.assignments, clock, logger)
	tracker := tracking.NewTracker(deps.tests, deps.events, deps.aggregates,
		deps.publisher, cfg.Experiment.SampleSizeFloor, clock, logger)
	evaluator := evaluation.NewEvaluator(deps.tests, tracker, metrics, clock, logger)
	tracker.SetCompletionHook(evaluator.CompletionHook())

	queue, err := dispatch.NewQueue(cfg.Dispatch, dispatch.Options{
		Repo:    deps.queueItems,
		Rates:   deps.rateStates,
		Counter: deps.rateCounter,
		Sender:  delivery.FromConfig(cfg.Delivery, logger),
		Clock:   clock,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	orch := orchestrator.New(engine, tracker, queue, logger)

	ctx := context.Background()
	if err := queue.Initialize(ctx); err != nil {
		return err
	}

	renderer := func(_ context.Context, v *experiment.Variant) (string, error) {
		return v.TemplateRef, nil
	}
	router := rest.NewRouter(rest.RouterConfig{
		Tests:   rest.NewTestHandler(service, tracker, evaluator),
		Events:  rest.NewEventHandler(tracker, metrics),
		Queue:   rest.NewQueueHandler(queue, orch, renderer),
		Health:  rest.NewHealthHandler(deps.healthChecks()),
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

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", logging.Err(err))
	}
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Error("queue shutdown failed", logging.Err(err))
	}
	logger.Info("apiserver stopped")
	return nil
}
