package main

import (
	"github.com/reachforge/outreach-core/internal/config"
	"github.com/reachforge/outreach-core/internal/domain/dispatch"
	"github.com/reachforge/outreach-core/internal/domain/experiment"
	"github.com/reachforge/outreach-core/internal/domain/tracking"
	"github.com/reachforge/outreach-core/internal/infrastructure/database/postgres"
	"github.com/reachforge/outreach-core/internal/infrastructure/database/postgres/repositories"
	"github.com/reachforge/outreach-core/internal/infrastructure/database/redis"
	"github.com/reachforge/outreach-core/internal/infrastructure/messaging/kafka"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/internal/interfaces/rest"
)

// dependencies groups the infrastructure handles and the repository
// implementations built on them.
type dependencies struct {
	conn  *postgres.Connection
	redis *redis.Client
	kafka *kafka.EventPublisher

	tests       experiment.TestRepository
	assignments experiment.AssignmentRepository
	events      tracking.EventRepository
	aggregates  tracking.AggregateRepository
	publisher   tracking.EventPublisher
	queueItems  dispatch.QueueRepository
	rateStates  dispatch.RateStateRepository
	rateCounter dispatch.HotRateCounter
}

// buildDependencies connects to postgres (running migrations), redis, and
// kafka per config.  Redis and kafka are optional: a missing redis falls
// back to database-only rate windows, missing kafka brokers disable the
// audit stream.
func buildDependencies(cfg *config.Config, logger logging.Logger) (*dependencies, error) {
	conn, err := postgres.NewConnection(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := conn.RunMigrations(cfg.Database.MigrationPath); err != nil {
		_ = conn.Close()
		return nil, err
	}

	deps := &dependencies{
		conn:        conn,
		tests:       repositories.NewTestRepository(conn.DB(), logger),
		assignments: repositories.NewAssignmentRepository(conn.DB(), logger),
		events:      repositories.NewEventRepository(conn.DB(), logger),
		aggregates:  repositories.NewAggregateRepository(conn.DB(), logger),
		queueItems:  repositories.NewQueueRepository(conn.DB(), logger),
		rateStates:  repositories.NewRateStateRepository(conn.DB(), logger),
	}

	redisClient, err := redis.NewClient(cfg.Redis, logger)
	if err != nil {
		logger.Warn("redis unavailable, hot rate counters disabled", logging.Err(err))
	} else {
		deps.redis = redisClient
		deps.rateCounter = redis.NewRateCounter(redisClient, logger)
	}

	if publisher := kafka.NewEventPublisher(cfg.Kafka, logger); publisher != nil {
		deps.kafka = publisher
		deps.publisher = publisher
	}

	return deps, nil
}

func (d *dependencies) healthChecks() map[string]rest.HealthChecker {
	checks := map[string]rest.HealthChecker{
		"postgres": d.conn,
	}
	if d.redis != nil {
		checks["redis"] = d.redis
	}
	return checks
}

func (d *dependencies) close(logger logging.Logger) {
	if d.kafka != nil {
		if err := d.kafka.Close(); err != nil {
			logger.Warn("kafka close failed", logging.Err(err))
		}
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			logger.Warn("redis close failed", logging.Err(err))
		}
	}
	if err := d.conn.Close(); err != nil {
		logger.Warn("postgres close failed", logging.Err(err))
	}
}
