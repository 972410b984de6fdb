// Package app wires the billing context to its infrastructure.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	billingApp "github.com/felixgeelhaar/coachpage/internal/billing/application"
	"github.com/felixgeelhaar/coachpage/internal/billing/application/workers"
	billingDomain "github.com/felixgeelhaar/coachpage/internal/billing/domain"
	billingPersistence "github.com/felixgeelhaar/coachpage/internal/billing/infrastructure/persistence"
	"github.com/felixgeelhaar/coachpage/internal/billing/infrastructure/stripe"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database"
	_ "github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database/postgres" // Register PostgreSQL driver
	_ "github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database/sqlite"   // Register SQLite driver
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/idempotency"
	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/coachpage/pkg/config"
	"github.com/felixgeelhaar/coachpage/pkg/observability"
)

// Container holds all application dependencies.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	// Database
	DBConn   database.Connection
	DBDriver database.Driver

	// Redis
	RedisClient *redis.Client

	// Repositories
	EntitlementRepo  billingDomain.EntitlementRepository
	SubscriptionRepo billingDomain.SubscriptionRepository

	// Messaging. InProcessEventBus is set when no broker is configured and
	// then also serves as EventPublisher.
	EventPublisher    eventbus.Publisher
	InProcessEventBus *eventbus.InProcessEventBus

	// Observability
	Metrics *observability.PrometheusMetrics
	Health  *observability.HealthRegistry

	// Billing
	Deduper          *idempotency.Deduper
	BillingService   *billingApp.Service
	StripeClient     *stripe.Client
	WebhookHandler   *stripe.WebhookHandler
	ExpirySweeper    *workers.ExpirySweeper
	IdentityConsumer *billingApp.IdentityConsumer

	memoryDedupe *idempotency.MemoryStore
}

// NewContainer connects to the configured store and brokers and builds the
// billing services. Redis and RabbitMQ are optional outside production.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewPrometheusMetrics(),
		Health:  observability.NewHealthRegistry(),
	}

	if err := c.initDatabase(ctx); err != nil {
		return nil, err
	}
	if err := c.initRedis(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.initPublisher(); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.initBilling(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) initDatabase(ctx context.Context) error {
	cfg := c.Config
	conn, err := database.Open(ctx, database.Config{
		Driver:     database.Driver(cfg.DatabaseDriver),
		URL:        cfg.DatabaseURL,
		SQLitePath: cfg.SQLitePath,
		MaxConns:   cfg.DatabaseMaxConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	applied, err := migrations.Up(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	repo, err := billingPersistence.NewEntitlementRepository(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}
	subs, err := billingPersistence.NewSubscriptionRepository(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	c.DBConn = conn
	c.DBDriver = conn.Driver()
	c.EntitlementRepo = repo
	c.SubscriptionRepo = subs
	c.Health.Register("database", observability.PingChecker("database", observability.HealthStatusUnhealthy, conn.Ping))
	c.Logger.Info("connected to database", "driver", c.DBDriver, "migrations_applied", applied)
	return nil
}

func (c *Container) initRedis(ctx context.Context) error {
	cfg := c.Config
	if cfg.RedisURL == "" {
		return nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		if cfg.IsProduction() {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		c.Logger.Warn("invalid Redis URL, webhook dedupe will use in-memory store", "error", err)
		return nil
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if cfg.IsProduction() {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		c.Logger.Warn("Redis not available, webhook dedupe will use in-memory store", "error", err)
		return nil
	}

	c.RedisClient = client
	c.Health.Register("redis", observability.PingChecker("redis", observability.HealthStatusDegraded,
		func(ctx context.Context) error { return client.Ping(ctx).Err() }))
	c.Logger.Info("connected to Redis")
	return nil
}

func (c *Container) initPublisher() error {
	cfg := c.Config
	if cfg.RabbitMQURL != "" {
		publisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, c.Logger)
		if err == nil {
			c.EventPublisher = publisher
			return nil
		}
		if cfg.IsProduction() {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		c.Logger.Warn("RabbitMQ not available, using in-process event bus", "error", err)
	}

	c.InProcessEventBus = eventbus.NewInProcessEventBus(c.Logger)
	c.EventPublisher = c.InProcessEventBus
	return nil
}

func (c *Container) initBilling() error {
	cfg := c.Config

	c.BillingService = billingApp.NewService(billingApp.ServiceConfig{
		Repository:     c.EntitlementRepo,
		Subscriptions:  c.SubscriptionRepo,
		Publisher:      c.EventPublisher,
		Metrics:        c.Metrics,
		Logger:         c.Logger,
		TrialDuration:  cfg.TrialDuration,
		SweepBatchSize: cfg.SweepBatchSize,
	})

	var store idempotency.Store
	if c.RedisClient != nil {
		store = idempotency.NewRedisStore(c.RedisClient, "coachpage:webhook:")
	} else {
		c.memoryDedupe = idempotency.NewMemoryStore()
		store = c.memoryDedupe
	}
	c.Deduper = idempotency.NewDeduper(store, 0, cfg.WebhookDedupeTTL)

	webhookCfg := stripe.WebhookConfig{
		Secret:  cfg.StripeWebhookSecret,
		Syncer:  c.BillingService,
		Deduper: c.Deduper,
		Metrics: c.Metrics,
		Logger:  c.Logger,
	}
	if cfg.StripeAPIKey != "" {
		c.StripeClient = stripe.NewClient(stripe.ClientConfig{
			APIKey:          cfg.StripeAPIKey,
			BreakerFailures: uint32(cfg.StripeBreakerFailures),
			BreakerTimeout:  cfg.StripeBreakerTimeout,
			Metrics:         c.Metrics,
			Logger:          c.Logger,
		})
		webhookCfg.API = c.StripeClient
	} else {
		c.Logger.Debug("Stripe API key not set; checkout events without a subscription lookup are ignored")
	}
	c.WebhookHandler = stripe.NewWebhookHandler(webhookCfg)

	sweeper, err := workers.NewExpirySweeper(c.BillingService, workers.ExpirySweeperConfig{
		Schedule:   cfg.SweepSchedule,
		RunOnStart: cfg.SweepOnStart,
		Timeout:    workers.DefaultSweepTimeout,
	}, c.Metrics, c.Logger)
	if err != nil {
		return err
	}
	c.ExpirySweeper = sweeper
	c.Health.Register("expiry_sweeper", sweeper.HealthCheck())

	c.IdentityConsumer = billingApp.NewIdentityConsumer(c.BillingService, c.Logger)
	if c.InProcessEventBus != nil {
		c.InProcessEventBus.RegisterConsumer(c.IdentityConsumer)
	}
	return nil
}

// NewIdentityEventConsumer returns the consumer that delivers identity
// events to IdentityConsumer: a durable RabbitMQ queue when a broker is
// configured, else the in-process bus.
func (c *Container) NewIdentityEventConsumer() (eventbus.Consumer, error) {
	if c.InProcessEventBus != nil {
		return c.InProcessEventBus, nil
	}
	consumer, err := eventbus.NewRabbitMQConsumer(eventbus.RabbitMQConsumerConfig{
		URL:       c.Config.RabbitMQURL,
		QueueName: c.Config.IdentityQueue,
		Logger:    c.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start identity consumer: %w", err)
	}
	consumer.RegisterConsumer(c.IdentityConsumer)
	return consumer, nil
}

// Close releases every connection the container opened.
func (c *Container) Close() {
	if c.ExpirySweeper != nil && c.ExpirySweeper.IsRunning() {
		c.ExpirySweeper.Stop()
		c.Logger.Info("expiry sweeper stopped")
	}

	if c.memoryDedupe != nil {
		_ = c.memoryDedupe.Close()
	}

	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			c.Logger.Warn("error closing event publisher", "error", err)
		}
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("error closing Redis connection", "error", err)
		} else {
			c.Logger.Info("Redis connection closed")
		}
	}

	if c.DBConn != nil {
		if err := c.DBConn.Close(); err != nil {
			c.Logger.Warn("error closing database connection", "error", err)
		} else {
			c.Logger.Info("database connection closed", "driver", c.DBDriver)
		}
	}
}
