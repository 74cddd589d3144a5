// Package app wires shared infrastructure into the components the
// binaries run.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/voiceagent/internal/config"
	"github.com/acme/voiceagent/internal/infra/db"
	"github.com/acme/voiceagent/internal/infra/redis"
	"github.com/acme/voiceagent/internal/queue"
	"github.com/acme/voiceagent/internal/ratelimit"
	"github.com/acme/voiceagent/internal/repository"
	pgrepo "github.com/acme/voiceagent/internal/repository/postgres"
	scyllarepo "github.com/acme/voiceagent/internal/repository/scylla"
	campaignsvc "github.com/acme/voiceagent/internal/service/campaign"
	"github.com/acme/voiceagent/internal/telephony"
	"github.com/acme/voiceagent/internal/telephony/mor"
	"github.com/acme/voiceagent/internal/telephony/sim"
	campaignworker "github.com/acme/voiceagent/internal/worker/campaign"
	"github.com/acme/voiceagent/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
		publishers   *publishers
		telephony    *telephony.Registry
		rateLimiter  ratelimit.Limiter
		worker       *campaignworker.Worker
	}
}

type repositories struct {
	Campaigns        repository.CampaignRepository
	Contacts         repository.ContactRepository
	CampaignContacts repository.CampaignContactRepository
	Stats            repository.CampaignStatisticsRepository
	CallEvents       repository.CallEventStore
}

type services struct {
	Campaign *campaignsvc.Service
}

type publishers struct {
	CallEvents *queue.CallEventPublisher
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	return &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Campaigns:        pgrepo.NewCampaignRepository(c.Postgres.DB()),
			Contacts:         pgrepo.NewContactRepository(c.Postgres.DB()),
			CampaignContacts: pgrepo.NewCampaignContactRepository(c.Postgres.DB()),
			Stats:            pgrepo.NewCampaignStatisticsRepository(c.Postgres.DB()),
			CallEvents:       scyllarepo.NewCallEventStore(c.Scylla.Session()),
		}

		pubs := &publishers{
			CallEvents: queue.NewCallEventPublisher(c.Kafka, c.Config.Kafka.CallEventTopic),
		}

		registry := telephony.NewRegistry(telephony.BreakerConfig{
			FailureThreshold: c.Config.Breaker.FailureThreshold,
			Timeout:          c.Config.Breaker.Timeout,
			RecoveryTimeout:  c.Config.Breaker.RecoveryTimeout,
		}, c.Config.Telephony.DefaultProvider)
		registry.Register(mor.NewProvider(c.Config.Telephony.MOR, c.Config.Telephony.RequestTimeout, c.Logger))
		registry.Register(sim.NewProvider(0.9, 0))

		limiter := ratelimit.NewRedisLimiter(c.Redis.Inner())

		svcs := &services{
			Campaign: campaignsvc.NewService(
				repos.Campaigns,
				repos.Contacts,
				repos.CampaignContacts,
				repos.Stats,
				c.Config.Telephony.DefaultProvider,
			),
		}

		worker := campaignworker.NewWorker(
			campaignworker.Config{
				TickInterval: c.Config.Worker.TickInterval,
				BaseURL:      c.Config.Worker.BaseURL,
				MaxBatchSize: c.Config.Worker.MaxBatchSize,
			},
			repos.Campaigns,
			repos.CampaignContacts,
			repos.Stats,
			pubs.CallEvents,
			registry,
			limiter,
			c.Logger,
		)

		c.components.repositories = repos
		c.components.publishers = pubs
		c.components.telephony = registry
		c.components.rateLimiter = limiter
		c.components.services = svcs
		c.components.worker = worker
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Publishers exposes Kafka publishers.
func (c *Container) Publishers() *publishers {
	c.initComponents()
	return c.components.publishers
}

// Telephony exposes the breaker-guarded provider registry.
func (c *Container) Telephony() *telephony.Registry {
	c.initComponents()
	return c.components.telephony
}

// RateLimiter exposes the shared dispatch rate limiter.
func (c *Container) RateLimiter() ratelimit.Limiter {
	c.initComponents()
	return c.components.rateLimiter
}

// Worker exposes the campaign dispatch worker.
func (c *Container) Worker() *campaignworker.Worker {
	c.initComponents()
	return c.components.worker
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	return c.Kafka.EnsureTopics(ctx, []string{c.Config.Kafka.CallEventTopic}, 12, 1)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.components.publishers != nil && c.components.publishers.CallEvents != nil {
		if err := c.components.publishers.CallEvents.Close(); err != nil {
			errs = append(errs, fmt.Errorf("call event publisher close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
