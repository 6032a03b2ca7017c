package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pennyauction/go/internal/auction/bots"
	"github.com/mcdev12/pennyauction/go/internal/auction/broadcast"
	"github.com/mcdev12/pennyauction/go/internal/auction/commands"
	"github.com/mcdev12/pennyauction/go/internal/auction/events"
	"github.com/mcdev12/pennyauction/go/internal/auction/gateway"
	"github.com/mcdev12/pennyauction/go/internal/auction/lifecycle"
	"github.com/mcdev12/pennyauction/go/internal/auction/metrics"
	"github.com/mcdev12/pennyauction/go/internal/auction/scheduler"
	"github.com/mcdev12/pennyauction/go/internal/auction/store"
	"github.com/mcdev12/pennyauction/go/internal/auction/timer"
	"github.com/mcdev12/pennyauction/go/internal/dbconfig"
	"github.com/mcdev12/pennyauction/go/internal/engineconfig"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Services holds everything the engine process runs.
type Services struct {
	Store     store.Store
	Metrics   *metrics.Prometheus
	Viewers   *gateway.ConnectionManager
	Lifecycle *lifecycle.Service
	Scheduler *scheduler.Scheduler
	Commands  *commands.Consumer // nil without NATS

	pool  *pgxpool.Pool
	lock  *store.EngineLock
	redis *redis.Client
	nats  *nats.Conn
	kafka *broadcast.KafkaPublisher
}

func setupServices(ctx context.Context, cfg engineconfig.Config) (*Services, error) {
	s := &Services{Metrics: metrics.NewPrometheus()}

	// Storage → broadcast → timers/bots → lifecycle → scheduler/commands
	st, err := s.setupStore(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Store = st

	s.Viewers = gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), s.Metrics)
	fanout := broadcast.NewFanout(s.Viewers, broadcast.LogBroadcaster{})

	if cfg.NATS.URL != "" {
		nc, err := commands.Connect(cfg.NATS.URL, "auction-engine")
		if err != nil {
			s.Close()
			return nil, err
		}
		s.nats = nc
		fanout.Add(broadcast.NewNATSPublisher(nc, cfg.NATS.EventPrefix))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		s.kafka = broadcast.NewKafkaPublisher(broadcast.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		// Only lifecycle transitions go to the audit stream; ticks stay on the live channels.
		fanout.Add(broadcast.Filter{
			Next: s.kafka,
			Types: map[events.Type]bool{
				events.TypeAuctionStarted:  true,
				events.TypeAuctionFinished: true,
			},
		})
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka audit stream enabled")
	}

	clock := clockwork.NewRealClock()
	timers := timer.NewManager(clock, cfg.TickInterval)
	engine := bots.NewEngine(st, nil, bots.Config{
		Triggers:    cfg.Bots.Triggers,
		MinInterval: cfg.Bots.MinInterval,
	}, bots.WithMetrics(s.Metrics))

	s.Lifecycle = lifecycle.NewService(st, timers, engine, fanout,
		lifecycle.WithMetrics(s.Metrics),
		lifecycle.WithRecentBids(cfg.RecentBids),
	)

	s.Scheduler = scheduler.New(s.Lifecycle, st, fanout,
		scheduler.WithMetrics(s.Metrics),
		scheduler.WithInterval(cfg.SchedulerInterval),
		scheduler.WithStartDelay(cfg.SchedulerStartDelay),
		scheduler.WithRecentBids(cfg.RecentBids),
	)

	if s.nats != nil {
		s.Commands = commands.NewConsumer(s.nats, commands.NewHandler(s.Lifecycle), commands.Config{
			SubjectPrefix: cfg.NATS.CommandPrefix,
			QueueGroup:    cfg.NATS.QueueGroup,
		})
	}

	return s, nil
}

func (s *Services) setupStore(ctx context.Context, cfg engineconfig.Config) (store.Store, error) {
	var st store.Store
	switch cfg.Storage {
	case engineconfig.StorageMemory:
		log.Warn().Msg("using in-memory storage, state is lost on exit")
		st = store.NewMemory()

	default:
		dbCfg := dbconfig.NewConfigFromEnv()
		poolCfg, err := dbCfg.PoolConfig()
		if err != nil {
			return nil, err
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.pool = pool
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		if err := store.Migrate(ctx, pool); err != nil {
			return nil, err
		}

		// Standbys block here until the active instance exits.
		log.Info().Msg("waiting for engine lock")
		lock, err := store.AcquireEngineLock(ctx, pool)
		if err != nil {
			return nil, err
		}
		s.lock = lock
		log.Info().
			Str("host", dbCfg.Host).
			Str("database", dbCfg.Database).
			Msg("connected to database, engine lock held")
		st = store.NewPostgres(pool)
	}

	if cfg.Redis.Addr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("bid balances served from redis")
		st = store.WithLedger(st, store.NewRedisLedger(s.redis, cfg.Redis.KeyPrefix))
	}
	return st, nil
}

// Close releases connections in reverse order of creation.
func (s *Services) Close() {
	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka writer")
		}
	}
	if s.nats != nil {
		if err := s.nats.Drain(); err != nil {
			log.Error().Err(err).Msg("failed to drain NATS connection")
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close redis client")
		}
	}
	if s.lock != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.lock.Release(ctx); err != nil {
			log.Error().Err(err).Msg("failed to release engine lock")
		}
		cancel()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
