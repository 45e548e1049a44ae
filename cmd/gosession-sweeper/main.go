// Command gosession-sweeper runs the expired-session sweep against one store
// on a cron schedule until interrupted. Configuration comes from the
// environment, optionally seeded from a .env file.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal/logger"
	"github.com/MrEthical07/goSession/session"
	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Schedule string `env:"SWEEP_SCHEDULE" envDefault:"0 */15 * * * *"`
	// RunOnStart performs one sweep before the first scheduled tick.
	RunOnStart bool `env:"SWEEP_ON_START" envDefault:"true"`

	RedisURL    string `env:"REDIS_URL"`
	RedisPrefix string `env:"REDIS_PREFIX" envDefault:"gs"`

	MongoURL      string `env:"MONGODB_URL"`
	MongoDatabase string `env:"MONGODB_DATABASE" envDefault:"gosession"`

	PostgresURL string `env:"PG_CONN_URL"`

	SessionCollection string        `env:"SESSION_COLLECTION" envDefault:"refresh_token"`
	KeyCollection     string        `env:"KEY_COLLECTION" envDefault:"signing_key"`
	ConnectTimeout    time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gosession-sweeper: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine; the environment alone is enough.
	_ = godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	log := newLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engineCfg := goSession.DefaultConfig()
	engineCfg.Store.RedisPrefix = cfg.RedisPrefix
	engineCfg.Store.SessionCollection = cfg.SessionCollection
	engineCfg.Store.KeyCollection = cfg.KeyCollection
	engineCfg.Sweeper.Enabled = true
	engineCfg.Sweeper.Schedule = cfg.Schedule
	engineCfg.Metrics.Enabled = true

	builder := goSession.New().WithConfig(engineCfg).WithLogger(log)
	closeStore, err := attachStore(ctx, cfg, builder, log)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	if cfg.RunOnStart {
		n, err := engine.SweepExpiredSessions(ctx)
		if err != nil {
			log.Error("initial sweep failed", logger.Error(err))
		} else {
			log.Info("initial sweep finished", logger.Count("swept", n))
		}
	}

	log.Info("sweeper running", slog.String("schedule", cfg.Schedule))
	<-ctx.Done()
	log.Info("sweeper stopping",
		slog.Uint64("swept_total", engine.MetricsSnapshot().Counters[goSession.MetricExpiredSessionsSwept]),
	)
	return nil
}

// attachStore connects the one configured backend and registers it on b.
// Mongo indexes and Postgres tables are created before the engine is built.
func attachStore(ctx context.Context, cfg config, b *goSession.Builder, log *slog.Logger) (func(), error) {
	set := 0
	for _, url := range []string{cfg.RedisURL, cfg.MongoURL, cfg.PostgresURL} {
		if url != "" {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New("exactly one of REDIS_URL, MONGODB_URL or PG_CONN_URL must be set")
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	switch {
	case cfg.RedisURL != "":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(connectCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		b.WithRedis(client)
		log.Info("store connected", slog.String("store", "redis"))
		return func() { _ = client.Close() }, nil

	case cfg.MongoURL != "":
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURL))
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		closeFn := func() { _ = client.Disconnect(context.Background()) }
		if err := client.Ping(connectCtx, nil); err != nil {
			closeFn()
			return nil, fmt.Errorf("mongo ping: %w", err)
		}
		db := client.Database(cfg.MongoDatabase)
		if err := session.NewMongoStore(db, cfg.SessionCollection, cfg.KeyCollection).EnsureIndexes(connectCtx); err != nil {
			closeFn()
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		b.WithMongo(db)
		log.Info("store connected", slog.String("store", "mongo"))
		return closeFn, nil

	default:
		pool, err := pgxpool.New(connectCtx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		if err := pool.Ping(connectCtx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		if err := session.NewPostgresStore(pool, cfg.SessionCollection, cfg.KeyCollection).Migrate(connectCtx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		b.WithPostgres(pool)
		log.Info("store connected", slog.String("store", "postgres"))
		return pool.Close, nil
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
