package goSession

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/goSession/internal"
	internalaudit "github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/internal/logger"
	"github.com/MrEthical07/goSession/internal/signingkey"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/refresh"
	"github.com/MrEthical07/goSession/session"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Builder assembles an [Engine]. Configure it during initialization and call
// Build once.
type Builder struct {
	config Config

	backend  session.Backend
	redis    redis.UniversalClient
	mongo    *mongo.Database
	postgres *pgxpool.Pool

	auditSink AuditSink
	logger    *slog.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore uses a caller-supplied backend.
func (b *Builder) WithStore(backend session.Backend) *Builder {
	b.backend = backend
	return b
}

// WithRedis stores sessions in Redis under Config.Store.RedisPrefix.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithMongo stores sessions in db, in the collections named by Config.Store.
// Call [session.MongoStore.EnsureIndexes] once before serving traffic.
func (b *Builder) WithMongo(db *mongo.Database) *Builder {
	b.mongo = db
	return b
}

// WithPostgres stores sessions in the tables named by Config.Store.
// Call [session.PostgresStore.Migrate] once before serving traffic.
func (b *Builder) WithPostgres(pool *pgxpool.Pool) *Builder {
	b.postgres = pool
	return b
}

// WithAuditSink sets the sink that receives audit events when
// Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger. It defaults to [slog.Default].
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles latency histograms for GetSession and
// RefreshSession.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine. It performs no I/O;
// keys are created in the store on first use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend, err := b.resolveBackend(cfg)
	if err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	log := b.logger
	if log == nil {
		log = slog.Default()
	}

	engine := &Engine{
		config:  cloneConfig(cfg),
		backend: backend,
		logger:  log.With(logger.Component("gosession")),
		now:     now,
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	// -------- SIGNING KEYS --------
	refreshKeys, err := signingkey.New(signingkey.Config{
		Store:    backend,
		Name:     signingkey.RefreshTokenKeyName,
		Dynamic:  false,
		Now:      now,
		OnRotate: engine.onKeyRotated,
	})
	if err != nil {
		return nil, err
	}

	accessKey := cfg.AccessToken.SigningKeyProvider
	if accessKey == nil && cfg.AccessToken.SigningMethod == string(jwt.MethodHS256) {
		accessKeys, err := signingkey.New(signingkey.Config{
			Store:          backend,
			Name:           signingkey.AccessTokenKeyName,
			Dynamic:        cfg.AccessToken.DynamicSigningKey,
			UpdateInterval: cfg.AccessToken.SigningKeyUpdateInterval,
			Now:            now,
			OnRotate:       engine.onKeyRotated,
		})
		if err != nil {
			return nil, err
		}
		accessKey = accessKeys.Key
	}

	// -------- TOKEN CODECS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.AccessToken.Validity,
		SigningMethod: jwt.SigningMethod(cfg.AccessToken.SigningMethod),
		SigningKey:    jwt.KeyFunc(accessKey),
		PrivateKey:    cloneBytes(cfg.AccessToken.PrivateKey),
		PublicKey:     cloneBytes(cfg.AccessToken.PublicKey),
		Issuer:        cfg.AccessToken.Issuer,
		Audience:      cfg.AccessToken.Audience,
		Leeway:        cfg.AccessToken.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	codec, err := refresh.NewCodec(refreshKeys.Key, cfg.RefreshToken.Validity, now)
	if err != nil {
		return nil, err
	}

	// -------- FLOWS --------
	tokens := flows.TokenDeps{
		IssueAccess:   jm.CreateAccess,
		ParseAccess:   jm.ParseAccess,
		IssueRefresh:  codec.Issue,
		DecodeRefresh: codec.Decode,
		Hash:          internal.Hash,
		NewHandle:     internal.NewSessionHandle,
		NewUUID:       internal.NewUUID,
	}
	debug := func(msg string, args ...any) {
		engine.logger.Debug(msg, args...)
	}
	engine.flows = flows.New(flows.Deps{
		Create: flows.CreateDeps{
			Tokens:          tokens,
			Store:           backend,
			AntiCSRF:        cfg.AntiCSRF.Enabled,
			RefreshValidity: cfg.RefreshToken.Validity,
			Now:             now,
		},
		GetSession: flows.GetSessionDeps{
			Tokens:          tokens,
			Store:           backend,
			AntiCSRF:        cfg.AntiCSRF.Enabled,
			Blacklisting:    cfg.AccessToken.Blacklisting,
			RefreshValidity: cfg.RefreshToken.Validity,
			MaxCASAttempts:  cfg.Rotation.MaxCASAttempts,
			Now:             now,
			Debug:           debug,
		},
		Refresh: flows.RefreshDeps{
			Tokens:          tokens,
			Store:           backend,
			AntiCSRF:        cfg.AntiCSRF.Enabled,
			RefreshValidity: cfg.RefreshToken.Validity,
			MaxCASAttempts:  cfg.Rotation.MaxCASAttempts,
			Now:             now,
			Debug:           debug,
		},
		Revoke:      flows.RevokeDeps{Store: backend},
		SessionData: flows.SessionDataDeps{Store: backend},
		Sweep:       flows.SweepDeps{Store: backend, Now: now},
	})

	// -------- SWEEPER --------
	if cfg.Sweeper.Enabled {
		sweepCtx, cancel := context.WithCancel(context.Background())
		c := cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC))
		if _, err := c.AddFunc(cfg.Sweeper.Schedule, func() {
			engine.runScheduledSweep(sweepCtx)
		}); err != nil {
			cancel()
			return nil, err
		}
		c.Start()
		engine.sweeper = c
		engine.stopSweep = cancel
	}

	b.built = true

	return engine, nil
}

func (b *Builder) resolveBackend(cfg Config) (session.Backend, error) {
	set := 0
	for _, ok := range []bool{b.backend != nil, b.redis != nil, b.mongo != nil, b.postgres != nil} {
		if ok {
			set++
		}
	}
	if set == 0 {
		return nil, errors.New("a session store is required")
	}
	if set > 1 {
		return nil, errors.New("exactly one session store must be configured")
	}

	switch {
	case b.backend != nil:
		return b.backend, nil
	case b.redis != nil:
		return session.NewRedisStore(b.redis, cfg.Store.RedisPrefix), nil
	case b.mongo != nil:
		return session.NewMongoStore(b.mongo, cfg.Store.SessionCollection, cfg.Store.KeyCollection), nil
	default:
		return session.NewPostgresStore(b.postgres, cfg.Store.SessionCollection, cfg.Store.KeyCollection), nil
	}
}
