package goSession

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// Config is the complete engine configuration. Start from [DefaultConfig]
// and override fields; a Config is copied by the builder and never shared.
type Config struct {
	AccessToken  AccessTokenConfig
	RefreshToken RefreshTokenConfig
	AntiCSRF     AntiCSRFConfig
	Store        StoreConfig
	Rotation     RotationConfig
	Sweeper      SweeperConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
ACCESS TOKEN CONFIG
====================================
*/

// AccessTokenConfig controls access token minting and verification.
type AccessTokenConfig struct {
	Validity time.Duration
	// Blacklisting makes GetSession check that the session record still exists.
	Blacklisting  bool
	SigningMethod string // "hs256" (default) or "ed25519"

	// DynamicSigningKey rotates the stored HMAC key every SigningKeyUpdateInterval.
	DynamicSigningKey        bool
	SigningKeyUpdateInterval time.Duration
	// SigningKeyProvider replaces the stored HMAC key entirely.
	SigningKeyProvider func(ctx context.Context) ([]byte, error)

	PrivateKey []byte // ed25519 only
	PublicKey  []byte // ed25519 only

	Issuer   string
	Audience string
	Leeway   time.Duration
}

/*
====================================
REFRESH TOKEN CONFIG
====================================
*/

// RefreshTokenConfig controls the refresh chain lifetime. Every promotion
// extends the chain to now + Validity.
type RefreshTokenConfig struct {
	Validity time.Duration
}

type AntiCSRFConfig struct {
	Enabled bool
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig names the storage locations used by the built-in backends.
// Collections and tables share the same names.
type StoreConfig struct {
	RedisPrefix       string
	SessionCollection string
	KeyCollection     string
}

// RotationConfig bounds the compare-and-swap retry loop. Zero means unbounded.
type RotationConfig struct {
	MaxCASAttempts int
}

// SweeperConfig schedules the expired-session sweep. Schedule is a 6-field
// cron expression with seconds.
type SweeperConfig struct {
	Enabled  bool
	Schedule string
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

const (
	minAccessValidity     = 10 * time.Second
	maxAccessValidity     = 1000 * 24 * time.Hour
	minRefreshValidity    = time.Hour
	maxRefreshValidity    = 365 * 24 * time.Hour
	minKeyUpdateInterval  = time.Hour
	maxKeyUpdateInterval  = 720 * time.Hour
	defaultSweepSchedule  = "0 0 0 1-31/7 * *"
	defaultSessionStorage = "refresh_token"
	defaultKeyStorage     = "signing_key"
)

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		AccessToken: AccessTokenConfig{
			Validity:                 time.Hour,
			Blacklisting:             false,
			SigningMethod:            "hs256",
			DynamicSigningKey:        true,
			SigningKeyUpdateInterval: 24 * time.Hour,
		},
		RefreshToken: RefreshTokenConfig{
			Validity: 100 * 24 * time.Hour,
		},
		AntiCSRF: AntiCSRFConfig{
			Enabled: true,
		},
		Store: StoreConfig{
			RedisPrefix:       "gs",
			SessionCollection: defaultSessionStorage,
			KeyCollection:     defaultKeyStorage,
		},
		Rotation: RotationConfig{
			MaxCASAttempts: 0,
		},
		Sweeper: SweeperConfig{
			Enabled:  false,
			Schedule: defaultSweepSchedule,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.AccessToken.PrivateKey = cloneBytes(cfg.AccessToken.PrivateKey)
	out.AccessToken.PublicKey = cloneBytes(cfg.AccessToken.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

/*
====================================
VALIDATION
====================================
*/

// Validate checks ranges and cross-field requirements.
func (c *Config) Validate() error {
	// Access token
	if c.AccessToken.Validity < minAccessValidity || c.AccessToken.Validity > maxAccessValidity {
		return errors.New("AccessToken Validity must be between 10s and 1000 days")
	}
	switch c.AccessToken.SigningMethod {
	case "hs256":
		if c.AccessToken.DynamicSigningKey && c.AccessToken.SigningKeyProvider == nil {
			if c.AccessToken.SigningKeyUpdateInterval < minKeyUpdateInterval ||
				c.AccessToken.SigningKeyUpdateInterval > maxKeyUpdateInterval {
				return errors.New("AccessToken SigningKeyUpdateInterval must be between 1h and 720h")
			}
		}
	case "ed25519":
		if len(c.AccessToken.PrivateKey) == 0 || len(c.AccessToken.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
		if c.AccessToken.SigningKeyProvider != nil {
			return errors.New("SigningKeyProvider is only used with hs256")
		}
	default:
		return errors.New("unsupported AccessToken signing method")
	}
	if c.AccessToken.Leeway < 0 || c.AccessToken.Leeway > 2*time.Minute {
		return errors.New("AccessToken Leeway must be between 0 and 2m")
	}

	// Refresh token
	if c.RefreshToken.Validity < minRefreshValidity || c.RefreshToken.Validity > maxRefreshValidity {
		return errors.New("RefreshToken Validity must be between 1h and 365 days")
	}

	// Store
	if c.Store.RedisPrefix == "" {
		return errors.New("Store RedisPrefix must not be empty")
	}
	if c.Store.SessionCollection == "" || c.Store.KeyCollection == "" {
		return errors.New("Store collection names must not be empty")
	}
	if c.Store.SessionCollection == c.Store.KeyCollection {
		return errors.New("Store session and key collections must differ")
	}

	// Rotation
	if c.Rotation.MaxCASAttempts < 0 {
		return errors.New("Rotation MaxCASAttempts must be >= 0")
	}

	// Sweeper
	if c.Sweeper.Enabled || c.Sweeper.Schedule != "" {
		if _, err := cronParser.Parse(c.Sweeper.Schedule); err != nil {
			return errors.New("Sweeper Schedule is not a valid cron expression")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
