// Package signingkey keeps named key material in a session.KeyStore and
// rotates it on a fixed interval using insert-if-absent and
// update-with-version-match, so concurrent processes converge on one key.
package signingkey

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/goSession/internal"
	"github.com/MrEthical07/goSession/session"
)

const (
	// AccessTokenKeyName is the HMAC key for access tokens. It rotates.
	AccessTokenKeyName = "access_token_signing_key"
	// RefreshTokenKeyName is the sealing key for refresh tokens. It never rotates.
	RefreshTokenKeyName = "refresh_token_key"
)

// Config configures a [Manager].
type Config struct {
	Store          session.KeyStore
	Name           string
	Dynamic        bool
	UpdateInterval time.Duration
	Size           int
	Now            func() time.Time
	OnRotate       func(name string)
}

// Manager serves one named key, caching it until it is due for rotation.
type Manager struct {
	cfg Config

	mu        sync.RWMutex
	createdAt int64
	key       []byte
}

// New validates cfg and returns a [Manager].
func New(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("signing key manager requires a key store")
	}
	if cfg.Name == "" {
		return nil, errors.New("signing key name is empty")
	}
	if cfg.Dynamic && cfg.UpdateInterval <= 0 {
		return nil, errors.New("dynamic signing key requires an update interval")
	}
	if cfg.Size <= 0 {
		cfg.Size = 32
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{cfg: cfg}, nil
}

// Key returns the current key material, creating or rotating it in the store
// when needed.
func (m *Manager) Key(ctx context.Context) ([]byte, error) {
	now := m.cfg.Now().UnixMilli()

	m.mu.RLock()
	key, createdAt := m.key, m.createdAt
	m.mu.RUnlock()
	if key != nil && !m.due(createdAt, now) {
		return key, nil
	}

	return m.load(ctx, now)
}

func (m *Manager) load(ctx context.Context, now int64) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		kv, err := m.cfg.Store.GetKeyValue(ctx, m.cfg.Name)
		if errors.Is(err, session.ErrKeyNotFound) {
			fresh, err := m.generate(now)
			if err != nil {
				return nil, err
			}
			inserted, err := m.cfg.Store.InsertKeyIfAbsent(ctx, *fresh)
			if err != nil {
				return nil, err
			}
			if !inserted {
				// Another process created it first.
				continue
			}
			m.rotated()
			return m.remember(fresh)
		}
		if err != nil {
			return nil, err
		}

		if m.due(kv.CreatedAt, now) {
			fresh, err := m.generate(now)
			if err != nil {
				return nil, err
			}
			n, err := m.cfg.Store.UpdateKeyWithVersionMatch(ctx, m.cfg.Name, fresh.Value, fresh.CreatedAt, kv.LastUpdatedSign)
			if err != nil {
				return nil, err
			}
			if n == 1 {
				m.rotated()
			}
			// Either way, re-read the winner.
			continue
		}

		return m.remember(kv)
	}
}

func (m *Manager) due(createdAt, now int64) bool {
	if !m.cfg.Dynamic {
		return false
	}
	return createdAt+m.cfg.UpdateInterval.Milliseconds() <= now
}

func (m *Manager) generate(now int64) (*session.KeyValue, error) {
	raw, err := internal.NewKeyMaterial(m.cfg.Size)
	if err != nil {
		return nil, err
	}
	return &session.KeyValue{
		Name:            m.cfg.Name,
		Value:           base64.RawStdEncoding.EncodeToString(raw),
		CreatedAt:       now,
		LastUpdatedSign: session.NewSign(),
	}, nil
}

func (m *Manager) remember(kv *session.KeyValue) ([]byte, error) {
	key, err := base64.RawStdEncoding.DecodeString(kv.Value)
	if err != nil {
		return nil, fmt.Errorf("decode signing key %q: %w", kv.Name, err)
	}

	m.mu.Lock()
	m.key = key
	m.createdAt = kv.CreatedAt
	m.mu.Unlock()
	return key, nil
}

func (m *Manager) rotated() {
	if m.cfg.OnRotate != nil {
		m.cfg.OnRotate(m.cfg.Name)
	}
}
