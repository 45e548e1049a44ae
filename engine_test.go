package goSession

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type engineOptions struct {
	mutate func(*Config)
	sink   AuditSink
	clock  *testClock
}

func newTestEngine(t *testing.T, opts engineOptions) (*Engine, *redis.Client) {
	t.Helper()
	_, rdb := newTestRedis(t)

	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Audit.Enabled = opts.sink != nil
	if opts.mutate != nil {
		opts.mutate(&cfg)
	}

	b := New().WithConfig(cfg).WithRedis(rdb)
	if opts.sink != nil {
		b = b.WithAuditSink(opts.sink)
	}
	if opts.clock != nil {
		b.now = opts.clock.Now
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, rdb
}

func mustCreate(t *testing.T, e *Engine, userID UserID) *NewSession {
	t.Helper()
	s, err := e.CreateNewSession(context.Background(), userID, []byte(`{"role":"member"}`), []byte(`{"cart":0}`))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func mustRefresh(t *testing.T, e *Engine, token string) *RefreshedSession {
	t.Helper()
	s, err := e.RefreshSession(context.Background(), token)
	if err != nil {
		t.Fatalf("refresh session: %v", err)
	}
	return s
}

func TestCreateNewSessionBundle(t *testing.T) {
	engine, _ := newTestEngine(t, engineOptions{})
	s := mustCreate(t, engine, StringUserID("u1"))

	if s.Handle == "" || s.AccessToken.Token == "" || s.RefreshToken.Token == "" || s.IDRefreshToken.Token == "" {
		t.Fatalf("incomplete bundle: %+v", s)
	}
	if s.AntiCSRFToken == "" {
		t.Fatal("expected anti-csrf token while anti-csrf is enabled")
	}
	if !s.IDRefreshToken.Expiry.Equal(s.RefreshToken.Expiry) {
		t.Fatalf("id-refresh expiry %v != refresh expiry %v", s.IDRefreshToken.Expiry, s.RefreshToken.Expiry)
	}
	if !s.AccessToken.Expiry.Before(s.RefreshToken.Expiry) {
		t.Fatal("access token should expire before the refresh token")
	}
	if s.UserID.String() != "u1" || string(s.JWTPayload) != `{"role":"member"}` {
		t.Fatalf("unexpected identity: %v %s", s.UserID, s.JWTPayload)
	}
}

func TestCreateNewSessionWithoutAntiCSRF(t *testing.T) {
	engine, _ := newTestEngine(t, engineOptions{mutate: func(c *Config) { c.AntiCSRF.Enabled = false }})
	s := mustCreate(t, engine, StringUserID("u1"))
	if s.AntiCSRFToken != "" {
		t.Fatalf("expected no anti-csrf token, got %q", s.AntiCSRFToken)
	}

	res, err := engine.GetSession(context.Background(), s.AccessToken.Token, AntiCSRFCheck{})
	if err != nil {
		t.Fatalf("undefined check must be ignored when anti-csrf is disabled: %v", err)
	}
	if res.Handle != s.Handle {
		t.Fatalf("unexpected handle %s", res.Handle)
	}
}

func TestCreateNewSessionRejectsAmbiguousUserID(t *testing.T) {
	engine, _ := newTestEngine(t, engineOptions{})
	for _, id := range []UserID{StringUserID(""), StringUserID(`{"i":7}`)} {
		_, err := engine.CreateNewSession(context.Background(), id, nil, nil)
		if !errors.Is(err, ErrInvalidUserID) || !errors.Is(err, ErrUsage) {
			t.Fatalf("expected ErrInvalidUserID for %q, got %v", id.String(), err)
		}
	}
}

func TestGetSessionIsIdempotentWithoutPendingRotation(t *testing.T) {
	engine, _ := newTestEngine(t, engineOptions{})
	s := mustCreate(t, engine, NumericUserID(42))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := engine.GetSession(ctx, s.AccessToken.Token, AntiCSRFToken(s.AntiCSRFToken))
		if err != nil {
			t.Fatalf("get session %d: %v", i, err)
		}
		if res.NewAccessToken != nil {
			t.Fatalf("call %d minted a replacement token", i)
		}
		if id, ok := res.UserID.Int64(); !ok || id != 42 {
			t.Fatalf("expected numeric user 42, got %v", res.UserID)
		}
		if string(res.JWTPayload) != `{"role":"member"}` {
			t.Fatalf("unexpected payload %s", res.JWTPayload)
		}
	}
}

func TestGetSessionAntiCSRF(t *testing.T) {
	engine, _ := newTestEngine(t, engineOptions{})
	s := mustCreate(t, engine, StringUserID("u1"))
	ctx := context.Background()

	if _, err := engine.GetSession(ctx, s.AccessToken.Token, AntiCSRFNone()); !errors.Is(err, ErrTryRefresh) {
		t.Fatalf("expected ErrTryRefresh for a missing anti-csrf token, got %v", err)
	}
	if _, err := engine.GetSession(ctx, s.AccessToken.Token, AntiCSRFToken("wrong")); !errors.Is(err, ErrTryRefresh) {
		t.Fatalf("expected ErrTryRefresh for a wrong anti-csrf token, got %v", err)
	}
	_, err := engine.GetSession(ctx, s.AccessToken.Token, AntiCSRFCheck{})
	if !errors.Is(err, ErrAntiCSRFUndefined) || !errors.Is(err, ErrUsage) {
		t.Fatalf("expected usage error for an undefined check, got %v", err)
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Fatal("usage error must not look like unauthorized")
	}
}

func TestGetSessionMalformedTokenTriesRefresh(t *testing.T) {
	engine, _ := newTestEngine(t, engineOptions{})
	if _, err := engine.GetSession(context.Background(), "not-a-token", AntiCSRFNone()); !errors.Is(err, ErrTryRefresh) {
		t.Fatalf("expected ErrTryRefresh, got %v", err)
	}
}

func TestRotationThenTheft(t *testing.T) {
	engine, _ := newTestEngine(t, engineOptions{})
	ctx := context.Background()

	s := mustCreate(t, engine, StringUserID("u1"))
	first := mustRefresh(t, engine, s.RefreshToken.Token)
	if first.Handle != s.Handle || first.RefreshToken.Token == s.RefreshToken.Token {
		t.Fatal("refresh should keep the handle and mint a new refresh token")
	}

	// The root token stays valid until its child is promoted.
	mustRefresh(t, engine, s.RefreshToken.Token)

	second := mustRefresh(t, engine, first.RefreshToken.Token)
	if second.Handle != s.Handle {
		t.Fatalf("unexpected handle %s", second.Handle)
	}

	_, err := engine.RefreshSession(ctx, s.RefreshToken.Token)
	if !errors.Is(err, ErrTokenTheftDetected) || !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected theft, got %v", err)
	}
	var theft *TokenTheftError
	if !errors.As(err, &theft) {
		t.Fatalf("expected *TokenTheftError, got %T", err)
	}
	if theft.SessionHandle != s.Handle || theft.UserID.String() != "u1" {
		t.Fatalf("unexpected theft details: %+v", theft)
	}

	// Theft does not revoke the session by itself.
	if _, err := engine.GetSessionData(ctx, s.Handle); err != nil {
		t.Fatalf("session should still exist: %v", err)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricTokenTheftDetected] != 1 {
		t.Fatalf("expected one theft metric, got %d", snap.Counters[MetricTokenTheftDetected])
	}
	if snap.Counters[MetricRefreshSuccess] != 3 {
		t.Fatalf("expected three refresh successes, got %d", snap.Counters[MetricRefreshSuccess])
	}
}

func TestGetSessionPromotesRefreshedChild(t *testing.T) {
	engine, _ := newTestEngine(t, engineOptions{})
	ctx := context.Background()

	s := mustCreate(t, engine, StringUserID("u1"))
	child := mustRefresh(t, engine, s.RefreshToken.Token)

	res, err := engine.GetSession(ctx, child.AccessToken.Token, AntiCSRFToken(child.AntiCSRFToken))
	if err != nil {
		t.Fatalf("get session with child access token: %v", err)
	}
	if res.NewAccessToken == nil {
		t.Fatal("expected a replacement access token after promotion")
	}

	// The replacement carries no pending parent, so it is stable.
	again, err := engine.GetSession(ctx, res.NewAccessToken.Token, AntiCSRFToken(child.AntiCSRFToken))
	if err != nil {
		t.Fatalf("get session with replacement token: %v", err)
	}
	if again.NewAccessToken != nil {
		t.Fatal("promoted token should not be re-issued")
	}

	// The root refresh token is now two generations behind.
	if _, err := engine.RefreshSession(ctx, s.RefreshToken.Token); !errors.Is(err, ErrTokenTheftDetected) {
		t.Fatalf("expected theft after promotion, got %v", err)
	}
	if got := engine.MetricsSnapshot().Counters[MetricSessionPromoted]; got != 1 {
		t.Fatalf("expected one promotion, got %d", got)
	}
}

func TestGetSessionStaleAccessTokenIsUnauthorized(t *testing.T) {
	engine, _ := newTestEngine(t, engineOptions{})
	ctx := context.Background()

	s := mustCreate(t, engine, StringUserID("u1"))
	stale := mustRefresh(t, engine, s.RefreshToken.Token)
	// A sibling child promoted first strands the other pending access token.
	winner := mustRefresh(t, engine, s.RefreshToken.Token)
	mustRefresh(t, engine, winner.RefreshToken.Token)

	_, err := engine.GetSession(ctx, stale.AccessToken.Token, AntiCSRFToken(stale.AntiCSRFToken))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if errors.Is(err, ErrTokenTheftDetected) {
		t.Fatal("a stale access token is not theft")
	}
}

func TestRefreshSessionUnauthorized(t *testing.T) {
	engine, _ := newTestEngine(t, engineOptions{})
	ctx := context.Background()

	if _, err := engine.RefreshSession(ctx, "garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for a malformed token, got %v", err)
	}

	s := mustCreate(t, engine, StringUserID("u1"))
	if _, err := engine.RevokeSession(ctx, s.Handle); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	_, err := engine.RefreshSession(ctx, s.RefreshToken.Token)
	if !errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrTokenTheftDetected) {
		t.Fatalf("expected plain ErrUnauthorized for a revoked session, got %v", err)
	}
}

func TestRefreshSessionExpiredChain(t *testing.T) {
	clock := &testClock{now: time.Now()}
	engine, _ := newTestEngine(t, engineOptions{clock: clock})

	s := mustCreate(t, engine, StringUserID("u1"))
	clock.Advance(101 * 24 * time.Hour)

	if _, err := engine.RefreshSession(context.Background(), s.RefreshToken.Token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for an expired chain, got %v", err)
	}
}

func TestBlacklistingRejectsRevokedSession(t *testing.T) {
	engine, _ := newTestEngine(t, engineOptions{mutate: func(c *Config) { c.AccessToken.Blacklisting = true }})
	ctx := context.Background()

	s := mustCreate(t, engine, StringUserID("u1"))
	if _, err := engine.GetSession(ctx, s.AccessToken.Token, AntiCSRFToken(s.AntiCSRFToken)); err != nil {
		t.Fatalf("get session: %v", err)
	}
	if ok, err := engine.RevokeSession(ctx, s.Handle); err != nil || !ok {
		t.Fatalf("revoke: %v %v", ok, err)
	}
	if _, err := engine.GetSession(ctx, s.AccessToken.Token, AntiCSRFToken(s.AntiCSRFToken)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after revoke, got %v", err)
	}
}

func TestWithoutBlacklistingAccessTokenOutlivesRevoke(t *testing.T) {
	engine, _ := newTestEngine(t, engineOptions{})
	ctx := context.Background()

	s := mustCreate(t, engine, StringUserID("u1"))
	if _, err := engine.RevokeSession(ctx, s.Handle); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := engine.GetSession(ctx, s.AccessToken.Token, AntiCSRFToken(s.AntiCSRFToken)); err != nil {
		t.Fatalf("promoted access tokens are self-contained without blacklisting: %v", err)
	}
}

func TestRevokeAllSessionsForUser(t *testing.T) {
	engine, _ := newTestEngine(t, engineOptions{})
	ctx := context.Background()

	a := mustCreate(t, engine, StringUserID("u1"))
	b := mustCreate(t, engine, StringUserID("u1"))
	other := mustCreate(t, engine, StringUserID("u2"))

	handles, err := engine.GetAllSessionHandlesForUser(ctx, StringUserID("u1"))
	if err != nil || len(handles) != 2 {
		t.Fatalf("list handles: %v %v", handles, err)
	}

	removed, err := engine.RevokeAllSessionsForUser(ctx, StringUserID("u1"))
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("expected two revoked handles, got %v", removed)
	}
	for _, h := range []string{a.Handle, b.Handle} {
		if _, err := engine.GetSessionData(ctx, h); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("session %s should be gone, got %v", h, err)
		}
	}
	if _, err := engine.GetSessionData(ctx, other.Handle); err != nil {
		t.Fatalf("other user's session was touched: %v", err)
	}

	handles, err = engine.GetAllSessionHandlesForUser(ctx, StringUserID("u1"))
	if err != nil || len(handles) != 0 {
		t.Fatalf("expected no handles left, got %v %v", handles, err)
	}
}

func TestRevokeSessionReportsExistence(t *testing.T) {
	engine, _ := newTestEngine(t, engineOptions{})
	ctx := context.Background()

	s := mustCreate(t, engine, StringUserID("u1"))
	if ok, err := engine.RevokeSession(ctx, s.Handle); err != nil || !ok {
		t.Fatalf("first revoke: %v %v", ok, err)
	}
	if ok, err := engine.RevokeSession(ctx, s.Handle); err != nil || ok {
		t.Fatalf("second revoke: %v %v", ok, err)
	}
}

func TestSessionData(t *testing.T) {
	engine, _ := newTestEngine(t, engineOptions{})
	ctx := context.Background()

	s := mustCreate(t, engine, StringUserID("u1"))
	data, err := engine.GetSessionData(ctx, s.Handle)
	if err != nil || string(data) != `{"cart":0}` {
		t.Fatalf("get data: %q %v", data, err)
	}
	if err := engine.UpdateSessionData(ctx, s.Handle, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("update data: %v", err)
	}

	// Data survives a full rotation.
	child := mustRefresh(t, engine, s.RefreshToken.Token)
	mustRefresh(t, engine, child.RefreshToken.Token)

	data, err = engine.GetSessionData(ctx, s.Handle)
	if err != nil || string(data) != `{"a":1}` {
		t.Fatalf("data after rotation: %q %v", data, err)
	}
}

func TestUpdateSessionDataOnRevokedSession(t *testing.T) {
	engine, _ := newTestEngine(t, engineOptions{})
	ctx := context.Background()

	s := mustCreate(t, engine, StringUserID("u1"))
	if _, err := engine.RevokeSession(ctx, s.Handle); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := engine.UpdateSessionData(ctx, s.Handle, []byte(`{"a":1}`)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := engine.GetSessionData(ctx, s.Handle); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSigningKeyRotationForcesRefresh(t *testing.T) {
	clock := &testClock{now: time.Now()}
	engine, _ := newTestEngine(t, engineOptions{
		clock: clock,
		mutate: func(c *Config) {
			c.AccessToken.Validity = 48 * time.Hour
			c.AccessToken.SigningKeyUpdateInterval = time.Hour
		},
	})
	ctx := context.Background()

	s := mustCreate(t, engine, StringUserID("u1"))
	clock.Advance(2 * time.Hour)

	if _, err := engine.GetSession(ctx, s.AccessToken.Token, AntiCSRFToken(s.AntiCSRFToken)); !errors.Is(err, ErrTryRefresh) {
		t.Fatalf("expected ErrTryRefresh after key rotation, got %v", err)
	}
	refreshed := mustRefresh(t, engine, s.RefreshToken.Token)
	if _, err := engine.GetSession(ctx, refreshed.AccessToken.Token, AntiCSRFToken(refreshed.AntiCSRFToken)); err != nil {
		t.Fatalf("new access token should verify under the new key: %v", err)
	}

	// One creation plus one rotation.
	if got := engine.MetricsSnapshot().Counters[MetricSigningKeyRotated]; got < 2 {
		t.Fatalf("expected signing key rotation to be counted, got %d", got)
	}
}

func TestStaticSigningKeyProvider(t *testing.T) {
	engine, _ := newTestEngine(t, engineOptions{mutate: func(c *Config) {
		c.AccessToken.SigningKeyProvider = func(context.Context) ([]byte, error) {
			return []byte("0123456789abcdef0123456789abcdef"), nil
		}
	}})
	s := mustCreate(t, engine, StringUserID("u1"))
	if _, err := engine.GetSession(context.Background(), s.AccessToken.Token, AntiCSRFToken(s.AntiCSRFToken)); err != nil {
		t.Fatalf("get session: %v", err)
	}
}

func TestPing(t *testing.T) {
	engine, _ := newTestEngine(t, engineOptions{})
	if _, err := engine.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestNilEngineIsNotReady(t *testing.T) {
	var e *Engine
	if _, err := e.GetSession(context.Background(), "x", AntiCSRFNone()); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := e.Ping(context.Background()); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	e.Close()
	if snap := e.MetricsSnapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap)
	}
}

func TestStoreOutageIsGeneralError(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true

	build := func() *Engine {
		t.Helper()
		engine, err := New().WithConfig(cfg).WithRedis(rdb).Build()
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		t.Cleanup(engine.Close)
		return engine
	}
	warm := build()
	s := mustCreate(t, warm, StringUserID("u1"))
	child := mustRefresh(t, warm, s.RefreshToken.Token)
	// A second engine has no cached keys and must read them from the store.
	cold := build()

	assertGeneral := func(name string, err error) {
		t.Helper()
		if !errors.Is(err, ErrGeneral) {
			t.Fatalf("%s: expected ErrGeneral, got %v", name, err)
		}
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrTryRefresh) {
			t.Fatalf("%s: store outage reported as an auth failure: %v", name, err)
		}
	}

	mr.SetError("ERR store offline")

	_, err := cold.RefreshSession(ctx, s.RefreshToken.Token)
	assertGeneral("cold refresh", err)
	_, err = cold.GetSession(ctx, s.AccessToken.Token, AntiCSRFToken(s.AntiCSRFToken))
	assertGeneral("cold get session", err)
	if got := cold.MetricsSnapshot().Counters[MetricStoreError]; got != 2 {
		t.Fatalf("expected 2 store errors on the cold engine, got %d", got)
	}

	_, err = warm.RefreshSession(ctx, child.RefreshToken.Token)
	assertGeneral("warm refresh", err)
	_, err = warm.GetSession(ctx, child.AccessToken.Token, AntiCSRFToken(child.AntiCSRFToken))
	assertGeneral("warm promotion", err)

	mr.SetError("")

	if _, err := cold.GetSession(ctx, s.AccessToken.Token, AntiCSRFToken(s.AntiCSRFToken)); err != nil {
		t.Fatalf("get session after recovery: %v", err)
	}
	mustRefresh(t, cold, child.RefreshToken.Token)
}

// flakyDeleteStore fails the second DeleteSession call.
type flakyDeleteStore struct {
	*session.RedisStore
	mu      sync.Mutex
	deletes int
}

func (s *flakyDeleteStore) DeleteSession(ctx context.Context, handle string) (int64, error) {
	s.mu.Lock()
	s.deletes++
	n := s.deletes
	s.mu.Unlock()
	if n == 2 {
		return 0, errors.New("store offline")
	}
	return s.RedisStore.DeleteSession(ctx, handle)
}

func TestRevokeAllSessionsForUserReturnsPartialOnError(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	engine, err := New().WithStore(&flakyDeleteStore{RedisStore: session.NewRedisStore(rdb, "flaky")}).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	for i := 0; i < 3; i++ {
		mustCreate(t, engine, StringUserID("u1"))
	}

	removed, err := engine.RevokeAllSessionsForUser(ctx, StringUserID("u1"))
	if !errors.Is(err, ErrGeneral) {
		t.Fatalf("expected ErrGeneral, got %v", err)
	}
	if len(removed) != 1 {
		t.Fatalf("expected the one removed handle, got %v", removed)
	}
	if _, err := engine.GetSessionData(ctx, removed[0]); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("reported handle still exists: %v", err)
	}
	left, err := engine.GetAllSessionHandlesForUser(ctx, StringUserID("u1"))
	if err != nil || len(left) != 2 {
		t.Fatalf("expected 2 surviving sessions, got %v %v", left, err)
	}
}
