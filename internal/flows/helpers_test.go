package flows

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/internal"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/refresh"
	"github.com/MrEthical07/goSession/session"
)

// memStore is an in-memory session.Store with hooks to inject lost
// compare-and-swaps and backend errors.
type memStore struct {
	mu      sync.Mutex
	records map[string]session.Record
	history map[string][]string
	swaps   int

	beforeUpdate func(handle string)
	// fail is consulted before each operation; a non-nil error is returned
	// in place of the result.
	fail func(op, handle string) error
}

func (s *memStore) injected(op, handle string) error {
	if s.fail == nil {
		return nil
	}
	return s.fail(op, handle)
}

// failOn makes every call of op return err.
func (s *memStore) failOn(op string, err error) {
	s.fail = func(got, _ string) error {
		if got == op {
			return err
		}
		return nil
	}
}

func newMemStore() *memStore {
	return &memStore{
		records: map[string]session.Record{},
		history: map[string][]string{},
	}
}

func (s *memStore) CreateNewSession(_ context.Context, rec session.Record) error {
	if err := s.injected("create", rec.Handle); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Handle]; ok {
		return session.ErrSessionExists
	}
	s.records[rec.Handle] = rec
	s.history[rec.Handle] = []string{rec.RefreshTokenHash2}
	return nil
}

func (s *memStore) GetSessionInfo(_ context.Context, handle string) (*session.Record, error) {
	if err := s.injected("get", handle); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[handle]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return &rec, nil
}

func (s *memStore) UpdateSessionInfo(_ context.Context, handle, hash2 string, data []byte, expiresAt int64, expectedSign string) (int64, error) {
	if s.beforeUpdate != nil {
		s.beforeUpdate(handle)
	}
	if err := s.injected("update", handle); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[handle]
	if !ok || rec.LastUpdatedSign != expectedSign {
		return 0, nil
	}
	rec.RefreshTokenHash2 = hash2
	rec.SessionData = data
	rec.ExpiresAt = expiresAt
	rec.LastUpdatedSign = session.NewSign()
	s.records[handle] = rec
	s.swaps++
	if h := s.history[handle]; h[len(h)-1] != hash2 {
		s.history[handle] = append(h, hash2)
	}
	return 1, nil
}

func (s *memStore) GetSessionData(_ context.Context, handle string) ([]byte, bool, error) {
	if err := s.injected("get_data", handle); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[handle]
	if !ok {
		return nil, false, nil
	}
	return rec.SessionData, true, nil
}

func (s *memStore) UpdateSessionData(_ context.Context, handle string, data []byte) (int64, error) {
	if err := s.injected("update_data", handle); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[handle]
	if !ok {
		return 0, nil
	}
	rec.SessionData = data
	rec.LastUpdatedSign = session.NewSign()
	s.records[handle] = rec
	return 1, nil
}

func (s *memStore) DeleteSession(_ context.Context, handle string) (int64, error) {
	if err := s.injected("delete", handle); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[handle]; !ok {
		return 0, nil
	}
	delete(s.records, handle)
	return 1, nil
}

func (s *memStore) GetAllSessionHandlesForUser(_ context.Context, userID string) ([]string, error) {
	if err := s.injected("handles", userID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for h, rec := range s.records {
		if rec.UserID == userID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *memStore) DeleteAllExpiredSessions(_ context.Context, nowMillis int64) (int64, error) {
	if err := s.injected("sweep", ""); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for h, rec := range s.records {
		if rec.ExpiresAt <= nowMillis {
			delete(s.records, h)
			n++
		}
	}
	return n, nil
}

func (s *memStore) IsSessionBlacklisted(_ context.Context, handle string) (bool, error) {
	if err := s.injected("blacklist", handle); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[handle]
	return !ok, nil
}

// bumpSign simulates a concurrent writer that changes the record under a
// reader's feet without changing its refresh hash.
func (s *memStore) bumpSign(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[handle]
	if !ok {
		return
	}
	rec.LastUpdatedSign = session.NewSign()
	s.records[handle] = rec
}

func (s *memStore) record(t *testing.T, handle string) session.Record {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[handle]
	if !ok {
		t.Fatalf("record %s missing", handle)
	}
	return rec
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// keySource hands out a fixed key until an error is set.
type keySource struct {
	mu  sync.Mutex
	key []byte
	err error
}

func (k *keySource) Key(context.Context) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return nil, k.err
	}
	return k.key, nil
}

func (k *keySource) setErr(err error) {
	k.mu.Lock()
	k.err = err
	k.mu.Unlock()
}

type testEnv struct {
	store   *memStore
	signing *keySource
	sealing *keySource
	clock   *fakeClock
	svc     Service
	deps    Deps
}

type envOptions struct {
	antiCSRF       bool
	blacklisting   bool
	maxCASAttempts int
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	clock := &fakeClock{now: time.Now()}
	store := newMemStore()

	signing := &keySource{key: []byte("flows-test-signing-key")}
	sealing := &keySource{key: bytes.Repeat([]byte{3}, 32)}

	jwtMgr, err := jwt.NewManager(jwt.Config{
		AccessTTL:     time.Hour,
		SigningMethod: jwt.MethodHS256,
		SigningKey:    signing.Key,
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("jwt manager: %v", err)
	}
	codec, err := refresh.NewCodec(sealing.Key, 100*24*time.Hour, clock.Now)
	if err != nil {
		t.Fatalf("refresh codec: %v", err)
	}

	tokens := TokenDeps{
		IssueAccess:   jwtMgr.CreateAccess,
		ParseAccess:   jwtMgr.ParseAccess,
		IssueRefresh:  codec.Issue,
		DecodeRefresh: codec.Decode,
		Hash:          internal.Hash,
		NewHandle:     internal.NewSessionHandle,
		NewUUID:       internal.NewUUID,
	}
	validity := 100 * 24 * time.Hour

	deps := Deps{
		Create: CreateDeps{Tokens: tokens, Store: store, AntiCSRF: opts.antiCSRF, RefreshValidity: validity, Now: clock.Now},
		GetSession: GetSessionDeps{
			Tokens: tokens, Store: store, AntiCSRF: opts.antiCSRF, Blacklisting: opts.blacklisting,
			RefreshValidity: validity, MaxCASAttempts: opts.maxCASAttempts, Now: clock.Now,
		},
		Refresh: RefreshDeps{
			Tokens: tokens, Store: store, AntiCSRF: opts.antiCSRF,
			RefreshValidity: validity, MaxCASAttempts: opts.maxCASAttempts, Now: clock.Now,
		},
		Revoke:      RevokeDeps{Store: store},
		SessionData: SessionDataDeps{Store: store},
		Sweep:       SweepDeps{Store: store, Now: clock.Now},
	}
	return &testEnv{store: store, signing: signing, sealing: sealing, clock: clock, svc: New(deps), deps: deps}
}

func (e *testEnv) create(t *testing.T, userID string) CreateResult {
	t.Helper()
	res := e.svc.Create(context.Background(), CreateRequest{UserID: userID, JWTPayload: []byte(`{"r":1}`)})
	if res.Failure != CreateFailureNone {
		t.Fatalf("create failed: %d %v", res.Failure, res.Err)
	}
	return res
}

func (e *testEnv) refresh(t *testing.T, token string) RefreshResult {
	t.Helper()
	res := e.svc.Refresh(context.Background(), token)
	if res.Failure != RefreshFailureNone {
		t.Fatalf("refresh failed: %d %v", res.Failure, res.Err)
	}
	return res
}
