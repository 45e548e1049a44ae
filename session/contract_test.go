package session

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
)

// runStoreContract checks the behavior every Backend adapter must share.
// Handles and user ids are randomized so the suite can run against a shared
// database.
func runStoreContract(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Helper()
	ctx := context.Background()

	newRecord := func(userID string, expiresAt time.Time) Record {
		return Record{
			Handle:            "h-" + uuid.NewString(),
			UserID:            userID,
			RefreshTokenHash2: "hash2-" + uuid.NewString(),
			SessionData:       []byte("data"),
			ExpiresAt:         expiresAt.UnixMilli(),
			JWTPayload:        []byte(`{"role":"member"}`),
			LastUpdatedSign:   NewSign(),
		}
	}

	t.Run("create and get", func(t *testing.T) {
		s := newBackend(t)
		rec := newRecord("u-"+uuid.NewString(), time.Now().Add(time.Hour))
		if err := s.CreateNewSession(ctx, rec); err != nil {
			t.Fatalf("create: %v", err)
		}
		got, err := s.GetSessionInfo(ctx, rec.Handle)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Handle != rec.Handle || got.UserID != rec.UserID || got.RefreshTokenHash2 != rec.RefreshTokenHash2 {
			t.Fatalf("unexpected record: %+v", got)
		}
		if got.ExpiresAt != rec.ExpiresAt || got.LastUpdatedSign != rec.LastUpdatedSign {
			t.Fatalf("unexpected expiry or sign: %+v", got)
		}
		if !bytes.Equal(got.JWTPayload, rec.JWTPayload) || !bytes.Equal(got.SessionData, rec.SessionData) {
			t.Fatalf("unexpected blobs: %+v", got)
		}

		if err := s.CreateNewSession(ctx, rec); !errors.Is(err, ErrSessionExists) {
			t.Fatalf("expected ErrSessionExists, got %v", err)
		}
		if _, err := s.GetSessionInfo(ctx, "h-missing-"+uuid.NewString()); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("empty data reads back nil", func(t *testing.T) {
		s := newBackend(t)
		rec := newRecord("u-"+uuid.NewString(), time.Now().Add(time.Hour))
		rec.SessionData = nil
		rec.JWTPayload = nil
		if err := s.CreateNewSession(ctx, rec); err != nil {
			t.Fatalf("create: %v", err)
		}
		data, ok, err := s.GetSessionData(ctx, rec.Handle)
		if err != nil || !ok {
			t.Fatalf("get data: ok=%v err=%v", ok, err)
		}
		if data != nil {
			t.Fatalf("expected nil data, got %q", data)
		}
	})

	t.Run("update session info is conditioned on sign", func(t *testing.T) {
		s := newBackend(t)
		rec := newRecord("u-"+uuid.NewString(), time.Now().Add(time.Hour))
		if err := s.CreateNewSession(ctx, rec); err != nil {
			t.Fatalf("create: %v", err)
		}

		newExpiry := time.Now().Add(2 * time.Hour).UnixMilli()
		n, err := s.UpdateSessionInfo(ctx, rec.Handle, "next", rec.SessionData, newExpiry, rec.LastUpdatedSign)
		if err != nil || n != 1 {
			t.Fatalf("first update: n=%d err=%v", n, err)
		}

		// The sign was regenerated, so the same comparand must lose.
		n, err = s.UpdateSessionInfo(ctx, rec.Handle, "other", rec.SessionData, newExpiry, rec.LastUpdatedSign)
		if err != nil || n != 0 {
			t.Fatalf("stale update: n=%d err=%v", n, err)
		}

		got, err := s.GetSessionInfo(ctx, rec.Handle)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.RefreshTokenHash2 != "next" || got.ExpiresAt != newExpiry {
			t.Fatalf("unexpected record after update: %+v", got)
		}
		if got.LastUpdatedSign == rec.LastUpdatedSign {
			t.Fatal("sign was not regenerated")
		}

		n, err = s.UpdateSessionInfo(ctx, "h-missing-"+uuid.NewString(), "x", nil, newExpiry, got.LastUpdatedSign)
		if err != nil || n != 0 {
			t.Fatalf("missing update: n=%d err=%v", n, err)
		}
	})

	t.Run("update session data regenerates sign", func(t *testing.T) {
		s := newBackend(t)
		rec := newRecord("u-"+uuid.NewString(), time.Now().Add(time.Hour))
		if err := s.CreateNewSession(ctx, rec); err != nil {
			t.Fatalf("create: %v", err)
		}

		n, err := s.UpdateSessionData(ctx, rec.Handle, []byte("changed"))
		if err != nil || n != 1 {
			t.Fatalf("update data: n=%d err=%v", n, err)
		}
		data, ok, err := s.GetSessionData(ctx, rec.Handle)
		if err != nil || !ok || string(data) != "changed" {
			t.Fatalf("get data: %q ok=%v err=%v", data, ok, err)
		}
		got, err := s.GetSessionInfo(ctx, rec.Handle)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.LastUpdatedSign == rec.LastUpdatedSign {
			t.Fatal("sign was not regenerated")
		}

		n, err = s.UpdateSessionData(ctx, "h-missing-"+uuid.NewString(), []byte("x"))
		if err != nil || n != 0 {
			t.Fatalf("missing update data: n=%d err=%v", n, err)
		}
		if _, ok, err := s.GetSessionData(ctx, "h-missing-"+uuid.NewString()); ok || err != nil {
			t.Fatalf("missing get data: ok=%v err=%v", ok, err)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := newBackend(t)
		rec := newRecord("u-"+uuid.NewString(), time.Now().Add(time.Hour))
		if err := s.CreateNewSession(ctx, rec); err != nil {
			t.Fatalf("create: %v", err)
		}
		if n, err := s.DeleteSession(ctx, rec.Handle); err != nil || n != 1 {
			t.Fatalf("first delete: n=%d err=%v", n, err)
		}
		if n, err := s.DeleteSession(ctx, rec.Handle); err != nil || n != 0 {
			t.Fatalf("second delete: n=%d err=%v", n, err)
		}
		blacklisted, err := s.IsSessionBlacklisted(ctx, rec.Handle)
		if err != nil || !blacklisted {
			t.Fatalf("expected blacklisted after delete: %v %v", blacklisted, err)
		}
	})

	t.Run("handles for user", func(t *testing.T) {
		s := newBackend(t)
		user := "u-" + uuid.NewString()
		a := newRecord(user, time.Now().Add(time.Hour))
		b := newRecord(user, time.Now().Add(time.Hour))
		other := newRecord("u-"+uuid.NewString(), time.Now().Add(time.Hour))
		for _, rec := range []Record{a, b, other} {
			if err := s.CreateNewSession(ctx, rec); err != nil {
				t.Fatalf("create: %v", err)
			}
		}
		if _, err := s.DeleteSession(ctx, b.Handle); err != nil {
			t.Fatalf("delete: %v", err)
		}

		handles, err := s.GetAllSessionHandlesForUser(ctx, user)
		if err != nil {
			t.Fatalf("handles: %v", err)
		}
		sort.Strings(handles)
		if len(handles) != 1 || handles[0] != a.Handle {
			t.Fatalf("unexpected handles %v", handles)
		}

		none, err := s.GetAllSessionHandlesForUser(ctx, "u-none-"+uuid.NewString())
		if err != nil || len(none) != 0 {
			t.Fatalf("expected no handles, got %v %v", none, err)
		}
	})

	t.Run("sweep removes expired records only", func(t *testing.T) {
		s := newBackend(t)
		now := time.Now()
		soon := newRecord("u-"+uuid.NewString(), now.Add(time.Hour))
		later := newRecord("u-"+uuid.NewString(), now.Add(2*time.Hour))
		for _, rec := range []Record{soon, later} {
			if err := s.CreateNewSession(ctx, rec); err != nil {
				t.Fatalf("create: %v", err)
			}
		}

		if _, err := s.DeleteAllExpiredSessions(ctx, now.Add(90*time.Minute).UnixMilli()); err != nil {
			t.Fatalf("sweep: %v", err)
		}
		if _, err := s.GetSessionInfo(ctx, soon.Handle); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected expired record swept, got %v", err)
		}
		if _, err := s.GetSessionInfo(ctx, later.Handle); err != nil {
			t.Fatalf("live record swept: %v", err)
		}
	})

	t.Run("blacklist reflects presence", func(t *testing.T) {
		s := newBackend(t)
		rec := newRecord("u-"+uuid.NewString(), time.Now().Add(time.Hour))
		if err := s.CreateNewSession(ctx, rec); err != nil {
			t.Fatalf("create: %v", err)
		}
		blacklisted, err := s.IsSessionBlacklisted(ctx, rec.Handle)
		if err != nil || blacklisted {
			t.Fatalf("live session blacklisted: %v %v", blacklisted, err)
		}
	})

	t.Run("signing keys", func(t *testing.T) {
		s := newBackend(t)
		name := "key-" + uuid.NewString()
		if _, err := s.GetKeyValue(ctx, name); !errors.Is(err, ErrKeyNotFound) {
			t.Fatalf("expected ErrKeyNotFound, got %v", err)
		}

		first := KeyValue{Name: name, Value: "v1", CreatedAt: 1000, LastUpdatedSign: NewSign()}
		inserted, err := s.InsertKeyIfAbsent(ctx, first)
		if err != nil || !inserted {
			t.Fatalf("insert: %v %v", inserted, err)
		}
		inserted, err = s.InsertKeyIfAbsent(ctx, KeyValue{Name: name, Value: "v2", CreatedAt: 2000, LastUpdatedSign: NewSign()})
		if err != nil || inserted {
			t.Fatalf("second insert should lose: %v %v", inserted, err)
		}

		n, err := s.UpdateKeyWithVersionMatch(ctx, name, "v3", 3000, first.LastUpdatedSign)
		if err != nil || n != 1 {
			t.Fatalf("update: n=%d err=%v", n, err)
		}
		n, err = s.UpdateKeyWithVersionMatch(ctx, name, "v4", 4000, first.LastUpdatedSign)
		if err != nil || n != 0 {
			t.Fatalf("stale update: n=%d err=%v", n, err)
		}

		got, err := s.GetKeyValue(ctx, name)
		if err != nil {
			t.Fatalf("get key: %v", err)
		}
		if got.Value != "v3" || got.CreatedAt != 3000 || got.LastUpdatedSign == first.LastUpdatedSign {
			t.Fatalf("unexpected key: %+v", got)
		}
	})
}
