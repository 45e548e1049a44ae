package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const createSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("PEXPIREAT", KEYS[1], ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
return 1
`

var createSessionLua = redis.NewScript(createSessionScript)

// The sign is stored right after the version byte, so the scripts read it
// without decoding the record.
const swapSessionScript = `
local cur = redis.call("GET", KEYS[1])
if not cur then
  return 0
end
local sign_len = string.byte(cur, 2)
if not sign_len then
  return -1
end
if string.sub(cur, 3, 2 + sign_len) ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2])
redis.call("PEXPIREAT", KEYS[1], ARGV[3])
return 1
`

var swapSessionLua = redis.NewScript(swapSessionScript)

const deleteSessionScript = `
local cur = redis.call("GET", KEYS[1])
if not cur then
  redis.call("SREM", KEYS[2], ARGV[2])
  return 0
end
if ARGV[1] ~= "" then
  local sign_len = string.byte(cur, 2)
  if not sign_len or string.sub(cur, 3, 2 + sign_len) ~= ARGV[1] then
    return 0
  end
end
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[2])
return 1
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

const insertKeyScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "value", ARGV[1], "created_at", ARGV[2], "sign", ARGV[3])
return 1
`

var insertKeyLua = redis.NewScript(insertKeyScript)

const updateKeyScript = `
if redis.call("HGET", KEYS[1], "sign") ~= ARGV[4] then
  return 0
end
redis.call("HSET", KEYS[1], "value", ARGV[1], "created_at", ARGV[2], "sign", ARGV[3])
return 1
`

var updateKeyLua = redis.NewScript(updateKeyScript)

const swapStatusCorrupt int64 = -1

// RedisStore is a Redis-backed [Backend].
//
// Layout:
//
//	<prefix>:s:<handle>  binary record (see Encode), PEXPIREAT at the chain expiry
//	<prefix>:u:<userID>  set of handles issued to the user
//	<prefix>:k:<name>    hash of value, created_at, sign
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a [RedisStore] backed by the given client. prefix sets
// the key namespace.
func NewRedisStore(redis redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{
		redis:  redis,
		prefix: prefix,
	}
}

func (s *RedisStore) key(handle string) string {
	return s.prefix + ":s:" + handle
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

func (s *RedisStore) signingKey(name string) string {
	return s.prefix + ":k:" + name
}

// CreateNewSession stores a new record and indexes it under its user.
//
//	Performance: 1 Lua EVALSHA.
func (s *RedisStore) CreateNewSession(ctx context.Context, rec Record) error {
	data, err := Encode(&rec)
	if err != nil {
		return err
	}

	created, err := createSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(rec.Handle), s.userKey(rec.UserID)},
		data,
		rec.ExpiresAt,
		rec.Handle,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if created == 0 {
		return ErrSessionExists
	}
	return nil
}

// GetSessionInfo returns the record stored under handle.
//
//	Performance: 1 Redis GET.
func (s *RedisStore) GetSessionInfo(ctx context.Context, handle string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.key(handle)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, errors.Join(ErrRecordCorrupt, err)
	}
	rec.Handle = handle
	return rec, nil
}

// UpdateSessionInfo replaces the refresh hash, data and expiry of a record,
// provided its sign still equals expectedSign.
//
//	Performance: 1 Redis GET + 1 Lua EVALSHA (compare-and-swap on the sign).
func (s *RedisStore) UpdateSessionInfo(
	ctx context.Context,
	handle, refreshTokenHash2 string,
	sessionData []byte,
	expiresAt int64,
	expectedSign string,
) (int64, error) {
	rec, err := s.GetSessionInfo(ctx, handle)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if rec.LastUpdatedSign != expectedSign {
		return 0, nil
	}

	rec.RefreshTokenHash2 = refreshTokenHash2
	rec.SessionData = emptyToNil(sessionData)
	rec.ExpiresAt = expiresAt
	return s.swap(ctx, rec, expectedSign)
}

// GetSessionData returns the opaque session data and whether the record exists.
func (s *RedisStore) GetSessionData(ctx context.Context, handle string) ([]byte, bool, error) {
	rec, err := s.GetSessionInfo(ctx, handle)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return rec.SessionData, true, nil
}

// UpdateSessionData replaces the opaque session data regardless of the
// current sign. Concurrent writers are serialized by retrying the swap.
func (s *RedisStore) UpdateSessionData(ctx context.Context, handle string, sessionData []byte) (int64, error) {
	for {
		rec, err := s.GetSessionInfo(ctx, handle)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				return 0, nil
			}
			return 0, err
		}

		expected := rec.LastUpdatedSign
		rec.SessionData = emptyToNil(sessionData)
		n, err := s.swap(ctx, rec, expected)
		if err != nil || n == 1 {
			return n, err
		}
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
}

func (s *RedisStore) swap(ctx context.Context, rec *Record, expectedSign string) (int64, error) {
	rec.LastUpdatedSign = NewSign()
	data, err := Encode(rec)
	if err != nil {
		return 0, err
	}

	n, err := swapSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(rec.Handle)},
		expectedSign,
		data,
		rec.ExpiresAt,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n == swapStatusCorrupt {
		return 0, ErrRecordCorrupt
	}
	return n, nil
}

// DeleteSession removes a record and its user index entry. Deleting a
// missing handle is not an error and reports zero rows.
//
//	Performance: 1 Redis GET + 1 Lua EVALSHA.
func (s *RedisStore) DeleteSession(ctx context.Context, handle string) (int64, error) {
	rec, err := s.GetSessionInfo(ctx, handle)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return s.deleteRecord(ctx, rec, "")
}

// deleteRecord removes rec. A non-empty ifSign makes the delete conditional
// on the record not having changed since it was read.
func (s *RedisStore) deleteRecord(ctx context.Context, rec *Record, ifSign string) (int64, error) {
	n, err := deleteSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(rec.Handle), s.userKey(rec.UserID)},
		ifSign,
		rec.Handle,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// GetAllSessionHandlesForUser returns the live handles indexed under userID.
// Index entries whose record has expired out of Redis are pruned.
//
//	Performance: 1 SMEMBERS + 1 pipelined EXISTS batch (+1 SREM when pruning).
func (s *RedisStore) GetAllSessionHandlesForUser(ctx context.Context, userID string) ([]string, error) {
	userKey := s.userKey(userID)
	handles, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(handles) == 0 {
		return []string{}, nil
	}

	pipe := s.redis.Pipeline()
	existsCmds := make([]*redis.IntCmd, len(handles))
	for i, handle := range handles {
		existsCmds[i] = pipe.Exists(ctx, s.key(handle))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	live := make([]string, 0, len(handles))
	var dangling []any
	for i, cmd := range existsCmds {
		if cmd.Val() == 1 {
			live = append(live, handles[i])
			continue
		}
		dangling = append(dangling, handles[i])
	}
	if len(dangling) > 0 {
		if err := s.redis.SRem(ctx, userKey, dangling...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return live, nil
}

// DeleteAllExpiredSessions removes every record whose chain expiry is at or
// before nowMillis. A record promoted while the sweep runs is left alone.
//
// This is an O(n) SCAN over the session namespace and must not run on a
// request path.
func (s *RedisStore) DeleteAllExpiredSessions(ctx context.Context, nowMillis int64) (int64, error) {
	pattern := s.prefix + ":s:*"
	prefixLen := len(s.prefix) + len(":s:")

	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		if len(keys) > 0 {
			n, err := s.deleteExpiredBatch(ctx, keys, prefixLen, nowMillis)
			deleted += n
			if err != nil {
				return deleted, err
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}

func (s *RedisStore) deleteExpiredBatch(ctx context.Context, keys []string, prefixLen int, nowMillis int64) (int64, error) {
	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var deleted int64
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		rec, err := Decode(data)
		if err != nil || rec.ExpiresAt > nowMillis {
			continue
		}
		rec.Handle = keys[i][prefixLen:]

		n, err := s.deleteRecord(ctx, rec, rec.LastUpdatedSign)
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, nil
}

// IsSessionBlacklisted reports whether no record exists for handle.
//
//	Performance: 1 Redis EXISTS.
func (s *RedisStore) IsSessionBlacklisted(ctx context.Context, handle string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(handle)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n == 0, nil
}

// GetKeyValue returns the signing key stored under name.
func (s *RedisStore) GetKeyValue(ctx context.Context, name string) (*KeyValue, error) {
	fields, err := s.redis.HGetAll(ctx, s.signingKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrKeyNotFound
	}

	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, errors.Join(ErrRecordCorrupt, err)
	}
	return &KeyValue{
		Name:            name,
		Value:           fields["value"],
		CreatedAt:       createdAt,
		LastUpdatedSign: fields["sign"],
	}, nil
}

// InsertKeyIfAbsent stores kv unless a key with the same name exists.
func (s *RedisStore) InsertKeyIfAbsent(ctx context.Context, kv KeyValue) (bool, error) {
	n, err := insertKeyLua.Run(
		ctx,
		s.redis,
		[]string{s.signingKey(kv.Name)},
		kv.Value,
		kv.CreatedAt,
		kv.LastUpdatedSign,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

// UpdateKeyWithVersionMatch replaces a key's value when its sign equals expectedSign.
func (s *RedisStore) UpdateKeyWithVersionMatch(ctx context.Context, name, value string, createdAt int64, expectedSign string) (int64, error) {
	n, err := updateKeyLua.Run(
		ctx,
		s.redis,
		[]string{s.signingKey(name)},
		value,
		createdAt,
		NewSign(),
		expectedSign,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}
