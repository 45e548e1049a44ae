package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type mongoSession struct {
	SessionHandle     string `bson:"session_handle"`
	UserID            string `bson:"user_id"`
	RefreshTokenHash2 string `bson:"refresh_token_hash_2"`
	SessionInfo       []byte `bson:"session_info"`
	ExpiresAt         int64  `bson:"expires_at"`
	JWTUserPayload    []byte `bson:"jwt_user_payload"`
	LastUpdatedSign   string `bson:"last_updated_sign"`
}

func (d *mongoSession) record() *Record {
	return &Record{
		Handle:            d.SessionHandle,
		UserID:            d.UserID,
		RefreshTokenHash2: d.RefreshTokenHash2,
		SessionData:       emptyToNil(d.SessionInfo),
		ExpiresAt:         d.ExpiresAt,
		JWTPayload:        emptyToNil(d.JWTUserPayload),
		LastUpdatedSign:   d.LastUpdatedSign,
	}
}

type mongoKey struct {
	KeyName         string `bson:"key_name"`
	KeyValue        string `bson:"key_value"`
	CreatedAtTime   int64  `bson:"created_at_time"`
	LastUpdatedSign string `bson:"last_updated_sign"`
}

// MongoStore is a MongoDB-backed [Backend]. Sessions and signing keys live in
// two collections with unique indexes on session_handle and key_name.
type MongoStore struct {
	db       *mongo.Database
	sessions *mongo.Collection
	keys     *mongo.Collection
}

// NewMongoStore creates a [MongoStore] over the named collections of db.
func NewMongoStore(db *mongo.Database, sessionCollection, keyCollection string) *MongoStore {
	return &MongoStore{
		db:       db,
		sessions: db.Collection(sessionCollection),
		keys:     db.Collection(keyCollection),
	}
}

// EnsureIndexes creates the unique handle and key-name indexes plus the user
// and expiry indexes used by revocation and the sweep. It is idempotent.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_handle", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	_, err = s.keys.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key_name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// CreateNewSession inserts rec. A duplicate handle returns ErrSessionExists.
func (s *MongoStore) CreateNewSession(ctx context.Context, rec Record) error {
	_, err := s.sessions.InsertOne(ctx, mongoSession{
		SessionHandle:     rec.Handle,
		UserID:            rec.UserID,
		RefreshTokenHash2: rec.RefreshTokenHash2,
		SessionInfo:       nilToEmpty(rec.SessionData),
		ExpiresAt:         rec.ExpiresAt,
		JWTUserPayload:    nilToEmpty(rec.JWTPayload),
		LastUpdatedSign:   rec.LastUpdatedSign,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrSessionExists
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// GetSessionInfo returns the record for handle, or ErrSessionNotFound.
func (s *MongoStore) GetSessionInfo(ctx context.Context, handle string) (*Record, error) {
	var doc mongoSession
	err := s.sessions.FindOne(ctx, bson.D{{Key: "session_handle", Value: handle}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return doc.record(), nil
}

// UpdateSessionInfo rewrites the chain fields when last_updated_sign still
// equals expectedSign and returns the matched count.
func (s *MongoStore) UpdateSessionInfo(
	ctx context.Context,
	handle, refreshTokenHash2 string,
	sessionData []byte,
	expiresAt int64,
	expectedSign string,
) (int64, error) {
	res, err := s.sessions.UpdateOne(ctx,
		bson.D{
			{Key: "session_handle", Value: handle},
			{Key: "last_updated_sign", Value: expectedSign},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "refresh_token_hash_2", Value: refreshTokenHash2},
			{Key: "session_info", Value: nilToEmpty(sessionData)},
			{Key: "expires_at", Value: expiresAt},
			{Key: "last_updated_sign", Value: NewSign()},
		}}},
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res.MatchedCount, nil
}

// GetSessionData returns the server-side data and whether the record exists.
func (s *MongoStore) GetSessionData(ctx context.Context, handle string) ([]byte, bool, error) {
	rec, err := s.GetSessionInfo(ctx, handle)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return rec.SessionData, true, nil
}

// UpdateSessionData replaces the server-side data without touching the chain.
func (s *MongoStore) UpdateSessionData(ctx context.Context, handle string, sessionData []byte) (int64, error) {
	res, err := s.sessions.UpdateOne(ctx,
		bson.D{{Key: "session_handle", Value: handle}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "session_info", Value: nilToEmpty(sessionData)},
			{Key: "last_updated_sign", Value: NewSign()},
		}}},
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res.MatchedCount, nil
}

// DeleteSession removes the record for handle and returns the deleted count.
func (s *MongoStore) DeleteSession(ctx context.Context, handle string) (int64, error) {
	res, err := s.sessions.DeleteOne(ctx, bson.D{{Key: "session_handle", Value: handle}})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res.DeletedCount, nil
}

// GetAllSessionHandlesForUser returns every stored handle of userID.
func (s *MongoStore) GetAllSessionHandlesForUser(ctx context.Context, userID string) ([]string, error) {
	cursor, err := s.sessions.Find(ctx,
		bson.D{{Key: "user_id", Value: userID}},
		options.Find().SetProjection(bson.D{{Key: "session_handle", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var docs []mongoSession
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	handles := make([]string, 0, len(docs))
	for _, d := range docs {
		handles = append(handles, d.SessionHandle)
	}
	return handles, nil
}

// DeleteAllExpiredSessions removes records with expires_at at or before
// nowMillis.
func (s *MongoStore) DeleteAllExpiredSessions(ctx context.Context, nowMillis int64) (int64, error) {
	res, err := s.sessions.DeleteMany(ctx, bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: nowMillis}}}})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res.DeletedCount, nil
}

// IsSessionBlacklisted reports whether no record exists for handle.
func (s *MongoStore) IsSessionBlacklisted(ctx context.Context, handle string) (bool, error) {
	n, err := s.sessions.CountDocuments(ctx,
		bson.D{{Key: "session_handle", Value: handle}},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n == 0, nil
}

// GetKeyValue returns the named signing key, or ErrKeyNotFound.
func (s *MongoStore) GetKeyValue(ctx context.Context, name string) (*KeyValue, error) {
	var doc mongoKey
	err := s.keys.FindOne(ctx, bson.D{{Key: "key_name", Value: name}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &KeyValue{
		Name:            doc.KeyName,
		Value:           doc.KeyValue,
		CreatedAt:       doc.CreatedAtTime,
		LastUpdatedSign: doc.LastUpdatedSign,
	}, nil
}

// InsertKeyIfAbsent inserts kv and reports false if the name already exists.
func (s *MongoStore) InsertKeyIfAbsent(ctx context.Context, kv KeyValue) (bool, error) {
	_, err := s.keys.InsertOne(ctx, mongoKey{
		KeyName:         kv.Name,
		KeyValue:        kv.Value,
		CreatedAtTime:   kv.CreatedAt,
		LastUpdatedSign: kv.LastUpdatedSign,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return true, nil
}

// UpdateKeyWithVersionMatch replaces the key value when the version sign
// matches and returns the matched count.
func (s *MongoStore) UpdateKeyWithVersionMatch(ctx context.Context, name, value string, createdAt int64, expectedSign string) (int64, error) {
	res, err := s.keys.UpdateOne(ctx,
		bson.D{
			{Key: "key_name", Value: name},
			{Key: "last_updated_sign", Value: expectedSign},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "key_value", Value: value},
			{Key: "created_at_time", Value: createdAt},
			{Key: "last_updated_sign", Value: NewSign()},
		}}},
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res.MatchedCount, nil
}

// Ping returns a point-in-time MongoDB availability check and latency.
func (s *MongoStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.db.Client().Ping(ctx, nil); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}
