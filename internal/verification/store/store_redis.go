package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"webkart/internal/verification/models"
	id "webkart/pkg/domain"
	"webkart/pkg/platform/sentinel"
)

const (
	sessionKeyPrefix = "webkart:verification:session:"
	// idleIndexKey is a sorted set of non-complete session ids scored by
	// LastUpdated (unix milliseconds). Complete sessions are removed from it.
	idleIndexKey = "webkart:verification:idle"

	purgeBatchSize = 256
)

// RedisStore persists sessions as JSON documents. Updates use WATCH/MULTI so
// a commit racing another process fails with sentinel.ErrConflict.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(sessionID id.SessionID) string {
	return sessionKeyPrefix + sessionID.String()
}

func (s *RedisStore) Create(ctx context.Context, session *models.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	key := sessionKey(session.ID)
	ok, err := s.client.SetNX(ctx, key, payload, 0).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return sentinel.ErrConflict
	}
	if err := s.index(ctx, s.client, session); err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	return s.load(ctx, s.client, sessionKey(sessionID))
}

func (s *RedisStore) Update(ctx context.Context, session *models.Session) error {
	key := sessionKey(session.ID)
	next := session.Clone()
	next.Version++
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if current.Version != session.Version {
			return sentinel.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return s.index(ctx, pipe, next)
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return sentinel.ErrConflict
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) || errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
		return fmt.Errorf("update session: %w", err)
	}
	session.Version = next.Version
	return nil
}

// DeleteIdle removes non-complete sessions last updated before cutoff. Each
// delete re-checks the session under WATCH, so a session touched while the
// purge runs is kept.
func (s *RedisStore) DeleteIdle(ctx context.Context, cutoff time.Time) (int, error) {
	purged := 0
	for {
		ids, err := s.client.ZRangeByScore(ctx, idleIndexKey, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
			Count: purgeBatchSize,
		}).Result()
		if err != nil {
			return purged, fmt.Errorf("scan idle sessions: %w", err)
		}
		if len(ids) == 0 {
			return purged, nil
		}

		for _, member := range ids {
			deleted, err := s.deleteIfIdle(ctx, member, cutoff)
			if err != nil {
				return purged, err
			}
			if deleted {
				purged++
			}
		}
		if len(ids) < purgeBatchSize {
			return purged, nil
		}
	}
}

func (s *RedisStore) deleteIfIdle(ctx context.Context, member string, cutoff time.Time) (bool, error) {
	key := sessionKeyPrefix + member
	deleted := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		session, err := s.load(ctx, tx, key)
		if errors.Is(err, sentinel.ErrNotFound) {
			// Orphaned index entry.
			return tx.ZRem(ctx, idleIndexKey, member).Err()
		}
		if err != nil {
			return err
		}
		if !isIdle(session, cutoff) {
			return s.index(ctx, tx, session)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, idleIndexKey, member)
			return nil
		})
		if err == nil {
			deleted = true
		}
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Touched during the purge, so it is not idle.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("purge session %s: %w", member, err)
	}
	return deleted, nil
}

func (s *RedisStore) load(ctx context.Context, c redis.Cmdable, key string) (*models.Session, error) {
	payload, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var session models.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func (s *RedisStore) index(ctx context.Context, c redis.Cmdable, session *models.Session) error {
	member := session.ID.String()
	if session.Step.Terminal() {
		return c.ZRem(ctx, idleIndexKey, member).Err()
	}
	return c.ZAdd(ctx, idleIndexKey, redis.Z{
		Score:  float64(session.LastUpdated.UnixMilli()),
		Member: member,
	}).Err()
}
