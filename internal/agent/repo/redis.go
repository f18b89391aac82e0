package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/funnelscope/server/internal/agent/model"
	errx "github.com/funnelscope/server/internal/core/error"
	logx "github.com/funnelscope/server/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RedisSessionStore persists whole sessions as JSON documents with an
// optimistic-lock version check, so two concurrent turns can never both
// commit against the same stale snapshot.
type RedisSessionStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisSessionStore(rdb redis.Cmdable, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb, ttl: ttl}
}

func (r *RedisSessionStore) sessionKey(id string) string {
	return fmt.Sprintf("session:%s:state", id)
}

func (r *RedisSessionStore) Get(ctx context.Context, id string) (*model.Session, error) {
	key := r.sessionKey(id)

	raw, err := r.rdb.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, errx.ErrSessionNotFound
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load session from redis")
		return nil, errx.WrapRedis(err)
	}

	var sess model.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		logx.Error().Err(err).Str("session_id", id).Msg("failed to unmarshal session")
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return &sess, nil
}

func (r *RedisSessionStore) Put(ctx context.Context, session *model.Session) error {
	key := r.sessionKey(session.ID)
	expected := session.Version

	watcher, ok := r.rdb.(watchable)
	if !ok {
		// redis.Cmdable without WATCH support (e.g. a bare pipeline); fall
		// back to a plain versioned SET. Production clients are watchable.
		return r.putUnchecked(ctx, key, session)
	}

	err := watcher.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		switch {
		case err == redis.Nil:
			if expected != 0 {
				return errx.ErrSessionConflict
			}
		case err != nil:
			return errx.WrapRedis(err)
		default:
			var current model.Session
			if err := json.Unmarshal([]byte(raw), &current); err != nil {
				return fmt.Errorf("unmarshal stored session %s: %w", session.ID, err)
			}
			if current.Version != expected {
				return errx.ErrSessionConflict
			}
		}

		session.Version = expected + 1
		session.UpdatedAt = time.Now().UTC()
		b, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("marshal session %s: %w", session.ID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, r.ttl)
			return nil
		})
		if err != nil {
			return errx.WrapRedis(err)
		}
		return nil
	}, key)

	if err == redis.TxFailedErr {
		// Another writer touched the key between WATCH and EXEC.
		session.Version = expected
		return errx.ErrSessionConflict
	}
	if err != nil {
		session.Version = expected
		logx.Error().Err(err).Str("key", key).Msg("failed to persist session")
		return err
	}
	return nil
}

func (r *RedisSessionStore) putUnchecked(ctx context.Context, key string, session *model.Session) error {
	session.Version++
	session.UpdatedAt = time.Now().UTC()
	b, err := json.Marshal(session)
	if err != nil {
		session.Version--
		return fmt.Errorf("marshal session %s: %w", session.ID, err)
	}
	if err := r.rdb.Set(ctx, key, b, r.ttl).Err(); err != nil {
		session.Version--
		logx.Error().Err(err).Str("key", key).Msg("failed to persist session")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, id string) error {
	key := r.sessionKey(id)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to delete session from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

type watchable interface {
	Watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error
}

var _ SessionStore = (*RedisSessionStore)(nil)
