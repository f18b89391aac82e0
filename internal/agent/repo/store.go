package repo

import (
	"context"
	"time"

	"github.com/funnelscope/server/internal/agent/model"
	"github.com/redis/go-redis/v9"
)

// SessionStore is the durable session_id -> Session mapping. The store does
// not interpret the session beyond its id and CAS version.
type SessionStore interface {
	// Get returns the session, or errx.ErrSessionNotFound.
	Get(ctx context.Context, id string) (*model.Session, error)

	// Put writes the session back atomically. The write succeeds only if the
	// stored version still equals session.Version (version 0 means the key
	// must not exist yet); on success the session's Version is incremented.
	// A lost race returns errx.ErrSessionConflict.
	Put(ctx context.Context, session *model.Session) error

	// Delete removes the session and its history.
	Delete(ctx context.Context, id string) error
}

// NewStore returns a Redis-backed store when a client is provided, otherwise
// an in-process store for local runs and tests.
func NewStore(rdb redis.Cmdable, ttl time.Duration) SessionStore {
	if rdb == nil {
		return NewMemoryStore()
	}
	return NewRedisSessionStore(rdb, ttl)
}
