package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/funnelscope/server/internal/agent/model"
	errx "github.com/funnelscope/server/internal/core/error"
)

// MemoryStore is an in-process session store for local/dev use and tests.
// It applies the same versioned compare-and-set contract as the Redis store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	raw, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errx.ErrSessionNotFound
	}

	var sess model.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *MemoryStore) Put(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expected := session.Version
	if raw, ok := s.sessions[session.ID]; ok {
		var current model.Session
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("unmarshal stored session %s: %w", session.ID, err)
		}
		if current.Version != expected {
			return errx.ErrSessionConflict
		}
	} else if expected != 0 {
		return errx.ErrSessionConflict
	}

	session.Version = expected + 1
	session.UpdatedAt = time.Now().UTC()
	b, err := json.Marshal(session)
	if err != nil {
		session.Version = expected
		return fmt.Errorf("marshal session %s: %w", session.ID, err)
	}
	s.sessions[session.ID] = b
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

var _ SessionStore = (*MemoryStore)(nil)
