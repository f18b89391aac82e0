package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnelscope/server/internal/agent/model"
	"github.com/funnelscope/server/internal/agent/repo"
	errx "github.com/funnelscope/server/internal/core/error"
)

// fakeRunner appends an agent turn and echoes a canned response, like the
// real graph does on the happy path.
type fakeRunner struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (r *fakeRunner) Invoke(_ context.Context, in model.TurnInput) (*model.TurnOutput, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.fail {
		return nil, fmt.Errorf("graph exploded")
	}
	in.Session.AppendTurn(model.RoleUser, in.Message, nil)
	in.Session.AppendTurn(model.RoleAgent, "ok: "+in.Message, nil)
	return &model.TurnOutput{
		Response: "ok: " + in.Message,
		Metadata: model.TurnMetadata{ActionTaken: model.ActionAnswerContext},
	}, nil
}

func TestTurnMintsSessionIDAndPersists(t *testing.T) {
	store := repo.NewMemoryStore()
	orch := New(store, &fakeRunner{}, nil, 0)

	res, err := orch.Turn(context.Background(), "", "hello")

	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, "ok: hello", res.Output.Response)

	stored, err := store.Get(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Len(t, stored.Turns, 2)
	assert.EqualValues(t, 1, stored.Version)
}

func TestTurnContinuesExistingSession(t *testing.T) {
	store := repo.NewMemoryStore()
	orch := New(store, &fakeRunner{}, nil, 0)

	first, err := orch.Turn(context.Background(), "", "one")
	require.NoError(t, err)

	second, err := orch.Turn(context.Background(), first.SessionID, "two")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	stored, err := store.Get(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Len(t, stored.Turns, 4)
	assert.EqualValues(t, 2, stored.Version)
}

func TestTurnGraphFailureDegradesButStillPersists(t *testing.T) {
	store := repo.NewMemoryStore()
	orch := New(store, &fakeRunner{fail: true}, nil, 0)

	res, err := orch.Turn(context.Background(), "", "boom")

	require.NoError(t, err, "a graph failure must not surface as a request error")
	assert.True(t, res.Output.NeedsInput)
	assert.Equal(t, model.ActionAskUser, res.Output.Metadata.ActionTaken)

	stored, err := store.Get(context.Background(), res.SessionID)
	require.NoError(t, err)
	require.Len(t, stored.Turns, 2, "user turn and fallback agent turn are kept")
	assert.Equal(t, model.RoleUser, stored.Turns[0].Role)
	assert.Equal(t, "boom", stored.Turns[0].Content)
}

func TestTurnsForSameSessionAreSerialized(t *testing.T) {
	store := repo.NewMemoryStore()
	runner := &fakeRunner{}
	orch := New(store, runner, nil, 0)

	seed, err := orch.Turn(context.Background(), "", "seed")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := orch.Turn(context.Background(), seed.SessionID, fmt.Sprintf("msg %d", i))
			assert.NoError(t, err, "serialized turns must never hit a CAS conflict")
		}(i)
	}
	wg.Wait()

	stored, err := store.Get(context.Background(), seed.SessionID)
	require.NoError(t, err)
	assert.Len(t, stored.Turns, 22)
	assert.EqualValues(t, 11, stored.Version)
}

type putFailStore struct {
	*repo.MemoryStore
	err error
}

func (s *putFailStore) Put(_ context.Context, _ *model.Session) error { return s.err }

type getFailStore struct {
	*repo.MemoryStore
}

func (s *getFailStore) Get(_ context.Context, _ string) (*model.Session, error) {
	return nil, fmt.Errorf("redis unavailable")
}

func TestRunTurnOutcomeLabels(t *testing.T) {
	ctx := context.Background()

	t.Run("answered", func(t *testing.T) {
		orch := New(repo.NewMemoryStore(), &fakeRunner{}, nil, 0)
		out, outcome, err := orch.runTurn(ctx, "s1", "hi")
		require.NoError(t, err)
		require.NotNil(t, out)
		assert.Equal(t, "answered", outcome)
	})

	t.Run("load failure", func(t *testing.T) {
		orch := New(&getFailStore{repo.NewMemoryStore()}, &fakeRunner{}, nil, 0)
		_, outcome, err := orch.runTurn(ctx, "s1", "hi")
		require.Error(t, err)
		assert.Equal(t, "load_error", outcome)
	})

	t.Run("persist conflict", func(t *testing.T) {
		store := &putFailStore{MemoryStore: repo.NewMemoryStore(), err: errx.ErrSessionConflict}
		orch := New(store, &fakeRunner{}, nil, 0)
		_, outcome, err := orch.runTurn(ctx, "s1", "hi")
		assert.ErrorIs(t, err, errx.ErrSessionConflict)
		assert.Equal(t, "session_conflict", outcome)
	})

	t.Run("persist failure", func(t *testing.T) {
		store := &putFailStore{MemoryStore: repo.NewMemoryStore(), err: fmt.Errorf("write timeout")}
		orch := New(store, &fakeRunner{}, nil, 0)
		_, outcome, err := orch.runTurn(ctx, "s1", "hi")
		require.Error(t, err)
		assert.Equal(t, "persistence_error", outcome)
	})
}

func TestSessionAndReset(t *testing.T) {
	store := repo.NewMemoryStore()
	orch := New(store, &fakeRunner{}, nil, 0)

	res, err := orch.Turn(context.Background(), "", "hello")
	require.NoError(t, err)

	sess, err := orch.Session(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, sess.ID)

	require.NoError(t, orch.Reset(context.Background(), res.SessionID))

	_, err = orch.Session(context.Background(), res.SessionID)
	assert.ErrorIs(t, err, errx.ErrSessionNotFound)
}
