package engine_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aocr/internal/domain"
	"aocr/internal/engine"
	"aocr/internal/repo"
)

func TestConcurrentTransitionsOnlyOneWins(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		req := env.driveTo(t, env.create(t), domain.StateSent)

		// both targets are terminal, so the loser always sees an invalid edge
		moves := []struct {
			target domain.State
			actor  string
		}{
			{domain.StateRejected, fin},
			{domain.StateWithdrawn, owner},
		}
		errs := make([]error, len(moves))
		start := make(chan struct{})
		var wg sync.WaitGroup
		for j, m := range moves {
			wg.Add(1)
			go func(j int, target domain.State, actor string) {
				defer wg.Done()
				<-start
				_, errs[j] = env.Engine.RequestTransition(context.Background(), engine.TransitionInput{
					RequestID: req.ID, Target: target, ActorID: actor,
				})
			}(j, m.target, m.actor)
		}
		close(start)
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			var invalid *engine.InvalidEdgeError
			if !errors.As(err, &invalid) && !errors.Is(err, engine.ErrConcurrentModification) {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, wins)

		history, err := env.Engine.History(env.Ctx, req.ID)
		require.NoError(t, err)
		assert.Len(t, history, 3)
		v, err := env.Engine.Verify(env.Ctx, req.ID)
		require.NoError(t, err)
		assert.True(t, v.OK, v.Problem)
	}
}

func TestConcurrentSameTargetRecordsOnce(t *testing.T) {
	env := newTestEnv(t)
	req := env.create(t)

	const workers = 8
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.Engine.RequestTransition(context.Background(), engine.TransitionInput{RequestID: req.ID, Target: domain.StateSent, ActorID: owner})
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	history, err := env.Engine.History(env.Ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

// conflictingStore loses the first n compare-and-swaps.
type conflictingStore struct {
	engine.RequestStore
	remaining atomic.Int32
}

func (s *conflictingStore) CompareAndSwapStateTx(ctx context.Context, tx *sql.Tx, id, expected int64, next domain.State, actorID, at string) error {
	if s.remaining.Add(-1) >= 0 {
		return repo.ErrVersionConflict
	}
	return s.RequestStore.CompareAndSwapStateTx(ctx, tx, id, expected, next, actorID, at)
}

func TestConflictRetriedOnce(t *testing.T) {
	env := newTestEnv(t)
	req := env.create(t)
	store := &conflictingStore{RequestStore: env.Engine.Repo}
	store.remaining.Store(1)
	env.Engine.Requests = store

	res, err := env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: req.ID, Target: domain.StateSent, ActorID: owner})
	require.NoError(t, err)
	assert.Equal(t, domain.StateSent, res.Request.State)

	history, err := env.Engine.History(env.Ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestConflictSurfacesAfterRetry(t *testing.T) {
	env := newTestEnv(t)
	req := env.create(t)
	store := &conflictingStore{RequestStore: env.Engine.Repo}
	store.remaining.Store(2)
	env.Engine.Requests = store

	_, err := env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: req.ID, Target: domain.StateSent, ActorID: owner})
	require.ErrorIs(t, err, engine.ErrConcurrentModification)

	got, err := env.Engine.GetRequest(env.Ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDraft, got.State)
	history, err := env.Engine.History(env.Ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Len(t, env.Events.snapshot(), 1)
}
