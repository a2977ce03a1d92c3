package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreTests exercises the Store contract. The store must start empty.
func runStoreTests(t *testing.T, store Store) {
	ctx := context.Background()
	base := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)

	newTask := func(id string, offset time.Duration) *Task {
		return &Task{
			ID:          id,
			Recipient:   recipientURL,
			Amount:      amount("12.34"),
			Description: DefaultDescription,
			TriggerAt:   base.Add(time.Hour),
			State:       StatePending,
			CreatedAt:   base.Add(offset),
			UpdatedAt:   base.Add(offset),
		}
	}

	t.Run("create and get", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newTask("t1", 0)))
		assert.ErrorIs(t, store.Create(ctx, newTask("t1", 0)), ErrTaskExists)

		got, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		assert.True(t, got.Amount.Equal(amount("12.34")))
		assert.Equal(t, StatePending, got.State)
		assert.Nil(t, got.GrantGeneratedAt)
		assert.True(t, got.TriggerAt.Equal(base.Add(time.Hour)))

		_, err = store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("update", func(t *testing.T) {
		got, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		require.NoError(t, got.Transition(StateAwaitingApproval))
		generated := base.Add(2 * time.Hour)
		got.GrantGenerated = true
		got.GrantGeneratedAt = &generated
		got.AuthorizationURL = "https://auth.test/interact/1"
		require.NoError(t, store.Update(ctx, got))

		again, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, StateAwaitingApproval, again.State)
		assert.True(t, again.GrantGenerated)
		require.NotNil(t, again.GrantGeneratedAt)
		assert.True(t, again.GrantGeneratedAt.Equal(generated))

		assert.ErrorIs(t, store.Update(ctx, newTask("missing", 0)), ErrTaskNotFound)
	})

	t.Run("list in creation order", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newTask("t2", time.Minute)))
		require.NoError(t, store.Create(ctx, newTask("t3", 2*time.Minute)))

		all, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"t1", "t2", "t3"}, []string{all[0].ID, all[1].ID, all[2].ID})

		pending, err := store.ListByState(ctx, StatePending)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "t2", pending[0].ID)

		awaiting, err := store.ListByState(ctx, StateAwaitingApproval)
		require.NoError(t, err)
		require.Len(t, awaiting, 1)
		assert.Equal(t, "t1", awaiting[0].ID)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "t2"))
		assert.ErrorIs(t, store.Delete(ctx, "t2"), ErrTaskNotFound)

		all, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, NewMemoryStore())
}
