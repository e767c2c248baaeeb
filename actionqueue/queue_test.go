// Copyright 2025 Discrapp
// SPDX-License-Identifier: Apache-2.0

package actionqueue

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/discrapp/mobile-sub003/kvstore"
)

func newTestQueue(t *testing.T) (*Queue, *kvstore.MemoryStore) {
	t.Helper()
	store := kvstore.NewMemoryStore()
	return New(store, nil), store
}

func TestEnqueueAssignsMetadata(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	action := q.Enqueue(ctx, ActionUpdateDisc, map[string]any{"id": "123"})
	require.NotEmpty(t, action.ID)
	require.Equal(t, ActionUpdateDisc, action.Type)
	require.Equal(t, 0, action.Attempts)
	require.False(t, action.CreatedAt.IsZero())

	head, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, head)
	require.Equal(t, action.ID, head.ID)
	require.Equal(t, ActionUpdateDisc, head.Type)
	require.Equal(t, "123", head.Payload["id"])
}

func TestFIFOOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	var ids []string
	for i := 0; i < 5; i++ {
		a := q.Enqueue(ctx, ActionCreateDisc, map[string]any{"n": i})
		ids = append(ids, a.ID)
	}

	all := q.GetAll(ctx)
	require.Len(t, all, 5)
	for i, a := range all {
		require.Equal(t, ids[i], a.ID)
	}
}

func TestDequeue(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	a := q.Enqueue(ctx, ActionCreateDisc, nil)
	b := q.Enqueue(ctx, ActionUpdateDisc, nil)

	head, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, a.ID, head.ID)

	require.Equal(t, 1, q.Size(ctx))
	for _, remaining := range q.GetAll(ctx) {
		require.NotEqual(t, a.ID, remaining.ID)
	}

	head, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, b.ID, head.ID)

	// Empty queue yields nil without error
	head, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Nil(t, head)
}

func TestPeekDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	q := New(store, nil)

	a := q.Enqueue(ctx, ActionDeleteDisc, nil)

	writes := 0
	store.SetHook = func(string) error {
		writes++
		return nil
	}

	head := q.Peek(ctx)
	require.NotNil(t, head)
	require.Equal(t, a.ID, head.ID)
	require.Equal(t, 1, q.Size(ctx))
	require.Zero(t, writes, "peek must not write to storage")

	// Empty queue peeks as nil
	store.SetHook = nil
	require.NoError(t, q.Clear(ctx))
	require.Nil(t, q.Peek(ctx))
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	a := q.Enqueue(ctx, ActionCreateDisc, nil)
	b := q.Enqueue(ctx, ActionUpdateDisc, nil)
	c := q.Enqueue(ctx, ActionDeleteDisc, nil)

	require.NoError(t, q.Remove(ctx, b.ID))

	all := q.GetAll(ctx)
	require.Len(t, all, 2)
	require.Equal(t, a.ID, all[0].ID)
	require.Equal(t, c.ID, all[1].ID)

	// Absent id leaves the queue unchanged
	require.NoError(t, q.Remove(ctx, "no-such-id"))
	require.Equal(t, 2, q.Size(ctx))
}

func TestClearDeletesStorageKey(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	q := New(store, nil)

	q.Enqueue(ctx, ActionCreateDisc, nil)
	q.Enqueue(ctx, ActionUpdateDisc, nil)

	require.NoError(t, q.Clear(ctx))
	require.Equal(t, 0, q.Size(ctx))
	require.Empty(t, q.GetAll(ctx))

	// The key itself is gone, not rewritten as an empty list
	_, ok, err := store.Get(ctx, StorageKey)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIncrementAttempts(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	a := q.Enqueue(ctx, ActionReportLostDisc, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.IncrementAttempts(ctx, a.ID))
	}

	all := q.GetAll(ctx)
	require.Len(t, all, 1)
	require.Equal(t, 3, all[0].Attempts)

	// Absent id is a no-op
	require.NoError(t, q.IncrementAttempts(ctx, "no-such-id"))
	require.Equal(t, 3, q.GetAll(ctx)[0].Attempts)
}

func TestRaiseAttempts(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	a := q.Enqueue(ctx, ActionCreateDisc, nil)

	require.NoError(t, q.RaiseAttempts(ctx, a.ID, 5))
	require.Equal(t, 5, q.GetAll(ctx)[0].Attempts)

	// Attempts never decrease
	require.NoError(t, q.RaiseAttempts(ctx, a.ID, 3))
	require.Equal(t, 5, q.GetAll(ctx)[0].Attempts)

	require.NoError(t, q.RaiseAttempts(ctx, "no-such-id", 5))
}

func TestFailedActions(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	a := q.Enqueue(ctx, ActionCreateDisc, nil)
	b := q.Enqueue(ctx, ActionUpdateDisc, nil)
	c := q.Enqueue(ctx, ActionDeleteDisc, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.IncrementAttempts(ctx, a.ID))
	}
	require.NoError(t, q.IncrementAttempts(ctx, c.ID))

	failed := q.FailedActions(ctx, 3)
	require.Len(t, failed, 1)
	require.Equal(t, a.ID, failed[0].ID)

	require.Empty(t, q.FailedActions(ctx, 4))

	// Original order preserved among quarantined entries
	for i := 0; i < 2; i++ {
		require.NoError(t, q.IncrementAttempts(ctx, c.ID))
	}
	failed = q.FailedActions(ctx, 3)
	require.Len(t, failed, 2)
	require.Equal(t, a.ID, failed[0].ID)
	require.Equal(t, c.ID, failed[1].ID)
	for _, f := range failed {
		require.NotEqual(t, b.ID, f.ID)
	}
}

func TestEnqueueSurvivesStorageFaults(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	q := New(store, nil)

	store.GetHook = func(string) error { return fmt.Errorf("disk gone") }
	store.SetHook = func(string) error { return fmt.Errorf("disk gone") }

	action := q.Enqueue(ctx, ActionCreateDisc, map[string]any{"name": "destroyer"})
	require.NotEmpty(t, action.ID)
	require.Equal(t, ActionCreateDisc, action.Type)
	require.Equal(t, 0, action.Attempts)
}

func TestUnreadableStoreFallsBackToSnapshot(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	q := New(store, nil)

	a := q.Enqueue(ctx, ActionCreateDisc, nil)
	b := q.Enqueue(ctx, ActionUpdateDisc, nil)

	// Reads start failing: the queue serves the last decoded snapshot instead
	// of silently presenting an empty queue.
	store.GetHook = func(string) error { return fmt.Errorf("read failed") }

	all := q.GetAll(ctx)
	require.Len(t, all, 2)
	require.Equal(t, a.ID, all[0].ID)
	require.Equal(t, b.ID, all[1].ID)

	head := q.Peek(ctx)
	require.NotNil(t, head)
	require.Equal(t, a.ID, head.ID)
}

func TestCorruptPayloadReadsAsSnapshot(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	q := New(store, nil)

	require.NoError(t, store.Set(ctx, StorageKey, "{not json"))
	require.Equal(t, 0, q.Size(ctx))
	require.Empty(t, q.GetAll(ctx))
}

func TestWriteFailureSurfacesOnMutators(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	q := New(store, nil)

	a := q.Enqueue(ctx, ActionCreateDisc, nil)

	store.SetHook = func(string) error { return fmt.Errorf("write failed") }

	_, err := q.Dequeue(ctx)
	require.Error(t, err)
	require.Error(t, q.Remove(ctx, a.ID))
	require.Error(t, q.IncrementAttempts(ctx, a.ID))

	// Nothing was dropped: the persisted list still holds the action
	store.SetHook = nil
	require.Equal(t, 1, q.Size(ctx))
	require.Equal(t, 0, q.GetAll(ctx)[0].Attempts)
}

func TestQueueOnSQLiteStore(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	store, err := kvstore.NewSQLiteStore(db)
	require.NoError(t, err)
	q := New(store, nil)

	a := q.Enqueue(ctx, ActionCreateDisc, map[string]any{"mold": "roc"})
	b := q.Enqueue(ctx, ActionUpdateDisc, map[string]any{"weight": 180})
	require.NoError(t, q.IncrementAttempts(ctx, b.ID))

	// A second queue over the same store sees the same persisted state, the
	// way a process restart would.
	q2 := New(store, nil)
	all := q2.GetAll(ctx)
	require.Len(t, all, 2)
	require.Equal(t, a.ID, all[0].ID)
	require.Equal(t, b.ID, all[1].ID)
	require.Equal(t, 1, all[1].Attempts)
	require.Equal(t, "roc", all[0].Payload["mold"])
}
