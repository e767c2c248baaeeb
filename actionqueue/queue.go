// Package actionqueue implements the durable FIFO queue of pending remote
// mutations. The queue has no authoritative in-memory state: every operation
// is a full read-modify-write round trip against the persistent store, so the
// persisted list survives process restarts and is always the source of truth.
// Copyright 2025 Discrapp
// SPDX-License-Identifier: Apache-2.0

package actionqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/discrapp/mobile-sub003/kvstore"
)

// StorageKey is the well-known key the serialized queue lives under.
const StorageKey = "synckit/action-queue"

// ActionType identifies the remote mutation a queued action maps to.
type ActionType string

// Action types the host app enqueues.
const (
	ActionCreateDisc     ActionType = "CREATE_DISC"
	ActionUpdateDisc     ActionType = "UPDATE_DISC"
	ActionDeleteDisc     ActionType = "DELETE_DISC"
	ActionReportLostDisc ActionType = "REPORT_LOST_DISC"
)

// QueuedAction is a single pending mutation awaiting remote execution.
type QueuedAction struct {
	ID        string         `json:"id"`
	Type      ActionType     `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Attempts  int            `json:"attempts"`
}

// Queue is the durable, ordered list of pending actions.
//
// All mutations are serialized through an internal mutex because the store
// offers no cross-call transactional guarantees (single-writer discipline).
type Queue struct {
	store  kvstore.Store
	key    string
	logger *slog.Logger

	writeMu sync.Mutex

	// Last successfully decoded list. Read-only fallback when the store is
	// transiently unreadable, so a read fault does not present an empty queue.
	snapMu   sync.Mutex
	snapshot []QueuedAction
}

// New creates a queue persisting through store under StorageKey.
// A nil logger falls back to slog.Default().
func New(store kvstore.Store, logger *slog.Logger) *Queue {
	return NewWithKey(store, StorageKey, logger)
}

// NewWithKey creates a queue persisting under a custom storage key, for hosts
// that keep separate queues per signed-in user.
func NewWithKey(store kvstore.Store, key string, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{store: store, key: key, logger: logger}
}

// Enqueue appends a new action with a fresh id, CreatedAt = now and zero
// attempts, and returns the stored record. Enqueue never fails: if the store
// is unreadable or the write does not persist, the constructed record is
// still returned so the caller can proceed, and the fault is logged.
func (q *Queue) Enqueue(ctx context.Context, actionType ActionType, payload map[string]any) QueuedAction {
	action := QueuedAction{
		ID:        uuid.New().String(),
		Type:      actionType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
		Attempts:  0,
	}

	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	actions := q.load(ctx)
	actions = append(actions, action)
	if err := q.persist(ctx, actions); err != nil {
		q.logger.Error("failed to persist enqueued action",
			"id", action.ID, "type", action.Type, "error", err)
	}
	return action
}

// Dequeue removes and returns the head of the queue, or nil if the queue is
// empty. The removal is persisted before the head is returned.
func (q *Queue) Dequeue(ctx context.Context) (*QueuedAction, error) {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	actions := q.load(ctx)
	if len(actions) == 0 {
		return nil, nil
	}
	head := actions[0]
	if err := q.persist(ctx, actions[1:]); err != nil {
		return nil, fmt.Errorf("failed to persist dequeue: %w", err)
	}
	return &head, nil
}

// Peek returns the head of the queue without writing to storage, or nil if
// the queue is empty.
func (q *Queue) Peek(ctx context.Context) *QueuedAction {
	actions := q.load(ctx)
	if len(actions) == 0 {
		return nil
	}
	head := actions[0]
	return &head
}

// GetAll returns every queued action in insertion order.
func (q *Queue) GetAll(ctx context.Context) []QueuedAction {
	actions := q.load(ctx)
	out := make([]QueuedAction, len(actions))
	copy(out, actions)
	return out
}

// Remove deletes the action with the given id, preserving the relative order
// of the remainder. Removing an absent id is a no-op.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	actions := q.load(ctx)
	kept := actions[:0:0]
	found := false
	for _, a := range actions {
		if a.ID == id {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	if !found {
		return nil
	}
	if err := q.persist(ctx, kept); err != nil {
		return fmt.Errorf("failed to persist removal of %s: %w", id, err)
	}
	return nil
}

// Clear deletes the storage key outright rather than rewriting an empty list.
func (q *Queue) Clear(ctx context.Context) error {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	if err := q.store.RemoveAll(ctx, q.key); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	q.setSnapshot(nil)
	return nil
}

// Size reports the number of queued actions; 0 if the store is unreadable.
func (q *Queue) Size(ctx context.Context) int {
	return len(q.load(ctx))
}

// IncrementAttempts adds one to the attempt counter of the given action and
// persists it. Absent ids are a no-op.
func (q *Queue) IncrementAttempts(ctx context.Context, id string) error {
	return q.updateAttempts(ctx, id, func(attempts int) int { return attempts + 1 })
}

// RaiseAttempts lifts the attempt counter of the given action to at least
// min. Attempts never decrease; an action already at or above min is left
// untouched. The replay driver uses this to quarantine permanently failed
// actions in one step instead of burning the retry budget on them.
func (q *Queue) RaiseAttempts(ctx context.Context, id string, min int) error {
	return q.updateAttempts(ctx, id, func(attempts int) int {
		if attempts >= min {
			return attempts
		}
		return min
	})
}

func (q *Queue) updateAttempts(ctx context.Context, id string, update func(int) int) error {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	actions := q.load(ctx)
	changed := false
	for i := range actions {
		if actions[i].ID != id {
			continue
		}
		next := update(actions[i].Attempts)
		if next != actions[i].Attempts {
			actions[i].Attempts = next
			changed = true
		}
		break
	}
	if !changed {
		return nil
	}
	if err := q.persist(ctx, actions); err != nil {
		return fmt.Errorf("failed to persist attempts for %s: %w", id, err)
	}
	return nil
}

// FailedActions returns, in original order, every action whose attempt count
// has reached maxAttempts. These are quarantined: still stored for inspection
// or manual replay, but skipped by the replay driver.
func (q *Queue) FailedActions(ctx context.Context, maxAttempts int) []QueuedAction {
	var failed []QueuedAction
	for _, a := range q.load(ctx) {
		if a.Attempts >= maxAttempts {
			failed = append(failed, a)
		}
	}
	return failed
}

// load reads and decodes the persisted list. An unreadable or corrupt store
// is logged and degrades to the last successfully decoded snapshot (empty
// when none exists) so background sync stays responsive.
func (q *Queue) load(ctx context.Context) []QueuedAction {
	raw, ok, err := q.store.Get(ctx, q.key)
	if err != nil {
		q.logger.Error("failed to read action queue, using last-known snapshot",
			"key", q.key, "error", err)
		return q.getSnapshot()
	}
	if !ok || raw == "" {
		q.setSnapshot(nil)
		return nil
	}

	var actions []QueuedAction
	if err := json.Unmarshal([]byte(raw), &actions); err != nil {
		q.logger.Error("failed to decode action queue, using last-known snapshot",
			"key", q.key, "error", err)
		return q.getSnapshot()
	}
	q.setSnapshot(actions)
	return actions
}

// persist serializes and writes the list; the write is complete only when the
// store acknowledges it. The snapshot advances only on success.
func (q *Queue) persist(ctx context.Context, actions []QueuedAction) error {
	data, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("failed to encode action queue: %w", err)
	}
	if err := q.store.Set(ctx, q.key, string(data)); err != nil {
		return err
	}
	q.setSnapshot(actions)
	return nil
}

func (q *Queue) getSnapshot() []QueuedAction {
	q.snapMu.Lock()
	defer q.snapMu.Unlock()
	out := make([]QueuedAction, len(q.snapshot))
	copy(out, q.snapshot)
	return out
}

func (q *Queue) setSnapshot(actions []QueuedAction) {
	q.snapMu.Lock()
	defer q.snapMu.Unlock()
	q.snapshot = make([]QueuedAction, len(actions))
	copy(q.snapshot, actions)
}
