// Copyright 2026 Joinmeister
// SPDX-License-Identifier: Apache-2.0

package checkinsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const pendingActionsKey = "checkin/pending_actions"

// ActionQueue is the durable FIFO outbox of pending mutating actions.
//
// The full ordered list is held in memory and mirrored to the DurableStore
// on every mutation, so a restart simply re-reads the same list: same ids,
// same order, same retry counts. Entries that fail to deserialize on load
// are dropped individually and logged; the rest of the queue is unaffected.
type ActionQueue struct {
	store      DurableStore
	logger     *slog.Logger
	maxRetries int

	mu      sync.Mutex
	actions []QueuedAction

	now   func() time.Time
	newID func() string
}

// NewActionQueue loads the persisted queue from the store.
func NewActionQueue(ctx context.Context, store DurableStore, maxRetries int, logger *slog.Logger) (*ActionQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	q := &ActionQueue{
		store:      store,
		logger:     logger,
		maxRetries: maxRetries,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	if err := q.load(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *ActionQueue) load(ctx context.Context) error {
	raw, found, err := q.store.GetList(ctx, pendingActionsKey)
	if err != nil {
		return fmt.Errorf("failed to load pending actions: %w", err)
	}
	if !found {
		return nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		// The whole list is unreadable; start empty rather than wedge the app.
		q.logger.Error("pending action list is corrupt, resetting queue", "error", err)
		return q.store.SetList(ctx, pendingActionsKey, []byte(`[]`))
	}

	dropped := 0
	for _, entry := range entries {
		var a QueuedAction
		if err := json.Unmarshal(entry, &a); err != nil {
			q.logger.Error("dropping corrupt queue entry", "error", err)
			dropped++
			continue
		}
		if a.ID == "" {
			q.logger.Error("dropping queue entry without id")
			dropped++
			continue
		}
		if err := a.Validate(); err != nil {
			q.logger.Error("dropping malformed queue entry", "action_id", a.ID, "error", err)
			dropped++
			continue
		}
		q.actions = append(q.actions, a)
	}
	if dropped > 0 {
		if err := q.persist(ctx); err != nil {
			return err
		}
	}
	return nil
}

// persist writes the current list durably. Callers must hold q.mu (or be the
// loading constructor before the queue is shared).
func (q *ActionQueue) persist(ctx context.Context) error {
	data, err := json.Marshal(q.actions)
	if err != nil {
		return fmt.Errorf("failed to marshal pending actions: %w", err)
	}
	if err := q.store.SetList(ctx, pendingActionsKey, data); err != nil {
		return fmt.Errorf("failed to persist pending actions: %w", err)
	}
	return nil
}

// Enqueue assigns a fresh id and timestamp, appends the action to the tail
// and persists durably before returning. The returned id is the action's
// idempotency key for the remote authority.
func (q *ActionQueue) Enqueue(ctx context.Context, action QueuedAction) (string, error) {
	action.ID = q.newID()
	action.EnqueuedAt = q.now().UTC()
	action.RetryCount = 0
	if action.MaxRetries <= 0 {
		action.MaxRetries = q.maxRetries
	}
	if err := action.Validate(); err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.actions = append(q.actions, action)
	if err := q.persist(ctx); err != nil {
		q.actions = q.actions[:len(q.actions)-1]
		return "", err
	}
	q.logger.Debug("action enqueued", "action_id", action.ID, "kind", action.Kind, "pending", len(q.actions))
	return action.ID, nil
}

// PeekAll returns a copy of all pending actions in FIFO order.
func (q *ActionQueue) PeekAll() []QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedAction, len(q.actions))
	copy(out, q.actions)
	return out
}

// Remove deletes the action with the given id; no-op if absent.
func (q *ActionQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexOf(id)
	if idx < 0 {
		return nil
	}
	removed := q.actions[idx]
	q.actions = append(q.actions[:idx], q.actions[idx+1:]...)
	if err := q.persist(ctx); err != nil {
		// Restore the in-memory entry so state stays consistent with disk.
		q.actions = append(q.actions[:idx], append([]QueuedAction{removed}, q.actions[idx:]...)...)
		return err
	}
	return nil
}

// IncrementRetry bumps the retry count for id and persists it, returning the
// new count. The queue never auto-drops on exceeding the bound; that policy
// belongs to the drain cycle. Returns (0, nil) if the id is absent.
func (q *ActionQueue) IncrementRetry(ctx context.Context, id string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexOf(id)
	if idx < 0 {
		return 0, nil
	}
	q.actions[idx].RetryCount++
	if err := q.persist(ctx); err != nil {
		q.actions[idx].RetryCount--
		return 0, err
	}
	return q.actions[idx].RetryCount, nil
}

// Len returns the number of pending actions.
func (q *ActionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

func (q *ActionQueue) indexOf(id string) int {
	for i := range q.actions {
		if q.actions[i].ID == id {
			return i
		}
	}
	return -1
}
