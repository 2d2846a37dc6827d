// Copyright 2026 Joinmeister
// SPDX-License-Identifier: Apache-2.0

package checkinsync

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Syncer is the coordinator surface the orchestrator depends on.
type Syncer interface {
	RequestSync(ctx context.Context, trigger SyncTrigger)
	Subscribe(fn func(SyncResult)) int
	Unsubscribe(id int)
}

// SyncCoordinator owns the queue-draining algorithm.
//
// At most one drain runs at a time. A trigger arriving while a drain is in
// flight marks a pending re-run; the coordinator starts exactly one new
// cycle after publishing the current result, so concurrent triggers can
// never interleave two drains. Actions are processed sequentially in FIFO
// order because a later action may depend on an earlier one having applied.
type SyncCoordinator struct {
	queue   *ActionQueue
	remote  RemoteMutator
	logger  *slog.Logger
	timeout time.Duration

	interval time.Duration

	mu           sync.Mutex
	running      bool
	rerun        bool
	rerunTrigger SyncTrigger
	subs         map[int]func(SyncResult)
	nextSub      int
}

// NewSyncCoordinator wires the coordinator to its queue and remote authority.
func NewSyncCoordinator(queue *ActionQueue, remote RemoteMutator, cfg *Config, logger *slog.Logger) *SyncCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncCoordinator{
		queue:    queue,
		remote:   remote,
		logger:   logger,
		timeout:  cfg.RemoteTimeout,
		interval: cfg.SyncInterval,
		subs:     make(map[int]func(SyncResult)),
	}
}

// Subscribe registers a listener for drain results. Every listener receives
// each SyncResult exactly once.
func (c *SyncCoordinator) Subscribe(fn func(SyncResult)) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	c.subs[c.nextSub] = fn
	return c.nextSub
}

// Unsubscribe removes a listener; no-op for unknown ids.
func (c *SyncCoordinator) Unsubscribe(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
}

// Start runs the periodic drain trigger until ctx is cancelled.
func (c *SyncCoordinator) Start(ctx context.Context) error {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RequestSync(ctx, TriggerPeriodic)
			}
		}
	}()
	return nil
}

// RequestSync starts a drain cycle unless one is already in flight, in which
// case the trigger is recorded as a pending re-run. The result is delivered
// through the subscription, not a return value.
func (c *SyncCoordinator) RequestSync(ctx context.Context, trigger SyncTrigger) {
	c.mu.Lock()
	if c.running {
		c.rerun = true
		c.rerunTrigger = trigger
		c.mu.Unlock()
		c.logger.Debug("sync already in progress, re-run scheduled", "trigger", trigger)
		return
	}
	c.running = true
	c.mu.Unlock()

	go c.drainLoop(ctx, trigger)
}

func (c *SyncCoordinator) drainLoop(ctx context.Context, trigger SyncTrigger) {
	for {
		result := c.drainOnce(ctx)
		c.logger.Info("sync cycle complete",
			"trigger", trigger,
			"processed", result.ProcessedActions,
			"failed", result.FailedActions,
			"success", result.Success)
		c.publish(result)

		c.mu.Lock()
		if c.rerun {
			c.rerun = false
			// The re-run cycle is attributed to whichever trigger asked for it.
			trigger = c.rerunTrigger
			c.mu.Unlock()
			continue
		}
		c.running = false
		c.mu.Unlock()
		return
	}
}

// drainOnce processes a snapshot of the queue sequentially. Each action's
// outcome is isolated: one failure never aborts the remaining actions.
func (c *SyncCoordinator) drainOnce(ctx context.Context) SyncResult {
	var result SyncResult
	for _, action := range c.queue.PeekAll() {
		c.processAction(ctx, action, &result)
	}
	result.Success = result.FailedActions == 0
	return result
}

func (c *SyncCoordinator) processAction(ctx context.Context, action QueuedAction, result *SyncResult) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	_, err := c.apply(callCtx, action)
	cancel()

	switch {
	case err == nil:
		// Remove only after the remote call is confirmed successful; a crash
		// before this point leaves the action queued and the id makes the
		// eventual retry idempotent.
		if rmErr := c.queue.Remove(ctx, action.ID); rmErr != nil {
			c.logger.Error("failed to remove completed action", "action_id", action.ID, "error", rmErr)
		}
		result.ProcessedActions++

	case IsPermanent(err):
		c.logger.Warn("action rejected permanently", "action_id", action.ID, "kind", action.Kind, "error", err)
		if rmErr := c.queue.Remove(ctx, action.ID); rmErr != nil {
			c.logger.Error("failed to remove rejected action", "action_id", action.ID, "error", rmErr)
		}
		result.FailedActions++
		result.Errors = append(result.Errors, ActionError{
			ActionID: action.ID,
			Kind:     action.Kind,
			Reason:   FailureReason(err),
		})

	default: // transient
		newCount, incErr := c.queue.IncrementRetry(ctx, action.ID)
		if incErr != nil {
			c.logger.Error("failed to record retry", "action_id", action.ID, "error", incErr)
			return
		}
		if newCount > action.MaxRetries {
			c.logger.Warn("action exhausted retries", "action_id", action.ID, "kind", action.Kind, "attempts", newCount)
			if rmErr := c.queue.Remove(ctx, action.ID); rmErr != nil {
				c.logger.Error("failed to remove exhausted action", "action_id", action.ID, "error", rmErr)
			}
			result.FailedActions++
			result.Errors = append(result.Errors, ActionError{
				ActionID: action.ID,
				Kind:     action.Kind,
				Reason:   "retries exhausted",
			})
			return
		}
		c.logger.Debug("action stays queued after transient failure",
			"action_id", action.ID, "retry_count", newCount, "error", err)
	}
}

func (c *SyncCoordinator) apply(ctx context.Context, action QueuedAction) (*Attendee, error) {
	switch action.Kind {
	case ActionQRCheckIn:
		if action.QRCheckIn == nil {
			return nil, PermanentError("action %s has no qr_check_in payload", action.ID)
		}
		return c.remote.CheckInByQR(ctx, action.ID, *action.QRCheckIn)
	case ActionIDCheckIn:
		if action.IDCheckIn == nil {
			return nil, PermanentError("action %s has no id_check_in payload", action.ID)
		}
		return c.remote.CheckInByID(ctx, action.ID, *action.IDCheckIn)
	case ActionWalkInRegistration:
		if action.WalkIn == nil {
			return nil, PermanentError("action %s has no walk_in payload", action.ID)
		}
		return c.remote.RegisterWalkIn(ctx, action.ID, *action.WalkIn)
	default:
		return nil, PermanentError("unknown action kind %q", action.Kind)
	}
}

func (c *SyncCoordinator) publish(result SyncResult) {
	c.mu.Lock()
	listeners := make([]func(SyncResult), 0, len(c.subs))
	for _, fn := range c.subs {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(result)
	}
}
