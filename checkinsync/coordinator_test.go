// Copyright 2026 Joinmeister
// SPDX-License-Identifier: Apache-2.0

package checkinsync

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRemote scripts per-call outcomes and records the order of calls.
type fakeRemote struct {
	mu      sync.Mutex
	calls   []string // idempotency keys in call order
	outcome func(key string) error
	block   chan struct{} // when set, every call waits for a receive
	records map[string][]Attendee
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		outcome: func(string) error { return nil },
		records: make(map[string][]Attendee),
	}
}

func (f *fakeRemote) handle(ctx context.Context, key string) (*Attendee, error) {
	f.mu.Lock()
	f.calls = append(f.calls, key)
	block := f.block
	outcome := f.outcome
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, TransientError("call cancelled: %v", ctx.Err())
		}
	}
	if err := outcome(key); err != nil {
		return nil, err
	}
	return &Attendee{ID: "srv-" + key, EventID: "evt-1", IsCheckedIn: true}, nil
}

func (f *fakeRemote) CheckInByQR(ctx context.Context, key string, p QRCheckInPayload) (*Attendee, error) {
	return f.handle(ctx, key)
}

func (f *fakeRemote) CheckInByID(ctx context.Context, key string, p IDCheckInPayload) (*Attendee, error) {
	return f.handle(ctx, key)
}

func (f *fakeRemote) RegisterWalkIn(ctx context.Context, key string, p WalkInPayload) (*Attendee, error) {
	return f.handle(ctx, key)
}

func (f *fakeRemote) FetchCollection(ctx context.Context, collectionKey string) ([]Attendee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[collectionKey], nil
}

func (f *fakeRemote) callKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func newTestCoordinator(t *testing.T, remote RemoteMutator) (*SyncCoordinator, *ActionQueue, <-chan SyncResult) {
	t.Helper()
	queue, _ := newTestQueue(t)
	cfg := DefaultConfig("http://unused")
	cfg.RemoteTimeout = time.Second
	coord := NewSyncCoordinator(queue, remote, cfg, nil)
	results := make(chan SyncResult, 16)
	coord.Subscribe(func(r SyncResult) { results <- r })
	return coord, queue, results
}

func awaitResult(t *testing.T, results <-chan SyncResult) SyncResult {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sync result")
		return SyncResult{}
	}
}

func TestCoordinatorDrainsInFIFOOrder(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	coord, queue, results := newTestCoordinator(t, remote)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := queue.Enqueue(ctx, qrAction("evt-1", "code"))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	coord.RequestSync(ctx, TriggerManual)
	result := awaitResult(t, results)

	require.True(t, result.Success)
	require.Equal(t, 3, result.ProcessedActions)
	require.Equal(t, 0, result.FailedActions)
	require.Empty(t, result.Errors)
	require.Equal(t, 0, queue.Len())
	require.Equal(t, ids, remote.callKeys())
}

func TestCoordinatorPermanentFailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.outcome = func(string) error {
		return PermanentError("duplicate registration")
	}
	coord, queue, results := newTestCoordinator(t, remote)

	id, err := queue.Enqueue(ctx, QueuedAction{
		Kind:   ActionWalkInRegistration,
		WalkIn: &WalkInPayload{EventID: "evt-1", Email: "dup@example.com"},
	})
	require.NoError(t, err)

	coord.RequestSync(ctx, TriggerManual)
	result := awaitResult(t, results)

	require.False(t, result.Success)
	require.Equal(t, 0, result.ProcessedActions)
	require.Equal(t, 1, result.FailedActions)
	require.Len(t, result.Errors, 1)
	require.Equal(t, id, result.Errors[0].ActionID)
	require.Equal(t, ActionWalkInRegistration, result.Errors[0].Kind)
	require.Contains(t, result.Errors[0].Reason, "duplicate registration")
	require.Equal(t, 0, queue.Len())

	// The next cycle must not attempt it again.
	coord.RequestSync(ctx, TriggerPeriodic)
	result = awaitResult(t, results)
	require.True(t, result.Success)
	require.Len(t, remote.callKeys(), 1)
}

func TestCoordinatorTransientRetryBound(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.outcome = func(string) error {
		return TransientError("connection reset")
	}
	coord, queue, results := newTestCoordinator(t, remote)

	id, err := queue.Enqueue(ctx, qrAction("evt-1", "abc"))
	require.NoError(t, err)

	// Cycles 1..3: transient failure, stays queued with a bumped count.
	for attempt := 1; attempt <= 3; attempt++ {
		coord.RequestSync(ctx, TriggerPeriodic)
		result := awaitResult(t, results)
		require.True(t, result.Success)
		require.Equal(t, 0, result.FailedActions)
		require.Equal(t, 1, queue.Len())
		require.Equal(t, attempt, queue.PeekAll()[0].RetryCount)
	}

	// Cycle 4: bound exceeded, removed and reported.
	coord.RequestSync(ctx, TriggerPeriodic)
	result := awaitResult(t, results)
	require.False(t, result.Success)
	require.Equal(t, 1, result.FailedActions)
	require.Equal(t, id, result.Errors[0].ActionID)
	require.Equal(t, "retries exhausted", result.Errors[0].Reason)
	require.Equal(t, 0, queue.Len())

	// maxRetries+1 attempts in total, then nothing more.
	require.Len(t, remote.callKeys(), 4)
	coord.RequestSync(ctx, TriggerPeriodic)
	awaitResult(t, results)
	require.Len(t, remote.callKeys(), 4)
}

func TestCoordinatorFailuresAreIsolatedPerAction(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	coord, queue, results := newTestCoordinator(t, remote)

	badID, err := queue.Enqueue(ctx, qrAction("evt-1", "bad"))
	require.NoError(t, err)
	goodID, err := queue.Enqueue(ctx, qrAction("evt-1", "good"))
	require.NoError(t, err)

	remote.outcome = func(key string) error {
		if key == badID {
			return PermanentError("ticket voided")
		}
		return nil
	}

	coord.RequestSync(ctx, TriggerManual)
	result := awaitResult(t, results)

	require.Equal(t, 1, result.ProcessedActions)
	require.Equal(t, 1, result.FailedActions)
	require.Equal(t, badID, result.Errors[0].ActionID)
	require.Equal(t, 0, queue.Len())
	require.Equal(t, []string{badID, goodID}, remote.callKeys())
}

func TestCoordinatorSingleFlightWithRerun(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.block = make(chan struct{})
	coord, queue, results := newTestCoordinator(t, remote)

	_, err := queue.Enqueue(ctx, qrAction("evt-1", "abc"))
	require.NoError(t, err)

	coord.RequestSync(ctx, TriggerManual)
	// Wait until the drain is inside the remote call.
	require.Eventually(t, func() bool { return len(remote.callKeys()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// Concurrent triggers while a drain is in flight collapse into exactly
	// one re-run after the current cycle.
	coord.RequestSync(ctx, TriggerManual)
	coord.RequestSync(ctx, TriggerPeriodic)

	close(remote.block)
	first := awaitResult(t, results)
	require.Equal(t, 1, first.ProcessedActions)
	second := awaitResult(t, results)
	require.Equal(t, 0, second.ProcessedActions)

	select {
	case r := <-results:
		t.Fatalf("unexpected third sync result: %+v", r)
	case <-time.After(200 * time.Millisecond):
	}
}

// logBuffer is a goroutine-safe sink for the coordinator's slog output.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestCoordinatorRerunKeepsRequestingTrigger(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.block = make(chan struct{})

	queue, _ := newTestQueue(t)
	cfg := DefaultConfig("http://unused")
	cfg.RemoteTimeout = time.Second
	var logs logBuffer
	coord := NewSyncCoordinator(queue, remote, cfg, slog.New(slog.NewTextHandler(&logs, nil)))
	results := make(chan SyncResult, 16)
	coord.Subscribe(func(r SyncResult) { results <- r })

	_, err := queue.Enqueue(ctx, qrAction("evt-1", "abc"))
	require.NoError(t, err)

	coord.RequestSync(ctx, TriggerManual)
	require.Eventually(t, func() bool { return len(remote.callKeys()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// A periodic tick arriving mid-drain schedules the re-run; the collapsed
	// cycle's completion log must name that trigger, not the first one.
	coord.RequestSync(ctx, TriggerPeriodic)

	close(remote.block)
	awaitResult(t, results)
	awaitResult(t, results)

	var completed []string
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		if strings.Contains(line, "sync cycle complete") {
			completed = append(completed, line)
		}
	}
	require.Len(t, completed, 2)
	require.Contains(t, completed[0], "trigger=manual")
	require.Contains(t, completed[1], "trigger=periodic")
}

func TestCoordinatorDeliversResultToAllSubscribersOnce(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	coord, queue, results := newTestCoordinator(t, remote)

	extra := make(chan SyncResult, 16)
	coord.Subscribe(func(r SyncResult) { extra <- r })

	_, err := queue.Enqueue(ctx, qrAction("evt-1", "abc"))
	require.NoError(t, err)

	coord.RequestSync(ctx, TriggerManual)
	r1 := awaitResult(t, results)
	r2 := awaitResult(t, extra)
	require.Equal(t, r1, r2)
	require.Len(t, results, 0)
	require.Len(t, extra, 0)
}

func TestCoordinatorUnsubscribe(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	coord, queue, results := newTestCoordinator(t, remote)

	gone := make(chan SyncResult, 1)
	id := coord.Subscribe(func(r SyncResult) { gone <- r })
	coord.Unsubscribe(id)

	_, err := queue.Enqueue(ctx, qrAction("evt-1", "abc"))
	require.NoError(t, err)
	coord.RequestSync(ctx, TriggerManual)
	awaitResult(t, results)
	require.Len(t, gone, 0)
}
