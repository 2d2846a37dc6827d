// Copyright 2026 Joinmeister
// SPDX-License-Identifier: Apache-2.0

// Package checkinsync is the offline-first synchronization engine of the
// Joinmeister check-in app.
//
// Mutating check-in actions flow through the Orchestrator: while online they
// hit the remote authority directly, while offline they are applied
// optimistically to the local cache and queued in a durable outbox. The
// SyncCoordinator drains the outbox exactly once per action when
// connectivity returns, and the orchestrator reconciles the cache with an
// authoritative refetch afterwards. All components persist through the
// DurableStore contract so a process restart resumes from the same state.
package checkinsync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// BadgePrinter prints a badge after a successful check-in. Printing is a
// fire-and-forget side effect outside the sync contract; failures are logged
// and never affect the check-in outcome.
type BadgePrinter interface {
	PrintBadge(ctx context.Context, attendee Attendee) error
}

// Orchestrator is the single entry point for mutating check-in operations.
//
// Queuing is a successful outcome from the caller's perspective: the only
// user-visible error from an operation is a permanent rejection of an online
// direct call (e.g. validation failure). Callers observe pending work via
// QueuedActionsCount and PendingActions.
type Orchestrator struct {
	monitor Connectivity
	queue   *ActionQueue
	cache   *CacheStore
	syncer  Syncer
	remote  RemoteMutator
	refetch Refetcher
	printer BadgePrinter
	logger  *slog.Logger

	remoteTimeout time.Duration
	dedupWindow   time.Duration

	queuedCount atomic.Int64

	mu               sync.Mutex
	recentScans      map[string]time.Time
	activeCollection string

	baseCtx   context.Context
	connSubID int
	syncSubID int

	now func() time.Time
}

// NewOrchestrator wires the orchestrator to its collaborators. The printer
// may be nil when no label printer is connected.
func NewOrchestrator(monitor Connectivity, queue *ActionQueue, cache *CacheStore, syncer Syncer,
	remote RemoteMutator, refetch Refetcher, printer BadgePrinter, cfg *Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		monitor:       monitor,
		queue:         queue,
		cache:         cache,
		syncer:        syncer,
		remote:        remote,
		refetch:       refetch,
		printer:       printer,
		logger:        logger,
		remoteTimeout: cfg.RemoteTimeout,
		dedupWindow:   cfg.DedupWindow,
		recentScans:   make(map[string]time.Time),
		baseCtx:       context.Background(),
		now:           time.Now,
	}
	o.queuedCount.Store(int64(queue.Len()))
	return o
}

// Start wires connectivity and sync events and begins the periodic counter
// re-sync. Call Stop on teardown.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.baseCtx = ctx
	o.connSubID = o.monitor.Subscribe(func(state ConnectivityState) {
		if state == StateOnline {
			o.syncer.RequestSync(ctx, TriggerConnectivityRestored)
		}
	})
	o.syncSubID = o.syncer.Subscribe(o.handleSyncResult)

	// Defensive re-sync of the badge counter against a possible desync.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.refreshQueuedCount()
			}
		}
	}()
	return nil
}

// Stop detaches the orchestrator from its event sources.
func (o *Orchestrator) Stop() {
	o.monitor.Unsubscribe(o.connSubID)
	o.syncer.Unsubscribe(o.syncSubID)
}

// CheckInByQR checks an attendee in by scanned QR code. A repeated scan of
// the same code inside the dedup window is ignored and returns the current
// cached record.
//
// A nil attendee with a nil error is a successful outcome: the action was
// queued (or the scan deduplicated) but the attendee is not in the local
// cache, so there is no record to show yet. Callers must nil-check before
// reading the result.
func (o *Orchestrator) CheckInByQR(ctx context.Context, eventID, qrCode string) (*Attendee, error) {
	collection := AttendeeCollection(eventID)
	o.setActiveCollection(collection)

	if o.isDuplicateScan(qrCode) {
		o.logger.Debug("duplicate scan ignored", "qr_code", qrCode)
		return o.findByQRCode(ctx, collection, qrCode), nil
	}

	payload := QRCheckInPayload{EventID: eventID, QRCode: qrCode}
	if o.monitor.IsOnline() {
		attendee, err := o.direct(ctx, func(callCtx context.Context, key string) (*Attendee, error) {
			return o.remote.CheckInByQR(callCtx, key, payload)
		}, collection)
		if err == nil || IsPermanent(err) {
			return attendee, err
		}
		// Connectivity-class failure mid-call: fall through to the offline path.
		o.logger.Debug("direct check-in failed, queuing instead", "qr_code", qrCode, "error", err)
	}

	optimistic := o.optimisticCheckIn(ctx, collection, func(a *Attendee) bool { return a.QRCode == qrCode })
	if err := o.enqueue(ctx, QueuedAction{Kind: ActionQRCheckIn, QRCheckIn: &payload}); err != nil {
		return nil, err
	}
	return optimistic, nil
}

// CheckInByID checks an attendee in by their attendee id. Like CheckInByQR,
// a nil attendee with a nil error means the action was queued without a
// cached record to return.
func (o *Orchestrator) CheckInByID(ctx context.Context, eventID, attendeeID string) (*Attendee, error) {
	collection := AttendeeCollection(eventID)
	o.setActiveCollection(collection)

	payload := IDCheckInPayload{EventID: eventID, AttendeeID: attendeeID}
	if o.monitor.IsOnline() {
		attendee, err := o.direct(ctx, func(callCtx context.Context, key string) (*Attendee, error) {
			return o.remote.CheckInByID(callCtx, key, payload)
		}, collection)
		if err == nil || IsPermanent(err) {
			return attendee, err
		}
		o.logger.Debug("direct check-in failed, queuing instead", "attendee_id", attendeeID, "error", err)
	}

	optimistic := o.optimisticCheckIn(ctx, collection, func(a *Attendee) bool { return a.ID == attendeeID })
	if err := o.enqueue(ctx, QueuedAction{Kind: ActionIDCheckIn, IDCheckIn: &payload}); err != nil {
		return nil, err
	}
	return optimistic, nil
}

// RegisterWalkIn registers (and checks in) a walk-in attendee at the door.
func (o *Orchestrator) RegisterWalkIn(ctx context.Context, payload WalkInPayload) (*Attendee, error) {
	collection := AttendeeCollection(payload.EventID)
	o.setActiveCollection(collection)

	if o.monitor.IsOnline() {
		attendee, err := o.direct(ctx, func(callCtx context.Context, key string) (*Attendee, error) {
			return o.remote.RegisterWalkIn(callCtx, key, payload)
		}, collection)
		if err == nil || IsPermanent(err) {
			return attendee, err
		}
		o.logger.Debug("direct walk-in registration failed, queuing instead", "email", payload.Email, "error", err)
	}

	// Optimistic record with a locally generated id; the reconciling refetch
	// replaces it with the server-assigned record after the drain.
	now := o.now().UTC()
	optimistic := Attendee{
		ID:          uuid.NewString(),
		EventID:     payload.EventID,
		FirstName:   payload.FirstName,
		LastName:    payload.LastName,
		Email:       payload.Email,
		TicketType:  payload.TicketType,
		IsVIP:       payload.IsVIP,
		IsCheckedIn: true,
		CheckedInAt: &now,
	}
	if err := o.cache.UpsertRecord(ctx, collection, optimistic); err != nil {
		o.logger.Error("failed to apply optimistic walk-in", "email", payload.Email, "error", err)
	}
	if err := o.enqueue(ctx, QueuedAction{Kind: ActionWalkInRegistration, WalkIn: &payload}); err != nil {
		return nil, err
	}
	return &optimistic, nil
}

// RefreshCollection fetches the authoritative record set and replaces the
// cached snapshot, for explicit pull-to-refresh and initial loads.
func (o *Orchestrator) RefreshCollection(ctx context.Context, collectionKey string) error {
	records, err := o.refetch.FetchCollection(ctx, collectionKey)
	if err != nil {
		return err
	}
	return o.cache.Put(ctx, collectionKey, records)
}

// CachedRecords returns the cached records for a collection, or nil when the
// collection has never been fetched.
func (o *Orchestrator) CachedRecords(ctx context.Context, collectionKey string) ([]Attendee, error) {
	entry, err := o.cache.Get(ctx, collectionKey)
	if err != nil || entry == nil {
		return nil, err
	}
	return entry.Records, nil
}

// QueuedActionsCount mirrors ActionQueue.Len for UI badges.
func (o *Orchestrator) QueuedActionsCount() int {
	return int(o.queuedCount.Load())
}

// PendingActions lists the queued actions for the queue-management view.
func (o *Orchestrator) PendingActions() []QueuedAction {
	return o.queue.PeekAll()
}

// OnConnectivityChanged registers a UI listener for connectivity transitions.
func (o *Orchestrator) OnConnectivityChanged(fn func(ConnectivityState)) int {
	return o.monitor.Subscribe(fn)
}

// OnSyncCompleted registers a UI listener for drain results.
func (o *Orchestrator) OnSyncCompleted(fn func(SyncResult)) int {
	return o.syncer.Subscribe(fn)
}

// direct performs an online remote call bounded by the configured timeout,
// upserting the authoritative response and triggering badge printing.
func (o *Orchestrator) direct(ctx context.Context,
	call func(context.Context, string) (*Attendee, error), collection string) (*Attendee, error) {

	callCtx, cancel := context.WithTimeout(ctx, o.remoteTimeout)
	defer cancel()
	attendee, err := call(callCtx, uuid.NewString())
	if err != nil {
		return nil, err
	}
	if upErr := o.cache.UpsertRecord(ctx, collection, *attendee); upErr != nil {
		o.logger.Error("failed to cache authoritative record", "attendee_id", attendee.ID, "error", upErr)
	}
	o.printBadge(*attendee)
	return attendee, nil
}

// optimisticCheckIn marks the first matching cached attendee as checked in
// so the UI updates immediately. A miss (attendee not cached) is fine: the
// queued action still carries everything the server needs.
func (o *Orchestrator) optimisticCheckIn(ctx context.Context, collection string, match func(*Attendee) bool) *Attendee {
	entry, err := o.cache.Get(ctx, collection)
	if err != nil {
		o.logger.Error("failed to read cache for optimistic update", "collection", collection, "error", err)
		return nil
	}
	if entry == nil {
		return nil
	}
	for i := range entry.Records {
		if !match(&entry.Records[i]) {
			continue
		}
		record := entry.Records[i]
		now := o.now().UTC()
		record.IsCheckedIn = true
		record.CheckedInAt = &now
		if err := o.cache.UpsertRecord(ctx, collection, record); err != nil {
			o.logger.Error("failed to apply optimistic check-in", "attendee_id", record.ID, "error", err)
			return nil
		}
		o.printBadge(record)
		return &record
	}
	return nil
}

func (o *Orchestrator) enqueue(ctx context.Context, action QueuedAction) error {
	id, err := o.queue.Enqueue(ctx, action)
	if err != nil {
		return err
	}
	o.refreshQueuedCount()
	o.logger.Info("action queued for sync", "action_id", id, "kind", action.Kind)
	return nil
}

// handleSyncResult refreshes the counter and, when online, performs the
// silent reconciling refetch for the active collection. Reconciliation runs
// regardless of the cycle's failure count; its own errors are logged only
// and never retrigger a sync cycle.
func (o *Orchestrator) handleSyncResult(result SyncResult) {
	o.refreshQueuedCount()
	if !o.monitor.IsOnline() {
		return
	}
	o.mu.Lock()
	collection := o.activeCollection
	o.mu.Unlock()
	if collection == "" {
		return
	}

	ctx, cancel := context.WithTimeout(o.baseCtx, o.remoteTimeout)
	defer cancel()
	records, err := o.refetch.FetchCollection(ctx, collection)
	if err != nil {
		o.logger.Warn("reconciling refresh failed", "collection", collection, "error", err)
		return
	}
	if err := o.cache.Put(ctx, collection, records); err != nil {
		o.logger.Error("failed to store reconciled snapshot", "collection", collection, "error", err)
	}
}

func (o *Orchestrator) refreshQueuedCount() {
	o.queuedCount.Store(int64(o.queue.Len()))
}

func (o *Orchestrator) setActiveCollection(collection string) {
	o.mu.Lock()
	o.activeCollection = collection
	o.mu.Unlock()
}

// isDuplicateScan records the scan and reports whether the same code was
// accepted inside the dedup window. Stale entries are pruned as a side effect.
func (o *Orchestrator) isDuplicateScan(qrCode string) bool {
	now := o.now()
	o.mu.Lock()
	defer o.mu.Unlock()
	for code, at := range o.recentScans {
		if now.Sub(at) > o.dedupWindow {
			delete(o.recentScans, code)
		}
	}
	if at, ok := o.recentScans[qrCode]; ok && now.Sub(at) <= o.dedupWindow {
		return true
	}
	o.recentScans[qrCode] = now
	return false
}

func (o *Orchestrator) findByQRCode(ctx context.Context, collection, qrCode string) *Attendee {
	entry, err := o.cache.Get(ctx, collection)
	if err != nil || entry == nil {
		return nil
	}
	for i := range entry.Records {
		if entry.Records[i].QRCode == qrCode {
			record := entry.Records[i]
			return &record
		}
	}
	return nil
}

func (o *Orchestrator) printBadge(attendee Attendee) {
	if o.printer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(o.baseCtx, 10*time.Second)
		defer cancel()
		if err := o.printer.PrintBadge(ctx, attendee); err != nil {
			o.logger.Warn("badge print failed", "attendee_id", attendee.ID, "error", err)
		}
	}()
}
