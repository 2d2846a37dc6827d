// Copyright 2026 Joinmeister
// SPDX-License-Identifier: Apache-2.0

package checkinsync

import (
	"fmt"
	"time"
)

// ActionKind identifies the type of a queued mutating action.
type ActionKind string

const (
	ActionQRCheckIn          ActionKind = "qr_check_in"
	ActionIDCheckIn          ActionKind = "id_check_in"
	ActionWalkInRegistration ActionKind = "walk_in_registration"
)

// QRCheckInPayload checks an attendee in by their ticket QR code.
type QRCheckInPayload struct {
	EventID string `json:"event_id"`
	QRCode  string `json:"qr_code"`
}

// IDCheckInPayload checks an attendee in by their attendee id.
type IDCheckInPayload struct {
	EventID    string `json:"event_id"`
	AttendeeID string `json:"attendee_id"`
}

// WalkInPayload registers (and checks in) an attendee at the door.
type WalkInPayload struct {
	EventID    string `json:"event_id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	TicketType string `json:"ticket_type"`
	IsVIP      bool   `json:"is_vip"`
}

// QueuedAction is one pending mutating action in the durable outbox.
// Exactly one payload field is set, matching Kind. The id is generated
// locally at enqueue time and doubles as the idempotency key on retry.
type QueuedAction struct {
	ID         string     `json:"id"`
	Kind       ActionKind `json:"kind"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`

	QRCheckIn *QRCheckInPayload `json:"qr_check_in,omitempty"`
	IDCheckIn *IDCheckInPayload `json:"id_check_in,omitempty"`
	WalkIn    *WalkInPayload    `json:"walk_in,omitempty"`
}

// Validate checks that the action carries exactly the payload its kind requires.
func (a *QueuedAction) Validate() error {
	set := 0
	if a.QRCheckIn != nil {
		set++
	}
	if a.IDCheckIn != nil {
		set++
	}
	if a.WalkIn != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("action %s carries %d payloads, want exactly 1", a.ID, set)
	}
	switch a.Kind {
	case ActionQRCheckIn:
		if a.QRCheckIn == nil {
			return fmt.Errorf("action %s: kind %s without qr_check_in payload", a.ID, a.Kind)
		}
	case ActionIDCheckIn:
		if a.IDCheckIn == nil {
			return fmt.Errorf("action %s: kind %s without id_check_in payload", a.ID, a.Kind)
		}
	case ActionWalkInRegistration:
		if a.WalkIn == nil {
			return fmt.Errorf("action %s: kind %s without walk_in payload", a.ID, a.Kind)
		}
	default:
		return fmt.Errorf("action %s: unknown kind %q", a.ID, a.Kind)
	}
	return nil
}

// EventID returns the event the action belongs to.
func (a *QueuedAction) EventID() string {
	switch {
	case a.QRCheckIn != nil:
		return a.QRCheckIn.EventID
	case a.IDCheckIn != nil:
		return a.IDCheckIn.EventID
	case a.WalkIn != nil:
		return a.WalkIn.EventID
	}
	return ""
}

// Attendee is the domain record cached per event collection.
type Attendee struct {
	ID          string     `json:"id"`
	EventID     string     `json:"event_id"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Email       string     `json:"email"`
	TicketType  string     `json:"ticket_type"`
	QRCode      string     `json:"qr_code"`
	IsVIP       bool       `json:"is_vip"`
	IsCheckedIn bool       `json:"is_checked_in"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
}

// AttendeeCollection returns the cache collection key for an event's attendees.
func AttendeeCollection(eventID string) string {
	return "attendees/" + eventID
}

// ConnectivityState is the monitor's best-known network state.
type ConnectivityState int

const (
	StateUnknown ConnectivityState = iota
	StateOnline
	StateOffline
)

func (s ConnectivityState) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// SyncTrigger identifies what started a drain cycle.
type SyncTrigger string

const (
	TriggerConnectivityRestored SyncTrigger = "connectivity_restored"
	TriggerPeriodic             SyncTrigger = "periodic"
	TriggerManual               SyncTrigger = "manual"
)

// ActionError reports one action that permanently failed during a drain cycle.
type ActionError struct {
	ActionID string     `json:"action_id"`
	Kind     ActionKind `json:"kind"`
	Reason   string     `json:"reason"`
}

// SyncResult summarizes one drain cycle. It is immutable after creation and
// delivered to every subscriber exactly once per cycle.
type SyncResult struct {
	Success          bool          `json:"success"`
	ProcessedActions int           `json:"processed_actions"`
	FailedActions    int           `json:"failed_actions"`
	Errors           []ActionError `json:"errors,omitempty"`
}

// Config holds tuning knobs for the sync engine.
type Config struct {
	CacheTTL      time.Duration // staleness bound for cached collections
	DedupWindow   time.Duration // window during which a repeated QR scan is ignored
	MaxRetries    int           // per-action transient retry bound
	ProbeURL      string        // known-reachable endpoint for the active probe
	ProbeInterval time.Duration // how often the monitor probes
	ProbeTimeout  time.Duration // per-probe timeout
	SyncInterval  time.Duration // periodic drain trigger interval
	RemoteTimeout time.Duration // per remote-call timeout
}

// DefaultConfig returns the engine defaults. The probe URL must be provided
// explicitly by the caller (no business-specific default endpoint).
func DefaultConfig(probeURL string) *Config {
	return &Config{
		CacheTTL:      2 * time.Minute,
		DedupWindow:   2 * time.Second,
		MaxRetries:    3,
		ProbeURL:      probeURL,
		ProbeInterval: 15 * time.Second,
		ProbeTimeout:  5 * time.Second,
		SyncInterval:  30 * time.Second,
		RemoteTimeout: 15 * time.Second,
	}
}
