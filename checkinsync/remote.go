// Copyright 2026 Joinmeister
// SPDX-License-Identifier: Apache-2.0

package checkinsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// RemoteMutator is the abstract remote authority for mutating actions, one
// method per action kind. The idempotency key is the client-generated action
// id, letting the server recognize and safely ignore duplicate submissions.
// Failures must be classified via RemoteError (transient vs permanent);
// unclassified errors are treated as transient.
type RemoteMutator interface {
	CheckInByQR(ctx context.Context, idempotencyKey string, p QRCheckInPayload) (*Attendee, error)
	CheckInByID(ctx context.Context, idempotencyKey string, p IDCheckInPayload) (*Attendee, error)
	RegisterWalkIn(ctx context.Context, idempotencyKey string, p WalkInPayload) (*Attendee, error)
}

// Refetcher returns the full authoritative record set for a collection,
// used for reconciling refreshes after a drain cycle.
type Refetcher interface {
	FetchCollection(ctx context.Context, collectionKey string) ([]Attendee, error)
}

// HTTPRemote implements RemoteMutator and Refetcher over the check-in REST API.
type HTTPRemote struct {
	BaseURL string
	Token   func(context.Context) (string, error) // returns a bearer token
	HTTP    *http.Client
	logger  *slog.Logger
}

// NewHTTPRemote builds the HTTP adapter. The timeout bounds every call; a
// timed-out call surfaces as a transient failure.
func NewHTTPRemote(baseURL string, token func(context.Context) (string, error), timeout time.Duration, logger *slog.Logger) *HTTPRemote {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPRemote{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (r *HTTPRemote) CheckInByQR(ctx context.Context, idempotencyKey string, p QRCheckInPayload) (*Attendee, error) {
	return r.postAction(ctx, "/checkin/qr", idempotencyKey, p)
}

func (r *HTTPRemote) CheckInByID(ctx context.Context, idempotencyKey string, p IDCheckInPayload) (*Attendee, error) {
	return r.postAction(ctx, "/checkin/id", idempotencyKey, p)
}

func (r *HTTPRemote) RegisterWalkIn(ctx context.Context, idempotencyKey string, p WalkInPayload) (*Attendee, error) {
	return r.postAction(ctx, "/registrations/walkin", idempotencyKey, p)
}

// FetchCollection downloads the authoritative record set for a collection key
// (collection keys are path-shaped, e.g. "attendees/<eventID>").
func (r *HTTPRemote) FetchCollection(ctx context.Context, collectionKey string) ([]Attendee, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.BaseURL+"/"+collectionKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if err := r.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := r.HTTP.Do(req)
	if err != nil {
		return nil, TransientError("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp)
	}
	var records []Attendee
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode collection response: %w", err)
	}
	return records, nil
}

func (r *HTTPRemote) postAction(ctx context.Context, path, idempotencyKey string, payload any) (*Attendee, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", idempotencyKey)
	if err := r.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := r.HTTP.Do(req)
	if err != nil {
		// Transport-level errors (refused, reset, timeout) are retryable.
		return nil, TransientError("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp)
	}
	var attendee Attendee
	if err := json.NewDecoder(resp.Body).Decode(&attendee); err != nil {
		return nil, fmt.Errorf("failed to decode attendee response: %w", err)
	}
	return &attendee, nil
}

func (r *HTTPRemote) authorize(ctx context.Context, req *http.Request) error {
	if r.Token == nil {
		return nil
	}
	token, err := r.Token(ctx)
	if err != nil {
		return TransientError("failed to get auth token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// classifyStatus maps an HTTP failure status to the retry taxonomy: 4xx is a
// business-rule rejection that retrying cannot fix, except 408 and 429 which
// are by nature retryable; everything else (5xx) is transient.
func classifyStatus(resp *http.Response) *RemoteError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	reason := fmt.Sprintf("server returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))

	class := FailureTransient
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		class = FailurePermanent
	}
	return &RemoteError{Class: class, StatusCode: resp.StatusCode, Reason: reason}
}
