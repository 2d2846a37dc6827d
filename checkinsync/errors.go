// Copyright 2026 Joinmeister
// SPDX-License-Identifier: Apache-2.0

package checkinsync

import (
	"errors"
	"fmt"
)

// FailureClass splits remote failures into the two classes the drain
// algorithm cares about: transient failures stay queued and are retried up
// to the per-action bound, permanent failures are removed immediately
// because retrying cannot succeed.
type FailureClass int

const (
	FailureTransient FailureClass = iota
	FailurePermanent
)

func (c FailureClass) String() string {
	if c == FailurePermanent {
		return "permanent"
	}
	return "transient"
}

// RemoteError is a classified failure from the remote authority.
type RemoteError struct {
	Class      FailureClass
	StatusCode int // 0 when no HTTP response was received
	Reason     string
}

func (e *RemoteError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote %s failure (status %d): %s", e.Class, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("remote %s failure: %s", e.Class, e.Reason)
}

// TransientError builds a transient-class remote error.
func TransientError(format string, args ...any) *RemoteError {
	return &RemoteError{Class: FailureTransient, Reason: fmt.Sprintf(format, args...)}
}

// PermanentError builds a permanent-class remote error.
func PermanentError(format string, args ...any) *RemoteError {
	return &RemoteError{Class: FailurePermanent, Reason: fmt.Sprintf(format, args...)}
}

// IsPermanent reports whether err was explicitly classified as permanent.
// Everything else (timeouts, network drops, unclassified errors) is treated
// as transient: a timed-out call is never a permanent failure.
func IsPermanent(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Class == FailurePermanent
}

// FailureReason extracts a compact human-readable reason for SyncResult errors.
func FailureReason(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Reason
	}
	return err.Error()
}
