// Copyright 2026 Joinmeister
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
)

// Request-context carriers for the identity established by ValidateToken.
// API handlers attach the verified device and staff ids after authorization
// so downstream code can attribute writes without re-parsing the token.

type contextKey string

const (
	deviceIDKey contextKey = "device_id"
	staffIDKey  contextKey = "staff_id"
)

// SetDeviceID returns a context carrying the verified device id.
func SetDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

// GetDeviceID reports the device id attached by SetDeviceID, if any.
func GetDeviceID(ctx context.Context) (string, bool) {
	deviceID, ok := ctx.Value(deviceIDKey).(string)
	return deviceID, ok
}

// SetStaffID returns a context carrying the verified staff id.
func SetStaffID(ctx context.Context, staffID string) context.Context {
	return context.WithValue(ctx, staffIDKey, staffID)
}

// GetStaffID reports the staff id attached by SetStaffID, if any.
func GetStaffID(ctx context.Context) (string, bool) {
	staffID, ok := ctx.Value(staffIDKey).(string)
	return staffID, ok
}
