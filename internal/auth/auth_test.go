// Copyright 2026 Joinmeister
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	a := NewDeviceAuth("test-secret")

	token, err := a.GenerateToken("staff-7", "device-1", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "staff-7", claims.Subject)
	require.Equal(t, "device-1", claims.DeviceID)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewDeviceAuth("secret-a").GenerateToken("staff-7", "device-1", time.Hour)
	require.NoError(t, err)

	_, err = NewDeviceAuth("secret-b").ValidateToken(token)
	require.Error(t, err)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	a := NewDeviceAuth("test-secret")
	token, err := a.GenerateToken("staff-7", "device-1", -time.Minute)
	require.NoError(t, err)

	_, err = a.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateRejectsMissingDeviceID(t *testing.T) {
	a := NewDeviceAuth("test-secret")
	token, err := a.GenerateToken("staff-7", "", time.Hour)
	require.NoError(t, err)

	_, err = a.ValidateToken(token)
	require.Error(t, err)
}

func TestTokenSource(t *testing.T) {
	a := NewDeviceAuth("test-secret")
	source := a.TokenSource("staff-7", "device-1", time.Hour)

	token, err := source(context.Background())
	require.NoError(t, err)
	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "device-1", claims.DeviceID)
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()

	_, ok := GetDeviceID(ctx)
	require.False(t, ok)

	ctx = SetDeviceID(ctx, "device-1")
	ctx = SetStaffID(ctx, "staff-7")

	deviceID, ok := GetDeviceID(ctx)
	require.True(t, ok)
	require.Equal(t, "device-1", deviceID)

	staffID, ok := GetStaffID(ctx)
	require.True(t, ok)
	require.Equal(t, "staff-7", staffID)
}
