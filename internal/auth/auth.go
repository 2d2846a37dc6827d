// Copyright 2026 Joinmeister
// SPDX-License-Identifier: Apache-2.0

// Package auth provides the HS256 device tokens the check-in API expects
// and context plumbing for the authenticated staff/device identity.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DeviceAuth mints and validates device bearer tokens.
type DeviceAuth struct {
	secret []byte
}

// NewDeviceAuth creates an authenticator with the shared signing secret.
func NewDeviceAuth(secret string) *DeviceAuth {
	return &DeviceAuth{secret: []byte(secret)}
}

// DeviceClaims are the claims carried by a check-in device token.
type DeviceClaims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// GenerateToken mints a token for a staff user on a specific device.
func (a *DeviceAuth) GenerateToken(staffID, deviceID string, expiration time.Duration) (string, error) {
	claims := &DeviceClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "checkin-sync",
			Subject:   staffID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateToken validates a token and returns its claims.
func (a *DeviceAuth) ValidateToken(tokenString string) (*DeviceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DeviceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*DeviceClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.DeviceID == "" {
		return nil, fmt.Errorf("missing did (device ID) in token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("missing sub (staff ID) in token")
	}
	return claims, nil
}

// TokenSource returns a callback suitable for the HTTP remote adapter. A
// fresh token is minted per call, so long-running kiosks never hold an
// expired token.
func (a *DeviceAuth) TokenSource(staffID, deviceID string, expiration time.Duration) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		return a.GenerateToken(staffID, deviceID, expiration)
	}
}
