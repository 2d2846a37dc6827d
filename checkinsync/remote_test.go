// Copyright 2026 Joinmeister
// SPDX-License-Identifier: Apache-2.0

package checkinsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPRemoteCheckInByQR(t *testing.T) {
	var gotKey, gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		var p QRCheckInPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		require.Equal(t, "evt-1", p.EventID)
		require.Equal(t, "ABC123", p.QRCode)

		json.NewEncoder(w).Encode(Attendee{ID: "a1", EventID: p.EventID, QRCode: p.QRCode, IsCheckedIn: true})
	}))
	defer server.Close()

	remote := NewHTTPRemote(server.URL, func(context.Context) (string, error) { return "tok-123", nil }, time.Second, nil)
	attendee, err := remote.CheckInByQR(context.Background(), "idem-1", QRCheckInPayload{EventID: "evt-1", QRCode: "ABC123"})
	require.NoError(t, err)
	require.True(t, attendee.IsCheckedIn)
	require.Equal(t, "idem-1", gotKey)
	require.Equal(t, "Bearer tok-123", gotAuth)
	require.Equal(t, "/checkin/qr", gotPath)
}

func TestHTTPRemoteClassifiesFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"validation rejection", http.StatusUnprocessableEntity, true},
		{"duplicate conflict", http.StatusConflict, true},
		{"not found", http.StatusNotFound, true},
		{"server error", http.StatusInternalServerError, false},
		{"unavailable", http.StatusServiceUnavailable, false},
		{"request timeout", http.StatusRequestTimeout, false},
		{"rate limited", http.StatusTooManyRequests, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tc.name, tc.status)
			}))
			defer server.Close()

			remote := NewHTTPRemote(server.URL, nil, time.Second, nil)
			_, err := remote.CheckInByID(context.Background(), "idem-1", IDCheckInPayload{EventID: "evt-1", AttendeeID: "a1"})
			require.Error(t, err)
			require.Equal(t, tc.permanent, IsPermanent(err))

			var re *RemoteError
			require.True(t, errors.As(err, &re))
			require.Equal(t, tc.status, re.StatusCode)
			require.Contains(t, re.Reason, tc.name)
		})
	}
}

func TestHTTPRemoteNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listening anymore

	remote := NewHTTPRemote(server.URL, nil, time.Second, nil)
	_, err := remote.RegisterWalkIn(context.Background(), "idem-1", WalkInPayload{EventID: "evt-1"})
	require.Error(t, err)
	require.False(t, IsPermanent(err))
}

func TestHTTPRemoteTimeoutIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	remote := NewHTTPRemote(server.URL, nil, 50*time.Millisecond, nil)
	_, err := remote.CheckInByID(context.Background(), "idem-1", IDCheckInPayload{EventID: "evt-1", AttendeeID: "a1"})
	require.Error(t, err)
	require.False(t, IsPermanent(err))
}

func TestHTTPRemoteFetchCollection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/attendees/evt-1", r.URL.Path)
		json.NewEncoder(w).Encode([]Attendee{{ID: "a1"}, {ID: "a2"}})
	}))
	defer server.Close()

	remote := NewHTTPRemote(server.URL, nil, time.Second, nil)
	records, err := remote.FetchCollection(context.Background(), AttendeeCollection("evt-1"))
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "a1", records[0].ID)
}
