// Copyright 2026 Joinmeister
// SPDX-License-Identifier: Apache-2.0

package checkinsync

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Connectivity is the monitor surface the orchestrator depends on.
type Connectivity interface {
	IsOnline() bool
	Subscribe(fn func(ConnectivityState)) int
	Unsubscribe(id int)
}

// ConnectivityMonitor combines the OS-reported interface signal with an
// active reachability probe against a known endpoint.
//
// An OS "no network" signal flips the state to offline immediately, but the
// monitor only reports online after a probe succeeds, so a present-but-dead
// interface (captive portal, dead uplink) never produces a false recovery.
// Subscribers are notified on transitions only, never on re-confirmations.
type ConnectivityMonitor struct {
	probeURL      string
	probeInterval time.Duration
	http          *http.Client
	logger        *slog.Logger

	mu       sync.Mutex
	state    ConnectivityState
	osUp     bool
	subs     map[int]func(ConnectivityState)
	nextSub  int
	probeNow chan struct{}
}

// NewConnectivityMonitor builds a monitor from the engine config.
func NewConnectivityMonitor(cfg *Config, logger *slog.Logger) *ConnectivityMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectivityMonitor{
		probeURL:      cfg.ProbeURL,
		probeInterval: cfg.ProbeInterval,
		http:          &http.Client{Timeout: cfg.ProbeTimeout},
		logger:        logger,
		state:         StateUnknown,
		osUp:          true,
		subs:          make(map[int]func(ConnectivityState)),
		probeNow:      make(chan struct{}, 1),
	}
}

// IsOnline returns the current best-known state.
func (m *ConnectivityMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateOnline
}

// State returns the current connectivity state.
func (m *ConnectivityMonitor) State() ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a listener called on every state transition.
func (m *ConnectivityMonitor) Subscribe(fn func(ConnectivityState)) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSub++
	m.subs[m.nextSub] = fn
	return m.nextSub
}

// Unsubscribe removes a listener; no-op for unknown ids.
func (m *ConnectivityMonitor) Unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
}

// SetNetworkAvailable feeds the OS-level interface signal into the monitor.
// A down signal transitions to offline immediately; an up signal only kicks
// an immediate probe, since the interface can be present yet non-functional.
func (m *ConnectivityMonitor) SetNetworkAvailable(up bool) {
	m.mu.Lock()
	m.osUp = up
	m.mu.Unlock()

	if !up {
		m.transition(StateOffline)
		return
	}
	select {
	case m.probeNow <- struct{}{}:
	default:
	}
}

// Start runs the probe loop until ctx is cancelled.
func (m *ConnectivityMonitor) Start(ctx context.Context) error {
	go m.probeLoop(ctx)
	return nil
}

func (m *ConnectivityMonitor) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	m.runProbe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runProbe(ctx)
		case <-m.probeNow:
			m.runProbe(ctx)
		}
	}
}

func (m *ConnectivityMonitor) runProbe(ctx context.Context) {
	m.mu.Lock()
	osUp := m.osUp
	m.mu.Unlock()
	if !osUp {
		m.transition(StateOffline)
		return
	}
	if m.probe(ctx) {
		m.transition(StateOnline)
	} else {
		// Probe failure while already offline is a no-op inside transition.
		m.transition(StateOffline)
	}
}

// probe issues one bounded reachability request. A timeout or transport
// error counts as failure, never as an exception to the caller.
func (m *ConnectivityMonitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		m.logger.Error("failed to build probe request", "url", m.probeURL, "error", err)
		return false
	}
	resp, err := m.http.Do(req)
	if err != nil {
		m.logger.Debug("reachability probe failed", "url", m.probeURL, "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

func (m *ConnectivityMonitor) transition(next ConnectivityState) {
	m.mu.Lock()
	if m.state == next {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = next
	listeners := make([]func(ConnectivityState), 0, len(m.subs))
	for _, fn := range m.subs {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	m.logger.Info("connectivity changed", "from", prev, "to", next)
	for _, fn := range listeners {
		fn(next)
	}
}
