// Package netmon answers "are we online right now" and notifies subscribers
// of connectivity changes. It wraps a platform connectivity probe and applies
// the core's reachability policy: unknown internet reachability is treated
// optimistically as online (platforms often cannot determine true
// reachability even when a link is up), while probe failures fail closed to
// offline so work keeps queuing instead of being falsely declared deliverable.
// Copyright 2025 Discrapp
// SPDX-License-Identifier: Apache-2.0

package netmon

import (
	"context"
	"log/slog"
	"sync"
)

// ConnectionType is the transport the platform reports the link is on.
type ConnectionType string

const (
	TypeWifi     ConnectionType = "wifi"
	TypeCellular ConnectionType = "cellular"
	TypeEthernet ConnectionType = "ethernet"
	TypeNone     ConnectionType = "none"
	TypeUnknown  ConnectionType = "unknown"
)

// Reachability is the platform's tri-state answer to whether the internet is
// actually reachable over the current link.
type Reachability int

const (
	ReachabilityUnknown Reachability = iota
	ReachabilityNo
	ReachabilityYes
)

// State is a point-in-time connectivity snapshot.
type State struct {
	Connected         bool
	InternetReachable Reachability
	Type              ConnectionType
}

// Online reports whether this snapshot counts as online: connected, and
// reachability either confirmed or unknown.
func (s State) Online() bool {
	return s.Connected && s.InternetReachable != ReachabilityNo
}

// Offline is the sentinel snapshot returned when the probe fails.
var Offline = State{Connected: false, InternetReachable: ReachabilityNo, Type: TypeUnknown}

// Probe is the platform connectivity contract. Fetch returns a snapshot;
// AddListener registers a callback fired on every connectivity change (not on
// a fixed interval) and returns a removal handle.
type Probe interface {
	Fetch(ctx context.Context) (State, error)
	AddListener(fn func(State)) (remove func())
}

// Monitor wraps a Probe and tracks every listener registered through it so
// Cleanup can detach them all at shutdown.
type Monitor struct {
	probe  Probe
	logger *slog.Logger

	mu      sync.Mutex
	nextID  int
	removes map[int]func()
}

// New creates a monitor over the given probe. A nil logger falls back to
// slog.Default().
func New(probe Probe, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		probe:   probe,
		logger:  logger,
		removes: make(map[int]func()),
	}
}

// IsOnline reports whether the device currently counts as online. Probe
// failures fail closed to false.
func (m *Monitor) IsOnline(ctx context.Context) bool {
	state, err := m.probe.Fetch(ctx)
	if err != nil {
		m.logger.Warn("connectivity probe failed, assuming offline", "error", err)
		return false
	}
	return state.Online()
}

// NetworkState returns the full connectivity snapshot, or the Offline
// sentinel if the probe fails.
func (m *Monitor) NetworkState(ctx context.Context) State {
	state, err := m.probe.Fetch(ctx)
	if err != nil {
		m.logger.Warn("connectivity probe failed, returning offline state", "error", err)
		return Offline
	}
	return state
}

// Subscribe registers fn to be invoked on every connectivity-change event and
// returns its unsubscribe handle. Handles are independent: each removes only
// its own listener, and calling one more than once is harmless.
func (m *Monitor) Subscribe(fn func(State)) (unsubscribe func()) {
	remove := m.probe.AddListener(fn)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.removes[id] = remove
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		remove, ok := m.removes[id]
		delete(m.removes, id)
		m.mu.Unlock()
		if ok {
			remove()
		}
	}
}

// Cleanup detaches every listener registered through this monitor. Used at
// shutdown.
func (m *Monitor) Cleanup() {
	m.mu.Lock()
	removes := m.removes
	m.removes = make(map[int]func())
	m.mu.Unlock()

	for _, remove := range removes {
		remove()
	}
}
