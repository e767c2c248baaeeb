// Copyright 2025 Discrapp
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"sync"
	"time"
)

// Outcome is the last known replay result for one action, kept for
// diagnostics surfaces (e.g. a "pending changes" screen).
type Outcome struct {
	ActionID    string
	Success     bool
	Quarantined bool
	Attempts    int
	Error       string
	At          time.Time
}

// ResultCache is a TTL-bounded map of action id to last outcome. It is a
// plain constructible object injected into the driver, never package state;
// TTL and clock are injectable so hosts and tests control expiry.
type ResultCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]Outcome
}

// NewResultCache creates a cache whose entries expire after ttl.
func NewResultCache(ttl time.Duration) *ResultCache {
	return NewResultCacheWithClock(ttl, time.Now)
}

// NewResultCacheWithClock is NewResultCache with an injected clock.
func NewResultCacheWithClock(ttl time.Duration, now func() time.Time) *ResultCache {
	return &ResultCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]Outcome),
	}
}

// Put records the latest outcome for an action and prunes expired entries.
func (c *ResultCache) Put(outcome Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	outcome.At = now
	c.entries[outcome.ActionID] = outcome

	for id, e := range c.entries {
		if now.Sub(e.At) > c.ttl {
			delete(c.entries, id)
		}
	}
}

// Get returns the cached outcome for an action id, if present and fresh.
func (c *ResultCache) Get(actionID string) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	outcome, ok := c.entries[actionID]
	if !ok {
		return Outcome{}, false
	}
	if c.now().Sub(outcome.At) > c.ttl {
		delete(c.entries, actionID)
		return Outcome{}, false
	}
	return outcome, true
}
