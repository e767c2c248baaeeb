// Package kvstore provides the durable key-value storage layer the sync core
// persists through. The store is the system of record: callers never buffer
// writes, and every read goes back to the underlying storage.
//
// Two production backends are provided: SQLiteStore for on-device storage and
// PostgresStore for deployments where the queue lives next to server-side
// state. MemoryStore is a test double.
// Copyright 2025 Discrapp
// SPDX-License-Identifier: Apache-2.0

package kvstore

import "context"

// Store is the persistence contract consumed by the action queue.
type Store interface {
	// Get returns the value stored under key. ok is false if the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value. The write is
	// durable once Set returns without error.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key outright. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// RemoveAll deletes every listed key in one call.
	RemoveAll(ctx context.Context, keys ...string) error
}
