// Copyright 2025 Discrapp
// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"context"
	"sync"
)

// MemoryStore is a goroutine-safe in-memory Store used in tests. The error
// hooks let tests inject storage faults per operation.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string

	// When non-nil, the hook runs before the operation; a non-nil return
	// aborts the operation with that error.
	GetHook    func(key string) error
	SetHook    func(key string) error
	RemoveHook func(key string) error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	if s.GetHook != nil {
		if err := s.GetHook(key); err != nil {
			return "", false, err
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	return value, ok, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	if s.SetHook != nil {
		if err := s.SetHook(key); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	if s.RemoveHook != nil {
		if err := s.RemoveHook(key); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// RemoveAll implements Store.
func (s *MemoryStore) RemoveAll(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := s.Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
