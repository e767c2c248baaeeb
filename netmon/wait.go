// Copyright 2025 Discrapp
// SPDX-License-Identifier: Apache-2.0

package netmon

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrWaitTimeout is returned by WaitForOnline when the timeout elapses before
// the device comes online.
var ErrWaitTimeout = errors.New("netmon: timed out waiting for network")

// WaitOptions configures WaitForOnline. A zero Timeout means wait until the
// context is done.
type WaitOptions struct {
	Timeout time.Duration
}

// WaitForOnline blocks until the device is online. If it already is, the call
// returns immediately without creating a subscription. Otherwise it
// subscribes for connectivity changes and returns on the first online event;
// the listener is detached before the call returns on every path, so no
// listener is ever leaked regardless of whether the event, the timeout, or
// context cancellation wins.
func (m *Monitor) WaitForOnline(ctx context.Context, opts WaitOptions) error {
	if m.IsOnline(ctx) {
		return nil
	}

	online := make(chan struct{})
	var once sync.Once
	unsubscribe := m.Subscribe(func(state State) {
		if state.Online() {
			once.Do(func() { close(online) })
		}
	})
	defer unsubscribe()

	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-online:
		return nil
	case <-timeout:
		return ErrWaitTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
