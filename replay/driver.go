// Package replay drains the durable action queue against the remote API.
// The driver is single-flight: one action is in flight at a time, and the
// head advances only after the current action resolves, preserving
// server-visible ordering for dependent mutations (create-before-update on
// the same entity).
// Copyright 2025 Discrapp
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/discrapp/mobile-sub003/actionqueue"
	"github.com/discrapp/mobile-sub003/netmon"
)

// Config holds the retry policy of the driver.
type Config struct {
	MaxAttempts  int           // attempts at which an action is quarantined
	BackoffMin   time.Duration // first delay after a transient failure
	BackoffMax   time.Duration // backoff doubling cap
	PollInterval time.Duration // optional timer-driven drain; 0 = events only
	CacheTTL     time.Duration // outcome cache retention
}

// DefaultConfig returns the retry policy used on mobile.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  5,
		BackoffMin:   1 * time.Second,
		BackoffMax:   60 * time.Second,
		PollInterval: 0,
		CacheTTL:     5 * time.Minute,
	}
}

// Driver consumes the queue when online and dispatches actions to the remote
// API, updating queue state on success and failure.
type Driver struct {
	queue   *actionqueue.Queue
	monitor *netmon.Monitor
	exec    Executor
	cache   *ResultCache
	config  *Config
	logger  *slog.Logger

	// Serializes drains so that at most one action is in flight even when a
	// connectivity event races a timer tick or a manual DrainOnce call.
	flightMu sync.Mutex
}

// NewDriver wires a driver from its collaborators. cache may be nil when the
// host has no diagnostics surface; logger nil falls back to slog.Default().
func NewDriver(queue *actionqueue.Queue, monitor *netmon.Monitor, exec Executor, cache *ResultCache, config *Config, logger *slog.Logger) (*Driver, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if exec == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxAttempts <= 0 {
		return nil, fmt.Errorf("config.MaxAttempts must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		queue:   queue,
		monitor: monitor,
		exec:    exec,
		cache:   cache,
		config:  config,
		logger:  logger,
	}, nil
}

// Run drains the queue on startup, then again on every offline-to-online
// transition and on the optional poll interval, until ctx is done. Transient
// drain failures back off exponentially (doubling from BackoffMin up to
// BackoffMax, reset on a clean drain) before the next attempt.
func (d *Driver) Run(ctx context.Context) error {
	wake := make(chan struct{}, 1)
	unsubscribe := d.monitor.Subscribe(func(state netmon.State) {
		if !state.Online() {
			return
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	var tick <-chan time.Time
	if d.config.PollInterval > 0 {
		ticker := time.NewTicker(d.config.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	backoff := d.config.BackoffMin
	for {
		if d.monitor.IsOnline(ctx) {
			if err := d.DrainOnce(ctx); err != nil {
				d.logger.Warn("drain failed, backing off", "delay", backoff, "error", err)
				if err := sleepWithContext(ctx, backoff); err != nil {
					return err
				}
				backoff *= 2
				if backoff > d.config.BackoffMax {
					backoff = d.config.BackoffMax
				}
				continue
			}
			backoff = d.config.BackoffMin
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		case <-tick:
		}
	}
}

// DrainOnce replays queued actions one at a time until the queue holds only
// quarantined actions, the device goes offline, or a transient failure stops
// the pass. The returned error is the transient failure, nil otherwise.
//
// An action is never dequeued before its remote call succeeds: the driver
// reads the head, executes, and removes by id afterwards, so a crash
// mid-attempt leaves the action queued.
func (d *Driver) DrainOnce(ctx context.Context) error {
	d.flightMu.Lock()
	defer d.flightMu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.monitor.IsOnline(ctx) {
			return nil
		}

		action, ok := d.nextPending(ctx)
		if !ok {
			return nil
		}

		err := d.exec.Execute(ctx, *action)
		if err == nil {
			// Remove by id, not Dequeue: actions enqueued during the remote
			// call must not be lost to a head swap.
			if err := d.queue.Remove(ctx, action.ID); err != nil {
				return fmt.Errorf("failed to remove replayed action %s: %w", action.ID, err)
			}
			d.record(Outcome{ActionID: action.ID, Success: true, Attempts: action.Attempts})
			d.logger.Info("replayed action", "id", action.ID, "type", action.Type)
			continue
		}

		if Permanent(err) {
			if qerr := d.queue.RaiseAttempts(ctx, action.ID, d.config.MaxAttempts); qerr != nil {
				return fmt.Errorf("failed to quarantine action %s: %w", action.ID, qerr)
			}
			d.record(Outcome{
				ActionID:    action.ID,
				Quarantined: true,
				Attempts:    d.config.MaxAttempts,
				Error:       err.Error(),
			})
			d.logger.Error("action failed permanently, quarantined",
				"id", action.ID, "type", action.Type, "error", err)
			continue
		}

		if qerr := d.queue.IncrementAttempts(ctx, action.ID); qerr != nil {
			return fmt.Errorf("failed to record attempt for action %s: %w", action.ID, qerr)
		}
		attempts := action.Attempts + 1
		quarantined := attempts >= d.config.MaxAttempts
		d.record(Outcome{
			ActionID:    action.ID,
			Quarantined: quarantined,
			Attempts:    attempts,
			Error:       err.Error(),
		})
		if quarantined {
			d.logger.Error("action exhausted retry budget, quarantined",
				"id", action.ID, "type", action.Type, "attempts", attempts, "error", err)
			continue
		}
		d.logger.Warn("action failed, will retry",
			"id", action.ID, "type", action.Type, "attempts", attempts, "error", err)
		return err
	}
}

// FailedActions exposes the quarantined subset for diagnostics surfaces.
func (d *Driver) FailedActions(ctx context.Context) []actionqueue.QueuedAction {
	return d.queue.FailedActions(ctx, d.config.MaxAttempts)
}

// nextPending returns the first non-quarantined action. The quarantined ones
// stay in storage but are skipped by replay passes.
func (d *Driver) nextPending(ctx context.Context) (*actionqueue.QueuedAction, bool) {
	for _, a := range d.queue.GetAll(ctx) {
		if a.Attempts < d.config.MaxAttempts {
			return &a, true
		}
	}
	return nil, false
}

func (d *Driver) record(outcome Outcome) {
	if d.cache != nil {
		d.cache.Put(outcome)
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
