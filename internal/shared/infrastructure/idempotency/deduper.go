// Package idempotency records processed message ids so at-least-once deliveries
// are handled once.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInFlight is returned when another worker holds the lock for a key and
// has not finished yet. Callers should ask the sender to retry later.
var ErrInFlight = errors.New("idempotency: key is already being processed")

const (
	DefaultLockTTL = 10 * time.Minute
	DefaultDoneTTL = 30 * 24 * time.Hour
)

// Store keeps done markers and short-lived processing locks.
type Store interface {
	IsDone(ctx context.Context, key string) (bool, error)
	// Acquire takes the processing lock for key; false means someone else holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	MarkDone(ctx context.Context, key string, ttl time.Duration) error
}

// Deduper runs a handler at most once per key to completion.
type Deduper struct {
	store   Store
	lockTTL time.Duration
	doneTTL time.Duration
}

// NewDeduper wraps store. Zero durations fall back to the defaults.
func NewDeduper(store Store, lockTTL, doneTTL time.Duration) *Deduper {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	if doneTTL <= 0 {
		doneTTL = DefaultDoneTTL
	}
	return &Deduper{store: store, lockTTL: lockTTL, doneTTL: doneTTL}
}

// Do runs fn unless key already completed. already is true for a completed
// duplicate. A failing fn leaves no done marker so a redelivery runs it again;
// a concurrent duplicate gets ErrInFlight.
func (d *Deduper) Do(ctx context.Context, key string, fn func(ctx context.Context) error) (already bool, err error) {
	if d == nil || d.store == nil {
		return false, errors.New("idempotency: deduper is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, errors.New("idempotency: key is required")
	}

	done, err := d.store.IsDone(ctx, key)
	if err != nil {
		return false, fmt.Errorf("idempotency: check %s: %w", key, err)
	}
	if done {
		return true, nil
	}

	acquired, err := d.store.Acquire(ctx, key, d.lockTTL)
	if err != nil {
		return false, fmt.Errorf("idempotency: lock %s: %w", key, err)
	}
	if !acquired {
		if done, err := d.store.IsDone(ctx, key); err == nil && done {
			return true, nil
		}
		return false, ErrInFlight
	}
	defer func() {
		_ = d.store.Release(context.WithoutCancel(ctx), key)
	}()

	if err := fn(ctx); err != nil {
		return false, err
	}
	if err := d.store.MarkDone(ctx, key, d.doneTTL); err != nil {
		return false, fmt.Errorf("idempotency: mark %s done: %w", key, err)
	}
	return false, nil
}
