// Package locks serializes concurrent authorization evaluations per
// on-chain account, so two simultaneous authorizations cannot both pass
// collateral checks against the same not-yet-debited balance.
package locks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrAcquireTimeout signals the caller should respond with a
	// "processing, retry" outcome, never approve or decline
	ErrAcquireTimeout = errors.New("account lock acquisition timed out")

	// ErrTooManyWaiters signals the waiter queue is saturated and the
	// attempt was rejected without blocking
	ErrTooManyWaiters = errors.New("too many waiters for account lock")
)

// AccountMutex is a per-account lock with timeout-bounded acquisition and
// idempotent release. It may be acquired by one goroutine and released by
// another: an approved authorization holds it until the paired clearing
// webhook is processed.
type AccountMutex struct {
	ch      chan struct{}
	waiters atomic.Int32
}

func newAccountMutex() *AccountMutex {
	return &AccountMutex{ch: make(chan struct{}, 1)}
}

// Acquire blocks until the lock is free, the timeout elapses, or ctx is
// canceled. A timeout aborts only this waiter's attempt; it never affects
// the current holder.
func (m *AccountMutex) Acquire(ctx context.Context, timeout time.Duration, maxWaiters int) error {
	if int(m.waiters.Load()) >= maxWaiters {
		return ErrTooManyWaiters
	}
	m.waiters.Add(1)
	defer m.waiters.Add(-1)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m.ch <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrAcquireTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes the lock only if it is immediately free
func (m *AccountMutex) TryAcquire() bool {
	select {
	case m.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees the lock. Releasing an unlocked lock is a no-op: declines
// and timeouts both attempt release along independent code paths.
func (m *AccountMutex) Release() {
	select {
	case <-m.ch:
	default:
	}
}

// Registry is the process-wide map from account address to its lock.
// Locks are never destroyed; total cardinality is bounded by the number of
// distinct accounts seen, which is small relative to process lifetime.
type Registry struct {
	mu         sync.Mutex
	locks      map[common.Address]*AccountMutex
	timeout    time.Duration
	maxWaiters int
}

// NewRegistry creates a registry with the given acquisition timeout and
// waiter bound
func NewRegistry(timeout time.Duration, maxWaiters int) *Registry {
	return &Registry{
		locks:      make(map[common.Address]*AccountMutex),
		timeout:    timeout,
		maxWaiters: maxWaiters,
	}
}

// GetOrCreate returns the lock for the account, registering a new one on
// first sight
func (r *Registry) GetOrCreate(account common.Address) *AccountMutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lock, ok := r.locks[account]; ok {
		return lock
	}
	lock := newAccountMutex()
	r.locks[account] = lock
	return lock
}

// Acquire takes the account's lock within the registry's configured bounds
func (r *Registry) Acquire(ctx context.Context, account common.Address) error {
	return r.GetOrCreate(account).Acquire(ctx, r.timeout, r.maxWaiters)
}

// Release frees the account's lock if held; unknown accounts are a no-op
func (r *Registry) Release(account common.Address) {
	r.mu.Lock()
	lock, ok := r.locks[account]
	r.mu.Unlock()
	if ok {
		lock.Release()
	}
}
