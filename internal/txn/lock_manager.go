// Package txn implements the transaction and worker layer of
// spec.md §4.9: ordered rollback logs, key-level two-phase locking, and
// wound-wait deadlock avoidance by strictly monotone timestamp.
package txn

import (
	"sync"
	"sync/atomic"

	"github.com/zhukovaskychina/lstore-engine/internal/errs"
)

// ResourceKey names a single lockable row: a table name plus its
// primary-key value.
type ResourceKey struct {
	Table string
	Key   int64
}

// Clock hands out strictly monotone transaction timestamps (spec.md
// §4.9: "Timestamps are strictly monotone").
type Clock struct{ n int64 }

// Next returns the next timestamp.
func (c *Clock) Next() int64 { return atomic.AddInt64(&c.n, 1) }

// LockManager grants exclusive, key-level locks with wound-wait
// deadlock avoidance (spec.md §4.9): an older requester wounds a
// younger holder and waits for the resource; a younger requester backs
// off, releases what it holds, and retries in the same ascending key order.
type LockManager struct {
	mu         sync.Mutex
	cond       *sync.Cond
	holders    map[ResourceKey]uint64 // resource -> holding txn id
	timestamps map[uint64]int64       // txn id -> its timestamp, while active
	wounded    map[uint64]bool        // txn id -> requested to abort
}

// NewLockManager creates an empty lock manager.
func NewLockManager() *LockManager {
	lm := &LockManager{
		holders:    make(map[ResourceKey]uint64),
		timestamps: make(map[uint64]int64),
		wounded:    make(map[uint64]bool),
	}
	lm.cond = sync.NewCond(&lm.mu)
	return lm
}

// Register records a transaction's timestamp for the duration it may
// hold or wait on locks.
func (lm *LockManager) Register(txnID uint64, timestamp int64) {
	lm.mu.Lock()
	lm.timestamps[txnID] = timestamp
	delete(lm.wounded, txnID)
	lm.mu.Unlock()
}

// Unregister drops a transaction's timestamp once it is done with
// locking, win or lose.
func (lm *LockManager) Unregister(txnID uint64) {
	lm.mu.Lock()
	delete(lm.timestamps, txnID)
	delete(lm.wounded, txnID)
	lm.mu.Unlock()
}

// Acquire grants res to txnID, blocking while an older requester waits
// out a wounded younger holder, and returns errs.ErrConflict when this
// transaction is the younger party and must abort and retry instead.
func (lm *LockManager) Acquire(res ResourceKey, txnID uint64, timestamp int64) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for {
		holderID, held := lm.holders[res]
		if !held || holderID == txnID {
			lm.holders[res] = txnID
			return nil
		}

		holderTS, known := lm.timestamps[holderID]
		if !known {
			// Holder already finished unlocking concurrently; retry the loop.
			lm.cond.Wait()
			continue
		}

		if timestamp < holderTS {
			// We are older: wound the holder and wait for the resource.
			lm.wounded[holderID] = true
			lm.cond.Wait()
			continue
		}

		// We are younger: back off so the caller can retry from scratch.
		return errs.ErrConflict
	}
}

// Release frees res if txnID currently holds it, waking any waiters.
func (lm *LockManager) Release(res ResourceKey, txnID uint64) {
	lm.mu.Lock()
	if lm.holders[res] == txnID {
		delete(lm.holders, res)
	}
	lm.cond.Broadcast()
	lm.mu.Unlock()
}

// IsWounded reports whether another transaction has requested txnID to
// abort.
func (lm *LockManager) IsWounded(txnID uint64) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.wounded[txnID]
}
