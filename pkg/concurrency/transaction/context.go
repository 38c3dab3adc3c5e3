package transaction

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// TransactionContext encapsulates the state of a single transaction as seen
// by the concurrency layer: its identity, lifecycle status, and the
// block/unblock handshake the lock manager uses to suspend it.
//
// The handshake is a binary semaphore over a buffered channel:
//
//  1. The lock manager calls PrepareBlock while holding its own mutex,
//     arming the wait state.
//  2. The transaction's goroutine calls Block after the manager mutex is
//     released, suspending until another goroutine calls Unblock.
//  3. A queue processor calls Unblock to hand the transaction its lock.
//
// Unblock before Block is fine: the wake token sits in the channel and
// Block returns immediately. A second Unblock for the same wait is dropped.
type TransactionContext struct {
	ID *TransactionID

	status    TransactionStatus
	startTime time.Time
	endTime   time.Time
	mu        sync.RWMutex

	blocked atomic.Bool
	wake    chan struct{}
}

func NewTransactionContext(tid *TransactionID) *TransactionContext {
	return &TransactionContext{
		ID:        tid,
		status:    TxActive,
		startTime: time.Now(),
		wake:      make(chan struct{}, 1),
	}
}

// TransNum returns the numeric id of this transaction.
func (tc *TransactionContext) TransNum() int64 {
	return tc.ID.ID()
}

// PrepareBlock arms the wait state by marking the transaction blocked (see
// IsBlocked). The lock manager calls it before releasing its mutex. An
// Unblock racing ahead of Block is kept by the buffered wake channel.
func (tc *TransactionContext) PrepareBlock() {
	tc.blocked.Store(true)
}

// Block suspends the calling goroutine until Unblock is called. Must only
// be called by the transaction's own goroutine, after PrepareBlock, and
// never while the lock manager mutex is held.
func (tc *TransactionContext) Block() {
	<-tc.wake
	tc.blocked.Store(false)
}

// Unblock wakes the transaction if it is blocked or about to block. Safe to
// call while the lock manager mutex is held: it signals, it does not join.
// Redundant calls are dropped.
func (tc *TransactionContext) Unblock() {
	select {
	case tc.wake <- struct{}{}:
	default:
	}
}

// IsBlocked reports whether the transaction is blocked or in the window
// between PrepareBlock and Block.
func (tc *TransactionContext) IsBlocked() bool {
	return tc.blocked.Load()
}

// IsActive returns true if the transaction is still active
func (tc *TransactionContext) IsActive() bool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.status == TxActive
}

func (tc *TransactionContext) Status() TransactionStatus {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.status
}

// SetStatus updates the transaction status
func (tc *TransactionContext) SetStatus(status TransactionStatus) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.status = status
	if status == TxCommitted || status == TxAborted {
		tc.endTime = time.Now()
	}
}

// Duration returns how long the transaction has been running
func (tc *TransactionContext) Duration() time.Duration {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	endTime := tc.endTime
	if endTime.IsZero() {
		endTime = time.Now()
	}
	return endTime.Sub(tc.startTime)
}

func (tc *TransactionContext) String() string {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	return fmt.Sprintf("Transaction %s [Status=%s]", tc.ID.String(), tc.status.String())
}
