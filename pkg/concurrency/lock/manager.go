package lock

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// LockManager maintains the bookkeeping for which transactions hold which
// locks on which resources, and handles queueing. It is the flat layer: it
// knows nothing about granularity. Callers should normally go through
// LockContext, which enforces the multigranularity constraints before
// delegating here.
//
// A single mutex protects all manager state. Operations that block a
// transaction follow the pattern: validate and mutate under the mutex
// (calling PrepareBlock on the transaction if it must wait), release the
// mutex, then call Block outside it. Queue processing runs under the mutex
// and wakes other transactions with Unblock, which only signals.
type LockManager struct {
	mu sync.Mutex

	// entries maps resource names (by canonical string) to their lock state.
	entries map[string]*resourceEntry

	// txnLocks maps transaction ids to the locks they hold, across all
	// resources, in acquisition order. Promote and acquire-and-release on a
	// resource the transaction already holds keep the original position.
	txnLocks map[int64][]Lock

	// contexts holds the top-level lock contexts, keyed by first segment.
	contexts map[string]*LockContext

	logger *zap.Logger
}

func NewLockManager() *LockManager {
	return &LockManager{
		entries:  make(map[string]*resourceEntry),
		txnLocks: make(map[int64][]Lock),
		contexts: make(map[string]*LockContext),
		logger:   zap.NewNop(),
	}
}

// SetLogger installs a logger for debug-level lock tracing.
func (lm *LockManager) SetLogger(logger *zap.Logger) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.logger = logger
}

// entry returns the resourceEntry for name, creating it on first touch.
// Caller must hold lm.mu.
func (lm *LockManager) entry(name ResourceName) *resourceEntry {
	key := name.String()
	re, ok := lm.entries[key]
	if !ok {
		re = newResourceEntry(name)
		lm.entries[key] = re
	}
	return re
}

// grantOrUpdate gives the transaction the lock l, assuming compatibility
// was already checked. If the transaction holds a lock on the same resource
// the lock is replaced in place in the transaction's lock list, so its
// acquisition order is unchanged; otherwise it is appended. Caller must
// hold lm.mu.
func (lm *LockManager) grantOrUpdate(re *resourceEntry, l Lock) {
	held := lm.txnLocks[l.TxnID]
	for i, existing := range held {
		if existing.Name.Equals(l.Name) {
			held[i] = l
			re.removeLock(l.TxnID)
			re.locks = append(re.locks, l)
			return
		}
	}
	lm.txnLocks[l.TxnID] = append(held, l)
	re.locks = append(re.locks, l)
}

// releaseLock removes the transaction's lock on re's resource and processes
// the queue. Caller must hold lm.mu.
func (lm *LockManager) releaseLock(re *resourceEntry, txnID int64) {
	re.removeLock(txnID)

	held := lm.txnLocks[txnID]
	for i, existing := range held {
		if existing.Name.Equals(re.name) {
			lm.txnLocks[txnID] = append(held[:i], held[i+1:]...)
			break
		}
	}
	if len(lm.txnLocks[txnID]) == 0 {
		delete(lm.txnLocks, txnID)
	}

	lm.processQueue(re)
}

// processQueue grants queued requests from the front, stopping at the first
// request that cannot be granted. Granting a request performs its bundled
// releases, each of which processes its own resource's queue in turn, and
// then unblocks the requesting transaction. The queue is strictly
// order-preserving: a later compatible request never overtakes an earlier
// incompatible one. Caller must hold lm.mu.
func (lm *LockManager) processQueue(re *resourceEntry) {
	for len(re.waitQueue) > 0 {
		req := re.waitQueue[0]
		if !re.checkCompatible(req.lock.Type, req.lock.TxnID) {
			return
		}

		re.waitQueue = re.waitQueue[1:]
		lm.grantOrUpdate(re, req.lock)
		for _, rel := range req.released {
			lm.releaseLock(lm.entry(rel.Name), rel.TxnID)
		}
		lm.logger.Debug("queued lock granted",
			zap.String("resource", re.name.String()),
			zap.Stringer("type", req.lock.Type),
			zap.Int64("txn", req.lock.TxnID))
		req.txn.Unblock()
	}
}

// Acquire takes a lockType lock on name for the transaction.
//
// The request is granted immediately when it is compatible with every other
// transaction's lock on the resource and the wait queue is empty. Otherwise
// the transaction is blocked and the request is placed at the back of the
// queue.
//
// Returns ErrDuplicateLockRequest if the transaction already holds any lock
// on name.
func (lm *LockManager) Acquire(txn TransactionContext, name ResourceName, lockType LockType) error {
	txnID := txn.TransNum()
	shouldBlock := false

	lm.mu.Lock()
	re := lm.entry(name)
	if re.lockTypeFor(txnID) != NoLock {
		lm.mu.Unlock()
		return errors.Wrapf(ErrDuplicateLockRequest,
			"transaction %d already holds a lock on %s", txnID, name)
	}

	l := Lock{Name: name, Type: lockType, TxnID: txnID}
	if re.checkCompatible(lockType, txnID) && len(re.waitQueue) == 0 {
		lm.grantOrUpdate(re, l)
		lm.logger.Debug("lock granted",
			zap.String("resource", name.String()),
			zap.Stringer("type", lockType),
			zap.Int64("txn", txnID))
	} else {
		shouldBlock = true
		txn.PrepareBlock()
		re.pushBack(&lockRequest{txn: txn, lock: l})
		lm.logger.Debug("lock request queued",
			zap.String("resource", name.String()),
			zap.Stringer("type", lockType),
			zap.Int64("txn", txnID))
	}
	lm.mu.Unlock()

	if shouldBlock {
		txn.Block()
	}
	return nil
}

// Release releases the transaction's lock on name and processes the
// resource's queue.
//
// Returns ErrNoLockHeld if the transaction holds no lock on name.
func (lm *LockManager) Release(txn TransactionContext, name ResourceName) error {
	txnID := txn.TransNum()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	re := lm.entry(name)
	if re.lockTypeFor(txnID) == NoLock {
		return errors.Wrapf(ErrNoLockHeld,
			"transaction %d holds no lock on %s", txnID, name)
	}

	lm.releaseLock(re, txnID)
	lm.logger.Debug("lock released",
		zap.String("resource", name.String()),
		zap.Int64("txn", txnID))
	return nil
}

// Promote changes the transaction's lock on name to newLockType. The lock
// keeps its original position in the transaction's acquisition order.
//
// The promotion is granted immediately when newLockType is compatible with
// every other transaction's lock on the resource. Otherwise the transaction
// is blocked and the request is placed at the front of the queue: a
// promoting transaction already holds a lock here and must not be starved
// by new acquisitions.
//
// Returns ErrDuplicateLockRequest if the transaction already holds a
// newLockType lock on name, ErrNoLockHeld if it holds none, and
// ErrInvalidLock if newLockType is not substitutable for the held type.
// Promote itself accepts IS/IX/S to SIX, since SIX substitutes for each;
// LockContext performs SIX promotions through AcquireAndRelease instead, so
// that descendant S and IS locks are released in the same step.
func (lm *LockManager) Promote(txn TransactionContext, name ResourceName, newLockType LockType) error {
	txnID := txn.TransNum()
	shouldBlock := false

	lm.mu.Lock()
	re := lm.entry(name)
	old := re.lockTypeFor(txnID)
	if old == newLockType {
		lm.mu.Unlock()
		return errors.Wrapf(ErrDuplicateLockRequest,
			"transaction %d already holds %s on %s", txnID, newLockType, name)
	}
	if old == NoLock {
		lm.mu.Unlock()
		return errors.Wrapf(ErrNoLockHeld,
			"transaction %d holds no lock on %s", txnID, name)
	}
	if !Substitutable(newLockType, old) {
		lm.mu.Unlock()
		return errors.Wrapf(ErrInvalidLock,
			"%s is not a promotion of %s", newLockType, old)
	}

	l := Lock{Name: name, Type: newLockType, TxnID: txnID}
	if re.checkCompatible(newLockType, txnID) {
		lm.grantOrUpdate(re, l)
		lm.logger.Debug("lock promoted",
			zap.String("resource", name.String()),
			zap.Stringer("from", old),
			zap.Stringer("to", newLockType),
			zap.Int64("txn", txnID))
	} else {
		shouldBlock = true
		txn.PrepareBlock()
		re.pushFront(&lockRequest{txn: txn, lock: l})
	}
	lm.mu.Unlock()

	if shouldBlock {
		txn.Block()
	}
	return nil
}

// AcquireAndRelease takes a lockType lock on name and releases all locks
// the transaction holds on releaseNames, in one atomic action. The lock on
// name is installed before the releases happen; a release of name itself
// replaces the lock without changing its acquisition order.
//
// The request is granted immediately when lockType is compatible with every
// other transaction's lock on name; queued requests belong to transactions
// that are already blocked, so compatibility alone decides. On conflict the
// transaction is blocked and the request is placed at the front of the
// queue with its releases bundled, to be performed at grant time.
//
// Returns ErrDuplicateLockRequest if the transaction holds a lock on name
// that is not being released, and ErrNoLockHeld if it holds no lock on one
// of releaseNames. All checks precede any mutation.
func (lm *LockManager) AcquireAndRelease(txn TransactionContext, name ResourceName,
	lockType LockType, releaseNames []ResourceName) error {
	txnID := txn.TransNum()
	shouldBlock := false

	lm.mu.Lock()
	re := lm.entry(name)

	if re.lockTypeFor(txnID) != NoLock {
		releasingSelf := false
		for _, rel := range releaseNames {
			if rel.Equals(name) {
				releasingSelf = true
				break
			}
		}
		if !releasingSelf {
			lm.mu.Unlock()
			return errors.Wrapf(ErrDuplicateLockRequest,
				"transaction %d already holds a lock on %s", txnID, name)
		}
	}

	released := make([]Lock, 0, len(releaseNames))
	for _, rel := range releaseNames {
		relType := lm.entry(rel).lockTypeFor(txnID)
		if relType == NoLock {
			lm.mu.Unlock()
			return errors.Wrapf(ErrNoLockHeld,
				"transaction %d holds no lock on %s", txnID, rel)
		}
		if !rel.Equals(name) {
			released = append(released, Lock{Name: rel, Type: relType, TxnID: txnID})
		}
	}

	l := Lock{Name: name, Type: lockType, TxnID: txnID}
	if re.checkCompatible(lockType, txnID) {
		lm.grantOrUpdate(re, l)
		for _, rel := range released {
			lm.releaseLock(lm.entry(rel.Name), rel.TxnID)
		}
		lm.logger.Debug("lock acquired with releases",
			zap.String("resource", name.String()),
			zap.Stringer("type", lockType),
			zap.Int("released", len(released)),
			zap.Int64("txn", txnID))
	} else {
		shouldBlock = true
		txn.PrepareBlock()
		re.pushFront(&lockRequest{txn: txn, lock: l, released: released})
	}
	lm.mu.Unlock()

	if shouldBlock {
		txn.Block()
	}
	return nil
}

// GetLockType returns the type of lock the transaction holds on name, or
// NoLock.
func (lm *LockManager) GetLockType(txn TransactionContext, name ResourceName) LockType {
	if txn == nil {
		return NoLock
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()

	re, ok := lm.entries[name.String()]
	if !ok {
		return NoLock
	}
	return re.lockTypeFor(txn.TransNum())
}

// GetLocks returns the locks the transaction holds across all resources, in
// acquisition order.
func (lm *LockManager) GetLocks(txn TransactionContext) []Lock {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	held := lm.txnLocks[txn.TransNum()]
	out := make([]Lock, len(held))
	copy(out, held)
	return out
}

// GetLocksOn returns the granted locks on name, in grant order.
func (lm *LockManager) GetLocksOn(name ResourceName) []Lock {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	re, ok := lm.entries[name.String()]
	if !ok {
		return nil
	}
	out := make([]Lock, len(re.locks))
	copy(out, re.locks)
	return out
}

// queueLength reports the number of waiting requests on name. Used by
// tests.
func (lm *LockManager) queueLength(name ResourceName) int {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	re, ok := lm.entries[name.String()]
	if !ok {
		return 0
	}
	return len(re.waitQueue)
}

// ReleaseAll releases every lock the transaction holds, leaf-first so that
// no ancestor is released while a descendant lock remains, and clears the
// transaction's descendant counts across the context tree. Used at commit
// or abort.
func (lm *LockManager) ReleaseAll(txn TransactionContext) {
	txnID := txn.TransNum()

	lm.mu.Lock()
	for {
		held := lm.txnLocks[txnID]
		if len(held) == 0 {
			break
		}
		deepest := held[0]
		for _, l := range held[1:] {
			if len(l.Name.segments) > len(deepest.Name.segments) {
				deepest = l
			}
		}
		lm.releaseLock(lm.entry(deepest.Name), txnID)
	}
	tops := make([]*LockContext, 0, len(lm.contexts))
	for _, ctx := range lm.contexts {
		tops = append(tops, ctx)
	}
	lm.mu.Unlock()

	for _, ctx := range tops {
		ctx.clearChildLocks(txnID)
	}
}

// Context returns the top-level lock context with the given name, creating
// it on first access.
func (lm *LockManager) Context(name string) *LockContext {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	ctx, ok := lm.contexts[name]
	if !ok {
		ctx = newLockContext(lm, nil, name, false)
		lm.contexts[name] = ctx
	}
	return ctx
}

// DatabaseContext returns the root context of the resource hierarchy.
func (lm *LockManager) DatabaseContext() *LockContext {
	return lm.Context("database")
}
