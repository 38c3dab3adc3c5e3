package lock

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// LockContext wraps LockManager to provide the hierarchical structure of
// multigranularity locking. Contexts form a tree rooted at the database
// context; each context validates the multigranularity constraints (intent
// locks on ancestors, descendant shapes, SIX subsumption) before delegating
// the actual grant or release to the flat manager.
type LockContext struct {
	manager *LockManager
	parent  *LockContext
	name    ResourceName

	// readonly contexts reject all mutating calls. Used for indices and
	// temporary tables, where finer-grain locks are disallowed.
	readonly bool

	mu sync.RWMutex
	// children maps child segment to its context; created on first access.
	children map[string]*LockContext
	// childLocksDisabled makes all future children readonly.
	childLocksDisabled bool
	// numChildLocks counts, per transaction, the locks held on direct and
	// indirect descendants of this context. Maintained as a true subtree
	// count: every acquire, release, SIX promotion and escalation walks the
	// ancestor chain of the affected resource.
	numChildLocks map[int64]int
	// capacity is the expected number of children, used for saturation.
	capacity int
}

func newLockContext(manager *LockManager, parent *LockContext, segment string, readonly bool) *LockContext {
	name := NewResourceName(segment)
	if parent != nil {
		name = parent.name.Child(segment)
	}
	return &LockContext{
		manager:            manager,
		parent:             parent,
		name:               name,
		readonly:           readonly,
		children:           make(map[string]*LockContext),
		childLocksDisabled: readonly,
		numChildLocks:      make(map[int64]int),
	}
}

// FromResourceName resolves a ResourceName to its LockContext by walking
// segments from the top-level context, creating contexts on first access.
func FromResourceName(manager *LockManager, name ResourceName) *LockContext {
	segments := name.Segments()
	ctx := manager.Context(segments[0])
	for _, segment := range segments[1:] {
		ctx = ctx.ChildContext(segment)
	}
	return ctx
}

// Name returns the resource name this context pertains to.
func (lc *LockContext) Name() ResourceName {
	return lc.name
}

// ParentContext returns the parent context, or nil at the top of the
// hierarchy.
func (lc *LockContext) ParentContext() *LockContext {
	return lc.parent
}

// ChildContext returns the context for the child with the given segment,
// creating it on first access. Children inherit readonly when this context
// is readonly or has child locks disabled.
func (lc *LockContext) ChildContext(segment string) *LockContext {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	child, ok := lc.children[segment]
	if !ok {
		child = newLockContext(lc.manager, lc, segment, lc.childLocksDisabled || lc.readonly)
		lc.children[segment] = child
	}
	return child
}

// DisableChildLocks makes all future child contexts readonly. Used for
// B+ tree indices and temporary tables.
func (lc *LockContext) DisableChildLocks() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.childLocksDisabled = true
}

// NumChildren returns the number of locks the transaction holds on
// descendants of this context.
func (lc *LockContext) NumChildren(txn TransactionContext) int {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.numChildLocks[txn.TransNum()]
}

// SetCapacity records the expected number of children, e.g. the page count
// of a table. Saturation compares descendant lock counts against it.
func (lc *LockContext) SetCapacity(capacity int) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.capacity = capacity
}

func (lc *LockContext) Capacity() int {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.capacity
}

// Saturation is the fraction of this context's capacity covered by the
// transaction's descendant locks. Zero capacity reports zero.
func (lc *LockContext) Saturation(txn TransactionContext) float64 {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	if lc.capacity == 0 {
		return 0
	}
	return float64(lc.numChildLocks[txn.TransNum()]) / float64(lc.capacity)
}

// addChildLocks adjusts this context's descendant lock count for the
// transaction.
func (lc *LockContext) addChildLocks(txnID int64, delta int) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	count := lc.numChildLocks[txnID] + delta
	if count <= 0 {
		delete(lc.numChildLocks, txnID)
		return
	}
	lc.numChildLocks[txnID] = count
}

// bumpAncestors adjusts the descendant lock count of every strict ancestor
// of this context.
func (lc *LockContext) bumpAncestors(txnID int64, delta int) {
	for ctx := lc.parent; ctx != nil; ctx = ctx.parent {
		ctx.addChildLocks(txnID, delta)
	}
}

// rollUpRelease decrements the descendant lock count of every strict
// ancestor of the released resource name.
func (lc *LockContext) rollUpRelease(txnID int64, released ResourceName) {
	FromResourceName(lc.manager, released).bumpAncestors(txnID, -1)
}

// Acquire takes a lockType lock at this level for the transaction.
//
// Returns ErrUnsupportedOperation on a readonly context, ErrInvalidLock for
// an NL request or when the parent's lock cannot sit above lockType, and
// ErrDuplicateLockRequest if the transaction already holds a lock here.
func (lc *LockContext) Acquire(txn TransactionContext, lockType LockType) error {
	if lc.readonly {
		return errors.Wrapf(ErrUnsupportedOperation, "acquire on %s", lc.name)
	}
	if lockType == NoLock {
		return errors.Wrap(ErrInvalidLock, "cannot acquire NL; use release instead")
	}
	if lc.parent != nil {
		parentType := lc.manager.GetLockType(txn, lc.parent.name)
		if !CanBeParentLock(parentType, lockType) {
			return errors.Wrapf(ErrInvalidLock,
				"%s on %s cannot sit above %s", parentType, lc.parent.name, lockType)
		}
	}

	if err := lc.manager.Acquire(txn, lc.name, lockType); err != nil {
		return err
	}

	lc.bumpAncestors(txn.TransNum(), 1)
	return nil
}

// Release releases the transaction's lock at this level.
//
// Returns ErrUnsupportedOperation on a readonly context, ErrInvalidLock if
// the transaction still holds a lock on any descendant (ancestor intents
// must outlive child locks), and ErrNoLockHeld if it holds no lock here.
func (lc *LockContext) Release(txn TransactionContext) error {
	if lc.readonly {
		return errors.Wrapf(ErrUnsupportedOperation, "release on %s", lc.name)
	}
	for _, held := range lc.manager.GetLocks(txn) {
		if held.Name.IsDescendantOf(lc.name) {
			return errors.Wrapf(ErrInvalidLock,
				"release of %s would orphan %s", lc.name, held.Name)
		}
	}

	if err := lc.manager.Release(txn, lc.name); err != nil {
		return err
	}

	lc.bumpAncestors(txn.TransNum(), -1)
	return nil
}

// Promote changes the transaction's lock at this level to newLockType.
//
// A promotion to SIX from IS/IX/S simultaneously releases all S and IS
// locks the transaction holds on descendants, since SIX subsumes them; a
// redundant SIX under a SIX ancestor is rejected. All other promotions
// require newLockType to be substitutable for the held type.
//
// Returns ErrUnsupportedOperation on a readonly context, plus the flat
// manager's ErrDuplicateLockRequest / ErrNoLockHeld / ErrInvalidLock.
func (lc *LockContext) Promote(txn TransactionContext, newLockType LockType) error {
	if lc.readonly {
		return errors.Wrapf(ErrUnsupportedOperation, "promote on %s", lc.name)
	}

	if newLockType != SharedIntentExclusive {
		return lc.manager.Promote(txn, lc.name, newLockType)
	}

	old := lc.manager.GetLockType(txn, lc.name)
	if old == SharedIntentExclusive {
		return errors.Wrapf(ErrDuplicateLockRequest,
			"transaction %d already holds SIX on %s", txn.TransNum(), lc.name)
	}
	if old == NoLock {
		return errors.Wrapf(ErrNoLockHeld,
			"transaction %d holds no lock on %s", txn.TransNum(), lc.name)
	}
	if old != IntentShared && old != IntentExclusive && old != SharedLock {
		return errors.Wrapf(ErrInvalidLock, "%s cannot be promoted to SIX", old)
	}
	if lc.hasSIXAncestor(txn) {
		return errors.Wrap(ErrInvalidLock, "an ancestor already holds SIX")
	}

	sis := lc.sisDescendants(txn)
	releaseNames := append(append([]ResourceName{}, sis...), lc.name)
	if err := lc.manager.AcquireAndRelease(txn, lc.name, SharedIntentExclusive, releaseNames); err != nil {
		return err
	}

	for _, name := range sis {
		lc.rollUpRelease(txn.TransNum(), name)
	}
	return nil
}

// Escalate replaces the transaction's locks on descendants of this context
// with a single coarser lock at this level: S when the lock here is IS or
// S, X otherwise. The parent/child validity rules guarantee an IS or S
// context has no exclusive-flavored descendants, so the coarser lock keeps
// every operation that was valid before valid after. Escalating twice in a
// row is a no-op: nothing is issued when the lock here is already S or X
// and no descendant locks exist.
//
// Returns ErrUnsupportedOperation on a readonly context and ErrNoLockHeld
// if the transaction holds no lock here. Makes at most one mutating call to
// the flat manager.
func (lc *LockContext) Escalate(txn TransactionContext) error {
	if lc.readonly {
		return errors.Wrapf(ErrUnsupportedOperation, "escalate on %s", lc.name)
	}

	explicit := lc.manager.GetLockType(txn, lc.name)
	if explicit == NoLock {
		return errors.Wrapf(ErrNoLockHeld,
			"transaction %d holds no lock on %s", txn.TransNum(), lc.name)
	}

	var descendants []ResourceName
	for _, held := range lc.manager.GetLocks(txn) {
		if held.Name.IsDescendantOf(lc.name) {
			descendants = append(descendants, held.Name)
		}
	}

	if (explicit == SharedLock || explicit == ExclusiveLock) && len(descendants) == 0 {
		return nil
	}

	target := ExclusiveLock
	if explicit == IntentShared || explicit == SharedLock {
		target = SharedLock
	}

	releaseNames := append(append([]ResourceName{}, descendants...), lc.name)
	if err := lc.manager.AcquireAndRelease(txn, lc.name, target, releaseNames); err != nil {
		return err
	}

	for _, name := range descendants {
		lc.rollUpRelease(txn.TransNum(), name)
	}
	return nil
}

// ExplicitLockType returns the lock the transaction holds at this level, or
// NoLock.
func (lc *LockContext) ExplicitLockType(txn TransactionContext) LockType {
	if txn == nil {
		return NoLock
	}
	return lc.manager.GetLockType(txn, lc.name)
}

// EffectiveLockType returns the lock the transaction has at this level,
// either explicitly or implicitly through an ancestor: an X ancestor
// implies X here, and an S or SIX ancestor implies S.
func (lc *LockContext) EffectiveLockType(txn TransactionContext) LockType {
	if txn == nil {
		return NoLock
	}
	explicit := lc.ExplicitLockType(txn)
	if explicit != NoLock {
		return explicit
	}

	implied := NoLock
	for ctx := lc.parent; ctx != nil; ctx = ctx.parent {
		switch lc.manager.GetLockType(txn, ctx.name) {
		case ExclusiveLock:
			return ExclusiveLock
		case SharedLock, SharedIntentExclusive:
			implied = SharedLock
		}
	}
	return implied
}

// hasSIXAncestor reports whether the transaction holds SIX on any strict
// ancestor of this context.
func (lc *LockContext) hasSIXAncestor(txn TransactionContext) bool {
	for ctx := lc.parent; ctx != nil; ctx = ctx.parent {
		if lc.manager.GetLockType(txn, ctx.name) == SharedIntentExclusive {
			return true
		}
	}
	return false
}

// sisDescendants returns the names of all S or IS locks the transaction
// holds on strict descendants of this context.
func (lc *LockContext) sisDescendants(txn TransactionContext) []ResourceName {
	var result []ResourceName
	for _, held := range lc.manager.GetLocks(txn) {
		if held.Type != SharedLock && held.Type != IntentShared {
			continue
		}
		if held.Name.IsDescendantOf(lc.name) {
			result = append(result, held.Name)
		}
	}
	return result
}

// clearChildLocks drops the transaction's descendant counts in this
// context's subtree. Used by the release-all sweep at transaction end.
func (lc *LockContext) clearChildLocks(txnID int64) {
	lc.mu.Lock()
	delete(lc.numChildLocks, txnID)
	children := make([]*LockContext, 0, len(lc.children))
	for _, child := range lc.children {
		children = append(children, child)
	}
	lc.mu.Unlock()

	for _, child := range children {
		child.clearChildLocks(txnID)
	}
}

func (lc *LockContext) String() string {
	return fmt.Sprintf("LockContext(%s)", lc.name)
}
