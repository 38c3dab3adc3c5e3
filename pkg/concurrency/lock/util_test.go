package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureExclusiveOnPage(t *testing.T) {
	lm := NewLockManager()
	t1 := newTestTxn()
	db := lm.DatabaseContext()
	table := db.ChildContext("users")
	page := table.ChildContext("3")

	require.NoError(t, EnsureSufficientLockHeld(t1, page, ExclusiveLock))

	assert.Equal(t, IntentExclusive, db.ExplicitLockType(t1))
	assert.Equal(t, IntentExclusive, table.ExplicitLockType(t1))
	assert.Equal(t, ExclusiveLock, page.ExplicitLockType(t1))
	assert.Len(t, lm.GetLocks(t1), 3, "nothing beyond the ancestor intents may be taken")
}

func TestEnsureSharedOnPage(t *testing.T) {
	lm := NewLockManager()
	t1 := newTestTxn()
	db := lm.DatabaseContext()
	table := db.ChildContext("users")
	page := table.ChildContext("3")

	require.NoError(t, EnsureSufficientLockHeld(t1, page, SharedLock))

	assert.Equal(t, IntentShared, db.ExplicitLockType(t1))
	assert.Equal(t, IntentShared, table.ExplicitLockType(t1))
	assert.Equal(t, SharedLock, page.ExplicitLockType(t1))
	assert.Len(t, lm.GetLocks(t1), 3)
}

func TestEnsureIsIdempotent(t *testing.T) {
	lm := NewLockManager()
	t1 := newTestTxn()
	page := lm.DatabaseContext().ChildContext("users").ChildContext("3")

	require.NoError(t, EnsureSufficientLockHeld(t1, page, ExclusiveLock))
	before := lm.GetLocks(t1)

	require.NoError(t, EnsureSufficientLockHeld(t1, page, ExclusiveLock))
	assert.Equal(t, before, lm.GetLocks(t1))

	// A weaker request against a stronger effective lock is also a no-op.
	require.NoError(t, EnsureSufficientLockHeld(t1, page, SharedLock))
	assert.Equal(t, before, lm.GetLocks(t1))
}

func TestEnsureNoLockIsNoop(t *testing.T) {
	lm := NewLockManager()
	t1 := newTestTxn()
	page := lm.DatabaseContext().ChildContext("users").ChildContext("3")

	require.NoError(t, EnsureSufficientLockHeld(t1, page, NoLock))
	assert.Empty(t, lm.GetLocks(t1))
}

func TestEnsureNilArgumentsAreNoops(t *testing.T) {
	lm := NewLockManager()
	page := lm.DatabaseContext().ChildContext("users").ChildContext("3")

	require.NoError(t, EnsureSufficientLockHeld(nil, page, ExclusiveLock))
	require.NoError(t, EnsureSufficientLockHeld(newTestTxn(), nil, ExclusiveLock))
}

func TestEnsureRejectsIntentRequests(t *testing.T) {
	lm := NewLockManager()
	t1 := newTestTxn()
	db := lm.DatabaseContext()

	assert.ErrorIs(t, EnsureSufficientLockHeld(t1, db, IntentShared), ErrInvalidLock)
	assert.ErrorIs(t, EnsureSufficientLockHeld(t1, db, SharedIntentExclusive), ErrInvalidLock)
}

func TestEnsureUpgradesAncestorsForWrite(t *testing.T) {
	lm := NewLockManager()
	t1 := newTestTxn()
	db := lm.DatabaseContext()
	table := db.ChildContext("users")
	page := table.ChildContext("3")

	// Reading first leaves IS intents; a write request upgrades them.
	require.NoError(t, EnsureSufficientLockHeld(t1, page, SharedLock))
	require.NoError(t, EnsureSufficientLockHeld(t1, page, ExclusiveLock))

	assert.Equal(t, IntentExclusive, db.ExplicitLockType(t1))
	assert.Equal(t, IntentExclusive, table.ExplicitLockType(t1))
	assert.Equal(t, ExclusiveLock, page.ExplicitLockType(t1))
}

func TestEnsureWriteUnderSharedAncestorUsesSIX(t *testing.T) {
	lm := NewLockManager()
	t1 := newTestTxn()
	db := lm.DatabaseContext()
	table := db.ChildContext("users")
	page := table.ChildContext("3")

	require.NoError(t, db.Acquire(t1, IntentShared))
	require.NoError(t, table.Acquire(t1, SharedLock))

	require.NoError(t, EnsureSufficientLockHeld(t1, page, ExclusiveLock))

	assert.Equal(t, IntentExclusive, db.ExplicitLockType(t1))
	assert.Equal(t, SharedIntentExclusive, table.ExplicitLockType(t1))
	assert.Equal(t, ExclusiveLock, page.ExplicitLockType(t1))
}

func TestEnsureSharedOnIntentExclusiveContext(t *testing.T) {
	lm := NewLockManager()
	t1 := newTestTxn()
	db := lm.DatabaseContext()
	table := db.ChildContext("users")

	require.NoError(t, db.Acquire(t1, IntentExclusive))
	require.NoError(t, table.Acquire(t1, IntentExclusive))
	require.NoError(t, table.ChildContext("3").Acquire(t1, ExclusiveLock))

	// S on an IX context promotes to SIX so the X below stays valid.
	require.NoError(t, EnsureSufficientLockHeld(t1, table, SharedLock))

	assert.Equal(t, SharedIntentExclusive, table.ExplicitLockType(t1))
	assert.Equal(t, ExclusiveLock, table.ChildContext("3").ExplicitLockType(t1))
}

func TestEnsureSharedEscalatesIntentShared(t *testing.T) {
	lm := NewLockManager()
	t1 := newTestTxn()
	db := lm.DatabaseContext()
	table := db.ChildContext("users")
	page := table.ChildContext("3")

	require.NoError(t, db.Acquire(t1, IntentShared))
	require.NoError(t, table.Acquire(t1, IntentShared))
	require.NoError(t, page.Acquire(t1, SharedLock))

	// S on an IS context escalates: one S at the table, pages subsumed.
	require.NoError(t, EnsureSufficientLockHeld(t1, table, SharedLock))

	assert.Equal(t, SharedLock, table.ExplicitLockType(t1))
	assert.Equal(t, NoLock, page.ExplicitLockType(t1))
	assert.Equal(t, 0, table.NumChildren(t1))
}

func TestEnsureExclusiveOnIntentSharedContext(t *testing.T) {
	lm := NewLockManager()
	t1 := newTestTxn()
	db := lm.DatabaseContext()
	table := db.ChildContext("users")

	require.NoError(t, db.Acquire(t1, IntentShared))
	require.NoError(t, table.Acquire(t1, IntentShared))
	require.NoError(t, table.ChildContext("3").Acquire(t1, SharedLock))

	// X on an IS context escalates to S first, then promotes to X.
	require.NoError(t, EnsureSufficientLockHeld(t1, table, ExclusiveLock))

	assert.Equal(t, IntentExclusive, db.ExplicitLockType(t1))
	assert.Equal(t, ExclusiveLock, table.ExplicitLockType(t1))
	assert.Equal(t, 0, table.NumChildren(t1))
}

func TestEnsureExclusiveOnIntentExclusiveContext(t *testing.T) {
	lm := NewLockManager()
	t1 := newTestTxn()
	db := lm.DatabaseContext()
	table := db.ChildContext("users")

	require.NoError(t, db.Acquire(t1, IntentExclusive))
	require.NoError(t, table.Acquire(t1, IntentExclusive))
	require.NoError(t, table.ChildContext("3").Acquire(t1, ExclusiveLock))

	// X on an IX context is a single escalation.
	require.NoError(t, EnsureSufficientLockHeld(t1, table, ExclusiveLock))

	assert.Equal(t, ExclusiveLock, table.ExplicitLockType(t1))
	assert.Len(t, lm.GetLocks(t1), 2)
}

func TestEnsureWriteUnderSIXAncestor(t *testing.T) {
	lm := NewLockManager()
	t1 := newTestTxn()
	db := lm.DatabaseContext()
	table := db.ChildContext("users")
	page := table.ChildContext("3")

	require.NoError(t, db.Acquire(t1, SharedIntentExclusive))

	require.NoError(t, EnsureSufficientLockHeld(t1, page, ExclusiveLock))

	// The SIX ancestor already grants reads; only the write path is added.
	assert.Equal(t, SharedIntentExclusive, db.ExplicitLockType(t1))
	assert.Equal(t, IntentExclusive, table.ExplicitLockType(t1))
	assert.Equal(t, ExclusiveLock, page.ExplicitLockType(t1))
}

func TestEnsureReadUnderSIXAncestorIsNoop(t *testing.T) {
	lm := NewLockManager()
	t1 := newTestTxn()
	db := lm.DatabaseContext()
	page := db.ChildContext("users").ChildContext("3")

	require.NoError(t, db.Acquire(t1, SharedIntentExclusive))
	require.NoError(t, EnsureSufficientLockHeld(t1, page, SharedLock))

	assert.Len(t, lm.GetLocks(t1), 1, "SIX at the database already covers reads")
}

func TestEscalateIfSaturated(t *testing.T) {
	lm := NewLockManager()
	t1 := newTestTxn()
	db := lm.DatabaseContext()
	table := db.ChildContext("users")
	table.SetCapacity(10)

	require.NoError(t, db.Acquire(t1, IntentShared))
	require.NoError(t, table.Acquire(t1, IntentShared))
	require.NoError(t, table.ChildContext("1").Acquire(t1, SharedLock))

	// Below threshold: nothing happens.
	require.NoError(t, EscalateIfSaturated(t1, table, 0.2))
	assert.Equal(t, IntentShared, table.ExplicitLockType(t1))

	require.NoError(t, table.ChildContext("2").Acquire(t1, SharedLock))
	require.NoError(t, EscalateIfSaturated(t1, table, 0.2))
	assert.Equal(t, SharedLock, table.ExplicitLockType(t1))
	assert.Equal(t, 0, table.NumChildren(t1))
}

func TestEscalateIfSaturatedSkipsSmallContexts(t *testing.T) {
	lm := NewLockManager()
	t1 := newTestTxn()
	db := lm.DatabaseContext()
	table := db.ChildContext("tiny")
	table.SetCapacity(4)

	require.NoError(t, db.Acquire(t1, IntentShared))
	require.NoError(t, table.Acquire(t1, IntentShared))
	require.NoError(t, table.ChildContext("1").Acquire(t1, SharedLock))
	require.NoError(t, table.ChildContext("2").Acquire(t1, SharedLock))

	require.NoError(t, EscalateIfSaturated(t1, table, 0.2))
	assert.Equal(t, IntentShared, table.ExplicitLockType(t1), "small contexts are not escalated")
}
