package lock

import "github.com/pkg/errors"

// EnsureSufficientLockHeld acquires, promotes, or escalates whatever is
// needed so the transaction can perform actions requiring requestType on
// the given context, taking the least permissive set of locks on the
// context and all of its ancestors. requestType must be NoLock, SharedLock
// or ExclusiveLock; NoLock, a nil transaction, and a nil context are all
// no-ops. The call is idempotent: when the effective lock already
// substitutes for requestType nothing is issued.
func EnsureSufficientLockHeld(txn TransactionContext, ctx *LockContext, requestType LockType) error {
	if txn == nil || ctx == nil || requestType == NoLock {
		return nil
	}
	if requestType != SharedLock && requestType != ExclusiveLock {
		return errors.Wrapf(ErrInvalidLock, "cannot ensure %s; want NL, S or X", requestType)
	}

	effective := ctx.EffectiveLockType(txn)
	if Substitutable(effective, requestType) {
		return nil
	}

	if err := ensureAncestors(txn, ctx, requestType); err != nil {
		return err
	}

	explicit := ctx.ExplicitLockType(txn)
	if requestType == SharedLock {
		switch explicit {
		case NoLock:
			return ctx.Acquire(txn, SharedLock)
		case IntentShared:
			return ctx.Escalate(txn)
		default: // IX
			return ctx.Promote(txn, SharedIntentExclusive)
		}
	}

	switch explicit {
	case NoLock:
		return ctx.Acquire(txn, ExclusiveLock)
	case IntentShared:
		if err := ctx.Escalate(txn); err != nil {
			return err
		}
		return ctx.Promote(txn, ExclusiveLock)
	case SharedLock:
		return ctx.Promote(txn, ExclusiveLock)
	default: // IX or SIX
		return ctx.Escalate(txn)
	}
}

// ensureAncestors walks the ancestor chain root-first and raises each
// ancestor to the least permissive type able to sit above requestType:
// IS for a shared request, IX for an exclusive one. An S ancestor in the
// exclusive case becomes SIX, keeping its read rights.
func ensureAncestors(txn TransactionContext, ctx *LockContext, requestType LockType) error {
	var chain []*LockContext
	for a := ctx.ParentContext(); a != nil; a = a.ParentContext() {
		chain = append(chain, a)
	}

	for i := len(chain) - 1; i >= 0; i-- {
		ancestor := chain[i]
		held := ancestor.ExplicitLockType(txn)

		if requestType == SharedLock {
			if held == NoLock {
				if err := ancestor.Acquire(txn, IntentShared); err != nil {
					return err
				}
			}
			continue
		}

		switch held {
		case NoLock:
			if err := ancestor.Acquire(txn, IntentExclusive); err != nil {
				return err
			}
		case IntentShared:
			if err := ancestor.Promote(txn, IntentExclusive); err != nil {
				return err
			}
		case SharedLock:
			if err := ancestor.Promote(txn, SharedIntentExclusive); err != nil {
				return err
			}
		}
	}
	return nil
}

// minEscalateCapacity guards auto-escalation: contexts with few children
// (e.g. near-empty tables) are cheaper to lock individually.
const minEscalateCapacity = 10

// EscalateIfSaturated escalates the transaction's locks at ctx when the
// fraction of descendants it has locked reaches threshold and the context
// is large enough for escalation to pay off. No-op otherwise.
func EscalateIfSaturated(txn TransactionContext, ctx *LockContext, threshold float64) error {
	if txn == nil || ctx == nil {
		return nil
	}
	if ctx.Capacity() < minEscalateCapacity || ctx.Saturation(txn) < threshold {
		return nil
	}
	return ctx.Escalate(txn)
}
