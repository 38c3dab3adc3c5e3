package lock

import "github.com/pkg/errors"

// The four error kinds surfaced by the concurrency layer. Callers test for
// them with errors.Is; messages wrapped around them carry the transaction
// and resource involved. Each LockManager and LockContext operation
// validates before it mutates, so an error from one of them means that
// operation changed no lock state. EnsureSufficientLockHeld issues several
// such operations in turn and does not undo the ones that succeeded before
// one returns an error.
var (
	// ErrDuplicateLockRequest: the transaction already holds the exact lock
	// being requested, or already holds any lock on the resource in a plain
	// acquire.
	ErrDuplicateLockRequest = errors.New("duplicate lock request")

	// ErrNoLockHeld: the operation expects a pre-existing lock the
	// transaction does not hold.
	ErrNoLockHeld = errors.New("no lock held")

	// ErrInvalidLock: a multigranularity or substitutability rule is
	// violated.
	ErrInvalidLock = errors.New("invalid lock")

	// ErrUnsupportedOperation: a mutating call on a read-only context.
	ErrUnsupportedOperation = errors.New("unsupported operation on read-only context")
)
