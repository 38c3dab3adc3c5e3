package lock

import "fmt"

// TransactionContext is the view of a transaction the lock manager needs:
// its id and the block/unblock handshake used to suspend it while a request
// waits in a queue. pkg/concurrency/transaction provides the concrete
// implementation.
type TransactionContext interface {
	TransNum() int64

	// PrepareBlock arms the wait state; the lock manager calls it while
	// holding its mutex.
	PrepareBlock()

	// Block suspends the calling goroutine until Unblock; called by the
	// transaction's own goroutine after the manager mutex is released.
	Block()

	// Unblock wakes the transaction; must be safe to call while the lock
	// manager mutex is held, and safe to call redundantly.
	Unblock()
}

// Lock is a granted lock: a (resource, type, transaction) triple. The
// manager retains at most one Lock per (transaction, resource), and Type is
// never NoLock.
type Lock struct {
	Name  ResourceName
	Type  LockType
	TxnID int64
}

func (l Lock) String() string {
	return fmt.Sprintf("%s(%s) by txn %d", l.Type, l.Name, l.TxnID)
}

// lockRequest is a pending request sitting in a resource's wait queue: the
// lock to grant and any locks to release atomically at grant time.
type lockRequest struct {
	txn      TransactionContext
	lock     Lock
	released []Lock
}
