package lock

// resourceEntry holds the lock state of a single resource: the granted
// locks and the FIFO queue of requests that could not be satisfied when
// they were made. The queue front is index 0.
type resourceEntry struct {
	name      ResourceName
	locks     []Lock
	waitQueue []*lockRequest
}

func newResourceEntry(name ResourceName) *resourceEntry {
	return &resourceEntry{name: name}
}

// checkCompatible reports whether a lock of type lt is compatible with all
// granted locks on this resource, ignoring locks held by transaction
// `except`. The exclusion is what lets a transaction replace a lock it
// already holds.
func (re *resourceEntry) checkCompatible(lt LockType, except int64) bool {
	for _, held := range re.locks {
		if held.TxnID == except {
			continue
		}
		if !Compatible(lt, held.Type) {
			return false
		}
	}
	return true
}

// lockTypeFor returns the type of lock the transaction holds on this
// resource, or NoLock.
func (re *resourceEntry) lockTypeFor(txnID int64) LockType {
	for _, held := range re.locks {
		if held.TxnID == txnID {
			return held.Type
		}
	}
	return NoLock
}

// removeLock deletes the transaction's lock on this resource from the
// granted list, preserving the order of the remaining locks.
func (re *resourceEntry) removeLock(txnID int64) {
	for i, held := range re.locks {
		if held.TxnID == txnID {
			re.locks = append(re.locks[:i], re.locks[i+1:]...)
			return
		}
	}
}

// pushFront and pushBack maintain the wait queue. Plain acquires go to the
// back; promotes and acquire-and-release go to the front, since they come
// from transactions that already hold a lock on the resource and must not
// be starved by new acquisitions.
func (re *resourceEntry) pushFront(req *lockRequest) {
	re.waitQueue = append([]*lockRequest{req}, re.waitQueue...)
}

func (re *resourceEntry) pushBack(req *lockRequest) {
	re.waitQueue = append(re.waitQueue, req)
}
