// Package lock implements multigranular locking for granodb's concurrency
// control layer.
//
// # Overview
//
// Resources form a hierarchy — database, table, page, row — and a
// transaction may lock at any level. Intent locks on coarser levels declare
// locks held or planned at finer levels, so two transactions touching
// different rows of one table conflict only when their modes actually
// conflict. Six lock modes are supported:
//
//   - [NoLock]                — holds nothing; the zero value.
//   - [IntentShared]          — will read at finer granularity.
//   - [IntentExclusive]       — will write at finer granularity.
//   - [SharedLock]            — reads this whole subtree.
//   - [SharedIntentExclusive] — reads this subtree, will write parts of it.
//   - [ExclusiveLock]         — reads and writes this whole subtree.
//
// # Components
//
// Two layers split the work:
//
//   - [LockManager] — the flat layer. Owns per-resource grant lists and
//     FIFO wait queues plus the global transaction→locks table, enforces
//     compatibility, and blocks and unblocks transactions. It knows nothing
//     about granularity.
//   - [LockContext] — the hierarchical layer. One context per resource,
//     arranged in a tree; validates multigranularity constraints (intent
//     locks on ancestors, descendant shapes, SIX subsumption) and issues
//     appropriately shaped requests to the flat manager.
//
// [EnsureSufficientLockHeld] sits on top of both: given an access intent
// (S or X) on a context, it acquires the least permissive set of locks on
// the context and its ancestors that makes the access legal.
//
// # Blocking
//
// A request that cannot be granted immediately parks its transaction in the
// resource's FIFO queue. Queues are strictly non-overtaking: a later
// compatible request is not granted while an earlier one waits. Promotions
// and atomic acquire-and-release requests go to the queue front, since their
// transactions already hold a lock on the resource. Releasing a lock
// processes the queue from the front, granting and unblocking until the
// first request that cannot be satisfied.
//
// The manager performs no deadlock detection and no timeouts; a blocked
// transaction stays blocked until a release makes its request grantable.
// Deadlock handling belongs to an external abort driver.
package lock
