package transaction

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrTransactionNotFound is returned by Get for an unknown transaction id.
var ErrTransactionNotFound = errors.New("transaction not found")

// TransactionRegistry tracks transaction contexts by id from Begin until
// Remove, whatever their status; Active filters for the ones still active.
type TransactionRegistry struct {
	contexts map[int64]*TransactionContext
	mu       sync.RWMutex
}

func NewTransactionRegistry() *TransactionRegistry {
	return &TransactionRegistry{
		contexts: make(map[int64]*TransactionContext),
	}
}

// Begin creates a new transaction context and registers it.
func (tr *TransactionRegistry) Begin() *TransactionContext {
	ctx := NewTransactionContext(NewTransactionID())

	tr.mu.Lock()
	tr.contexts[ctx.TransNum()] = ctx
	tr.mu.Unlock()

	return ctx
}

// Get retrieves a transaction context by id.
func (tr *TransactionRegistry) Get(txnID int64) (*TransactionContext, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	ctx, exists := tr.contexts[txnID]
	if !exists {
		return nil, errors.Wrapf(ErrTransactionNotFound, "transaction %d", txnID)
	}
	return ctx, nil
}

// Remove removes a transaction context from the registry. Called once the
// transaction has committed or aborted and released its locks.
func (tr *TransactionRegistry) Remove(txnID int64) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.contexts, txnID)
}

// Active returns all registered contexts that are still active.
func (tr *TransactionRegistry) Active() []*TransactionContext {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	active := make([]*TransactionContext, 0)
	for _, ctx := range tr.contexts {
		if ctx.IsActive() {
			active = append(active, ctx)
		}
	}
	return active
}

// Count returns the number of registered transactions.
func (tr *TransactionRegistry) Count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.contexts)
}
