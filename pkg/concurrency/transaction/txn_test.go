package transaction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestTransactionIDUniqueness(t *testing.T) {
	a := NewTransactionID()
	b := NewTransactionID()

	assert.NotEqual(t, a.ID(), b.ID())
	assert.True(t, a.Equals(a))
	assert.False(t, a.Equals(b))
}

func TestTransactionIDEqualsNil(t *testing.T) {
	a := NewTransactionID()

	assert.False(t, a.Equals(nil))
	var nilID *TransactionID
	assert.True(t, nilID.Equals(nil))
}

func TestTransactionIDFromValue(t *testing.T) {
	tid := NewTransactionIDFromValue(42)
	assert.Equal(t, int64(42), tid.ID())
	assert.Equal(t, "TID-42", tid.String())
}

func TestStatusTransitions(t *testing.T) {
	tc := NewTransactionContext(NewTransactionID())

	assert.True(t, tc.IsActive())
	assert.Equal(t, TxActive, tc.Status())

	tc.SetStatus(TxCommitted)
	assert.False(t, tc.IsActive())
	assert.Equal(t, TxCommitted, tc.Status())
	assert.GreaterOrEqual(t, tc.Duration(), time.Duration(0))
}

func TestBlockUnblockHandshake(t *testing.T) {
	tc := NewTransactionContext(NewTransactionID())

	tc.PrepareBlock()
	require.True(t, tc.IsBlocked())

	done := make(chan struct{})
	go func() {
		tc.Block()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Block returned before Unblock")
	case <-time.After(20 * time.Millisecond):
	}

	tc.Unblock()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Block never returned after Unblock")
	}
	assert.False(t, tc.IsBlocked())
}

func TestUnblockBeforeBlock(t *testing.T) {
	tc := NewTransactionContext(NewTransactionID())

	// The wake token is buffered: an Unblock racing ahead of Block must
	// not be lost.
	tc.PrepareBlock()
	tc.Unblock()

	done := make(chan struct{})
	go func() {
		tc.Block()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Block never returned")
	}
}

func TestRedundantUnblockIsDropped(t *testing.T) {
	tc := NewTransactionContext(NewTransactionID())

	tc.PrepareBlock()
	tc.Unblock()
	tc.Unblock()
	tc.Unblock()
	tc.Block()

	// Only one wake token may remain buffered; a fresh Block must wait.
	tc.PrepareBlock()
	done := make(chan struct{})
	go func() {
		tc.Block()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("stale wake token leaked into the next block cycle")
	case <-time.After(20 * time.Millisecond):
	}
	tc.Unblock()
	<-done
}

func TestRegistryBeginGetRemove(t *testing.T) {
	reg := NewTransactionRegistry()

	tc := reg.Begin()
	require.NotNil(t, tc)
	assert.Equal(t, 1, reg.Count())

	got, err := reg.Get(tc.TransNum())
	require.NoError(t, err)
	assert.Same(t, tc, got)

	reg.Remove(tc.TransNum())
	assert.Equal(t, 0, reg.Count())
	_, err = reg.Get(tc.TransNum())
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestRegistryActive(t *testing.T) {
	reg := NewTransactionRegistry()

	t1 := reg.Begin()
	t2 := reg.Begin()
	assert.Len(t, reg.Active(), 2)

	t1.SetStatus(TxAborted)
	active := reg.Active()
	require.Len(t, active, 1)
	assert.Same(t, t2, active[0])
}

func TestRegistryConcurrentBegin(t *testing.T) {
	reg := NewTransactionRegistry()

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			tc := reg.Begin()
			_, err := reg.Get(tc.TransNum())
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 16, reg.Count())
}
