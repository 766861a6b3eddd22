package cancel

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignal_CancelFiresListenersAfterFlagVisible(t *testing.T) {
	s := New()
	var flagWasSetInListener atomic.Bool

	s.OnCancel(func() {
		flagWasSetInListener.Store(s.IsCancelled())
	})

	s.Cancel("test")

	require.True(t, s.IsCancelled())
	assert.True(t, flagWasSetInListener.Load(), "cancelled flag must be visible before listeners fire")
}

func TestSignal_CancelIsIdempotent(t *testing.T) {
	s := New()
	var calls atomic.Int32
	s.OnCancel(func() { calls.Add(1) })

	s.Cancel("first")
	s.Cancel("second")

	assert.Equal(t, int32(1), calls.Load())
}

func TestSignal_OnCancelAfterCancelRunsImmediately(t *testing.T) {
	s := New()
	s.Cancel("")

	ran := false
	s.OnCancel(func() { ran = true })

	assert.True(t, ran)
}

func TestSignal_ThrowIfCancelled(t *testing.T) {
	s := New()
	require.NoError(t, s.ThrowIfCancelled())

	s.Cancel("boom")
	err := s.ThrowIfCancelled()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestDerive_ParentCancellationPropagates(t *testing.T) {
	parentCtx, parentCancel := context.WithCancel(context.Background())
	child := Derive(parentCtx)

	parentCancel()

	require.Eventually(t, func() bool {
		return child.IsCancelled()
	}, time.Second, time.Millisecond)
}
