package txn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/lstore-engine/internal/errs"
)

func TestClockIsStrictlyMonotone(t *testing.T) {
	c := &Clock{}
	prev := c.Next()
	for i := 0; i < 100; i++ {
		next := c.Next()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestAcquireReleaseUncontended(t *testing.T) {
	lm := NewLockManager()
	res := ResourceKey{Table: "t", Key: 1}

	lm.Register(1, 10)
	require.NoError(t, lm.Acquire(res, 1, 10))
	lm.Release(res, 1)
	lm.Unregister(1)
}

func TestYoungerRequesterGetsConflict(t *testing.T) {
	lm := NewLockManager()
	res := ResourceKey{Table: "t", Key: 1}

	lm.Register(1, 10) // older
	lm.Register(2, 20) // younger
	require.NoError(t, lm.Acquire(res, 1, 10))

	err := lm.Acquire(res, 2, 20)
	assert.ErrorIs(t, err, errs.ErrConflict)

	lm.Release(res, 1)
	lm.Unregister(1)
	lm.Unregister(2)
}

func TestOlderRequesterWoundsYoungerHolder(t *testing.T) {
	lm := NewLockManager()
	res := ResourceKey{Table: "t", Key: 1}

	lm.Register(2, 20) // younger holds first
	require.NoError(t, lm.Acquire(res, 2, 20))

	lm.Register(1, 10) // older wants it

	done := make(chan error, 1)
	go func() {
		done <- lm.Acquire(res, 1, 10)
	}()

	// give the goroutine a chance to block and wound the holder
	time.Sleep(20 * time.Millisecond)
	assert.True(t, lm.IsWounded(2))

	lm.Release(res, 2)
	lm.Unregister(2)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("older requester never acquired the resource after release")
	}
	lm.Release(res, 1)
	lm.Unregister(1)
}
