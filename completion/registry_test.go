package completion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lab47/lsvd/logger"
	"github.com/stretchr/testify/require"

	"github.com/agaveos/virtio/virtq"
)

func TestRegistry(t *testing.T) {
	t.Run("completion arriving first is held for the waiter", func(t *testing.T) {
		r := require.New(t)

		reg := NewRegistry(logger.New(logger.Trace))
		reg.Deliver(virtq.UsedElem{ID: 7, Len: 512})

		length, err := reg.Wait(context.Background(), 7)
		r.NoError(err)
		r.Equal(uint32(512), length)
	})

	t.Run("waiter arriving first is woken", func(t *testing.T) {
		r := require.New(t)

		reg := NewRegistry(logger.New(logger.Trace))

		var wg sync.WaitGroup
		wg.Add(1)

		var (
			length uint32
			err    error
		)

		go func() {
			defer wg.Done()
			length, err = reg.Wait(context.Background(), 3)
		}()

		// Give the waiter time to register, then complete.
		time.Sleep(10 * time.Millisecond)
		reg.Deliver(virtq.UsedElem{ID: 3, Len: 64})

		wg.Wait()
		r.NoError(err)
		r.Equal(uint32(64), length)
	})

	t.Run("second waiter on the same id is rejected", func(t *testing.T) {
		r := require.New(t)

		reg := NewRegistry(logger.New(logger.Trace))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			reg.Wait(ctx, 5)
		}()

		time.Sleep(10 * time.Millisecond)

		_, err := reg.Wait(context.Background(), 5)
		r.ErrorIs(err, ErrAlreadyWaiting)

		cancel()
		<-done
	})

	t.Run("cancellation unblocks and unregisters", func(t *testing.T) {
		r := require.New(t)

		reg := NewRegistry(logger.New(logger.Trace))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := reg.Wait(ctx, 9)
		r.ErrorIs(err, context.DeadlineExceeded)

		// The id is free for a new waiter.
		reg.Deliver(virtq.UsedElem{ID: 9, Len: 1})
		length, err := reg.Wait(context.Background(), 9)
		r.NoError(err)
		r.Equal(uint32(1), length)
	})

	t.Run("run drains a poll source", func(t *testing.T) {
		r := require.New(t)

		reg := NewRegistry(logger.New(logger.Trace))

		var mu sync.Mutex
		pending := []virtq.UsedElem{{ID: 1, Len: 10}, {ID: 2, Len: 20}}

		poll := func() (virtq.UsedElem, bool) {
			mu.Lock()
			defer mu.Unlock()
			if len(pending) == 0 {
				return virtq.UsedElem{}, false
			}
			e := pending[0]
			pending = pending[1:]
			return e, true
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go reg.Run(ctx, poll)

		length, err := reg.Wait(context.Background(), 1)
		r.NoError(err)
		r.Equal(uint32(10), length)

		length, err = reg.Wait(context.Background(), 2)
		r.NoError(err)
		r.Equal(uint32(20), length)
	})
}
