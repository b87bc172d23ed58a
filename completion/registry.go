// Package completion routes used-ring elements to the goroutines waiting
// on them, keyed by descriptor id.
package completion

import (
	"context"
	"sync"
	"time"

	"github.com/lab47/lsvd/logger"
	"github.com/pkg/errors"

	"github.com/agaveos/virtio/virtq"
)

// ErrAlreadyWaiting reports a second Wait on a descriptor id that already
// has a waiter.
var ErrAlreadyWaiting = errors.New("completion: id already has a waiter")

// Registry pairs submitted descriptor ids with their completions. One
// goroutine (Run) is the sole consumer of the used ring; waiters block on
// per-id channels. A completion that arrives before its Wait is held until
// the waiter shows up.
type Registry struct {
	log logger.Logger

	mu      sync.Mutex
	waiters map[uint16]chan uint32
	results map[uint16]uint32
}

func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		log:     log,
		waiters: make(map[uint16]chan uint32),
		results: make(map[uint16]uint32),
	}
}

// Deliver routes one used element. Safe to call from the polling goroutine
// only.
func (r *Registry) Deliver(e virtq.UsedElem) {
	id := uint16(e.ID)

	r.mu.Lock()
	ch, ok := r.waiters[id]
	if ok {
		delete(r.waiters, id)
	} else {
		r.results[id] = e.Len
	}
	r.mu.Unlock()

	if ok {
		ch <- e.Len
	} else {
		r.log.Trace("completion held for absent waiter", "id", id, "len", e.Len)
	}
}

// Wait blocks until descriptor id completes or ctx ends. It returns the
// byte count the device reported. Abandoning a wait does not recycle the
// id; that stays the submitter's job.
func (r *Registry) Wait(ctx context.Context, id uint16) (uint32, error) {
	r.mu.Lock()

	if length, ok := r.results[id]; ok {
		delete(r.results, id)
		r.mu.Unlock()
		return length, nil
	}

	if _, ok := r.waiters[id]; ok {
		r.mu.Unlock()
		return 0, errors.Wrapf(ErrAlreadyWaiting, "id %d", id)
	}

	ch := make(chan uint32, 1)
	r.waiters[id] = ch
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.waiters, id)
		r.mu.Unlock()
		return 0, ctx.Err()
	case length := <-ch:
		return length, nil
	}
}

// Run polls for completions until ctx ends. poll is typically a queue's
// NextUsed; Run must be the only consumer of that used ring.
func (r *Registry) Run(ctx context.Context, poll func() (virtq.UsedElem, bool)) {
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		for {
			e, ok := poll()
			if !ok {
				break
			}
			r.Deliver(e)
		}
	}
}
