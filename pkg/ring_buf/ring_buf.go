// Package ringbuf is a fixed-size single-producer single-consumer ring.
// One slot stays unused so full and empty are distinguishable without a
// separate count.
package ringbuf

import (
	"sync/atomic"
)

type RingBuf[V any] struct {
	ring []V

	read, write atomic.Int32
}

// NewRingBuf holds at most sz-1 elements.
func NewRingBuf[V any](sz int) *RingBuf[V] {
	return &RingBuf[V]{
		ring: make([]V, sz),
	}
}

// Push appends v. False means the ring is full and v was dropped; the
// producer decides whether that is loss or backpressure.
func (r *RingBuf[V]) Push(v V) bool {
	if r.Full() {
		return false
	}

	wv := r.write.Load()

	r.ring[wv] = v
	r.write.Store((wv + 1) % int32(len(r.ring)))

	return true
}

// Pop removes the oldest element.
func (r *RingBuf[V]) Pop() (V, bool) {
	rv := r.read.Load()
	wv := r.write.Load()

	if rv == wv {
		var v V
		return v, false
	}

	val := r.ring[rv]
	r.read.Store((rv + 1) % int32(len(r.ring)))

	return val, true
}

// Front returns the oldest element without removing it.
func (r *RingBuf[V]) Front() (V, bool) {
	rv := r.read.Load()
	wv := r.write.Load()

	if rv == wv {
		var v V
		return v, false
	}

	return r.ring[rv], true
}

func (r *RingBuf[V]) Empty() bool {
	return r.read.Load() == r.write.Load()
}

func (r *RingBuf[V]) Full() bool {
	rv := r.read.Load()
	wv := (r.write.Load() + 1) % int32(len(r.ring))

	return rv == wv
}

// Len reports how many elements are waiting.
func (r *RingBuf[V]) Len() int {
	rv := r.read.Load()
	wv := r.write.Load()

	if rv > wv {
		return int(wv + int32(len(r.ring)) - rv)
	}

	return int(wv - rv)
}

// Cap reports how many elements fit.
func (r *RingBuf[V]) Cap() int {
	return len(r.ring) - 1
}
