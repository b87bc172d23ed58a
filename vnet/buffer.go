package vnet

import (
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/lab47/lsvd/logger"

	ringbuf "github.com/agaveos/virtio/pkg/ring_buf"
)

// FrameQueue buffers decoded frames between the receive poller and a
// consumer running on its own schedule. Single producer (the Poll
// goroutine), single consumer. When the backlog is full new frames are
// dropped and counted.
type FrameQueue struct {
	log logger.Logger

	buf     *ringbuf.RingBuf[gopacket.Packet]
	dropped atomic.Uint64
}

// NewFrameQueue holds up to depth frames.
func NewFrameQueue(log logger.Logger, depth int) *FrameQueue {
	return &FrameQueue{
		log: log,
		buf: ringbuf.NewRingBuf[gopacket.Packet](depth + 1),
	}
}

// Handler adapts the queue to the Device's frame callback.
func (f *FrameQueue) Handler() FrameHandler {
	return func(pkt gopacket.Packet) {
		if !f.buf.Push(pkt) {
			f.dropped.Add(1)
			f.log.Warn("frame backlog full, dropping", "pending", f.buf.Len())
		}
	}
}

// Next removes the oldest buffered frame.
func (f *FrameQueue) Next() (gopacket.Packet, bool) {
	return f.buf.Pop()
}

// Pending reports how many frames are waiting.
func (f *FrameQueue) Pending() int {
	return f.buf.Len()
}

// Dropped reports how many frames were lost to a full backlog.
func (f *FrameQueue) Dropped() uint64 {
	return f.dropped.Load()
}
