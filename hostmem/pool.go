// Package hostmem carves DMA-style frames out of one anonymous mapping.
// Frames get synthetic bus addresses, so the device model can resolve
// what the driver programs into registers and descriptors.
package hostmem

import (
	"sync"

	"github.com/lab47/lsvd/logger"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/agaveos/virtio/mmio"
)

// FrameSize matches the transport's allocation unit.
const FrameSize = 4096

// poolBase is where the pool's synthetic bus addresses start.
const poolBase = 0x4000_0000

// Pool is a bump allocator over one mmap'd arena. Frames are never
// returned; ring memory lives for the process.
type Pool struct {
	log logger.Logger

	mu   sync.Mutex
	buf  []byte
	next uint32
}

// NewPool maps an arena of the given number of frames.
func NewPool(log logger.Logger, frames int) (*Pool, error) {
	buf, err := unix.Mmap(-1, 0, frames*FrameSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Wrap(err, "mapping frame arena")
	}

	log.Trace("frame arena mapped", "frames", frames, "bytes", len(buf))

	return &Pool{log: log, buf: buf}, nil
}

// AllocFrame hands out one zeroed frame and its bus address.
func (p *Pool) AllocFrame() (uint64, mmio.Region, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if int(p.next)+FrameSize > len(p.buf) {
		return 0, nil, errors.New("hostmem: frame arena exhausted")
	}

	off := p.next
	p.next += FrameSize

	return poolBase + uint64(off), mmio.NewByteRegion(p.buf[off : off+FrameSize]), nil
}

// At resolves a bus address previously returned by AllocFrame.
func (p *Pool) At(addr uint64, length uint32) (mmio.Region, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if addr < poolBase {
		return nil, errors.Errorf("hostmem: address 0x%x below arena", addr)
	}

	off := addr - poolBase
	if off+uint64(length) > uint64(p.next) {
		return nil, errors.Errorf("hostmem: address 0x%x len %d past allocations", addr, length)
	}

	return mmio.NewByteRegion(p.buf[off : off+uint64(length)]), nil
}
