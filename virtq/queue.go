package virtq

import "github.com/agaveos/virtio/mmio"

// Buffer describes one element of a descriptor chain.
type Buffer struct {
	Addr  uint64
	Len   uint32
	Flags uint16
}

// Queue is one virtqueue: the three ring views plus the driver-side
// bookkeeping. Ring memory belongs to the queue for the life of the
// device; there is no teardown.
type Queue struct {
	size      uint16
	notifyOff uint16
	enabled   bool

	desc  DescTable
	avail AvailRing
	used  UsedRing

	freeList *FreeList

	// lastUsed trails the device's used idx by one: the slot of the last
	// consumed element. 0xFFFF means nothing consumed yet, so the device's
	// first element at idx 0 is picked up.
	lastUsed uint16
}

// New wraps already-allocated ring memory. Descriptor contents are
// whatever the caller put there; see FillScratch for the bring-up
// pre-fill.
func New(size uint16, desc, avail, used mmio.Region) *Queue {
	return &Queue{
		size:     size,
		desc:     NewDescTable(desc),
		avail:    NewAvailRing(avail, size),
		used:     NewUsedRing(used, size),
		freeList: NewFreeList(size),
		lastUsed: 0xFFFF,
	}
}

func (q *Queue) Size() uint16 {
	return q.size
}

func (q *Queue) NotifyOff() uint16 {
	return q.notifyOff
}

func (q *Queue) SetNotifyOff(off uint16) {
	q.notifyOff = off
}

func (q *Queue) Enabled() bool {
	return q.enabled
}

func (q *Queue) SetEnabled(on bool) {
	q.enabled = on
}

func (q *Queue) Desc() DescTable {
	return q.desc
}

func (q *Queue) Avail() AvailRing {
	return q.avail
}

func (q *Queue) Used() UsedRing {
	return q.used
}

// AcquireDesc pops one free descriptor id.
func (q *Queue) AcquireDesc() (Handle, bool) {
	return q.freeList.Acquire()
}

// AcquireDescPair pops two ids atomically.
func (q *Queue) AcquireDescPair() (Handle, Handle, bool) {
	return q.freeList.AcquirePair()
}

// ReleaseDesc returns a descriptor id by handle.
func (q *Queue) ReleaseDesc(h Handle) error {
	return q.freeList.Release(h)
}

// ReleaseDescID returns a descriptor id that came back from the used ring.
func (q *Queue) ReleaseDescID(id uint16) error {
	return q.freeList.ReleaseID(id)
}

// FreeDescriptors reports how many ids are currently free.
func (q *Queue) FreeDescriptors() int {
	return q.freeList.FreeCount()
}

// FillScratch points every descriptor at its own freshly allocated
// device-writable scratch frame. Run once at bring-up so the device can
// DMA into any descriptor before a driver assigns real buffers.
func (q *Queue) FillScratch(allocFrame func() (uint64, error)) error {
	for id := uint16(0); id < q.size; id++ {
		addr, err := allocFrame()
		if err != nil {
			return err
		}

		q.desc.Set(id, Desc{
			Addr:  addr,
			Len:   4096,
			Flags: DescFWrite,
			Next:  NoNext,
		})
	}

	return nil
}

// PublishAvail hands one head descriptor id to the device.
func (q *Queue) PublishAvail(id uint16) {
	q.avail.Push(id)
}

// CreateChain allocates one descriptor per buffer and links them in order.
// Allocation is all-or-nothing: on shortfall every id taken so far goes
// back and ErrNoFreeDescriptors is returned. Interior descriptors gain
// DescFNext; the last carries the caller's flags verbatim. Returns the
// head id; publish it with PublishAvail.
func (q *Queue) CreateChain(buffers []Buffer) (uint16, error) {
	if len(buffers) == 0 {
		return 0, ErrNoFreeDescriptors
	}

	handles := make([]Handle, 0, len(buffers))

	for range buffers {
		h, ok := q.freeList.Acquire()
		if !ok {
			for _, taken := range handles {
				// Cannot fail: taken was acquired in this loop and its
				// generation has not moved.
				_ = q.freeList.Release(taken)
			}
			return 0, ErrNoFreeDescriptors
		}
		handles = append(handles, h)
	}

	for i, b := range buffers {
		d := Desc{
			Addr:  b.Addr,
			Len:   b.Len,
			Flags: b.Flags,
			Next:  NoNext,
		}

		if i+1 < len(handles) {
			d.Flags |= DescFNext
			d.Next = handles[i+1].ID
		}

		q.desc.Set(handles[i].ID, d)
	}

	return handles[0].ID, nil
}

// ReleaseChain walks a completed chain from its head and frees every id
// in it.
func (q *Queue) ReleaseChain(head uint16) error {
	id := head
	for {
		d := q.desc.At(id)

		if err := q.freeList.ReleaseID(id); err != nil {
			return err
		}

		if d.Flags&DescFNext == 0 {
			return nil
		}
		id = d.Next
	}
}

// HasUsed reports whether the device has published an element the driver
// has not consumed yet.
func (q *Queue) HasUsed() bool {
	return q.lastUsed+1 != q.used.Idx()
}

// NextUsed consumes at most one used element. ok is false when the driver
// has caught up with the device.
func (q *Queue) NextUsed() (UsedElem, bool) {
	if q.lastUsed+1 == q.used.Idx() {
		return UsedElem{}, false
	}

	q.lastUsed++
	return q.used.At(q.lastUsed % q.size), true
}

// ProcessUsed drains the used ring through handler and reports how many
// elements it consumed.
func (q *Queue) ProcessUsed(handler func(UsedElem)) int {
	n := 0
	for {
		e, ok := q.NextUsed()
		if !ok {
			return n
		}
		handler(e)
		n++
	}
}
