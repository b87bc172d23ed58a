package virtq

import "github.com/pkg/errors"

var (
	// ErrNoFreeDescriptors reports free-list exhaustion. Callers back off
	// until completions return ids.
	ErrNoFreeDescriptors = errors.New("virtq: no free descriptors")

	// ErrDoubleRelease reports a release of an id that is already free.
	ErrDoubleRelease = errors.New("virtq: descriptor released twice")

	// ErrStaleHandle reports a release through a handle from an earlier
	// acquire of the same id.
	ErrStaleHandle = errors.New("virtq: stale descriptor handle")
)

// Handle names one outstanding descriptor id. The generation ties it to a
// single acquire, so a handle kept past its release cannot free somebody
// else's descriptor.
type Handle struct {
	ID  uint16
	Gen uint32
}

// FreeList hands out descriptor ids. Ids start all free and recycle
// through Release; an id is never handed out twice without an intervening
// release.
type FreeList struct {
	free  []uint16
	gen   []uint32
	inUse []bool
}

func NewFreeList(size uint16) *FreeList {
	l := &FreeList{
		free:  make([]uint16, 0, size),
		gen:   make([]uint32, size),
		inUse: make([]bool, size),
	}
	for i := uint16(0); i < size; i++ {
		l.free = append(l.free, i)
	}
	return l
}

// FreeCount reports how many ids are currently available.
func (l *FreeList) FreeCount() int {
	return len(l.free)
}

// Acquire pops one id. ok is false when the list is empty.
func (l *FreeList) Acquire() (Handle, bool) {
	if len(l.free) == 0 {
		return Handle{}, false
	}

	id := l.free[len(l.free)-1]
	l.free = l.free[:len(l.free)-1]
	l.inUse[id] = true

	return Handle{ID: id, Gen: l.gen[id]}, true
}

// AcquirePair pops two ids atomically: on shortfall nothing is consumed.
func (l *FreeList) AcquirePair() (Handle, Handle, bool) {
	if len(l.free) < 2 {
		return Handle{}, Handle{}, false
	}

	first, _ := l.Acquire()
	second, _ := l.Acquire()

	return first, second, true
}

// Release returns a handle's id to the list. A stale or already-free
// handle is an error, not corruption.
func (l *FreeList) Release(h Handle) error {
	if int(h.ID) >= len(l.inUse) {
		return errors.Wrapf(ErrStaleHandle, "id %d out of range", h.ID)
	}

	// Generation first: a handle from an earlier acquire is stale whether
	// or not the slot has since been handed out again.
	if l.gen[h.ID] != h.Gen {
		return errors.Wrapf(ErrStaleHandle, "id %d gen %d, current %d", h.ID, h.Gen, l.gen[h.ID])
	}

	if !l.inUse[h.ID] {
		return errors.Wrapf(ErrDoubleRelease, "id %d", h.ID)
	}

	l.inUse[h.ID] = false
	l.gen[h.ID]++
	l.free = append(l.free, h.ID)

	return nil
}

// ReleaseID returns an id that came back from the used ring, where no
// handle is available. Double release is still detected.
func (l *FreeList) ReleaseID(id uint16) error {
	if int(id) >= len(l.inUse) {
		return errors.Wrapf(ErrStaleHandle, "id %d out of range", id)
	}

	return l.Release(Handle{ID: id, Gen: l.gen[id]})
}
