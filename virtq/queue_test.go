package virtq

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agaveos/virtio/mmio"
)

func newTestQueue(size uint16) *Queue {
	desc := mmio.NewByteRegion(make([]byte, DescTableBytes(size)))
	avail := mmio.NewByteRegion(make([]byte, AvailRingBytes(size)))
	used := mmio.NewByteRegion(make([]byte, UsedRingBytes(size)))
	return New(size, desc, avail, used)
}

func TestFreeList(t *testing.T) {
	t.Run("outstanding ids never duplicate", func(t *testing.T) {
		r := require.New(t)

		l := NewFreeList(8)
		seen := map[uint16]bool{}

		for i := 0; i < 8; i++ {
			h, ok := l.Acquire()
			r.True(ok)
			r.False(seen[h.ID], "id %d handed out twice", h.ID)
			seen[h.ID] = true
		}

		_, ok := l.Acquire()
		r.False(ok)
	})

	t.Run("released ids come back", func(t *testing.T) {
		r := require.New(t)

		l := NewFreeList(2)
		a, _ := l.Acquire()
		b, _ := l.Acquire()

		r.NoError(l.Release(a))
		r.NoError(l.Release(b))
		r.Equal(2, l.FreeCount())
	})

	t.Run("pair acquisition is atomic", func(t *testing.T) {
		r := require.New(t)

		l := NewFreeList(3)
		_, ok := l.Acquire()
		r.True(ok)
		_, ok = l.Acquire()
		r.True(ok)

		// One id left: the pair must fail without consuming it.
		_, _, ok = l.AcquirePair()
		r.False(ok)
		r.Equal(1, l.FreeCount())

		_, ok = l.Acquire()
		r.True(ok)
	})

	t.Run("double release is an error", func(t *testing.T) {
		r := require.New(t)

		l := NewFreeList(4)
		h, _ := l.Acquire()

		r.NoError(l.Release(h))
		r.ErrorIs(l.Release(h), ErrStaleHandle)
		r.ErrorIs(l.ReleaseID(h.ID), ErrDoubleRelease)
	})

	t.Run("stale handle from a previous acquire is rejected", func(t *testing.T) {
		r := require.New(t)

		l := NewFreeList(1)
		old, _ := l.Acquire()
		r.NoError(l.Release(old))

		// Same id, new generation.
		fresh, _ := l.Acquire()
		r.Equal(old.ID, fresh.ID)
		r.ErrorIs(l.Release(old), ErrStaleHandle)
		r.NoError(l.Release(fresh))
	})
}

func TestQueueAvail(t *testing.T) {
	t.Run("push writes the slot and advances the free-running idx", func(t *testing.T) {
		r := require.New(t)

		q := newTestQueue(4)

		q.PublishAvail(3)
		q.PublishAvail(1)

		r.Equal(uint16(2), q.Avail().Idx())
		r.Equal(uint16(3), q.Avail().Ring(0))
		r.Equal(uint16(1), q.Avail().Ring(1))
	})

	t.Run("idx wraps mod 2^16 while slots wrap mod size", func(t *testing.T) {
		r := require.New(t)

		q := newTestQueue(4)
		q.Avail().SetIdx(0xFFFF)

		q.PublishAvail(2)
		r.Equal(uint16(0), q.Avail().Idx())
		r.Equal(uint16(2), q.Avail().Ring(0xFFFF%4))
	})
}

func TestQueueUsed(t *testing.T) {
	t.Run("consumes the first element published at idx zero", func(t *testing.T) {
		r := require.New(t)

		q := newTestQueue(4)
		r.False(q.HasUsed())

		// Device writes slot 0 and publishes idx 1.
		q.Used().Set(0, UsedElem{ID: 2, Len: 128})
		q.Used().SetIdx(1)

		r.True(q.HasUsed())

		e, ok := q.NextUsed()
		r.True(ok)
		r.Equal(UsedElem{ID: 2, Len: 128}, e)

		_, ok = q.NextUsed()
		r.False(ok)
		r.False(q.HasUsed())
	})

	t.Run("drains a batch in order", func(t *testing.T) {
		r := require.New(t)

		q := newTestQueue(4)
		for i := uint16(0); i < 3; i++ {
			q.Used().Push(UsedElem{ID: uint32(i), Len: 64})
		}

		var ids []uint32
		n := q.ProcessUsed(func(e UsedElem) {
			ids = append(ids, e.ID)
		})

		r.Equal(3, n)
		r.Equal([]uint32{0, 1, 2}, ids)
	})

	t.Run("keeps up across the 16-bit counter wrap", func(t *testing.T) {
		r := require.New(t)

		q := newTestQueue(4)

		// Walk the cursor to the top of the counter space.
		for i := 0; i < 0xFFFF; i++ {
			q.Used().Push(UsedElem{ID: 1, Len: 1})
			_, ok := q.NextUsed()
			r.True(ok)
		}

		r.False(q.HasUsed())

		q.Used().Push(UsedElem{ID: 3, Len: 16})
		e, ok := q.NextUsed()
		r.True(ok)
		r.Equal(uint32(3), e.ID)
		r.False(q.HasUsed())
	})
}

func TestCreateChain(t *testing.T) {
	t.Run("links three buffers in order", func(t *testing.T) {
		r := require.New(t)

		q := newTestQueue(8)

		head, err := q.CreateChain([]Buffer{
			{Addr: 0x1000, Len: 16, Flags: 0},
			{Addr: 0x2000, Len: 32, Flags: 0},
			{Addr: 0x3000, Len: 64, Flags: DescFWrite},
		})
		r.NoError(err)

		first := q.Desc().At(head)
		r.Equal(uint64(0x1000), first.Addr)
		r.NotZero(first.Flags & DescFNext)

		second := q.Desc().At(first.Next)
		r.Equal(uint64(0x2000), second.Addr)
		r.NotZero(second.Flags & DescFNext)

		last := q.Desc().At(second.Next)
		r.Equal(uint64(0x3000), last.Addr)
		r.Equal(uint16(DescFWrite), last.Flags)

		r.Equal(5, q.FreeDescriptors())
	})

	t.Run("rolls back fully when ids run short", func(t *testing.T) {
		r := require.New(t)

		q := newTestQueue(2)

		_, err := q.CreateChain([]Buffer{
			{Addr: 0x1000, Len: 16},
			{Addr: 0x2000, Len: 16},
			{Addr: 0x3000, Len: 16},
		})
		r.ErrorIs(err, ErrNoFreeDescriptors)
		r.Equal(2, q.FreeDescriptors())
	})

	t.Run("release chain returns every id", func(t *testing.T) {
		r := require.New(t)

		q := newTestQueue(4)

		head, err := q.CreateChain([]Buffer{
			{Addr: 0x1000, Len: 16},
			{Addr: 0x2000, Len: 16, Flags: DescFWrite},
		})
		r.NoError(err)
		r.Equal(2, q.FreeDescriptors())

		r.NoError(q.ReleaseChain(head))
		r.Equal(4, q.FreeDescriptors())
	})
}

func TestFillScratch(t *testing.T) {
	r := require.New(t)

	q := newTestQueue(4)

	next := uint64(0x10000)
	err := q.FillScratch(func() (uint64, error) {
		addr := next
		next += 4096
		return addr, nil
	})
	r.NoError(err)

	for id := uint16(0); id < 4; id++ {
		d := q.Desc().At(id)
		r.Equal(uint64(0x10000)+uint64(id)*4096, d.Addr)
		r.Equal(uint32(4096), d.Len)
		r.Equal(uint16(DescFWrite), d.Flags)
		r.Equal(uint16(NoNext), d.Next)
	}
}
