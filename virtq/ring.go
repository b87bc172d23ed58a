// Package virtq implements one split-ring virtqueue: the descriptor table,
// the driver-owned avail ring, and the device-owned used ring, all laid out
// over raw region memory shared with the device.
package virtq

import "github.com/agaveos/virtio/mmio"

// Descriptor flags.
const (
	DescFNext     = 1
	DescFWrite    = 2
	DescFIndirect = 4
)

// AvailFNoInterrupt asks the device not to interrupt after consuming a
// buffer. Bit 0 of the avail ring's flags word.
const AvailFNoInterrupt = 1

// NoNext marks the end of a chain in the next field of a descriptor that
// does not carry DescFNext.
const NoNext = 0xFFFF

const (
	descSize     = 16
	ringHdrSize  = 4
	usedElemSize = 8
)

// Desc is one descriptor table entry. Addr is a bus address the device can
// DMA from or to.
type Desc struct {
	Addr  uint64
	Len   uint32
	Flags uint16
	Next  uint16
}

// UsedElem is one used ring entry: the head descriptor id of a consumed
// chain and how many bytes the device wrote into it.
type UsedElem struct {
	ID  uint32
	Len uint32
}

// DescTableBytes returns the byte span of a descriptor table for size
// descriptors.
func DescTableBytes(size uint16) uint32 {
	return uint32(size) * descSize
}

// AvailRingBytes returns the byte span of an avail ring for size entries.
func AvailRingBytes(size uint16) uint32 {
	return ringHdrSize + uint32(size)*2
}

// UsedRingBytes returns the byte span of a used ring for size entries.
func UsedRingBytes(size uint16) uint32 {
	return ringHdrSize + uint32(size)*usedElemSize
}

// DescTable views a region as an array of descriptors.
type DescTable struct {
	mem mmio.Region
}

func NewDescTable(mem mmio.Region) DescTable {
	return DescTable{mem: mem}
}

func (t DescTable) At(id uint16) Desc {
	base := uint32(id) * descSize
	return Desc{
		Addr:  t.mem.Uint64(base),
		Len:   t.mem.Uint32(base + 8),
		Flags: t.mem.Uint16(base + 12),
		Next:  t.mem.Uint16(base + 14),
	}
}

func (t DescTable) Set(id uint16, d Desc) {
	base := uint32(id) * descSize
	t.mem.SetUint64(base, d.Addr)
	t.mem.SetUint32(base+8, d.Len)
	t.mem.SetUint16(base+12, d.Flags)
	t.mem.SetUint16(base+14, d.Next)
}

// AvailRing views a region as the driver-owned ring. The idx field is a
// free-running counter; the device takes it mod the queue size.
type AvailRing struct {
	mem  mmio.Region
	size uint16
}

func NewAvailRing(mem mmio.Region, size uint16) AvailRing {
	return AvailRing{mem: mem, size: size}
}

func (r AvailRing) Flags() uint16 {
	return r.mem.Uint16(0)
}

func (r AvailRing) SetFlags(v uint16) {
	r.mem.SetUint16(0, v)
}

func (r AvailRing) Idx() uint16 {
	return r.mem.Uint16(2)
}

func (r AvailRing) SetIdx(v uint16) {
	r.mem.SetUint16(2, v)
}

func (r AvailRing) Ring(slot uint16) uint16 {
	return r.mem.Uint16(ringHdrSize + uint32(slot)*2)
}

// Push publishes one descriptor id: it lands in slot idx%size and idx
// advances by one. The idx in ring memory is the source of truth, the
// driver keeps no shadow copy.
func (r AvailRing) Push(id uint16) {
	idx := r.Idx()
	r.mem.SetUint16(ringHdrSize+uint32(idx%r.size)*2, id)
	r.SetIdx(idx + 1)
}

// UsedRing views a region as the device-owned ring. The driver only writes
// it in hosted device models and tests.
type UsedRing struct {
	mem  mmio.Region
	size uint16
}

func NewUsedRing(mem mmio.Region, size uint16) UsedRing {
	return UsedRing{mem: mem, size: size}
}

func (r UsedRing) Flags() uint16 {
	return r.mem.Uint16(0)
}

func (r UsedRing) Idx() uint16 {
	return r.mem.Uint16(2)
}

func (r UsedRing) SetIdx(v uint16) {
	r.mem.SetUint16(2, v)
}

func (r UsedRing) At(slot uint16) UsedElem {
	base := ringHdrSize + uint32(slot)*usedElemSize
	return UsedElem{
		ID:  r.mem.Uint32(base),
		Len: r.mem.Uint32(base + 4),
	}
}

func (r UsedRing) Set(slot uint16, e UsedElem) {
	base := ringHdrSize + uint32(slot)*usedElemSize
	r.mem.SetUint32(base, e.ID)
	r.mem.SetUint32(base+4, e.Len)
}

// Push appends one element the way a device does: slot idx%size, then
// advance idx.
func (r UsedRing) Push(e UsedElem) {
	idx := r.Idx()
	r.Set(idx%r.size, e)
	r.SetIdx(idx + 1)
}
