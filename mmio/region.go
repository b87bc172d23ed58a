package mmio

import "encoding/binary"

// Region is a window of device-visible memory. Every accessor performs a
// real load or store of exactly the named width; implementations must not
// cache values, since the device mutates registers behind the driver's back.
type Region interface {
	Uint8(off uint32) uint8
	SetUint8(off uint32, v uint8)

	Uint16(off uint32) uint16
	SetUint16(off uint32, v uint16)

	Uint32(off uint32) uint32
	SetUint32(off uint32, v uint32)

	Uint64(off uint32) uint64
	SetUint64(off uint32, v uint64)

	Len() uint32
}

// ByteRegion is a Region over ordinary memory. It carries the little-endian
// layout the wire format requires, so it doubles as the ring accessor for
// queue memory and as the backing store for hosted device models.
type ByteRegion struct {
	data []byte
}

func NewByteRegion(data []byte) *ByteRegion {
	return &ByteRegion{data: data}
}

func (r *ByteRegion) Bytes() []byte {
	return r.data
}

func (r *ByteRegion) Len() uint32 {
	return uint32(len(r.data))
}

func (r *ByteRegion) Uint8(off uint32) uint8 {
	return r.data[off]
}

func (r *ByteRegion) SetUint8(off uint32, v uint8) {
	r.data[off] = v
}

func (r *ByteRegion) Uint16(off uint32) uint16 {
	return binary.LittleEndian.Uint16(r.data[off:])
}

func (r *ByteRegion) SetUint16(off uint32, v uint16) {
	binary.LittleEndian.PutUint16(r.data[off:], v)
}

func (r *ByteRegion) Uint32(off uint32) uint32 {
	return binary.LittleEndian.Uint32(r.data[off:])
}

func (r *ByteRegion) SetUint32(off uint32, v uint32) {
	binary.LittleEndian.PutUint32(r.data[off:], v)
}

func (r *ByteRegion) Uint64(off uint32) uint64 {
	return binary.LittleEndian.Uint64(r.data[off:])
}

func (r *ByteRegion) SetUint64(off uint32, v uint64) {
	binary.LittleEndian.PutUint64(r.data[off:], v)
}

// ReadBytes copies len(p) bytes out of r starting at off.
func ReadBytes(r Region, off uint32, p []byte) {
	if br, ok := r.(*ByteRegion); ok {
		copy(p, br.data[off:])
		return
	}

	for i := range p {
		p[i] = r.Uint8(off + uint32(i))
	}
}

// WriteBytes copies p into r starting at off.
func WriteBytes(r Region, off uint32, p []byte) {
	if br, ok := r.(*ByteRegion); ok {
		copy(br.data[off:], p)
		return
	}

	for i := range p {
		r.SetUint8(off+uint32(i), p[i])
	}
}

// View returns a sub-window of r. Offsets into the view are relative to off.
func (r *ByteRegion) View(off, length uint32) *ByteRegion {
	return &ByteRegion{data: r.data[off : off+length]}
}
