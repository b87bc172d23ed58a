package mmio

import "unsafe"

// PointerRegion is a Region over mapped device memory. Accesses go through
// raw pointers so the compiler emits one load or store per call; register
// values are produced by the device, not by prior Go writes, which is why
// none of this can be expressed with plain slices.
//
// The host is assumed little-endian, matching the wire format.
type PointerRegion struct {
	base   unsafe.Pointer
	length uint32
}

// NewPointerRegion wraps length bytes of already-mapped memory at base.
// The caller converts to unsafe.Pointer at the mapping site, keeping the
// uintptr round trip out of this package.
func NewPointerRegion(base unsafe.Pointer, length uint32) *PointerRegion {
	return &PointerRegion{base: base, length: length}
}

func (r *PointerRegion) Len() uint32 {
	return r.length
}

func (r *PointerRegion) at(off uint32, width uint32) unsafe.Pointer {
	if off+width > r.length {
		panic("mmio: access past end of region")
	}
	return unsafe.Add(r.base, uintptr(off))
}

func (r *PointerRegion) Uint8(off uint32) uint8 {
	return *(*uint8)(r.at(off, 1))
}

func (r *PointerRegion) SetUint8(off uint32, v uint8) {
	*(*uint8)(r.at(off, 1)) = v
}

func (r *PointerRegion) Uint16(off uint32) uint16 {
	return *(*uint16)(r.at(off, 2))
}

func (r *PointerRegion) SetUint16(off uint32, v uint16) {
	*(*uint16)(r.at(off, 2)) = v
}

func (r *PointerRegion) Uint32(off uint32) uint32 {
	return *(*uint32)(r.at(off, 4))
}

func (r *PointerRegion) SetUint32(off uint32, v uint32) {
	*(*uint32)(r.at(off, 4)) = v
}

func (r *PointerRegion) Uint64(off uint32) uint64 {
	return *(*uint64)(r.at(off, 8))
}

func (r *PointerRegion) SetUint64(off uint32, v uint64) {
	*(*uint64)(r.at(off, 8)) = v
}
