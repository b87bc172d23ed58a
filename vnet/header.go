package vnet

import (
	"encoding/binary"
	"io"
)

// Header GSO types.
const (
	GSONone  = 0
	GSOTCPv4 = 1
	GSOUDP   = 3
	GSOTCPv6 = 4
)

// HeaderFNeedsCsum marks a packet with a partial checksum the peer must
// finish.
const HeaderFNeedsCsum = 1

// Header is the virtio-net header carried in front of every frame. Layout
// matches virtio_net_hdr without num_buffers; NetHdrSize bytes on the
// wire.
type Header struct {
	Flags      uint8
	GSOType    uint8
	HdrLen     uint16
	GSOSize    uint16
	CsumStart  uint16
	CsumOffset uint16
}

// Decode reads the header from the front of b.
func (h *Header) Decode(b []byte) error {
	if len(b) < NetHdrSize {
		return io.ErrShortBuffer
	}

	h.Flags = b[0]
	h.GSOType = b[1]
	h.HdrLen = binary.LittleEndian.Uint16(b[2:])
	h.GSOSize = binary.LittleEndian.Uint16(b[4:])
	h.CsumStart = binary.LittleEndian.Uint16(b[6:])
	h.CsumOffset = binary.LittleEndian.Uint16(b[8:])

	return nil
}

// Encode writes the header to the front of b.
func (h *Header) Encode(b []byte) error {
	if len(b) < NetHdrSize {
		return io.ErrShortBuffer
	}

	b[0] = h.Flags
	b[1] = h.GSOType
	binary.LittleEndian.PutUint16(b[2:], h.HdrLen)
	binary.LittleEndian.PutUint16(b[4:], h.GSOSize)
	binary.LittleEndian.PutUint16(b[6:], h.CsumStart)
	binary.LittleEndian.PutUint16(b[8:], h.CsumOffset)

	return nil
}
