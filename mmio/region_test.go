package mmio

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestByteRegion(t *testing.T) {
	t.Run("round trips little-endian values", func(t *testing.T) {
		r := require.New(t)

		reg := NewByteRegion(make([]byte, 32))

		reg.SetUint8(0, 0xAB)
		r.Equal(uint8(0xAB), reg.Uint8(0))

		reg.SetUint16(2, 0x1234)
		r.Equal(uint16(0x1234), reg.Uint16(2))
		r.Equal(uint8(0x34), reg.Uint8(2))
		r.Equal(uint8(0x12), reg.Uint8(3))

		reg.SetUint32(4, 0xDEADBEEF)
		r.Equal(uint32(0xDEADBEEF), reg.Uint32(4))

		reg.SetUint64(8, 0x1122334455667788)
		r.Equal(uint64(0x1122334455667788), reg.Uint64(8))
		r.Equal(uint32(0x55667788), reg.Uint32(8))
		r.Equal(uint32(0x11223344), reg.Uint32(12))
	})

	t.Run("bulk copies", func(t *testing.T) {
		r := require.New(t)

		reg := NewByteRegion(make([]byte, 16))

		WriteBytes(reg, 4, []byte{1, 2, 3})

		out := make([]byte, 3)
		ReadBytes(reg, 4, out)
		r.Equal([]byte{1, 2, 3}, out)
	})

	t.Run("views are windows into the parent", func(t *testing.T) {
		r := require.New(t)

		reg := NewByteRegion(make([]byte, 16))
		sub := reg.View(4, 8)

		sub.SetUint32(0, 0xCAFEBABE)
		r.Equal(uint32(0xCAFEBABE), reg.Uint32(4))
		r.Equal(uint32(8), sub.Len())
	})
}

func TestPointerRegion(t *testing.T) {
	t.Run("reads and writes through raw pointers", func(t *testing.T) {
		r := require.New(t)

		backing := make([]byte, 64)
		reg := NewPointerRegion(unsafe.Pointer(&backing[0]), uint32(len(backing)))

		reg.SetUint16(0, 0xBEEF)
		r.Equal(uint16(0xBEEF), reg.Uint16(0))

		reg.SetUint64(8, 0x0102030405060708)
		r.Equal(uint64(0x0102030405060708), reg.Uint64(8))
	})

	t.Run("panics past the end", func(t *testing.T) {
		r := require.New(t)

		backing := make([]byte, 4)
		reg := NewPointerRegion(unsafe.Pointer(&backing[0]), uint32(len(backing)))

		r.Panics(func() {
			reg.Uint32(1)
		})
	})
}
