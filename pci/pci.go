package pci

// ConfigSpace is the configuration space of one PCI function. The kernel's
// bus driver owns enumeration; this package only consumes an already
// discovered function.
type ConfigSpace interface {
	ReadConfig8(off uint8) uint8
	ReadConfig16(off uint8) uint16
	ReadConfig32(off uint8) uint32

	WriteConfig8(off uint8, v uint8)
	WriteConfig16(off uint8, v uint16)
	WriteConfig32(off uint8, v uint32)
}

// Standard type-0 header registers.
const (
	RegVendorID            = 0x00
	RegDeviceID            = 0x02
	RegCommand             = 0x04
	RegStatus              = 0x06
	RegBAR0                = 0x10
	RegCapabilitiesPointer = 0x34
)

const (
	// VendorID is the virtio PCI vendor id.
	VendorID = 0x1AF4

	// DeviceIDBase is subtracted from the PCI device id to obtain the
	// virtio device type. Modern devices start at 0x1040.
	DeviceIDBase = 0x1040
)

type BARKind uint8

const (
	BARNone BARKind = iota
	BARMemory
	BARIO
)

// BAR is one decoded base address register. Addr is the bus address the
// firmware programmed; mapping it into the address space is the page
// mapper's job, not ours.
type BAR struct {
	Kind BARKind
	Addr uint64
}

func (b BAR) String() string {
	switch b.Kind {
	case BARMemory:
		return "memory"
	case BARIO:
		return "io"
	default:
		return "none"
	}
}

// ReadBARs decodes all six type-0 BARs. The upper half of a 64-bit memory
// BAR consumes the following slot, which is left as BARNone.
func ReadBARs(cs ConfigSpace) [6]BAR {
	var bars [6]BAR

	for idx := 0; idx < 6; idx++ {
		off := uint8(RegBAR0 + idx*4)
		raw := cs.ReadConfig32(off)
		if raw == 0 {
			continue
		}

		if raw&0x1 != 0 {
			bars[idx] = BAR{Kind: BARIO, Addr: uint64(raw &^ 0x3)}
			continue
		}

		addr := uint64(raw &^ 0xF)
		if (raw>>1)&0x3 == 0x2 && idx < 5 {
			high := cs.ReadConfig32(uint8(RegBAR0 + (idx+1)*4))
			addr |= uint64(high) << 32
			bars[idx] = BAR{Kind: BARMemory, Addr: addr}
			idx++
			continue
		}

		bars[idx] = BAR{Kind: BARMemory, Addr: addr}
	}

	return bars
}
