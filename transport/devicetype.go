package transport

import (
	"fmt"

	"github.com/agaveos/virtio/pci"
)

// DeviceType identifies what kind of virtio device sits behind a PCI
// function. The value is the PCI device id minus the modern id base, so
// unknown types keep their raw id for logging.
type DeviceType int

const (
	Network DeviceType = 1
	Block   DeviceType = 2
	Console DeviceType = 3
	Balloon DeviceType = 5
	Scsi    DeviceType = 8
	Gpu     DeviceType = 16
	Input   DeviceType = 18
)

// DeviceTypeFromID derives the type from a raw PCI device id.
func DeviceTypeFromID(deviceID uint16) DeviceType {
	return DeviceType(int(deviceID) - pci.DeviceIDBase)
}

// Known reports whether this is a type the transport drives.
func (t DeviceType) Known() bool {
	switch t {
	case Network, Block, Console, Balloon, Scsi, Gpu, Input:
		return true
	default:
		return false
	}
}

func (t DeviceType) String() string {
	switch t {
	case Network:
		return "network"
	case Block:
		return "block"
	case Console:
		return "console"
	case Balloon:
		return "balloon"
	case Scsi:
		return "scsi"
	case Gpu:
		return "gpu"
	case Input:
		return "input"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}
