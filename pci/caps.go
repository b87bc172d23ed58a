package pci

import "github.com/pkg/errors"

// Vendor-specific capability ids and the cfg_type values virtio assigns
// inside them.
const (
	CapIDVendor = 0x09

	CfgTypeCommon    = 1
	CfgTypeNotify    = 2
	CfgTypeISR       = 3
	CfgTypeDevice    = 4
	CfgTypePCIConfig = 5
)

// Capability layout within the vendor capability body.
const (
	capOffCfgType    = 3
	capOffBar        = 4
	capOffOffset     = 8
	capOffLength     = 12
	capOffMultiplier = 16
)

// maxCapWalk bounds the list walk so a malformed next pointer cannot loop
// us forever. Config space is 256 bytes and each capability is at least 4,
// so any honest list is far shorter.
const maxCapWalk = 64

// Capability is one decoded virtio vendor capability. It names a window
// inside a BAR; Multiplier is only meaningful for the notify capability.
type Capability struct {
	CfgType    uint8
	Bar        uint8
	Offset     uint32
	Length     uint32
	Multiplier uint32
}

// Capabilities holds the windows a modern virtio device advertises.
// Common, Notify, Device and PciConfig are mandatory; ISR may be absent on
// devices driven purely by polling.
type Capabilities struct {
	Common    *Capability
	Notify    *Capability
	ISR       *Capability
	Device    *Capability
	PciConfig *Capability
}

// WalkCapabilities follows the capability list from offset 0x34 and decodes
// every virtio vendor capability. The first capability of each cfg_type
// wins; devices list their preferred window first.
func WalkCapabilities(cs ConfigSpace) (Capabilities, error) {
	var caps Capabilities

	off := cs.ReadConfig8(RegCapabilitiesPointer)

	for n := 0; off != 0 && n < maxCapWalk; n++ {
		id := cs.ReadConfig8(off)
		next := cs.ReadConfig8(off + 1)

		if id == CapIDVendor {
			c := Capability{
				CfgType: cs.ReadConfig8(off + capOffCfgType),
				Bar:     cs.ReadConfig8(off + capOffBar),
				Offset:  cs.ReadConfig32(off + capOffOffset),
				Length:  cs.ReadConfig32(off + capOffLength),
			}

			switch c.CfgType {
			case CfgTypeCommon:
				if caps.Common == nil {
					caps.Common = &c
				}
			case CfgTypeNotify:
				if caps.Notify == nil {
					c.Multiplier = cs.ReadConfig32(off + capOffMultiplier)
					caps.Notify = &c
				}
			case CfgTypeISR:
				if caps.ISR == nil {
					caps.ISR = &c
				}
			case CfgTypeDevice:
				if caps.Device == nil {
					caps.Device = &c
				}
			case CfgTypePCIConfig:
				if caps.PciConfig == nil {
					caps.PciConfig = &c
				}
			}
		}

		off = next
	}

	if caps.Common == nil {
		return caps, errors.New("device advertises no common config capability")
	}

	if caps.Notify == nil {
		return caps, errors.New("device advertises no notify capability")
	}

	if caps.Device == nil {
		return caps, errors.New("device advertises no device config capability")
	}

	if caps.PciConfig == nil {
		return caps, errors.New("device advertises no pci config capability")
	}

	return caps, nil
}
