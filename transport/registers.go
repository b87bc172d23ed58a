package transport

import "github.com/agaveos/virtio/mmio"

// Device status bits, accumulated in order during bring-up.
const (
	StatusAcknowledge = 1
	StatusDriver      = 2
	StatusDriverOK    = 4
	StatusFeaturesOK  = 8
	StatusNeedsReset  = 64
	StatusFailed      = 128
)

// NoVector disables MSI-X delivery for a config or queue vector register.
const NoVector = 0xFFFF

// Common config register offsets, VIRTIO 1.1 layout.
const (
	regDeviceFeatureSelect = 0x00 // u32
	regDeviceFeature       = 0x04 // u32
	regDriverFeatureSelect = 0x08 // u32
	regDriverFeature       = 0x0C // u32
	regMsixConfig          = 0x10 // u16
	regNumQueues           = 0x12 // u16
	regDeviceStatus        = 0x14 // u8
	regConfigGeneration    = 0x15 // u8
	regQueueSelect         = 0x16 // u16
	regQueueSize           = 0x18 // u16
	regQueueMsixVector     = 0x1A // u16
	regQueueEnable         = 0x1C // u16
	regQueueNotifyOff      = 0x1E // u16
	regQueueDesc           = 0x20 // u64
	regQueueDriver         = 0x28 // u64
	regQueueDevice         = 0x30 // u64
)

// CommonConfigLen is the span of the register block above.
const CommonConfigLen = 0x38

// CommonConfig is the register-file view of the common config window.
// Every method is one real register access.
type CommonConfig struct {
	mem mmio.Region
}

func NewCommonConfig(mem mmio.Region) CommonConfig {
	return CommonConfig{mem: mem}
}

func (c CommonConfig) SetDeviceFeatureSelect(v uint32) {
	c.mem.SetUint32(regDeviceFeatureSelect, v)
}

func (c CommonConfig) DeviceFeature() uint32 {
	return c.mem.Uint32(regDeviceFeature)
}

func (c CommonConfig) SetDriverFeatureSelect(v uint32) {
	c.mem.SetUint32(regDriverFeatureSelect, v)
}

func (c CommonConfig) SetDriverFeature(v uint32) {
	c.mem.SetUint32(regDriverFeature, v)
}

func (c CommonConfig) SetMsixConfig(v uint16) {
	c.mem.SetUint16(regMsixConfig, v)
}

func (c CommonConfig) NumQueues() uint16 {
	return c.mem.Uint16(regNumQueues)
}

func (c CommonConfig) DeviceStatus() uint8 {
	return c.mem.Uint8(regDeviceStatus)
}

func (c CommonConfig) SetDeviceStatus(v uint8) {
	c.mem.SetUint8(regDeviceStatus, v)
}

func (c CommonConfig) ConfigGeneration() uint8 {
	return c.mem.Uint8(regConfigGeneration)
}

func (c CommonConfig) SetQueueSelect(q uint16) {
	c.mem.SetUint16(regQueueSelect, q)
}

func (c CommonConfig) QueueSize() uint16 {
	return c.mem.Uint16(regQueueSize)
}

func (c CommonConfig) SetQueueMsixVector(v uint16) {
	c.mem.SetUint16(regQueueMsixVector, v)
}

func (c CommonConfig) SetQueueEnable(v uint16) {
	c.mem.SetUint16(regQueueEnable, v)
}

func (c CommonConfig) QueueNotifyOff() uint16 {
	return c.mem.Uint16(regQueueNotifyOff)
}

func (c CommonConfig) SetQueueDesc(addr uint64) {
	c.mem.SetUint64(regQueueDesc, addr)
}

func (c CommonConfig) SetQueueDriver(addr uint64) {
	c.mem.SetUint64(regQueueDriver, addr)
}

func (c CommonConfig) SetQueueDevice(addr uint64) {
	c.mem.SetUint64(regQueueDevice, addr)
}

// ReadDeviceFeatures assembles the 64-bit device feature vector through
// the select/value pair.
func (c CommonConfig) ReadDeviceFeatures() uint64 {
	c.SetDeviceFeatureSelect(0)
	low := uint64(c.DeviceFeature())
	c.SetDeviceFeatureSelect(1)
	high := uint64(c.DeviceFeature())
	return high<<32 | low
}

// WriteDriverFeatures splits the 64-bit driver feature vector across the
// select/value pair.
func (c CommonConfig) WriteDriverFeatures(features uint64) {
	c.SetDriverFeatureSelect(0)
	c.SetDriverFeature(uint32(features))
	c.SetDriverFeatureSelect(1)
	c.SetDriverFeature(uint32(features >> 32))
}
