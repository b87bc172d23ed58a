// Package devmodel hosts a device-side model of the modern virtio PCI
// protocol: config space with the capability chain, an emulated common
// config block with FEATURES_OK latching, notify capture, and used-ring
// completion injection. It is the protocol peer for tests and the probe
// binary.
package devmodel

import (
	"encoding/binary"

	"github.com/lab47/lsvd/logger"
	"github.com/pkg/errors"

	"github.com/agaveos/virtio/mmio"
	"github.com/agaveos/virtio/pci"
	"github.com/agaveos/virtio/virtq"
)

// Memory resolves bus addresses the driver programmed into registers and
// descriptors back into readable memory.
type Memory interface {
	At(addr uint64, length uint32) (mmio.Region, error)
}

// Window offsets inside BAR0.
const (
	commonOffset = 0x0000
	isrOffset    = 0x1000
	deviceOffset = 0x2000
	notifyOffset = 0x3000

	notifyLength     = 0x400
	notifyMultiplier = 4
)

// Kick is one captured doorbell write.
type Kick struct {
	Offset uint32
	Queue  uint16
}

type queueState struct {
	size       uint16
	enabled    bool
	msixVector uint16

	descAddr   uint64
	driverAddr uint64
	deviceAddr uint64

	// lastAvail is the device-side cursor into the driver's avail ring.
	lastAvail uint16
}

// Device is one modeled virtio function.
type Device struct {
	log logger.Logger
	mem Memory

	barBase  uint64
	cfgSpace [256]byte

	deviceFeatures uint64
	rejectFeatures bool

	deviceFeatureSel uint32
	driverFeatureSel uint32
	driverFeatures   uint64
	msixConfig       uint16
	status           uint8
	configGen        uint8
	queueSel         uint16

	queues    []queueState
	deviceCfg []byte
	isr       uint8

	kicks []Kick
}

type Option func(*Device)

// WithDeviceID sets the raw PCI device id (0x1040 + virtio type).
func WithDeviceID(id uint16) Option {
	return func(d *Device) {
		binary.LittleEndian.PutUint16(d.cfgSpace[pci.RegDeviceID:], id)
	}
}

// WithQueueSizes declares the device's queues; a zero size models a queue
// the device does not provide.
func WithQueueSizes(sizes ...uint16) Option {
	return func(d *Device) {
		d.queues = make([]queueState, len(sizes))
		for i, sz := range sizes {
			d.queues[i].size = sz
			d.queues[i].msixVector = 0xFFFF
		}
	}
}

// WithDeviceFeatures sets the 64-bit feature vector the device offers.
func WithDeviceFeatures(features uint64) Option {
	return func(d *Device) {
		d.deviceFeatures = features
	}
}

// WithDeviceConfig installs the device-specific config blob.
func WithDeviceConfig(cfg []byte) Option {
	return func(d *Device) {
		d.deviceCfg = append([]byte(nil), cfg...)
	}
}

// WithBARBase places BAR0 at the given bus address.
func WithBARBase(addr uint64) Option {
	return func(d *Device) {
		d.barBase = addr
	}
}

// New builds a device model. Defaults: a network device at 0x1000_0000
// with two 8-entry queues and a 16-byte device config.
func New(log logger.Logger, mem Memory, opts ...Option) *Device {
	d := &Device{
		log:       log,
		mem:       mem,
		barBase:   0x1000_0000,
		deviceCfg: make([]byte, 16),
	}

	binary.LittleEndian.PutUint16(d.cfgSpace[pci.RegVendorID:], pci.VendorID)
	binary.LittleEndian.PutUint16(d.cfgSpace[pci.RegDeviceID:], pci.DeviceIDBase+1)

	WithQueueSizes(8, 8)(d)

	for _, o := range opts {
		o(d)
	}

	d.writeBAR0()
	d.writeCapabilities()

	return d
}

func (d *Device) writeBAR0() {
	binary.LittleEndian.PutUint32(d.cfgSpace[pci.RegBAR0:], uint32(d.barBase))
}

func (d *Device) putCap(off, next, cfgType uint8, winOff, winLen uint32) {
	d.cfgSpace[off] = pci.CapIDVendor
	d.cfgSpace[off+1] = next
	d.cfgSpace[off+3] = cfgType
	d.cfgSpace[off+4] = 0 // everything lives in BAR0
	binary.LittleEndian.PutUint32(d.cfgSpace[off+8:], winOff)
	binary.LittleEndian.PutUint32(d.cfgSpace[off+12:], winLen)
}

func (d *Device) writeCapabilities() {
	d.cfgSpace[pci.RegCapabilitiesPointer] = 0x40

	d.putCap(0x40, 0x54, pci.CfgTypeCommon, commonOffset, 0x38)
	d.putCap(0x54, 0x68, pci.CfgTypeNotify, notifyOffset, notifyLength)
	binary.LittleEndian.PutUint32(d.cfgSpace[0x54+16:], notifyMultiplier)
	d.putCap(0x68, 0x7C, pci.CfgTypeISR, isrOffset, 1)
	d.putCap(0x7C, 0x90, pci.CfgTypeDevice, deviceOffset, uint32(len(d.deviceCfg)))
	d.putCap(0x90, 0x00, pci.CfgTypePCIConfig, 0, 4)
}

// ReadConfig8 and friends implement the PCI config space surface.
func (d *Device) ReadConfig8(off uint8) uint8 {
	return d.cfgSpace[off]
}

func (d *Device) ReadConfig16(off uint8) uint16 {
	return binary.LittleEndian.Uint16(d.cfgSpace[off:])
}

func (d *Device) ReadConfig32(off uint8) uint32 {
	return binary.LittleEndian.Uint32(d.cfgSpace[off:])
}

func (d *Device) WriteConfig8(off uint8, v uint8) {
	d.cfgSpace[off] = v
}

func (d *Device) WriteConfig16(off uint8, v uint16) {
	binary.LittleEndian.PutUint16(d.cfgSpace[off:], v)
}

func (d *Device) WriteConfig32(off uint8, v uint32) {
	binary.LittleEndian.PutUint32(d.cfgSpace[off:], v)
}

// Map hands the driver an emulated view of a BAR window.
func (d *Device) Map(bar pci.BAR, offset, length uint32) (mmio.Region, error) {
	if bar.Kind != pci.BARMemory || bar.Addr != d.barBase {
		return nil, errors.Errorf("no window at bar %s 0x%x", bar, bar.Addr)
	}

	switch offset {
	case commonOffset:
		return &commonRegion{dev: d, length: length}, nil
	case isrOffset:
		return &isrRegion{dev: d}, nil
	case deviceOffset:
		return mmio.NewByteRegion(d.deviceCfg), nil
	case notifyOffset:
		return &notifyRegion{dev: d, length: length}, nil
	default:
		return nil, errors.Errorf("no window at bar offset 0x%x", offset)
	}
}

// RejectFeatures makes the device refuse the next FEATURES_OK latch.
func (d *Device) RejectFeatures(reject bool) {
	d.rejectFeatures = reject
}

// DriverFeatures returns the feature vector the driver wrote.
func (d *Device) DriverFeatures() uint64 {
	return d.driverFeatures
}

// Status returns the live status byte.
func (d *Device) Status() uint8 {
	return d.status
}

// Kicks returns every doorbell write seen so far.
func (d *Device) Kicks() []Kick {
	return d.kicks
}

func (d *Device) queue(q uint16) (*queueState, error) {
	if int(q) >= len(d.queues) {
		return nil, errors.Errorf("queue %d out of range", q)
	}
	return &d.queues[q], nil
}

// QueueEnabled reports whether the driver enabled queue q.
func (d *Device) QueueEnabled(q uint16) bool {
	qs, err := d.queue(q)
	return err == nil && qs.enabled
}

// PopAvail consumes the next descriptor id the driver published on
// queue q. ok is false when the device has caught up.
func (d *Device) PopAvail(q uint16) (uint16, bool, error) {
	qs, err := d.queue(q)
	if err != nil {
		return 0, false, err
	}

	mem, err := d.mem.At(qs.driverAddr, virtq.AvailRingBytes(qs.size))
	if err != nil {
		return 0, false, errors.Wrap(err, "resolving avail ring")
	}

	avail := virtq.NewAvailRing(mem, qs.size)
	if qs.lastAvail == avail.Idx() {
		return 0, false, nil
	}

	id := avail.Ring(qs.lastAvail % qs.size)
	qs.lastAvail++

	return id, true, nil
}

// ReadDesc reads descriptor id from queue q's table.
func (d *Device) ReadDesc(q, id uint16) (virtq.Desc, error) {
	qs, err := d.queue(q)
	if err != nil {
		return virtq.Desc{}, err
	}

	mem, err := d.mem.At(qs.descAddr, virtq.DescTableBytes(qs.size))
	if err != nil {
		return virtq.Desc{}, errors.Wrap(err, "resolving descriptor table")
	}

	return virtq.NewDescTable(mem).At(id), nil
}

// Complete publishes one used element on queue q, the way a device
// reports a consumed chain.
func (d *Device) Complete(q uint16, id uint32, length uint32) error {
	qs, err := d.queue(q)
	if err != nil {
		return err
	}

	mem, err := d.mem.At(qs.deviceAddr, virtq.UsedRingBytes(qs.size))
	if err != nil {
		return errors.Wrap(err, "resolving used ring")
	}

	virtq.NewUsedRing(mem, qs.size).Push(virtq.UsedElem{ID: id, Len: length})
	d.isr |= 1

	d.log.Trace("completion published", "queue", q, "id", id, "len", length)

	return nil
}

// SetDeviceConfig replaces the device-specific config in place and bumps
// the generation counter. The blob length is fixed at construction.
func (d *Device) SetDeviceConfig(cfg []byte) error {
	if len(cfg) != len(d.deviceCfg) {
		return errors.Errorf("config is %d bytes, device has %d", len(cfg), len(d.deviceCfg))
	}

	copy(d.deviceCfg, cfg)
	d.configGen++

	return nil
}
