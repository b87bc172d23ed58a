// Package transport brings up a modern virtio PCI device and exposes its
// split virtqueues: the status handshake, feature negotiation, ring
// allocation, doorbell kicks, and used-ring completion polling.
package transport

import (
	"github.com/lab47/lsvd/logger"
	"github.com/pkg/errors"

	"github.com/agaveos/virtio/mmio"
	"github.com/agaveos/virtio/pci"
	"github.com/agaveos/virtio/virtq"
)

// RegionMapper turns a window of a BAR into accessible memory. The kernel
// backs this with page tables; hosted device models return their own
// emulated regions.
type RegionMapper interface {
	Map(bar pci.BAR, offset, length uint32) (mmio.Region, error)
}

// FrameAllocator hands out 4096-byte frames the device can DMA into.
// The returned address is what goes into ring registers and descriptors;
// the region is the driver's view of the same bytes.
type FrameAllocator interface {
	AllocFrame() (uint64, mmio.Region, error)
}

// FrameSize is the allocation unit for ring memory and scratch buffers.
const FrameSize = 4096

// Transport is one initialized virtio device. It contains no locking;
// callers serialize access.
type Transport struct {
	log logger.Logger

	devType DeviceType
	bars    [6]pci.BAR
	caps    pci.Capabilities

	common CommonConfig

	notify     mmio.Region
	notifyAddr uint64
	notifyMult uint32

	isr mmio.Region

	deviceCfg    mmio.Region
	deviceCfgLen uint32

	queues   []*virtq.Queue
	queueSel uint16

	deviceFeatures uint64
	driverFeatures uint64
	status         uint8
	configGen      uint8
}

// Init walks the device's capabilities and runs the full bring-up
// handshake: reset, ACKNOWLEDGE, DRIVER, feature word, FEATURES_OK latch
// check, per-queue ring setup, DRIVER_OK. Failures return an *InitError
// and leave the device for the caller to skip.
func Init(log logger.Logger, cs pci.ConfigSpace, mapper RegionMapper, frames FrameAllocator) (*Transport, error) {
	devType := DeviceTypeFromID(cs.ReadConfig16(pci.RegDeviceID))
	if !devType.Known() {
		log.Warn("skipping unknown virtio device", "type", int(devType))
		return nil, initErr(devType, ErrUnknownDevice)
	}

	log.Info("initializing virtio device", "type", devType)

	bars := pci.ReadBARs(cs)

	caps, err := pci.WalkCapabilities(cs)
	if err != nil {
		return nil, initErr(devType, errors.Wrap(ErrMissingCapability, err.Error()))
	}

	t := &Transport{
		log:     log,
		devType: devType,
		bars:    bars,
		caps:    caps,
	}

	commonMem, err := mapper.Map(bars[caps.Common.Bar], caps.Common.Offset, caps.Common.Length)
	if err != nil {
		return nil, initErr(devType, errors.Wrap(err, "mapping common config"))
	}
	t.common = NewCommonConfig(commonMem)

	t.notify, err = mapper.Map(bars[caps.Notify.Bar], caps.Notify.Offset, caps.Notify.Length)
	if err != nil {
		return nil, initErr(devType, errors.Wrap(err, "mapping notify window"))
	}
	t.notifyAddr = bars[caps.Notify.Bar].Addr + uint64(caps.Notify.Offset)
	t.notifyMult = caps.Notify.Multiplier

	t.deviceCfg, err = mapper.Map(bars[caps.Device.Bar], caps.Device.Offset, caps.Device.Length)
	if err != nil {
		return nil, initErr(devType, errors.Wrap(err, "mapping device config"))
	}
	t.deviceCfgLen = caps.Device.Length

	if caps.ISR != nil {
		t.isr, err = mapper.Map(bars[caps.ISR.Bar], caps.ISR.Offset, caps.ISR.Length)
		if err != nil {
			return nil, initErr(devType, errors.Wrap(err, "mapping isr window"))
		}
	}

	if err := t.handshake(frames); err != nil {
		return nil, initErr(devType, err)
	}

	return t, nil
}

func (t *Transport) handshake(frames FrameAllocator) error {
	cc := t.common

	cc.SetDeviceStatus(0)
	cc.SetDeviceStatus(cc.DeviceStatus() | StatusAcknowledge)
	cc.SetDeviceStatus(cc.DeviceStatus() | StatusDriver)

	t.deviceFeatures = cc.ReadDeviceFeatures()
	t.driverFeatures = bringupFeatures(t.devType, t.deviceFeatures)
	cc.WriteDriverFeatures(t.driverFeatures)

	t.log.Trace("feature handshake",
		"device-features", t.deviceFeatures,
		"driver-features", t.driverFeatures)

	cc.SetDeviceStatus(cc.DeviceStatus() | StatusFeaturesOK)
	if cc.DeviceStatus()&StatusFeaturesOK == 0 {
		return ErrFeatureLatch
	}

	// MSI-X delivery stays off; completions are polled.
	cc.SetMsixConfig(NoVector)

	numQueues := cc.NumQueues()
	t.queues = make([]*virtq.Queue, numQueues)

	for q := uint16(0); q < numQueues; q++ {
		cc.SetQueueSelect(q)

		size := cc.QueueSize()
		if size == 0 {
			t.log.Trace("queue not available", "queue", q)
			continue
		}

		queue, err := t.setupQueue(q, size, frames)
		if err != nil {
			return errors.Wrapf(err, "setting up queue %d", q)
		}
		t.queues[q] = queue
	}

	cc.SetDeviceStatus(cc.DeviceStatus() | StatusDriverOK)

	t.status = cc.DeviceStatus()
	t.configGen = cc.ConfigGeneration()

	t.log.Info("virtio device ready",
		"type", t.devType,
		"queues", numQueues,
		"status", t.status)

	return nil
}

// setupQueue allocates the three rings for the selected queue, pre-fills
// every descriptor with a writable scratch frame, and enables the queue.
func (t *Transport) setupQueue(q, size uint16, frames FrameAllocator) (*virtq.Queue, error) {
	cc := t.common

	descAddr, descMem, err := frames.AllocFrame()
	if err != nil {
		return nil, errors.Wrap(err, "allocating descriptor table")
	}
	cc.SetQueueDesc(descAddr)

	availAddr, availMem, err := frames.AllocFrame()
	if err != nil {
		return nil, errors.Wrap(err, "allocating avail ring")
	}
	cc.SetQueueDriver(availAddr)

	usedAddr, usedMem, err := frames.AllocFrame()
	if err != nil {
		return nil, errors.Wrap(err, "allocating used ring")
	}
	cc.SetQueueDevice(usedAddr)

	queue := virtq.New(size, descMem, availMem, usedMem)

	err = queue.FillScratch(func() (uint64, error) {
		addr, _, err := frames.AllocFrame()
		return addr, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "allocating scratch buffers")
	}

	// Suppress device-to-driver interrupts; this transport polls.
	queue.Avail().SetFlags(virtq.AvailFNoInterrupt)

	cc.SetQueueMsixVector(NoVector)
	cc.SetQueueEnable(1)

	queue.SetNotifyOff(cc.QueueNotifyOff())
	queue.SetEnabled(true)

	t.log.Trace("queue initialized",
		"queue", q,
		"size", size,
		"desc", descAddr,
		"driver", availAddr,
		"device", usedAddr,
		"notify-off", queue.NotifyOff())

	return queue, nil
}

// DeviceType returns what kind of device this transport drives.
func (t *Transport) DeviceType() DeviceType {
	return t.devType
}

// NumQueues reports how many queues the device advertises.
func (t *Transport) NumQueues() uint16 {
	return uint16(len(t.queues))
}

// Queue returns queue q without changing the selection.
func (t *Transport) Queue(q uint16) (*virtq.Queue, error) {
	if int(q) >= len(t.queues) || t.queues[q] == nil {
		return nil, errors.Wrapf(ErrNoSuchQueue, "queue %d", q)
	}
	return t.queues[q], nil
}

// QueueSelect points the per-queue operations below at queue q, mirroring
// the selection into the device register.
func (t *Transport) QueueSelect(q uint16) error {
	if _, err := t.Queue(q); err != nil {
		return err
	}

	t.queueSel = q
	t.common.SetQueueSelect(q)
	return nil
}

// SelectedQueue returns the queue QueueSelect last pointed at, or nil when
// the selection never moved off a zero-size queue.
func (t *Transport) SelectedQueue() *virtq.Queue {
	if int(t.queueSel) >= len(t.queues) {
		return nil
	}
	return t.queues[t.queueSel]
}

// AcquireDesc pops a free descriptor id from the selected queue.
func (t *Transport) AcquireDesc() (virtq.Handle, bool) {
	queue := t.SelectedQueue()
	if queue == nil {
		return virtq.Handle{}, false
	}
	return queue.AcquireDesc()
}

// AcquireDescPair pops two ids atomically from the selected queue.
func (t *Transport) AcquireDescPair() (virtq.Handle, virtq.Handle, bool) {
	queue := t.SelectedQueue()
	if queue == nil {
		return virtq.Handle{}, virtq.Handle{}, false
	}
	return queue.AcquireDescPair()
}

// ReleaseDesc returns a descriptor id to the selected queue.
func (t *Transport) ReleaseDesc(h virtq.Handle) error {
	queue := t.SelectedQueue()
	if queue == nil {
		return errors.Wrapf(ErrNoSuchQueue, "queue %d", t.queueSel)
	}
	return queue.ReleaseDesc(h)
}

// CreateChain builds a descriptor chain on the selected queue.
func (t *Transport) CreateChain(buffers []virtq.Buffer) (uint16, error) {
	queue := t.SelectedQueue()
	if queue == nil {
		return 0, errors.Wrapf(ErrNoSuchQueue, "queue %d", t.queueSel)
	}
	return queue.CreateChain(buffers)
}

// SubmitChain publishes a chain head on the selected queue and kicks.
func (t *Transport) SubmitChain(head uint16) {
	queue := t.SelectedQueue()
	if queue == nil {
		return
	}
	queue.PublishAvail(head)
	t.Kick(t.queueSel)
}

// NextUsed consumes at most one completion from the selected queue.
func (t *Transport) NextUsed() (virtq.UsedElem, bool) {
	queue := t.SelectedQueue()
	if queue == nil {
		return virtq.UsedElem{}, false
	}
	return queue.NextUsed()
}

// HasUsed peeks for pending completions on the selected queue.
func (t *Transport) HasUsed() bool {
	queue := t.SelectedQueue()
	if queue == nil {
		return false
	}
	return queue.HasUsed()
}

// ProcessUsed drains the selected queue's completions through handler.
func (t *Transport) ProcessUsed(handler func(virtq.UsedElem)) int {
	queue := t.SelectedQueue()
	if queue == nil {
		return 0
	}
	return queue.ProcessUsed(handler)
}

// Kick rings queue q's doorbell: a 16-bit write of the queue index at the
// queue's slot inside the notify window.
func (t *Transport) Kick(q uint16) {
	if int(q) >= len(t.queues) {
		return
	}
	queue := t.queues[q]
	if queue == nil {
		return
	}

	t.notify.SetUint16(t.notifyMult*uint32(queue.NotifyOff()), q)
}

// NotifyAddress returns the bus address queue q's doorbell lives at.
func (t *Transport) NotifyAddress(q uint16) (uint64, error) {
	queue, err := t.Queue(q)
	if err != nil {
		return 0, err
	}

	return t.notifyAddr + uint64(t.notifyMult)*uint64(queue.NotifyOff()), nil
}
