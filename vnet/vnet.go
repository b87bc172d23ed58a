// Package vnet is a minimal virtio-net receive path over a transport: it
// keeps the receive queue's descriptors posted, strips the virtio-net
// header from completed buffers, and hands decoded Ethernet frames to a
// handler.
package vnet

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/lab47/lsvd/logger"
	"github.com/pkg/errors"

	"github.com/agaveos/virtio/mmio"
	"github.com/agaveos/virtio/transport"
	"github.com/agaveos/virtio/virtq"
)

// NetHdrSize is the virtio-net header prepended to every frame on the
// wire.
const NetHdrSize = 10

// virtio-net feature bits.
const (
	FeatureCsum     = uint64(1) << 0
	FeatureMac      = uint64(1) << 5
	FeatureMrgRxbuf = uint64(1) << 15
	FeatureStatus   = uint64(1) << 16
)

// Device config offsets.
const (
	cfgMac    = 0 // 6 bytes
	cfgStatus = 6 // u16
)

// StatusLinkUp is bit 0 of the status config word.
const StatusLinkUp = 1

// receiveQueue is queue 0 by convention.
const receiveQueue = 0

// Memory resolves descriptor buffer addresses back to readable bytes.
type Memory interface {
	At(addr uint64, length uint32) (mmio.Region, error)
}

// FrameHandler receives one decoded frame per completed receive buffer.
type FrameHandler func(gopacket.Packet)

// Device is the receive side of one virtio network device.
type Device struct {
	log logger.Logger
	tr  *transport.Transport
	mem Memory

	queue   *virtq.Queue
	handler FrameHandler

	mac net.HardwareAddr
}

// New negotiates network features, reads the MAC, and posts every receive
// descriptor to the device. The transport's bring-up already pointed each
// descriptor at a writable scratch frame.
func New(log logger.Logger, tr *transport.Transport, mem Memory, handler FrameHandler) (*Device, error) {
	if tr.DeviceType() != transport.Network {
		return nil, errors.Errorf("not a network device: %s", tr.DeviceType())
	}

	queue, err := tr.Queue(receiveQueue)
	if err != nil {
		return nil, errors.Wrap(err, "receive queue")
	}

	d := &Device{
		log:     log,
		tr:      tr,
		mem:     mem,
		queue:   queue,
		handler: handler,
	}

	tr.NegotiateFeatures(transport.FeatureVersion1 | FeatureMac | FeatureStatus)

	mac := make(net.HardwareAddr, 6)
	for i := range mac {
		b, err := tr.ReadConfigUint8(uint32(cfgMac + i))
		if err != nil {
			return nil, errors.Wrap(err, "reading mac")
		}
		mac[i] = b
	}
	d.mac = mac

	// The receive queue owns all its descriptors; post every one.
	for {
		h, ok := queue.AcquireDesc()
		if !ok {
			break
		}
		queue.PublishAvail(h.ID)
	}
	tr.Kick(receiveQueue)

	log.Info("virtio-net receive path up", "mac", mac.String(), "queue-size", queue.Size())

	return d, nil
}

// MAC returns the device's hardware address.
func (d *Device) MAC() net.HardwareAddr {
	return d.mac
}

// LinkUp reads the live link state from device config.
func (d *Device) LinkUp() bool {
	status, err := d.tr.ReadConfigUint16(cfgStatus)
	if err != nil {
		return false
	}
	return status&StatusLinkUp != 0
}

// Poll drains completed receive buffers, delivering each frame and
// reposting its descriptor. Returns how many frames were handled.
func (d *Device) Poll() int {
	n := 0

	for {
		e, ok := d.queue.NextUsed()
		if !ok {
			break
		}

		d.deliver(e)

		// Repost: same scratch buffer, back on the avail ring.
		id := uint16(e.ID)
		desc := d.queue.Desc().At(id)
		desc.Len = transport.FrameSize
		desc.Flags = virtq.DescFWrite
		desc.Next = virtq.NoNext
		d.queue.Desc().Set(id, desc)
		d.queue.PublishAvail(id)

		n++
	}

	if n > 0 {
		d.tr.Kick(receiveQueue)
	}

	return n
}

func (d *Device) deliver(e virtq.UsedElem) {
	if e.Len <= NetHdrSize {
		d.log.Warn("runt receive buffer", "id", e.ID, "len", e.Len)
		return
	}

	desc := d.queue.Desc().At(uint16(e.ID))

	mem, err := d.mem.At(desc.Addr, e.Len)
	if err != nil {
		d.log.Error("unresolvable receive buffer", "id", e.ID, "addr", desc.Addr, "error", err)
		return
	}

	data := make([]byte, e.Len)
	mmio.ReadBytes(mem, 0, data)

	var hdr Header
	if err := hdr.Decode(data); err != nil {
		d.log.Warn("undecodable virtio-net header", "id", e.ID, "error", err)
		return
	}

	if hdr.GSOType != GSONone {
		d.log.Trace("gso frame", "type", hdr.GSOType, "size", hdr.GSOSize)
	}

	pkt := gopacket.NewPacket(data[NetHdrSize:], layers.LayerTypeEthernet, gopacket.Default)

	d.log.Trace("received frame", "id", e.ID, "len", len(data)-NetHdrSize)

	d.handler(pkt)
}
