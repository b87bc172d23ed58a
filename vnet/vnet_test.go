package vnet_test

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/lab47/lsvd/logger"
	"github.com/mdlayher/ethernet"
	"github.com/stretchr/testify/require"

	"github.com/agaveos/virtio/devmodel"
	"github.com/agaveos/virtio/hostmem"
	"github.com/agaveos/virtio/mmio"
	"github.com/agaveos/virtio/transport"
	"github.com/agaveos/virtio/vnet"
)

var (
	deviceMAC = net.HardwareAddr{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}
	peerMAC   = net.HardwareAddr{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01}
)

func netConfig() []byte {
	cfg := make([]byte, 12)
	copy(cfg, deviceMAC)
	cfg[6] = vnet.StatusLinkUp
	return cfg
}

func TestReceivePath(t *testing.T) {
	r := require.New(t)

	log := logger.New(logger.Trace)

	pool, err := hostmem.NewPool(log, 64)
	r.NoError(err)

	dev := devmodel.New(log, pool,
		devmodel.WithQueueSizes(4, 4),
		devmodel.WithDeviceFeatures(transport.FeatureVersion1|vnet.FeatureMac|vnet.FeatureStatus),
		devmodel.WithDeviceConfig(netConfig()))

	tr, err := transport.Init(log, dev, dev, pool)
	r.NoError(err)

	var frames []gopacket.Packet
	nd, err := vnet.New(log, tr, pool, func(pkt gopacket.Packet) {
		frames = append(frames, pkt)
	})
	r.NoError(err)

	r.Equal(deviceMAC, nd.MAC())
	r.True(nd.LinkUp())

	// Every receive descriptor is posted at startup.
	for i := 0; i < 4; i++ {
		_, ok, err := dev.PopAvail(0)
		r.NoError(err)
		r.True(ok, "descriptor %d not posted", i)
	}
	_, ok, err := dev.PopAvail(0)
	r.NoError(err)
	r.False(ok)

	r.Zero(nd.Poll())

	// Device side: put an Ethernet frame behind a posted descriptor.
	frame := &ethernet.Frame{
		Destination: deviceMAC,
		Source:      peerMAC,
		EtherType:   ethernet.EtherTypeIPv4,
		Payload:     []byte("ping"),
	}
	raw, err := frame.MarshalBinary()
	r.NoError(err)

	desc, err := dev.ReadDesc(0, 0)
	r.NoError(err)

	buf, err := pool.At(desc.Addr, uint32(vnet.NetHdrSize+len(raw)))
	r.NoError(err)
	mmio.WriteBytes(buf, vnet.NetHdrSize, raw)

	r.NoError(dev.Complete(0, 0, uint32(vnet.NetHdrSize+len(raw))))

	r.Equal(1, nd.Poll())
	r.Len(frames, 1)

	eth, ok2 := frames[0].Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	r.True(ok2)
	r.Equal(deviceMAC, eth.DstMAC)
	r.Equal(peerMAC, eth.SrcMAC)

	// The descriptor went back on the avail ring.
	id, ok, err := dev.PopAvail(0)
	r.NoError(err)
	r.True(ok)
	r.Equal(uint16(0), id)
}

func TestRuntFramesAreDropped(t *testing.T) {
	r := require.New(t)

	log := logger.New(logger.Trace)

	pool, err := hostmem.NewPool(log, 64)
	r.NoError(err)

	dev := devmodel.New(log, pool,
		devmodel.WithQueueSizes(4, 4),
		devmodel.WithDeviceConfig(netConfig()))

	tr, err := transport.Init(log, dev, dev, pool)
	r.NoError(err)

	var frames []gopacket.Packet
	nd, err := vnet.New(log, tr, pool, func(pkt gopacket.Packet) {
		frames = append(frames, pkt)
	})
	r.NoError(err)

	// Shorter than the virtio-net header: counted, not delivered.
	r.NoError(dev.Complete(0, 1, 4))

	r.Equal(1, nd.Poll())
	r.Empty(frames)
}

func TestFrameQueue(t *testing.T) {
	r := require.New(t)

	log := logger.New(logger.Trace)

	pool, err := hostmem.NewPool(log, 64)
	r.NoError(err)

	dev := devmodel.New(log, pool,
		devmodel.WithQueueSizes(4, 4),
		devmodel.WithDeviceConfig(netConfig()))

	tr, err := transport.Init(log, dev, dev, pool)
	r.NoError(err)

	fq := vnet.NewFrameQueue(log, 8)

	nd, err := vnet.New(log, tr, pool, fq.Handler())
	r.NoError(err)

	frame := &ethernet.Frame{
		Destination: deviceMAC,
		Source:      peerMAC,
		EtherType:   ethernet.EtherTypeARP,
		Payload:     make([]byte, 46),
	}
	raw, err := frame.MarshalBinary()
	r.NoError(err)

	for _, id := range []uint16{0, 1} {
		desc, err := dev.ReadDesc(0, id)
		r.NoError(err)

		buf, err := pool.At(desc.Addr, uint32(vnet.NetHdrSize+len(raw)))
		r.NoError(err)
		mmio.WriteBytes(buf, vnet.NetHdrSize, raw)

		r.NoError(dev.Complete(0, uint32(id), uint32(vnet.NetHdrSize+len(raw))))
	}

	r.Equal(2, nd.Poll())
	r.Equal(2, fq.Pending())
	r.Zero(fq.Dropped())

	pkt, ok := fq.Next()
	r.True(ok)
	eth, ok2 := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	r.True(ok2)
	r.Equal(peerMAC, eth.SrcMAC)

	_, ok = fq.Next()
	r.True(ok)
	_, ok = fq.Next()
	r.False(ok)
}

func TestRejectsNonNetworkDevices(t *testing.T) {
	r := require.New(t)

	log := logger.New(logger.Trace)

	pool, err := hostmem.NewPool(log, 64)
	r.NoError(err)

	dev := devmodel.New(log, pool, devmodel.WithDeviceID(0x1042)) // block

	tr, err := transport.Init(log, dev, dev, pool)
	r.NoError(err)

	_, err = vnet.New(log, tr, pool, func(gopacket.Packet) {})
	r.Error(err)
}
