// virtioprobe brings a hosted virtio device model through the full
// bring-up handshake, round-trips a descriptor chain through it, and
// dumps what it saw. Useful for eyeballing the transport against a known
// peer.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/gopacket"
	"github.com/lab47/lsvd/logger"
	"github.com/mdlayher/ethernet"
	"gopkg.in/yaml.v3"

	"github.com/agaveos/virtio/devmodel"
	"github.com/agaveos/virtio/hostmem"
	"github.com/agaveos/virtio/mmio"
	"github.com/agaveos/virtio/transport"
	"github.com/agaveos/virtio/virtq"
	"github.com/agaveos/virtio/vnet"
)

var fProfile = flag.String("profile", "", "path to a yaml probe profile")

// Profile shapes the modeled device.
type Profile struct {
	DeviceID   uint16   `yaml:"device_id"`
	QueueSizes []uint16 `yaml:"queue_sizes"`
	Features   uint64   `yaml:"features"`
	Frames     int      `yaml:"frames"`
}

func defaultProfile() Profile {
	return Profile{
		DeviceID:   0x1041, // network
		QueueSizes: []uint16{8, 8},
		Features:   transport.FeatureVersion1 | vnet.FeatureMac | vnet.FeatureStatus,
		Frames:     128,
	}
}

func loadProfile(path string) (Profile, error) {
	p := defaultProfile()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}

	err = yaml.Unmarshal(data, &p)
	return p, err
}

func main() {
	flag.Parse()

	log := logger.New(logger.Trace)

	profile, err := loadProfile(*fProfile)
	if err != nil {
		log.Error("error loading profile", "error", err)
		os.Exit(1)
	}

	pool, err := hostmem.NewPool(log, profile.Frames)
	if err != nil {
		log.Error("error mapping frame arena", "error", err)
		os.Exit(1)
	}

	cfg := make([]byte, 12)
	copy(cfg, []byte{0x52, 0x54, 0x00, 0x12, 0x34, 0x56})
	cfg[6] = vnet.StatusLinkUp

	dev := devmodel.New(log, pool,
		devmodel.WithDeviceID(profile.DeviceID),
		devmodel.WithQueueSizes(profile.QueueSizes...),
		devmodel.WithDeviceFeatures(profile.Features),
		devmodel.WithDeviceConfig(cfg))

	tr, err := transport.Init(log, dev, dev, pool)
	if err != nil {
		log.Error("bring-up failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("device: %s, queues: %d, status: 0x%02x\n",
		tr.DeviceType(), tr.NumQueues(), tr.Status())
	fmt.Printf("features: device=0x%016x driver=0x%016x\n",
		tr.DeviceFeatures(), tr.DriverFeatures())

	for q := uint16(0); q < tr.NumQueues(); q++ {
		addr, err := tr.NotifyAddress(q)
		if err != nil {
			continue
		}
		fmt.Printf("queue %d doorbell at 0x%x\n", q, addr)
	}

	if tr.DeviceType() == transport.Network {
		probeNetwork(log, tr, dev, pool)
		return
	}

	probeChain(log, tr, dev, pool)
}

// probeChain pushes one two-descriptor chain through queue 0 and prints
// the round trip.
func probeChain(log logger.Logger, tr *transport.Transport, dev *devmodel.Device, pool *hostmem.Pool) {
	if err := tr.QueueSelect(0); err != nil {
		log.Error("selecting queue 0", "error", err)
		return
	}

	reqAddr, reqMem, err := pool.AllocFrame()
	if err != nil {
		log.Error("allocating request frame", "error", err)
		return
	}
	reqMem.SetUint32(0, 0xFEEDFACE)

	respAddr, _, err := pool.AllocFrame()
	if err != nil {
		log.Error("allocating response frame", "error", err)
		return
	}

	head, err := tr.CreateChain([]virtq.Buffer{
		{Addr: reqAddr, Len: 4},
		{Addr: respAddr, Len: 64, Flags: virtq.DescFWrite},
	})
	if err != nil {
		log.Error("building chain", "error", err)
		return
	}

	tr.SubmitChain(head)

	// Play the device: consume and complete.
	id, ok, err := dev.PopAvail(0)
	if err != nil || !ok {
		log.Error("device saw no chain", "error", err)
		return
	}
	if err := dev.Complete(0, uint32(id), 64); err != nil {
		log.Error("completing chain", "error", err)
		return
	}

	e, ok := tr.NextUsed()
	if !ok {
		log.Error("no completion came back")
		return
	}

	fmt.Println("chain round trip:")
	spew.Dump(e)
	spew.Dump(dev.Kicks())
}

// probeNetwork brings the receive path up and feeds one frame through it.
func probeNetwork(log logger.Logger, tr *transport.Transport, dev *devmodel.Device, pool *hostmem.Pool) {
	nd, err := vnet.New(log, tr, pool, func(pkt gopacket.Packet) {
		fmt.Println("received frame:")
		fmt.Println(pkt.Dump())
	})
	if err != nil {
		log.Error("starting receive path", "error", err)
		return
	}

	fmt.Printf("mac: %s link-up: %v\n", nd.MAC(), nd.LinkUp())

	frame := &ethernet.Frame{
		Destination: net.HardwareAddr(nd.MAC()),
		Source:      net.HardwareAddr{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01},
		EtherType:   ethernet.EtherTypeIPv4,
		Payload:     []byte("virtioprobe"),
	}

	raw, err := frame.MarshalBinary()
	if err != nil {
		log.Error("building frame", "error", err)
		return
	}

	id, ok, err := dev.PopAvail(0)
	if err != nil || !ok {
		log.Error("no posted receive descriptor", "error", err)
		return
	}

	desc, err := dev.ReadDesc(0, id)
	if err != nil {
		log.Error("reading descriptor", "error", err)
		return
	}

	buf, err := pool.At(desc.Addr, uint32(vnet.NetHdrSize+len(raw)))
	if err != nil {
		log.Error("resolving receive buffer", "error", err)
		return
	}
	mmio.WriteBytes(buf, vnet.NetHdrSize, raw)

	if err := dev.Complete(0, uint32(id), uint32(vnet.NetHdrSize+len(raw))); err != nil {
		log.Error("completing receive", "error", err)
		return
	}

	fmt.Printf("frames delivered: %d\n", nd.Poll())
	spew.Dump(dev.Kicks())
}
