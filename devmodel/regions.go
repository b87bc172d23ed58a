package devmodel

// Device-side view of the common config register block.
const (
	regDeviceFeatureSelect = 0x00
	regDeviceFeature       = 0x04
	regDriverFeatureSelect = 0x08
	regDriverFeature       = 0x0C
	regMsixConfig          = 0x10
	regNumQueues           = 0x12
	regDeviceStatus        = 0x14
	regConfigGeneration    = 0x15
	regQueueSelect         = 0x16
	regQueueSize           = 0x18
	regQueueMsixVector     = 0x1A
	regQueueEnable         = 0x1C
	regQueueNotifyOff      = 0x1E
	regQueueDesc           = 0x20
	regQueueDriver         = 0x28
	regQueueDevice         = 0x30
)

const statusFeaturesOK = 8

// commonRegion emulates the common config block. Register semantics live
// here; the driver sees an ordinary region.
type commonRegion struct {
	dev    *Device
	length uint32
}

func (r *commonRegion) Len() uint32 {
	return r.length
}

func (r *commonRegion) selected() *queueState {
	d := r.dev
	if int(d.queueSel) >= len(d.queues) {
		return nil
	}
	return &d.queues[d.queueSel]
}

func (r *commonRegion) Uint8(off uint32) uint8 {
	d := r.dev
	switch off {
	case regDeviceStatus:
		return d.status
	case regConfigGeneration:
		return d.configGen
	default:
		panic("devmodel: unhandled 8-bit common config read")
	}
}

func (r *commonRegion) SetUint8(off uint32, v uint8) {
	d := r.dev
	switch off {
	case regDeviceStatus:
		if v == 0 {
			d.reset()
			return
		}

		if v&statusFeaturesOK != 0 && d.status&statusFeaturesOK == 0 && d.rejectFeatures {
			v &^= statusFeaturesOK
			d.log.Warn("rejecting driver feature set", "features", d.driverFeatures)
		}

		d.status = v
	default:
		panic("devmodel: unhandled 8-bit common config write")
	}
}

func (r *commonRegion) Uint16(off uint32) uint16 {
	d := r.dev
	switch off {
	case regMsixConfig:
		return d.msixConfig
	case regNumQueues:
		return uint16(len(d.queues))
	case regQueueSelect:
		return d.queueSel
	case regQueueSize:
		if qs := r.selected(); qs != nil {
			return qs.size
		}
		return 0
	case regQueueMsixVector:
		if qs := r.selected(); qs != nil {
			return qs.msixVector
		}
		return 0xFFFF
	case regQueueEnable:
		if qs := r.selected(); qs != nil && qs.enabled {
			return 1
		}
		return 0
	case regQueueNotifyOff:
		// Queue q notifies at slot q.
		return d.queueSel
	default:
		panic("devmodel: unhandled 16-bit common config read")
	}
}

func (r *commonRegion) SetUint16(off uint32, v uint16) {
	d := r.dev
	switch off {
	case regMsixConfig:
		d.msixConfig = v
	case regQueueSelect:
		d.queueSel = v
	case regQueueMsixVector:
		if qs := r.selected(); qs != nil {
			qs.msixVector = v
		}
	case regQueueEnable:
		if qs := r.selected(); qs != nil {
			qs.enabled = v == 1
		}
	default:
		panic("devmodel: unhandled 16-bit common config write")
	}
}

func (r *commonRegion) Uint32(off uint32) uint32 {
	d := r.dev
	switch off {
	case regDeviceFeatureSelect:
		return d.deviceFeatureSel
	case regDeviceFeature:
		if d.deviceFeatureSel == 0 {
			return uint32(d.deviceFeatures)
		}
		return uint32(d.deviceFeatures >> 32)
	case regDriverFeatureSelect:
		return d.driverFeatureSel
	case regDriverFeature:
		if d.driverFeatureSel == 0 {
			return uint32(d.driverFeatures)
		}
		return uint32(d.driverFeatures >> 32)
	default:
		panic("devmodel: unhandled 32-bit common config read")
	}
}

func (r *commonRegion) SetUint32(off uint32, v uint32) {
	d := r.dev
	switch off {
	case regDeviceFeatureSelect:
		d.deviceFeatureSel = v
	case regDriverFeatureSelect:
		d.driverFeatureSel = v
	case regDriverFeature:
		if d.driverFeatureSel == 0 {
			d.driverFeatures = d.driverFeatures&^0xFFFFFFFF | uint64(v)
		} else {
			d.driverFeatures = d.driverFeatures&0xFFFFFFFF | uint64(v)<<32
		}
	default:
		panic("devmodel: unhandled 32-bit common config write")
	}
}

func (r *commonRegion) Uint64(off uint32) uint64 {
	qs := r.selected()
	if qs == nil {
		return 0
	}

	switch off {
	case regQueueDesc:
		return qs.descAddr
	case regQueueDriver:
		return qs.driverAddr
	case regQueueDevice:
		return qs.deviceAddr
	default:
		panic("devmodel: unhandled 64-bit common config read")
	}
}

func (r *commonRegion) SetUint64(off uint32, v uint64) {
	qs := r.selected()
	if qs == nil {
		return
	}

	switch off {
	case regQueueDesc:
		qs.descAddr = v
	case regQueueDriver:
		qs.driverAddr = v
	case regQueueDevice:
		qs.deviceAddr = v
	default:
		panic("devmodel: unhandled 64-bit common config write")
	}
}

func (d *Device) reset() {
	d.status = 0
	d.queueSel = 0
	d.deviceFeatureSel = 0
	d.driverFeatureSel = 0
	d.driverFeatures = 0
	d.msixConfig = 0
	d.isr = 0

	for i := range d.queues {
		d.queues[i].enabled = false
		d.queues[i].lastAvail = 0
		d.queues[i].descAddr = 0
		d.queues[i].driverAddr = 0
		d.queues[i].deviceAddr = 0
	}
}

// isrRegion models the read-to-clear ISR status byte.
type isrRegion struct {
	dev *Device
}

func (r *isrRegion) Len() uint32 { return 1 }

func (r *isrRegion) Uint8(off uint32) uint8 {
	v := r.dev.isr
	r.dev.isr = 0
	return v
}

func (r *isrRegion) SetUint8(off uint32, v uint8)   { panic("devmodel: isr is read-only") }
func (r *isrRegion) Uint16(off uint32) uint16       { panic("devmodel: isr is one byte") }
func (r *isrRegion) SetUint16(off uint32, v uint16) { panic("devmodel: isr is one byte") }
func (r *isrRegion) Uint32(off uint32) uint32       { panic("devmodel: isr is one byte") }
func (r *isrRegion) SetUint32(off uint32, v uint32) { panic("devmodel: isr is one byte") }
func (r *isrRegion) Uint64(off uint32) uint64       { panic("devmodel: isr is one byte") }
func (r *isrRegion) SetUint64(off uint32, v uint64) { panic("devmodel: isr is one byte") }

// notifyRegion captures doorbell writes.
type notifyRegion struct {
	dev    *Device
	length uint32
}

func (r *notifyRegion) Len() uint32 { return r.length }

func (r *notifyRegion) SetUint16(off uint32, v uint16) {
	r.dev.kicks = append(r.dev.kicks, Kick{Offset: off, Queue: v})
	r.dev.log.Trace("doorbell", "offset", off, "queue", v)
}

func (r *notifyRegion) Uint8(off uint32) uint8        { panic("devmodel: notify is write-only") }
func (r *notifyRegion) SetUint8(off uint32, v uint8)  { panic("devmodel: notify writes are 16-bit") }
func (r *notifyRegion) Uint16(off uint32) uint16      { panic("devmodel: notify is write-only") }
func (r *notifyRegion) Uint32(off uint32) uint32      { panic("devmodel: notify is write-only") }
func (r *notifyRegion) SetUint32(off uint32, v uint32) {
	panic("devmodel: notify writes are 16-bit")
}
func (r *notifyRegion) Uint64(off uint32) uint64 { panic("devmodel: notify is write-only") }
func (r *notifyRegion) SetUint64(off uint32, v uint64) {
	panic("devmodel: notify writes are 16-bit")
}
