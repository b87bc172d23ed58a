package transport

import (
	"github.com/pkg/errors"

	"github.com/agaveos/virtio/virtq"
)

func (t *Transport) checkConfigBounds(offset, width uint32) error {
	// Subtract instead of adding so offset+width cannot wrap past the check.
	if offset > t.deviceCfgLen || width > t.deviceCfgLen-offset {
		return errors.Wrapf(ErrConfigBounds,
			"offset %d width %d, window is %d bytes", offset, width, t.deviceCfgLen)
	}
	return nil
}

// ReadConfigUint8 reads one byte of device-specific config.
func (t *Transport) ReadConfigUint8(offset uint32) (uint8, error) {
	if err := t.checkConfigBounds(offset, 1); err != nil {
		return 0, err
	}
	return t.deviceCfg.Uint8(offset), nil
}

func (t *Transport) ReadConfigUint16(offset uint32) (uint16, error) {
	if err := t.checkConfigBounds(offset, 2); err != nil {
		return 0, err
	}
	return t.deviceCfg.Uint16(offset), nil
}

func (t *Transport) ReadConfigUint32(offset uint32) (uint32, error) {
	if err := t.checkConfigBounds(offset, 4); err != nil {
		return 0, err
	}
	return t.deviceCfg.Uint32(offset), nil
}

func (t *Transport) WriteConfigUint8(offset uint32, v uint8) error {
	if err := t.checkConfigBounds(offset, 1); err != nil {
		return err
	}
	t.deviceCfg.SetUint8(offset, v)
	return nil
}

func (t *Transport) WriteConfigUint16(offset uint32, v uint16) error {
	if err := t.checkConfigBounds(offset, 2); err != nil {
		return err
	}
	t.deviceCfg.SetUint16(offset, v)
	return nil
}

func (t *Transport) WriteConfigUint32(offset uint32, v uint32) error {
	if err := t.checkConfigBounds(offset, 4); err != nil {
		return err
	}
	t.deviceCfg.SetUint32(offset, v)
	return nil
}

// ConfigChanged compares the device's config generation against the last
// one seen and refreshes it. True means device-specific config moved under
// the driver and should be re-read.
func (t *Transport) ConfigChanged() bool {
	gen := t.common.ConfigGeneration()
	if gen == t.configGen {
		return false
	}

	t.log.Info("device config generation changed", "from", t.configGen, "to", gen)
	t.configGen = gen
	return true
}

// Status reads the live device status byte.
func (t *Transport) Status() uint8 {
	return t.common.DeviceStatus()
}

// NeedsReset reports the device flagging an internal error.
func (t *Transport) NeedsReset() bool {
	return t.Status()&StatusNeedsReset != 0
}

// Failed reports the device giving up on the driver.
func (t *Transport) Failed() bool {
	return t.Status()&StatusFailed != 0
}

// ReadISR reads the ISR status byte, which clears it on real hardware.
// ok is false when the device advertises no ISR window.
func (t *Transport) ReadISR() (uint8, bool) {
	if t.isr == nil {
		return 0, false
	}
	return t.isr.Uint8(0), true
}

// SetQueueInterrupts toggles device-to-driver interrupt suppression on
// queue q's avail ring.
func (t *Transport) SetQueueInterrupts(q uint16, enabled bool) error {
	queue, err := t.Queue(q)
	if err != nil {
		return err
	}

	avail := queue.Avail()
	if enabled {
		avail.SetFlags(avail.Flags() &^ virtq.AvailFNoInterrupt)
	} else {
		avail.SetFlags(avail.Flags() | virtq.AvailFNoInterrupt)
	}

	return nil
}
