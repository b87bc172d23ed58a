package transport

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownDevice reports a PCI device id outside the driven set.
	ErrUnknownDevice = errors.New("unknown virtio device type")

	// ErrMissingCapability reports a device without the mandatory virtio
	// capability windows.
	ErrMissingCapability = errors.New("missing virtio capability")

	// ErrFeatureLatch reports a device that cleared FEATURES_OK after the
	// driver set it, rejecting the offered feature set.
	ErrFeatureLatch = errors.New("device rejected feature set")

	// ErrConfigBounds reports a device-config access past the window the
	// device advertises.
	ErrConfigBounds = errors.New("device config access out of bounds")

	// ErrNoSuchQueue reports a queue index past num_queues or a queue the
	// device sized to zero.
	ErrNoSuchQueue = errors.New("no such queue")
)

// InitError is a failed bring-up. It wraps the cause, so callers match
// with errors.Is against the sentinels above; the device is left alone
// and the caller moves to the next function.
type InitError struct {
	Device DeviceType
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("virtio init failed for %s device: %v", e.Device, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

func initErr(dev DeviceType, err error) *InitError {
	return &InitError{Device: dev, Err: err}
}
