// Package devicetable tracks the virtio devices a machine brought up, so
// drivers look their transport up by type instead of reaching for
// globals.
package devicetable

import (
	"sync"

	"github.com/lab47/lsvd/logger"
	"github.com/pkg/errors"

	"github.com/agaveos/virtio/pci"
	"github.com/agaveos/virtio/transport"
)

// Table is the set of initialized transports. Discovery runs once at
// startup; lookups can come from any goroutine after that.
type Table struct {
	log logger.Logger

	mu     sync.RWMutex
	all    []*transport.Transport
	byType map[transport.DeviceType][]*transport.Transport
}

func New(log logger.Logger) *Table {
	return &Table{
		log:    log,
		byType: make(map[transport.DeviceType][]*transport.Transport),
	}
}

// Discover brings up one PCI function and registers the transport.
// Unknown device types are skipped with a log line, not an error; real
// init failures propagate.
func (t *Table) Discover(cs pci.ConfigSpace, mapper transport.RegionMapper, frames transport.FrameAllocator) (*transport.Transport, error) {
	tr, err := transport.Init(t.log, cs, mapper, frames)
	if err != nil {
		if errors.Is(err, transport.ErrUnknownDevice) {
			t.log.Warn("skipping pci function", "error", err)
			return nil, nil
		}
		return nil, err
	}

	t.Add(tr)
	return tr, nil
}

// Add registers an already-initialized transport.
func (t *Table) Add(tr *transport.Transport) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.all = append(t.all, tr)
	t.byType[tr.DeviceType()] = append(t.byType[tr.DeviceType()], tr)

	t.log.Info("device registered", "type", tr.DeviceType(), "total", len(t.all))
}

// Lookup returns the first device of the given type.
func (t *Table) Lookup(dt transport.DeviceType) (*transport.Transport, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	devs := t.byType[dt]
	if len(devs) == 0 {
		return nil, false
	}
	return devs[0], true
}

// LookupAll returns every device of the given type.
func (t *Table) LookupAll(dt transport.DeviceType) []*transport.Transport {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return append([]*transport.Transport(nil), t.byType[dt]...)
}

// All returns every registered transport in discovery order.
func (t *Table) All() []*transport.Transport {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return append([]*transport.Transport(nil), t.all...)
}
