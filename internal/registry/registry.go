// Package registry keeps the de-duplicated list of peripherals seen during a scan.
package registry

import (
	"sort"
	"sync"

	"github.com/srg/heartflot/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Registry tracks discovered peripherals keyed by address.
//
// Entries keep their first-seen position; Snapshot orders them by RSSI
// descending with ties broken by that position. Every mutation is followed
// by onChange with a fresh snapshot.
type Registry struct {
	mu       sync.Mutex
	devices  *orderedmap.OrderedMap[string, device.Peripheral]
	onChange func([]device.Peripheral)
}

// New creates an empty registry. onChange may be nil.
func New(onChange func([]device.Peripheral)) *Registry {
	return &Registry{
		devices:  orderedmap.New[string, device.Peripheral](),
		onChange: onChange,
	}
}

// Reset drops every entry. Called when a new scan starts.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.devices = orderedmap.New[string, device.Peripheral]()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snapshot)
}

// Upsert records a sighting. A known address gets the new RSSI, and its
// name only when the new one is non-empty. It returns the stored entry.
func (r *Registry) Upsert(p device.Peripheral) device.Peripheral {
	r.mu.Lock()
	if existing, ok := r.devices.Get(p.Address); ok {
		existing.RSSI = p.RSSI
		if p.Name != "" {
			existing.Name = p.Name
		}
		p = existing
	}
	r.devices.Set(p.Address, p)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snapshot)
	return p
}

// Get returns the entry for address.
func (r *Registry) Get(address string) (device.Peripheral, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices.Get(address)
}

// Snapshot returns the peripherals sorted by RSSI, strongest first.
func (r *Registry) Snapshot() []device.Peripheral {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Len returns the number of distinct peripherals.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices.Len()
}

func (r *Registry) snapshotLocked() []device.Peripheral {
	out := make([]device.Peripheral, 0, r.devices.Len())
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RSSI > out[j].RSSI
	})
	return out
}

func (r *Registry) notify(snapshot []device.Peripheral) {
	if r.onChange != nil {
		r.onChange(snapshot)
	}
}
