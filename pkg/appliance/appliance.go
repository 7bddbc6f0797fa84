// Package appliance holds the client-side view of appliances reported by
// the cloud: identity, availability, and the last-known attribute values.
package appliance

import (
	"fmt"
	"sort"
	"sync"
)

// AttrApplianceType is the attribute code carrying the appliance type.
// Its first receipt marks an appliance as initialized.
const AttrApplianceType = "0x0008"

// Appliance represents a single appliance known to the session.
// It is safe for concurrent use.
type Appliance struct {
	mu sync.RWMutex

	id          string
	available   bool
	initialized bool
	values      map[string]string
}

// New creates an unavailable, uninitialized appliance.
func New(id string) *Appliance {
	return &Appliance{
		id:     id,
		values: make(map[string]string),
	}
}

// ID returns the appliance identifier (MAC address or cloud id).
func (a *Appliance) ID() string {
	return a.id
}

// Available reports whether the appliance is currently reachable.
func (a *Appliance) Available() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.available
}

// SetAvailable sets the availability flag and reports whether it flipped.
func (a *Appliance) SetAvailable(available bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.available == available {
		return false
	}
	a.available = available
	return true
}

// Initialized reports whether the appliance type has been received.
func (a *Appliance) Initialized() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.initialized
}

// MarkInitialized marks the appliance initialized.
// Only the first call returns true.
func (a *Appliance) MarkInitialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		return false
	}
	a.initialized = true
	return true
}

// Type returns the appliance type attribute, or "" if not yet known.
func (a *Appliance) Type() string {
	return a.Value(AttrApplianceType)
}

// Value returns the last-known value of an attribute.
func (a *Appliance) Value(attr string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.values[attr]
}

// Values returns a copy of all known attribute values.
func (a *Appliance) Values() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]string, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}

// Update merges attribute changes and returns the attributes whose value
// actually changed.
func (a *Appliance) Update(changes map[string]string) map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	changed := make(map[string]string)
	for k, v := range changes {
		if old, ok := a.values[k]; ok && old == v {
			continue
		}
		a.values[k] = v
		changed[k] = v
	}
	return changed
}

// String returns a short description for logs.
func (a *Appliance) String() string {
	if t := a.Type(); t != "" {
		return fmt.Sprintf("%s (type %s)", a.id, t)
	}
	return a.id
}

// Registry tracks appliances by ID.
type Registry struct {
	mu         sync.RWMutex
	appliances map[string]*Appliance
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{appliances: make(map[string]*Appliance)}
}

// Get returns the appliance with the given ID, or nil.
func (r *Registry) Get(id string) *Appliance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.appliances[id]
}

// GetOrCreate returns the appliance with the given ID, creating it if needed.
// The second return value is true if the appliance was created.
func (r *Registry) GetOrCreate(id string) (*Appliance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.appliances[id]; ok {
		return a, false
	}
	a := New(id)
	r.appliances[id] = a
	return a, true
}

// List returns all appliances sorted by ID.
func (r *Registry) List() []*Appliance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Appliance, 0, len(r.appliances))
	for _, a := range r.appliances {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of tracked appliances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.appliances)
}
