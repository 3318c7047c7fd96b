package persistent

import (
	"fmt"
	"sync"

	"github.com/sharedcode/odb"
)

// Factory returns a fresh, zero valued instance of a persistent class.
type Factory func() Object

type classEntry struct {
	name    string
	factory Factory
}

// Registry maps class ids to names and factories so hollow instances of the right type can
// be materialized from a ClassDescriptor.
type Registry struct {
	lock    sync.RWMutex
	classes map[odb.CID]classEntry
	names   map[string]odb.CID
}

func NewRegistry() *Registry {
	return &Registry{
		classes: make(map[odb.CID]classEntry),
		names:   make(map[string]odb.CID),
	}
}

// Register adds a class. Registering the same id and name again replaces the factory;
// reusing an id or a name for a different class is an error.
func (r *Registry) Register(cid odb.CID, name string, f Factory) error {
	if cid == 0 {
		return fmt.Errorf("class %q can't use class id 0", name)
	}
	if f == nil {
		return fmt.Errorf("class %q needs a factory", name)
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if e, ok := r.classes[cid]; ok && e.name != name {
		return fmt.Errorf("class id %d already registered to %q", cid, e.name)
	}
	if c, ok := r.names[name]; ok && c != cid {
		return fmt.Errorf("class name %q already registered with class id %d", name, c)
	}
	r.classes[cid] = classEntry{name: name, factory: f}
	r.names[name] = cid
	return nil
}

// New returns a fresh instance of the class.
func (r *Registry) New(cid odb.CID) (Object, error) {
	r.lock.RLock()
	e, ok := r.classes[cid]
	r.lock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("class id %d is not registered", cid)
	}
	return e.factory(), nil
}

// Name returns the registered class name, or "" if unknown.
func (r *Registry) Name(cid odb.CID) string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.classes[cid].name
}

// Lookup returns the class id registered under name.
func (r *Registry) Lookup(name string) (odb.CID, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	cid, ok := r.names[name]
	return cid, ok
}
