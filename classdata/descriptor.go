package classdata

import "sync"

// Descriptor associates an attribute name with a canonical value computed
// once per test class. Each test instance sees its own deep copy; the
// canonical value is never handed out directly and therefore never mutated
// by a test.
type Descriptor struct {
	name      string
	canonical interface{}
}

// New creates a descriptor for a class-level canonical value.
func New(name string, canonical interface{}) *Descriptor {
	return &Descriptor{name: name, canonical: canonical}
}

func (d *Descriptor) Name() string { return d.name }

// Get returns the instance's copy of the canonical value, cloning it on
// first access and caching it so that subsequent accesses from the same
// instance return the same object. Clones for one instance share a memo, so
// canonical attributes that reference a common sub-object keep referencing
// one (cloned) sub-object in the copies.
func (d *Descriptor) Get(inst *Instance) interface{} {
	return inst.value(d.name, d.canonical)
}

// Instance is the per-test state backing Descriptor copies: a memo table
// keyed by original object identity plus a by-name cache.
type Instance struct {
	memo   Memo
	values map[string]interface{}
	lock   sync.Mutex
}

func NewInstance() *Instance {
	return &Instance{
		memo:   NewMemo(),
		values: make(map[string]interface{}),
	}
}

func (inst *Instance) value(name string, canonical interface{}) interface{} {
	inst.lock.Lock()
	defer inst.lock.Unlock()
	if v, ok := inst.values[name]; ok {
		return v
	}
	v := Clone(canonical, inst.memo)
	inst.values[name] = v
	return v
}
