package engine

import (
	"github.com/google/uuid"
)

// ValueID identifies a tracked value. IDs increase monotonically and are
// never reused, so a stale id fails lookup instead of aliasing a new value.
type ValueID uint64

// OwnerID identifies a store registered with the engine.
type OwnerID = uuid.UUID

// NewOwnerID allocates a time-sortable owner id.
func NewOwnerID() OwnerID {
	return uuid.Must(uuid.NewV7())
}

// Kind distinguishes assigned values from derived ones.
type Kind int

const (
	// KindStatic values are assigned directly through SetState.
	KindStatic Kind = iota + 1
	// KindComputed values are produced by a derivation.
	KindComputed
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindComputed:
		return "computed"
	default:
		return "unknown"
	}
}

// Derivation computes a value. Stores bind their view into the closure.
type Derivation func() (any, error)

// Owner is implemented by stores. Publish is called once per propagation
// pass that changed at least one of the owner's values.
type Owner interface {
	Publish(changed []string)
}

// notComputed marks a cache that has never been filled.
type notComputed struct{}

var unset any = notComputed{}

// ValueInfo is the registry record for one tracked property.
type ValueInfo struct {
	ID    ValueID
	Owner OwnerID
	Name  string
	Kind  Kind

	derive  Derivation
	cached  any
	removed bool

	dependsOn  idSet
	dependents idSet
}

// Cached returns the last computed or assigned value and whether one exists.
func (v *ValueInfo) Cached() (any, bool) {
	if v.cached == unset {
		return nil, false
	}
	return v.cached, true
}

// DependsOn returns the ids read by the last computation.
func (v *ValueInfo) DependsOn() []ValueID {
	return v.dependsOn.slice()
}

// Dependents returns the ids whose last computation read this value.
func (v *ValueInfo) Dependents() []ValueID {
	return v.dependents.slice()
}

type ownerEntry struct {
	name    string
	owner   Owner
	removed bool
}

// Registry maps value ids to their records and owner ids to stores.
type Registry struct {
	next   ValueID
	values map[ValueID]*ValueInfo
	owners map[OwnerID]*ownerEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		values: make(map[ValueID]*ValueInfo),
		owners: make(map[OwnerID]*ownerEntry),
	}
}

// RegisterOwner records a store so propagation can route notifications to it.
func (r *Registry) RegisterOwner(id OwnerID, name string, owner Owner) {
	r.owners[id] = &ownerEntry{name: name, owner: owner}
}

// RemoveOwner marks a store removed. Its name stays available for diagnostics.
func (r *Registry) RemoveOwner(id OwnerID) {
	if e, ok := r.owners[id]; ok {
		e.removed = true
		e.owner = nil
	}
}

// Owner returns a live store by id.
func (r *Registry) Owner(id OwnerID) (Owner, bool) {
	e, ok := r.owners[id]
	if !ok || e.removed {
		return nil, false
	}
	return e.owner, true
}

// OwnerName returns the name a store registered with. Removed stores
// report "<name>[removed]", the same form the store itself uses.
func (r *Registry) OwnerName(id OwnerID) string {
	e, ok := r.owners[id]
	if !ok {
		return "Unknown"
	}
	if e.removed {
		return e.name + "[removed]"
	}
	return e.name
}

// RegisterStatic registers an assigned value.
func (r *Registry) RegisterStatic(owner OwnerID, name string, value any) ValueID {
	info := r.register(owner, name, KindStatic)
	info.cached = value
	return info.ID
}

// RegisterComputed registers a derived value. It is computed on first read.
func (r *Registry) RegisterComputed(owner OwnerID, name string, derive Derivation) ValueID {
	info := r.register(owner, name, KindComputed)
	info.derive = derive
	return info.ID
}

func (r *Registry) register(owner OwnerID, name string, kind Kind) *ValueInfo {
	r.next++
	info := &ValueInfo{
		ID:     r.next,
		Owner:  owner,
		Name:   name,
		Kind:   kind,
		cached: unset,
	}
	r.values[info.ID] = info
	return info
}

// Get returns the record for id. Removed ids fail with an access error.
func (r *Registry) Get(id ValueID) (*ValueInfo, error) {
	info, ok := r.values[id]
	if !ok {
		return nil, NewAccessError("Unknown", "There is no access to value #%d", id)
	}
	if info.removed {
		return nil, newNoAccessError(r.ref(info))
	}
	return info, nil
}

// lookup returns a live record or nil.
func (r *Registry) lookup(id ValueID) *ValueInfo {
	info, ok := r.values[id]
	if !ok || info.removed {
		return nil
	}
	return info
}

// Unlink severs every edge of ids in both directions and marks them removed.
// Every live value downstream of the removed set loses its cache, so the
// next read recomputes and reports the missing dependency instead of
// returning a value derived from it.
func (r *Registry) Unlink(ids []ValueID) {
	removing := make(map[ValueID]struct{}, len(ids))
	for _, id := range ids {
		removing[id] = struct{}{}
	}
	r.invalidateDownstream(ids, removing)
	for _, id := range ids {
		info := r.lookup(id)
		if info == nil {
			continue
		}
		for _, dep := range info.dependsOn.slice() {
			if d := r.lookup(dep); d != nil {
				d.dependents.remove(id)
			}
		}
		for _, dependent := range info.dependents.slice() {
			d := r.lookup(dependent)
			if d == nil {
				continue
			}
			d.dependsOn.remove(id)
		}
		info.dependsOn.clear()
		info.dependents.clear()
		info.cached = unset
		info.derive = nil
		info.removed = true
	}
}

// invalidateDownstream clears the cache of every live value reachable
// from ids through dependents edges, breadth first.
func (r *Registry) invalidateDownstream(ids []ValueID, skip map[ValueID]struct{}) {
	seen := make(map[ValueID]struct{}, len(ids))
	queue := append([]ValueID(nil), ids...)
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		info := r.lookup(id)
		if info == nil {
			continue
		}
		if _, gone := skip[id]; !gone && info.Kind == KindComputed {
			info.cached = unset
		}
		for _, dep := range info.dependents.slice() {
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			queue = append(queue, dep)
		}
	}
}

// Len returns the number of live values.
func (r *Registry) Len() int {
	n := 0
	for _, info := range r.values {
		if !info.removed {
			n++
		}
	}
	return n
}

func (r *Registry) ref(info *ValueInfo) ValueRef {
	return ValueRef{Name: info.Name, Store: r.OwnerName(info.Owner)}
}

// link records that from read to.
func link(from, to *ValueInfo) {
	from.dependsOn.add(to.ID)
	to.dependents.add(from.ID)
}
