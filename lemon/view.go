package lemon

import "github.com/roach88/lemonstate/internal/engine"

// View is a read-only window on a store. Reads of computed properties
// evaluate them on demand; reads made from inside a Computed are tracked
// as dependencies.
type View struct {
	store *Store
	rev   uint64

	// rec collects the names read while a smart subscriber is indexed.
	rec KeySet
}

// Get returns the current value of name. Unknown names return nil.
func (v *View) Get(name string) (any, error) {
	s := v.store
	if v.rec != nil {
		v.rec[name] = struct{}{}
	}
	id, ok := s.ids[name]
	if !ok {
		if s.removed {
			return nil, s.engine.Fail(engine.NewRemovedStoreError(s.Name()))
		}
		return nil, nil
	}
	return s.engine.Read(id)
}

// Get reads name from v and asserts it to T. A missing value yields the
// zero T.
func Get[T any](v *View, name string) (T, error) {
	var zero T
	raw, err := v.Get(name)
	if err != nil || raw == nil {
		return zero, err
	}
	out, ok := raw.(T)
	if !ok {
		return zero, engine.NewValidationError(v.store.name, "'%s' is %T, not %T (in %s)", name, raw, zero, v.store.name)
	}
	return out, nil
}

// Set always fails: state changes go through Store.SetState.
func (v *View) Set(name string, value any) error {
	s := v.store
	return s.engine.Fail(engine.NewAccessError(s.name, "You can't modify state directly (in %s)", s.Name()))
}

// Keys returns the property names in registration order.
func (v *View) Keys() []string {
	if v.store.removed {
		return nil
	}
	out := make([]string, len(v.store.keys))
	copy(out, v.store.keys)
	return out
}

// Snapshot evaluates every property into a plain map.
func (v *View) Snapshot() (map[string]any, error) {
	keys := v.Keys()
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		val, err := v.Get(k)
		if err != nil {
			return nil, err
		}
		out[k] = val
	}
	return out, nil
}

// Revision counts the passes that changed the store before this View
// was created.
func (v *View) Revision() uint64 {
	return v.rev
}

// StoreName names the store this View reads.
func (v *View) StoreName() string {
	return v.store.Name()
}
