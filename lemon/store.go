package lemon

import (
	"log/slog"
	"slices"
	"sort"

	"github.com/roach88/lemonstate/internal/engine"
)

// Computed derives a property from the store's View and, through other
// stores' Views, from other stores. Every value read during the call
// becomes a dependency.
type Computed func(view *View) (any, error)

// Subscriber receives the store's current View and the names of the
// properties that changed in the pass.
type Subscriber func(view *View, changed KeySet)

// Unsubscribe detaches a subscriber. Calling it twice is a no-op.
type Unsubscribe func()

type subscription struct {
	fn     Subscriber
	active bool
}

// Store is a reactive state container. Properties are static values or
// Computed derivations; computed values are evaluated lazily, memoized and
// recomputed only when something they read changed.
//
// A Store is not safe for concurrent use; see Engine.
type Store struct {
	engine *engine.Engine
	id     engine.OwnerID
	name   string
	logger *slog.Logger

	ids  map[string]engine.ValueID
	keys []string

	subs  []*subscription
	smart []*smartSubscriber

	view    *View
	rev     uint64
	removed bool
}

// NewStore creates a store from initial. Values of type Computed (or a
// plain func(*View) (any, error)) become computed properties; everything
// else is static. Every property is evaluated once before NewStore
// returns, so a circular dependency fails construction.
func NewStore(initial map[string]any, opts ...Option) (*Store, error) {
	return newStore(initial, buildOptions("Unknown", opts))
}

func newStore(initial map[string]any, o options) (*Store, error) {
	name := o.config.Name
	if initial == nil {
		return nil, engine.NewValidationError(name, "InitialState (in %s) must be plain Object", name)
	}
	e := o.engine
	if !e.CanSetState() {
		return nil, e.Fail(engine.NewStateError(name, "Can't create store in computed value (in %s)", name))
	}

	s := &Store{
		engine: e,
		id:     engine.NewOwnerID(),
		name:   name,
		logger: o.logger,
		ids:    make(map[string]engine.ValueID, len(initial)),
	}
	s.view = &View{store: s}
	reg := e.Registry()
	reg.RegisterOwner(s.id, name, owner{s})

	keys := make([]string, 0, len(initial))
	for k := range initial {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.register(k, initial[k])
	}

	for _, k := range keys {
		if _, err := e.Read(s.ids[k]); err != nil {
			reg.Unlink(s.valueIDs())
			reg.RemoveOwner(s.id)
			return nil, err
		}
	}
	return s, nil
}

// owner routes engine notifications without exporting Publish on Store.
type owner struct{ s *Store }

func (o owner) Publish(changed []string) { o.s.publish(changed) }

func (s *Store) register(key string, value any) engine.ValueID {
	reg := s.engine.Registry()
	var id engine.ValueID
	if fn, ok := asComputed(value); ok {
		id = reg.RegisterComputed(s.id, key, func() (any, error) {
			return fn(s.view)
		})
	} else {
		id = reg.RegisterStatic(s.id, key, value)
	}
	s.ids[key] = id
	s.keys = append(s.keys, key)
	return id
}

func asComputed(v any) (Computed, bool) {
	switch fn := v.(type) {
	case Computed:
		return fn, fn != nil
	case func(*View) (any, error):
		return fn, fn != nil
	}
	return nil, false
}

// Name returns the store name. Removed stores report "<name>[removed]".
func (s *Store) Name() string {
	if s.removed {
		return s.name + "[removed]"
	}
	return s.name
}

// Removed reports whether Remove has been called.
func (s *Store) Removed() bool {
	return s.removed
}

// State returns the live View. A new View is created after every pass
// that changed this store, so views compare unequal across changes.
func (s *Store) State() *View {
	return s.view
}

// SetState merges diff into the store. Writes that change nothing are
// skipped; if anything changed, dependents are recomputed and subscribers
// of every affected store are notified once.
//
// The diff is checked before anything is written: a key holding a
// computed value fails the whole call.
func (s *Store) SetState(diff map[string]any) error {
	if s.removed {
		return engine.NewRemovedStoreError(s.Name())
	}
	if diff == nil {
		return engine.NewValidationError(s.name, "New state must be plain Object (in %s)", s.name)
	}
	if !s.engine.CanSetState() {
		return s.engine.Fail(engine.NewStateError(s.name, "Can't modify any state when values is computing (in %s)", s.name))
	}

	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	reg := s.engine.Registry()
	for _, k := range keys {
		id, ok := s.ids[k]
		if !ok {
			continue
		}
		info, err := reg.Get(id)
		if err != nil {
			return err
		}
		if info.Kind == engine.KindComputed {
			return engine.NewReadOnlyError(s.name, k)
		}
	}

	p := s.engine.NewPass()
	var added []string
	for _, k := range keys {
		if id, ok := s.ids[k]; ok {
			if _, err := p.Assign(id, diff[k]); err != nil {
				s.unregister(added)
				return err
			}
			continue
		}
		added = append(added, k)
		if err := p.Added(s.register(k, diff[k])); err != nil {
			s.unregister(added)
			return err
		}
	}
	if err := s.engine.Propagate(p); err != nil {
		s.unregister(added)
		return err
	}
	return nil
}

// unregister drops keys registered by a write that failed, so the store
// looks as if they were never added.
func (s *Store) unregister(keys []string) {
	if len(keys) == 0 {
		return
	}
	ids := make([]engine.ValueID, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, s.ids[k])
		delete(s.ids, k)
	}
	s.engine.Registry().Unlink(ids)
	s.keys = slices.DeleteFunc(s.keys, func(k string) bool {
		return slices.Contains(keys, k)
	})
	s.logger.Debug("rolled back added keys", "store", s.name, "keys", keys)
}

// Subscribe registers fn for every pass that changes this store.
// Subscribers run synchronously in subscription order.
func (s *Store) Subscribe(fn Subscriber) (Unsubscribe, error) {
	if s.removed {
		return nil, engine.NewRemovedStoreError(s.Name())
	}
	if fn == nil {
		return nil, engine.NewValidationError(s.name, "Subscriber must be a function (in %s)", s.name)
	}
	sub := &subscription{fn: fn, active: true}
	s.subs = append(s.subs, sub)
	return func() {
		if !sub.active {
			return
		}
		sub.active = false
		s.subs = slices.DeleteFunc(s.subs, func(x *subscription) bool { return x == sub })
	}, nil
}

// Remove tears the store down. Its values are unlinked from the graph;
// computed values in other stores that read them fail with an access
// error on their next evaluation. Every later call on the store fails.
// Removing twice is a no-op.
func (s *Store) Remove() error {
	if s.removed {
		return nil
	}
	if !s.engine.CanSetState() {
		return s.engine.Fail(engine.NewStateError(s.name, "Can't remove store in computed value (in %s)", s.name))
	}

	for _, sub := range s.subs {
		sub.active = false
	}
	s.subs = nil
	for _, sm := range s.smart {
		sm.active = false
	}
	s.smart = nil

	reg := s.engine.Registry()
	reg.Unlink(s.valueIDs())
	reg.RemoveOwner(s.id)
	s.removed = true
	s.logger.Debug("store removed", "store", s.name, "values", len(s.ids))
	return nil
}

func (s *Store) publish(changed []string) {
	s.rev++
	s.view = &View{store: s, rev: s.rev}
	set := NewKeySet(changed...)

	for _, sm := range slices.Clone(s.smart) {
		if sm.active {
			sm.deliver(s.view, set)
		}
	}
	for _, sub := range slices.Clone(s.subs) {
		if sub.active {
			sub.fn(s.view, set)
		}
	}
}

func (s *Store) valueIDs() []engine.ValueID {
	ids := make([]engine.ValueID, 0, len(s.keys))
	for _, k := range s.keys {
		ids = append(ids, s.ids[k])
	}
	return ids
}

func (s *Store) isComputed(key string) bool {
	id, ok := s.ids[key]
	if !ok {
		return false
	}
	info, err := s.engine.Registry().Get(id)
	return err == nil && info.Kind == engine.KindComputed
}
