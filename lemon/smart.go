package lemon

import (
	"slices"

	"github.com/roach88/lemonstate/internal/engine"
)

type smartSubscriber struct {
	fn      Subscriber
	trigger KeySet
	reindex bool
	pending bool
	active  bool
}

// SmartOption configures SmartSubscribe.
type SmartOption func(*smartSubscriber)

// WithReindex re-records the trigger set on every delivered call, so a
// subscriber whose reads depend on state follows the names it actually
// read last. Without it the set recorded at subscription is kept.
func WithReindex() SmartOption {
	return func(sm *smartSubscriber) {
		sm.reindex = true
	}
}

// SmartSubscribe registers fn and immediately calls it once with a
// recording View and an empty changed set. The names fn reads become its
// triggers: later passes call fn only if they changed one of them.
//
// Inside a computation fn cannot be called yet; it is indexed on the
// first pass that changes the store instead.
func (s *Store) SmartSubscribe(fn Subscriber, opts ...SmartOption) (Unsubscribe, error) {
	if s.removed {
		return nil, engine.NewRemovedStoreError(s.Name())
	}
	if fn == nil {
		return nil, engine.NewValidationError(s.name, "Subscriber must be a function (in %s)", s.name)
	}
	sm := &smartSubscriber{fn: fn, active: true}
	for _, opt := range opts {
		opt(sm)
	}
	s.smart = append(s.smart, sm)

	if s.engine.CanSetState() {
		sm.index(s, s.view, KeySet{})
	} else {
		sm.pending = true
	}

	return func() {
		if !sm.active {
			return
		}
		sm.active = false
		s.smart = slices.DeleteFunc(s.smart, func(x *smartSubscriber) bool { return x == sm })
	}, nil
}

func (sm *smartSubscriber) index(s *Store, view *View, changed KeySet) {
	rv := &View{store: s, rev: view.rev, rec: KeySet{}}
	sm.fn(rv, changed)
	sm.trigger = rv.rec
	rv.rec = nil
	sm.pending = false
}

func (sm *smartSubscriber) deliver(view *View, changed KeySet) {
	switch {
	case sm.pending:
		sm.index(view.store, view, changed)
	case !changed.Intersects(sm.trigger):
	case sm.reindex:
		sm.index(view.store, view, changed)
	default:
		sm.fn(view, changed)
	}
}
