package lemon

import (
	"log/slog"
	"reflect"
	"runtime"
	"sort"
	"strings"

	"github.com/roach88/lemonstate/devtools"
	"github.com/roach88/lemonstate/internal/engine"
	"github.com/roach88/lemonstate/internal/snapshot"
)

// ActionContext is passed to every action.
type ActionContext struct {
	// State is the store's View when the action started.
	State *View

	GetState func() *View
	SetState func(diff map[string]any) error
	Dispatch func(action Action, payload any) (any, error)
}

// Action is a named state transition. A map[string]any result is merged
// into the store with SetState; any other result is returned unchanged.
type Action func(ctx ActionContext, payload any) (any, error)

// ActionStore is a Store with bound actions and an optional devtools
// bridge.
type ActionStore struct {
	store   *Store
	config  Config
	logger  *slog.Logger
	actions map[string]Action
	bridge  devtools.Bridge
	removed bool
}

// NewActionStore creates a store and binds actions to it. The default
// name is DefaultConfig.Name. With WithDevtools (or a Config with Debug
// set) the store connects to the debugger, sends its initial snapshot and
// applies DISPATCH messages it receives.
func NewActionStore(initial map[string]any, actions map[string]Action, opts ...Option) (*ActionStore, error) {
	o := buildOptions(DefaultConfig.Name, opts)
	name := o.config.Name

	bound := make(map[string]Action, len(actions))
	for _, k := range sortedNames(actions) {
		if actions[k] == nil {
			return nil, engine.NewValidationError(name, "Action %s must be a function (in %s)", k, name)
		}
		bound[k] = actions[k]
	}

	store, err := newStore(initial, o)
	if err != nil {
		return nil, err
	}
	a := &ActionStore{
		store:   store,
		config:  o.config,
		logger:  o.logger.With("store", name),
		actions: bound,
	}
	if o.config.Debug && o.config.Connector != nil {
		a.connect(o.config.Connector)
	}
	return a, nil
}

func (a *ActionStore) connect(c devtools.Connector) {
	bridge, err := c.Connect(devtools.ConnectOptions{
		Name:     a.config.Name,
		Features: devtools.Features{Jump: true},
	})
	if err != nil {
		a.logger.Warn("devtools connect failed", "error", err)
		return
	}
	if bridge == nil {
		return
	}
	a.bridge = bridge

	state, err := a.snapshot()
	if err != nil {
		a.logger.Warn("devtools init snapshot failed", "error", err)
	} else if err := bridge.Init(state); err != nil {
		a.logger.Warn("devtools init failed", "error", err)
	}
	bridge.Subscribe(a.receive)
}

// receive applies a DISPATCH message. Computed keys in the snapshot are
// skipped since they are derived from the rest.
func (a *ActionStore) receive(msg devtools.Message) {
	if a.removed || msg.Type != devtools.TypeDispatch || msg.State == "" {
		return
	}
	diff, err := snapshot.Decode([]byte(msg.State))
	if err != nil {
		a.logger.Warn("devtools dispatch rejected", "error", err)
		return
	}
	for k := range diff {
		if a.store.isComputed(k) {
			delete(diff, k)
		}
	}
	if err := a.store.SetState(diff); err != nil {
		a.logger.Warn("devtools dispatch failed", "error", err)
	}
}

func (a *ActionStore) snapshot() ([]byte, error) {
	state, err := a.store.State().Snapshot()
	if err != nil {
		return nil, err
	}
	return snapshot.Marshal(state)
}

// Dispatch runs action against the store. Devtools record it under the
// function's name.
func (a *ActionStore) Dispatch(action Action, payload any) (any, error) {
	if action == nil {
		return nil, engine.NewValidationError(a.config.Name, "Action must be a function (in %s)", a.config.Name)
	}
	return a.dispatch(actionName(action), action, payload)
}

// Call runs the action bound under name.
func (a *ActionStore) Call(name string, payload any) (any, error) {
	if a.removed {
		return nil, a.removedError()
	}
	action, ok := a.actions[name]
	if !ok {
		return nil, engine.NewValidationError(a.config.Name, "Unknown action '%s' (in %s)", name, a.config.Name)
	}
	return a.dispatch(name, action, payload)
}

func (a *ActionStore) dispatch(name string, action Action, payload any) (any, error) {
	if a.removed {
		return nil, a.removedError()
	}
	ctx := ActionContext{
		State:    a.store.State(),
		GetState: a.store.State,
		SetState: a.store.SetState,
		Dispatch: a.Dispatch,
	}
	result, err := action(ctx, payload)
	if err != nil {
		return nil, err
	}
	if diff, ok := result.(map[string]any); ok {
		if err := a.store.SetState(diff); err != nil {
			return result, err
		}
	}
	if a.bridge != nil {
		a.send(name)
	}
	return result, nil
}

func (a *ActionStore) send(name string) {
	state, err := a.snapshot()
	if err != nil {
		a.logger.Warn("devtools snapshot failed", "action", name, "error", err)
		return
	}
	if err := a.bridge.Send(name, state); err != nil {
		a.logger.Warn("devtools send failed", "action", name, "error", err)
	}
}

func (a *ActionStore) removedError() error {
	return engine.NewAccessError(a.config.Name, "'%s' is removed!", a.config.Name)
}

// Actions returns the bound actions.
func (a *ActionStore) Actions() BoundActions {
	return BoundActions{a: a}
}

// Store returns the underlying store.
func (a *ActionStore) Store() *Store { return a.store }

// State returns the live View.
func (a *ActionStore) State() *View { return a.store.State() }

// SetState merges diff into the store.
func (a *ActionStore) SetState(diff map[string]any) error { return a.store.SetState(diff) }

// Subscribe registers fn for every pass that changes the store.
func (a *ActionStore) Subscribe(fn Subscriber) (Unsubscribe, error) { return a.store.Subscribe(fn) }

// SmartSubscribe registers fn for passes that change a name it reads.
func (a *ActionStore) SmartSubscribe(fn Subscriber, opts ...SmartOption) (Unsubscribe, error) {
	return a.store.SmartSubscribe(fn, opts...)
}

// Removed reports whether Remove has been called.
func (a *ActionStore) Removed() bool { return a.removed }

// Remove removes the store and unbinds every action.
func (a *ActionStore) Remove() error {
	if a.removed {
		return nil
	}
	if err := a.store.Remove(); err != nil {
		return err
	}
	a.removed = true
	a.actions = nil
	return nil
}

// BoundActions is the read-only action table of an ActionStore.
type BoundActions struct {
	a *ActionStore
}

// Names lists bound action names in lexical order.
func (b BoundActions) Names() []string {
	return sortedNames(b.a.actions)
}

// Call runs the named action.
func (b BoundActions) Call(name string, payload any) (any, error) {
	return b.a.Call(name, payload)
}

// Set always fails: actions are fixed at construction.
func (b BoundActions) Set(name string, action Action) error {
	return engine.NewAccessError(b.a.config.Name, "Can't modify actions (in %s)", b.a.config.Name)
}

func sortedNames(actions map[string]Action) []string {
	names := make([]string, 0, len(actions))
	for k := range actions {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// actionName returns the short name of fn, e.g. "increment" for
// main.increment.
func actionName(fn Action) string {
	full := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
	if i := strings.LastIndex(full, "/"); i >= 0 {
		full = full[i+1:]
	}
	if i := strings.LastIndex(full, "."); i >= 0 {
		full = full[i+1:]
	}
	return strings.TrimSuffix(full, "-fm")
}
