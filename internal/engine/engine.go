package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Engine is the shared evaluation context for a set of stores.
//
// Every store created against the same Engine can read values of the
// others; the engine tracks which computation is active, the chain of
// computations in progress and the current propagation pass.
//
// Thread-safety: an Engine is not safe for concurrent use. All stores
// sharing an engine must be used from one goroutine.
//
// INVARIANTS:
//   - the active computation, the chain and the failure latch are empty
//     whenever control returns to a caller outside the engine
//   - a pass is resolving only inside Propagate; subscribers run after
//     the pass stops resolving, so they may start nested passes
type Engine struct {
	registry *Registry

	active  *ValueInfo
	chain   []*ValueInfo
	inChain map[ValueID]struct{}
	pass    *Pass

	// failure latches the first error raised inside a computation so the
	// whole evaluation fails even if a derivation swallows the error.
	failure error

	logger   *slog.Logger
	observer Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for pass diagnostics.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithObserver attaches observers for pass and recompute events.
func WithObserver(observers ...Observer) Option {
	return func(e *Engine) {
		switch len(observers) {
		case 0:
		case 1:
			e.observer = observers[0]
		default:
			e.observer = multiObserver(observers)
		}
	}
}

// New creates an idle engine with an empty registry.
func New(opts ...Option) *Engine {
	e := &Engine{
		registry: NewRegistry(),
		inChain:  make(map[ValueID]struct{}),
		logger:   slog.Default(),
		observer: NopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = sync.OnceValue(func() *Engine { return New() })

// Default returns the process-wide engine.
func Default() *Engine {
	return defaultEngine()
}

// Registry returns the engine's value registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// CanSetState reports whether a write may start: no computation is active
// and no pass is resolving.
func (e *Engine) CanSetState() bool {
	return e.active == nil && (e.pass == nil || !e.pass.resolving)
}

// Fail reports err from inside a computation. When a computation is active
// the error is latched so the computation fails even if the derivation
// ignores it. Fail returns err.
func (e *Engine) Fail(err error) error {
	if e.active != nil {
		e.latch(err)
	}
	return err
}

// Read returns the current value of id, computing it if needed.
// When called from outside any computation, a failure clears the
// evaluation state before it is returned.
func (e *Engine) Read(id ValueID) (any, error) {
	if !e.CanSetState() {
		return e.resolve(id)
	}
	defer e.recoverPanic()
	v, err := e.resolve(id)
	if err != nil {
		e.abort(err)
		e.observer.Failed(err)
		return nil, err
	}
	return v, nil
}

// Propagate runs a propagation pass for p: it resolves everything the
// direct writes made stale, then notifies each affected store once, in
// the order the stores were first touched.
func (e *Engine) Propagate(p *Pass) error {
	if !p.Dirty() {
		return nil
	}
	if !e.CanSetState() {
		return e.Fail(NewStateError("", "Can't modify any state when values is computing"))
	}

	start := time.Now()
	seeds := p.needUpdate.len()
	prev := e.pass
	defer func() {
		if r := recover(); r != nil {
			e.clearWork()
			e.pass = prev
			panic(r)
		}
	}()

	e.observer.PassStarted(seeds)
	e.pass = p
	p.resolving = true
	p.resolved = make(map[ValueID]struct{})

	if err := e.settle(p); err != nil {
		e.abort(err)
		e.pass = prev
		e.observer.PassFailed(err)
		return err
	}

	p.resolving = false
	p.resolved = nil
	changed := p.changed.len()
	recomputed := p.recomputed
	groups := e.group(p)
	p.reset()
	e.pass = prev

	for _, g := range groups {
		if owner, ok := e.registry.Owner(g.owner); ok {
			owner.Publish(g.names)
		}
	}

	stats := PassStats{
		Seeds:      seeds,
		Recomputed: recomputed,
		Changed:    changed,
		Stores:     len(groups),
		Duration:   time.Since(start),
	}
	e.logger.Debug("propagation pass completed",
		"seeds", stats.Seeds,
		"recomputed", stats.Recomputed,
		"changed", stats.Changed,
		"stores", stats.Stores,
		"duration", stats.Duration)
	e.observer.PassCompleted(stats)
	return nil
}

// settle resolves the needs-update set until it is empty. Each resolution
// removes its id and may schedule the dependents of values that changed.
func (e *Engine) settle(p *Pass) error {
	for {
		id, ok := p.needUpdate.first()
		if !ok {
			return nil
		}
		if _, err := e.resolve(id); err != nil {
			return err
		}
	}
}

type ownerGroup struct {
	owner OwnerID
	names []string
}

func (e *Engine) group(p *Pass) []ownerGroup {
	var groups []ownerGroup
	index := make(map[OwnerID]int)
	for _, id := range p.changed.order {
		info := e.registry.lookup(id)
		if info == nil {
			continue
		}
		i, ok := index[info.Owner]
		if !ok {
			i = len(groups)
			index[info.Owner] = i
			groups = append(groups, ownerGroup{owner: info.Owner})
		}
		groups[i].names = append(groups[i].names, info.Name)
	}
	return groups
}

func (e *Engine) resolvingPass() *Pass {
	if e.pass != nil && e.pass.resolving {
		return e.pass
	}
	return nil
}

func (e *Engine) resolve(id ValueID) (any, error) {
	if e.failure != nil {
		return nil, e.failure
	}
	info, err := e.registry.Get(id)
	if err != nil {
		return nil, e.latch(err)
	}

	p := e.resolvingPass()
	if p != nil {
		p.needUpdate.remove(id)
	}
	if e.active != nil {
		link(e.active, info)
	}

	if info.Kind == KindStatic {
		if p != nil {
			p.markResolved(id)
		}
		return info.cached, nil
	}

	if _, ok := e.inChain[id]; ok {
		return nil, e.latch(e.circular(info))
	}

	if p == nil {
		if info.cached != unset {
			return info.cached, nil
		}
		return e.recompute(info, nil)
	}

	if info.cached != unset {
		if p.isResolved(id) {
			return info.cached, nil
		}
		stale, err := e.validate(info, p)
		if err != nil {
			return nil, err
		}
		if !stale {
			p.markResolved(id)
			return info.cached, nil
		}
	}
	return e.recompute(info, p)
}

// validate resolves the dependencies of a cached value and reports whether
// any of them changed in this pass. No computation is active meanwhile, so
// the checks do not add edges to whichever value is being computed.
func (e *Engine) validate(info *ValueInfo, p *Pass) (bool, error) {
	prev := e.active
	e.active = nil
	defer func() { e.active = prev }()

	for _, dep := range info.dependsOn.slice() {
		if _, err := e.resolve(dep); err != nil {
			return false, err
		}
		if !p.isResolved(dep) {
			depInfo := e.registry.lookup(dep)
			depRef := ValueRef{Name: fmt.Sprintf("#%d", dep), Store: "Unknown"}
			if depInfo != nil {
				depRef = e.registry.ref(depInfo)
			}
			return false, e.latch(newUnresolvedError(depRef, e.registry.ref(info)))
		}
		if p.changed.has(dep) {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) recompute(info *ValueInfo, p *Pass) (any, error) {
	for _, dep := range info.dependsOn.slice() {
		if d := e.registry.lookup(dep); d != nil {
			d.dependents.remove(info.ID)
		}
	}
	info.dependsOn.clear()

	prev := e.active
	e.chain = append(e.chain, info)
	e.inChain[info.ID] = struct{}{}
	e.active = info

	value, err := info.derive()

	e.active = prev
	e.chain = e.chain[:len(e.chain)-1]
	delete(e.inChain, info.ID)

	if e.failure != nil {
		return nil, e.failure
	}
	if err != nil {
		ref := e.registry.ref(info)
		return nil, e.latch(fmt.Errorf("compute %s: %w", ref, err))
	}

	changed := !Same(info.cached, value)
	info.cached = value
	e.observer.Recomputed(e.registry.ref(info))

	if p != nil {
		p.recomputed++
		if changed {
			p.changed.add(info.ID)
			for _, dep := range info.dependents.slice() {
				p.needUpdate.add(dep)
			}
		}
		p.markResolved(info.ID)
	}
	return value, nil
}

func (e *Engine) circular(info *ValueInfo) *Error {
	refs := make([]ValueRef, 0, len(e.chain)+1)
	for _, v := range e.chain {
		refs = append(refs, e.registry.ref(v))
	}
	refs = append(refs, e.registry.ref(info))
	return newCircularError(refs)
}

func (e *Engine) latch(err error) error {
	if e.failure == nil {
		e.failure = err
	}
	return err
}

func (e *Engine) abort(err error) {
	e.logger.Debug("evaluation aborted", "error", err)
	e.clearWork()
}

// clearWork resets every piece of evaluation state.
func (e *Engine) clearWork() {
	e.active = nil
	e.chain = nil
	e.inChain = make(map[ValueID]struct{})
	e.failure = nil
	if e.pass != nil {
		e.pass.reset()
	}
}

func (e *Engine) recoverPanic() {
	if r := recover(); r != nil {
		e.clearWork()
		panic(r)
	}
}
