package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/lemonstate/internal/engine"
	"github.com/roach88/lemonstate/internal/snapshot"
	"github.com/roach88/lemonstate/lemon"
)

// codeDerivation labels errors returned by expressions rather than by
// the stores.
const codeDerivation = "DERIVATION"

// Option configures Run.
type Option func(*config)

type config struct {
	logger    *slog.Logger
	observers []lemon.Observer
}

// WithLogger sets the logger handed to the engine and the stores.
// Default: a logger that discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithObserver attaches extra engine observers, such as telemetry.Metrics.
func WithObserver(observers ...lemon.Observer) Option {
	return func(c *config) {
		c.observers = append(c.observers, observers...)
	}
}

// Harness executes one scenario.
//
// Each run gets a fresh engine, so scenarios never share stores and
// recompute counts start at zero.
type Harness struct {
	engine *lemon.Engine
	stores map[string]*lemon.Store
	result *Result
	logger *slog.Logger

	step       int
	recomputed int // derivations since the current action started
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Create a fresh engine with a recompute counter and cfg observers
//  2. Create the stores in order and subscribe to each
//  3. Run the steps, checking each step's expectations
//  4. Evaluate the assertions
//
// Failed expectations are reported in Result; the returned error is
// reserved for scenarios that cannot run at all.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	if scenario == nil {
		return nil, fmt.Errorf("scenario is nil")
	}
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	cfg := config{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &Harness{
		stores: make(map[string]*lemon.Store, len(scenario.Stores)),
		result: NewResult(),
		logger: cfg.logger,
	}
	observers := append([]lemon.Observer{recomputeCounter{h: h}}, cfg.observers...)
	h.engine = lemon.NewEngine(
		lemon.WithEngineLogger(cfg.logger),
		lemon.WithObserver(observers...),
	)

	for i := range scenario.Stores {
		h.create(i, &scenario.Stores[i])
	}
	for i := range scenario.Steps {
		h.step = i + 1
		h.runStep(&scenario.Steps[i])
	}
	h.step = 0

	for _, err := range h.evaluateAssertions(scenario.Assertions) {
		h.result.AddError(err.Error())
	}

	h.logger.Debug("scenario finished",
		"scenario", scenario.Name,
		"pass", h.result.Pass,
		"events", len(h.result.Trace))
	return h.result, nil
}

// recomputeCounter feeds engine recompute events into the result.
type recomputeCounter struct {
	engine.NopObserver
	h *Harness
}

func (c recomputeCounter) Recomputed(ref lemon.ValueRef) {
	c.h.result.Recomputes[ref.Store+"."+ref.Name]++
	c.h.recomputed++
}

func (h *Harness) create(index int, decl *StoreDecl) {
	initial := make(map[string]any, len(decl.State)+len(decl.Computed))
	for k, v := range decl.State {
		initial[k] = v
	}
	for k, expr := range decl.Computed {
		initial[k] = expr.computed(h.stores)
	}

	h.recomputed = 0
	idx := h.result.add(TraceEvent{Type: EventCreate, Store: decl.Name})
	store, err := lemon.NewStore(initial,
		lemon.WithName(decl.Name),
		lemon.WithEngine(h.engine),
		lemon.WithLogger(h.logger),
	)
	h.result.Trace[idx].Recomputed = h.recomputed
	h.check(fmt.Sprintf("stores[%d]", index), decl.Name, err, decl.ExpectError)
	if err != nil {
		return
	}

	h.stores[decl.Name] = store
	if _, err := store.Subscribe(func(view *lemon.View, changed lemon.KeySet) {
		h.result.add(TraceEvent{
			Step:    h.step,
			Type:    EventNotify,
			Store:   decl.Name,
			Changed: changed.Sorted(),
		})
	}); err != nil {
		h.result.AddError(fmt.Sprintf("stores[%d]: subscribe: %v", index, err))
	}
}

func (h *Harness) runStep(step *Step) {
	where := fmt.Sprintf("step %d", h.step)
	h.recomputed = 0

	switch {
	case step.Set != nil:
		name := step.Set.Store
		idx := h.result.add(TraceEvent{Step: h.step, Type: EventSet, Store: name, State: step.Set.State})
		if s, ok := h.lookup(where, name); ok {
			err := s.SetState(step.Set.State)
			h.result.Trace[idx].Recomputed = h.recomputed
			h.check(where, name, err, step.ExpectError)
		}
	case step.Remove != "":
		name := step.Remove
		h.result.add(TraceEvent{Step: h.step, Type: EventRemove, Store: name})
		if s, ok := h.lookup(where, name); ok {
			h.check(where, name, s.Remove(), step.ExpectError)
		}
	case step.Read != nil:
		name := step.Read.Store
		idx := h.result.add(TraceEvent{Step: h.step, Type: EventRead, Store: name, Key: step.Read.Key})
		if s, ok := h.lookup(where, name); ok {
			value, err := s.State().Get(step.Read.Key)
			h.result.Trace[idx].Value = value
			h.result.Trace[idx].Recomputed = h.recomputed
			h.check(where, name, err, step.ExpectError)
		}
	}

	if step.ExpectNotify != nil {
		h.checkNotify(where, step.ExpectNotify)
	}
	if step.ExpectState != nil {
		h.checkState(where, step.ExpectState.Store, step.ExpectState.State)
	}
}

func (h *Harness) lookup(where, name string) (*lemon.Store, bool) {
	s, ok := h.stores[name]
	if !ok {
		h.result.AddError(fmt.Sprintf("%s: store %q was not created", where, name))
	}
	return s, ok
}

// check traces err and compares it with the expectation.
func (h *Harness) check(where, store string, err error, expect *ErrorExpectation) {
	if err != nil {
		h.result.add(TraceEvent{Step: h.step, Type: EventError, Store: store, Code: errorCode(err)})
	}

	switch {
	case err == nil && expect == nil:
	case err != nil && expect == nil:
		h.result.AddError(fmt.Sprintf("%s: unexpected error: %v", where, err))
	case err == nil:
		h.result.AddError(fmt.Sprintf("%s: expected %s error, got none", where, expect.Code))
	default:
		if !matchesCode(err, expect.Code) {
			h.result.AddError(fmt.Sprintf("%s: expected %s error, got %s: %v", where, expect.Code, errorCode(err), err))
		}
		if expect.Contains != "" && !strings.Contains(err.Error(), expect.Contains) {
			h.result.AddError(fmt.Sprintf("%s: error %q does not contain %q", where, err.Error(), expect.Contains))
		}
	}
}

func (h *Harness) checkNotify(where string, expect map[string][]string) {
	got := make(map[string][]string)
	for _, ev := range h.result.notifications(h.step) {
		if _, dup := got[ev.Store]; dup {
			h.result.AddError(fmt.Sprintf("%s: %s notified more than once", where, ev.Store))
		}
		got[ev.Store] = ev.Changed
	}

	for _, store := range sortedStoreNames(expect) {
		want := slices.Clone(expect[store])
		sort.Strings(want)
		changed, ok := got[store]
		if !ok {
			h.result.AddError(fmt.Sprintf("%s: expected %s to be notified with %v", where, store, want))
			continue
		}
		if !slices.Equal(changed, want) {
			h.result.AddError(fmt.Sprintf("%s: %s notified with %v, want %v", where, store, changed, want))
		}
	}
	for _, store := range sortedStoreNames(got) {
		if _, ok := expect[store]; !ok {
			h.result.AddError(fmt.Sprintf("%s: unexpected notification of %s with %v", where, store, got[store]))
		}
	}
}

func (h *Harness) checkState(where, name string, expect map[string]any) {
	s, ok := h.lookup(where, name)
	if !ok {
		return
	}
	for _, err := range compareState(s, expect) {
		h.result.AddError(fmt.Sprintf("%s: %v", where, err))
	}
}

// compareState reads every expected property of s and compares canonical
// JSON encodings.
func compareState(s *lemon.Store, expect map[string]any) []error {
	keys := make([]string, 0, len(expect))
	for k := range expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	view := s.State()
	for _, k := range keys {
		got, err := view.Get(k)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s.%s: %w", view.StoreName(), k, err))
			continue
		}
		if equal, gotJSON, wantJSON := sameJSON(got, expect[k]); !equal {
			errs = append(errs, fmt.Errorf("%s.%s = %s, want %s", view.StoreName(), k, gotJSON, wantJSON))
		}
	}
	return errs
}

func sameJSON(got, want any) (bool, string, string) {
	gotJSON, err1 := snapshot.Marshal(got)
	wantJSON, err2 := snapshot.Marshal(want)
	if err1 != nil || err2 != nil {
		return false, fmt.Sprintf("%v", got), fmt.Sprintf("%v", want)
	}
	return bytes.Equal(gotJSON, wantJSON), string(gotJSON), string(wantJSON)
}

func sortedStoreNames[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func errorCode(err error) string {
	var le *lemon.Error
	if errors.As(err, &le) {
		return string(le.Code)
	}
	return codeDerivation
}

func matchesCode(err error, code string) bool {
	switch code {
	case string(lemon.ErrCodeValidation):
		return lemon.IsValidationError(err)
	case string(lemon.ErrCodeAccess):
		return lemon.IsAccessError(err)
	case string(lemon.ErrCodeState):
		return lemon.IsStateError(err)
	case string(lemon.ErrCodeCircularDependency):
		return lemon.IsCircularDependencyError(err)
	case string(lemon.ErrCodeInternal):
		return lemon.IsInternalError(err)
	case codeDerivation:
		return errorCode(err) == codeDerivation
	}
	return false
}
