package lemon

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notifyRecorder struct {
	calls [][]string
	views []*View
}

func (r *notifyRecorder) fn(v *View, changed KeySet) {
	r.calls = append(r.calls, changed.Sorted())
	r.views = append(r.views, v)
}

func intOf(t *testing.T, v *View, name string) int {
	t.Helper()
	n, err := Get[int](v, name)
	require.NoError(t, err)
	return n
}

func double(key string, runs *int) Computed {
	return func(v *View) (any, error) {
		if runs != nil {
			*runs++
		}
		n, err := Get[int](v, key)
		return n * 2, err
	}
}

func newTestStore(t *testing.T, e *Engine, name string, initial map[string]any) *Store {
	t.Helper()
	s, err := NewStore(initial, WithEngine(e), WithName(name))
	require.NoError(t, err)
	return s
}

// ============================================================================
// Construction and reads
// ============================================================================

func TestStore_FooBarScenario(t *testing.T) {
	s := newTestStore(t, NewEngine(), "main", map[string]any{
		"foo": 10,
		"bar": double("foo", nil),
	})

	snap, err := s.State().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"foo": 10, "bar": 20}, snap)

	rec := &notifyRecorder{}
	_, err = s.Subscribe(rec.fn)
	require.NoError(t, err)

	require.NoError(t, s.SetState(map[string]any{"foo": 20}))

	assert.Equal(t, [][]string{{"bar", "foo"}}, rec.calls)
	snap, err = rec.views[0].Snapshot()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"foo": 20, "bar": 40}, snap)
}

func TestNewStore_DefaultsAndValidation(t *testing.T) {
	e := NewEngine()

	s, err := NewStore(map[string]any{}, WithEngine(e))
	require.NoError(t, err)
	assert.Equal(t, "Unknown", s.Name())

	_, err = NewStore(nil, WithEngine(e), WithName("bad"))
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "InitialState (in bad) must be plain Object")
}

func TestNewStore_PlainFuncIsComputed(t *testing.T) {
	s := newTestStore(t, NewEngine(), "main", map[string]any{
		"n": 3,
		"sq": func(v *View) (any, error) {
			n, err := Get[int](v, "n")
			return n * n, err
		},
	})
	assert.Equal(t, 9, intOf(t, s.State(), "sq"))
}

func TestNewStore_CycleFailsConstruction(t *testing.T) {
	e := NewEngine()
	read := func(name string) Computed {
		return func(v *View) (any, error) { return v.Get(name) }
	}

	_, err := NewStore(map[string]any{
		"a": read("b"),
		"b": read("c"),
		"c": read("a"),
	}, WithEngine(e), WithName("loop"))

	require.Error(t, err)
	assert.True(t, IsCircularDependencyError(err))
	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, []ValueRef{
		{Name: "a", Store: "loop"},
		{Name: "b", Store: "loop"},
		{Name: "c", Store: "loop"},
		{Name: "a", Store: "loop"},
	}, lerr.Chain)
	assert.Equal(t, 0, e.Registry().Len(), "failed construction leaves no values behind")

	// The engine is usable after the failure.
	s := newTestStore(t, e, "ok", map[string]any{"x": 1})
	assert.Equal(t, 1, intOf(t, s.State(), "x"))
}

func TestView_GetMissingAndTyped(t *testing.T) {
	s := newTestStore(t, NewEngine(), "main", map[string]any{"name": "lemon"})

	v, err := s.State().Get("missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	n, err := Get[int](s.State(), "missing")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = Get[int](s.State(), "name")
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestView_SetIsRejected(t *testing.T) {
	s := newTestStore(t, NewEngine(), "main", map[string]any{"foo": 1})

	err := s.State().Set("foo", 2)
	require.Error(t, err)
	assert.True(t, IsAccessError(err))
	assert.Contains(t, err.Error(), "You can't modify state directly (in main)")
	assert.Equal(t, 1, intOf(t, s.State(), "foo"))
}

func TestView_KeysAndRevision(t *testing.T) {
	s := newTestStore(t, NewEngine(), "main", map[string]any{"b": 1, "a": 2})
	first := s.State()
	assert.Equal(t, []string{"a", "b"}, first.Keys())
	assert.Equal(t, uint64(0), first.Revision())

	require.NoError(t, s.SetState(map[string]any{"c": 3}))
	second := s.State()
	assert.NotSame(t, first, second)
	assert.Equal(t, uint64(1), second.Revision())
	assert.Equal(t, []string{"a", "b", "c"}, second.Keys())
}

// ============================================================================
// Writes and notifications
// ============================================================================

func TestSetState_ReferenceDistinctWriteNotifiesOnce(t *testing.T) {
	s := newTestStore(t, NewEngine(), "main", map[string]any{"list": []int{1}})
	rec := &notifyRecorder{}
	_, err := s.Subscribe(rec.fn)
	require.NoError(t, err)

	next := []int{1}
	require.NoError(t, s.SetState(map[string]any{"list": next}))
	require.Len(t, rec.calls, 1)
	assert.Equal(t, []string{"list"}, rec.calls[0])

	got, err := s.State().Get("list")
	require.NoError(t, err)
	assert.Same(t, &next[0], &got.([]int)[0])

	require.NoError(t, s.SetState(map[string]any{"list": next}))
	assert.Len(t, rec.calls, 1, "identical write is idempotent")
}

func TestSetState_NegativeZeroIsAChange(t *testing.T) {
	s := newTestStore(t, NewEngine(), "main", map[string]any{"v": 0.0})
	rec := &notifyRecorder{}
	_, err := s.Subscribe(rec.fn)
	require.NoError(t, err)

	require.NoError(t, s.SetState(map[string]any{"v": math.Copysign(0, -1)}))
	assert.Equal(t, [][]string{{"v"}}, rec.calls)

	require.NoError(t, s.SetState(map[string]any{"v": math.NaN()}))
	require.NoError(t, s.SetState(map[string]any{"v": math.NaN()}))
	assert.Len(t, rec.calls, 2, "NaN over NaN is not a change")
}

func TestSetState_NilDiff(t *testing.T) {
	s := newTestStore(t, NewEngine(), "main", map[string]any{})
	err := s.SetState(nil)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestSetState_ComputedKeyRejectsWholeDiff(t *testing.T) {
	s := newTestStore(t, NewEngine(), "main", map[string]any{
		"foo": 1,
		"bar": double("foo", nil),
	})

	err := s.SetState(map[string]any{"foo": 5, "bar": 100})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.True(t, IsAccessError(err))
	assert.ErrorIs(t, err, ErrAccess)
	assert.Contains(t, err.Error(), "Can't modify 'bar' property (in main), this is computed value.")
	assert.Equal(t, 1, intOf(t, s.State(), "foo"), "no key is written")
}

func TestSetState_NewKeysAreReported(t *testing.T) {
	s := newTestStore(t, NewEngine(), "main", map[string]any{"foo": 2})
	rec := &notifyRecorder{}
	_, err := s.Subscribe(rec.fn)
	require.NoError(t, err)

	require.NoError(t, s.SetState(map[string]any{"baz": 1}))
	require.NoError(t, s.SetState(map[string]any{"quad": Computed(func(v *View) (any, error) {
		n, err := Get[int](v, "foo")
		return n * 4, err
	})}))
	require.NoError(t, s.SetState(map[string]any{"foo": 3}))

	assert.Equal(t, [][]string{{"baz"}, {"quad"}, {"foo", "quad"}}, rec.calls)
	assert.Equal(t, 12, intOf(t, s.State(), "quad"))
}

func TestSetState_DerivationRunsOncePerPass(t *testing.T) {
	runs := 0
	s := newTestStore(t, NewEngine(), "main", map[string]any{
		"foo":   1,
		"other": "x",
		"bar":   double("foo", &runs),
	})
	require.Equal(t, 1, runs)

	_, err := s.Subscribe(func(v *View, _ KeySet) {
		for i := 0; i < 3; i++ {
			_, _ = v.Get("bar")
		}
	})
	require.NoError(t, err)

	require.NoError(t, s.SetState(map[string]any{"foo": 2}))
	assert.Equal(t, 2, runs)

	require.NoError(t, s.SetState(map[string]any{"other": "y"}))
	assert.Equal(t, 2, runs, "unrelated change does not recompute")

	for i := 0; i < 3; i++ {
		assert.Equal(t, 4, intOf(t, s.State(), "bar"))
	}
	assert.Equal(t, 2, runs)
}

func TestSetState_DiamondRecomputesOnce(t *testing.T) {
	runs := 0
	s := newTestStore(t, NewEngine(), "main", map[string]any{
		"a": 1,
		"b": Computed(func(v *View) (any, error) {
			n, err := Get[int](v, "a")
			return n + 1, err
		}),
		"c": double("a", nil),
		"d": Computed(func(v *View) (any, error) {
			runs++
			b, err := Get[int](v, "b")
			if err != nil {
				return nil, err
			}
			c, err := Get[int](v, "c")
			return b + c, err
		}),
	})
	require.Equal(t, 1, runs)
	rec := &notifyRecorder{}
	_, err := s.Subscribe(rec.fn)
	require.NoError(t, err)

	require.NoError(t, s.SetState(map[string]any{"a": 5}))

	assert.Equal(t, 2, runs)
	assert.Equal(t, 16, intOf(t, s.State(), "d"))
	assert.Equal(t, [][]string{{"a", "b", "c", "d"}}, rec.calls)
}

func TestSetState_UnchangedComputedStopsPropagation(t *testing.T) {
	runs := 0
	s := newTestStore(t, NewEngine(), "main", map[string]any{
		"n": 2,
		"even": Computed(func(v *View) (any, error) {
			n, err := Get[int](v, "n")
			return n%2 == 0, err
		}),
		"label": Computed(func(v *View) (any, error) {
			runs++
			even, err := Get[bool](v, "even")
			return fmt.Sprintf("even=%t", even), err
		}),
	})
	rec := &notifyRecorder{}
	_, err := s.Subscribe(rec.fn)
	require.NoError(t, err)

	require.NoError(t, s.SetState(map[string]any{"n": 4}))

	assert.Equal(t, 1, runs)
	assert.Equal(t, [][]string{{"n"}}, rec.calls)
}

func TestSetState_DerivationErrorIsWrapped(t *testing.T) {
	boom := errors.New("boom")
	s := newTestStore(t, NewEngine(), "main", map[string]any{
		"n": 1,
		"checked": Computed(func(v *View) (any, error) {
			n, err := Get[int](v, "n")
			if err != nil {
				return nil, err
			}
			if n < 0 {
				return nil, boom
			}
			return n, nil
		}),
	})

	err := s.SetState(map[string]any{"n": -1})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "compute 'checked' (in main)")

	// The engine is idle again.
	require.NoError(t, s.SetState(map[string]any{"n": 3}))
	assert.Equal(t, 3, intOf(t, s.State(), "checked"))
}

func TestSetState_FailedWriteDropsAddedKeys(t *testing.T) {
	s := newTestStore(t, NewEngine(), "S", map[string]any{"a": 1})
	rec := &notifyRecorder{}
	_, err := s.Subscribe(rec.fn)
	require.NoError(t, err)

	err = s.SetState(map[string]any{
		"b": 2,
		"z": Computed(func(v *View) (any, error) { return v.Get("z") }),
	})
	require.Error(t, err)
	assert.True(t, IsCircularDependencyError(err))
	assert.Empty(t, rec.calls)

	assert.Equal(t, []string{"a"}, s.State().Keys())
	snap, err := s.State().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, snap)

	require.NoError(t, s.SetState(map[string]any{"z": 5}))
	assert.Equal(t, 5, intOf(t, s.State(), "z"))
	assert.Equal(t, [][]string{{"z"}}, rec.calls)
}

func TestSubscribe_OrderAndUnsubscribe(t *testing.T) {
	s := newTestStore(t, NewEngine(), "main", map[string]any{"n": 0})
	var order []string
	unsubA, err := s.Subscribe(func(*View, KeySet) { order = append(order, "a") })
	require.NoError(t, err)
	_, err = s.Subscribe(func(*View, KeySet) { order = append(order, "b") })
	require.NoError(t, err)

	require.NoError(t, s.SetState(map[string]any{"n": 1}))
	unsubA()
	unsubA()
	require.NoError(t, s.SetState(map[string]any{"n": 2}))

	assert.Equal(t, []string{"a", "b", "b"}, order)

	_, err = s.Subscribe(nil)
	assert.True(t, IsValidationError(err))
}

func TestSubscribe_NestedWriteStartsNewPass(t *testing.T) {
	e := NewEngine()
	a := newTestStore(t, e, "a", map[string]any{"n": 1})
	b := newTestStore(t, e, "b", map[string]any{"mirror": 0, "twice": double("mirror", nil)})

	_, err := a.Subscribe(func(v *View, changed KeySet) {
		n, err := Get[int](v, "n")
		require.NoError(t, err)
		require.NoError(t, b.SetState(map[string]any{"mirror": n}))
	})
	require.NoError(t, err)
	recB := &notifyRecorder{}
	_, err = b.Subscribe(recB.fn)
	require.NoError(t, err)

	require.NoError(t, a.SetState(map[string]any{"n": 7}))

	assert.Equal(t, [][]string{{"mirror", "twice"}}, recB.calls)
	assert.Equal(t, 14, intOf(t, b.State(), "twice"))
}

// ============================================================================
// Cross-store dependencies and removal
// ============================================================================

func TestCrossStore_RecomputeAndRemoval(t *testing.T) {
	e := NewEngine()
	a := newTestStore(t, e, "A", map[string]any{"x": 1})
	b := newTestStore(t, e, "B", map[string]any{
		"y": Computed(func(*View) (any, error) {
			x, err := Get[int](a.State(), "x")
			return x * 10, err
		}),
	})
	recA, recB := &notifyRecorder{}, &notifyRecorder{}
	_, err := a.Subscribe(recA.fn)
	require.NoError(t, err)
	_, err = b.Subscribe(recB.fn)
	require.NoError(t, err)

	require.NoError(t, a.SetState(map[string]any{"x": 2}))
	assert.Equal(t, [][]string{{"x"}}, recA.calls)
	assert.Equal(t, [][]string{{"y"}}, recB.calls)
	assert.Equal(t, 20, intOf(t, b.State(), "y"))

	require.NoError(t, a.Remove())
	assert.Len(t, recB.calls, 1, "removal does not notify dependents")

	_, err = b.State().Get("y")
	require.Error(t, err)
	assert.True(t, IsAccessError(err))
	assert.Contains(t, err.Error(), "There is no access to 'x' (in A[removed])")
}

func TestCrossStore_RemovalInvalidatesTransitiveDependents(t *testing.T) {
	e := NewEngine()
	a := newTestStore(t, e, "A", map[string]any{"x": 1})
	b := newTestStore(t, e, "B", map[string]any{
		"y": Computed(func(*View) (any, error) {
			x, err := Get[int](a.State(), "x")
			return x * 10, err
		}),
		"w": Computed(func(v *View) (any, error) {
			y, err := Get[int](v, "y")
			return y + 1, err
		}),
	})
	c := newTestStore(t, e, "C", map[string]any{
		"z": Computed(func(*View) (any, error) {
			w, err := Get[int](b.State(), "w")
			return w * 2, err
		}),
	})
	assert.Equal(t, 11, intOf(t, b.State(), "w"))
	assert.Equal(t, 22, intOf(t, c.State(), "z"))

	require.NoError(t, a.Remove())

	for _, read := range []struct {
		view *View
		key  string
	}{
		{b.State(), "y"},
		{b.State(), "w"},
		{c.State(), "z"},
	} {
		_, err := read.view.Get(read.key)
		require.Error(t, err, "%s.%s must not return a stale value", read.view.StoreName(), read.key)
		assert.True(t, IsAccessError(err))
		assert.Contains(t, err.Error(), "There is no access to 'x' (in A[removed])")
	}

	require.NoError(t, b.SetState(map[string]any{"extra": 1}))
	assert.Equal(t, 1, intOf(t, b.State(), "extra"))
}

func TestRemove_Guards(t *testing.T) {
	s := newTestStore(t, NewEngine(), "main", map[string]any{"foo": 1})
	view := s.State()
	require.NoError(t, s.Remove())
	assert.True(t, s.Removed())
	assert.Equal(t, "main[removed]", s.Name())

	err := s.SetState(map[string]any{"foo": 2})
	assert.True(t, IsAccessError(err))
	assert.Contains(t, err.Error(), "Store is removed! (in main[removed])")

	_, err = s.Subscribe(func(*View, KeySet) {})
	assert.True(t, IsAccessError(err))
	_, err = s.SmartSubscribe(func(*View, KeySet) {})
	assert.True(t, IsAccessError(err))

	_, err = view.Get("foo")
	assert.True(t, IsAccessError(err))
	_, err = s.State().Get("other")
	assert.True(t, IsAccessError(err))
	assert.Empty(t, s.State().Keys())

	assert.NoError(t, s.Remove(), "second remove is a no-op")
}

// ============================================================================
// Writes from inside computations
// ============================================================================

func TestComputed_WriteDuringComputeFails(t *testing.T) {
	e := NewEngine()
	other := newTestStore(t, e, "other", map[string]any{"n": 1})

	_, err := NewStore(map[string]any{
		"bad": Computed(func(*View) (any, error) {
			_ = other.SetState(map[string]any{"n": 2})
			return 0, nil
		}),
	}, WithEngine(e), WithName("writer"))

	require.Error(t, err)
	assert.True(t, IsStateError(err))
	assert.Contains(t, err.Error(), "Can't modify any state when values is computing")
	assert.Equal(t, 1, intOf(t, other.State(), "n"))
}

func TestComputed_RemoveDuringComputeFails(t *testing.T) {
	e := NewEngine()
	other := newTestStore(t, e, "other", map[string]any{"n": 1})

	_, err := NewStore(map[string]any{
		"bad": Computed(func(*View) (any, error) {
			return 0, other.Remove()
		}),
	}, WithEngine(e))

	require.Error(t, err)
	assert.True(t, IsStateError(err))
	assert.Contains(t, err.Error(), "Can't remove store in computed value")
	assert.False(t, other.Removed())
}

func TestEngine_StoresOnDifferentEnginesAreIsolated(t *testing.T) {
	a := newTestStore(t, NewEngine(), "a", map[string]any{"n": 1})
	b := newTestStore(t, NewEngine(), "b", map[string]any{"n": 1})

	require.NoError(t, a.SetState(map[string]any{"n": 2}))
	assert.Equal(t, 1, intOf(t, b.State(), "n"))
	assert.NotSame(t, DefaultEngine(), NewEngine())
	assert.Same(t, DefaultEngine(), DefaultEngine())
}
