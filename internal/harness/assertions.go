package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	// Only notifications; the full trace is in the result.
	fmt.Fprintf(&buf, "\nNotifications:\n")
	for _, event := range e.Trace {
		if event.Type == EventNotify {
			fmt.Fprintf(&buf, "  [step %d] %s %v\n", event.Step, event.Store, event.Changed)
		}
	}

	return buf.String()
}

// assertNotifyCount checks that a store was notified exactly Count times.
func assertNotifyCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventNotify && event.Store == assertion.Store {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertNotifyCount,
			Expected: fmt.Sprintf("%s notified %d times", assertion.Store, assertion.Count),
			Actual:   fmt.Sprintf("notified %d times", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertNotifyOrder checks that the first notification of each store
// happens in the listed order. Other notifications may come in between.
func assertNotifyOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if event.Type != EventNotify {
			continue
		}
		if _, seen := positions[event.Store]; !seen {
			positions[event.Store] = i + 1 // 1-indexed for readability
		}
	}

	for _, store := range assertion.Stores {
		if positions[store] == 0 {
			return &AssertionError{
				Type:     AssertNotifyOrder,
				Expected: fmt.Sprintf("all stores notified: %v", assertion.Stores),
				Actual:   fmt.Sprintf("%s was never notified", store),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Stores); i++ {
		prev := assertion.Stores[i-1]
		curr := assertion.Stores[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertNotifyOrder,
				Expected: fmt.Sprintf("stores notified in order: %v", assertion.Stores),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertRecomputeCount checks how often Store.Key was derived.
func assertRecomputeCount(result *Result, assertion Assertion) error {
	ref := assertion.Store + "." + assertion.Key
	if got := result.Recomputes[ref]; got != assertion.Count {
		return &AssertionError{
			Type:     AssertRecomputeCount,
			Expected: fmt.Sprintf("%s computed %d times", ref, assertion.Count),
			Actual:   fmt.Sprintf("computed %d times", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertFinalState reads the store after the last step. This is a subset
// match: properties not named in Expect are ignored.
func (h *Harness) assertFinalState(assertion Assertion) error {
	s, ok := h.stores[assertion.Store]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("store %s with %v", assertion.Store, assertion.Expect),
			Actual:   "store was not created",
			Trace:    h.result.Trace,
		}
	}

	errs := compareState(s, assertion.Expect)
	if len(errs) == 0 {
		return nil
	}
	actual := make([]string, len(errs))
	for i, err := range errs {
		actual[i] = err.Error()
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("%s matches %v", assertion.Store, assertion.Expect),
		Actual:   strings.Join(actual, "; "),
		Trace:    h.result.Trace,
	}
}

// evaluateAssertions runs every assertion and collects the failures.
func (h *Harness) evaluateAssertions(assertions []Assertion) []error {
	var errs []error
	for _, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertNotifyCount:
			err = assertNotifyCount(h.result.Trace, assertion)
		case AssertNotifyOrder:
			err = assertNotifyOrder(h.result.Trace, assertion)
		case AssertRecomputeCount:
			err = assertRecomputeCount(h.result, assertion)
		case AssertFinalState:
			err = h.assertFinalState(assertion)
		default:
			err = fmt.Errorf("unknown assertion type: %s", assertion.Type)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
