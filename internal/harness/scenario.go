package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// Scenario declares a set of stores and a sequence of steps against them.
// Every step may carry expectations; assertions run after the last step.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Stores are created in order on a fresh engine. A computed property
	// may only reference stores declared before its own.
	Stores []StoreDecl `yaml:"stores"`

	// Steps run in order after every store is created.
	Steps []Step `yaml:"steps"`

	// Assertions validate the whole run.
	// Supported types: notify_count, notify_order, recompute_count, final_state
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// StoreDecl declares one store.
type StoreDecl struct {
	// Name is the store name used in errors and references.
	Name string `yaml:"name"`

	// State holds the static properties.
	State map[string]any `yaml:"state,omitempty"`

	// Computed holds the computed properties.
	Computed map[string]*Expr `yaml:"computed,omitempty"`

	// ExpectError makes construction failure the expected outcome. The
	// store is then unavailable to later steps.
	ExpectError *ErrorExpectation `yaml:"expect_error,omitempty"`
}

// Step performs at most one action and checks its outcome.
type Step struct {
	// Set merges state into a store.
	Set *SetAction `yaml:"set,omitempty"`

	// Remove removes the named store.
	Remove string `yaml:"remove,omitempty"`

	// Read reads one property, usually to provoke an error.
	Read *ReadAction `yaml:"read,omitempty"`

	// ExpectNotify lists, per store, the changed property names the step's
	// notifications must carry. Stores not listed must not be notified;
	// an empty mapping expects no notification at all.
	ExpectNotify map[string][]string `yaml:"expect_notify,omitempty"`

	// ExpectState is checked after the action by reading each property.
	// Comparison is on canonical JSON, so 2 and 2.0 are equal.
	ExpectState *StateExpectation `yaml:"expect_state,omitempty"`

	// ExpectError requires the action to fail.
	ExpectError *ErrorExpectation `yaml:"expect_error,omitempty"`
}

// SetAction is a SetState call.
type SetAction struct {
	Store string         `yaml:"store"`
	State map[string]any `yaml:"state"`
}

// ReadAction reads Store.Key.
type ReadAction struct {
	Store string `yaml:"store"`
	Key   string `yaml:"key"`
}

// StateExpectation lists expected property values of one store.
// This is a subset match.
type StateExpectation struct {
	Store string         `yaml:"store"`
	State map[string]any `yaml:"state"`
}

// ErrorExpectation describes an expected failure.
type ErrorExpectation struct {
	// Code is one of VALIDATION, ACCESS, STATE, CIRCULAR_DEPENDENCY,
	// INTERNAL or DERIVATION (an error returned by an expression).
	Code string `yaml:"code"`

	// Contains is an optional substring of the error message.
	Contains string `yaml:"contains,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "notify_count": Store was notified exactly Count times
	// - "notify_order": the first notifications of Stores happen in order
	// - "recompute_count": Store.Key was computed exactly Count times,
	//   construction included
	// - "final_state": Store's properties match Expect
	Type string `yaml:"type"`

	Store  string         `yaml:"store,omitempty"`
	Key    string         `yaml:"key,omitempty"`
	Count  int            `yaml:"count,omitempty"`
	Stores []string       `yaml:"stores,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertNotifyCount    = "notify_count"
	AssertNotifyOrder    = "notify_order"
	AssertRecomputeCount = "recompute_count"
	AssertFinalState     = "final_state"
)

// errorCodes are the codes ErrorExpectation accepts.
var errorCodes = map[string]bool{
	"VALIDATION":          true,
	"ACCESS":              true,
	"STATE":               true,
	"CIRCULAR_DEPENDENCY": true,
	"INTERNAL":            true,
	codeDerivation:        true,
}

// LoadScenario reads and parses a scenario file. Files ending in .cue are
// compiled with CUE and exported as JSON first; everything else is YAML.
// Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".cue") {
		data, err = exportCUE(path, data)
		if err != nil {
			return nil, err
		}
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a YAML (or JSON) scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// exportCUE evaluates a CUE scenario into JSON. JSON is valid YAML, so the
// result goes through the same strict decoder as YAML scenarios.
func exportCUE(path string, data []byte) ([]byte, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile CUE scenario: %w", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("CUE scenario is not concrete: %w", err)
	}
	out, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export CUE scenario: %w", err)
	}
	return out, nil
}

// validateScenario checks that required fields are present and that every
// step and reference names a declared store.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Stores) == 0 {
		return fmt.Errorf("stores list is required and must be non-empty")
	}

	declared := make(map[string]bool, len(s.Stores))
	for i, d := range s.Stores {
		if d.Name == "" {
			return fmt.Errorf("stores[%d]: name is required", i)
		}
		if declared[d.Name] {
			return fmt.Errorf("stores[%d]: duplicate store %q", i, d.Name)
		}
		for key, expr := range d.Computed {
			if expr == nil {
				return fmt.Errorf("stores[%d].computed.%s: expression is required", i, key)
			}
			if _, ok := d.State[key]; ok {
				return fmt.Errorf("stores[%d]: %q is both static and computed", i, key)
			}
			for _, ref := range expr.Refs() {
				if ref[0] != "" && ref[0] != d.Name && !declared[ref[0]] {
					return fmt.Errorf("stores[%d].computed.%s: store %q must be declared before %q", i, key, ref[0], d.Name)
				}
			}
		}
		if err := validateErrorExpectation(fmt.Sprintf("stores[%d]", i), d.ExpectError); err != nil {
			return err
		}
		declared[d.Name] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step, declared); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, declared); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step *Step, declared map[string]bool) error {
	where := fmt.Sprintf("steps[%d]", index)
	actions := 0
	if step.Set != nil {
		actions++
		if !declared[step.Set.Store] {
			return fmt.Errorf("%s.set: unknown store %q", where, step.Set.Store)
		}
	}
	if step.Remove != "" {
		actions++
		if !declared[step.Remove] {
			return fmt.Errorf("%s.remove: unknown store %q", where, step.Remove)
		}
	}
	if step.Read != nil {
		actions++
		if !declared[step.Read.Store] {
			return fmt.Errorf("%s.read: unknown store %q", where, step.Read.Store)
		}
		if step.Read.Key == "" {
			return fmt.Errorf("%s.read: key is required", where)
		}
	}
	if actions > 1 {
		return fmt.Errorf("%s: at most one of set, remove, read is allowed", where)
	}
	if actions == 0 && step.ExpectState == nil {
		return fmt.Errorf("%s: an action or expect_state is required", where)
	}
	if actions == 0 && (step.ExpectError != nil || step.ExpectNotify != nil) {
		return fmt.Errorf("%s: expect_error and expect_notify need an action", where)
	}

	for store := range step.ExpectNotify {
		if !declared[store] {
			return fmt.Errorf("%s.expect_notify: unknown store %q", where, store)
		}
	}
	if step.ExpectState != nil && !declared[step.ExpectState.Store] {
		return fmt.Errorf("%s.expect_state: unknown store %q", where, step.ExpectState.Store)
	}
	return validateErrorExpectation(where, step.ExpectError)
}

func validateErrorExpectation(where string, e *ErrorExpectation) error {
	if e == nil {
		return nil
	}
	if !errorCodes[e.Code] {
		return fmt.Errorf("%s.expect_error: unknown code %q", where, e.Code)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, declared map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertNotifyCount:
		if !declared[a.Store] {
			return fmt.Errorf("assertions[%d]: unknown store %q for notify_count", index, a.Store)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for notify_count", index)
		}
	case AssertNotifyOrder:
		if len(a.Stores) == 0 {
			return fmt.Errorf("assertions[%d]: stores list is required for notify_order", index)
		}
	case AssertRecomputeCount:
		if !declared[a.Store] || a.Key == "" {
			return fmt.Errorf("assertions[%d]: store and key are required for recompute_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for recompute_count", index)
		}
	case AssertFinalState:
		if !declared[a.Store] {
			return fmt.Errorf("assertions[%d]: unknown store %q for final_state", index, a.Store)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
