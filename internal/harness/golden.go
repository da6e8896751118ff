package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/lemonstate/internal/snapshot"
)

// TraceSnapshot captures the trace of a scenario execution for golden
// comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts the snapshot to plain maps so snapshot.Marshal
// emits every field in canonical key order.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"step":  event.Step,
			"type":  event.Type,
			"store": event.Store,
		}
		if event.Key != "" {
			eventMap["key"] = event.Key
		}
		if event.State != nil {
			eventMap["state"] = event.State
		}
		if len(event.Changed) > 0 {
			changed := make([]any, len(event.Changed))
			for j, name := range event.Changed {
				changed[j] = name
			}
			eventMap["changed"] = changed
		}
		if event.Value != nil {
			eventMap["value"] = event.Value
		}
		if event.Code != "" {
			eventMap["code"] = event.Code
		}
		if event.Recomputed != 0 {
			eventMap["recomputed"] = event.Recomputed
		}
		traceList[i] = eventMap
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

// Marshal returns the canonical JSON of the snapshot.
func (s *TraceSnapshot) Marshal() ([]byte, error) {
	return snapshot.Marshal(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snap := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	traceJSON, err := snap.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
