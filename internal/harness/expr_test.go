package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/lemonstate/lemon"
)

func parseYAMLExpr(t *testing.T, src string) *Expr {
	t.Helper()
	var e Expr
	require.NoError(t, yaml.Unmarshal([]byte(src), &e))
	return &e
}

// evalIn evaluates src as a computed property of a store holding state.
func evalIn(t *testing.T, state map[string]any, src string) (any, error) {
	t.Helper()
	e := parseYAMLExpr(t, src)
	eng := lemon.NewEngine()
	stores := map[string]*lemon.Store{}
	s, err := lemon.NewStore(state, lemon.WithName("s"), lemon.WithEngine(eng))
	require.NoError(t, err)
	stores["s"] = s
	return e.Eval(scope{view: s.State(), stores: stores})
}

// =============================================================================
// Parsing
// =============================================================================

func TestParseExpr_Literals(t *testing.T) {
	assert.Equal(t, &Expr{Value: 3}, parseYAMLExpr(t, "3"))
	assert.Equal(t, &Expr{Value: "x"}, parseYAMLExpr(t, `"x"`))
	assert.Equal(t, &Expr{Value: []any{1, 2}}, parseYAMLExpr(t, "[1, 2]"))
	assert.Equal(t, &Expr{Value: nil}, parseYAMLExpr(t, "null"))
}

func TestParseExpr_Ref(t *testing.T) {
	assert.Equal(t, &Expr{Op: OpRef, Ref: "a"}, parseYAMLExpr(t, "{ref: a}"))
	assert.Equal(t, &Expr{Op: OpRef, Ref: "a", Store: "other"}, parseYAMLExpr(t, "{ref: a, store: other}"))
}

func TestParseExpr_Operators(t *testing.T) {
	e := parseYAMLExpr(t, "{if: [{ref: c}, {len: {ref: s}}, 0]}")
	require.Equal(t, OpIf, e.Op)
	require.Len(t, e.Args, 3)
	assert.Equal(t, OpLen, e.Args[1].Op)
	assert.Equal(t, &Expr{Op: OpRef, Ref: "s"}, e.Args[1].Args[0])
	assert.Equal(t, [][2]string{{"", "c"}, {"", "s"}}, e.Refs())

	// A single-operand operator takes a list as one literal operand.
	e = parseYAMLExpr(t, "{len: [1, 2, 3]}")
	require.Len(t, e.Args, 1)
	assert.Equal(t, []any{1, 2, 3}, e.Args[0].Value)
}

func TestParseExpr_Errors(t *testing.T) {
	tests := []struct {
		src     string
		wantErr string
	}{
		{"{ref: 1}", "ref must be a non-empty string"},
		{"{ref: a, store: 2}", "store must be a non-empty string"},
		{"{ref: a, extra: 1}", `unknown field "extra"`},
		{"{add: [1], mul: [2]}", "exactly one operator"},
		{"{pow: 2}", `unknown operator "pow"`},
		{"{split: [a]}", "split: expected 2 operands, got 1"},
		{"{if: [true, 1]}", "if: expected 3 operands, got 2"},
		{"{add: []}", "add: expected one or more operands, got 0"},
		{"{not: {pow: 1}}", `not[0]: unknown operator "pow"`},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			var e Expr
			err := yaml.Unmarshal([]byte(tt.src), &e)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// =============================================================================
// Evaluation
// =============================================================================

func TestEval(t *testing.T) {
	state := map[string]any{
		"i":    4,
		"f":    0.5,
		"s":    "a,b,c",
		"yes":  true,
		"list": []any{1, 2},
	}
	tests := []struct {
		src  string
		want any
	}{
		{"{add: [{ref: i}, 1, 2]}", 7},
		{"{add: [{ref: i}, {ref: f}]}", 4.5},
		{"{mul: [{ref: i}, 3]}", 12},
		{"{mul: [{ref: i}, {ref: f}]}", 2.0},
		{"{concat: [{ref: s}, '-', {ref: i}, {ref: missing}]}", "a,b,c-4"},
		{"{len: {ref: s}}", 5},
		{"{len: {ref: list}}", 2},
		{"{len: {ref: missing}}", 0},
		{"{split: [{ref: s}, ',']}", []any{"a", "b", "c"}},
		{"{split: ['', ',']}", []any{}},
		{"{not: {ref: yes}}", false},
		{"{eq: [{ref: i}, 4]}", true},
		{"{eq: [{ref: list}, [1, 2]]}", true},
		{"{if: [{ref: yes}, then, else]}", "then"},
		{"{if: [{not: {ref: yes}}, then, else]}", "else"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := evalIn(t, state, tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_Errors(t *testing.T) {
	state := map[string]any{"s": "x", "n": 1}
	tests := []struct {
		src     string
		wantErr string
	}{
		{"{add: [{ref: s}, 1]}", "add: operand 0 is string, not a number"},
		{"{mul: [1, {ref: missing}]}", "mul: operand 1 is <nil>, not a number"},
		{"{len: {ref: n}}", "len: int has no length"},
		{"{split: [{ref: n}, ',']}", "split: operands must be strings"},
		{"{not: {ref: s}}", "not: string is not a bool"},
		{"{if: [{ref: n}, 1, 2]}", "if: condition is int, not bool"},
		{"{ref: x, store: nowhere}", `unknown store "nowhere"`},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			_, err := evalIn(t, state, tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpr_ComputedTracksOnlyTakenBranch(t *testing.T) {
	e := parseYAMLExpr(t, "{if: [{ref: flag}, {ref: a}, {ref: b}]}")
	eng := lemon.NewEngine()
	stores := map[string]*lemon.Store{}
	s, err := lemon.NewStore(map[string]any{
		"flag": true,
		"a":    "A",
		"b":    "B",
		"out":  e.computed(stores),
	}, lemon.WithName("s"), lemon.WithEngine(eng))
	require.NoError(t, err)
	stores["s"] = s

	var changes [][]string
	_, err = s.Subscribe(func(_ *lemon.View, changed lemon.KeySet) {
		changes = append(changes, changed.Sorted())
	})
	require.NoError(t, err)

	require.NoError(t, s.SetState(map[string]any{"b": "B2"}))
	require.NoError(t, s.SetState(map[string]any{"a": "A2"}))

	assert.Equal(t, [][]string{{"b"}, {"a", "out"}}, changes)
	out, err := s.State().Get("out")
	require.NoError(t, err)
	assert.Equal(t, "A2", out)
}
