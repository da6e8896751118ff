package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/roach88/lemonstate/lemon"
)

// Expression operators.
const (
	OpRef    = "ref"
	OpAdd    = "add"
	OpMul    = "mul"
	OpConcat = "concat"
	OpLen    = "len"
	OpSplit  = "split"
	OpNot    = "not"
	OpEq     = "eq"
	OpIf     = "if"
)

// arity is the operand count per operator; -1 means one or more.
var arity = map[string]int{
	OpAdd:    -1,
	OpMul:    -1,
	OpConcat: -1,
	OpLen:    1,
	OpSplit:  2,
	OpNot:    1,
	OpEq:     2,
	OpIf:     3,
}

// Expr is a computed property declared in a scenario.
//
// In YAML an expression is either a literal or a single-key mapping:
//
//	total: {mul: [{ref: qty}, {ref: price, store: catalog}]}
//	label: {if: [{ref: empty}, "none", {concat: [{ref: n}, " items"]}]}
//
// A ref reads a property of the declaring store, or of another store when
// store is given. if evaluates only the chosen branch, so the properties
// the other branch reads are not dependencies.
type Expr struct {
	Op    string
	Value any // literal when Op is empty
	Ref   string
	Store string
	Args  []*Expr
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *Expr) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := parseExpr(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*e = *parsed
	return nil
}

func parseExpr(raw any) (*Expr, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return &Expr{Value: raw}, nil
	}

	if ref, ok := m[OpRef]; ok {
		name, ok := ref.(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("ref must be a non-empty string")
		}
		e := &Expr{Op: OpRef, Ref: name}
		for k, v := range m {
			switch k {
			case OpRef:
			case "store":
				store, ok := v.(string)
				if !ok || store == "" {
					return nil, fmt.Errorf("ref %q: store must be a non-empty string", name)
				}
				e.Store = store
			default:
				return nil, fmt.Errorf("ref %q: unknown field %q", name, k)
			}
		}
		return e, nil
	}

	if len(m) != 1 {
		return nil, fmt.Errorf("expression must have exactly one operator, got %v", sortedFields(m))
	}
	var op string
	var operand any
	for k, v := range m {
		op, operand = k, v
	}
	want, ok := arity[op]
	if !ok {
		return nil, fmt.Errorf("unknown operator %q", op)
	}

	var raws []any
	if list, ok := operand.([]any); ok && want != 1 {
		raws = list
	} else {
		raws = []any{operand}
	}
	if (want == -1 && len(raws) == 0) || (want > 0 && len(raws) != want) {
		return nil, fmt.Errorf("%s: expected %s operands, got %d", op, arityText(want), len(raws))
	}

	e := &Expr{Op: op, Args: make([]*Expr, 0, len(raws))}
	for i, r := range raws {
		arg, err := parseExpr(r)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", op, i, err)
		}
		e.Args = append(e.Args, arg)
	}
	return e, nil
}

func arityText(n int) string {
	if n == -1 {
		return "one or more"
	}
	return fmt.Sprint(n)
}

func sortedFields(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Refs returns every (store, name) pair the expression may read, in
// evaluation order. An empty store means the declaring store.
func (e *Expr) Refs() [][2]string {
	var out [][2]string
	var walk func(*Expr)
	walk = func(x *Expr) {
		if x.Op == OpRef {
			out = append(out, [2]string{x.Store, x.Ref})
		}
		for _, a := range x.Args {
			walk(a)
		}
	}
	walk(e)
	return out
}

// scope resolves refs while an expression is evaluated.
type scope struct {
	view   *lemon.View
	stores map[string]*lemon.Store
}

// Eval evaluates the expression. Refs go through the store Views, so
// evaluation inside a Computed records dependencies.
func (e *Expr) Eval(sc scope) (any, error) {
	switch e.Op {
	case "":
		return e.Value, nil
	case OpRef:
		view := sc.view
		if e.Store != "" {
			s, ok := sc.stores[e.Store]
			if !ok {
				return nil, fmt.Errorf("unknown store %q", e.Store)
			}
			view = s.State()
		}
		return view.Get(e.Ref)
	case OpIf:
		cond, err := e.evalBool(sc, 0)
		if err != nil {
			return nil, err
		}
		if cond {
			return e.Args[1].Eval(sc)
		}
		return e.Args[2].Eval(sc)
	}

	args := make([]any, len(e.Args))
	for i, a := range e.Args {
		v, err := a.Eval(sc)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch e.Op {
	case OpAdd:
		return arith(OpAdd, args, 0, func(a, b int) int { return a + b }, func(a, b float64) float64 { return a + b })
	case OpMul:
		return arith(OpMul, args, 1, func(a, b int) int { return a * b }, func(a, b float64) float64 { return a * b })
	case OpConcat:
		var sb strings.Builder
		for _, a := range args {
			if a == nil {
				continue
			}
			if s, ok := a.(string); ok {
				sb.WriteString(s)
				continue
			}
			fmt.Fprint(&sb, a)
		}
		return sb.String(), nil
	case OpLen:
		switch v := args[0].(type) {
		case nil:
			return 0, nil
		case string:
			return utf8.RuneCountInString(v), nil
		case []any:
			return len(v), nil
		default:
			return nil, fmt.Errorf("len: %T has no length", v)
		}
	case OpSplit:
		s, ok1 := args[0].(string)
		sep, ok2 := args[1].(string)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("split: operands must be strings, got %T and %T", args[0], args[1])
		}
		if s == "" {
			return []any{}, nil
		}
		parts := strings.Split(s, sep)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	case OpNot:
		b, ok := args[0].(bool)
		if !ok {
			return nil, fmt.Errorf("not: %T is not a bool", args[0])
		}
		return !b, nil
	case OpEq:
		return reflect.DeepEqual(args[0], args[1]), nil
	}
	return nil, fmt.Errorf("unknown operator %q", e.Op)
}

func (e *Expr) evalBool(sc scope, i int) (bool, error) {
	v, err := e.Args[i].Eval(sc)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s: condition is %T, not bool", e.Op, v)
	}
	return b, nil
}

// arith folds numeric operands. The result stays int while every operand
// is an int and becomes float64 otherwise.
func arith(op string, args []any, unit int, fi func(a, b int) int, ff func(a, b float64) float64) (any, error) {
	acc, facc := unit, float64(unit)
	float := false
	for i, a := range args {
		switch v := a.(type) {
		case int:
			acc = fi(acc, v)
			facc = ff(facc, float64(v))
		case float64:
			float = true
			facc = ff(facc, v)
		default:
			return nil, fmt.Errorf("%s: operand %d is %T, not a number", op, i, a)
		}
	}
	if float {
		return facc, nil
	}
	return acc, nil
}

// computed binds the expression as a store property.
func (e *Expr) computed(stores map[string]*lemon.Store) lemon.Computed {
	return func(view *lemon.View) (any, error) {
		return e.Eval(scope{view: view, stores: stores})
	}
}
