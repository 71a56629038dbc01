package where

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
)

// Command names.
const (
	CmdEquals   = "equals"
	CmdIncludes = "includes"
	CmdSome     = "some"
	CmdEvery    = "every"
	CmdOr       = "or"
	CmdNot      = "not"
)

// Parse errors.
var (
	ErrUnknownCommand = errors.New("unknown where command")
	ErrInvalidOperand = errors.New("invalid where operand")
	ErrInvalidJSON    = errors.New("invalid where expression")
)

// Parse compiles a where expression. The input is either an array of clause
// objects or a single clause object. null and [] compile to the empty Expr.
func Parse(data []byte) (Expr, error) {
	var raw any

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}

	if raw == nil {
		return nil, nil
	}

	return compile(raw, "where")
}

// MustParse is Parse for expressions known to be valid. It panics on error.
func MustParse(s string) Expr {
	e, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}

	return e
}

// UnmarshalJSON compiles the expression while decoding.
func (e *Expr) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}

	*e = parsed

	return nil
}

// MarshalJSON writes the canonical array form.
func (e Expr) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.canonical())
}

func compile(raw any, path string) (Expr, error) {
	switch v := raw.(type) {
	case []any:
		var expr Expr

		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s[%d]: expected clause object, got %s", ErrInvalidOperand, path, i, typeName(item))
			}

			clauses, err := compileObject(obj, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}

			expr = append(expr, clauses...)
		}

		return expr, nil
	case map[string]any:
		return compileObject(v, path)
	default:
		return nil, fmt.Errorf("%w: %s: expected array or object, got %s", ErrInvalidOperand, path, typeName(raw))
	}
}

// compileObject compiles every command of one clause object, in command
// name order.
func compileObject(obj map[string]any, path string) (Expr, error) {
	var expr Expr

	for _, cmd := range sortedKeys(obj) {
		clauses, err := compileCommand(cmd, obj[cmd], path+"."+cmd)
		if err != nil {
			return nil, err
		}

		expr = append(expr, clauses...)
	}

	return expr, nil
}

func compileCommand(cmd string, operand any, path string) ([]Clause, error) {
	switch cmd {
	case CmdEquals, CmdIncludes, CmdSome, CmdEvery:
		pairs, err := compilePairs(operand, path)
		if err != nil {
			return nil, err
		}

		switch cmd {
		case CmdEquals:
			return []Clause{Equals{Pairs: pairs}}, nil
		case CmdIncludes:
			return []Clause{Includes{Pairs: pairs}}, nil
		case CmdSome:
			return []Clause{Some{Pairs: pairs}}, nil
		default:
			return []Clause{Every{Pairs: pairs}}, nil
		}
	case CmdOr:
		return compileOr(operand, path)
	case CmdNot:
		return compileNot(operand, path)
	default:
		return nil, fmt.Errorf("%w %q at %s", ErrUnknownCommand, cmd, path)
	}
}

func compilePairs(operand any, path string) ([]Pair, error) {
	obj, ok := operand.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: expected object of field values, got %s", ErrInvalidOperand, path, typeName(operand))
	}

	pairs := make([]Pair, 0, len(obj))

	for _, field := range sortedKeys(obj) {
		pairs = append(pairs, Pair{Field: field, Value: normalize(obj[field])})
	}

	return pairs, nil
}

// compileOr accepts a list whose items are clause objects or nested
// expressions. Each item is one branch.
func compileOr(operand any, path string) ([]Clause, error) {
	items, ok := operand.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: expected array of branches, got %s", ErrInvalidOperand, path, typeName(operand))
	}

	branches := make([]Expr, 0, len(items))

	for i, item := range items {
		branch, err := compile(item, path+"["+strconv.Itoa(i)+"]")
		if err != nil {
			return nil, err
		}

		branches = append(branches, branch)
	}

	return []Clause{Or{Branches: branches}}, nil
}

// compileNot accepts a nested expression, or an object of named nested
// expressions which must all fail.
func compileNot(operand any, path string) ([]Clause, error) {
	switch v := operand.(type) {
	case []any:
		expr, err := compile(v, path)
		if err != nil {
			return nil, err
		}

		return []Clause{Not{Expr: expr}}, nil
	case map[string]any:
		clauses := make([]Clause, 0, len(v))

		for _, name := range sortedKeys(v) {
			expr, err := compile(v[name], path+"."+name)
			if err != nil {
				return nil, err
			}

			clauses = append(clauses, Not{Expr: expr})
		}

		return clauses, nil
	default:
		return nil, fmt.Errorf("%w: %s: expected nested expression, got %s", ErrInvalidOperand, path, typeName(operand))
	}
}

func (e Expr) canonical() []any {
	out := make([]any, 0, len(e))

	for _, c := range e {
		switch c := c.(type) {
		case Equals:
			out = append(out, map[string]any{CmdEquals: pairsJSON(c.Pairs)})
		case Includes:
			out = append(out, map[string]any{CmdIncludes: pairsJSON(c.Pairs)})
		case Some:
			out = append(out, map[string]any{CmdSome: pairsJSON(c.Pairs)})
		case Every:
			out = append(out, map[string]any{CmdEvery: pairsJSON(c.Pairs)})
		case Or:
			branches := make([]any, 0, len(c.Branches))
			for _, b := range c.Branches {
				branches = append(branches, b.canonical())
			}

			out = append(out, map[string]any{CmdOr: branches})
		case Not:
			out = append(out, map[string]any{CmdNot: c.Expr.canonical()})
		}
	}

	return out
}

func pairsJSON(pairs []Pair) map[string]any {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		out[p.Field] = p.Value
	}

	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
