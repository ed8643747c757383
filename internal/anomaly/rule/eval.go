package rule

import (
	"fmt"
	"math"
	"strings"
)

// Operator is a comparison operator.
type Operator string

const (
	OpEq       Operator = "=="
	OpNeq      Operator = "!="
	OpGt       Operator = ">"
	OpGte      Operator = ">="
	OpLt       Operator = "<"
	OpLte      Operator = "<="
	OpContains Operator = "contains"
)

// Resolver looks up a field path. anomaly.Snapshot satisfies it.
type Resolver interface {
	Resolve(path []string) (any, bool)
}

// Eval evaluates e against r. A missing field is an error.
func Eval(e Expr, r Resolver) (bool, error) {
	switch n := e.(type) {
	case *Logical:
		left, err := Eval(n.Left, r)
		if err != nil {
			return false, err
		}
		if n.Op == "AND" && !left {
			return false, nil
		}
		if n.Op == "OR" && left {
			return true, nil
		}
		return Eval(n.Right, r)
	case *Not:
		v, err := Eval(n.X, r)
		return !v && err == nil, err
	case *Comparison:
		l, err := value(n.Left, r)
		if err != nil {
			return false, err
		}
		rv, err := value(n.Right, r)
		if err != nil {
			return false, err
		}
		return compare(n.Op, l, rv)
	}
	return false, fmt.Errorf("unknown expression %T", e)
}

func value(o Operand, r Resolver) (any, error) {
	switch v := o.(type) {
	case *Literal:
		return v.Value, nil
	case *Field:
		got, ok := r.Resolve(v.Path)
		if !ok {
			return nil, fmt.Errorf("field %q not found", strings.Join(v.Path, "."))
		}
		return got, nil
	}
	return nil, fmt.Errorf("unknown operand %T", o)
}

func compare(op Operator, l, r any) (bool, error) {
	switch op {
	case OpEq:
		return equal(l, r), nil
	case OpNeq:
		return !equal(l, r), nil
	case OpGt, OpGte, OpLt, OpLte:
		lf, lok := number(l)
		rf, rok := number(r)
		if !lok || !rok {
			return false, fmt.Errorf("%s needs numeric operands, got %T and %T", op, l, r)
		}
		switch op {
		case OpGt:
			return lf > rf, nil
		case OpGte:
			return lf >= rf, nil
		case OpLt:
			return lf < rf, nil
		default:
			return lf <= rf, nil
		}
	case OpContains:
		s, ok := l.(string)
		if !ok {
			return false, fmt.Errorf("contains needs a string on the left, got %T", l)
		}
		return strings.Contains(s, fmt.Sprint(r)), nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

func equal(l, r any) bool {
	lf, lok := number(l)
	rf, rok := number(r)
	if lok && rok {
		return math.Abs(lf-rf) < 1e-9
	}
	if lb, ok := l.(bool); ok {
		rb, ok := r.(bool)
		return ok && lb == rb
	}
	return fmt.Sprint(l) == fmt.Sprint(r)
}

// number coerces the numeric kinds JSON and YAML decoding produce.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
