package graphdb

import "fmt"

// PredicateOp is the comparison a PropertyPredicate applies.
type PredicateOp uint8

const (
	// OpDontCare matches every element.
	OpDontCare PredicateOp = iota
	// OpExists matches elements that carry the key.
	OpExists
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

func (op PredicateOp) String() string {
	switch op {
	case OpDontCare:
		return "*"
	case OpExists:
		return "exists"
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	}
	return fmt.Sprintf("PredicateOp(%d)", uint8(op))
}

// PropertyPredicate filters elements on one property. Ordering operators
// only match values of the same type as Value. Elements without the key
// never match except for OpNe.
type PropertyPredicate struct {
	Key   string
	Op    PredicateOp
	Value Property
}

// Where builds a predicate on key.
func Where(key string, op PredicateOp, value Property) PropertyPredicate {
	return PropertyPredicate{Key: key, Op: op, Value: value}
}

func (pp PropertyPredicate) matchesAll() bool { return pp.Op == OpDontCare }

func (pp PropertyPredicate) match(p Property, present bool) bool {
	switch pp.Op {
	case OpDontCare:
		return true
	case OpExists:
		return present
	case OpNe:
		return !present || !p.Equal(pp.Value)
	}
	if !present {
		return false
	}
	if pp.Op == OpEq {
		return p.Equal(pp.Value)
	}
	c, ok := p.compare(pp.Value)
	if !ok {
		return false
	}
	switch pp.Op {
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

func (pp PropertyPredicate) String() string {
	if pp.Op == OpDontCare {
		return "*"
	}
	if pp.Op == OpExists {
		return pp.Key + " exists"
	}
	return fmt.Sprintf("%s %s %s", pp.Key, pp.Op, pp.Value)
}
