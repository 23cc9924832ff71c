package graphdb

import (
	"fmt"
	"strconv"
)

// PropertyType is the discriminant of a Property.
type PropertyType uint8

const (
	TypeEmpty PropertyType = iota
	TypeBoolean
	TypeInteger
	TypeString
	TypeFloat
)

func (t PropertyType) String() string {
	switch t {
	case TypeEmpty:
		return "empty"
	case TypeBoolean:
		return "boolean"
	case TypeInteger:
		return "integer"
	case TypeString:
		return "string"
	case TypeFloat:
		return "float"
	}
	return fmt.Sprintf("PropertyType(%d)", uint8(t))
}

// Property is a typed value attached to a node or edge under a key.
// The zero value is an Empty property.
type Property struct {
	typ PropertyType
	b   bool
	i   int64
	f   float64
	s   string
}

func NewEmpty() Property { return Property{} }

// NewProperty returns a copy of p.
func NewProperty(p Property) Property { return p }

func NewBool(v bool) Property { return Property{typ: TypeBoolean, b: v} }

func NewInt(v int64) Property { return Property{typ: TypeInteger, i: v} }

func NewString(v string) Property { return Property{typ: TypeString, s: v} }

func NewFloat(v float64) Property { return Property{typ: TypeFloat, f: v} }

func (p Property) Type() PropertyType { return p.typ }

func (p Property) BoolValue() (bool, error) {
	if p.typ != TypeBoolean {
		return false, p.mismatch(TypeBoolean)
	}
	return p.b, nil
}

func (p Property) IntValue() (int64, error) {
	if p.typ != TypeInteger {
		return 0, p.mismatch(TypeInteger)
	}
	return p.i, nil
}

func (p Property) StringValue() (string, error) {
	if p.typ != TypeString {
		return "", p.mismatch(TypeString)
	}
	return p.s, nil
}

func (p Property) FloatValue() (float64, error) {
	if p.typ != TypeFloat {
		return 0, p.mismatch(TypeFloat)
	}
	return p.f, nil
}

func (p Property) mismatch(want PropertyType) error {
	return fmt.Errorf("%w: want %s, have %s", ErrPropertyType, want, p.typ)
}

// Equal reports whether p and o have the same type and value.
func (p Property) Equal(o Property) bool {
	if p.typ != o.typ {
		return false
	}
	switch p.typ {
	case TypeBoolean:
		return p.b == o.b
	case TypeInteger:
		return p.i == o.i
	case TypeString:
		return p.s == o.s
	case TypeFloat:
		return p.f == o.f
	}
	return true
}

// compare orders two properties of the same type. ok is false when the
// types differ or the type has no ordering.
func (p Property) compare(o Property) (c int, ok bool) {
	if p.typ != o.typ {
		return 0, false
	}
	switch p.typ {
	case TypeBoolean:
		switch {
		case p.b == o.b:
			return 0, true
		case !p.b:
			return -1, true
		default:
			return 1, true
		}
	case TypeInteger:
		switch {
		case p.i < o.i:
			return -1, true
		case p.i > o.i:
			return 1, true
		}
		return 0, true
	case TypeFloat:
		switch {
		case p.f < o.f:
			return -1, true
		case p.f > o.f:
			return 1, true
		}
		return 0, true
	case TypeString:
		switch {
		case p.s < o.s:
			return -1, true
		case p.s > o.s:
			return 1, true
		}
		return 0, true
	}
	return 0, true
}

// Text renders the value the way Dump prints it.
func (p Property) Text() string {
	switch p.typ {
	case TypeBoolean:
		if p.b {
			return "T"
		}
		return "F"
	case TypeInteger:
		return strconv.FormatInt(p.i, 10)
	case TypeString:
		return p.s
	case TypeFloat:
		return strconv.FormatFloat(p.f, 'f', 6, 64)
	}
	return "no value"
}

func (p Property) String() string {
	if p.typ == TypeString {
		return strconv.Quote(p.s)
	}
	return p.Text()
}
