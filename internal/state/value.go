// Package state defines the values and intervals stored by the state system.
package state

import (
	"math"
	"strconv"

	"github.com/xtxerr/statehist/internal/constants"
	"github.com/xtxerr/statehist/internal/errors"
)

// Kind is the variant of a Value.
type Kind int8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindLong
	KindDouble
	KindString
)

// String returns the type name used in dumps and exports.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return constants.TypeNull
	case KindBool:
		return constants.TypeBoolean
	case KindInt:
		return constants.TypeInt
	case KindLong:
		return constants.TypeLong
	case KindDouble:
		return constants.TypeDouble
	case KindString:
		return constants.TypeString
	default:
		return constants.TypeUnknown
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case constants.TypeNull:
		return KindNull, true
	case constants.TypeBoolean, "bool":
		return KindBool, true
	case constants.TypeInt:
		return KindInt, true
	case constants.TypeLong:
		return KindLong, true
	case constants.TypeDouble:
		return KindDouble, true
	case constants.TypeString:
		return KindString, true
	}
	return KindNull, false
}

// Value is an immutable tagged union. The zero Value is null.
type Value struct {
	kind Kind
	num  int64
	f    float64
	s    string
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

// Int returns a 32-bit integer value.
func Int(i int32) Value { return Value{kind: KindInt, num: int64(i)} }

// Long returns a 64-bit integer value.
func Long(l int64) Value { return Value{kind: KindLong, num: l} }

// Double returns a floating point value.
func Double(d float64) Value { return Value{kind: KindDouble, f: d} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Kind returns the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, errors.NewValueType(constants.TypeBoolean, v.kind.String())
	}
	return v.num != 0, nil
}

// AsInt returns the 32-bit integer payload.
func (v Value) AsInt() (int32, error) {
	if v.kind != KindInt {
		return 0, errors.NewValueType(constants.TypeInt, v.kind.String())
	}
	return int32(v.num), nil
}

// AsLong returns the 64-bit integer payload.
func (v Value) AsLong() (int64, error) {
	if v.kind != KindLong {
		return 0, errors.NewValueType(constants.TypeLong, v.kind.String())
	}
	return v.num, nil
}

// AsDouble returns the floating point payload.
func (v Value) AsDouble() (float64, error) {
	if v.kind != KindDouble {
		return 0, errors.NewValueType(constants.TypeDouble, v.kind.String())
	}
	return v.f, nil
}

// AsString returns the string payload.
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", errors.NewValueType(constants.TypeString, v.kind.String())
	}
	return v.s, nil
}

// Equal compares by value. Doubles compare by bit pattern, so NaN equals NaN.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindDouble:
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	case KindString:
		return v.s == o.s
	default:
		return v.num == o.num
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "nullValue"
	case KindBool:
		return strconv.FormatBool(v.num != 0)
	case KindInt, KindLong:
		return strconv.FormatInt(v.num, 10)
	case KindDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	default:
		return constants.TypeUnknown
	}
}

// Parse builds a value of the given kind from its textual form.
func Parse(kind Kind, s string) (Value, error) {
	switch kind {
	case KindNull:
		return Null(), nil
	case KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, errors.Wrapf(errors.ErrStateValueType, "parse %q as boolean", s)
		}
		return Bool(b), nil
	case KindInt:
		i, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return Value{}, errors.Wrapf(errors.ErrStateValueType, "parse %q as int", s)
		}
		return Int(int32(i)), nil
	case KindLong:
		l, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, errors.Wrapf(errors.ErrStateValueType, "parse %q as long", s)
		}
		return Long(l), nil
	case KindDouble:
		d, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, errors.Wrapf(errors.ErrStateValueType, "parse %q as double", s)
		}
		return Double(d), nil
	case KindString:
		return String(s), nil
	}
	return Value{}, errors.NewValueType("known kind", kind.String())
}
