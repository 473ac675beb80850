package state

import (
	"math"
	"testing"

	"github.com/xtxerr/statehist/internal/errors"
)

func TestZeroValueIsNull(t *testing.T) {
	var v Value
	if !v.IsNull() {
		t.Error("zero value should be null")
	}
	if !v.Equal(Null()) {
		t.Error("zero value should equal Null()")
	}
}

func TestValueEquality(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"null", Null(), Null(), true},
		{"int same", Int(10), Int(10), true},
		{"int different", Int(10), Int(11), false},
		{"int vs long", Int(10), Long(10), false},
		{"long", Long(math.MaxInt64), Long(math.MaxInt64), true},
		{"bool", Bool(true), Bool(true), true},
		{"bool different", Bool(true), Bool(false), false},
		{"string", String("a"), String("a"), true},
		{"empty string vs null", String(""), Null(), false},
		{"double", Double(1.5), Double(1.5), true},
		{"nan", Double(math.NaN()), Double(math.NaN()), true},
		{"signed zero", Double(0), Double(math.Copysign(0, -1)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestTypedAccessors(t *testing.T) {
	i, err := Int(42).AsInt()
	if err != nil || i != 42 {
		t.Errorf("AsInt: expected 42, got %d (%v)", i, err)
	}

	if _, err := Long(1).AsInt(); !errors.Is(err, errors.ErrStateValueType) {
		t.Errorf("expected ErrStateValueType, got %v", err)
	}
	if _, err := Null().AsString(); !errors.Is(err, errors.ErrStateValueType) {
		t.Errorf("expected ErrStateValueType, got %v", err)
	}

	b, err := Bool(true).AsBool()
	if err != nil || !b {
		t.Errorf("AsBool: expected true, got %v (%v)", b, err)
	}
}

func TestParse(t *testing.T) {
	v, err := Parse(KindInt, "12")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !v.Equal(Int(12)) {
		t.Errorf("expected int 12, got %s", v)
	}

	if _, err := Parse(KindInt, "9999999999"); !errors.Is(err, errors.ErrStateValueType) {
		t.Errorf("expected overflow to fail, got %v", err)
	}

	k, ok := ParseKind("boolean")
	if !ok || k != KindBool {
		t.Errorf("ParseKind(boolean) = %v, %v", k, ok)
	}
}

func TestIntervalIntersects(t *testing.T) {
	iv := NewInterval(10, 20, 0, Int(1))
	for _, ts := range []int64{10, 15, 20} {
		if !iv.Intersects(ts) {
			t.Errorf("expected %s to intersect %d", iv, ts)
		}
	}
	for _, ts := range []int64{9, 21} {
		if iv.Intersects(ts) {
			t.Errorf("expected %s not to intersect %d", iv, ts)
		}
	}
	if iv.Duration() != 11 {
		t.Errorf("expected duration 11, got %d", iv.Duration())
	}
}
