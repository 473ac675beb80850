package main

import (
	"strings"
	"testing"

	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/state"
	"github.com/xtxerr/statehist/internal/statesystem"
	"github.com/xtxerr/statehist/internal/storage/memory"
)

const changeLog = `# cpu states
0	/cpu/0/status	string	run
10	/cpu/0/status	string	idle
20	/cpu/1/status	long	5
30	/cpu/0/status	null

40	/cpu/0/stack	push	main
50	/cpu/0/stack	push:int	7
60	/cpu/0/stack	pop
70	/counter	increment
75	/cpu/1/load	double	0.25
76	/cpu/1/up	bool	true
80	/cpu/0/status	string	run
100	/cpu	remove
`

func TestParseChanges(t *testing.T) {
	changes, err := ParseChanges(strings.NewReader(changeLog))
	if err != nil {
		t.Fatalf("ParseChanges: %v", err)
	}
	if len(changes) != 12 {
		t.Fatalf("expected 12 changes, got %d", len(changes))
	}

	tests := []struct {
		index int
		line  int
		time  int64
		path  string
		op    Op
		value state.Value
	}{
		{0, 2, 0, "cpu/0/status", OpModify, state.String("run")},
		{2, 4, 20, "cpu/1/status", OpModify, state.Long(5)},
		{3, 5, 30, "cpu/0/status", OpModify, state.Null()},
		{4, 7, 40, "cpu/0/stack", OpPush, state.String("main")},
		{5, 8, 50, "cpu/0/stack", OpPush, state.Int(7)},
		{6, 9, 60, "cpu/0/stack", OpPop, state.Null()},
		{7, 10, 70, "counter", OpIncrement, state.Null()},
		{8, 11, 75, "cpu/1/load", OpModify, state.Double(0.25)},
		{9, 12, 76, "cpu/1/up", OpModify, state.Bool(true)},
		{11, 14, 100, "cpu", OpRemove, state.Null()},
	}
	for _, tt := range tests {
		c := changes[tt.index]
		if c.Line != tt.line {
			t.Errorf("change %d: expected line %d, got %d", tt.index, tt.line, c.Line)
		}
		if c.Time != tt.time {
			t.Errorf("change %d: expected time %d, got %d", tt.index, tt.time, c.Time)
		}
		if p := strings.Join(c.Path, "/"); p != tt.path {
			t.Errorf("change %d: expected path %s, got %s", tt.index, tt.path, p)
		}
		if c.Op != tt.op {
			t.Errorf("change %d: expected op %s, got %s", tt.index, tt.op, c.Op)
		}
		if !c.Value.Equal(tt.value) {
			t.Errorf("change %d: expected value %s, got %s", tt.index, tt.value, c.Value)
		}
	}
}

func TestParseChangesErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing fields", "10\t/a\n"},
		{"bad timestamp", "ten\t/a\tint\t1\n"},
		{"empty path", "10\t/\tint\t1\n"},
		{"empty name", "10\t/a//b\tint\t1\n"},
		{"unknown type", "10\t/a\tpointer\t1\n"},
		{"bad int", "10\t/a\tint\tone\n"},
		{"int overflow", "10\t/a\tint\t3000000000\n"},
		{"null push", "10\t/a\tpush:null\t\n"},
		{"bad push value", "10\t/a\tpush:long\tx\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseChanges(strings.NewReader(tt.input)); err == nil {
				t.Errorf("expected error for %q", tt.input)
			}
		})
	}
}

func TestParseChangesLineNumber(t *testing.T) {
	_, err := ParseChanges(strings.NewReader("0\t/a\tint\t1\n\n5\t/a\tint\tx\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "line 3") {
		t.Errorf("expected line 3 in %q", err)
	}
	if !errors.Is(err, errors.ErrStateValueType) {
		t.Errorf("expected ErrStateValueType, got %v", err)
	}
}

func TestApplyChanges(t *testing.T) {
	changes, err := ParseChanges(strings.NewReader(changeLog))
	if err != nil {
		t.Fatalf("ParseChanges: %v", err)
	}

	ss := statesystem.New(memory.New("changes", 0), statesystem.Options{})
	defer ss.Dispose()

	end, err := ApplyChanges(ss, changes)
	if err != nil {
		t.Fatalf("ApplyChanges: %v", err)
	}
	if end != 100 {
		t.Errorf("expected end 100, got %d", end)
	}
	if err := ss.CloseHistory(end); err != nil {
		t.Fatalf("CloseHistory: %v", err)
	}

	status, err := ss.QuarkAbsolute("cpu", "0", "status")
	if err != nil {
		t.Fatalf("QuarkAbsolute: %v", err)
	}
	expected := []state.Interval{
		state.NewInterval(0, 9, status, state.String("run")),
		state.NewInterval(10, 29, status, state.String("idle")),
		state.NewInterval(30, 79, status, state.Null()),
		state.NewInterval(80, 99, status, state.String("run")),
		state.NewInterval(100, 100, status, state.Null()),
	}
	got, err := statesystem.QueryHistoryRange(ss, status, 0, 100)
	if err != nil {
		t.Fatalf("QueryHistoryRange: %v", err)
	}
	if len(got) != len(expected) {
		t.Fatalf("expected %d intervals, got %d", len(expected), len(got))
	}
	for i := range expected {
		if !got[i].Equal(expected[i]) {
			t.Errorf("interval %d: expected %s, got %s", i, expected[i], got[i])
		}
	}

	counter, err := ss.QuarkAbsolute("counter")
	if err != nil {
		t.Fatalf("QuarkAbsolute: %v", err)
	}
	iv, err := ss.QuerySingleState(70, counter)
	if err != nil {
		t.Fatalf("QuerySingleState: %v", err)
	}
	if !iv.Value.Equal(state.Int(1)) {
		t.Errorf("expected counter 1, got %s", iv.Value)
	}

	stack, err := ss.QuarkAbsolute("cpu", "0", "stack")
	if err != nil {
		t.Fatalf("QuarkAbsolute: %v", err)
	}
	top, ok, err := statesystem.QuerySingleStackTop(ss, 55, stack)
	if err != nil {
		t.Fatalf("QuerySingleStackTop: %v", err)
	}
	if !ok || !top.Value.Equal(state.Int(7)) {
		t.Errorf("expected stack top 7 at 55, got %s (ok=%v)", top.Value, ok)
	}
}

func TestApplyChangesTypeConflict(t *testing.T) {
	changes, err := ParseChanges(strings.NewReader("0\t/a\tint\t1\n5\t/a\tstring\tx\n"))
	if err != nil {
		t.Fatalf("ParseChanges: %v", err)
	}

	ss := statesystem.New(memory.New("changes", 0), statesystem.Options{})
	defer ss.Dispose()

	_, err = ApplyChanges(ss, changes)
	if !errors.Is(err, errors.ErrStateValueType) {
		t.Fatalf("expected ErrStateValueType, got %v", err)
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected line 2 in %q", err)
	}
}
