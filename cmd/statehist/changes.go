package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xtxerr/statehist/internal/constants"
	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/state"
	"github.com/xtxerr/statehist/internal/validation"
)

// Op is the operation of one change-log line.
type Op int

const (
	OpModify Op = iota
	OpPush
	OpPop
	OpIncrement
	OpRemove
)

// String returns the change-log spelling of the operation.
func (o Op) String() string {
	switch o {
	case OpModify:
		return "modify"
	case OpPush:
		return "push"
	case OpPop:
		return "pop"
	case OpIncrement:
		return "increment"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Change is one parsed change-log line:
//
//	timestamp<TAB>/path/to/attr<TAB>type<TAB>value
//
// The type is a value type (null, bool, int, long, double, string), or one
// of push, pop, increment and remove. Push values are strings unless the
// type names a kind, as in "push:long".
type Change struct {
	Line  int
	Time  int64
	Path  []string
	Op    Op
	Value state.Value
}

// ChangeWriter is the state system side of ApplyChanges.
type ChangeWriter interface {
	QuarkAbsoluteAndAdd(path ...string) (int, error)
	ModifyAttribute(t int64, v state.Value, quark int) error
	PushAttribute(t int64, v state.Value, quark int) error
	PopAttribute(t int64, quark int) (state.Value, bool, error)
	IncrementAttribute(t int64, quark int) error
	RemoveAttribute(t int64, quark int) error
}

// ParseChanges reads a change log. Empty lines and lines starting with '#'
// are skipped.
func ParseChanges(r io.Reader) ([]Change, error) {
	var changes []Change

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}

		c, err := parseChange(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		c.Line = line
		changes = append(changes, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read change log: %w", err)
	}
	return changes, nil
}

func parseChange(text string) (Change, error) {
	fields := strings.SplitN(text, "\t", 4)
	if len(fields) < 3 {
		return Change{}, errors.NewValidation("line", "expected timestamp, path and type")
	}

	var c Change
	t, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return Change{}, errors.NewValidation("timestamp", fields[0])
	}
	c.Time = t

	c.Path, err = parsePath(fields[1])
	if err != nil {
		return Change{}, err
	}

	value := ""
	if len(fields) == 4 {
		value = fields[3]
	}

	typ := strings.TrimSpace(fields[2])
	switch {
	case typ == "pop":
		c.Op = OpPop
	case typ == "increment":
		c.Op = OpIncrement
	case typ == "remove":
		c.Op = OpRemove
	case typ == "push" || strings.HasPrefix(typ, "push:"):
		c.Op = OpPush
		kind := state.KindString
		if name, ok := strings.CutPrefix(typ, "push:"); ok {
			k, known := state.ParseKind(name)
			if !known || k == state.KindNull {
				return Change{}, errors.NewValidation("type", typ)
			}
			kind = k
		}
		if c.Value, err = state.Parse(kind, value); err != nil {
			return Change{}, err
		}
	default:
		kind, ok := state.ParseKind(typ)
		if !ok {
			return Change{}, errors.NewValidation("type", typ)
		}
		c.Op = OpModify
		if c.Value, err = state.Parse(kind, value); err != nil {
			return Change{}, err
		}
	}
	return c, nil
}

// parsePath splits "/a/b/c" into its names. The leading separator is
// optional.
func parsePath(s string) ([]string, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), constants.PathSeparator)
	if s == "" {
		return nil, errors.Wrapf(errors.ErrInvalidPath, "empty path")
	}
	path := strings.Split(s, constants.PathSeparator)
	for _, name := range path {
		if err := validation.ValidateAttributeName(name); err != nil {
			return nil, err
		}
	}
	return path, nil
}

// ApplyChanges replays changes into w in order and returns the latest
// timestamp seen.
func ApplyChanges(w ChangeWriter, changes []Change) (int64, error) {
	var end int64
	for i, c := range changes {
		q, err := w.QuarkAbsoluteAndAdd(c.Path...)
		if err != nil {
			return end, fmt.Errorf("line %d: %w", c.Line, err)
		}

		switch c.Op {
		case OpModify:
			err = w.ModifyAttribute(c.Time, c.Value, q)
		case OpPush:
			err = w.PushAttribute(c.Time, c.Value, q)
		case OpPop:
			_, _, err = w.PopAttribute(c.Time, q)
		case OpIncrement:
			err = w.IncrementAttribute(c.Time, q)
		case OpRemove:
			err = w.RemoveAttribute(c.Time, q)
		}
		if err != nil {
			return end, fmt.Errorf("line %d: %s %s: %w", c.Line, c.Op, strings.Join(c.Path, constants.PathSeparator), err)
		}
		if i == 0 || c.Time > end {
			end = c.Time
		}
	}
	return end, nil
}
