// Package aggregation computes derived attributes from other attributes.
//
// A rule is mounted on a target quark. Whenever the target is queried the
// rule is evaluated instead of the stored history: the rule's patterns are
// resolved against the current attribute tree, the matching attributes are
// queried (recursively, if they carry rules of their own) and the results
// are combined by the rule's Kind.
package aggregation

import (
	"fmt"
	"strings"

	"github.com/xtxerr/statehist/internal/constants"
)

// Kind selects how a rule combines its sources.
type Kind int

const (
	// KindPriority takes the first non-null source, in pattern order.
	KindPriority Kind = iota + 1

	// KindBitwiseOr ORs the integer values of all non-null sources.
	KindBitwiseOr

	// KindSymLink mirrors a single source.
	KindSymLink
)

func (k Kind) String() string {
	switch k {
	case KindPriority:
		return "priority"
	case KindBitwiseOr:
		return "bitwise-or"
	case KindSymLink:
		return "symlink"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Rule is an aggregation rule mounted on Target.
type Rule struct {
	Kind     Kind
	Target   int
	Patterns [][]string
}

// NewPriority builds a priority rule. Patterns are absolute attribute paths
// in decreasing priority.
func NewPriority(target int, patterns ...[]string) Rule {
	return newRule(KindPriority, target, patterns)
}

// NewBitwiseOr builds a bitwise-OR rule over integer attributes.
func NewBitwiseOr(target int, patterns ...[]string) Rule {
	return newRule(KindBitwiseOr, target, patterns)
}

// NewSymLink builds a rule making target an alias of the attribute at path.
func NewSymLink(target int, path []string) Rule {
	return newRule(KindSymLink, target, [][]string{path})
}

// newRule panics on malformed patterns: rules are built by analysis code,
// so a bad pattern is a programming error.
func newRule(kind Kind, target int, patterns [][]string) Rule {
	if target < 0 {
		panic(fmt.Sprintf("aggregation: %s rule on invalid quark %d", kind, target))
	}
	if kind == KindSymLink && len(patterns) != 1 {
		panic(fmt.Sprintf("aggregation: symlink needs exactly one path, got %d", len(patterns)))
	}

	copied := make([][]string, len(patterns))
	for i, p := range patterns {
		if len(p) == 0 {
			panic(fmt.Sprintf("aggregation: %s rule on quark %d has an empty pattern", kind, target))
		}
		for _, seg := range p {
			if seg == constants.Wildcard {
				panic(fmt.Sprintf("aggregation: wildcard in pattern %q", strings.Join(p, constants.PathSeparator)))
			}
		}
		copied[i] = append([]string(nil), p...)
	}

	return Rule{Kind: kind, Target: target, Patterns: copied}
}

// Lookuper resolves an absolute attribute path without creating it.
type Lookuper interface {
	Lookup(path []string) (int, bool)
}

// Resolve returns the quarks currently matched by the rule's patterns, in
// pattern order. Patterns matching nothing are skipped.
func (r Rule) Resolve(l Lookuper) []int {
	quarks := make([]int, 0, len(r.Patterns))
	for _, p := range r.Patterns {
		if q, ok := l.Lookup(p); ok {
			quarks = append(quarks, q)
		}
	}
	return quarks
}

func (r Rule) String() string {
	parts := make([]string, len(r.Patterns))
	for i, p := range r.Patterns {
		parts[i] = strings.Join(p, constants.PathSeparator)
	}
	return fmt.Sprintf("%s(%d <- %s)", r.Kind, r.Target, strings.Join(parts, ", "))
}
