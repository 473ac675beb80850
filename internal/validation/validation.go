// Package validation checks names that end up in file names, attribute
// paths and SQL text.
package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/xtxerr/statehist/internal/errors"
)

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for names.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
}

// IDRules returns the rules for state system ids. Ids become file names.
func IDRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    200,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed", rules.MaxLength)
	}

	if name == "." || name == ".." {
		return fmt.Errorf("name cannot be '.' or '..'")
	}

	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("name cannot start with '.'")
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d", i)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("name cannot contain path separators at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	}
	return false
}

// ValidateID validates a state system id.
func ValidateID(id string) error {
	if id == "" {
		return errors.NewMissingField("id")
	}
	if err := ValidateName(id, IDRules()); err != nil {
		return errors.NewValidation("id", err.Error())
	}
	return nil
}

// =============================================================================
// Attribute Name Validation
// =============================================================================

// ValidateAttributeName validates one name of an attribute path. Any
// printable text without a path separator is accepted.
func ValidateAttributeName(name string) error {
	if name == "" {
		return errors.Wrapf(errors.ErrInvalidPath, "empty attribute name")
	}

	if strings.Contains(name, "/") {
		return errors.Wrapf(errors.ErrInvalidPath, "attribute name %q contains a path separator", name)
	}

	for i, c := range name {
		if c < 32 || c == 127 {
			return errors.Wrapf(errors.ErrInvalidPath, "attribute name %q has a control character at position %d", name, i)
		}
	}

	return nil
}

// =============================================================================
// SQL
// =============================================================================

// QuoteLiteral renders s as a SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
