package validation

import (
	"strings"
	"testing"

	"github.com/xtxerr/statehist/internal/errors"
)

func TestValidateName(t *testing.T) {
	rules := NameRules{MinLength: 1, MaxLength: 255, AllowHyphens: true, AllowUnders: true}

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "kernel1", false},
		{"with hyphen", "my-trace", false},
		{"with underscore", "my_trace", false},
		{"numbers", "123", false},
		{"mixed", "trace-1_test", false},
		{"empty", "", true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"hidden", ".hidden", true},
		{"slash", "a/b", true},
		{"backslash", "a\\b", true},
		{"control char", "a\x00b", true},
		{"with dot", "my.trace", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input, rules)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"kernel", false},
		{"trace.2024-01-01_a", false},
		{"", true},
		{"../escape", true},
		{".hidden", true},
		{"a b", true},
		{strings.Repeat("x", 201), true},
	}

	for _, tt := range tests {
		err := ValidateID(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if err != nil && !errors.IsValidation(err) {
			t.Errorf("ValidateID(%q): expected validation error, got %v", tt.input, err)
		}
	}
}

func TestValidateAttributeName(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"status", false},
		{"CPU 0", false},
		{"*", false},
		{"naïve", false},
		{"", true},
		{"a/b", true},
		{"tab\there", true},
	}

	for _, tt := range tests {
		err := ValidateAttributeName(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateAttributeName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, errors.ErrInvalidPath) {
			t.Errorf("ValidateAttributeName(%q): expected ErrInvalidPath, got %v", tt.input, err)
		}
	}
}

func TestQuoteLiteral(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"plain", "'plain'"},
		{"it's", "'it''s'"},
		{"", "''"},
		{"''", "''''''"},
	}

	for _, tt := range tests {
		if got := QuoteLiteral(tt.input); got != tt.expected {
			t.Errorf("QuoteLiteral(%q): expected %s, got %s", tt.input, tt.expected, got)
		}
	}
}
