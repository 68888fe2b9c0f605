package types

import (
	"fmt"
	"strings"
)

// Severity is the weight a reviewer assigns to a finding.
// The total order is SUGGESTION < IMPORTANT < CRITICAL.
type Severity string

// Severity constants
const (
	SeveritySuggestion Severity = "SUGGESTION"
	SeverityImportant  Severity = "IMPORTANT"
	SeverityCritical   Severity = "CRITICAL"
)

// Severities returns all severities, most severe first.
func Severities() []Severity {
	return []Severity{SeverityCritical, SeverityImportant, SeveritySuggestion}
}

// severityAliases maps reviewer vocabulary onto the three canonical levels.
var severityAliases = map[string]Severity{
	"critical":   SeverityCritical,
	"blocker":    SeverityCritical,
	"blocking":   SeverityCritical,
	"p0":         SeverityCritical,
	"important":  SeverityImportant,
	"major":      SeverityImportant,
	"high":       SeverityImportant,
	"p1":         SeverityImportant,
	"suggestion": SeveritySuggestion,
	"minor":      SeveritySuggestion,
	"low":        SeveritySuggestion,
	"nit":        SeveritySuggestion,
	"nitpick":    SeveritySuggestion,
	"p2":         SeveritySuggestion,
}

// ParseSeverity parses a severity tag, case-insensitive, accepting common aliases.
func ParseSeverity(s string) (Severity, error) {
	if sev, ok := severityAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return sev, nil
	}
	return "", fmt.Errorf("unknown severity %q (valid: CRITICAL, IMPORTANT, SUGGESTION)", s)
}

// IsValid checks if the severity is one of the canonical levels
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityImportant, SeveritySuggestion:
		return true
	}
	return false
}

// Rank orders severities: 0 for SUGGESTION up to 2 for CRITICAL, -1 if invalid.
func (s Severity) Rank() int {
	switch s {
	case SeveritySuggestion:
		return 0
	case SeverityImportant:
		return 1
	case SeverityCritical:
		return 2
	}
	return -1
}

// Blocking reports whether a finding of this severity prevents convergence.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityImportant
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}
