package reconcile

import (
	"fmt"
	"sort"
	"strings"
)

// Comparison selects how the differ treats a field.
type Comparison int

const (
	CompareExact Comparison = iota
	CompareNormalized
	Ignore
	SecretAlwaysDirty
)

func (c Comparison) String() string {
	switch c {
	case CompareExact:
		return "compare-exact"
	case CompareNormalized:
		return "compare-normalized"
	case Ignore:
		return "ignore"
	case SecretAlwaysDirty:
		return "secret-always-dirty"
	default:
		return fmt.Sprintf("comparison(%d)", int(c))
	}
}

// FieldRule is the policy for a single field.
type FieldRule struct {
	Comparison Comparison
	Normalize  func(any) any
}

// Exact, Normalized, Ignored and Secret build the common rules.
func Exact() FieldRule   { return FieldRule{Comparison: CompareExact} }
func Ignored() FieldRule { return FieldRule{Comparison: Ignore} }
func Secret() FieldRule  { return FieldRule{Comparison: SecretAlwaysDirty} }

func Normalized(fn func(any) any) FieldRule {
	return FieldRule{Comparison: CompareNormalized, Normalize: fn}
}

// FoldCase lower-cases string values and leaves everything else alone.
func FoldCase(v any) any {
	if s, ok := v.(string); ok {
		return strings.ToLower(s)
	}
	return v
}

// TrimSpace trims string values.
func TrimSpace(v any) any {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return v
}

// RefName canonicalizes branch references.
func RefName(v any) any {
	if s, ok := v.(string); ok {
		return NormalizeRef(s)
	}
	return v
}

// FieldPolicy maps field names, or dotted patterns where "*" matches one
// segment, to rules. Fields without an entry are compared exactly.
type FieldPolicy map[string]FieldRule

// Rule returns the rule for field. Exact entries win over patterns.
func (p FieldPolicy) Rule(field string) FieldRule {
	if rule, ok := p[field]; ok {
		return rule
	}
	patterns := make([]string, 0, len(p))
	for pattern := range p {
		if strings.Contains(pattern, "*") {
			patterns = append(patterns, pattern)
		}
	}
	sort.Strings(patterns)
	for _, pattern := range patterns {
		if matchPattern(pattern, field) {
			return p[pattern]
		}
	}
	return Exact()
}

// IsSecret reports whether field is write-only under p.
func (p FieldPolicy) IsSecret(field string) bool {
	return p.Rule(field).Comparison == SecretAlwaysDirty
}

// With returns a copy of p with the extra rule added.
func (p FieldPolicy) With(field string, rule FieldRule) FieldPolicy {
	out := make(FieldPolicy, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[field] = rule
	return out
}

func matchPattern(pattern, field string) bool {
	ps := strings.Split(pattern, ".")
	fs := strings.Split(field, ".")
	if len(ps) != len(fs) {
		return false
	}
	for i := range ps {
		if ps[i] != "*" && ps[i] != fs[i] {
			return false
		}
	}
	return true
}
