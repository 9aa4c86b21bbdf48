// Package reconcile holds the diff-and-converge core shared by every resource
// kind: a field policy driven differ, a converger that picks create, merge
// update, delete or no-op, and a reporter that scrubs write-only fields.
package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
)

// Fields maps canonical field names to typed values. Nested attributes use
// dotted names such as "variables.API_KEY.value".
type Fields map[string]any

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Snapshot is the remote system's current representation of a resource.
type Snapshot struct {
	Kind   string
	ID     string
	Name   string
	Fields Fields
}

// State is the target state requested for a resource.
type State string

const (
	StatePresent State = "present"
	StateAbsent  State = "absent"
	StateInfo    State = "info"
	StateRun     State = "run"
	StateQuery   State = "query"
	StateApprove State = "approve"
	StateReject  State = "reject"
)

// ParseState maps a raw parameter onto a State, defaulting to present.
func ParseState(raw string, allowed ...State) (State, error) {
	s := State(strings.ToLower(strings.TrimSpace(raw)))
	if s == "" {
		s = StatePresent
	}
	if len(allowed) == 0 {
		allowed = []State{StatePresent, StateAbsent}
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", fmt.Errorf("unsupported state %q", raw)
}

// NormalizeRef expands a short branch name into a fully-qualified ref.
// Values already under refs/ pass through unchanged.
func NormalizeRef(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.HasPrefix(name, "refs/") {
		return name
	}
	return plumbing.NewBranchReferenceName(name).String()
}

// ShortRef is the inverse of NormalizeRef for branch refs.
func ShortRef(ref string) string {
	return plumbing.ReferenceName(ref).Short()
}

// Variable is a value plus its secret flag.
type Variable struct {
	Value    string `json:"value"`
	IsSecret bool   `json:"is_secret"`
}

// CoerceVariable turns a scalar into a non-secret Variable and fills defaults
// for a structured value.
func CoerceVariable(raw any) (Variable, error) {
	switch v := raw.(type) {
	case nil:
		return Variable{}, nil
	case string:
		return Variable{Value: v}, nil
	case bool, int, int64, float64:
		return Variable{Value: fmt.Sprint(v)}, nil
	case map[string]any:
		out := Variable{}
		if value, ok := v["value"]; ok && value != nil {
			out.Value = fmt.Sprint(value)
		}
		if secret, ok := v["is_secret"]; ok {
			b, isBool := secret.(bool)
			if !isBool {
				return Variable{}, fmt.Errorf("is_secret must be a boolean, got %T", secret)
			}
			out.IsSecret = b
		}
		return out, nil
	default:
		return Variable{}, fmt.Errorf("unsupported variable value of type %T", raw)
	}
}
