package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/alexisbeaulieu97/devopsctl/pkg/diff"
)

// SensitiveMarker replaces write-only values anywhere they would be shown.
const SensitiveMarker = "(sensitive)"

// Change is one field-level delta.
type Change struct {
	Field  string
	From   any
	To     any
	Secret bool
}

// ChangeSet is the minimal delta needed to converge actual toward desired.
// It is empty iff no update call is needed.
type ChangeSet struct {
	Changes []Change
}

func newChangeSet(changes []Change) ChangeSet {
	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return ChangeSet{Changes: changes}
}

// Empty reports whether no field differs.
func (c ChangeSet) Empty() bool {
	return len(c.Changes) == 0
}

// Len returns the number of changed fields.
func (c ChangeSet) Len() int {
	return len(c.Changes)
}

// Has reports whether field is part of the change set.
func (c ChangeSet) Has(field string) bool {
	_, ok := c.Get(field)
	return ok
}

// Get returns the desired value for field.
func (c ChangeSet) Get(field string) (any, bool) {
	for _, ch := range c.Changes {
		if ch.Field == field {
			return ch.To, true
		}
	}
	return nil, false
}

// WithPrefix returns the changes under "prefix." keyed by the remainder.
func (c ChangeSet) WithPrefix(prefix string) map[string]any {
	out := map[string]any{}
	for _, ch := range c.Changes {
		if rest, ok := strings.CutPrefix(ch.Field, prefix+"."); ok {
			out[rest] = ch.To
		}
	}
	return out
}

// Values returns the change set as field name to desired value.
func (c ChangeSet) Values() map[string]any {
	out := make(map[string]any, len(c.Changes))
	for _, ch := range c.Changes {
		out[ch.Field] = ch.To
	}
	return out
}

// Fields lists the changed field names.
func (c ChangeSet) Fields() []string {
	out := make([]string, 0, len(c.Changes))
	for _, ch := range c.Changes {
		out = append(out, ch.Field)
	}
	return out
}

// Render produces a unified diff of the change set. Secret values are masked
// and multi-line text values get a line-level diff of their own.
func (c ChangeSet) Render() string {
	if c.Empty() {
		return ""
	}

	var current, desired, blocks []string
	for _, ch := range c.Changes {
		from, to := formatValue(ch.From), formatValue(ch.To)
		if ch.Secret {
			to = SensitiveMarker
		} else if fs, ok := ch.From.(string); ok && strings.Contains(fs+formatValue(ch.To), "\n") {
			blocks = append(blocks, diff.Lines(fs, fmt.Sprint(ch.To), ch.Field+" (current)", ch.Field+" (desired)"))
			continue
		}
		if ch.From != nil && !ch.Secret {
			current = append(current, fmt.Sprintf("%s: %s\n", ch.Field, from))
		}
		desired = append(desired, fmt.Sprintf("%s: %s\n", ch.Field, to))
	}

	var out strings.Builder
	if len(desired) > 0 {
		text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        current,
			B:        desired,
			FromFile: "current",
			ToFile:   "desired",
			Context:  0,
		})
		if err == nil {
			out.WriteString(text)
		}
	}
	for _, block := range blocks {
		out.WriteString(block)
	}
	return out.String()
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "<unset>"
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
