package reconcile

import (
	"reflect"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Diff compares desired against actual field by field under policy. Only
// fields present in desired are considered, so omission never erases. A nil
// actual means the resource does not exist yet.
func Diff(desired, actual Fields, policy FieldPolicy) ChangeSet {
	var changes []Change
	for _, field := range desired.Keys() {
		to := desired[field]
		rule := policy.Rule(field)

		var from any
		present := false
		if actual != nil {
			from, present = actual[field]
		}

		switch rule.Comparison {
		case Ignore:
			continue
		case SecretAlwaysDirty:
			if isEmpty(to) {
				continue
			}
			changes = append(changes, Change{Field: field, To: to, Secret: true})
			continue
		case CompareNormalized:
			if present && rule.Normalize != nil && equal(rule.Normalize(from), rule.Normalize(to)) {
				continue
			}
			if present && rule.Normalize == nil && equal(from, to) {
				continue
			}
		default:
			if present && equal(from, to) {
				continue
			}
		}
		changes = append(changes, Change{Field: field, From: from, To: to})
	}
	return newChangeSet(changes)
}

func equal(a, b any) bool {
	return cmp.Equal(a, b, cmpopts.EquateEmpty())
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
