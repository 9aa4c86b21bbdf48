package reconcile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiffOmittedFieldsNeverAppear(t *testing.T) {
	t.Parallel()

	desired := Fields{"auto_update": true}
	actual := Fields{"auto_update": true, "auto_provision": true, "size": 3}

	changes := Diff(desired, actual, nil)
	require.True(t, changes.Empty())
}

func TestDiffExactComparison(t *testing.T) {
	t.Parallel()

	desired := Fields{"minimum_approver_count": 2, "allow_downvotes": false}
	actual := Fields{"minimum_approver_count": 1, "allow_downvotes": false}

	changes := Diff(desired, actual, nil)
	require.Equal(t, []string{"minimum_approver_count"}, changes.Fields())
	to, ok := changes.Get("minimum_approver_count")
	require.True(t, ok)
	require.Equal(t, 2, to)
	require.Equal(t, 1, changes.Changes[0].From)
}

func TestDiffNormalizedComparison(t *testing.T) {
	t.Parallel()

	policy := FieldPolicy{"scope.match_kind": Normalized(FoldCase)}
	desired := Fields{"scope.match_kind": "exact"}

	require.True(t, Diff(desired, Fields{"scope.match_kind": "Exact"}, policy).Empty())
	require.False(t, Diff(desired, Fields{"scope.match_kind": "Prefix"}, policy).Empty())
}

func TestDiffIgnoredFieldNeverContributes(t *testing.T) {
	t.Parallel()

	policy := FieldPolicy{"folder": Ignored()}
	changes := Diff(Fields{"folder": `\team`}, Fields{"folder": `\`}, policy)
	require.True(t, changes.Empty())
}

func TestDiffSecretAlwaysDirty(t *testing.T) {
	t.Parallel()

	policy := FieldPolicy{"authorization.parameters.password": Secret()}

	changes := Diff(Fields{"authorization.parameters.password": "hunter2"}, Fields{"authorization.parameters.password": "hunter2"}, policy)
	require.Equal(t, 1, changes.Len())
	require.True(t, changes.Changes[0].Secret)
	require.Nil(t, changes.Changes[0].From)

	empty := Diff(Fields{"authorization.parameters.password": ""}, Fields{}, policy)
	require.True(t, empty.Empty())
}

func TestDiffPatternRules(t *testing.T) {
	t.Parallel()

	policy := FieldPolicy{
		"variables.*.value":     Exact(),
		"variables.TOKEN.value": Secret(),
	}
	require.Equal(t, SecretAlwaysDirty, policy.Rule("variables.TOKEN.value").Comparison)
	require.Equal(t, CompareExact, policy.Rule("variables.REGION.value").Comparison)
	require.Equal(t, CompareExact, policy.Rule("variables.a.b.value").Comparison)
}

func TestDiffAgainstMissingResourceIncludesEverything(t *testing.T) {
	t.Parallel()

	policy := FieldPolicy{"pool_type": Ignored()}
	changes := Diff(Fields{"name": "pool-A", "auto_update": true, "pool_type": "automation"}, nil, policy)
	require.Equal(t, []string{"auto_update", "name"}, changes.Fields())
}

func TestDiffTreatsNilAndEmptyCollectionsAsEqual(t *testing.T) {
	t.Parallel()

	changes := Diff(Fields{"path_filters": []string{}}, Fields{"path_filters": []string(nil)}, nil)
	require.True(t, changes.Empty())
}

func TestChangeSetRenderMasksSecrets(t *testing.T) {
	t.Parallel()

	policy := FieldPolicy{"token": Secret()}
	changes := Diff(Fields{"token": "abc123", "url": "https://new"}, Fields{"url": "https://old"}, policy)

	out := changes.Render()
	require.NotContains(t, out, "abc123")
	require.Contains(t, out, SensitiveMarker)
	require.Contains(t, out, "-url: https://old")
	require.Contains(t, out, "+url: https://new")
}

func TestChangeSetRenderMultilineText(t *testing.T) {
	t.Parallel()

	changes := Diff(Fields{"description": "line one\nline 2"}, Fields{"description": "line one\nline two"}, nil)

	out := changes.Render()
	require.True(t, strings.Contains(out, "description (current)"))
	require.Contains(t, out, "-line two")
	require.Contains(t, out, "+line 2")
}

func TestChangeSetWithPrefix(t *testing.T) {
	t.Parallel()

	changes := Diff(Fields{"data.a": "1", "data.b": "2", "url": "x"}, Fields{}, nil)
	require.Equal(t, map[string]any{"a": "1", "b": "2"}, changes.WithPrefix("data"))
}
