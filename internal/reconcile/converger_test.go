package reconcile

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

// poolStore is an in-memory remote collection keyed by name.
type poolStore struct {
	nextID  int
	pools   map[string]Fields
	creates int
	updates int
	deletes int
}

func newPoolStore() *poolStore {
	return &poolStore{nextID: 7, pools: map[string]Fields{}}
}

func (s *poolStore) locate(name string) *Snapshot {
	f, ok := s.pools[name]
	if !ok {
		return nil
	}
	return &Snapshot{Kind: "agent_pool", ID: f["id"].(string), Name: name, Fields: f.Clone()}
}

func (s *poolStore) actions() Actions {
	return Actions{
		Create: func(_ context.Context, desired Fields) (*Snapshot, error) {
			s.creates++
			f := desired.Clone()
			f["id"] = strconv.Itoa(s.nextID)
			s.nextID++
			name := f["name"].(string)
			s.pools[name] = f
			return s.locate(name), nil
		},
		Update: func(_ context.Context, located *Snapshot, changes ChangeSet) (*Snapshot, error) {
			s.updates++
			f := s.pools[located.Name]
			for k, v := range changes.Values() {
				f[k] = v
			}
			return s.locate(located.Name), nil
		},
		Delete: func(_ context.Context, located *Snapshot) error {
			s.deletes++
			delete(s.pools, located.Name)
			return nil
		},
	}
}

func (s *poolStore) converge(t *testing.T, target State, desired Fields, dryRun bool) Outcome {
	t.Helper()
	name := desired["name"].(string)
	plan := NewPlan("agent_pool", name, target, desired, s.locate(name), nil)
	out, err := Converge(context.Background(), plan, s.actions(), dryRun)
	require.NoError(t, err)
	return out
}

func TestConvergePoolCreateThenIdempotent(t *testing.T) {
	t.Parallel()

	store := newPoolStore()
	desired := Fields{"name": "pool-A", "auto_update": true}

	first := store.converge(t, StatePresent, desired, false)
	require.True(t, first.Changed)
	require.Equal(t, ActionCreated, first.Action)
	require.Equal(t, "7", first.Resource.ID)
	require.Equal(t, true, first.Resource.Fields["auto_update"])

	second := store.converge(t, StatePresent, desired, false)
	require.False(t, second.Changed)
	require.Equal(t, ActionUnchanged, second.Action)
	require.Equal(t, 1, store.creates)
	require.Equal(t, 0, store.updates)
}

func TestConvergeUpdateCarriesOnlyChangedFields(t *testing.T) {
	t.Parallel()

	store := newPoolStore()
	store.converge(t, StatePresent, Fields{"name": "policy", "minimum_approver_count": 1, "reset_on_source_push": true}, false)

	var seen ChangeSet
	actions := store.actions()
	update := actions.Update
	actions.Update = func(ctx context.Context, located *Snapshot, changes ChangeSet) (*Snapshot, error) {
		seen = changes
		return update(ctx, located, changes)
	}

	desired := Fields{"name": "policy", "minimum_approver_count": 2}
	out, err := Converge(context.Background(), NewPlan("branch_policy", "policy", StatePresent, desired, store.locate("policy"), nil), actions, false)
	require.NoError(t, err)
	require.True(t, out.Changed)
	require.Equal(t, ActionUpdated, out.Action)
	require.Equal(t, map[string]any{"minimum_approver_count": 2}, seen.Values())
	require.Equal(t, 2, out.Resource.Fields["minimum_approver_count"])
	require.Equal(t, true, out.Resource.Fields["reset_on_source_push"])
}

func TestConvergeDeleteAbsentIsNoop(t *testing.T) {
	t.Parallel()

	store := newPoolStore()
	out := store.converge(t, StateAbsent, Fields{"name": "ghost"}, false)
	require.False(t, out.Changed)
	require.Equal(t, ActionAbsent, out.Action)
	require.Equal(t, 0, store.deletes)
}

func TestConvergeDeleteExisting(t *testing.T) {
	t.Parallel()

	store := newPoolStore()
	store.converge(t, StatePresent, Fields{"name": "pool-A"}, false)

	out := store.converge(t, StateAbsent, Fields{"name": "pool-A"}, false)
	require.True(t, out.Changed)
	require.Equal(t, ActionDeleted, out.Action)
	require.Equal(t, 1, store.deletes)
	require.Nil(t, store.locate("pool-A"))
}

func TestConvergeDryRunParity(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		seed    Fields
		target  State
		desired Fields
	}{
		{name: "create", target: StatePresent, desired: Fields{"name": "p", "auto_update": true}},
		{name: "update", seed: Fields{"name": "p", "auto_update": false}, target: StatePresent, desired: Fields{"name": "p", "auto_update": true}},
		{name: "unchanged", seed: Fields{"name": "p", "auto_update": true}, target: StatePresent, desired: Fields{"name": "p", "auto_update": true}},
		{name: "delete", seed: Fields{"name": "p"}, target: StateAbsent, desired: Fields{"name": "p"}},
		{name: "delete absent", target: StateAbsent, desired: Fields{"name": "p"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newPoolStore()
			if tc.seed != nil {
				store.converge(t, StatePresent, tc.seed, false)
			}
			creates, updates, deletes := store.creates, store.updates, store.deletes

			dry := store.converge(t, tc.target, tc.desired, true)
			require.Equal(t, creates, store.creates)
			require.Equal(t, updates, store.updates)
			require.Equal(t, deletes, store.deletes)

			applied := store.converge(t, tc.target, tc.desired, false)
			require.Equal(t, applied.Changed, dry.Changed)
			require.Equal(t, applied.Changes.Fields(), dry.Changes.Fields())
		})
	}
}

func TestConvergeDryRunCreateMarker(t *testing.T) {
	t.Parallel()

	store := newPoolStore()
	out := store.converge(t, StatePresent, Fields{"name": "pool-A"}, true)
	require.Equal(t, ActionWouldCreate, out.Action)
	require.Equal(t, WouldBeCreated, out.Resource.Fields["state"])
	require.Equal(t, "pool-A", out.Resource.Name)
}

func TestConvergeSurfacesRemoteErrors(t *testing.T) {
	t.Parallel()

	remote := devopserrors.NewRemoteCallError("create", "pool pool-A", 500, "boom", nil)
	actions := Actions{Create: func(context.Context, Fields) (*Snapshot, error) { return nil, remote }}

	out, err := Converge(context.Background(), NewPlan("agent_pool", "pool-A", StatePresent, Fields{"name": "pool-A"}, nil, nil), actions, false)
	require.ErrorIs(t, err, remote)
	require.False(t, out.Changed)
	require.True(t, errors.Is(out.Err, remote))
}

func TestConvergeUpdateUnsupported(t *testing.T) {
	t.Parallel()

	located := &Snapshot{Kind: "service_hook", ID: "1", Fields: Fields{"event_type": "git.push"}}
	plan := NewPlan("service_hook", "hook", StatePresent, Fields{"event_type": "build.complete"}, located, nil)
	_, err := Converge(context.Background(), plan, Actions{}, false)

	var validationErr *devopserrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestPlanRequiresAction(t *testing.T) {
	t.Parallel()

	located := &Snapshot{Fields: Fields{"a": 1}}
	require.True(t, NewPlan("k", "n", StatePresent, Fields{"a": 1}, nil, nil).RequiresAction())
	require.False(t, NewPlan("k", "n", StatePresent, Fields{"a": 1}, located, nil).RequiresAction())
	require.True(t, NewPlan("k", "n", StatePresent, Fields{"a": 2}, located, nil).RequiresAction())
	require.True(t, NewPlan("k", "n", StateAbsent, nil, located, nil).RequiresAction())
	require.False(t, NewPlan("k", "n", StateAbsent, nil, nil, nil).RequiresAction())
}
