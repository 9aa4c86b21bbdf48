package reconcile

// RecordChange is a change entry as exposed to callers.
type RecordChange struct {
	Field string `json:"field" yaml:"field"`
	From  any    `json:"from,omitempty" yaml:"from,omitempty"`
	To    any    `json:"to,omitempty" yaml:"to,omitempty"`
}

// Record is the normalized outcome handed to callers. It never carries the
// value of a write-only field.
type Record struct {
	Kind     string         `json:"kind" yaml:"kind"`
	Name     string         `json:"name,omitempty" yaml:"name,omitempty"`
	ID       string         `json:"id,omitempty" yaml:"id,omitempty"`
	Changed  bool           `json:"changed" yaml:"changed"`
	Action   Action         `json:"action,omitempty" yaml:"action,omitempty"`
	Resource map[string]any `json:"resource,omitempty" yaml:"resource,omitempty"`
	Changes  []RecordChange `json:"changes,omitempty" yaml:"changes,omitempty"`
	Error    string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report formats an outcome. It is pure and strips every field policy marks
// as secret before inclusion.
func Report(outcome Outcome, policy FieldPolicy) Record {
	rec := Record{Kind: outcome.Kind, Name: outcome.Name, Changed: outcome.Changed, Action: outcome.Action}

	if res := outcome.Resource; res != nil {
		rec.ID = res.ID
		if res.Kind != "" {
			rec.Kind = res.Kind
		}
		if res.Name != "" {
			rec.Name = res.Name
		}
		rec.Resource = make(map[string]any, len(res.Fields))
		for k, v := range res.Fields {
			if policy.IsSecret(k) {
				continue
			}
			rec.Resource[k] = v
		}
	}

	for _, ch := range outcome.Changes.Changes {
		entry := RecordChange{Field: ch.Field, From: ch.From, To: ch.To}
		if ch.Secret || policy.IsSecret(ch.Field) {
			entry.From, entry.To = nil, SensitiveMarker
		}
		rec.Changes = append(rec.Changes, entry)
	}

	if outcome.Err != nil {
		rec.Error = outcome.Err.Error()
	}
	return rec
}
