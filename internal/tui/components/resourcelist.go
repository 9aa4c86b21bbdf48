package components

import "github.com/alexisbeaulieu97/devopsctl/internal/model"

// ResourceEntry is one row of the resource list.
type ResourceEntry struct {
	ID     string
	Kind   string
	Result model.ResourceResult
}

// ResourceList keeps rows in plan order.
type ResourceList struct {
	order []string
	rows  map[string]ResourceEntry
}

// NewResourceList seeds every row as pending.
func NewResourceList(ids []string, kinds map[string]string) ResourceList {
	l := ResourceList{rows: make(map[string]ResourceEntry, len(ids))}
	for _, id := range ids {
		l.ensure(id, kinds[id])
	}
	return l
}

func (l *ResourceList) ensure(id, kind string) {
	if _, ok := l.rows[id]; ok {
		return
	}
	if l.rows == nil {
		l.rows = make(map[string]ResourceEntry)
	}
	l.order = append(l.order, id)
	l.rows[id] = ResourceEntry{ID: id, Kind: kind, Result: model.ResourceResult{ResourceID: id, Kind: kind, Status: model.StatusPending}}
}

// Start marks a row as running. Rows not seeded are appended.
func (l *ResourceList) Start(id, kind string) {
	l.ensure(id, kind)
	row := l.rows[id]
	if !row.Result.Completed() {
		row.Result.Status = model.StatusRunning
	}
	l.rows[id] = row
}

// Complete stores the result and reports whether the row finished for the
// first time.
func (l *ResourceList) Complete(result model.ResourceResult) bool {
	l.ensure(result.ResourceID, result.Kind)
	row := l.rows[result.ResourceID]
	first := !row.Result.Completed()
	if result.Kind == "" {
		result.Kind = row.Kind
	}
	row.Result = result
	if row.Kind == "" {
		row.Kind = result.Kind
	}
	l.rows[result.ResourceID] = row
	return first
}

// Get returns a row.
func (l ResourceList) Get(id string) (ResourceEntry, bool) {
	row, ok := l.rows[id]
	return row, ok
}

// Len is the number of rows.
func (l ResourceList) Len() int { return len(l.order) }

// Entries returns a copy of the rows in order.
func (l ResourceList) Entries() []ResourceEntry {
	out := make([]ResourceEntry, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.rows[id])
	}
	return out
}
