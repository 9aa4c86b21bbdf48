package engine

import (
	"time"

	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/reconcile"
)

// Report is the outcome of one apply.
type Report struct {
	DryRun   bool
	Results  []model.ResourceResult
	Duration time.Duration
}

// Counts tallies results by status.
func (r *Report) Counts() map[string]int {
	counts := make(map[string]int)
	if r == nil {
		return counts
	}
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// Failed reports whether any resource failed.
func (r *Report) Failed() bool {
	return r.Counts()[model.StatusFailed] > 0
}

// Changed is the number of resources whose record reports a change.
func (r *Report) Changed() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, res := range r.Results {
		if res.Record.Changed {
			n++
		}
	}
	return n
}

// Records returns the outcome records in plan order. Resources that never
// reached a kind get a record carrying only their kind and error.
func (r *Report) Records() []reconcile.Record {
	if r == nil {
		return nil
	}
	out := make([]reconcile.Record, 0, len(r.Results))
	for _, res := range r.Results {
		rec := res.Record
		if rec.Kind == "" {
			rec.Kind = res.Kind
		}
		if rec.Error == "" && res.Error != nil {
			rec.Error = res.Error.Error()
		}
		out = append(out, rec)
	}
	return out
}
