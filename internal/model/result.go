package model

import (
	"time"

	"github.com/alexisbeaulieu97/devopsctl/internal/reconcile"
)

const (
	StatusPending     = "pending"
	StatusRunning     = "running"
	StatusSuccess     = "success"
	StatusSkipped     = "skipped"
	StatusFailed      = "failed"
	StatusWouldCreate = "would_create"
	StatusWouldUpdate = "would_update"
	StatusWouldDelete = "would_delete"
	// StatusWouldRun covers the dry-run of run, approve and reject.
	StatusWouldRun = "would_run"
)

// ResourceResult captures the outcome of reconciling a single resource.
type ResourceResult struct {
	ResourceID string
	Kind       string
	Status     string
	Message    string
	Record     reconcile.Record
	Error      error
	Duration   time.Duration
	Timestamp  time.Time
}

// Completed reports whether the result is terminal.
func (r ResourceResult) Completed() bool {
	switch r.Status {
	case StatusPending, StatusRunning, "":
		return false
	}
	return true
}

// StatusForAction maps a converge action onto a result status.
func StatusForAction(action reconcile.Action) string {
	switch action {
	case reconcile.ActionWouldCreate:
		return StatusWouldCreate
	case reconcile.ActionWouldUpdate:
		return StatusWouldUpdate
	case reconcile.ActionWouldDelete:
		return StatusWouldDelete
	case reconcile.ActionWouldRun, reconcile.ActionWouldApprove, reconcile.ActionWouldReject:
		return StatusWouldRun
	case reconcile.ActionUnchanged, reconcile.ActionAbsent, "":
		return StatusSkipped
	default:
		return StatusSuccess
	}
}
