package model

import "github.com/alexisbeaulieu97/devopsctl/internal/reconcile"

// EvaluationResult is what a kind's Evaluate reports. It is handed back to
// Apply when RequiresAction is true.
type EvaluationResult struct {
	ResourceID string

	// CurrentState classifies the remote resource relative to the manifest.
	CurrentState VerificationStatus

	// RequiresAction is true when Apply would issue a mutating call.
	RequiresAction bool

	Message string

	// Diff is the rendered change set, empty when nothing differs.
	Diff string

	// Preview is the dry-run outcome: exactly what Apply would do.
	Preview reconcile.Record

	// InternalData carries kind specific state from Evaluate to Apply.
	InternalData any
}
