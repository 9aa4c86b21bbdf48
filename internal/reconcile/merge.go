package reconcile

import (
	"fmt"

	"github.com/tiendc/go-deepcopy"
)

// MergeOnto deep-copies existing and applies mutate to the copy, so updates
// carry every field the remote returned plus the changed ones.
func MergeOnto[T any](existing *T, mutate func(*T)) (*T, error) {
	if existing == nil {
		return nil, fmt.Errorf("merge onto nil resource")
	}
	var merged T
	if err := deepcopy.Copy(&merged, *existing); err != nil {
		return nil, fmt.Errorf("copy existing resource: %w", err)
	}
	if mutate != nil {
		mutate(&merged)
	}
	return &merged, nil
}
