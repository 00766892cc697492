package domain

import "strings"

// InvalidDomainError reports a malformed or self-contradictory domain
// specification. It is always fatal to domain construction; domains are
// never silently repaired.
type InvalidDomainError struct {
	Message string
}

func (e *InvalidDomainError) Error() string { return "invalid domain: " + e.Message }

// SpecChangedError reports that a persisted model's state schema no longer
// matches the live domain. It names exactly which states were added and
// removed; the only fix is retraining.
type SpecChangedError struct {
	Removed []string
	Added   []string
}

func (e *SpecChangedError) Error() string {
	return "domain specification has changed, you must retrain the policy. " +
		"removed states: [" + strings.Join(e.Removed, ", ") + "], " +
		"added states: [" + strings.Join(e.Added, ", ") + "]"
}
