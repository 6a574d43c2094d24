package markerpipeline

import "fmt"

// ValidStatus reports whether s is a known submission status.
func ValidStatus(s SubmissionStatus) bool {
	switch s {
	case StatusProcessing, StatusReady, StatusError, StatusNeedsBetterSource:
		return true
	}
	return false
}

// ValidateTransition enforces the status state machine: every terminal
// state is reachable only from processing, and terminal states never
// transition to each other. Retrying a failed submission means a fresh
// run with a fresh record, not a terminal-to-terminal edge.
func ValidateTransition(from, to SubmissionStatus) error {
	if !ValidStatus(from) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, from)
	}
	if !ValidStatus(to) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	if from == StatusProcessing && to.Terminal() {
		return nil
	}
	return fmt.Errorf("cannot transition from %q to %q: %w", from, to, ErrInvalidStatusTransition)
}
