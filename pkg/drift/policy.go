package drift

import (
	"fmt"
	"strings"
)

// FailurePolicy decides what happens to a schedule after a failed execution.
type FailurePolicy int

const (
	// ContinueOnError records the failure and keeps the schedule running;
	// the next wait is computed exactly as for a successful tick. Default.
	ContinueOnError FailurePolicy = iota
	// CancelOnError cancels the schedule's root token and stops the loop.
	CancelOnError
)

func (p FailurePolicy) String() string {
	switch p {
	case ContinueOnError:
		return "continue"
	case CancelOnError:
		return "cancel"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// ParseFailurePolicy parses "continue" or "cancel" (case-insensitive).
// An empty string yields ContinueOnError.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continue", "continue-on-error":
		return ContinueOnError, nil
	case "cancel", "cancel-on-error":
		return CancelOnError, nil
	default:
		return ContinueOnError, fmt.Errorf("unknown failure policy %q", s)
	}
}
