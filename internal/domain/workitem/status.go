package workitem

// Status represents the high-level status of a work item
type Status string

const (
	StatusPending        Status = "PENDING"         // Submitted, no stage dispatched yet
	StatusInProgress     Status = "IN_PROGRESS"     // At least one stage dispatched
	StatusDone           Status = "DONE"            // Final stage completed, artifact written
	StatusFailed         Status = "FAILED"          // Terminal execution or fatal failure
	StatusSkipped        Status = "SKIPPED"         // Operator excluded the item from processing
	StatusRevisionNeeded Status = "REVISION_NEEDED" // Gate failure at the validation checkpoint, cap reached
	StatusQCFailed       Status = "QC_FAILED"       // Gate failure at the quality-audit checkpoint, cap reached
)

// AllStatuses lists every status in reporting order. Summary output always
// iterates this list so zero-count statuses still appear.
func AllStatuses() []Status {
	return []Status{
		StatusPending,
		StatusInProgress,
		StatusDone,
		StatusFailed,
		StatusSkipped,
		StatusRevisionNeeded,
		StatusQCFailed,
	}
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is one of the seven fixed values
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDone, StatusFailed,
		StatusSkipped, StatusRevisionNeeded, StatusQCFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no further automatic processing happens
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusSkipped, StatusRevisionNeeded, StatusQCFailed:
		return true
	default:
		return false
	}
}

// IsActive returns true if the item may still be driven forward
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusInProgress
}

// CanTransitionTo checks if transition to another status is allowed
func (s Status) CanTransitionTo(next Status) bool {
	validTransitions := map[Status][]Status{
		StatusPending:    {StatusInProgress, StatusSkipped},
		StatusInProgress: {StatusDone, StatusFailed, StatusRevisionNeeded, StatusQCFailed, StatusInProgress},
		// Terminal statuses transition only through explicit operator resets,
		// which recreate the ledger row rather than mutating it.
		StatusDone:           {},
		StatusFailed:         {},
		StatusSkipped:        {},
		StatusRevisionNeeded: {},
		StatusQCFailed:       {},
	}

	allowed, exists := validTransitions[s]
	if !exists {
		return false
	}

	for _, validNext := range allowed {
		if validNext == next {
			return true
		}
	}

	return false
}

// ParseStatus parses a string into a Status. Unknown values return
// the zero Status and false.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	if st.IsValid() {
		return st, true
	}
	return "", false
}
