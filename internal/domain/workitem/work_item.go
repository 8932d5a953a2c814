package workitem

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validation errors
var (
	ErrEmptyID           = errors.New("work item ID is required")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAttemptCapReached = errors.New("attempt cap reached")
)

// WorkItem is one unit of content carried through the full stage sequence.
// The ID is the stable identity every cache and ledger key derives from.
type WorkItem struct {
	ID           string
	PayloadRef   string // Path or reference to the domain payload
	CurrentStage Stage
	Attempt      int // Attempts of the current stage, monotonic, capped
	Status       Status
	IsRetry      bool
	Feedback     *RetryFeedback // Most recent retry feedback, nil on first attempt
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// New creates a PENDING work item positioned before the first stage
func New(id, payloadRef string) (*WorkItem, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrEmptyID
	}

	now := time.Now().UTC()
	return &WorkItem{
		ID:           id,
		PayloadRef:   payloadRef,
		CurrentStage: Sequence()[0],
		Attempt:      0,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Start marks the item IN_PROGRESS on first stage dispatch
func (w *WorkItem) Start() error {
	return w.transition(StatusInProgress)
}

// AdvanceTo moves the stage pointer and resets the attempt counter.
// Exactly one current stage exists at any time.
func (w *WorkItem) AdvanceTo(stage Stage) error {
	if !stage.IsValid() {
		return fmt.Errorf("unknown stage: %s", stage)
	}
	w.CurrentStage = stage
	w.Attempt = 0
	w.IsRetry = false
	w.Feedback = nil
	w.touch()
	return nil
}

// MoveTo moves the stage pointer without resetting the attempt counter.
// Used across a regenerate-and-recheck cycle, where a gate and the
// generative stage feeding it share one attempt budget.
func (w *WorkItem) MoveTo(stage Stage) error {
	if !stage.IsValid() {
		return fmt.Errorf("unknown stage: %s", stage)
	}
	w.CurrentStage = stage
	w.touch()
	return nil
}

// BeginAttempt increments the attempt counter for the current stage,
// enforcing the cap. The counter never decreases.
func (w *WorkItem) BeginAttempt(cap int) error {
	if cap > 0 && w.Attempt >= cap {
		return fmt.Errorf("%w: stage %s attempt %d", ErrAttemptCapReached, w.CurrentStage, w.Attempt)
	}
	w.Attempt++
	w.touch()
	return nil
}

// MarkRetry attaches failure feedback for the next attempt
func (w *WorkItem) MarkRetry(fb *RetryFeedback) {
	w.IsRetry = true
	w.Feedback = fb
	w.touch()
}

// Finalize moves the item to a terminal status
func (w *WorkItem) Finalize(status Status) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%s is not a terminal status", status)
	}
	return w.transition(status)
}

func (w *WorkItem) transition(next Status) error {
	if !w.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.Status, next)
	}
	w.Status = next
	w.touch()
	return nil
}

func (w *WorkItem) touch() {
	w.UpdatedAt = time.Now().UTC()
}
