package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionWaiting   ExecutionStatus = "waiting"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// IsValid checks if the status is one of the known lifecycle states.
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case ExecutionRunning, ExecutionWaiting, ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// Execution is one run of a rule against one subject. It is the durable
// record the interpreter advances and the scheduler resumes; no authoritative
// state lives in memory across a suspension.
//
// Invariant: WakeAt is non-nil iff Status is waiting.
type Execution struct {
	ID             string          `json:"id"`
	RuleID         string          `json:"rule_id"`
	SubjectID      string          `json:"subject_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Status         ExecutionStatus `json:"status"`
	CurrentStepID  string          `json:"current_step_id"`
	Context        map[string]any  `json:"context,omitempty"`
	WakeAt         *time.Time      `json:"wake_at,omitempty"`
	Attempts       int             `json:"attempts"`
	ErrorDetail    string          `json:"error_detail,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewExecution creates a running execution positioned at the rule's entry
// step, with context seeded from the triggering event payload.
func NewExecution(rule *AutomationRule, subjectID, entryStepID string, seed map[string]any) *Execution {
	now := time.Now().UTC()

	execContext := make(map[string]any, len(seed))
	for k, v := range seed {
		execContext[k] = v
	}

	return &Execution{
		ID:            "exec-" + uuid.New().String(),
		RuleID:        rule.ID,
		SubjectID:     subjectID,
		Status:        ExecutionRunning,
		CurrentStepID: entryStepID,
		Context:       execContext,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ActivationKey builds the idempotency key for one (rule, subject, event)
// activation. Used by rules with frequency "once".
func ActivationKey(ruleID, subjectID, eventID string) string {
	return fmt.Sprintf("%s:%s:%s", ruleID, subjectID, eventID)
}

// MarkWaiting suspends the execution until wakeAt.
func (e *Execution) MarkWaiting(wakeAt time.Time) {
	wake := wakeAt.UTC()
	e.Status = ExecutionWaiting
	e.WakeAt = &wake
	e.UpdatedAt = time.Now().UTC()
}

// MarkRunning resumes a claimed execution.
func (e *Execution) MarkRunning() {
	e.Status = ExecutionRunning
	e.WakeAt = nil
	e.UpdatedAt = time.Now().UTC()
}

// MarkCompleted transitions to the completed terminal state.
func (e *Execution) MarkCompleted() {
	e.Status = ExecutionCompleted
	e.WakeAt = nil
	e.ErrorDetail = ""
	e.UpdatedAt = time.Now().UTC()
}

// MarkFailed transitions to the failed terminal state. The execution stays
// queryable for operators; it is never deleted.
func (e *Execution) MarkFailed(detail string) {
	e.Status = ExecutionFailed
	e.WakeAt = nil
	e.ErrorDetail = detail
	e.UpdatedAt = time.Now().UTC()
}

// MarkCancelled transitions to the cancelled terminal state.
func (e *Execution) MarkCancelled() {
	e.Status = ExecutionCancelled
	e.WakeAt = nil
	e.UpdatedAt = time.Now().UTC()
}

// IsDue reports whether a waiting execution should be resumed at now.
func (e *Execution) IsDue(now time.Time) bool {
	return e.Status == ExecutionWaiting && e.WakeAt != nil && !e.WakeAt.After(now)
}

// SetResult records a step's output into the accumulated context.
func (e *Execution) SetResult(stepID string, result any) {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}

	e.Context[stepID] = result
}
