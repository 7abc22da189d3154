package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// StepKind discriminates the flow step tagged union.
type StepKind string

const (
	StepKindAction    StepKind = "action"
	StepKindCondition StepKind = "condition"
	StepKindWait      StepKind = "wait"
	StepKindEnd       StepKind = "end"
)

// ActionType identifies the collaborator call an action step performs.
type ActionType string

const (
	ActionSendEmail ActionType = "send_email"
	ActionAddTag    ActionType = "add_tag"
	ActionRemoveTag ActionType = "remove_tag"
	ActionAddToList ActionType = "add_to_list"
)

// WaitMode selects how a wait step computes its wake time.
type WaitMode string

const (
	// WaitModeDuration suspends for a fixed duration from now.
	WaitModeDuration WaitMode = "duration"
	// WaitModeUntil suspends until an absolute timestamp.
	WaitModeUntil WaitMode = "until"
)

// ErrInvalidFlow is returned when a serialized flow does not parse into a
// well-formed graph.
var ErrInvalidFlow = errors.New("invalid flow definition")

// Step is one node of a flow graph. It is immutable once the rule is saved.
// Which fields are meaningful depends on Kind; ParseFlow enforces that.
type Step struct {
	ID     string         `json:"id"`
	Kind   StepKind       `json:"kind"`
	Params map[string]any `json:"params,omitempty"`

	// Action steps.
	Action ActionType `json:"action,omitempty"`

	// Condition steps.
	Condition ConditionType `json:"condition,omitempty"`
	OnTrue    string        `json:"on_true,omitempty"`
	OnFalse   string        `json:"on_false,omitempty"`

	// Wait steps.
	Mode     WaitMode `json:"mode,omitempty"`
	Duration string   `json:"duration,omitempty"`
	Until    *time.Time `json:"until,omitempty"`

	// Linear next reference for action and wait steps.
	Next string `json:"next,omitempty"`

	// waitFor caches the parsed Duration for duration-mode wait steps.
	waitFor time.Duration
}

// WaitFor returns the parsed fixed duration of a duration-mode wait step.
func (s *Step) WaitFor() time.Duration {
	return s.waitFor
}

// flowDocument is the serialized form of a flow graph.
type flowDocument struct {
	Entry string  `json:"entry"`
	Steps []*Step `json:"steps"`
}

// Flow is a validated, immutable flow graph. Every next-step reference is
// guaranteed to resolve and the entry step is guaranteed to exist.
type Flow struct {
	doc   flowDocument
	byID  map[string]*Step
}

// ParseFlow parses and validates a serialized flow graph. It guarantees:
// exactly one entry step, every referenced next-step exists, and only end
// steps have zero outgoing references.
func ParseFlow(data []byte) (*Flow, error) {
	if err := validateFlowSchema(data); err != nil {
		return nil, err
	}

	var doc flowDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFlow, err)
	}

	if doc.Entry == "" {
		return nil, fmt.Errorf("%w: missing entry step reference", ErrInvalidFlow)
	}

	if len(doc.Steps) == 0 {
		return nil, fmt.Errorf("%w: flow has no steps", ErrInvalidFlow)
	}

	byID := make(map[string]*Step, len(doc.Steps))

	for _, step := range doc.Steps {
		if step.ID == "" {
			return nil, fmt.Errorf("%w: step with empty id", ErrInvalidFlow)
		}

		if _, dup := byID[step.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate step id %q", ErrInvalidFlow, step.ID)
		}

		byID[step.ID] = step
	}

	flow := &Flow{doc: doc, byID: byID}

	if _, ok := byID[doc.Entry]; !ok {
		return nil, fmt.Errorf("%w: entry step %q not found", ErrInvalidFlow, doc.Entry)
	}

	for _, step := range doc.Steps {
		if err := flow.validateStep(step); err != nil {
			return nil, err
		}
	}

	return flow, nil
}

// validateStep checks the per-kind invariants of a single step.
func (f *Flow) validateStep(step *Step) error {
	switch step.Kind {
	case StepKindAction:
		switch step.Action {
		case ActionSendEmail, ActionAddTag, ActionRemoveTag, ActionAddToList:
		default:
			return fmt.Errorf("%w: step %q has unknown action %q", ErrInvalidFlow, step.ID, step.Action)
		}

		return f.requireRef(step.ID, "next", step.Next)

	case StepKindCondition:
		if !step.Condition.IsValid() {
			return fmt.Errorf("%w: step %q has unknown condition %q", ErrInvalidFlow, step.ID, step.Condition)
		}

		if err := f.requireRef(step.ID, "on_true", step.OnTrue); err != nil {
			return err
		}

		return f.requireRef(step.ID, "on_false", step.OnFalse)

	case StepKindWait:
		switch step.Mode {
		case WaitModeDuration:
			d, err := time.ParseDuration(step.Duration)
			if err != nil || d <= 0 {
				return fmt.Errorf("%w: step %q has invalid wait duration %q", ErrInvalidFlow, step.ID, step.Duration)
			}

			step.waitFor = d
		case WaitModeUntil:
			if step.Until == nil {
				return fmt.Errorf("%w: step %q is missing until timestamp", ErrInvalidFlow, step.ID)
			}
		default:
			return fmt.Errorf("%w: step %q has unknown wait mode %q", ErrInvalidFlow, step.ID, step.Mode)
		}

		return f.requireRef(step.ID, "next", step.Next)

	case StepKindEnd:
		if step.Next != "" || step.OnTrue != "" || step.OnFalse != "" {
			return fmt.Errorf("%w: end step %q must not have outgoing references", ErrInvalidFlow, step.ID)
		}

		return nil

	default:
		return fmt.Errorf("%w: step %q has unknown kind %q", ErrInvalidFlow, step.ID, step.Kind)
	}
}

// requireRef checks that a next-step reference is present and resolves.
func (f *Flow) requireRef(stepID, field, ref string) error {
	if ref == "" {
		return fmt.Errorf("%w: step %q is missing %s reference", ErrInvalidFlow, stepID, field)
	}

	if _, ok := f.byID[ref]; !ok {
		return fmt.Errorf("%w: step %q references unknown step %q in %s", ErrInvalidFlow, stepID, ref, field)
	}

	return nil
}

// EntryStep returns the single entry step of the graph.
func (f *Flow) EntryStep() *Step {
	return f.byID[f.doc.Entry]
}

// Step looks up a step by id.
func (f *Flow) Step(id string) (*Step, bool) {
	step, ok := f.byID[id]

	return step, ok
}

// Steps returns the steps in document order.
func (f *Flow) Steps() []*Step {
	return f.doc.Steps
}

// JSON re-serializes the flow. Step count, kinds and references round-trip
// through ParseFlow unchanged.
func (f *Flow) JSON() ([]byte, error) {
	data, err := json.Marshal(f.doc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize flow: %w", err)
	}

	return data, nil
}

// validateFlowSchema validates the raw document shape before any structural
// checks, so malformed input fails with a stable error.
func validateFlowSchema(data []byte) error {
	result, err := gojsonschema.Validate(flowSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFlow, err)
	}

	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("%w: %s", ErrInvalidFlow, errs[0].String())
		}

		return ErrInvalidFlow
	}

	return nil
}
