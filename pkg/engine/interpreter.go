// Package engine implements the automation execution engine: the trigger
// matcher that starts executions, the step interpreter that advances them,
// and the scheduler that resumes suspended ones.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/otelhelper"
	"github.com/dripflow/dripflow/pkg/persistence"
	"github.com/dripflow/dripflow/pkg/protocol"
)

// Config bounds the interpreter's work per invocation.
type Config struct {
	// StepBudget caps steps applied in a single Advance call, so a cyclic
	// graph fails instead of spinning forever.
	StepBudget int

	// ActionTimeout bounds each external collaborator call.
	ActionTimeout time.Duration

	// MaxAttempts is the number of tries a failing action gets across
	// scheduler ticks before the execution is marked failed.
	MaxAttempts int

	// RetryDelay is how long a failed action waits before the next attempt.
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.StepBudget <= 0 {
		c.StepBudget = 100
	}

	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 10 * time.Second
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}

	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Minute
	}

	return c
}

// Interpreter advances one execution at a time through its rule's flow
// graph. All durable state lives in the execution repository; the
// interpreter keeps nothing authoritative in memory across a suspension.
type Interpreter struct {
	rules      persistence.RuleRepository
	executions persistence.ExecutionRepository
	contacts   protocol.ContactDirectory
	gateway    protocol.EmailGateway
	publisher  eventbus.EventPublisher
	clock      clockwork.Clock
	tracer     trace.Tracer
	config     Config
	logger     *slog.Logger
}

func NewInterpreter(
	store persistence.Persistence,
	contacts protocol.ContactDirectory,
	gateway protocol.EmailGateway,
	publisher eventbus.EventPublisher,
	clock clockwork.Clock,
	tracer trace.Tracer,
	config Config,
	logger *slog.Logger,
) *Interpreter {
	return &Interpreter{
		rules:      store.Rules(),
		executions: store.Executions(),
		contacts:   contacts,
		gateway:    gateway,
		publisher:  publisher,
		clock:      clock,
		tracer:     tracer,
		config:     config.withDefaults(),
		logger:     logger.With("module", "interpreter"),
	}
}

// Advance applies steps to the execution until it suspends on a wait,
// reaches a terminal state, or exhausts the step budget. Advancing a
// terminal execution is a no-op. A non-nil error means storage failed; the
// caller owns retrying the whole advance.
func (i *Interpreter) Advance(ctx context.Context, execution *models.Execution) (*models.Execution, error) {
	if execution.Status.IsTerminal() {
		return execution, nil
	}

	ctx, span := otelhelper.StartSpan(ctx, i.tracer, "engine.advance",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.RuleIDKey, execution.RuleID),
		attribute.String(otelhelper.SubjectIDKey, execution.SubjectID),
	)
	defer span.End()

	logger := i.logger.With("execution_id", execution.ID, "rule_id", execution.RuleID)

	rule, err := i.rules.ByID(ctx, execution.RuleID)
	if err != nil {
		otelhelper.SetError(span, err)

		return execution, fmt.Errorf("failed to fetch rule %s: %w", execution.RuleID, err)
	}

	// Always the latest graph: a rule edit takes effect for every step
	// reached after the edit, including on paused executions.
	flow, err := rule.Flow()
	if err != nil {
		return i.fail(ctx, execution, fmt.Sprintf("flow definition is invalid: %v", err))
	}

	execution.MarkRunning()
	subject := &subjectLoader{contacts: i.contacts, id: execution.SubjectID}

	for applied := 0; ; applied++ {
		if applied >= i.config.StepBudget {
			return i.fail(ctx, execution, "step budget exceeded")
		}

		step, ok := flow.Step(execution.CurrentStepID)
		if !ok {
			return i.fail(ctx, execution, fmt.Sprintf("step %s not found in flow", execution.CurrentStepID))
		}

		stepLogger := logger.With("step_id", step.ID, "step_kind", step.Kind)

		switch step.Kind {
		case models.StepKindEnd:
			execution.MarkCompleted()

			if err := i.executions.Save(ctx, execution); err != nil {
				return execution, err
			}

			stepLogger.InfoContext(ctx, "Execution completed")
			i.publish(ctx, execution.ID, events.ExecutionCompleted{
				BaseEvent:   events.NewBaseEvent(events.ExecutionCompletedEvent),
				ExecutionID: execution.ID,
				RuleID:      execution.RuleID,
				DurationMs:  i.clock.Now().Sub(execution.CreatedAt).Milliseconds(),
			})

			return execution, nil

		case models.StepKindWait:
			wakeAt := i.wakeTime(step)
			execution.CurrentStepID = step.Next

			// An already-elapsed wake time is immediately due.
			if !wakeAt.After(i.clock.Now()) {
				continue
			}

			execution.MarkWaiting(wakeAt)

			if err := i.executions.Save(ctx, execution); err != nil {
				return execution, err
			}

			stepLogger.InfoContext(ctx, "Execution suspended", "wake_at", wakeAt)
			i.publish(ctx, execution.ID, events.ExecutionWaiting{
				BaseEvent:   events.NewBaseEvent(events.ExecutionWaitingEvent),
				ExecutionID: execution.ID,
				RuleID:      execution.RuleID,
				WakeAt:      wakeAt,
			})

			return execution, nil

		case models.StepKindCondition:
			result := i.evaluateCondition(ctx, step, subject, execution, stepLogger)
			if result {
				execution.CurrentStepID = step.OnTrue
			} else {
				execution.CurrentStepID = step.OnFalse
			}

			execution.UpdatedAt = i.clock.Now().UTC()

			if err := i.executions.Save(ctx, execution); err != nil {
				return execution, err
			}

			stepLogger.DebugContext(ctx, "Condition evaluated", "result", result)

		case models.StepKindAction:
			result, err := i.applyAction(ctx, step, execution, subject)
			if err != nil {
				return i.actionFailed(ctx, execution, step, err, stepLogger)
			}

			execution.Attempts = 0
			execution.ErrorDetail = ""
			execution.SetResult(step.ID, result)
			execution.CurrentStepID = step.Next
			execution.UpdatedAt = i.clock.Now().UTC()

			// Context mutation and step transition land in one save.
			if err := i.executions.Save(ctx, execution); err != nil {
				return execution, err
			}

			stepLogger.InfoContext(ctx, "Action applied", "action", step.Action)

		default:
			return i.fail(ctx, execution, fmt.Sprintf("step %s has unknown kind %s", step.ID, step.Kind))
		}
	}
}

// wakeTime computes when a wait step should resume.
func (i *Interpreter) wakeTime(step *models.Step) time.Time {
	if step.Mode == models.WaitModeUntil && step.Until != nil {
		return step.Until.UTC()
	}

	return i.clock.Now().UTC().Add(step.WaitFor())
}

// evaluateCondition treats unreadable subject data as the predicate being
// false; the execution continues down the false branch.
func (i *Interpreter) evaluateCondition(ctx context.Context, step *models.Step, subject *subjectLoader, execution *models.Execution, logger *slog.Logger) bool {
	state, err := subject.get(ctx)
	if err != nil {
		logger.WarnContext(ctx, "Subject lookup failed, treating condition as false", "error", err)

		return false
	}

	result, err := models.EvaluateCondition(step.Condition, step.Params, state, execution.Context)
	if err != nil {
		logger.WarnContext(ctx, "Condition evaluation failed, treating as false", "error", err)

		return false
	}

	return result
}

// applyAction invokes the external collaborator for an action step, bounded
// by the configured timeout.
func (i *Interpreter) applyAction(ctx context.Context, step *models.Step, execution *models.Execution, subject *subjectLoader) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, i.config.ActionTimeout)
	defer cancel()

	switch step.Action {
	case models.ActionSendEmail:
		templateID, _ := step.Params["template_id"].(string)
		if templateID == "" {
			return nil, fmt.Errorf("send_email step %s is missing template_id", step.ID)
		}

		to, _ := execution.Context["contact_email"].(string)
		if to == "" {
			state, err := subject.get(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve recipient: %w", err)
			}

			to = state.Email
		}

		campaignID, _ := execution.Context["campaign_id"].(string)
		variables, _ := step.Params["variables"].(map[string]any)

		message := models.EmailMessage{
			To:         to,
			ContactID:  execution.SubjectID,
			TemplateID: templateID,
			CampaignID: campaignID,
			Variables:  variables,
		}

		if err := i.gateway.SendEmail(ctx, message); err != nil {
			return nil, fmt.Errorf("send_email failed: %w", err)
		}

		return map[string]any{"template_id": templateID, "to": to}, nil

	case models.ActionAddTag:
		tag, _ := step.Params["tag"].(string)
		if tag == "" {
			return nil, fmt.Errorf("add_tag step %s is missing tag", step.ID)
		}

		if err := i.contacts.AddTag(ctx, execution.SubjectID, tag); err != nil {
			return nil, fmt.Errorf("add_tag failed: %w", err)
		}

		return map[string]any{"tag": tag}, nil

	case models.ActionRemoveTag:
		tag, _ := step.Params["tag"].(string)
		if tag == "" {
			return nil, fmt.Errorf("remove_tag step %s is missing tag", step.ID)
		}

		if err := i.contacts.RemoveTag(ctx, execution.SubjectID, tag); err != nil {
			return nil, fmt.Errorf("remove_tag failed: %w", err)
		}

		return map[string]any{"tag": tag}, nil

	case models.ActionAddToList:
		listID, _ := step.Params["list_id"].(string)
		if listID == "" {
			return nil, fmt.Errorf("add_to_list step %s is missing list_id", step.ID)
		}

		if err := i.contacts.AddToList(ctx, execution.SubjectID, listID); err != nil {
			return nil, fmt.Errorf("add_to_list failed: %w", err)
		}

		return map[string]any{"list_id": listID}, nil

	default:
		return nil, fmt.Errorf("unknown action type %q", step.Action)
	}
}

// actionFailed requeues the execution for a later retry, or fails it once
// the attempt budget is spent.
func (i *Interpreter) actionFailed(ctx context.Context, execution *models.Execution, step *models.Step, actionErr error, logger *slog.Logger) (*models.Execution, error) {
	execution.Attempts++

	if execution.Attempts >= i.config.MaxAttempts {
		return i.fail(ctx, execution, fmt.Sprintf("action %s failed after %d attempts: %v", step.Action, execution.Attempts, actionErr))
	}

	execution.ErrorDetail = actionErr.Error()
	execution.MarkWaiting(i.clock.Now().UTC().Add(i.config.RetryDelay))

	if err := i.executions.Save(ctx, execution); err != nil {
		return execution, err
	}

	logger.WarnContext(ctx, "Action failed, will retry",
		"action", step.Action,
		"attempt", execution.Attempts,
		"max_attempts", i.config.MaxAttempts,
		"error", actionErr,
	)

	return execution, nil
}

// fail moves the execution to the failed terminal state. The record stays
// queryable for operators; it is never deleted.
func (i *Interpreter) fail(ctx context.Context, execution *models.Execution, detail string) (*models.Execution, error) {
	execution.MarkFailed(detail)

	if err := i.executions.Save(ctx, execution); err != nil {
		return execution, err
	}

	i.logger.ErrorContext(ctx, "Execution failed", "execution_id", execution.ID, "detail", detail)
	i.publish(ctx, execution.ID, events.ExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent),
		ExecutionID: execution.ID,
		RuleID:      execution.RuleID,
		Error:       detail,
	})

	return execution, nil
}

// publish emits a lifecycle event; bus failures are logged, never fatal.
func (i *Interpreter) publish(ctx context.Context, key string, event eventbus.Event) {
	if i.publisher == nil {
		return
	}

	if err := i.publisher.Publish(ctx, key, event); err != nil {
		i.logger.WarnContext(ctx, "Failed to publish lifecycle event", "event_type", event.GetType(), "error", err)
	}
}

// subjectLoader fetches subject state at most once per advance.
type subjectLoader struct {
	contacts protocol.ContactDirectory
	id       string
	state    *models.SubjectState
}

func (l *subjectLoader) get(ctx context.Context) (*models.SubjectState, error) {
	if l.state != nil {
		return l.state, nil
	}

	state, err := l.contacts.ByID(ctx, l.id)
	if err != nil {
		return nil, err
	}

	l.state = state

	return state, nil
}
