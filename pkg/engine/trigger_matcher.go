package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/idempotency"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/otelhelper"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// activationKeyTTL bounds how long a (rule, subject, event) activation is
// remembered for duplicate-event suppression.
const activationKeyTTL = 24 * time.Hour

// TriggerMatcher reacts to domain events: it selects the active rules whose
// trigger type matches and starts one independent execution per rule. It
// runs synchronously on the goroutine delivering the event.
type TriggerMatcher struct {
	rules       persistence.RuleRepository
	executions  persistence.ExecutionRepository
	interpreter *Interpreter
	activations idempotency.Store
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
}

func NewTriggerMatcher(
	store persistence.Persistence,
	interpreter *Interpreter,
	activations idempotency.Store,
	publisher eventbus.EventPublisher,
	tracer trace.Tracer,
	logger *slog.Logger,
) *TriggerMatcher {
	return &TriggerMatcher{
		rules:       store.Rules(),
		executions:  store.Executions(),
		interpreter: interpreter,
		activations: activations,
		publisher:   publisher,
		tracer:      tracer,
		logger:      logger.With("module", "trigger_matcher"),
	}
}

// OnEvent starts an execution for every active rule matching the event's
// trigger type and advances each through its first steps before returning.
// One rule's failure never blocks the others.
func (m *TriggerMatcher) OnEvent(ctx context.Context, event events.TriggerEvent) error {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "engine.on_event",
		attribute.String(otelhelper.TriggerTypeKey, string(event.TriggerType())),
		attribute.String(otelhelper.EventIDKey, event.EventID()),
	)
	defer span.End()

	logger := m.logger.With("trigger_type", event.TriggerType(), "event_id", event.EventID())

	rules, err := m.rules.ActiveByTriggerType(ctx, event.TriggerType())
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to fetch active rules for %s: %w", event.TriggerType(), err)
	}

	logger.DebugContext(ctx, "Matching event against rules", "rules_count", len(rules))

	var errs []error

	for _, rule := range rules {
		if err := m.StartExecution(ctx, rule, event.SubjectID(), event.EventID(), event.Payload()); err != nil {
			logger.ErrorContext(ctx, "Failed to start execution", "rule_id", rule.ID, "error", err)
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
		}
	}

	return errors.Join(errs...)
}

// StartExecution creates one execution of the rule for the subject and
// immediately hands it to the interpreter for its first advance. A rule with
// frequency "once" and a known event id is started at most once per
// (rule, subject, event).
func (m *TriggerMatcher) StartExecution(ctx context.Context, rule *models.AutomationRule, subjectID, eventID string, payload map[string]any) error {
	if !rule.Active {
		return nil
	}

	flow, err := rule.Flow()
	if err != nil {
		return fmt.Errorf("rule has invalid flow definition: %w", err)
	}

	var activationKey string

	if rule.Frequency == models.FrequencyOnce && eventID != "" {
		activationKey = models.ActivationKey(rule.ID, subjectID, eventID)

		duplicate, err := m.isDuplicateActivation(ctx, activationKey)
		if err != nil {
			m.logger.WarnContext(ctx, "Activation dedup check failed, starting execution anyway", "error", err)
		} else if duplicate {
			m.logger.InfoContext(ctx, "Skipping duplicate activation",
				"rule_id", rule.ID, "subject_id", subjectID, "event_id", eventID)

			return nil
		}
	}

	execution := models.NewExecution(rule, subjectID, flow.EntryStep().ID, payload)
	execution.IdempotencyKey = activationKey

	if err := m.executions.Save(ctx, execution); err != nil {
		return fmt.Errorf("failed to persist new execution: %w", err)
	}

	m.logger.InfoContext(ctx, "Started execution",
		"execution_id", execution.ID, "rule_id", rule.ID, "subject_id", subjectID)
	m.publish(ctx, execution.ID, events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent),
		ExecutionID: execution.ID,
		RuleID:      rule.ID,
		SubjectID:   subjectID,
	})

	// The first advance happens now, not on the next scheduler tick.
	if _, err := m.interpreter.Advance(ctx, execution); err != nil {
		return fmt.Errorf("first advance failed: %w", err)
	}

	return nil
}

// isDuplicateActivation consults the shared activation store first, then the
// execution repository, so a duplicate survives both instance restarts and
// store evictions.
func (m *TriggerMatcher) isDuplicateActivation(ctx context.Context, key string) (bool, error) {
	if m.activations != nil {
		seen, err := m.activations.Seen(ctx, key, activationKeyTTL)
		if err != nil {
			return false, err
		}

		if seen {
			return true, nil
		}
	}

	existing, err := m.executions.ByIdempotencyKey(ctx, key)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return false, nil
		}

		return false, err
	}

	return !existing.Status.IsTerminal(), nil
}

// Register subscribes the matcher to every trigger event type on the bus.
func (m *TriggerMatcher) Register(bus eventbus.EventSubscriber) error {
	triggerTypes := []events.EventType{
		events.ContactListJoinedEvent,
		events.ContactTagAddedEvent,
		events.EmailOpenedEvent,
		events.EmailClickedEvent,
	}

	for _, eventType := range triggerTypes {
		err := bus.Handle(eventType, func(ctx context.Context, event any) error {
			triggerEvent, ok := event.(events.TriggerEvent)
			if !ok {
				return fmt.Errorf("event %T does not carry trigger data", event)
			}

			return m.OnEvent(ctx, triggerEvent)
		})
		if err != nil {
			return fmt.Errorf("failed to register handler for %s: %w", eventType, err)
		}
	}

	return nil
}

func (m *TriggerMatcher) publish(ctx context.Context, key string, event eventbus.Event) {
	if m.publisher == nil {
		return
	}

	if err := m.publisher.Publish(ctx, key, event); err != nil {
		m.logger.WarnContext(ctx, "Failed to publish lifecycle event", "event_type", event.GetType(), "error", err)
	}
}
