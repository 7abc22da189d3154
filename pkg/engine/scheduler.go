package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
	"github.com/dripflow/dripflow/pkg/protocol"
)

// SchedulerConfig tunes the resume loop.
type SchedulerConfig struct {
	// TickInterval is how often due work is polled for.
	TickInterval time.Duration

	// BatchSize caps executions fetched per query; full batches are drained
	// in a loop within the same tick.
	BatchSize int

	// Concurrency bounds how many executions advance in parallel.
	Concurrency int
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}

	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}

	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}

	return c
}

// Scheduler periodically resumes executions whose wake time has arrived and
// fires date-based rules that have come due. Multiple scheduler instances
// may run against the same store; the claim step keeps them from advancing
// the same execution twice.
type Scheduler struct {
	rules       persistence.RuleRepository
	executions  persistence.ExecutionRepository
	interpreter *Interpreter
	matcher     *TriggerMatcher
	contacts    protocol.ContactDirectory
	clock       clockwork.Clock
	config      SchedulerConfig
	logger      *slog.Logger

	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
}

func NewScheduler(
	store persistence.Persistence,
	interpreter *Interpreter,
	matcher *TriggerMatcher,
	contacts protocol.ContactDirectory,
	clock clockwork.Clock,
	config SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		rules:       store.Rules(),
		executions:  store.Executions(),
		interpreter: interpreter,
		matcher:     matcher,
		contacts:    contacts,
		clock:       clock,
		config:      config.withDefaults(),
		logger:      logger.With("module", "scheduler"),
	}
}

// Start launches the tick loop. It returns immediately; Stop shuts the loop
// down and waits for the in-flight tick to finish.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return fmt.Errorf("scheduler already started")
	}

	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	go s.run(ctx, s.done, s.stopped)

	s.logger.InfoContext(ctx, "Scheduler started", "tick_interval", s.config.TickInterval)

	return nil
}

// Stop terminates the tick loop.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done == nil {
		return nil
	}

	close(s.done)
	<-s.stopped
	s.done = nil
	s.stopped = nil

	s.logger.InfoContext(ctx, "Scheduler stopped")

	return nil
}

func (s *Scheduler) run(ctx context.Context, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := s.clock.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Tick(ctx)
		}
	}
}

// Tick performs one full pass: fire due date-based rules, then resume due
// executions. Errors are logged per item; a tick never aborts early because
// one execution misbehaved.
func (s *Scheduler) Tick(ctx context.Context) {
	s.fireDateBasedRules(ctx)
	s.resumeDueExecutions(ctx)
}

// resumeDueExecutions drains the due set in batches. Each execution is
// claimed before it is advanced, so a concurrently running instance that
// claimed it first is skipped silently.
func (s *Scheduler) resumeDueExecutions(ctx context.Context) {
	for {
		now := s.clock.Now().UTC()

		due, err := s.executions.DueForResume(ctx, now, s.config.BatchSize)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to query due executions", "error", err)

			return
		}

		if len(due) == 0 {
			return
		}

		s.logger.DebugContext(ctx, "Resuming due executions", "count", len(due))

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(s.config.Concurrency)

		for _, execution := range due {
			group.Go(func() error {
				s.resume(groupCtx, execution.ID)

				return nil
			})
		}

		// Workers never return errors; failures are logged in resume.
		_ = group.Wait()

		if len(due) < s.config.BatchSize {
			return
		}
	}
}

func (s *Scheduler) resume(ctx context.Context, executionID string) {
	claimed, err := s.executions.Claim(ctx, executionID)
	if err != nil {
		// Someone else won the claim, or the execution moved on between the
		// due query and now. Both are expected under concurrency.
		if persistence.IsClaimConflict(err) {
			s.logger.DebugContext(ctx, "Execution already claimed", "execution_id", executionID)

			return
		}

		s.logger.ErrorContext(ctx, "Failed to claim execution", "execution_id", executionID, "error", err)

		return
	}

	if _, err := s.interpreter.Advance(ctx, claimed); err != nil {
		s.logger.ErrorContext(ctx, "Failed to advance execution", "execution_id", executionID, "error", err)
	}
}

// fireDateBasedRules starts executions for every member of each due rule's
// target list, then computes the rule's next fire time.
func (s *Scheduler) fireDateBasedRules(ctx context.Context) {
	now := s.clock.Now().UTC()

	rules, err := s.rules.DueDateBased(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to query due date-based rules", "error", err)

		return
	}

	for _, rule := range rules {
		if err := s.fireRule(ctx, rule, now); err != nil {
			s.logger.ErrorContext(ctx, "Failed to fire date-based rule", "rule_id", rule.ID, "error", err)
		}
	}
}

func (s *Scheduler) fireRule(ctx context.Context, rule *models.AutomationRule, now time.Time) error {
	// Advance the fire time first: a partial failure over the member list
	// must not re-fire the whole rule on the next tick.
	if err := rule.UpdateNextFireAt(now); err != nil {
		return fmt.Errorf("failed to compute next fire time: %w", err)
	}

	if err := s.rules.Save(ctx, rule); err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}

	members, err := s.contacts.ListMembers(ctx, rule.TargetListID)
	if err != nil {
		return fmt.Errorf("failed to list members of %s: %w", rule.TargetListID, err)
	}

	s.logger.InfoContext(ctx, "Firing date-based rule",
		"rule_id", rule.ID, "list_id", rule.TargetListID, "members", len(members))

	// The fire instant doubles as the event id, so re-delivery of the same
	// occurrence cannot double-start subjects on frequency "once" rules.
	eventID := fmt.Sprintf("fire-%d", now.Unix())

	for _, subjectID := range members {
		if err := s.matcher.StartExecution(ctx, rule, subjectID, eventID, map[string]any{
			"fired_at": now.Format(time.RFC3339),
			"list_id":  rule.TargetListID,
		}); err != nil {
			s.logger.ErrorContext(ctx, "Failed to start execution for list member",
				"rule_id", rule.ID, "subject_id", subjectID, "error", err)
		}
	}

	return nil
}
