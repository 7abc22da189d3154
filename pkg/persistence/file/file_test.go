package file

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	return NewPersistence(t.TempDir())
}

func storedRule(id string, triggerType models.TriggerType, active bool) *models.AutomationRule {
	return &models.AutomationRule{
		ID:          id,
		Name:        "Rule " + id,
		TriggerType: triggerType,
		Active:      active,
		FlowJSON:    []byte(`{"entry": "done", "steps": [{"id": "done", "kind": "end"}]}`),
	}
}

func storedExecution(id, ruleID string) *models.Execution {
	now := time.Now().UTC()

	return &models.Execution{
		ID:            id,
		RuleID:        ruleID,
		SubjectID:     "contact-1",
		Status:        models.ExecutionRunning,
		CurrentStepID: "done",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestRuleRepository_SaveAndByID(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	rule := storedRule("rule-1", models.TriggerContactListJoined, true)
	require.NoError(t, p.Rules().Save(ctx, rule))

	loaded, err := p.Rules().ByID(ctx, "rule-1")
	require.NoError(t, err)
	assert.Equal(t, rule.Name, loaded.Name)
	assert.Equal(t, rule.TriggerType, loaded.TriggerType)
	assert.JSONEq(t, string(rule.FlowJSON), string(loaded.FlowJSON))
}

func TestRuleRepository_ByIDNotFound(t *testing.T) {
	p := newTestPersistence(t)

	_, err := p.Rules().ByID(context.Background(), "rule-ghost")
	require.Error(t, err)
	assert.True(t, persistence.IsRuleNotFound(err))
}

func TestRuleRepository_RejectsPathTraversalID(t *testing.T) {
	p := newTestPersistence(t)

	_, err := p.Rules().ByID(context.Background(), "../../etc/passwd")
	require.Error(t, err)
	assert.False(t, persistence.IsRuleNotFound(err))
}

func TestRuleRepository_ActiveByTriggerType(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	require.NoError(t, p.Rules().Save(ctx, storedRule("rule-a", models.TriggerContactListJoined, true)))
	require.NoError(t, p.Rules().Save(ctx, storedRule("rule-b", models.TriggerContactListJoined, false)))
	require.NoError(t, p.Rules().Save(ctx, storedRule("rule-c", models.TriggerEmailOpened, true)))

	matched, err := p.Rules().ActiveByTriggerType(ctx, models.TriggerContactListJoined)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "rule-a", matched[0].ID)
}

func TestRuleRepository_ListPagination(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, p.Rules().Save(ctx, storedRule(fmt.Sprintf("rule-%d", i), models.TriggerEmailClicked, true)))
	}

	page, err := p.Rules().List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "rule-2", page[0].ID)
	assert.Equal(t, "rule-3", page[1].ID)

	empty, err := p.Rules().List(ctx, 10, 99)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRuleRepository_DueDateBased(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := storedRule("rule-due", models.TriggerDateBased, true)
	due.NextFireAt = &past
	notDue := storedRule("rule-later", models.TriggerDateBased, true)
	notDue.NextFireAt = &future
	inactive := storedRule("rule-off", models.TriggerDateBased, false)
	inactive.NextFireAt = &past
	wrongKind := storedRule("rule-event", models.TriggerEmailOpened, true)
	wrongKind.NextFireAt = &past

	for _, rule := range []*models.AutomationRule{due, notDue, inactive, wrongKind} {
		require.NoError(t, p.Rules().Save(ctx, rule))
	}

	matched, err := p.Rules().DueDateBased(ctx, now)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "rule-due", matched[0].ID)
}

func TestExecutionRepository_SaveAndByID(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	execution := storedExecution("exec-1", "rule-1")
	execution.Context = map[string]any{"list_id": "list-1"}
	require.NoError(t, p.Executions().Save(ctx, execution))

	loaded, err := p.Executions().ByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, execution.RuleID, loaded.RuleID)
	assert.Equal(t, "list-1", loaded.Context["list_id"])
}

func TestExecutionRepository_ByIDNotFound(t *testing.T) {
	p := newTestPersistence(t)

	_, err := p.Executions().ByID(context.Background(), "exec-ghost")
	require.Error(t, err)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_ByIdempotencyKey(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	execution := storedExecution("exec-1", "rule-1")
	execution.IdempotencyKey = "rule-1:contact-1:evt-1"
	require.NoError(t, p.Executions().Save(ctx, execution))

	loaded, err := p.Executions().ByIdempotencyKey(ctx, "rule-1:contact-1:evt-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", loaded.ID)

	_, err = p.Executions().ByIdempotencyKey(ctx, "rule-1:contact-1:evt-2")
	require.Error(t, err)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_DueForResumeOrderAndLimit(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	now := time.Now().UTC()

	late := storedExecution("exec-late", "rule-1")
	late.MarkWaiting(now.Add(-time.Minute))
	early := storedExecution("exec-early", "rule-1")
	early.MarkWaiting(now.Add(-time.Hour))
	notYet := storedExecution("exec-future", "rule-1")
	notYet.MarkWaiting(now.Add(time.Hour))
	running := storedExecution("exec-running", "rule-1")

	for _, execution := range []*models.Execution{late, early, notYet, running} {
		require.NoError(t, p.Executions().Save(ctx, execution))
	}

	due, err := p.Executions().DueForResume(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "exec-early", due[0].ID, "oldest wake time first")
	assert.Equal(t, "exec-late", due[1].ID)

	limited, err := p.Executions().DueForResume(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "exec-early", limited[0].ID)
}

func TestExecutionRepository_ClaimTransitionsWaitingToRunning(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	execution := storedExecution("exec-1", "rule-1")
	execution.MarkWaiting(time.Now().Add(-time.Minute))
	require.NoError(t, p.Executions().Save(ctx, execution))

	claimed, err := p.Executions().Claim(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionRunning, claimed.Status)
	assert.Nil(t, claimed.WakeAt)

	_, err = p.Executions().Claim(ctx, "exec-1")
	require.Error(t, err)
	assert.True(t, persistence.IsClaimConflict(err))
}

func TestExecutionRepository_ClaimRejectsTerminal(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	execution := storedExecution("exec-1", "rule-1")
	execution.MarkCompleted()
	require.NoError(t, p.Executions().Save(ctx, execution))

	_, err := p.Executions().Claim(ctx, "exec-1")
	require.Error(t, err)
	assert.True(t, persistence.IsClaimConflict(err))
}

func TestExecutionRepository_ConcurrentClaimHasOneWinner(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	execution := storedExecution("exec-1", "rule-1")
	execution.MarkWaiting(time.Now().Add(-time.Minute))
	require.NoError(t, p.Executions().Save(ctx, execution))

	const claimants = 8

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for range claimants {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := p.Executions().Claim(ctx, "exec-1"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, wins, "exactly one claimant wins")
}

func TestExecutionRepository_ListByStatusAndRule(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	first := storedExecution("exec-1", "rule-a")
	first.MarkFailed("boom")
	second := storedExecution("exec-2", "rule-b")
	third := storedExecution("exec-3", "rule-a")

	for _, execution := range []*models.Execution{first, second, third} {
		require.NoError(t, p.Executions().Save(ctx, execution))
	}

	failed, err := p.Executions().ListByStatus(ctx, models.ExecutionFailed, 10, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "exec-1", failed[0].ID)

	forRuleA, err := p.Executions().ListByRule(ctx, "rule-a", 10, 0)
	require.NoError(t, err)
	assert.Len(t, forRuleA, 2)
}

func TestPersistence_HealthCheck(t *testing.T) {
	p := newTestPersistence(t)
	assert.NoError(t, p.HealthCheck(context.Background()))

	missing := NewPersistence("/nonexistent/dripflow-test")
	assert.Error(t, missing.HealthCheck(context.Background()))
}
