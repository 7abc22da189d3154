package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/idempotency"
	"github.com/dripflow/dripflow/pkg/models"
)

func listJoinedEvent(eventID string) events.ContactListJoined {
	event := events.ContactListJoined{
		BaseEvent:    events.NewBaseEvent(events.ContactListJoinedEvent),
		ContactID:    "contact-1",
		ContactEmail: "ada@example.com",
		ListID:       "list-newsletter",
	}
	event.ID = eventID

	return event
}

func TestTriggerMatcher_StartsOneExecutionPerMatchingRule(t *testing.T) {
	f := newFixture(t, Config{})

	first := welcomeRule()
	second := welcomeRule()
	second.ID = "rule-welcome-2"
	f.saveRule(t, first)
	f.saveRule(t, second)

	// A rule for a different trigger type must not react.
	other := branchingRule()
	f.saveRule(t, other)

	err := f.matcher.OnEvent(context.Background(), listJoinedEvent("evt-1"))
	require.NoError(t, err)

	forFirst, err := f.store.Executions().ListByRule(context.Background(), first.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, forFirst, 1)

	forSecond, err := f.store.Executions().ListByRule(context.Background(), second.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, forSecond, 1)

	forOther, err := f.store.Executions().ListByRule(context.Background(), other.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, forOther)
}

func TestTriggerMatcher_SeedsContextFromEventPayload(t *testing.T) {
	f := newFixture(t, Config{})
	f.saveRule(t, welcomeRule())

	require.NoError(t, f.matcher.OnEvent(context.Background(), listJoinedEvent("evt-1")))

	executions, err := f.store.Executions().ListByRule(context.Background(), "rule-welcome", 10, 0)
	require.NoError(t, err)
	require.Len(t, executions, 1)

	assert.Equal(t, "contact-1", executions[0].SubjectID)
	assert.Equal(t, "list-newsletter", executions[0].Context["list_id"])
	assert.Equal(t, "ada@example.com", executions[0].Context["contact_email"])
}

func TestTriggerMatcher_OnceFrequencySkipsDuplicateEvent(t *testing.T) {
	f := newFixture(t, Config{})
	f.matcher.activations = idempotency.NewMemoryStore()
	f.saveRule(t, welcomeRule())

	require.NoError(t, f.matcher.OnEvent(context.Background(), listJoinedEvent("evt-1")))
	require.NoError(t, f.matcher.OnEvent(context.Background(), listJoinedEvent("evt-1")))

	executions, err := f.store.Executions().ListByRule(context.Background(), "rule-welcome", 10, 0)
	require.NoError(t, err)
	assert.Len(t, executions, 1, "re-delivered event must not double-start")
}

func TestTriggerMatcher_OnceFrequencyAllowsDistinctEvents(t *testing.T) {
	f := newFixture(t, Config{})
	f.matcher.activations = idempotency.NewMemoryStore()
	f.saveRule(t, welcomeRule())

	require.NoError(t, f.matcher.OnEvent(context.Background(), listJoinedEvent("evt-1")))
	require.NoError(t, f.matcher.OnEvent(context.Background(), listJoinedEvent("evt-2")))

	executions, err := f.store.Executions().ListByRule(context.Background(), "rule-welcome", 10, 0)
	require.NoError(t, err)
	assert.Len(t, executions, 2)
}

func TestTriggerMatcher_EveryTimeFrequencyAlwaysStarts(t *testing.T) {
	f := newFixture(t, Config{})
	f.matcher.activations = idempotency.NewMemoryStore()

	rule := welcomeRule()
	rule.Frequency = models.FrequencyEveryTime
	f.saveRule(t, rule)

	require.NoError(t, f.matcher.OnEvent(context.Background(), listJoinedEvent("evt-1")))
	require.NoError(t, f.matcher.OnEvent(context.Background(), listJoinedEvent("evt-1")))

	executions, err := f.store.Executions().ListByRule(context.Background(), rule.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, executions, 2)
}

func TestTriggerMatcher_DuplicateDetectedViaRepositoryWithoutStore(t *testing.T) {
	// No activation store wired: the execution repository lookup still
	// catches the duplicate while the first execution is suspended.
	f := newFixture(t, Config{})
	f.saveRule(t, welcomeRule())

	require.NoError(t, f.matcher.OnEvent(context.Background(), listJoinedEvent("evt-1")))
	require.NoError(t, f.matcher.OnEvent(context.Background(), listJoinedEvent("evt-1")))

	executions, err := f.store.Executions().ListByRule(context.Background(), "rule-welcome", 10, 0)
	require.NoError(t, err)
	assert.Len(t, executions, 1)
}

func TestTriggerMatcher_InactiveRuleDoesNotStart(t *testing.T) {
	f := newFixture(t, Config{})

	rule := welcomeRule()
	rule.Active = false
	f.saveRule(t, rule)

	require.NoError(t, f.matcher.OnEvent(context.Background(), listJoinedEvent("evt-1")))

	executions, err := f.store.Executions().ListByRule(context.Background(), rule.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestTriggerMatcher_BrokenRuleDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t, Config{})

	broken := welcomeRule()
	broken.ID = "rule-broken"
	broken.FlowJSON = []byte(`{"entry": "ghost", "steps": [{"id": "done", "kind": "end"}]}`)
	f.saveRule(t, broken)

	good := welcomeRule()
	f.saveRule(t, good)

	err := f.matcher.OnEvent(context.Background(), listJoinedEvent("evt-1"))
	require.Error(t, err, "the broken rule's failure is reported")

	executions, listErr := f.store.Executions().ListByRule(context.Background(), good.ID, 10, 0)
	require.NoError(t, listErr)
	assert.Len(t, executions, 1, "the healthy rule still spawned its execution")
}
