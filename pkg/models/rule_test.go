package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutomationRule_Validate_Valid(t *testing.T) {
	rule := testRule(t)
	assert.NoError(t, rule.Validate())
}

func TestAutomationRule_Validate_UnknownTriggerType(t *testing.T) {
	rule := testRule(t)
	rule.TriggerType = "contact.sneezed"

	err := rule.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestAutomationRule_Validate_UnknownFrequency(t *testing.T) {
	rule := testRule(t)
	rule.Frequency = "sometimes"

	err := rule.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestAutomationRule_Validate_BrokenFlow(t *testing.T) {
	rule := testRule(t)
	rule.FlowJSON = []byte(`{"entry": "ghost", "steps": [{"id": "done", "kind": "end"}]}`)

	err := rule.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRule)
	assert.ErrorIs(t, err, ErrInvalidFlow)
}

func TestAutomationRule_Validate_DateBasedRequiresCron(t *testing.T) {
	rule := testRule(t)
	rule.TriggerType = TriggerDateBased

	err := rule.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRule)

	rule.CronExpression = "not a cron"
	err = rule.Validate()
	require.Error(t, err)

	rule.CronExpression = "0 9 * * 1"
	assert.NoError(t, rule.Validate())
}

func TestAutomationRule_UpdateNextFireAt(t *testing.T) {
	rule := testRule(t)
	rule.TriggerType = TriggerDateBased
	rule.CronExpression = "0 9 * * *"

	reference := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, rule.UpdateNextFireAt(reference))

	require.NotNil(t, rule.NextFireAt)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), *rule.NextFireAt)
}

func TestAutomationRule_IsDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	rule := testRule(t)
	rule.TriggerType = TriggerDateBased
	rule.CronExpression = "0 9 * * *"

	assert.False(t, rule.IsDue(now), "no fire time computed yet")

	rule.NextFireAt = &past
	assert.True(t, rule.IsDue(now))

	rule.NextFireAt = &future
	assert.False(t, rule.IsDue(now))

	rule.NextFireAt = &past
	rule.Active = false
	assert.False(t, rule.IsDue(now), "inactive rules never fire")
}

func TestAutomationRule_FlowIsDeterministic(t *testing.T) {
	rule := testRule(t)

	first, err := rule.Flow()
	require.NoError(t, err)

	second, err := rule.Flow()
	require.NoError(t, err)

	assert.Equal(t, first.EntryStep().ID, second.EntryStep().ID)
	assert.Len(t, second.Steps(), len(first.Steps()))
}
