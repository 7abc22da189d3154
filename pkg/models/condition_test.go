package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSubject() *SubjectState {
	return &SubjectState{
		ID:               "contact-1",
		Email:            "ada@example.com",
		Tags:             []string{"customer", "vip"},
		ListIDs:          []string{"list-newsletter"},
		LeadScore:        42,
		Fields:           map[string]any{"country": "BR", "age": 30},
		OpenedCampaigns:  []string{"camp-1"},
		ClickedCampaigns: []string{"camp-2"},
	}
}

func TestEvaluateCondition_Predicates(t *testing.T) {
	subject := testSubject()

	tests := []struct {
		name     string
		kind     ConditionType
		params   map[string]any
		context  map[string]any
		expected bool
	}{
		{"has_tag present", ConditionHasTag, map[string]any{"tag": "vip"}, nil, true},
		{"has_tag absent", ConditionHasTag, map[string]any{"tag": "churned"}, nil, false},
		{"not_has_tag absent", ConditionNotHasTag, map[string]any{"tag": "churned"}, nil, true},
		{"not_has_tag present", ConditionNotHasTag, map[string]any{"tag": "vip"}, nil, false},
		{"in_list member", ConditionInList, map[string]any{"list_id": "list-newsletter"}, nil, true},
		{"in_list non-member", ConditionInList, map[string]any{"list_id": "list-other"}, nil, false},
		{"not_in_list non-member", ConditionNotInList, map[string]any{"list_id": "list-other"}, nil, true},
		{"email_opened from params", ConditionEmailOpened, map[string]any{"campaign_id": "camp-1"}, nil, true},
		{"email_opened from context", ConditionEmailOpened, nil, map[string]any{"campaign_id": "camp-1"}, true},
		{"email_opened not opened", ConditionEmailOpened, map[string]any{"campaign_id": "camp-9"}, nil, false},
		{"email_clicked clicked", ConditionEmailClicked, map[string]any{"campaign_id": "camp-2"}, nil, true},
		{"lead_score gte true", ConditionLeadScore, map[string]any{"op": "gte", "value": float64(40)}, nil, true},
		{"lead_score gt false", ConditionLeadScore, map[string]any{"op": "gt", "value": float64(42)}, nil, false},
		{"lead_score eq true", ConditionLeadScore, map[string]any{"op": "eq", "value": "42"}, nil, true},
		{"field_value eq", ConditionFieldValue, map[string]any{"field": "country", "value": "BR"}, nil, true},
		{"field_value neq", ConditionFieldValue, map[string]any{"field": "country", "op": "neq", "value": "US"}, nil, true},
		{"field_value numeric gt", ConditionFieldValue, map[string]any{"field": "age", "op": "gt", "value": float64(18)}, nil, true},
		{"field_value contains", ConditionFieldValue, map[string]any{"field": "country", "op": "contains", "value": "B"}, nil, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := EvaluateCondition(tc.kind, tc.params, subject, tc.context)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestEvaluateCondition_NilSubject(t *testing.T) {
	_, err := EvaluateCondition(ConditionHasTag, map[string]any{"tag": "vip"}, nil, nil)
	assert.Error(t, err)
}

func TestEvaluateCondition_MissingParameter(t *testing.T) {
	_, err := EvaluateCondition(ConditionHasTag, map[string]any{}, testSubject(), nil)
	assert.Error(t, err)
}

func TestEvaluateCondition_UnknownField(t *testing.T) {
	_, err := EvaluateCondition(ConditionFieldValue, map[string]any{"field": "plan", "value": "pro"}, testSubject(), nil)
	assert.Error(t, err)
}

func TestEvaluateCondition_UnknownKind(t *testing.T) {
	_, err := EvaluateCondition("phase_of_moon", nil, testSubject(), nil)
	assert.Error(t, err)
}

func TestEvaluateCondition_UnknownOperator(t *testing.T) {
	_, err := EvaluateCondition(ConditionLeadScore, map[string]any{"op": "almost", "value": float64(1)}, testSubject(), nil)
	assert.Error(t, err)
}

func TestEvaluateCondition_IsPure(t *testing.T) {
	subject := testSubject()
	params := map[string]any{"tag": "vip"}

	for range 3 {
		result, err := EvaluateCondition(ConditionHasTag, params, subject, nil)
		require.NoError(t, err)
		assert.True(t, result)
	}

	assert.Equal(t, []string{"customer", "vip"}, subject.Tags)
}
