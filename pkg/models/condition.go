package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ConditionType identifies the predicate a condition step evaluates. Every
// predicate is pure: it reads subject state and execution context and has no
// side effects.
type ConditionType string

const (
	ConditionHasTag       ConditionType = "has_tag"
	ConditionNotHasTag    ConditionType = "not_has_tag"
	ConditionInList       ConditionType = "in_list"
	ConditionNotInList    ConditionType = "not_in_list"
	ConditionEmailOpened  ConditionType = "email_opened"
	ConditionEmailClicked ConditionType = "email_clicked"
	ConditionLeadScore    ConditionType = "lead_score"
	ConditionFieldValue   ConditionType = "field_value"
)

// IsValid checks if the condition type is one of the supported predicates.
func (c ConditionType) IsValid() bool {
	switch c {
	case ConditionHasTag, ConditionNotHasTag, ConditionInList, ConditionNotInList,
		ConditionEmailOpened, ConditionEmailClicked, ConditionLeadScore, ConditionFieldValue:
		return true
	default:
		return false
	}
}

// EvaluateCondition applies the predicate identified by kind against the
// subject's current state and the execution context. Callers treat an error
// as the predicate being false (missing or unreadable data never fails an
// execution).
func EvaluateCondition(kind ConditionType, params map[string]any, subject *SubjectState, execContext map[string]any) (bool, error) {
	if subject == nil {
		return false, fmt.Errorf("condition %s: subject state unavailable", kind)
	}

	switch kind {
	case ConditionHasTag:
		tag, err := stringParam(params, "tag")
		if err != nil {
			return false, err
		}

		return subject.HasTag(tag), nil

	case ConditionNotHasTag:
		tag, err := stringParam(params, "tag")
		if err != nil {
			return false, err
		}

		return !subject.HasTag(tag), nil

	case ConditionInList:
		listID, err := stringParam(params, "list_id")
		if err != nil {
			return false, err
		}

		return subject.InList(listID), nil

	case ConditionNotInList:
		listID, err := stringParam(params, "list_id")
		if err != nil {
			return false, err
		}

		return !subject.InList(listID), nil

	case ConditionEmailOpened:
		campaignID := optionalStringParam(params, "campaign_id", contextString(execContext, "campaign_id"))
		if campaignID == "" {
			return false, fmt.Errorf("condition %s: no campaign_id in params or context", kind)
		}

		return subject.OpenedCampaign(campaignID), nil

	case ConditionEmailClicked:
		campaignID := optionalStringParam(params, "campaign_id", contextString(execContext, "campaign_id"))
		if campaignID == "" {
			return false, fmt.Errorf("condition %s: no campaign_id in params or context", kind)
		}

		return subject.ClickedCampaign(campaignID), nil

	case ConditionLeadScore:
		operator, err := stringParam(params, "op")
		if err != nil {
			return false, err
		}

		threshold, err := numberParam(params, "value")
		if err != nil {
			return false, err
		}

		return compareNumbers(float64(subject.LeadScore), operator, threshold)

	case ConditionFieldValue:
		field, err := stringParam(params, "field")
		if err != nil {
			return false, err
		}

		operator := optionalStringParam(params, "op", "eq")

		actual, ok := subject.Fields[field]
		if !ok {
			return false, fmt.Errorf("condition %s: subject has no field %q", kind, field)
		}

		return compareFieldValue(actual, operator, params["value"])

	default:
		return false, fmt.Errorf("unknown condition type %q", kind)
	}
}

func stringParam(params map[string]any, key string) (string, error) {
	value, _ := params[key].(string)
	if value == "" {
		return "", fmt.Errorf("missing condition parameter %q", key)
	}

	return value, nil
}

func optionalStringParam(params map[string]any, key, fallback string) string {
	if value, ok := params[key].(string); ok && value != "" {
		return value
	}

	return fallback
}

func contextString(execContext map[string]any, key string) string {
	value, _ := execContext[key].(string)

	return value
}

func numberParam(params map[string]any, key string) (float64, error) {
	switch v := params[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("condition parameter %q is not a number: %w", key, err)
		}

		return parsed, nil
	default:
		return 0, fmt.Errorf("missing numeric condition parameter %q", key)
	}
}

func compareNumbers(actual float64, operator string, expected float64) (bool, error) {
	switch operator {
	case "gt":
		return actual > expected, nil
	case "gte":
		return actual >= expected, nil
	case "lt":
		return actual < expected, nil
	case "lte":
		return actual <= expected, nil
	case "eq":
		return actual == expected, nil
	default:
		return false, fmt.Errorf("unknown comparison operator %q", operator)
	}
}

func compareFieldValue(actual any, operator string, expected any) (bool, error) {
	switch operator {
	case "eq":
		return fmt.Sprint(actual) == fmt.Sprint(expected), nil
	case "neq":
		return fmt.Sprint(actual) != fmt.Sprint(expected), nil
	case "contains":
		return strings.Contains(fmt.Sprint(actual), fmt.Sprint(expected)), nil
	case "gt", "gte", "lt", "lte":
		actualNum, err := toNumber(actual)
		if err != nil {
			return false, err
		}

		expectedNum, err := toNumber(expected)
		if err != nil {
			return false, err
		}

		return compareNumbers(actualNum, operator, expectedNum)
	default:
		return false, fmt.Errorf("unknown comparison operator %q", operator)
	}
}

func toNumber(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not a number: %w", v, err)
		}

		return parsed, nil
	default:
		return 0, fmt.Errorf("value %v is not a number", value)
	}
}
