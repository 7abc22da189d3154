package models

import "slices"

// SubjectState is a read-only snapshot of the entity an execution acts upon
// (a contact), as served by the external contact directory. Condition
// predicates evaluate against this snapshot.
type SubjectState struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	Tags      []string       `json:"tags,omitempty"`
	ListIDs   []string       `json:"list_ids,omitempty"`
	LeadScore int            `json:"lead_score"`
	Fields    map[string]any `json:"fields,omitempty"`

	// Engagement history, keyed by campaign id.
	OpenedCampaigns  []string `json:"opened_campaigns,omitempty"`
	ClickedCampaigns []string `json:"clicked_campaigns,omitempty"`
}

func (s *SubjectState) HasTag(tag string) bool {
	return slices.Contains(s.Tags, tag)
}

func (s *SubjectState) InList(listID string) bool {
	return slices.Contains(s.ListIDs, listID)
}

func (s *SubjectState) OpenedCampaign(campaignID string) bool {
	return slices.Contains(s.OpenedCampaigns, campaignID)
}

func (s *SubjectState) ClickedCampaign(campaignID string) bool {
	return slices.Contains(s.ClickedCampaigns, campaignID)
}
