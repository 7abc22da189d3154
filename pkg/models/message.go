package models

// EmailMessage is the payload handed to the external email gateway. Delivery
// transport (SMTP, provider APIs) lives behind that gateway.
type EmailMessage struct {
	To         string         `json:"to"         validate:"required,email"`
	ContactID  string         `json:"contact_id" validate:"required"`
	TemplateID string         `json:"template_id" validate:"required"`
	CampaignID string         `json:"campaign_id,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	Variables  map[string]any `json:"variables,omitempty"`
}
