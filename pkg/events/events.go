// Package events defines the domain events the engine reacts to and the
// lifecycle events it emits while advancing executions.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/dripflow/dripflow/pkg/models"
)

type EventType string

// Topic is the event bus topic carrying all dripflow events.
const Topic = "dripflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Domain events delivered by the external event source. Delivery is
	// at-least-once; duplicates are possible.
	ContactListJoinedEvent EventType = "contact.list_joined"
	ContactTagAddedEvent   EventType = "contact.tag_added"
	EmailOpenedEvent       EventType = "email.opened"
	EmailClickedEvent      EventType = "email.clicked"

	// Execution lifecycle events emitted by the engine.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionWaitingEvent   EventType = "execution.waiting"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]any),
	}
}

// TriggerEvent is implemented by the domain events that can start automation
// executions. Payload carries enough data to seed execution context without
// a secondary lookup.
type TriggerEvent interface {
	GetType() EventType
	TriggerType() models.TriggerType
	SubjectID() string
	EventID() string
	Payload() map[string]any
}

type ContactListJoined struct {
	BaseEvent

	ContactID    string `json:"contact_id"`
	ContactEmail string `json:"contact_email,omitempty"`
	ListID       string `json:"list_id"`
}

func (e ContactListJoined) GetType() EventType               { return ContactListJoinedEvent }
func (e ContactListJoined) TriggerType() models.TriggerType  { return models.TriggerContactListJoined }
func (e ContactListJoined) SubjectID() string                { return e.ContactID }
func (e ContactListJoined) EventID() string                  { return e.ID }
func (e ContactListJoined) Payload() map[string]any {
	return map[string]any{
		"contact_id":    e.ContactID,
		"contact_email": e.ContactEmail,
		"list_id":       e.ListID,
	}
}

type ContactTagAdded struct {
	BaseEvent

	ContactID string `json:"contact_id"`
	TagName   string `json:"tag_name"`
}

func (e ContactTagAdded) GetType() EventType              { return ContactTagAddedEvent }
func (e ContactTagAdded) TriggerType() models.TriggerType { return models.TriggerContactTagAdded }
func (e ContactTagAdded) SubjectID() string               { return e.ContactID }
func (e ContactTagAdded) EventID() string                 { return e.ID }
func (e ContactTagAdded) Payload() map[string]any {
	return map[string]any{
		"contact_id": e.ContactID,
		"tag_name":   e.TagName,
	}
}

type EmailOpened struct {
	BaseEvent

	ContactID    string `json:"contact_id"`
	ContactEmail string `json:"contact_email"`
	CampaignID   string `json:"campaign_id"`
	MessageID    string `json:"message_id"`
}

func (e EmailOpened) GetType() EventType              { return EmailOpenedEvent }
func (e EmailOpened) TriggerType() models.TriggerType { return models.TriggerEmailOpened }
func (e EmailOpened) SubjectID() string               { return e.ContactID }
func (e EmailOpened) EventID() string                 { return e.ID }
func (e EmailOpened) Payload() map[string]any {
	return map[string]any{
		"contact_id":    e.ContactID,
		"contact_email": e.ContactEmail,
		"campaign_id":   e.CampaignID,
		"message_id":    e.MessageID,
	}
}

type EmailClicked struct {
	BaseEvent

	ContactID    string `json:"contact_id"`
	ContactEmail string `json:"contact_email"`
	CampaignID   string `json:"campaign_id"`
	MessageID    string `json:"message_id"`
	ClickedURL   string `json:"clicked_url"`
}

func (e EmailClicked) GetType() EventType              { return EmailClickedEvent }
func (e EmailClicked) TriggerType() models.TriggerType { return models.TriggerEmailClicked }
func (e EmailClicked) SubjectID() string               { return e.ContactID }
func (e EmailClicked) EventID() string                 { return e.ID }
func (e EmailClicked) Payload() map[string]any {
	return map[string]any{
		"contact_id":    e.ContactID,
		"contact_email": e.ContactEmail,
		"campaign_id":   e.CampaignID,
		"message_id":    e.MessageID,
		"clicked_url":   e.ClickedURL,
	}
}

// Execution lifecycle events.

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	RuleID      string `json:"rule_id"`
	SubjectID   string `json:"subject_id"`
}

func (e ExecutionStarted) GetType() EventType { return ExecutionStartedEvent }

type ExecutionWaiting struct {
	BaseEvent

	ExecutionID string    `json:"execution_id"`
	RuleID      string    `json:"rule_id"`
	WakeAt      time.Time `json:"wake_at"`
}

func (e ExecutionWaiting) GetType() EventType { return ExecutionWaitingEvent }

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	RuleID      string `json:"rule_id"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e ExecutionCompleted) GetType() EventType { return ExecutionCompletedEvent }

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	RuleID      string `json:"rule_id"`
	Error       string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType { return ExecutionFailedEvent }
