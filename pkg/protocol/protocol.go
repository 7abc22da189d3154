// Package protocol defines the collaborator ports the engine consumes.
// Implementations live outside the engine: the email gateway wraps the
// delivery provider, the contact directory wraps the contacts service.
package protocol

import (
	"context"

	"github.com/dripflow/dripflow/pkg/models"
)

// EmailGateway sends messages through the external delivery transport.
type EmailGateway interface {
	SendEmail(ctx context.Context, message models.EmailMessage) error
	IsHealthy(ctx context.Context) bool
}

// ContactDirectory serves subject state for condition evaluation and applies
// the contact-mutating actions (tags, list membership).
type ContactDirectory interface {
	ByID(ctx context.Context, contactID string) (*models.SubjectState, error)
	AddTag(ctx context.Context, contactID, tag string) error
	RemoveTag(ctx context.Context, contactID, tag string) error
	AddToList(ctx context.Context, contactID, listID string) error
	ListMembers(ctx context.Context, listID string) ([]string, error)
}
