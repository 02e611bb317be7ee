package models

import "time"

// Audit event names recorded by the registration workflow.
const (
	EventOrderStarted = "ORDER_STARTED"
	EventOrderCreated = "ORDER_CREATED"
	EventOrderError   = "ORDER_ERROR"
)

// maxAuditDescription bounds the free-text description column.
const maxAuditDescription = 2000

// AuditEvent is an append-only record of a workflow milestone or failure.
type AuditEvent struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	EventName   string    `json:"event_name" gorm:"size:200;not null"`
	Description string    `json:"description" gorm:"size:2000"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewAuditEvent builds an audit event, truncating oversized descriptions to
// the column bound.
func NewAuditEvent(name, description string) *AuditEvent {
	if len(description) > maxAuditDescription {
		description = description[:maxAuditDescription]
	}
	return &AuditEvent{
		EventName:   name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
}
