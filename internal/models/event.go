// internal/models/event.go
package models

import "time"

type EventType string

const (
	EventWorkflowStarted      EventType = "workflow.started"
	EventStepActivated        EventType = "workflow.step_activated"
	EventStepCompleted        EventType = "workflow.step_completed"
	EventStepRejected         EventType = "workflow.step_rejected"
	EventStepBlocked          EventType = "workflow.step_blocked"
	EventDocumentStatus       EventType = "document.status_changed"
	EventSignatureSigned      EventType = "signature.signed"
	EventSignatureDeclined    EventType = "signature.declined"
	EventSignaturesComplete   EventType = "signature.all_signed"
	EventVerificationResolved EventType = "verification.resolved"
	EventDocumentRenewed      EventType = "document.renewed"
)

// DocumentEvent is emitted after a committed transition for downstream consumers.
type DocumentEvent struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	DocumentID string                 `json:"documentId"`
	StepID     string                 `json:"stepId,omitempty"`
	Status     string                 `json:"status,omitempty"`
	ActorID    string                 `json:"actorId,omitempty"`
	OccurredAt time.Time              `json:"occurredAt"`
	Data       map[string]interface{} `json:"data,omitempty"`
}
