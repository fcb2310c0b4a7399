// internal/models/notification.go
package models

import "time"

type NotificationType string

const (
	NotificationStepActivated     NotificationType = "document_step_activated"
	NotificationDocumentApproved  NotificationType = "document_approved"
	NotificationDocumentRejected  NotificationType = "document_rejected"
	NotificationSignatureRequest  NotificationType = "signature_requested"
	NotificationSignatureDeclined NotificationType = "signature_declined"
	NotificationVerificationDone  NotificationType = "verification_completed"
	NotificationExpiringSoon      NotificationType = "document_expiring_soon"
	NotificationRenewed           NotificationType = "document_renewed"
	NotificationExpired           NotificationType = "document_expired"
)

type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
)

// Notification targets either an actor or, via PropertyID, the property's landlord.
type Notification struct {
	ID          string               `json:"id"`
	RecipientID string               `json:"recipientId,omitempty"`
	PropertyID  string               `json:"propertyId,omitempty"`
	DocumentID  string               `json:"documentId,omitempty"`
	Type        NotificationType     `json:"type"`
	Title       string               `json:"title"`
	Message     string               `json:"message"`
	Priority    NotificationPriority `json:"priority"`
	CreatedAt   time.Time            `json:"createdAt"`
}
