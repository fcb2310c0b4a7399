// internal/workers/document/send-notification/models.go
package sendnotification

import "rental-docflow/internal/models"

// Input addresses either an actor or, through PropertyID, its landlord. Title
// and Message fall back to the template for NotificationType.
type Input struct {
	RecipientID      string                      `json:"recipientId,omitempty"`
	PropertyID       string                      `json:"propertyId,omitempty"`
	DocumentID       string                      `json:"documentId,omitempty"`
	NotificationType models.NotificationType     `json:"notificationType"`
	Title            string                      `json:"title,omitempty"`
	Message          string                      `json:"message,omitempty"`
	Priority         models.NotificationPriority `json:"priority,omitempty"`
	Metadata         map[string]interface{}      `json:"metadata,omitempty"`
}

type Output struct {
	NotificationID string   `json:"notificationId,omitempty"`
	Status         string   `json:"status"` // "sent", "failed", "disabled"
	Channels       []string `json:"channels"`
	SentAt         string   `json:"sentAt"` // ISO 8601
}
