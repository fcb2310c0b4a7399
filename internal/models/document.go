// internal/models/document.go
package models

import "time"

// DocumentType enumerates the rental documents the engine tracks.
type DocumentType string

const (
	DocumentTypeLease       DocumentType = "lease"
	DocumentTypeDisclosure  DocumentType = "disclosure"
	DocumentTypeApplication DocumentType = "application"
	DocumentTypeOther       DocumentType = "other"
)

func (t DocumentType) Valid() bool {
	switch t {
	case DocumentTypeLease, DocumentTypeDisclosure, DocumentTypeApplication, DocumentTypeOther:
		return true
	}
	return false
}

// DocumentStatus is the aggregate lifecycle status. It is derived from the
// document's workflow steps and never set independently of them.
type DocumentStatus string

const (
	DocumentStatusDraft               DocumentStatus = "draft"
	DocumentStatusPendingVerification DocumentStatus = "pending_verification"
	DocumentStatusPendingValidation   DocumentStatus = "pending_validation"
	DocumentStatusPendingSignature    DocumentStatus = "pending_signature"
	DocumentStatusSigned              DocumentStatus = "signed"
	DocumentStatusApproved            DocumentStatus = "approved"
	DocumentStatusRejected            DocumentStatus = "rejected"
	DocumentStatusExpired             DocumentStatus = "expired"
)

// IsFinal reports whether no further workflow transition can change the status.
func (s DocumentStatus) IsFinal() bool {
	return s == DocumentStatusRejected
}

type Document struct {
	ID             string         `json:"id"`
	PropertyID     string         `json:"propertyId"`
	TenantID       string         `json:"tenantId,omitempty"`
	Type           DocumentType   `json:"type"`
	Title          string         `json:"title,omitempty"`
	StorageURL     string         `json:"storageUrl"`
	Jurisdiction   string         `json:"jurisdiction"` // two-letter state code
	Status         DocumentStatus `json:"status"`
	ExpirationDate *time.Time     `json:"expirationDate,omitempty"`
	UploadedBy     string         `json:"uploadedBy,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}
