// internal/workers/document/verify-tenant/models.go
package verifytenant

import "rental-docflow/internal/models"

type Input struct {
	DocumentID       string                     `json:"documentId"`
	StepID           string                     `json:"stepId"`
	VerificationType models.VerificationType    `json:"verificationType"`
	Subject          models.VerificationSubject `json:"subject"`
	RequestedBy      string                     `json:"requestedBy,omitempty"`
}

type Output struct {
	VerificationID     string `json:"verificationId"`
	VerificationStatus string `json:"verificationStatus"` // "pending", "verified", "failed"
	ExternalRef        string `json:"externalRef,omitempty"`
	Note               string `json:"note,omitempty"`
}
