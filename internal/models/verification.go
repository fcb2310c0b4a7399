// internal/models/verification.go
package models

import "time"

type VerificationType string

const (
	VerificationIdentity      VerificationType = "identity"
	VerificationIncome        VerificationType = "income"
	VerificationEmployment    VerificationType = "employment"
	VerificationRentalHistory VerificationType = "rental_history"
)

func (t VerificationType) Valid() bool {
	switch t {
	case VerificationIdentity, VerificationIncome, VerificationEmployment, VerificationRentalHistory:
		return true
	}
	return false
}

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
)

func (s VerificationStatus) IsTerminal() bool {
	return s == VerificationVerified || s == VerificationFailed
}

// VerificationSubject carries the fields submitted to the external verifier.
type VerificationSubject struct {
	FirstName    string  `json:"firstName"`
	LastName     string  `json:"lastName"`
	Email        string  `json:"email,omitempty"`
	DateOfBirth  string  `json:"dateOfBirth,omitempty"`
	SSNLast4     string  `json:"ssnLast4,omitempty"`
	Employer     string  `json:"employer,omitempty"`
	AnnualIncome float64 `json:"annualIncome,omitempty"`
	DocumentURL  string  `json:"documentUrl,omitempty"`
}

type VerificationRequest struct {
	DocumentID  string              `json:"documentId"`
	StepID      string              `json:"stepId,omitempty"`
	Type        VerificationType    `json:"type"`
	Subject     VerificationSubject `json:"subject"`
	RequestedBy string              `json:"requestedBy"`
}

// VerificationResult rows are append-only history; a retry creates a new row
// pointing at the one it retries.
type VerificationResult struct {
	ID             string              `json:"id"`
	DocumentID     string              `json:"documentId"`
	StepID         string              `json:"stepId,omitempty"`
	Type           VerificationType    `json:"type"`
	Status         VerificationStatus  `json:"status"`
	ExternalRef    string              `json:"externalRef,omitempty"`
	VerifiedFields []string            `json:"verifiedFields"`
	FailedFields   []string            `json:"failedFields"`
	Confidence     float64             `json:"confidence"`
	Note           string              `json:"note,omitempty"`
	Subject        VerificationSubject `json:"subject"`
	RequestedBy    string              `json:"requestedBy,omitempty"`
	RetryOf        string              `json:"retryOf,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	CompletedAt    *time.Time          `json:"completedAt,omitempty"`
}

// VerificationCallback is the payload the verifier posts back.
type VerificationCallback struct {
	ID      string                   `json:"id"`
	Status  VerificationStatus       `json:"status"`
	Results VerificationCallbackBody `json:"results"`
}

type VerificationCallbackBody struct {
	VerifiedFields []string `json:"verifiedFields"`
	FailedFields   []string `json:"failedFields"`
	Confidence     float64  `json:"confidence"`
	Note           string   `json:"note,omitempty"`
}
