// internal/workers/document/request-signatures/models.go
package requestsignatures

import "rental-docflow/internal/models"

type Signer struct {
	SignerID string            `json:"signerId"`
	Role     models.SignerRole `json:"role"`
}

type Input struct {
	DocumentID    string   `json:"documentId"`
	Signers       []Signer `json:"signers"`
	ExpiresInDays int      `json:"expiresInDays,omitempty"`
	RequestedBy   string   `json:"requestedBy,omitempty"`
}

type Request struct {
	RequestID string `json:"requestId,omitempty"`
	SignerID  string `json:"signerId"`
	Status    string `json:"status"` // "pending", or "already_pending" when one was open
	ExpiresAt string `json:"expiresAt,omitempty"`
}

type Output struct {
	DocumentID string    `json:"documentId"`
	Requests   []Request `json:"requests"`
	Created    int       `json:"created"`
}

const StatusAlreadyPending = "already_pending"
