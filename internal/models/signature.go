// internal/models/signature.go
package models

import "time"

type SignatureStatus string

const (
	SignaturePending  SignatureStatus = "pending"
	SignatureSigned   SignatureStatus = "signed"
	SignatureExpired  SignatureStatus = "expired"
	SignatureDeclined SignatureStatus = "declined"
)

func (s SignatureStatus) IsTerminal() bool {
	return s != SignaturePending
}

type SignerRole string

const (
	SignerLandlord SignerRole = "landlord"
	SignerTenant   SignerRole = "tenant"
)

func (r SignerRole) Valid() bool {
	return r == SignerLandlord || r == SignerTenant
}

// SignatureEvidence is what the engine keeps in place of a cryptographic signature.
type SignatureEvidence struct {
	SignedAt       time.Time `json:"signedAt"`
	IPAddress      string    `json:"ipAddress"`
	UserAgent      string    `json:"userAgent"`
	Browser        string    `json:"browser,omitempty"`
	OS             string    `json:"os,omitempty"`
	Mobile         bool      `json:"mobile,omitempty"`
	SignatureImage string    `json:"signatureImage,omitempty"`
	TypedName      string    `json:"typedName,omitempty"`
}

type SignatureRequest struct {
	ID            string             `json:"id"`
	DocumentID    string             `json:"documentId"`
	SignerID      string             `json:"signerId"`
	SignerRole    SignerRole         `json:"signerRole"`
	Status        SignatureStatus    `json:"status"`
	Evidence      *SignatureEvidence `json:"evidence,omitempty"`
	DeclineReason string             `json:"declineReason,omitempty"`
	ReplacesID    string             `json:"replacesId,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	ExpiresAt     time.Time          `json:"expiresAt"`
	ResolvedAt    *time.Time         `json:"resolvedAt,omitempty"`
}

// PastDue reports whether a pending request has outlived its window.
func (r *SignatureRequest) PastDue(now time.Time) bool {
	return r.Status == SignaturePending && now.After(r.ExpiresAt)
}

// SignatureResolution is a conditional update from pending to a terminal status.
type SignatureResolution struct {
	RequestID     string
	To            SignatureStatus
	Evidence      *SignatureEvidence
	DeclineReason string
	ResolvedAt    time.Time
}
