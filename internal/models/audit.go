// internal/models/audit.go
package models

import "time"

type AuditAction string

const (
	AuditView     AuditAction = "view"
	AuditDownload AuditAction = "download"
	AuditShare    AuditAction = "share"
	AuditComment  AuditAction = "comment"
	AuditSign     AuditAction = "sign"
	AuditApprove  AuditAction = "approve"
	AuditReject   AuditAction = "reject"
	AuditRenew    AuditAction = "renew"
)

func (a AuditAction) Valid() bool {
	switch a {
	case AuditView, AuditDownload, AuditShare, AuditComment, AuditSign, AuditApprove, AuditReject, AuditRenew:
		return true
	}
	return false
}

// AuditLogEntry is append-only. Details is free-form.
type AuditLogEntry struct {
	ID         string                 `json:"id"`
	DocumentID string                 `json:"documentId"`
	Action     AuditAction            `json:"action"`
	ActorID    string                 `json:"actorId"`
	Timestamp  time.Time              `json:"timestamp"`
	Details    map[string]interface{} `json:"details,omitempty"`
}
