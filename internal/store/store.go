// Package store declares the persistence boundary of the document engine.
//
// Every mutating method that changes a status is a conditional update: it
// applies only while the stored row still holds an expected status and
// returns errors.ErrConflict otherwise. Reads return errors.ErrNotFound.
package store

import (
	"context"
	"time"

	"rental-docflow/internal/models"
)

// Transactor runs fn in a unit of work. Nested calls join the outer one.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	// UpdateDocumentStatus sets the status only while it is one of from.
	UpdateDocumentStatus(ctx context.Context, id string, from []models.DocumentStatus, to models.DocumentStatus) error
	// UpdateDocumentExpiration moves the expiration only while it still equals expected.
	UpdateDocumentExpiration(ctx context.Context, id string, expected *time.Time, next time.Time) error
	ListDocumentsExpiringBefore(ctx context.Context, before time.Time) ([]models.Document, error)
}

type StepRepository interface {
	// CreateSteps inserts the whole ordered set. A document that already has
	// steps yields ErrConflict.
	CreateSteps(ctx context.Context, steps []models.WorkflowStep) error
	GetStep(ctx context.Context, id string) (*models.WorkflowStep, error)
	// ListSteps returns the document's steps ordered by position.
	ListSteps(ctx context.Context, documentID string) ([]models.WorkflowStep, error)
	// TransitionStep applies t and returns the updated step. ErrConflict means
	// the status moved; ErrStepOutOfOrder means an earlier step is unfinished.
	TransitionStep(ctx context.Context, t models.StepTransition) (*models.WorkflowStep, error)
	// AttachComplianceReport links a report to a step that is not terminal.
	AttachComplianceReport(ctx context.Context, stepID, reportID, note string) error
}

type VerificationRepository interface {
	CreateVerification(ctx context.Context, v *models.VerificationResult) error
	GetVerification(ctx context.Context, id string) (*models.VerificationResult, error)
	GetVerificationByExternalRef(ctx context.Context, ref string) (*models.VerificationResult, error)
	SetVerificationExternalRef(ctx context.Context, id, ref string) error
	// ResolveVerification moves a pending row to a terminal status.
	ResolveVerification(ctx context.Context, v *models.VerificationResult) error
	ListVerifications(ctx context.Context, documentID string) ([]models.VerificationResult, error)
}

type ComplianceRepository interface {
	CreateComplianceReport(ctx context.Context, r *models.ComplianceReport) error
	GetComplianceReport(ctx context.Context, id string) (*models.ComplianceReport, error)
	ListComplianceReports(ctx context.Context, documentID string) ([]models.ComplianceReport, error)
}

type SignatureRepository interface {
	// CreateSignatureRequest fails with ErrDuplicatePendingRequest when the
	// signer already has a pending request on the document.
	CreateSignatureRequest(ctx context.Context, r *models.SignatureRequest) error
	GetSignatureRequest(ctx context.Context, id string) (*models.SignatureRequest, error)
	// ResolveSignatureRequest moves a pending request to res.To. Signing and
	// declining also require ExpiresAt to be at or after res.ResolvedAt.
	ResolveSignatureRequest(ctx context.Context, res models.SignatureResolution) (*models.SignatureRequest, error)
	// ListSignatureRequests returns the document's requests oldest first.
	ListSignatureRequests(ctx context.Context, documentID string) ([]models.SignatureRequest, error)
	PendingSignatureRequest(ctx context.Context, documentID, signerID string) (*models.SignatureRequest, error)
}

type AuditRepository interface {
	AppendAudit(ctx context.Context, e *models.AuditLogEntry) error
	// ListAudit returns entries oldest first.
	ListAudit(ctx context.Context, documentID string) ([]models.AuditLogEntry, error)
}

// Store is the full persistence surface.
type Store interface {
	Transactor
	DocumentRepository
	StepRepository
	VerificationRepository
	ComplianceRepository
	SignatureRepository
	AuditRepository
}
