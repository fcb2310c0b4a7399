// internal/models/workflow.go
package models

import "time"

// StepName identifies a workflow stage. The set is open; these are the stages of
// the default lease pipeline.
type StepName string

const (
	StepUpload             StepName = "upload"
	StepTenantVerification StepName = "tenant_verification"
	StepLegalReview        StepName = "legal_review"
	StepLandlordApproval   StepName = "landlord_approval"
)

type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusRejected   StepStatus = "rejected"
)

// IsTerminal reports whether the step can no longer be advanced.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusRejected
}

type WorkflowStep struct {
	ID                 string     `json:"id"`
	DocumentID         string     `json:"documentId"`
	Position           int        `json:"position"`
	Name               StepName   `json:"name"`
	Status             StepStatus `json:"status"`
	AssigneeID         string     `json:"assigneeId,omitempty"`
	DueDate            *time.Time `json:"dueDate,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	RequiresValidation bool       `json:"requiresValidation"`
	AwaitsSignatures   bool       `json:"awaitsSignatures"`
	ComplianceReportID string     `json:"complianceReportId,omitempty"`
	Note               string     `json:"note,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// StepTransition is a conditional update on a step: it applies only while the
// stored status is one of From.
type StepTransition struct {
	StepID      string
	From        []StepStatus
	To          StepStatus
	CompletedAt *time.Time
	Note        string
	// RequireCompletedPredecessors makes the store verify, inside the same
	// statement, that every lower-positioned step of the document is completed.
	RequireCompletedPredecessors bool
}

// DeriveDocumentStatus computes the aggregate status from the ordered steps.
// A rejected step wins; all completed means approved; otherwise the first
// unfinished step decides.
func DeriveDocumentStatus(steps []WorkflowStep) DocumentStatus {
	if len(steps) == 0 {
		return DocumentStatusDraft
	}
	for _, s := range steps {
		if s.Status == StepStatusRejected {
			return DocumentStatusRejected
		}
	}
	for _, s := range steps {
		if s.Status == StepStatusCompleted {
			continue
		}
		if s.AwaitsSignatures {
			if s.Status == StepStatusInProgress {
				return DocumentStatusSigned
			}
			return DocumentStatusPendingSignature
		}
		switch s.Name {
		case StepUpload:
			return DocumentStatusDraft
		case StepTenantVerification:
			return DocumentStatusPendingVerification
		case StepLandlordApproval:
			return DocumentStatusPendingSignature
		default:
			return DocumentStatusPendingValidation
		}
	}
	return DocumentStatusApproved
}
