package workflow

import (
	"fmt"
	"strings"
	"time"

	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/models"
)

// StepDefinition describes one stage of a document's pipeline.
type StepDefinition struct {
	Name               models.StepName `json:"name"`
	AssigneeID         string          `json:"assigneeId,omitempty"`
	DueIn              time.Duration   `json:"dueIn,omitempty"`
	RequiresValidation bool            `json:"requiresValidation,omitempty"`
	AwaitsSignatures   bool            `json:"awaitsSignatures,omitempty"`
}

// DefaultLeasePipeline is upload, tenant verification, legal review and
// landlord approval. Legal review needs a compliance report and landlord
// approval waits for every signature.
func DefaultLeasePipeline(landlordID string) []StepDefinition {
	return []StepDefinition{
		{Name: models.StepUpload},
		{Name: models.StepTenantVerification, DueIn: 7 * 24 * time.Hour},
		{Name: models.StepLegalReview, RequiresValidation: true, DueIn: 3 * 24 * time.Hour},
		{Name: models.StepLandlordApproval, AssigneeID: landlordID, AwaitsSignatures: true},
	}
}

func validateDefinitions(defs []StepDefinition) error {
	if len(defs) == 0 {
		return apperr.NewValidationError("a workflow needs at least one step")
	}
	seen := make(map[models.StepName]bool, len(defs))
	for i, d := range defs {
		name := models.StepName(strings.TrimSpace(string(d.Name)))
		if name == "" {
			return apperr.NewValidationError(fmt.Sprintf("step %d has no name", i))
		}
		if seen[name] {
			return apperr.NewValidationError(fmt.Sprintf("step %q appears twice", name))
		}
		if d.DueIn < 0 {
			return apperr.NewValidationError(fmt.Sprintf("step %q has a negative due interval", name))
		}
		seen[name] = true
	}
	return nil
}

// OutcomeKind says which component produced an outcome.
type OutcomeKind string

const (
	OutcomeApprove      OutcomeKind = "approve"
	OutcomeReject       OutcomeKind = "reject"
	OutcomeVerification OutcomeKind = "verification"
	OutcomeCompliance   OutcomeKind = "compliance"
)

// Outcome is the input to Advance.
type Outcome struct {
	Kind    OutcomeKind `json:"kind"`
	ActorID string      `json:"actorId"`
	Reason  string      `json:"reason,omitempty"`
	// Override approves a validation step despite a missing or invalid
	// compliance report. Reason is then mandatory and audited.
	Override     bool                       `json:"override,omitempty"`
	Verification *models.VerificationResult `json:"verification,omitempty"`
	Report       *models.ComplianceReport   `json:"report,omitempty"`
}

func (o Outcome) validate() error {
	if strings.TrimSpace(o.ActorID) == "" {
		return apperr.NewValidationError("outcome needs an actor")
	}
	switch o.Kind {
	case OutcomeApprove:
		if o.Override && strings.TrimSpace(o.Reason) == "" {
			return apperr.NewValidationError("an override needs a reason")
		}
	case OutcomeReject:
		if strings.TrimSpace(o.Reason) == "" {
			return apperr.NewValidationError("a reason is required to reject")
		}
	case OutcomeVerification:
		if o.Verification == nil || !o.Verification.Status.IsTerminal() {
			return apperr.NewValidationError("verification outcome needs a finished verification")
		}
	case OutcomeCompliance:
		if o.Report == nil || strings.TrimSpace(o.Report.ID) == "" {
			return apperr.NewValidationError("compliance outcome needs a stored report")
		}
	default:
		return apperr.NewValidationError(fmt.Sprintf("unknown outcome kind %q", o.Kind))
	}
	return nil
}

// Status is a read model of a document's workflow.
type Status struct {
	Document *models.Document      `json:"document"`
	Steps    []models.WorkflowStep `json:"steps"`
	Current  *models.WorkflowStep  `json:"current,omitempty"`
}

func currentStep(steps []models.WorkflowStep) *models.WorkflowStep {
	for i := range steps {
		if !steps[i].Status.IsTerminal() {
			s := steps[i]
			return &s
		}
		if steps[i].Status == models.StepStatusRejected {
			return nil
		}
	}
	return nil
}
