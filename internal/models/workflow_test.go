package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func leaseSteps(statuses ...StepStatus) []WorkflowStep {
	names := []StepName{StepUpload, StepTenantVerification, StepLegalReview, StepLandlordApproval}
	steps := make([]WorkflowStep, len(statuses))
	for i, st := range statuses {
		steps[i] = WorkflowStep{
			Position:           i,
			Name:               names[i],
			Status:             st,
			RequiresValidation: names[i] == StepLegalReview,
			AwaitsSignatures:   names[i] == StepLandlordApproval,
		}
	}
	return steps
}

func TestDeriveDocumentStatus(t *testing.T) {
	tests := []struct {
		name  string
		steps []WorkflowStep
		want  DocumentStatus
	}{
		{"no steps", nil, DocumentStatusDraft},
		{
			"upload in progress",
			leaseSteps(StepStatusInProgress, StepStatusPending, StepStatusPending, StepStatusPending),
			DocumentStatusDraft,
		},
		{
			"verification pending",
			leaseSteps(StepStatusCompleted, StepStatusInProgress, StepStatusPending, StepStatusPending),
			DocumentStatusPendingVerification,
		},
		{
			"legal review pending",
			leaseSteps(StepStatusCompleted, StepStatusCompleted, StepStatusPending, StepStatusPending),
			DocumentStatusPendingValidation,
		},
		{
			"waiting for signatures",
			leaseSteps(StepStatusCompleted, StepStatusCompleted, StepStatusCompleted, StepStatusPending),
			DocumentStatusPendingSignature,
		},
		{
			"all signed, approval in progress",
			leaseSteps(StepStatusCompleted, StepStatusCompleted, StepStatusCompleted, StepStatusInProgress),
			DocumentStatusSigned,
		},
		{
			"all completed",
			leaseSteps(StepStatusCompleted, StepStatusCompleted, StepStatusCompleted, StepStatusCompleted),
			DocumentStatusApproved,
		},
		{
			"rejection wins over later pending steps",
			leaseSteps(StepStatusCompleted, StepStatusRejected, StepStatusPending, StepStatusPending),
			DocumentStatusRejected,
		},
		{
			"custom step name",
			[]WorkflowStep{{Name: "insurance_check", Status: StepStatusPending}},
			DocumentStatusPendingValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveDocumentStatus(tt.steps))
		})
	}
}

func TestApprovedImpliesAllCompleted(t *testing.T) {
	all := []StepStatus{StepStatusPending, StepStatusInProgress, StepStatusCompleted, StepStatusRejected}
	for _, a := range all {
		for _, b := range all {
			for _, c := range all {
				steps := leaseSteps(StepStatusCompleted, a, b, c)
				if DeriveDocumentStatus(steps) != DocumentStatusApproved {
					continue
				}
				for _, s := range steps {
					assert.Equal(t, StepStatusCompleted, s.Status)
				}
			}
		}
	}
}

func TestSignatureRequestPastDue(t *testing.T) {
	req := SignatureRequest{Status: SignaturePending}
	req.ExpiresAt = req.CreatedAt.AddDate(0, 0, 7)

	assert.False(t, req.PastDue(req.ExpiresAt))
	assert.True(t, req.PastDue(req.ExpiresAt.Add(1)))

	req.Status = SignatureSigned
	assert.False(t, req.PastDue(req.ExpiresAt.Add(1)))
	assert.True(t, req.Status.IsTerminal())
}
