// internal/workers/document/verify-tenant/handler_test.go
package verifytenant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/models"
)

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) VerifyStep(ctx context.Context, stepID string, req models.VerificationRequest) (*models.VerificationResult, error) {
	args := m.Called(ctx, stepID, req)
	r, _ := args.Get(0).(*models.VerificationResult)
	return r, args.Error(1)
}

func newTestHandler(t *testing.T) (*Handler, *mockVerifier) {
	v := new(mockVerifier)
	return NewHandler(&Config{Timeout: 5 * time.Second}, v, logger.NewTestLogger(t)), v
}

func TestHandler_Execute_Success(t *testing.T) {
	h, v := newTestHandler(t)

	v.On("VerifyStep", mock.Anything, "step-2", mock.MatchedBy(func(req models.VerificationRequest) bool {
		return req.Type == models.VerificationIdentity &&
			req.DocumentID == "doc-1" &&
			req.Subject.LastName == "Tenant" &&
			req.RequestedBy == "landlord-1"
	})).Return(&models.VerificationResult{
		ID:          "ver-1",
		Status:      models.VerificationPending,
		ExternalRef: "bg-991",
	}, nil)

	out, err := h.execute(context.Background(), &Input{
		DocumentID:  "doc-1",
		StepID:      "step-2",
		Subject:     models.VerificationSubject{FirstName: "Terry", LastName: "Tenant"},
		RequestedBy: "landlord-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ver-1", out.VerificationID)
	assert.Equal(t, "pending", out.VerificationStatus)
	assert.Equal(t, "bg-991", out.ExternalRef)
	v.AssertExpectations(t)
}

func TestHandler_Execute_SubmissionFailureIsReported(t *testing.T) {
	h, v := newTestHandler(t)
	v.On("VerifyStep", mock.Anything, "step-2", mock.Anything).Return(&models.VerificationResult{
		ID:     "ver-2",
		Status: models.VerificationFailed,
		Note:   "verifier unavailable",
	}, nil)

	out, err := h.execute(context.Background(), &Input{StepID: "step-2", VerificationType: models.VerificationIncome})
	require.NoError(t, err)
	assert.Equal(t, "failed", out.VerificationStatus)
	assert.Equal(t, "verifier unavailable", out.Note)
}

func TestHandler_Execute_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input *Input
		err   error
	}{
		{"missing step", &Input{DocumentID: "doc-1"}, apperr.ErrValidation},
		{"unknown type", &Input{StepID: "step-2", VerificationType: "credit_score"}, apperr.ErrValidation},
		{"step out of order", &Input{StepID: "step-3"}, apperr.ErrStepOutOfOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, v := newTestHandler(t)
			v.On("VerifyStep", mock.Anything, "step-3", mock.Anything).
				Return(nil, apperr.NewStepOutOfOrderError("step-3", "upload"))

			_, err := h.execute(context.Background(), tt.input)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
