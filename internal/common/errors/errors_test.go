package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardError_IsMatchesByCode(t *testing.T) {
	err := NewStaleStepStateError("step-1", "expected in_progress")
	wrapped := fmt.Errorf("advance: %w", err)

	assert.True(t, stderrors.Is(wrapped, ErrStaleStepState))
	assert.False(t, stderrors.Is(wrapped, ErrAlreadyTerminal))
	assert.Equal(t, ErrCodeStaleStepState, CodeOf(wrapped))
	assert.Equal(t, "step-1", err.Metadata["stepId"])
}

func TestStandardError_UnwrapKeepsCause(t *testing.T) {
	cause := stderrors.New("dial tcp: connection refused")
	err := NewExternalServiceUnavailableError("verifier", cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, err.Retryable)
}

func TestAsStandard(t *testing.T) {
	assert.Nil(t, AsStandard(nil))

	plain := AsStandard(stderrors.New("boom"))
	require.NotNil(t, plain)
	assert.Equal(t, ErrCodeInternal, plain.Code)

	known := NewValidationError("reason is required")
	assert.Same(t, known, AsStandard(fmt.Errorf("wrap: %w", known)))
}

func TestConvertToBPMNError(t *testing.T) {
	tests := []struct {
		name        string
		err         *StandardError
		wantRetries int
	}{
		{"business error never retries", NewValidationError("bad"), 0},
		{"external outage retries", NewExternalServiceUnavailableError("classifier", stderrors.New("timeout")), 2},
		{"database retries", NewDatabaseError("insert", stderrors.New("conn reset")), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bpmn := ConvertToBPMNError(tt.err)
			assert.Equal(t, string(tt.err.Code), bpmn.Code)
			assert.Equal(t, tt.wantRetries, bpmn.Retries)

			vars := bpmn.ToErrorVariables()
			assert.Equal(t, string(tt.err.Code), vars["originalErrorCode"])
			assert.Equal(t, tt.err.Message, vars["errorMessage"])
		})
	}
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "CONCURRENCY", GetErrorCategory(ErrCodeStaleStepState))
	assert.Equal(t, "LIFECYCLE", GetErrorCategory(ErrCodeExpired))
	assert.Equal(t, "LIFECYCLE", GetErrorCategory(ErrCodeSignaturesIncomplete))
	assert.Equal(t, "EXTERNAL", GetErrorCategory(ErrCodeClassifierResponseInvalid))
	assert.Equal(t, "AUTHORIZATION", GetErrorCategory(ErrCodeAuthorizationDenied))
	assert.Equal(t, "DATABASE", GetErrorCategory(ErrCodeDatabase))
	assert.Equal(t, "OTHER", GetErrorCategory("SOMETHING_ELSE"))
}
