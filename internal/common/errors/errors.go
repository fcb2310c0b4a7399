// Package errors provides the standardized error taxonomy shared by the document
// engine and its Zeebe job workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Input / authorization
const (
	ErrCodeValidation          ErrorCode = "VALIDATION_ERROR"
	ErrCodeAuthorizationDenied ErrorCode = "AUTHORIZATION_DENIED"
	ErrCodeUnknownPermission   ErrorCode = "UNKNOWN_PERMISSION"
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
)

// Concurrency / lifecycle
const (
	ErrCodeStaleStepState          ErrorCode = "STALE_STEP_STATE"
	ErrCodeAlreadyTerminal         ErrorCode = "ALREADY_TERMINAL"
	ErrCodeExpired                 ErrorCode = "EXPIRED"
	ErrCodeDuplicatePendingRequest ErrorCode = "DUPLICATE_PENDING_REQUEST"
	ErrCodeAlreadyStarted          ErrorCode = "ALREADY_STARTED"
	ErrCodeStepOutOfOrder          ErrorCode = "STEP_OUT_OF_ORDER"
	ErrCodeComplianceBlocked       ErrorCode = "COMPLIANCE_BLOCKED"
	ErrCodeSignaturesIncomplete    ErrorCode = "SIGNATURES_INCOMPLETE"
	ErrCodeConflict                ErrorCode = "CONFLICT"
)

// External services / infrastructure
const (
	ErrCodeClassifierResponseInvalid  ErrorCode = "CLASSIFIER_RESPONSE_INVALID"
	ErrCodeExternalServiceUnavailable ErrorCode = "EXTERNAL_SERVICE_UNAVAILABLE"
	ErrCodeNotificationSendFailed     ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeDatabase                   ErrorCode = "DATABASE_ERROR"
	ErrCodeInputParsingFailed         ErrorCode = "INPUT_PARSING_FAILED"
	ErrCodeInternal                   ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is matches any StandardError carrying the same code, so sentinels below work
// with errors.Is regardless of message or details.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata attaches a key to the error metadata and returns the error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation                 = &StandardError{Code: ErrCodeValidation}
	ErrAuthorizationDenied        = &StandardError{Code: ErrCodeAuthorizationDenied}
	ErrUnknownPermission          = &StandardError{Code: ErrCodeUnknownPermission}
	ErrNotFound                   = &StandardError{Code: ErrCodeNotFound}
	ErrStaleStepState             = &StandardError{Code: ErrCodeStaleStepState}
	ErrAlreadyTerminal            = &StandardError{Code: ErrCodeAlreadyTerminal}
	ErrExpired                    = &StandardError{Code: ErrCodeExpired}
	ErrDuplicatePendingRequest    = &StandardError{Code: ErrCodeDuplicatePendingRequest}
	ErrAlreadyStarted             = &StandardError{Code: ErrCodeAlreadyStarted}
	ErrStepOutOfOrder             = &StandardError{Code: ErrCodeStepOutOfOrder}
	ErrComplianceBlocked          = &StandardError{Code: ErrCodeComplianceBlocked}
	ErrSignaturesIncomplete       = &StandardError{Code: ErrCodeSignaturesIncomplete}
	ErrConflict                   = &StandardError{Code: ErrCodeConflict}
	ErrClassifierResponseInvalid  = &StandardError{Code: ErrCodeClassifierResponseInvalid}
	ErrExternalServiceUnavailable = &StandardError{Code: ErrCodeExternalServiceUnavailable}
	ErrDatabase                   = &StandardError{Code: ErrCodeDatabase}
)

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationError reports malformed caller input.
func NewValidationError(details string) *StandardError {
	return newError(ErrCodeValidation, "Validation failed", details, false)
}

// NewAuthorizationDeniedError reports a negative permission check.
func NewAuthorizationDeniedError(actorID, action, resource string) *StandardError {
	return newError(ErrCodeAuthorizationDenied, "Authorization denied",
		fmt.Sprintf("actor %s may not %s %s", actorID, action, resource), false).
		WithMetadata("actorId", actorID)
}

// NewUnknownPermissionError reports an action/resource pair absent from every role table.
func NewUnknownPermissionError(action, resource string) *StandardError {
	return newError(ErrCodeUnknownPermission, "Unknown permission",
		fmt.Sprintf("action=%s resource=%s", action, resource), false)
}

func NewNotFoundError(entity, id string) *StandardError {
	return newError(ErrCodeNotFound, fmt.Sprintf("%s not found", entity), fmt.Sprintf("id: %s", id), false)
}

// NewStaleStepStateError reports a lost compare-and-swap on a workflow step.
func NewStaleStepStateError(stepID string, details string) *StandardError {
	return newError(ErrCodeStaleStepState, "Workflow step state changed concurrently", details, false).
		WithMetadata("stepId", stepID)
}

func NewAlreadyTerminalError(entity, id, status string) *StandardError {
	return newError(ErrCodeAlreadyTerminal, fmt.Sprintf("%s is already terminal", entity),
		fmt.Sprintf("id: %s, status: %s", id, status), false)
}

func NewExpiredError(entity, id string, expiredAt time.Time) *StandardError {
	return newError(ErrCodeExpired, fmt.Sprintf("%s has expired", entity),
		fmt.Sprintf("id: %s, expiresAt: %s", id, expiredAt.UTC().Format(time.RFC3339)), false)
}

func NewDuplicatePendingRequestError(documentID, signerID string) *StandardError {
	return newError(ErrCodeDuplicatePendingRequest, "A pending signature request already exists",
		fmt.Sprintf("documentId: %s, signerId: %s", documentID, signerID), false)
}

func NewAlreadyStartedError(documentID string) *StandardError {
	return newError(ErrCodeAlreadyStarted, "Workflow already started",
		fmt.Sprintf("documentId: %s", documentID), false)
}

func NewStepOutOfOrderError(stepID string, blockedBy string) *StandardError {
	return newError(ErrCodeStepOutOfOrder, "Earlier workflow step is not completed",
		fmt.Sprintf("stepId: %s, blockedBy: %s", stepID, blockedBy), false)
}

func NewComplianceBlockedError(stepID, details string) *StandardError {
	return newError(ErrCodeComplianceBlocked, "Compliance report blocks approval", details, false).
		WithMetadata("stepId", stepID)
}

func NewSignaturesIncompleteError(stepID, documentID string) *StandardError {
	return newError(ErrCodeSignaturesIncomplete, "Document is not signed by every signer",
		fmt.Sprintf("stepId: %s, documentId: %s", stepID, documentID), false)
}

// NewConflictError is returned by stores when a conditional update matched no row.
func NewConflictError(entity, id string) *StandardError {
	return newError(ErrCodeConflict, fmt.Sprintf("%s was modified concurrently", entity),
		fmt.Sprintf("id: %s", id), false)
}

func NewClassifierResponseInvalidError(details string) *StandardError {
	return newError(ErrCodeClassifierResponseInvalid, "Classifier response did not match the expected shape", details, false)
}

func NewExternalServiceUnavailableError(service string, err error) *StandardError {
	e := newError(ErrCodeExternalServiceUnavailable, fmt.Sprintf("External service '%s' unavailable", service), err.Error(), true)
	e.cause = err
	return e
}

func NewNotificationSendFailedError(channel string, err error) *StandardError {
	e := newError(ErrCodeNotificationSendFailed, "Notification delivery failed",
		fmt.Sprintf("channel: %s, error: %s", channel, err.Error()), true)
	e.cause = err
	return e
}

func NewDatabaseError(op string, err error) *StandardError {
	e := newError(ErrCodeDatabase, "Database operation failed", fmt.Sprintf("op: %s, error: %s", op, err.Error()), true)
	e.cause = err
	return e
}

func NewInputParsingError(err error) *StandardError {
	e := newError(ErrCodeInputParsingFailed, "Failed to parse job variables", err.Error(), false)
	e.cause = err
	return e
}

func NewInternalError(err error) *StandardError {
	e := newError(ErrCodeInternal, "Unexpected error", err.Error(), false)
	e.cause = err
	return e
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the recommended job retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabase,
		ErrCodeNotificationSendFailed:
		return 3

	case ErrCodeExternalServiceUnavailable:
		return 2

	default:
		return 0 // business errors surface to the process as BPMN errors
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// AsStandard unwraps err into a StandardError, wrapping unknown errors as internal.
func AsStandard(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}

// CodeOf returns the code of the first StandardError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeValidation, ErrCodeInputParsingFailed, ErrCodeNotFound:
		return "INPUT"
	case ErrCodeAuthorizationDenied, ErrCodeUnknownPermission:
		return "AUTHORIZATION"
	case ErrCodeStaleStepState, ErrCodeConflict, ErrCodeAlreadyTerminal:
		return "CONCURRENCY"
	case ErrCodeExpired, ErrCodeDuplicatePendingRequest, ErrCodeAlreadyStarted,
		ErrCodeStepOutOfOrder, ErrCodeComplianceBlocked, ErrCodeSignaturesIncomplete:
		return "LIFECYCLE"
	case ErrCodeClassifierResponseInvalid, ErrCodeExternalServiceUnavailable, ErrCodeNotificationSendFailed:
		return "EXTERNAL"
	}
	if strings.Contains(string(code), "DATABASE") {
		return "DATABASE"
	}
	return "OTHER"
}
