// internal/workers/document/verify-tenant/handler.go
package verifytenant

import (
	"context"
	"strings"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"rental-docflow/internal/common/camunda"
	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/models"
)

const (
	TaskType = "verify-tenant"
)

// StepVerifier starts the verification attached to a workflow step.
type StepVerifier interface {
	VerifyStep(ctx context.Context, stepID string, req models.VerificationRequest) (*models.VerificationResult, error)
}

type Handler struct {
	config   *Config
	verifier StepVerifier
	errors   *apperr.ErrorHandler
	logger   logger.Logger
}

func NewHandler(config *Config, verifier StepVerifier, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		verifier: verifier,
		errors:   apperr.NewErrorHandler(log),
		logger:   log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := camunda.DecodeVariables(job, &input); err != nil {
		h.errors.HandleJobError(ctx, client, job, err)
		return
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.errors.HandleJobError(ctx, client, job, err)
		return
	}

	if err := camunda.CompleteJob(ctx, client, job, output); err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err,
		})
	}
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if strings.TrimSpace(input.StepID) == "" {
		return nil, apperr.NewValidationError("stepId is required")
	}
	vt := input.VerificationType
	if vt == "" {
		vt = models.VerificationIdentity
	}
	if !vt.Valid() {
		return nil, apperr.NewValidationError("unknown verification type " + string(vt))
	}

	result, err := h.verifier.VerifyStep(ctx, input.StepID, models.VerificationRequest{
		DocumentID:  input.DocumentID,
		Type:        vt,
		Subject:     input.Subject,
		RequestedBy: input.RequestedBy,
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("verification started", map[string]interface{}{
		"verificationId": result.ID,
		"stepId":         input.StepID,
		"status":         result.Status,
	})

	return &Output{
		VerificationID:     result.ID,
		VerificationStatus: string(result.Status),
		ExternalRef:        result.ExternalRef,
		Note:               result.Note,
	}, nil
}
