// internal/workers/document/validate-compliance/handler.go
package validatecompliance

import (
	"context"
	"strings"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"rental-docflow/internal/common/camunda"
	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/models"
	"rental-docflow/internal/workflow"
)

const (
	TaskType = "validate-compliance"

	workerActor = "worker:" + TaskType
)

// Orchestrator is the workflow surface the worker drives.
type Orchestrator interface {
	ValidateStep(ctx context.Context, stepID, actorID string) (*models.ComplianceReport, error)
	Advance(ctx context.Context, stepID string, outcome workflow.Outcome) (*models.WorkflowStep, error)
}

type StepReader interface {
	GetStep(ctx context.Context, id string) (*models.WorkflowStep, error)
}

type Handler struct {
	config *Config
	orch   Orchestrator
	steps  StepReader
	errors *apperr.ErrorHandler
	logger logger.Logger
}

func NewHandler(config *Config, orch Orchestrator, steps StepReader, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config: config,
		orch:   orch,
		steps:  steps,
		errors: apperr.NewErrorHandler(log),
		logger: log,
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
	actorID := input.ActorID
	if actorID == "" {
		actorID = workerActor
	}

	report, err := h.orch.ValidateStep(ctx, input.StepID, actorID)
	if err != nil {
		return nil, err
	}

	autoAdvance := h.config.AutoAdvance
	if input.AutoAdvance != nil {
		autoAdvance = *input.AutoAdvance
	}

	var step *models.WorkflowStep
	if report.IsValid && autoAdvance {
		step, err = h.orch.Advance(ctx, input.StepID, workflow.Outcome{
			Kind:    workflow.OutcomeCompliance,
			ActorID: actorID,
			Report:  report,
		})
		if err != nil {
			return nil, err
		}
	} else {
		step, err = h.steps.GetStep(ctx, input.StepID)
		if err != nil {
			return nil, err
		}
	}

	h.logger.Info("compliance validated", map[string]interface{}{
		"reportId":   report.ID,
		"stepId":     input.StepID,
		"isValid":    report.IsValid,
		"issueCount": len(report.Issues),
		"stepStatus": step.Status,
	})

	issues := report.Issues
	if issues == nil {
		issues = []string{}
	}
	return &Output{
		ReportID:   report.ID,
		IsValid:    report.IsValid,
		RiskLevel:  string(report.RiskLevel),
		Issues:     issues,
		StepStatus: string(step.Status),
	}, nil
}
