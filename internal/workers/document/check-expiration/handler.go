// internal/workers/document/check-expiration/handler.go
package checkexpiration

import (
	"context"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"rental-docflow/internal/common/camunda"
	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/expiration"
)

const (
	TaskType = "check-expiration"

	workerActor = "worker:" + TaskType
)

type Tracker interface {
	Refresh(ctx context.Context, documentID, actorID string) (*expiration.Evaluation, error)
	Sweep(ctx context.Context, actorID string) (*expiration.SweepResult, error)
}

// SignatureExpirer closes signature requests whose deadline has passed.
type SignatureExpirer interface {
	ExpireOverdue(ctx context.Context, documentID string) (int, error)
}

type Handler struct {
	config     *Config
	tracker    Tracker
	signatures SignatureExpirer
	errors     *apperr.ErrorHandler
	logger     logger.Logger
}

// NewHandler builds the handler. signatures may be nil.
func NewHandler(config *Config, tracker Tracker, signatures SignatureExpirer, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     config,
		tracker:    tracker,
		signatures: signatures,
		errors:     apperr.NewErrorHandler(log),
		logger:     log,
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
	actorID := input.ActorID
	if actorID == "" {
		actorID = workerActor
	}

	if input.DocumentID == "" {
		res, err := h.tracker.Sweep(ctx, actorID)
		if err != nil {
			return nil, err
		}
		return &Output{
			Checked:      res.Checked,
			Expired:      res.Expired,
			ExpiringSoon: res.ExpiringSoon,
			Failed:       res.Failed,
		}, nil
	}

	ev, err := h.tracker.Refresh(ctx, input.DocumentID, actorID)
	if err != nil {
		return nil, err
	}

	out := &Output{
		DocumentID:     input.DocumentID,
		ValidityStatus: string(ev.Status),
	}
	if ev.ExpirationDate != nil {
		days := ev.DaysRemaining
		out.DaysRemaining = &days
		out.ExpirationDate = ev.ExpirationDate.UTC().Format(time.RFC3339)
	}
	if ev.RenewalWindowStart != nil {
		out.RenewalOpens = ev.RenewalWindowStart.UTC().Format(time.RFC3339)
	}

	if h.signatures != nil {
		n, err := h.signatures.ExpireOverdue(ctx, input.DocumentID)
		if err != nil {
			return nil, err
		}
		out.SignaturesExpired = n
		if n > 0 {
			h.logger.Info("overdue signature requests expired", map[string]interface{}{
				"documentId": input.DocumentID,
				"count":      n,
			})
		}
	}
	return out, nil
}
