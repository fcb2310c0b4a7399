// internal/workers/document/request-signatures/handler.go
package requestsignatures

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"golang.org/x/sync/errgroup"

	"rental-docflow/internal/common/camunda"
	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/models"
	"rental-docflow/internal/signature"
)

const (
	TaskType = "request-signatures"
)

type Coordinator interface {
	Create(ctx context.Context, req signature.CreateRequest) (*models.SignatureRequest, error)
}

type Handler struct {
	config      *Config
	coordinator Coordinator
	errors      *apperr.ErrorHandler
	logger      logger.Logger
}

func NewHandler(config *Config, coordinator Coordinator, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:      config,
		coordinator: coordinator,
		errors:      apperr.NewErrorHandler(log),
		logger:      log,
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

// execute opens one request per signer. A signer who already holds a pending
// request is reported, not failed, so a retried job is idempotent.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if strings.TrimSpace(input.DocumentID) == "" {
		return nil, apperr.NewValidationError("documentId is required")
	}
	if len(input.Signers) == 0 {
		return nil, apperr.NewValidationError("at least one signer is required")
	}
	seen := make(map[string]bool, len(input.Signers))
	for _, s := range input.Signers {
		if s.SignerID == "" {
			return nil, apperr.NewValidationError("every signer needs a signerId")
		}
		if seen[s.SignerID] {
			return nil, apperr.NewValidationError("signer " + s.SignerID + " is listed twice")
		}
		seen[s.SignerID] = true
	}

	results := make([]Request, len(input.Signers))
	g, gctx := errgroup.WithContext(ctx)
	if h.config.Concurrency > 0 {
		g.SetLimit(h.config.Concurrency)
	}
	for i, s := range input.Signers {
		g.Go(func() error {
			req, err := h.coordinator.Create(gctx, signature.CreateRequest{
				DocumentID:    input.DocumentID,
				SignerID:      s.SignerID,
				Role:          s.Role,
				ExpiresInDays: input.ExpiresInDays,
				RequestedBy:   input.RequestedBy,
			})
			if errors.Is(err, apperr.ErrDuplicatePendingRequest) {
				results[i] = Request{SignerID: s.SignerID, Status: StatusAlreadyPending}
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = Request{
				RequestID: req.ID,
				SignerID:  req.SignerID,
				Status:    string(req.Status),
				ExpiresAt: req.ExpiresAt.UTC().Format(time.RFC3339),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	created := 0
	for _, r := range results {
		if r.Status != StatusAlreadyPending {
			created++
		}
	}
	h.logger.Info("signatures requested", map[string]interface{}{
		"documentId": input.DocumentID,
		"created":    created,
		"signers":    len(results),
	})

	return &Output{DocumentID: input.DocumentID, Requests: results, Created: created}, nil
}
