// internal/common/camunda/worker.go
package camunda

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/common/validation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// JobHandlerFunc is the signature Zeebe job workers dispatch to.
type JobHandlerFunc func(client worker.JobClient, job entities.Job)

// WorkerOptions configures one job worker.
type WorkerOptions struct {
	TaskType      string
	MaxJobsActive int
	Timeout       time.Duration
	// InputSchema, when set, is checked before the handler runs; a mismatch
	// throws a VALIDATION_ERROR BPMN error without invoking the handler.
	InputSchema string
}

// StartWorker opens a job worker for opts.TaskType.
func StartWorker(client zbc.Client, opts WorkerOptions, handler JobHandlerFunc, log logger.Logger) worker.JobWorker {
	errHandler := apperr.NewErrorHandler(log)
	wrapped := handler
	if opts.InputSchema != "" {
		wrapped = func(jc worker.JobClient, job entities.Job) {
			result, err := validation.ValidateJSON(opts.InputSchema, []byte(job.Variables))
			if err != nil {
				errHandler.HandleJobError(context.Background(), jc, job, apperr.NewInputParsingError(err))
				return
			}
			if !result.Valid {
				errHandler.HandleJobError(context.Background(), jc, job, apperr.NewValidationError(result.Summary()))
				return
			}
			handler(jc, job)
		}
	}

	w := client.NewJobWorker().
		JobType(opts.TaskType).
		Handler(worker.JobHandler(wrapped)).
		MaxJobsActive(opts.MaxJobsActive).
		Timeout(opts.Timeout).
		Name(opts.TaskType).
		Open()

	log.Info("Worker started", map[string]interface{}{
		"taskType":      opts.TaskType,
		"maxJobsActive": opts.MaxJobsActive,
		"timeout":       opts.Timeout.String(),
	})
	return w
}

// DecodeVariables unmarshals job variables into dest.
func DecodeVariables(job entities.Job, dest interface{}) error {
	if err := json.Unmarshal([]byte(job.Variables), dest); err != nil {
		return apperr.NewInputParsingError(err)
	}
	return nil
}

// CompleteJob completes job with output as process variables.
func CompleteJob(ctx context.Context, client worker.JobClient, job entities.Job, output interface{}) error {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		return fmt.Errorf("build complete command for job %d: %w", job.Key, err)
	}
	if _, err := cmd.Send(ctx); err != nil {
		return fmt.Errorf("complete job %d: %w", job.Key, err)
	}
	return nil
}
