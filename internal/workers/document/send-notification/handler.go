// internal/workers/document/send-notification/handler.go
package sendnotification

import (
	"context"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"rental-docflow/internal/common/camunda"
	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/models"
	"rental-docflow/internal/notify"
)

const (
	TaskType = "send-notification"
)

type Deliverer interface {
	Deliver(ctx context.Context, n models.Notification) (*notify.Delivery, error)
}

type Handler struct {
	config *Config
	sink   Deliverer
	errors *apperr.ErrorHandler
	logger logger.Logger
}

func NewHandler(config *Config, sink Deliverer, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config: config,
		sink:   sink,
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

// execute delivers the notification. Channel failures complete the job with
// status "failed"; only an unusable request or a lookup failure fails it.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	n := models.Notification{
		RecipientID: input.RecipientID,
		PropertyID:  input.PropertyID,
		DocumentID:  input.DocumentID,
		Type:        input.NotificationType,
		Title:       input.Title,
		Message:     input.Message,
		Priority:    input.Priority,
	}

	if tmpl, ok := templates[input.NotificationType]; ok {
		data := map[string]interface{}{
			"documentId":   input.DocumentID,
			"documentName": "your document",
		}
		for k, v := range input.Metadata {
			data[k] = v
		}
		if n.Title == "" {
			n.Title = renderTemplate(tmpl.title, data)
		}
		if n.Message == "" {
			n.Message = renderTemplate(tmpl.body, data)
		}
	}

	d, err := h.sink.Deliver(ctx, n)
	if err != nil {
		return nil, err
	}

	channels := d.Channels
	if channels == nil {
		channels = []string{}
	}
	return &Output{
		NotificationID: d.NotificationID,
		Status:         d.Status,
		Channels:       channels,
		SentAt:         d.SentAt,
	}, nil
}
