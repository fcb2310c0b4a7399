package workflow

import (
	"context"
	"errors"
	"fmt"

	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/metrics"
	"rental-docflow/internal/models"
)

const statusSyncAttempts = 3

// syncDocumentStatus writes the status derived from the steps with a
// conditional update, re-reading when another writer got there first.
func (o *Orchestrator) syncDocumentStatus(ctx context.Context, documentID, actorID string) error {
	for attempt := 0; attempt < statusSyncAttempts; attempt++ {
		doc, err := o.repo.GetDocument(ctx, documentID)
		if err != nil {
			return err
		}
		steps, err := o.repo.ListSteps(ctx, documentID)
		if err != nil {
			return err
		}

		target := models.DeriveDocumentStatus(steps)
		if doc.Status == target {
			return nil
		}
		// expiry is owned by the expiration tracker
		if doc.Status == models.DocumentStatusExpired && target == models.DocumentStatusApproved {
			return nil
		}

		err = o.repo.UpdateDocumentStatus(ctx, documentID, []models.DocumentStatus{doc.Status}, target)
		if err == nil {
			o.statusChanged(ctx, doc, target, actorID)
			return nil
		}
		if !errors.Is(err, apperr.ErrConflict) {
			return err
		}
		metrics.StaleTransitions.WithLabelValues("document").Inc()
	}
	return apperr.NewStaleStepStateError(documentID, fmt.Sprintf("document status kept changing after %d attempts", statusSyncAttempts))
}

func (o *Orchestrator) statusChanged(ctx context.Context, doc *models.Document, to models.DocumentStatus, actorID string) {
	o.publish(ctx, models.DocumentEvent{
		Type:       models.EventDocumentStatus,
		DocumentID: doc.ID,
		Status:     string(to),
		ActorID:    actorID,
		Data:       map[string]interface{}{"from": string(doc.Status)},
	})

	var (
		typ      models.NotificationType
		title    string
		message  string
		priority = models.PriorityNormal
	)
	switch to {
	case models.DocumentStatusApproved:
		typ, title = models.NotificationDocumentApproved, "Document approved"
		message = fmt.Sprintf("%s has completed every approval step.", docLabel(doc))
	case models.DocumentStatusRejected:
		typ, title = models.NotificationDocumentRejected, "Document rejected"
		message = fmt.Sprintf("%s was rejected during review.", docLabel(doc))
		priority = models.PriorityHigh
	default:
		return
	}

	o.notify(ctx, models.Notification{
		PropertyID: doc.PropertyID,
		DocumentID: doc.ID,
		Type:       typ,
		Title:      title,
		Message:    message,
		Priority:   priority,
	})
	if doc.TenantID != "" {
		o.notify(ctx, models.Notification{
			RecipientID: doc.TenantID,
			DocumentID:  doc.ID,
			Type:        typ,
			Title:       title,
			Message:     message,
			Priority:    priority,
		})
	}
}

func docLabel(doc *models.Document) string {
	if doc.Title != "" {
		return fmt.Sprintf("%q", doc.Title)
	}
	return "Your " + string(doc.Type)
}
