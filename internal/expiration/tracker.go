package expiration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rental-docflow/internal/common/database"
	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/common/metrics"
	"rental-docflow/internal/models"
	"rental-docflow/internal/store"
)

const systemActor = "system"

type Repository interface {
	store.Transactor
	store.DocumentRepository
}

type AuditWriter interface {
	Record(ctx context.Context, documentID string, action models.AuditAction, actorID string, details map[string]interface{}) (*models.AuditLogEntry, error)
}

type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

type Publisher interface {
	Publish(ctx context.Context, event models.DocumentEvent) error
}

type Config struct {
	ExpiringSoonDays  int
	RenewalPeriodDays int
}

type Tracker struct {
	repo      Repository
	audit     AuditWriter
	notifier  Notifier
	publisher Publisher
	cfg       Config
	logger    logger.Logger
	now       func() time.Time
}

func NewTracker(repo Repository, audit AuditWriter, notifier Notifier, publisher Publisher, cfg Config, log logger.Logger) *Tracker {
	if cfg.ExpiringSoonDays <= 0 {
		cfg.ExpiringSoonDays = DefaultExpiringSoonDays
	}
	return &Tracker{
		repo:      repo,
		audit:     audit,
		notifier:  notifier,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.ForComponent(log, "expiration"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Check evaluates a document without changing it.
func (t *Tracker) Check(ctx context.Context, documentID string) (*Evaluation, error) {
	doc, err := t.repo.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	ev := t.evaluate(doc)
	return &ev, nil
}

func (t *Tracker) evaluate(doc *models.Document) Evaluation {
	ev := Evaluate(doc.ExpirationDate, t.now(), t.cfg.ExpiringSoonDays)
	ev.DocumentID = doc.ID
	metrics.ExpirationEvaluations.WithLabelValues(string(ev.Status)).Inc()
	return ev
}

// Refresh evaluates the document and marks an approved document expired once
// its expiration has passed.
func (t *Tracker) Refresh(ctx context.Context, documentID, actorID string) (*Evaluation, error) {
	if actorID == "" {
		actorID = systemActor
	}
	doc, err := t.repo.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	ev := t.evaluate(doc)
	if ev.Status != StatusExpired || doc.Status != models.DocumentStatusApproved {
		return &ev, nil
	}

	err = t.repo.WithinTx(ctx, func(ctx context.Context) error {
		err := t.repo.UpdateDocumentStatus(ctx, doc.ID,
			[]models.DocumentStatus{models.DocumentStatusApproved}, models.DocumentStatusExpired)
		if err != nil {
			return err
		}
		if _, err := t.audit.Record(ctx, doc.ID, models.AuditComment, actorID, map[string]interface{}{
			"expired":        true,
			"expirationDate": ev.ExpirationDate.Format(time.RFC3339),
		}); err != nil {
			return err
		}
		t.publish(ctx, models.DocumentEvent{
			Type:       models.EventDocumentStatus,
			DocumentID: doc.ID,
			Status:     string(models.DocumentStatusExpired),
			ActorID:    actorID,
			Data:       map[string]interface{}{"from": string(models.DocumentStatusApproved)},
		})
		t.notifyParties(ctx, doc, models.Notification{
			Type:     models.NotificationExpired,
			Title:    "Document expired",
			Message:  fmt.Sprintf("%s expired on %s and needs renewal.", label(doc), ev.ExpirationDate.Format("Jan 2, 2006")),
			Priority: models.PriorityHigh,
		})
		return nil
	})
	if errors.Is(err, apperr.ErrConflict) {
		// renewed or already expired by a concurrent caller
		metrics.StaleTransitions.WithLabelValues("document").Inc()
		return t.Check(ctx, documentID)
	}
	if err != nil {
		return nil, err
	}

	t.logger.Info("document expired", map[string]interface{}{
		"documentId":     doc.ID,
		"expirationDate": ev.ExpirationDate,
	})
	return &ev, nil
}

// Renew extends the expiration by periodDays from the previous boundary. A
// non-positive period uses the configured default. An expired document
// returns to approved.
func (t *Tracker) Renew(ctx context.Context, documentID, actorID string, periodDays int) (*models.Document, error) {
	if actorID == "" {
		return nil, apperr.NewValidationError("renewal needs an actor")
	}
	if periodDays <= 0 {
		periodDays = t.cfg.RenewalPeriodDays
	}
	if periodDays <= 0 {
		return nil, apperr.NewValidationError("renewal period must be positive")
	}

	var renewed *models.Document
	err := t.repo.WithinTx(ctx, func(ctx context.Context) error {
		doc, err := t.repo.GetDocument(ctx, documentID)
		if err != nil {
			return err
		}
		if doc.ExpirationDate == nil {
			return apperr.NewValidationError("document " + doc.ID + " has no expiration date")
		}
		if doc.Status.IsFinal() {
			return apperr.NewAlreadyTerminalError("document", doc.ID, string(doc.Status))
		}

		previous := *doc.ExpirationDate
		next := NextExpiration(previous, periodDays)
		if err := t.repo.UpdateDocumentExpiration(ctx, doc.ID, &previous, next); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				return apperr.NewStaleStepStateError(doc.ID, "expiration changed concurrently")
			}
			return err
		}

		from := doc.Status
		if doc.Status == models.DocumentStatusExpired {
			err := t.repo.UpdateDocumentStatus(ctx, doc.ID,
				[]models.DocumentStatus{models.DocumentStatusExpired}, models.DocumentStatusApproved)
			if err != nil {
				if errors.Is(err, apperr.ErrConflict) {
					return apperr.NewStaleStepStateError(doc.ID, "document status changed concurrently")
				}
				return err
			}
			doc.Status = models.DocumentStatusApproved
		}

		if _, err := t.audit.Record(ctx, doc.ID, models.AuditRenew, actorID, map[string]interface{}{
			"previousExpiration": previous.Format(time.RFC3339),
			"newExpiration":      next.Format(time.RFC3339),
			"periodDays":         periodDays,
		}); err != nil {
			return err
		}

		doc.ExpirationDate = &next
		renewed = doc

		t.publish(ctx, models.DocumentEvent{
			Type:       models.EventDocumentRenewed,
			DocumentID: doc.ID,
			Status:     string(doc.Status),
			ActorID:    actorID,
			Data: map[string]interface{}{
				"previousExpiration": previous.Format(time.RFC3339),
				"newExpiration":      next.Format(time.RFC3339),
			},
		})
		if from != doc.Status {
			t.publish(ctx, models.DocumentEvent{
				Type:       models.EventDocumentStatus,
				DocumentID: doc.ID,
				Status:     string(doc.Status),
				ActorID:    actorID,
				Data:       map[string]interface{}{"from": string(from)},
			})
		}
		t.notifyParties(ctx, doc, models.Notification{
			Type:     models.NotificationRenewed,
			Title:    "Document renewed",
			Message:  fmt.Sprintf("%s now expires on %s.", label(doc), next.Format("Jan 2, 2006")),
			Priority: models.PriorityNormal,
		})
		database.AfterCommit(ctx, func(context.Context) { metrics.Renewals.Inc() })
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("document renewed", map[string]interface{}{
		"documentId":     renewed.ID,
		"expirationDate": renewed.ExpirationDate,
		"periodDays":     periodDays,
	})
	return renewed, nil
}

// SweepResult summarises one pass over documents near or past expiration.
type SweepResult struct {
	Checked      int `json:"checked"`
	Expired      int `json:"expired"`
	ExpiringSoon int `json:"expiringSoon"`
	Failed       int `json:"failed"`
}

// Sweep refreshes every document inside the expiring-soon window and reminds
// the parties of those about to lapse. Per-document failures are logged and
// counted; the sweep continues.
func (t *Tracker) Sweep(ctx context.Context, actorID string) (*SweepResult, error) {
	horizon := t.now().AddDate(0, 0, t.cfg.ExpiringSoonDays)
	docs, err := t.repo.ListDocumentsExpiringBefore(ctx, horizon)
	if err != nil {
		return nil, err
	}

	res := &SweepResult{}
	for i := range docs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		doc := &docs[i]
		res.Checked++

		ev, err := t.Refresh(ctx, doc.ID, actorID)
		if err != nil {
			res.Failed++
			t.logger.Error("expiration refresh failed", map[string]interface{}{
				"documentId": doc.ID,
				"error":      err,
			})
			continue
		}

		switch ev.Status {
		case StatusExpired:
			res.Expired++
		case StatusExpiringSoon:
			res.ExpiringSoon++
			if doc.Status == models.DocumentStatusApproved {
				t.notifyParties(ctx, doc, models.Notification{
					Type:     models.NotificationExpiringSoon,
					Title:    "Document expiring soon",
					Message:  fmt.Sprintf("%s expires in %d days.", label(doc), ev.DaysRemaining),
					Priority: models.PriorityNormal,
				})
			}
		}
	}

	t.logger.Info("expiration sweep finished", map[string]interface{}{
		"checked":      res.Checked,
		"expired":      res.Expired,
		"expiringSoon": res.ExpiringSoon,
		"failed":       res.Failed,
	})
	return res, nil
}

func (t *Tracker) publish(ctx context.Context, event models.DocumentEvent) {
	if t.publisher == nil {
		return
	}
	event.OccurredAt = t.now()
	database.AfterCommit(ctx, func(ctx context.Context) {
		if err := t.publisher.Publish(ctx, event); err != nil {
			t.logger.Warn("failed to publish expiration event", map[string]interface{}{
				"type":       event.Type,
				"documentId": event.DocumentID,
				"error":      err,
			})
		}
	})
}

// notifyParties sends n to the property's landlord and to the tenant.
func (t *Tracker) notifyParties(ctx context.Context, doc *models.Document, n models.Notification) {
	if t.notifier == nil {
		return
	}
	n.DocumentID = doc.ID
	recipients := []models.Notification{n}
	recipients[0].PropertyID = doc.PropertyID
	if doc.TenantID != "" {
		tenant := n
		tenant.RecipientID = doc.TenantID
		recipients = append(recipients, tenant)
	}

	database.AfterCommit(ctx, func(ctx context.Context) {
		for _, r := range recipients {
			if err := t.notifier.Notify(ctx, r); err != nil {
				t.logger.Warn("expiration notification failed", map[string]interface{}{
					"type":       r.Type,
					"documentId": r.DocumentID,
					"error":      err,
				})
			}
		}
	})
}

func label(doc *models.Document) string {
	if doc.Title != "" {
		return fmt.Sprintf("%q", doc.Title)
	}
	return "Your " + string(doc.Type)
}
