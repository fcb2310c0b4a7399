// Package signature collects landlord and tenant signatures on a document.
//
// A request moves from pending to exactly one of signed, declined or expired.
// Expiry is checked lazily on every access, so a request is never signed after
// its deadline whether or not the expiration sweep has run.
package signature

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rental-docflow/internal/common/database"
	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/common/metrics"
	"rental-docflow/internal/models"
	"rental-docflow/internal/store"
)

const DefaultExpiryDays = 7

type Repository interface {
	store.Transactor
	store.SignatureRepository
	GetDocument(ctx context.Context, id string) (*models.Document, error)
}

// AuditWriter appends to the document's audit log in the caller's transaction.
type AuditWriter interface {
	Record(ctx context.Context, documentID string, action models.AuditAction, actorID string, details map[string]interface{}) (*models.AuditLogEntry, error)
}

// Listener is told, inside the signing transaction, that every signer of a
// document has signed.
type Listener interface {
	OnSignaturesComplete(ctx context.Context, documentID, actorID string) error
}

type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

type Publisher interface {
	Publish(ctx context.Context, event models.DocumentEvent) error
}

type CreateRequest struct {
	DocumentID    string            `json:"documentId"`
	SignerID      string            `json:"signerId"`
	Role          models.SignerRole `json:"role"`
	ExpiresInDays int               `json:"expiresInDays,omitempty"`
	RequestedBy   string            `json:"requestedBy,omitempty"`
}

// Evidence is what the signer's client submits.
type Evidence struct {
	IPAddress      string `json:"ipAddress"`
	UserAgent      string `json:"userAgent"`
	SignatureImage string `json:"signatureImage,omitempty"`
	TypedName      string `json:"typedName,omitempty"`
}

type Coordinator struct {
	repo      Repository
	audit     AuditWriter
	notifier  Notifier
	publisher Publisher
	listener  Listener
	logger    logger.Logger
	now       func() time.Time
}

func NewCoordinator(repo Repository, audit AuditWriter, notifier Notifier, publisher Publisher, log logger.Logger) *Coordinator {
	return &Coordinator{
		repo:      repo,
		audit:     audit,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger.ForComponent(log, "signature"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (c *Coordinator) SetListener(l Listener) {
	c.listener = l
}

// Create opens a pending request. A signer may hold only one pending request
// per document; a past-due one is expired first and does not count.
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (*models.SignatureRequest, error) {
	if req.DocumentID == "" || req.SignerID == "" {
		return nil, apperr.NewValidationError("documentId and signerId are required")
	}
	if !req.Role.Valid() {
		return nil, apperr.NewValidationError(fmt.Sprintf("unknown signer role %q", req.Role))
	}
	if req.ExpiresInDays < 0 {
		return nil, apperr.NewValidationError("expiresInDays must not be negative")
	}

	var created *models.SignatureRequest
	err := c.repo.WithinTx(ctx, func(ctx context.Context) error {
		doc, err := c.repo.GetDocument(ctx, req.DocumentID)
		if err != nil {
			return err
		}
		if doc.Status.IsFinal() {
			return apperr.NewValidationError("document " + doc.ID + " is " + string(doc.Status))
		}

		now := c.now()
		if err := c.expireStalePending(ctx, req.DocumentID, req.SignerID, now); err != nil {
			return err
		}

		created, err = c.insert(ctx, req, "", now)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("signature requested", map[string]interface{}{
		"requestId":  created.ID,
		"documentId": created.DocumentID,
		"signerId":   created.SignerID,
		"expiresAt":  created.ExpiresAt,
	})
	return created, nil
}

// Resend expires the given request, when still pending, and opens a
// replacement in the same transaction.
func (c *Coordinator) Resend(ctx context.Context, requestID, actorID string, expiresInDays int) (*models.SignatureRequest, error) {
	if expiresInDays < 0 {
		return nil, apperr.NewValidationError("expiresInDays must not be negative")
	}

	var created *models.SignatureRequest
	err := c.repo.WithinTx(ctx, func(ctx context.Context) error {
		old, err := c.repo.GetSignatureRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if old.Status == models.SignatureSigned {
			return apperr.NewAlreadyTerminalError("signature request", old.ID, string(old.Status))
		}

		now := c.now()
		if old.Status == models.SignaturePending {
			if _, err := c.repo.ResolveSignatureRequest(ctx, models.SignatureResolution{
				RequestID:  old.ID,
				To:         models.SignatureExpired,
				ResolvedAt: now,
			}); err != nil {
				if errors.Is(err, apperr.ErrConflict) {
					return c.classifyLostRace(ctx, old.ID, now)
				}
				return err
			}
			c.countOutcome(ctx, models.SignatureExpired)
		}

		created, err = c.insert(ctx, CreateRequest{
			DocumentID:    old.DocumentID,
			SignerID:      old.SignerID,
			Role:          old.SignerRole,
			ExpiresInDays: expiresInDays,
			RequestedBy:   actorID,
		}, old.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("signature request resent", map[string]interface{}{
		"requestId":  created.ID,
		"replacesId": requestID,
		"documentId": created.DocumentID,
	})
	return created, nil
}

func (c *Coordinator) insert(ctx context.Context, req CreateRequest, replacesID string, now time.Time) (*models.SignatureRequest, error) {
	days := req.ExpiresInDays
	if days == 0 {
		days = DefaultExpiryDays
	}
	r := &models.SignatureRequest{
		DocumentID: req.DocumentID,
		SignerID:   req.SignerID,
		SignerRole: req.Role,
		Status:     models.SignaturePending,
		ReplacesID: replacesID,
		CreatedAt:  now,
		ExpiresAt:  now.AddDate(0, 0, days),
	}
	if err := c.repo.CreateSignatureRequest(ctx, r); err != nil {
		return nil, err
	}

	if c.notifier != nil {
		n := models.Notification{
			RecipientID: r.SignerID,
			DocumentID:  r.DocumentID,
			Type:        models.NotificationSignatureRequest,
			Title:       "Signature requested",
			Message:     fmt.Sprintf("Please review and sign the document before %s.", r.ExpiresAt.Format("Jan 2, 2006")),
			Priority:    models.PriorityHigh,
		}
		database.AfterCommit(ctx, func(ctx context.Context) {
			c.notify(ctx, n)
		})
	}
	return r, nil
}

// expireStalePending clears a past-due pending request so a new one can be
// opened for the signer.
func (c *Coordinator) expireStalePending(ctx context.Context, documentID, signerID string, now time.Time) error {
	pending, err := c.repo.PendingSignatureRequest(ctx, documentID, signerID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	if !pending.PastDue(now) {
		return apperr.NewDuplicatePendingRequestError(documentID, signerID)
	}
	if _, err := c.repo.ResolveSignatureRequest(ctx, models.SignatureResolution{
		RequestID:  pending.ID,
		To:         models.SignatureExpired,
		ResolvedAt: now,
	}); err != nil && !errors.Is(err, apperr.ErrConflict) {
		return err
	}
	c.countOutcome(ctx, models.SignatureExpired)
	return nil
}

// Sign records the signer's evidence. Once every signer's latest request is
// signed the listener is told in the same transaction.
func (c *Coordinator) Sign(ctx context.Context, requestID string, ev Evidence) (*models.SignatureRequest, error) {
	ip, err := normalizeIP(ev.IPAddress)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(ev.UserAgent) == "" {
		return nil, apperr.NewValidationError("signature evidence needs a user agent")
	}

	now := c.now()
	current, err := c.checkPending(ctx, requestID, now)
	if err != nil {
		return nil, err
	}

	evidence := buildEvidence(ev, ip, now)

	var signed *models.SignatureRequest
	err = c.repo.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		signed, err = c.repo.ResolveSignatureRequest(ctx, models.SignatureResolution{
			RequestID:  requestID,
			To:         models.SignatureSigned,
			Evidence:   evidence,
			ResolvedAt: now,
		})
		if err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				return c.classifyLostRace(ctx, requestID, now)
			}
			return err
		}

		if _, err := c.audit.Record(ctx, signed.DocumentID, models.AuditSign, signed.SignerID, map[string]interface{}{
			"requestId": signed.ID,
			"role":      signed.SignerRole,
			"ipAddress": evidence.IPAddress,
			"browser":   evidence.Browser,
			"os":        evidence.OS,
		}); err != nil {
			return err
		}
		c.countOutcome(ctx, models.SignatureSigned)
		c.publish(ctx, models.EventSignatureSigned, signed, nil)

		complete, err := c.AllSigned(ctx, signed.DocumentID)
		if err != nil {
			return err
		}
		if !complete {
			return nil
		}
		c.publish(ctx, models.EventSignaturesComplete, signed, nil)
		if c.listener != nil {
			return c.listener.OnSignaturesComplete(ctx, signed.DocumentID, signed.SignerID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrExpired) {
			c.expire(ctx, current, now)
		}
		return nil, err
	}

	c.logger.Info("document signed", map[string]interface{}{
		"requestId":  signed.ID,
		"documentId": signed.DocumentID,
		"signerId":   signed.SignerID,
	})
	return signed, nil
}

// Decline is terminal for the request. The workflow is left as is; the
// landlord decides whether to resend or reject.
func (c *Coordinator) Decline(ctx context.Context, requestID, reason string) (*models.SignatureRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.NewValidationError("a reason is required to decline")
	}

	now := c.now()
	current, err := c.checkPending(ctx, requestID, now)
	if err != nil {
		return nil, err
	}

	var declined *models.SignatureRequest
	err = c.repo.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		declined, err = c.repo.ResolveSignatureRequest(ctx, models.SignatureResolution{
			RequestID:     requestID,
			To:            models.SignatureDeclined,
			DeclineReason: reason,
			ResolvedAt:    now,
		})
		if err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				return c.classifyLostRace(ctx, requestID, now)
			}
			return err
		}

		if _, err := c.audit.Record(ctx, declined.DocumentID, models.AuditReject, declined.SignerID, map[string]interface{}{
			"requestId": declined.ID,
			"role":      declined.SignerRole,
			"reason":    reason,
			"scope":     "signature",
		}); err != nil {
			return err
		}
		c.countOutcome(ctx, models.SignatureDeclined)
		c.publish(ctx, models.EventSignatureDeclined, declined, map[string]interface{}{"reason": reason})

		doc, err := c.repo.GetDocument(ctx, declined.DocumentID)
		if err != nil {
			return err
		}
		if c.notifier != nil {
			n := models.Notification{
				PropertyID: doc.PropertyID,
				DocumentID: doc.ID,
				Type:       models.NotificationSignatureDeclined,
				Title:      "Signature declined",
				Message:    fmt.Sprintf("The %s declined to sign: %s", declined.SignerRole, reason),
				Priority:   models.PriorityHigh,
			}
			database.AfterCommit(ctx, func(ctx context.Context) {
				c.notify(ctx, n)
			})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrExpired) {
			c.expire(ctx, current, now)
		}
		return nil, err
	}

	c.logger.Info("signature declined", map[string]interface{}{
		"requestId":  declined.ID,
		"documentId": declined.DocumentID,
		"signerId":   declined.SignerID,
	})
	return declined, nil
}

// checkPending reads the request and applies the lazy expiry.
func (c *Coordinator) checkPending(ctx context.Context, requestID string, now time.Time) (*models.SignatureRequest, error) {
	r, err := c.repo.GetSignatureRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.Status.IsTerminal() {
		return nil, apperr.NewAlreadyTerminalError("signature request", r.ID, string(r.Status))
	}
	if r.PastDue(now) {
		c.expire(ctx, r, now)
		return nil, apperr.NewExpiredError("signature request", r.ID, r.ExpiresAt)
	}
	return r, nil
}

// classifyLostRace turns a conditional update miss into the error the caller
// should see.
func (c *Coordinator) classifyLostRace(ctx context.Context, requestID string, now time.Time) error {
	metrics.StaleTransitions.WithLabelValues("signature_request").Inc()
	r, err := c.repo.GetSignatureRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if r.Status == models.SignaturePending && now.After(r.ExpiresAt) {
		return apperr.NewExpiredError("signature request", r.ID, r.ExpiresAt)
	}
	if r.Status == models.SignatureExpired {
		return apperr.NewExpiredError("signature request", r.ID, r.ExpiresAt)
	}
	return apperr.NewAlreadyTerminalError("signature request", r.ID, string(r.Status))
}

// expire persists the lazy expiry in its own transaction. Losing the race to
// another resolver is fine.
func (c *Coordinator) expire(ctx context.Context, r *models.SignatureRequest, now time.Time) {
	if r == nil {
		return
	}
	err := c.repo.WithinTx(ctx, func(ctx context.Context) error {
		_, err := c.repo.ResolveSignatureRequest(ctx, models.SignatureResolution{
			RequestID:  r.ID,
			To:         models.SignatureExpired,
			ResolvedAt: now,
		})
		if err != nil {
			return err
		}
		c.countOutcome(ctx, models.SignatureExpired)
		return nil
	})
	if err != nil && !errors.Is(err, apperr.ErrConflict) {
		c.logger.Warn("failed to persist signature expiry", map[string]interface{}{
			"requestId": r.ID,
			"error":     err,
		})
	}
}

// Get returns the request, expiring it first when past due.
func (c *Coordinator) Get(ctx context.Context, requestID string) (*models.SignatureRequest, error) {
	r, err := c.repo.GetSignatureRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	now := c.now()
	if r.PastDue(now) {
		c.expire(ctx, r, now)
		return c.repo.GetSignatureRequest(ctx, requestID)
	}
	return r, nil
}

// List returns every request on the document, oldest first, expiring past-due
// ones on the way.
func (c *Coordinator) List(ctx context.Context, documentID string) ([]models.SignatureRequest, error) {
	list, err := c.repo.ListSignatureRequests(ctx, documentID)
	if err != nil {
		return nil, err
	}
	now := c.now()
	expired := false
	for i := range list {
		if list[i].PastDue(now) {
			c.expire(ctx, &list[i], now)
			expired = true
		}
	}
	if !expired {
		return list, nil
	}
	return c.repo.ListSignatureRequests(ctx, documentID)
}

// ExpireOverdue expires every past-due pending request on the document and
// reports how many were expired.
func (c *Coordinator) ExpireOverdue(ctx context.Context, documentID string) (int, error) {
	list, err := c.repo.ListSignatureRequests(ctx, documentID)
	if err != nil {
		return 0, err
	}
	now := c.now()
	n := 0
	for i := range list {
		if list[i].PastDue(now) {
			c.expire(ctx, &list[i], now)
			n++
		}
	}
	return n, nil
}

// AllSigned reports whether the latest request of every signer on the
// document is signed. A document with no requests is not signed.
func (c *Coordinator) AllSigned(ctx context.Context, documentID string) (bool, error) {
	list, err := c.repo.ListSignatureRequests(ctx, documentID)
	if err != nil {
		return false, err
	}
	return latestAllSigned(list), nil
}

func latestAllSigned(list []models.SignatureRequest) bool {
	if len(list) == 0 {
		return false
	}
	latest := make(map[string]models.SignatureStatus, len(list))
	for _, r := range list {
		latest[r.SignerID] = r.Status
	}
	for _, status := range latest {
		if status != models.SignatureSigned {
			return false
		}
	}
	return true
}

func (c *Coordinator) countOutcome(ctx context.Context, status models.SignatureStatus) {
	database.AfterCommit(ctx, func(context.Context) {
		metrics.SignatureOutcomes.WithLabelValues(string(status)).Inc()
	})
}

func (c *Coordinator) publish(ctx context.Context, typ models.EventType, r *models.SignatureRequest, data map[string]interface{}) {
	if c.publisher == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["requestId"] = r.ID
	data["signerRole"] = string(r.SignerRole)
	event := models.DocumentEvent{
		Type:       typ,
		DocumentID: r.DocumentID,
		Status:     string(r.Status),
		ActorID:    r.SignerID,
		OccurredAt: c.now(),
		Data:       data,
	}
	database.AfterCommit(ctx, func(ctx context.Context) {
		if err := c.publisher.Publish(ctx, event); err != nil {
			c.logger.Warn("failed to publish signature event", map[string]interface{}{
				"type":       typ,
				"documentId": event.DocumentID,
				"error":      err,
			})
		}
	})
}

func (c *Coordinator) notify(ctx context.Context, n models.Notification) {
	if err := c.notifier.Notify(ctx, n); err != nil {
		c.logger.Warn("signature notification failed", map[string]interface{}{
			"type":       n.Type,
			"documentId": n.DocumentID,
			"error":      err,
		})
	}
}
