package httptransport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"rental-docflow/internal/audit"
	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/models"
	"rental-docflow/internal/permission"
	"rental-docflow/internal/signature"
	"rental-docflow/internal/verification"
	"rental-docflow/internal/workflow"
)

// ---- webhook ----

func (h *Handler) handleVerificationWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, apperr.NewValidationError("payload too large"))
			return
		}
		writeError(w, apperr.NewInputParsingError(err))
		return
	}

	if !verification.VerifySignature(r.Header, raw, h.deps.WebhookSecret) {
		h.logger.Warn("verification webhook signature rejected", map[string]interface{}{
			"remoteAddr": r.RemoteAddr,
		})
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"error": errorBody{Code: "INVALID_SIGNATURE", Message: "signature does not match payload"},
		})
		return
	}

	result, err := h.deps.Verifications.HandleCallback(r.Context(), raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "accepted",
		"verificationId": result.ID,
		"result":         result.Status,
	})
}

// ---- authorization ----

func (h *Handler) authorizeDocument(ctx context.Context, documentID string, action permission.Action, resource permission.Resource) (*models.Document, error) {
	doc, err := h.deps.Lookup.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	err = h.deps.Gate.Require(ctx, actorFrom(ctx), permission.Permission{
		Action:   action,
		Resource: resource,
		Target:   permission.ForDocument(doc),
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (h *Handler) authorizeStep(ctx context.Context, stepID string, action permission.Action) (*models.WorkflowStep, error) {
	step, err := h.deps.Lookup.GetStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	if _, err := h.authorizeDocument(ctx, step.DocumentID, action, permission.ResourceWorkflow); err != nil {
		return nil, err
	}
	return step, nil
}

// authorizeSignature checks a request-scoped action. Signing and declining
// are only open to the signer named on the request.
func (h *Handler) authorizeSignature(ctx context.Context, requestID string, action permission.Action) (*models.SignatureRequest, error) {
	req, err := h.deps.Signatures.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	doc, err := h.deps.Lookup.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	actorID := actorFrom(ctx)
	if (action == permission.ActionSign || action == permission.ActionDecline) && actorID != req.SignerID {
		return nil, apperr.NewAuthorizationDeniedError(actorID, string(action), string(permission.ResourceSignature))
	}
	err = h.deps.Gate.Require(ctx, actorID, permission.Permission{
		Action:   action,
		Resource: permission.ResourceSignature,
		Target:   permission.Target{PropertyID: doc.PropertyID, UserID: req.SignerID},
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ---- workflow ----

type startWorkflowBody struct {
	LandlordID string                    `json:"landlordId,omitempty"`
	Steps      []workflow.StepDefinition `json:"steps,omitempty"`
}

func (h *Handler) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body startWorkflowBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	doc, err := h.authorizeDocument(ctx, chi.URLParam(r, "documentID"), permission.ActionCreate, permission.ResourceWorkflow)
	if err != nil {
		writeError(w, err)
		return
	}

	defs := body.Steps
	if len(defs) == 0 {
		landlord := body.LandlordID
		if landlord == "" {
			landlord = actorFrom(ctx)
		}
		defs = workflow.DefaultLeasePipeline(landlord)
	}
	steps, err := h.deps.Workflow.StartWorkflow(ctx, doc.ID, defs, actorFrom(ctx))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"documentId": doc.ID, "steps": steps})
}

func (h *Handler) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := h.authorizeDocument(ctx, chi.URLParam(r, "documentID"), permission.ActionView, permission.ResourceWorkflow)
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := h.deps.Workflow.Status(ctx, doc.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type advanceBody struct {
	Kind     workflow.OutcomeKind `json:"kind"`
	Reason   string               `json:"reason,omitempty"`
	Override bool                 `json:"override,omitempty"`
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body advanceBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}

	var action permission.Action
	switch body.Kind {
	case workflow.OutcomeApprove:
		action = permission.ActionApprove
	case workflow.OutcomeReject:
		action = permission.ActionReject
	default:
		writeError(w, apperr.NewValidationError("kind must be approve or reject"))
		return
	}

	step, err := h.authorizeStep(ctx, chi.URLParam(r, "stepID"), action)
	if err != nil {
		writeError(w, err)
		return
	}
	if body.Override {
		if _, err := h.authorizeDocument(ctx, step.DocumentID, permission.ActionValidate, permission.ResourceCompliance); err != nil {
			writeError(w, err)
			return
		}
	}

	updated, err := h.deps.Workflow.Advance(ctx, step.ID, workflow.Outcome{
		Kind:     body.Kind,
		ActorID:  actorFrom(ctx),
		Reason:   body.Reason,
		Override: body.Override,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	step, err := h.authorizeStep(ctx, chi.URLParam(r, "stepID"), permission.ActionValidate)
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := h.deps.Workflow.ValidateStep(ctx, step.ID, actorFrom(ctx))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type verifyBody struct {
	Type    models.VerificationType    `json:"type"`
	Subject models.VerificationSubject `json:"subject"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body verifyBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	step, err := h.authorizeStep(ctx, chi.URLParam(r, "stepID"), permission.ActionVerify)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.deps.Workflow.VerifyStep(ctx, step.ID, models.VerificationRequest{
		Type:        body.Type,
		Subject:     body.Subject,
		RequestedBy: actorFrom(ctx),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// ---- signatures ----

type createSignatureBody struct {
	SignerID      string            `json:"signerId"`
	Role          models.SignerRole `json:"role"`
	ExpiresInDays int               `json:"expiresInDays,omitempty"`
}

func (h *Handler) handleCreateSignature(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body createSignatureBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	doc, err := h.authorizeDocument(ctx, chi.URLParam(r, "documentID"), permission.ActionCreate, permission.ResourceSignature)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := h.deps.Signatures.Create(ctx, signature.CreateRequest{
		DocumentID:    doc.ID,
		SignerID:      body.SignerID,
		Role:          body.Role,
		ExpiresInDays: body.ExpiresInDays,
		RequestedBy:   actorFrom(ctx),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) handleListSignatures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := h.authorizeDocument(ctx, chi.URLParam(r, "documentID"), permission.ActionView, permission.ResourceWorkflow)
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := h.deps.Signatures.List(ctx, doc.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"signatures": list})
}

func (h *Handler) handleGetSignature(w http.ResponseWriter, r *http.Request) {
	req, err := h.authorizeSignature(r.Context(), chi.URLParam(r, "requestID"), permission.ActionView)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type signBody struct {
	SignatureImage string `json:"signatureImage,omitempty"`
	TypedName      string `json:"typedName,omitempty"`
}

func (h *Handler) handleSign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body signBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	req, err := h.authorizeSignature(ctx, chi.URLParam(r, "requestID"), permission.ActionSign)
	if err != nil {
		writeError(w, err)
		return
	}
	// RealIP has already resolved forwarding headers into RemoteAddr.
	signed, err := h.deps.Signatures.Sign(ctx, req.ID, signature.Evidence{
		IPAddress:      r.RemoteAddr,
		UserAgent:      r.UserAgent(),
		SignatureImage: body.SignatureImage,
		TypedName:      strings.TrimSpace(body.TypedName),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signed)
}

type declineBody struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleDecline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body declineBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	req, err := h.authorizeSignature(ctx, chi.URLParam(r, "requestID"), permission.ActionDecline)
	if err != nil {
		writeError(w, err)
		return
	}
	declined, err := h.deps.Signatures.Decline(ctx, req.ID, body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, declined)
}

type resendBody struct {
	ExpiresInDays int `json:"expiresInDays,omitempty"`
}

func (h *Handler) handleResend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body resendBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	req, err := h.authorizeSignature(ctx, chi.URLParam(r, "requestID"), permission.ActionResend)
	if err != nil {
		writeError(w, err)
		return
	}
	next, err := h.deps.Signatures.Resend(ctx, req.ID, actorFrom(ctx), body.ExpiresInDays)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, next)
}

// ---- expiration and audit ----

func (h *Handler) handleExpiration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := h.authorizeDocument(ctx, chi.URLParam(r, "documentID"), permission.ActionView, permission.ResourceDocument)
	if err != nil {
		writeError(w, err)
		return
	}
	ev, err := h.deps.Expirations.Check(ctx, doc.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type renewBody struct {
	PeriodDays int `json:"periodDays,omitempty"`
}

func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body renewBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	doc, err := h.authorizeDocument(ctx, chi.URLParam(r, "documentID"), permission.ActionRenew, permission.ResourceDocument)
	if err != nil {
		writeError(w, err)
		return
	}
	renewed, err := h.deps.Expirations.Renew(ctx, doc.ID, actorFrom(ctx), body.PeriodDays)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renewed)
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := h.authorizeDocument(ctx, chi.URLParam(r, "documentID"), permission.ActionView, permission.ResourceAuditLog)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := h.deps.Audit.History(ctx, doc.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (h *Handler) handleAuditSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := h.authorizeDocument(ctx, chi.URLParam(r, "documentID"), permission.ActionView, permission.ResourceAuditLog)
	if err != nil {
		writeError(w, err)
		return
	}
	q, err := parseAuditQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q.DocumentID = doc.ID

	entries, err := h.deps.Audit.Search(ctx, q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// parseAuditQuery reads actor, action (repeatable), from, to and size.
func parseAuditQuery(r *http.Request) (audit.Query, error) {
	values := r.URL.Query()
	q := audit.Query{ActorID: strings.TrimSpace(values.Get("actor"))}
	for _, a := range values["action"] {
		q.Actions = append(q.Actions, models.AuditAction(strings.TrimSpace(a)))
	}
	for name, dst := range map[string]*time.Time{"from": &q.From, "to": &q.To} {
		raw := values.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, apperr.NewValidationError(name + " must be an RFC 3339 timestamp")
		}
		*dst = t
	}
	if raw := values.Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return q, apperr.NewValidationError("size must be a positive integer")
		}
		q.Size = n
	}
	return q, nil
}
