// Package httptransport is the HTTP surface of the document engine: the
// verifier webhook, health and metrics, and the document operations invoked
// by the surrounding application. Handlers authorize through the permission
// gate and delegate to the components.
package httptransport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rental-docflow/internal/audit"
	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/expiration"
	"rental-docflow/internal/models"
	"rental-docflow/internal/permission"
	"rental-docflow/internal/signature"
	"rental-docflow/internal/workflow"
)

// ActorHeader carries the authenticated actor id set by the upstream gateway.
const ActorHeader = "X-Actor-ID"

const maxBodyBytes = 1 << 20

type Lookup interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetStep(ctx context.Context, id string) (*models.WorkflowStep, error)
}

type Authorizer interface {
	Require(ctx context.Context, actorID string, p permission.Permission) error
}

type Workflow interface {
	StartWorkflow(ctx context.Context, documentID string, defs []workflow.StepDefinition, actorID string) ([]models.WorkflowStep, error)
	Advance(ctx context.Context, stepID string, outcome workflow.Outcome) (*models.WorkflowStep, error)
	ValidateStep(ctx context.Context, stepID, actorID string) (*models.ComplianceReport, error)
	VerifyStep(ctx context.Context, stepID string, req models.VerificationRequest) (*models.VerificationResult, error)
	Status(ctx context.Context, documentID string) (*workflow.Status, error)
}

type Signatures interface {
	Create(ctx context.Context, req signature.CreateRequest) (*models.SignatureRequest, error)
	Get(ctx context.Context, requestID string) (*models.SignatureRequest, error)
	List(ctx context.Context, documentID string) ([]models.SignatureRequest, error)
	Sign(ctx context.Context, requestID string, ev signature.Evidence) (*models.SignatureRequest, error)
	Decline(ctx context.Context, requestID, reason string) (*models.SignatureRequest, error)
	Resend(ctx context.Context, requestID, actorID string, expiresInDays int) (*models.SignatureRequest, error)
}

type Verifications interface {
	HandleCallback(ctx context.Context, payload []byte) (*models.VerificationResult, error)
}

type Expirations interface {
	Check(ctx context.Context, documentID string) (*expiration.Evaluation, error)
	Renew(ctx context.Context, documentID, actorID string, periodDays int) (*models.Document, error)
}

type AuditLog interface {
	History(ctx context.Context, documentID string) ([]models.AuditLogEntry, error)
	Search(ctx context.Context, q audit.Query) ([]models.AuditLogEntry, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Dependencies struct {
	Lookup        Lookup
	Gate          Authorizer
	Workflow      Workflow
	Signatures    Signatures
	Verifications Verifications
	Expirations   Expirations
	Audit         AuditLog
	WebhookSecret string
	Readiness     map[string]ReadinessCheck
}

type Handler struct {
	deps   Dependencies
	logger logger.Logger
}

func NewHandler(deps Dependencies, log logger.Logger) *Handler {
	return &Handler{deps: deps, logger: logger.ForComponent(log, "http")}
}

// NewRouter wires every route.
func NewRouter(h *Handler, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(h.logRequests)
	r.Use(chimw.Recoverer)

	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(requestTimeout))
		r.Post("/webhooks/verification", h.handleVerificationWebhook)

		r.Route("/api/v1", func(r chi.Router) {
			r.Use(requireActor)

			r.Route("/documents/{documentID}", func(r chi.Router) {
				r.Get("/workflow", h.handleWorkflowStatus)
				r.Post("/workflow", h.handleStartWorkflow)
				r.Get("/signatures", h.handleListSignatures)
				r.Post("/signatures", h.handleCreateSignature)
				r.Get("/expiration", h.handleExpiration)
				r.Post("/renew", h.handleRenew)
				r.Get("/audit", h.handleAudit)
				r.Get("/audit/search", h.handleAuditSearch)
			})
			r.Route("/steps/{stepID}", func(r chi.Router) {
				r.Post("/advance", h.handleAdvance)
				r.Post("/validate", h.handleValidate)
				r.Post("/verify", h.handleVerify)
			})
			r.Route("/signatures/{requestID}", func(r chi.Router) {
				r.Get("/", h.handleGetSignature)
				r.Post("/sign", h.handleSign)
				r.Post("/decline", h.handleDecline)
				r.Post("/resend", h.handleResend)
			})
		})
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.deps.Readiness))
	status := http.StatusOK
	for name, check := range h.deps.Readiness {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writeJSON(w, status, map[string]interface{}{"status": state, "checks": checks})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		fields := map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"durationMs": time.Since(started).Milliseconds(),
			"requestId":  chimw.GetReqID(r.Context()),
		}
		if ww.Status() >= http.StatusInternalServerError {
			h.logger.Error("request failed", fields)
			return
		}
		h.logger.Debug("request served", fields)
	})
}

type actorKey struct{}

func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorID := r.Header.Get(ActorHeader)
		if actorID == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"error": errorBody{Code: "UNAUTHENTICATED", Message: "missing " + ActorHeader},
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actorID)))
	})
}

func actorFrom(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}

// decode reads an optional JSON body into v.
func decode(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apperr.NewInputParsingError(err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperr.NewInputParsingError(err)
	}
	return nil
}
