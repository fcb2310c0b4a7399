// Package verification tracks identity, income, employment and rental history
// checks run by an external verifier.
package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rental-docflow/internal/common/database"
	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/common/metrics"
	"rental-docflow/internal/common/validation"
	"rental-docflow/internal/models"
	"rental-docflow/internal/store"
)

const callbackKeyPrefix = "docflow:verification-callback:"

const callbackSchema = `{
  "type": "object",
  "required": ["id", "status", "results"],
  "properties": {
    "id":     {"type": "string", "minLength": 1},
    "status": {"type": "string", "enum": ["verified", "failed"]},
    "results": {
      "type": "object",
      "required": ["verifiedFields", "failedFields", "confidence"],
      "properties": {
        "verifiedFields": {"type": "array", "items": {"type": "string"}},
        "failedFields":   {"type": "array", "items": {"type": "string"}},
        "confidence":     {"type": "number", "minimum": 0, "maximum": 1},
        "note":           {"type": "string"}
      }
    }
  }
}`

// Repository is the persistence the service needs.
type Repository interface {
	store.Transactor
	store.VerificationRepository
}

// Listener is told about a verification reaching a terminal status through a
// callback. It runs inside the transaction that records the outcome.
type Listener interface {
	OnVerificationResolved(ctx context.Context, result *models.VerificationResult) error
}

// Config tunes submission and callback handling. ClaimTTL bounds how long an
// in-flight callback holds its dedupe key; DedupeTTL is how long an applied
// callback is remembered.
type Config struct {
	SubmitTimeout time.Duration
	ClaimTTL      time.Duration
	DedupeTTL     time.Duration
}

type Service struct {
	repo     Repository
	verifier Verifier
	dedupe   *database.RedisClient
	listener Listener
	cfg      Config
	logger   logger.Logger
	now      func() time.Time
}

// NewService builds the service. dedupe may be nil; the conditional update on
// the row still keeps callbacks idempotent.
func NewService(repo Repository, verifier Verifier, dedupe *database.RedisClient, cfg Config, log logger.Logger) *Service {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 2 * time.Minute
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 24 * time.Hour
	}
	return &Service{
		repo:     repo,
		verifier: verifier,
		dedupe:   dedupe,
		cfg:      cfg,
		logger:   logger.ForComponent(log, "verification"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetListener(l Listener) {
	s.listener = l
}

// Initiate records a pending result and submits it. A submission failure is
// recorded as a failed result and returned without an error; callers inspect
// the status.
func (s *Service) Initiate(ctx context.Context, req models.VerificationRequest) (*models.VerificationResult, error) {
	if req.DocumentID == "" {
		return nil, apperr.NewValidationError("documentId is required")
	}
	if !req.Type.Valid() {
		return nil, apperr.NewValidationError(fmt.Sprintf("unknown verification type %q", req.Type))
	}

	result := &models.VerificationResult{
		DocumentID:  req.DocumentID,
		StepID:      req.StepID,
		Type:        req.Type,
		Status:      models.VerificationPending,
		Subject:     req.Subject,
		RequestedBy: req.RequestedBy,
		CreatedAt:   s.now(),
	}
	return s.submit(ctx, result, req)
}

// Retry appends a new attempt for a finished verification. The original row
// is left untouched.
func (s *Service) Retry(ctx context.Context, verificationID, requestedBy string) (*models.VerificationResult, error) {
	orig, err := s.repo.GetVerification(ctx, verificationID)
	if err != nil {
		return nil, err
	}
	if !orig.Status.IsTerminal() {
		return nil, apperr.NewValidationError("verification " + verificationID + " is still pending")
	}
	if requestedBy == "" {
		requestedBy = orig.RequestedBy
	}

	result := &models.VerificationResult{
		DocumentID:  orig.DocumentID,
		StepID:      orig.StepID,
		Type:        orig.Type,
		Status:      models.VerificationPending,
		Subject:     orig.Subject,
		RequestedBy: requestedBy,
		RetryOf:     orig.ID,
		CreatedAt:   s.now(),
	}
	req := models.VerificationRequest{
		DocumentID:  orig.DocumentID,
		StepID:      orig.StepID,
		Type:        orig.Type,
		Subject:     orig.Subject,
		RequestedBy: requestedBy,
	}
	return s.submit(ctx, result, req)
}

func (s *Service) submit(ctx context.Context, result *models.VerificationResult, req models.VerificationRequest) (*models.VerificationResult, error) {
	// the pending row must be visible before the provider can call back
	if err := s.repo.CreateVerification(ctx, result); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	ref, err := s.verifier.Submit(subCtx, result.ID, req)
	cancel()

	if err != nil {
		return s.markSubmissionFailed(ctx, result, err)
	}

	if err := s.repo.SetVerificationExternalRef(ctx, result.ID, ref); err != nil {
		return nil, err
	}
	// a callback matched by our id may already have resolved the row
	stored, err := s.repo.GetVerification(ctx, result.ID)
	if err != nil {
		return nil, err
	}
	result = stored

	s.logger.Info("verification submitted", map[string]interface{}{
		"verificationId": result.ID,
		"documentId":     result.DocumentID,
		"type":           result.Type,
		"externalRef":    ref,
	})
	return result, nil
}

func (s *Service) markSubmissionFailed(ctx context.Context, result *models.VerificationResult, cause error) (*models.VerificationResult, error) {
	completed := s.now()
	result.Status = models.VerificationFailed
	result.Note = fmt.Sprintf("submission to verifier failed: %v", cause)
	result.CompletedAt = &completed

	if err := s.repo.ResolveVerification(ctx, result); err != nil {
		return nil, err
	}
	metrics.VerificationOutcomes.WithLabelValues(string(result.Type), string(result.Status)).Inc()

	s.logger.Warn("verification submission failed", map[string]interface{}{
		"verificationId": result.ID,
		"documentId":     result.DocumentID,
		"error":          cause,
	})
	return result, nil
}

// HandleCallback records the provider's outcome. The callback id may be the
// provider's reference or the request id sent on submission. Replays of a
// callback that was already applied return the stored row and change nothing;
// a replay that arrives while the first delivery is still in flight gets a
// conflict so the provider retries.
func (s *Service) HandleCallback(ctx context.Context, payload []byte) (*models.VerificationResult, error) {
	check, err := validation.ValidateJSON(callbackSchema, payload)
	if err != nil {
		return nil, apperr.NewInputParsingError(err)
	}
	if !check.Valid {
		return nil, apperr.NewValidationError("invalid verification callback: " + check.Summary())
	}

	var cb models.VerificationCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, apperr.NewInputParsingError(err)
	}

	claimKey := callbackKeyPrefix + cb.ID
	claimed := s.claim(ctx, claimKey)
	if !claimed {
		current, err := s.lookup(ctx, cb.ID)
		if err != nil {
			return nil, err
		}
		if !current.Status.IsTerminal() {
			s.logger.Warn("verification callback still in flight", map[string]interface{}{"externalRef": cb.ID})
			return nil, apperr.NewConflictError("verification callback", cb.ID)
		}
		s.logger.Warn("duplicate verification callback ignored", map[string]interface{}{"externalRef": cb.ID})
		return current, nil
	}

	var (
		resolved  *models.VerificationResult
		duplicate bool
	)
	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.lookup(ctx, cb.ID)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			duplicate = true
			resolved = current
			return nil
		}

		completed := s.now()
		current.Status = cb.Status
		current.VerifiedFields = cb.Results.VerifiedFields
		current.FailedFields = cb.Results.FailedFields
		current.Confidence = cb.Results.Confidence
		current.Note = cb.Results.Note
		current.CompletedAt = &completed

		if err := s.repo.ResolveVerification(ctx, current); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				duplicate = true
				return nil
			}
			return err
		}
		resolved = current

		if s.listener != nil {
			if err := s.listener.OnVerificationResolved(ctx, current); err != nil {
				return err
			}
		}

		outcome := current
		database.AfterCommit(ctx, func(context.Context) {
			metrics.VerificationOutcomes.WithLabelValues(string(outcome.Type), string(outcome.Status)).Inc()
		})
		return nil
	})
	if err != nil {
		s.release(ctx, claimKey)
		return nil, err
	}
	s.markApplied(ctx, claimKey)

	if duplicate {
		s.logger.Warn("verification already terminal, callback ignored", map[string]interface{}{
			"externalRef": cb.ID,
			"status":      cb.Status,
		})
		if resolved == nil {
			return s.lookup(ctx, cb.ID)
		}
		return resolved, nil
	}

	s.logger.Info("verification resolved", map[string]interface{}{
		"verificationId": resolved.ID,
		"documentId":     resolved.DocumentID,
		"status":         resolved.Status,
		"confidence":     resolved.Confidence,
	})
	return resolved, nil
}

// lookup finds the row a callback refers to by provider reference, falling
// back to our own id for callbacks that beat the reference being stored.
func (s *Service) lookup(ctx context.Context, ref string) (*models.VerificationResult, error) {
	v, err := s.repo.GetVerificationByExternalRef(ctx, ref)
	if err == nil || !errors.Is(err, apperr.ErrNotFound) {
		return v, err
	}
	v, idErr := s.repo.GetVerification(ctx, ref)
	if idErr != nil {
		return nil, err
	}
	return v, nil
}

// claim marks a delivery as being processed for at most ClaimTTL. Without
// Redis, or when Redis is down, every delivery proceeds to the conditional
// update.
func (s *Service) claim(ctx context.Context, key string) bool {
	if s.dedupe == nil {
		return true
	}
	ok, err := s.dedupe.Claim(ctx, key, s.cfg.ClaimTTL)
	if err != nil {
		s.logger.Warn("callback dedupe unavailable", map[string]interface{}{"key": key, "error": err})
		return true
	}
	return ok
}

// markApplied keeps the key for DedupeTTL once the outcome is committed.
func (s *Service) markApplied(ctx context.Context, key string) {
	if s.dedupe == nil {
		return
	}
	if err := s.dedupe.SetJSON(ctx, key, "applied", s.cfg.DedupeTTL); err != nil {
		s.logger.Warn("failed to mark callback applied", map[string]interface{}{"key": key, "error": err})
	}
}

func (s *Service) release(ctx context.Context, key string) {
	if s.dedupe == nil {
		return
	}
	if err := s.dedupe.Release(ctx, key); err != nil {
		s.logger.Warn("failed to release callback claim", map[string]interface{}{"key": key, "error": err})
	}
}

func (s *Service) Get(ctx context.Context, id string) (*models.VerificationResult, error) {
	return s.repo.GetVerification(ctx, id)
}

// History lists every attempt for a document, oldest first.
func (s *Service) History(ctx context.Context, documentID string) ([]models.VerificationResult, error) {
	return s.repo.ListVerifications(ctx, documentID)
}
