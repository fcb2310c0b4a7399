package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/models"
)

const signatureColumns = `id, document_id, signer_id, signer_role, status, evidence, decline_reason,
	replaces_id, created_at, expires_at, resolved_at`

const onePendingPerSigner = "signature_requests_one_pending"

func scanSignatureRequest(row rowScanner) (*models.SignatureRequest, error) {
	var (
		r                models.SignatureRequest
		evidence         []byte
		reason, replaces sql.NullString
		resolvedAt       sql.NullTime
	)
	err := row.Scan(&r.ID, &r.DocumentID, &r.SignerID, &r.SignerRole, &r.Status, &evidence, &reason,
		&replaces, &r.CreatedAt, &r.ExpiresAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	r.DeclineReason = reason.String
	r.ReplacesID = replaces.String
	r.ResolvedAt = timePtr(resolvedAt)
	if len(evidence) > 0 {
		var ev models.SignatureEvidence
		if err := json.Unmarshal(evidence, &ev); err != nil {
			return nil, err
		}
		r.Evidence = &ev
	}
	return &r, nil
}

func (s *Store) CreateSignatureRequest(ctx context.Context, r *models.SignatureRequest) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = models.SignaturePending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO signature_requests (`+signatureColumns+`)
		VALUES ($1, $2, $3, $4, $5, NULL, NULL, $6, $7, $8, NULL)`,
		r.ID, r.DocumentID, r.SignerID, r.SignerRole, r.Status, nullString(r.ReplacesID), r.CreatedAt, r.ExpiresAt,
	)
	if isUniqueViolation(err, onePendingPerSigner) {
		return apperr.NewDuplicatePendingRequestError(r.DocumentID, r.SignerID)
	}
	if err != nil {
		return apperr.NewDatabaseError("insert signature request", err)
	}
	return nil
}

func (s *Store) GetSignatureRequest(ctx context.Context, id string) (*models.SignatureRequest, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+signatureColumns+` FROM signature_requests WHERE id = $1`, id)
	r, err := scanSignatureRequest(row)
	if err != nil {
		return nil, notFoundOr(err, "signature request", id, "get signature request")
	}
	return r, nil
}

func (s *Store) ResolveSignatureRequest(ctx context.Context, res models.SignatureResolution) (*models.SignatureRequest, error) {
	var evidence []byte
	if res.Evidence != nil {
		raw, err := marshalJSON(res.Evidence)
		if err != nil {
			return nil, apperr.NewInternalError(err)
		}
		evidence = raw
	}

	row := s.conn(ctx).QueryRowContext(ctx, `
		UPDATE signature_requests
		SET status = $2, evidence = $3, decline_reason = $4, resolved_at = $5
		WHERE id = $1
		  AND status = 'pending'
		  AND (NOT $6 OR expires_at >= $5)
		RETURNING `+signatureColumns,
		res.RequestID, res.To, evidence, nullString(res.DeclineReason), res.ResolvedAt,
		res.To != models.SignatureExpired,
	)
	r, err := scanSignatureRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.GetSignatureRequest(ctx, res.RequestID); err != nil {
			return nil, err
		}
		return nil, apperr.NewConflictError("signature request", res.RequestID)
	}
	if err != nil {
		return nil, apperr.NewDatabaseError("resolve signature request", err)
	}
	return r, nil
}

func (s *Store) ListSignatureRequests(ctx context.Context, documentID string) ([]models.SignatureRequest, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+signatureColumns+` FROM signature_requests
		WHERE document_id = $1
		ORDER BY created_at, id`, documentID)
	if err != nil {
		return nil, apperr.NewDatabaseError("list signature requests", err)
	}
	defer rows.Close()

	var out []models.SignatureRequest
	for rows.Next() {
		r, err := scanSignatureRequest(rows)
		if err != nil {
			return nil, apperr.NewDatabaseError("scan signature request", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewDatabaseError("list signature requests", err)
	}
	return out, nil
}

func (s *Store) PendingSignatureRequest(ctx context.Context, documentID, signerID string) (*models.SignatureRequest, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+signatureColumns+` FROM signature_requests
		WHERE document_id = $1 AND signer_id = $2 AND status = 'pending'`, documentID, signerID)
	r, err := scanSignatureRequest(row)
	if err != nil {
		return nil, notFoundOr(err, "signature request", documentID+"/"+signerID, "get pending signature request")
	}
	return r, nil
}
