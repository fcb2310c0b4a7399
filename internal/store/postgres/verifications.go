package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/models"
)

const verificationColumns = `id, document_id, step_id, type, status, external_ref, verified_fields,
	failed_fields, confidence, note, subject, requested_by, retry_of, created_at, completed_at`

func scanVerification(row rowScanner) (*models.VerificationResult, error) {
	var (
		v                                 models.VerificationResult
		stepID, ref, note, reqBy, retryOf sql.NullString
		subject                           []byte
		completedAt                       sql.NullTime
	)
	err := row.Scan(&v.ID, &v.DocumentID, &stepID, &v.Type, &v.Status, &ref,
		pq.Array(&v.VerifiedFields), pq.Array(&v.FailedFields), &v.Confidence, &note, &subject,
		&reqBy, &retryOf, &v.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	v.StepID = stepID.String
	v.ExternalRef = ref.String
	v.Note = note.String
	v.RequestedBy = reqBy.String
	v.RetryOf = retryOf.String
	v.CompletedAt = timePtr(completedAt)
	if len(subject) > 0 {
		if err := json.Unmarshal(subject, &v.Subject); err != nil {
			return nil, err
		}
	}
	return &v, nil
}

func (s *Store) CreateVerification(ctx context.Context, v *models.VerificationResult) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Status == "" {
		v.Status = models.VerificationPending
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	subject, err := marshalJSON(v.Subject)
	if err != nil {
		return apperr.NewInternalError(err)
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO verification_results (`+verificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		v.ID, v.DocumentID, nullString(v.StepID), v.Type, v.Status, nullString(v.ExternalRef),
		pq.Array(stringsOrEmpty(v.VerifiedFields)), pq.Array(stringsOrEmpty(v.FailedFields)), v.Confidence,
		nullString(v.Note), subject, nullString(v.RequestedBy), nullString(v.RetryOf), v.CreatedAt,
		nullTime(v.CompletedAt),
	)
	if isUniqueViolation(err, "") {
		return apperr.NewConflictError("verification", v.ID)
	}
	if err != nil {
		return apperr.NewDatabaseError("insert verification", err)
	}
	return nil
}

func (s *Store) GetVerification(ctx context.Context, id string) (*models.VerificationResult, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM verification_results WHERE id = $1`, id)
	v, err := scanVerification(row)
	if err != nil {
		return nil, notFoundOr(err, "verification", id, "get verification")
	}
	return v, nil
}

func (s *Store) GetVerificationByExternalRef(ctx context.Context, ref string) (*models.VerificationResult, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM verification_results WHERE external_ref = $1`, ref)
	v, err := scanVerification(row)
	if err != nil {
		return nil, notFoundOr(err, "verification", ref, "get verification by reference")
	}
	return v, nil
}

func (s *Store) SetVerificationExternalRef(ctx context.Context, id, ref string) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE verification_results SET external_ref = $2 WHERE id = $1 AND external_ref IS NULL`, id, ref)
	if isUniqueViolation(err, "") {
		return apperr.NewConflictError("verification", ref)
	}
	if err != nil {
		return apperr.NewDatabaseError("set verification reference", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NewConflictError("verification", id)
	}
	return nil
}

func (s *Store) ResolveVerification(ctx context.Context, v *models.VerificationResult) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE verification_results
		SET status = $2, verified_fields = $3, failed_fields = $4, confidence = $5,
		    note = COALESCE($6, note), completed_at = $7
		WHERE id = $1 AND status = 'pending'`,
		v.ID, v.Status, pq.Array(stringsOrEmpty(v.VerifiedFields)), pq.Array(stringsOrEmpty(v.FailedFields)),
		v.Confidence, nullString(v.Note), nullTime(v.CompletedAt),
	)
	if err != nil {
		return apperr.NewDatabaseError("resolve verification", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.NewDatabaseError("rows affected", err)
	}
	if n == 0 {
		return apperr.NewConflictError("verification", v.ID)
	}
	return nil
}

func (s *Store) ListVerifications(ctx context.Context, documentID string) ([]models.VerificationResult, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+verificationColumns+` FROM verification_results
		WHERE document_id = $1
		ORDER BY created_at`, documentID)
	if err != nil {
		return nil, apperr.NewDatabaseError("list verifications", err)
	}
	defer rows.Close()

	var out []models.VerificationResult
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, apperr.NewDatabaseError("scan verification", err)
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewDatabaseError("list verifications", err)
	}
	return out, nil
}
