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

const complianceColumns = `id, document_id, step_id, jurisdiction, document_type, is_valid, issues,
	jurisdiction_compliance, risk_level, classifier_model, created_at`

func scanComplianceReport(row rowScanner) (*models.ComplianceReport, error) {
	var (
		r             models.ComplianceReport
		stepID, model sql.NullString
		jc            []byte
	)
	err := row.Scan(&r.ID, &r.DocumentID, &stepID, &r.Jurisdiction, &r.DocumentType, &r.IsValid,
		pq.Array(&r.Issues), &jc, &r.RiskLevel, &model, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.StepID = stepID.String
	r.ClassifierModel = model.String
	if err := json.Unmarshal(jc, &r.JurisdictionCompliance); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) CreateComplianceReport(ctx context.Context, r *models.ComplianceReport) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	jc, err := marshalJSON(r.JurisdictionCompliance)
	if err != nil {
		return apperr.NewInternalError(err)
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO compliance_reports (`+complianceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.DocumentID, nullString(r.StepID), r.Jurisdiction, r.DocumentType, r.IsValid,
		pq.Array(stringsOrEmpty(r.Issues)), jc, r.RiskLevel, nullString(r.ClassifierModel), r.CreatedAt,
	)
	if err != nil {
		return apperr.NewDatabaseError("insert compliance report", err)
	}
	return nil
}

func (s *Store) GetComplianceReport(ctx context.Context, id string) (*models.ComplianceReport, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+complianceColumns+` FROM compliance_reports WHERE id = $1`, id)
	r, err := scanComplianceReport(row)
	if err != nil {
		return nil, notFoundOr(err, "compliance report", id, "get compliance report")
	}
	return r, nil
}

func (s *Store) ListComplianceReports(ctx context.Context, documentID string) ([]models.ComplianceReport, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+complianceColumns+` FROM compliance_reports
		WHERE document_id = $1
		ORDER BY created_at`, documentID)
	if err != nil {
		return nil, apperr.NewDatabaseError("list compliance reports", err)
	}
	defer rows.Close()

	var out []models.ComplianceReport
	for rows.Next() {
		r, err := scanComplianceReport(rows)
		if err != nil {
			return nil, apperr.NewDatabaseError("scan compliance report", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewDatabaseError("list compliance reports", err)
	}
	return out, nil
}
