package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/models"
)

const documentColumns = `id, property_id, tenant_id, type, title, storage_url, jurisdiction,
	status, expiration_date, uploaded_by, created_at, updated_at`

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		d                 models.Document
		tenant, title, by sql.NullString
		expiration        sql.NullTime
	)
	err := row.Scan(&d.ID, &d.PropertyID, &tenant, &d.Type, &title, &d.StorageURL, &d.Jurisdiction,
		&d.Status, &expiration, &by, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.TenantID = tenant.String
	d.Title = title.String
	d.UploadedBy = by.String
	d.ExpirationDate = timePtr(expiration)
	return &d, nil
}

func (s *Store) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = models.DocumentStatusDraft
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		doc.ID, doc.PropertyID, nullString(doc.TenantID), doc.Type, nullString(doc.Title), doc.StorageURL,
		doc.Jurisdiction, doc.Status, nullTime(doc.ExpirationDate), nullString(doc.UploadedBy),
		doc.CreatedAt, doc.UpdatedAt,
	)
	if isUniqueViolation(err, "") {
		return apperr.NewConflictError("document", doc.ID)
	}
	if err != nil {
		return apperr.NewDatabaseError("insert document", err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, notFoundOr(err, "document", id, "get document")
	}
	return doc, nil
}

func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, from []models.DocumentStatus, to models.DocumentStatus) error {
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}

	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE documents SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)`,
		id, to, pq.Array(allowed),
	)
	if err != nil {
		return apperr.NewDatabaseError("update document status", err)
	}
	return s.checkDocumentUpdated(ctx, res, id)
}

func (s *Store) UpdateDocumentExpiration(ctx context.Context, id string, expected *time.Time, next time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE documents SET expiration_date = $2, updated_at = NOW()
		WHERE id = $1 AND expiration_date IS NOT DISTINCT FROM $3`,
		id, next, nullTime(expected),
	)
	if err != nil {
		return apperr.NewDatabaseError("update document expiration", err)
	}
	return s.checkDocumentUpdated(ctx, res, id)
}

// checkDocumentUpdated tells a lost conditional update apart from a missing row.
func (s *Store) checkDocumentUpdated(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.NewDatabaseError("rows affected", err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists); err != nil {
		return apperr.NewDatabaseError("check document", err)
	}
	if !exists {
		return apperr.NewNotFoundError("document", id)
	}
	return apperr.NewConflictError("document", id)
}

func (s *Store) ListDocumentsExpiringBefore(ctx context.Context, before time.Time) ([]models.Document, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE expiration_date IS NOT NULL AND expiration_date < $1
		ORDER BY expiration_date`, before)
	if err != nil {
		return nil, apperr.NewDatabaseError("list expiring documents", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, apperr.NewDatabaseError("scan document", err)
		}
		docs = append(docs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewDatabaseError("list expiring documents", err)
	}
	return docs, nil
}
