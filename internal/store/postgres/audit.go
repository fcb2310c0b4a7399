package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/models"
)

func (s *Store) AppendAudit(ctx context.Context, e *models.AuditLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	details, err := marshalJSON(e.Details)
	if err != nil {
		return apperr.NewInternalError(err)
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO document_audit_log (id, document_id, action, actor_id, created_at, details)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.DocumentID, e.Action, e.ActorID, e.Timestamp, details,
	)
	if err != nil {
		return apperr.NewDatabaseError("append audit entry", err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, documentID string) ([]models.AuditLogEntry, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, document_id, action, actor_id, created_at, details
		FROM document_audit_log
		WHERE document_id = $1
		ORDER BY created_at, id`, documentID)
	if err != nil {
		return nil, apperr.NewDatabaseError("list audit entries", err)
	}
	defer rows.Close()

	var out []models.AuditLogEntry
	for rows.Next() {
		var (
			e       models.AuditLogEntry
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.Action, &e.ActorID, &e.Timestamp, &details); err != nil {
			return nil, apperr.NewDatabaseError("scan audit entry", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, apperr.NewDatabaseError("decode audit details", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewDatabaseError("list audit entries", err)
	}
	return out, nil
}
