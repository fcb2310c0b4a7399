package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/models"
)

const stepColumns = `id, document_id, position, name, status, assignee_id, due_date, completed_at,
	requires_validation, awaits_signatures, compliance_report_id, note, created_at, updated_at`

func scanStep(row rowScanner) (*models.WorkflowStep, error) {
	var (
		st                     models.WorkflowStep
		assignee, report, note sql.NullString
		dueDate, completedAt   sql.NullTime
	)
	err := row.Scan(&st.ID, &st.DocumentID, &st.Position, &st.Name, &st.Status, &assignee, &dueDate,
		&completedAt, &st.RequiresValidation, &st.AwaitsSignatures, &report, &note, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	st.AssigneeID = assignee.String
	st.ComplianceReportID = report.String
	st.Note = note.String
	st.DueDate = timePtr(dueDate)
	st.CompletedAt = timePtr(completedAt)
	return &st, nil
}

func (s *Store) CreateSteps(ctx context.Context, steps []models.WorkflowStep) error {
	now := time.Now().UTC()
	return s.WithinTx(ctx, func(ctx context.Context) error {
		for i := range steps {
			st := &steps[i]
			if st.ID == "" {
				st.ID = uuid.NewString()
			}
			if st.CreatedAt.IsZero() {
				st.CreatedAt = now
			}
			st.UpdatedAt = now

			_, err := s.conn(ctx).ExecContext(ctx, `
				INSERT INTO workflow_steps (`+stepColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
				st.ID, st.DocumentID, st.Position, st.Name, st.Status, nullString(st.AssigneeID),
				nullTime(st.DueDate), nullTime(st.CompletedAt), st.RequiresValidation, st.AwaitsSignatures,
				nullString(st.ComplianceReportID), nullString(st.Note), st.CreatedAt, st.UpdatedAt,
			)
			if isUniqueViolation(err, "workflow_steps_document_position_key") {
				return apperr.NewConflictError("workflow", st.DocumentID)
			}
			if err != nil {
				return apperr.NewDatabaseError("insert workflow step", err)
			}
		}
		return nil
	})
}

func (s *Store) GetStep(ctx context.Context, id string) (*models.WorkflowStep, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE id = $1`, id)
	st, err := scanStep(row)
	if err != nil {
		return nil, notFoundOr(err, "workflow step", id, "get workflow step")
	}
	return st, nil
}

func (s *Store) ListSteps(ctx context.Context, documentID string) ([]models.WorkflowStep, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+stepColumns+` FROM workflow_steps
		WHERE document_id = $1
		ORDER BY position`, documentID)
	if err != nil {
		return nil, apperr.NewDatabaseError("list workflow steps", err)
	}
	defer rows.Close()

	var steps []models.WorkflowStep
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, apperr.NewDatabaseError("scan workflow step", err)
		}
		steps = append(steps, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewDatabaseError("list workflow steps", err)
	}
	return steps, nil
}

// TransitionStep is a single conditional UPDATE. The predecessor check runs in
// the same statement so a concurrent caller cannot slip a later step past an
// unfinished earlier one.
func (s *Store) TransitionStep(ctx context.Context, t models.StepTransition) (*models.WorkflowStep, error) {
	from := make([]string, len(t.From))
	for i, st := range t.From {
		from[i] = string(st)
	}

	row := s.conn(ctx).QueryRowContext(ctx, `
		UPDATE workflow_steps AS s
		SET status = $2,
		    completed_at = COALESCE($3, s.completed_at),
		    note = COALESCE($4, s.note),
		    updated_at = NOW()
		WHERE s.id = $1
		  AND s.status = ANY($5)
		  AND (NOT $6 OR NOT EXISTS (
		      SELECT 1 FROM workflow_steps p
		      WHERE p.document_id = s.document_id
		        AND p.position < s.position
		        AND p.status <> 'completed'))
		RETURNING `+prefixed("s", stepColumns),
		t.StepID, t.To, nullTime(t.CompletedAt), nullString(t.Note), pq.Array(from), t.RequireCompletedPredecessors,
	)
	st, err := scanStep(row)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewDatabaseError("transition workflow step", err)
	}

	current, err := s.GetStep(ctx, t.StepID)
	if err != nil {
		return nil, err
	}
	for _, allowed := range t.From {
		if current.Status == allowed {
			return nil, s.blockingPredecessor(ctx, current)
		}
	}
	return nil, apperr.NewConflictError("workflow step", t.StepID)
}

func (s *Store) blockingPredecessor(ctx context.Context, st *models.WorkflowStep) error {
	var name string
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT name FROM workflow_steps
		WHERE document_id = $1 AND position < $2 AND status <> 'completed'
		ORDER BY position LIMIT 1`, st.DocumentID, st.Position).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		// the predecessor finished between the two statements
		return apperr.NewConflictError("workflow step", st.ID)
	}
	if err != nil {
		return apperr.NewDatabaseError("find blocking step", err)
	}
	return apperr.NewStepOutOfOrderError(st.ID, name)
}

func (s *Store) AttachComplianceReport(ctx context.Context, stepID, reportID, note string) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE workflow_steps
		SET compliance_report_id = $2, note = COALESCE($3, note), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'in_progress')`,
		stepID, reportID, nullString(note),
	)
	if err != nil {
		return apperr.NewDatabaseError("attach compliance report", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.NewDatabaseError("rows affected", err)
	}
	if n == 0 {
		if _, err := s.GetStep(ctx, stepID); err != nil {
			return err
		}
		return apperr.NewConflictError("workflow step", stepID)
	}
	return nil
}

// prefixed qualifies a comma separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
