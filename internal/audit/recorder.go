// Package audit appends the immutable per-document action log.
package audit

import (
	"context"
	"time"

	"rental-docflow/internal/common/database"
	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/models"
	"rental-docflow/internal/store"
)

// Indexer mirrors committed entries into a search index.
type Indexer interface {
	Index(ctx context.Context, entry models.AuditLogEntry) error
}

// Searcher is implemented by indexers that can answer queries.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]models.AuditLogEntry, error)
}

// Recorder writes audit entries. It is called by the orchestrator and the
// coordinators inside their transactions, never by end users directly.
type Recorder struct {
	repo    store.AuditRepository
	indexer Indexer
	logger  logger.Logger
	now     func() time.Time
}

func NewRecorder(repo store.AuditRepository, indexer Indexer, log logger.Logger) *Recorder {
	return &Recorder{
		repo:    repo,
		indexer: indexer,
		logger:  logger.ForComponent(log, "audit"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record appends one entry in the caller's transaction. Indexing happens
// after commit and its failure is only logged.
func (r *Recorder) Record(ctx context.Context, documentID string, action models.AuditAction, actorID string, details map[string]interface{}) (*models.AuditLogEntry, error) {
	if documentID == "" || actorID == "" {
		return nil, apperr.NewValidationError("audit entry needs a document and an actor")
	}
	if !action.Valid() {
		return nil, apperr.NewValidationError("unknown audit action " + string(action))
	}

	entry := &models.AuditLogEntry{
		DocumentID: documentID,
		Action:     action,
		ActorID:    actorID,
		Timestamp:  r.now(),
		Details:    details,
	}
	if err := r.repo.AppendAudit(ctx, entry); err != nil {
		return nil, err
	}

	if r.indexer != nil {
		committed := *entry
		database.AfterCommit(ctx, func(ctx context.Context) {
			if err := r.indexer.Index(ctx, committed); err != nil {
				r.logger.Error("failed to index audit entry", map[string]interface{}{
					"entryId":    committed.ID,
					"documentId": committed.DocumentID,
					"error":      err,
				})
			}
		})
	}
	return entry, nil
}

// History returns the authoritative log of a document, oldest first.
func (r *Recorder) History(ctx context.Context, documentID string) ([]models.AuditLogEntry, error) {
	return r.repo.ListAudit(ctx, documentID)
}

// Search answers a document-scoped query from the index when one is wired
// and reachable, and from the database otherwise.
func (r *Recorder) Search(ctx context.Context, q Query) ([]models.AuditLogEntry, error) {
	if q.DocumentID == "" {
		return nil, apperr.NewValidationError("audit search needs a document")
	}
	for _, a := range q.Actions {
		if !a.Valid() {
			return nil, apperr.NewValidationError("unknown audit action " + string(a))
		}
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, apperr.NewValidationError("audit search range ends before it starts")
	}

	if searcher, ok := r.indexer.(Searcher); ok {
		entries, err := searcher.Search(ctx, q)
		if err == nil {
			return entries, nil
		}
		r.logger.Warn("audit index search failed, reading the database", map[string]interface{}{
			"documentId": q.DocumentID,
			"error":      err,
		})
	}

	entries, err := r.repo.ListAudit(ctx, q.DocumentID)
	if err != nil {
		return nil, err
	}
	return filterEntries(entries, q), nil
}

func filterEntries(entries []models.AuditLogEntry, q Query) []models.AuditLogEntry {
	size := q.size()
	out := make([]models.AuditLogEntry, 0, len(entries))
	for _, e := range entries {
		if len(out) == size {
			break
		}
		if q.matches(e) {
			out = append(out, e)
		}
	}
	return out
}
