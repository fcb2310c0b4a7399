// Package memory is an in-process store.Store with the same conditional-update
// semantics as the Postgres store. Transactions are serialized and roll back by
// restoring a snapshot.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rental-docflow/internal/common/database"
	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/models"
	"rental-docflow/internal/store"
)

type txKey struct{}

type tables struct {
	documents     map[string]models.Document
	steps         map[string]models.WorkflowStep
	verifications map[string]models.VerificationResult
	reports       map[string]models.ComplianceReport
	signatures    map[string]models.SignatureRequest
	order         map[string]int64 // signature request id -> insertion sequence
	audit         []models.AuditLogEntry
}

func newTables() tables {
	return tables{
		documents:     make(map[string]models.Document),
		steps:         make(map[string]models.WorkflowStep),
		verifications: make(map[string]models.VerificationResult),
		reports:       make(map[string]models.ComplianceReport),
		signatures:    make(map[string]models.SignatureRequest),
		order:         make(map[string]int64),
	}
}

// clone copies the maps. Rows are values and are replaced, never mutated in
// place, so a shallow copy per row is enough.
func (t tables) clone() tables {
	c := newTables()
	for k, v := range t.documents {
		c.documents[k] = v
	}
	for k, v := range t.steps {
		c.steps[k] = v
	}
	for k, v := range t.verifications {
		c.verifications[k] = v
	}
	for k, v := range t.reports {
		c.reports[k] = v
	}
	for k, v := range t.signatures {
		c.signatures[k] = v
	}
	for k, v := range t.order {
		c.order[k] = v
	}
	c.audit = append([]models.AuditLogEntry(nil), t.audit...)
	return c
}

var _ store.Store = (*Store)(nil)

type Store struct {
	txMu sync.Mutex // held for the whole of a transaction or a single statement
	mu   sync.Mutex // guards data
	data tables
	seq  int64
	now  func() time.Time
}

func New() *Store {
	return &Store{data: newTables(), now: func() time.Time { return time.Now().UTC() }}
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// WithinTx serializes fn against every other writer. After a successful fn the
// scope's after-commit hooks run on ctx.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	txCtx, scope := database.NewScope(context.WithValue(ctx, txKey{}, true), nil)
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				s.restore(snapshot)
				s.txMu.Unlock()
				panic(p)
			}
		}()
		return fn(txCtx)
	}()
	if err != nil {
		s.restore(snapshot)
		s.txMu.Unlock()
		return err
	}
	s.txMu.Unlock()

	scope.Committed(ctx)
	return nil
}

func (s *Store) restore(snapshot tables) {
	s.mu.Lock()
	s.data = snapshot
	s.mu.Unlock()
}

// lock acquires the statement lock. Inside a transaction the transaction
// already holds txMu.
func (s *Store) lock(ctx context.Context) func() {
	if !inTx(ctx) {
		s.txMu.Lock()
		s.mu.Lock()
		return func() {
			s.mu.Unlock()
			s.txMu.Unlock()
		}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// nextSeq orders rows created within the same clock tick.
func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

// ---- documents ----

func (s *Store) CreateDocument(ctx context.Context, doc *models.Document) error {
	unlock := s.lock(ctx)
	defer unlock()

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if _, ok := s.data.documents[doc.ID]; ok {
		return apperr.NewConflictError("document", doc.ID)
	}
	if doc.Status == "" {
		doc.Status = models.DocumentStatusDraft
	}
	now := s.now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	s.data.documents[doc.ID] = copyDocument(*doc)
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	unlock := s.lock(ctx)
	defer unlock()

	d, ok := s.data.documents[id]
	if !ok {
		return nil, apperr.NewNotFoundError("document", id)
	}
	d = copyDocument(d)
	return &d, nil
}

func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, from []models.DocumentStatus, to models.DocumentStatus) error {
	unlock := s.lock(ctx)
	defer unlock()

	d, ok := s.data.documents[id]
	if !ok {
		return apperr.NewNotFoundError("document", id)
	}
	if !containsDocStatus(from, d.Status) {
		return apperr.NewConflictError("document", id)
	}
	d.Status = to
	d.UpdatedAt = s.now()
	s.data.documents[id] = d
	return nil
}

func (s *Store) UpdateDocumentExpiration(ctx context.Context, id string, expected *time.Time, next time.Time) error {
	unlock := s.lock(ctx)
	defer unlock()

	d, ok := s.data.documents[id]
	if !ok {
		return apperr.NewNotFoundError("document", id)
	}
	if !sameTime(d.ExpirationDate, expected) {
		return apperr.NewConflictError("document", id)
	}
	n := next
	d.ExpirationDate = &n
	d.UpdatedAt = s.now()
	s.data.documents[id] = d
	return nil
}

func (s *Store) ListDocumentsExpiringBefore(ctx context.Context, before time.Time) ([]models.Document, error) {
	unlock := s.lock(ctx)
	defer unlock()

	var out []models.Document
	for _, d := range s.data.documents {
		if d.ExpirationDate != nil && d.ExpirationDate.Before(before) {
			out = append(out, copyDocument(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpirationDate.Before(*out[j].ExpirationDate) })
	return out, nil
}

// ---- steps ----

func (s *Store) CreateSteps(ctx context.Context, steps []models.WorkflowStep) error {
	unlock := s.lock(ctx)
	defer unlock()

	now := s.now()
	for _, st := range steps {
		for _, existing := range s.data.steps {
			if existing.DocumentID == st.DocumentID {
				return apperr.NewConflictError("workflow", st.DocumentID)
			}
		}
	}
	seen := make(map[int]bool, len(steps))
	for i := range steps {
		st := &steps[i]
		if seen[st.Position] {
			return apperr.NewConflictError("workflow", st.DocumentID)
		}
		seen[st.Position] = true
		if st.ID == "" {
			st.ID = uuid.NewString()
		}
		if st.CreatedAt.IsZero() {
			st.CreatedAt = now
		}
		st.UpdatedAt = now
	}
	for _, st := range steps {
		s.data.steps[st.ID] = st
	}
	return nil
}

func (s *Store) GetStep(ctx context.Context, id string) (*models.WorkflowStep, error) {
	unlock := s.lock(ctx)
	defer unlock()

	st, ok := s.data.steps[id]
	if !ok {
		return nil, apperr.NewNotFoundError("workflow step", id)
	}
	return &st, nil
}

func (s *Store) ListSteps(ctx context.Context, documentID string) ([]models.WorkflowStep, error) {
	unlock := s.lock(ctx)
	defer unlock()
	return s.stepsOf(documentID), nil
}

func (s *Store) stepsOf(documentID string) []models.WorkflowStep {
	var out []models.WorkflowStep
	for _, st := range s.data.steps {
		if st.DocumentID == documentID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (s *Store) TransitionStep(ctx context.Context, t models.StepTransition) (*models.WorkflowStep, error) {
	unlock := s.lock(ctx)
	defer unlock()

	st, ok := s.data.steps[t.StepID]
	if !ok {
		return nil, apperr.NewNotFoundError("workflow step", t.StepID)
	}
	if !containsStepStatus(t.From, st.Status) {
		return nil, apperr.NewConflictError("workflow step", t.StepID)
	}
	if t.RequireCompletedPredecessors {
		for _, p := range s.stepsOf(st.DocumentID) {
			if p.Position < st.Position && p.Status != models.StepStatusCompleted {
				return nil, apperr.NewStepOutOfOrderError(st.ID, string(p.Name))
			}
		}
	}

	st.Status = t.To
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		st.CompletedAt = &c
	}
	if t.Note != "" {
		st.Note = t.Note
	}
	st.UpdatedAt = s.now()
	s.data.steps[st.ID] = st
	return &st, nil
}

func (s *Store) AttachComplianceReport(ctx context.Context, stepID, reportID, note string) error {
	unlock := s.lock(ctx)
	defer unlock()

	st, ok := s.data.steps[stepID]
	if !ok {
		return apperr.NewNotFoundError("workflow step", stepID)
	}
	if st.Status.IsTerminal() {
		return apperr.NewConflictError("workflow step", stepID)
	}
	st.ComplianceReportID = reportID
	if note != "" {
		st.Note = note
	}
	st.UpdatedAt = s.now()
	s.data.steps[stepID] = st
	return nil
}

// ---- verifications ----

func (s *Store) CreateVerification(ctx context.Context, v *models.VerificationResult) error {
	unlock := s.lock(ctx)
	defer unlock()

	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if _, ok := s.data.verifications[v.ID]; ok {
		return apperr.NewConflictError("verification", v.ID)
	}
	if v.ExternalRef != "" && s.refTaken(v.ExternalRef) {
		return apperr.NewConflictError("verification", v.ExternalRef)
	}
	if v.Status == "" {
		v.Status = models.VerificationPending
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	s.data.verifications[v.ID] = copyVerification(*v)
	return nil
}

func (s *Store) refTaken(ref string) bool {
	for _, v := range s.data.verifications {
		if v.ExternalRef == ref {
			return true
		}
	}
	return false
}

func (s *Store) GetVerification(ctx context.Context, id string) (*models.VerificationResult, error) {
	unlock := s.lock(ctx)
	defer unlock()

	v, ok := s.data.verifications[id]
	if !ok {
		return nil, apperr.NewNotFoundError("verification", id)
	}
	v = copyVerification(v)
	return &v, nil
}

func (s *Store) GetVerificationByExternalRef(ctx context.Context, ref string) (*models.VerificationResult, error) {
	unlock := s.lock(ctx)
	defer unlock()

	for _, v := range s.data.verifications {
		if v.ExternalRef == ref {
			v = copyVerification(v)
			return &v, nil
		}
	}
	return nil, apperr.NewNotFoundError("verification", ref)
}

func (s *Store) SetVerificationExternalRef(ctx context.Context, id, ref string) error {
	unlock := s.lock(ctx)
	defer unlock()

	v, ok := s.data.verifications[id]
	if !ok || v.ExternalRef != "" {
		return apperr.NewConflictError("verification", id)
	}
	if s.refTaken(ref) {
		return apperr.NewConflictError("verification", ref)
	}
	v.ExternalRef = ref
	s.data.verifications[id] = v
	return nil
}

func (s *Store) ResolveVerification(ctx context.Context, v *models.VerificationResult) error {
	unlock := s.lock(ctx)
	defer unlock()

	cur, ok := s.data.verifications[v.ID]
	if !ok || cur.Status != models.VerificationPending {
		return apperr.NewConflictError("verification", v.ID)
	}
	cur.Status = v.Status
	cur.VerifiedFields = append([]string(nil), v.VerifiedFields...)
	cur.FailedFields = append([]string(nil), v.FailedFields...)
	cur.Confidence = v.Confidence
	if v.Note != "" {
		cur.Note = v.Note
	}
	if v.CompletedAt != nil {
		c := *v.CompletedAt
		cur.CompletedAt = &c
	}
	s.data.verifications[v.ID] = cur
	return nil
}

func (s *Store) ListVerifications(ctx context.Context, documentID string) ([]models.VerificationResult, error) {
	unlock := s.lock(ctx)
	defer unlock()

	var out []models.VerificationResult
	for _, v := range s.data.verifications {
		if v.DocumentID == documentID {
			out = append(out, copyVerification(v))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---- compliance ----

func (s *Store) CreateComplianceReport(ctx context.Context, r *models.ComplianceReport) error {
	unlock := s.lock(ctx)
	defer unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	c := *r
	c.Issues = append([]string(nil), r.Issues...)
	c.JurisdictionCompliance.RequiredRules = append([]string(nil), r.JurisdictionCompliance.RequiredRules...)
	s.data.reports[r.ID] = c
	return nil
}

func (s *Store) GetComplianceReport(ctx context.Context, id string) (*models.ComplianceReport, error) {
	unlock := s.lock(ctx)
	defer unlock()

	r, ok := s.data.reports[id]
	if !ok {
		return nil, apperr.NewNotFoundError("compliance report", id)
	}
	return &r, nil
}

func (s *Store) ListComplianceReports(ctx context.Context, documentID string) ([]models.ComplianceReport, error) {
	unlock := s.lock(ctx)
	defer unlock()

	var out []models.ComplianceReport
	for _, r := range s.data.reports {
		if r.DocumentID == documentID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---- signatures ----

func (s *Store) CreateSignatureRequest(ctx context.Context, r *models.SignatureRequest) error {
	unlock := s.lock(ctx)
	defer unlock()

	if r.Status == "" {
		r.Status = models.SignaturePending
	}
	if r.Status == models.SignaturePending {
		for _, existing := range s.data.signatures {
			if existing.DocumentID == r.DocumentID && existing.SignerID == r.SignerID &&
				existing.Status == models.SignaturePending {
				return apperr.NewDuplicatePendingRequestError(r.DocumentID, r.SignerID)
			}
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.data.signatures[r.ID] = copySignature(*r)
	s.data.order[r.ID] = s.nextSeq()
	return nil
}

func (s *Store) GetSignatureRequest(ctx context.Context, id string) (*models.SignatureRequest, error) {
	unlock := s.lock(ctx)
	defer unlock()

	r, ok := s.data.signatures[id]
	if !ok {
		return nil, apperr.NewNotFoundError("signature request", id)
	}
	r = copySignature(r)
	return &r, nil
}

func (s *Store) ResolveSignatureRequest(ctx context.Context, res models.SignatureResolution) (*models.SignatureRequest, error) {
	unlock := s.lock(ctx)
	defer unlock()

	r, ok := s.data.signatures[res.RequestID]
	if !ok {
		return nil, apperr.NewNotFoundError("signature request", res.RequestID)
	}
	if r.Status != models.SignaturePending {
		return nil, apperr.NewConflictError("signature request", res.RequestID)
	}
	if res.To != models.SignatureExpired && r.ExpiresAt.Before(res.ResolvedAt) {
		return nil, apperr.NewConflictError("signature request", res.RequestID)
	}

	r.Status = res.To
	if res.Evidence != nil {
		ev := *res.Evidence
		r.Evidence = &ev
	}
	r.DeclineReason = res.DeclineReason
	at := res.ResolvedAt
	r.ResolvedAt = &at
	s.data.signatures[r.ID] = r
	r = copySignature(r)
	return &r, nil
}

func (s *Store) ListSignatureRequests(ctx context.Context, documentID string) ([]models.SignatureRequest, error) {
	unlock := s.lock(ctx)
	defer unlock()

	seqs := s.data.order
	var out []models.SignatureRequest
	for _, r := range s.data.signatures {
		if r.DocumentID == documentID {
			out = append(out, copySignature(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return seqs[out[i].ID] < seqs[out[j].ID]
	})
	return out, nil
}

func (s *Store) PendingSignatureRequest(ctx context.Context, documentID, signerID string) (*models.SignatureRequest, error) {
	unlock := s.lock(ctx)
	defer unlock()

	for _, r := range s.data.signatures {
		if r.DocumentID == documentID && r.SignerID == signerID && r.Status == models.SignaturePending {
			r = copySignature(r)
			return &r, nil
		}
	}
	return nil, apperr.NewNotFoundError("signature request", documentID+"/"+signerID)
}

// ---- audit ----

func (s *Store) AppendAudit(ctx context.Context, e *models.AuditLogEntry) error {
	unlock := s.lock(ctx)
	defer unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	c := *e
	if e.Details != nil {
		c.Details = make(map[string]interface{}, len(e.Details))
		for k, v := range e.Details {
			c.Details[k] = v
		}
	}
	s.data.audit = append(s.data.audit, c)
	return nil
}

func (s *Store) ListAudit(ctx context.Context, documentID string) ([]models.AuditLogEntry, error) {
	unlock := s.lock(ctx)
	defer unlock()

	var out []models.AuditLogEntry
	for _, e := range s.data.audit {
		if e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// ---- helpers ----

func containsDocStatus(list []models.DocumentStatus, v models.DocumentStatus) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsStepStatus(list []models.StepStatus, v models.StepStatus) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func copyDocument(d models.Document) models.Document {
	if d.ExpirationDate != nil {
		e := *d.ExpirationDate
		d.ExpirationDate = &e
	}
	return d
}

func copyVerification(v models.VerificationResult) models.VerificationResult {
	v.VerifiedFields = append([]string(nil), v.VerifiedFields...)
	v.FailedFields = append([]string(nil), v.FailedFields...)
	if v.CompletedAt != nil {
		c := *v.CompletedAt
		v.CompletedAt = &c
	}
	return v
}

func copySignature(r models.SignatureRequest) models.SignatureRequest {
	if r.Evidence != nil {
		ev := *r.Evidence
		r.Evidence = &ev
	}
	if r.ResolvedAt != nil {
		at := *r.ResolvedAt
		r.ResolvedAt = &at
	}
	return r
}
