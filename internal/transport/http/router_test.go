package httptransport

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rental-docflow/internal/audit"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/expiration"
	"rental-docflow/internal/models"
	"rental-docflow/internal/permission"
	"rental-docflow/internal/signature"
	"rental-docflow/internal/store/memory"
	"rental-docflow/internal/verification"
	"rental-docflow/internal/workflow"
)

const testSecret = "whsec-test"

type mockCallbacks struct {
	mock.Mock
}

func (m *mockCallbacks) HandleCallback(ctx context.Context, payload []byte) (*models.VerificationResult, error) {
	args := m.Called(ctx, payload)
	r, _ := args.Get(0).(*models.VerificationResult)
	return r, args.Error(1)
}

type sink struct {
	mu    sync.Mutex
	notes []models.Notification
}

func (s *sink) Notify(_ context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, n)
	return nil
}

func (s *sink) Publish(context.Context, models.DocumentEvent) error { return nil }

type server struct {
	store     *memory.Store
	callbacks *mockCallbacks
	router    http.Handler
	doc       *models.Document
}

func newServer(t *testing.T, readiness map[string]ReadinessCheck) *server {
	t.Helper()
	log := logger.NewTestLogger(t)
	st := memory.New()
	out := &sink{}
	recorder := audit.NewRecorder(st, nil, logger.NewNoOpLogger())

	coordinator := signature.NewCoordinator(st, recorder, out, out, log)
	orch := workflow.NewOrchestrator(workflow.Dependencies{
		Repo:       st,
		Audit:      recorder,
		Signatures: coordinator,
		Notifier:   out,
		Publisher:  out,
	}, log)
	coordinator.SetListener(orch)
	tracker := expiration.NewTracker(st, recorder, out, out, expiration.Config{RenewalPeriodDays: 365}, log)

	directory := permission.NewStaticDirectory(
		models.Actor{ID: "landlord-1", Role: models.RoleLandlord, OwnedPropertyIDs: []string{"prop-1"}},
		models.Actor{ID: "landlord-2", Role: models.RoleLandlord, OwnedPropertyIDs: []string{"prop-2"}},
		models.Actor{ID: "tenant-1", Role: models.RoleTenant},
	)

	exp := time.Now().UTC().AddDate(0, 6, 0).Truncate(time.Second)
	doc := &models.Document{
		PropertyID:     "prop-1",
		TenantID:       "tenant-1",
		Type:           models.DocumentTypeLease,
		StorageURL:     "s3://leases/lease.pdf",
		Jurisdiction:   "CA",
		ExpirationDate: &exp,
	}
	require.NoError(t, st.CreateDocument(context.Background(), doc))

	callbacks := new(mockCallbacks)
	h := NewHandler(Dependencies{
		Lookup:        st,
		Gate:          permission.NewGate(directory, nil, log),
		Workflow:      orch,
		Signatures:    coordinator,
		Verifications: callbacks,
		Expirations:   tracker,
		Audit:         recorder,
		WebhookSecret: testSecret,
		Readiness:     readiness,
	}, log)

	return &server{store: st, callbacks: callbacks, router: NewRouter(h, 5*time.Second), doc: doc}
}

func (s *server) do(t *testing.T, method, path, actor string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0")
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error errorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func (s *server) start(t *testing.T) []models.WorkflowStep {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/documents/"+s.doc.ID+"/workflow", "landlord-1", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var body struct {
		Steps []models.WorkflowStep `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Steps
}

func TestHealthAndReady(t *testing.T) {
	s := newServer(t, map[string]ReadinessCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_ready", body.Status)
	assert.Equal(t, "ok", body.Checks["database"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
}

func TestAPIRequiresActor(t *testing.T) {
	s := newServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/documents/"+s.doc.ID+"/workflow", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", errorCode(t, rec))
}

func TestStartWorkflow(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/documents/"+s.doc.ID+"/workflow", "tenant-1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "AUTHORIZATION_DENIED", errorCode(t, rec))

	rec = s.do(t, http.MethodPost, "/api/v1/documents/"+s.doc.ID+"/workflow", "landlord-2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	steps := s.start(t)
	require.Len(t, steps, 4)
	assert.Equal(t, models.StepUpload, steps[0].Name)
	assert.Equal(t, "landlord-1", steps[3].AssigneeID)

	rec = s.do(t, http.MethodPost, "/api/v1/documents/"+s.doc.ID+"/workflow", "landlord-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_STARTED", errorCode(t, rec))

	rec = s.do(t, http.MethodGet, "/api/v1/documents/"+s.doc.ID+"/workflow", "tenant-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartWorkflow_UnknownDocument(t *testing.T) {
	s := newServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/v1/documents/missing/workflow", "landlord-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))
}

func TestAdvance(t *testing.T) {
	s := newServer(t, nil)
	steps := s.start(t)
	upload := "/api/v1/steps/" + steps[0].ID + "/advance"

	tests := []struct {
		name   string
		actor  string
		body   interface{}
		status int
		code   string
	}{
		{"unknown kind", "landlord-1", map[string]string{"kind": "verification"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"malformed body", "landlord-1", "not an object", http.StatusBadRequest, "INPUT_PARSING_FAILED"},
		{"tenant cannot approve", "tenant-1", map[string]string{"kind": "approve"}, http.StatusForbidden, "AUTHORIZATION_DENIED"},
		{"reject needs a reason", "landlord-1", map[string]string{"kind": "reject"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"approve", "landlord-1", map[string]string{"kind": "approve"}, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, upload, tt.actor, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, errorCode(t, rec))
			}
		})
	}

	rec := s.do(t, http.MethodPost, upload, "landlord-1", map[string]string{"kind": "approve"})
	assert.Equal(t, http.StatusConflict, rec.Code, "a finished step cannot be approved twice")

	rec = s.do(t, http.MethodPost, "/api/v1/steps/"+steps[3].ID+"/advance", "landlord-1", map[string]string{"kind": "approve"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "STEP_OUT_OF_ORDER", errorCode(t, rec))
}

func TestAdvance_LandlordApprovalNeedsSignatures(t *testing.T) {
	s := newServer(t, nil)
	steps := s.start(t)
	advance := func(id string) *httptest.ResponseRecorder {
		return s.do(t, http.MethodPost, "/api/v1/steps/"+id+"/advance", "landlord-1", map[string]string{"kind": "approve"})
	}

	require.Equal(t, http.StatusOK, advance(steps[0].ID).Code)
	require.Equal(t, http.StatusOK, advance(steps[1].ID).Code)
	report := &models.ComplianceReport{DocumentID: s.doc.ID, StepID: steps[2].ID, Jurisdiction: "CA", IsValid: true, RiskLevel: models.RiskLow}
	require.NoError(t, s.store.CreateComplianceReport(context.Background(), report))
	require.NoError(t, s.store.AttachComplianceReport(context.Background(), steps[2].ID, report.ID, ""))
	require.Equal(t, http.StatusOK, advance(steps[2].ID).Code)

	rec := advance(steps[3].ID)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, "SIGNATURES_INCOMPLETE", errorCode(t, rec))

	doc, err := s.store.GetDocument(context.Background(), s.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusPendingSignature, doc.Status)
}

func TestSignatures(t *testing.T) {
	s := newServer(t, nil)
	base := "/api/v1/documents/" + s.doc.ID + "/signatures"

	rec := s.do(t, http.MethodPost, base, "tenant-1", map[string]interface{}{"signerId": "tenant-1", "role": "tenant"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, base, "landlord-1", map[string]interface{}{"signerId": "tenant-1", "role": "tenant", "expiresInDays": 7})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.SignatureRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, models.SignaturePending, created.Status)

	rec = s.do(t, http.MethodPost, base, "landlord-1", map[string]interface{}{"signerId": "tenant-1", "role": "tenant"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DUPLICATE_PENDING_REQUEST", errorCode(t, rec))

	sign := "/api/v1/signatures/" + created.ID + "/sign"
	rec = s.do(t, http.MethodPost, sign, "landlord-1", map[string]string{"typedName": "Lee Landlord"})
	assert.Equal(t, http.StatusForbidden, rec.Code, "only the named signer may sign")

	rec = s.do(t, http.MethodPost, sign, "tenant-1", map[string]string{"typedName": "  Terry Tenant "})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var signed models.SignatureRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &signed))
	assert.Equal(t, models.SignatureSigned, signed.Status)
	require.NotNil(t, signed.Evidence)
	assert.Equal(t, "192.0.2.1", signed.Evidence.IPAddress)

	rec = s.do(t, http.MethodPost, sign, "tenant-1", map[string]string{"typedName": "Terry Tenant"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_TERMINAL", errorCode(t, rec))

	rec = s.do(t, http.MethodGet, "/api/v1/signatures/"+created.ID, "tenant-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, base, "landlord-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Signatures []models.SignatureRequest `json:"signatures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Signatures, 1)
}

func TestDeclineAndResend(t *testing.T) {
	s := newServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/v1/documents/"+s.doc.ID+"/signatures", "landlord-1",
		map[string]interface{}{"signerId": "tenant-1", "role": "tenant"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.SignatureRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = s.do(t, http.MethodPost, "/api/v1/signatures/"+created.ID+"/decline", "tenant-1", map[string]string{"reason": "rent is wrong"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/signatures/"+created.ID+"/resend", "tenant-1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/signatures/"+created.ID+"/resend", "landlord-1", map[string]int{"expiresInDays": 3})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var next models.SignatureRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &next))
	assert.NotEqual(t, created.ID, next.ID)
	assert.Equal(t, models.SignaturePending, next.Status)
}

func TestExpirationAndRenew(t *testing.T) {
	s := newServer(t, nil)
	base := "/api/v1/documents/" + s.doc.ID

	rec := s.do(t, http.MethodGet, base+"/expiration", "tenant-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ev expiration.Evaluation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	assert.Equal(t, expiration.StatusValid, ev.Status)

	rec = s.do(t, http.MethodPost, base+"/renew", "tenant-1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/renew", "landlord-1", map[string]int{"periodDays": 30})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var renewed models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &renewed))
	require.NotNil(t, renewed.ExpirationDate)
	assert.True(t, renewed.ExpirationDate.Equal(s.doc.ExpirationDate.AddDate(0, 0, 30)))
}

func TestAuditHistory(t *testing.T) {
	s := newServer(t, nil)
	s.start(t)

	rec := s.do(t, http.MethodGet, "/api/v1/documents/"+s.doc.ID+"/audit", "tenant-1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/documents/"+s.doc.ID+"/audit", "landlord-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Entries []models.AuditLogEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Entries)
}

func TestAuditSearch(t *testing.T) {
	s := newServer(t, nil)
	steps := s.start(t)
	rec := s.do(t, http.MethodPost, "/api/v1/steps/"+steps[0].ID+"/advance", "landlord-1", map[string]string{"kind": "approve"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	search := "/api/v1/documents/" + s.doc.ID + "/audit/search"
	rec = s.do(t, http.MethodGet, search+"?action=approve", "tenant-1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, search+"?action=approve&actor=landlord-1", "landlord-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Entries []models.AuditLogEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, models.AuditApprove, body.Entries[0].Action)
	assert.Equal(t, s.doc.ID, body.Entries[0].DocumentID)

	for _, bad := range []string{"?from=yesterday", "?size=0", "?action=delete"} {
		rec = s.do(t, http.MethodGet, search+bad, "landlord-1", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
		assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec), bad)
	}
}

func TestVerificationWebhook(t *testing.T) {
	s := newServer(t, nil)
	payload := []byte(`{"requestId":"ver-1","status":"verified"}`)

	post := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/verification", bytes.NewReader(payload))
		if signature != "" {
			req.Header.Set(verification.SignatureHeader, signature)
		}
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec
	}

	rec := post("")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = post(hex.EncodeToString(verification.Sign(payload, "other-secret")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	s.callbacks.AssertNotCalled(t, "HandleCallback", mock.Anything, mock.Anything)

	s.callbacks.On("HandleCallback", mock.Anything, payload).
		Return(&models.VerificationResult{ID: "ver-1", Status: models.VerificationVerified}, nil).Once()

	rec = post(hex.EncodeToString(verification.Sign(payload, testSecret)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ver-1", body["verificationId"])
	assert.Equal(t, string(models.VerificationVerified), body["result"])
	s.callbacks.AssertExpectations(t)
}
