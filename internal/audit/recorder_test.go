package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rental-docflow/internal/common/config"
	"rental-docflow/internal/common/database"
	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/models"
	"rental-docflow/internal/store/memory"
)

type mockIndexer struct {
	mock.Mock
}

func (m *mockIndexer) Index(ctx context.Context, entry models.AuditLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

type mockSearchIndexer struct {
	mockIndexer
}

func (m *mockSearchIndexer) Search(ctx context.Context, q Query) ([]models.AuditLogEntry, error) {
	args := m.Called(ctx, q)
	entries, _ := args.Get(0).([]models.AuditLogEntry)
	return entries, args.Error(1)
}

func TestRecord_IndexesOnlyAfterCommit(t *testing.T) {
	st := memory.New()
	idx := new(mockIndexer)
	idx.On("Index", mock.Anything, mock.MatchedBy(func(e models.AuditLogEntry) bool {
		return e.DocumentID == "doc-1" && e.Action == models.AuditApprove
	})).Return(nil).Once()
	rec := NewRecorder(st, idx, logger.NewTestLogger(t))

	err := st.WithinTx(context.Background(), func(ctx context.Context) error {
		_, err := rec.Record(ctx, "doc-1", models.AuditApprove, "landlord-1", map[string]interface{}{"step": "legal_review"})
		require.NoError(t, err)
		idx.AssertNotCalled(t, "Index", mock.Anything, mock.Anything)
		return nil
	})
	require.NoError(t, err)
	idx.AssertExpectations(t)
}

func TestRecord_RolledBackEntryIsNeitherStoredNorIndexed(t *testing.T) {
	st := memory.New()
	idx := new(mockIndexer)
	rec := NewRecorder(st, idx, logger.NewNoOpLogger())
	ctx := context.Background()

	err := st.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := rec.Record(ctx, "doc-1", models.AuditSign, "tenant-1", nil); err != nil {
			return err
		}
		return errors.New("later step failed")
	})
	require.Error(t, err)

	history, err := rec.History(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, history)
	idx.AssertNotCalled(t, "Index", mock.Anything, mock.Anything)
}

func TestRecord_IndexFailureIsNotReturned(t *testing.T) {
	st := memory.New()
	idx := new(mockIndexer)
	idx.On("Index", mock.Anything, mock.Anything).Return(errors.New("cluster red"))
	rec := NewRecorder(st, idx, logger.NewNoOpLogger())

	entry, err := rec.Record(context.Background(), "doc-1", models.AuditView, "tenant-1", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	idx.AssertExpectations(t)
}

func TestRecord_Validation(t *testing.T) {
	rec := NewRecorder(memory.New(), nil, logger.NewNoOpLogger())

	_, err := rec.Record(context.Background(), "doc-1", "delete", "admin-1", nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = rec.Record(context.Background(), "doc-1", models.AuditView, "", nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func newTestES(t *testing.T, handler http.HandlerFunc) *database.ElasticsearchClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	es, err := database.NewElasticsearch(config.ElasticsearchConfig{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return es
}

func TestESIndexer_IndexUsesEntryID(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	es := newTestES(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	})

	idx := NewESIndexer(es, "document-audit")
	err := idx.Index(context.Background(), models.AuditLogEntry{ID: "a-1", DocumentID: "doc-1", Action: models.AuditRenew, ActorID: "landlord-1"})
	require.NoError(t, err)
	assert.Equal(t, "/document-audit/_doc/a-1", gotPath)
	assert.Equal(t, "renew", gotBody["action"])
}

func TestESIndexer_Search(t *testing.T) {
	var gotQuery string
	es := newTestES(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotQuery = string(raw)
		_, _ = w.Write([]byte(`{"hits":{"hits":[
			{"_source":{"id":"a-1","documentId":"doc-1","action":"sign","actorId":"tenant-1","timestamp":"2026-03-01T10:00:00Z"}},
			{"_source":{"id":"a-2","documentId":"doc-1","action":"approve","actorId":"landlord-1","timestamp":"2026-03-02T10:00:00Z"}}
		]}}`))
	})

	idx := NewESIndexer(es, "document-audit")
	entries, err := idx.Search(context.Background(), Query{
		DocumentID: "doc-1",
		Actions:    []models.AuditAction{models.AuditSign, models.AuditApprove},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.AuditApprove, entries[1].Action)
	assert.True(t, strings.Contains(gotQuery, `"documentId":"doc-1"`))
	assert.True(t, strings.Contains(gotQuery, `"action":["sign","approve"]`))
}

func TestESIndexer_SearchError(t *testing.T) {
	es := newTestES(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad query"}`))
	})

	_, err := NewESIndexer(es, "document-audit").Search(context.Background(), Query{ActorID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func seedHistory(t *testing.T, rec *Recorder, base time.Time) {
	t.Helper()
	steps := []struct {
		action models.AuditAction
		actor  string
	}{
		{models.AuditView, "tenant-1"},
		{models.AuditSign, "tenant-1"},
		{models.AuditSign, "landlord-1"},
		{models.AuditApprove, "landlord-1"},
	}
	for i, s := range steps {
		at := base.Add(time.Duration(i) * time.Hour)
		rec.now = func() time.Time { return at }
		_, err := rec.Record(context.Background(), "doc-1", s.action, s.actor, nil)
		require.NoError(t, err)
	}
	_, err := rec.Record(context.Background(), "doc-2", models.AuditSign, "tenant-1", nil)
	require.NoError(t, err)
}

func TestSearch_DatabaseFiltersWithoutIndex(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := NewRecorder(memory.New(), nil, logger.NewNoOpLogger())
	seedHistory(t, rec, base)

	tests := []struct {
		name    string
		query   Query
		actions []models.AuditAction
	}{
		{"whole document", Query{DocumentID: "doc-1"}, []models.AuditAction{models.AuditView, models.AuditSign, models.AuditSign, models.AuditApprove}},
		{"by actor", Query{DocumentID: "doc-1", ActorID: "landlord-1"}, []models.AuditAction{models.AuditSign, models.AuditApprove}},
		{"by action", Query{DocumentID: "doc-1", Actions: []models.AuditAction{models.AuditSign}}, []models.AuditAction{models.AuditSign, models.AuditSign}},
		{"time range", Query{DocumentID: "doc-1", From: base.Add(time.Hour), To: base.Add(2 * time.Hour)}, []models.AuditAction{models.AuditSign, models.AuditSign}},
		{"size", Query{DocumentID: "doc-1", Size: 1}, []models.AuditAction{models.AuditView}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := rec.Search(context.Background(), tt.query)
			require.NoError(t, err)
			var got []models.AuditAction
			for _, e := range entries {
				assert.Equal(t, "doc-1", e.DocumentID)
				got = append(got, e.Action)
			}
			assert.Equal(t, tt.actions, got)
		})
	}
}

func TestSearch_UsesIndexWhenAvailable(t *testing.T) {
	idx := new(mockSearchIndexer)
	q := Query{DocumentID: "doc-1", ActorID: "tenant-1"}
	hits := []models.AuditLogEntry{{ID: "a-9", DocumentID: "doc-1", Action: models.AuditSign, ActorID: "tenant-1"}}
	idx.On("Search", mock.Anything, q).Return(hits, nil).Once()
	rec := NewRecorder(memory.New(), idx, logger.NewNoOpLogger())

	entries, err := rec.Search(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, hits, entries)
	idx.AssertExpectations(t)
}

func TestSearch_IndexOutageFallsBackToDatabase(t *testing.T) {
	idx := new(mockSearchIndexer)
	idx.On("Index", mock.Anything, mock.Anything).Return(nil)
	idx.On("Search", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused")).Once()
	rec := NewRecorder(memory.New(), idx, logger.NewTestLogger(t))
	seedHistory(t, rec, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	entries, err := rec.Search(context.Background(), Query{DocumentID: "doc-1", Actions: []models.AuditAction{models.AuditApprove}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "landlord-1", entries[0].ActorID)
}

func TestSearch_Validation(t *testing.T) {
	rec := NewRecorder(memory.New(), nil, logger.NewNoOpLogger())
	now := time.Now()

	for name, q := range map[string]Query{
		"no document":    {ActorID: "tenant-1"},
		"unknown action": {DocumentID: "doc-1", Actions: []models.AuditAction{"delete"}},
		"inverted range": {DocumentID: "doc-1", From: now, To: now.Add(-time.Hour)},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := rec.Search(context.Background(), q)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}
