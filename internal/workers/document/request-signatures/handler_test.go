// internal/workers/document/request-signatures/handler_test.go
package requestsignatures

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rental-docflow/internal/audit"
	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/models"
	"rental-docflow/internal/signature"
	"rental-docflow/internal/store/memory"
)

type outbox struct {
	mu    sync.Mutex
	notes []models.Notification
}

func (o *outbox) Notify(_ context.Context, n models.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notes = append(o.notes, n)
	return nil
}

func (o *outbox) Publish(context.Context, models.DocumentEvent) error { return nil }

func newTestHandler(t *testing.T) (*Handler, *memory.Store, *outbox, string) {
	t.Helper()
	st := memory.New()
	out := &outbox{}
	c := signature.NewCoordinator(st, audit.NewRecorder(st, nil, logger.NewNoOpLogger()), out, out, logger.NewTestLogger(t))

	doc := &models.Document{PropertyID: "prop-1", TenantID: "tenant-1", Type: models.DocumentTypeLease}
	require.NoError(t, st.CreateDocument(context.Background(), doc))

	h := NewHandler(&Config{Timeout: 5 * time.Second, Concurrency: 2}, c, logger.NewTestLogger(t))
	return h, st, out, doc.ID
}

func TestHandler_Execute_RequestsEverySigner(t *testing.T) {
	h, st, out, docID := newTestHandler(t)

	output, err := h.execute(context.Background(), &Input{
		DocumentID: docID,
		Signers: []Signer{
			{SignerID: "tenant-1", Role: models.SignerTenant},
			{SignerID: "landlord-1", Role: models.SignerLandlord},
		},
		ExpiresInDays: 5,
		RequestedBy:   "landlord-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, output.Created)
	require.Len(t, output.Requests, 2)
	assert.Equal(t, "tenant-1", output.Requests[0].SignerID, "results keep the input order")
	assert.Equal(t, "landlord-1", output.Requests[1].SignerID)
	for _, r := range output.Requests {
		assert.NotEmpty(t, r.RequestID)
		assert.Equal(t, string(models.SignaturePending), r.Status)
		_, err := time.Parse(time.RFC3339, r.ExpiresAt)
		assert.NoError(t, err)
	}

	list, err := st.ListSignatureRequests(context.Background(), docID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Len(t, out.notes, 2)
}

func TestHandler_Execute_RetriedJobIsIdempotent(t *testing.T) {
	h, st, _, docID := newTestHandler(t)
	input := &Input{DocumentID: docID, Signers: []Signer{{SignerID: "tenant-1", Role: models.SignerTenant}}}

	_, err := h.execute(context.Background(), input)
	require.NoError(t, err)

	output, err := h.execute(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 0, output.Created)
	assert.Equal(t, StatusAlreadyPending, output.Requests[0].Status)

	list, err := st.ListSignatureRequests(context.Background(), docID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestHandler_Execute_Errors(t *testing.T) {
	h, _, _, docID := newTestHandler(t)
	tenant := Signer{SignerID: "tenant-1", Role: models.SignerTenant}

	tests := []struct {
		name  string
		input *Input
		err   error
	}{
		{"missing document", &Input{Signers: []Signer{tenant}}, apperr.ErrValidation},
		{"no signers", &Input{DocumentID: docID}, apperr.ErrValidation},
		{"blank signer", &Input{DocumentID: docID, Signers: []Signer{{Role: models.SignerTenant}}}, apperr.ErrValidation},
		{"duplicate signer", &Input{DocumentID: docID, Signers: []Signer{tenant, tenant}}, apperr.ErrValidation},
		{"bad role", &Input{DocumentID: docID, Signers: []Signer{{SignerID: "x", Role: "witness"}}}, apperr.ErrValidation},
		{"unknown document", &Input{DocumentID: "missing", Signers: []Signer{tenant}}, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.execute(context.Background(), tt.input)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
