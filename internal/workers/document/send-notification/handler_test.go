// internal/workers/document/send-notification/handler_test.go
package sendnotification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/models"
	"rental-docflow/internal/notify"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Deliver(ctx context.Context, n models.Notification) (*notify.Delivery, error) {
	args := m.Called(ctx, n)
	d, _ := args.Get(0).(*notify.Delivery)
	return d, args.Error(1)
}

func newTestHandler(t *testing.T) (*Handler, *mockSink) {
	s := new(mockSink)
	return NewHandler(&Config{Timeout: 5 * time.Second}, s, logger.NewTestLogger(t)), s
}

func TestHandler_Execute_RendersTemplate(t *testing.T) {
	h, s := newTestHandler(t)

	s.On("Deliver", mock.Anything, mock.MatchedBy(func(n models.Notification) bool {
		return n.Title == "Document expiring soon" &&
			n.Message == "Lease for 12 Elm St expires in 14 days." &&
			n.PropertyID == "prop-1" &&
			n.Priority == models.PriorityNormal
	})).Return(&notify.Delivery{
		NotificationID: "n-1",
		Status:         notify.StatusSent,
		Channels:       []string{notify.ChannelInApp, notify.ChannelEmail},
		SentAt:         "2026-05-01T09:00:00Z",
	}, nil)

	out, err := h.execute(context.Background(), &Input{
		PropertyID:       "prop-1",
		DocumentID:       "doc-1",
		NotificationType: models.NotificationExpiringSoon,
		Priority:         models.PriorityNormal,
		Metadata: map[string]interface{}{
			"documentName":  "Lease for 12 Elm St",
			"daysRemaining": 14,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "n-1", out.NotificationID)
	assert.Equal(t, notify.StatusSent, out.Status)
	assert.Equal(t, []string{"in_app", "email"}, out.Channels)
	s.AssertExpectations(t)
}

func TestHandler_Execute_ExplicitTextWins(t *testing.T) {
	h, s := newTestHandler(t)
	s.On("Deliver", mock.Anything, mock.MatchedBy(func(n models.Notification) bool {
		return n.Title == "Custom" && n.Message == "Custom body"
	})).Return(&notify.Delivery{Status: notify.StatusDisabled}, nil)

	out, err := h.execute(context.Background(), &Input{
		RecipientID:      "tenant-1",
		NotificationType: models.NotificationRenewed,
		Title:            "Custom",
		Message:          "Custom body",
	})
	require.NoError(t, err)
	assert.Equal(t, notify.StatusDisabled, out.Status)
	assert.Equal(t, []string{}, out.Channels)
}

func TestHandler_Execute_FailedChannelCompletes(t *testing.T) {
	h, s := newTestHandler(t)
	s.On("Deliver", mock.Anything, mock.Anything).Return(&notify.Delivery{
		NotificationID: "n-2",
		Status:         notify.StatusFailed,
		Channels:       []string{notify.ChannelInApp},
	}, nil)

	out, err := h.execute(context.Background(), &Input{RecipientID: "tenant-1", NotificationType: models.NotificationExpired})
	require.NoError(t, err)
	assert.Equal(t, notify.StatusFailed, out.Status)
}

func TestHandler_Execute_SinkErrors(t *testing.T) {
	h, s := newTestHandler(t)
	s.On("Deliver", mock.Anything, mock.Anything).
		Return(nil, apperr.NewDatabaseError("notification recipient lookup", assert.AnError))

	_, err := h.execute(context.Background(), &Input{RecipientID: "tenant-1", NotificationType: models.NotificationExpired})
	assert.ErrorIs(t, err, apperr.ErrDatabase)
}

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		data map[string]interface{}
		want string
	}{
		{"substitutes", "{{a}} and {{b}}", map[string]interface{}{"a": "x", "b": 2}, "x and 2"},
		{"drops missing", "signed by {{signer}}", nil, "signed by"},
		{"nil value", "{{a}}!", map[string]interface{}{"a": nil}, "!"},
		{"unterminated", "keep {{open", nil, "keep {{open"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderTemplate(tt.tmpl, tt.data))
		})
	}
}
