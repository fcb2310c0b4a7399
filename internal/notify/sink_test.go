package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/models"
)

type mockSES struct {
	calls  int32
	lastTo string
	fail   func(ctx context.Context, params *ses.SendEmailInput) error
}

func (m *mockSES) PlainEmail(to, subject, body string) *ses.SendEmailInput {
	return &ses.SendEmailInput{
		Destination: &types.Destination{ToAddresses: []string{to}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body:    &types.Body{Text: &types.Content{Data: aws.String(body)}},
		},
	}
}

func (m *mockSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	atomic.AddInt32(&m.calls, 1)
	m.lastTo = params.Destination.ToAddresses[0]
	if m.fail != nil {
		if err := m.fail(ctx, params); err != nil {
			return nil, err
		}
	}
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

type mockSNS struct {
	calls int32
	fail  func(ctx context.Context, params *sns.PublishInput) error
}

func (m *mockSNS) TransactionalSMS(phone, message string) *sns.PublishInput {
	return &sns.PublishInput{PhoneNumber: aws.String(phone), Message: aws.String(message)}
}

func (m *mockSNS) Publish(ctx context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.fail != nil {
		if err := m.fail(ctx, params); err != nil {
			return nil, err
		}
	}
	return &sns.PublishOutput{MessageId: aws.String("sms-1")}, nil
}

func newSink(t *testing.T, email EmailSender, sms SMSSender) (*Sink, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewSink(db, email, sms, Config{EmailEnabled: true, SMSEnabled: true, Timeout: time.Second}, logger.NewTestLogger(t))
	s.now = func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }
	return s, mock
}

func profileRows(id, email, phone string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "full_name", "email", "phone"}).AddRow(id, "Dana Reyes", email, phone)
}

func notification(priority models.NotificationPriority) models.Notification {
	return models.Notification{
		RecipientID: "tenant-1",
		DocumentID:  "doc-1",
		Type:        models.NotificationSignatureRequest,
		Title:       "Signature requested",
		Message:     "Please sign the lease.",
		Priority:    priority,
	}
}

func TestDeliver_Channels(t *testing.T) {
	tests := []struct {
		name      string
		priority  models.NotificationPriority
		phone     string
		wantSMS   int32
		wantChans []string
	}{
		{"normal priority skips sms", models.PriorityNormal, "+15550100", 0, []string{ChannelInApp, ChannelEmail}},
		{"high priority sends sms", models.PriorityHigh, "+15550100", 1, []string{ChannelInApp, ChannelEmail, ChannelSMS}},
		{"no phone on file", models.PriorityHigh, "", 0, []string{ChannelInApp, ChannelEmail}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email, sms := &mockSES{}, &mockSNS{}
			s, mock := newSink(t, email, sms)

			mock.ExpectQuery("SELECT id, COALESCE\\(full_name").
				WithArgs("tenant-1").
				WillReturnRows(profileRows("tenant-1", "dana@example.com", tt.phone))
			mock.ExpectExec("INSERT INTO notifications").
				WithArgs(sqlmock.AnyArg(), "tenant-1", "doc-1", "signature_requested", "Signature requested",
					"Please sign the lease.", string(tt.priority), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 1))

			d, err := s.Deliver(context.Background(), notification(tt.priority))
			require.NoError(t, err)
			assert.Equal(t, StatusSent, d.Status)
			assert.ElementsMatch(t, tt.wantChans, d.Channels)
			assert.Equal(t, int32(1), email.calls)
			assert.Equal(t, "dana@example.com", email.lastTo)
			assert.Equal(t, tt.wantSMS, sms.calls)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDeliver_PropertyGoesToLandlord(t *testing.T) {
	email := &mockSES{}
	s, mock := newSink(t, email, nil)

	mock.ExpectQuery("FROM properties pr JOIN profiles p").
		WithArgs("prop-1").
		WillReturnRows(profileRows("landlord-1", "owner@example.com", ""))
	mock.ExpectExec("INSERT INTO notifications").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n := notification(models.PriorityNormal)
	n.RecipientID, n.PropertyID = "", "prop-1"
	d, err := s.Deliver(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, "landlord-1", d.RecipientID)
	assert.Equal(t, "owner@example.com", email.lastTo)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliver_FailuresAreReportedNotReturned(t *testing.T) {
	email := &mockSES{fail: func(context.Context, *ses.SendEmailInput) error { return errors.New("throttled") }}
	sms := &mockSNS{}
	s, mock := newSink(t, email, sms)

	mock.ExpectQuery("FROM profiles").
		WillReturnRows(profileRows("tenant-1", "dana@example.com", "+15550100"))
	mock.ExpectExec("INSERT INTO notifications").
		WillReturnResult(sqlmock.NewResult(0, 1))

	d, err := s.Deliver(context.Background(), notification(models.PriorityHigh))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, d.Status)
	assert.ElementsMatch(t, []string{ChannelInApp, ChannelSMS}, d.Channels, "sms is still attempted")

	mock.ExpectQuery("FROM profiles").
		WillReturnRows(profileRows("tenant-1", "dana@example.com", "+15550100"))
	mock.ExpectExec("INSERT INTO notifications").
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, s.Notify(context.Background(), notification(models.PriorityHigh)))
}

func TestDeliver_UnknownRecipient(t *testing.T) {
	email := &mockSES{}
	s, mock := newSink(t, email, nil)

	mock.ExpectQuery("FROM profiles").WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "email", "phone"}))

	d, err := s.Deliver(context.Background(), notification(models.PriorityNormal))
	require.NoError(t, err)
	assert.Equal(t, StatusDisabled, d.Status)
	assert.Zero(t, email.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliver_LookupError(t *testing.T) {
	s, mock := newSink(t, &mockSES{}, nil)
	mock.ExpectQuery("FROM profiles").WillReturnError(errors.New("connection reset"))

	_, err := s.Deliver(context.Background(), notification(models.PriorityNormal))
	assert.ErrorIs(t, err, apperr.ErrDatabase)
}

func TestDeliver_DisabledChannels(t *testing.T) {
	email, sms := &mockSES{}, &mockSNS{}
	s, mock := newSink(t, email, sms)
	s.cfg.EmailEnabled, s.cfg.SMSEnabled = false, false

	mock.ExpectQuery("FROM profiles").
		WillReturnRows(profileRows("tenant-1", "dana@example.com", "+15550100"))
	mock.ExpectExec("INSERT INTO notifications").
		WillReturnResult(sqlmock.NewResult(0, 1))

	d, err := s.Deliver(context.Background(), notification(models.PriorityHigh))
	require.NoError(t, err)
	assert.Equal(t, []string{ChannelInApp}, d.Channels)
	assert.Zero(t, email.calls)
	assert.Zero(t, sms.calls)
}

func TestDeliver_Validation(t *testing.T) {
	s, _ := newSink(t, nil, nil)

	tests := []struct {
		name   string
		mutate func(n *models.Notification)
	}{
		{"no recipient", func(n *models.Notification) { n.RecipientID = "" }},
		{"no title", func(n *models.Notification) { n.Title = "  " }},
		{"no type", func(n *models.Notification) { n.Type = "" }},
		{"bad priority", func(n *models.Notification) { n.Priority = "urgent" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := notification(models.PriorityNormal)
			tt.mutate(&n)
			_, err := s.Deliver(context.Background(), n)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}
