// Package notify delivers document notifications: an in-app row for every
// recipient, email when an address is on file, SMS for high priority.
package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/common/metrics"
	"rental-docflow/internal/models"
)

const (
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusDisabled = "disabled"
)

const (
	ChannelInApp = "in_app"
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

type EmailSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
	PlainEmail(to, subject, body string) *ses.SendEmailInput
}

type SMSSender interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	TransactionalSMS(phone, message string) *sns.PublishInput
}

type Config struct {
	EmailEnabled bool
	SMSEnabled   bool
	Timeout      time.Duration
}

// Delivery reports what happened to one notification.
type Delivery struct {
	NotificationID string   `json:"notificationId"`
	RecipientID    string   `json:"recipientId"`
	Status         string   `json:"status"`
	Channels       []string `json:"channels"`
	SentAt         string   `json:"sentAt"`
}

type contact struct {
	id    string
	name  string
	email string
	phone string
}

type Sink struct {
	db     *sql.DB
	email  EmailSender
	sms    SMSSender
	cfg    Config
	logger logger.Logger
	now    func() time.Time
}

// NewSink builds a sink. email and sms may be nil to disable the channel.
func NewSink(db *sql.DB, email EmailSender, sms SMSSender, cfg Config, log logger.Logger) *Sink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Sink{
		db:     db,
		email:  email,
		sms:    sms,
		cfg:    cfg,
		logger: logger.ForComponent(log, "notify"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Notify is the fire-and-forget entry point used after committed
// transitions. Channel failures are logged and counted, not returned.
func (s *Sink) Notify(ctx context.Context, n models.Notification) error {
	_, err := s.Deliver(ctx, n)
	return err
}

// Deliver resolves the recipient, stores the in-app row and sends external
// channels concurrently. An unknown recipient yields a disabled delivery.
func (s *Sink) Deliver(ctx context.Context, n models.Notification) (*Delivery, error) {
	if err := validate(n); err != nil {
		return nil, err
	}
	if n.Priority == "" {
		n.Priority = models.PriorityNormal
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	c, err := s.recipient(ctx, n)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn("recipient not found", map[string]interface{}{
			"recipientId": n.RecipientID,
			"propertyId":  n.PropertyID,
			"type":        n.Type,
		})
		return &Delivery{Status: StatusDisabled, RecipientID: n.RecipientID, SentAt: s.now().Format(time.RFC3339)}, nil
	}
	if err != nil {
		return nil, apperr.NewDatabaseError("notification recipient lookup", err)
	}

	sentAt := s.now()
	d := &Delivery{
		NotificationID: uuid.NewString(),
		RecipientID:    c.id,
		Status:         StatusDisabled,
		SentAt:         sentAt.Format(time.RFC3339),
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, document_id, type, title, message, priority, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)`,
		d.NotificationID, c.id, n.DocumentID, string(n.Type), n.Title, n.Message, string(n.Priority), sentAt,
	); err != nil {
		s.failed(ChannelInApp, d, err)
	} else {
		d.Channels = append(d.Channels, ChannelInApp)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	record := func(channel string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			s.failed(channel, d, apperr.NewNotificationSendFailedError(channel, err))
			return
		}
		d.Channels = append(d.Channels, channel)
	}

	if s.cfg.EmailEnabled && s.email != nil && c.email != "" {
		g.Go(func() error {
			_, err := s.email.SendEmail(ctx, s.email.PlainEmail(c.email, n.Title, emailBody(c, n)))
			record(ChannelEmail, err)
			return nil
		})
	}
	if s.cfg.SMSEnabled && s.sms != nil && c.phone != "" && n.Priority == models.PriorityHigh {
		g.Go(func() error {
			_, err := s.sms.Publish(ctx, s.sms.TransactionalSMS(c.phone, smsBody(n)))
			record(ChannelSMS, err)
			return nil
		})
	}
	_ = g.Wait()

	if d.Status != StatusFailed && len(d.Channels) > 0 {
		d.Status = StatusSent
	}

	s.logger.Info("notification delivered", map[string]interface{}{
		"notificationId": d.NotificationID,
		"recipientId":    d.RecipientID,
		"type":           n.Type,
		"status":         d.Status,
		"channels":       d.Channels,
	})
	return d, nil
}

func (s *Sink) failed(channel string, d *Delivery, err error) {
	d.Status = StatusFailed
	metrics.NotificationFailures.WithLabelValues(channel).Inc()
	s.logger.Error("notification send failed", map[string]interface{}{
		"notificationId": d.NotificationID,
		"recipientId":    d.RecipientID,
		"channel":        channel,
		"error":          err,
	})
}

// recipient looks up the actor, or the landlord of the property.
func (s *Sink) recipient(ctx context.Context, n models.Notification) (*contact, error) {
	var (
		c   contact
		row *sql.Row
	)
	if n.RecipientID != "" {
		row = s.db.QueryRowContext(ctx,
			`SELECT id, COALESCE(full_name, ''), COALESCE(email, ''), COALESCE(phone, '')
			 FROM profiles WHERE id = $1`, n.RecipientID)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT p.id, COALESCE(p.full_name, ''), COALESCE(p.email, ''), COALESCE(p.phone, '')
			 FROM properties pr JOIN profiles p ON p.id = pr.landlord_id
			 WHERE pr.id = $1`, n.PropertyID)
	}
	if err := row.Scan(&c.id, &c.name, &c.email, &c.phone); err != nil {
		return nil, err
	}
	return &c, nil
}

func validate(n models.Notification) error {
	if n.RecipientID == "" && n.PropertyID == "" {
		return apperr.NewValidationError("notification needs a recipient or a property")
	}
	if n.Type == "" || strings.TrimSpace(n.Title) == "" {
		return apperr.NewValidationError("notification needs a type and a title")
	}
	switch n.Priority {
	case "", models.PriorityLow, models.PriorityNormal, models.PriorityHigh:
		return nil
	}
	return apperr.NewValidationError(fmt.Sprintf("unknown priority %q", n.Priority))
}

func emailBody(c *contact, n models.Notification) string {
	greeting := "Hello,"
	if c.name != "" {
		greeting = "Hello " + c.name + ","
	}
	return greeting + "\n\n" + n.Message + "\n"
}

func smsBody(n models.Notification) string {
	if n.Message == "" {
		return n.Title
	}
	return n.Title + ": " + n.Message
}
