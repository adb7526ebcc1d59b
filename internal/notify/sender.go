package notify

import (
	"context"
	"errors"
	"fmt"

	"agency-hub/internal/models"
	"agency-hub/internal/util"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Email is one rendered transactional message.
type Email struct {
	Kind    string
	To      string
	Subject string
	HTML    string
	OrderID string
}

// Result reports the outcome of a send. Senders return failures here rather
// than panicking or returning an error.
type Result struct {
	Success bool
	ID      string
	Err     error
}

// Sender delivers transactional email.
type Sender interface {
	Send(ctx context.Context, email Email) Result
}

// SMTPConfig holds the mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer delivers email through an SMTP relay.
type Mailer struct {
	cfg    SMTPConfig
	logger *zap.Logger
}

// NewMailer creates a new SMTP mailer
func NewMailer(cfg SMTPConfig) *Mailer {
	return &Mailer{cfg: cfg, logger: util.Named("mailer")}
}

// Send dials the relay and delivers one message.
func (m *Mailer) Send(ctx context.Context, email Email) Result {
	msg, err := m.buildMessage(email)
	if err != nil {
		return Result{Err: err}
	}

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password))
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return Result{Err: fmt.Errorf("smtp client: %w", err)}
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return Result{Err: fmt.Errorf("smtp send: %w", err)}
	}

	m.logger.Debug("Email delivered", zap.String("kind", email.Kind), zap.String("to", email.To))
	return Result{Success: true, ID: uuid.New().String()}
}

func (m *Mailer) buildMessage(email Email) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(email.To); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject(email.Subject)
	msg.SetBodyString(mail.TypeTextHTML, email.HTML)
	return msg, nil
}

// Enqueuer accepts email jobs for asynchronous delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg *models.NotificationMessage) (string, error)
}

// QueueSender hands email to the notification worker. A successful Result
// means the job was accepted, not that it was delivered.
type QueueSender struct {
	queue Enqueuer
}

// NewQueueSender creates a sender backed by the notification queue
func NewQueueSender(queue Enqueuer) *QueueSender {
	return &QueueSender{queue: queue}
}

func (q *QueueSender) Send(ctx context.Context, email Email) Result {
	if email.To == "" {
		return Result{Err: errors.New("email has no recipient")}
	}
	id, err := q.queue.Enqueue(ctx, &models.NotificationMessage{
		Kind:    email.Kind,
		To:      email.To,
		Subject: email.Subject,
		HTML:    email.HTML,
		OrderID: email.OrderID,
	})
	if err != nil {
		return Result{Err: fmt.Errorf("enqueue email: %w", err)}
	}
	return Result{Success: true, ID: id}
}
