package mail

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/lms-insights/internal/platform/logger"
	"github.com/yungbote/lms-insights/internal/platform/sendgrid"
)

var ErrNoRecipient = errors.New("mail: recipient required")

type Attachment struct {
	Filename string
	MIMEType string
	Content  []byte
}

type Message struct {
	To          string
	ToName      string
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
	// Tags are passed to the provider for delivery analytics.
	Tags map[string]string
}

// Sender delivers one message and returns the provider's message id when
// it has one.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

type sendGridSender struct {
	client sendgrid.Client
	from   sendgrid.EmailAddress
}

// NewSendGridSender sends through SendGrid. An empty from uses the client's
// configured default sender.
func NewSendGridSender(client sendgrid.Client, fromEmail, fromName string) Sender {
	return &sendGridSender{client: client, from: sendgrid.EmailAddress{Email: fromEmail, Name: fromName}}
}

func (s *sendGridSender) Send(ctx context.Context, msg Message) (string, error) {
	if strings.TrimSpace(msg.To) == "" {
		return "", ErrNoRecipient
	}
	atts := make([]sendgrid.Attachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		atts = append(atts, sendgrid.Attachment{Filename: a.Filename, MIMEType: a.MIMEType, Content: a.Content})
	}
	res, err := s.client.Send(ctx, sendgrid.SendEmailRequest{
		From:        s.from,
		To:          []sendgrid.EmailAddress{{Email: msg.To, Name: msg.ToName}},
		Subject:     msg.Subject,
		Text:        msg.Text,
		HTML:        msg.HTML,
		CustomArgs:  msg.Tags,
		Attachments: atts,
	})
	if err != nil {
		return "", err
	}
	return res.MessageID, nil
}

type logSender struct {
	log *logger.Logger
}

// NewLogSender only logs messages. It backs local development when no
// provider key is configured.
func NewLogSender(baseLog *logger.Logger) Sender {
	return &logSender{log: baseLog.With("component", "LogMailSender")}
}

func (s *logSender) Send(ctx context.Context, msg Message) (string, error) {
	if strings.TrimSpace(msg.To) == "" {
		return "", ErrNoRecipient
	}
	id := "log-" + uuid.NewString()
	s.log.Info("Mail suppressed",
		"message_id", id,
		"recipient_email", msg.To,
		"subject", msg.Subject,
		"attachments", len(msg.Attachments),
	)
	return id, nil
}
