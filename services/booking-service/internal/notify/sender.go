package notify

import (
	"context"
	"errors"
	"fmt"
	"mime"
	netmail "net/mail"
	"net/smtp"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type Message struct {
	ToName  string
	ToEmail string
	Subject string
	Text    string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SendGridSender delivers through the SendGrid v3 mail API.
type SendGridSender struct {
	client   *sendgrid.Client
	fromName string
	from     string
}

func NewSendGridSender(apiKey, fromName, fromEmail string) (*SendGridSender, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	if strings.TrimSpace(fromEmail) == "" {
		return nil, errors.New("sender address is required")
	}
	return &SendGridSender{
		client:   sendgrid.NewSendClient(apiKey),
		fromName: fromName,
		from:     fromEmail,
	}, nil
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	from := mail.NewEmail(s.fromName, s.from)
	to := mail.NewEmail(msg.ToName, msg.ToEmail)
	m := mail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// SMTPSender sends via unauthenticated SMTP (Mailpit-compatible), used when
// no SendGrid key is configured.
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(host, port, from string) *SMTPSender {
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@studiobook.local"
	}
	return &SMTPSender{
		addr: fmt.Sprintf("%s:%s", strings.TrimSpace(host), strings.TrimSpace(port)),
		from: from,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := buildMessage(s.from, msg)
	if err != nil {
		return err
	}
	return smtp.SendMail(s.addr, nil, s.from, []string{msg.ToEmail}, []byte(body))
}

var errHeaderInjection = errors.New("header value contains a line break")

func buildMessage(from string, msg Message) (string, error) {
	for _, v := range []string{from, msg.ToName, msg.ToEmail, msg.Subject} {
		if strings.ContainsAny(v, "\r\n") {
			return "", fmt.Errorf("smtp: %w", errHeaderInjection)
		}
	}
	sender, err := netmail.ParseAddress(from)
	if err != nil {
		return "", fmt.Errorf("smtp: sender address: %w", err)
	}
	rcpt, err := netmail.ParseAddress(msg.ToEmail)
	if err != nil {
		return "", fmt.Errorf("smtp: recipient address: %w", err)
	}
	rcpt.Name = msg.ToName

	contentType := "text/plain; charset=utf-8"
	content := msg.Text
	if msg.HTML != "" {
		contentType = "text/html; charset=utf-8"
		content = msg.HTML
	}
	// Minimal RFC 5322 message; enough for Mailpit and most SMTP relays.
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: %s\r\n\r\n%s\r\n",
		sender.String(),
		rcpt.String(),
		mime.QEncoding.Encode("utf-8", msg.Subject),
		contentType,
		content,
	), nil
}
