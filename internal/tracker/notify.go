package tracker

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"text/template"

	"github.com/iius-rcox/safetyamp-sync/internal/config"
	"github.com/iius-rcox/safetyamp-sync/internal/domain"
	"github.com/iius-rcox/safetyamp-sync/internal/httpclient"
)

// bodyTemplate renders the plain-text notification body. Kept deliberately
// small — this is an operational summary email, not a marketing template.
var bodyTemplate = template.Must(template.New("notification").Parse(
	`{{.Subject}}

error_count: {{.ErrorCount}}
affected_ids: {{.Sample}}
`))

type templateData struct {
	Subject    string
	ErrorCount int
	Sample     string
}

// SMTPNotifier sends notifications by email via net/smtp. No ecosystem mail
// client appears anywhere in the example pack, so this is the one place in
// the service that reaches for the standard library over a third-party
// dependency — see DESIGN.md.
type SMTPNotifier struct {
	cfg        config.SMTPConfig
	recipients []string
}

// NewSMTPNotifier builds an SMTPNotifier from cfg.
func NewSMTPNotifier(cfg config.SMTPConfig, recipients []string) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, recipients: recipients}
}

// Notify sends one email summarizing n to every configured recipient.
func (s *SMTPNotifier) Notify(ctx context.Context, n domain.Notification, sample []string) error {
	body, err := render(n, sample)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.User != "" {
		auth = smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)
	}

	msg := fmt.Sprintf("Subject: %s\r\nTo: %s\r\n\r\n%s", n.Subject, strings.Join(s.recipients, ", "), body)
	return smtp.SendMail(addr, auth, s.cfg.User, s.recipients, []byte(msg))
}

// WebhookNotifier posts notifications as JSON to a configured URL via
// internal/httpclient, sharing that package's rate limiting and retry
// policy with every other outbound call the service makes.
type WebhookNotifier struct {
	c   *httpclient.Client
	url string
}

// NewWebhookNotifier builds a WebhookNotifier targeting url.
func NewWebhookNotifier(c *httpclient.Client, url string) *WebhookNotifier {
	return &WebhookNotifier{c: c, url: url}
}

// Notify posts one JSON summary of n to the configured webhook URL.
func (w *WebhookNotifier) Notify(ctx context.Context, n domain.Notification, sample []string) error {
	body, err := render(n, sample)
	if err != nil {
		return err
	}
	payload := fmt.Sprintf(`{"subject":%q,"error_count":%d,"body":%q}`, n.Subject, n.ErrorCount, body)

	headers := make(http.Header)
	headers.Set("Content-Type", "application/json")
	_, err = w.c.Do(ctx, httpclient.Request{
		Method:  http.MethodPost,
		URL:     w.url,
		Headers: headers,
		Body:    []byte(payload),
	})
	return err
}

func render(n domain.Notification, sample []string) (string, error) {
	var buf bytes.Buffer
	data := templateData{Subject: n.Subject, ErrorCount: n.ErrorCount, Sample: strings.Join(sample, ", ")}
	if err := bodyTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("tracker: render notification body: %w", err)
	}
	return buf.String(), nil
}

// MultiNotifier fans out to every configured transport, collecting the
// first error but still attempting the rest.
type MultiNotifier struct {
	Notifiers []Notifier
}

// Notify dispatches n to every notifier in order.
func (m MultiNotifier) Notify(ctx context.Context, n domain.Notification, sample []string) error {
	var firstErr error
	for _, notifier := range m.Notifiers {
		if err := notifier.Notify(ctx, n, sample); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
