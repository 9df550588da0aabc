package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/fabriz042/Chat-test/internal/identity"
)

// TemplateNotification is the email service template used for notifications.
const TemplateNotification = "notification"

// EmailConfig holds the configuration for the email channel.
type EmailConfig struct {
	Provider    string // "service", "smtp" or "sendgrid"
	ServiceURL  string // service only
	SMTPHost    string // SMTP only
	SMTPPort    string // SMTP only
	SMTPUser    string // SMTP only
	SMTPPass    string // SMTP only
	SendGridKey string // SendGrid only
	FromAddress string
	FromName    string
}

// TemplateData fills the notification email template.
type TemplateData struct {
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Priority  string    `json:"priority"`
	Timestamp time.Time `json:"timestamp"`
}

// EmailSender hands a templated email to a delivery backend.
type EmailSender interface {
	SendTemplated(ctx context.Context, to []string, subject, templateName string, data TemplateData) error
}

// EmailChannel delivers notifications by email to the addresses on file for
// the resolved recipients.
type EmailChannel struct {
	sender EmailSender
}

// NewEmailChannel creates an EmailChannel with the sender selected by
// config.Provider.
func NewEmailChannel(config EmailConfig) (*EmailChannel, error) {
	var sender EmailSender
	switch config.Provider {
	case "", "service":
		if config.ServiceURL == "" {
			return nil, fmt.Errorf("email service url is required for the service provider")
		}
		sender = &serviceSender{baseURL: strings.TrimRight(config.ServiceURL, "/"), client: &http.Client{}}
	case "smtp":
		if config.SMTPHost == "" || config.SMTPPort == "" {
			return nil, fmt.Errorf("smtp_host and smtp_port are required for SMTP provider")
		}
		sender = &smtpSender{config: config}
	case "sendgrid":
		if config.SendGridKey == "" {
			return nil, fmt.Errorf("sendgrid_key is required for SendGrid provider")
		}
		sender = &sendGridSender{config: config, client: &http.Client{}, endpoint: sendGridEndpoint}
	default:
		return nil, fmt.Errorf("unsupported email provider: %s", config.Provider)
	}
	return &EmailChannel{sender: sender}, nil
}

func (c *EmailChannel) Type() string          { return TypeEmail }
func (c *EmailChannel) NeedsRecipients() bool { return true }

func (c *EmailChannel) Send(ctx context.Context, msg Message, recipients []identity.User) error {
	var to []string
	for _, u := range recipients {
		if u.Email != "" {
			to = append(to, u.Email)
		}
	}
	if len(to) == 0 {
		return fmt.Errorf("%w: no email address on file", ErrNoRecipients)
	}

	return c.sender.SendTemplated(ctx, to, msg.Title, TemplateNotification, TemplateData{
		Title:     msg.Title,
		Message:   msg.Body,
		Priority:  msg.Priority,
		Timestamp: msg.CreatedAt,
	})
}

// serviceSender posts to the email service, which owns the templates.
type serviceSender struct {
	baseURL string
	client  *http.Client
}

func (s *serviceSender) SendTemplated(ctx context.Context, to []string, subject, templateName string, data TemplateData) error {
	body, err := json.Marshal(map[string]interface{}{
		"to":            to,
		"subject":       subject,
		"template_name": templateName,
		"template_data": data,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/v1/email/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("email service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: email service returned status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// smtpSender renders the template locally and sends via SMTP.
type smtpSender struct {
	config EmailConfig
}

func (s *smtpSender) SendTemplated(ctx context.Context, to []string, subject, _ string, data TemplateData) error {
	htmlBody, err := renderEmailTemplate(data)
	if err != nil {
		return fmt.Errorf("render email template: %w", err)
	}

	addr := s.config.SMTPHost + ":" + s.config.SMTPPort
	var auth smtp.Auth
	if s.config.SMTPUser != "" {
		auth = smtp.PlainAuth("", s.config.SMTPUser, s.config.SMTPPass, s.config.SMTPHost)
	}

	for _, rcpt := range to {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := buildSMTPMessage(formatFrom(s.config), rcpt, subject, htmlBody)
		if err := smtp.SendMail(addr, auth, s.config.FromAddress, []string{rcpt}, msg); err != nil {
			return fmt.Errorf("send to %s: %w", rcpt, err)
		}
	}
	return nil
}

// buildSMTPMessage assembles the raw message. The subject is Q-encoded so
// caller-supplied text can never start a new header line.
func buildSMTPMessage(from, to, subject, htmlBody string) []byte {
	return []byte("From: " + from + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + mime.QEncoding.Encode("UTF-8", subject) + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=\"UTF-8\"\r\n" +
		"\r\n" + htmlBody)
}

const sendGridEndpoint = "https://api.sendgrid.com/v3/mail/send"

// sendGridSender sends email via the SendGrid v3 API, one personalization
// per recipient.
type sendGridSender struct {
	config   EmailConfig
	client   *http.Client
	endpoint string
}

func (s *sendGridSender) SendTemplated(ctx context.Context, to []string, subject, _ string, data TemplateData) error {
	htmlBody, err := renderEmailTemplate(data)
	if err != nil {
		return fmt.Errorf("render email template: %w", err)
	}

	personalizations := make([]map[string]interface{}, 0, len(to))
	for _, rcpt := range to {
		personalizations = append(personalizations, map[string]interface{}{
			"to": []map[string]string{{"email": rcpt}},
		})
	}
	payload := map[string]interface{}{
		"personalizations": personalizations,
		"from":             map[string]string{"email": s.config.FromAddress, "name": s.config.FromName},
		"subject":          subject,
		"content": []map[string]string{
			{"type": "text/html", "value": htmlBody},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.config.SendGridKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: sendgrid returned status %d", ErrRejected, resp.StatusCode)
	}
	return nil
}

func formatFrom(c EmailConfig) string {
	if c.FromName == "" {
		return c.FromAddress
	}
	return fmt.Sprintf("%s <%s>", c.FromName, c.FromAddress)
}

var emailTmpl = template.Must(template.New("notification").Parse(`<!DOCTYPE html>
<html>
<head><style>
body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; margin: 0; padding: 20px; background: #f5f5f5; }
.card { background: #fff; border-radius: 8px; padding: 24px; max-width: 600px; margin: 0 auto; box-shadow: 0 1px 3px rgba(0,0,0,0.1); }
.priority-low { border-left: 4px solid #9ca3af; }
.priority-normal { border-left: 4px solid #3b82f6; }
.priority-high { border-left: 4px solid #f59e0b; }
.priority-critical { border-left: 4px solid #ef4444; }
.title { font-size: 18px; font-weight: 600; margin-bottom: 8px; }
.body { color: #555; line-height: 1.6; }
.meta { color: #999; font-size: 12px; margin-top: 16px; }
</style></head>
<body>
<div class="card priority-{{.Priority}}">
  <div class="title">{{.Title}}</div>
  <div class="body">{{.Message}}</div>
  <div class="meta">Priority: {{.Priority}} | {{.Timestamp.UTC.Format "2006-01-02 15:04:05 UTC"}}</div>
</div>
</body>
</html>`))

func renderEmailTemplate(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := emailTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
