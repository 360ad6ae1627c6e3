package notifications

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Service routes messages to sinks by the scheme of the channel reference,
// e.g. "webhook:https://discord.com/api/webhooks/...", "telegram:-1001234", "email:ops@example.com".
type Service struct {
	mu    sync.RWMutex
	sinks map[string]Sink
}

// Ensure Service implements Sink
var _ Sink = (*Service)(nil)

// NewService creates a router with the log sink registered under "log".
func NewService() *Service {
	s := &Service{sinks: make(map[string]Sink)}
	s.Register("log", NewLogSink())
	return s
}

// Register binds a sink to a channel scheme.
func (s *Service) Register(scheme string, sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks[scheme] = sink
}

// Schemes lists the registered channel schemes.
func (s *Service) Schemes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schemes := make([]string, 0, len(s.sinks))
	for k := range s.sinks {
		schemes = append(schemes, k)
	}
	return schemes
}

// Send delivers msg to channelRef. Every failure is returned as a DeliveryError.
func (s *Service) Send(ctx context.Context, channelRef string, msg Message) error {
	scheme, rest, ok := strings.Cut(channelRef, ":")
	if !ok || rest == "" {
		return &DeliveryError{Channel: channelRef, Err: errors.New("channel must look like scheme:address")}
	}

	s.mu.RLock()
	sink, found := s.sinks[scheme]
	s.mu.RUnlock()
	if !found {
		return &DeliveryError{Channel: channelRef, Err: fmt.Errorf("no sink registered for %q", scheme)}
	}

	if err := sink.Send(ctx, rest, msg); err != nil {
		var de *DeliveryError
		if errors.As(err, &de) {
			return err
		}
		return &DeliveryError{Channel: channelRef, Err: err}
	}
	return nil
}

// WebhookSink posts Discord-compatible embeds to a webhook URL.
type WebhookSink struct {
	client *resty.Client
}

type webhookPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []webhookEmbed `json:"embeds,omitempty"`
}

type webhookEmbed struct {
	Title       string         `json:"title,omitempty"`
	URL         string         `json:"url,omitempty"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color,omitempty"`
	Fields      []Field        `json:"fields,omitempty"`
	Footer      *webhookFooter `json:"footer,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

type webhookFooter struct {
	Text string `json:"text"`
}

// NewWebhookSink creates a new webhook sink
func NewWebhookSink(timeout time.Duration) *WebhookSink {
	return &WebhookSink{client: resty.New().SetTimeout(timeout)}
}

func (w *WebhookSink) Send(ctx context.Context, url string, msg Message) error {
	embed := webhookEmbed{
		Title:       truncate(msg.Title, 256),
		URL:         msg.URL,
		Description: truncate(msg.Description, 4096),
		Color:       msg.Color,
		Fields:      msg.Fields,
	}
	if msg.Footer != "" {
		embed.Footer = &webhookFooter{Text: msg.Footer}
	}
	if !msg.Timestamp.IsZero() {
		embed.Timestamp = msg.Timestamp.UTC().Format(time.RFC3339)
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(webhookPayload{Content: msg.Content, Embeds: []webhookEmbed{embed}}).
		Post(url)
	if err != nil {
		return &DeliveryError{Channel: "webhook", Err: err}
	}

	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNoContent {
		return &DeliveryError{Channel: "webhook", Err: fmt.Errorf("webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))}
	}
	return nil
}

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink sends plain-text messages through the Telegram Bot API.
type TelegramSink struct {
	api telegramAPI
}

// NewTelegramSink connects to the Bot API with token.
func NewTelegramSink(token string) (*TelegramSink, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &TelegramSink{api: api}, nil
}

func (t *TelegramSink) Send(_ context.Context, chat string, msg Message) error {
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return &DeliveryError{Channel: "telegram:" + chat, Err: fmt.Errorf("invalid chat id: %w", err)}
	}

	out := tgbotapi.NewMessage(chatID, truncate(RenderText(msg), 4096))
	out.DisableWebPagePreview = true
	if _, err := t.api.Send(out); err != nil {
		return &DeliveryError{Channel: "telegram:" + chat, Err: err}
	}
	return nil
}

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailSink sends one e-mail per notification over SMTP.
type EmailSink struct {
	from   string
	dialer mailDialer
}

// NewEmailSink creates an SMTP sink. from defaults to username.
func NewEmailSink(host string, port int, username, password, from string) *EmailSink {
	if from == "" {
		from = username
	}
	return &EmailSink{
		from:   from,
		dialer: gomail.NewDialer(host, port, username, password),
	}
}

func (e *EmailSink) Send(_ context.Context, address string, msg Message) error {
	htmlBody, err := buildEmailHTML(msg)
	if err != nil {
		return fmt.Errorf("failed to build email HTML: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", address)
	m.SetHeader("Subject", msg.Title)
	m.SetBody("text/plain", RenderText(msg))
	m.AddAlternative("text/html", htmlBody)

	if err := e.dialer.DialAndSend(m); err != nil {
		return &DeliveryError{Channel: "email:" + address, Err: fmt.Errorf("failed to send email: %w", err)}
	}
	return nil
}

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .card { border-left: 4px solid #0078d4; padding: 10px; background-color: #fafafa; }
        .meta { color: #666; font-size: 0.9em; }
    </style>
</head>
<body>
    {{if .Content}}<p>{{.Content}}</p>{{end}}
    <div class="card">
        <h2>{{if .URL}}<a href="{{.URL}}">{{.Title}}</a>{{else}}{{.Title}}{{end}}</h2>
        {{if .Description}}<p style="white-space: pre-line">{{.Description}}</p>{{end}}
        {{range .Fields}}<p><strong>{{.Name}}:</strong> {{.Value}}</p>{{end}}
        {{if .Footer}}<p class="meta">{{.Footer}}</p>{{end}}
    </div>
</body>
</html>
`))

func buildEmailHTML(msg Message) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, msg); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// LogSink writes messages to the process log. It backs dry runs and the "log:" scheme.
type LogSink struct{}

// NewLogSink creates a new log sink
func NewLogSink() *LogSink { return &LogSink{} }

func (l *LogSink) Send(_ context.Context, channel string, msg Message) error {
	logrus.WithFields(logrus.Fields{
		"channel": channel,
		"url":     msg.URL,
	}).Infof("Notification: %s", msg.Title)
	return nil
}
