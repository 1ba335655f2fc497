// Package notify delivers new-lead notifications to the legal team over
// WhatsApp, with per-lawyer retry and fault isolation.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lexbr/intakeflow/internal/flow"
)

// Delivery defaults.
const (
	// DefaultMaxRetries is the number of send attempts per lawyer.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the pause between attempts to the same lawyer.
	DefaultRetryDelay = 2 * time.Second
	// DefaultSendInterval is the pause between consecutive lawyers, kept to
	// avoid rate limiting on the WhatsApp connection.
	DefaultSendInterval = time.Second
)

// situationPreviewLen bounds the situation excerpt appended to notifications.
const situationPreviewLen = 100

// Sender sends a WhatsApp message to a recipient JID.
type Sender interface {
	SendMessage(ctx context.Context, to, body string) error
}

// Lawyer is one notification recipient.
type Lawyer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Opts holds configuration options for the notification service.
type Opts struct {
	Lawyers      []Lawyer
	MaxRetries   int
	RetryDelay   time.Duration
	SendInterval time.Duration
}

// Option defines a configuration option for the notification service.
type Option func(*Opts)

// WithLawyers sets the recipient list.
func WithLawyers(lawyers []Lawyer) Option {
	return func(o *Opts) { o.Lawyers = lawyers }
}

// WithMaxRetries overrides the per-lawyer attempt count.
func WithMaxRetries(n int) Option {
	return func(o *Opts) { o.MaxRetries = n }
}

// WithRetryDelay overrides the pause between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Opts) { o.RetryDelay = d }
}

// WithSendInterval overrides the pause between lawyers.
func WithSendInterval(d time.Duration) Option {
	return func(o *Opts) { o.SendInterval = d }
}

// Service broadcasts lead notifications to the configured lawyers. It
// implements the conversation controller's LawyerNotifier interface.
type Service struct {
	sender       Sender
	lawyers      []Lawyer
	maxRetries   int
	retryDelay   time.Duration
	sendInterval time.Duration
}

// NewService creates a notification service over the given sender.
func NewService(sender Sender, opts ...Option) *Service {
	cfg := Opts{
		MaxRetries:   DefaultMaxRetries,
		RetryDelay:   DefaultRetryDelay,
		SendInterval: DefaultSendInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Service{
		sender:       sender,
		lawyers:      cfg.Lawyers,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		sendInterval: cfg.SendInterval,
	}
}

// NotifyNewLead sends the lead notification to every configured lawyer. A
// failed recipient never blocks the others; the call errors only when no
// lawyer is configured or every delivery fails.
func (s *Service) NotifyNewLead(ctx context.Context, n flow.LeadNotification) error {
	if len(s.lawyers) == 0 {
		slog.Warn("No lawyers configured for notifications")
		return fmt.Errorf("no lawyers configured")
	}
	slog.Info("Sending lead notifications", "lead", n.Name, "category", n.Category, "lawyers", len(s.lawyers))

	body := notificationMessage(n)
	sent := 0
	for i, lawyer := range s.lawyers {
		if i > 0 && s.sendInterval > 0 {
			sleepOrDone(ctx, s.sendInterval)
		}
		jid := lawyerJID(lawyer.Phone)
		slog.Debug("Notifying lawyer", "lawyer", lawyer.Name, "phone", lawyer.Phone)
		if s.sendWithRetry(ctx, jid, body, lawyer.Name) {
			sent++
		} else {
			slog.Error("Failed to notify lawyer after retries", "lawyer", lawyer.Name)
		}
	}

	slog.Info("Notification summary", "sent", sent, "total", len(s.lawyers))
	if sent == 0 {
		return fmt.Errorf("all %d lawyer notifications failed", len(s.lawyers))
	}
	return nil
}

func (s *Service) sendWithRetry(ctx context.Context, jid, body, lawyerName string) bool {
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.sender.SendMessage(ctx, jid, body)
		if err == nil {
			return true
		}
		slog.Warn("Notification attempt failed", "lawyer", lawyerName, "attempt", attempt, "error", err)
		if attempt < s.maxRetries && s.retryDelay > 0 {
			sleepOrDone(ctx, s.retryDelay)
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return false
}

// notificationMessage renders the lead summary lawyers receive.
func notificationMessage(n flow.LeadNotification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 Novo lead recebido!\n\n")
	fmt.Fprintf(&b, "Nome: %s\n", n.Name)
	fmt.Fprintf(&b, "Telefone: %s\n", n.Phone)
	fmt.Fprintf(&b, "Área: %s\n", n.Category)
	fmt.Fprintf(&b, "Plataforma: %s\n", n.Platform)
	if n.Situation != "" {
		fmt.Fprintf(&b, "\nSituação: %s", truncate(n.Situation, situationPreviewLen))
	}
	b.WriteString("\n\nPor favor, avaliem e decidam quem assumirá o caso.")
	return b.String()
}

// lawyerJID renders a configured phone as a WhatsApp JID, prefixing the
// country code when absent.
func lawyerJID(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	clean := digits.String()
	if !strings.HasPrefix(clean, "55") {
		clean = "55" + clean
	}
	return clean + "@s.whatsapp.net"
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// sleepOrDone waits for d or until ctx is cancelled.
func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
