// Package mail delivers transactional e-mail.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Email is a plain-text message.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends e-mail.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Addr     string // host:port
	Username string
	Password string
	From     string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends through an SMTP relay. A circuit breaker stops hammering
// the relay after repeated failures; tasks fail fast and are retried later.
type SMTPMailer struct {
	cfg    SMTPConfig
	auth   smtp.Auth
	cb     *gobreaker.CircuitBreaker
	logger zerolog.Logger
	send   sendFunc
}

// NewSMTPMailer creates an SMTP mailer.
func NewSMTPMailer(cfg SMTPConfig, logger zerolog.Logger) *SMTPMailer {
	var auth smtp.Auth
	if cfg.Username != "" {
		host := cfg.Addr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}

	st := gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	return &SMTPMailer{
		cfg:    cfg,
		auth:   auth,
		cb:     gobreaker.NewCircuitBreaker(st),
		logger: logger,
		send:   smtp.SendMail,
	}
}

// Send delivers e.
func (m *SMTPMailer) Send(ctx context.Context, e Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := m.cb.Execute(func() (interface{}, error) {
		return nil, m.send(m.cfg.Addr, m.auth, m.cfg.From, []string{e.To}, m.compose(e))
	})
	if err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	m.logger.Info().Str("to", e.To).Str("subject", e.Subject).Msg("email sent")
	return nil
}

func (m *SMTPMailer) compose(e Email) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", e.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", e.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(e.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// LogMailer writes e-mail to the log instead of sending it. Development only.
type LogMailer struct {
	logger zerolog.Logger
}

// NewLogMailer creates a log mailer.
func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, e Email) error {
	m.logger.Info().
		Str("to", e.To).
		Str("subject", e.Subject).
		Str("body", e.Body).
		Msg("email (not sent)")
	return nil
}

// VerificationEmail builds the sign-up code message.
func VerificationEmail(to, code string, ttl time.Duration) Email {
	return Email{
		To:      to,
		Subject: "Your verification code",
		Body: fmt.Sprintf("Welcome!\n\nYour verification code is %s. It expires in %d minutes.\n\n"+
			"If you did not sign up, you can ignore this message.\n", code, int(ttl.Minutes())),
	}
}

// ModerationEmail tells an author the outcome of a review.
func ModerationEmail(to, subject, outcome string) Email {
	return Email{
		To:      to,
		Subject: "Update on your " + subject,
		Body:    fmt.Sprintf("Hello,\n\nYour %s has been %s by a moderator.\n", subject, outcome),
	}
}
