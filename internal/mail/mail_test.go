package mail

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTPMailerComposesMessage(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Addr: "smtp.test:587", From: "noreply@campus.test"}, zerolog.Nop())
	var gotTo []string
	var gotMsg string
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		assert.Equal(t, "smtp.test:587", addr)
		assert.Equal(t, "noreply@campus.test", from)
		gotTo, gotMsg = to, string(msg)
		return nil
	}

	require.NoError(t, m.Send(context.Background(), VerificationEmail("a@uni.edu", "123456", 15*time.Minute)))
	assert.Equal(t, []string{"a@uni.edu"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Your verification code\r\n")
	assert.Contains(t, gotMsg, "123456")
	assert.Contains(t, gotMsg, "15 minutes")
	assert.False(t, strings.Contains(strings.ReplaceAll(gotMsg, "\r\n", ""), "\n"), "bare LF in message")
}

func TestSMTPMailerBreakerOpens(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Addr: "smtp.test:25"}, zerolog.Nop())
	calls := 0
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		calls++
		return errors.New("connection refused")
	}

	for i := 0; i < 5; i++ {
		assert.Error(t, m.Send(context.Background(), Email{To: "a@uni.edu"}))
	}
	err := m.Send(context.Background(), Email{To: "a@uni.edu"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 5, calls)
}
