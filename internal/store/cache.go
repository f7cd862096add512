package store

import (
	"context"
	"time"

	"github.com/eldtechnologies/campus/internal/models"
)

// Cache holds short-lived authentication state: e-mail verification codes
// and revoked token ids. RedisStore and MemoryCache implement it.
type Cache interface {
	Ping(ctx context.Context) error

	// SetCode stores the pending verification code for an e-mail address,
	// replacing any previous code and resetting its attempt counter.
	SetCode(ctx context.Context, email, code string, ttl time.Duration) error
	// GetCode returns the pending code, or "" if none is stored.
	GetCode(ctx context.Context, email string) (string, error)
	DeleteCode(ctx context.Context, email string) error
	// CodeAttempt records one verification attempt and returns the running count.
	CodeAttempt(ctx context.Context, email string) (int64, error)

	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// Subscription is a live stream of messages for one conversation.
// Events is closed after Close returns.
type Subscription interface {
	Events() <-chan models.Message
	Close() error
}

// attemptsTTL bounds an attempt counter whose code has already expired.
const attemptsTTL = 15 * time.Minute

func codeKey(email string) string {
	return "verify:code:" + email
}

func attemptsKey(email string) string {
	return "verify:attempts:" + email
}

func revokedKey(jti string) string {
	return "revoked:" + jti
}
