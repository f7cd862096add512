// Package jobs runs background work (e-mail delivery) through asynq, or
// inline when no Redis is configured.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/campus/internal/mail"
	"github.com/eldtechnologies/campus/internal/metrics"
)

// Task types.
const (
	TypeVerificationEmail = "email:verification"
	TypeModerationEmail   = "email:moderation"
)

// VerificationEmail is the payload of TypeVerificationEmail.
type VerificationEmail struct {
	Email      string `json:"email"`
	Code       string `json:"code"`
	TTLMinutes int    `json:"ttl_minutes"`
}

// ModerationEmail is the payload of TypeModerationEmail.
type ModerationEmail struct {
	Email   string `json:"email"`
	Subject string `json:"subject"` // e.g. "housing listing", "verification request"
	Outcome string `json:"outcome"` // "approved" or "rejected"
}

// Enqueuer schedules background tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType string, payload any) error
}

// Handlers executes tasks.
type Handlers struct {
	mailer mail.Mailer
	logger zerolog.Logger
}

// NewHandlers creates the task handlers.
func NewHandlers(mailer mail.Mailer, logger zerolog.Logger) *Handlers {
	return &Handlers{mailer: mailer, logger: logger}
}

// Process runs one task from its encoded payload.
func (h *Handlers) Process(ctx context.Context, taskType string, payload []byte) error {
	err := h.dispatch(ctx, taskType, payload)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.JobsProcessed.WithLabelValues(taskType, outcome).Inc()
	return err
}

func (h *Handlers) dispatch(ctx context.Context, taskType string, payload []byte) error {
	switch taskType {
	case TypeVerificationEmail:
		var p VerificationEmail
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%w: %v", errBadPayload, err)
		}
		return h.mailer.Send(ctx, mail.VerificationEmail(p.Email, p.Code, time.Duration(p.TTLMinutes)*time.Minute))

	case TypeModerationEmail:
		var p ModerationEmail
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%w: %v", errBadPayload, err)
		}
		return h.mailer.Send(ctx, mail.ModerationEmail(p.Email, p.Subject, p.Outcome))

	default:
		return fmt.Errorf("unknown task type %q", taskType)
	}
}

var errBadPayload = errors.New("malformed task payload")

// Inline runs tasks synchronously in the calling goroutine.
type Inline struct {
	handlers *Handlers
}

// NewInline creates an inline enqueuer.
func NewInline(h *Handlers) *Inline {
	return &Inline{handlers: h}
}

func (i *Inline) Enqueue(ctx context.Context, taskType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return i.handlers.Process(ctx, taskType, data)
}
