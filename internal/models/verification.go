package models

import (
	"time"

	"github.com/google/uuid"
)

// VerificationRequest is a student-status document awaiting review.
type VerificationRequest struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	DocumentKey string     `json:"document_key"`
	Status      string     `json:"status"`
	Note        string     `json:"note,omitempty"`
	ReviewedBy  *uuid.UUID `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Stats are aggregate platform counters.
type Stats struct {
	Users         int64            `json:"users"`
	Conversations int64            `json:"conversations"`
	Messages      int64            `json:"messages"`
	Listings      map[string]int64 `json:"listings"`
	LastActivity  *time.Time       `json:"last_activity,omitempty"`
}
