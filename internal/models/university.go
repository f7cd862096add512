package models

import (
	"time"

	"github.com/google/uuid"
)

// University is a campus whose e-mail domain gates signup.
type University struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	EmailDomain string    `json:"email_domain"`
	City        string    `json:"city,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Partner is an organization featured to students.
type Partner struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	Website      string     `json:"website,omitempty"`
	LogoURL      string     `json:"logo_url,omitempty"`
	UniversityID *uuid.UUID `json:"university_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
