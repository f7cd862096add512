package models

import (
	"time"

	"github.com/google/uuid"
)

// Listing statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Listing is the shared row for feed posts, housing, marketplace, jobs,
// local services and academic resources. Kind-specific fields live in Attributes.
type Listing struct {
	ID           uuid.UUID         `json:"id"`
	Kind         string            `json:"kind"`
	OwnerID      uuid.UUID         `json:"owner_id"`
	UniversityID *uuid.UUID        `json:"university_id,omitempty"`
	Title        string            `json:"title,omitempty"`
	Body         string            `json:"body"`
	PriceCents   *int64            `json:"price_cents,omitempty"`
	Location     string            `json:"location,omitempty"`
	Contact      *string           `json:"contact,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	ImageURLs    []string          `json:"image_urls"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// ListingFilter selects listings. Zero values mean "any".
type ListingFilter struct {
	Kind         string
	UniversityID *uuid.UUID
	OwnerID      *uuid.UUID
	Status       string
	Query        string
	Limit        int
	Offset       int
}
