package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile holds the community-facing data of a user. Its ID equals the user ID.
type Profile struct {
	ID             uuid.UUID  `json:"id"`
	FullName       string     `json:"full_name"`
	Username       *string    `json:"username,omitempty"`
	Bio            string     `json:"bio,omitempty"`
	AvatarURL      string     `json:"avatar_url,omitempty"`
	CoverURL       string     `json:"cover_url,omitempty"`
	UniversityID   *uuid.UUID `json:"university_id,omitempty"`
	Major          string     `json:"major,omitempty"`
	GraduationYear *int       `json:"graduation_year,omitempty"`
	IsVerified     bool       `json:"is_verified"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// PublicProfile is the projection of a profile that any signed-in user may see.
type PublicProfile struct {
	ID             uuid.UUID  `json:"id"`
	FullName       string     `json:"full_name"`
	Username       *string    `json:"username,omitempty"`
	Bio            string     `json:"bio,omitempty"`
	AvatarURL      string     `json:"avatar_url,omitempty"`
	UniversityID   *uuid.UUID `json:"university_id,omitempty"`
	Major          string     `json:"major,omitempty"`
	GraduationYear *int       `json:"graduation_year,omitempty"`
	IsVerified     bool       `json:"is_verified"`
}

// Public returns the public projection of p.
func (p *Profile) Public() PublicProfile {
	return PublicProfile{
		ID:             p.ID,
		FullName:       p.FullName,
		Username:       p.Username,
		Bio:            p.Bio,
		AvatarURL:      p.AvatarURL,
		UniversityID:   p.UniversityID,
		Major:          p.Major,
		GraduationYear: p.GraduationYear,
		IsVerified:     p.IsVerified,
	}
}

// ProfileUpdate carries the editable profile fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	FullName       *string `json:"full_name"`
	Username       *string `json:"username"`
	Bio            *string `json:"bio"`
	Major          *string `json:"major"`
	GraduationYear *int    `json:"graduation_year"`
}

// DirectoryFilter selects profiles for the community directory.
type DirectoryFilter struct {
	UniversityID *uuid.UUID
	Query        string
	Limit        int
	Offset       int
}
