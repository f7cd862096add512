package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/campus/internal/metrics"
	"github.com/eldtechnologies/campus/internal/models"
	"github.com/eldtechnologies/campus/internal/store"
)

const (
	maxTitleLength     = 200
	maxBodyLength      = 10000
	maxLocationLength  = 200
	maxContactLength   = 200
	maxAttributeLength = 500
	MaxImages          = 10
)

var (
	ErrUnknownKind   = errors.New("unknown listing kind")
	ErrNotFound      = errors.New("listing not found")
	ErrForbidden     = errors.New("not permitted")
	ErrInvalid       = errors.New("invalid listing")
	ErrTooManyImages = fmt.Errorf("a listing can have at most %d images", MaxImages)
)

// Actor is the user a listing operation runs for.
type Actor struct {
	UserID       uuid.UUID
	UniversityID *uuid.UUID
	Verified     bool
	Moderator    bool
}

// Input holds the user-supplied fields of a new listing.
type Input struct {
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	PriceCents *int64            `json:"price_cents"`
	Location   string            `json:"location"`
	Contact    *string           `json:"contact"`
	Attributes map[string]string `json:"attributes"`
}

// Service implements the board operations shared by every kind.
type Service struct {
	store  store.DataStore
	logger zerolog.Logger
}

// NewService creates a listing service.
func NewService(ds store.DataStore, logger zerolog.Logger) *Service {
	return &Service{store: ds, logger: logger}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// validate normalizes in and checks it against the rules of k.
func (k Kind) validate(in *Input) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Body = strings.TrimSpace(in.Body)
	in.Location = strings.TrimSpace(in.Location)

	switch {
	case k.RequireTitle && in.Title == "":
		return invalid("title is required")
	case utf8.RuneCountInString(in.Title) > maxTitleLength:
		return invalid("title too long (max %d chars)", maxTitleLength)
	case in.Body == "" && in.Title == "":
		return invalid("body is required")
	case utf8.RuneCountInString(in.Body) > maxBodyLength:
		return invalid("body too long (max %d chars)", maxBodyLength)
	case k.RequirePrice && in.PriceCents == nil:
		return invalid("price is required")
	case in.PriceCents != nil && *in.PriceCents < 0:
		return invalid("price cannot be negative")
	case k.RequireLocation && in.Location == "":
		return invalid("location is required")
	case utf8.RuneCountInString(in.Location) > maxLocationLength:
		return invalid("location too long (max %d chars)", maxLocationLength)
	}

	if in.Contact != nil {
		c := strings.TrimSpace(*in.Contact)
		if c == "" {
			in.Contact = nil
		} else if utf8.RuneCountInString(c) > maxContactLength {
			return invalid("contact too long (max %d chars)", maxContactLength)
		} else {
			in.Contact = &c
		}
	}

	for key, value := range in.Attributes {
		if !k.allows(key) {
			return invalid("attribute %q is not supported for %s", key, k.Name)
		}
		if utf8.RuneCountInString(value) > maxAttributeLength {
			return invalid("attribute %q too long (max %d chars)", key, maxAttributeLength)
		}
	}
	return nil
}

// Create validates and stores a new listing owned by the actor.
func (s *Service) Create(ctx context.Context, actor Actor, kindName string, in Input) (*models.Listing, error) {
	kind, ok := Lookup(kindName)
	if !ok {
		return nil, ErrUnknownKind
	}
	if err := kind.validate(&in); err != nil {
		return nil, err
	}

	status := models.StatusApproved
	if kind.Moderated && !actor.Moderator {
		status = models.StatusPending
	}

	l, err := s.store.CreateListing(ctx, &models.Listing{
		Kind:         kind.Name,
		OwnerID:      actor.UserID,
		UniversityID: actor.UniversityID,
		Title:        in.Title,
		Body:         in.Body,
		PriceCents:   in.PriceCents,
		Location:     in.Location,
		Contact:      in.Contact,
		Attributes:   in.Attributes,
		Status:       status,
	})
	if err != nil {
		return nil, err
	}

	metrics.ListingsCreated.WithLabelValues(kind.Name).Inc()
	s.logger.Info().
		Str("listing_id", l.ID.String()).
		Str("kind", kind.Name).
		Str("status", status).
		Msg("listing created")
	return l, nil
}

// List returns listings matching f as seen by the actor. Non-moderators see
// approved rows only, except their own.
func (s *Service) List(ctx context.Context, actor Actor, f models.ListingFilter) ([]models.Listing, error) {
	if f.Kind != "" {
		if _, ok := Lookup(f.Kind); !ok {
			return nil, ErrUnknownKind
		}
	}
	ownOnly := f.OwnerID != nil && *f.OwnerID == actor.UserID
	if !actor.Moderator && !ownOnly {
		f.Status = models.StatusApproved
	}

	rows, err := s.store.ListListings(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i] = Safe(actor, rows[i])
	}
	return rows, nil
}

// Get returns one listing of the given kind visible to the actor.
func (s *Service) Get(ctx context.Context, actor Actor, kindName string, id uuid.UUID) (*models.Listing, error) {
	l, err := s.load(ctx, kindName, id)
	if err != nil {
		return nil, err
	}
	if l.Status != models.StatusApproved && !actor.Moderator && l.OwnerID != actor.UserID {
		return nil, ErrNotFound
	}
	safe := Safe(actor, *l)
	return &safe, nil
}

// Delete removes a listing. Only its owner or a moderator may delete it.
func (s *Service) Delete(ctx context.Context, actor Actor, kindName string, id uuid.UUID) error {
	l, err := s.load(ctx, kindName, id)
	if err != nil {
		return err
	}
	if l.OwnerID != actor.UserID && !actor.Moderator {
		return ErrForbidden
	}
	return s.store.DeleteListing(ctx, id)
}

// SetStatus records a moderation decision.
func (s *Service) SetStatus(ctx context.Context, actor Actor, id uuid.UUID, status string) (*models.Listing, error) {
	if !actor.Moderator {
		return nil, ErrForbidden
	}
	switch status {
	case models.StatusPending, models.StatusApproved, models.StatusRejected:
	default:
		return nil, invalid("unknown status %q", status)
	}

	l, err := s.store.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, ErrNotFound
	}
	if err := s.store.SetListingStatus(ctx, id, status); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("listing_id", id.String()).
		Str("moderator_id", actor.UserID.String()).
		Str("status", status).
		Msg("listing moderated")
	l.Status = status
	return l, nil
}

// AuthorizeImage checks that the actor may attach another image to a listing.
func (s *Service) AuthorizeImage(ctx context.Context, actor Actor, kindName string, id uuid.UUID) (*models.Listing, error) {
	l, err := s.load(ctx, kindName, id)
	if err != nil {
		return nil, err
	}
	if l.OwnerID != actor.UserID {
		return nil, ErrForbidden
	}
	if len(l.ImageURLs) >= MaxImages {
		return nil, ErrTooManyImages
	}
	return l, nil
}

// AddImage appends an uploaded image URL to a listing.
func (s *Service) AddImage(ctx context.Context, actor Actor, kindName string, id uuid.UUID, url string) (*models.Listing, error) {
	if _, err := s.AuthorizeImage(ctx, actor, kindName, id); err != nil {
		return nil, err
	}
	if err := s.store.AddListingImage(ctx, id, url); err != nil {
		return nil, err
	}
	return s.Get(ctx, actor, kindName, id)
}

// Pending returns listings awaiting moderation.
func (s *Service) Pending(ctx context.Context, actor Actor) ([]models.Listing, error) {
	if !actor.Moderator {
		return nil, ErrForbidden
	}
	return s.store.ListListings(ctx, models.ListingFilter{Status: models.StatusPending, Limit: 200})
}

func (s *Service) load(ctx context.Context, kindName string, id uuid.UUID) (*models.Listing, error) {
	if _, ok := Lookup(kindName); !ok {
		return nil, ErrUnknownKind
	}
	l, err := s.store.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if l == nil || l.Kind != kindName {
		return nil, ErrNotFound
	}
	return l, nil
}

// Safe returns the projection of l the actor may see.
func Safe(actor Actor, l models.Listing) models.Listing {
	kind, ok := Lookup(l.Kind)
	if !ok || !kind.HideContact {
		return l
	}
	if actor.Verified || actor.Moderator || l.OwnerID == actor.UserID {
		return l
	}
	l.Contact = nil
	return l
}
