package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/campus/internal/models"
)

// ErrConflict is returned when a write violates a uniqueness constraint
// (duplicate e-mail, username, university domain).
var ErrConflict = errors.New("store: unique constraint violated")

// ErrNotPending is returned when a review targets a verification request that
// has already been decided.
var ErrNotPending = errors.New("store: verification request is not pending")

// DataStore defines the interface for persistent storage of the community data.
// Both PostgresStore and SQLiteStore implement this interface. Lookups by key
// return (nil, nil) when the row does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// InTx runs fn against a store bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx DataStore) error) error

	// User operations
	CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	CountUsers(ctx context.Context) (int64, error)

	// Profile operations
	CreateProfile(ctx context.Context, p *models.Profile) (*models.Profile, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	GetProfiles(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, upd models.ProfileUpdate) (*models.Profile, error)
	SetAvatar(ctx context.Context, id uuid.UUID, url string) error
	SetCover(ctx context.Context, id uuid.UUID, url string) error
	SetProfileVerified(ctx context.Context, id uuid.UUID, verified bool) error
	SearchProfiles(ctx context.Context, f models.DirectoryFilter) ([]models.Profile, error)

	// University and partner operations
	CreateUniversity(ctx context.Context, name, emailDomain, city string) (*models.University, error)
	ListUniversities(ctx context.Context) ([]models.University, error)
	GetUniversityByDomain(ctx context.Context, domain string) (*models.University, error)
	CreatePartner(ctx context.Context, p *models.Partner) (*models.Partner, error)
	ListPartners(ctx context.Context, universityID *uuid.UUID) ([]models.Partner, error)

	// Role operations
	GrantRole(ctx context.Context, userID uuid.UUID, role string) error
	RevokeRole(ctx context.Context, userID uuid.UUID, role string) error
	HasRole(ctx context.Context, userID uuid.UUID, role string) (bool, error)
	ListRoles(ctx context.Context, userID uuid.UUID) ([]string, error)

	// Conversation operations
	ParticipantConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	GetConversations(ctx context.Context, ids []uuid.UUID) ([]models.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	OtherParticipant(ctx context.Context, conversationID, userID uuid.UUID) (uuid.UUID, error)
	// CreateConversation reports whether a new row was inserted; a direct key
	// that already exists returns the existing row and false.
	CreateConversation(ctx context.Context, conv *models.Conversation) (*models.Conversation, bool, error)
	AddParticipant(ctx context.Context, conversationID, userID uuid.UUID) error
	ListParticipants(ctx context.Context, conversationID uuid.UUID) ([]models.ConversationParticipant, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error

	// Message operations
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
	CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error)

	// Listing operations
	CreateListing(ctx context.Context, l *models.Listing) (*models.Listing, error)
	GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	ListListings(ctx context.Context, f models.ListingFilter) ([]models.Listing, error)
	SetListingStatus(ctx context.Context, id uuid.UUID, status string) error
	DeleteListing(ctx context.Context, id uuid.UUID) error
	AddListingImage(ctx context.Context, id uuid.UUID, url string) error

	// Verification request operations
	CreateVerificationRequest(ctx context.Context, userID uuid.UUID, documentKey string) (*models.VerificationRequest, error)
	GetVerificationRequest(ctx context.Context, id uuid.UUID) (*models.VerificationRequest, error)
	ListVerificationRequests(ctx context.Context, status string) ([]models.VerificationRequest, error)
	ReviewVerificationRequest(ctx context.Context, id uuid.UUID, status, note string, reviewer uuid.UUID) error

	// Aggregates
	Stats(ctx context.Context) (*models.Stats, error)
}

// scanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func newID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

const userColumns = `id, email, password_hash, email_verified, created_at, updated_at, password_changed_at`

func scanUser(row scanner) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.EmailVerified, &u.CreatedAt, &u.UpdatedAt, &u.PasswordChangedAt)
	return u, err
}

const profileColumns = `id, full_name, username, bio, avatar_url, cover_url, university_id, major, graduation_year, is_verified, created_at, updated_at`

func scanProfile(row scanner) (*models.Profile, error) {
	p := &models.Profile{}
	err := row.Scan(
		&p.ID,
		&p.FullName,
		&p.Username,
		&p.Bio,
		&p.AvatarURL,
		&p.CoverURL,
		&p.UniversityID,
		&p.Major,
		&p.GraduationYear,
		&p.IsVerified,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

const universityColumns = `id, name, email_domain, city, created_at`

func scanUniversity(row scanner) (*models.University, error) {
	u := &models.University{}
	err := row.Scan(&u.ID, &u.Name, &u.EmailDomain, &u.City, &u.CreatedAt)
	return u, err
}

const partnerColumns = `id, name, description, website, logo_url, university_id, created_at`

func scanPartner(row scanner) (*models.Partner, error) {
	p := &models.Partner{}
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Website, &p.LogoURL, &p.UniversityID, &p.CreatedAt)
	return p, err
}

const conversationColumns = `id, name, is_group, university_id, direct_key, created_at, updated_at`

func scanConversation(row scanner) (*models.Conversation, error) {
	c := &models.Conversation{}
	err := row.Scan(&c.ID, &c.Name, &c.IsGroup, &c.UniversityID, &c.DirectKey, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func scanParticipant(row scanner) (*models.ConversationParticipant, error) {
	p := &models.ConversationParticipant{}
	err := row.Scan(&p.ConversationID, &p.UserID, &p.JoinedAt)
	return p, err
}

const messageColumns = `id, conversation_id, sender_id, content, created_at`

func scanMessage(row scanner) (*models.Message, error) {
	m := &models.Message{}
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt)
	return m, err
}

const listingColumns = `id, kind, owner_id, university_id, title, body, price_cents, location, contact, attributes, image_urls, status, created_at, updated_at`

func scanListing(row scanner) (*models.Listing, error) {
	l := &models.Listing{}
	var attrs, images []byte
	err := row.Scan(
		&l.ID,
		&l.Kind,
		&l.OwnerID,
		&l.UniversityID,
		&l.Title,
		&l.Body,
		&l.PriceCents,
		&l.Location,
		&l.Contact,
		&attrs,
		&images,
		&l.Status,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &l.Attributes); err != nil {
			return nil, err
		}
	}
	l.ImageURLs = []string{}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &l.ImageURLs); err != nil {
			return nil, err
		}
	}
	return l, nil
}

const verificationColumns = `id, user_id, document_key, status, note, reviewed_by, reviewed_at, created_at`

func scanVerification(row scanner) (*models.VerificationRequest, error) {
	v := &models.VerificationRequest{}
	err := row.Scan(&v.ID, &v.UserID, &v.DocumentKey, &v.Status, &v.Note, &v.ReviewedBy, &v.ReviewedAt, &v.CreatedAt)
	return v, err
}

func encodeAttributes(attrs map[string]string) (string, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	b, err := json.Marshal(attrs)
	return string(b), err
}

func encodeImages(urls []string) (string, error) {
	if urls == nil {
		urls = []string{}
	}
	b, err := json.Marshal(urls)
	return string(b), err
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
