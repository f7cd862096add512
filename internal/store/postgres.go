package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/campus/internal/models"
)

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   pgQuerier
	inTx bool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool, db: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	if s.inTx {
		return
	}
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InTx runs fn inside a single transaction. Nested calls reuse the outer one.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx DataStore) error) error {
	if s.inTx {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&PostgresStore{pool: s.pool, db: tx, inTx: true})
	})
}

func pgConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func pgNotFound[T any](v *T, err error) (*T, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING `+userColumns,
		newID(), strings.ToLower(email), passwordHash))
	if err != nil {
		return nil, pgConflict(err)
	}
	return u, nil
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return pgNotFound(scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)))
}

// GetUserByEmail retrieves a user by e-mail (case-insensitive).
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return pgNotFound(scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email))))
}

// MarkEmailVerified flags the user's e-mail as confirmed.
func (s *PostgresStore) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// UpdatePassword replaces the stored password hash and records when it changed.
func (s *PostgresStore) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users SET password_hash = $2, password_changed_at = NOW(), updated_at = NOW() WHERE id = $1
	`, id, passwordHash)
	return err
}

// CountUsers returns the number of registered users.
func (s *PostgresStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// CreateProfile inserts the profile row for a user.
func (s *PostgresStore) CreateProfile(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	created, err := scanProfile(s.db.QueryRow(ctx, `
		INSERT INTO profiles (id, full_name, username, bio, university_id, major, graduation_year)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+profileColumns,
		p.ID, p.FullName, p.Username, p.Bio, p.UniversityID, p.Major, p.GraduationYear))
	if err != nil {
		return nil, pgConflict(err)
	}
	return created, nil
}

// GetProfile retrieves a profile by user ID.
func (s *PostgresStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	return pgNotFound(scanProfile(s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)))
}

// GetProfiles retrieves the profiles for the given IDs in one query.
func (s *PostgresStore) GetProfiles(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error) {
	if len(ids) == 0 {
		return []models.Profile{}, nil
	}
	rows, err := s.db.Query(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	return collectPg(rows, scanProfile)
}

// UpdateProfile applies the non-nil fields of upd.
func (s *PostgresStore) UpdateProfile(ctx context.Context, id uuid.UUID, upd models.ProfileUpdate) (*models.Profile, error) {
	p, err := scanProfile(s.db.QueryRow(ctx, `
		UPDATE profiles SET
			full_name = COALESCE($2, full_name),
			username = COALESCE($3, username),
			bio = COALESCE($4, bio),
			major = COALESCE($5, major),
			graduation_year = COALESCE($6, graduation_year),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+profileColumns,
		id, upd.FullName, upd.Username, upd.Bio, upd.Major, upd.GraduationYear))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, pgConflict(err)
	}
	return p, nil
}

// SetAvatar stores the avatar URL.
func (s *PostgresStore) SetAvatar(ctx context.Context, id uuid.UUID, url string) error {
	_, err := s.db.Exec(ctx, `UPDATE profiles SET avatar_url = $2, updated_at = NOW() WHERE id = $1`, id, url)
	return err
}

// SetCover stores the cover photo URL.
func (s *PostgresStore) SetCover(ctx context.Context, id uuid.UUID, url string) error {
	_, err := s.db.Exec(ctx, `UPDATE profiles SET cover_url = $2, updated_at = NOW() WHERE id = $1`, id, url)
	return err
}

// SetProfileVerified sets the verified badge.
func (s *PostgresStore) SetProfileVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	_, err := s.db.Exec(ctx, `UPDATE profiles SET is_verified = $2, updated_at = NOW() WHERE id = $1`, id, verified)
	return err
}

// SearchProfiles lists directory profiles ordered by name.
func (s *PostgresStore) SearchProfiles(ctx context.Context, f models.DirectoryFilter) ([]models.Profile, error) {
	limit, offset := clampPage(f.Limit, f.Offset)
	rows, err := s.db.Query(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		WHERE ($1::uuid IS NULL OR university_id = $1)
		  AND ($2 = '' OR full_name ILIKE '%' || $2 || '%' OR username ILIKE '%' || $2 || '%')
		ORDER BY full_name ASC
		LIMIT $3 OFFSET $4
	`, f.UniversityID, f.Query, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectPg(rows, scanProfile)
}

// CreateUniversity registers a university and its e-mail domain.
func (s *PostgresStore) CreateUniversity(ctx context.Context, name, emailDomain, city string) (*models.University, error) {
	u, err := scanUniversity(s.db.QueryRow(ctx, `
		INSERT INTO universities (id, name, email_domain, city)
		VALUES ($1, $2, $3, $4)
		RETURNING `+universityColumns,
		newID(), name, strings.ToLower(emailDomain), city))
	if err != nil {
		return nil, pgConflict(err)
	}
	return u, nil
}

// ListUniversities returns all universities ordered by name.
func (s *PostgresStore) ListUniversities(ctx context.Context) ([]models.University, error) {
	rows, err := s.db.Query(ctx, `SELECT `+universityColumns+` FROM universities ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return collectPg(rows, scanUniversity)
}

// GetUniversityByDomain finds the university owning an e-mail domain.
func (s *PostgresStore) GetUniversityByDomain(ctx context.Context, domain string) (*models.University, error) {
	return pgNotFound(scanUniversity(s.db.QueryRow(ctx, `SELECT `+universityColumns+` FROM universities WHERE email_domain = $1`, strings.ToLower(domain))))
}

// CreatePartner inserts a partner organization.
func (s *PostgresStore) CreatePartner(ctx context.Context, p *models.Partner) (*models.Partner, error) {
	return scanPartner(s.db.QueryRow(ctx, `
		INSERT INTO partners (id, name, description, website, logo_url, university_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+partnerColumns,
		newID(), p.Name, p.Description, p.Website, p.LogoURL, p.UniversityID))
}

// ListPartners returns global partners plus those of the given university.
func (s *PostgresStore) ListPartners(ctx context.Context, universityID *uuid.UUID) ([]models.Partner, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+partnerColumns+`
		FROM partners
		WHERE university_id IS NULL OR university_id = $1
		ORDER BY name
	`, universityID)
	if err != nil {
		return nil, err
	}
	return collectPg(rows, scanPartner)
}

// GrantRole gives a role to a user. Granting twice is a no-op.
func (s *PostgresStore) GrantRole(ctx context.Context, userID uuid.UUID, role string) error {
	_, err := s.db.Exec(ctx, `INSERT INTO user_roles (user_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, role)
	return err
}

// RevokeRole removes a role from a user.
func (s *PostgresStore) RevokeRole(ctx context.Context, userID uuid.UUID, role string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role = $2`, userID, role)
	return err
}

// HasRole reports whether the user holds role.
func (s *PostgresStore) HasRole(ctx context.Context, userID uuid.UUID, role string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM user_roles WHERE user_id = $1 AND role = $2)`, userID, role).Scan(&ok)
	return ok, err
}

// ListRoles returns the roles held by a user.
func (s *PostgresStore) ListRoles(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`, userID)
	if err != nil {
		return nil, err
	}
	roles, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return roles, nil
}

// ParticipantConversationIDs returns the IDs of every conversation the user is in.
func (s *PostgresStore) ParticipantConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `SELECT conversation_id FROM conversation_participants WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// GetConversations returns the given conversations, most recently active first.
func (s *PostgresStore) GetConversations(ctx context.Context, ids []uuid.UUID) ([]models.Conversation, error) {
	if len(ids) == 0 {
		return []models.Conversation{}, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = ANY($1)
		ORDER BY updated_at DESC
	`, ids)
	if err != nil {
		return nil, err
	}
	return collectPg(rows, scanConversation)
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	return pgNotFound(scanConversation(s.db.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)))
}

// OtherParticipant returns a participant of the conversation other than userID,
// or uuid.Nil if there is none.
func (s *PostgresStore) OtherParticipant(ctx context.Context, conversationID, userID uuid.UUID) (uuid.UUID, error) {
	var other uuid.UUID
	err := s.db.QueryRow(ctx, `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = $1 AND user_id <> $2
		ORDER BY joined_at
		LIMIT 1
	`, conversationID, userID).Scan(&other)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, nil
	}
	return other, err
}

// CreateConversation inserts a conversation. A conversation carrying a direct
// key that already exists is not duplicated: the existing row is returned and
// the boolean result is false.
func (s *PostgresStore) CreateConversation(ctx context.Context, conv *models.Conversation) (*models.Conversation, bool, error) {
	id := newID()
	c, err := scanConversation(s.db.QueryRow(ctx, `
		INSERT INTO conversations (id, name, is_group, university_id, direct_key)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (direct_key) DO UPDATE SET direct_key = EXCLUDED.direct_key
		RETURNING `+conversationColumns,
		id, conv.Name, conv.IsGroup, conv.UniversityID, conv.DirectKey))
	if err != nil {
		return nil, false, err
	}
	// The upsert hands back the existing row, which keeps its own id.
	return c, c.ID == id, nil
}

// AddParticipant adds a user to a conversation. Adding twice is a no-op.
func (s *PostgresStore) AddParticipant(ctx context.Context, conversationID, userID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, conversationID, userID)
	return err
}

// ListParticipants returns the members of a conversation in join order.
func (s *PostgresStore) ListParticipants(ctx context.Context, conversationID uuid.UUID) ([]models.ConversationParticipant, error) {
	rows, err := s.db.Query(ctx, `
		SELECT conversation_id, user_id, joined_at
		FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY joined_at, user_id
	`, conversationID)
	if err != nil {
		return nil, err
	}
	return collectPg(rows, scanParticipant)
}

// IsParticipant reports whether the user belongs to the conversation.
func (s *PostgresStore) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2)
	`, conversationID, userID).Scan(&ok)
	return ok, err
}

// TouchConversation sets the last-activity timestamp.
func (s *PostgresStore) TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE conversations SET updated_at = $2 WHERE id = $1`, id, at)
	return err
}

// ListMessages returns the full history of a conversation, oldest first.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	return collectPg(rows, scanMessage)
}

// CreateMessage inserts a message.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	return scanMessage(s.db.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING `+messageColumns,
		newID(), msg.ConversationID, msg.SenderID, msg.Content))
}

// CreateListing inserts a listing.
func (s *PostgresStore) CreateListing(ctx context.Context, l *models.Listing) (*models.Listing, error) {
	attrs, err := encodeAttributes(l.Attributes)
	if err != nil {
		return nil, err
	}
	images, err := encodeImages(l.ImageURLs)
	if err != nil {
		return nil, err
	}
	return scanListing(s.db.QueryRow(ctx, `
		INSERT INTO listings (id, kind, owner_id, university_id, title, body, price_cents, location, contact, attributes, image_urls, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11::jsonb, $12)
		RETURNING `+listingColumns,
		newID(), l.Kind, l.OwnerID, l.UniversityID, l.Title, l.Body, l.PriceCents, l.Location, l.Contact, attrs, images, l.Status))
}

// GetListing retrieves a listing by ID.
func (s *PostgresStore) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	return pgNotFound(scanListing(s.db.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)))
}

// ListListings returns listings matching f, newest first.
func (s *PostgresStore) ListListings(ctx context.Context, f models.ListingFilter) ([]models.Listing, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}
	if f.Kind != "" {
		add("kind = ?", f.Kind)
	}
	if f.UniversityID != nil {
		add("university_id = ?", *f.UniversityID)
	}
	if f.OwnerID != nil {
		add("owner_id = ?", *f.OwnerID)
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	if f.Query != "" {
		add("(title ILIKE '%' || ? || '%' OR body ILIKE '%' || ? || '%')", f.Query)
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit, offset := clampPage(f.Limit, f.Offset)
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectPg(rows, scanListing)
}

// SetListingStatus changes the moderation status of a listing.
func (s *PostgresStore) SetListingStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.db.Exec(ctx, `UPDATE listings SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

// DeleteListing removes a listing.
func (s *PostgresStore) DeleteListing(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id)
	return err
}

// AddListingImage appends an image URL to a listing.
func (s *PostgresStore) AddListingImage(ctx context.Context, id uuid.UUID, url string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE listings SET image_urls = image_urls || to_jsonb($2::text), updated_at = NOW()
		WHERE id = $1
	`, id, url)
	return err
}

// CreateVerificationRequest records an uploaded verification document.
func (s *PostgresStore) CreateVerificationRequest(ctx context.Context, userID uuid.UUID, documentKey string) (*models.VerificationRequest, error) {
	return scanVerification(s.db.QueryRow(ctx, `
		INSERT INTO verification_requests (id, user_id, document_key)
		VALUES ($1, $2, $3)
		RETURNING `+verificationColumns,
		newID(), userID, documentKey))
}

// GetVerificationRequest retrieves a verification request by ID.
func (s *PostgresStore) GetVerificationRequest(ctx context.Context, id uuid.UUID) (*models.VerificationRequest, error) {
	return pgNotFound(scanVerification(s.db.QueryRow(ctx, `SELECT `+verificationColumns+` FROM verification_requests WHERE id = $1`, id)))
}

// ListVerificationRequests returns requests with the given status, oldest first.
func (s *PostgresStore) ListVerificationRequests(ctx context.Context, status string) ([]models.VerificationRequest, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+verificationColumns+`
		FROM verification_requests
		WHERE status = $1
		ORDER BY created_at ASC
	`, status)
	if err != nil {
		return nil, err
	}
	return collectPg(rows, scanVerification)
}

// ReviewVerificationRequest records a moderator decision on a pending request.
// It returns ErrNotPending when the request was already decided.
func (s *PostgresStore) ReviewVerificationRequest(ctx context.Context, id uuid.UUID, status, note string, reviewer uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE verification_requests
		SET status = $2, note = $3, reviewed_by = $4, reviewed_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, status, note, reviewer)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}

// Stats returns aggregate platform counters.
func (s *PostgresStore) Stats(ctx context.Context) (*models.Stats, error) {
	st := &models.Stats{Listings: map[string]int64{}}
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM conversations),
			(SELECT COUNT(*) FROM messages),
			(SELECT MAX(created_at) FROM messages)
	`).Scan(&st.Users, &st.Conversations, &st.Messages, &st.LastActivity)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `SELECT kind, COUNT(*) FROM listings WHERE status = 'approved' GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		st.Listings[kind] = n
	}
	return st, rows.Err()
}

func collectPg[T any](rows pgx.Rows, scan func(scanner) (*T, error)) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}
