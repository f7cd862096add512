package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/campus/internal/models"
)

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	conn *sql.DB
	db   sqlQuerier
	inTx bool
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/campus.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/campus.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; serialize through one connection.
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{conn: conn, db: conn}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS universities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email_domain TEXT NOT NULL UNIQUE,
		city TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		email_verified INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		password_changed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		full_name TEXT NOT NULL,
		username TEXT UNIQUE,
		bio TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		cover_url TEXT NOT NULL DEFAULT '',
		university_id TEXT REFERENCES universities(id),
		major TEXT NOT NULL DEFAULT '',
		graduation_year INTEGER,
		is_verified INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS partners (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		website TEXT NOT NULL DEFAULT '',
		logo_url TEXT NOT NULL DEFAULT '',
		university_id TEXT REFERENCES universities(id),
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_roles (
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, role)
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		name TEXT,
		is_group INTEGER NOT NULL DEFAULT 0,
		university_id TEXT REFERENCES universities(id),
		direct_key TEXT UNIQUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversation_participants (
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		joined_at DATETIME NOT NULL,
		PRIMARY KEY (conversation_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		university_id TEXT REFERENCES universities(id),
		title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		price_cents INTEGER,
		location TEXT NOT NULL DEFAULT '',
		contact TEXT,
		attributes TEXT NOT NULL DEFAULT '{}',
		image_urls TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS verification_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		document_key TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		note TEXT NOT NULL DEFAULT '',
		reviewed_by TEXT REFERENCES users(id),
		reviewed_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_profiles_university ON profiles(university_id);
	CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_listings_kind_status ON listings(kind, status, created_at);
	CREATE INDEX IF NOT EXISTS idx_verification_status ON verification_requests(status);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	// Databases created before password_changed_at existed.
	var has bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM pragma_table_info('users') WHERE name = 'password_changed_at')
	`).Scan(&has)
	if err != nil || has {
		return err
	}
	_, err = s.db.ExecContext(ctx, `ALTER TABLE users ADD COLUMN password_changed_at DATETIME`)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	if s.inTx {
		return
	}
	s.conn.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// InTx runs fn inside a single transaction. Nested calls reuse the outer one.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx DataStore) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&SQLiteStore{conn: s.conn, db: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func sqliteConflict(err error) error {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) &&
		(sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%w: %s", ErrConflict, sqlErr.Error())
	}
	return err
}

func sqliteNotFound[T any](v *T, err error) (*T, error) {
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

func now() time.Time {
	return time.Now().UTC()
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func uuidArgs(ids []uuid.UUID) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	return args
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	id := newID()
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, email_verified, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
	`, id.String(), strings.ToLower(email), passwordHash, ts, ts)
	if err != nil {
		return nil, sqliteConflict(err)
	}
	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return sqliteNotFound(scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id.String())))
}

// GetUserByEmail retrieves a user by e-mail (case-insensitive).
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return sqliteNotFound(scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(email))))
}

// MarkEmailVerified flags the user's e-mail as confirmed.
func (s *SQLiteStore) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET email_verified = 1, updated_at = ? WHERE id = ?`, now(), id.String())
	return err
}

// UpdatePassword replaces the stored password hash and records when it changed.
func (s *SQLiteStore) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ?, password_changed_at = ?, updated_at = ? WHERE id = ?
	`, passwordHash, ts, ts, id.String())
	return err
}

// CountUsers returns the number of registered users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// CreateProfile inserts the profile row for a user.
func (s *SQLiteStore) CreateProfile(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, full_name, username, bio, university_id, major, graduation_year, is_verified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, p.ID.String(), p.FullName, p.Username, p.Bio, p.UniversityID, p.Major, p.GraduationYear, ts, ts)
	if err != nil {
		return nil, sqliteConflict(err)
	}
	return s.GetProfile(ctx, p.ID)
}

// GetProfile retrieves a profile by user ID.
func (s *SQLiteStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	return sqliteNotFound(scanProfile(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id.String())))
}

// GetProfiles retrieves the profiles for the given IDs in one query.
func (s *SQLiteStore) GetProfiles(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error) {
	if len(ids) == 0 {
		return []models.Profile{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id IN (`+placeholders(len(ids))+`)`,
		uuidArgs(ids)...)
	if err != nil {
		return nil, err
	}
	return collectSQL(rows, scanProfile)
}

// UpdateProfile applies the non-nil fields of upd.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, id uuid.UUID, upd models.ProfileUpdate) (*models.Profile, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET
			full_name = COALESCE(?, full_name),
			username = COALESCE(?, username),
			bio = COALESCE(?, bio),
			major = COALESCE(?, major),
			graduation_year = COALESCE(?, graduation_year),
			updated_at = ?
		WHERE id = ?
	`, upd.FullName, upd.Username, upd.Bio, upd.Major, upd.GraduationYear, now(), id.String())
	if err != nil {
		return nil, sqliteConflict(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetProfile(ctx, id)
}

// SetAvatar stores the avatar URL.
func (s *SQLiteStore) SetAvatar(ctx context.Context, id uuid.UUID, url string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE profiles SET avatar_url = ?, updated_at = ? WHERE id = ?`, url, now(), id.String())
	return err
}

// SetCover stores the cover photo URL.
func (s *SQLiteStore) SetCover(ctx context.Context, id uuid.UUID, url string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE profiles SET cover_url = ?, updated_at = ? WHERE id = ?`, url, now(), id.String())
	return err
}

// SetProfileVerified sets the verified badge.
func (s *SQLiteStore) SetProfileVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE profiles SET is_verified = ?, updated_at = ? WHERE id = ?`, verified, now(), id.String())
	return err
}

// SearchProfiles lists directory profiles ordered by name.
func (s *SQLiteStore) SearchProfiles(ctx context.Context, f models.DirectoryFilter) ([]models.Profile, error) {
	limit, offset := clampPage(f.Limit, f.Offset)
	var uni any
	if f.UniversityID != nil {
		uni = f.UniversityID.String()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		WHERE (?1 IS NULL OR university_id = ?1)
		  AND (?2 = '' OR full_name LIKE '%' || ?2 || '%' OR username LIKE '%' || ?2 || '%')
		ORDER BY full_name ASC
		LIMIT ?3 OFFSET ?4
	`, uni, f.Query, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectSQL(rows, scanProfile)
}

// CreateUniversity registers a university and its e-mail domain.
func (s *SQLiteStore) CreateUniversity(ctx context.Context, name, emailDomain, city string) (*models.University, error) {
	id := newID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO universities (id, name, email_domain, city, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id.String(), name, strings.ToLower(emailDomain), city, now())
	if err != nil {
		return nil, sqliteConflict(err)
	}
	return sqliteNotFound(scanUniversity(s.db.QueryRowContext(ctx, `SELECT `+universityColumns+` FROM universities WHERE id = ?`, id.String())))
}

// ListUniversities returns all universities ordered by name.
func (s *SQLiteStore) ListUniversities(ctx context.Context) ([]models.University, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+universityColumns+` FROM universities ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return collectSQL(rows, scanUniversity)
}

// GetUniversityByDomain finds the university owning an e-mail domain.
func (s *SQLiteStore) GetUniversityByDomain(ctx context.Context, domain string) (*models.University, error) {
	return sqliteNotFound(scanUniversity(s.db.QueryRowContext(ctx, `SELECT `+universityColumns+` FROM universities WHERE email_domain = ?`, strings.ToLower(domain))))
}

// CreatePartner inserts a partner organization.
func (s *SQLiteStore) CreatePartner(ctx context.Context, p *models.Partner) (*models.Partner, error) {
	id := newID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO partners (id, name, description, website, logo_url, university_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id.String(), p.Name, p.Description, p.Website, p.LogoURL, p.UniversityID, now())
	if err != nil {
		return nil, err
	}
	return scanPartner(s.db.QueryRowContext(ctx, `SELECT `+partnerColumns+` FROM partners WHERE id = ?`, id.String()))
}

// ListPartners returns global partners plus those of the given university.
func (s *SQLiteStore) ListPartners(ctx context.Context, universityID *uuid.UUID) ([]models.Partner, error) {
	var uni any
	if universityID != nil {
		uni = universityID.String()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+partnerColumns+`
		FROM partners
		WHERE university_id IS NULL OR university_id = ?
		ORDER BY name
	`, uni)
	if err != nil {
		return nil, err
	}
	return collectSQL(rows, scanPartner)
}

// GrantRole gives a role to a user. Granting twice is a no-op.
func (s *SQLiteStore) GrantRole(ctx context.Context, userID uuid.UUID, role string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO user_roles (user_id, role, created_at) VALUES (?, ?, ?)`, userID.String(), role, now())
	return err
}

// RevokeRole removes a role from a user.
func (s *SQLiteStore) RevokeRole(ctx context.Context, userID uuid.UUID, role string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = ? AND role = ?`, userID.String(), role)
	return err
}

// HasRole reports whether the user holds role.
func (s *SQLiteStore) HasRole(ctx context.Context, userID uuid.UUID, role string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM user_roles WHERE user_id = ? AND role = ?)`, userID.String(), role).Scan(&ok)
	return ok, err
}

// ListRoles returns the roles held by a user.
func (s *SQLiteStore) ListRoles(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id = ? ORDER BY role`, userID.String())
	if err != nil {
		return nil, err
	}
	return collectSQL(rows, func(row scanner) (*string, error) {
		var role string
		err := row.Scan(&role)
		return &role, err
	})
}

// ParticipantConversationIDs returns the IDs of every conversation the user is in.
func (s *SQLiteStore) ParticipantConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT conversation_id FROM conversation_participants WHERE user_id = ?`, userID.String())
	if err != nil {
		return nil, err
	}
	return collectSQL(rows, func(row scanner) (*uuid.UUID, error) {
		var id uuid.UUID
		err := row.Scan(&id)
		return &id, err
	})
}

// GetConversations returns the given conversations, most recently active first.
func (s *SQLiteStore) GetConversations(ctx context.Context, ids []uuid.UUID) ([]models.Conversation, error) {
	if len(ids) == 0 {
		return []models.Conversation{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id IN (`+placeholders(len(ids))+`)
		ORDER BY updated_at DESC
	`, uuidArgs(ids)...)
	if err != nil {
		return nil, err
	}
	return collectSQL(rows, scanConversation)
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	return sqliteNotFound(scanConversation(s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id.String())))
}

// OtherParticipant returns a participant of the conversation other than userID,
// or uuid.Nil if there is none.
func (s *SQLiteStore) OtherParticipant(ctx context.Context, conversationID, userID uuid.UUID) (uuid.UUID, error) {
	var other uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = ? AND user_id <> ?
		ORDER BY joined_at
		LIMIT 1
	`, conversationID.String(), userID.String()).Scan(&other)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, nil
	}
	return other, err
}

// CreateConversation inserts a conversation. A conversation carrying a direct
// key that already exists is not duplicated: the existing row is returned and
// the boolean result is false.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *models.Conversation) (*models.Conversation, bool, error) {
	id := newID()
	ts := now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, name, is_group, university_id, direct_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (direct_key) DO NOTHING
	`, id.String(), conv.Name, conv.IsGroup, conv.UniversityID, conv.DirectKey, ts, ts)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	var c *models.Conversation
	if n == 0 && conv.DirectKey != nil {
		c, err = scanConversation(s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE direct_key = ?`, *conv.DirectKey))
	} else {
		c, err = scanConversation(s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id.String()))
	}
	if err != nil {
		return nil, false, err
	}
	return c, n > 0, nil
}

// AddParticipant adds a user to a conversation. Adding twice is a no-op.
func (s *SQLiteStore) AddParticipant(ctx context.Context, conversationID, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversation_participants (conversation_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`, conversationID.String(), userID.String(), now())
	return err
}

// ListParticipants returns the members of a conversation in join order.
func (s *SQLiteStore) ListParticipants(ctx context.Context, conversationID uuid.UUID) ([]models.ConversationParticipant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, user_id, joined_at
		FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY joined_at, user_id
	`, conversationID.String())
	if err != nil {
		return nil, err
	}
	return collectSQL(rows, scanParticipant)
}

// IsParticipant reports whether the user belongs to the conversation.
func (s *SQLiteStore) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id = ? AND user_id = ?)
	`, conversationID.String(), userID.String()).Scan(&ok)
	return ok, err
}

// TouchConversation sets the last-activity timestamp.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, at.UTC(), id.String())
	return err
}

// ListMessages returns the full history of a conversation, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`, conversationID.String())
	if err != nil {
		return nil, err
	}
	return collectSQL(rows, scanMessage)
}

// CreateMessage inserts a message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	id := newID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id.String(), msg.ConversationID.String(), msg.SenderID.String(), msg.Content, now())
	if err != nil {
		return nil, err
	}
	return scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id.String()))
}

// CreateListing inserts a listing.
func (s *SQLiteStore) CreateListing(ctx context.Context, l *models.Listing) (*models.Listing, error) {
	attrs, err := encodeAttributes(l.Attributes)
	if err != nil {
		return nil, err
	}
	images, err := encodeImages(l.ImageURLs)
	if err != nil {
		return nil, err
	}
	id := newID()
	ts := now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO listings (id, kind, owner_id, university_id, title, body, price_cents, location, contact, attributes, image_urls, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), l.Kind, l.OwnerID.String(), l.UniversityID, l.Title, l.Body, l.PriceCents,
		l.Location, l.Contact, attrs, images, l.Status, ts, ts)
	if err != nil {
		return nil, err
	}
	return s.GetListing(ctx, id)
}

// GetListing retrieves a listing by ID.
func (s *SQLiteStore) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	return sqliteNotFound(scanListing(s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id.String())))
}

// ListListings returns listings matching f, newest first.
func (s *SQLiteStore) ListListings(ctx context.Context, f models.ListingFilter) ([]models.Listing, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.UniversityID != nil {
		where = append(where, "university_id = ?")
		args = append(args, f.UniversityID.String())
	}
	if f.OwnerID != nil {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID.String())
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Query != "" {
		where = append(where, "(title LIKE '%' || ? || '%' OR body LIKE '%' || ? || '%')")
		args = append(args, f.Query, f.Query)
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit, offset := clampPage(f.Limit, f.Offset)
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectSQL(rows, scanListing)
}

// SetListingStatus changes the moderation status of a listing.
func (s *SQLiteStore) SetListingStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE listings SET status = ?, updated_at = ? WHERE id = ?`, status, now(), id.String())
	return err
}

// DeleteListing removes a listing.
func (s *SQLiteStore) DeleteListing(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM listings WHERE id = ?`, id.String())
	return err
}

// AddListingImage appends an image URL to a listing.
func (s *SQLiteStore) AddListingImage(ctx context.Context, id uuid.UUID, url string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE listings SET image_urls = json_insert(image_urls, '$[#]', ?), updated_at = ?
		WHERE id = ?
	`, url, now(), id.String())
	return err
}

// CreateVerificationRequest records an uploaded verification document.
func (s *SQLiteStore) CreateVerificationRequest(ctx context.Context, userID uuid.UUID, documentKey string) (*models.VerificationRequest, error) {
	id := newID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_requests (id, user_id, document_key, status, note, created_at)
		VALUES (?, ?, ?, 'pending', '', ?)
	`, id.String(), userID.String(), documentKey, now())
	if err != nil {
		return nil, err
	}
	return s.GetVerificationRequest(ctx, id)
}

// GetVerificationRequest retrieves a verification request by ID.
func (s *SQLiteStore) GetVerificationRequest(ctx context.Context, id uuid.UUID) (*models.VerificationRequest, error) {
	return sqliteNotFound(scanVerification(s.db.QueryRowContext(ctx, `SELECT `+verificationColumns+` FROM verification_requests WHERE id = ?`, id.String())))
}

// ListVerificationRequests returns requests with the given status, oldest first.
func (s *SQLiteStore) ListVerificationRequests(ctx context.Context, status string) ([]models.VerificationRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+verificationColumns+`
		FROM verification_requests
		WHERE status = ?
		ORDER BY created_at ASC
	`, status)
	if err != nil {
		return nil, err
	}
	return collectSQL(rows, scanVerification)
}

// ReviewVerificationRequest records a moderator decision on a pending request.
// It returns ErrNotPending when the request was already decided.
func (s *SQLiteStore) ReviewVerificationRequest(ctx context.Context, id uuid.UUID, status, note string, reviewer uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE verification_requests
		SET status = ?, note = ?, reviewed_by = ?, reviewed_at = ?
		WHERE id = ? AND status = 'pending'
	`, status, note, reviewer.String(), now(), id.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

// Stats returns aggregate platform counters.
func (s *SQLiteStore) Stats(ctx context.Context) (*models.Stats, error) {
	st := &models.Stats{Listings: map[string]int64{}}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&st.Users); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&st.Conversations); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&st.Messages); err != nil {
		return nil, err
	}

	// MAX() loses the DATETIME column type, so fetch the newest row instead.
	var last time.Time
	err := s.db.QueryRowContext(ctx, `SELECT created_at FROM messages ORDER BY created_at DESC LIMIT 1`).Scan(&last)
	switch {
	case err == nil:
		st.LastActivity = &last
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM listings WHERE status = 'approved' GROUP BY kind`)
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

func collectSQL[T any](rows *sql.Rows, scan func(scanner) (*T, error)) ([]T, error) {
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
