package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/campus/internal/api/middleware"
	"github.com/eldtechnologies/campus/internal/crypto"
	"github.com/eldtechnologies/campus/internal/jobs"
	"github.com/eldtechnologies/campus/internal/listing"
	"github.com/eldtechnologies/campus/internal/media"
	"github.com/eldtechnologies/campus/internal/messaging"
	"github.com/eldtechnologies/campus/internal/store"
)

// emailRegex validates email addresses per RFC 5322 (simplified).
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Deps are the collaborators shared by all HTTP handlers. Redis and Uploads
// may be nil.
type Deps struct {
	Store    store.DataStore
	Cache    store.Cache
	Redis    *store.RedisStore
	Tokens   *crypto.TokenIssuer
	Messages *messaging.Service
	Listings *listing.Service
	Uploads  *media.Uploader
	Jobs     jobs.Enqueuer
	Logger   zerolog.Logger

	// Unblocker is set when IP auto-blocking is available.
	Unblocker Unblocker

	// CodeTTL is the lifetime of e-mail verification codes.
	CodeTTL time.Duration
	// BootstrapAdmins are e-mail addresses granted the admin role on verification.
	BootstrapAdmins []string
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store    store.DataStore
	cache    store.Cache
	redis    *store.RedisStore
	tokens   *crypto.TokenIssuer
	messages *messaging.Service
	listings *listing.Service
	uploads  *media.Uploader
	jobs     jobs.Enqueuer
	logger   zerolog.Logger

	unblocker       Unblocker
	codeTTL         time.Duration
	bootstrapAdmins map[string]bool
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	admins := make(map[string]bool, len(d.BootstrapAdmins))
	for _, email := range d.BootstrapAdmins {
		admins[strings.ToLower(email)] = true
	}
	if d.CodeTTL <= 0 {
		d.CodeTTL = 15 * time.Minute
	}
	if d.Uploads == nil {
		d.Uploads = media.NewUploader(nil, nil)
	}
	return &Handler{
		store:           d.Store,
		cache:           d.Cache,
		redis:           d.Redis,
		tokens:          d.Tokens,
		messages:        d.Messages,
		listings:        d.Listings,
		uploads:         d.Uploads,
		jobs:            d.Jobs,
		logger:          d.Logger,
		unblocker:       d.Unblocker,
		codeTTL:         d.CodeTTL,
		bootstrapAdmins: admins,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON body into dst and writes the error response itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			h.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			h.Error(w, http.StatusBadRequest, "request body is required")
		default:
			h.Error(w, http.StatusBadRequest, "invalid JSON body")
		}
		return false
	}
	return true
}

// pathID parses a UUID URL parameter.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid "+name+" format")
		return uuid.Nil, false
	}
	return id, true
}

// session returns the authenticated session. Routes using it sit behind RequireAuth.
func session(r *http.Request) *middleware.Session {
	return middleware.SessionFromContext(r.Context())
}

func universityOf(sess *middleware.Session) *uuid.UUID {
	if sess.Profile == nil {
		return nil
	}
	return sess.Profile.UniversityID
}

func viewerOf(sess *middleware.Session) messaging.Viewer {
	return messaging.Viewer{UserID: sess.User.ID, UniversityID: universityOf(sess)}
}

func actorOf(sess *middleware.Session) listing.Actor {
	return listing.Actor{
		UserID:       sess.User.ID,
		UniversityID: universityOf(sess),
		Verified:     sess.Profile != nil && sess.Profile.IsVerified,
		Moderator:    sess.IsModerator(),
	}
}

// page parses limit and offset query parameters.
func page(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	if l, err := strconv.Atoi(q.Get("limit")); err == nil {
		limit = l
	}
	if o, err := strconv.Atoi(q.Get("offset")); err == nil && o > 0 {
		offset = o
	}
	return limit, offset
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if runes := []rune(name); len(runes) > 100 {
		name = string(runes[:100])
	}

	return name
}

// isValidEmail validates email addresses using RFC 5322 pattern.
func isValidEmail(email string) bool {
	if len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}

// normalizeEmail lower-cases and trims an address.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
