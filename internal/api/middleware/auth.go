package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/campus/internal/crypto"
	"github.com/eldtechnologies/campus/internal/models"
	"github.com/eldtechnologies/campus/internal/store"
)

type contextKey string

const (
	// SessionContextKey is the context key for the authenticated session.
	SessionContextKey contextKey = "session"
)

// Session is the signed-in user as seen by handlers.
type Session struct {
	User      *models.User
	Profile   *models.Profile
	Roles     []string
	TokenID   string
	ExpiresAt time.Time
}

// HasRole reports whether the session carries role.
func (s *Session) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsModerator is true for moderators and admins.
func (s *Session) IsModerator() bool {
	return s.HasRole(models.RoleModerator) || s.HasRole(models.RoleAdmin)
}

// AuthMiddleware validates access tokens and loads the session.
type AuthMiddleware struct {
	tokens *crypto.TokenIssuer
	ds     store.DataStore
	cache  store.Cache
	logger zerolog.Logger
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(tokens *crypto.TokenIssuer, ds store.DataStore, cache store.Cache, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, ds: ds, cache: cache, logger: logger}
}

// RequireAuth rejects requests without a valid, unrevoked access token.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			jsonError(w, http.StatusUnauthorized, "missing access token")
			return
		}

		claims, err := m.tokens.Parse(raw)
		if err != nil {
			if errors.Is(err, crypto.ErrTokenExpired) {
				jsonError(w, http.StatusUnauthorized, "session expired")
				return
			}
			jsonError(w, http.StatusUnauthorized, "invalid access token")
			return
		}

		revoked, err := m.cache.IsTokenRevoked(r.Context(), claims.ID)
		if err != nil {
			m.logger.Error().Err(err).Msg("revocation check failed")
			jsonError(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
		if revoked {
			jsonError(w, http.StatusUnauthorized, "session ended")
			return
		}

		userID, err := claims.UserID()
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid access token")
			return
		}

		user, err := m.ds.GetUserByID(r.Context(), userID)
		if err != nil {
			m.logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to load user")
			jsonError(w, http.StatusInternalServerError, "failed to load session")
			return
		}
		if user == nil {
			jsonError(w, http.StatusUnauthorized, "account not found")
			return
		}
		if issuedBeforePasswordChange(claims, user) {
			jsonError(w, http.StatusUnauthorized, "session ended")
			return
		}

		profile, err := m.ds.GetProfile(r.Context(), userID)
		if err != nil {
			m.logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to load profile")
			jsonError(w, http.StatusInternalServerError, "failed to load session")
			return
		}

		roles, err := m.ds.ListRoles(r.Context(), userID)
		if err != nil {
			m.logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to load roles")
			jsonError(w, http.StatusInternalServerError, "failed to load session")
			return
		}

		sess := &Session{
			User:    user,
			Profile: profile,
			Roles:   roles,
			TokenID: claims.ID,
		}
		if claims.ExpiresAt != nil {
			sess.ExpiresAt = claims.ExpiresAt.Time
		}

		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

// RequireRole allows the request when the session holds any of roles.
// Must run after RequireAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := SessionFromContext(r.Context())
			if sess != nil {
				for _, role := range roles {
					if sess.HasRole(role) {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			jsonError(w, http.StatusForbidden, "not permitted")
		})
	}
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// WebSocket upgrades, so the access_token query parameter is accepted there.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// SessionFromContext retrieves the authenticated session from the request context.
func SessionFromContext(ctx context.Context) *Session {
	sess, ok := ctx.Value(SessionContextKey).(*Session)
	if !ok {
		return nil
	}
	return sess
}

// WithSession returns a context carrying sess.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, SessionContextKey, sess)
}

// issuedBeforePasswordChange reports whether the token predates the user's
// last password change. iat has second precision, so the change time is
// truncated to match.
func issuedBeforePasswordChange(claims *crypto.Claims, user *models.User) bool {
	if user.PasswordChangedAt == nil || claims.IssuedAt == nil {
		return false
	}
	return claims.IssuedAt.Time.Before(user.PasswordChangedAt.Truncate(time.Second))
}
