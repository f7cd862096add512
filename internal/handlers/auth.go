package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/eldtechnologies/campus/internal/crypto"
	"github.com/eldtechnologies/campus/internal/jobs"
	"github.com/eldtechnologies/campus/internal/metrics"
	"github.com/eldtechnologies/campus/internal/models"
	"github.com/eldtechnologies/campus/internal/store"
)

// maxCodeAttempts bounds guesses per issued verification code.
const maxCodeAttempts = 5

// SignupRequest represents the signup request body.
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// SignupResponse represents the signup response.
type SignupResponse struct {
	ID                   string `json:"id"`
	Email                string `json:"email"`
	VerificationRequired bool   `json:"verification_required"`
}

// VerifyRequest carries the e-mailed code.
type VerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PasswordRequest changes the signed-in user's password.
type PasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// TokenResponse is returned by verify and login.
type TokenResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresAt   time.Time       `json:"expires_at"`
	User        *models.User    `json:"user"`
	Profile     *models.Profile `json:"profile,omitempty"`
}

// SessionResponse describes the current session.
type SessionResponse struct {
	User      *models.User    `json:"user"`
	Profile   *models.Profile `json:"profile,omitempty"`
	Roles     []string        `json:"roles"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Signup creates an unverified account for a university e-mail address and
// sends it a verification code.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !h.decode(w, r, &req) {
		return
	}

	email := normalizeEmail(req.Email)
	if !isValidEmail(email) {
		h.Error(w, http.StatusBadRequest, "invalid email format")
		return
	}
	name := sanitizeName(req.FullName)
	if name == "" {
		h.Error(w, http.StatusBadRequest, "full_name is required")
		return
	}
	if err := crypto.ValidatePassword(req.Password); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	uni, err := h.universityForEmail(r.Context(), email)
	if err != nil {
		h.logger.Error().Err(err).Msg("university lookup failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if uni == nil {
		h.Error(w, http.StatusBadRequest, "email domain does not belong to a registered university")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		h.logger.Error().Err(err).Msg("password hashing failed")
		h.Error(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	var user *models.User
	err = h.store.InTx(r.Context(), func(tx store.DataStore) error {
		var err error
		user, err = tx.CreateUser(r.Context(), email, hash)
		if err != nil {
			return err
		}
		_, err = tx.CreateProfile(r.Context(), &models.Profile{
			ID:           user.ID,
			FullName:     name,
			UniversityID: &uni.ID,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			h.Error(w, http.StatusConflict, "an account with this email is already registered")
			return
		}
		h.logger.Error().Err(err).Msg("signup failed")
		h.Error(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	metrics.UsersRegistered.Inc()
	h.logger.Info().
		Str("user_id", user.ID.String()).
		Str("university", uni.Name).
		Msg("account created")

	if err := h.sendCode(r.Context(), email); err != nil {
		// The account exists; the user can ask for a new code.
		h.logger.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to send verification code")
	}

	h.JSON(w, http.StatusCreated, SignupResponse{
		ID:                   user.ID.String(),
		Email:                user.Email,
		VerificationRequired: true,
	})
}

// universityForEmail matches the address's domain, or any parent domain,
// against the registered universities.
func (h *Handler) universityForEmail(ctx context.Context, email string) (*models.University, error) {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return nil, nil
	}
	domain := email[at+1:]
	for strings.Contains(domain, ".") {
		uni, err := h.store.GetUniversityByDomain(ctx, domain)
		if err != nil || uni != nil {
			return uni, err
		}
		_, domain, _ = strings.Cut(domain, ".")
	}
	return nil, nil
}

// sendCode stores a fresh verification code and queues the e-mail.
func (h *Handler) sendCode(ctx context.Context, email string) error {
	code, err := crypto.NewVerificationCode()
	if err != nil {
		return err
	}
	if err := h.cache.SetCode(ctx, email, code, h.codeTTL); err != nil {
		return err
	}
	return h.jobs.Enqueue(ctx, jobs.TypeVerificationEmail, jobs.VerificationEmail{
		Email:      email,
		Code:       code,
		TTLMinutes: int(h.codeTTL / time.Minute),
	})
}

// Verify confirms an e-mail address with its code and signs the user in.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	email := normalizeEmail(req.Email)
	code := strings.TrimSpace(req.Code)
	if email == "" || code == "" {
		h.Error(w, http.StatusBadRequest, "email and code are required")
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), email)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil {
		h.Error(w, http.StatusBadRequest, "invalid or expired code")
		return
	}
	if user.EmailVerified {
		h.Error(w, http.StatusConflict, "email already verified")
		return
	}

	attempts, err := h.cache.CodeAttempt(r.Context(), email)
	if err != nil {
		h.logger.Error().Err(err).Msg("code attempt tracking failed")
		h.Error(w, http.StatusServiceUnavailable, "verification unavailable")
		return
	}
	if attempts > maxCodeAttempts {
		_ = h.cache.DeleteCode(r.Context(), email)
		h.logger.Warn().
			Str("type", "security").
			Str("event", "verification_attempts_exceeded").
			Str("user_id", user.ID.String()).
			Msg("too many verification attempts")
		h.Error(w, http.StatusTooManyRequests, "too many attempts, request a new code")
		return
	}

	stored, err := h.cache.GetCode(r.Context(), email)
	if err != nil {
		h.Error(w, http.StatusServiceUnavailable, "verification unavailable")
		return
	}
	if stored == "" || !crypto.CodesEqual(stored, code) {
		h.Error(w, http.StatusBadRequest, "invalid or expired code")
		return
	}

	if err := h.cache.DeleteCode(r.Context(), email); err != nil {
		h.logger.Warn().Err(err).Msg("failed to delete used code")
	}
	if err := h.store.MarkEmailVerified(r.Context(), user.ID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to verify email")
		return
	}
	user.EmailVerified = true

	if h.bootstrapAdmins[user.Email] {
		if err := h.store.GrantRole(r.Context(), user.ID, models.RoleAdmin); err != nil {
			h.logger.Error().Err(err).Msg("failed to grant bootstrap admin role")
		} else {
			h.logger.Info().Str("user_id", user.ID.String()).Msg("bootstrap admin granted")
		}
	}

	h.issueToken(w, r, user, http.StatusOK)
}

// Resend issues a new code. The response does not reveal whether the account exists.
func (h *Handler) Resend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	email := normalizeEmail(req.Email)

	user, err := h.store.GetUserByEmail(r.Context(), email)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user != nil && !user.EmailVerified {
		if err := h.sendCode(r.Context(), email); err != nil {
			h.logger.Error().Err(err).Msg("failed to resend verification code")
			h.Error(w, http.StatusServiceUnavailable, "failed to send code")
			return
		}
	}
	h.JSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// Login exchanges credentials for an access token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	email := normalizeEmail(req.Email)

	user, err := h.store.GetUserByEmail(r.Context(), email)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil || crypto.CheckPassword(user.PasswordHash, req.Password) != nil {
		metrics.LoginsTotal.WithLabelValues("bad_credentials").Inc()
		h.logger.Warn().
			Str("type", "security").
			Str("event", "login_failed").
			Str("email", email).
			Msg("invalid credentials")
		h.Error(w, http.StatusUnauthorized, crypto.ErrPasswordMismatch.Error())
		return
	}
	if !user.EmailVerified {
		metrics.LoginsTotal.WithLabelValues("unverified").Inc()
		h.Error(w, http.StatusForbidden, "email not verified")
		return
	}

	metrics.LoginsTotal.WithLabelValues("ok").Inc()
	h.issueToken(w, r, user, http.StatusOK)
}

func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request, user *models.User, status int) {
	token, claims, err := h.tokens.Issue(user.ID, user.Email)
	if err != nil {
		h.logger.Error().Err(err).Msg("token issue failed")
		h.Error(w, http.StatusInternalServerError, "failed to sign in")
		return
	}
	profile, err := h.store.GetProfile(r.Context(), user.ID)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", user.ID.String()).Msg("profile load failed")
	}
	h.JSON(w, status, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   claims.ExpiresAt.Time,
		User:        user,
		Profile:     profile,
	})
}

// Logout revokes the current access token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	ttl := time.Until(sess.ExpiresAt)
	if ttl > 0 {
		if err := h.cache.RevokeToken(r.Context(), sess.TokenID, ttl); err != nil {
			h.logger.Error().Err(err).Msg("token revocation failed")
			h.Error(w, http.StatusServiceUnavailable, "failed to sign out")
			return
		}
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

// Session returns the signed-in user, profile and roles.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	roles := sess.Roles
	if roles == nil {
		roles = []string{}
	}
	h.JSON(w, http.StatusOK, SessionResponse{
		User:      sess.User,
		Profile:   sess.Profile,
		Roles:     roles,
		ExpiresAt: sess.ExpiresAt,
	})
}

// ChangePassword replaces the password after checking the current one. Every
// token issued before the change is rejected afterwards, and the response
// carries a new one.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	var req PasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if crypto.CheckPassword(sess.User.PasswordHash, req.CurrentPassword) != nil {
		h.Error(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}
	if err := crypto.ValidatePassword(req.NewPassword); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	hash, err := crypto.HashPassword(req.NewPassword)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to update password")
		return
	}
	if err := h.store.UpdatePassword(r.Context(), sess.User.ID, hash); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to update password")
		return
	}
	if ttl := time.Until(sess.ExpiresAt); ttl > 0 {
		if err := h.cache.RevokeToken(r.Context(), sess.TokenID, ttl); err != nil {
			h.logger.Warn().Err(err).Str("user_id", sess.User.ID.String()).Msg("token revocation failed")
		}
	}
	h.logger.Info().Str("user_id", sess.User.ID.String()).Msg("password changed")

	// Older tokens stop working; hand the caller a fresh one.
	h.issueToken(w, r, sess.User, http.StatusOK)
}
