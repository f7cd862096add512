package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eldtechnologies/campus/internal/jobs"
	"github.com/eldtechnologies/campus/internal/metrics"
	"github.com/eldtechnologies/campus/internal/models"
	"github.com/eldtechnologies/campus/internal/store"
)

// Unblocker lifts an automatic IP block.
type Unblocker interface {
	Unblock(ctx context.Context, ip string)
}

// PendingVerification is a verification request with a short-lived document link.
type PendingVerification struct {
	models.VerificationRequest
	DocumentURL string `json:"document_url,omitempty"`
}

// PendingResponse is the moderation queue.
type PendingResponse struct {
	Listings      []models.Listing      `json:"listings"`
	Verifications []PendingVerification `json:"verifications"`
}

// StatusRequest is a moderation decision on a listing.
type StatusRequest struct {
	Status string `json:"status"`
}

// ReviewRequest is a decision on a verification request.
type ReviewRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

// RoleRequest grants or revokes a role.
type RoleRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
}

// UniversityRequest registers a university.
type UniversityRequest struct {
	Name        string `json:"name"`
	EmailDomain string `json:"email_domain"`
	City        string `json:"city"`
}

// Pending returns listings and verification requests awaiting review.
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	listings, err := h.listings.Pending(r.Context(), actorOf(sess))
	if err != nil {
		h.listingError(w, err)
		return
	}

	reqs, err := h.store.ListVerificationRequests(r.Context(), models.StatusPending)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list verification requests")
		h.Error(w, http.StatusInternalServerError, "failed to load pending items")
		return
	}
	verifications := make([]PendingVerification, 0, len(reqs))
	for _, req := range reqs {
		pv := PendingVerification{VerificationRequest: req}
		if url, err := h.uploads.DocumentURL(r.Context(), req.DocumentKey); err == nil {
			pv.DocumentURL = url
		}
		verifications = append(verifications, pv)
	}

	h.JSON(w, http.StatusOK, PendingResponse{Listings: listings, Verifications: verifications})
}

// SetListingStatus approves or rejects a listing and notifies its owner.
func (h *Handler) SetListingStatus(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req StatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	l, err := h.listings.SetStatus(r.Context(), actorOf(sess), id, req.Status)
	if err != nil {
		h.listingError(w, err)
		return
	}
	metrics.ModerationDecisions.WithLabelValues("listing", req.Status).Inc()
	if req.Status != models.StatusPending {
		h.notifyModeration(r.Context(), l.OwnerID, l.Kind+" listing", req.Status)
	}
	h.JSON(w, http.StatusOK, l)
}

// ReviewVerification approves or rejects a verification request. Approval
// marks the profile verified in the same transaction.
func (h *Handler) ReviewVerification(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req ReviewRequest
	if !h.decode(w, r, &req) {
		return
	}

	vr, err := h.store.GetVerificationRequest(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if vr == nil {
		h.Error(w, http.StatusNotFound, "verification request not found")
		return
	}
	if vr.Status != models.StatusPending {
		h.Error(w, http.StatusConflict, "verification request already reviewed")
		return
	}

	status := models.StatusRejected
	if req.Approve {
		status = models.StatusApproved
	}
	err = h.store.InTx(r.Context(), func(tx store.DataStore) error {
		if err := tx.ReviewVerificationRequest(r.Context(), id, status, strings.TrimSpace(req.Note), sess.User.ID); err != nil {
			return err
		}
		if req.Approve {
			return tx.SetProfileVerified(r.Context(), vr.UserID, true)
		}
		return nil
	})
	if errors.Is(err, store.ErrNotPending) {
		h.Error(w, http.StatusConflict, "verification request already reviewed")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("request_id", id.String()).Msg("verification review failed")
		h.Error(w, http.StatusInternalServerError, "failed to record review")
		return
	}

	metrics.ModerationDecisions.WithLabelValues("verification", status).Inc()
	h.logger.Info().
		Str("request_id", id.String()).
		Str("moderator_id", sess.User.ID.String()).
		Str("status", status).
		Msg("verification reviewed")
	h.notifyModeration(r.Context(), vr.UserID, "verification request", status)

	updated, err := h.store.GetVerificationRequest(r.Context(), id)
	if err != nil || updated == nil {
		h.JSON(w, http.StatusOK, map[string]string{"status": status})
		return
	}
	h.JSON(w, http.StatusOK, updated)
}

// notifyModeration queues the outcome e-mail. Failures are logged only.
func (h *Handler) notifyModeration(ctx context.Context, userID uuid.UUID, subject, outcome string) {
	user, err := h.store.GetUserByID(ctx, userID)
	if err != nil || user == nil {
		h.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("moderation notice skipped")
		return
	}
	err = h.jobs.Enqueue(ctx, jobs.TypeModerationEmail, jobs.ModerationEmail{
		Email:   user.Email,
		Subject: subject,
		Outcome: outcome,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to queue moderation notice")
	}
}

// GrantRole gives a user a role.
func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request) {
	req, ok := h.roleRequest(w, r)
	if !ok {
		return
	}
	if err := h.store.GrantRole(r.Context(), req.UserID, req.Role); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to grant role")
		return
	}
	h.logger.Info().
		Str("user_id", req.UserID.String()).
		Str("role", req.Role).
		Str("by", session(r).User.ID.String()).
		Msg("role granted")
	h.JSON(w, http.StatusOK, req)
}

// RevokeRole removes a role. Admins cannot drop their own admin role.
func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	req, ok := h.roleRequest(w, r)
	if !ok {
		return
	}
	if req.UserID == session(r).User.ID && req.Role == models.RoleAdmin {
		h.Error(w, http.StatusBadRequest, "cannot revoke your own admin role")
		return
	}
	if err := h.store.RevokeRole(r.Context(), req.UserID, req.Role); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to revoke role")
		return
	}
	h.logger.Info().
		Str("user_id", req.UserID.String()).
		Str("role", req.Role).
		Str("by", session(r).User.ID.String()).
		Msg("role revoked")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) roleRequest(w http.ResponseWriter, r *http.Request) (RoleRequest, bool) {
	var req RoleRequest
	if !h.decode(w, r, &req) {
		return req, false
	}
	if !models.IsValidRole(req.Role) {
		h.Error(w, http.StatusBadRequest, "unknown role")
		return req, false
	}
	user, err := h.store.GetUserByID(r.Context(), req.UserID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return req, false
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return req, false
	}
	return req, true
}

// HasRole reports whether the signed-in user holds the role in the path.
func (h *Handler) HasRole(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	if !models.IsValidRole(role) {
		h.Error(w, http.StatusNotFound, "unknown role")
		return
	}
	has, err := h.store.HasRole(r.Context(), session(r).User.ID, role)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"role": role, "has_role": has})
}

// CreateUniversity registers a university and its e-mail domain.
func (h *Handler) CreateUniversity(w http.ResponseWriter, r *http.Request) {
	var req UniversityRequest
	if !h.decode(w, r, &req) {
		return
	}
	name := sanitizeName(req.Name)
	domain := strings.ToLower(strings.TrimSpace(req.EmailDomain))
	domain = strings.TrimPrefix(domain, "@")
	if name == "" || !isValidEmail("x@"+domain) {
		h.Error(w, http.StatusBadRequest, "name and a valid email_domain are required")
		return
	}

	uni, err := h.store.CreateUniversity(r.Context(), name, domain, sanitizeName(req.City))
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			h.Error(w, http.StatusConflict, "a university with this email domain already exists")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to create university")
		return
	}
	h.JSON(w, http.StatusCreated, uni)
}

// CreatePartner adds a partner organization.
func (h *Handler) CreatePartner(w http.ResponseWriter, r *http.Request) {
	var req models.Partner
	if !h.decode(w, r, &req) {
		return
	}
	req.Name = sanitizeName(req.Name)
	if req.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	p, err := h.store.CreatePartner(r.Context(), &req)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create partner")
		h.Error(w, http.StatusInternalServerError, "failed to create partner")
		return
	}
	h.JSON(w, http.StatusCreated, p)
}

// Unblock lifts an automatic IP block.
func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IP string `json:"ip"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if net.ParseIP(req.IP) == nil {
		h.Error(w, http.StatusBadRequest, "invalid ip")
		return
	}
	if h.unblocker == nil {
		h.Error(w, http.StatusServiceUnavailable, "ip blocking is not enabled")
		return
	}
	h.unblocker.Unblock(r.Context(), req.IP)
	h.logger.Info().
		Str("type", "security").
		Str("event", "ip_unblocked").
		Str("ip", req.IP).
		Str("by", session(r).User.ID.String()).
		Msg("IP unblocked")
	w.WriteHeader(http.StatusNoContent)
}
