package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/eldtechnologies/campus/internal/media"
	"github.com/eldtechnologies/campus/internal/models"
	"github.com/eldtechnologies/campus/internal/store"
)

var usernameRegex = regexp.MustCompile(`^[a-z0-9_]{3,30}$`)

const (
	maxBioLength   = 500
	maxMajorLength = 100
)

// GetProfile returns the signed-in user's own profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	if sess.Profile == nil {
		h.Error(w, http.StatusNotFound, "profile not found")
		return
	}
	h.JSON(w, http.StatusOK, sess.Profile)
}

// UpdateProfile applies the editable fields present in the body.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	var upd models.ProfileUpdate
	if !h.decode(w, r, &upd) {
		return
	}

	if upd.FullName != nil {
		name := sanitizeName(*upd.FullName)
		if name == "" {
			h.Error(w, http.StatusBadRequest, "full_name cannot be empty")
			return
		}
		upd.FullName = &name
	}
	if upd.Username != nil {
		username := strings.ToLower(strings.TrimSpace(*upd.Username))
		if !usernameRegex.MatchString(username) {
			h.Error(w, http.StatusBadRequest, "username must be 3-30 characters: letters, digits, underscore")
			return
		}
		upd.Username = &username
	}
	if upd.Bio != nil {
		bio := strings.TrimSpace(*upd.Bio)
		if utf8.RuneCountInString(bio) > maxBioLength {
			h.Error(w, http.StatusBadRequest, "bio too long (max 500 chars)")
			return
		}
		upd.Bio = &bio
	}
	if upd.Major != nil {
		major := sanitizeName(*upd.Major)
		if utf8.RuneCountInString(major) > maxMajorLength {
			h.Error(w, http.StatusBadRequest, "major too long")
			return
		}
		upd.Major = &major
	}
	if upd.GraduationYear != nil && (*upd.GraduationYear < 1950 || *upd.GraduationYear > 2100) {
		h.Error(w, http.StatusBadRequest, "graduation_year out of range")
		return
	}

	p, err := h.store.UpdateProfile(r.Context(), sess.User.ID, upd)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			h.Error(w, http.StatusConflict, "username is already taken")
			return
		}
		h.logger.Error().Err(err).Msg("profile update failed")
		h.Error(w, http.StatusInternalServerError, "failed to update profile")
		return
	}
	if p == nil {
		h.Error(w, http.StatusNotFound, "profile not found")
		return
	}
	h.JSON(w, http.StatusOK, p)
}

// PublicProfile returns the public projection of any profile.
func (h *Handler) PublicProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.messages.Profile(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if p == nil {
		h.Error(w, http.StatusNotFound, "profile not found")
		return
	}
	h.JSON(w, http.StatusOK, p)
}

// Community lists the public profiles of the viewer's university.
func (h *Handler) Community(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	limit, offset := page(r)
	profiles, err := h.store.SearchProfiles(r.Context(), models.DirectoryFilter{
		UniversityID: universityOf(sess),
		Query:        strings.TrimSpace(r.URL.Query().Get("q")),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("directory search failed")
		h.Error(w, http.StatusInternalServerError, "failed to load community")
		return
	}

	out := make([]models.PublicProfile, 0, len(profiles))
	for i := range profiles {
		out = append(out, profiles[i].Public())
	}
	h.JSON(w, http.StatusOK, map[string]any{"profiles": out})
}

// UploadAvatar replaces the profile picture.
func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	h.uploadProfileImage(w, r, media.Avatar, h.store.SetAvatar)
}

// UploadCover replaces the profile cover image.
func (h *Handler) UploadCover(w http.ResponseWriter, r *http.Request) {
	h.uploadProfileImage(w, r, media.Cover, h.store.SetCover)
}

func (h *Handler) uploadProfileImage(w http.ResponseWriter, r *http.Request, v media.Variant, save func(context.Context, uuid.UUID, string) error) {
	sess := session(r)
	data, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	_, url, err := h.uploads.Upload(r.Context(), sess.User.ID, data, v)
	if err != nil {
		h.uploadError(w, err)
		return
	}
	if err := save(r.Context(), sess.User.ID, url); err != nil {
		h.logger.Error().Err(err).Str("variant", v.Name).Msg("failed to save image url")
		h.Error(w, http.StatusInternalServerError, "failed to save image")
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"url": url})
}

// SubmitVerification uploads a student-status document for review.
func (h *Handler) SubmitVerification(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	if sess.Profile != nil && sess.Profile.IsVerified {
		h.Error(w, http.StatusConflict, "profile is already verified")
		return
	}
	data, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	key, _, err := h.uploads.Upload(r.Context(), sess.User.ID, data, media.Document)
	if err != nil {
		h.uploadError(w, err)
		return
	}
	req, err := h.store.CreateVerificationRequest(r.Context(), sess.User.ID, key)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create verification request")
		h.Error(w, http.StatusInternalServerError, "failed to submit verification")
		return
	}
	h.logger.Info().
		Str("user_id", sess.User.ID.String()).
		Str("request_id", req.ID.String()).
		Msg("verification requested")
	h.JSON(w, http.StatusCreated, req)
}

// readUpload reads the "file" part of a multipart request.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if !h.uploads.Enabled() {
		h.Error(w, http.StatusServiceUnavailable, media.ErrNotConfigured.Error())
		return nil, false
	}
	if err := r.ParseMultipartForm(media.MaxUploadSize); err != nil {
		h.Error(w, http.StatusBadRequest, "expected a multipart upload")
		return nil, false
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		h.Error(w, http.StatusBadRequest, "file is required")
		return nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, media.MaxUploadSize+1))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "failed to read upload")
		return nil, false
	}
	if len(data) > media.MaxUploadSize {
		h.Error(w, http.StatusRequestEntityTooLarge, "file too large (max 10MB)")
		return nil, false
	}
	return data, true
}

func (h *Handler) uploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, media.ErrNotConfigured):
		h.Error(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, media.ErrNotImage):
		h.Error(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, media.ErrImageTooLarge):
		h.Error(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		h.logger.Error().Err(err).Msg("upload failed")
		h.Error(w, http.StatusBadGateway, "failed to store file")
	}
}
