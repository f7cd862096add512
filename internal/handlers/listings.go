package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eldtechnologies/campus/internal/api/middleware"
	"github.com/eldtechnologies/campus/internal/listing"
	"github.com/eldtechnologies/campus/internal/media"
	"github.com/eldtechnologies/campus/internal/models"
)

// Feed lists approved feed posts of the viewer's university.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	h.listKind(w, r, listing.KindPost)
}

// CreatePost publishes a feed post.
func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	h.createKind(w, r, listing.KindPost)
}

// ListListings lists one board.
func (h *Handler) ListListings(w http.ResponseWriter, r *http.Request) {
	h.listKind(w, r, chi.URLParam(r, "kind"))
}

// CreateListing creates a listing on one board.
func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	h.createKind(w, r, chi.URLParam(r, "kind"))
}

// listFilter builds the filter from query parameters. Boards default to the
// viewer's university; university=all widens them.
func listFilter(r *http.Request, sess *middleware.Session, kind string) (models.ListingFilter, bool) {
	q := r.URL.Query()
	limit, offset := page(r)
	f := models.ListingFilter{
		Kind:         kind,
		UniversityID: universityOf(sess),
		Status:       q.Get("status"),
		Limit:        limit,
		Offset:       offset,
	}
	switch uni := q.Get("university"); uni {
	case "":
	case "all":
		f.UniversityID = nil
	default:
		id, err := uuid.Parse(uni)
		if err != nil {
			return f, false
		}
		f.UniversityID = &id
	}
	if q.Get("owner") == "me" {
		f.OwnerID = &sess.User.ID
		f.UniversityID = nil
	}
	return f, true
}

func (h *Handler) listKind(w http.ResponseWriter, r *http.Request, kind string) {
	sess := session(r)
	f, ok := listFilter(r, sess, kind)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid university format")
		return
	}

	var (
		rows []models.Listing
		err  error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		rows, err = h.listings.Search(r.Context(), actorOf(sess), q, f)
	} else {
		rows, err = h.listings.List(r.Context(), actorOf(sess), f)
	}
	if err != nil {
		h.listingError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"listings": rows})
}

func (h *Handler) createKind(w http.ResponseWriter, r *http.Request, kind string) {
	sess := session(r)
	var in listing.Input
	if !h.decode(w, r, &in) {
		return
	}
	l, err := h.listings.Create(r.Context(), actorOf(sess), kind, in)
	if err != nil {
		h.listingError(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, l)
}

// GetListing returns one listing.
func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	l, err := h.listings.Get(r.Context(), actorOf(sess), chi.URLParam(r, "kind"), id)
	if err != nil {
		h.listingError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, l)
}

// DeleteListing removes a listing owned by the viewer (or any, for moderators).
func (h *Handler) DeleteListing(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.listings.Delete(r.Context(), actorOf(sess), chi.URLParam(r, "kind"), id); err != nil {
		h.listingError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddListingImage uploads an image and attaches it to a listing.
func (h *Handler) AddListingImage(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	kind := chi.URLParam(r, "kind")
	actor := actorOf(sess)

	// Check ownership before doing the upload work.
	if _, err := h.listings.AuthorizeImage(r.Context(), actor, kind, id); err != nil {
		h.listingError(w, err)
		return
	}
	data, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	_, url, err := h.uploads.Upload(r.Context(), sess.User.ID, data, media.ListingImage)
	if err != nil {
		h.uploadError(w, err)
		return
	}
	l, err := h.listings.AddImage(r.Context(), actor, kind, id, url)
	if err != nil {
		h.listingError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, l)
}

// Search finds listings of every kind matching q.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		h.Error(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	if len(q) > 100 {
		h.Error(w, http.StatusBadRequest, "query too long (max 100 chars)")
		return
	}

	f, ok := listFilter(r, sess, r.URL.Query().Get("kind"))
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid university format")
		return
	}
	rows, err := h.listings.Search(r.Context(), actorOf(sess), q, f)
	if err != nil {
		h.listingError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"query":   q,
		"results": rows,
		"total":   len(rows),
	})
}

// Kinds lists the boards.
func (h *Handler) Kinds(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]any{"kinds": listing.Kinds()})
}

func (h *Handler) listingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, listing.ErrUnknownKind), errors.Is(err, listing.ErrNotFound):
		h.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, listing.ErrForbidden):
		h.Error(w, http.StatusForbidden, "not permitted")
	case errors.Is(err, listing.ErrInvalid), errors.Is(err, listing.ErrTooManyImages):
		h.Error(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error().Err(err).Msg("listing operation failed")
		h.Error(w, http.StatusInternalServerError, "something went wrong, please try again")
	}
}
