package handlers

import (
	"net/http"

	"github.com/google/uuid"
)

// ListUniversities returns every registered university.
func (h *Handler) ListUniversities(w http.ResponseWriter, r *http.Request) {
	unis, err := h.store.ListUniversities(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list universities")
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"universities": unis})
}

// ListPartners returns global partners plus those of ?university_id=.
func (h *Handler) ListPartners(w http.ResponseWriter, r *http.Request) {
	var uni *uuid.UUID
	if raw := r.URL.Query().Get("university_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid university_id format")
			return
		}
		uni = &id
	}
	partners, err := h.store.ListPartners(r.Context(), uni)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list partners")
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"partners": partners})
}
