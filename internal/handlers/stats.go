package handlers

import (
	"net/http"
	"strconv"
	"time"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalUsers         int64            `json:"total_users"`
	TotalConversations int64            `json:"total_conversations"`
	TotalMessages      int64            `json:"total_messages"`
	Listings           map[string]int64 `json:"listings"`
	LastActivity       string           `json:"last_activity"`
}

// Stats returns platform statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("stats query failed")
		h.Error(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	lastActivity := "no activity yet"
	if st.LastActivity != nil {
		lastActivity = formatTimeAgo(*st.LastActivity)
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalUsers:         st.Users,
		TotalConversations: st.Conversations,
		TotalMessages:      st.Messages,
		Listings:           st.Listings,
		LastActivity:       lastActivity,
	})
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	default:
		return plural(int(diff.Hours()/24), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
