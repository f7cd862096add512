package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/eldtechnologies/campus/internal/messaging"
)

// CreateConversationRequest starts a direct conversation (UserID) or a group
// (Name and MemberIDs).
type CreateConversationRequest struct {
	UserID    *uuid.UUID  `json:"user_id"`
	Name      string      `json:"name"`
	MemberIDs []uuid.UUID `json:"member_ids"`
}

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// ListConversations returns the viewer's conversations, most recent first.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	convs := h.messages.LoadConversations(r.Context(), sess.User.ID)
	h.JSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// CreateConversation finds or creates a direct conversation, or creates a group.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	var req CreateConversationRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.UserID != nil {
		conv, created, err := h.messages.StartDirect(r.Context(), nil, viewerOf(sess), *req.UserID)
		if err != nil {
			h.messagingError(w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		h.JSON(w, status, conv)
		return
	}

	conv, err := h.messages.CreateGroup(r.Context(), viewerOf(sess), sanitizeName(req.Name), req.MemberIDs)
	if err != nil {
		h.messagingError(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, conv)
}

// ListMessages returns a conversation's history, oldest first.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	msgs, err := h.messages.History(r.Context(), sess.User.ID, id)
	if err != nil {
		h.messagingError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// ListParticipants returns the members of a conversation.
func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	members, err := h.messages.Participants(r.Context(), sess.User.ID, id)
	if err != nil {
		h.messagingError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"participants": members})
}

// PostMessage sends a message to a conversation.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req SendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	msg, err := h.messages.Send(r.Context(), sess.User.ID, id, req.Content)
	if err != nil {
		h.messagingError(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, msg)
}

// messagingStatus maps messaging errors to a status and a user-facing message.
func messagingStatus(err error) (int, string) {
	switch {
	case errors.Is(err, messaging.ErrEmptyMessage),
		errors.Is(err, messaging.ErrMessageTooLong),
		errors.Is(err, messaging.ErrSelfConversation),
		errors.Is(err, messaging.ErrInvalidGroup),
		errors.Is(err, messaging.ErrNoSelection):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, messaging.ErrNotParticipant):
		return http.StatusForbidden, "not permitted"
	case errors.Is(err, messaging.ErrUserNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, messaging.ErrViewClosed):
		return http.StatusGone, err.Error()
	default:
		return http.StatusInternalServerError, "something went wrong, please try again"
	}
}

func (h *Handler) messagingError(w http.ResponseWriter, err error) {
	status, msg := messagingStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("messaging operation failed")
	}
	h.Error(w, status, msg)
}
