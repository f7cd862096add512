package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/campus/internal/messaging"
	"github.com/eldtechnologies/campus/internal/realtime"
)

const inflightTimeout = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Access tokens are not cookies, so any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inboundFrame is a command sent by the inbox client.
type inboundFrame struct {
	Type           string     `json:"type"` // load, start, select, send
	UserID         *uuid.UUID `json:"user_id,omitempty"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	Content        string     `json:"content,omitempty"`
}

// outboundFrame is an event pushed to the inbox client.
type outboundFrame struct {
	Type           string                       `json:"type"`
	ConversationID *uuid.UUID                   `json:"conversation_id,omitempty"`
	Conversations  []messaging.ConversationView `json:"conversations,omitempty"`
	Conversation   *messaging.ConversationView  `json:"conversation,omitempty"`
	Messages       []messaging.MessageView      `json:"messages,omitempty"`
	Message        *messaging.MessageView       `json:"message,omitempty"`
	MessageID      *uuid.UUID                   `json:"message_id,omitempty"`
	Code           string                       `json:"code,omitempty"`
	Error          string                       `json:"error,omitempty"`
}

// Inbox upgrades to a WebSocket that drives one messaging view: the
// conversation list, the selected conversation and its live messages.
func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	sess := session(r)

	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		return
	}

	conn := realtime.NewConnection(sess.User.ID, ws)
	conn.Start()

	view := messaging.NewView(h.messages, viewerOf(sess), func(m messaging.MessageView) {
		_ = conn.SendJSON(outboundFrame{Type: "message", ConversationID: &m.ConversationID, Message: &m})
	})
	defer func() {
		view.Close()
		conn.Close(websocket.CloseNormalClosure, "session closed")
		conn.Wait()
	}()

	if !sess.ExpiresAt.IsZero() {
		expiry := time.AfterFunc(time.Until(sess.ExpiresAt), func() {
			conn.Close(websocket.ClosePolicyViolation, "session expired")
		})
		defer expiry.Stop()
	}

	ws.SetReadLimit(64 << 10)
	_ = ws.SetReadDeadline(time.Now().Add(realtime.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(realtime.ReadTimeout))
	})

	h.inboxLoad(r.Context(), conn, view)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				h.logger.Debug().Err(err).Str("user_id", sess.User.ID.String()).Msg("inbox read ended")
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			replyError(conn, "bad_request", "invalid payload")
			continue
		}

		switch frame.Type {
		case "load":
			h.inboxLoad(r.Context(), conn, view)
		case "start":
			h.inboxStart(r.Context(), conn, view, frame)
		case "select":
			h.inboxSelect(r.Context(), conn, view, frame)
		case "send":
			h.inboxSend(r.Context(), conn, view, frame)
		default:
			replyError(conn, "unsupported_type", "unknown frame type")
		}
	}
}

func (h *Handler) inboxLoad(parent context.Context, conn *realtime.Connection, view *messaging.View) {
	ctx, cancel := context.WithTimeout(parent, inflightTimeout)
	defer cancel()
	convs := view.Load(ctx)
	_ = conn.SendJSON(outboundFrame{Type: "conversations", Conversations: convs})
}

func (h *Handler) inboxStart(parent context.Context, conn *realtime.Connection, view *messaging.View, frame inboundFrame) {
	if frame.UserID == nil {
		replyError(conn, "bad_request", "user_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(parent, inflightTimeout)
	defer cancel()

	conv, msgs, err := view.Start(ctx, *frame.UserID)
	if err != nil {
		replyMessagingError(conn, err)
		return
	}
	_ = conn.SendJSON(outboundFrame{
		Type:           "conversation",
		ConversationID: &conv.ID,
		Conversation:   &conv,
		Messages:       msgs,
	})
}

func (h *Handler) inboxSelect(parent context.Context, conn *realtime.Connection, view *messaging.View, frame inboundFrame) {
	if frame.ConversationID == nil {
		replyError(conn, "bad_request", "conversation_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(parent, inflightTimeout)
	defer cancel()

	msgs, err := view.Select(ctx, *frame.ConversationID)
	if err != nil {
		replyMessagingError(conn, err)
		return
	}
	_ = conn.SendJSON(outboundFrame{Type: "history", ConversationID: frame.ConversationID, Messages: msgs})
}

// inboxSend acknowledges the write only; the message itself arrives as a
// "message" event from the live subscription.
func (h *Handler) inboxSend(parent context.Context, conn *realtime.Connection, view *messaging.View, frame inboundFrame) {
	ctx, cancel := context.WithTimeout(parent, inflightTimeout)
	defer cancel()

	msg, err := view.Send(ctx, frame.Content)
	if err != nil {
		replyMessagingError(conn, err)
		return
	}
	_ = conn.SendJSON(outboundFrame{Type: "ack", ConversationID: &msg.ConversationID, MessageID: &msg.ID})
}

func replyMessagingError(conn *realtime.Connection, err error) {
	status, msg := messagingStatus(err)
	code := "bad_request"
	switch status {
	case http.StatusForbidden:
		code = "forbidden"
	case http.StatusNotFound:
		code = "not_found"
	case http.StatusInternalServerError:
		code = "internal_error"
	}
	replyError(conn, code, msg)
}

func replyError(conn *realtime.Connection, code, message string) {
	_ = conn.SendJSON(outboundFrame{Type: "error", Code: code, Error: message})
}
