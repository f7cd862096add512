package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is a one-to-one or group chat.
type Conversation struct {
	ID           uuid.UUID  `json:"id"`
	Name         *string    `json:"name,omitempty"` // group conversations only
	IsGroup      bool       `json:"is_group"`
	UniversityID *uuid.UUID `json:"university_id,omitempty"`
	DirectKey    *string    `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ConversationParticipant links a user to a conversation.
type ConversationParticipant struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	JoinedAt       time.Time `json:"joined_at"`
}

// Message is an immutable chat message.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}
