package messaging

import "errors"

var (
	ErrEmptyMessage     = errors.New("message is empty")
	ErrMessageTooLong   = errors.New("message too long")
	ErrNotParticipant   = errors.New("not a participant of this conversation")
	ErrUserNotFound     = errors.New("user not found")
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")
	ErrInvalidGroup     = errors.New("a group needs a name and at least one other member")
	ErrNoSelection      = errors.New("no conversation selected")
	ErrViewClosed       = errors.New("view closed")
)
