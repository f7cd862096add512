// Package messaging implements conversations, message history and live
// delivery between members of the community.
package messaging

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/campus/internal/crypto"
	"github.com/eldtechnologies/campus/internal/metrics"
	"github.com/eldtechnologies/campus/internal/models"
	"github.com/eldtechnologies/campus/internal/store"
)

// MaxMessageLength is the maximum message size in characters.
const MaxMessageLength = 4000

// ConversationView is a conversation annotated for display. Counterpart is
// set for one-to-one conversations when the other member's profile loaded.
type ConversationView struct {
	models.Conversation
	CounterpartID *uuid.UUID            `json:"counterpart_id,omitempty"`
	Counterpart   *models.PublicProfile `json:"counterpart,omitempty"`
}

// MessageView is a message with its sender's public profile attached.
type MessageView struct {
	models.Message
	Sender *models.PublicProfile `json:"sender,omitempty"`
}

// Viewer identifies the signed-in user a messaging operation runs for.
type Viewer struct {
	UserID       uuid.UUID
	UniversityID *uuid.UUID
}

// Service implements the messaging operations on top of a DataStore and a Feed.
// It holds no per-user state; see View for that.
type Service struct {
	store  store.DataStore
	feed   Feed
	logger zerolog.Logger
}

// NewService creates a messaging service.
func NewService(ds store.DataStore, feed Feed, logger zerolog.Logger) *Service {
	return &Service{store: ds, feed: feed, logger: logger}
}

// LoadConversations returns the conversations userID participates in, most
// recently active first. Read failures are logged and yield a partial or
// empty list instead of an error.
func (s *Service) LoadConversations(ctx context.Context, userID uuid.UUID) []ConversationView {
	out := []ConversationView{}
	if userID == uuid.Nil {
		return out
	}

	ids, err := s.store.ParticipantConversationIDs(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to load participant rows")
		return out
	}
	if len(ids) == 0 {
		return out
	}

	convs, err := s.store.GetConversations(ctx, ids)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to load conversations")
		return out
	}

	for _, c := range convs {
		view := ConversationView{Conversation: c}
		if !c.IsGroup {
			s.attachCounterpart(ctx, &view, userID)
		}
		out = append(out, view)
	}
	return out
}

func (s *Service) attachCounterpart(ctx context.Context, view *ConversationView, userID uuid.UUID) {
	other, err := s.store.OtherParticipant(ctx, view.ID, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("conversation_id", view.ID.String()).Msg("failed to load counterpart")
		return
	}
	if other == uuid.Nil {
		return
	}
	view.CounterpartID = &other

	p, err := s.store.GetProfile(ctx, other)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", other.String()).Msg("failed to load counterpart profile")
		return
	}
	if p != nil {
		pub := p.Public()
		view.Counterpart = &pub
	}
}

// StartDirect finds or creates the one-to-one conversation between the viewer
// and targetID. A match in loaded is returned without touching the store.
// Otherwise the conversation and both participant rows are written in one
// transaction; the direct key makes concurrent calls converge on one row.
// The boolean result reports whether a new conversation was created.
func (s *Service) StartDirect(ctx context.Context, loaded []ConversationView, viewer Viewer, targetID uuid.UUID) (ConversationView, bool, error) {
	if targetID == viewer.UserID {
		return ConversationView{}, false, ErrSelfConversation
	}
	for _, c := range loaded {
		if !c.IsGroup && c.CounterpartID != nil && *c.CounterpartID == targetID {
			return c, false, nil
		}
	}

	target, err := s.store.GetProfile(ctx, targetID)
	if err != nil {
		return ConversationView{}, false, err
	}
	if target == nil {
		return ConversationView{}, false, ErrUserNotFound
	}

	key := crypto.DirectKey(viewer.UserID, targetID)
	var (
		conv    *models.Conversation
		created bool
	)
	err = s.store.InTx(ctx, func(tx store.DataStore) error {
		c, inserted, err := tx.CreateConversation(ctx, &models.Conversation{
			IsGroup:      false,
			UniversityID: viewer.UniversityID,
			DirectKey:    &key,
		})
		if err != nil {
			return err
		}
		if err := tx.AddParticipant(ctx, c.ID, viewer.UserID); err != nil {
			return err
		}
		if err := tx.AddParticipant(ctx, c.ID, targetID); err != nil {
			return err
		}
		conv, created = c, inserted
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).
			Str("user_id", viewer.UserID.String()).
			Str("target_id", targetID.String()).
			Msg("failed to start conversation")
		return ConversationView{}, false, err
	}

	if created {
		metrics.ConversationsCreated.WithLabelValues("direct").Inc()
	}
	pub := target.Public()
	return ConversationView{
		Conversation:  *conv,
		CounterpartID: &targetID,
		Counterpart:   &pub,
	}, created, nil
}

// CreateGroup creates a named group conversation with the viewer and memberIDs.
func (s *Service) CreateGroup(ctx context.Context, viewer Viewer, name string, memberIDs []uuid.UUID) (ConversationView, error) {
	name = strings.TrimSpace(name)
	members := make([]uuid.UUID, 0, len(memberIDs))
	seen := map[uuid.UUID]bool{viewer.UserID: true}
	for _, id := range memberIDs {
		if !seen[id] {
			seen[id] = true
			members = append(members, id)
		}
	}
	if name == "" || len(members) == 0 {
		return ConversationView{}, ErrInvalidGroup
	}

	profiles, err := s.store.GetProfiles(ctx, members)
	if err != nil {
		return ConversationView{}, err
	}
	if len(profiles) != len(members) {
		return ConversationView{}, ErrUserNotFound
	}

	var conv *models.Conversation
	err = s.store.InTx(ctx, func(tx store.DataStore) error {
		c, _, err := tx.CreateConversation(ctx, &models.Conversation{
			Name:         &name,
			IsGroup:      true,
			UniversityID: viewer.UniversityID,
		})
		if err != nil {
			return err
		}
		for _, id := range append([]uuid.UUID{viewer.UserID}, members...) {
			if err := tx.AddParticipant(ctx, c.ID, id); err != nil {
				return err
			}
		}
		conv = c
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", viewer.UserID.String()).Msg("failed to create group")
		return ConversationView{}, err
	}

	metrics.ConversationsCreated.WithLabelValues("group").Inc()
	return ConversationView{Conversation: *conv}, nil
}

// History returns every message of a conversation in creation order with
// sender profiles attached. Senders are fetched in a single batch.
func (s *Service) History(ctx context.Context, viewerID, conversationID uuid.UUID) ([]MessageView, error) {
	if err := s.requireParticipant(ctx, viewerID, conversationID); err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	var senders []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, m := range msgs {
		if !seen[m.SenderID] {
			seen[m.SenderID] = true
			senders = append(senders, m.SenderID)
		}
	}

	byID := make(map[uuid.UUID]*models.PublicProfile, len(senders))
	if len(senders) > 0 {
		profiles, err := s.store.GetProfiles(ctx, senders)
		if err != nil {
			s.logger.Error().Err(err).Str("conversation_id", conversationID.String()).Msg("failed to load sender profiles")
		}
		for i := range profiles {
			pub := profiles[i].Public()
			byID[pub.ID] = &pub
		}
	}

	out := make([]MessageView, len(msgs))
	for i, m := range msgs {
		out[i] = MessageView{Message: m, Sender: byID[m.SenderID]}
	}
	return out, nil
}

// Participants lists the members of a conversation the viewer belongs to,
// in join order.
func (s *Service) Participants(ctx context.Context, viewerID, conversationID uuid.UUID) ([]models.ConversationParticipant, error) {
	if err := s.requireParticipant(ctx, viewerID, conversationID); err != nil {
		return nil, err
	}
	return s.store.ListParticipants(ctx, conversationID)
}

// Send stores a message and bumps the conversation's last activity in one
// transaction, then publishes the stored row on the feed. The sender sees
// the message through its own live subscription, not from this call.
func (s *Service) Send(ctx context.Context, viewerID, conversationID uuid.UUID, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, ErrMessageTooLong
	}
	if err := s.requireParticipant(ctx, viewerID, conversationID); err != nil {
		return nil, err
	}

	var msg *models.Message
	err := s.store.InTx(ctx, func(tx store.DataStore) error {
		m, err := tx.CreateMessage(ctx, &models.Message{
			ConversationID: conversationID,
			SenderID:       viewerID,
			Content:        text,
		})
		if err != nil {
			return err
		}
		if err := tx.TouchConversation(ctx, conversationID, m.CreatedAt); err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.MessagesSent.Inc()

	// The message is durable at this point; a lost live event only delays
	// delivery until the next history load.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.feed.Publish(pubCtx, *msg); err != nil {
		s.logger.Error().Err(err).Str("message_id", msg.ID.String()).Msg("failed to publish message")
	}
	return msg, nil
}

// Subscribe opens a live subscription to a conversation the viewer belongs to.
func (s *Service) Subscribe(ctx context.Context, viewerID, conversationID uuid.UUID) (store.Subscription, error) {
	if err := s.requireParticipant(ctx, viewerID, conversationID); err != nil {
		return nil, err
	}
	return s.feed.Subscribe(ctx, conversationID)
}

// Profile fetches one public profile, or nil if it does not exist.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*models.PublicProfile, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil || p == nil {
		return nil, err
	}
	pub := p.Public()
	return &pub, nil
}

func (s *Service) requireParticipant(ctx context.Context, userID, conversationID uuid.UUID) error {
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}
