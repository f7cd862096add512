package messaging

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/campus/internal/models"
	"github.com/eldtechnologies/campus/internal/store"
)

// Feed delivers newly stored messages to live subscribers of a conversation.
// store.RedisStore implements it across server instances, LocalFeed within one.
type Feed interface {
	Publish(ctx context.Context, msg models.Message) error
	Subscribe(ctx context.Context, conversationID uuid.UUID) (store.Subscription, error)
}

const localBuffer = 64

// LocalFeed fans messages out to subscribers in the same process.
// A subscriber whose buffer is full misses the event.
type LocalFeed struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]map[*localSubscription]struct{}
	logger zerolog.Logger
}

// NewLocalFeed creates an in-process feed.
func NewLocalFeed(logger zerolog.Logger) *LocalFeed {
	return &LocalFeed{
		subs:   make(map[uuid.UUID]map[*localSubscription]struct{}),
		logger: logger,
	}
}

// Publish delivers msg to every current subscriber of its conversation.
func (f *LocalFeed) Publish(ctx context.Context, msg models.Message) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for sub := range f.subs[msg.ConversationID] {
		select {
		case sub.events <- msg:
		default:
			f.logger.Warn().
				Str("conversation_id", msg.ConversationID.String()).
				Str("message_id", msg.ID.String()).
				Msg("subscriber buffer full, dropping live event")
		}
	}
	return nil
}

// Subscribe registers a subscriber for a conversation.
func (f *LocalFeed) Subscribe(ctx context.Context, conversationID uuid.UUID) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &localSubscription{
		feed:           f,
		conversationID: conversationID,
		events:         make(chan models.Message, localBuffer),
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.subs[conversationID]
	if !ok {
		set = make(map[*localSubscription]struct{})
		f.subs[conversationID] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

// Subscribers returns the number of open subscriptions for a conversation.
func (f *LocalFeed) Subscribers(conversationID uuid.UUID) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[conversationID])
}

type localSubscription struct {
	feed           *LocalFeed
	conversationID uuid.UUID
	events         chan models.Message
	once           sync.Once
}

func (s *localSubscription) Events() <-chan models.Message {
	return s.events
}

func (s *localSubscription) Close() error {
	s.once.Do(func() {
		f := s.feed
		f.mu.Lock()
		defer f.mu.Unlock()
		if set, ok := f.subs[s.conversationID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(f.subs, s.conversationID)
			}
		}
		close(s.events)
	})
	return nil
}
