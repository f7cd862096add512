package messaging

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/campus/internal/models"
	"github.com/eldtechnologies/campus/internal/store"
)

var errBoom = errors.New("boom")

// fakeStore implements the subset of store.DataStore used by messaging and
// records every call in order. Unimplemented methods panic through the nil
// embedded interface.
type fakeStore struct {
	store.DataStore

	mu            sync.Mutex
	calls         []string
	conversations map[uuid.UUID]models.Conversation
	participants  map[uuid.UUID][]uuid.UUID
	profiles      map[uuid.UUID]models.Profile
	messages      map[uuid.UUID][]models.Message

	failCreateMessage error
	failParticipants  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[uuid.UUID]models.Conversation),
		participants:  make(map[uuid.UUID][]uuid.UUID),
		profiles:      make(map[uuid.UUID]models.Profile),
		messages:      make(map[uuid.UUID][]models.Message),
	}
}

func (f *fakeStore) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeStore) addProfile(name string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.profiles[id] = models.Profile{ID: id, FullName: name}
	return id
}

func (f *fakeStore) addConversation(group bool, updated time.Time, members ...uuid.UUID) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.conversations[id] = models.Conversation{ID: id, IsGroup: group, CreatedAt: updated, UpdatedAt: updated}
	f.participants[id] = append([]uuid.UUID(nil), members...)
	return id
}

func (f *fakeStore) addMessage(convID, sender uuid.UUID, content string) models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := models.Message{ID: uuid.New(), ConversationID: convID, SenderID: sender, Content: content, CreatedAt: time.Now()}
	f.messages[convID] = append(f.messages[convID], m)
	return m
}

// resetCalls clears the call log.
func (f *fakeStore) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeStore) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStore) count(call string) int {
	n := 0
	for _, c := range f.callLog() {
		if c == call {
			n++
		}
	}
	return n
}

// writes returns the mutating calls in order.
func (f *fakeStore) writes() []string {
	var out []string
	for _, c := range f.callLog() {
		for _, prefix := range []string{"CreateConversation", "AddParticipant", "CreateMessage", "TouchConversation"} {
			if strings.HasPrefix(c, prefix) {
				out = append(out, c)
			}
		}
	}
	return out
}

func (f *fakeStore) InTx(ctx context.Context, fn func(tx store.DataStore) error) error {
	return fn(f)
}

func (f *fakeStore) ParticipantConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ParticipantConversationIDs")
	if f.failParticipants != nil {
		return nil, f.failParticipants
	}
	var ids []uuid.UUID
	for convID, members := range f.participants {
		for _, m := range members {
			if m == userID {
				ids = append(ids, convID)
			}
		}
	}
	return ids, nil
}

func (f *fakeStore) GetConversations(ctx context.Context, ids []uuid.UUID) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetConversations")
	var out []models.Conversation
	for _, id := range ids {
		if c, ok := f.conversations[id]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeStore) OtherParticipant(ctx context.Context, conversationID, userID uuid.UUID) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("OtherParticipant")
	for _, m := range f.participants[conversationID] {
		if m != userID {
			return m, nil
		}
	}
	return uuid.Nil, nil
}

func (f *fakeStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetProfile:" + id.String())
	p, ok := f.profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeStore) GetProfiles(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetProfiles")
	var out []models.Profile
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateConversation(ctx context.Context, conv *models.Conversation) (*models.Conversation, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateConversation")
	if conv.DirectKey != nil {
		for _, c := range f.conversations {
			if c.DirectKey != nil && *c.DirectKey == *conv.DirectKey {
				return &c, false, nil
			}
		}
	}
	c := *conv
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	f.conversations[c.ID] = c
	return &c, true, nil
}

func (f *fakeStore) AddParticipant(ctx context.Context, conversationID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AddParticipant:" + userID.String())
	for _, m := range f.participants[conversationID] {
		if m == userID {
			return nil
		}
	}
	f.participants[conversationID] = append(f.participants[conversationID], userID)
	return nil
}

func (f *fakeStore) ListParticipants(ctx context.Context, conversationID uuid.UUID) ([]models.ConversationParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListParticipants")
	out := []models.ConversationParticipant{}
	for _, id := range f.participants[conversationID] {
		out = append(out, models.ConversationParticipant{ConversationID: conversationID, UserID: id})
	}
	return out, nil
}

func (f *fakeStore) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("IsParticipant")
	for _, m := range f.participants[conversationID] {
		if m == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListMessages")
	return append([]models.Message(nil), f.messages[conversationID]...), nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateMessage")
	if f.failCreateMessage != nil {
		return nil, f.failCreateMessage
	}
	m := *msg
	m.ID = uuid.New()
	m.CreatedAt = time.Now()
	f.messages[m.ConversationID] = append(f.messages[m.ConversationID], m)
	return &m, nil
}

func (f *fakeStore) TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("TouchConversation")
	c := f.conversations[id]
	c.UpdatedAt = at
	f.conversations[id] = c
	return nil
}

// recordingFeed wraps a LocalFeed, logs subscribe/close events and tracks
// how many subscriptions are open. With hold set, published messages are
// queued until flush.
type recordingFeed struct {
	*LocalFeed

	mu        sync.Mutex
	events    []string
	active    int
	maxActive int
	hold      bool
	held      []models.Message
}

func newRecordingFeed() *recordingFeed {
	return &recordingFeed{LocalFeed: NewLocalFeed(zerolog.Nop())}
}

func (r *recordingFeed) Publish(ctx context.Context, msg models.Message) error {
	r.mu.Lock()
	if r.hold {
		r.held = append(r.held, msg)
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()
	return r.LocalFeed.Publish(ctx, msg)
}

func (r *recordingFeed) flush(ctx context.Context) {
	r.mu.Lock()
	held := r.held
	r.held, r.hold = nil, false
	r.mu.Unlock()
	for _, m := range held {
		r.LocalFeed.Publish(ctx, m)
	}
}

func (r *recordingFeed) Subscribe(ctx context.Context, conversationID uuid.UUID) (store.Subscription, error) {
	sub, err := r.LocalFeed.Subscribe(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.events = append(r.events, "subscribe:"+conversationID.String())
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	r.mu.Unlock()
	return &countedSub{Subscription: sub, feed: r, id: conversationID}, nil
}

func (r *recordingFeed) snapshot() ([]string, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), r.active, r.maxActive
}

type countedSub struct {
	store.Subscription
	feed *recordingFeed
	id   uuid.UUID
	once sync.Once
}

func (c *countedSub) Close() error {
	c.once.Do(func() {
		c.feed.mu.Lock()
		c.feed.events = append(c.feed.events, "close:"+c.id.String())
		c.feed.active--
		c.feed.mu.Unlock()
	})
	return c.Subscription.Close()
}
