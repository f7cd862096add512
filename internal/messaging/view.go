package messaging

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/eldtechnologies/campus/internal/metrics"
	"github.com/eldtechnologies/campus/internal/models"
	"github.com/eldtechnologies/campus/internal/store"
)

// View is the messaging state of one signed-in user: the loaded conversation
// list, the selected conversation's messages and at most one live
// subscription to it. Selecting another conversation closes the previous
// subscription before the next one is opened. A View must be closed.
type View struct {
	svc      *Service
	viewer   Viewer
	onAppend func(MessageView)

	// ops serializes Load, Start, Select and Close.
	ops sync.Mutex

	mu            sync.Mutex
	conversations []ConversationView
	selected      uuid.UUID
	messages      []MessageView
	seen          map[uuid.UUID]bool
	profiles      map[uuid.UUID]*models.PublicProfile
	closed        bool

	live *liveSub
}

type liveSub struct {
	sub    store.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// NewView creates a view for viewer. onAppend, if non-nil, is called from the
// delivery goroutine for every live message appended to the selection.
func NewView(svc *Service, viewer Viewer, onAppend func(MessageView)) *View {
	return &View{
		svc:      svc,
		viewer:   viewer,
		onAppend: onAppend,
		profiles: make(map[uuid.UUID]*models.PublicProfile),
	}
}

// Load refreshes the conversation list.
func (v *View) Load(ctx context.Context) []ConversationView {
	v.ops.Lock()
	defer v.ops.Unlock()

	convs := v.svc.LoadConversations(ctx, v.viewer.UserID)
	v.mu.Lock()
	v.conversations = convs
	v.mu.Unlock()
	return cloneConversations(convs)
}

// Conversations returns the loaded conversation list.
func (v *View) Conversations() []ConversationView {
	v.mu.Lock()
	defer v.mu.Unlock()
	return cloneConversations(v.conversations)
}

// Start opens the one-to-one conversation with targetID, creating it if it is
// not in the loaded list, and selects it.
func (v *View) Start(ctx context.Context, targetID uuid.UUID) (ConversationView, []MessageView, error) {
	v.ops.Lock()
	defer v.ops.Unlock()
	if v.isClosed() {
		return ConversationView{}, nil, ErrViewClosed
	}

	v.mu.Lock()
	loaded := cloneConversations(v.conversations)
	v.mu.Unlock()

	conv, created, err := v.svc.StartDirect(ctx, loaded, v.viewer, targetID)
	if err != nil {
		return ConversationView{}, nil, err
	}
	if created {
		v.mu.Lock()
		v.conversations = prependConversation(v.conversations, conv)
		v.mu.Unlock()
	}

	msgs, err := v.selectLocked(ctx, conv.ID)
	if err != nil {
		return ConversationView{}, nil, err
	}
	return conv, msgs, nil
}

// Select loads the full history of a conversation and subscribes to its new
// messages, replacing the previous selection.
func (v *View) Select(ctx context.Context, conversationID uuid.UUID) ([]MessageView, error) {
	v.ops.Lock()
	defer v.ops.Unlock()
	if v.isClosed() {
		return nil, ErrViewClosed
	}
	return v.selectLocked(ctx, conversationID)
}

func (v *View) selectLocked(ctx context.Context, conversationID uuid.UUID) ([]MessageView, error) {
	v.release()

	v.mu.Lock()
	v.selected = uuid.Nil
	v.messages = nil
	v.seen = make(map[uuid.UUID]bool)
	v.mu.Unlock()

	// Subscribe before reading history so nothing inserted in between is
	// missed; duplicates are dropped by message id.
	sub, err := v.svc.Subscribe(ctx, v.viewer.UserID, conversationID)
	if err != nil {
		return nil, err
	}
	metrics.LiveSubscriptions.Inc()

	history, err := v.svc.History(ctx, v.viewer.UserID, conversationID)
	if err != nil {
		sub.Close()
		metrics.LiveSubscriptions.Dec()
		return nil, err
	}

	v.mu.Lock()
	v.selected = conversationID
	v.messages = history
	for _, m := range history {
		v.seen[m.ID] = true
		if m.Sender != nil {
			v.profiles[m.SenderID] = m.Sender
		}
	}
	v.mu.Unlock()

	pumpCtx, cancel := context.WithCancel(context.Background())
	live := &liveSub{sub: sub, cancel: cancel, done: make(chan struct{})}
	v.live = live
	go v.pump(pumpCtx, conversationID, live)

	return cloneMessages(history), nil
}

// release closes the current subscription and waits for its delivery
// goroutine to exit. Caller holds ops.
func (v *View) release() {
	live := v.live
	if live == nil {
		return
	}
	v.live = nil
	live.cancel()
	live.sub.Close()
	<-live.done
	metrics.LiveSubscriptions.Dec()
}

func (v *View) pump(ctx context.Context, conversationID uuid.UUID, live *liveSub) {
	defer close(live.done)
	for msg := range live.sub.Events() {
		if msg.ConversationID != conversationID {
			continue
		}
		view, ok := v.appendLive(ctx, msg)
		if ok && v.onAppend != nil {
			v.onAppend(view)
		}
	}
}

// appendLive attaches the sender profile, fetching it once if unknown, and
// appends the message unless it is already present.
func (v *View) appendLive(ctx context.Context, msg models.Message) (MessageView, bool) {
	v.mu.Lock()
	if v.seen[msg.ID] {
		v.mu.Unlock()
		return MessageView{}, false
	}
	sender, known := v.profiles[msg.SenderID]
	v.mu.Unlock()

	if !known {
		p, err := v.svc.Profile(ctx, msg.SenderID)
		if err != nil {
			v.svc.logger.Error().Err(err).Str("user_id", msg.SenderID.String()).Msg("failed to load sender profile")
		}
		sender = p
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if !known && sender != nil {
		v.profiles[msg.SenderID] = sender
	}
	if v.selected != msg.ConversationID || v.seen[msg.ID] {
		return MessageView{}, false
	}
	view := MessageView{Message: msg, Sender: sender}
	v.seen[msg.ID] = true
	v.messages = append(v.messages, view)
	v.touch(msg)
	return view, true
}

// touch moves the conversation of msg to the top of the list. Caller holds mu.
func (v *View) touch(msg models.Message) {
	for _, c := range v.conversations {
		if c.ID == msg.ConversationID {
			c.UpdatedAt = msg.CreatedAt
			v.conversations = prependConversation(v.conversations, c)
			return
		}
	}
}

// Send sends text to the selected conversation. The message shows up in
// Messages once it arrives on the live subscription.
func (v *View) Send(ctx context.Context, text string) (*models.Message, error) {
	v.mu.Lock()
	selected, closed := v.selected, v.closed
	v.mu.Unlock()
	if closed {
		return nil, ErrViewClosed
	}
	if selected == uuid.Nil {
		return nil, ErrNoSelection
	}
	return v.svc.Send(ctx, v.viewer.UserID, selected, text)
}

// Selected returns the selected conversation, or uuid.Nil.
func (v *View) Selected() uuid.UUID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.selected
}

// Messages returns the messages of the selected conversation in display order.
func (v *View) Messages() []MessageView {
	v.mu.Lock()
	defer v.mu.Unlock()
	return cloneMessages(v.messages)
}

// Close releases the live subscription. It is safe to call more than once.
func (v *View) Close() {
	v.ops.Lock()
	defer v.ops.Unlock()
	v.mu.Lock()
	v.closed = true
	v.selected = uuid.Nil
	v.mu.Unlock()
	v.release()
}

func (v *View) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

func prependConversation(list []ConversationView, c ConversationView) []ConversationView {
	out := make([]ConversationView, 0, len(list)+1)
	out = append(out, c)
	for _, existing := range list {
		if existing.ID != c.ID {
			out = append(out, existing)
		}
	}
	return out
}

func cloneConversations(in []ConversationView) []ConversationView {
	out := make([]ConversationView, len(in))
	copy(out, in)
	return out
}

func cloneMessages(in []MessageView) []MessageView {
	out := make([]MessageView, len(in))
	copy(out, in)
	return out
}
