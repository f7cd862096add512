// Package campus provides a client for the campus community API.
package campus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a campus API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	Token      string
	ExpiresAt  time.Time
	HTTPClient *http.Client
}

// Config holds the persisted session.
type Config struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("campus error %d: %s", e.Status, e.Message)
}

// NewClient creates a new campus client and loads a saved session if present.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("CAMPUS_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".campus")
	}

	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadConfig()
	return c
}

// LoadConfig loads the saved access token from disk.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "session.json"))
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}
	c.Token = config.AccessToken
	c.ExpiresAt = config.ExpiresAt
	return nil
}

// SaveConfig writes the access token to disk.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, _ := json.MarshalIndent(Config{AccessToken: c.Token, ExpiresAt: c.ExpiresAt}, "", "  ")
	return os.WriteFile(filepath.Join(c.ConfigDir, "session.json"), data, 0600)
}

// ClearConfig removes the saved session.
func (c *Client) ClearConfig() error {
	c.Token = ""
	c.ExpiresAt = time.Time{}
	err := os.Remove(filepath.Join(c.ConfigDir, "session.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// do performs a JSON request and decodes the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		if errResp.Error == "" {
			errResp.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// SignupResponse is returned by Signup.
type SignupResponse struct {
	ID                   string `json:"id"`
	Email                string `json:"email"`
	VerificationRequired bool   `json:"verification_required"`
}

// Signup creates an account. A verification code is e-mailed to the address.
func (c *Client) Signup(ctx context.Context, email, password, fullName string) (*SignupResponse, error) {
	var resp SignupResponse
	err := c.do(ctx, http.MethodPost, "/auth/signup", map[string]string{
		"email":     email,
		"password":  password,
		"full_name": fullName,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// User is an account.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

// Profile is a user's profile.
type Profile struct {
	ID           string  `json:"id"`
	FullName     string  `json:"full_name"`
	Username     *string `json:"username,omitempty"`
	UniversityID *string `json:"university_id,omitempty"`
	Bio          string  `json:"bio,omitempty"`
	AvatarURL    string  `json:"avatar_url,omitempty"`
	IsVerified   bool    `json:"is_verified"`
}

// TokenResponse is returned by Verify and Login.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
	Profile     *Profile  `json:"profile,omitempty"`
}

// Verify confirms the e-mailed code and stores the issued session.
func (c *Client) Verify(ctx context.Context, email, code string) (*TokenResponse, error) {
	return c.authenticate(ctx, "/auth/verify", map[string]string{"email": email, "code": code})
}

// Login signs in and stores the issued session.
func (c *Client) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	return c.authenticate(ctx, "/auth/login", map[string]string{"email": email, "password": password})
}

func (c *Client) authenticate(ctx context.Context, path string, in any) (*TokenResponse, error) {
	var resp TokenResponse
	if err := c.do(ctx, http.MethodPost, path, in, &resp); err != nil {
		return nil, err
	}
	c.Token = resp.AccessToken
	c.ExpiresAt = resp.ExpiresAt
	if err := c.SaveConfig(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout ends the session on the server and forgets it locally.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		return err
	}
	return c.ClearConfig()
}

// Conversation is a direct or group conversation.
type Conversation struct {
	ID            string    `json:"id"`
	Name          *string   `json:"name,omitempty"`
	IsGroup       bool      `json:"is_group"`
	CounterpartID *string   `json:"counterpart_id,omitempty"`
	Counterpart   *Profile  `json:"counterpart,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Title returns a display name for the conversation.
func (c Conversation) Title() string {
	switch {
	case c.Name != nil && *c.Name != "":
		return *c.Name
	case c.Counterpart != nil:
		return c.Counterpart.FullName
	default:
		return c.ID
	}
}

// Message is a chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	Sender         *Profile  `json:"sender,omitempty"`
}

// Conversations lists the signed-in user's conversations, most recent first.
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var resp struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// StartDirect finds or creates the one-to-one conversation with a user.
func (c *Client) StartDirect(ctx context.Context, userID string) (*Conversation, error) {
	var conv Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations", map[string]string{"user_id": userID}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// CreateGroup creates a named group conversation.
func (c *Client) CreateGroup(ctx context.Context, name string, memberIDs []string) (*Conversation, error) {
	var conv Conversation
	err := c.do(ctx, http.MethodPost, "/conversations", map[string]any{
		"name":       name,
		"member_ids": memberIDs,
	}, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// Messages returns a conversation's history, oldest first.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	var resp struct {
		Messages []Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(conversationID)+"/messages", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Send posts a message to a conversation.
func (c *Client) Send(ctx context.Context, conversationID, content string) (*Message, error) {
	var msg Message
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"content": content}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Listing is a board entry.
type Listing struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	OwnerID    string            `json:"owner_id"`
	Title      string            `json:"title,omitempty"`
	Body       string            `json:"body"`
	PriceCents *int64            `json:"price_cents,omitempty"`
	Location   string            `json:"location,omitempty"`
	Status     string            `json:"status"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ListingInput holds the fields of a new listing.
type ListingInput struct {
	Title      string            `json:"title,omitempty"`
	Body       string            `json:"body"`
	PriceCents *int64            `json:"price_cents,omitempty"`
	Location   string            `json:"location,omitempty"`
	Contact    *string           `json:"contact,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Listings lists one board of the signed-in user's university.
func (c *Client) Listings(ctx context.Context, kind string) ([]Listing, error) {
	var resp struct {
		Listings []Listing `json:"listings"`
	}
	if err := c.do(ctx, http.MethodGet, "/listings/"+url.PathEscape(kind), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Listings, nil
}

// CreateListing adds a listing to a board.
func (c *Client) CreateListing(ctx context.Context, kind string, in ListingInput) (*Listing, error) {
	var l Listing
	if err := c.do(ctx, http.MethodPost, "/listings/"+url.PathEscape(kind), in, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Search finds listings matching every word of the query.
func (c *Client) Search(ctx context.Context, query string) ([]Listing, error) {
	var resp struct {
		Results []Listing `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/search?q="+url.QueryEscape(query), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string         `json:"status"`
	Version   string         `json:"version"`
	Checks    map[string]any `json:"checks"`
	Timestamp string         `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Event is a frame pushed by the inbox socket.
type Event struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Conversations  []Conversation `json:"conversations,omitempty"`
	Conversation   *Conversation  `json:"conversation,omitempty"`
	Messages       []Message      `json:"messages,omitempty"`
	Message        *Message       `json:"message,omitempty"`
	MessageID      string         `json:"message_id,omitempty"`
	Code           string         `json:"code,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Inbox is a live inbox session.
type Inbox struct {
	ws *websocket.Conn
}

// Inbox opens the live inbox socket.
func (c *Client) Inbox(ctx context.Context) (*Inbox, error) {
	u, err := url.Parse(c.BaseURL + "/inbox")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.Token)
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, &Error{Status: resp.StatusCode, Message: "inbox upgrade failed"}
		}
		return nil, err
	}
	return &Inbox{ws: ws}, nil
}

// Next blocks until the next event arrives.
func (i *Inbox) Next() (*Event, error) {
	var ev Event
	if err := i.ws.ReadJSON(&ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Select opens a conversation and subscribes to its new messages.
func (i *Inbox) Select(conversationID string) error {
	return i.ws.WriteJSON(map[string]string{"type": "select", "conversation_id": conversationID})
}

// Start opens the one-to-one conversation with a user.
func (i *Inbox) Start(userID string) error {
	return i.ws.WriteJSON(map[string]string{"type": "start", "user_id": userID})
}

// Send posts to the selected conversation.
func (i *Inbox) Send(content string) error {
	return i.ws.WriteJSON(map[string]string{"type": "send", "content": content})
}

// Close closes the socket.
func (i *Inbox) Close() error {
	_ = i.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return i.ws.Close()
}
