package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/campus/internal/api/middleware"
	"github.com/eldtechnologies/campus/internal/crypto"
	"github.com/eldtechnologies/campus/internal/handlers"
	"github.com/eldtechnologies/campus/internal/jobs"
	"github.com/eldtechnologies/campus/internal/listing"
	"github.com/eldtechnologies/campus/internal/mail"
	"github.com/eldtechnologies/campus/internal/messaging"
	"github.com/eldtechnologies/campus/internal/models"
	"github.com/eldtechnologies/campus/internal/store"
)

const testPassword = "correct horse battery"

type testEnv struct {
	t      *testing.T
	srv    *httptest.Server
	store  *store.SQLiteStore
	cache  *store.MemoryCache
	uniID  uuid.UUID
	tokens *crypto.TokenIssuer
}

func newTestEnv(t *testing.T, opts ...func(*handlers.Deps)) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	ds, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "campus.db"))
	require.NoError(t, err)
	t.Cleanup(ds.Close)

	uni, err := ds.CreateUniversity(ctx, "State University", "uni.edu", "Springfield")
	require.NoError(t, err)

	tokens, err := crypto.NewTokenIssuer(strings.Repeat("k", 32), time.Hour)
	require.NoError(t, err)

	cache := store.NewMemoryCache()
	deps := handlers.Deps{
		Store:           ds,
		Cache:           cache,
		Tokens:          tokens,
		Messages:        messaging.NewService(ds, messaging.NewLocalFeed(logger), logger),
		Listings:        listing.NewService(ds, logger),
		Jobs:            jobs.NewInline(jobs.NewHandlers(mail.NewLogMailer(logger), logger)),
		Logger:          logger,
		BootstrapAdmins: []string{"dean@uni.edu"},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	router := NewRouter(logger, deps, Options{
		RateLimit: middleware.RateLimiterConfig{Whitelist: []string{"127.0.0.0/8", "192.0.2.0/24"}},
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{t: t, srv: srv, store: ds, cache: cache, uniID: uni.ID, tokens: tokens}
}

func (e *testEnv) do(method, path, token string, body any) *http.Response {
	e.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(e.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// register signs up and verifies an account, returning its access token.
func (e *testEnv) register(email, name string) (string, uuid.UUID) {
	e.t.Helper()
	resp := e.do(http.MethodPost, "/auth/signup", "", handlers.SignupRequest{
		Email:    email,
		Password: testPassword,
		FullName: name,
	})
	require.Equal(e.t, http.StatusCreated, resp.StatusCode)

	code, err := e.cache.GetCode(context.Background(), strings.ToLower(email))
	require.NoError(e.t, err)
	require.Len(e.t, code, 6)

	resp = e.do(http.MethodPost, "/auth/verify", "", handlers.VerifyRequest{Email: email, Code: code})
	require.Equal(e.t, http.StatusOK, resp.StatusCode)
	tok := decodeBody[handlers.TokenResponse](e.t, resp)
	require.NotEmpty(e.t, tok.AccessToken)
	return tok.AccessToken, tok.User.ID
}

func TestHealthAndPublicRoutes(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeBody[handlers.HealthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "pass", health.Checks["database"].Status)
	assert.Equal(t, "skip", health.Checks["redis"].Status)
	assert.Equal(t, "skip", health.Checks["storage"].Status)

	resp = env.do(http.MethodGet, "/boards", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "default-src 'none'", resp.Header.Get("Content-Security-Policy"))

	resp = env.do(http.MethodGet, "/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSignupRules(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/auth/signup", "", handlers.SignupRequest{
		Email: "ana@gmail.com", Password: testPassword, FullName: "Ana",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(http.MethodPost, "/auth/signup", "", handlers.SignupRequest{
		Email: "ana@uni.edu", Password: "short", FullName: "Ana",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Subdomains of a registered university domain are accepted.
	resp = env.do(http.MethodPost, "/auth/signup", "", handlers.SignupRequest{
		Email: "ana@cs.uni.edu", Password: testPassword, FullName: "Ana",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(http.MethodPost, "/auth/signup", "", handlers.SignupRequest{
		Email: "ANA@cs.uni.edu", Password: testPassword, FullName: "Ana again",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Unverified accounts cannot sign in.
	resp = env.do(http.MethodPost, "/auth/login", "", handlers.LoginRequest{Email: "ana@cs.uni.edu", Password: testPassword})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestVerifyAttemptsAreLimited(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/auth/signup", "", handlers.SignupRequest{
		Email: "ben@uni.edu", Password: testPassword, FullName: "Ben",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	for i := 0; i < 5; i++ {
		resp = env.do(http.MethodPost, "/auth/verify", "", handlers.VerifyRequest{Email: "ben@uni.edu", Code: "000000x"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
	resp = env.do(http.MethodPost, "/auth/verify", "", handlers.VerifyRequest{Email: "ben@uni.edu", Code: "000000x"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	code, err := env.cache.GetCode(context.Background(), "ben@uni.edu")
	require.NoError(t, err)
	assert.Empty(t, code)
}

func TestLoginSessionAndLogout(t *testing.T) {
	env := newTestEnv(t)
	_, userID := env.register("cara@uni.edu", "Cara")

	resp := env.do(http.MethodPost, "/auth/login", "", handlers.LoginRequest{Email: "cara@uni.edu", Password: "wrong password"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, crypto.ErrPasswordMismatch.Error(), decodeBody[map[string]string](t, resp)["error"])

	resp = env.do(http.MethodPost, "/auth/login", "", handlers.LoginRequest{Email: "Cara@Uni.edu", Password: testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := decodeBody[handlers.TokenResponse](t, resp).AccessToken

	resp = env.do(http.MethodGet, "/auth/session", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sess := decodeBody[handlers.SessionResponse](t, resp)
	assert.Equal(t, userID, sess.User.ID)
	require.NotNil(t, sess.Profile)
	assert.Equal(t, env.uniID, *sess.Profile.UniversityID)

	resp = env.do(http.MethodPost, "/auth/logout", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(http.MethodGet, "/auth/session", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChangePasswordEndsOtherSessions(t *testing.T) {
	env := newTestEnv(t)
	first, _ := env.register("cole@uni.edu", "Cole")

	resp := env.do(http.MethodPost, "/auth/login", "", handlers.LoginRequest{Email: "cole@uni.edu", Password: testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decodeBody[handlers.TokenResponse](t, resp).AccessToken

	// Token iat has second precision.
	time.Sleep(1100 * time.Millisecond)

	resp = env.do(http.MethodPost, "/auth/password", first, handlers.PasswordRequest{CurrentPassword: "wrong password", NewPassword: "a brand new passphrase"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(http.MethodPost, "/auth/password", first, handlers.PasswordRequest{CurrentPassword: testPassword, NewPassword: "a brand new passphrase"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fresh := decodeBody[handlers.TokenResponse](t, resp).AccessToken
	require.NotEmpty(t, fresh)

	for _, old := range []string{first, second} {
		resp = env.do(http.MethodGet, "/auth/session", old, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp = env.do(http.MethodGet, "/auth/session", fresh, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(http.MethodPost, "/auth/login", "", handlers.LoginRequest{Email: "cole@uni.edu", Password: testPassword})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = env.do(http.MethodPost, "/auth/login", "", handlers.LoginRequest{Email: "cole@uni.edu", Password: "a brand new passphrase"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(http.MethodGet, "/auth/session", decodeBody[handlers.TokenResponse](t, resp).AccessToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	_, userID := env.register("dan@uni.edu", "Dan")

	short, err := crypto.NewTokenIssuer(strings.Repeat("k", 32), -time.Minute)
	require.NoError(t, err)
	token, _, err := short.Issue(userID, "dan@uni.edu")
	require.NoError(t, err)

	resp := env.do(http.MethodGet, "/profile", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "session expired", decodeBody[map[string]string](t, resp)["error"])
}

func TestRolesAndModeration(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.register("dean@uni.edu", "Dean")
	userToken, userID := env.register("eve@uni.edu", "Eve")

	resp := env.do(http.MethodGet, "/roles/admin", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody[map[string]any](t, resp)["has_role"])

	resp = env.do(http.MethodGet, "/admin/pending", userToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Housing is moderated: it stays hidden until approved.
	price := int64(45000)
	resp = env.do(http.MethodPost, "/listings/housing", userToken, listing.Input{
		Title: "Room near campus", Body: "Sunny room", PriceCents: &price, Location: "Elm St",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "pending", created["status"])
	listingID := created["id"].(string)

	resp = env.do(http.MethodGet, "/listings/housing", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(http.MethodGet, "/admin/pending", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pending := decodeBody[handlers.PendingResponse](t, resp)
	require.Len(t, pending.Listings, 1)

	resp = env.do(http.MethodPost, "/admin/listings/"+listingID+"/status", adminToken, handlers.StatusRequest{Status: "approved"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(http.MethodGet, "/listings/housing", userToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := decodeBody[map[string][]map[string]any](t, resp)["listings"]
	require.Len(t, rows, 1)
	assert.Equal(t, "approved", rows[0]["status"])

	// Granting moderator opens the moderation queue.
	resp = env.do(http.MethodPost, "/admin/roles", adminToken, handlers.RoleRequest{UserID: userID, Role: "moderator"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(http.MethodGet, "/admin/pending", userToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Moderators cannot administer roles.
	resp = env.do(http.MethodPost, "/admin/roles", userToken, handlers.RoleRequest{UserID: userID, Role: "admin"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestVerificationReview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	adminToken, _ := env.register("dean@uni.edu", "Dean")
	vicToken, vicID := env.register("vic@uni.edu", "Vic")
	_, rexID := env.register("rex@uni.edu", "Rex")

	approveReq, err := env.store.CreateVerificationRequest(ctx, vicID, "verification/"+vicID.String()+"/card.jpg")
	require.NoError(t, err)
	rejectReq, err := env.store.CreateVerificationRequest(ctx, rexID, "verification/"+rexID.String()+"/card.jpg")
	require.NoError(t, err)

	resp := env.do(http.MethodGet, "/admin/pending", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[handlers.PendingResponse](t, resp).Verifications, 2)

	path := "/admin/verifications/" + approveReq.ID.String()
	resp = env.do(http.MethodPost, path, vicToken, handlers.ReviewRequest{Approve: true})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(http.MethodPost, path, adminToken, handlers.ReviewRequest{Approve: true, Note: "student card ok"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reviewed := decodeBody[models.VerificationRequest](t, resp)
	assert.Equal(t, models.StatusApproved, reviewed.Status)

	resp = env.do(http.MethodGet, "/profiles/"+vicID.String(), vicToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[models.PublicProfile](t, resp).IsVerified)

	// A decided request cannot be reviewed again.
	resp = env.do(http.MethodPost, path, adminToken, handlers.ReviewRequest{Approve: false})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp = env.do(http.MethodGet, "/profiles/"+vicID.String(), vicToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[models.PublicProfile](t, resp).IsVerified)

	resp = env.do(http.MethodPost, "/admin/verifications/"+rejectReq.ID.String(), adminToken, handlers.ReviewRequest{Approve: false, Note: "blurry"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusRejected, decodeBody[models.VerificationRequest](t, resp).Status)
	resp = env.do(http.MethodGet, "/profiles/"+rexID.String(), vicToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decodeBody[models.PublicProfile](t, resp).IsVerified)

	resp = env.do(http.MethodPost, "/admin/verifications/"+uuid.NewString(), adminToken, handlers.ReviewRequest{Approve: true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(http.MethodGet, "/admin/pending", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[handlers.PendingResponse](t, resp).Verifications)
}

func TestConcurrentVerificationReviewsDecideOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	adminToken, _ := env.register("dean@uni.edu", "Dean")
	_, vicID := env.register("vic@uni.edu", "Vic")

	req, err := env.store.CreateVerificationRequest(ctx, vicID, "verification/"+vicID.String()+"/card.jpg")
	require.NoError(t, err)
	path := "/admin/verifications/" + req.ID.String()

	const reviewers = 8
	codes := make(chan int, reviewers)
	var wg sync.WaitGroup
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func(approve bool) {
			defer wg.Done()
			data, _ := json.Marshal(handlers.ReviewRequest{Approve: approve})
			r, _ := http.NewRequest(http.MethodPost, env.srv.URL+path, bytes.NewReader(data))
			r.Header.Set("Content-Type", "application/json")
			r.Header.Set("Authorization", "Bearer "+adminToken)
			resp, err := http.DefaultClient.Do(r)
			if err != nil {
				codes <- 0
				return
			}
			resp.Body.Close()
			codes <- resp.StatusCode
		}(i%2 == 0)
	}
	wg.Wait()
	close(codes)

	counts := map[int]int{}
	for c := range codes {
		counts[c]++
	}
	assert.Equal(t, map[int]int{http.StatusOK: 1, http.StatusConflict: reviewers - 1}, counts)

	final, err := env.store.GetVerificationRequest(ctx, req.ID)
	require.NoError(t, err)
	profile, err := env.store.GetProfile(ctx, vicID)
	require.NoError(t, err)
	assert.Equal(t, final.Status == models.StatusApproved, profile.IsVerified, "profile matches the recorded decision")
}

func TestUnblock(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.register("dean@uni.edu", "Dean")
	userToken, _ := env.register("eve@uni.edu", "Eve")

	resp := env.do(http.MethodPost, "/admin/unblock", userToken, map[string]string{"ip": "203.0.113.5"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(http.MethodPost, "/admin/unblock", adminToken, map[string]string{"ip": "not-an-ip"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Blocking needs Redis.
	resp = env.do(http.MethodPost, "/admin/unblock", adminToken, map[string]string{"ip": "203.0.113.5"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestUnblockWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rs, err := store.NewRedisStore(context.Background(), "redis://"+mr.Addr(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { rs.Close() })

	env := newTestEnv(t, func(d *handlers.Deps) { d.Redis = rs })
	adminToken, _ := env.register("dean@uni.edu", "Dean")

	require.NoError(t, mr.Set("blocked:ip:203.0.113.5", "repeated rate limit violations"))
	resp := env.do(http.MethodPost, "/admin/unblock", adminToken, map[string]string{"ip": "203.0.113.5"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, mr.Exists("blocked:ip:203.0.113.5"))
}

func TestFeedAndSearch(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register("finn@uni.edu", "Finn")

	resp := env.do(http.MethodPost, "/feed", token, listing.Input{Body: "Anyone up for chess tonight?"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(http.MethodGet, "/feed", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[map[string][]map[string]any](t, resp)["listings"], 1)

	resp = env.do(http.MethodGet, "/search?q=chess", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, decodeBody[map[string]any](t, resp)["total"])

	resp = env.do(http.MethodGet, "/search", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(http.MethodGet, "/listings/spaceships", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConversationsOverREST(t *testing.T) {
	env := newTestEnv(t)
	aliceToken, aliceID := env.register("alice@uni.edu", "Alice")
	bobToken, bobID := env.register("bob@uni.edu", "Bob")
	carolToken, _ := env.register("carol@uni.edu", "Carol")

	resp := env.do(http.MethodPost, "/conversations", aliceToken, handlers.CreateConversationRequest{UserID: &bobID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	conv := decodeBody[messaging.ConversationView](t, resp)
	require.NotNil(t, conv.CounterpartID)
	assert.Equal(t, bobID, *conv.CounterpartID)

	// Starting again from the other side finds the same conversation.
	resp = env.do(http.MethodPost, "/conversations", bobToken, handlers.CreateConversationRequest{UserID: &aliceID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, conv.ID, decodeBody[messaging.ConversationView](t, resp).ID)

	resp = env.do(http.MethodGet, "/conversations/"+conv.ID.String()+"/participants", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	members := decodeBody[map[string][]models.ConversationParticipant](t, resp)["participants"]
	require.Len(t, members, 2)
	assert.ElementsMatch(t, []uuid.UUID{aliceID, bobID}, []uuid.UUID{members[0].UserID, members[1].UserID})

	resp = env.do(http.MethodGet, "/conversations/"+conv.ID.String()+"/participants", carolToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	path := "/conversations/" + conv.ID.String() + "/messages"
	resp = env.do(http.MethodPost, path, aliceToken, handlers.SendMessageRequest{Content: "hi Bob"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(http.MethodPost, path, aliceToken, handlers.SendMessageRequest{Content: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(http.MethodGet, path, bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := decodeBody[map[string][]messaging.MessageView](t, resp)["messages"]
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi Bob", msgs[0].Content)

	resp = env.do(http.MethodGet, path, carolToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(http.MethodGet, "/conversations", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[map[string][]messaging.ConversationView](t, resp)["conversations"], 1)
}

func dialInbox(t *testing.T, env *testEnv, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/inbox"
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { ws.Close() })
	return ws
}

type inboxEvent struct {
	Type           string                       `json:"type"`
	ConversationID *uuid.UUID                   `json:"conversation_id"`
	Conversations  []messaging.ConversationView `json:"conversations"`
	Conversation   *messaging.ConversationView  `json:"conversation"`
	Messages       []messaging.MessageView      `json:"messages"`
	Message        *messaging.MessageView       `json:"message"`
	Code           string                       `json:"code"`
}

func readEvent(t *testing.T, ws *websocket.Conn) inboxEvent {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev inboxEvent
	require.NoError(t, ws.ReadJSON(&ev))
	return ev
}

func TestInboxLiveMessages(t *testing.T) {
	env := newTestEnv(t)
	aliceToken, _ := env.register("alice@uni.edu", "Alice")
	bobToken, bobID := env.register("bob@uni.edu", "Bob")

	ws := dialInbox(t, env, aliceToken)
	ev := readEvent(t, ws)
	assert.Equal(t, "conversations", ev.Type)
	assert.Empty(t, ev.Conversations)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "start", "user_id": bobID}))
	ev = readEvent(t, ws)
	require.Equal(t, "conversation", ev.Type)
	require.NotNil(t, ev.Conversation)
	convID := ev.Conversation.ID

	// A message from Bob over REST arrives on Alice's socket.
	resp := env.do(http.MethodPost, "/conversations/"+convID.String()+"/messages", bobToken, handlers.SendMessageRequest{Content: "hey Alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ev = readEvent(t, ws)
	require.Equal(t, "message", ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "hey Alice", ev.Message.Content)
	assert.Equal(t, bobID, ev.Message.SenderID)

	// Sending over the socket is acknowledged; the message itself follows.
	require.NoError(t, ws.WriteJSON(map[string]any{"type": "send", "content": "hello Bob"}))
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		ev = readEvent(t, ws)
		seen[ev.Type] = true
		if ev.Type == "message" {
			assert.Equal(t, "hello Bob", ev.Message.Content)
		}
	}
	assert.True(t, seen["ack"])
	assert.True(t, seen["message"])

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "dance"}))
	ev = readEvent(t, ws)
	assert.Equal(t, "error", ev.Type)
	assert.Equal(t, "unsupported_type", ev.Code)
}

func TestInboxRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/inbox"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
