package campus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Setenv("CAMPUS_CONFIG", t.TempDir())
	return NewClient(srv.URL)
}

func TestLoginPersistsSession(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "ana@uni.edu" {
			t.Errorf("expected email ana@uni.edu, got %q", body["email"])
		}
		json.NewEncoder(w).Encode(TokenResponse{AccessToken: "tok", TokenType: "Bearer", ExpiresAt: expires})
	})

	if _, err := c.Login(context.Background(), "ana@uni.edu", "secret-pass"); err != nil {
		t.Fatal(err)
	}

	reloaded := &Client{ConfigDir: c.ConfigDir}
	if err := reloaded.LoadConfig(); err != nil {
		t.Fatal(err)
	}
	if reloaded.Token != "tok" {
		t.Fatalf("expected saved token, got %q", reloaded.Token)
	}
	if !reloaded.ExpiresAt.Equal(expires) {
		t.Fatalf("expected expiry %v, got %v", expires, reloaded.ExpiresAt)
	}
}

func TestBearerTokenSent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer header, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"conversations": []Conversation{{ID: "c1", IsGroup: true, Name: strPtr("Study group")}},
		})
	})
	c.Token = "tok"

	convs, err := c.Conversations(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].Title() != "Study group" {
		t.Fatalf("unexpected conversations %+v", convs)
	}
}

func TestErrorResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"not permitted"}`))
	})

	_, err := c.Messages(context.Background(), "c1")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Status != http.StatusForbidden || apiErr.Message != "not permitted" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestConversationTitle(t *testing.T) {
	direct := Conversation{ID: "c2", Counterpart: &Profile{FullName: "Ben"}}
	if direct.Title() != "Ben" {
		t.Fatalf("expected counterpart name, got %q", direct.Title())
	}
	bare := Conversation{ID: "c3"}
	if bare.Title() != "c3" {
		t.Fatalf("expected id fallback, got %q", bare.Title())
	}
}

func strPtr(s string) *string { return &s }
