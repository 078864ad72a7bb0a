package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"atelier/api/internal/collab"
	"atelier/api/internal/config"
	"atelier/api/internal/invite"
	"atelier/api/internal/store"
)

type testEnv struct {
	server  *httptest.Server
	service *Service
}

func newTestEnv(t *testing.T, inviteStore *invite.RedisStore) *testEnv {
	t.Helper()
	cfg := config.Config{
		JWTSecret: "test-secret",
		AccessTTL: time.Hour,
	}
	dataStore := store.NewMemoryStore()
	hub := collab.NewHub(dataStore, time.Second)
	t.Cleanup(hub.Shutdown)

	service := New(cfg, dataStore, hub, inviteStore, nil, nil, nil)
	server := httptest.NewServer(NewHTTPServer(service, "*").Handler())
	t.Cleanup(server.Close)
	return &testEnv{server: server, service: service}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (e *testEnv) login(t *testing.T, name string) string {
	t.Helper()
	resp, body := e.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{"name": name})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("login body = %v", body)
	}
	return token
}

func (e *testEnv) createSession(t *testing.T, token, name string) string {
	t.Helper()
	resp, body := e.request(t, http.MethodPost, "/api/sessions", token, map[string]any{
		"name":         name,
		"artifactType": "STORY",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body %v", resp.StatusCode, body)
	}
	session := body["session"].(map[string]any)
	return session["id"].(string)
}

func wantStatus(t *testing.T, resp *http.Response, body map[string]any, status int) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("status = %d, want %d (body %v)", resp.StatusCode, status, body)
	}
}

func wantCode(t *testing.T, body map[string]any, code string) {
	t.Helper()
	if got, _ := body["code"].(string); got != code {
		t.Fatalf("error code = %q, want %s (body %v)", got, code, body)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, body := env.request(t, http.MethodGet, "/api/health", "", nil)
	wantStatus(t, resp, body, http.StatusOK)

	resp, body = env.request(t, http.MethodGet, "/api/ready", "", nil)
	wantStatus(t, resp, body, http.StatusOK)
}

func TestCreateSessionRequiresAuth(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, body := env.request(t, http.MethodPost, "/api/sessions", "", map[string]any{"name": "X"})
	wantStatus(t, resp, body, http.StatusUnauthorized)

	token := env.login(t, "Ana")
	resp, body = env.request(t, http.MethodPost, "/api/sessions", token, map[string]any{"name": "  "})
	wantStatus(t, resp, body, http.StatusBadRequest)
	wantCode(t, body, "INVALID_INPUT")
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := env.login(t, "Owner")
	editor := env.login(t, "Editor")
	sessionID := env.createSession(t, owner, "Lifecycle")

	// Open joining: no approval required by default.
	resp, body := env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/join", editor, nil)
	wantStatus(t, resp, body, http.StatusOK)

	// Only the owner may pause.
	resp, body = env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/pause", editor, nil)
	wantStatus(t, resp, body, http.StatusForbidden)

	resp, body = env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/pause", owner, nil)
	wantStatus(t, resp, body, http.StatusOK)
	resp, body = env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/resume", owner, nil)
	wantStatus(t, resp, body, http.StatusOK)

	resp, body = env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/save", editor, map[string]any{"summary": "checkpoint"})
	wantStatus(t, resp, body, http.StatusCreated)
	if body["versionNumber"] != float64(1) {
		t.Fatalf("version body = %v", body)
	}

	resp, body = env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/publish", editor, nil)
	wantStatus(t, resp, body, http.StatusForbidden)

	resp, body = env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/publish", owner, nil)
	wantStatus(t, resp, body, http.StatusOK)
	if body["publishedBy"] == "" {
		t.Fatalf("publish body = %v", body)
	}

	// The freeze: further saves conflict.
	resp, body = env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/save", editor, nil)
	wantStatus(t, resp, body, http.StatusConflict)
	wantCode(t, body, "SESSION_CLOSED")

	// And published sessions cannot be deleted.
	resp, body = env.request(t, http.MethodDelete, "/api/sessions/"+sessionID, owner, nil)
	wantStatus(t, resp, body, http.StatusConflict)
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := env.login(t, "Owner")
	sessionID := env.createSession(t, owner, "Ephemeral")

	resp, body := env.request(t, http.MethodDelete, "/api/sessions/"+sessionID, owner, nil)
	wantStatus(t, resp, body, http.StatusOK)

	resp, body = env.request(t, http.MethodGet, "/api/sessions/"+sessionID, "", nil)
	wantStatus(t, resp, body, http.StatusNotFound)
}

func TestCommentFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := env.login(t, "Owner")
	carol := env.login(t, "Carol")
	other := env.login(t, "Other")
	sessionID := env.createSession(t, owner, "Commented")

	env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/join", carol, nil)
	env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/join", other, nil)

	resp, body := env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/comments", carol,
		map[string]any{"type": "suggestion", "content": "needs work"})
	wantStatus(t, resp, body, http.StatusCreated)
	commentID := body["id"].(string)

	// A third participant cannot edit someone else's comment.
	resp, body = env.request(t, http.MethodPut, "/api/sessions/"+sessionID+"/comments/"+commentID, other,
		map[string]any{"content": "hijacked"})
	wantStatus(t, resp, body, http.StatusForbidden)

	resp, body = env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/comments/"+commentID+"/resolve", owner, nil)
	wantStatus(t, resp, body, http.StatusOK)
	if body["resolved"] != true {
		t.Fatalf("resolve body = %v", body)
	}

	resp, body = env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/comments/"+commentID+"/replies", carol,
		map[string]any{"content": "fixed now"})
	wantStatus(t, resp, body, http.StatusCreated)

	resp, body = env.request(t, http.MethodGet, "/api/sessions/"+sessionID+"/comments", "", nil)
	wantStatus(t, resp, body, http.StatusOK)
	comments := body["comments"].([]any)
	first := comments[0].(map[string]any)
	if first["resolved"] != true {
		t.Fatal("reply must not reopen a resolved comment")
	}
}

func TestVersionsAndRestore(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := env.login(t, "Owner")
	sessionID := env.createSession(t, owner, "Versioned")

	identity, err := env.service.IdentityFromToken(owner)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	ctx := context.Background()
	room, err := env.service.Hub().Room(ctx, sessionID)
	if err != nil {
		t.Fatalf("room: %v", err)
	}

	edit := func(value string) {
		if _, err := room.Do(ctx, collab.ApplyEdit{UserID: identity.UserID, Field: "content", Value: value}); err != nil {
			t.Fatalf("edit: %v", err)
		}
	}

	edit("first")
	env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/save", owner, nil)
	edit("second")
	env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/save", owner, nil)

	resp, body := env.request(t, http.MethodGet, "/api/sessions/"+sessionID+"/versions", "", nil)
	wantStatus(t, resp, body, http.StatusOK)
	if got := len(body["versions"].([]any)); got != 2 {
		t.Fatalf("versions = %d, want 2", got)
	}

	resp, body = env.request(t, http.MethodPost, fmt.Sprintf("/api/sessions/%s/versions/1/restore", sessionID), owner, nil)
	wantStatus(t, resp, body, http.StatusCreated)
	if body["versionNumber"] != float64(3) {
		t.Fatalf("restore body = %v", body)
	}

	snapshot, err := env.service.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snapshot.Session.Fields["content"] != "first" {
		t.Fatalf("content = %q, want the restored value", snapshot.Session.Fields["content"])
	}

	resp, body = env.request(t, http.MethodPost, fmt.Sprintf("/api/sessions/%s/versions/99/restore", sessionID), owner, nil)
	wantStatus(t, resp, body, http.StatusNotFound)
}

func TestSearchFallback(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := env.login(t, "Owner")
	env.createSession(t, owner, "Midnight Garden")
	env.createSession(t, owner, "Morning Song")

	resp, body := env.request(t, http.MethodGet, "/api/sessions?q=midnight", "", nil)
	wantStatus(t, resp, body, http.StatusOK)
	results := body["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("results = %v", results)
	}
	hit := results[0].(map[string]any)
	if hit["title"] != "Midnight Garden" {
		t.Fatalf("hit = %v", hit)
	}
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := env.login(t, "Owner")
	env.createSession(t, owner, "One")
	env.createSession(t, owner, "Two")

	resp, body := env.request(t, http.MethodGet, "/api/sessions", "", nil)
	wantStatus(t, resp, body, http.StatusOK)
	if got := len(body["sessions"].([]any)); got != 2 {
		t.Fatalf("sessions = %d, want 2", got)
	}
}

func TestInviteFlow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inviteStore := invite.NewRedisStoreWithClient(client, time.Hour)
	t.Cleanup(func() { _ = inviteStore.Close() })

	env := newTestEnv(t, inviteStore)
	owner := env.login(t, "Owner")
	guest := env.login(t, "Guest")

	sessionID := env.createSession(t, owner, "Invite Only")
	requireApproval := true
	resp, body := env.request(t, http.MethodPut, "/api/sessions/"+sessionID+"/settings", owner,
		SettingsInput{RequireApproval: &requireApproval})
	wantStatus(t, resp, body, http.StatusOK)

	// No invite, no entry.
	resp, body = env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/join", guest, nil)
	wantStatus(t, resp, body, http.StatusForbidden)

	// Guests cannot mint invites either.
	resp, body = env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/invite", guest,
		map[string]any{"role": "commenter"})
	wantStatus(t, resp, body, http.StatusForbidden)

	resp, body = env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/invite", owner,
		map[string]any{"role": "commenter"})
	wantStatus(t, resp, body, http.StatusCreated)
	token := body["inviteToken"].(string)

	resp, body = env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/join", guest,
		map[string]any{"inviteToken": token})
	wantStatus(t, resp, body, http.StatusOK)

	// The invited role was applied.
	session := body["session"].(map[string]any)
	for _, raw := range session["participants"].([]any) {
		p := raw.(map[string]any)
		if p["username"] == "Guest" && p["role"] != "commenter" {
			t.Fatalf("participant = %v", p)
		}
	}

	// Tokens are one-shot.
	other := env.login(t, "Other")
	resp, body = env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/join", other,
		map[string]any{"inviteToken": token})
	wantStatus(t, resp, body, http.StatusForbidden)
}

func TestInviteSurvivesRejectedJoin(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inviteStore := invite.NewRedisStoreWithClient(client, time.Hour)
	t.Cleanup(func() { _ = inviteStore.Close() })

	env := newTestEnv(t, inviteStore)
	owner := env.login(t, "Owner")
	guest := env.login(t, "Guest")

	sessionID := env.createSession(t, owner, "Tiny Room")
	requireApproval := true
	maxParticipants := 1
	resp, body := env.request(t, http.MethodPut, "/api/sessions/"+sessionID+"/settings", owner,
		SettingsInput{RequireApproval: &requireApproval, MaxParticipants: &maxParticipants})
	wantStatus(t, resp, body, http.StatusOK)

	resp, body = env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/invite", owner,
		map[string]any{"role": "editor"})
	wantStatus(t, resp, body, http.StatusCreated)
	token := body["inviteToken"].(string)

	// The owner already fills the only seat, so the join is rejected.
	resp, body = env.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/join", guest,
		map[string]any{"inviteToken": token})
	wantStatus(t, resp, body, http.StatusBadRequest)

	// A join the room refused must not burn the invite.
	if _, err := inviteStore.Redeem(context.Background(), token); err != nil {
		t.Fatalf("invite gone after rejected join: %v", err)
	}
}

func TestExportEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := env.login(t, "Owner")
	sessionID := env.createSession(t, owner, "Exported")

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/api/sessions/"+sessionID+"/export?format=markdown", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Disposition"); got == "" {
		t.Fatal("missing Content-Disposition")
	}

	resp2, body := env.request(t, http.MethodGet, "/api/sessions/"+sessionID+"/export?format=docx", "", nil)
	wantStatus(t, resp2, body, http.StatusBadRequest)
}
