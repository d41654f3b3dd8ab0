package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/migrate"
	"gigline/internal/server"
)

type testServer struct {
	BaseURL string
	Client  *http.Client
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("test-marketplace"))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	eng.Now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	handler, err := server.New(server.Config{
		Engine: eng,
		Auth: server.AuthConfig{
			JWTSecret:             "test-secret",
			AllowLegacyUserHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	return testServer{
		BaseURL: "http://" + ln.Addr().String(),
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func doJSON(t *testing.T, ts testServer, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.BaseURL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.Client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, out.Bytes()
}

func asUser(id string) map[string]string {
	return map[string]string{"X-User-Id": id}
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %T from %s: %v", v, data, err)
	}
	return v
}

type errEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func registerUser(t *testing.T, ts testServer, name, email string) domain.User {
	t.Helper()
	resp, body := doJSON(t, ts, http.MethodPost, "/v1/users", map[string]string{
		"name": name, "email": email,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: %d %s", name, resp.StatusCode, body)
	}
	return decode[domain.User](t, body)
}

func TestHealthIsOpen(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts, http.MethodGet, "/v1/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", resp.StatusCode, body)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts, http.MethodGet, "/v1/jobs", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list: %d %s", resp.StatusCode, body)
	}
	env := decode[errEnvelope](t, body)
	if env.Error.Code != "unauthenticated" {
		t.Fatalf("error code = %q", env.Error.Code)
	}
}

func TestDevLoginAndMe(t *testing.T) {
	ts := newTestServer(t)
	u := registerUser(t, ts, "Ana", "ana@studio.io")

	resp, body := doJSON(t, ts, http.MethodPost, "/v1/auth/dev/login", map[string]string{
		"user_id": u.ID,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", resp.StatusCode, body)
	}
	login := decode[struct {
		Token string `json:"token"`
	}](t, body)
	if login.Token == "" {
		t.Fatal("empty token")
	}

	resp, body = doJSON(t, ts, http.MethodGet, "/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", resp.StatusCode, body)
	}
	me := decode[struct {
		UserID string `json:"user_id"`
		Source string `json:"source"`
	}](t, body)
	if me.UserID != u.ID || me.Source != "jwt" {
		t.Fatalf("me = %+v", me)
	}

	resp, _ = doJSON(t, ts, http.MethodGet, "/v1/me", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", resp.StatusCode)
	}
}

func TestMarketplaceFlow(t *testing.T) {
	ts := newTestServer(t)
	client := registerUser(t, ts, "Client", "client@label.com")
	musician := registerUser(t, ts, "Musician", "mus@band.com")
	rival := registerUser(t, ts, "Rival", "rival@band.com")

	// post and publish a job
	resp, body := doJSON(t, ts, http.MethodPost, "/v1/jobs", map[string]any{
		"title":       "Mix and master EP",
		"description": "Five tracks, indie rock",
		"budget":      100000,
	}, asUser(client.ID))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create job: %d %s", resp.StatusCode, body)
	}
	job := decode[domain.Job](t, body)
	if job.Status != "draft" {
		t.Fatalf("job status = %s", job.Status)
	}

	resp, body = doJSON(t, ts, http.MethodPost, "/v1/jobs/"+job.ID+"/publish", nil, asUser(musician.ID))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("publish by non-owner: %d %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, ts, http.MethodPost, "/v1/jobs/"+job.ID+"/publish", nil, asUser(client.ID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publish: %d %s", resp.StatusCode, body)
	}

	// two competing proposals
	resp, body = doJSON(t, ts, http.MethodPost, "/v1/jobs/"+job.ID+"/proposals", map[string]any{
		"quote_total": 90000, "delivery_days": 21,
	}, asUser(musician.ID))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit proposal: %d %s", resp.StatusCode, body)
	}
	prop := decode[domain.Proposal](t, body)

	resp, body = doJSON(t, ts, http.MethodPost, "/v1/jobs/"+job.ID+"/proposals", map[string]any{
		"quote_total": 85000, "delivery_days": 14,
	}, asUser(rival.ID))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit rival proposal: %d %s", resp.StatusCode, body)
	}
	rivalProp := decode[domain.Proposal](t, body)

	// only the owner sees the proposal list
	resp, _ = doJSON(t, ts, http.MethodGet, "/v1/jobs/"+job.ID+"/proposals", nil, asUser(musician.ID))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("list proposals by non-owner: %d", resp.StatusCode)
	}
	resp, body = doJSON(t, ts, http.MethodGet, "/v1/jobs/"+job.ID+"/proposals", nil, asUser(client.ID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list proposals: %d %s", resp.StatusCode, body)
	}

	// accept one, everything lands at once
	resp, body = doJSON(t, ts, http.MethodPost, "/v1/proposals/"+prop.ID+"/accept", nil, asUser(client.ID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", resp.StatusCode, body)
	}
	accepted := decode[struct {
		Proposal     domain.Proposal     `json:"proposal"`
		Contract     domain.Contract     `json:"contract"`
		Conversation domain.Conversation `json:"conversation"`
	}](t, body)
	if accepted.Contract.EscrowTotal != 90000 {
		t.Fatalf("escrow = %d", accepted.Contract.EscrowTotal)
	}
	if accepted.Conversation.ContractID == nil {
		t.Fatal("conversation has no contract parent")
	}

	// the losing proposal cannot be accepted anymore
	resp, body = doJSON(t, ts, http.MethodPost, "/v1/proposals/"+rivalProp.ID+"/accept", nil, asUser(client.ID))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("second accept: %d %s", resp.StatusCode, body)
	}
	env := decode[errEnvelope](t, body)
	if env.Error.Code != "invalid_transition" {
		t.Fatalf("second accept code = %q", env.Error.Code)
	}

	convID := accepted.Conversation.ID

	// messaging and read cursors
	resp, body = doJSON(t, ts, http.MethodPost, "/v1/conversations/"+convID+"/messages", map[string]string{
		"body": "When can you start?",
	}, asUser(client.ID))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("post message: %d %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, ts, http.MethodPost, "/v1/conversations/"+convID+"/messages", map[string]string{
		"body": "I'm in",
	}, asUser(rival.ID))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("message by outsider: %d %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, ts, http.MethodGet, "/v1/conversations/"+convID+"/unread", nil, asUser(musician.ID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unread: %d %s", resp.StatusCode, body)
	}
	unread := decode[struct {
		UnreadCount int `json:"unread_count"`
	}](t, body)
	if unread.UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1", unread.UnreadCount)
	}

	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/conversations/"+convID+"/read", nil, asUser(musician.ID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark read: %d", resp.StatusCode)
	}
	_, body = doJSON(t, ts, http.MethodGet, "/v1/conversations/"+convID+"/unread", nil, asUser(musician.ID))
	unread = decode[struct {
		UnreadCount int `json:"unread_count"`
	}](t, body)
	if unread.UnreadCount != 0 {
		t.Fatalf("unread after read = %d", unread.UnreadCount)
	}

	// conversation view is participant-only
	resp, _ = doJSON(t, ts, http.MethodGet, "/v1/conversations/"+convID, nil, asUser(rival.ID))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("view by outsider: %d", resp.StatusCode)
	}
	resp, body = doJSON(t, ts, http.MethodGet, "/v1/conversations/"+convID, nil, asUser(musician.ID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("view: %d %s", resp.StatusCode, body)
	}
	view := decode[struct {
		Messages     []domain.Message `json:"messages"`
		Participants []domain.User    `json:"participants"`
	}](t, body)
	if len(view.Messages) != 1 || len(view.Participants) != 2 {
		t.Fatalf("view = %d messages, %d participants", len(view.Messages), len(view.Participants))
	}

	// contract fulfillment via the API
	resp, body = doJSON(t, ts, http.MethodPatch, "/v1/contracts/"+accepted.Contract.ID+"/status", map[string]string{
		"status": "in_progress",
	}, asUser(musician.ID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("contract in_progress: %d %s", resp.StatusCode, body)
	}

	// audit log captured the whole story
	resp, body = doJSON(t, ts, http.MethodGet, "/v1/events?type=contract.created", nil, asUser(client.ID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", resp.StatusCode, body)
	}
	evts := decode[struct {
		Events []domain.Event `json:"events"`
	}](t, body)
	if len(evts.Events) != 1 {
		t.Fatalf("contract.created events = %d", len(evts.Events))
	}
}

func TestValidationEnvelope(t *testing.T) {
	ts := newTestServer(t)
	client := registerUser(t, ts, "Client", "client@label.com")

	resp, body := doJSON(t, ts, http.MethodPost, "/v1/jobs", map[string]any{
		"title": "", "description": "",
	}, asUser(client.ID))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty job: %d %s", resp.StatusCode, body)
	}
	env := decode[errEnvelope](t, body)
	if env.Error.Code != "validation" {
		t.Fatalf("code = %q", env.Error.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	ts := newTestServer(t)
	u := registerUser(t, ts, "Ana", "ana@studio.io")

	resp, body := doJSON(t, ts, http.MethodPost, "/v1/apikeys", map[string]string{
		"name": "laptop", "key": "glk_test_abc123",
	}, asUser(u.ID))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create key: %d %s", resp.StatusCode, body)
	}
	created := decode[struct {
		ID string `json:"id"`
	}](t, body)
	if created.ID == "" {
		t.Fatal("missing key id")
	}

	resp, body = doJSON(t, ts, http.MethodGet, "/v1/me", nil, map[string]string{
		"X-Api-Key": "glk_test_abc123",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me via api key: %d %s", resp.StatusCode, body)
	}
	me := decode[struct {
		UserID string `json:"user_id"`
		Source string `json:"source"`
	}](t, body)
	if me.UserID != u.ID || me.Source != "api_key" {
		t.Fatalf("me = %+v", me)
	}

	resp, _ = doJSON(t, ts, http.MethodGet, "/v1/me", nil, map[string]string{
		"X-Api-Key": "wrong-key",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong key: %d", resp.StatusCode)
	}
}
