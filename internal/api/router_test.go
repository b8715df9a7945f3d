package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentwire/agentwire/internal/handlers"
	"github.com/agentwire/agentwire/internal/store"
	"github.com/agentwire/agentwire/security"
	"github.com/agentwire/agentwire/wire"
)

func newTestServer(t *testing.T, verifier *security.TokenVerifier) *httptest.Server {
	t.Helper()
	db, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(db.Close)

	router := NewRouter(RouterConfig{
		Logger:      zerolog.Nop(),
		DB:          db,
		Verifier:    verifier,
		Broadcaster: handlers.NewBroadcaster(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, in, out any) *http.Response {
	t.Helper()
	body, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
	return resp
}

func TestAgentRegistrationAndHeartbeat(t *testing.T) {
	srv := newTestServer(t, nil)

	var agent wire.Agent
	resp := postJSON(t, srv.URL+"/v1/agents", wire.Agent{
		MachineID: "host-1",
		SessionID: "sess-1",
	}, &agent)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if agent.ID == "" || agent.HeartbeatAt.IsZero() {
		t.Fatalf("agent = %+v", agent)
	}
	if agent.Presence(time.Now()) != wire.PresenceActive {
		t.Fatalf("presence = %s", agent.Presence(time.Now()))
	}

	hb, err := http.Post(srv.URL+"/v1/agents/"+agent.ID+"/heartbeat", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	hb.Body.Close()
	if hb.StatusCode != http.StatusNoContent {
		t.Fatalf("heartbeat status = %d", hb.StatusCode)
	}

	miss, err := http.Post(srv.URL+"/v1/agents/nope/heartbeat", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	miss.Body.Close()
	if miss.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown agent heartbeat status = %d", miss.StatusCode)
	}
}

func TestReregistrationAfterRestart(t *testing.T) {
	srv := newTestServer(t, nil)

	var first wire.Agent
	resp := postJSON(t, srv.URL+"/v1/agents", wire.Agent{
		MachineID: "host-1",
		SessionID: "main",
	}, &first)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	// The agent registers again without its stored id, as a restarted
	// process does.
	var second wire.Agent
	resp = postJSON(t, srv.URL+"/v1/agents", wire.Agent{
		MachineID: "host-1",
		SessionID: "main",
	}, &second)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("re-registration status = %d", resp.StatusCode)
	}
	if second.ID != first.ID {
		t.Fatalf("id changed: %q -> %q", first.ID, second.ID)
	}
}

func TestRegistrationRequiresIdentity(t *testing.T) {
	srv := newTestServer(t, nil)
	resp := postJSON(t, srv.URL+"/v1/agents", wire.Agent{MachineID: "host-1"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestChannelAndMessageFlow(t *testing.T) {
	srv := newTestServer(t, nil)

	var ch wire.Channel
	resp := postJSON(t, srv.URL+"/v1/channels", wire.Channel{
		Name: "ops",
		Type: wire.ChannelProject,
	}, &ch)
	if resp.StatusCode != http.StatusCreated || ch.ID == "" {
		t.Fatalf("channel = %+v (status %d)", ch, resp.StatusCode)
	}

	msg, err := wire.NewChatMessage("agent-1", wire.BroadcastAddress(), "hello ops")
	if err != nil {
		t.Fatal(err)
	}
	msg.ChannelID = ch.ID
	var stored wire.Message
	resp = postJSON(t, srv.URL+"/v1/messages", msg, &stored)
	if resp.StatusCode != http.StatusCreated || stored.ID == "" {
		t.Fatalf("message = %+v (status %d)", stored, resp.StatusCode)
	}

	listResp, err := http.Get(srv.URL + "/v1/messages?channel_id=" + ch.ID + "&limit=10")
	if err != nil {
		t.Fatal(err)
	}
	defer listResp.Body.Close()
	var envelope struct {
		Rows []wire.Message `json:"rows"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&envelope); err != nil {
		t.Fatal(err)
	}
	if len(envelope.Rows) != 1 || envelope.Rows[0].Content != "hello ops" {
		t.Fatalf("rows = %+v", envelope.Rows)
	}
}

func TestEmptyListsEncodeAsRows(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/v1/agents")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(body)) != `{"rows":[]}` {
		t.Fatalf("body = %s", body)
	}
}

func TestMessageValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	cases := []struct {
		name string
		msg  wire.Message
	}{
		{"missing sender", wire.Message{Type: wire.MessageChat, TargetAddress: "broadcast://"}},
		{"bad type", wire.Message{SenderID: "a", Type: "nonsense", TargetAddress: "broadcast://"}},
		{"bad target", wire.Message{SenderID: "a", Type: wire.MessageChat, TargetAddress: "nope"}},
		{"mail without subject", wire.Message{SenderID: "a", Type: wire.MessageMail, TargetAddress: "broadcast://"}},
		{"command without id", wire.Message{SenderID: "a", Type: wire.MessageCommand, TargetAddress: "broadcast://"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/v1/messages", tc.msg, nil)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d", resp.StatusCode)
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var health struct {
		Status string                     `json:"status"`
		Checks map[string]json.RawMessage `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "healthy" {
		t.Fatalf("health = %+v", health)
	}
	if _, ok := health.Checks["database"]; !ok {
		t.Fatal("missing database check")
	}
}

func TestBearerAuthGatesRoutes(t *testing.T) {
	verifier := security.NewTokenVerifier([]byte("test-secret"), "agentwire")
	srv := newTestServer(t, verifier)

	// No token
	resp := postJSON(t, srv.URL+"/v1/agents", wire.Agent{MachineID: "h", SessionID: "s"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", resp.StatusCode)
	}

	// Health stays public
	health, err := http.Get(srv.URL + "/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", health.StatusCode)
	}

	// Valid token
	token, err := verifier.Mint("agent-1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := json.Marshal(wire.Agent{MachineID: "h", SessionID: "s"})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/agents", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	authed.Body.Close()
	if authed.StatusCode != http.StatusCreated {
		t.Fatalf("status with token = %d", authed.StatusCode)
	}
}

func TestStreamDeliversPublishedMessages(t *testing.T) {
	srv := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/messages/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content-type = %q", ct)
	}

	msg, err := wire.NewChatMessage("agent-1", wire.BroadcastAddress(), "streamed")
	if err != nil {
		t.Fatal(err)
	}
	msg.ChannelID = "chan-1"
	postJSON(t, srv.URL+"/v1/messages", msg, nil)

	deadline := time.AfterFunc(5*time.Second, func() { resp.Body.Close() })
	defer deadline.Stop()

	scanner := bufio.NewScanner(resp.Body)
	var sawInsert, sawData bool
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: insert" {
			sawInsert = true
		}
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "streamed") {
			sawData = true
		}
		if sawInsert && sawData {
			return
		}
	}
	t.Fatalf("stream ended without the published message (insert=%v data=%v)", sawInsert, sawData)
}

func TestUnknownStreamTable(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/v1/blobs/stream")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
