// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/006mi4/gotale/internal/bridge"
	"github.com/006mi4/gotale/internal/config"
	"github.com/006mi4/gotale/internal/install"
	"github.com/006mi4/gotale/internal/manager"
	"github.com/006mi4/gotale/internal/models"
	"github.com/006mi4/gotale/internal/store"
	"github.com/006mi4/gotale/internal/webhook"
	"github.com/006mi4/gotale/internal/websocket"
)

type testEnv struct {
	handler http.Handler
	store   *store.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	base := t.TempDir()
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            8066,
			Timeout:         10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   1000,
			RateLimitWindow: time.Minute,
		},
		Paths: config.PathsConfig{
			DataDir:      filepath.Join(base, "data"),
			TemplateDir:  filepath.Join(base, "template"),
			DownloadsDir: filepath.Join(base, "downloads"),
		},
		Runtime: config.RuntimeConfig{
			JavaBinary:       "java",
			AuthMode:         "authenticated",
			PersistenceModes: []string{"encrypted"},
			CredentialFiles:  []string{"auth.enc"},
		},
		Bridge: config.BridgeConfig{Enabled: false, Host: "127.0.0.1", PortBase: 50000, Path: "/ws"},
		Store:  config.StoreConfig{InMemory: true},
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	hub := websocket.NewHub()
	mgr := manager.New(cfg, st, hub)
	wh := webhook.New(st)
	t.Cleanup(wh.Close)
	br := bridge.New(cfg.Bridge, st, hub, wh)
	t.Cleanup(br.Close)
	installer := install.New(cfg.Paths, hub)

	router := New(cfg, mgr, st, hub, br, wh, installer)
	return &testEnv{handler: router.Setup(), store: st}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var resp Response
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s %s: decode response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, resp
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("healthz = %d, %+v", rec.Code, resp)
	}
}

func TestStartInstanceInvalidID(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/api/server/abc/start", `{"port": 5520}`)
	if rec.Code != http.StatusBadRequest || resp.Success {
		t.Fatalf("status = %d, %+v", rec.Code, resp)
	}
}

func TestStartInstanceInvalidPort(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/server/1/start", `{"port": 0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	rec, _ = env.do(t, http.MethodPost, "/api/server/1/start", `{"port": 70000}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStartInstanceMissingFiles(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/api/server/1/start", `{"port": 5520}`)
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, want 412", rec.Code)
	}
	if resp.Error == "" {
		t.Error("error message missing")
	}
}

func TestStopInstanceNotRunning(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/server/1/stop", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestSendCommandValidation(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/server/1/command", `{"command": ""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty command status = %d, want 400", rec.Code)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/server/1/command", `{"command": "/help"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("command to stopped instance status = %d, want 409", rec.Code)
	}
}

func TestInstanceStatusOffline(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/server/1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data type %T", resp.Data)
	}
	if data["bridge_connected"] != false {
		t.Errorf("bridge_connected = %v", data["bridge_connected"])
	}
	status, ok := data["status"].(map[string]interface{})
	if !ok {
		t.Fatalf("status type %T", data["status"])
	}
	if status["state"] != "offline" {
		t.Errorf("state = %v", status["state"])
	}
}

func TestConsoleTailEmpty(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/server/1/console?lines=50", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := resp.Data.(map[string]interface{})
	lines, ok := data["lines"].([]interface{})
	if !ok {
		t.Fatalf("lines type %T, want array", data["lines"])
	}
	if len(lines) != 0 {
		t.Errorf("lines = %v", lines)
	}
}

func TestAuthStatus(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/server/1/auth-status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := resp.Data.(map[string]interface{})
	if data["auth_state"] != "unauthenticated" {
		t.Errorf("auth_state = %v", data["auth_state"])
	}
	if _, present := data["verified"]; present {
		t.Error("verified present without a stored record")
	}

	if err := env.store.MarkAuthenticated(1, "/srv/server_1/auth.enc", true); err != nil {
		t.Fatal(err)
	}
	_, resp = env.do(t, http.MethodGet, "/api/server/1/auth-status", "")
	data = resp.Data.(map[string]interface{})
	if data["verified"] != true {
		t.Errorf("verified = %v", data["verified"])
	}
	if data["credential_path"] != "/srv/server_1/auth.enc" {
		t.Errorf("credential_path = %v", data["credential_path"])
	}
}

func TestAuthTriggerValidation(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/server/1/auth-trigger", `{"action": "restart"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid action status = %d, want 400", rec.Code)
	}

	// Valid action but the instance is not running.
	rec, _ = env.do(t, http.MethodPost, "/api/server/1/auth-trigger", `{"action": "login"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestChatEndpoints(t *testing.T) {
	env := newTestEnv(t)

	raw, _ := json.Marshal(map[string]string{"type": models.EventPlayerChat, "player": "Kweebec", "message": "hello world"})
	err := env.store.AppendEvent(1, models.BridgeEvent{
		Type: models.EventPlayerChat, Player: "Kweebec", Message: "hello world", Raw: raw,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec, resp := env.do(t, http.MethodGet, "/api/server/1/chat", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d", rec.Code)
	}
	events, ok := resp.Data.([]interface{})
	if !ok || len(events) != 1 {
		t.Fatalf("chat data = %+v", resp.Data)
	}

	rec, _ = env.do(t, http.MethodGet, "/api/server/1/chat/search", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("search without q status = %d, want 400", rec.Code)
	}

	rec, resp = env.do(t, http.MethodGet, "/api/server/1/chat/search?q=hello", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d", rec.Code)
	}
	events, ok = resp.Data.([]interface{})
	if !ok || len(events) != 1 {
		t.Fatalf("search data = %+v", resp.Data)
	}
}

func TestWebhookSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	body := `{"player_chat": {"url": "https://discord.example/hook", "enabled": true, "template": ""}}`
	rec, _ := env.do(t, http.MethodPut, "/api/server/1/webhooks", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d", rec.Code)
	}

	rec, resp := env.do(t, http.MethodGet, "/api/server/1/webhooks", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data type %T", resp.Data)
	}
	chat, ok := data[models.EventPlayerChat].(map[string]interface{})
	if !ok {
		t.Fatalf("chat entry = %+v", data)
	}
	if chat["url"] != "https://discord.example/hook" || chat["enabled"] != true {
		t.Errorf("chat entry = %+v", chat)
	}

	rec, _ = env.do(t, http.MethodPut, "/api/server/1/webhooks", `{broken`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed put status = %d, want 400", rec.Code)
	}
}

func TestWebhookDiagnostics(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/server/1/webhooks/diagnostics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data type %T", resp.Data)
	}
	if data["connected"] != false {
		t.Errorf("connected = %v", data["connected"])
	}
	if data["queue_maxsize"] == nil {
		t.Error("queue_maxsize missing")
	}
}

func TestInstallInstanceEmptyTemplate(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/server/1/install", "")
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, want 412", rec.Code)
	}
}

func TestDownloadStatusIdle(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/download/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data type %T", resp.Data)
	}
	if data["active"] != false || data["complete"] != false {
		t.Errorf("idle status = %+v", data)
	}
}
