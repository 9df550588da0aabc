package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fabriz042/Chat-test/internal/config"
	"github.com/fabriz042/Chat-test/internal/pubsub"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// fakeAPI records the last request body and answers like the notification
// service.
type fakeAPI struct {
	lastPath string
	lastBody map[string]interface{}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.lastPath = r.URL.Path
	f.lastBody = nil
	if r.Method == http.MethodPost {
		json.NewDecoder(r.Body).Decode(&f.lastBody)
	}
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/api/v1/notifications/user" || r.URL.Path == "/api/v1/notifications/broadcast":
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"notification_id":"user-u1-20261015090000-abcd1234","status":"accepted"}`))
	case r.URL.Path == "/api/v1/notifications/status/user-u1-20261015090000-abcd1234":
		w.Write([]byte(`{"notification_id":"user-u1-20261015090000-abcd1234","type":"user","status":"partially_delivered",
			"channels":{"socket":"delivered","email":"failed"},"created_at":"2026-10-15T09:00:00Z",
			"content":{"title":"Shift change","priority":"normal","user_id":"u1"}}`))
	case strings.HasPrefix(r.URL.Path, "/api/v1/notifications/user/"):
		if r.URL.Query().Get("limit") != "5" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"unexpected limit"}`))
			return
		}
		w.Write([]byte(`{"notifications":[{"notification_id":"n1","status":"delivered","created_at":"2026-10-15T09:00:00Z","content":{"title":"Hello"}}]}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"notification not found"}`))
	}
}

func TestNotifyUser(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "notify", "user", "u1",
		"--title", "Shift change", "--message", "Report at 6", "--channels", "socket,email", "--data", `{"unit":7}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "accepted user-u1-") {
		t.Errorf("unexpected output %q", out)
	}
	if api.lastBody["user_id"] != "u1" || api.lastBody["title"] != "Shift change" {
		t.Errorf("unexpected body %v", api.lastBody)
	}
	if chans, _ := api.lastBody["channels"].([]interface{}); len(chans) != 2 {
		t.Errorf("expected two channels, got %v", api.lastBody["channels"])
	}
	if data, _ := api.lastBody["data"].(map[string]interface{}); data["unit"] != float64(7) {
		t.Errorf("expected data to be forwarded, got %v", api.lastBody["data"])
	}
}

func TestNotifyOmitsUnsetChannels(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	if _, err := execute(t, "--server", srv.URL, "notify", "broadcast", "--title", "t", "--message", "m", "--roles", "officer"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := api.lastBody["channels"]; ok {
		t.Error("channels must be omitted so the server default applies")
	}
	if roles, _ := api.lastBody["roles"].([]interface{}); len(roles) != 1 || roles[0] != "officer" {
		t.Errorf("unexpected roles %v", api.lastBody["roles"])
	}
}

func TestNotifyValidation(t *testing.T) {
	if _, err := execute(t, "notify", "user", "u1", "--message", "m"); err == nil {
		t.Error("expected an error without --title")
	}
	if _, err := execute(t, "notify", "user", "u1", "--title", "t", "--message", "m", "--data", "{bad"); err == nil {
		t.Error("expected an error for invalid --data")
	}
}

func TestStatusAndList(t *testing.T) {
	srv := httptest.NewServer(&fakeAPI{})
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "status", "user-u1-20261015090000-abcd1234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"partially_delivered", "email    failed", "socket   delivered"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "--server", srv.URL, "list", "u1", "--limit", "5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "n1") || !strings.Contains(out, "Hello") {
		t.Errorf("unexpected list output:\n%s", out)
	}

	_, err = execute(t, "--server", srv.URL, "status", "missing")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected a 404 error, got %v", err)
	}
}

type keepOpenBroker struct{ pubsub.Broker }

func (keepOpenBroker) Close() error { return nil }

func TestPublish(t *testing.T) {
	t.Setenv("RELAY_BACKEND", "redis")
	broker := pubsub.NewInMemoryBroker()
	defer broker.Close()
	orig := newBroker
	newBroker = func(*config.Config) (pubsub.Broker, error) { return keepOpenBroker{broker}, nil }
	defer func() { newBroker = orig }()

	sub, err := broker.Subscribe(context.Background(), "emergency_alerts")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Close()

	out, err := execute(t, "publish", "--topic", "emergency_alerts", "--channel", "operations", `{"text":"road closed"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "emergency_alerts") {
		t.Errorf("unexpected output %q", out)
	}

	select {
	case m := <-sub.Messages():
		var payload map[string]interface{}
		json.Unmarshal(m.Payload, &payload)
		if payload["channel"] != "operations" || payload["text"] != "road closed" {
			t.Errorf("unexpected payload %v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}

	if _, err := execute(t, "publish", "[1,2]"); err == nil {
		t.Error("expected an error for a non-object payload")
	}
}

func TestPublishRefusesMemoryBackend(t *testing.T) {
	t.Setenv("RELAY_BACKEND", "memory")
	called := false
	orig := newBroker
	newBroker = func(*config.Config) (pubsub.Broker, error) {
		called = true
		return pubsub.NewInMemoryBroker(), nil
	}
	defer func() { newBroker = orig }()

	out, err := execute(t, "publish", "--topic", "emergency_alerts", `{"text":"x"}`)
	if err == nil || !strings.Contains(err.Error(), "RELAY_BACKEND=memory") {
		t.Fatalf("expected the memory backend to be refused, got %v", err)
	}
	if called {
		t.Error("no broker should be opened for the memory backend")
	}
	if strings.Contains(out, "published") {
		t.Errorf("nothing should be reported as published, got %q", out)
	}
}
