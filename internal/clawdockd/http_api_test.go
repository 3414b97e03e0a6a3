package clawdockd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openclaw/clawdock/internal/configstore"
	"github.com/openclaw/clawdock/internal/engine"
	"github.com/openclaw/clawdock/internal/launcher"
)

// stubEngine answers the engine verbs the auth-gated start path touches. A
// fresh state directory parks at needsAuth before any image or container
// work, so info is the only verb that matters.
type stubEngine struct{}

func (stubEngine) Run(ctx context.Context, name string, args ...string) (engine.Result, error) {
	verb := ""
	if len(args) > 0 {
		verb = args[0]
	}
	switch verb {
	case "info":
		return engine.Result{ExitCode: 0, Stdout: "28.0.1"}, nil
	case "inspect":
		return engine.Result{ExitCode: 1, Stderr: "Error: No such object: " + args[len(args)-1]}, nil
	}
	return engine.Result{ExitCode: 0}, nil
}

func newAPIServer(t *testing.T) (*httptest.Server, *launcher.Launcher) {
	t.Helper()

	settings := configstore.Defaults()
	settings.Browser.Open = false
	l := launcher.New(launcher.Options{
		StateDir: t.TempDir(),
		Settings: settings,
		Runner:   stubEngine{},
		Discover: func() engine.Install { return engine.Install{Binary: "docker"} },
		Logf:     func(string, ...any) {},
	})
	t.Cleanup(l.Close)

	api := newCommandAPI(context.Background(), l, &dispatcher{launcher: l})
	mux := http.NewServeMux()
	api.register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, l
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBodyMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestStatusEndpointReportsIdle(t *testing.T) {
	t.Parallel()
	srv, _ := newAPIServer(t)

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d, want 200", resp.StatusCode)
	}

	var snap launcher.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Status != launcher.StatusIdle {
		t.Fatalf("status = %q, want %q", snap.Status, launcher.StatusIdle)
	}
}

func TestCommandStartParksAtAuthGate(t *testing.T) {
	t.Parallel()
	srv, l := newAPIServer(t)

	resp := postJSON(t, srv.URL+"/api/command", map[string]string{"action": "start"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d, want 200", resp.StatusCode)
	}
	body := decodeBodyMap(t, resp)
	if body["status"] != "ok" {
		t.Fatalf("body = %v, want status ok", body)
	}

	if got := l.Snapshot().Status; got != launcher.StatusNeedsAuth {
		t.Fatalf("launcher status = %q, want %q", got, launcher.StatusNeedsAuth)
	}
}

func TestCommandUnknownActionRejected(t *testing.T) {
	t.Parallel()
	srv, _ := newAPIServer(t)

	resp := postJSON(t, srv.URL+"/api/command", map[string]string{"action": "florp"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code = %d, want 400", resp.StatusCode)
	}
	body := decodeBodyMap(t, resp)
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("body = %v, want error object", body)
	}
	msg, _ := errObj["message"].(string)
	if !strings.Contains(msg, "unknown action") {
		t.Fatalf("error message = %q", msg)
	}
}

func TestCommandMissingActionRejected(t *testing.T) {
	t.Parallel()
	srv, _ := newAPIServer(t)

	resp := postJSON(t, srv.URL+"/api/command", map[string]string{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code = %d, want 400", resp.StatusCode)
	}
}

func TestAuthCodeWithoutPendingAttemptRejected(t *testing.T) {
	t.Parallel()
	srv, _ := newAPIServer(t)

	resp := postJSON(t, srv.URL+"/api/auth/code", map[string]string{"code": "abc#def"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code = %d, want 400", resp.StatusCode)
	}
	body := decodeBodyMap(t, resp)
	if _, ok := body["error"]; !ok {
		t.Fatalf("body = %v, want error object", body)
	}
}

func TestCommandEndpointRejectsGet(t *testing.T) {
	t.Parallel()
	srv, _ := newAPIServer(t)

	resp, err := http.Get(srv.URL + "/api/command")
	if err != nil {
		t.Fatalf("GET command: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status code = %d, want 405", resp.StatusCode)
	}
}

func TestCommandEndpointAnswersPreflight(t *testing.T) {
	t.Parallel()
	srv, _ := newAPIServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/command", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS command: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status code = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-origin = %q, want *", got)
	}
}

func TestCommandInvalidJSONRejected(t *testing.T) {
	t.Parallel()
	srv, _ := newAPIServer(t)

	resp, err := http.Post(srv.URL+"/api/command", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("POST command: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code = %d, want 400", resp.StatusCode)
	}
}
