package launcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/openclaw/clawdock/internal/oauth"
)

// newAuthTestLauncher parks a launcher at the auth gate with a token
// endpoint under test control.
func newAuthTestLauncher(t *testing.T, handler http.HandlerFunc) (*Launcher, *fakeEngine) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	fake := &fakeEngine{daemonReady: true}
	l := newTestLauncher(t, fake, func(o *Options) {
		startGatewayStub(t, o)
		o.OAuth = &oauth.Client{
			AuthorizeURL: srv.URL + "/authorize",
			TokenURL:     srv.URL + "/token",
			ClientID:     "test-client",
			RedirectURI:  "http://localhost/callback",
			Scopes:       []string{"user:profile"},
		}
	})
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := l.Snapshot().Status; got != StatusNeedsAuth {
		t.Fatalf("status = %q, want needsAuth", got)
	}
	return l, fake
}

func TestBeginOAuthPublishesURLAndAdvancesState(t *testing.T) {
	t.Parallel()
	l, _ := newAuthTestLauncher(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no token call expected", http.StatusBadRequest)
	})

	var opened string
	l.browser = func(u string) error {
		opened = u
		return nil
	}
	l.opts.Settings.Browser.Open = true

	authURL, err := l.BeginOAuth()
	if err != nil {
		t.Fatalf("BeginOAuth: %v", err)
	}
	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	q := parsed.Query()
	if q.Get("code_challenge_method") != "S256" {
		t.Fatalf("code_challenge_method = %q", q.Get("code_challenge_method"))
	}
	if q.Get("code_challenge") == "" || q.Get("state") == "" {
		t.Fatalf("missing pkce params in %q", authURL)
	}
	snap := l.Snapshot()
	if snap.Status != StatusWaitingForAuthInput {
		t.Fatalf("status = %q, want waitingForAuthInput", snap.Status)
	}
	if snap.AuthURL != authURL {
		t.Fatalf("snapshot authURL = %q, want %q", snap.AuthURL, authURL)
	}
	if opened != authURL {
		t.Fatalf("browser opened %q, want %q", opened, authURL)
	}
}

func TestBeginOAuthRejectedOutsideAuthGate(t *testing.T) {
	t.Parallel()
	fake := &fakeEngine{daemonReady: true}
	l := newTestLauncher(t, fake, nil)

	if _, err := l.BeginOAuth(); err == nil {
		t.Fatal("BeginOAuth from idle must fail")
	}
}

func TestSubmitAuthCodeCompletesBringUp(t *testing.T) {
	t.Parallel()
	var gotCode, gotVerifier string
	l, fake := newAuthTestLauncher(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotCode = r.PostForm.Get("code")
		gotVerifier = r.PostForm.Get("code_verifier")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-xyz",
			"refresh_token": "refresh-xyz",
			"expires_in":    3600,
		})
	})

	if _, err := l.BeginOAuth(); err != nil {
		t.Fatalf("BeginOAuth: %v", err)
	}
	// The user pastes the full callback URL; normalization digs the code out.
	if err := l.SubmitAuthCode(context.Background(), "https://console.anthropic.com/oauth/code/callback?code=abc123&state=xyz"); err != nil {
		t.Fatalf("SubmitAuthCode: %v", err)
	}

	if gotCode != "abc123" {
		t.Fatalf("code = %q, want abc123", gotCode)
	}
	if gotVerifier == "" {
		t.Fatal("verifier missing from exchange")
	}
	snap := l.Snapshot()
	if snap.Status != StatusRunning {
		t.Fatalf("status = %q, want running (steps: %v)", snap.Status, stepMessages(snap))
	}
	if !fake.calledVerb("run") {
		t.Fatalf("bring-up did not continue, calls: %v", fake.callLines())
	}
	creds, err := l.files.ReadOAuthCredentials()
	if err != nil || creds == nil {
		t.Fatalf("stored credentials: %v %v", creds, err)
	}
	if creds.AccessToken != "access-xyz" {
		t.Fatalf("access token = %q", creds.AccessToken)
	}
}

func TestSubmitAuthCodeExchangeFailureAllowsRetry(t *testing.T) {
	t.Parallel()
	attempts := 0
	l, _ := newAuthTestLauncher(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"a","refresh_token":"r","expires_in":3600}`))
	})

	if _, err := l.BeginOAuth(); err != nil {
		t.Fatalf("BeginOAuth: %v", err)
	}
	if err := l.SubmitAuthCode(context.Background(), "badcode"); err == nil {
		t.Fatal("expected exchange failure")
	}
	snap := l.Snapshot()
	if snap.Status != StatusWaitingForAuthInput {
		t.Fatalf("status = %q, want waitingForAuthInput after failure", snap.Status)
	}
	if !hasStep(snap, StepWarning, "Sign-in failed") {
		t.Fatalf("missing failure step: %v", stepMessages(snap))
	}

	// Same attempt, new code.
	if err := l.SubmitAuthCode(context.Background(), "goodcode"); err != nil {
		t.Fatalf("retry SubmitAuthCode: %v", err)
	}
	if got := l.Snapshot().Status; got != StatusRunning {
		t.Fatalf("status = %q, want running", got)
	}
}

func TestSubmitAuthCodeWithoutAttempt(t *testing.T) {
	t.Parallel()
	fake := &fakeEngine{daemonReady: true}
	l := newTestLauncher(t, fake, nil)

	err := l.SubmitAuthCode(context.Background(), "code")
	if err == nil || !strings.Contains(err.Error(), "no sign-in attempt") {
		t.Fatalf("err = %v", err)
	}
}

func TestSubmitAPIKeyStoresProfileAndContinues(t *testing.T) {
	t.Parallel()
	l, fake := newAuthTestLauncher(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no token call expected", http.StatusBadRequest)
	})

	if err := l.SubmitAPIKey(context.Background(), "  sk-ant-test-key  "); err != nil {
		t.Fatalf("SubmitAPIKey: %v", err)
	}
	if got := l.Snapshot().Status; got != StatusRunning {
		t.Fatalf("status = %q, want running", got)
	}
	if !l.files.HasCredentials() {
		t.Fatal("api key profile not stored")
	}
	if !fake.calledVerb("run") {
		t.Fatalf("bring-up did not continue, calls: %v", fake.callLines())
	}
}

func TestSubmitAPIKeyEmptyRejected(t *testing.T) {
	t.Parallel()
	l, _ := newAuthTestLauncher(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no token call expected", http.StatusBadRequest)
	})

	if err := l.SubmitAPIKey(context.Background(), "   "); err == nil {
		t.Fatal("empty key must be rejected")
	}
	if got := l.Snapshot().Status; got != StatusNeedsAuth {
		t.Fatalf("status = %q, want needsAuth", got)
	}
}
