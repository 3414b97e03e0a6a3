package launcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openclaw/clawdock/internal/oauth"
)

// refreshCredentialsIfNeeded silently renews a stored OAuth session that is
// expired or inside the safety margin. No stored OAuth credentials is not an
// error; API-key profiles never need refreshing.
func (l *Launcher) refreshCredentialsIfNeeded(ctx context.Context) error {
	creds, err := l.files.ReadOAuthCredentials()
	if err != nil {
		return err
	}
	if creds == nil || !creds.NeedsRefresh() {
		return nil
	}
	refreshed, err := l.oauthc.Refresh(ctx, creds.RefreshToken)
	if err != nil {
		return err
	}
	if err := l.files.WriteOAuthCredentials(refreshed); err != nil {
		return err
	}
	l.store.addStep(StepDone, "Refreshed the stored session")
	l.logf("event=auth_refreshed")
	return nil
}

// BeginOAuth starts a browser sign-in attempt: it generates a fresh PKCE
// pair, publishes the authorization URL, and moves to waitingForAuthInput.
// Calling it again discards the previous attempt.
func (l *Launcher) BeginOAuth() (string, error) {
	switch st := l.store.Status(); st {
	case StatusNeedsAuth, StatusWaitingForAuthInput:
	default:
		return "", fmt.Errorf("cannot start sign-in while %s", st)
	}

	p := oauth.GeneratePKCE()
	l.mu.Lock()
	l.pkce = &p
	l.mu.Unlock()

	url := l.oauthc.AuthorizeRequestURL(p)
	l.store.setAuthURL(url)
	l.store.setStatus(StatusWaitingForAuthInput)
	l.maybeOpenBrowser(url)
	l.usageEvent("auth_begin", map[string]string{"method": "oauth"})
	l.logf("event=auth_begin")
	return url, nil
}

// SubmitAuthCode finishes a browser sign-in with the code the user pasted
// back. The paste is normalized first, so full callback URLs and code#state
// forms work. On success the credentials are persisted and bring-up resumes.
func (l *Launcher) SubmitAuthCode(ctx context.Context, raw string) error {
	l.mu.Lock()
	p := l.pkce
	l.mu.Unlock()
	if p == nil {
		return errors.New("no sign-in attempt in progress")
	}

	code := oauth.NormalizeCode(raw)
	if code == "" {
		return errors.New("authorization code is empty")
	}
	creds, err := l.oauthc.ExchangeCode(ctx, code, p.Verifier)
	if err != nil {
		// The user can retry with a fresh code; stay at the input prompt.
		l.store.addStep(StepWarning, "Sign-in failed: "+truncateDetail(err.Error()))
		l.logf("event=auth_exchange_failed err=%v", err)
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	if err := l.files.WriteOAuthCredentials(creds); err != nil {
		l.store.fail("credential write failed: " + err.Error())
		return err
	}

	l.mu.Lock()
	l.pkce = nil
	l.mu.Unlock()
	l.store.addStep(StepDone, "Signed in")
	l.usageEvent("auth_complete", map[string]string{"method": "oauth"})
	l.logf("event=auth_complete method=oauth")
	return l.ContinueAfterSetup(ctx)
}

// SubmitAPIKey stores an API-key auth profile instead of an OAuth session
// and resumes bring-up.
func (l *Launcher) SubmitAPIKey(ctx context.Context, key string) error {
	switch st := l.store.Status(); st {
	case StatusNeedsAuth, StatusWaitingForAuthInput:
	default:
		return fmt.Errorf("cannot submit an API key while %s", st)
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("API key is empty")
	}
	if err := l.files.WriteAPIKeyProfile(key); err != nil {
		l.store.fail("credential write failed: " + err.Error())
		return err
	}
	l.store.addStep(StepDone, "API key saved")
	l.usageEvent("auth_complete", map[string]string{"method": "api_key"})
	l.logf("event=auth_complete method=api_key")
	return l.ContinueAfterSetup(ctx)
}

// SkipAuth continues bring-up without storing any credentials. The gateway
// starts, and the next launch passes through the gate again.
func (l *Launcher) SkipAuth(ctx context.Context) error {
	switch st := l.store.Status(); st {
	case StatusNeedsAuth, StatusWaitingForAuthInput:
	default:
		return fmt.Errorf("cannot skip authentication while %s", st)
	}

	l.mu.Lock()
	l.pkce = nil
	l.mu.Unlock()
	l.store.addStep(StepWarning, "Continuing without credentials")
	l.usageEvent("auth_skipped", nil)
	l.logf("event=auth_skipped")
	return l.ContinueAfterSetup(ctx)
}
