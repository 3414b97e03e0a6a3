// Package oauth implements the authorization-code + PKCE flow against the
// gateway's fixed identity provider.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultAuthorizeURL = "https://claude.ai/oauth/authorize"
	defaultTokenURL     = "https://console.anthropic.com/v1/oauth/token"
	defaultClientID     = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	defaultRedirectURI  = "https://console.anthropic.com/oauth/code/callback"

	// Tokens are treated as expired this long before the provider's stated
	// expiry so a refresh happens before the gateway sees a rejection.
	expiryMargin = 5 * time.Minute

	requestTimeout = 30 * time.Second
)

var defaultScopes = []string{"org:create_api_key", "user:profile", "user:inference"}

// CredentialTypeOAuth marks credential sets produced by this package.
const CredentialTypeOAuth = "oauth"

// CredentialSet is a stored token pair. ExpiresAtMs already has the safety
// margin subtracted; compare it directly against wall clock.
type CredentialSet struct {
	Type         string `json:"type"`
	RefreshToken string `json:"refresh"`
	AccessToken  string `json:"access"`
	ExpiresAtMs  int64  `json:"expires"`
}

// NeedsRefresh reports whether the access token should be refreshed before
// use.
func (c CredentialSet) NeedsRefresh() bool {
	return time.Now().UnixMilli() >= c.ExpiresAtMs
}

// PKCE is one verifier/challenge pair for a single authorization attempt.
type PKCE struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE returns a fresh verifier and its S256 challenge, both
// base64url-encoded without padding.
func GeneratePKCE() PKCE {
	verifier := oauth2.GenerateVerifier()
	return PKCE{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
	}
}

// Client exchanges and refreshes tokens. The zero value is not usable; call
// NewClient.
type Client struct {
	HTTPClient   *http.Client
	AuthorizeURL string
	TokenURL     string
	ClientID     string
	RedirectURI  string
	Scopes       []string
}

// NewClient returns a client configured for the fixed provider.
func NewClient() *Client {
	return &Client{
		HTTPClient:   &http.Client{Timeout: requestTimeout},
		AuthorizeURL: defaultAuthorizeURL,
		TokenURL:     defaultTokenURL,
		ClientID:     defaultClientID,
		RedirectURI:  defaultRedirectURI,
		Scopes:       defaultScopes,
	}
}

// AuthorizeRequestURL builds the URL the user visits to approve access. The
// verifier rides in the state parameter: it has to come back with the code
// anyway, and carrying it there saves persisting flow state across the
// round trip.
func (c *Client) AuthorizeRequestURL(p PKCE) string {
	q := url.Values{}
	q.Set("client_id", c.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", c.RedirectURI)
	q.Set("scope", strings.Join(c.Scopes, " "))
	q.Set("code_challenge", p.Challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("state", p.Verifier)
	return c.AuthorizeURL + "?" + q.Encode()
}

// ExchangeCode trades an authorization code and its verifier for a credential
// set. Any missing token field in the response is a hard failure.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (CredentialSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("state", verifier)
	form.Set("client_id", c.ClientID)
	form.Set("redirect_uri", c.RedirectURI)
	form.Set("code_verifier", verifier)
	return c.requestToken(ctx, form, "")
}

// Refresh trades a refresh token for a new credential set. When the provider
// omits a rotated refresh token the old one is retained.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (CredentialSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.ClientID)
	return c.requestToken(ctx, form, refreshToken)
}

func (c *Client) requestToken(ctx context.Context, form url.Values, priorRefresh string) (CredentialSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return CredentialSet{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return CredentialSet{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return CredentialSet{}, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return CredentialSet{}, fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return CredentialSet{}, errors.New("token response missing access_token")
	}
	if payload.RefreshToken == "" {
		if priorRefresh == "" {
			return CredentialSet{}, errors.New("token response missing refresh_token")
		}
		payload.RefreshToken = priorRefresh
	}
	if payload.ExpiresIn <= 0 {
		return CredentialSet{}, errors.New("token response missing expires_in")
	}

	expiresAt := time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - expiryMargin)
	return CredentialSet{
		Type:         CredentialTypeOAuth,
		RefreshToken: payload.RefreshToken,
		AccessToken:  payload.AccessToken,
		ExpiresAtMs:  expiresAt.UnixMilli(),
	}, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// NormalizeCode extracts the authorization code from whatever the user
// pasted: the bare code, the full callback URL, or the code#state form the
// provider's copy button produces.
func NormalizeCode(raw string) string {
	code := strings.TrimSpace(raw)
	if code == "" {
		return ""
	}
	if strings.Contains(code, "://") || strings.Contains(code, "?") {
		if parsed, err := url.Parse(code); err == nil {
			if extracted := parsed.Query().Get("code"); extracted != "" {
				code = extracted
			}
		}
	}
	if idx := strings.Index(code, "#"); idx != -1 {
		code = code[:idx]
	}
	return strings.TrimSpace(code)
}
