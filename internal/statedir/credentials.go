package statedir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openclaw/clawdock/internal/oauth"
)

// providerKey names the fixed identity provider in the credential file.
const providerKey = "anthropic"

// WriteOAuthCredentials persists a token set under
// config/credentials/oauth.json with owner-only permissions on both the
// directory and the file.
func (s *Store) WriteOAuthCredentials(set oauth.CredentialSet) error {
	dir := filepath.Dir(s.oauthPath())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	payload := map[string]oauth.CredentialSet{providerKey: set}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode oauth credentials: %w", err)
	}
	return writeFileAtomic(s.oauthPath(), append(data, '\n'), 0o600)
}

// ReadOAuthCredentials returns the stored token set, or nil when none exists.
func (s *Store) ReadOAuthCredentials() (*oauth.CredentialSet, error) {
	data, err := os.ReadFile(s.oauthPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read oauth credentials: %w", err)
	}
	var payload map[string]oauth.CredentialSet
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode oauth credentials: %w", err)
	}
	set, ok := payload[providerKey]
	if !ok {
		return nil, nil
	}
	return &set, nil
}

type authProfiles struct {
	Version  int                    `json:"version"`
	Profiles map[string]authProfile `json:"profiles"`
}

type authProfile struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// WriteAPIKeyProfile persists an API-key credential profile for the default
// agent, mode 0600.
func (s *Store) WriteAPIKeyProfile(key string) error {
	if err := os.MkdirAll(filepath.Dir(s.profilesPath()), 0o700); err != nil {
		return fmt.Errorf("create agent dir: %w", err)
	}
	payload := authProfiles{
		Version: 1,
		Profiles: map[string]authProfile{
			providerKey + ":default": {Type: "api_key", Key: key},
		},
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode auth profiles: %w", err)
	}
	return writeFileAtomic(s.profilesPath(), append(data, '\n'), 0o600)
}
