// Package statedir owns every file the launcher persists: the gateway env
// file, the generated gateway configuration, credential files, and the
// directory tree the gateway expects to find mounted. Nothing outside this
// package touches these paths.
package statedir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	envFileName       = ".env"
	configDirName     = "config"
	gatewayConfigName = "openclaw.json"
	credentialsDir    = "credentials"
	oauthFileName     = "oauth.json"
	agentDirRel       = "agents/default/agent"
	sessionsDirRel    = "agents/default/sessions"
	profilesFileName  = "auth-profiles.json"
	legacyDirName     = ".openclaw-launcher"
)

// Store manages one launcher state directory.
type Store struct {
	root string
}

// New returns a Store rooted at dir. The directory need not exist yet.
func New(root string) *Store {
	return &Store{root: root}
}

// DefaultRoot resolves the per-user state directory.
func DefaultRoot() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(base, "clawdock"), nil
}

// LegacyRoot resolves the pre-1.0 state directory location in the user's
// home.
func LegacyRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, legacyDirName), nil
}

// Root returns the state directory path.
func (s *Store) Root() string { return s.root }

// EnvPath returns the path of the gateway env file.
func (s *Store) EnvPath() string { return filepath.Join(s.root, envFileName) }

// ConfigDir returns the directory mounted into the gateway container.
func (s *Store) ConfigDir() string { return filepath.Join(s.root, configDirName) }

func (s *Store) gatewayConfigPath() string {
	return filepath.Join(s.ConfigDir(), gatewayConfigName)
}

func (s *Store) oauthPath() string {
	return filepath.Join(s.ConfigDir(), credentialsDir, oauthFileName)
}

func (s *Store) profilesPath() string {
	return filepath.Join(s.ConfigDir(), agentDirRel, profilesFileName)
}

// Initialized reports whether the env file exists, which marks a completed
// first-run setup.
func (s *Store) Initialized() bool {
	_, err := os.Stat(s.EnvPath())
	return err == nil
}

// Boot is what one launch needs from disk.
type Boot struct {
	Token    string
	Port     int
	FirstRun bool
}

// LoadOrInit loads the persisted token and port, creating the state directory
// on first run. desiredPort is only consulted when the env file does not
// exist yet; afterwards the persisted value always wins. A legacy state
// directory is migrated into place before first-run creation.
func (s *Store) LoadOrInit(desiredPort int) (Boot, error) {
	if s.Initialized() {
		return s.load()
	}
	if err := s.MigrateLegacy(); err != nil {
		return Boot{}, err
	}
	if s.Initialized() {
		return s.load()
	}
	return s.initialize(desiredPort)
}

func (s *Store) load() (Boot, error) {
	env, err := parseEnvFile(s.EnvPath())
	if err != nil {
		return Boot{}, err
	}
	token := env["GATEWAY_TOKEN"]
	if !ValidSecret(token) {
		return Boot{}, fmt.Errorf("state file %s holds a malformed gateway token", s.EnvPath())
	}
	port, err := strconv.Atoi(strings.TrimSpace(env["PORT"]))
	if err != nil || port <= 0 || port > 65535 {
		return Boot{}, fmt.Errorf("state file %s holds an invalid port %q", s.EnvPath(), env["PORT"])
	}
	return Boot{Token: token, Port: port, FirstRun: false}, nil
}

func (s *Store) initialize(port int) (Boot, error) {
	if port <= 0 || port > 65535 {
		return Boot{}, fmt.Errorf("invalid gateway port %d", port)
	}
	token, err := NewGatewaySecret()
	if err != nil {
		return Boot{}, err
	}

	for _, dir := range []string{
		s.root,
		s.ConfigDir(),
		filepath.Join(s.ConfigDir(), credentialsDir),
		filepath.Join(s.ConfigDir(), agentDirRel),
		filepath.Join(s.ConfigDir(), sessionsDirRel),
	} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return Boot{}, fmt.Errorf("create state dir %s: %w", dir, err)
		}
	}

	if err := writeEnvFile(s.EnvPath(), token, port); err != nil {
		return Boot{}, err
	}
	if err := s.writeGatewayConfig(token, port); err != nil {
		return Boot{}, err
	}
	return Boot{Token: token, Port: port, FirstRun: true}, nil
}

// MigrateLegacy moves a legacy state directory into place when the current
// root does not exist yet. Doing nothing is the common case.
func (s *Store) MigrateLegacy() error {
	legacy, err := LegacyRoot()
	if err != nil {
		return nil
	}
	return s.migrateFrom(legacy)
}

func (s *Store) migrateFrom(legacy string) error {
	if _, err := os.Stat(legacy); err != nil {
		return nil
	}
	if _, err := os.Stat(s.root); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.root), 0o755); err != nil {
		return fmt.Errorf("prepare state parent dir: %w", err)
	}
	if err := os.Rename(legacy, s.root); err == nil {
		return nil
	}
	// Rename fails across filesystems; fall back to a copy.
	if err := copyTree(legacy, s.root); err != nil {
		return fmt.Errorf("migrate legacy state dir: %w", err)
	}
	_ = os.RemoveAll(legacy)
	return nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode().Perm())
	})
}

// Reset deletes the launcher state. The gateway secret does not survive
// this. A daemon lock file keeps its inode so a holder's flock stays valid;
// everything else goes, the directory itself included once it is empty.
func (s *Store) Reset() error {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state dir: %w", err)
	}
	keptLock := false
	for _, entry := range entries {
		if entry.Name() == lockFileName {
			keptLock = true
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			return fmt.Errorf("remove state dir entry: %w", err)
		}
	}
	if keptLock {
		return nil
	}
	if err := os.Remove(s.root); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove state dir: %w", err)
	}
	return nil
}

// HasCredentials reports whether any credential file (API key profile or
// OAuth token set) exists.
func (s *Store) HasCredentials() bool {
	if _, err := os.Stat(s.profilesPath()); err == nil {
		return true
	}
	if _, err := os.Stat(s.oauthPath()); err == nil {
		return true
	}
	return false
}

// HasAPIKeyProfile reports whether an API-key credential profile exists.
func (s *Store) HasAPIKeyProfile() bool {
	_, err := os.Stat(s.profilesPath())
	return err == nil
}

// HasOAuthCredentials reports whether a stored OAuth token set exists.
func (s *Store) HasOAuthCredentials() bool {
	_, err := os.Stat(s.oauthPath())
	return err == nil
}

// RemoveCredentials deletes only the credential files, preserving the rest
// of the state directory. Missing files are fine.
func (s *Store) RemoveCredentials() error {
	var errs []error
	for _, path := range []string{s.profilesPath(), s.oauthPath()} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
