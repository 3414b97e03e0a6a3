package statedir

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openclaw/clawdock/internal/oauth"
)

func TestLoadOrInitFirstRun(t *testing.T) {
	t.Parallel()

	s := New(filepath.Join(t.TempDir(), "state"))
	boot, err := s.LoadOrInit(18789)
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	if !boot.FirstRun {
		t.Fatal("first run not flagged")
	}
	if boot.Port != 18789 {
		t.Fatalf("port = %d, want 18789", boot.Port)
	}
	if !ValidSecret(boot.Token) {
		t.Fatalf("token %q is not a 64-hex secret", boot.Token)
	}
	for _, rel := range []string{
		"config",
		"config/credentials",
		"config/agents/default/agent",
		"config/agents/default/sessions",
	} {
		if info, err := os.Stat(filepath.Join(s.Root(), rel)); err != nil || !info.IsDir() {
			t.Fatalf("missing directory %s: %v", rel, err)
		}
	}
}

func TestSecretRoundTripByteIdentical(t *testing.T) {
	t.Parallel()

	s := New(filepath.Join(t.TempDir(), "state"))
	first, err := s.LoadOrInit(18789)
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}

	second, err := s.LoadOrInit(0)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if second.FirstRun {
		t.Fatal("reload flagged as first run")
	}
	if second.Token != first.Token {
		t.Fatalf("reloaded token %q != original %q", second.Token, first.Token)
	}
	if second.Port != first.Port {
		t.Fatalf("reloaded port %d != original %d", second.Port, first.Port)
	}

	embedded, err := s.GatewayConfigToken()
	if err != nil {
		t.Fatalf("GatewayConfigToken: %v", err)
	}
	if embedded != first.Token {
		t.Fatalf("config token %q != env token %q", embedded, first.Token)
	}
}

func TestFilePermissions(t *testing.T) {
	t.Parallel()

	s := New(filepath.Join(t.TempDir(), "state"))
	if _, err := s.LoadOrInit(18789); err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	if err := s.WriteOAuthCredentials(oauth.CredentialSet{Type: "oauth", AccessToken: "a", RefreshToken: "r", ExpiresAtMs: 1}); err != nil {
		t.Fatalf("WriteOAuthCredentials: %v", err)
	}
	if err := s.WriteAPIKeyProfile("sk-test"); err != nil {
		t.Fatalf("WriteAPIKeyProfile: %v", err)
	}

	for _, tc := range []struct {
		rel  string
		want os.FileMode
	}{
		{".env", 0o600},
		{"config/openclaw.json", 0o600},
		{"config/credentials/oauth.json", 0o600},
		{"config/agents/default/agent/auth-profiles.json", 0o600},
	} {
		info, err := os.Stat(filepath.Join(s.Root(), tc.rel))
		if err != nil {
			t.Fatalf("stat %s: %v", tc.rel, err)
		}
		if got := info.Mode().Perm(); got != tc.want {
			t.Fatalf("%s mode = %o, want %o", tc.rel, got, tc.want)
		}
	}

	info, err := os.Stat(filepath.Join(s.Root(), "config/credentials"))
	if err != nil {
		t.Fatalf("stat credentials dir: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o700 {
		t.Fatalf("credentials dir mode = %o, want 700", got)
	}
}

func TestReadOAuthCredentialsMissingIsNil(t *testing.T) {
	t.Parallel()

	s := New(filepath.Join(t.TempDir(), "state"))
	set, err := s.ReadOAuthCredentials()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set != nil {
		t.Fatalf("set = %+v, want nil", set)
	}
}

func TestOAuthCredentialsRoundTrip(t *testing.T) {
	t.Parallel()

	s := New(filepath.Join(t.TempDir(), "state"))
	if _, err := s.LoadOrInit(18789); err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}

	in := oauth.CredentialSet{Type: "oauth", RefreshToken: "ref", AccessToken: "acc", ExpiresAtMs: 1234567890}
	if err := s.WriteOAuthCredentials(in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := s.ReadOAuthCredentials()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out == nil || *out != in {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
}

func TestHasAndRemoveCredentials(t *testing.T) {
	t.Parallel()

	s := New(filepath.Join(t.TempDir(), "state"))
	if _, err := s.LoadOrInit(18789); err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	if s.HasCredentials() {
		t.Fatal("fresh store reports credentials")
	}

	if err := s.WriteAPIKeyProfile("sk-test"); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	if !s.HasCredentials() {
		t.Fatal("credentials not detected")
	}

	if err := s.RemoveCredentials(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if s.HasCredentials() {
		t.Fatal("credentials survived removal")
	}
	// The rest of the state must survive.
	if !s.Initialized() {
		t.Fatal("env file removed by RemoveCredentials")
	}
	if _, err := s.GatewayConfigToken(); err != nil {
		t.Fatalf("gateway config removed: %v", err)
	}

	// Removing twice is fine.
	if err := s.RemoveCredentials(); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestResetDeletesEverything(t *testing.T) {
	t.Parallel()

	s := New(filepath.Join(t.TempDir(), "state"))
	if _, err := s.LoadOrInit(18789); err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := os.Stat(s.Root()); !os.IsNotExist(err) {
		t.Fatalf("state dir still present: %v", err)
	}
	if s.Initialized() {
		t.Fatal("store still reports initialized")
	}
}

func TestMigrateLegacyMovesDirectory(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	legacy := filepath.Join(base, "legacy")
	if err := os.MkdirAll(legacy, 0o700); err != nil {
		t.Fatalf("mkdir legacy: %v", err)
	}
	if err := os.WriteFile(filepath.Join(legacy, ".env"), []byte("GATEWAY_TOKEN="+strings.Repeat("a", 64)+"\nPORT=18789\n"), 0o600); err != nil {
		t.Fatalf("write legacy env: %v", err)
	}

	s := New(filepath.Join(base, "state"))
	if err := s.migrateFrom(legacy); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := os.Stat(legacy); !os.IsNotExist(err) {
		t.Fatalf("legacy dir still present: %v", err)
	}

	boot, err := s.LoadOrInit(0)
	if err != nil {
		t.Fatalf("load after migration: %v", err)
	}
	if boot.FirstRun {
		t.Fatal("migrated state treated as first run")
	}
	if boot.Token != strings.Repeat("a", 64) {
		t.Fatalf("token = %q after migration", boot.Token)
	}
}

func TestMigrateLegacyKeepsExistingState(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	legacy := filepath.Join(base, "legacy")
	if err := os.MkdirAll(legacy, 0o700); err != nil {
		t.Fatalf("mkdir legacy: %v", err)
	}

	s := New(filepath.Join(base, "state"))
	if _, err := s.LoadOrInit(18789); err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	before, err := s.LoadOrInit(0)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	if err := s.migrateFrom(legacy); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	after, err := s.LoadOrInit(0)
	if err != nil {
		t.Fatalf("reload after migrate: %v", err)
	}
	if after.Token != before.Token {
		t.Fatal("existing state clobbered by migration")
	}
}

func TestLoadRejectsMalformedToken(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "state")
	if err := os.MkdirAll(root, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, ".env"), []byte("GATEWAY_TOKEN=short\nPORT=18789\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	if _, err := New(root).LoadOrInit(0); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestNewGatewaySecret(t *testing.T) {
	t.Parallel()

	a, err := NewGatewaySecret()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !ValidSecret(a) {
		t.Fatalf("secret %q malformed", a)
	}
	if a != strings.ToLower(a) {
		t.Fatalf("secret %q not lowercase", a)
	}
	b, err := NewGatewaySecret()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if a == b {
		t.Fatal("secrets repeat")
	}
}

func TestParseEnvFileSkipsCommentsAndBlanks(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	content := "# generated\n\nGATEWAY_TOKEN=abc\nPORT=1\nnoequals\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	values, err := parseEnvFile(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("values = %v, want 2 entries", values)
	}
	if values["GATEWAY_TOKEN"] != "abc" || values["PORT"] != "1" {
		t.Fatalf("values = %v", values)
	}
}
