package config

import (
	"os"
	"path/filepath"
	"testing"
)

// WHAT: loads a YAML accounts file and hashes passwords.
// WHY: plaintext must never survive past Load.
func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.yaml")
	data := `accounts:
  - username: ops
    password: s3cret
    role: Administrator
  - username: viewer
    password: peek
    role: User
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(cfg.Accounts))
	}
	for _, a := range cfg.Accounts {
		if a.Password != "" {
			t.Errorf("account %q kept plaintext password", a.Username)
		}
		if len(a.PasswordHash) == 0 {
			t.Errorf("account %q has no hash", a.Username)
		}
	}
}

// WHAT: empty path yields the two built-in accounts.
func TestLoadDefaults(t *testing.T) {
	t.Setenv("ADMIN_PASSWORD", "override-admin")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(cfg.Accounts))
	}
	if cfg.Accounts[0].Role != RoleAdmin || cfg.Accounts[1].Role != RoleUser {
		t.Fatalf("unexpected roles %q / %q", cfg.Accounts[0].Role, cfg.Accounts[1].Role)
	}
	if cfg.Authenticate("admin", "override-admin") == nil {
		t.Fatal("admin password override not honored")
	}
}

// WHAT: Authenticate distinguishes wrong password from unknown user and
// returns the account on a match.
func TestAuthenticate(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := cfg.Authenticate("nobody", "x"); got != nil {
		t.Fatalf("unknown user authenticated as %q", got.Username)
	}
	if got := cfg.Authenticate("user", "wrong"); got != nil {
		t.Fatal("wrong password accepted")
	}
	got := cfg.Authenticate("user", "user123!!!")
	if got == nil || got.Role != RoleUser {
		t.Fatalf("expected User account, got %+v", got)
	}
}

// WHAT: malformed files fail loudly.
func TestLoadRejectsBadFile(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"empty.yaml":   "accounts: []\n",
		"norole.yaml":  "accounts:\n  - username: a\n    password: b\n    role: Boss\n",
		"nopass.yaml":  "accounts:\n  - username: a\n    role: User\n",
		"broken.yaml":  "accounts: [::\n",
		"missing.yaml": "", // never written
	}
	for name, body := range cases {
		path := filepath.Join(dir, name)
		if name != "missing.yaml" {
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
