// Package config loads the dashboard's runtime configuration: the UI
// accounts file (YAML) and its built-in defaults. Backend selection stays in
// dbx; this package only covers what the HTTP layer needs at boot.
package config

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Roles the login gate understands.
const (
	RoleAdmin = "Administrator"
	RoleUser  = "User"
)

// Account is one UI login. Passwords in the file are plaintext; they are
// bcrypt-hashed at load and the plaintext is dropped.
type Account struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`

	// PasswordHash is derived at load time; never set it in the file.
	PasswordHash []byte `yaml:"-"`
}

// Config is the accounts file layout.
type Config struct {
	Accounts []Account `yaml:"accounts"`
}

// Load reads the YAML accounts file at path. An empty path yields the two
// built-in accounts (admin/Administrator and user/User) with passwords taken
// from ADMIN_PASSWORD and USER_PASSWORD, falling back to dev defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		cfg = defaultAccounts()
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if len(cfg.Accounts) == 0 {
			return nil, fmt.Errorf("config: %s defines no accounts", path)
		}
	}

	for i := range cfg.Accounts {
		a := &cfg.Accounts[i]
		if a.Username == "" || a.Password == "" {
			return nil, fmt.Errorf("config: account %d: username and password are required", i)
		}
		if a.Role != RoleAdmin && a.Role != RoleUser {
			return nil, fmt.Errorf("config: account %q: unknown role %q", a.Username, a.Role)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(a.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("config: hash password for %q: %w", a.Username, err)
		}
		a.PasswordHash = hash
		a.Password = ""
	}
	return &cfg, nil
}

// Authenticate checks a username/password pair and returns the matching
// account, or nil when either is wrong.
func (c *Config) Authenticate(username, password string) *Account {
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.Username != username {
			continue
		}
		if bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(password)) == nil {
			return a
		}
		return nil
	}
	return nil
}

func defaultAccounts() Config {
	return Config{Accounts: []Account{
		{Username: "admin", Password: env("ADMIN_PASSWORD", "admin123!!!"), Role: RoleAdmin},
		{Username: "user", Password: env("USER_PASSWORD", "user123!!!"), Role: RoleUser},
	}}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
