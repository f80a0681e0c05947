package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/telekom/oidc-session/pkg/auth"
)

const (
	VersionV1 = "v1"

	KeySourceHost     = "host"
	KeySourceKeychain = "keychain"
)

type Config struct {
	Version  string   `yaml:"version"`
	Provider Provider `yaml:"provider"`
	Callback Callback `yaml:"callback,omitempty"`
	Session  Session  `yaml:"session,omitempty"`
	Settings Settings `yaml:"settings,omitempty"`
}

type Provider struct {
	Issuer           string `yaml:"issuer"`
	ClientID         string `yaml:"client-id"`
	ClientSecret     string `yaml:"client-secret,omitempty"`
	ClientSecretEnv  string `yaml:"client-secret-env,omitempty"`
	ClientSecretFile string `yaml:"client-secret-file,omitempty"`
	Scope            string `yaml:"scope,omitempty"`
	CAFile           string `yaml:"ca-file,omitempty"`
	InsecureSkipTLS  bool   `yaml:"insecure-skip-tls-verify,omitempty"`
}

type Callback struct {
	Port         int    `yaml:"port,omitempty"`
	RedirectPath string `yaml:"redirect-path,omitempty"`
}

type Session struct {
	File      string `yaml:"file,omitempty"`
	KeySource string `yaml:"key-source,omitempty"`
}

type Settings struct {
	OutputFormat string `yaml:"output-format,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Version: VersionV1,
		Provider: Provider{
			Scope: auth.DefaultScope,
		},
		Callback: Callback{
			Port:         auth.DefaultPort,
			RedirectPath: auth.DefaultRedirectPath,
		},
		Session: Session{
			KeySource: KeySourceHost,
		},
		Settings: Settings{
			OutputFormat: "table",
		},
	}
}

// Load reads path on top of DefaultConfig.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

// ApplyEnv overrides provider and callback settings from OIDC_SESSION_*
// variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("OIDC_SESSION_ISSUER"); v != "" {
		c.Provider.Issuer = v
	}
	if v := getenv("OIDC_SESSION_CLIENT_ID"); v != "" {
		c.Provider.ClientID = v
	}
	if v := getenv("OIDC_SESSION_CLIENT_SECRET"); v != "" {
		c.Provider.ClientSecret = v
	}
	if v := getenv("OIDC_SESSION_SCOPE"); v != "" {
		c.Provider.Scope = v
	}
	if v := getenv("OIDC_SESSION_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid OIDC_SESSION_PORT: %w", err)
		}
		c.Callback.Port = port
	}
	if v := getenv("OIDC_SESSION_KEY_SOURCE"); v != "" {
		c.Session.KeySource = v
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Provider.Issuer == "" {
		errs = append(errs, errors.New("provider.issuer is required"))
	}
	if c.Provider.ClientID == "" {
		errs = append(errs, errors.New("provider.client-id is required"))
	}
	if c.Callback.Port < 0 || c.Callback.Port > 65535 {
		errs = append(errs, fmt.Errorf("callback.port out of range: %d", c.Callback.Port))
	}
	switch c.Session.KeySource {
	case "", KeySourceHost, KeySourceKeychain:
	default:
		errs = append(errs, fmt.Errorf("unknown session.key-source: %s", c.Session.KeySource))
	}
	return errors.Join(errs...)
}

// ClientConfiguration resolves the client secret and returns the values the
// auth package consumes.
func (c *Config) ClientConfiguration() (auth.ClientConfiguration, error) {
	if err := c.Validate(); err != nil {
		return auth.ClientConfiguration{}, err
	}
	secret, err := ResolveClientSecret(c.Provider.ClientSecret, c.Provider.ClientSecretEnv, c.Provider.ClientSecretFile)
	if err != nil {
		return auth.ClientConfiguration{}, err
	}
	return auth.ClientConfiguration{
		ClientID:      c.Provider.ClientID,
		ClientSecret:  secret,
		IssuerBaseURL: c.Provider.Issuer,
		Port:          c.Callback.Port,
		Scope:         c.Provider.Scope,
		RedirectPath:  c.Callback.RedirectPath,
	}, nil
}

// SessionPath returns the configured session file or the default location.
func (c *Config) SessionPath() string {
	if c.Session.File != "" {
		return c.Session.File
	}
	return DefaultSessionPath()
}

func ResolveClientSecret(secret, secretEnv, secretFile string) (string, error) {
	if secret != "" {
		return secret, nil
	}
	if secretEnv != "" {
		value := strings.TrimSpace(os.Getenv(secretEnv))
		if value == "" {
			return "", fmt.Errorf("client secret env var not set: %s", secretEnv)
		}
		return value, nil
	}
	if secretFile != "" {
		bytes, err := os.ReadFile(secretFile)
		if err != nil {
			return "", fmt.Errorf("failed to read client secret file: %w", err)
		}
		return strings.TrimSpace(string(bytes)), nil
	}
	return "", nil
}
