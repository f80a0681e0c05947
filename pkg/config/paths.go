package config

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigDirName = "oidc-session"
	defaultConfigFile    = "config.yaml"
	defaultSessionFile   = "session.json"
)

func DefaultConfigPath() string {
	if env := os.Getenv("OIDC_SESSION_CONFIG"); env != "" {
		return env
	}
	return filepath.Join(configDir(), defaultConfigFile)
}

func DefaultSessionPath() string {
	if env := os.Getenv("OIDC_SESSION_FILE"); env != "" {
		return env
	}
	return filepath.Join(configDir(), defaultSessionFile)
}

func configDir() string {
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+defaultConfigDirName)
}
