//go:build darwin

package config

import (
	"os"
	"path/filepath"
)

func appSupportDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Library", "Application Support")
	}
	return "."
}

func defaultDataDir() string {
	return filepath.Join(appSupportDir(), "chatty")
}

func configDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	return appSupportDir()
}

func apiKeyHint(account string) string {
	return " or macOS Keychain (service: chatty, account: " + account + ")"
}
