//go:build !darwin

package config

import (
	"os"
	"path/filepath"
)

func dataHome() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share")
	}
	return "."
}

func defaultDataDir() string {
	return filepath.Join(dataHome(), "chatty")
}

func configDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config")
	}
	return "."
}

func apiKeyHint(account string) string {
	return " or " + secretsFilePath() + " (chatty." + account + ")"
}
