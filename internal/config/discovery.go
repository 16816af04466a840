package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DiscoverConfigDir finds the configuration by checking, in order:
// $HOOKD_CONFIG_DIR, ~/.config/hookd, /etc/hookd, ./config.yaml.
func DiscoverConfigDir() (string, error) {
	if dir := os.Getenv("HOOKD_CONFIG_DIR"); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "hookd")
		if fileExists(filepath.Join(userConfigDir, "config.yaml")) {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/hookd"
	if fileExists(filepath.Join(systemConfigDir, "config.yaml")) {
		return systemConfigDir, nil
	}

	if fileExists("./config.yaml") {
		return "./config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $HOOKD_CONFIG_DIR, ~/.config/hookd, /etc/hookd, ./config.yaml)")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
