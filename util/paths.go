package util

import (
	"fmt"
	"os"
	"path/filepath"
)

const AppConfigDir = ".config/moa"

// GetConfigDir returns ~/.config/moa, creating it on first use.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, AppConfigDir)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// ResolveFilePath looks for filename in the working directory first,
// then under the config directory. When the file exists in neither
// place it returns the config-directory path, where the caller is
// expected to create it.
func ResolveFilePath(filename string) string {
	if _, err := os.Stat(filename); err == nil {
		return filename
	}

	configDir, err := GetConfigDir()
	if err != nil {
		return filename
	}

	return filepath.Join(configDir, filename)
}
