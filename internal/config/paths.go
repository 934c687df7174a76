package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// appDirName is the per-user directory that holds all locally persisted
// state (session blob, fallback store mirror, logs).
const appDirName = "CourseSmithAI"

// DefaultDataDir returns the per-user application data directory,
// creating nothing. Resolution follows the platform convention exposed
// by os.UserConfigDir (APPDATA on Windows, ~/.config on Linux,
// ~/Library/Application Support on macOS) with a home-directory
// fallback for stripped-down environments.
func DefaultDataDir() (string, error) {
	if base, err := os.UserConfigDir(); err == nil && base != "" {
		return filepath.Join(base, appDirName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user data directory: %w", err)
	}
	return filepath.Join(home, "."+appDirName), nil
}

// SessionPath returns the absolute path of the encrypted session blob.
func (c *Config) SessionPath() string {
	if filepath.IsAbs(c.Paths.SessionFile) {
		return c.Paths.SessionFile
	}
	return filepath.Join(c.Paths.DataDir, c.Paths.SessionFile)
}

// FallbackStorePath returns the absolute path of the local store mirror.
func (c *Config) FallbackStorePath() string {
	if filepath.IsAbs(c.Store.FallbackFile) {
		return c.Store.FallbackFile
	}
	return filepath.Join(c.Paths.DataDir, c.Store.FallbackFile)
}

// LogsDir returns the resolved logs directory path.
func (c *Config) LogsDir() string {
	if filepath.IsAbs(c.Paths.LogsDir) {
		return c.Paths.LogsDir
	}
	return filepath.Join(c.Paths.DataDir, c.Paths.LogsDir)
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
