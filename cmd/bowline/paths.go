package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/bowline/pkg/history"
)

const (
	envDBPath  = "BOWLINE_DB_PATH"
	envDataDir = "BOWLINE_DATA_DIR"
	envLogDir  = "BOWLINE_LOG_DIR"
)

// resolveHistoryDBPath picks the run-history database location. An explicit
// BOWLINE_DB_PATH wins, then BOWLINE_DATA_DIR, then ~/.bowline.
func resolveHistoryDBPath() (string, error) {
	if p := os.Getenv(envDBPath); p != "" {
		return expandHomePath(p)
	}
	if dir := os.Getenv(envDataDir); dir != "" {
		expanded, err := expandHomePath(dir)
		if err != nil {
			return "", err
		}
		return filepath.Join(expanded, history.DefaultFile), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".bowline", history.DefaultFile), nil
}

// resolveLogDir picks where run logs land. An explicit BOWLINE_LOG_DIR
// wins, then BOWLINE_DATA_DIR, then ~/.bowline/logs.
func resolveLogDir() (string, error) {
	if dir := os.Getenv(envLogDir); dir != "" {
		return expandHomePath(dir)
	}
	if dir := os.Getenv(envDataDir); dir != "" {
		expanded, err := expandHomePath(dir)
		if err != nil {
			return "", err
		}
		return filepath.Join(expanded, "logs"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".bowline", "logs"), nil
}

// expandHomePath resolves a leading ~ against the current user's home
// directory. Paths without the prefix pass through unchanged.
func expandHomePath(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if p == "~" {
		return home, nil
	}
	return filepath.Join(home, p[2:]), nil
}
