package config

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrNoConfig is returned by Discover when no config file exists in any of
// the standard locations.
var ErrNoConfig = errors.New("no config found (checked: $" + EnvConfig +
	", ~/.config/jsoon-bridge/config.yaml, /etc/jsoon-bridge/config.yaml, ./config.yaml)")

// Discover finds the config file by checking standard locations.
// Priority order: $JSOON_BRIDGE_CONFIG, ~/.config/jsoon-bridge, /etc/jsoon-bridge, ./config.yaml.
func Discover() (string, error) {
	for _, candidate := range candidatePaths() {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", ErrNoConfig
}

func candidatePaths() []string {
	var paths []string

	if p := os.Getenv(EnvConfig); p != "" {
		if dirExists(p) {
			p = filepath.Join(p, "config.yaml")
		}
		paths = append(paths, p)
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "jsoon-bridge", "config.yaml"))
	}
	paths = append(paths,
		filepath.Join("/etc", "jsoon-bridge", "config.yaml"),
		"config.yaml",
	)
	return paths
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
