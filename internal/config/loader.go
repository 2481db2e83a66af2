package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Environment variables honoured on top of the file.
const (
	EnvConfig      = "JSOON_BRIDGE_CONFIG"
	EnvProjectRoot = "PROJECT_ROOT"
	EnvWorkerBin   = "JSOON_BIN"
	EnvVerbose     = "JSOON_WEB_VERBOSE"
)

// Load reads and parses configuration from a file. A directory is accepted
// when it contains config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	cfg.sourceHash = hashBytes(data)

	if err := finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefaults returns Defaults() with environment overrides applied.
func LoadDefaults() (*Config, error) {
	cfg := Defaults()
	if err := finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve loads the file at explicitPath, or the discovered one when
// explicitPath is empty, or falls back to defaults when nothing is found.
func Resolve(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return Load(explicitPath)
	}
	path, err := Discover()
	if errors.Is(err, ErrNoConfig) {
		return LoadDefaults()
	}
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// parse decodes YAML on top of Defaults() after ${VAR} interpolation.
func parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolated)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

func finalize(cfg *Config) error {
	applyEnvOverrides(cfg)
	if err := resolvePaths(cfg); err != nil {
		return err
	}
	if err := validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv(EnvProjectRoot); ok && strings.TrimSpace(v) != "" {
		cfg.Worker.Root = v
	}
	if v, ok := os.LookupEnv(EnvWorkerBin); ok && strings.TrimSpace(v) != "" {
		cfg.Worker.Path = v
	}
	if v, ok := os.LookupEnv(EnvVerbose); ok {
		cfg.API.Verbose = v == "true"
	}
}

// resolvePaths anchors the worker root and executable. A relative worker
// path is taken relative to the root.
func resolvePaths(cfg *Config) error {
	root := strings.TrimSpace(cfg.Worker.Root)
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to determine working directory: %w", err)
		}
		root = wd
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve worker.root %q: %w", root, err)
	}
	cfg.Worker.Root = absRoot

	path := strings.TrimSpace(cfg.Worker.Path)
	switch {
	case path == "":
		path = filepath.Join(absRoot, "bin", "jsoon")
	case !filepath.IsAbs(path):
		path = filepath.Join(absRoot, path)
	}
	cfg.Worker.Path = filepath.Clean(path)
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Worker.Timeout < 0 {
		return fmt.Errorf("worker.timeout must not be negative")
	}
	if cfg.Worker.TerminationGrace < 0 {
		return fmt.Errorf("worker.termination_grace must not be negative")
	}
	if cfg.Scratch.SweepAfter < 0 {
		return fmt.Errorf("scratch.sweep_after must not be negative")
	}

	if cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required")
	}
	if cfg.API.MaxConcurrent < 1 {
		return fmt.Errorf("api.max_concurrent must be at least 1 (got %d)", cfg.API.MaxConcurrent)
	}
	if cfg.API.MaxBodyBytes <= 0 {
		return fmt.Errorf("api.max_body_bytes must be positive (got %d)", cfg.API.MaxBodyBytes)
	}
	if cfg.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit must not be negative")
	}
	if cfg.API.RateBurst < 0 {
		return fmt.Errorf("api.rate_burst must not be negative")
	}
	if matches := envVarPattern.FindStringSubmatch(cfg.API.APIKey); len(matches) > 1 {
		return fmt.Errorf("api.api_key: environment variable ${%s} is not set", matches[1])
	}

	if cfg.History.Enabled && strings.TrimSpace(cfg.History.Path) == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	if cfg.History.Retention < 0 {
		return fmt.Errorf("history.retention must not be negative")
	}
	return nil
}
