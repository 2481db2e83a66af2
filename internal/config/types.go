package config

import "time"

// Config represents the complete jsoon-bridge configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Worker  WorkerConfig  `yaml:"worker"`
	Scratch ScratchConfig `yaml:"scratch"`
	API     APIConfig     `yaml:"api"`
	History HistoryConfig `yaml:"history"`

	// SourcePath is the file the configuration was loaded from. Empty when
	// running on defaults.
	SourcePath string `yaml:"-"`

	sourceHash string
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// WorkerConfig locates the jsoon executable and bounds each run.
type WorkerConfig struct {
	// Path is the worker executable. Defaults to <root>/bin/jsoon.
	Path string `yaml:"path"`
	// Root is the worker's working directory. Defaults to the current directory.
	Root string `yaml:"root"`
	// Timeout bounds a single run; 0 disables the deadline.
	Timeout          time.Duration `yaml:"timeout"`
	TerminationGrace time.Duration `yaml:"termination_grace"`
}

// ScratchConfig defines where config artifacts are written.
type ScratchConfig struct {
	// Dir defaults to the OS temp directory.
	Dir string `yaml:"dir"`
	// SweepAfter is the age past which an artifact counts as orphaned.
	SweepAfter time.Duration `yaml:"sweep_after"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen        string `yaml:"listen"`
	APIKey        string `yaml:"api_key"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes"`
	// Verbose adds "verbose": true to invocation responses.
	Verbose bool `yaml:"verbose"`
	// RateLimit is invocation requests per second; 0 means unlimited.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// HistoryConfig defines invocation history storage.
type HistoryConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// Defaults returns a Config with sensible defaults. A loaded file is
// decoded on top of these, so keys absent from the file keep them.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "jsoon-bridge",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Worker: WorkerConfig{
			Timeout:          60 * time.Second,
			TerminationGrace: 5 * time.Second,
		},
		Scratch: ScratchConfig{
			SweepAfter: time.Hour,
		},
		API: APIConfig{
			Listen:        "127.0.0.1:8080",
			MaxConcurrent: 8,
			MaxBodyBytes:  2 << 20,
		},
		History: HistoryConfig{
			Enabled:   true,
			Path:      "./data/history.db",
			Retention: 30 * 24 * time.Hour,
		},
	}
}

// Fingerprint returns the blake3 digest of the loaded file, or "" when the
// configuration came from defaults only.
func (c *Config) Fingerprint() string {
	return c.sourceHash
}
