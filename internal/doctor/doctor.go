// Package doctor checks a jsoon-bridge configuration against the machine it
// runs on: worker presence, writable scratch and history locations, and
// API exposure.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tom-gora/jsoon-bridge/internal/config"
	"github.com/tom-gora/jsoon-bridge/internal/storage"
)

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config

	// checkLocalFS is swapped in tests.
	checkLocalFS func(path string) error
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, checkLocalFS: storage.CheckLocalFilesystem}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateWorker(r)
	d.validateScratch(r)
	d.validateHistory(r)
	d.validateAPI(r)
	d.warnUnresolvedEnvVars(r)
	d.warnTimeouts(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateWorker checks that the jsoon executable and its root exist.
func (d *Doctor) validateWorker(r *Result) {
	root := d.cfg.Worker.Root
	if info, err := os.Stat(root); err != nil {
		d.addError(r, "worker", "worker.root", fmt.Sprintf("worker root %s is not accessible: %v", root, err))
	} else if !info.IsDir() {
		d.addError(r, "worker", "worker.root", fmt.Sprintf("worker root %s is not a directory", root))
	}

	path := d.cfg.Worker.Path
	info, err := os.Stat(path)
	if err != nil {
		d.addError(r, "worker", "worker.path", fmt.Sprintf("worker binary not found at %s", path))
		return
	}
	if info.IsDir() {
		d.addError(r, "worker", "worker.path", fmt.Sprintf("worker path %s is a directory", path))
		return
	}
	if info.Mode().Perm()&0o111 == 0 {
		d.addError(r, "worker", "worker.path", fmt.Sprintf("worker binary %s is not executable", path))
	}
}

// validateScratch checks that config artifacts can be created.
func (d *Doctor) validateScratch(r *Result) {
	dir := d.cfg.Scratch.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := probeWritable(dir); err != nil {
		d.addError(r, "scratch", "scratch.dir", fmt.Sprintf("scratch directory %s is not writable: %v", dir, err))
		return
	}
	d.checkFilesystem(r, "scratch", "scratch.dir", dir, false)
}

// validateHistory checks the SQLite location when history is enabled.
func (d *Doctor) validateHistory(r *Result) {
	if !d.cfg.History.Enabled {
		return
	}
	dir := filepath.Dir(d.cfg.History.Path)
	if err := probeWritable(dir); err != nil {
		d.addError(r, "history", "history.path", fmt.Sprintf("history directory %s is not writable: %v", dir, err))
		return
	}
	d.checkFilesystem(r, "history", "history.path", d.cfg.History.Path, true)

	if d.cfg.History.Retention == 0 {
		d.addWarning(r, "history", "history.retention", "retention is 0; invocation history is never pruned")
	}
}

// validateAPI checks the listen address and flags unauthenticated exposure.
func (d *Doctor) validateAPI(r *Result) {
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if d.cfg.API.APIKey == "" && !isLoopback(host) {
		d.addWarning(r, "api", "api.api_key",
			fmt.Sprintf("API listens on %s without authentication; set api.api_key", d.cfg.API.Listen))
	}
	if d.cfg.API.Verbose {
		d.addWarning(r, "api", "api.verbose", "verbose responses are enabled")
	}
}

// warnUnresolvedEnvVars flags ${VAR} placeholders that survived interpolation.
func (d *Doctor) warnUnresolvedEnvVars(r *Result) {
	fields := map[string]string{
		"worker.path":  d.cfg.Worker.Path,
		"worker.root":  d.cfg.Worker.Root,
		"scratch.dir":  d.cfg.Scratch.Dir,
		"history.path": d.cfg.History.Path,
		"api.listen":   d.cfg.API.Listen,
	}
	for _, field := range []string{"worker.path", "worker.root", "scratch.dir", "history.path", "api.listen"} {
		for _, m := range envVarRe.FindAllStringSubmatch(fields[field], -1) {
			d.addWarning(r, "env", field, fmt.Sprintf("environment variable ${%s} is not set", m[1]))
		}
	}
}

func (d *Doctor) warnTimeouts(r *Result) {
	w := d.cfg.Worker
	if w.Timeout == 0 {
		d.addWarning(r, "worker", "worker.timeout", "timeout is 0; a hung worker will hold its request forever")
		return
	}
	if w.TerminationGrace > w.Timeout {
		d.addWarning(r, "worker", "worker.termination_grace",
			fmt.Sprintf("termination_grace (%v) exceeds timeout (%v)", w.TerminationGrace, w.Timeout))
	}
}

// checkFilesystem reports network filesystems. Unknown platforms are skipped.
func (d *Doctor) checkFilesystem(r *Result, category, field, path string, fatal bool) {
	err := d.checkLocalFS(path)
	if err == nil || errors.Is(err, storage.ErrFilesystemUnknown) {
		return
	}
	if fatal {
		d.addError(r, category, field, err.Error())
		return
	}
	d.addWarning(r, category, field, err.Error())
}

// probeWritable creates dir if needed and writes a throwaway file into it.
func probeWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".jsoon-bridge-doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, is Issue) {
	if is.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, is.Category, is.Field, is.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, is.Category, is.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
