package doctor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tom-gora/jsoon-bridge/internal/config"
	"github.com/tom-gora/jsoon-bridge/internal/storage"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	bin := filepath.Join(root, "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatal(err)
	}
	worker := filepath.Join(bin, "jsoon")
	if err := os.WriteFile(worker, []byte("#!/bin/sh\necho '[]'\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := config.Defaults()
	cfg.Worker.Root = root
	cfg.Worker.Path = worker
	cfg.Scratch.Dir = filepath.Join(root, "scratch")
	cfg.History.Path = filepath.Join(root, "data", "history.db")
	return cfg
}

func newTestDoctor(cfg *config.Config) *Doctor {
	d := New(cfg)
	d.checkLocalFS = func(string) error { return nil }
	return d
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := newTestDoctor(validConfig(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_WorkerMissing(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Worker.Path = filepath.Join(cfg.Worker.Root, "bin", "nope")
	r := newTestDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "worker", "not found")
}

func TestValidate_WorkerIsDirectory(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Worker.Path = filepath.Join(cfg.Worker.Root, "bin")
	r := newTestDoctor(cfg).Validate()
	assertHasError(t, r, "worker", "is a directory")
}

func TestValidate_WorkerNotExecutable(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	if err := os.Chmod(cfg.Worker.Path, 0o644); err != nil {
		t.Fatal(err)
	}
	r := newTestDoctor(cfg).Validate()
	assertHasError(t, r, "worker", "not executable")
}

func TestValidate_WorkerRootNotDirectory(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Worker.Root = cfg.Worker.Path
	r := newTestDoctor(cfg).Validate()
	assertHasError(t, r, "worker", "not a directory")
}

func TestValidate_ScratchNotWritable(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	// A regular file in the parent chain makes MkdirAll fail, even as root.
	cfg.Scratch.Dir = filepath.Join(cfg.Worker.Path, "scratch")
	r := newTestDoctor(cfg).Validate()
	assertHasError(t, r, "scratch", "not writable")
}

func TestValidate_ScratchCreated(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	r := newTestDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if info, err := os.Stat(cfg.Scratch.Dir); err != nil || !info.IsDir() {
		t.Fatalf("expected scratch dir to be created, err=%v", err)
	}
	entries, err := os.ReadDir(cfg.Scratch.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected probe file to be removed, found %d entries", len(entries))
	}
}

func TestValidate_HistoryNotWritable(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.History.Path = filepath.Join(cfg.Worker.Path, "data", "history.db")
	r := newTestDoctor(cfg).Validate()
	assertHasError(t, r, "history", "not writable")
}

func TestValidate_HistoryDisabledSkipsChecks(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.History.Enabled = false
	cfg.History.Path = filepath.Join(cfg.Worker.Path, "data", "history.db")
	r := newTestDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
}

func TestValidate_WarnZeroRetention(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.History.Retention = 0
	r := newTestDoctor(cfg).Validate()
	assertHasWarning(t, r, "history", "never pruned")
}

func TestValidate_NetworkFilesystem(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	d := New(cfg)
	d.checkLocalFS = func(path string) error {
		return errors.New(path + " is on nfs")
	}
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "history", "nfs")
	assertHasWarning(t, r, "scratch", "nfs")
}

func TestValidate_UnknownFilesystemIgnored(t *testing.T) {
	t.Parallel()
	d := New(validConfig(t))
	d.checkLocalFS = func(string) error { return storage.ErrFilesystemUnknown }
	r := d.Validate()
	if !r.Valid || len(r.Warnings) != 0 {
		t.Fatalf("expected clean result, got errors=%v warnings=%v", r.Errors, r.Warnings)
	}
}

func TestValidate_InvalidListen(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Listen = "no-port"
	r := newTestDoctor(cfg).Validate()
	assertHasError(t, r, "api", "invalid listen address")
}

func TestValidate_APIExposure(t *testing.T) {
	t.Parallel()
	tests := []struct {
		listen string
		key    string
		warn   bool
	}{
		{"127.0.0.1:8080", "", false},
		{"localhost:8080", "", false},
		{"[::1]:8080", "", false},
		{"0.0.0.0:8080", "", true},
		{":8080", "", true},
		{"0.0.0.0:8080", "secret", false},
	}
	for _, tt := range tests {
		cfg := validConfig(t)
		cfg.API.Listen = tt.listen
		cfg.API.APIKey = tt.key
		r := newTestDoctor(cfg).Validate()
		got := hasIssue(r.Warnings, "api", "without authentication")
		if got != tt.warn {
			t.Errorf("listen=%q key=%q: warning=%v, want %v (%v)", tt.listen, tt.key, got, tt.warn, r.Warnings)
		}
	}
}

func TestValidate_WarnVerbose(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Verbose = true
	r := newTestDoctor(cfg).Validate()
	assertHasWarning(t, r, "api", "verbose")
}

func TestValidate_WarnUnresolvedEnvVar(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Scratch.Dir = filepath.Join(cfg.Worker.Root, "${JSOON_SCRATCH_UNSET}")
	r := newTestDoctor(cfg).Validate()
	assertHasWarning(t, r, "env", "JSOON_SCRATCH_UNSET")
}

func TestValidate_WarnTimeouts(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Worker.Timeout = 0
	r := newTestDoctor(cfg).Validate()
	assertHasWarning(t, r, "worker", "timeout is 0")

	cfg = validConfig(t)
	cfg.Worker.Timeout = time.Second
	cfg.Worker.TerminationGrace = 10 * time.Second
	r = newTestDoctor(cfg).Validate()
	assertHasWarning(t, r, "worker", "exceeds timeout")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") || !strings.Contains(out, `"valid": false`) {
		t.Fatalf("unexpected JSON: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	out := FormatHuman(&Result{Valid: true})
	if out != "Configuration valid.\n" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "worker", Field: "worker.path", Message: "broken"}},
		Warnings: []Issue{{Category: "api", Message: "exposed"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "Configuration invalid (1 error(s), 1 warning(s))") {
		t.Fatalf("missing summary line: %s", out)
	}
	if !strings.Contains(out, "  ERROR [worker] worker.path: broken\n") {
		t.Fatalf("missing error line: %s", out)
	}
	if !strings.Contains(out, "  WARN  [api] exposed\n") {
		t.Fatalf("missing warning line: %s", out)
	}
}

// --- helpers ---

func hasIssue(issues []Issue, category, substring string) bool {
	for _, is := range issues {
		if is.Category == category && strings.Contains(is.Message, substring) {
			return true
		}
	}
	return false
}

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	if !hasIssue(r.Errors, category, substring) {
		t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
	}
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	if !hasIssue(r.Warnings, category, substring) {
		t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
	}
}
