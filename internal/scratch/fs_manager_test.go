package scratch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFSManagerWriteAndRemove(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scratch")
	mgr, err := NewFSManager(dir)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	payload := []byte(`{"upcoming_days":7}`)
	a, err := mgr.Write(context.Background(), payload)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if filepath.Dir(a.Path) != dir {
		t.Fatalf("artifact dir = %q, want %q", filepath.Dir(a.Path), dir)
	}
	if !strings.HasPrefix(filepath.Base(a.Path), "jsoon-config-") || !strings.HasSuffix(a.Path, ".json") {
		t.Fatalf("unexpected artifact name %q", a.Path)
	}
	if a.Size != len(payload) {
		t.Fatalf("Size = %d, want %d", a.Size, len(payload))
	}
	if a.Fingerprint != Fingerprint(payload) {
		t.Fatalf("Fingerprint = %q, want %q", a.Fingerprint, Fingerprint(payload))
	}

	got, err := os.ReadFile(a.Path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("artifact content = %q, want %q", got, payload)
	}

	info, err := os.Stat(a.Path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("artifact mode = %v, want 0600", info.Mode().Perm())
	}

	if err := mgr.Remove(a); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(a.Path); !os.IsNotExist(err) {
		t.Fatalf("artifact still present after Remove()")
	}

	// Idempotent.
	if err := mgr.Remove(a); err != nil {
		t.Fatalf("second Remove() error = %v", err)
	}
}

func TestFSManagerWriteUnwritableDir(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	mgr, err := NewFSManager(filepath.Join(blocker, "scratch"))
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	if _, err := mgr.Write(context.Background(), []byte("{}")); err == nil {
		t.Fatal("Write() expected error for unwritable scratch dir")
	}
}

func TestFSManagerWriteRejectsCollision(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	mgr.newID = func() string { return "fixed" }

	if _, err := mgr.Write(context.Background(), []byte("{}")); err != nil {
		t.Fatalf("first Write() error = %v", err)
	}
	if _, err := mgr.Write(context.Background(), []byte("{}")); err == nil {
		t.Fatal("second Write() with same name should fail")
	}
}

func TestFSManagerConcurrentWritesAreDistinct(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	const n = 32
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		paths = make(map[string]struct{}, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := mgr.Write(context.Background(), []byte(fmt.Sprintf(`{"n":%d}`, i)))
			if err != nil {
				t.Errorf("Write() error = %v", err)
				return
			}
			mu.Lock()
			paths[a.Path] = struct{}{}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(paths) != n {
		t.Fatalf("distinct artifacts = %d, want %d", len(paths), n)
	}
}

func TestFSManagerSweep(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewFSManager(dir)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	stale, err := mgr.Write(context.Background(), []byte("{}"))
	if err != nil {
		t.Fatalf("Write(stale) error = %v", err)
	}
	fresh, err := mgr.Write(context.Background(), []byte("{}"))
	if err != nil {
		t.Fatalf("Write(fresh) error = %v", err)
	}
	unrelated := filepath.Join(dir, "keep-me.json")
	if err := os.WriteFile(unrelated, []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile(unrelated) error = %v", err)
	}

	old := time.Now().Add(-2 * time.Hour)
	for _, p := range []string{stale.Path, unrelated} {
		if err := os.Chtimes(p, old, old); err != nil {
			t.Fatalf("Chtimes(%s) error = %v", p, err)
		}
	}

	report, err := mgr.Sweep(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.DeletedFiles != 1 {
		t.Fatalf("DeletedFiles = %d, want 1", report.DeletedFiles)
	}
	if _, err := os.Stat(stale.Path); !os.IsNotExist(err) {
		t.Fatalf("stale artifact still present")
	}
	if _, err := os.Stat(fresh.Path); err != nil {
		t.Fatalf("fresh artifact removed: %v", err)
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Fatalf("unrelated file removed: %v", err)
	}
}

func TestFSManagerSweepRejectsNonPositive(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	if _, err := mgr.Sweep(context.Background(), 0); err == nil {
		t.Fatal("Sweep(0) expected error")
	}
}

func TestFSManagerSweepMissingDir(t *testing.T) {
	mgr, err := NewFSManager(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	report, err := mgr.Sweep(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.DeletedFiles != 0 {
		t.Fatalf("DeletedFiles = %d, want 0", report.DeletedFiles)
	}
}

func TestNewFSManagerDefaultsToTempDir(t *testing.T) {
	mgr, err := NewFSManager("  ")
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	want, _ := filepath.Abs(os.TempDir())
	if mgr.Dir() != filepath.Clean(want) {
		t.Fatalf("Dir() = %q, want %q", mgr.Dir(), want)
	}
}
