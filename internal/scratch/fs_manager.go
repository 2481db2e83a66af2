package scratch

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

const (
	artifactPrefix = "jsoon-config-"
	artifactSuffix = ".json"
)

// fsManager keeps config artifacts as flat files in a shared scratch directory.
type fsManager struct {
	dir   string
	now   func() time.Time
	newID func() string
}

var _ Manager = (*fsManager)(nil)

// NewFSManager creates a filesystem-backed artifact manager rooted at dir.
// An empty dir falls back to os.TempDir().
func NewFSManager(dir string) (*fsManager, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		trimmed = os.TempDir()
	}

	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve scratch directory %q: %w", dir, err)
	}

	return &fsManager{
		dir:   filepath.Clean(abs),
		now:   time.Now,
		newID: uuid.NewString,
	}, nil
}

// Dir returns the scratch directory.
func (m *fsManager) Dir() string {
	return m.dir
}

// Write creates a new artifact holding payload. The file is created with
// O_EXCL so two invocations can never share a path.
func (m *fsManager) Write(ctx context.Context, payload []byte) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create scratch directory: %w", err)
	}

	id := m.newID()
	path := filepath.Join(m.dir, artifactPrefix+id+artifactSuffix)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return Artifact{}, fmt.Errorf("create artifact %q: %w", path, err)
	}

	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return Artifact{}, fmt.Errorf("write artifact %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return Artifact{}, fmt.Errorf("close artifact %q: %w", path, err)
	}

	return Artifact{
		ID:          id,
		Path:        path,
		Fingerprint: Fingerprint(payload),
		Size:        len(payload),
	}, nil
}

// Remove deletes the artifact file. A missing file is treated as success.
func (m *fsManager) Remove(a Artifact) error {
	if a.Path == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove artifact %q: %w", a.Path, err)
	}
	return nil
}

// Sweep removes artifact files whose modification time is older than
// olderThan. Only files matching the artifact naming scheme are touched, so
// a shared directory such as /tmp is safe to sweep.
func (m *fsManager) Sweep(ctx context.Context, olderThan time.Duration) (SweepReport, error) {
	if err := ctx.Err(); err != nil {
		return SweepReport{}, err
	}
	if olderThan <= 0 {
		return SweepReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return SweepReport{}, nil
	}
	if err != nil {
		return SweepReport{}, fmt.Errorf("read scratch directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := SweepReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !isArtifactName(entry.Name()) || !entry.Type().IsRegular() {
			continue
		}

		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			// Removed by its owning invocation meanwhile.
			continue
		}
		if err != nil {
			return report, fmt.Errorf("read artifact info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return report, fmt.Errorf("remove artifact %q: %w", entry.Name(), err)
		}
		report.DeletedFiles++
	}

	return report, nil
}

// Fingerprint returns the blake3 digest of payload in "blake3:<hex>" form.
func Fingerprint(payload []byte) string {
	sum := blake3.Sum256(payload)
	return "blake3:" + hex.EncodeToString(sum[:])
}

func isArtifactName(name string) bool {
	return strings.HasPrefix(name, artifactPrefix) && strings.HasSuffix(name, artifactSuffix)
}
