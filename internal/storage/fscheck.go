package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// ErrFilesystemUnknown is returned when the platform cannot report a
// filesystem type.
var ErrFilesystemUnknown = errors.New("filesystem detection is unsupported on this platform")

// CheckLocalFilesystem reports an error when path, or its nearest existing
// parent, lives on a network filesystem. Both the history database and the
// scratch directory rely on local locking and exclusive-create semantics.
func CheckLocalFilesystem(path string) error {
	return checkLocalFilesystemWithDetector(path, filesystemType)
}

func checkLocalFilesystemWithDetector(path string, detector func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve path %q: %w", path, err)
	}

	fsType, err := detector(inspectPath)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf(
			"%q is on network filesystem %q; history.path and scratch.dir need a local filesystem for reliable locking and exclusive file creation",
			path,
			fsType,
		)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.TrimSpace(strings.ToLower(fsType))]
	return found
}
