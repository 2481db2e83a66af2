package config

import (
	"path/filepath"
	"testing"
)

func TestComputeBlake3Hash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeTestFile(t, path, "service:\n  name: test\n")

	first, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatalf("ComputeBlake3Hash() failed: %v", err)
	}
	second, _ := ComputeBlake3Hash(path)
	if first != second {
		t.Fatal("hash should be stable")
	}
	if first != hashBytes([]byte("service:\n  name: test\n")) {
		t.Fatal("file hash should match the content hash")
	}

	if _, err := ComputeBlake3Hash(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
