package scratch

import (
	"context"
	"time"
)

// Artifact describes one ephemeral worker config file in the scratch
// directory. An artifact belongs to exactly one invocation.
type Artifact struct {
	ID          string
	Path        string
	Fingerprint string // blake3:<hex> of the payload
	Size        int
}

// SweepReport summarizes a sweep run.
type SweepReport struct {
	DeletedFiles int
}

// Manager governs the lifecycle of config artifacts handed to the worker.
type Manager interface {
	// Write stores payload under a fresh, collision-free name.
	Write(ctx context.Context, payload []byte) (Artifact, error)

	// Remove deletes the artifact. Removing an already absent artifact is not an error.
	Remove(a Artifact) error

	// Sweep removes orphaned artifacts older than olderThan.
	Sweep(ctx context.Context, olderThan time.Duration) (SweepReport, error)

	// Dir returns the scratch directory.
	Dir() string
}
