// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// ModelStore persists opaque model artifacts by name.
// Saving an existing name adds a new version; Load returns the latest one.
type ModelStore interface {
	// Save stores an artifact and returns the version assigned to it.
	Save(ctx context.Context, name string, artifact []byte) (int64, error)

	// Load returns the latest artifact stored under name.
	Load(ctx context.Context, name string) ([]byte, error)

	// List returns the latest version of every stored artifact.
	List(ctx context.Context) ([]ArtifactInfo, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ArtifactInfo describes a stored artifact.
type ArtifactInfo struct {
	Name      string    `json:"name"`
	Version   int64     `json:"version"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}
