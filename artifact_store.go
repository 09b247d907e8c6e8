package saferun

import (
	"context"
)

// ArtifactStore is the abstract collaborator that persists immutable,
// content-addressed snapshot payloads. Implementations must be safe for
// concurrent use from multiple workflows.
type ArtifactStore interface {
	// CreateArtifact persists content and returns a stable URI for it.
	// Storing the same content twice must succeed and may return the same URI.
	CreateArtifact(ctx context.Context, content []byte, metadata map[string]string) (string, error)

	// GetArtifact retrieves previously stored content by URI.
	GetArtifact(ctx context.Context, uri string) ([]byte, error)
}
