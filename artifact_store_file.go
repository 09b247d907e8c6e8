package saferun

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const fileURIScheme = "artifact://file/"

// FileArtifactStore is a file-based implementation that persists artifacts
// to disk under content-hash names.
type FileArtifactStore struct {
	dataDir string
}

// NewFileArtifactStore creates a new file-based artifact store.
func NewFileArtifactStore(dataDir string) (*FileArtifactStore, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".saferun", "artifacts")
	}

	// Ensure the data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	return &FileArtifactStore{dataDir: dataDir}, nil
}

// CreateArtifact writes the content to disk keyed by its hash. Writing the
// same content twice is a no-op that returns the same URI.
func (s *FileArtifactStore) CreateArtifact(ctx context.Context, content []byte, metadata map[string]string) (string, error) {
	sum := sha256.Sum256(content)
	key := hex.EncodeToString(sum[:])

	contentPath := filepath.Join(s.dataDir, key+".json")
	if err := os.WriteFile(contentPath, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write artifact file: %w", err)
	}

	if len(metadata) > 0 {
		metaData, err := json.MarshalIndent(metadata, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal artifact metadata: %w", err)
		}
		metaPath := filepath.Join(s.dataDir, key+".meta.json")
		if err := os.WriteFile(metaPath, metaData, 0644); err != nil {
			return "", fmt.Errorf("failed to write artifact metadata: %w", err)
		}
	}

	return fileURIScheme + key, nil
}

// GetArtifact reads previously stored content by URI.
func (s *FileArtifactStore) GetArtifact(ctx context.Context, uri string) ([]byte, error) {
	key, ok := strings.CutPrefix(uri, fileURIScheme)
	if !ok || key == "" || strings.ContainsAny(key, "/\\") {
		return nil, fmt.Errorf("invalid artifact URI %q", uri)
	}
	data, err := os.ReadFile(filepath.Join(s.dataDir, key+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Errorf(ErrKindNotFound, "artifact %s not found", uri)
		}
		return nil, fmt.Errorf("failed to read artifact file: %w", err)
	}
	return data, nil
}

// GetMetadata reads the metadata sidecar stored with an artifact, if any.
func (s *FileArtifactStore) GetMetadata(ctx context.Context, uri string) (map[string]string, error) {
	key, ok := strings.CutPrefix(uri, fileURIScheme)
	if !ok || key == "" || strings.ContainsAny(key, "/\\") {
		return nil, fmt.Errorf("invalid artifact URI %q", uri)
	}
	data, err := os.ReadFile(filepath.Join(s.dataDir, key+".meta.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read artifact metadata: %w", err)
	}
	var metadata map[string]string
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact metadata: %w", err)
	}
	return metadata, nil
}
