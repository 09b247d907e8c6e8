package saferun

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// NullArtifactStore is a no-op implementation. It returns content-derived
// URIs but persists nothing; snapshots remain usable through their embedded
// state.
type NullArtifactStore struct{}

func NewNullArtifactStore() *NullArtifactStore {
	return &NullArtifactStore{}
}

func (s *NullArtifactStore) CreateArtifact(ctx context.Context, content []byte, metadata map[string]string) (string, error) {
	sum := sha256.Sum256(content)
	return "artifact://null/" + hex.EncodeToString(sum[:]), nil
}

func (s *NullArtifactStore) GetArtifact(ctx context.Context, uri string) ([]byte, error) {
	return nil, Errorf(ErrKindNotFound, "null artifact store holds no content for %s", uri)
}
