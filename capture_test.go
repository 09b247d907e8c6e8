package saferun

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// failingArtifactStore always fails, for exercising storage failure paths.
type failingArtifactStore struct{}

func (failingArtifactStore) CreateArtifact(ctx context.Context, content []byte, metadata map[string]string) (string, error) {
	return "", errors.New("disk full")
}

func (failingArtifactStore) GetArtifact(ctx context.Context, uri string) ([]byte, error) {
	return nil, errors.New("disk full")
}

func TestSerializationIsDeterministic(t *testing.T) {
	capture := NewStateCapture(NewNullArtifactStore(), nil)
	state := sampleState()

	first, err := capture.Serialize(state)
	require.NoError(t, err)
	second, err := capture.Serialize(state.Copy())
	require.NoError(t, err)
	require.Equal(t, first, second)

	// Identical states hash identically; different states do not
	hashA, err := capture.Hash(state)
	require.NoError(t, err)
	hashB, err := capture.Hash(state.Copy())
	require.NoError(t, err)
	require.Equal(t, hashA, hashB)

	changed := state.Copy()
	changed.AgentMemory["topic"] = "different"
	hashC, err := capture.Hash(changed)
	require.NoError(t, err)
	require.NotEqual(t, hashA, hashC)
}

func TestSerializationRoundTrip(t *testing.T) {
	capture := NewStateCapture(NewNullArtifactStore(), nil)
	state := sampleState()
	state.normalize()

	data, err := capture.Serialize(state)
	require.NoError(t, err)
	restored, err := capture.Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, state, restored)
}

func TestCapturePersistsSnapshot(t *testing.T) {
	store, err := NewFileArtifactStore(t.TempDir())
	require.NoError(t, err)
	capture := NewStateCapture(store, nil)
	ctx := context.Background()

	checkpoint := CheckpointConfig{ID: "draft", Name: "Draft ready", RequiresApproval: true}
	snapshot, err := capture.Capture(ctx, "wf_test", checkpoint, 1, sampleState())
	require.NoError(t, err)

	// The snapshot ID is the content hash of the captured state
	hash, err := capture.Hash(snapshot.State)
	require.NoError(t, err)
	require.Equal(t, hash, snapshot.SnapshotID)

	require.Equal(t, "wf_test", snapshot.WorkflowID)
	require.Equal(t, "draft", snapshot.CheckpointID)
	require.Equal(t, 1, snapshot.CheckpointIndex)
	require.True(t, snapshot.ApprovalRequired)
	require.NotEmpty(t, snapshot.ArtifactURI)

	// The stored artifact round-trips back to the captured state
	data, err := store.GetArtifact(ctx, snapshot.ArtifactURI)
	require.NoError(t, err)
	restored, err := capture.Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, snapshot.State, restored)
}

func TestCaptureDoesNotMutateInput(t *testing.T) {
	capture := NewStateCapture(NewNullArtifactStore(), nil)
	state := sampleState()
	state.CheckpointID = ""
	original := state.Copy()

	snapshot, err := capture.Capture(context.Background(), "wf_test", CheckpointConfig{ID: "draft"}, 0, state)
	require.NoError(t, err)
	require.Equal(t, original, state)
	require.Equal(t, "draft", snapshot.State.CheckpointID)
}

func TestCaptureStorageFailure(t *testing.T) {
	capture := NewStateCapture(failingArtifactStore{}, nil)

	_, err := capture.Capture(context.Background(), "wf_test", CheckpointConfig{ID: "draft"}, 0, sampleState())
	require.True(t, IsKind(err, ErrKindStorageFailure))
}

func TestRestore(t *testing.T) {
	store, err := NewFileArtifactStore(t.TempDir())
	require.NoError(t, err)
	capture := NewStateCapture(store, nil)
	ctx := context.Background()

	snapshot, err := capture.Capture(ctx, "wf_test", CheckpointConfig{ID: "draft"}, 0, sampleState())
	require.NoError(t, err)

	// Embedded state is preferred
	restored, err := capture.Restore(ctx, snapshot)
	require.NoError(t, err)
	require.Equal(t, snapshot.State, restored)

	// Without embedded state the artifact store is consulted
	rehydrated := snapshot.Copy()
	rehydrated.State = nil
	restored, err = capture.Restore(ctx, rehydrated)
	require.NoError(t, err)
	require.Equal(t, snapshot.State, restored)

	// No state and no artifact URI is an error
	empty := &CheckpointSnapshot{SnapshotID: "missing"}
	_, err = capture.Restore(ctx, empty)
	require.True(t, IsKind(err, ErrKindNotFound))
}
