package saferun

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// marshalCanonical serializes a value deterministically. encoding/json sorts
// map keys and emits struct fields in declaration order, which is sufficient
// for content addressing identical values.
func marshalCanonical(v any) ([]byte, error) {
	return json.Marshal(v)
}

// StateCapture builds checkpoint snapshots from agent-supplied execution
// state: it serializes deterministically, computes the content hash that
// becomes the snapshot ID, and persists the payload to the artifact store.
// Capturing has no side effect on workflow state itself; that is the
// orchestrator's responsibility.
type StateCapture struct {
	store  ArtifactStore
	logger *slog.Logger
	now    func() time.Time
}

// NewStateCapture returns a capture component backed by the given store.
func NewStateCapture(store ArtifactStore, logger *slog.Logger) *StateCapture {
	if store == nil {
		store = NewNullArtifactStore()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &StateCapture{store: store, logger: logger, now: time.Now}
}

// Serialize encodes an execution state deterministically.
func (c *StateCapture) Serialize(state *ExecutionState) ([]byte, error) {
	data, err := marshalCanonical(state)
	if err != nil {
		return nil, Errorf(ErrKindStorageFailure, "failed to serialize execution state: %w", err)
	}
	return data, nil
}

// Deserialize decodes an execution state previously produced by Serialize.
func (c *StateCapture) Deserialize(data []byte) (*ExecutionState, error) {
	var state ExecutionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, Errorf(ErrKindStorageFailure, "failed to deserialize execution state: %w", err)
	}
	return &state, nil
}

// Hash computes the content hash of an execution state. Identical states
// always produce identical hashes, which makes snapshot storage
// content-addressed.
func (c *StateCapture) Hash(state *ExecutionState) (string, error) {
	data, err := c.Serialize(state)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Capture builds an immutable snapshot for the given checkpoint and persists
// it to the artifact store. On a storage failure the snapshot is not created
// and the caller must not advance workflow state.
func (c *StateCapture) Capture(ctx context.Context, workflowID string, checkpoint CheckpointConfig, index int, state *ExecutionState) (*CheckpointSnapshot, error) {
	captured := state.Copy()
	captured.CheckpointID = checkpoint.ID
	if captured.CapturedAt.IsZero() {
		captured.CapturedAt = c.now()
	}
	captured.normalize()

	data, err := c.Serialize(captured)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	snapshotID := hex.EncodeToString(sum[:])

	uri, err := c.store.CreateArtifact(ctx, data, map[string]string{
		"workflow_id":     workflowID,
		"snapshot_id":     snapshotID,
		"checkpoint_id":   checkpoint.ID,
		"checkpoint_name": checkpoint.Name,
		"checkpoint_idx":  fmt.Sprintf("%d", index),
	})
	if err != nil {
		return nil, Errorf(ErrKindStorageFailure, "failed to store snapshot artifact: %w", err)
	}

	snapshot := &CheckpointSnapshot{
		SnapshotID:       snapshotID,
		WorkflowID:       workflowID,
		CheckpointID:     checkpoint.ID,
		CheckpointIndex:  index,
		ApprovalRequired: checkpoint.RequiresApproval,
		CreatedAt:        c.now().UTC(),
		State:            captured,
		ArtifactURI:      uri,
	}

	c.logger.Info("checkpoint snapshot captured",
		"workflow_id", workflowID,
		"checkpoint_id", checkpoint.ID,
		"snapshot_id", snapshotID,
		"artifact_uri", uri,
		"api_calls", len(captured.APICalls),
		"decisions", len(captured.DecisionTrace))

	return snapshot, nil
}

// Restore returns the execution state referenced by a snapshot. The embedded
// state is preferred; the artifact store is consulted only when the snapshot
// carries no state (for example, one rehydrated from external storage).
// Restoring never mutates the snapshot.
func (c *StateCapture) Restore(ctx context.Context, snapshot *CheckpointSnapshot) (*ExecutionState, error) {
	if snapshot.State != nil {
		return snapshot.State.Copy(), nil
	}
	if snapshot.ArtifactURI == "" {
		return nil, Errorf(ErrKindNotFound, "snapshot %s has no embedded state and no artifact URI", snapshot.SnapshotID)
	}
	data, err := c.store.GetArtifact(ctx, snapshot.ArtifactURI)
	if err != nil {
		return nil, Errorf(ErrKindStorageFailure, "failed to fetch snapshot artifact %s: %w", snapshot.ArtifactURI, err)
	}
	return c.Deserialize(data)
}
