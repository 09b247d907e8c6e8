package saferun

import "time"

// CheckpointSnapshot is an immutable, content-addressed capture of execution
// state at a checkpoint. Snapshots are never updated after creation; rollback
// restores by reference, not by edit.
type CheckpointSnapshot struct {
	SnapshotID       string          `json:"snapshot_id"`
	WorkflowID       string          `json:"workflow_id"`
	CheckpointID     string          `json:"checkpoint_id"`
	CheckpointIndex  int             `json:"checkpoint_index"`
	ApprovalRequired bool            `json:"approval_required"`
	CreatedAt        time.Time       `json:"created_at"`
	State            *ExecutionState `json:"execution_state"`
	ArtifactURI      string          `json:"artifact_uri,omitempty"`
}

// Copy returns a copy of the snapshot with its own state containers.
func (s *CheckpointSnapshot) Copy() *CheckpointSnapshot {
	copied := *s
	if s.State != nil {
		copied.State = s.State.Copy()
	}
	return &copied
}
