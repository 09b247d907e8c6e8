package saferun

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() WorkflowConfig {
	return WorkflowConfig{
		Name: "content-pipeline",
		Checkpoints: []CheckpointConfig{
			{ID: "research", Name: "Research complete", RequiresApproval: true, CanRollback: true},
			{ID: "draft", Name: "Draft ready", RequiresApproval: true, CanRollback: true},
			{ID: "publish", Name: "Publish article", RequiresApproval: true, CanRollback: false},
		},
		EscrowAmount: 100.0,
		PosterID:     "user_poster",
		ExecutorID:   "agent_executor",
		SupervisorID: "user_supervisor",
	}
}

func TestWorkflowConfigValidation(t *testing.T) {
	config := validConfig()
	require.NoError(t, config.Validate())

	// Missing name
	invalid := validConfig()
	invalid.Name = ""
	require.True(t, IsKind(invalid.Validate(), ErrKindInvalidConfig))

	// No checkpoints
	invalid = validConfig()
	invalid.Checkpoints = nil
	require.True(t, IsKind(invalid.Validate(), ErrKindInvalidConfig))

	// Negative escrow
	invalid = validConfig()
	invalid.EscrowAmount = -1
	require.True(t, IsKind(invalid.Validate(), ErrKindInvalidConfig))

	// Missing participants
	invalid = validConfig()
	invalid.PosterID = ""
	require.True(t, IsKind(invalid.Validate(), ErrKindInvalidConfig))
	invalid = validConfig()
	invalid.ExecutorID = ""
	require.True(t, IsKind(invalid.Validate(), ErrKindInvalidConfig))

	// Duplicate checkpoint IDs
	invalid = validConfig()
	invalid.Checkpoints[1].ID = "research"
	require.True(t, IsKind(invalid.Validate(), ErrKindInvalidConfig))

	// Milestones exceeding escrow
	invalid = validConfig()
	invalid.Checkpoints[0].MilestoneAmount = 60
	invalid.Checkpoints[1].MilestoneAmount = 60
	err := invalid.Validate()
	require.True(t, IsKind(err, ErrKindInvalidConfig))
	require.Contains(t, err.Error(), "milestone")
}

func TestWorkflowConfigDefaults(t *testing.T) {
	config := validConfig()
	config.applyDefaults()
	for _, checkpoint := range config.Checkpoints {
		require.Equal(t, DefaultApprovalTimeout, checkpoint.Timeout)
	}

	// An explicit timeout is preserved
	config = validConfig()
	config.Checkpoints[0].Timeout = time.Minute
	config.applyDefaults()
	require.Equal(t, time.Minute, config.Checkpoints[0].Timeout)
}

func TestWorkflowConfigCopyIsIndependent(t *testing.T) {
	config := validConfig()
	copied := config.Copy()

	copied.Checkpoints[0].MilestoneAmount = 50
	require.Zero(t, config.Checkpoints[0].MilestoneAmount)

	config.Checkpoints[1].ID = "revised"
	require.Equal(t, "draft", copied.Checkpoints[1].ID)
}

func TestWorkflowConfigCheckpointLookup(t *testing.T) {
	config := validConfig()

	checkpoint, err := config.Checkpoint(1)
	require.NoError(t, err)
	require.Equal(t, "draft", checkpoint.ID)

	_, err = config.Checkpoint(3)
	require.True(t, IsKind(err, ErrKindNotFound))
	_, err = config.Checkpoint(-1)
	require.True(t, IsKind(err, ErrKindNotFound))
}

func TestLoadFile(t *testing.T) {
	yaml := `
name: demo
description: Demo workflow
escrow_amount: 50.0
poster_id: poster
executor_id: executor

checkpoints:
  - id: first
    name: First phase
    milestone_amount: 10.0
  - id: second
    name: Second phase
    requires_approval: false
    can_rollback: false
    timeout_seconds: 120
`
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	config, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "demo", config.Name)
	require.Len(t, config.Checkpoints, 2)

	// Boolean flags default to true when omitted
	require.True(t, config.Checkpoints[0].RequiresApproval)
	require.True(t, config.Checkpoints[0].CanRollback)
	require.Equal(t, 10.0, config.Checkpoints[0].MilestoneAmount)
	require.Equal(t, DefaultApprovalTimeout, config.Checkpoints[0].Timeout)

	// Explicit false and timeout_seconds are honored
	require.False(t, config.Checkpoints[1].RequiresApproval)
	require.False(t, config.Checkpoints[1].CanRollback)
	require.Equal(t, 2*time.Minute, config.Checkpoints[1].Timeout)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	// Invalid configs are rejected at load time
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: bad\ncheckpoints: []\n"), 0o644))
	_, err = LoadFile(path)
	require.True(t, IsKind(err, ErrKindInvalidConfig))
}

func TestNewWorkflowID(t *testing.T) {
	id := NewWorkflowID()
	require.Contains(t, id, "wf_")
	require.NotEqual(t, id, NewWorkflowID())
}
