package saferun

import (
	"fmt"
	"os"
	"time"

	"go.jetify.com/typeid"
	"gopkg.in/yaml.v3"
)

// DefaultApprovalTimeout applies when a checkpoint does not set one.
const DefaultApprovalTimeout = 5 * time.Minute

// NewWorkflowID returns a new prefixed unique ID for a workflow.
func NewWorkflowID() string {
	id, err := typeid.WithPrefix("wf")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// CheckpointConfig declares a single pause point in a workflow. A checkpoint
// with CanRollback=false is a point of no return: rejection there is a
// terminal failure, never a rollback.
type CheckpointConfig struct {
	ID               string        `json:"id" yaml:"id"`
	Name             string        `json:"name" yaml:"name"`
	Description      string        `json:"description,omitempty" yaml:"description,omitempty"`
	RequiresApproval bool          `json:"requires_approval" yaml:"requires_approval"`
	CanRollback      bool          `json:"can_rollback" yaml:"can_rollback"`
	Timeout          time.Duration `json:"timeout" yaml:"-"`
	MilestoneAmount  float64       `json:"milestone_amount,omitempty" yaml:"milestone_amount,omitempty"`
}

// checkpointConfigYAML mirrors CheckpointConfig for YAML decoding so that the
// boolean flags default to true and the timeout is declared in seconds.
type checkpointConfigYAML struct {
	ID               string  `yaml:"id"`
	Name             string  `yaml:"name"`
	Description      string  `yaml:"description"`
	RequiresApproval *bool   `yaml:"requires_approval"`
	CanRollback      *bool   `yaml:"can_rollback"`
	TimeoutSeconds   int     `yaml:"timeout_seconds"`
	MilestoneAmount  float64 `yaml:"milestone_amount"`
}

// UnmarshalYAML implements yaml.Unmarshaler with the checkpoint defaults.
func (c *CheckpointConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw checkpointConfigYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.ID = raw.ID
	c.Name = raw.Name
	c.Description = raw.Description
	c.RequiresApproval = raw.RequiresApproval == nil || *raw.RequiresApproval
	c.CanRollback = raw.CanRollback == nil || *raw.CanRollback
	c.MilestoneAmount = raw.MilestoneAmount
	if raw.TimeoutSeconds > 0 {
		c.Timeout = time.Duration(raw.TimeoutSeconds) * time.Second
	}
	return nil
}

// WorkflowConfig is the immutable configuration supplied when a workflow is
// created. Checkpoint order defines the execution phases.
type WorkflowConfig struct {
	Name         string             `json:"name" yaml:"name"`
	Description  string             `json:"description,omitempty" yaml:"description,omitempty"`
	Checkpoints  []CheckpointConfig `json:"checkpoints" yaml:"checkpoints"`
	EscrowAmount float64            `json:"escrow_amount" yaml:"escrow_amount"`
	PosterID     string             `json:"poster_id" yaml:"poster_id"`
	ExecutorID   string             `json:"executor_id" yaml:"executor_id"`
	SupervisorID string             `json:"supervisor_id,omitempty" yaml:"supervisor_id,omitempty"`
}

// Copy returns a copy with its own checkpoint slice, so the configuration a
// workflow runs under cannot be altered through the caller's slice.
func (c WorkflowConfig) Copy() WorkflowConfig {
	copied := c
	copied.Checkpoints = make([]CheckpointConfig, len(c.Checkpoints))
	copy(copied.Checkpoints, c.Checkpoints)
	return copied
}

// Validate checks the configuration and returns an ErrKindInvalidConfig
// error describing the first problem found.
func (c *WorkflowConfig) Validate() error {
	if c.Name == "" {
		return NewError(ErrKindInvalidConfig, "workflow name required")
	}
	if len(c.Checkpoints) == 0 {
		return NewError(ErrKindInvalidConfig, "at least one checkpoint required")
	}
	if c.EscrowAmount < 0 {
		return Errorf(ErrKindInvalidConfig, "escrow amount must be non-negative, got %v", c.EscrowAmount)
	}
	if c.PosterID == "" {
		return NewError(ErrKindInvalidConfig, "poster ID required")
	}
	if c.ExecutorID == "" {
		return NewError(ErrKindInvalidConfig, "executor ID required")
	}
	seen := make(map[string]bool, len(c.Checkpoints))
	var milestoneTotal float64
	for i, checkpoint := range c.Checkpoints {
		if checkpoint.ID == "" {
			return Errorf(ErrKindInvalidConfig, "checkpoint %d: ID required", i)
		}
		if seen[checkpoint.ID] {
			return Errorf(ErrKindInvalidConfig, "duplicate checkpoint ID %q", checkpoint.ID)
		}
		seen[checkpoint.ID] = true
		if checkpoint.MilestoneAmount < 0 {
			return Errorf(ErrKindInvalidConfig, "checkpoint %q: milestone amount must be non-negative", checkpoint.ID)
		}
		milestoneTotal += checkpoint.MilestoneAmount
	}
	if milestoneTotal > c.EscrowAmount {
		return Errorf(ErrKindInvalidConfig,
			"milestone amounts total %v, exceeding escrow amount %v", milestoneTotal, c.EscrowAmount)
	}
	return nil
}

// applyDefaults fills in per-checkpoint defaults for fields left unset.
func (c *WorkflowConfig) applyDefaults() {
	for i := range c.Checkpoints {
		if c.Checkpoints[i].Timeout <= 0 {
			c.Checkpoints[i].Timeout = DefaultApprovalTimeout
		}
	}
}

// Checkpoint returns the checkpoint config at the given index.
func (c *WorkflowConfig) Checkpoint(index int) (CheckpointConfig, error) {
	if index < 0 || index >= len(c.Checkpoints) {
		return CheckpointConfig{}, Errorf(ErrKindNotFound,
			"checkpoint index %d out of range for workflow %q", index, c.Name)
	}
	return c.Checkpoints[index], nil
}

// LoadFile reads a workflow configuration from a YAML file.
func LoadFile(path string) (*WorkflowConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow config %q: %w", path, err)
	}
	var config WorkflowConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, Errorf(ErrKindInvalidConfig, "failed to parse workflow config %q: %w", path, err)
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
