package saferun

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRollbackRunsCompensationsInReverseOrder(t *testing.T) {
	engine := NewRollbackEngine(nil)
	ctx := context.Background()

	var order []string
	undo := func(name string) CompensationFunc {
		return func(ctx context.Context) error {
			order = append(order, name)
			return nil
		}
	}
	engine.Register("wf_test", CompensationAction{ActionID: "a", CheckpointIndex: 1, Undo: undo("a")})
	engine.Register("wf_test", CompensationAction{ActionID: "b", CheckpointIndex: 2, Undo: undo("b")})
	engine.Register("wf_test", CompensationAction{ActionID: "c", CheckpointIndex: 2, Undo: undo("c")})

	target := &CheckpointSnapshot{SnapshotID: "snap-0", CheckpointIndex: 0, State: sampleState()}
	result, err := engine.Rollback(ctx, "wf_test", 2, target)
	require.NoError(t, err)

	// Most recent actions are undone first
	require.Equal(t, []string{"c", "b", "a"}, order)
	require.True(t, result.Complete)
	require.Len(t, result.Outcomes, 3)
	for _, outcome := range result.Outcomes {
		require.True(t, outcome.Succeeded)
	}
	require.Equal(t, 0, result.ToCheckpoint)
	require.Equal(t, "snap-0", result.ToSnapshotID)
	require.Equal(t, target.State, result.RestoredState)

	// Undone actions are pruned from the registry
	require.Empty(t, engine.Actions("wf_test"))
}

func TestRollbackScopesActionsToTarget(t *testing.T) {
	engine := NewRollbackEngine(nil)
	ctx := context.Background()

	var order []string
	record := func(name string) CompensationFunc {
		return func(ctx context.Context) error {
			order = append(order, name)
			return nil
		}
	}
	// Action at the target's index belongs to accepted work and must survive
	engine.Register("wf_test", CompensationAction{ActionID: "kept", CheckpointIndex: 1, Undo: record("kept")})
	engine.Register("wf_test", CompensationAction{ActionID: "undone", CheckpointIndex: 2, Undo: record("undone")})

	target := &CheckpointSnapshot{CheckpointIndex: 1}
	result, err := engine.Rollback(ctx, "wf_test", 2, target)
	require.NoError(t, err)
	require.Equal(t, []string{"undone"}, order)
	require.Len(t, result.Outcomes, 1)

	remaining := engine.Actions("wf_test")
	require.Len(t, remaining, 1)
	require.Equal(t, "kept", remaining[0].ActionID)
}

func TestRollbackAbortsOnCompensationFailure(t *testing.T) {
	engine := NewRollbackEngine(nil)
	ctx := context.Background()

	var order []string
	engine.Register("wf_test", CompensationAction{
		ActionID:        "first",
		CheckpointIndex: 1,
		Undo: func(ctx context.Context) error {
			order = append(order, "first")
			return nil
		},
	})
	engine.Register("wf_test", CompensationAction{
		ActionID:        "failing",
		CheckpointIndex: 2,
		Undo: func(ctx context.Context) error {
			order = append(order, "failing")
			return errors.New("external service unavailable")
		},
	})
	engine.Register("wf_test", CompensationAction{
		ActionID:        "last",
		CheckpointIndex: 3,
		Undo: func(ctx context.Context) error {
			order = append(order, "last")
			return nil
		},
	})

	target := &CheckpointSnapshot{CheckpointIndex: 0}
	result, err := engine.Rollback(ctx, "wf_test", 3, target)
	require.True(t, IsKind(err, ErrKindCompensationFailed))

	// The failure aborts remaining compensations; "first" never runs
	require.Equal(t, []string{"last", "failing"}, order)
	require.False(t, result.Complete)

	// The partial-compensation record is preserved for reconciliation
	require.Len(t, result.Outcomes, 2)
	require.True(t, result.Outcomes[0].Succeeded)
	require.False(t, result.Outcomes[1].Succeeded)
	require.Contains(t, result.Outcomes[1].Error, "external service unavailable")

	// Nothing was pruned
	require.Len(t, engine.Actions("wf_test"), 3)
}

func TestRollbackWithNoActions(t *testing.T) {
	engine := NewRollbackEngine(nil)

	target := &CheckpointSnapshot{CheckpointIndex: -1}
	result, err := engine.Rollback(context.Background(), "wf_test", 0, target)
	require.NoError(t, err)
	require.True(t, result.Complete)
	require.Empty(t, result.Outcomes)
	require.Nil(t, result.RestoredState)
}
