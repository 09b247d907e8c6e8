package saferun

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func settlementConfig() WorkflowConfig {
	config := validConfig()
	config.EscrowAmount = 100.0
	return config
}

func lockTestEscrow(t *testing.T, ledger *MemoryLedger, amount float64) string {
	t.Helper()
	escrowID, err := ledger.LockEscrow(context.Background(), amount, "user_poster", "agent_executor")
	require.NoError(t, err)
	return escrowID
}

func TestSettleFullCompletion(t *testing.T) {
	ledger := NewMemoryLedger()
	engine := NewSettlementEngine(ledger, nil)
	config := settlementConfig()
	escrowID := lockTestEscrow(t, ledger, 100.0)

	result, err := engine.Settle(context.Background(), &config, "wf_test", escrowID, 1.0)
	require.NoError(t, err)

	// Full completion: 90/10 split of the whole escrow, nothing returned
	require.Equal(t, 100.0, result.Disbursable)
	require.Equal(t, 100.0, result.Payout)
	require.InDelta(t, 0.0, result.ReturnedToPoster, floatTolerance)
	require.InDelta(t, 90.0, ledger.ReleasedTo(escrowID, "agent_executor"), floatTolerance)
	require.InDelta(t, 10.0, ledger.ReleasedTo(escrowID, "user_supervisor"), floatTolerance)

	// Conservation: everything released, nothing remaining
	remaining, err := ledger.RemainingEscrow(context.Background(), escrowID)
	require.NoError(t, err)
	require.InDelta(t, 0.0, remaining, floatTolerance)
}

func TestSettlePartialCompletion(t *testing.T) {
	ledger := NewMemoryLedger()
	engine := NewSettlementEngine(ledger, nil)
	config := settlementConfig()
	escrowID := lockTestEscrow(t, ledger, 100.0)

	// One of three checkpoints accepted
	fraction := 1.0 / 3.0
	result, err := engine.Settle(context.Background(), &config, "wf_test", escrowID, fraction)
	require.NoError(t, err)

	payout := 100.0 * fraction
	require.InDelta(t, payout, result.Payout, floatTolerance)
	require.InDelta(t, 100.0-payout, result.ReturnedToPoster, floatTolerance)
	require.InDelta(t, payout*ExecutorShare, ledger.ReleasedTo(escrowID, "agent_executor"), floatTolerance)
	require.InDelta(t, payout*SupervisorShare, ledger.ReleasedTo(escrowID, "user_supervisor"), floatTolerance)
	require.InDelta(t, 100.0-payout, ledger.ReleasedTo(escrowID, "user_poster"), floatTolerance)
	require.InDelta(t, 100.0, ledger.TotalReleased(escrowID), floatTolerance)
}

func TestSettleZeroCompletionReturnsEverything(t *testing.T) {
	ledger := NewMemoryLedger()
	engine := NewSettlementEngine(ledger, nil)
	config := settlementConfig()
	escrowID := lockTestEscrow(t, ledger, 100.0)

	result, err := engine.Settle(context.Background(), &config, "wf_test", escrowID, 0.0)
	require.NoError(t, err)
	require.InDelta(t, 0.0, result.Payout, floatTolerance)
	require.InDelta(t, 100.0, result.ReturnedToPoster, floatTolerance)
	require.InDelta(t, 100.0, ledger.ReleasedTo(escrowID, "user_poster"), floatTolerance)
}

func TestSettleWithoutSupervisor(t *testing.T) {
	ledger := NewMemoryLedger()
	engine := NewSettlementEngine(ledger, nil)
	config := settlementConfig()
	config.SupervisorID = ""
	escrowID := lockTestEscrow(t, ledger, 100.0)

	// No supervisor: the executor receives the full payout
	_, err := engine.Settle(context.Background(), &config, "wf_test", escrowID, 1.0)
	require.NoError(t, err)
	require.InDelta(t, 100.0, ledger.ReleasedTo(escrowID, "agent_executor"), floatTolerance)
}

func TestSettleAfterMilestoneReleases(t *testing.T) {
	ledger := NewMemoryLedger()
	engine := NewSettlementEngine(ledger, nil)
	config := settlementConfig()
	escrowID := lockTestEscrow(t, ledger, 100.0)

	// A milestone already paid 30 to the executor; only 70 remains disbursable
	require.NoError(t, ledger.ReleaseEscrow(context.Background(), escrowID, 30.0, "agent_executor", "milestone:draft"))

	result, err := engine.Settle(context.Background(), &config, "wf_test", escrowID, 1.0)
	require.NoError(t, err)
	require.InDelta(t, 70.0, result.Disbursable, floatTolerance)
	require.InDelta(t, 70.0, result.Payout, floatTolerance)

	// Executor keeps the milestone plus their share of the remainder
	require.InDelta(t, 30.0+70.0*ExecutorShare, ledger.ReleasedTo(escrowID, "agent_executor"), floatTolerance)
	require.InDelta(t, 100.0, ledger.TotalReleased(escrowID), floatTolerance)
}

func TestSettleRejectsInvalidFraction(t *testing.T) {
	ledger := NewMemoryLedger()
	engine := NewSettlementEngine(ledger, nil)
	config := settlementConfig()
	escrowID := lockTestEscrow(t, ledger, 100.0)

	_, err := engine.Settle(context.Background(), &config, "wf_test", escrowID, -0.1)
	require.True(t, IsKind(err, ErrKindInvalidConfig))
	_, err = engine.Settle(context.Background(), &config, "wf_test", escrowID, 1.1)
	require.True(t, IsKind(err, ErrKindInvalidConfig))
}

func TestSettleUnknownEscrow(t *testing.T) {
	ledger := NewMemoryLedger()
	engine := NewSettlementEngine(ledger, nil)
	config := settlementConfig()

	_, err := engine.Settle(context.Background(), &config, "wf_test", "esc_missing", 1.0)
	require.True(t, IsKind(err, ErrKindPaymentFailure))
}
