package saferun

// OrchestratorStats aggregates workflow counts for dashboards.
type OrchestratorStats struct {
	TotalWorkflows   int                   `json:"total_workflows"`
	CountsByState    map[WorkflowState]int `json:"counts_by_state"`
	PendingApprovals int                   `json:"pending_approvals"`
	TotalSnapshots   int                   `json:"total_snapshots"`
}
