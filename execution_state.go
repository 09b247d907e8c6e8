package saferun

import (
	"time"
)

// ExecutionState is an immutable capture of everything the agent has done up
// to a checkpoint. It is supplied by the execution driver and is opaque to
// the orchestrator, which only hashes, stores, and returns it.
type ExecutionState struct {
	CheckpointID        string             `json:"checkpoint_id"`
	CapturedAt          time.Time          `json:"captured_at"`
	AgentMemory         map[string]any     `json:"agent_memory"`
	APICalls            []map[string]any   `json:"api_calls"`
	IntermediateOutputs map[string]any     `json:"intermediate_outputs"`
	DecisionTrace       []string           `json:"decision_trace"`
	ResourceConsumption map[string]float64 `json:"resource_consumption"`
}

// Copy returns a shallow copy of the state with fresh top-level containers.
func (s *ExecutionState) Copy() *ExecutionState {
	calls := make([]map[string]any, len(s.APICalls))
	for i, call := range s.APICalls {
		calls[i] = copyMap(call)
	}
	return &ExecutionState{
		CheckpointID:        s.CheckpointID,
		CapturedAt:          s.CapturedAt,
		AgentMemory:         copyMap(s.AgentMemory),
		APICalls:            calls,
		IntermediateOutputs: copyMap(s.IntermediateOutputs),
		DecisionTrace:       append([]string{}, s.DecisionTrace...),
		ResourceConsumption: copyFloatMap(s.ResourceConsumption),
	}
}

// normalize fills nil containers and forces the timestamp to UTC so that
// serialization round-trips produce an equal value.
func (s *ExecutionState) normalize() {
	s.CapturedAt = s.CapturedAt.UTC()
	if s.AgentMemory == nil {
		s.AgentMemory = map[string]any{}
	}
	if s.APICalls == nil {
		s.APICalls = []map[string]any{}
	}
	if s.IntermediateOutputs == nil {
		s.IntermediateOutputs = map[string]any{}
	}
	if s.DecisionTrace == nil {
		s.DecisionTrace = []string{}
	}
	if s.ResourceConsumption == nil {
		s.ResourceConsumption = map[string]float64{}
	}
}

// MapDiff describes the difference between two key-value mappings.
type MapDiff struct {
	Added   map[string]any `json:"added"`
	Removed map[string]any `json:"removed"`
	Changed map[string]any `json:"changed"`
}

// StateDiff summarizes what changed between two execution states. It is
// attached to approval request context so reviewers see the delta since the
// previous checkpoint rather than raw state dumps.
type StateDiff struct {
	MemoryDiff     MapDiff `json:"memory_diff"`
	OutputsDiff    MapDiff `json:"outputs_diff"`
	APICallsAdded  int     `json:"api_calls_added"`
	DecisionsAdded int     `json:"decisions_added"`
}

// Diff compares s against a later state and reports the differences.
func (s *ExecutionState) Diff(later *ExecutionState) *StateDiff {
	return &StateDiff{
		MemoryDiff:     diffMaps(s.AgentMemory, later.AgentMemory),
		OutputsDiff:    diffMaps(s.IntermediateOutputs, later.IntermediateOutputs),
		APICallsAdded:  len(later.APICalls) - len(s.APICalls),
		DecisionsAdded: len(later.DecisionTrace) - len(s.DecisionTrace),
	}
}

func diffMaps(before, after map[string]any) MapDiff {
	diff := MapDiff{
		Added:   map[string]any{},
		Removed: map[string]any{},
		Changed: map[string]any{},
	}
	for k, v := range after {
		if _, ok := before[k]; !ok {
			diff.Added[k] = v
		}
	}
	for k, v := range before {
		if _, ok := after[k]; !ok {
			diff.Removed[k] = v
			continue
		}
		if fmtValue(before[k]) != fmtValue(after[k]) {
			diff.Changed[k] = map[string]any{"old": v, "new": after[k]}
		}
	}
	return diff
}

// fmtValue renders a value for comparison. Dynamic payload values are not
// guaranteed comparable with ==, so compare their string forms.
func fmtValue(v any) string {
	data, err := marshalCanonical(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// copyMap creates a shallow copy of a map
func copyMap(m map[string]any) map[string]any {
	copied := make(map[string]any, len(m))
	for k, v := range m {
		copied[k] = v
	}
	return copied
}

// copyFloatMap creates a shallow copy of a numeric map
func copyFloatMap(m map[string]float64) map[string]float64 {
	copied := make(map[string]float64, len(m))
	for k, v := range m {
		copied[k] = v
	}
	return copied
}

// copyStringMap creates a shallow copy of a string map
func copyStringMap(m map[string]string) map[string]string {
	copied := make(map[string]string, len(m))
	for k, v := range m {
		copied[k] = v
	}
	return copied
}
