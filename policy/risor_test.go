package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/saferun-ai/saferun"
)

func sampleRequest() *saferun.ApprovalRequest {
	return &saferun.ApprovalRequest{
		RequestID:    "apr_test",
		WorkflowID:   "wf_test",
		CheckpointID: "draft",
		SnapshotID:   "snap-1",
		Summary:      "review the draft",
		Context: map[string]any{
			"resources": map[string]any{"tokens": 1200.0},
		},
	}
}

func TestRisorReviewerStringDecision(t *testing.T) {
	ctx := context.Background()
	reviewer, err := NewRisorReviewer(ctx, `"approved"`, "policy-bot")
	require.NoError(t, err)

	response, err := reviewer.Review(ctx, sampleRequest())
	require.NoError(t, err)
	require.Equal(t, saferun.DecisionApproved, response.Decision)
	require.Equal(t, "apr_test", response.RequestID)
	require.Equal(t, "policy-bot", response.ResponderID)
}

func TestRisorReviewerBoolDecision(t *testing.T) {
	ctx := context.Background()
	reviewer, err := NewRisorReviewer(ctx, `checkpoint_id == "draft"`, "policy-bot")
	require.NoError(t, err)

	response, err := reviewer.Review(ctx, sampleRequest())
	require.NoError(t, err)
	require.Equal(t, saferun.DecisionApproved, response.Decision)

	request := sampleRequest()
	request.CheckpointID = "publish"
	response, err = reviewer.Review(ctx, request)
	require.NoError(t, err)
	require.Equal(t, saferun.DecisionRejected, response.Decision)
}

func TestRisorReviewerMapDecision(t *testing.T) {
	ctx := context.Background()
	script := `
tokens := float(context["resources"]["tokens"])
if tokens > 1000 {
    {"decision": "rejected", "rationale": sprintf("over budget: %g tokens", tokens)}
} else {
    {"decision": "approved", "rationale": "within budget"}
}`
	reviewer, err := NewRisorReviewer(ctx, script, "policy-bot")
	require.NoError(t, err)

	// 1200 tokens is over the script's budget
	response, err := reviewer.Review(ctx, sampleRequest())
	require.NoError(t, err)
	require.Equal(t, saferun.DecisionRejected, response.Decision)
	require.Contains(t, response.Rationale, "over budget")

	request := sampleRequest()
	request.Context = map[string]any{"resources": map[string]any{"tokens": 500.0}}
	response, err = reviewer.Review(ctx, request)
	require.NoError(t, err)
	require.Equal(t, saferun.DecisionApproved, response.Decision)
}

func TestRisorReviewerModifications(t *testing.T) {
	ctx := context.Background()
	script := `{"decision": "modified", "modifications": {"tone": "formal", "max_words": 800}}`
	reviewer, err := NewRisorReviewer(ctx, script, "policy-bot")
	require.NoError(t, err)

	response, err := reviewer.Review(ctx, sampleRequest())
	require.NoError(t, err)
	require.Equal(t, saferun.DecisionModified, response.Decision)
	require.Equal(t, "formal", response.Modifications["tone"])
	require.EqualValues(t, 800, response.Modifications["max_words"])
}

func TestRisorReviewerInvalidResults(t *testing.T) {
	ctx := context.Background()

	// Unknown decision strings are errors
	reviewer, err := NewRisorReviewer(ctx, `"maybe"`, "policy-bot")
	require.NoError(t, err)
	_, err = reviewer.Review(ctx, sampleRequest())
	require.ErrorContains(t, err, "unknown policy decision")

	// Map results without a decision key are errors
	reviewer, err = NewRisorReviewer(ctx, `{"rationale": "no decision"}`, "policy-bot")
	require.NoError(t, err)
	_, err = reviewer.Review(ctx, sampleRequest())
	require.ErrorContains(t, err, "no decision key")

	// Parse errors surface at construction
	_, err = NewRisorReviewer(ctx, `if {`, "policy-bot")
	require.Error(t, err)
}

func TestApproveAll(t *testing.T) {
	reviewer := ApproveAll("auto")
	response, err := reviewer.Review(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Equal(t, saferun.DecisionApproved, response.Decision)
	require.Equal(t, "auto", response.ResponderID)
}
