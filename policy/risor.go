package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/compiler"
	"github.com/risor-io/risor/modules/all"
	"github.com/risor-io/risor/object"
	"github.com/risor-io/risor/parser"

	"github.com/saferun-ai/saferun"
)

// RisorReviewer evaluates approval requests with a Risor policy script. The
// script sees these globals alongside the standard builtins:
//
//	workflow_id    string
//	checkpoint_id  string
//	snapshot_id    string
//	summary        string
//	context        map (the request's structured context)
//
// The script's result is the decision. A bare string is the decision name
// ("approved", "rejected", "modified"); a map may carry decision, rationale,
// and modifications keys. A bare bool maps to approved/rejected.
type RisorReviewer struct {
	code        *compiler.Code
	responderID string
}

// NewRisorReviewer compiles the policy script. The responder ID is stamped on
// every response the reviewer produces.
func NewRisorReviewer(ctx context.Context, source, responderID string) (*RisorReviewer, error) {
	ast, err := parser.Parse(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy script: %w", err)
	}

	globalNames := make([]string, 0, len(all.Builtins())+5)
	for name := range all.Builtins() {
		globalNames = append(globalNames, name)
	}
	globalNames = append(globalNames,
		"workflow_id", "checkpoint_id", "snapshot_id", "summary", "context")
	sort.Strings(globalNames)

	code, err := compiler.Compile(ast, compiler.WithGlobalNames(globalNames))
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy script: %w", err)
	}
	return &RisorReviewer{code: code, responderID: responderID}, nil
}

// Review evaluates the policy script against the request and converts the
// result into an approval response.
func (r *RisorReviewer) Review(ctx context.Context, request *saferun.ApprovalRequest) (*saferun.ApprovalResponse, error) {
	globals := map[string]any{}
	for name, value := range all.Builtins() {
		globals[name] = value
	}
	globals["workflow_id"] = request.WorkflowID
	globals["checkpoint_id"] = request.CheckpointID
	globals["snapshot_id"] = request.SnapshotID
	globals["summary"] = request.Summary
	globals["context"] = request.Context

	result, err := risor.EvalCode(ctx, r.code, risor.WithGlobals(globals))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy script: %w", err)
	}

	response, err := responseFromResult(result)
	if err != nil {
		return nil, err
	}
	response.RequestID = request.RequestID
	response.ResponderID = r.responderID
	return response, nil
}

func responseFromResult(result object.Object) (*saferun.ApprovalResponse, error) {
	switch o := result.(type) {
	case *object.String:
		decision, err := parseDecision(o.Value())
		if err != nil {
			return nil, err
		}
		return &saferun.ApprovalResponse{Decision: decision}, nil

	case *object.Bool:
		if o.Value() {
			return &saferun.ApprovalResponse{Decision: saferun.DecisionApproved}, nil
		}
		return &saferun.ApprovalResponse{Decision: saferun.DecisionRejected}, nil

	case *object.Map:
		values := o.Value()
		decisionObj, ok := values["decision"]
		if !ok {
			return nil, fmt.Errorf("policy result map has no decision key")
		}
		decisionStr, ok := decisionObj.(*object.String)
		if !ok {
			return nil, fmt.Errorf("policy decision must be a string, got %T", decisionObj)
		}
		decision, err := parseDecision(decisionStr.Value())
		if err != nil {
			return nil, err
		}
		response := &saferun.ApprovalResponse{Decision: decision}
		if rationale, ok := values["rationale"].(*object.String); ok {
			response.Rationale = rationale.Value()
		}
		if mods, ok := values["modifications"].(*object.Map); ok {
			converted := map[string]any{}
			for key, value := range mods.Value() {
				converted[key] = convertRisorValue(value)
			}
			response.Modifications = converted
		}
		return response, nil

	default:
		return nil, fmt.Errorf("unsupported policy result type %T", result)
	}
}

func parseDecision(value string) (saferun.ApprovalDecision, error) {
	switch saferun.ApprovalDecision(value) {
	case saferun.DecisionApproved, saferun.DecisionRejected, saferun.DecisionModified:
		return saferun.ApprovalDecision(value), nil
	default:
		return "", fmt.Errorf("unknown policy decision %q", value)
	}
}

func convertRisorValue(obj object.Object) any {
	switch o := obj.(type) {
	case *object.String:
		return o.Value()
	case *object.Int:
		return o.Value()
	case *object.Float:
		return o.Value()
	case *object.Bool:
		return o.Value()
	case *object.Time:
		return o.Value()
	case *object.NilType:
		return nil
	case *object.List:
		var result []any
		for _, item := range o.Value() {
			result = append(result, convertRisorValue(item))
		}
		return result
	case *object.Map:
		result := map[string]any{}
		for key, value := range o.Value() {
			result[key] = convertRisorValue(value)
		}
		return result
	default:
		return obj.Inspect()
	}
}
