package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/saferun-ai/saferun"
	"github.com/saferun-ai/saferun/policy"
)

// CLI configuration
type Config struct {
	WorkflowFile string
	PolicyFile   string
	ArtifactsDir string
	Timeout      time.Duration
	Verbose      bool
	JSON         bool
	AutoApprove  bool
}

func main() {
	config := parseFlags()

	if config.WorkflowFile == "" {
		color.Red("Error: workflow file is required")
		flag.Usage()
		os.Exit(1)
	}
	if _, err := os.Stat(config.WorkflowFile); os.IsNotExist(err) {
		color.Red("Error: workflow file '%s' not found", config.WorkflowFile)
		os.Exit(1)
	}

	logger := setupLogger(config)

	color.Blue("Loading workflow from: %s", config.WorkflowFile)
	workflowConfig, err := saferun.LoadFile(config.WorkflowFile)
	if err != nil {
		log.Fatalf("Failed to load workflow: %v", err)
	}

	color.Cyan("Workflow: %s", workflowConfig.Name)
	if workflowConfig.Description != "" {
		color.White("Description: %s", workflowConfig.Description)
	}
	color.White("Checkpoints: %d, escrow: %.2f", len(workflowConfig.Checkpoints), workflowConfig.EscrowAmount)

	reviewer, err := buildReviewer(config, workflowConfig.SupervisorID)
	if err != nil {
		log.Fatalf("Failed to set up reviewer: %v", err)
	}

	var artifacts saferun.ArtifactStore
	if config.ArtifactsDir != "" {
		artifacts, err = saferun.NewFileArtifactStore(config.ArtifactsDir)
		if err != nil {
			log.Fatalf("Failed to create artifact store: %v", err)
		}
		color.Blue("Artifacts: %s", config.ArtifactsDir)
	} else {
		artifacts = saferun.NewNullArtifactStore()
	}

	ledger := saferun.NewMemoryLedger()
	jobs := saferun.NewMemoryJobBook()

	orchestrator, err := saferun.NewOrchestrator(saferun.OrchestratorOptions{
		Ledger:    ledger,
		Artifacts: artifacts,
		Jobs:      jobs,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	ctx := context.Background()
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
		color.Yellow("Timeout: %v", config.Timeout)
	}

	startTime := time.Now()
	view, err := run(ctx, orchestrator, workflowConfig, reviewer)
	duration := time.Since(startTime)

	showResults(view, ledger, err, duration, config)
}

// run drives a workflow from initialization through settlement, capturing a
// synthetic execution state at each checkpoint and resolving approvals with
// the configured reviewer.
func run(ctx context.Context, orchestrator *saferun.Orchestrator, config *saferun.WorkflowConfig, reviewer policy.Reviewer) (*saferun.WorkflowView, error) {
	view, err := orchestrator.InitializeWorkflow(ctx, *config)
	if err != nil {
		return nil, err
	}
	workflowID := view.WorkflowID
	color.Green("Workflow initialized (ID: %s)", workflowID)

	if view, err = orchestrator.StartExecution(ctx, workflowID); err != nil {
		return view, err
	}

	const maxRollbacks = 3
	rollbacks := 0
	for !view.State.Terminal() {
		switch view.State {
		case saferun.StateExecuting:
			checkpoint := config.Checkpoints[view.CheckpointIndex]
			color.White("Executing phase %d: %s", view.CheckpointIndex+1, checkpoint.Name)
			state := demoState(checkpoint, view.CheckpointIndex)
			if _, err := orchestrator.CreateCheckpoint(ctx, workflowID, state); err != nil {
				return view, err
			}

		case saferun.StateAwaitingApproval:
			pending := pendingFor(orchestrator, workflowID)
			if pending == nil {
				return view, fmt.Errorf("workflow awaiting approval with no pending request")
			}
			color.Yellow("Awaiting approval: %s", pending.Summary)
			response, err := reviewer.Review(ctx, pending)
			if err != nil {
				return view, err
			}
			color.Yellow("Decision: %s", response.Decision)
			if _, err := orchestrator.SubmitApproval(ctx, workflowID, *response); err != nil {
				return view, err
			}

		case saferun.StateRollingBack:
			rollbacks++
			if rollbacks > maxRollbacks {
				color.Red("Rollback limit reached, failing workflow")
				if _, err := orchestrator.FailWorkflow(ctx, workflowID, "rollback limit reached"); err != nil {
					return view, err
				}
				break
			}
			color.Magenta("Rolling back to last accepted checkpoint")
			if _, err := orchestrator.Rollback(ctx, workflowID); err != nil {
				return view, err
			}

		case saferun.StateSettling:
			color.White("Settling workflow")
			if _, err := orchestrator.SettleWorkflow(ctx, workflowID, map[string]any{
				"completed_at": time.Now().UTC().Format(time.RFC3339),
			}); err != nil {
				return view, err
			}
		}

		if view, err = orchestrator.GetWorkflow(workflowID); err != nil {
			return view, err
		}
	}

	return view, nil
}

func pendingFor(orchestrator *saferun.Orchestrator, workflowID string) *saferun.ApprovalRequest {
	for _, request := range orchestrator.PendingApprovals() {
		if request.WorkflowID == workflowID {
			return request
		}
	}
	return nil
}

// demoState fabricates an execution state for the given phase. A real driver
// would capture the agent's actual memory, API calls, and outputs here.
func demoState(checkpoint saferun.CheckpointConfig, index int) *saferun.ExecutionState {
	return &saferun.ExecutionState{
		AgentMemory: map[string]any{
			"phase": checkpoint.ID,
		},
		APICalls: []map[string]any{
			{"endpoint": "demo/execute", "phase": checkpoint.ID},
		},
		IntermediateOutputs: map[string]any{
			checkpoint.ID: fmt.Sprintf("output of phase %d", index+1),
		},
		DecisionTrace: []string{
			fmt.Sprintf("executed phase %q", checkpoint.Name),
		},
		ResourceConsumption: map[string]float64{
			"tokens": float64(1000 * (index + 1)),
		},
	}
}

func buildReviewer(config *Config, supervisorID string) (policy.Reviewer, error) {
	if supervisorID == "" {
		supervisorID = "cli-reviewer"
	}
	if config.PolicyFile != "" {
		source, err := os.ReadFile(config.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy script: %w", err)
		}
		color.Blue("Policy: %s", config.PolicyFile)
		return policy.NewRisorReviewer(context.Background(), string(source), supervisorID)
	}
	if config.AutoApprove {
		return policy.ApproveAll(supervisorID), nil
	}
	return interactiveReviewer(supervisorID), nil
}

// interactiveReviewer prompts on stdin for each approval decision.
func interactiveReviewer(responderID string) policy.Reviewer {
	return policy.ReviewerFunc(func(ctx context.Context, request *saferun.ApprovalRequest) (*saferun.ApprovalResponse, error) {
		fmt.Printf("Approve checkpoint %s? [y/n/m]: ", request.CheckpointID)
		var answer string
		if _, err := fmt.Scanln(&answer); err != nil {
			return nil, err
		}
		decision := saferun.DecisionRejected
		switch answer {
		case "y", "Y", "yes":
			decision = saferun.DecisionApproved
		case "m", "M":
			decision = saferun.DecisionModified
		}
		return &saferun.ApprovalResponse{
			RequestID:   request.RequestID,
			Decision:    decision,
			ResponderID: responderID,
		}, nil
	})
}

func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.WorkflowFile, "file", "", "Path to the YAML workflow definition file (required)")
	flag.StringVar(&config.WorkflowFile, "f", "", "Path to the YAML workflow definition file (shorthand)")

	flag.StringVar(&config.PolicyFile, "policy", "", "Path to a Risor policy script for automated approval (optional)")
	flag.StringVar(&config.ArtifactsDir, "artifacts", "", "Directory to store checkpoint snapshot artifacts (optional)")

	flag.DurationVar(&config.Timeout, "timeout", 0, "Run timeout (e.g., 30s, 5m, 1h)")
	flag.DurationVar(&config.Timeout, "t", 0, "Run timeout (shorthand)")

	flag.BoolVar(&config.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&config.Verbose, "v", false, "Enable verbose logging (shorthand)")

	flag.BoolVar(&config.JSON, "json", false, "Output results in JSON format")
	flag.BoolVar(&config.AutoApprove, "auto", false, "Approve every checkpoint without prompting")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `saferun - Run a supervised workflow with checkpoint approvals

Usage: %s [options] -file <workflow.yaml>

Examples:
  # Run interactively, prompting for each approval
  %s -file workflow.yaml

  # Run with a Risor approval policy and persisted snapshots
  %s -file workflow.yaml -policy approve.risor -artifacts ./artifacts

  # Run unattended, approving everything
  %s -file workflow.yaml -auto -json

Options:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()
	return config
}

func setupLogger(config *Config) *slog.Logger {
	level := slog.LevelError
	if config.Verbose {
		level = slog.LevelInfo
	}
	if config.JSON {
		return saferun.NewJSONLogger(level)
	}
	return saferun.NewLogger(level)
}

func showResults(view *saferun.WorkflowView, ledger *saferun.MemoryLedger, err error, duration time.Duration, config *Config) {
	color.White("Run completed in %v", duration)

	if err != nil {
		color.Red("Error: %v", err)
	}
	if view == nil {
		os.Exit(1)
	}

	color.White("State: %s", view.State)
	if view.ErrorMessage != "" {
		color.Red("Failure reason: %s", view.ErrorMessage)
	}

	if config.JSON {
		output, marshalErr := json.MarshalIndent(view, "", "  ")
		if marshalErr != nil {
			fmt.Printf("Error formatting result: %v\n", marshalErr)
		} else {
			fmt.Println(string(output))
		}
	} else if view.Settlement != nil {
		fmt.Printf("\n")
		color.Magenta("Settlement:")
		fmt.Printf("  completion: %.0f%%\n", view.Settlement.CompletionFraction*100)
		fmt.Printf("  payout:     %.2f\n", view.Settlement.Payout)
		fmt.Printf("  returned:   %.2f\n", view.Settlement.ReturnedToPoster)
		for _, split := range ledger.Releases(view.EscrowID) {
			fmt.Printf("  %-12s %.2f -> %s\n", split.Reason+":", split.Amount, split.RecipientID)
		}
	}

	if err != nil || view.State == saferun.StateFailed {
		os.Exit(1)
	}
	color.Green("Workflow successful!")
}
