package saferun

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"go.jetify.com/typeid"
)

// ApprovalDecision is a reviewer's verdict on a checkpoint.
type ApprovalDecision string

const (
	DecisionApproved ApprovalDecision = "approved"
	DecisionRejected ApprovalDecision = "rejected"
	DecisionModified ApprovalDecision = "modified"
)

// NewApprovalRequestID returns a new prefixed unique ID for an approval request.
func NewApprovalRequestID() string {
	id, err := typeid.WithPrefix("apr")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ApprovalRequest asks a reviewer to approve continuation past a checkpoint.
type ApprovalRequest struct {
	RequestID    string         `json:"request_id"`
	WorkflowID   string         `json:"workflow_id"`
	CheckpointID string         `json:"checkpoint_id"`
	SnapshotID   string         `json:"snapshot_id"`
	Summary      string         `json:"summary"`
	Context      map[string]any `json:"context,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ExpiresAt    time.Time      `json:"expires_at"`
}

// Copy returns a copy of the request with its own context map.
func (r *ApprovalRequest) Copy() *ApprovalRequest {
	copied := *r
	copied.Context = copyMap(r.Context)
	return &copied
}

// ApprovalResponse is a reviewer's resolution of an approval request.
// Modifications are only meaningful when the decision is Modified and are
// opaque to the gateway, which threads them through to the orchestrator.
type ApprovalResponse struct {
	RequestID     string           `json:"request_id"`
	Decision      ApprovalDecision `json:"decision"`
	Rationale     string           `json:"rationale"`
	Modifications map[string]any   `json:"modifications,omitempty"`
	ResponderID   string           `json:"responder_id"`
	RespondedAt   time.Time        `json:"responded_at"`
}

type trackedApproval struct {
	request  *ApprovalRequest
	resolved bool
	expired  bool
	response *ApprovalResponse
}

// ApprovalGateway creates, tracks, and resolves approval requests. It
// enforces at most one outstanding (unresolved, unexpired) request per
// workflow. Expiry is evaluated lazily at the next read of a request rather
// than by a background timer; a workflow may therefore sit logically expired
// until next touched, which is acceptable because the timeout transition has
// no other time-sensitive external effect.
type ApprovalGateway struct {
	mutex      sync.Mutex
	requests   map[string]*trackedApproval
	byWorkflow map[string]string // workflow ID -> latest request ID
	logger     *slog.Logger
	now        func() time.Time
}

// NewApprovalGateway returns an empty gateway.
func NewApprovalGateway(logger *slog.Logger) *ApprovalGateway {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ApprovalGateway{
		requests:   map[string]*trackedApproval{},
		byWorkflow: map[string]string{},
		logger:     logger,
		now:        time.Now,
	}
}

// Open creates a new approval request for the workflow. It fails with
// ErrKindDuplicatePending if an unresolved, unexpired request already exists.
func (g *ApprovalGateway) Open(workflowID string, checkpoint CheckpointConfig, snapshot *CheckpointSnapshot, summary string, requestContext map[string]any) (*ApprovalRequest, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	now := g.now()
	if requestID, ok := g.byWorkflow[workflowID]; ok {
		tracked := g.requests[requestID]
		if !tracked.resolved && now.Before(tracked.request.ExpiresAt) {
			return nil, Errorf(ErrKindDuplicatePending,
				"workflow %s already has pending approval request %s", workflowID, requestID)
		}
	}

	timeout := checkpoint.Timeout
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}
	request := &ApprovalRequest{
		RequestID:    NewApprovalRequestID(),
		WorkflowID:   workflowID,
		CheckpointID: checkpoint.ID,
		SnapshotID:   snapshot.SnapshotID,
		Summary:      summary,
		Context:      copyMap(requestContext),
		CreatedAt:    now,
		ExpiresAt:    now.Add(timeout),
	}
	g.requests[request.RequestID] = &trackedApproval{request: request}
	g.byWorkflow[workflowID] = request.RequestID

	g.logger.Info("approval request opened",
		"workflow_id", workflowID,
		"request_id", request.RequestID,
		"checkpoint_id", checkpoint.ID,
		"expires_at", request.ExpiresAt)

	return request.Copy(), nil
}

// Peek returns the request if it is still resolvable: known, unresolved, and
// unexpired. It fails with ErrKindNotFound, ErrKindAlreadyResolved, or
// ErrKindExpired otherwise. Callers receiving ErrKindExpired must treat the
// request as a timeout event instead of resolving it.
func (g *ApprovalGateway) Peek(requestID string) (*ApprovalRequest, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	tracked, err := g.resolvableLocked(requestID, g.now())
	if err != nil {
		return nil, err
	}
	return tracked.request.Copy(), nil
}

// Resolve records a response against an open request and returns the
// resolved request, judging expiry at the gateway clock. Failure modes
// match Peek.
func (g *ApprovalGateway) Resolve(requestID string, response ApprovalResponse) (*ApprovalRequest, error) {
	return g.ResolveAt(requestID, response, g.now())
}

// ResolveAt is Resolve with expiry judged at a caller-supplied instant. A
// caller that checked expiry at the same instant earlier in one operation
// cannot then race the wall clock between the check and the resolve.
func (g *ApprovalGateway) ResolveAt(requestID string, response ApprovalResponse, now time.Time) (*ApprovalRequest, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	tracked, err := g.resolvableLocked(requestID, now)
	if err != nil {
		return nil, err
	}
	if response.RespondedAt.IsZero() {
		response.RespondedAt = now
	}
	response.RequestID = requestID
	tracked.resolved = true
	tracked.response = &response

	g.logger.Info("approval request resolved",
		"workflow_id", tracked.request.WorkflowID,
		"request_id", requestID,
		"decision", response.Decision,
		"responder_id", response.ResponderID)

	return tracked.request.Copy(), nil
}

// Timeout closes an expired, unresolved request so the workflow can take its
// timeout transition. It fails with ErrKindInvalidTransition if the request
// has not expired yet.
func (g *ApprovalGateway) Timeout(requestID string) (*ApprovalRequest, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	tracked, ok := g.requests[requestID]
	if !ok {
		return nil, Errorf(ErrKindNotFound, "approval request %s not found", requestID)
	}
	if tracked.resolved {
		return nil, Errorf(ErrKindAlreadyResolved, "approval request %s already resolved", requestID)
	}
	if g.now().Before(tracked.request.ExpiresAt) {
		return nil, Errorf(ErrKindInvalidTransition,
			"approval request %s has not expired yet", requestID)
	}
	tracked.resolved = true
	tracked.expired = true

	g.logger.Warn("approval request timed out",
		"workflow_id", tracked.request.WorkflowID,
		"request_id", requestID,
		"expired_at", tracked.request.ExpiresAt)

	return tracked.request.Copy(), nil
}

// Cancel force-closes an outstanding request without a response, for use
// when the workflow is failed while a request is pending. Unknown or already
// resolved requests are ignored.
func (g *ApprovalGateway) Cancel(requestID string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if tracked, ok := g.requests[requestID]; ok && !tracked.resolved {
		tracked.resolved = true
	}
}

// PendingForWorkflow returns the workflow's outstanding request, whether it
// has lapsed past its expiry, and whether one exists at all.
func (g *ApprovalGateway) PendingForWorkflow(workflowID string) (request *ApprovalRequest, lapsed bool, ok bool) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	requestID, found := g.byWorkflow[workflowID]
	if !found {
		return nil, false, false
	}
	tracked := g.requests[requestID]
	if tracked.resolved {
		return nil, false, false
	}
	return tracked.request.Copy(), !g.now().Before(tracked.request.ExpiresAt), true
}

// Pending returns all unresolved, unexpired requests across workflows.
func (g *ApprovalGateway) Pending() []*ApprovalRequest {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	now := g.now()
	var pending []*ApprovalRequest
	for _, tracked := range g.requests {
		if !tracked.resolved && now.Before(tracked.request.ExpiresAt) {
			pending = append(pending, tracked.request.Copy())
		}
	}
	return pending
}

func (g *ApprovalGateway) resolvableLocked(requestID string, now time.Time) (*trackedApproval, error) {
	tracked, ok := g.requests[requestID]
	if !ok {
		return nil, Errorf(ErrKindNotFound, "approval request %s not found", requestID)
	}
	if tracked.resolved {
		return nil, Errorf(ErrKindAlreadyResolved, "approval request %s already resolved", requestID)
	}
	if !now.Before(tracked.request.ExpiresAt) {
		return nil, Errorf(ErrKindExpired, "approval request %s expired at %s",
			requestID, tracked.request.ExpiresAt.Format(time.RFC3339))
	}
	return tracked, nil
}
