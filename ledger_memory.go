package saferun

import (
	"context"
	"sync"

	"go.jetify.com/typeid"
)

// escrowAccount tracks one locked escrow balance and its releases.
type escrowAccount struct {
	amount    float64
	remaining float64
	posterID  string
	executor  string
	releases  []PaymentSplit
}

// MemoryLedger is an in-memory PaymentLedger for tests and local runs. It
// enforces per-escrow conservation: the sum of all releases plus the
// remaining balance always equals the originally locked amount, and a
// release that would overdraw the balance is rejected.
type MemoryLedger struct {
	mutex    sync.Mutex
	accounts map[string]*escrowAccount
}

// NewMemoryLedger returns an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{accounts: map[string]*escrowAccount{}}
}

func (l *MemoryLedger) LockEscrow(ctx context.Context, amount float64, posterID, executorID string) (string, error) {
	if amount < 0 {
		return "", Errorf(ErrKindPaymentFailure, "cannot lock negative escrow amount %v", amount)
	}
	id, err := typeid.WithPrefix("esc")
	if err != nil {
		return "", err
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.accounts[id.String()] = &escrowAccount{
		amount:    amount,
		remaining: amount,
		posterID:  posterID,
		executor:  executorID,
	}
	return id.String(), nil
}

func (l *MemoryLedger) ReleaseEscrow(ctx context.Context, escrowID string, amount float64, recipientID, reason string) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.releaseLocked(escrowID, amount, recipientID, reason)
}

func (l *MemoryLedger) SplitPayment(ctx context.Context, escrowID string, splits []PaymentSplit) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	account, ok := l.accounts[escrowID]
	if !ok {
		return Errorf(ErrKindNotFound, "escrow %s not found", escrowID)
	}
	var total float64
	for _, split := range splits {
		total += split.Amount
	}
	if total > account.remaining+floatTolerance {
		return Errorf(ErrKindPaymentFailure,
			"split total %v exceeds remaining escrow %v", total, account.remaining)
	}
	for _, split := range splits {
		if err := l.releaseLocked(escrowID, split.Amount, split.RecipientID, split.Reason); err != nil {
			return err
		}
	}
	return nil
}

func (l *MemoryLedger) RemainingEscrow(ctx context.Context, escrowID string) (float64, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	account, ok := l.accounts[escrowID]
	if !ok {
		return 0, Errorf(ErrKindNotFound, "escrow %s not found", escrowID)
	}
	return account.remaining, nil
}

// Releases returns every release made against an escrow, in order.
func (l *MemoryLedger) Releases(escrowID string) []PaymentSplit {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	account, ok := l.accounts[escrowID]
	if !ok {
		return nil
	}
	return append([]PaymentSplit{}, account.releases...)
}

// ReleasedTo sums the amounts released to one recipient from an escrow.
func (l *MemoryLedger) ReleasedTo(escrowID, recipientID string) float64 {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	account, ok := l.accounts[escrowID]
	if !ok {
		return 0
	}
	var total float64
	for _, release := range account.releases {
		if release.RecipientID == recipientID {
			total += release.Amount
		}
	}
	return total
}

// TotalReleased sums every release made against an escrow.
func (l *MemoryLedger) TotalReleased(escrowID string) float64 {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	account, ok := l.accounts[escrowID]
	if !ok {
		return 0
	}
	var total float64
	for _, release := range account.releases {
		total += release.Amount
	}
	return total
}

// LockedAmount returns the amount originally locked for an escrow.
func (l *MemoryLedger) LockedAmount(escrowID string) float64 {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	account, ok := l.accounts[escrowID]
	if !ok {
		return 0
	}
	return account.amount
}

func (l *MemoryLedger) releaseLocked(escrowID string, amount float64, recipientID, reason string) error {
	account, ok := l.accounts[escrowID]
	if !ok {
		return Errorf(ErrKindNotFound, "escrow %s not found", escrowID)
	}
	if amount < 0 {
		return Errorf(ErrKindPaymentFailure, "cannot release negative amount %v", amount)
	}
	if amount > account.remaining+floatTolerance {
		return Errorf(ErrKindPaymentFailure,
			"release of %v exceeds remaining escrow %v", amount, account.remaining)
	}
	account.remaining -= amount
	account.releases = append(account.releases, PaymentSplit{
		RecipientID: recipientID,
		Amount:      amount,
		Reason:      reason,
	})
	return nil
}

// memoryJob records one job entry in the in-memory book.
type memoryJob struct {
	JobID      string
	WorkflowID string
	Kind       string
	Summary    string
	Status     string
}

// MemoryJobBook is an in-memory JobBook for tests and local runs.
type MemoryJobBook struct {
	mutex sync.Mutex
	jobs  map[string]*memoryJob
}

// NewMemoryJobBook returns an empty in-memory job book.
func NewMemoryJobBook() *MemoryJobBook {
	return &MemoryJobBook{jobs: map[string]*memoryJob{}}
}

func (b *MemoryJobBook) CreateJob(ctx context.Context, workflowID, description string, escrowAmount float64, executorID string) (string, error) {
	return b.create(workflowID, "execution", description)
}

func (b *MemoryJobBook) CreateApprovalJob(ctx context.Context, workflowID, requestID, summary, supervisorID string) (string, error) {
	return b.create(workflowID, "approval", summary)
}

func (b *MemoryJobBook) UpdateJobStatus(ctx context.Context, jobID, status string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	job, ok := b.jobs[jobID]
	if !ok {
		return Errorf(ErrKindNotFound, "job %s not found", jobID)
	}
	job.Status = status
	return nil
}

// JobsForWorkflow returns the jobs recorded for a workflow.
func (b *MemoryJobBook) JobsForWorkflow(workflowID string) []string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	var ids []string
	for id, job := range b.jobs {
		if job.WorkflowID == workflowID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (b *MemoryJobBook) create(workflowID, kind, summary string) (string, error) {
	id, err := typeid.WithPrefix("job")
	if err != nil {
		return "", err
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.jobs[id.String()] = &memoryJob{
		JobID:      id.String(),
		WorkflowID: workflowID,
		Kind:       kind,
		Summary:    summary,
		Status:     "open",
	}
	return id.String(), nil
}
