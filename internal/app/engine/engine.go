// Package engine implements the orchestrator: the single public write
// surface of the tally core. It sequences the provider registry, the task
// store, the pure consensus evaluator and the settlement builder, enforces
// the task state machine, and emits one audit record per operation.
//
// Concurrency model: task-scoped operations (request, submit, cancel,
// finalize) serialize behind a per-task mutex so independent tasks never
// block each other, while everything that mutates provider collateral —
// staking ops and the settlement phase of finalize — serializes behind one
// stake mutex so a slash can never race a withdrawal.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tally-network/tally/internal/app/consensus"
	"github.com/tally-network/tally/internal/app/ledger"
	"github.com/tally-network/tally/internal/app/registry"
	"github.com/tally-network/tally/internal/app/settlement"
	"github.com/tally-network/tally/internal/app/tasks"
	"github.com/tally-network/tally/internal/domain"
	"github.com/tally-network/tally/internal/infra/metrics"
	"github.com/tally-network/tally/internal/infra/params"
	"github.com/tally-network/tally/internal/infra/sqlite"
)

// Engine exposes the public operations of the consensus core.
type Engine struct {
	db       *sqlite.DB
	ledger   *ledger.Service
	registry *registry.Service
	tasks    *tasks.Service
	params   *params.Registry
	audit    domain.AuditSink

	// stakeMu serializes every operation that can move provider
	// collateral, including settlement.
	stakeMu sync.Mutex

	// Per-task locks for the task lifecycle hot path.
	lockMu    sync.Mutex
	taskLocks map[string]*sync.Mutex

	// Injectable clock and id source
	now   func() time.Time
	newID func() string
}

// New wires an engine from its collaborators.
func New(db *sqlite.DB, led *ledger.Service, reg *registry.Service,
	store *tasks.Service, pr *params.Registry, sink domain.AuditSink) *Engine {
	return &Engine{
		db:        db,
		ledger:    led,
		registry:  reg,
		tasks:     store,
		params:    pr,
		audit:     sink,
		taskLocks: make(map[string]*sync.Mutex),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// SetClock overrides the engine clock. Used by tests and by the daemon to
// share one clock across services.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// lockTask returns the mutex guarding one task's lifecycle.
func (e *Engine) lockTask(id string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	mu, ok := e.taskLocks[id]
	if !ok {
		mu = &sync.Mutex{}
		e.taskLocks[id] = mu
	}
	return mu
}

// record emits the audit record and operation metric for one operation.
// Failed operations carry their error class as outcome and move no funds.
func (e *Engine) record(op, entity string, amount int64, detail string, err error) {
	outcome := domain.AuditOutcomeOK
	if err != nil {
		outcome = string(domain.Classify(err))
		amount = 0
	}
	metrics.OperationsTotal.WithLabelValues(op, outcome).Inc()
	e.audit.Record(domain.AuditRecord{
		Operation:   op,
		EntityID:    entity,
		Outcome:     outcome,
		AmountMoved: amount,
		Detail:      detail,
		At:          e.now(),
	})
}

// ─── Account Operations ─────────────────────────────────────────────────────

// Deposit mints amount into a user's spendable balance (operator faucet).
func (e *Engine) Deposit(userID string, amount int64) (err error) {
	defer func() { e.record(domain.OpDeposit, userID, amount, "", err) }()
	return e.ledger.Deposit(userID, amount, "operator deposit")
}

// Balance returns a user's spendable balance.
func (e *Engine) Balance(userID string) (int64, error) {
	return e.ledger.Balance(domain.UserAccount(userID))
}

// History returns recent ledger entries for an account id as stored
// ("user:alice", "pool:protocol", ...).
func (e *Engine) History(account string, limit int) ([]domain.LedgerEntry, error) {
	return e.ledger.History(account, limit)
}

// ─── Provider Operations ────────────────────────────────────────────────────

// RegisterProvider stakes initialStake from the provider's user balance and
// creates an Active provider record.
func (e *Engine) RegisterProvider(id string, initialStake int64) (p domain.Provider, err error) {
	defer func() { e.record(domain.OpRegisterProvider, id, initialStake, "", err) }()

	e.stakeMu.Lock()
	defer e.stakeMu.Unlock()
	return e.registry.Register(id, initialStake, e.params.Snapshot())
}

// TopUpStake adds collateral to an existing provider.
func (e *Engine) TopUpStake(id string, amount int64) (p domain.Provider, err error) {
	defer func() { e.record(domain.OpTopUpStake, id, amount, "", err) }()

	e.stakeMu.Lock()
	defer e.stakeMu.Unlock()
	return e.registry.TopUp(id, amount)
}

// InitiateWithdrawal parks amount of collateral behind the safety period.
func (e *Engine) InitiateWithdrawal(id string, amount int64) (p domain.Provider, err error) {
	defer func() { e.record(domain.OpInitiateWithdrawal, id, amount, "", err) }()

	e.stakeMu.Lock()
	defer e.stakeMu.Unlock()
	return e.registry.InitiateWithdrawal(id, amount, e.params.Snapshot())
}

// CompleteWithdrawal pays out a matured withdrawal.
func (e *Engine) CompleteWithdrawal(id string) (p domain.Provider, released int64, err error) {
	defer func() { e.record(domain.OpCompleteWithdrawal, id, released, "", err) }()

	e.stakeMu.Lock()
	defer e.stakeMu.Unlock()
	return e.registry.CompleteWithdrawal(id)
}

// SetProviderActive toggles a provider between Active and Deactivated.
func (e *Engine) SetProviderActive(id string, active bool) (p domain.Provider, err error) {
	detail := "deactivate"
	if active {
		detail = "activate"
	}
	defer func() { e.record(domain.OpSetProviderActive, id, 0, detail, err) }()

	e.stakeMu.Lock()
	defer e.stakeMu.Unlock()
	return e.registry.SetActive(id, active)
}

// GetProvider returns a provider record.
func (e *Engine) GetProvider(id string) (domain.Provider, error) {
	return e.registry.Get(id)
}

// ListProviders returns all registered providers sorted by id.
func (e *Engine) ListProviders() []domain.Provider {
	return e.registry.List()
}

// CollateralOf returns a provider's staked collateral.
func (e *Engine) CollateralOf(id string) (int64, error) {
	return e.ledger.CollateralOf(id)
}

// PendingOf returns a provider's collateral parked behind a withdrawal.
func (e *Engine) PendingOf(id string) (int64, error) {
	return e.ledger.Balance(domain.PendingAccount(id))
}

// SlashesFor returns a provider's slash history, newest first.
func (e *Engine) SlashesFor(id string) ([]domain.SlashRecord, error) {
	return e.db.SlashesFor(id)
}

// ─── Task Operations ────────────────────────────────────────────────────────

// RequestTask creates a new consensus round, locking the requester's escrow.
func (e *Engine) RequestTask(requester string, spec domain.TaskSpec) (t domain.Task, err error) {
	id := e.newID()
	defer func() { e.record(domain.OpRequestTask, id, t.TotalEscrow, "requester "+requester, err) }()

	mu := e.lockTask(id)
	mu.Lock()
	defer mu.Unlock()

	t, err = e.tasks.Create(id, requester, spec, e.params.Snapshot())
	if err != nil {
		return domain.Task{}, err
	}
	metrics.TasksOpen.Inc()
	return t, nil
}

// CancelTask aborts an Open task with no submissions, refunding the escrow
// minus the protocol fee.
func (e *Engine) CancelTask(id, caller string) (t domain.Task, err error) {
	var refund int64
	defer func() { e.record(domain.OpCancelTask, id, refund, "caller "+caller, err) }()

	mu := e.lockTask(id)
	mu.Lock()
	defer mu.Unlock()

	t, refund, err = e.tasks.Cancel(id, caller)
	if err != nil {
		return domain.Task{}, err
	}
	metrics.TasksOpen.Dec()
	metrics.TasksFinalized.WithLabelValues(string(domain.TaskCancelled)).Inc()
	return t, nil
}

// SubmitResult stores one provider's answer to an Open task.
func (e *Engine) SubmitResult(taskID, providerID, payload string) (sub domain.Submission, err error) {
	defer func() { e.record(domain.OpSubmitResult, taskID, 0, "provider "+providerID, err) }()

	mu := e.lockTask(taskID)
	mu.Lock()
	defer mu.Unlock()

	t, err := e.tasks.Get(taskID)
	if err != nil {
		return domain.Submission{}, err
	}
	parsed, err := domain.ParsePayload(t.Kind, payload)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := e.registry.CheckEligible(providerID, t.RequiredProviderStake); err != nil {
		return domain.Submission{}, err
	}

	sub, err = e.tasks.AddSubmission(taskID, providerID, parsed)
	if err != nil {
		return domain.Submission{}, err
	}
	metrics.SubmissionsTotal.Inc()
	return sub, nil
}

// GetTask returns a task by id.
func (e *Engine) GetTask(id string) (domain.Task, error) {
	return e.tasks.Get(id)
}

// ListTasks returns tasks, newest first, optionally filtered by status.
func (e *Engine) ListTasks(status domain.TaskStatus, limit int) []domain.Task {
	return e.tasks.List(status, limit)
}

// Submissions returns a task's submissions in arrival order.
func (e *Engine) Submissions(taskID string) ([]domain.Submission, error) {
	return e.tasks.SubmissionsOf(taskID)
}

// DueTaskIDs returns Open tasks whose deadline has passed at now. The
// background sweeper feeds these into FinalizeTask.
func (e *Engine) DueTaskIDs(now time.Time) []string {
	return e.tasks.DueForFinalize(now)
}

// ─── Finalization ───────────────────────────────────────────────────────────

// FinalizeTask settles one round exactly once: it evaluates consensus over
// the submissions, commits rewards, refunds and slashes in a single
// transaction, and lands the task in Completed or Failed. Anyone may call
// it after the deadline; re-invocation on a terminal task is a state error
// that moves no funds.
func (e *Engine) FinalizeTask(id string) (t domain.Task, err error) {
	start := time.Now()
	var detail string
	defer func() {
		e.record(domain.OpFinalizeTask, id, 0, detail, err)
		if err == nil {
			metrics.FinalizeDuration.Observe(time.Since(start).Seconds())
		}
	}()

	mu := e.lockTask(id)
	mu.Lock()
	defer mu.Unlock()

	round, subs, err := e.tasks.BeginFinalize(id)
	if err != nil {
		return domain.Task{}, err
	}

	// Settlement reads and mutates collateral; hold the stake mutex so the
	// planned slash amounts cannot drift from the applied ones.
	e.stakeMu.Lock()
	defer e.stakeMu.Unlock()

	var out consensus.Outcome
	quorumMet := len(subs) >= round.MinProviders
	if quorumMet {
		out = consensus.Evaluate(round.Kind, round.NumericToleranceBps, round.CategoricalMajorityBps, subs)
		outcome := "failed"
		if out.Reached {
			outcome = "reached"
		}
		metrics.ConsensusRounds.WithLabelValues(string(round.Kind), outcome).Inc()
	}

	plan, err := settlement.Build(round, subs, out,
		e.registry.Get, e.ledger.CollateralOf, e.newID, e.now())
	if err != nil {
		return domain.Task{}, fmt.Errorf("build settlement for %s: %w", id, err)
	}

	err = e.db.FinalizeTaskTx(plan.Task, plan.Submissions, plan.Transfers,
		plan.Slashes, plan.Providers, e.now())
	if err != nil {
		return domain.Task{}, fmt.Errorf("commit settlement for %s: %w", id, err)
	}

	// The transaction committed; in-memory state follows and cannot fail.
	e.tasks.ApplyFinalization(plan.Task, plan.Submissions)
	e.registry.ApplySettlement(plan.Providers)

	metrics.TasksOpen.Dec()
	metrics.TasksFinalized.WithLabelValues(string(plan.Task.Status)).Inc()
	metrics.ProtocolFees.Add(float64(plan.Fee))
	if plan.Completed() {
		metrics.RewardsPaid.Add(float64(plan.RewardPerAccepted * int64(out.AcceptedCount)))
		metrics.AmountSlashed.Add(float64(plan.TotalSlashed))
		detail = fmt.Sprintf("completed, result %s", plan.Task.FinalResult)
	} else if !quorumMet {
		detail = fmt.Sprintf("failed, %d of %d required submissions", len(subs), round.MinProviders)
	} else {
		detail = "failed, no consensus"
	}

	return plan.Task, nil
}

// ─── Status Surfaces ────────────────────────────────────────────────────────

// Stats summarizes engine state for status and health surfaces.
type Stats struct {
	ProvidersActive int   `json:"providers_active"`
	ProvidersTotal  int   `json:"providers_total"`
	TasksOpen       int   `json:"tasks_open"`
	TasksCompleted  int   `json:"tasks_completed"`
	TasksFailed     int   `json:"tasks_failed"`
	TasksCancelled  int   `json:"tasks_cancelled"`
	TotalStaked     int64 `json:"total_staked"`
	ProtocolPool    int64 `json:"protocol_pool"`
}

// Stats returns the current engine statistics and refreshes the stake and
// open-task gauges.
func (e *Engine) Stats() (Stats, error) {
	counts := e.tasks.CountByStatus()
	staked, err := e.ledger.TotalStaked(e.registry.IDs())
	if err != nil {
		return Stats{}, err
	}
	pool, err := e.ledger.Balance(domain.ProtocolPoolAccount)
	if err != nil {
		return Stats{}, err
	}

	s := Stats{
		ProvidersActive: e.registry.CountActive(),
		ProvidersTotal:  len(e.registry.IDs()),
		TasksOpen:       counts[domain.TaskOpen],
		TasksCompleted:  counts[domain.TaskCompleted],
		TasksFailed:     counts[domain.TaskFailed],
		TasksCancelled:  counts[domain.TaskCancelled],
		TotalStaked:     staked,
		ProtocolPool:    pool,
	}
	metrics.ProvidersActive.Set(float64(s.ProvidersActive))
	metrics.StakeLocked.Set(float64(s.TotalStaked))
	metrics.TasksOpen.Set(float64(s.TasksOpen))
	return s, nil
}

// Params returns the current governance parameter snapshot.
func (e *Engine) Params() domain.Params {
	return e.params.Snapshot()
}

// ParamList returns every governance parameter with metadata.
func (e *Engine) ParamList() []params.Param {
	return e.params.List()
}

// VerifyLedger checks the double-entry invariants across the whole ledger.
func (e *Engine) VerifyLedger() error {
	return e.ledger.VerifyBalanced()
}
