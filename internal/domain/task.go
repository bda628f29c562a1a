// Package domain contains the core types of the tally engine: providers,
// tasks, submissions, ledger transfers and audit records. Domain types are
// pure and carry no infrastructure dependencies.
package domain

import "time"

// TaskKind selects the consensus rule applied to a task's submissions.
type TaskKind string

const (
	KindNumeric     TaskKind = "NUMERIC"
	KindCategorical TaskKind = "CATEGORICAL"
)

// Valid reports whether the kind is one of the supported consensus kinds.
func (k TaskKind) Valid() bool {
	return k == KindNumeric || k == KindCategorical
}

// TaskStatus tracks task lifecycle.
//
// Requested exists only transiently inside task creation: a task is stored
// Open once its escrow is locked. Finalizing is an intra-call marker and is
// never persisted, so an interrupted finalization leaves the task Open and
// re-runnable.
type TaskStatus string

const (
	TaskRequested  TaskStatus = "REQUESTED"
	TaskOpen       TaskStatus = "OPEN"
	TaskFinalizing TaskStatus = "FINALIZING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskCancelled  TaskStatus = "CANCELLED"
)

// Verdict is the per-submission consensus outcome.
type Verdict string

const (
	VerdictPending  Verdict = "PENDING"
	VerdictAccepted Verdict = "ACCEPTED"
	VerdictRejected Verdict = "REJECTED"
)

// Task is one consensus round: a requester escrows a reward pool, staked
// providers submit results, and finalization settles the round.
type Task struct {
	ID                     string     `json:"id"`
	Requester              string     `json:"requester"`
	Kind                   TaskKind   `json:"kind"`
	InputRef               string     `json:"input_ref,omitempty"`
	InputDigest            string     `json:"input_digest,omitempty"`
	MinProviders           int        `json:"min_providers"`
	RequiredProviderStake  int64      `json:"required_provider_stake"`
	RewardPerProvider      int64      `json:"reward_per_provider"`
	SubmissionDeadline     time.Time  `json:"submission_deadline"`
	Status                 TaskStatus `json:"status"`
	FinalResult            string     `json:"final_result,omitempty"`
	NumericToleranceBps    int64      `json:"numeric_tolerance_bps,omitempty"`
	CategoricalMajorityBps int64      `json:"categorical_majority_bps,omitempty"`

	// Economic rates are pinned at creation so later governance changes
	// never mutate an in-flight round.
	ProtocolFeeBps int64 `json:"protocol_fee_bps"`
	SlashRateBps   int64 `json:"slash_rate_bps"`

	TotalEscrow int64     `json:"total_escrow"`
	CreatedAt   time.Time `json:"created_at"`
	FinalizedAt time.Time `json:"finalized_at,omitempty"`
}

// IsTerminal returns true once the task has reached a final state.
// Terminal states are sticky: no operation may move a task out of one.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed || t.Status == TaskCancelled
}

// EscrowBase is the reward portion of the escrow: minProviders * rewardPerProvider.
// Overflow is checked at creation, so plain multiplication is safe here.
func (t *Task) EscrowBase() int64 {
	return int64(t.MinProviders) * t.RewardPerProvider
}

// ProtocolFee is the fee portion of the escrow, fixed when the escrow was
// computed. Deriving it from TotalEscrow keeps creation and settlement in
// exact agreement.
func (t *Task) ProtocolFee() int64 {
	return t.TotalEscrow - t.EscrowBase()
}

// AcceptsSubmissionsAt reports whether a submission arriving at now is
// inside the task's window. The deadline instant itself is past the window.
func (t *Task) AcceptsSubmissionsAt(now time.Time) bool {
	return t.Status == TaskOpen && now.Before(t.SubmissionDeadline)
}

// DueForFinalizeAt reports whether the task can be finalized at now.
// Finalization requires the deadline to have strictly passed.
func (t *Task) DueForFinalizeAt(now time.Time) bool {
	return t.Status == TaskOpen && now.After(t.SubmissionDeadline)
}

// Submission is one provider's answer to a task.
type Submission struct {
	TaskID       string    `json:"task_id"`
	ProviderID   string    `json:"provider_id"`
	Payload      string    `json:"payload"`
	NumericValue int64     `json:"numeric_value,omitempty"`
	Digest       string    `json:"digest"`
	Verdict      Verdict   `json:"verdict"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// TaskSpec carries the requester-supplied parameters of a new task.
// Nil tolerance fields mean "use the governance default"; an explicit zero
// is honored literally (a 0% numeric tolerance accepts only the median).
type TaskSpec struct {
	Kind                   TaskKind      `json:"kind"`
	InputRef               string        `json:"input_ref,omitempty"`
	MinProviders           int           `json:"min_providers"`
	RequiredProviderStake  int64         `json:"required_provider_stake"`
	RewardPerProvider      int64         `json:"reward_per_provider"`
	SubmissionWindow       time.Duration `json:"submission_window"`
	NumericToleranceBps    *int64        `json:"numeric_tolerance_bps,omitempty"`
	CategoricalMajorityBps *int64        `json:"categorical_majority_bps,omitempty"`
}
