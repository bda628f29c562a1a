// Package settlement converts a consensus outcome into ledger effects:
// reward payouts, escrow refunds and collateral slashes, plus the verdict,
// reputation and slash-record writes that go with them.
//
// Build produces a plan; it moves no money itself. The orchestrator commits
// the whole plan in one sqlite transaction via FinalizeTaskTx, so a round
// either settles completely or not at all. Every terminal path drains the
// task's escrow account to exactly zero.
package settlement

import (
	"fmt"
	"time"

	"github.com/tally-network/tally/internal/app/consensus"
	"github.com/tally-network/tally/internal/domain"
)

// Plan is one round's complete settlement, ready to commit atomically.
type Plan struct {
	Task        domain.Task
	Submissions []domain.Submission
	Transfers   []domain.Transfer
	Slashes     []domain.SlashRecord
	Providers   []domain.Provider

	// Settlement figures for audit detail and metrics.
	RewardPerAccepted int64
	TotalSlashed      int64
	Refund            int64
	Fee               int64
}

// Completed reports whether the plan lands the task in Completed.
func (p *Plan) Completed() bool { return p.Task.Status == domain.TaskCompleted }

// ProviderLookup resolves a provider's current record.
type ProviderLookup func(id string) (domain.Provider, error)

// CollateralLookup resolves a provider's current staked collateral.
type CollateralLookup func(id string) (int64, error)

// Build produces the settlement plan for a finalizing task.
//
// Insufficient participation (fewer submissions than the quorum) and a
// formed-but-failed consensus both land in Failed: the requester is
// refunded minus the protocol fee and no provider is penalized. Only a
// reached consensus rewards the accepted and slashes the rejected.
func Build(task domain.Task, subs []domain.Submission, out consensus.Outcome,
	getProvider ProviderLookup, collateralOf CollateralLookup,
	newID func() string, now time.Time) (Plan, error) {

	if len(subs) < task.MinProviders || !out.Reached {
		return buildFailed(task, subs, now), nil
	}
	return buildCompleted(task, subs, out, getProvider, collateralOf, newID, now)
}

// buildFailed refunds the requester minus the protocol fee. Submissions
// keep their Pending verdicts; a round that never formed a consensus has
// no misconduct to punish.
func buildFailed(task domain.Task, subs []domain.Submission, now time.Time) Plan {
	fee := task.ProtocolFee()
	refund := task.TotalEscrow - fee

	t := task
	t.Status = domain.TaskFailed
	t.FinalResult = ""
	t.FinalizedAt = now

	transfers := []domain.Transfer{{
		From:   domain.EscrowAccount(task.ID),
		To:     domain.UserAccount(task.Requester),
		Amount: refund,
		Kind:   domain.TransferRefund,
		TaskID: task.ID,
		Memo:   "failed round refund",
	}}
	if fee > 0 {
		transfers = append(transfers, domain.Transfer{
			From:   domain.EscrowAccount(task.ID),
			To:     domain.ProtocolPoolAccount,
			Amount: fee,
			Kind:   domain.TransferFee,
			TaskID: task.ID,
			Memo:   "protocol fee",
		})
	}

	return Plan{
		Task:        t,
		Submissions: subs,
		Transfers:   transfers,
		Refund:      refund,
		Fee:         fee,
	}
}

// buildCompleted splits the reward pool among accepted providers and
// slashes the rejected. The division remainder joins the protocol fee in
// the pool so the escrow drains exactly.
func buildCompleted(task domain.Task, subs []domain.Submission, out consensus.Outcome,
	getProvider ProviderLookup, collateralOf CollateralLookup,
	newID func() string, now time.Time) (Plan, error) {

	fee := task.ProtocolFee()
	rewardPool := task.TotalEscrow - fee
	perAccepted := rewardPool / int64(out.AcceptedCount)
	remainder := rewardPool - perAccepted*int64(out.AcceptedCount)

	t := task
	t.Status = domain.TaskCompleted
	t.FinalResult = out.FinalResult
	t.FinalizedAt = now

	slashReason := domain.SlashReasonOutsideBand
	if task.Kind == domain.KindCategorical {
		slashReason = domain.SlashReasonMinorityVote
	}

	plan := Plan{
		Task:              t,
		RewardPerAccepted: perAccepted,
		Fee:               fee,
	}

	poolTake := fee + remainder
	if poolTake > 0 {
		plan.Transfers = append(plan.Transfers, domain.Transfer{
			From:   domain.EscrowAccount(task.ID),
			To:     domain.ProtocolPoolAccount,
			Amount: poolTake,
			Kind:   domain.TransferFee,
			TaskID: task.ID,
			Memo:   "protocol fee and reward remainder",
		})
	}

	// Submissions carry their settled verdicts; providers get one
	// reputation nudge per round, saturating at the bounds.
	plan.Submissions = make([]domain.Submission, len(subs))
	for i, sub := range subs {
		settled := sub
		settled.Verdict = out.Verdicts[sub.ProviderID]
		plan.Submissions[i] = settled

		p, err := getProvider(sub.ProviderID)
		if err != nil {
			return Plan{}, fmt.Errorf("settle %s: %w", sub.ProviderID, err)
		}

		switch settled.Verdict {
		case domain.VerdictAccepted:
			plan.Transfers = append(plan.Transfers, domain.Transfer{
				From:   domain.EscrowAccount(task.ID),
				To:     domain.UserAccount(sub.ProviderID),
				Amount: perAccepted,
				Kind:   domain.TransferReward,
				TaskID: task.ID,
				Memo:   "consensus reward",
			})
			p.ReputationScore = domain.ClampReputation(p.ReputationScore + 1)

		case domain.VerdictRejected:
			collateral, err := collateralOf(sub.ProviderID)
			if err != nil {
				return Plan{}, fmt.Errorf("read collateral of %s: %w", sub.ProviderID, err)
			}
			slash := domain.MulBps(collateral, task.SlashRateBps)
			if slash > collateral {
				slash = collateral
			}
			if slash > 0 {
				plan.Transfers = append(plan.Transfers, domain.Transfer{
					From:   domain.CollateralAccount(sub.ProviderID),
					To:     domain.ProtocolPoolAccount,
					Amount: slash,
					Kind:   domain.TransferSlash,
					TaskID: task.ID,
					Memo:   slashReason,
				})
				plan.Slashes = append(plan.Slashes, domain.SlashRecord{
					ID:         newID(),
					ProviderID: sub.ProviderID,
					TaskID:     task.ID,
					Amount:     slash,
					Reason:     slashReason,
					SlashedAt:  now,
				})
				plan.TotalSlashed += slash
			}
			p.ReputationScore = domain.ClampReputation(p.ReputationScore - 1)
		}
		plan.Providers = append(plan.Providers, p)
	}

	return plan, nil
}
