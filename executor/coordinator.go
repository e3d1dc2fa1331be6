// Package executor drives a validated path through the settlement state
// machine: plan the loan, submit the legs atomically, then route realized
// profit or report the rollback. One execution per funding source at a time.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/dexloop/arbot/events"
	"github.com/dexloop/arbot/flashloan"
	"github.com/dexloop/arbot/riskguard"
	"github.com/dexloop/arbot/types"
	"github.com/dexloop/arbot/utils/math"
	"github.com/dexloop/arbot/validator"
)

var (
	ErrExecutionInFlight = errors.New("funding source already has an execution in flight")
	ErrLoanUnavailable   = errors.New("no loan terms available for path")
)

// SettlementResult reports how the legs of a plan landed. A failed
// settlement has already been rolled back by the collaborator; FailedStep
// names the leg that broke.
type SettlementResult struct {
	Settled     bool
	FinalAmount *big.Int
	FailedStep  int
	Reason      string
}

// Settlement executes all legs of a plan atomically. An error return means
// the settlement could not be attempted at all; trade-level failures come
// back as an unsettled result.
type Settlement interface {
	Settle(ctx context.Context, plan *types.ExecutionPlan) (*SettlementResult, error)
}

// Report is the terminal record of one execution attempt
type Report struct {
	PlanID         uint64
	State          types.ExecutionState
	RealizedProfit *big.Int
	FailedStep     int
	Reason         string
}

// Coordinator owns the execution state machine
type Coordinator struct {
	validator  *validator.Validator
	guard      *riskguard.Guard
	loans      *flashloan.Manager
	settlement Settlement
	vault      riskguard.Vault
	emitter    *events.Emitter
	logger     *zap.Logger

	fundingSource   common.Address
	profitRecipient common.Address
	dryRun          bool

	inFlight sync.Mutex
	planSeq  atomic.Uint64
	now      func() time.Time
}

type Params struct {
	Validator       *validator.Validator
	Guard           *riskguard.Guard
	Loans           *flashloan.Manager
	Settlement      Settlement
	Vault           riskguard.Vault
	Emitter         *events.Emitter
	Logger          *zap.Logger
	FundingSource   common.Address
	ProfitRecipient common.Address
	DryRun          bool
}

func NewCoordinator(p Params) *Coordinator {
	return &Coordinator{
		validator:       p.Validator,
		guard:           p.Guard,
		loans:           p.Loans,
		settlement:      p.Settlement,
		vault:           p.Vault,
		emitter:         p.Emitter,
		logger:          p.Logger,
		fundingSource:   p.FundingSource,
		profitRecipient: p.ProfitRecipient,
		dryRun:          p.DryRun,
	}
}

// Execute validates the path against the current policy snapshot, prices the
// loan, settles the legs, and routes realized profit to the recipient. A
// second call while one is in flight fails fast with ErrExecutionInFlight
// rather than queueing: quotes are too perishable to wait on a lock.
func (c *Coordinator) Execute(ctx context.Context, path *types.CandidatePath) (*Report, error) {
	if !c.inFlight.TryLock() {
		return nil, ErrExecutionInFlight
	}
	defer c.inFlight.Unlock()

	planID := c.planSeq.Add(1)
	policy := c.guard.Snapshot()

	fresh, err := c.validator.Validate(ctx, path, policy)
	if err != nil {
		return c.abort(planID, fmt.Errorf("validation rejected path: %w", err))
	}

	plan, err := c.buildPlan(ctx, planID, fresh, policy)
	if err != nil {
		return c.abort(planID, err)
	}

	c.logger.Info("Submitting execution plan",
		zap.Uint64("plan_id", plan.ID),
		zap.String("funding_source", c.fundingSource.Hex()),
		zap.Uint64("fingerprint", plan.Path.Fingerprint()),
		zap.String("loan_amount", plan.LoanAmount.String()),
		zap.String("loan_fee", plan.LoanFee.String()),
		zap.Bool("dry_run", c.dryRun),
	)

	if c.dryRun {
		report := &Report{
			PlanID:         plan.ID,
			State:          types.StateAborted,
			RealizedProfit: new(big.Int),
			FailedStep:     -1,
			Reason:         "dry_run",
		}
		c.emitter.ExecutionOutcome(plan.ID, report.State, report.RealizedProfit, report.Reason)
		return report, nil
	}

	result, err := c.settlement.Settle(ctx, plan)
	if err != nil {
		return c.abort(planID, fmt.Errorf("settlement unavailable: %w", err))
	}

	if !result.Settled {
		report := &Report{
			PlanID:         plan.ID,
			State:          types.StateRolledBack,
			RealizedProfit: new(big.Int),
			FailedStep:     result.FailedStep,
			Reason:         result.Reason,
		}
		c.emitter.ExecutionOutcome(plan.ID, report.State, report.RealizedProfit, report.Reason)
		c.logger.Warn("Execution rolled back",
			zap.Uint64("plan_id", plan.ID),
			zap.Int("failed_step", result.FailedStep),
			zap.String("reason", result.Reason),
		)
		return report, nil
	}

	return c.settle(plan, result)
}

// buildPlan resolves loan terms for the path. Paths within working capital
// carry a zero-fee plan against the funding source itself.
func (c *Coordinator) buildPlan(ctx context.Context, planID uint64, path *types.CandidatePath, policy riskguard.PolicySnapshot) (*types.ExecutionPlan, error) {
	plan := &types.ExecutionPlan{
		ID:           planID,
		Path:         *path,
		LoanAmount:   math.Clone(path.AmountIn),
		LoanFee:      new(big.Int),
		MinProfitBps: policy.MinProfitBps,
		CreatedAt:    c.clock(),
	}

	if path.RequiresLoan {
		terms, err := c.loans.Cheapest(ctx, path.StartToken, path.AmountIn)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoanUnavailable, err)
		}
		plan.LoanFee = math.Clone(terms.Fee)

		// The fee comes out of the cycle's output, so a path that was
		// marginal before pricing can die here.
		net := new(big.Int).Sub(path.ExpectedProfit, terms.Fee)
		if math.ProfitBps(net, path.AmountIn) < int64(policy.MinProfitBps) {
			return nil, fmt.Errorf("%w after loan fee %s", validator.ErrBelowMinimumProfit, terms.Fee)
		}
	}

	return plan, nil
}

// settle finishes a settled execution: compute realized profit against the
// loan obligation and route it, or flag the shortfall without routing.
func (c *Coordinator) settle(plan *types.ExecutionPlan, result *SettlementResult) (*Report, error) {
	realized := new(big.Int).Sub(result.FinalAmount, plan.Repayment())

	report := &Report{
		PlanID:         plan.ID,
		State:          types.StateSettled,
		RealizedProfit: realized,
		FailedStep:     -1,
	}

	if math.ProfitBps(realized, plan.LoanAmount) < int64(plan.MinProfitBps) {
		report.Reason = "profit_below_threshold"
		c.emitter.ExecutionOutcome(plan.ID, report.State, realized, report.Reason)
		c.logger.Warn("Settled below profit threshold, withholding routing",
			zap.Uint64("plan_id", plan.ID),
			zap.String("realized_profit", realized.String()),
		)
		return report, nil
	}

	if err := c.vault.Transfer(plan.Path.StartToken, c.profitRecipient, realized); err != nil {
		report.Reason = "profit_routing_failed"
		c.emitter.ExecutionOutcome(plan.ID, report.State, realized, report.Reason)
		return report, fmt.Errorf("failed to route profit for plan %d: %w", plan.ID, err)
	}

	c.emitter.ExecutionOutcome(plan.ID, report.State, realized, "")
	c.logger.Info("Execution settled",
		zap.Uint64("plan_id", plan.ID),
		zap.String("realized_profit", realized.String()),
		zap.String("recipient", c.profitRecipient.Hex()),
	)
	return report, nil
}

func (c *Coordinator) abort(planID uint64, cause error) (*Report, error) {
	report := &Report{
		PlanID:         planID,
		State:          types.StateAborted,
		RealizedProfit: new(big.Int),
		FailedStep:     -1,
		Reason:         cause.Error(),
	}
	c.emitter.ExecutionOutcome(planID, report.State, report.RealizedProfit, report.Reason)
	return report, cause
}

func (c *Coordinator) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// SetClock overrides the plan timestamp source for tests
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }
