// Package simulator provides paper-trading collaborators: an in-memory
// settlement engine that executes plans against constant-product pools with
// all-or-nothing semantics, and a vault holding the desk's token balances.
package simulator

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/zap"

	"github.com/dexloop/arbot/dex"
	"github.com/dexloop/arbot/executor"
	"github.com/dexloop/arbot/types"
	"github.com/dexloop/arbot/utils/math"
)

// PaperSettlement executes plans leg by leg against registered pools. Any
// broken leg, slippage breach, or repayment shortfall restores every touched
// pool to its pre-trade reserves, so a failed plan leaves no trace.
type PaperSettlement struct {
	mu     sync.Mutex
	venues map[string]*dex.ConstantProduct
	vault  *MemoryVault
	logger *zap.Logger
}

func NewPaperSettlement(vault *MemoryVault, logger *zap.Logger) *PaperSettlement {
	return &PaperSettlement{
		venues: make(map[string]*dex.ConstantProduct),
		vault:  vault,
		logger: logger,
	}
}

// RegisterVenue binds a venue ID to its pool set
func (s *PaperSettlement) RegisterVenue(venueID string, cp *dex.ConstantProduct) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.venues[venueID] = cp
}

// Settle runs the plan's legs in order under one lock. The loan principal is
// repaid before any profit is recognized: a cycle that cannot cover
// principal plus fee rolls back even when every leg cleared its MinOut.
func (s *PaperSettlement) Settle(ctx context.Context, plan *types.ExecutionPlan) (*executor.SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var restores []func()
	snapped := make(map[string]bool)
	rollback := func() {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
	}

	fail := func(step int, reason string) *executor.SettlementResult {
		rollback()
		s.logger.Debug("Paper settlement rolled back",
			zap.Uint64("plan_id", plan.ID),
			zap.Int("failed_step", step),
			zap.String("reason", reason),
		)
		return &executor.SettlementResult{Settled: false, FailedStep: step, Reason: reason}
	}

	amount := math.Clone(plan.LoanAmount)
	for i, step := range plan.Path.Steps {
		cp, ok := s.venues[step.VenueID]
		if !ok {
			return nil, fmt.Errorf("venue %s has no registered pools", step.VenueID)
		}
		if !snapped[step.VenueID] {
			snap := cp.Snapshot()
			pool := cp
			restores = append(restores, func() { pool.Restore(snap) })
			snapped[step.VenueID] = true
		}

		out, err := cp.Swap(step.TokenIn, step.TokenOut, amount)
		if err != nil {
			return fail(i, fmt.Sprintf("leg failed: %v", err)), nil
		}
		if step.MinOut != nil && out.Cmp(step.MinOut) < 0 {
			return fail(i, fmt.Sprintf("slippage: got %s, floor %s", out, step.MinOut)), nil
		}
		amount = out
	}

	repayment := plan.Repayment()
	if amount.Cmp(repayment) < 0 {
		return fail(len(plan.Path.Steps)-1,
			fmt.Sprintf("cannot repay loan: have %s, owe %s", amount, repayment)), nil
	}

	// The surplus lands in the vault; the coordinator decides whether it
	// clears the profit threshold and where it goes.
	s.vault.Credit(plan.Path.StartToken, new(big.Int).Sub(amount, repayment))

	return &executor.SettlementResult{
		Settled:     true,
		FinalAmount: amount,
		FailedStep:  -1,
	}, nil
}
