package executor_test

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dexloop/arbot/config"
	"github.com/dexloop/arbot/dex"
	"github.com/dexloop/arbot/events"
	"github.com/dexloop/arbot/executor"
	"github.com/dexloop/arbot/flashloan"
	"github.com/dexloop/arbot/riskguard"
	"github.com/dexloop/arbot/simulator"
	"github.com/dexloop/arbot/types"
	"github.com/dexloop/arbot/utils/math"
	"github.com/dexloop/arbot/validator"
)

var (
	tokenA    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	funding   = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	profitDst = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	recovery  = common.HexToAddress("0x00000000000000000000000000000000000000f2")
)

type stubSource struct{ ttl time.Duration }

func (s *stubSource) GetQuotes(context.Context, common.Address, common.Address, *big.Int, *big.Int) ([]types.Quote, error) {
	return nil, nil
}

func (s *stubSource) QuoteTTL() time.Duration { return s.ttl }

type stubSettlement struct {
	calls   atomic.Int64
	result  *executor.SettlementResult
	err     error
	block   chan struct{} // when non-nil, Settle waits on it
	entered chan struct{}
}

func (s *stubSettlement) Settle(ctx context.Context, _ *types.ExecutionPlan) (*executor.SettlementResult, error) {
	s.calls.Add(1)
	if s.entered != nil {
		close(s.entered)
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.result, s.err
}

type harness struct {
	coordinator *executor.Coordinator
	vault       *simulator.MemoryVault
	guard       *riskguard.Guard
	pools       map[string]*dex.ConstantProduct
}

func openParams() config.RiskParams {
	return config.RiskParams{
		MinProfitBps:      10,
		MaxTradeSize:      big.NewInt(100_000_000),
		MaxPriceImpactBps: 500,
		MaxGasPerPath:     1_000_000,
		EmergencyDelay:    config.Duration(time.Hour),
	}
}

func newHarness(t *testing.T, settlement executor.Settlement, dryRun bool) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	emitter := events.NewEmitter(logger, prometheus.NewRegistry())

	vault := simulator.NewMemoryVault()
	guard := riskguard.NewGuard(openParams(), vault, recovery, nil, emitter, logger)

	loans := flashloan.NewManager(logger, prometheus.NewRegistry())
	lender := flashloan.NewStaticProvider("paper", 9)
	lender.SetLiquidity(tokenA, big.NewInt(1_000_000_000))
	loans.AddProvider(lender)

	pools := map[string]*dex.ConstantProduct{}
	if settlement == nil {
		v1 := dex.NewConstantProduct("v1", 30, 120000)
		v1.SetReserves(tokenA, big.NewInt(1_000_000_000), tokenB, big.NewInt(1_000_000_000))
		v2 := dex.NewConstantProduct("v2", 30, 120000)
		v2.SetReserves(tokenB, big.NewInt(1_000_000_000), tokenA, big.NewInt(1_100_000_000))
		pools["v1"], pools["v2"] = v1, v2

		paper := simulator.NewPaperSettlement(vault, logger)
		paper.RegisterVenue("v1", v1)
		paper.RegisterVenue("v2", v2)
		settlement = paper
	}

	coordinator := executor.NewCoordinator(executor.Params{
		Validator:       validator.NewValidator(&stubSource{ttl: time.Hour}, nil, logger),
		Guard:           guard,
		Loans:           loans,
		Settlement:      settlement,
		Vault:           vault,
		Emitter:         emitter,
		Logger:          logger,
		FundingSource:   funding,
		ProfitRecipient: profitDst,
		DryRun:          dryRun,
	})

	return &harness{coordinator: coordinator, vault: vault, guard: guard, pools: pools}
}

// cyclePath prices a two-leg round trip off the live pools so the path's
// numbers match what settlement will replay.
func (h *harness) cyclePath(t *testing.T, amountIn *big.Int, floors []*big.Int) *types.CandidatePath {
	t.Helper()
	ctx := context.Background()

	leg1, err := h.pools["v1"].Quote(ctx, tokenA, tokenB, amountIn)
	require.NoError(t, err)
	leg2, err := h.pools["v2"].Quote(ctx, tokenB, tokenA, leg1.AmountOut)
	require.NoError(t, err)

	if floors == nil {
		floors = []*big.Int{nil, nil}
	}

	return &types.CandidatePath{
		Steps: []types.PathStep{
			{VenueID: "v1", TokenIn: tokenA, TokenOut: tokenB, AmountIn: amountIn, ExpectedOut: leg1.AmountOut, MinOut: floors[0], GasEstimate: 120000, PriceImpactBps: math.ImpactBps(leg1.SpotOut, leg1.AmountOut)},
			{VenueID: "v2", TokenIn: tokenB, TokenOut: tokenA, AmountIn: leg1.AmountOut, ExpectedOut: leg2.AmountOut, MinOut: floors[1], GasEstimate: 120000, PriceImpactBps: math.ImpactBps(leg2.SpotOut, leg2.AmountOut)},
		},
		StartToken:     tokenA,
		AmountIn:       amountIn,
		ExpectedOut:    leg2.AmountOut,
		ExpectedProfit: new(big.Int).Sub(leg2.AmountOut, amountIn),
		GasEstimate:    261000,
		RequiresLoan:   true,
		QuotedAt:       time.Now(),
	}
}

func TestExecuteSettlesAndRoutesProfit(t *testing.T) {
	h := newHarness(t, nil, false)
	path := h.cyclePath(t, big.NewInt(10_000_000), nil)

	report, err := h.coordinator.Execute(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, types.StateSettled, report.State)
	assert.Equal(t, -1, report.FailedStep)
	require.Equal(t, 1, report.RealizedProfit.Sign())

	routed := h.vault.Received(profitDst, tokenA)
	assert.Equal(t, 0, routed.Cmp(report.RealizedProfit), "full realized profit goes to the recipient")
	assert.Equal(t, 0, h.vault.BalanceOf(tokenA).Sign(), "nothing left stranded in the vault")
}

func TestExecuteRolledBackLeavesNoTrace(t *testing.T) {
	h := newHarness(t, nil, false)
	r1a, r1b, err := h.pools["v1"].Reserves(tokenA, tokenB)
	require.NoError(t, err)

	// Second leg floor is unreachable, so settlement fails mid-cycle.
	floors := []*big.Int{nil, big.NewInt(999_000_000_000)}
	path := h.cyclePath(t, big.NewInt(10_000_000), floors)

	report, err := h.coordinator.Execute(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, types.StateRolledBack, report.State)
	assert.Equal(t, 1, report.FailedStep)
	assert.Equal(t, 0, report.RealizedProfit.Sign())

	a, b, err := h.pools["v1"].Reserves(tokenA, tokenB)
	require.NoError(t, err)
	assert.Equal(t, 0, a.Cmp(r1a))
	assert.Equal(t, 0, b.Cmp(r1b))
	assert.Equal(t, 0, h.vault.BalanceOf(tokenA).Sign())
	assert.Equal(t, 0, h.vault.Received(profitDst, tokenA).Sign())
}

func TestExecuteRejectsWhenPaused(t *testing.T) {
	h := newHarness(t, nil, false)
	h.guard.Pause()

	path := h.cyclePath(t, big.NewInt(10_000_000), nil)
	report, err := h.coordinator.Execute(context.Background(), path)
	assert.ErrorIs(t, err, validator.ErrPaused)
	assert.Equal(t, types.StateAborted, report.State)
}

func TestExecuteOnePlanInFlightPerFundingSource(t *testing.T) {
	stub := &stubSettlement{
		result:  &executor.SettlementResult{Settled: true, FinalAmount: big.NewInt(11_000_000), FailedStep: -1},
		block:   make(chan struct{}),
		entered: make(chan struct{}),
	}
	h := newHarness(t, stub, false)
	path := h.cyclePathFromStatic(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.coordinator.Execute(context.Background(), path)
	}()

	<-stub.entered
	_, err := h.coordinator.Execute(context.Background(), path)
	assert.ErrorIs(t, err, executor.ErrExecutionInFlight)

	close(stub.block)
	<-done
}

// cyclePathFromStatic builds a chained path without live pools, for tests
// that stub the settlement layer.
func (h *harness) cyclePathFromStatic(t *testing.T) *types.CandidatePath {
	t.Helper()
	amountIn := big.NewInt(10_000_000)
	mid := big.NewInt(9_870_000)
	out := big.NewInt(10_700_000)
	return &types.CandidatePath{
		Steps: []types.PathStep{
			{VenueID: "v1", TokenIn: tokenA, TokenOut: tokenB, AmountIn: amountIn, ExpectedOut: mid, GasEstimate: 120000},
			{VenueID: "v2", TokenIn: tokenB, TokenOut: tokenA, AmountIn: mid, ExpectedOut: out, GasEstimate: 120000},
		},
		StartToken:     tokenA,
		AmountIn:       amountIn,
		ExpectedOut:    out,
		ExpectedProfit: new(big.Int).Sub(out, amountIn),
		GasEstimate:    261000,
		RequiresLoan:   true,
		QuotedAt:       time.Now(),
	}
}

func TestExecuteWithholdsSubThresholdProfit(t *testing.T) {
	// Settlement comes back barely above repayment: 10M principal + 9k fee,
	// final 10_010_000 leaves 1000 realized, under the 10 bps floor.
	stub := &stubSettlement{
		result: &executor.SettlementResult{Settled: true, FinalAmount: big.NewInt(10_010_000), FailedStep: -1},
	}
	h := newHarness(t, stub, false)

	report, err := h.coordinator.Execute(context.Background(), h.cyclePathFromStatic(t))
	require.NoError(t, err)
	assert.Equal(t, types.StateSettled, report.State)
	assert.Equal(t, "profit_below_threshold", report.Reason)
	assert.Equal(t, 0, h.vault.Received(profitDst, tokenA).Sign(), "thin profit is not routed")
}

func TestExecuteDryRunSkipsSettlement(t *testing.T) {
	stub := &stubSettlement{
		result: &executor.SettlementResult{Settled: true, FinalAmount: big.NewInt(11_000_000), FailedStep: -1},
	}
	h := newHarness(t, stub, true)

	report, err := h.coordinator.Execute(context.Background(), h.cyclePathFromStatic(t))
	require.NoError(t, err)
	assert.Equal(t, types.StateAborted, report.State)
	assert.Equal(t, "dry_run", report.Reason)
	assert.Zero(t, stub.calls.Load())
}

func TestExecutePlanIDsAreMonotonic(t *testing.T) {
	h := newHarness(t, nil, false)

	first, err := h.coordinator.Execute(context.Background(), h.cyclePath(t, big.NewInt(1_000_000), nil))
	require.NoError(t, err)
	second, err := h.coordinator.Execute(context.Background(), h.cyclePath(t, big.NewInt(1_000_000), nil))
	require.NoError(t, err)

	assert.Greater(t, second.PlanID, first.PlanID)
}
