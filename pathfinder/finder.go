// Package pathfinder enumerates 2-hop and 3-hop token cycles over a bounded
// set of intermediate tokens and ranks the survivors by expected profit.
// It is a pure function of current quotes: no state is mutated here.
package pathfinder

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/dexloop/arbot/events"
	"github.com/dexloop/arbot/gas"
	"github.com/dexloop/arbot/quotes"
	"github.com/dexloop/arbot/types"
	"github.com/dexloop/arbot/utils/math"
)

var (
	ErrNoPathFound   = errors.New("no profitable path found")
	ErrExcessiveGas  = errors.New("path exceeds gas budget")
	ErrInvalidParams = errors.New("invalid path search parameters")
)

// QuoteSource supplies aggregated venue quotes for a pair and amount.
type QuoteSource interface {
	GetQuotes(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, maxGasPrice *big.Int) ([]types.Quote, error)
}

// Config bounds the search.
type Config struct {
	// IntermediateTokens is the candidate mid-token set for FindBestPath.
	// Full-graph enumeration is deliberately not attempted.
	IntermediateTokens []common.Address

	MaxGasPerPath        uint64
	MaxPriceImpactBps    uint64
	SlippageToleranceBps uint64

	// WorkingCapital is the engine's own float; trades above it need
	// borrowed capital. Nil means every trade is loan-funded.
	WorkingCapital *big.Int
}

// Finder searches for closed profitable cycles.
type Finder struct {
	src     QuoteSource
	cfg     Config
	emitter *events.Emitter
	logger  *zap.Logger
}

// NewFinder creates a path finder over a quote source.
func NewFinder(src QuoteSource, cfg Config, emitter *events.Emitter, logger *zap.Logger) *Finder {
	return &Finder{src: src, cfg: cfg, emitter: emitter, logger: logger}
}

// FindBestPath returns the single most profitable cycle from startToken over
// the configured intermediate tokens, or ErrNoPathFound.
func (f *Finder) FindBestPath(ctx context.Context, startToken common.Address, amountIn, maxGasPrice *big.Int) (*types.CandidatePath, error) {
	return f.bestOf(f.FindPathsWithTokens(ctx, startToken, f.cfg.IntermediateTokens, amountIn, maxGasPrice))
}

// FindPathsWithTokens enumerates 2-hop cycles (start → X → start) and 3-hop
// cycles (start → X → Y → start) over the given mid tokens and returns the
// survivors ranked by expected profit descending. Ties prefer the shorter
// path, then the lower cumulative gas estimate.
func (f *Finder) FindPathsWithTokens(ctx context.Context, startToken common.Address, midTokens []common.Address, amountIn, maxGasPrice *big.Int) ([]types.CandidatePath, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive input amount", ErrInvalidParams)
	}
	if len(midTokens) == 0 {
		return nil, fmt.Errorf("%w: no intermediate tokens configured", ErrInvalidParams)
	}

	// Each cycle is an independent evaluation; run them concurrently.
	type legSpec []common.Address
	var specs []legSpec
	for _, x := range midTokens {
		if x == startToken {
			continue
		}
		specs = append(specs, legSpec{startToken, x, startToken})
	}
	for _, x := range midTokens {
		if x == startToken {
			continue
		}
		for _, y := range midTokens {
			if y == startToken || y == x {
				continue
			}
			specs = append(specs, legSpec{startToken, x, y, startToken})
		}
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		candidates []types.CandidatePath
		paused     bool
	)
	for _, spec := range specs {
		wg.Add(1)
		go func(tokens []common.Address) {
			defer wg.Done()
			path, err := f.evaluateCycle(ctx, tokens, amountIn, maxGasPrice)
			if err != nil {
				if errors.Is(err, quotes.ErrTradingPaused) {
					mu.Lock()
					paused = true
					mu.Unlock()
				}
				return
			}
			if path != nil {
				mu.Lock()
				candidates = append(candidates, *path)
				mu.Unlock()
			}
		}(spec)
	}
	wg.Wait()

	if paused {
		return nil, quotes.ErrTradingPaused
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if c := candidates[i].ExpectedProfit.Cmp(candidates[j].ExpectedProfit); c != 0 {
			return c > 0
		}
		if len(candidates[i].Steps) != len(candidates[j].Steps) {
			return len(candidates[i].Steps) < len(candidates[j].Steps)
		}
		return candidates[i].GasEstimate < candidates[j].GasEstimate
	})

	for i := range candidates {
		f.emitter.PathFound(&candidates[i])
	}
	return candidates, nil
}

// evaluateCycle prices one closed cycle leg by leg, taking the best quote of
// each leg. A nil path with nil error means the cycle was filtered out.
func (f *Finder) evaluateCycle(ctx context.Context, tokens []common.Address, amountIn, maxGasPrice *big.Int) (*types.CandidatePath, error) {
	var (
		steps    []types.PathStep
		gasTotal = gas.TxBaseGas
		amount   = math.Clone(amountIn)
		quotedAt time.Time
	)

	for i := 0; i < len(tokens)-1; i++ {
		tokenIn, tokenOut := tokens[i], tokens[i+1]

		legQuotes, err := f.src.GetQuotes(ctx, tokenIn, tokenOut, amount, maxGasPrice)
		if err != nil {
			return nil, err
		}
		if len(legQuotes) == 0 {
			return nil, nil
		}
		best := legQuotes[0]

		if f.cfg.MaxPriceImpactBps > 0 && best.PriceImpactBps > f.cfg.MaxPriceImpactBps {
			f.logger.Debug("Cycle dropped: leg impact over policy bound",
				zap.String("venue", best.VenueID),
				zap.Uint64("impact_bps", best.PriceImpactBps),
			)
			return nil, nil
		}

		steps = append(steps, types.PathStep{
			VenueID:        best.VenueID,
			TokenIn:        tokenIn,
			TokenOut:       tokenOut,
			AmountIn:       amount,
			ExpectedOut:    best.AmountOut,
			MinOut:         math.DiscountBps(best.AmountOut, f.cfg.SlippageToleranceBps),
			GasEstimate:    best.GasEstimate,
			PriceImpactBps: best.PriceImpactBps,
		})
		gasTotal += best.GasEstimate
		if quotedAt.IsZero() || best.FetchedAt.Before(quotedAt) {
			quotedAt = best.FetchedAt
		}
		amount = math.Clone(best.AmountOut)
	}

	if f.cfg.MaxGasPerPath > 0 && gasTotal > f.cfg.MaxGasPerPath {
		f.logger.Debug("Cycle dropped: gas over budget",
			zap.Uint64("gas", gasTotal),
			zap.Uint64("budget", f.cfg.MaxGasPerPath),
		)
		return nil, fmt.Errorf("%w: %d over %d", ErrExcessiveGas, gasTotal, f.cfg.MaxGasPerPath)
	}

	profit := new(big.Int).Sub(amount, amountIn)
	if profit.Sign() <= 0 {
		return nil, nil
	}

	requiresLoan := f.cfg.WorkingCapital == nil || amountIn.Cmp(f.cfg.WorkingCapital) > 0

	return &types.CandidatePath{
		Steps:          steps,
		StartToken:     tokens[0],
		AmountIn:       math.Clone(amountIn),
		ExpectedOut:    amount,
		ExpectedProfit: profit,
		GasEstimate:    gasTotal,
		RequiresLoan:   requiresLoan,
		QuotedAt:       quotedAt,
	}, nil
}

func (f *Finder) bestOf(candidates []types.CandidatePath, err error) (*types.CandidatePath, error) {
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoPathFound
	}
	best := candidates[0]
	return &best, nil
}
