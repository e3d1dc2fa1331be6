// Package validator re-checks a candidate path against the risk policy
// immediately before commit. Checks run in a fixed order and short-circuit:
// the first failing bound names the rejection, so the same path and policy
// always produce the same verdict.
package validator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/dexloop/arbot/gas"
	"github.com/dexloop/arbot/riskguard"
	"github.com/dexloop/arbot/types"
	"github.com/dexloop/arbot/utils/math"
)

var (
	ErrPaused             = errors.New("trading is paused")
	ErrTradeTooLarge      = errors.New("trade size exceeds policy bound")
	ErrExcessiveImpact    = errors.New("price impact exceeds policy bound")
	ErrBelowMinimumProfit = errors.New("expected profit below policy minimum")
	ErrGasTooHigh         = errors.New("gas exceeds policy bound")
)

// QuoteSource refreshes per-leg quotes when a snapshot has gone stale.
type QuoteSource interface {
	GetQuotes(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, maxGasPrice *big.Int) ([]types.Quote, error)
	QuoteTTL() time.Duration
}

// Validator applies the ordered policy checks.
type Validator struct {
	src    QuoteSource
	prices gas.PriceSource
	logger *zap.Logger
	now    func() time.Time
}

// NewValidator creates a validator. prices may be nil when no gas-price feed
// is wired; the gas-estimate bound still applies.
func NewValidator(src QuoteSource, prices gas.PriceSource, logger *zap.Logger) *Validator {
	return &Validator{src: src, prices: prices, logger: logger, now: time.Now}
}

// Validate re-derives the path's numbers when its quotes have outlived the
// TTL, then checks the policy bounds in order. On success it returns the
// (possibly refreshed) path whose figures the caller should execute with.
func (v *Validator) Validate(ctx context.Context, path *types.CandidatePath, policy riskguard.PolicySnapshot) (*types.CandidatePath, error) {
	// Paused outranks everything, including the refresh: re-quoting while
	// paused would spend work and surface the wrong error kind.
	if policy.Paused {
		return nil, ErrPaused
	}

	fresh := path
	if v.now().Sub(path.QuotedAt) > v.src.QuoteTTL() {
		refreshed, err := v.refresh(ctx, path)
		if err != nil {
			return nil, err
		}
		fresh = refreshed
		v.logger.Debug("Refreshed stale path quotes",
			zap.Uint64("fingerprint", path.Fingerprint()),
			zap.String("expected_profit", fresh.ExpectedProfit.String()),
		)
	}

	if policy.MaxTradeSize != nil && fresh.AmountIn.Cmp(policy.MaxTradeSize) > 0 {
		return nil, fmt.Errorf("%w: %s over %s", ErrTradeTooLarge, fresh.AmountIn, policy.MaxTradeSize)
	}

	if impact := fresh.MaxImpactBps(); impact > policy.MaxPriceImpactBps {
		return nil, fmt.Errorf("%w: %d bps over %d bps", ErrExcessiveImpact, impact, policy.MaxPriceImpactBps)
	}

	profitBps := math.ProfitBps(fresh.ExpectedProfit, fresh.AmountIn)
	if profitBps < int64(policy.MinProfitBps) {
		return nil, fmt.Errorf("%w: %d bps under %d bps", ErrBelowMinimumProfit, profitBps, policy.MinProfitBps)
	}

	if fresh.GasEstimate > policy.MaxGasPerPath {
		return nil, fmt.Errorf("%w: estimate %d over %d", ErrGasTooHigh, fresh.GasEstimate, policy.MaxGasPerPath)
	}
	if v.prices != nil && policy.MaxGasPrice != nil {
		price, err := v.prices.GasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read gas price: %w", err)
		}
		if price.Cmp(policy.MaxGasPrice) > 0 {
			return nil, fmt.Errorf("%w: price %s over %s", ErrGasTooHigh, price, policy.MaxGasPrice)
		}
		if cost, err := gas.CostWei(ctx, v.prices, fresh.GasEstimate); err == nil {
			v.logger.Debug("Priced path gas",
				zap.Uint64("gas_estimate", fresh.GasEstimate),
				zap.String("cost_wei", cost.String()),
			)
		}
	}

	return fresh, nil
}

// refresh reprices every leg with current quotes, keeping the path shape
// (same venues are preferred, but the best current quote per leg wins).
func (v *Validator) refresh(ctx context.Context, path *types.CandidatePath) (*types.CandidatePath, error) {
	out := *path
	out.Steps = make([]types.PathStep, len(path.Steps))

	amount := math.Clone(path.AmountIn)
	gasTotal := gas.TxBaseGas
	var quotedAt time.Time

	for i, step := range path.Steps {
		legQuotes, err := v.src.GetQuotes(ctx, step.TokenIn, step.TokenOut, amount, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh leg %d: %w", i, err)
		}
		if len(legQuotes) == 0 {
			return nil, fmt.Errorf("%w: leg %d has no surviving quotes", ErrExcessiveImpact, i)
		}

		best := legQuotes[0]
		slippageBps := math.ImpactBps(step.ExpectedOut, step.MinOut)

		out.Steps[i] = types.PathStep{
			VenueID:        best.VenueID,
			TokenIn:        step.TokenIn,
			TokenOut:       step.TokenOut,
			AmountIn:       amount,
			ExpectedOut:    best.AmountOut,
			MinOut:         math.DiscountBps(best.AmountOut, slippageBps),
			GasEstimate:    best.GasEstimate,
			PriceImpactBps: best.PriceImpactBps,
		}
		gasTotal += best.GasEstimate
		if quotedAt.IsZero() || best.FetchedAt.Before(quotedAt) {
			quotedAt = best.FetchedAt
		}
		amount = math.Clone(best.AmountOut)
	}

	out.ExpectedOut = amount
	out.ExpectedProfit = new(big.Int).Sub(amount, path.AmountIn)
	out.GasEstimate = gasTotal
	out.QuotedAt = quotedAt
	return &out, nil
}
