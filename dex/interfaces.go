package dex

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Typed quote failures. These are routine: the aggregator treats any of them
// as "exclude this venue for this cycle", never as a fatal discovery error.
var (
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInvalidPool           = errors.New("invalid pool")
	ErrUnsupportedDEX        = errors.New("unsupported dex")
	ErrPoolError             = errors.New("pool error")
)

// QuoteResult is a venue's answer for one swap.
type QuoteResult struct {
	// AmountOut is the output the venue would deliver for the quoted input.
	AmountOut *big.Int
	// SpotOut is the fee-adjusted output at the current marginal price with
	// no depth effect; the shortfall of AmountOut against SpotOut is the
	// trade's price impact.
	SpotOut *big.Int
	// GasEstimate is the venue's swap gas cost, excluding fixed overhead.
	GasEstimate uint64
	// Liquidity is the depth of the input-token side at quote time.
	Liquidity *big.Int
}

// Quoter is the per-venue quote collaborator: given a pair and input amount
// it returns the expected output and cost, or a typed failure.
type Quoter interface {
	// Name returns the quoter's venue identifier.
	Name() string

	// Quote prices a single swap of amountIn of tokenIn into tokenOut.
	Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*QuoteResult, error)
}
