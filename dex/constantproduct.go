package dex

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// pairKey orders the two tokens canonically so (A,B) and (B,A) hit the same
// pool.
type pairKey struct {
	a, b common.Address
}

func newPairKey(x, y common.Address) pairKey {
	if x.Hex() > y.Hex() {
		x, y = y, x
	}
	return pairKey{a: x, b: y}
}

type pool struct {
	reserves map[common.Address]*big.Int
}

// ConstantProduct is an in-process x*y=k venue. It backs the paper
// settlement and tests; a live deployment would put an RPC-backed Quoter in
// its place.
type ConstantProduct struct {
	mu       sync.RWMutex
	name     string
	feeBps   uint64
	gasPer   uint64
	pools    map[pairKey]*pool
}

// NewConstantProduct creates an empty constant-product venue charging feeBps
// per swap (30 = the classic 0.30%).
func NewConstantProduct(name string, feeBps, gasPerSwap uint64) *ConstantProduct {
	return &ConstantProduct{
		name:   name,
		feeBps: feeBps,
		gasPer: gasPerSwap,
		pools:  make(map[pairKey]*pool),
	}
}

func (c *ConstantProduct) Name() string { return c.name }

// SetReserves creates or replaces the pool for a pair.
func (c *ConstantProduct) SetReserves(tokenA common.Address, reserveA *big.Int, tokenB common.Address, reserveB *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pools[newPairKey(tokenA, tokenB)] = &pool{
		reserves: map[common.Address]*big.Int{
			tokenA: new(big.Int).Set(reserveA),
			tokenB: new(big.Int).Set(reserveB),
		},
	}
}

// Reserves returns copies of the pool reserves for a pair.
func (c *ConstantProduct) Reserves(tokenA, tokenB common.Address) (*big.Int, *big.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.pools[newPairKey(tokenA, tokenB)]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no pool for %s/%s on %s", ErrInvalidPool, tokenA.Hex(), tokenB.Hex(), c.name)
	}
	return new(big.Int).Set(p.reserves[tokenA]), new(big.Int).Set(p.reserves[tokenB]), nil
}

// Quote prices a swap against current reserves.
func (c *ConstantProduct) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*QuoteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive input amount", ErrPoolError)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.pools[newPairKey(tokenIn, tokenOut)]
	if !ok {
		return nil, fmt.Errorf("%w: no pool for %s/%s on %s", ErrInvalidPool, tokenIn.Hex(), tokenOut.Hex(), c.name)
	}
	reserveIn, reserveOut := p.reserves[tokenIn], p.reserves[tokenOut]
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, fmt.Errorf("%w: empty pool on %s", ErrInsufficientLiquidity, c.name)
	}

	out := getAmountOut(amountIn, reserveIn, reserveOut, c.feeBps)
	if out.Sign() <= 0 || out.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("%w: %s cannot fill %s", ErrInsufficientLiquidity, c.name, amountIn.String())
	}

	return &QuoteResult{
		AmountOut:   out,
		SpotOut:     spotOut(amountIn, reserveIn, reserveOut, c.feeBps),
		GasEstimate: c.gasPer,
		Liquidity:   new(big.Int).Set(reserveIn),
	}, nil
}

// Swap executes against the pool, mutating reserves. Returns the delivered
// output. Used by the paper settlement; a live venue settles on-chain.
func (c *ConstantProduct) Swap(tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pools[newPairKey(tokenIn, tokenOut)]
	if !ok {
		return nil, fmt.Errorf("%w: no pool for %s/%s on %s", ErrInvalidPool, tokenIn.Hex(), tokenOut.Hex(), c.name)
	}
	reserveIn, reserveOut := p.reserves[tokenIn], p.reserves[tokenOut]

	out := getAmountOut(amountIn, reserveIn, reserveOut, c.feeBps)
	if out.Sign() <= 0 || out.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("%w: %s cannot fill %s", ErrInsufficientLiquidity, c.name, amountIn.String())
	}

	reserveIn.Add(reserveIn, amountIn)
	reserveOut.Sub(reserveOut, out)
	return out, nil
}

// Snapshot captures all pool reserves so a failed multi-step execution can
// be rolled back to an untouched state.
func (c *ConstantProduct) Snapshot() map[pairKey]map[common.Address]*big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := make(map[pairKey]map[common.Address]*big.Int, len(c.pools))
	for k, p := range c.pools {
		rs := make(map[common.Address]*big.Int, len(p.reserves))
		for tok, r := range p.reserves {
			rs[tok] = new(big.Int).Set(r)
		}
		snap[k] = rs
	}
	return snap
}

// Restore rewinds reserves to a snapshot taken earlier.
func (c *ConstantProduct) Restore(snap map[pairKey]map[common.Address]*big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, rs := range snap {
		p, ok := c.pools[k]
		if !ok {
			continue
		}
		for tok, r := range rs {
			p.reserves[tok] = new(big.Int).Set(r)
		}
	}
}

// getAmountOut is the constant-product output formula with the fee taken
// from the input side: out = (in*(10000-fee)*rOut) / (rIn*10000 + in*(10000-fee)).
func getAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint64) *big.Int {
	keep := new(big.Int).SetUint64(10000 - feeBps)
	amountInWithFee := new(big.Int).Mul(amountIn, keep)
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(
		new(big.Int).Mul(reserveIn, big.NewInt(10000)),
		amountInWithFee,
	)
	return new(big.Int).Div(numerator, denominator)
}

// spotOut is the fee-adjusted linear output at the marginal price, ignoring
// depth: in * (10000-fee)/10000 * rOut/rIn.
func spotOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint64) *big.Int {
	keep := new(big.Int).SetUint64(10000 - feeBps)
	out := new(big.Int).Mul(amountIn, keep)
	out.Mul(out, reserveOut)
	out.Div(out, reserveIn)
	out.Div(out, big.NewInt(10000))
	return out
}
