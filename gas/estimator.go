// Package gas provides gas costing for candidate cycles. The price source
// is pluggable; deployments without a live fee feed run on a static source.
package gas

import (
	"context"
	"math/big"
	"sync"
)

// PriceSource supplies the current gas price in wei.
type PriceSource interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

// StaticSource is a fixed-price source for dry runs and tests.
type StaticSource struct {
	mu    sync.RWMutex
	price *big.Int
}

// NewStaticSource creates a source pinned at price wei.
func NewStaticSource(price *big.Int) *StaticSource {
	return &StaticSource{price: new(big.Int).Set(price)}
}

func (s *StaticSource) GasPrice(ctx context.Context) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).Set(s.price), nil
}

// SetPrice updates the pinned price.
func (s *StaticSource) SetPrice(price *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price.Set(price)
}

// TxBaseGas is the base cost of the transaction itself, before any swap.
const TxBaseGas uint64 = 21000

// EstimateCycleGas gives a rough planning estimate for a cycle of numHops
// swaps, used before real venue quotes are in hand.
func EstimateCycleGas(numHops int) uint64 {
	// Cost per hop: storage reads, token transfers, swap execution.
	costPerHop := uint64(152000)

	return TxBaseGas + costPerHop*uint64(numHops)
}

// CostWei prices gasLimit units at the source's current gas price.
func CostWei(ctx context.Context, src PriceSource, gasLimit uint64) (*big.Int, error) {
	price, err := src.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mul(price, new(big.Int).SetUint64(gasLimit)), nil
}
