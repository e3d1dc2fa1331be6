package flashloan

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dexloop/arbot/utils/math"
)

// StaticProvider prices loans with a flat basis-point fee against a fixed
// liquidity book. It backs paper trading and tests; a live deployment swaps
// in a chain-backed provider behind the same interface.
type StaticProvider struct {
	mu        sync.RWMutex
	name      string
	feeBps    uint64
	liquidity map[common.Address]*big.Int
}

func NewStaticProvider(name string, feeBps uint64) *StaticProvider {
	return &StaticProvider{
		name:      name,
		feeBps:    feeBps,
		liquidity: make(map[common.Address]*big.Int),
	}
}

// SetLiquidity sets the lendable balance for a token
func (p *StaticProvider) SetLiquidity(token common.Address, amount *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.liquidity[token] = math.Clone(amount)
}

func (p *StaticProvider) Fee(ctx context.Context, _ common.Address, amount *big.Int) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return math.ApplyBps(amount, p.feeBps), nil
}

func (p *StaticProvider) Liquidity(ctx context.Context, token common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if balance, ok := p.liquidity[token]; ok {
		return math.Clone(balance), nil
	}
	return big.NewInt(0), nil
}

func (p *StaticProvider) String() string {
	return p.name
}
