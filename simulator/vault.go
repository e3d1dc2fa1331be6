package simulator

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dexloop/arbot/utils/math"
)

// MemoryVault is an in-memory capital pool implementing the vault surface
// the risk guard and coordinator expect. Transfers out are recorded per
// recipient so tests and the paper desk can audit where funds went.
type MemoryVault struct {
	mu       sync.RWMutex
	balances map[common.Address]*big.Int
	outbound map[common.Address]map[common.Address]*big.Int
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		balances: make(map[common.Address]*big.Int),
		outbound: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Credit adds amount of token to the vault
func (v *MemoryVault) Credit(token common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if balance, ok := v.balances[token]; ok {
		balance.Add(balance, amount)
	} else {
		v.balances[token] = math.Clone(amount)
	}
}

func (v *MemoryVault) BalanceOf(token common.Address) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if balance, ok := v.balances[token]; ok {
		return math.Clone(balance)
	}
	return new(big.Int)
}

// Transfer debits the vault and credits the recipient's outbound ledger
func (v *MemoryVault) Transfer(token common.Address, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid transfer amount")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	balance, ok := v.balances[token]
	if !ok || balance.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient vault balance for %s", token.Hex())
	}
	balance.Sub(balance, amount)

	ledger, ok := v.outbound[to]
	if !ok {
		ledger = make(map[common.Address]*big.Int)
		v.outbound[to] = ledger
	}
	if received, ok := ledger[token]; ok {
		received.Add(received, amount)
	} else {
		ledger[token] = math.Clone(amount)
	}
	return nil
}

// Received reports how much of token has been transferred to an address
func (v *MemoryVault) Received(to common.Address, token common.Address) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if ledger, ok := v.outbound[to]; ok {
		if received, ok := ledger[token]; ok {
			return math.Clone(received)
		}
	}
	return new(big.Int)
}
