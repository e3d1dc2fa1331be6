package riskguard

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dexloop/arbot/config"
	"github.com/dexloop/arbot/events"
)

var (
	weth     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc     = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	recovery = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
)

// memVault is a minimal in-memory Vault for guard tests.
type memVault struct {
	balances  map[common.Address]*big.Int
	transfers []struct {
		token, to common.Address
		amount    *big.Int
	}
}

func newMemVault() *memVault {
	return &memVault{balances: make(map[common.Address]*big.Int)}
}

func (v *memVault) BalanceOf(token common.Address) *big.Int {
	if b, ok := v.balances[token]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (v *memVault) Transfer(token, to common.Address, amount *big.Int) error {
	b := v.BalanceOf(token)
	v.balances[token] = b.Sub(b, amount)
	v.transfers = append(v.transfers, struct {
		token, to common.Address
		amount    *big.Int
	}{token, to, new(big.Int).Set(amount)})
	return nil
}

func newTestGuard(t *testing.T, vault Vault) *Guard {
	logger := zaptest.NewLogger(t)
	emitter := events.NewEmitter(logger, prometheus.NewRegistry())
	params := config.RiskParams{
		MinProfitBps:      10,
		MaxTradeSize:      big.NewInt(1e18),
		MaxPriceImpactBps: 500,
		MaxGasPrice:       big.NewInt(500000000000),
		MaxGasPerPath:     900000,
		MinLiquidity:      big.NewInt(1e18),
		EmergencyDelay:    config.Duration(time.Hour),
	}
	return NewGuard(params, vault, recovery, nil, emitter, logger)
}

func TestPauseIsIdempotent(t *testing.T) {
	g := newTestGuard(t, newMemVault())

	assert.True(t, g.TradingEnabled())
	g.Pause()
	g.Pause()
	assert.False(t, g.TradingEnabled())
	assert.True(t, g.Snapshot().Paused)

	g.Unpause()
	g.Unpause()
	assert.True(t, g.TradingEnabled())
}

func TestSnapshotIsIsolated(t *testing.T) {
	g := newTestGuard(t, newMemVault())

	snap := g.Snapshot()
	require.NoError(t, g.UpdateParameters(500, big.NewInt(5e17), 2*time.Hour))

	// Earlier snapshot still reflects the policy at capture time.
	assert.Equal(t, uint64(10), snap.MinProfitBps)
	assert.Equal(t, "1000000000000000000", snap.MaxTradeSize.String())

	fresh := g.Snapshot()
	assert.Equal(t, uint64(500), fresh.MinProfitBps)
	assert.Greater(t, fresh.Version, snap.Version)

	// Mutating the snapshot copy must not reach the guard.
	fresh.MaxTradeSize.SetInt64(1)
	assert.Equal(t, "500000000000000000", g.Snapshot().MaxTradeSize.String())
}

func TestUpdateParametersBounds(t *testing.T) {
	g := newTestGuard(t, newMemVault())

	tests := []struct {
		name  string
		bps   uint64
		size  *big.Int
		delay time.Duration
	}{
		{"zero min profit", 0, big.NewInt(1e18), time.Hour},
		{"min profit above ceiling", 1001, big.NewInt(1e18), time.Hour},
		{"nil trade size", 100, nil, time.Hour},
		{"zero trade size", 100, big.NewInt(0), time.Hour},
		{"trade size above ceiling", 100, new(big.Int).Add(MaxTradeSizeCeiling, big.NewInt(1)), time.Hour},
		{"delay too short", 100, big.NewInt(1e18), time.Minute},
		{"delay too long", 100, big.NewInt(1e18), 8 * 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.UpdateParameters(tt.bps, tt.size, tt.delay)
			assert.ErrorIs(t, err, ErrOutOfBounds)
		})
	}

	// Policy untouched by rejected updates.
	assert.Equal(t, uint64(10), g.Snapshot().MinProfitBps)

	require.NoError(t, g.UpdateParameters(50, big.NewInt(2e18), 2*time.Hour))
	snap := g.Snapshot()
	assert.Equal(t, uint64(50), snap.MinProfitBps)
	assert.Equal(t, 2*time.Hour, snap.EmergencyDelay)
}

func TestUpdateParametersPersists(t *testing.T) {
	logger := zaptest.NewLogger(t)
	emitter := events.NewEmitter(logger, prometheus.NewRegistry())

	var persisted *config.RiskParams
	persist := func(p config.RiskParams) error {
		persisted = &p
		return nil
	}
	params := config.RiskParams{
		MinProfitBps:   10,
		MaxTradeSize:   big.NewInt(1e18),
		MaxGasPrice:    big.NewInt(1),
		MaxGasPerPath:  1,
		MinLiquidity:   big.NewInt(1),
		EmergencyDelay: config.Duration(time.Hour),
	}
	g := NewGuard(params, newMemVault(), recovery, persist, emitter, logger)

	require.NoError(t, g.UpdateParameters(25, big.NewInt(3e18), time.Hour))
	require.NotNil(t, persisted)
	assert.Equal(t, uint64(25), persisted.MinProfitBps)
}

func TestEmergencyWithdrawalDelay(t *testing.T) {
	vault := newMemVault()
	vault.balances[weth] = big.NewInt(5e18)
	vault.balances[usdc] = big.NewInt(1000e6)

	g := newTestGuard(t, vault)

	base := time.Unix(1700000000, 0)
	now := base
	g.SetClock(func() time.Time { return now })

	require.NoError(t, g.RequestEmergencyWithdrawal())
	assert.False(t, g.TradingEnabled(), "request must pause trading")
	assert.ErrorIs(t, g.RequestEmergencyWithdrawal(), ErrWithdrawalInProgress)

	// 1000s into a 3600s delay: rejected.
	now = base.Add(1000 * time.Second)
	err := g.ExecuteEmergencyWithdrawal([]common.Address{weth, usdc})
	assert.ErrorIs(t, err, ErrDelayNotElapsed)
	assert.Empty(t, vault.transfers)

	// 3601s: allowed, balances drained to the recovery recipient.
	now = base.Add(3601 * time.Second)
	require.NoError(t, g.ExecuteEmergencyWithdrawal([]common.Address{weth, usdc}))
	require.Len(t, vault.transfers, 2)
	assert.Equal(t, recovery, vault.transfers[0].to)
	assert.Equal(t, "5000000000000000000", vault.transfers[0].amount.String())
	assert.Equal(t, int64(0), vault.BalanceOf(weth).Int64())
	assert.Equal(t, int64(0), vault.BalanceOf(usdc).Int64())

	// Request is cleared after execution.
	pending, _ := g.WithdrawalPending()
	assert.False(t, pending)
	assert.ErrorIs(t, g.ExecuteEmergencyWithdrawal([]common.Address{weth}), ErrNoWithdrawalPending)
}

func TestCancelEmergencyWithdrawal(t *testing.T) {
	g := newTestGuard(t, newMemVault())

	assert.ErrorIs(t, g.CancelEmergencyWithdrawal(), ErrNoWithdrawalPending)

	require.NoError(t, g.RequestEmergencyWithdrawal())
	require.NoError(t, g.CancelEmergencyWithdrawal())

	pending, _ := g.WithdrawalPending()
	assert.False(t, pending)

	// Cancelling does not silently resume trading.
	assert.False(t, g.TradingEnabled())
}

func TestWithdrawalSkipsEmptyBalances(t *testing.T) {
	vault := newMemVault()
	vault.balances[weth] = big.NewInt(1e18)

	g := newTestGuard(t, vault)
	base := time.Unix(1700000000, 0)
	now := base
	g.SetClock(func() time.Time { return now })

	require.NoError(t, g.RequestEmergencyWithdrawal())
	now = base.Add(2 * time.Hour)
	require.NoError(t, g.ExecuteEmergencyWithdrawal([]common.Address{usdc, weth}))

	// Only the funded token produced a transfer.
	require.Len(t, vault.transfers, 1)
	assert.Equal(t, weth, vault.transfers[0].token)
}

// failingVault rejects transfers of one token, succeeds on the rest.
type failingVault struct {
	*memVault
	reject common.Address
}

func (v *failingVault) Transfer(token, to common.Address, amount *big.Int) error {
	if token == v.reject {
		return fmt.Errorf("transfer rejected")
	}
	return v.memVault.Transfer(token, to, amount)
}

func TestWithdrawalStaysPendingWhenTransferFails(t *testing.T) {
	inner := newMemVault()
	inner.balances[weth] = big.NewInt(1e18)
	inner.balances[usdc] = big.NewInt(1000e6)
	vault := &failingVault{memVault: inner, reject: weth}

	g := newTestGuard(t, vault)
	base := time.Unix(1700000000, 0)
	now := base
	g.SetClock(func() time.Time { return now })

	require.NoError(t, g.RequestEmergencyWithdrawal())
	now = base.Add(2 * time.Hour)

	err := g.ExecuteEmergencyWithdrawal([]common.Address{weth, usdc})
	require.Error(t, err)

	// The request survives the failure, so the remaining balance can be
	// drained without a fresh request and another delay.
	pending, _ := g.WithdrawalPending()
	assert.True(t, pending)

	vault.reject = common.Address{}
	require.NoError(t, g.ExecuteEmergencyWithdrawal([]common.Address{weth, usdc}))
	assert.Equal(t, int64(0), vault.BalanceOf(weth).Int64())

	pending, _ = g.WithdrawalPending()
	assert.False(t, pending)
}
