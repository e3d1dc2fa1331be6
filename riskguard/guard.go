// Package riskguard is the single source of truth for trading safety state:
// the global pause flag, bounded risk parameters and the time-delayed
// emergency-withdrawal protocol. Other components consult it before any
// state-changing action; it never initiates work itself.
package riskguard

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/dexloop/arbot/config"
	"github.com/dexloop/arbot/events"
)

var (
	ErrOutOfBounds          = errors.New("parameter out of bounds")
	ErrDelayNotElapsed      = errors.New("emergency withdrawal delay not elapsed")
	ErrNoWithdrawalPending  = errors.New("no emergency withdrawal pending")
	ErrWithdrawalInProgress = errors.New("emergency withdrawal already requested")
)

// Hard parameter bounds. Updates outside these ranges are rejected outright;
// they indicate misconfiguration, not policy.
const (
	MinProfitBpsFloor   = 1
	MinProfitBpsCeiling = 1000 // 10%

	EmergencyDelayFloor   = 10 * time.Minute
	EmergencyDelayCeiling = 7 * 24 * time.Hour
)

// MaxTradeSizeCeiling caps configurable trade size at 10000 units of an
// 18-decimals token.
var MaxTradeSizeCeiling = new(big.Int).Mul(big.NewInt(10000), big.NewInt(1e18))

// PolicySnapshot is an immutable copy of the risk policy taken at the start
// of a discovery or validation cycle, so a mid-cycle parameter update never
// produces a time-of-check/time-of-use race.
type PolicySnapshot struct {
	Version           uint64
	Paused            bool
	MinProfitBps      uint64
	MaxTradeSize      *big.Int
	MaxPriceImpactBps uint64
	MaxGasPrice       *big.Int
	MaxGasPerPath     uint64
	MinLiquidity      *big.Int
	EmergencyDelay    time.Duration
}

// Vault abstracts the capital pool the guard can drain during an emergency
// withdrawal.
type Vault interface {
	BalanceOf(token common.Address) *big.Int
	Transfer(token common.Address, to common.Address, amount *big.Int) error
}

// Persister writes updated parameters back to durable storage.
type Persister func(params config.RiskParams) error

// Guard enforces pause state, parameter bounds and the emergency-withdrawal
// delay. Single writer (the privileged operator), many readers.
type Guard struct {
	mu      sync.RWMutex
	params  config.RiskParams
	paused  bool
	version uint64

	withdrawRequestedAt time.Time // zero = no request pending

	vault    Vault
	recovery common.Address
	persist  Persister
	emitter  *events.Emitter
	logger   *zap.Logger
	now      func() time.Time
}

// NewGuard creates a guard seeded with params. persist may be nil when the
// deployment has no durable config (tests, ephemeral runs).
func NewGuard(params config.RiskParams, vault Vault, recovery common.Address, persist Persister, emitter *events.Emitter, logger *zap.Logger) *Guard {
	return &Guard{
		params:   params,
		vault:    vault,
		recovery: recovery,
		persist:  persist,
		emitter:  emitter,
		logger:   logger,
		now:      time.Now,
	}
}

// Snapshot returns an immutable copy of the current policy.
func (g *Guard) Snapshot() PolicySnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return PolicySnapshot{
		Version:           g.version,
		Paused:            g.paused,
		MinProfitBps:      g.params.MinProfitBps,
		MaxTradeSize:      cloneBig(g.params.MaxTradeSize),
		MaxPriceImpactBps: g.params.MaxPriceImpactBps,
		MaxGasPrice:       cloneBig(g.params.MaxGasPrice),
		MaxGasPerPath:     g.params.MaxGasPerPath,
		MinLiquidity:      cloneBig(g.params.MinLiquidity),
		EmergencyDelay:    g.params.EmergencyDelay.Std(),
	}
}

// TradingEnabled reports whether quote fan-out and execution may proceed.
func (g *Guard) TradingEnabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return !g.paused
}

// Pause sets the global pause flag. Idempotent: pausing an already paused
// guard is a no-op, not an error.
func (g *Guard) Pause() {
	g.mu.Lock()
	already := g.paused
	g.paused = true
	g.version++
	g.mu.Unlock()

	if !already {
		g.emitter.Paused(true)
	}
}

// Unpause clears the pause flag. Idempotent.
func (g *Guard) Unpause() {
	g.mu.Lock()
	already := !g.paused
	g.paused = false
	g.version++
	g.mu.Unlock()

	if !already {
		g.emitter.Paused(false)
	}
}

// UpdateParameters applies a bounded update to the mutable risk parameters.
// Any value outside its hard range rejects the whole call and leaves the
// policy untouched.
func (g *Guard) UpdateParameters(minProfitBps uint64, maxTradeSize *big.Int, emergencyDelay time.Duration) error {
	if minProfitBps < MinProfitBpsFloor || minProfitBps > MinProfitBpsCeiling {
		return fmt.Errorf("%w: min profit %d bps outside [%d, %d]", ErrOutOfBounds, minProfitBps, MinProfitBpsFloor, MinProfitBpsCeiling)
	}
	if maxTradeSize == nil || maxTradeSize.Sign() <= 0 || maxTradeSize.Cmp(MaxTradeSizeCeiling) > 0 {
		return fmt.Errorf("%w: max trade size must be in (0, %s]", ErrOutOfBounds, MaxTradeSizeCeiling.String())
	}
	if emergencyDelay < EmergencyDelayFloor || emergencyDelay > EmergencyDelayCeiling {
		return fmt.Errorf("%w: emergency delay %s outside [%s, %s]", ErrOutOfBounds, emergencyDelay, EmergencyDelayFloor, EmergencyDelayCeiling)
	}

	g.mu.Lock()
	g.params.MinProfitBps = minProfitBps
	g.params.MaxTradeSize = new(big.Int).Set(maxTradeSize)
	g.params.EmergencyDelay = config.Duration(emergencyDelay)
	g.version++
	params := g.params
	version := g.version
	g.mu.Unlock()

	g.emitter.ParameterChange(minProfitBps, maxTradeSize, emergencyDelay.String(), version)

	if g.persist != nil {
		if err := g.persist(params); err != nil {
			// The in-memory policy is already live; a persistence failure
			// only threatens the next restart.
			g.logger.Error("Failed to persist risk parameters", zap.Error(err))
		}
	}
	return nil
}

// RequestEmergencyWithdrawal starts the withdrawal timer and pauses trading.
func (g *Guard) RequestEmergencyWithdrawal() error {
	g.mu.Lock()
	if !g.withdrawRequestedAt.IsZero() {
		g.mu.Unlock()
		return ErrWithdrawalInProgress
	}
	now := g.now()
	g.withdrawRequestedAt = now
	g.paused = true
	g.version++
	g.mu.Unlock()

	g.emitter.EmergencyWithdrawal("requested", zap.Time("requested_at", now))
	return nil
}

// CancelEmergencyWithdrawal clears a pending request. Trading stays paused
// until the operator unpauses explicitly.
func (g *Guard) CancelEmergencyWithdrawal() error {
	g.mu.Lock()
	if g.withdrawRequestedAt.IsZero() {
		g.mu.Unlock()
		return ErrNoWithdrawalPending
	}
	g.withdrawRequestedAt = time.Time{}
	g.version++
	g.mu.Unlock()

	g.emitter.EmergencyWithdrawal("cancelled")
	return nil
}

// ExecuteEmergencyWithdrawal transfers the entire balance of each listed
// token to the recovery recipient once the configured delay has elapsed,
// then clears the request.
func (g *Guard) ExecuteEmergencyWithdrawal(tokens []common.Address) error {
	g.mu.Lock()
	if g.withdrawRequestedAt.IsZero() {
		g.mu.Unlock()
		return ErrNoWithdrawalPending
	}
	elapsed := g.now().Sub(g.withdrawRequestedAt)
	delay := g.params.EmergencyDelay.Std()
	if elapsed < delay {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s of %s elapsed", ErrDelayNotElapsed, elapsed.Round(time.Second), delay)
	}
	recovery := g.recovery
	g.mu.Unlock()

	// The request is cleared only after every transfer lands. A mid-list
	// failure leaves it pending so the remaining tokens can be drained
	// without a fresh request and another delay.
	for _, token := range tokens {
		balance := g.vault.BalanceOf(token)
		if balance.Sign() == 0 {
			continue
		}
		if err := g.vault.Transfer(token, recovery, balance); err != nil {
			return fmt.Errorf("failed to withdraw %s: %w", token.Hex(), err)
		}
		g.emitter.EmergencyWithdrawal("executed",
			zap.String("token", token.Hex()),
			zap.String("amount", balance.String()),
			zap.String("recipient", recovery.Hex()),
		)
	}

	g.mu.Lock()
	g.withdrawRequestedAt = time.Time{}
	g.version++
	g.mu.Unlock()
	return nil
}

// WithdrawalPending reports whether a request is outstanding and when it
// becomes executable.
func (g *Guard) WithdrawalPending() (bool, time.Time) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.withdrawRequestedAt.IsZero() {
		return false, time.Time{}
	}
	return true, g.withdrawRequestedAt.Add(g.params.EmergencyDelay.Std())
}

// SetClock overrides the time source. Test hook.
func (g *Guard) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

func cloneBig(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}
