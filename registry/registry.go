// Package registry is the authoritative record of tradable venues: their
// protocol shape, risk limits and supported token pairs. Writes are
// infrequent administrative operations; reads return copies so in-flight
// discovery never observes a half-applied edit.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var (
	ErrDuplicateVenue = errors.New("venue already registered")
	ErrVenueNotFound  = errors.New("venue not found")
	ErrInvalidVenue   = errors.New("invalid venue definition")
)

// Protocol identifies the pricing shape of a venue.
type Protocol int

const (
	ProtocolConstantProduct Protocol = iota
	ProtocolConcentratedLiquidity
	ProtocolAggregator
)

func (p Protocol) String() string {
	switch p {
	case ProtocolConstantProduct:
		return "constant_product"
	case ProtocolConcentratedLiquidity:
		return "concentrated_liquidity"
	case ProtocolAggregator:
		return "aggregator"
	default:
		return "unknown"
	}
}

// pairKey is an unordered token-pair key: tokens are stored canonically so
// (A,B) and (B,A) address the same pool.
type pairKey struct {
	a, b common.Address
}

func newPairKey(x, y common.Address) pairKey {
	if x.Hex() > y.Hex() {
		x, y = y, x
	}
	return pairKey{a: x, b: y}
}

// Venue describes one liquidity source. Venues are soft-deleted: Deactivate
// clears Active but the record stays for audit trails.
type Venue struct {
	ID             string
	Protocol       Protocol
	Router         common.Address
	MaxSlippageBps uint64
	GasOverhead    uint64
	Active         bool

	pairs map[pairKey]struct{}
}

// SupportsPair reports whether the venue's whitelist includes the pair, in
// either direction.
func (v *Venue) SupportsPair(tokenIn, tokenOut common.Address) bool {
	if v.pairs == nil {
		return false
	}
	_, ok := v.pairs[newPairKey(tokenIn, tokenOut)]
	return ok
}

// AddPair whitelists a token pair on the venue.
func (v *Venue) AddPair(tokenA, tokenB common.Address) {
	if v.pairs == nil {
		v.pairs = make(map[pairKey]struct{})
	}
	v.pairs[newPairKey(tokenA, tokenB)] = struct{}{}
}

func (v *Venue) clone() Venue {
	out := *v
	out.pairs = make(map[pairKey]struct{}, len(v.pairs))
	for k := range v.pairs {
		out.pairs[k] = struct{}{}
	}
	return out
}

// Registry holds venue records under single-writer discipline: all
// mutations serialize on the write lock, reads take the read lock and
// return copies.
type Registry struct {
	mu     sync.RWMutex
	venues map[string]*Venue
	order  []string // insertion order, for deterministic listing
	logger *zap.Logger
}

// NewRegistry creates an empty venue registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		venues: make(map[string]*Venue),
		logger: logger,
	}
}

// Register adds a venue. The venue is stored active regardless of the
// Active flag on the argument; use Deactivate to disable it.
func (r *Registry) Register(v Venue) error {
	if v.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidVenue)
	}
	if v.MaxSlippageBps == 0 || v.MaxSlippageBps >= 10000 {
		return fmt.Errorf("%w: max slippage %d bps out of range", ErrInvalidVenue, v.MaxSlippageBps)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.venues[v.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateVenue, v.ID)
	}

	stored := v.clone()
	stored.Active = true
	r.venues[v.ID] = &stored
	r.order = append(r.order, v.ID)

	r.logger.Info("Registered venue",
		zap.String("venue", v.ID),
		zap.String("protocol", v.Protocol.String()),
		zap.Uint64("max_slippage_bps", v.MaxSlippageBps),
	)
	return nil
}

// Deactivate soft-deletes a venue. The record remains for audit; an
// inactive venue is never quoted or routed through.
func (r *Registry) Deactivate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.venues[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrVenueNotFound, id)
	}
	v.Active = false
	r.logger.Info("Deactivated venue", zap.String("venue", id))
	return nil
}

// Reactivate re-enables a previously deactivated venue.
func (r *Registry) Reactivate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.venues[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrVenueNotFound, id)
	}
	v.Active = true
	r.logger.Info("Reactivated venue", zap.String("venue", id))
	return nil
}

// Get returns a copy of the venue record.
func (r *Registry) Get(id string) (Venue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.venues[id]
	if !ok {
		return Venue{}, fmt.Errorf("%w: %s", ErrVenueNotFound, id)
	}
	return v.clone(), nil
}

// IsPairSupported reports whether the venue exists and whitelists the pair.
func (r *Registry) IsPairSupported(id string, tokenIn, tokenOut common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.venues[id]
	return ok && v.SupportsPair(tokenIn, tokenOut)
}

// ListActiveVenues returns copies of the active venues whitelisting the
// pair, in registration order so downstream ranking is reproducible.
func (r *Registry) ListActiveVenues(tokenIn, tokenOut common.Address) []Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Venue
	for _, id := range r.order {
		v := r.venues[id]
		if v.Active && v.SupportsPair(tokenIn, tokenOut) {
			out = append(out, v.clone())
		}
	}
	return out
}

// Len returns the total number of venue records, active or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.venues)
}
