// Package quotes aggregates live venue quotes for a token pair. Fan-out is
// concurrent with a per-venue timeout and an overall discovery deadline;
// venues that error, time out or fall outside bounds are excluded rather
// than failing the call.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dexloop/arbot/dex"
	"github.com/dexloop/arbot/events"
	"github.com/dexloop/arbot/registry"
	"github.com/dexloop/arbot/types"
	"github.com/dexloop/arbot/utils/math"
)

var (
	ErrTradingPaused = errors.New("trading is paused")
	ErrInvalidParams = errors.New("invalid quote parameters")
)

// Gate is the risk-guard checkpoint consulted before quote fan-out.
type Gate interface {
	TradingEnabled() bool
}

// Config bounds one aggregation cycle. VenueTimeout must stay well inside
// QuoteTTL so quotes are still fresh when the validator re-checks them.
type Config struct {
	VenueTimeout    time.Duration
	OverallDeadline time.Duration
	QuoteTTL        time.Duration
	MinLiquidity    *big.Int
	CacheSize       int
	RatePerSecond   float64
	RateBurst       int
}

type cacheEntry struct {
	quotes    []types.Quote
	fetchedAt time.Time
}

// Aggregator fans quote requests out to every eligible venue.
type Aggregator struct {
	reg     *registry.Registry
	gate    Gate
	cfg     Config
	emitter *events.Emitter
	logger  *zap.Logger

	mu       sync.RWMutex
	quoters  map[string]dex.Quoter
	limiters map[string]*rate.Limiter

	cache *lru.Cache
	now   func() time.Time
}

// NewAggregator creates an aggregator over the registry's venues. Quoters
// are attached per venue with RegisterQuoter.
func NewAggregator(reg *registry.Registry, gate Gate, cfg Config, emitter *events.Emitter, logger *zap.Logger) (*Aggregator, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create quote cache: %w", err)
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}

	return &Aggregator{
		reg:      reg,
		gate:     gate,
		cfg:      cfg,
		emitter:  emitter,
		logger:   logger,
		quoters:  make(map[string]dex.Quoter),
		limiters: make(map[string]*rate.Limiter),
		cache:    cache,
		now:      time.Now,
	}, nil
}

// RegisterQuoter attaches the quote collaborator for a venue.
func (a *Aggregator) RegisterQuoter(venueID string, q dex.Quoter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quoters[venueID] = q
	a.limiters[venueID] = rate.NewLimiter(rate.Limit(a.cfg.RatePerSecond), a.cfg.RateBurst)
}

// QuoteTTL exposes the staleness bound so downstream validation can decide
// when a snapshot needs re-quoting.
func (a *Aggregator) QuoteTTL() time.Duration { return a.cfg.QuoteTTL }

// GetQuotes queries every active venue supporting the pair and returns the
// surviving quotes sorted by output amount descending, ties broken by lower
// gas estimate, then venue registration order.
func (a *Aggregator) GetQuotes(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, maxGasPrice *big.Int) ([]types.Quote, error) {
	if a.gate != nil && !a.gate.TradingEnabled() {
		return nil, ErrTradingPaused
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive input amount", ErrInvalidParams)
	}
	if maxGasPrice != nil && maxGasPrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive max gas price", ErrInvalidParams)
	}
	if tokenIn == tokenOut {
		return nil, fmt.Errorf("%w: identical tokens", ErrInvalidParams)
	}

	key := cacheKey(tokenIn, tokenOut, amountIn)
	if cached, ok := a.cache.Get(key); ok {
		entry := cached.(*cacheEntry)
		if a.now().Sub(entry.fetchedAt) <= a.cfg.QuoteTTL {
			return cloneQuotes(entry.quotes), nil
		}
		a.cache.Remove(key)
	}

	venues := a.reg.ListActiveVenues(tokenIn, tokenOut)
	if len(venues) == 0 {
		return nil, nil
	}

	octx := ctx
	if a.cfg.OverallDeadline > 0 {
		var cancel context.CancelFunc
		octx, cancel = context.WithTimeout(ctx, a.cfg.OverallDeadline)
		defer cancel()
	}

	type result struct {
		order int
		quote *types.Quote
	}
	results := make(chan result, len(venues))

	for i, venue := range venues {
		go func(order int, venue registry.Venue) {
			q := a.fetchVenueQuote(octx, venue, tokenIn, tokenOut, amountIn)
			results <- result{order: order, quote: q}
		}(i, venue)
	}

	// Collect until every venue answered or the overall deadline elapsed;
	// venues that have not answered by then are excluded, not errors.
	collected := make([]result, 0, len(venues))
collect:
	for range venues {
		select {
		case r := <-results:
			if r.quote != nil {
				collected = append(collected, r)
			}
		case <-octx.Done():
			break collect
		}
	}

	sort.SliceStable(collected, func(i, j int) bool {
		qi, qj := collected[i].quote, collected[j].quote
		if c := qi.AmountOut.Cmp(qj.AmountOut); c != 0 {
			return c > 0
		}
		if qi.GasEstimate != qj.GasEstimate {
			return qi.GasEstimate < qj.GasEstimate
		}
		return collected[i].order < collected[j].order
	})

	out := make([]types.Quote, len(collected))
	for i, r := range collected {
		out[i] = *r.quote
	}

	if len(out) > 0 {
		a.cache.Add(key, &cacheEntry{quotes: cloneQuotes(out), fetchedAt: a.now()})
	}
	return out, nil
}

// fetchVenueQuote queries one venue and applies the exclusion rules. A nil
// return means the venue sat out this cycle.
func (a *Aggregator) fetchVenueQuote(ctx context.Context, venue registry.Venue, tokenIn, tokenOut common.Address, amountIn *big.Int) *types.Quote {
	a.mu.RLock()
	quoter, ok := a.quoters[venue.ID]
	limiter := a.limiters[venue.ID]
	a.mu.RUnlock()

	if !ok {
		a.emitter.QuoteExcluded(venue.ID, "no_quoter")
		return nil
	}

	vctx, cancel := context.WithTimeout(ctx, a.cfg.VenueTimeout)
	defer cancel()

	if err := limiter.Wait(vctx); err != nil {
		a.emitter.QuoteExcluded(venue.ID, "rate_limited")
		return nil
	}

	res, err := quoter.Quote(vctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		a.emitter.QuoteExcluded(venue.ID, excludeReason(err))
		return nil
	}

	if a.cfg.MinLiquidity != nil && res.Liquidity != nil && res.Liquidity.Cmp(a.cfg.MinLiquidity) < 0 {
		a.emitter.QuoteExcluded(venue.ID, "liquidity")
		return nil
	}

	impact := math.ImpactBps(res.SpotOut, res.AmountOut)
	if impact > venue.MaxSlippageBps {
		a.emitter.QuoteExcluded(venue.ID, "impact")
		return nil
	}

	return &types.Quote{
		VenueID:        venue.ID,
		TokenIn:        tokenIn,
		TokenOut:       tokenOut,
		AmountIn:       new(big.Int).Set(amountIn),
		AmountOut:      res.AmountOut,
		GasEstimate:    venue.GasOverhead + res.GasEstimate,
		PriceImpactBps: impact,
		Liquidity:      res.Liquidity,
		FetchedAt:      a.now(),
	}
}

func excludeReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, dex.ErrInsufficientLiquidity):
		return "liquidity"
	case errors.Is(err, dex.ErrInvalidPool):
		return "invalid_pool"
	case errors.Is(err, dex.ErrUnsupportedDEX):
		return "unsupported_dex"
	case errors.Is(err, dex.ErrPoolError):
		return "pool_error"
	default:
		return "error"
	}
}

func cacheKey(tokenIn, tokenOut common.Address, amountIn *big.Int) string {
	return tokenIn.Hex() + "/" + tokenOut.Hex() + "/" + amountIn.String()
}

func cloneQuotes(in []types.Quote) []types.Quote {
	out := make([]types.Quote, len(in))
	copy(out, in)
	return out
}
