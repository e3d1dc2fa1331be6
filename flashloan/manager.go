package flashloan

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Manager prices loans across providers and picks the cheapest source with
// enough liquidity for the requested principal.
type Manager struct {
	mu      sync.RWMutex
	metrics struct {
		providerSelections *prometheus.CounterVec
		quoteErrors        *prometheus.CounterVec
	}
	providers []Provider
	logger    *zap.Logger
}

// NewManager creates a loan manager. reg may be prometheus.DefaultRegisterer
// in production or a private registry in tests.
func NewManager(logger *zap.Logger, reg prometheus.Registerer) *Manager {
	m := &Manager{logger: logger}
	factory := promauto.With(reg)

	m.metrics.providerSelections = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "arbot_loan_provider_selections_total",
		Help: "Number of times each loan provider was selected",
	}, []string{"provider"})

	m.metrics.quoteErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "arbot_loan_quote_errors_total",
		Help: "Number of loan pricing failures by provider",
	}, []string{"provider"})

	return m
}

// AddProvider adds a capital source to the selection set
func (m *Manager) AddProvider(provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, provider)
}

// Cheapest returns binding terms from the lowest-fee provider able to lend
// amount of token. Providers that fail to price or lack liquidity are
// skipped, not fatal.
func (m *Manager) Cheapest(ctx context.Context, token common.Address, amount *big.Int) (*Terms, error) {
	m.mu.RLock()
	providers := make([]Provider, len(m.providers))
	copy(providers, m.providers)
	m.mu.RUnlock()

	if len(providers) == 0 {
		return nil, ErrNoProvider
	}

	var best *Terms
	sawLiquid := false

	for _, provider := range providers {
		liquidity, err := provider.Liquidity(ctx, token)
		if err != nil {
			m.metrics.quoteErrors.WithLabelValues(provider.String()).Inc()
			m.logger.Warn("Failed to read provider liquidity",
				zap.String("provider", provider.String()),
				zap.Error(err),
			)
			continue
		}
		if liquidity.Cmp(amount) < 0 {
			continue
		}
		sawLiquid = true

		fee, err := provider.Fee(ctx, token, amount)
		if err != nil {
			m.metrics.quoteErrors.WithLabelValues(provider.String()).Inc()
			m.logger.Warn("Failed to get provider fee",
				zap.String("provider", provider.String()),
				zap.Error(err),
			)
			continue
		}

		if best == nil || fee.Cmp(best.Fee) < 0 {
			best = &Terms{Provider: provider, Token: token, Amount: amount, Fee: fee}
		}
	}

	if best == nil {
		if sawLiquid {
			return nil, fmt.Errorf("%w: all liquid providers failed to price", ErrNoProvider)
		}
		return nil, fmt.Errorf("%w: need %s", ErrInsufficientLiquidity, amount)
	}

	m.metrics.providerSelections.WithLabelValues(best.Provider.String()).Inc()
	return best, nil
}
