// Package engine wires the discovery loop: registry, quote aggregation,
// path finding, validation and execution, driven by a ticker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dexloop/arbot/config"
	"github.com/dexloop/arbot/dex"
	"github.com/dexloop/arbot/events"
	"github.com/dexloop/arbot/executor"
	"github.com/dexloop/arbot/flashloan"
	"github.com/dexloop/arbot/gas"
	"github.com/dexloop/arbot/pathfinder"
	"github.com/dexloop/arbot/quotes"
	"github.com/dexloop/arbot/registry"
	"github.com/dexloop/arbot/riskguard"
	"github.com/dexloop/arbot/simulator"
	"github.com/dexloop/arbot/types"
	"github.com/dexloop/arbot/utils/metrics"
	"github.com/dexloop/arbot/validator"
)

const paperSwapGas = 120000

// paperLenderFeeBps matches Aave's flash-loan premium.
const paperLenderFeeBps = 9

// Engine owns one discovery-and-execute pipeline over a venue set
type Engine struct {
	cfg         *config.Config
	registry    *registry.Registry
	aggregator  *quotes.Aggregator
	finder      *pathfinder.Finder
	guard       *riskguard.Guard
	coordinator *executor.Coordinator
	vault       *simulator.MemoryVault
	promReg     *prometheus.Registry
	discovery   *metrics.DiscoveryMetrics
	logger      *zap.Logger

	startToken common.Address
	wg         sync.WaitGroup
}

// New builds the full pipeline from config. Venues and their paper pools
// come from the seed file; quotes, settlement and the loan book all run
// against the same in-memory pool state.
func New(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if cfg.VenueSeedFile == "" {
		return nil, fmt.Errorf("no venue seed file configured")
	}
	if !common.IsHexAddress(cfg.Discovery.StartToken) {
		return nil, fmt.Errorf("invalid start token %q", cfg.Discovery.StartToken)
	}
	startToken := common.HexToAddress(cfg.Discovery.StartToken)

	intermediates := make([]common.Address, 0, len(cfg.Discovery.IntermediateTokens))
	for _, raw := range cfg.Discovery.IntermediateTokens {
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("invalid intermediate token %q", raw)
		}
		intermediates = append(intermediates, common.HexToAddress(raw))
	}

	promReg := prometheus.NewRegistry()
	emitter := events.NewEmitter(logger, promReg)

	vault := simulator.NewMemoryVault()
	guard := riskguard.NewGuard(cfg.Risk, vault,
		common.HexToAddress(cfg.RecoveryRecipient),
		func(params config.RiskParams) error {
			cfg.Risk = params
			return config.SaveConfig(cfg, "")
		},
		emitter, logger)

	venues := registry.NewRegistry(logger)
	seeds, err := registry.ParseSeedFile(cfg.VenueSeedFile)
	if err != nil {
		return nil, err
	}

	aggregator, err := quotes.NewAggregator(venues, guard, quotes.Config{
		VenueTimeout:    cfg.Discovery.VenueTimeout.Std(),
		OverallDeadline: cfg.Discovery.OverallDeadline.Std(),
		QuoteTTL:        cfg.Discovery.QuoteTTL.Std(),
		MinLiquidity:    cfg.Risk.MinLiquidity,
		CacheSize:       cfg.Discovery.QuoteCacheSize,
		RatePerSecond:   cfg.Discovery.VenueRatePerSecond,
		RateBurst:       cfg.Discovery.VenueRateBurst,
	}, emitter, logger)
	if err != nil {
		return nil, err
	}

	settlement := simulator.NewPaperSettlement(vault, logger)
	for _, sv := range seeds {
		if err := venues.Register(sv.Venue); err != nil {
			return nil, err
		}
		if len(sv.Pools) == 0 {
			logger.Warn("Venue has no paper pools, it will never quote",
				zap.String("venue", sv.Venue.ID))
			continue
		}
		cp := dex.NewConstantProduct(sv.Venue.ID, sv.FeeBps, paperSwapGas)
		for _, p := range sv.Pools {
			cp.SetReserves(p.TokenA, p.ReserveA, p.TokenB, p.ReserveB)
		}
		aggregator.RegisterQuoter(sv.Venue.ID, cp)
		settlement.RegisterVenue(sv.Venue.ID, cp)
	}

	finder := pathfinder.NewFinder(aggregator, pathfinder.Config{
		IntermediateTokens:   intermediates,
		MaxGasPerPath:        cfg.Risk.MaxGasPerPath,
		MaxPriceImpactBps:    cfg.Risk.MaxPriceImpactBps,
		SlippageToleranceBps: cfg.SlippageToleranceBps,
	}, emitter, logger)

	loans := flashloan.NewManager(logger, promReg)
	lender := flashloan.NewStaticProvider("paper-lender", paperLenderFeeBps)
	if cfg.Discovery.TradeAmount != nil {
		book := new(big.Int).Mul(cfg.Discovery.TradeAmount, big.NewInt(1000))
		lender.SetLiquidity(startToken, book)
	}
	loans.AddProvider(lender)

	if cfg.GasPriceWei == nil || cfg.GasPriceWei.Sign() <= 0 {
		return nil, fmt.Errorf("gas price must be positive to enforce the max-gas-price bound")
	}
	gasPrices := gas.NewStaticSource(cfg.GasPriceWei)

	coordinator := executor.NewCoordinator(executor.Params{
		Validator:       validator.NewValidator(aggregator, gasPrices, logger),
		Guard:           guard,
		Loans:           loans,
		Settlement:      settlement,
		Vault:           vault,
		Emitter:         emitter,
		Logger:          logger,
		FundingSource:   common.HexToAddress(cfg.FundingSource),
		ProfitRecipient: common.HexToAddress(cfg.ProfitRecipient),
		DryRun:          cfg.DryRun,
	})

	return &Engine{
		cfg:         cfg,
		registry:    venues,
		aggregator:  aggregator,
		finder:      finder,
		guard:       guard,
		coordinator: coordinator,
		vault:       vault,
		promReg:     promReg,
		discovery:   metrics.NewDiscoveryMetrics("arbot", promReg),
		logger:      logger,
		startToken:  startToken,
	}, nil
}

// Guard exposes the risk guard for operator commands
func (e *Engine) Guard() *riskguard.Guard { return e.guard }

// Run drives discovery ticks until the context is cancelled
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Starting arbitrage engine",
		zap.String("start_token", e.startToken.Hex()),
		zap.Int("venues", e.registry.Len()),
		zap.Bool("dry_run", e.cfg.DryRun),
		zap.Uint64("planning_gas_2hop", gas.EstimateCycleGas(2)),
		zap.Uint64("planning_gas_3hop", gas.EstimateCycleGas(3)),
	)

	if gas.EstimateCycleGas(2) > e.cfg.Risk.MaxGasPerPath {
		e.logger.Warn("Gas budget is below the planning estimate for a 2-hop cycle, most paths will be dropped",
			zap.Uint64("max_gas_per_path", e.cfg.Risk.MaxGasPerPath))
	}

	if e.cfg.PrometheusEnabled {
		e.serveMetrics(ctx)
	}

	interval := e.cfg.Discovery.Interval.Std()
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			e.logger.Info("Engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick runs one discovery round: find the best cycle and hand it to the
// coordinator. Quiet markets and pauses are normal, not errors.
func (e *Engine) tick(ctx context.Context) {
	start := time.Now()
	submitted := false
	defer func() { e.discovery.ObserveTick(start, submitted) }()

	path, err := e.finder.FindBestPath(ctx, e.startToken, e.cfg.Discovery.TradeAmount, e.cfg.Risk.MaxGasPrice)
	switch {
	case errors.Is(err, pathfinder.ErrNoPathFound):
		e.logger.Debug("No profitable cycle this round")
		return
	case errors.Is(err, quotes.ErrTradingPaused):
		e.logger.Info("Trading paused, skipping discovery round")
		return
	case err != nil:
		e.logger.Error("Path discovery failed", zap.Error(err))
		return
	}
	submitted = true

	report, err := e.coordinator.Execute(ctx, path)
	if err != nil {
		if errors.Is(err, executor.ErrExecutionInFlight) {
			e.logger.Debug("Execution already in flight, dropping cycle")
			return
		}
		e.logger.Warn("Execution did not settle", zap.Error(err))
		return
	}

	if report.State == types.StateSettled {
		e.logger.Info("Cycle settled",
			zap.Uint64("plan_id", report.PlanID),
			zap.String("realized_profit", report.RealizedProfit.String()),
		)
	}
}

func (e *Engine) serveMetrics(ctx context.Context) {
	server := &http.Server{
		Addr:    e.cfg.PrometheusEndpoint,
		Handler: promhttp.HandlerFor(e.promReg, promhttp.HandlerOpts{}),
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.logger.Info("Serving metrics", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
