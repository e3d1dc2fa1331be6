// Package events emits the engine's one-way observability stream: structured
// logs for external monitoring plus prometheus counters. Nothing in the core
// depends on a subscriber.
package events

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/dexloop/arbot/types"
)

// Emitter publishes engine lifecycle events.
type Emitter struct {
	logger  *zap.Logger
	metrics struct {
		quotesExcluded  *prometheus.CounterVec
		pathsFound      prometheus.Counter
		executions      *prometheus.CounterVec
		paramChanges    prometheus.Counter
		emergencyEvents *prometheus.CounterVec
		realizedProfit  prometheus.Histogram
	}
}

// NewEmitter creates an emitter registering its metrics on reg. Passing a
// fresh registry in tests avoids duplicate-registration panics.
func NewEmitter(logger *zap.Logger, reg prometheus.Registerer) *Emitter {
	e := &Emitter{logger: logger}
	factory := promauto.With(reg)

	e.metrics.quotesExcluded = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "arbot_quotes_excluded_total",
		Help: "Venue quotes excluded from aggregation, by reason",
	}, []string{"venue", "reason"})

	e.metrics.pathsFound = factory.NewCounter(prometheus.CounterOpts{
		Name: "arbot_paths_found_total",
		Help: "Candidate paths surviving filtering",
	})

	e.metrics.executions = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "arbot_executions_total",
		Help: "Execution attempts by terminal state",
	}, []string{"state"})

	e.metrics.paramChanges = factory.NewCounter(prometheus.CounterOpts{
		Name: "arbot_parameter_changes_total",
		Help: "Risk parameter updates applied",
	})

	e.metrics.emergencyEvents = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "arbot_emergency_withdrawal_events_total",
		Help: "Emergency withdrawal lifecycle events, by stage",
	}, []string{"stage"})

	e.metrics.realizedProfit = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbot_realized_profit_wei",
		Help:    "Realized profit of settled executions, in wei",
		Buckets: prometheus.ExponentialBuckets(1e12, 10, 8),
	})

	return e
}

// QuoteExcluded records a venue dropping out of one aggregation cycle.
func (e *Emitter) QuoteExcluded(venueID, reason string) {
	e.metrics.quotesExcluded.WithLabelValues(venueID, reason).Inc()
	e.logger.Debug("Excluded venue quote",
		zap.String("venue", venueID),
		zap.String("reason", reason),
	)
}

// PathFound announces a candidate path that survived filtering.
func (e *Emitter) PathFound(path *types.CandidatePath) {
	e.metrics.pathsFound.Inc()

	venues := make([]string, len(path.Steps))
	for i, s := range path.Steps {
		venues[i] = s.VenueID
	}
	e.logger.Info("Found candidate path",
		zap.Uint64("fingerprint", path.Fingerprint()),
		zap.Strings("venues", venues),
		zap.Int("hops", len(path.Steps)),
		zap.String("amount_in", path.AmountIn.String()),
		zap.String("expected_profit", path.ExpectedProfit.String()),
		zap.Uint64("gas_estimate", path.GasEstimate),
	)
}

// ExecutionOutcome records an execution reaching a terminal state.
func (e *Emitter) ExecutionOutcome(planID uint64, state types.ExecutionState, realizedProfit *big.Int, failReason string) {
	e.metrics.executions.WithLabelValues(state.String()).Inc()

	fields := []zap.Field{
		zap.Uint64("plan_id", planID),
		zap.String("state", state.String()),
	}
	if realizedProfit != nil {
		fields = append(fields, zap.String("realized_profit", realizedProfit.String()))
		if realizedProfit.Sign() > 0 && realizedProfit.IsInt64() {
			e.metrics.realizedProfit.Observe(float64(realizedProfit.Int64()))
		}
	}
	if failReason != "" {
		fields = append(fields, zap.String("reason", failReason))
	}

	if state == types.StateSettled {
		e.logger.Info("Execution settled", fields...)
	} else {
		e.logger.Warn("Execution did not settle", fields...)
	}
}

// ParameterChange records a successful risk-parameter update.
func (e *Emitter) ParameterChange(minProfitBps uint64, maxTradeSize *big.Int, emergencyDelay string, version uint64) {
	e.metrics.paramChanges.Inc()
	e.logger.Info("Updated risk parameters",
		zap.Uint64("min_profit_bps", minProfitBps),
		zap.String("max_trade_size", maxTradeSize.String()),
		zap.String("emergency_delay", emergencyDelay),
		zap.Uint64("policy_version", version),
	)
}

// EmergencyWithdrawal records a lifecycle stage of the emergency-withdrawal
// protocol: requested, cancelled or executed.
func (e *Emitter) EmergencyWithdrawal(stage string, fields ...zap.Field) {
	e.metrics.emergencyEvents.WithLabelValues(stage).Inc()
	e.logger.Warn("Emergency withdrawal "+stage, fields...)
}

// Paused records pause-state transitions.
func (e *Emitter) Paused(paused bool) {
	if paused {
		e.logger.Warn("Trading paused")
	} else {
		e.logger.Info("Trading unpaused")
	}
}
