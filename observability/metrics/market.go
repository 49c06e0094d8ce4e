package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics tracks money market activity across the protocol.
type MarketMetrics struct {
	operations    *prometheus.CounterVec
	liquidations  *prometheus.CounterVec
	accruals      *prometheus.CounterVec
	exchangeRate  *prometheus.GaugeVec
	totalBorrows  *prometheus.GaugeVec
	escrowEntries *prometheus.CounterVec
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

// Market returns the lazily-initialised market metrics registry.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "anchor_market_operations_total",
				Help: "Count of market operations by market symbol, operation, and outcome.",
			}, []string{"market", "op", "outcome"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "anchor_market_liquidations_total",
				Help: "Count of liquidations by borrowed and collateral market pair.",
			}, []string{"borrowed", "collateral"}),
			accruals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "anchor_market_interest_accruals_total",
				Help: "Count of interest accrual commits per market.",
			}, []string{"market"}),
			exchangeRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "anchor_market_exchange_rate",
				Help: "Current exchange rate mantissa per market, scaled to a float.",
			}, []string{"market"}),
			totalBorrows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "anchor_market_total_borrows",
				Help: "Outstanding borrow principal per market, scaled to a float.",
			}, []string{"market"}),
			escrowEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "anchor_escrow_entries_total",
				Help: "Count of redemption escrow deposits and withdrawals.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			marketRegistry.operations,
			marketRegistry.liquidations,
			marketRegistry.accruals,
			marketRegistry.exchangeRate,
			marketRegistry.totalBorrows,
			marketRegistry.escrowEntries,
		)
	})
	return marketRegistry
}

// ObserveOperation records one market operation with its outcome.
func (m *MarketMetrics) ObserveOperation(market, op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(market, op, outcome).Inc()
}

// ObserveLiquidation records a completed liquidation for a market pair.
func (m *MarketMetrics) ObserveLiquidation(borrowed, collateral string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(borrowed, collateral).Inc()
}

// ObserveAccrual records an interest accrual commit.
func (m *MarketMetrics) ObserveAccrual(market string) {
	if m == nil {
		return
	}
	m.accruals.WithLabelValues(market).Inc()
}

// SetExchangeRate publishes the current exchange rate for a market.
func (m *MarketMetrics) SetExchangeRate(market string, rate float64) {
	if m == nil {
		return
	}
	m.exchangeRate.WithLabelValues(market).Set(rate)
}

// SetTotalBorrows publishes the outstanding borrow principal for a market.
func (m *MarketMetrics) SetTotalBorrows(market string, borrows float64) {
	if m == nil {
		return
	}
	m.totalBorrows.WithLabelValues(market).Set(borrows)
}

// ObserveEscrow records a redemption escrow movement, kind is "deposit",
// "immediate", or "withdraw".
func (m *MarketMetrics) ObserveEscrow(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.escrowEntries.WithLabelValues(kind).Inc()
}
