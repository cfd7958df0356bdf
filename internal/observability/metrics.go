package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the engine. All methods are
// nil-safe so tests can run the engine without a registry.
type Metrics struct {
	TradesExecuted      *prometheus.CounterVec
	TradeVolume         *prometheus.CounterVec
	OperationsRejected  *prometheus.CounterVec
	PositionsOpen       *prometheus.GaugeVec
	Liquidations        *prometheus.CounterVec
	LiquidationFees     *prometheus.CounterVec
	FundingSettlements  *prometheus.CounterVec
	FundingDistributed  *prometheus.CounterVec
	InsuranceFund       *prometheus.GaugeVec
	FeePool             *prometheus.GaugeVec
	SpotPrice           *prometheus.GaugeVec
	OrdersPlaced        *prometheus.CounterVec
	OrdersFilled        *prometheus.CounterVec
	OrdersCancelled     *prometheus.CounterVec
	CollateralDeposited prometheus.Counter
	CollateralWithdrawn prometheus.Counter
}

// NewMetrics creates and registers all engine metrics on the default
// registry.
func NewMetrics() *Metrics {
	return &Metrics{
		TradesExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_trades_executed_total",
			Help: "Trades committed against the AMM",
		}, []string{"market", "side", "kind"}),

		TradeVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_trade_volume_base_total",
			Help: "Trade volume in base units",
		}, []string{"market"}),

		OperationsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_operations_rejected_total",
			Help: "Engine operations rejected by validation",
		}, []string{"operation"}),

		PositionsOpen: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_positions_open",
			Help: "Open positions per market",
		}, []string{"market"}),

		Liquidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liquidations_total",
			Help: "Positions liquidated",
		}, []string{"market"}),

		LiquidationFees: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liquidation_fees_total",
			Help: "Liquidation fees charged, in quote units",
		}, []string{"market", "recipient"}),

		FundingSettlements: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_settlements_total",
			Help: "Funding settlement rounds",
		}, []string{"market"}),

		FundingDistributed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_distributed_total",
			Help: "Absolute funding value moved between accounts",
		}, []string{"market"}),

		InsuranceFund: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_insurance_fund_balance",
			Help: "Insurance fund balance per market",
		}, []string{"market"}),

		FeePool: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_fee_pool_balance",
			Help: "Fee pool balance per market",
		}, []string{"market"}),

		SpotPrice: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_spot_price",
			Help: "AMM spot price, price-scaled",
		}, []string{"market"}),

		OrdersPlaced: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_orders_placed_total",
			Help: "Orders accepted",
		}, []string{"market", "type"}),

		OrdersFilled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_orders_filled_total",
			Help: "Orders filled",
		}, []string{"market", "type"}),

		OrdersCancelled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_orders_cancelled_total",
			Help: "Orders cancelled",
		}, []string{"market"}),

		CollateralDeposited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_collateral_deposited_total",
			Help: "Collateral deposited, in quote units",
		}),

		CollateralWithdrawn: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_collateral_withdrawn_total",
			Help: "Collateral withdrawn, in quote units",
		}),
	}
}

func (m *Metrics) RecordTrade(market, side, kind string, size uint64) {
	if m == nil {
		return
	}
	m.TradesExecuted.WithLabelValues(market, side, kind).Inc()
	m.TradeVolume.WithLabelValues(market).Add(float64(size))
}

func (m *Metrics) RecordRejection(operation string) {
	if m == nil {
		return
	}
	m.OperationsRejected.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordLiquidation(market string, liquidatorFee, insuranceFee uint64) {
	if m == nil {
		return
	}
	m.Liquidations.WithLabelValues(market).Inc()
	m.LiquidationFees.WithLabelValues(market, "liquidator").Add(float64(liquidatorFee))
	m.LiquidationFees.WithLabelValues(market, "insurance").Add(float64(insuranceFee))
}

func (m *Metrics) RecordFunding(market string, distributed uint64) {
	if m == nil {
		return
	}
	m.FundingSettlements.WithLabelValues(market).Inc()
	m.FundingDistributed.WithLabelValues(market).Add(float64(distributed))
}

// RecordMarketState refreshes the per-market gauges after a commit.
func (m *Metrics) RecordMarketState(market string, spotPrice, insuranceFund, feePool uint64) {
	if m == nil {
		return
	}
	m.SpotPrice.WithLabelValues(market).Set(float64(spotPrice))
	m.InsuranceFund.WithLabelValues(market).Set(float64(insuranceFund))
	m.FeePool.WithLabelValues(market).Set(float64(feePool))
}

func (m *Metrics) RecordOrderPlaced(market, orderType string) {
	if m == nil {
		return
	}
	m.OrdersPlaced.WithLabelValues(market, orderType).Inc()
}

func (m *Metrics) RecordOrderFilled(market, orderType string) {
	if m == nil {
		return
	}
	m.OrdersFilled.WithLabelValues(market, orderType).Inc()
}

func (m *Metrics) RecordOrderCancelled(market string) {
	if m == nil {
		return
	}
	m.OrdersCancelled.WithLabelValues(market).Inc()
}

func (m *Metrics) RecordDeposit(amount uint64) {
	if m == nil {
		return
	}
	m.CollateralDeposited.Add(float64(amount))
}

func (m *Metrics) RecordWithdrawal(amount uint64) {
	if m == nil {
		return
	}
	m.CollateralWithdrawn.Add(float64(amount))
}

func (m *Metrics) AddOpenPositions(market string, delta float64) {
	if m == nil {
		return
	}
	m.PositionsOpen.WithLabelValues(market).Add(delta)
}
