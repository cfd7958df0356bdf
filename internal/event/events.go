// Package event defines the typed notifications the engine emits, exactly
// one per successful mutating operation. Sinks deliver them to downstream
// consumers; delivery failure never rolls back engine state.
package event

import "github.com/google/uuid"

// Type discriminator for event payloads.
type Type int32

const (
	TypeUnknown Type = iota
	TypeMarketInitialized
	TypeMarketPaused
	TypeMarketResumed
	TypeMarketParamsUpdated
	TypeFundingRateUpdated
	TypeFundingSettled
	TypeMarginAccountCreated
	TypeCollateralDeposited
	TypeCollateralWithdrawn
	TypePositionOpened
	TypePositionClosed
	TypeMarginAdjusted
	TypePositionLiquidated
	TypeOrderPlaced
	TypeOrderFilled
	TypeOrderCancelled
)

func (t Type) String() string {
	switch t {
	case TypeMarketInitialized:
		return "market_initialized"
	case TypeMarketPaused:
		return "market_paused"
	case TypeMarketResumed:
		return "market_resumed"
	case TypeMarketParamsUpdated:
		return "market_params_updated"
	case TypeFundingRateUpdated:
		return "funding_rate_updated"
	case TypeFundingSettled:
		return "funding_settled"
	case TypeMarginAccountCreated:
		return "margin_account_created"
	case TypeCollateralDeposited:
		return "collateral_deposited"
	case TypeCollateralWithdrawn:
		return "collateral_withdrawn"
	case TypePositionOpened:
		return "position_opened"
	case TypePositionClosed:
		return "position_closed"
	case TypeMarginAdjusted:
		return "margin_adjusted"
	case TypePositionLiquidated:
		return "position_liquidated"
	case TypeOrderPlaced:
		return "order_placed"
	case TypeOrderFilled:
		return "order_filled"
	case TypeOrderCancelled:
		return "order_cancelled"
	default:
		return "unknown"
	}
}

// Event is implemented by every payload.
type Event interface {
	EventType() Type
	MarketSymbol() string
}

type MarketInitialized struct {
	Market              string    `json:"market"`
	Authority           uuid.UUID `json:"authority"`
	VirtualBaseReserve  uint64    `json:"virtual_base_reserve"`
	VirtualQuoteReserve uint64    `json:"virtual_quote_reserve"`
	InitialPrice        uint64    `json:"initial_price"`
	Timestamp           int64     `json:"timestamp"`
}

func (e MarketInitialized) EventType() Type      { return TypeMarketInitialized }
func (e MarketInitialized) MarketSymbol() string { return e.Market }

type MarketPaused struct {
	Market    string `json:"market"`
	Timestamp int64  `json:"timestamp"`
}

func (e MarketPaused) EventType() Type      { return TypeMarketPaused }
func (e MarketPaused) MarketSymbol() string { return e.Market }

type MarketResumed struct {
	Market    string `json:"market"`
	Timestamp int64  `json:"timestamp"`
}

func (e MarketResumed) EventType() Type      { return TypeMarketResumed }
func (e MarketResumed) MarketSymbol() string { return e.Market }

type MarketParamsUpdated struct {
	Market                 string `json:"market"`
	MaintenanceMarginRatio uint64 `json:"maintenance_margin_ratio"`
	InitialMarginRatio     uint64 `json:"initial_margin_ratio"`
	FundingInterval        int64  `json:"funding_interval"`
	MaxLeverage            uint64 `json:"max_leverage"`
	LiquidationFeeRatio    uint64 `json:"liquidation_fee_ratio"`
	Timestamp              int64  `json:"timestamp"`
}

func (e MarketParamsUpdated) EventType() Type      { return TypeMarketParamsUpdated }
func (e MarketParamsUpdated) MarketSymbol() string { return e.Market }

type FundingRateUpdated struct {
	Market    string `json:"market"`
	Rate      int64  `json:"rate"`
	Timestamp int64  `json:"timestamp"`
}

func (e FundingRateUpdated) EventType() Type      { return TypeFundingRateUpdated }
func (e FundingRateUpdated) MarketSymbol() string { return e.Market }

type FundingSettled struct {
	Market         string `json:"market"`
	Rate           int64  `json:"rate"`
	Intervals      int64  `json:"intervals"`
	NetDistributed int64  `json:"net_distributed"`
	Timestamp      int64  `json:"timestamp"`
}

func (e FundingSettled) EventType() Type      { return TypeFundingSettled }
func (e FundingSettled) MarketSymbol() string { return e.Market }

type MarginAccountCreated struct {
	Owner      uuid.UUID `json:"owner"`
	MarginType string    `json:"margin_type"`
	Timestamp  int64     `json:"timestamp"`
}

func (e MarginAccountCreated) EventType() Type      { return TypeMarginAccountCreated }
func (e MarginAccountCreated) MarketSymbol() string { return "" }

type CollateralDeposited struct {
	Owner      uuid.UUID `json:"owner"`
	Amount     uint64    `json:"amount"`
	Collateral uint64    `json:"collateral"`
	Timestamp  int64     `json:"timestamp"`
}

func (e CollateralDeposited) EventType() Type      { return TypeCollateralDeposited }
func (e CollateralDeposited) MarketSymbol() string { return "" }

type CollateralWithdrawn struct {
	Owner      uuid.UUID `json:"owner"`
	Amount     uint64    `json:"amount"`
	Collateral uint64    `json:"collateral"`
	Timestamp  int64     `json:"timestamp"`
}

func (e CollateralWithdrawn) EventType() Type      { return TypeCollateralWithdrawn }
func (e CollateralWithdrawn) MarketSymbol() string { return "" }

type PositionOpened struct {
	Market     string    `json:"market"`
	PositionID uuid.UUID `json:"position_id"`
	Owner      uuid.UUID `json:"owner"`
	Side       string    `json:"side"`
	Size       uint64    `json:"size"`
	EntryPrice uint64    `json:"entry_price"`
	Collateral uint64    `json:"collateral"`
	Leverage   uint64    `json:"leverage"`
	Timestamp  int64     `json:"timestamp"`
}

func (e PositionOpened) EventType() Type      { return TypePositionOpened }
func (e PositionOpened) MarketSymbol() string { return e.Market }

type PositionClosed struct {
	Market      string    `json:"market"`
	PositionID  uuid.UUID `json:"position_id"`
	Owner       uuid.UUID `json:"owner"`
	ExitPrice   uint64    `json:"exit_price"`
	RealizedPnL int64     `json:"realized_pnl"`
	Timestamp   int64     `json:"timestamp"`
}

func (e PositionClosed) EventType() Type      { return TypePositionClosed }
func (e PositionClosed) MarketSymbol() string { return e.Market }

type MarginAdjusted struct {
	Market           string    `json:"market"`
	PositionID       uuid.UUID `json:"position_id"`
	Delta            int64     `json:"delta"`
	Collateral       uint64    `json:"collateral"`
	LiquidationPrice uint64    `json:"liquidation_price"`
	Timestamp        int64     `json:"timestamp"`
}

func (e MarginAdjusted) EventType() Type      { return TypeMarginAdjusted }
func (e MarginAdjusted) MarketSymbol() string { return e.Market }

type PositionLiquidated struct {
	Market        string    `json:"market"`
	PositionID    uuid.UUID `json:"position_id"`
	Owner         uuid.UUID `json:"owner"`
	Liquidator    uuid.UUID `json:"liquidator"`
	MarkPrice     uint64    `json:"mark_price"`
	Loss          uint64    `json:"loss"`
	LiquidatorFee uint64    `json:"liquidator_fee"`
	InsuranceFee  uint64    `json:"insurance_fee"`
	Timestamp     int64     `json:"timestamp"`
}

func (e PositionLiquidated) EventType() Type      { return TypePositionLiquidated }
func (e PositionLiquidated) MarketSymbol() string { return e.Market }

type OrderPlaced struct {
	Market     string    `json:"market"`
	OrderID    uuid.UUID `json:"order_id"`
	Owner      uuid.UUID `json:"owner"`
	OrderType  string    `json:"order_type"`
	Side       string    `json:"side"`
	Size       uint64    `json:"size"`
	LimitPrice uint64    `json:"limit_price,omitempty"`
	Timestamp  int64     `json:"timestamp"`
}

func (e OrderPlaced) EventType() Type      { return TypeOrderPlaced }
func (e OrderPlaced) MarketSymbol() string { return e.Market }

type OrderFilled struct {
	Market     string    `json:"market"`
	OrderID    uuid.UUID `json:"order_id"`
	PositionID uuid.UUID `json:"position_id"`
	FillPrice  uint64    `json:"fill_price"`
	Timestamp  int64     `json:"timestamp"`
}

func (e OrderFilled) EventType() Type      { return TypeOrderFilled }
func (e OrderFilled) MarketSymbol() string { return e.Market }

type OrderCancelled struct {
	Market    string    `json:"market"`
	OrderID   uuid.UUID `json:"order_id"`
	Owner     uuid.UUID `json:"owner"`
	Timestamp int64     `json:"timestamp"`
}

func (e OrderCancelled) EventType() Type      { return TypeOrderCancelled }
func (e OrderCancelled) MarketSymbol() string { return e.Market }
