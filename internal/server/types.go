package server

import (
	"github.com/shopspring/decimal"

	"PerpCore/internal/state"
)

// priceDecimals is the display shift for price-scaled integers.
const priceDecimals = 6

func displayPrice(p uint64) string {
	return decimal.NewFromUint64(p).Shift(-priceDecimals).String()
}

type initMarketRequest struct {
	CallerID               string `json:"caller_id"`
	Symbol                 string `json:"symbol"`
	VirtualBaseReserve     uint64 `json:"virtual_base_reserve"`
	VirtualQuoteReserve    uint64 `json:"virtual_quote_reserve"`
	InitialFundingRate     int64  `json:"initial_funding_rate"`
	FundingInterval        int64  `json:"funding_interval"`
	MaintenanceMarginRatio uint64 `json:"maintenance_margin_ratio"`
	InitialMarginRatio     uint64 `json:"initial_margin_ratio"`
	LiquidationFeeRatio    uint64 `json:"liquidation_fee_ratio"`
	MaxLeverage            uint64 `json:"max_leverage"`
	Timestamp              int64  `json:"timestamp"`
}

type marketResponse struct {
	Symbol              string `json:"symbol"`
	SpotPrice           string `json:"spot_price"`
	LastPrice           uint64 `json:"last_price"`
	VirtualBaseReserve  uint64 `json:"virtual_base_reserve"`
	VirtualQuoteReserve uint64 `json:"virtual_quote_reserve"`
	FundingRate         int64  `json:"funding_rate"`
	IsActive            bool   `json:"is_active"`
	InsuranceFund       uint64 `json:"insurance_fund"`
	FeePool             uint64 `json:"fee_pool"`
}

func toMarketResponse(m *state.Market) marketResponse {
	return marketResponse{
		Symbol:              m.Symbol,
		SpotPrice:           displayPrice(m.LastPrice),
		LastPrice:           m.LastPrice,
		VirtualBaseReserve:  m.VirtualBaseReserve,
		VirtualQuoteReserve: m.VirtualQuoteReserve,
		FundingRate:         m.FundingRate,
		IsActive:            m.IsActive,
		InsuranceFund:       m.InsuranceFund,
		FeePool:             m.FeePool,
	}
}

type callerRequest struct {
	CallerID  string `json:"caller_id"`
	Timestamp int64  `json:"timestamp"`
}

type updateParamsRequest struct {
	CallerID               string  `json:"caller_id"`
	MaintenanceMarginRatio *uint64 `json:"maintenance_margin_ratio,omitempty"`
	InitialMarginRatio     *uint64 `json:"initial_margin_ratio,omitempty"`
	FundingInterval        *int64  `json:"funding_interval,omitempty"`
	MaxLeverage            *uint64 `json:"max_leverage,omitempty"`
	LiquidationFeeRatio    *uint64 `json:"liquidation_fee_ratio,omitempty"`
	Timestamp              int64   `json:"timestamp"`
}

type fundingRateRequest struct {
	CallerID  string `json:"caller_id"`
	Rate      int64  `json:"rate"`
	Timestamp int64  `json:"timestamp"`
}

type settleFundingRequest struct {
	Timestamp int64 `json:"timestamp"`
}

type createAccountRequest struct {
	Owner      string `json:"owner"`
	MarginType string `json:"margin_type"`
	Timestamp  int64  `json:"timestamp"`
}

type transferRequest struct {
	Amount    uint64 `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

type accountResponse struct {
	Owner           string   `json:"owner"`
	MarginType      string   `json:"margin_type"`
	Collateral      uint64   `json:"collateral"`
	AllocatedMargin uint64   `json:"allocated_margin"`
	AvailableMargin uint64   `json:"available_margin"`
	Positions       []string `json:"positions"`
	Orders          []string `json:"orders"`
}

func toAccountResponse(a *state.MarginAccount) accountResponse {
	positions := make([]string, len(a.Positions))
	for i, id := range a.Positions {
		positions[i] = id.String()
	}
	orders := make([]string, len(a.Orders))
	for i, id := range a.Orders {
		orders[i] = id.String()
	}
	return accountResponse{
		Owner:           a.Owner.String(),
		MarginType:      a.MarginType.String(),
		Collateral:      a.Collateral,
		AllocatedMargin: a.AllocatedMargin,
		AvailableMargin: a.AvailableMargin(),
		Positions:       positions,
		Orders:          orders,
	}
}

type openPositionRequest struct {
	CallerID  string `json:"caller_id"`
	Market    string `json:"market"`
	Side      string `json:"side"`
	Size      uint64 `json:"size"`
	Leverage  uint64 `json:"leverage"`
	Timestamp int64  `json:"timestamp"`
}

type adjustMarginRequest struct {
	CallerID  string `json:"caller_id"`
	Delta     int64  `json:"delta"`
	Timestamp int64  `json:"timestamp"`
}

type positionResponse struct {
	ID               string `json:"id"`
	Owner            string `json:"owner"`
	Market           string `json:"market"`
	Side             string `json:"side"`
	Status           string `json:"status"`
	Size             uint64 `json:"size"`
	EntryPrice       string `json:"entry_price"`
	Collateral       uint64 `json:"collateral"`
	Leverage         uint64 `json:"leverage"`
	LiquidationPrice string `json:"liquidation_price"`
	RealizedPnL      int64  `json:"realized_pnl"`
}

func toPositionResponse(p *state.Position) positionResponse {
	return positionResponse{
		ID:               p.ID.String(),
		Owner:            p.Owner.String(),
		Market:           p.Market,
		Side:             p.Side.String(),
		Status:           p.Status.String(),
		Size:             p.Size,
		EntryPrice:       displayPrice(p.EntryPrice),
		Collateral:       p.Collateral,
		Leverage:         p.Leverage,
		LiquidationPrice: displayPrice(p.LiquidationPrice),
		RealizedPnL:      p.RealizedPnL,
	}
}

type placeOrderRequest struct {
	CallerID   string `json:"caller_id"`
	Market     string `json:"market"`
	OrderType  string `json:"order_type"`
	Side       string `json:"side"`
	Size       uint64 `json:"size"`
	LimitPrice uint64 `json:"limit_price,omitempty"`
	Leverage   uint64 `json:"leverage"`
	Timestamp  int64  `json:"timestamp"`
}

type orderResponse struct {
	ID             string `json:"id"`
	Owner          string `json:"owner"`
	Market         string `json:"market"`
	OrderType      string `json:"order_type"`
	Side           string `json:"side"`
	Status         string `json:"status"`
	Size           uint64 `json:"size"`
	LimitPrice     string `json:"limit_price"`
	ReservedMargin uint64 `json:"reserved_margin"`
}

func toOrderResponse(o *state.Order) orderResponse {
	return orderResponse{
		ID:             o.ID.String(),
		Owner:          o.Owner.String(),
		Market:         o.Market,
		OrderType:      o.OrderType.String(),
		Side:           o.Side.String(),
		Status:         o.Status.String(),
		Size:           o.Size,
		LimitPrice:     displayPrice(o.LimitPrice),
		ReservedMargin: o.ReservedMargin,
	}
}

type oraclePriceRequest struct {
	Price       uint64 `json:"price"`
	Confidence  uint64 `json:"confidence"`
	PublishTime int64  `json:"publish_time"`
}

type errorResponse struct {
	Error string `json:"error"`
}
