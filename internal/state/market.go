package state

import (
	"math/big"

	"github.com/google/uuid"

	"PerpCore/internal/fpmath"
)

// MaxTradeReserveDivisor bounds a single trade to 1/10 of the virtual base
// reserve. Larger trades would deplete the curve in one step and produce
// unbounded price impact.
const MaxTradeReserveDivisor = 10

// KDriftToleranceDivisor bounds integer-rounding drift of the constant
// product: after every committed trade |k' - k| must not exceed k/1000.
const KDriftToleranceDivisor = 1000

// Market holds the AMM pricing state for one trading symbol. It is an owned
// aggregate: all mutation goes through its methods, and the engine
// serializes mutating calls per market so the constant-product invariant is
// only ever evaluated under a single writer.
type Market struct {
	Authority              uuid.UUID
	Symbol                 string
	VirtualBaseReserve     uint64
	VirtualQuoteReserve    uint64
	FundingRate            int64 // quote per base unit per interval, price-scaled
	LastFundingTime        int64
	FundingInterval        int64
	MaintenanceMarginRatio uint64 // basis points
	InitialMarginRatio     uint64 // basis points
	LiquidationFeeRatio    uint64 // basis points on notional
	InsuranceFund          uint64
	FeePool                uint64
	MaxLeverage            uint64
	IsActive               bool
	LastPrice              uint64
	LastUpdateTime         int64
}

// MarketParams carries the administrator-supplied parameters for market
// creation.
type MarketParams struct {
	Symbol                 string
	VirtualBaseReserve     uint64
	VirtualQuoteReserve    uint64
	InitialFundingRate     int64
	FundingInterval        int64
	MaintenanceMarginRatio uint64
	InitialMarginRatio     uint64
	LiquidationFeeRatio    uint64
	MaxLeverage            uint64
}

// NewMarket validates params and returns an active market.
func NewMarket(authority uuid.UUID, p MarketParams, now int64) (*Market, error) {
	if p.Symbol == "" {
		return nil, ErrInvalidMarketSymbol
	}
	if p.FundingInterval <= 0 {
		return nil, ErrInvalidFundingInterval
	}
	if p.MaintenanceMarginRatio == 0 || p.MaintenanceMarginRatio >= fpmath.RatioScale {
		return nil, ErrInvalidMarginRatio
	}
	if p.InitialMarginRatio < p.MaintenanceMarginRatio || p.InitialMarginRatio >= fpmath.RatioScale {
		return nil, ErrInvalidMarginRatio
	}
	if p.MaxLeverage == 0 {
		return nil, ErrInvalidLeverage
	}
	if p.LiquidationFeeRatio == 0 || p.LiquidationFeeRatio >= fpmath.RatioScale {
		return nil, ErrInvalidParameter
	}
	if p.VirtualBaseReserve == 0 || p.VirtualQuoteReserve == 0 {
		return nil, ErrInvalidAMMState
	}

	m := &Market{
		Authority:              authority,
		Symbol:                 p.Symbol,
		VirtualBaseReserve:     p.VirtualBaseReserve,
		VirtualQuoteReserve:    p.VirtualQuoteReserve,
		FundingRate:            p.InitialFundingRate,
		LastFundingTime:        now,
		FundingInterval:        p.FundingInterval,
		MaintenanceMarginRatio: p.MaintenanceMarginRatio,
		InitialMarginRatio:     p.InitialMarginRatio,
		LiquidationFeeRatio:    p.LiquidationFeeRatio,
		MaxLeverage:            p.MaxLeverage,
		IsActive:               true,
		LastUpdateTime:         now,
	}

	spot, err := m.SpotPrice()
	if err != nil {
		return nil, err
	}
	m.LastPrice = spot

	return m, nil
}

// SpotPrice returns the current mid price, price-scaled:
// virtual_quote_reserve * PriceScale / virtual_base_reserve.
func (m *Market) SpotPrice() (uint64, error) {
	if m.VirtualBaseReserve == 0 || m.VirtualQuoteReserve == 0 {
		return 0, ErrInvalidAMMState
	}
	return fpmath.MulDivU64(m.VirtualQuoteReserve, fpmath.PriceScale, m.VirtualBaseReserve)
}

// CheckTradeSize enforces the per-trade reserve depth guard.
func (m *Market) CheckTradeSize(size uint64) error {
	if size == 0 {
		return ErrInvalidOrderSize
	}
	if size > m.VirtualBaseReserve/MaxTradeReserveDivisor {
		return ErrTradeTooLarge
	}
	return nil
}

// baseAfterTrade returns the base reserve after displacing it for a trade.
// Opening a Long consumes base reserve (price rises); opening a Short adds
// to it (price falls). Closing moves reserves in the opposite direction of
// the position's original side.
func (m *Market) baseAfterTrade(side Side, size uint64, closing bool) (uint64, error) {
	consumesBase := (side == SideLong) != closing
	if consumesBase {
		newBase, err := fpmath.SubU64(m.VirtualBaseReserve, size)
		if err != nil || newBase == 0 {
			return 0, ErrInvalidAMMState
		}
		return newBase, nil
	}
	newBase, err := fpmath.AddU64(m.VirtualBaseReserve, size)
	if err != nil {
		return 0, err
	}
	return newBase, nil
}

// PriceWithImpact returns the effective execution price for a trade of the
// given size under the constant-product curve, without committing reserves.
// The sign convention guarantees that opening a Long always executes above
// spot and opening a Short always below it.
func (m *Market) PriceWithImpact(side Side, size uint64, closing bool) (uint64, error) {
	if m.VirtualBaseReserve == 0 || m.VirtualQuoteReserve == 0 {
		return 0, ErrInvalidAMMState
	}
	if err := m.CheckTradeSize(size); err != nil {
		return 0, err
	}

	newBase, err := m.baseAfterTrade(side, size, closing)
	if err != nil {
		return 0, err
	}

	// new_quote = k / new_base, computed with a widened intermediate since
	// k routinely exceeds the uint64 range.
	newQuote, err := fpmath.MulDivU64(m.VirtualBaseReserve, m.VirtualQuoteReserve, newBase)
	if err != nil {
		return 0, err
	}

	price, err := fpmath.MulDivU64(newQuote, fpmath.PriceScale, newBase)
	if err != nil {
		return 0, err
	}
	if price == 0 {
		return 0, ErrInvalidAMMState
	}
	return price, nil
}

// CommitTrade recomputes and stores the reserves for a trade, updates
// last_price, and asserts the constant-product invariant within the
// rounding tolerance. This is the core AMM correctness check: a k drift
// beyond k/1000 means a bookkeeping bug, not a rounding artifact.
func (m *Market) CommitTrade(side Side, size uint64, closing bool, now int64) error {
	if err := m.CheckTradeSize(size); err != nil {
		return err
	}

	newBase, err := m.baseAfterTrade(side, size, closing)
	if err != nil {
		return err
	}
	newQuote, err := fpmath.MulDivU64(m.VirtualBaseReserve, m.VirtualQuoteReserve, newBase)
	if err != nil {
		return err
	}
	if newQuote == 0 {
		return ErrInvalidAMMState
	}

	kOld := new(big.Int).Mul(
		new(big.Int).SetUint64(m.VirtualBaseReserve),
		new(big.Int).SetUint64(m.VirtualQuoteReserve),
	)
	kNew := new(big.Int).Mul(
		new(big.Int).SetUint64(newBase),
		new(big.Int).SetUint64(newQuote),
	)

	drift := new(big.Int).Sub(kNew, kOld)
	drift.Abs(drift)
	tolerance := new(big.Int).Quo(kOld, big.NewInt(KDriftToleranceDivisor))
	if drift.Cmp(tolerance) > 0 {
		return ErrInvalidAMMState
	}

	m.VirtualBaseReserve = newBase
	m.VirtualQuoteReserve = newQuote

	spot, err := m.SpotPrice()
	if err != nil {
		return err
	}
	m.LastPrice = spot
	m.LastUpdateTime = now

	return nil
}

// Pause halts trading and margin operations. Authority only.
func (m *Market) Pause(caller uuid.UUID) error {
	if caller != m.Authority {
		return ErrUnauthorized
	}
	if !m.IsActive {
		return ErrMarketAlreadyPaused
	}
	m.IsActive = false
	return nil
}

// Resume reactivates a paused market. Authority only.
func (m *Market) Resume(caller uuid.UUID) error {
	if caller != m.Authority {
		return ErrUnauthorized
	}
	if m.IsActive {
		return ErrMarketAlreadyActive
	}
	m.IsActive = true
	return nil
}

// ParamUpdate carries optional parameter changes; nil fields are left
// untouched.
type ParamUpdate struct {
	MaintenanceMarginRatio *uint64
	InitialMarginRatio     *uint64
	FundingInterval        *int64
	MaxLeverage            *uint64
	LiquidationFeeRatio    *uint64
}

// UpdateParams applies an administrator parameter update. The invariant
// initial_margin_ratio >= maintenance_margin_ratio is re-validated against
// the post-update pair.
func (m *Market) UpdateParams(caller uuid.UUID, upd ParamUpdate, now int64) error {
	if caller != m.Authority {
		return ErrUnauthorized
	}

	mmr := m.MaintenanceMarginRatio
	imr := m.InitialMarginRatio
	if upd.MaintenanceMarginRatio != nil {
		mmr = *upd.MaintenanceMarginRatio
	}
	if upd.InitialMarginRatio != nil {
		imr = *upd.InitialMarginRatio
	}
	if mmr == 0 || mmr >= fpmath.RatioScale {
		return ErrInvalidMarginRatio
	}
	if imr < mmr || imr >= fpmath.RatioScale {
		return ErrInvalidMarginRatio
	}
	if upd.FundingInterval != nil && *upd.FundingInterval <= 0 {
		return ErrInvalidFundingInterval
	}
	if upd.MaxLeverage != nil && *upd.MaxLeverage == 0 {
		return ErrInvalidLeverage
	}
	if upd.LiquidationFeeRatio != nil &&
		(*upd.LiquidationFeeRatio == 0 || *upd.LiquidationFeeRatio >= fpmath.RatioScale) {
		return ErrInvalidParameter
	}

	m.MaintenanceMarginRatio = mmr
	m.InitialMarginRatio = imr
	if upd.FundingInterval != nil {
		m.FundingInterval = *upd.FundingInterval
	}
	if upd.MaxLeverage != nil {
		m.MaxLeverage = *upd.MaxLeverage
	}
	if upd.LiquidationFeeRatio != nil {
		m.LiquidationFeeRatio = *upd.LiquidationFeeRatio
	}
	m.LastUpdateTime = now

	return nil
}

// SetFundingRate replaces the per-interval funding rate. Authority only.
func (m *Market) SetFundingRate(caller uuid.UUID, rate int64, now int64) error {
	if caller != m.Authority {
		return ErrUnauthorized
	}
	m.FundingRate = rate
	m.LastUpdateTime = now
	return nil
}

// AdvanceFundingSchedule advances last_funding_time by the number of whole
// elapsed intervals and returns that count together with the aggregate
// funding increment (funding_rate * intervals). Partial intervals are
// deferred: the schedule advances by intervals*funding_interval rather than
// to now, so no fractional interval is ever lost to drift.
func (m *Market) AdvanceFundingSchedule(now int64) (intervals int64, increment int64, err error) {
	next, err := fpmath.AddI64(m.LastFundingTime, m.FundingInterval)
	if err != nil {
		return 0, 0, err
	}
	if now < next {
		return 0, 0, nil
	}

	elapsed, err := fpmath.SubI64(now, m.LastFundingTime)
	if err != nil {
		return 0, 0, err
	}
	intervals = elapsed / m.FundingInterval
	if intervals == 0 {
		return 0, 0, nil
	}

	advance, err := fpmath.MulI64(intervals, m.FundingInterval)
	if err != nil {
		return 0, 0, err
	}
	m.LastFundingTime, err = fpmath.AddI64(m.LastFundingTime, advance)
	if err != nil {
		return 0, 0, err
	}

	increment, err = fpmath.MulI64(m.FundingRate, intervals)
	if err != nil {
		return 0, 0, err
	}
	return intervals, increment, nil
}

// CreditInsuranceFund adds to the insurance fund accumulator. The fund is
// monotonically non-decreasing inside the engine.
func (m *Market) CreditInsuranceFund(amount uint64) error {
	next, err := fpmath.AddU64(m.InsuranceFund, amount)
	if err != nil {
		return err
	}
	m.InsuranceFund = next
	return nil
}

// DebitInsuranceFund draws down the fund to cover a funding or bankruptcy
// shortfall, clamped at the available balance. Returns the amount covered.
func (m *Market) DebitInsuranceFund(amount uint64) uint64 {
	if amount > m.InsuranceFund {
		amount = m.InsuranceFund
	}
	m.InsuranceFund -= amount
	return amount
}

// CreditFeePool adds to the trading fee accumulator.
func (m *Market) CreditFeePool(amount uint64) error {
	next, err := fpmath.AddU64(m.FeePool, amount)
	if err != nil {
		return err
	}
	m.FeePool = next
	return nil
}
