package state

import (
	"math/big"

	"github.com/google/uuid"

	"PerpCore/internal/fpmath"
)

// PositionStatus tracks the lifecycle of a position.
type PositionStatus int32

const (
	PositionStatusOpen PositionStatus = iota
	PositionStatusClosed
	PositionStatusLiquidated
)

func (ps PositionStatus) String() string {
	switch ps {
	case PositionStatusOpen:
		return "Open"
	case PositionStatusClosed:
		return "Closed"
	case PositionStatusLiquidated:
		return "Liquidated"
	default:
		return "Unknown"
	}
}

// Position is a single leveraged exposure on one market. Collateral is the
// margin dedicated to this position (the allocated amount under isolated
// margin; under cross margin it is informational and solvency checks run
// against the whole account balance).
type Position struct {
	ID               uuid.UUID
	Owner            uuid.UUID
	Market           string
	Side             Side
	Size             uint64
	EntryPrice       uint64
	Collateral       uint64
	Leverage         uint64
	EntryFundingRate int64
	LiquidationPrice uint64
	Status           PositionStatus
	RealizedPnL      int64
	OpenedAt         int64
	ClosedAt         int64
	LastUpdateTime   int64
}

// NewPosition returns an open position. Callers validate size, leverage,
// and margin before construction; this only wires the record.
func NewPosition(id, owner uuid.UUID, market string, side Side, size, entryPrice, collateral, leverage uint64, entryFundingRate int64, now int64) *Position {
	return &Position{
		ID:               id,
		Owner:            owner,
		Market:           market,
		Side:             side,
		Size:             size,
		EntryPrice:       entryPrice,
		Collateral:       collateral,
		Leverage:         leverage,
		EntryFundingRate: entryFundingRate,
		Status:           PositionStatusOpen,
		OpenedAt:         now,
		LastUpdateTime:   now,
	}
}

// IsOpen reports whether the position still holds exposure.
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// NotionalAt returns the position value at the given price, truncated:
// size * price / PriceScale.
func (p *Position) NotionalAt(price uint64) (uint64, error) {
	return fpmath.MulDivU64(p.Size, price, fpmath.PriceScale)
}

// UnrealizedPnL returns the signed mark-to-price profit. A long gains when
// price rises above entry, a short when it falls below.
func (p *Position) UnrealizedPnL(price uint64) (int64, error) {
	current, err := p.NotionalAt(price)
	if err != nil {
		return 0, err
	}
	entry, err := p.NotionalAt(p.EntryPrice)
	if err != nil {
		return 0, err
	}
	diff, err := fpmath.SignedNotionalDiff(current, entry)
	if err != nil {
		return 0, err
	}
	return fpmath.MulI64(diff, p.Side.Sign())
}

// Equity returns the backing collateral plus unrealized PnL, floored at
// zero. The floor matters on the liquidation path: a position under water
// past its collateral has zero equity, never negative.
func (p *Position) Equity(price, collateral uint64) (uint64, error) {
	pnl, err := p.UnrealizedPnL(price)
	if err != nil {
		return 0, err
	}
	if pnl < 0 {
		loss := uint64(-pnl)
		if loss >= collateral {
			return 0, nil
		}
		return collateral - loss, nil
	}
	return fpmath.AddU64(collateral, uint64(pnl))
}

// RequiredInitialMargin returns the margin this position must post at the
// given price: ceil(notional * imr / (RatioScale * leverage)). Rounds up
// so truncation never lets a trader post less than required.
func (p *Position) RequiredInitialMargin(price, initialMarginRatio uint64) (uint64, error) {
	notional, err := p.NotionalAt(price)
	if err != nil {
		return 0, err
	}
	den, err := fpmath.MulU64(fpmath.RatioScale, p.Leverage)
	if err != nil {
		return 0, err
	}
	return fpmath.MulDivCeilU64(notional, initialMarginRatio, den)
}

// MaintenanceMargin returns the minimum equity at the given price:
// notional * mmr / RatioScale, truncated.
func (p *Position) MaintenanceMargin(price, maintenanceMarginRatio uint64) (uint64, error) {
	notional, err := p.NotionalAt(price)
	if err != nil {
		return 0, err
	}
	return fpmath.MulDivU64(notional, maintenanceMarginRatio, fpmath.RatioScale)
}

// IsLiquidatable reports whether equity has fallen strictly below the
// maintenance requirement at the given price. Equality is healthy.
func (p *Position) IsLiquidatable(price, collateral, maintenanceMarginRatio uint64) (bool, error) {
	equity, err := p.Equity(price, collateral)
	if err != nil {
		return false, err
	}
	maintenance, err := p.MaintenanceMargin(price, maintenanceMarginRatio)
	if err != nil {
		return false, err
	}
	return equity < maintenance, nil
}

// ComputeLiquidationPrice solves the solvency boundary
// equity(p) = maintenance(p) for the mark price, rounded toward earlier
// triggering: up for longs, down for shorts. A long whose collateral covers
// the full entry notional cannot be liquidated by price alone and gets a
// zero liquidation price.
func (p *Position) ComputeLiquidationPrice(maintenanceMarginRatio uint64) (uint64, error) {
	if p.Size == 0 {
		return 0, ErrInvalidOrderSize
	}
	if maintenanceMarginRatio == 0 || maintenanceMarginRatio >= fpmath.RatioScale {
		return 0, ErrInvalidMarginRatio
	}

	entryNotional := new(big.Int).Mul(
		new(big.Int).SetUint64(p.EntryPrice),
		new(big.Int).SetUint64(p.Size),
	)
	scaledCollateral := new(big.Int).Mul(
		new(big.Int).SetUint64(p.Collateral),
		new(big.Int).SetUint64(fpmath.PriceScale),
	)
	ratioScale := new(big.Int).SetUint64(fpmath.RatioScale)
	size := new(big.Int).SetUint64(p.Size)

	var num, den big.Int
	switch p.Side {
	case SideLong:
		// p_liq = (entry*size - collateral*1e6) * 10000 / (size * (10000 - mmr))
		num.Sub(entryNotional, scaledCollateral)
		if num.Sign() <= 0 {
			return 0, nil
		}
		num.Mul(&num, ratioScale)
		den.Mul(size, new(big.Int).SetUint64(fpmath.RatioScale-maintenanceMarginRatio))
	case SideShort:
		// p_liq = (entry*size + collateral*1e6) * 10000 / (size * (10000 + mmr))
		num.Add(entryNotional, scaledCollateral)
		num.Mul(&num, ratioScale)
		den.Mul(size, new(big.Int).SetUint64(fpmath.RatioScale+maintenanceMarginRatio))
	default:
		return 0, ErrInvalidParameter
	}

	q, r := new(big.Int).QuoRem(&num, &den, new(big.Int))
	if p.Side == SideLong && r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	if !q.IsUint64() {
		return 0, fpmath.ErrMathOverflow
	}
	return q.Uint64(), nil
}

// RefreshLiquidationPrice recomputes and stores the liquidation price.
// Called after open and after every margin adjustment.
func (p *Position) RefreshLiquidationPrice(maintenanceMarginRatio uint64, now int64) error {
	lp, err := p.ComputeLiquidationPrice(maintenanceMarginRatio)
	if err != nil {
		return err
	}
	p.LiquidationPrice = lp
	p.LastUpdateTime = now
	return nil
}

// AddMargin moves extra collateral into the position.
func (p *Position) AddMargin(amount uint64, now int64) error {
	if !p.IsOpen() {
		return ErrPositionClosed
	}
	next, err := fpmath.AddU64(p.Collateral, amount)
	if err != nil {
		return err
	}
	p.Collateral = next
	p.LastUpdateTime = now
	return nil
}

// RemoveMargin withdraws collateral from the position. The caller verifies
// the remainder still meets the initial margin requirement.
func (p *Position) RemoveMargin(amount uint64, now int64) error {
	if !p.IsOpen() {
		return ErrPositionClosed
	}
	next, err := fpmath.SubU64(p.Collateral, amount)
	if err != nil {
		return ErrInsufficientCollateral
	}
	p.Collateral = next
	p.LastUpdateTime = now
	return nil
}

// Close marks the position closed with its realized PnL.
func (p *Position) Close(realizedPnL int64, now int64) error {
	if !p.IsOpen() {
		return ErrPositionClosed
	}
	p.Status = PositionStatusClosed
	p.RealizedPnL = realizedPnL
	p.ClosedAt = now
	p.LastUpdateTime = now
	return nil
}

// MarkLiquidated marks the position force-closed by the liquidation engine.
func (p *Position) MarkLiquidated(realizedPnL int64, now int64) error {
	if !p.IsOpen() {
		return ErrPositionClosed
	}
	p.Status = PositionStatusLiquidated
	p.RealizedPnL = realizedPnL
	p.ClosedAt = now
	p.LastUpdateTime = now
	return nil
}
