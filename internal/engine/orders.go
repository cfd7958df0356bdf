package engine

import (
	"context"

	"github.com/google/uuid"

	"PerpCore/internal/event"
	"PerpCore/internal/fpmath"
	"PerpCore/internal/state"
)

// PlaceMarketOrder fills synchronously through the open path and records
// the order as filled.
func (e *Engine) PlaceMarketOrder(ctx context.Context, owner uuid.UUID, symbol string, side state.Side, size, leverage uint64, now int64) (*state.Order, *state.Position, error) {
	unlock := e.lockMarket(symbol)
	defer unlock()

	order, err := state.NewOrder(uuid.New(), owner, symbol, state.OrderTypeMarket, side, size, 0, leverage, 0, now)
	if err != nil {
		e.metrics.RecordRejection("place_market_order")
		return nil, nil, err
	}

	pos, err := e.openPositionLocked(ctx, owner, symbol, side, size, leverage, now)
	if err != nil {
		return nil, nil, err
	}

	if err := order.Fill(now); err != nil {
		return nil, nil, err
	}
	if err := e.store.CreateOrder(ctx, order); err != nil {
		return nil, nil, err
	}

	e.metrics.RecordOrderPlaced(symbol, order.OrderType.String())
	e.metrics.RecordOrderFilled(symbol, order.OrderType.String())
	e.emit(ctx, event.OrderFilled{
		Market:     symbol,
		OrderID:    order.ID,
		PositionID: pos.ID,
		FillPrice:  pos.EntryPrice,
		Timestamp:  now,
	})
	return order, pos, nil
}

// PlaceLimitOrder rests an order with margin reserved up front at the
// limit price.
func (e *Engine) PlaceLimitOrder(ctx context.Context, owner uuid.UUID, symbol string, side state.Side, size, limitPrice, leverage uint64, now int64) (*state.Order, error) {
	unlock := e.lockMarket(symbol)
	defer unlock()

	m, err := e.store.GetMarket(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !m.IsActive {
		e.metrics.RecordRejection("place_limit_order")
		return nil, state.ErrMarketInactive
	}
	if leverage == 0 {
		e.metrics.RecordRejection("place_limit_order")
		return nil, state.ErrInvalidLeverage
	}
	if leverage > m.MaxLeverage {
		e.metrics.RecordRejection("place_limit_order")
		return nil, state.ErrLeverageTooHigh
	}
	if err := m.CheckTradeSize(size); err != nil {
		e.metrics.RecordRejection("place_limit_order")
		return nil, err
	}

	unlockOwner := e.lockAccount(owner)
	defer unlockOwner()

	a, err := e.store.GetAccount(ctx, owner)
	if err != nil {
		return nil, err
	}

	notional, err := fpmath.MulDivU64(size, limitPrice, fpmath.PriceScale)
	if err != nil {
		return nil, err
	}
	den, err := fpmath.MulU64(fpmath.RatioScale, leverage)
	if err != nil {
		return nil, err
	}
	reserved, err := fpmath.MulDivCeilU64(notional, m.InitialMarginRatio, den)
	if err != nil {
		return nil, err
	}

	order, err := state.NewOrder(uuid.New(), owner, symbol, state.OrderTypeLimit, side, size, limitPrice, leverage, reserved, now)
	if err != nil {
		e.metrics.RecordRejection("place_limit_order")
		return nil, err
	}

	if err := e.allocateForOpen(ctx, a, reserved, now); err != nil {
		e.metrics.RecordRejection("place_limit_order")
		return nil, err
	}
	if err := a.AddOrder(order.ID); err != nil {
		e.metrics.RecordRejection("place_limit_order")
		return nil, err
	}

	if err := e.store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	if err := e.store.UpdateAccount(ctx, a); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("market", symbol).
		Str("order", order.ID.String()).
		Uint64("limit_price", limitPrice).
		Msg("limit order placed")
	e.metrics.RecordOrderPlaced(symbol, order.OrderType.String())
	e.emit(ctx, event.OrderPlaced{
		Market:     symbol,
		OrderID:    order.ID,
		Owner:      owner,
		OrderType:  order.OrderType.String(),
		Side:       side.String(),
		Size:       size,
		LimitPrice: limitPrice,
		Timestamp:  now,
	})
	return order, nil
}

// ExecuteLimitOrder fills a resting order once the AMM spot price crosses
// its limit. Any caller may crank. The fill executes at the
// impact-adjusted price, which must also respect the limit.
func (e *Engine) ExecuteLimitOrder(ctx context.Context, orderID uuid.UUID, now int64) (*state.Position, error) {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	unlock := e.lockMarket(order.Market)
	defer unlock()

	order, err = e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsActive() {
		e.metrics.RecordRejection("execute_limit_order")
		return nil, state.ErrOrderNotActive
	}

	m, err := e.store.GetMarket(ctx, order.Market)
	if err != nil {
		return nil, err
	}
	if !m.IsActive {
		e.metrics.RecordRejection("execute_limit_order")
		return nil, state.ErrMarketInactive
	}

	spot, err := m.SpotPrice()
	if err != nil {
		return nil, err
	}
	if !order.CrossesAt(spot) {
		e.metrics.RecordRejection("execute_limit_order")
		return nil, state.ErrOrderNotTriggered
	}

	fillPrice, err := m.PriceWithImpact(order.Side, order.Size, false)
	if err != nil {
		return nil, err
	}
	// Impact can push the execution past the limit even when spot crosses.
	if order.Side == state.SideLong && fillPrice > order.LimitPrice {
		e.metrics.RecordRejection("execute_limit_order")
		return nil, state.ErrOrderNotTriggered
	}
	if order.Side == state.SideShort && fillPrice < order.LimitPrice {
		e.metrics.RecordRejection("execute_limit_order")
		return nil, state.ErrOrderNotTriggered
	}

	unlockOwner := e.lockAccount(order.Owner)
	defer unlockOwner()

	a, err := e.store.GetAccount(ctx, order.Owner)
	if err != nil {
		return nil, err
	}

	pos := state.NewPosition(uuid.New(), order.Owner, order.Market, order.Side, order.Size, fillPrice, order.ReservedMargin, order.Leverage, m.FundingRate, now)
	required, err := pos.RequiredInitialMargin(fillPrice, m.InitialMarginRatio)
	if err != nil {
		return nil, err
	}
	if order.ReservedMargin < required {
		e.metrics.RecordRejection("execute_limit_order")
		return nil, state.ErrInsufficientMargin
	}

	// The reservation made at placement carries over as the position's
	// collateral; no fresh allocation happens here.
	if err := a.AddPosition(pos.ID); err != nil {
		e.metrics.RecordRejection("execute_limit_order")
		return nil, err
	}
	a.RemoveOrder(order.ID)

	if err := m.CommitTrade(order.Side, order.Size, false, now); err != nil {
		return nil, err
	}
	if err := pos.RefreshLiquidationPrice(m.MaintenanceMarginRatio, now); err != nil {
		return nil, err
	}
	if err := order.Fill(now); err != nil {
		return nil, err
	}

	if err := e.store.CreatePosition(ctx, pos); err != nil {
		return nil, err
	}
	if err := e.store.UpdateOrder(ctx, order); err != nil {
		return nil, err
	}
	if err := e.store.UpdateAccount(ctx, a); err != nil {
		return nil, err
	}
	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("market", order.Market).
		Str("order", order.ID.String()).
		Str("position", pos.ID.String()).
		Uint64("fill_price", fillPrice).
		Msg("limit order filled")
	e.metrics.RecordTrade(order.Market, order.Side.String(), "open", order.Size)
	e.metrics.RecordOrderFilled(order.Market, order.OrderType.String())
	e.metrics.AddOpenPositions(order.Market, 1)
	e.metrics.RecordMarketState(order.Market, m.LastPrice, m.InsuranceFund, m.FeePool)
	e.emit(ctx, event.OrderFilled{
		Market:     order.Market,
		OrderID:    order.ID,
		PositionID: pos.ID,
		FillPrice:  fillPrice,
		Timestamp:  now,
	})
	return pos, nil
}

// CancelOrder withdraws an active order and releases its reservation.
// Owner only.
func (e *Engine) CancelOrder(ctx context.Context, caller, orderID uuid.UUID, now int64) error {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	unlock := e.lockMarket(order.Market)
	defer unlock()

	order, err = e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if caller != order.Owner {
		e.metrics.RecordRejection("cancel_order")
		return state.ErrUnauthorized
	}
	if err := order.Cancel(now); err != nil {
		e.metrics.RecordRejection("cancel_order")
		return err
	}

	unlockOwner := e.lockAccount(order.Owner)
	defer unlockOwner()

	a, err := e.store.GetAccount(ctx, order.Owner)
	if err != nil {
		return err
	}
	if err := a.Release(order.ReservedMargin, now); err != nil {
		return err
	}
	a.RemoveOrder(order.ID)

	if err := e.store.UpdateOrder(ctx, order); err != nil {
		return err
	}
	if err := e.store.UpdateAccount(ctx, a); err != nil {
		return err
	}

	e.metrics.RecordOrderCancelled(order.Market)
	e.emit(ctx, event.OrderCancelled{
		Market:    order.Market,
		OrderID:   order.ID,
		Owner:     order.Owner,
		Timestamp: now,
	})
	return nil
}
