package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"PerpCore/internal/event"
	"PerpCore/internal/fpmath"
	"PerpCore/internal/state"
	"PerpCore/internal/vault"
)

// OpenPosition opens a leveraged position at the impact-adjusted AMM price.
func (e *Engine) OpenPosition(ctx context.Context, owner uuid.UUID, symbol string, side state.Side, size, leverage uint64, now int64) (*state.Position, error) {
	unlock := e.lockMarket(symbol)
	defer unlock()
	return e.openPositionLocked(ctx, owner, symbol, side, size, leverage, now)
}

// openPositionLocked runs the open flow with the market lock already held.
// Shared by OpenPosition, PlaceMarketOrder, and ExecuteLimitOrder.
func (e *Engine) openPositionLocked(ctx context.Context, owner uuid.UUID, symbol string, side state.Side, size, leverage uint64, now int64) (*state.Position, error) {
	m, err := e.store.GetMarket(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !m.IsActive {
		e.metrics.RecordRejection("open_position")
		return nil, state.ErrMarketInactive
	}
	if leverage == 0 {
		e.metrics.RecordRejection("open_position")
		return nil, state.ErrInvalidLeverage
	}
	if leverage > m.MaxLeverage {
		e.metrics.RecordRejection("open_position")
		return nil, state.ErrLeverageTooHigh
	}

	entryPrice, err := m.PriceWithImpact(side, size, false)
	if err != nil {
		e.metrics.RecordRejection("open_position")
		return nil, err
	}

	unlockOwner := e.lockAccount(owner)
	defer unlockOwner()

	a, err := e.store.GetAccount(ctx, owner)
	if err != nil {
		return nil, err
	}

	pos := state.NewPosition(uuid.New(), owner, symbol, side, size, entryPrice, 0, leverage, m.FundingRate, now)
	required, err := pos.RequiredInitialMargin(entryPrice, m.InitialMarginRatio)
	if err != nil {
		return nil, err
	}
	pos.Collateral = required

	if err := e.allocateForOpen(ctx, a, required, now); err != nil {
		e.metrics.RecordRejection("open_position")
		return nil, err
	}
	if err := a.AddPosition(pos.ID); err != nil {
		e.metrics.RecordRejection("open_position")
		return nil, err
	}
	if err := m.CommitTrade(side, size, false, now); err != nil {
		return nil, err
	}
	if err := pos.RefreshLiquidationPrice(m.MaintenanceMarginRatio, now); err != nil {
		return nil, err
	}

	if err := e.store.CreatePosition(ctx, pos); err != nil {
		return nil, err
	}
	if err := e.store.UpdateAccount(ctx, a); err != nil {
		return nil, err
	}
	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("market", symbol).
		Str("position", pos.ID.String()).
		Str("side", side.String()).
		Uint64("size", size).
		Uint64("entry_price", entryPrice).
		Msg("position opened")
	e.metrics.RecordTrade(symbol, side.String(), "open", size)
	e.metrics.AddOpenPositions(symbol, 1)
	e.metrics.RecordMarketState(symbol, m.LastPrice, m.InsuranceFund, m.FeePool)
	e.emit(ctx, event.PositionOpened{
		Market:     symbol,
		PositionID: pos.ID,
		Owner:      owner,
		Side:       side.String(),
		Size:       size,
		EntryPrice: entryPrice,
		Collateral: pos.Collateral,
		Leverage:   leverage,
		Timestamp:  now,
	})
	return pos, nil
}

// allocateForOpen reserves the required margin for a new position.
func (e *Engine) allocateForOpen(ctx context.Context, a *state.MarginAccount, required uint64, now int64) error {
	var crossRequired uint64
	if a.MarginType == state.MarginTypeCross {
		existing, err := e.aggregateRequiredMargin(ctx, a)
		if err != nil {
			return err
		}
		crossRequired, err = fpmath.AddU64(existing, required)
		if err != nil {
			return err
		}
	}
	if err := a.Allocate(required, crossRequired, now); err != nil {
		if errors.Is(err, state.ErrInsufficientCollateral) {
			return state.ErrInsufficientMargin
		}
		return err
	}
	return nil
}

// ClosePosition closes the caller's position at the impact-adjusted exit
// price and settles realized PnL into the account.
func (e *Engine) ClosePosition(ctx context.Context, caller, positionID uuid.UUID, now int64) (int64, error) {
	pos, err := e.store.GetPosition(ctx, positionID)
	if err != nil {
		return 0, err
	}

	unlock := e.lockMarket(pos.Market)
	defer unlock()

	// Reload under the lock; the first read only resolved the market.
	pos, err = e.store.GetPosition(ctx, positionID)
	if err != nil {
		return 0, err
	}
	if caller != pos.Owner {
		e.metrics.RecordRejection("close_position")
		return 0, state.ErrUnauthorized
	}
	if !pos.IsOpen() {
		e.metrics.RecordRejection("close_position")
		return 0, state.ErrPositionClosed
	}

	m, err := e.store.GetMarket(ctx, pos.Market)
	if err != nil {
		return 0, err
	}
	if !m.IsActive {
		e.metrics.RecordRejection("close_position")
		return 0, state.ErrMarketInactive
	}

	exitPrice, err := m.PriceWithImpact(pos.Side, pos.Size, true)
	if err != nil {
		return 0, err
	}
	pnl, err := pos.UnrealizedPnL(exitPrice)
	if err != nil {
		return 0, err
	}

	unlockOwner := e.lockAccount(pos.Owner)
	defer unlockOwner()

	a, err := e.store.GetAccount(ctx, pos.Owner)
	if err != nil {
		return 0, err
	}
	if err := a.Release(pos.Collateral, now); err != nil {
		return 0, err
	}
	if err := a.SettlePnL(pnl, now); err != nil {
		e.metrics.RecordRejection("close_position")
		return 0, err
	}
	a.RemovePosition(pos.ID)

	if err := pos.Close(pnl, now); err != nil {
		return 0, err
	}
	if err := m.CommitTrade(pos.Side, pos.Size, true, now); err != nil {
		return 0, err
	}

	if err := e.store.UpdatePosition(ctx, pos); err != nil {
		return 0, err
	}
	if err := e.store.UpdateAccount(ctx, a); err != nil {
		return 0, err
	}
	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return 0, err
	}

	e.log.Info().
		Str("market", pos.Market).
		Str("position", pos.ID.String()).
		Uint64("exit_price", exitPrice).
		Int64("realized_pnl", pnl).
		Msg("position closed")
	e.metrics.RecordTrade(pos.Market, pos.Side.String(), "close", pos.Size)
	e.metrics.AddOpenPositions(pos.Market, -1)
	e.metrics.RecordMarketState(pos.Market, m.LastPrice, m.InsuranceFund, m.FeePool)
	e.emit(ctx, event.PositionClosed{
		Market:      pos.Market,
		PositionID:  pos.ID,
		Owner:       pos.Owner,
		ExitPrice:   exitPrice,
		RealizedPnL: pnl,
		Timestamp:   now,
	})
	return pnl, nil
}

// AdjustMargin moves collateral into (delta > 0) or out of (delta < 0) an
// open position. Removal is checked against the initial margin requirement
// at the validated oracle price, and the liquidation price is recomputed.
func (e *Engine) AdjustMargin(ctx context.Context, caller, positionID uuid.UUID, delta int64, now int64) error {
	if delta == 0 {
		return state.ErrInvalidParameter
	}

	pos, err := e.store.GetPosition(ctx, positionID)
	if err != nil {
		return err
	}

	unlock := e.lockMarket(pos.Market)
	defer unlock()

	pos, err = e.store.GetPosition(ctx, positionID)
	if err != nil {
		return err
	}
	if caller != pos.Owner {
		e.metrics.RecordRejection("adjust_margin")
		return state.ErrUnauthorized
	}
	if !pos.IsOpen() {
		e.metrics.RecordRejection("adjust_margin")
		return state.ErrPositionClosed
	}

	m, err := e.store.GetMarket(ctx, pos.Market)
	if err != nil {
		return err
	}
	if !m.IsActive {
		e.metrics.RecordRejection("adjust_margin")
		return state.ErrMarketInactive
	}

	unlockOwner := e.lockAccount(pos.Owner)
	defer unlockOwner()

	a, err := e.store.GetAccount(ctx, pos.Owner)
	if err != nil {
		return err
	}

	if delta > 0 {
		amount := uint64(delta)
		if err := a.SettlePnL(delta, now); err != nil {
			return err
		}
		if err := a.Allocate(amount, 0, now); err != nil {
			e.metrics.RecordRejection("adjust_margin")
			return err
		}
		if err := pos.AddMargin(amount, now); err != nil {
			return err
		}
	} else {
		amount := uint64(-delta)
		markPrice, err := e.markPrice(ctx, pos.Market, now)
		if err != nil {
			return err
		}
		remaining, err := fpmath.SubU64(pos.Collateral, amount)
		if err != nil {
			e.metrics.RecordRejection("adjust_margin")
			return state.ErrInsufficientCollateral
		}
		notional, err := pos.NotionalAt(markPrice)
		if err != nil {
			return err
		}
		floor, err := fpmath.MulDivCeilU64(notional, m.InitialMarginRatio, fpmath.RatioScale)
		if err != nil {
			return err
		}
		if remaining < floor {
			e.metrics.RecordRejection("adjust_margin")
			return state.ErrInsufficientMargin
		}
		if err := pos.RemoveMargin(amount, now); err != nil {
			return err
		}
		if err := a.Release(amount, now); err != nil {
			return err
		}
		if err := a.SettlePnL(delta, now); err != nil {
			return err
		}
	}

	if err := pos.RefreshLiquidationPrice(m.MaintenanceMarginRatio, now); err != nil {
		return err
	}

	if err := e.store.UpdatePosition(ctx, pos); err != nil {
		return err
	}
	if err := e.store.UpdateAccount(ctx, a); err != nil {
		return err
	}

	direction := vault.DirectionIn
	amount := uint64(delta)
	if delta < 0 {
		direction = vault.DirectionOut
		amount = uint64(-delta)
	}
	if err := e.vault.Transfer(ctx, vault.Transfer{
		Party:     pos.Owner,
		Amount:    amount,
		Direction: direction,
		Reference: fmt.Sprintf("margin_adjust:%s", pos.ID),
	}); err != nil {
		return fmt.Errorf("margin transfer: %w", err)
	}

	e.emit(ctx, event.MarginAdjusted{
		Market:           pos.Market,
		PositionID:       pos.ID,
		Delta:            delta,
		Collateral:       pos.Collateral,
		LiquidationPrice: pos.LiquidationPrice,
		Timestamp:        now,
	})
	return nil
}
