package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"PerpCore/internal/event"
	"PerpCore/internal/fpmath"
	"PerpCore/internal/state"
	"PerpCore/internal/vault"
)

// LiquidationResult reports the outcome of a successful liquidation.
type LiquidationResult struct {
	PositionID    uuid.UUID
	MarkPrice     uint64
	Loss          uint64
	LiquidatorFee uint64
	InsuranceFee  uint64
}

// Liquidate force-closes a position whose equity has fallen strictly below
// its maintenance margin at the validated oracle price. Any caller may
// liquidate; the caller earns half the liquidation fee, the insurance fund
// the rest. Loss deduction is clamped so the account never goes negative:
// at the position's collateral under isolated margin, at the account
// balance under cross margin.
func (e *Engine) Liquidate(ctx context.Context, liquidator, positionID uuid.UUID, now int64) (*LiquidationResult, error) {
	pos, err := e.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}

	unlock := e.lockMarket(pos.Market)
	defer unlock()

	pos, err = e.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if !pos.IsOpen() {
		e.metrics.RecordRejection("liquidate")
		return nil, state.ErrPositionClosed
	}

	m, err := e.store.GetMarket(ctx, pos.Market)
	if err != nil {
		return nil, err
	}

	unlockOwner := e.lockAccount(pos.Owner)
	defer unlockOwner()

	a, err := e.store.GetAccount(ctx, pos.Owner)
	if err != nil {
		return nil, err
	}

	markPrice, err := e.markPrice(ctx, pos.Market, now)
	if err != nil {
		return nil, err
	}

	collateralBasis := pos.Collateral
	if a.MarginType == state.MarginTypeCross {
		collateralBasis = a.Collateral
	}
	liquidatable, err := pos.IsLiquidatable(markPrice, collateralBasis, m.MaintenanceMarginRatio)
	if err != nil {
		return nil, err
	}
	if !liquidatable {
		e.metrics.RecordRejection("liquidate")
		return nil, state.ErrPositionNotLiquidatable
	}

	positionValue, err := pos.NotionalAt(markPrice)
	if err != nil {
		return nil, err
	}
	fee, err := fpmath.MulDivU64(positionValue, m.LiquidationFeeRatio, fpmath.RatioScale)
	if err != nil {
		return nil, err
	}

	pnl, err := pos.UnrealizedPnL(markPrice)
	if err != nil {
		return nil, err
	}
	var loss uint64
	if pnl < 0 {
		loss = uint64(-pnl)
	}
	// Isolation property: an isolated position's loss can consume at most
	// its own collateral.
	if a.MarginType == state.MarginTypeIsolated && loss > pos.Collateral {
		loss = pos.Collateral
	}

	if err := a.Release(pos.Collateral, now); err != nil {
		return nil, err
	}
	deducted := a.DeductLoss(loss, now)

	// The fee comes out of the position's surviving collateral plus the
	// unallocated balance. Margin reserved for the account's other
	// positions is off limits.
	if budget := a.AvailableMargin(); fee > budget {
		fee = budget
	}
	charged := a.DeductLoss(fee, now)
	liquidatorFee := charged / 2
	insuranceFee := charged - liquidatorFee

	if err := m.CreditInsuranceFund(insuranceFee); err != nil {
		return nil, err
	}
	if err := m.CreditFeePool(deducted); err != nil {
		return nil, err
	}

	if err := pos.MarkLiquidated(pnl, now); err != nil {
		return nil, err
	}
	a.RemovePosition(pos.ID)

	if err := m.CommitTrade(pos.Side, pos.Size, true, now); err != nil {
		return nil, err
	}

	if err := e.store.UpdatePosition(ctx, pos); err != nil {
		return nil, err
	}
	if err := e.store.UpdateAccount(ctx, a); err != nil {
		return nil, err
	}
	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return nil, err
	}

	if liquidatorFee > 0 {
		if err := e.vault.Transfer(ctx, vault.Transfer{
			Party:     liquidator,
			Amount:    liquidatorFee,
			Direction: vault.DirectionOut,
			Reference: fmt.Sprintf("liquidation_fee:%s", pos.ID),
		}); err != nil {
			return nil, fmt.Errorf("liquidator fee transfer: %w", err)
		}
	}

	e.log.Warn().
		Str("market", pos.Market).
		Str("position", pos.ID.String()).
		Str("liquidator", liquidator.String()).
		Uint64("mark_price", markPrice).
		Uint64("loss", deducted).
		Uint64("fee", charged).
		Msg("position liquidated")
	e.metrics.RecordLiquidation(pos.Market, liquidatorFee, insuranceFee)
	e.metrics.RecordTrade(pos.Market, pos.Side.String(), "liquidation", pos.Size)
	e.metrics.AddOpenPositions(pos.Market, -1)
	e.metrics.RecordMarketState(pos.Market, m.LastPrice, m.InsuranceFund, m.FeePool)
	e.emit(ctx, event.PositionLiquidated{
		Market:        pos.Market,
		PositionID:    pos.ID,
		Owner:         pos.Owner,
		Liquidator:    liquidator,
		MarkPrice:     markPrice,
		Loss:          deducted,
		LiquidatorFee: liquidatorFee,
		InsuranceFee:  insuranceFee,
		Timestamp:     now,
	})

	return &LiquidationResult{
		PositionID:    pos.ID,
		MarkPrice:     markPrice,
		Loss:          deducted,
		LiquidatorFee: liquidatorFee,
		InsuranceFee:  insuranceFee,
	}, nil
}
