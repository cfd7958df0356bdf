package engine

import (
	"context"

	"github.com/google/uuid"

	"PerpCore/internal/event"
	"PerpCore/internal/fpmath"
	"PerpCore/internal/state"
)

// FundingSettlement reports one settlement round. Intervals is zero when
// the funding interval had not yet elapsed; nothing changes in that case.
type FundingSettlement struct {
	Market         string
	Rate           int64
	Intervals      int64
	NetDistributed int64
	Positions      int
}

// SettleFunding advances the funding schedule by whole elapsed intervals
// and distributes payments across every open position in the market. With
// a positive rate longs pay and shorts receive; a negative rate reverses
// the flow. Each debit is clamped at the paying position's collateral and
// reduces that collateral (and the account's allocation) in step, so a
// payment never touches margin backing other positions. The insurance
// fund absorbs any clamping shortfall and receives any surplus, so quote
// value is conserved across the round.
func (e *Engine) SettleFunding(ctx context.Context, symbol string, now int64) (*FundingSettlement, error) {
	unlock := e.lockMarket(symbol)
	defer unlock()

	m, err := e.store.GetMarket(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !m.IsActive {
		e.metrics.RecordRejection("settle_funding")
		return nil, state.ErrMarketInactive
	}

	intervals, increment, err := m.AdvanceFundingSchedule(now)
	if err != nil {
		return nil, err
	}
	if intervals == 0 {
		return &FundingSettlement{Market: symbol, Rate: m.FundingRate}, nil
	}

	positions, err := e.store.ListOpenPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}

	owners := make([]uuid.UUID, 0, len(positions))
	seen := make(map[uuid.UUID]struct{}, len(positions))
	for _, pos := range positions {
		if _, ok := seen[pos.Owner]; ok {
			continue
		}
		seen[pos.Owner] = struct{}{}
		owners = append(owners, pos.Owner)
	}
	unlockOwners := e.lockAccounts(owners)
	defer unlockOwners()

	magnitude := increment
	if magnitude < 0 {
		magnitude = -magnitude
	}

	var totalDebited, totalCredited uint64
	var net int64
	accounts := make(map[string]*state.MarginAccount)

	for _, pos := range positions {
		payment, err := fpmath.MulDivU64(uint64(magnitude), pos.Size, fpmath.PriceScale)
		if err != nil {
			return nil, err
		}
		if payment == 0 {
			continue
		}

		// Positive increment: longs pay, shorts receive. Negative flips.
		pays := (pos.Side == state.SideLong) == (increment > 0)

		key := pos.Owner.String()
		a, ok := accounts[key]
		if !ok {
			a, err = e.store.GetAccount(ctx, pos.Owner)
			if err != nil {
				return nil, err
			}
			accounts[key] = a
		}

		if pays {
			debit := payment
			if debit > pos.Collateral {
				debit = pos.Collateral
			}
			deducted := a.DeductAllocatedLoss(debit, now)
			if err := pos.RemoveMargin(deducted, now); err != nil {
				return nil, err
			}
			if err := pos.RefreshLiquidationPrice(m.MaintenanceMarginRatio, now); err != nil {
				return nil, err
			}
			totalDebited, err = fpmath.AddU64(totalDebited, deducted)
			if err != nil {
				return nil, err
			}
			pnlDelta, err := fpmath.SignedNotionalDiff(0, deducted)
			if err != nil {
				return nil, err
			}
			pos.RealizedPnL, err = fpmath.AddI64(pos.RealizedPnL, pnlDelta)
			if err != nil {
				return nil, err
			}
			net, err = fpmath.AddI64(net, pnlDelta)
			if err != nil {
				return nil, err
			}
		} else {
			credit, err := fpmath.SignedNotionalDiff(payment, 0)
			if err != nil {
				return nil, err
			}
			if err := a.SettlePnL(credit, now); err != nil {
				return nil, err
			}
			totalCredited, err = fpmath.AddU64(totalCredited, payment)
			if err != nil {
				return nil, err
			}
			pos.RealizedPnL, err = fpmath.AddI64(pos.RealizedPnL, credit)
			if err != nil {
				return nil, err
			}
			net, err = fpmath.AddI64(net, credit)
			if err != nil {
				return nil, err
			}
		}
		pos.LastUpdateTime = now
		pos.EntryFundingRate = m.FundingRate
	}

	// Conserve value: clamped debits mean payers covered less than the
	// receivers were credited, and the insurance fund absorbs the gap.
	// When debits exceed credits the surplus goes back to the fund.
	if totalDebited >= totalCredited {
		if err := m.CreditInsuranceFund(totalDebited - totalCredited); err != nil {
			return nil, err
		}
	} else {
		m.DebitInsuranceFund(totalCredited - totalDebited)
	}

	for _, pos := range positions {
		if err := e.store.UpdatePosition(ctx, pos); err != nil {
			return nil, err
		}
	}
	for _, a := range accounts {
		if err := e.store.UpdateAccount(ctx, a); err != nil {
			return nil, err
		}
	}
	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return nil, err
	}

	distributed, err := fpmath.AddU64(totalDebited, totalCredited)
	if err != nil {
		return nil, err
	}
	e.log.Info().
		Str("market", symbol).
		Int64("rate", m.FundingRate).
		Int64("intervals", intervals).
		Int("positions", len(positions)).
		Msg("funding settled")
	e.metrics.RecordFunding(symbol, distributed)
	e.metrics.RecordMarketState(symbol, m.LastPrice, m.InsuranceFund, m.FeePool)
	e.emit(ctx, event.FundingSettled{
		Market:         symbol,
		Rate:           m.FundingRate,
		Intervals:      intervals,
		NetDistributed: net,
		Timestamp:      now,
	})

	return &FundingSettlement{
		Market:         symbol,
		Rate:           m.FundingRate,
		Intervals:      intervals,
		NetDistributed: net,
		Positions:      len(positions),
	}, nil
}
