package state

import (
	"github.com/google/uuid"

	"PerpCore/internal/fpmath"
)

const (
	// MinDeposit and MinWithdrawal reject dust operations.
	MinDeposit    uint64 = 1000
	MinWithdrawal uint64 = 1000

	// MaxPositions and MaxOrders bound the per-account tracking lists.
	MaxPositions = 10
	MaxOrders    = 20
)

// MarginAccount is the per-owner collateral ledger. Collateral counts the
// total quote units on deposit; AllocatedMargin counts the portion reserved
// for open positions under isolated margin. Under cross margin allocation
// stays zero and the whole balance backs every position.
type MarginAccount struct {
	Owner           uuid.UUID
	MarginType      MarginType
	Collateral      uint64
	AllocatedMargin uint64
	Positions       []uuid.UUID
	Orders          []uuid.UUID
	CreatedAt       int64
	LastUpdateTime  int64
}

// NewMarginAccount returns an empty account for the owner.
func NewMarginAccount(owner uuid.UUID, marginType MarginType, now int64) *MarginAccount {
	return &MarginAccount{
		Owner:          owner,
		MarginType:     marginType,
		Positions:      make([]uuid.UUID, 0, MaxPositions),
		Orders:         make([]uuid.UUID, 0, MaxOrders),
		CreatedAt:      now,
		LastUpdateTime: now,
	}
}

// Deposit credits collateral. Amounts under MinDeposit are rejected.
func (a *MarginAccount) Deposit(amount uint64, now int64) error {
	if amount < MinDeposit {
		return ErrDepositTooSmall
	}
	next, err := fpmath.AddU64(a.Collateral, amount)
	if err != nil {
		return err
	}
	a.Collateral = next
	a.LastUpdateTime = now
	return nil
}

// Withdraw debits collateral. Under isolated margin the amount must fit in
// the unallocated balance. Under cross margin the caller supplies the
// aggregate required initial margin of the account's open positions, and
// the remaining collateral must still cover it.
func (a *MarginAccount) Withdraw(amount, requiredMargin uint64, now int64) error {
	if amount < MinWithdrawal {
		return ErrWithdrawalTooSmall
	}

	switch a.MarginType {
	case MarginTypeIsolated:
		if amount > a.AvailableMargin() {
			return ErrWithdrawalExceedsAvailableMargin
		}
	case MarginTypeCross:
		remaining, err := fpmath.SubU64(a.Collateral, amount)
		if err != nil {
			return ErrWithdrawalExceedsAvailableMargin
		}
		if remaining < requiredMargin {
			return ErrWithdrawalBelowRequiredMargin
		}
	default:
		return ErrInvalidParameter
	}

	a.Collateral -= amount
	a.LastUpdateTime = now
	return nil
}

// AvailableMargin is the collateral not reserved for open positions.
// Allocation never exceeds collateral, so the subtraction cannot underflow.
func (a *MarginAccount) AvailableMargin() uint64 {
	if a.AllocatedMargin > a.Collateral {
		return 0
	}
	return a.Collateral - a.AllocatedMargin
}

// Allocate reserves margin for a position being opened. Isolated accounts
// move the amount from available to allocated; cross accounts only verify
// the shared pool covers the caller's aggregate requirement.
func (a *MarginAccount) Allocate(amount, crossRequired uint64, now int64) error {
	switch a.MarginType {
	case MarginTypeIsolated:
		if amount > a.AvailableMargin() {
			return ErrInsufficientCollateral
		}
		next, err := fpmath.AddU64(a.AllocatedMargin, amount)
		if err != nil {
			return err
		}
		a.AllocatedMargin = next
	case MarginTypeCross:
		if crossRequired > a.Collateral {
			return ErrInsufficientCollateral
		}
	default:
		return ErrInvalidParameter
	}
	a.LastUpdateTime = now
	return nil
}

// Release returns reserved margin to the available pool when a position
// closes. No-op for cross accounts.
func (a *MarginAccount) Release(amount uint64, now int64) error {
	if a.MarginType != MarginTypeIsolated {
		a.LastUpdateTime = now
		return nil
	}
	next, err := fpmath.SubU64(a.AllocatedMargin, amount)
	if err != nil {
		return ErrInvalidParameter
	}
	a.AllocatedMargin = next
	a.LastUpdateTime = now
	return nil
}

// SettlePnL applies a signed realized profit or loss to collateral. A loss
// exceeding the balance fails; the liquidation path clamps before calling.
func (a *MarginAccount) SettlePnL(pnl int64, now int64) error {
	next, err := fpmath.ApplySignedU64(a.Collateral, pnl)
	if err != nil {
		return ErrInsufficientCollateral
	}
	a.Collateral = next
	a.LastUpdateTime = now
	return nil
}

// DeductLoss removes up to amount from collateral, clamped at the balance.
// Returns the amount actually deducted. Used by liquidation, where the
// account must never be driven negative regardless of the computed loss.
func (a *MarginAccount) DeductLoss(amount uint64, now int64) uint64 {
	if amount > a.Collateral {
		amount = a.Collateral
	}
	a.Collateral -= amount
	a.LastUpdateTime = now
	return amount
}

// DeductAllocatedLoss removes a loss charged against margin backing a
// single position, clamped at the balance. Under isolated margin the
// allocation drops in step, so reserves held for other positions are
// never consumed and allocation cannot outgrow collateral. Returns the
// amount actually deducted.
func (a *MarginAccount) DeductAllocatedLoss(amount uint64, now int64) uint64 {
	if amount > a.Collateral {
		amount = a.Collateral
	}
	a.Collateral -= amount
	if a.MarginType == MarginTypeIsolated {
		if amount > a.AllocatedMargin {
			a.AllocatedMargin = 0
		} else {
			a.AllocatedMargin -= amount
		}
	}
	a.LastUpdateTime = now
	return amount
}

// AddPosition links a position id. Duplicates are rejected, and the list
// is bounded.
func (a *MarginAccount) AddPosition(id uuid.UUID) error {
	for _, existing := range a.Positions {
		if existing == id {
			return ErrDuplicateEntry
		}
	}
	if len(a.Positions) >= MaxPositions {
		return ErrTooManyPositions
	}
	a.Positions = append(a.Positions, id)
	return nil
}

// RemovePosition unlinks a position id. Removing an absent id is a no-op,
// so retried close and liquidation flows stay idempotent.
func (a *MarginAccount) RemovePosition(id uuid.UUID) {
	for i, existing := range a.Positions {
		if existing == id {
			a.Positions = append(a.Positions[:i], a.Positions[i+1:]...)
			return
		}
	}
}

// AddOrder links an order id. Duplicates are rejected, and the list is
// bounded.
func (a *MarginAccount) AddOrder(id uuid.UUID) error {
	for _, existing := range a.Orders {
		if existing == id {
			return ErrDuplicateEntry
		}
	}
	if len(a.Orders) >= MaxOrders {
		return ErrTooManyOrders
	}
	a.Orders = append(a.Orders, id)
	return nil
}

// RemoveOrder unlinks an order id, idempotently.
func (a *MarginAccount) RemoveOrder(id uuid.UUID) {
	for i, existing := range a.Orders {
		if existing == id {
			a.Orders = append(a.Orders[:i], a.Orders[i+1:]...)
			return
		}
	}
}
