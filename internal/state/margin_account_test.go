package state_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"PerpCore/internal/state"
)

var testOwner = uuid.MustParse("750e8400-e29b-41d4-a716-446655440002")

func TestDeposit_MinimumEnforced(t *testing.T) {
	a := state.NewMarginAccount(testOwner, state.MarginTypeIsolated, 1_700_000_000)
	if err := a.Deposit(999, 1_700_000_001); !errors.Is(err, state.ErrDepositTooSmall) {
		t.Errorf("got %v, want ErrDepositTooSmall", err)
	}
	if err := a.Deposit(1000, 1_700_000_001); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if a.Collateral != 1000 {
		t.Errorf("collateral got %d, want 1000", a.Collateral)
	}
}

func TestWithdraw_IsolatedRespectsAllocation(t *testing.T) {
	a := state.NewMarginAccount(testOwner, state.MarginTypeIsolated, 1_700_000_000)
	if err := a.Deposit(5000, 1_700_000_001); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := a.Allocate(5000, 0, 1_700_000_002); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got := a.AvailableMargin(); got != 0 {
		t.Fatalf("available margin got %d, want 0", got)
	}

	// Fully allocated: nothing is withdrawable even though collateral > 0.
	if err := a.Withdraw(1000, 0, 1_700_000_003); !errors.Is(err, state.ErrWithdrawalExceedsAvailableMargin) {
		t.Errorf("got %v, want ErrWithdrawalExceedsAvailableMargin", err)
	}

	if err := a.Release(2000, 1_700_000_004); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := a.Withdraw(1000, 0, 1_700_000_005); err != nil {
		t.Fatalf("Withdraw after release: %v", err)
	}
	if a.Collateral != 4000 || a.AllocatedMargin != 3000 {
		t.Errorf("got collateral %d allocated %d, want 4000/3000", a.Collateral, a.AllocatedMargin)
	}
}

func TestWithdraw_CrossRespectsRequiredMargin(t *testing.T) {
	a := state.NewMarginAccount(testOwner, state.MarginTypeCross, 1_700_000_000)
	if err := a.Deposit(10_000, 1_700_000_001); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	// 10_000 - 3_000 = 7_000 < 8_000 required.
	if err := a.Withdraw(3000, 8000, 1_700_000_002); !errors.Is(err, state.ErrWithdrawalBelowRequiredMargin) {
		t.Errorf("got %v, want ErrWithdrawalBelowRequiredMargin", err)
	}
	if err := a.Withdraw(2000, 8000, 1_700_000_003); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if a.Collateral != 8000 {
		t.Errorf("collateral got %d, want 8000", a.Collateral)
	}
}

func TestWithdraw_MinimumEnforced(t *testing.T) {
	a := state.NewMarginAccount(testOwner, state.MarginTypeIsolated, 1_700_000_000)
	if err := a.Deposit(5000, 1_700_000_001); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := a.Withdraw(999, 0, 1_700_000_002); !errors.Is(err, state.ErrWithdrawalTooSmall) {
		t.Errorf("got %v, want ErrWithdrawalTooSmall", err)
	}
}

func TestAllocate_CrossChecksSharedPool(t *testing.T) {
	a := state.NewMarginAccount(testOwner, state.MarginTypeCross, 1_700_000_000)
	if err := a.Deposit(5000, 1_700_000_001); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := a.Allocate(0, 6000, 1_700_000_002); !errors.Is(err, state.ErrInsufficientCollateral) {
		t.Errorf("got %v, want ErrInsufficientCollateral", err)
	}
	if err := a.Allocate(0, 5000, 1_700_000_002); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if a.AllocatedMargin != 0 {
		t.Errorf("cross accounts should not track allocation: got %d", a.AllocatedMargin)
	}
}

func TestSettlePnL(t *testing.T) {
	a := state.NewMarginAccount(testOwner, state.MarginTypeIsolated, 1_700_000_000)
	if err := a.Deposit(5000, 1_700_000_001); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := a.SettlePnL(-6000, 1_700_000_002); !errors.Is(err, state.ErrInsufficientCollateral) {
		t.Errorf("got %v, want ErrInsufficientCollateral", err)
	}
	if err := a.SettlePnL(2500, 1_700_000_002); err != nil {
		t.Fatalf("SettlePnL: %v", err)
	}
	if a.Collateral != 7500 {
		t.Errorf("collateral got %d, want 7500", a.Collateral)
	}
}

func TestDeductLoss_Clamps(t *testing.T) {
	a := state.NewMarginAccount(testOwner, state.MarginTypeCross, 1_700_000_000)
	if err := a.Deposit(3000, 1_700_000_001); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	deducted := a.DeductLoss(5000, 1_700_000_002)
	if deducted != 3000 {
		t.Errorf("deducted got %d, want 3000", deducted)
	}
	if a.Collateral != 0 {
		t.Errorf("collateral got %d, want 0", a.Collateral)
	}
}

func TestDeductAllocatedLoss_ReducesAllocationInStep(t *testing.T) {
	a := state.NewMarginAccount(testOwner, state.MarginTypeIsolated, 1_700_000_000)
	if err := a.Deposit(5000, 1_700_000_001); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := a.Allocate(4000, 0, 1_700_000_002); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	deducted := a.DeductAllocatedLoss(1500, 1_700_000_003)
	if deducted != 1500 {
		t.Errorf("deducted got %d, want 1500", deducted)
	}
	if a.Collateral != 3500 || a.AllocatedMargin != 2500 {
		t.Errorf("got collateral %d allocated %d, want 3500/2500", a.Collateral, a.AllocatedMargin)
	}
	// The unallocated balance is untouched by an allocated loss.
	if got := a.AvailableMargin(); got != 1000 {
		t.Errorf("available margin got %d, want 1000", got)
	}

	deducted = a.DeductAllocatedLoss(9000, 1_700_000_004)
	if deducted != 3500 {
		t.Errorf("deducted got %d, want 3500", deducted)
	}
	if a.Collateral != 0 || a.AllocatedMargin != 0 {
		t.Errorf("got collateral %d allocated %d, want 0/0", a.Collateral, a.AllocatedMargin)
	}
}

func TestDeductAllocatedLoss_CrossLeavesAllocationAlone(t *testing.T) {
	a := state.NewMarginAccount(testOwner, state.MarginTypeCross, 1_700_000_000)
	if err := a.Deposit(3000, 1_700_000_001); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if deducted := a.DeductAllocatedLoss(2000, 1_700_000_002); deducted != 2000 {
		t.Errorf("deducted got %d, want 2000", deducted)
	}
	if a.Collateral != 1000 || a.AllocatedMargin != 0 {
		t.Errorf("got collateral %d allocated %d, want 1000/0", a.Collateral, a.AllocatedMargin)
	}
}

func TestPositionList_BoundedAndIdempotent(t *testing.T) {
	a := state.NewMarginAccount(testOwner, state.MarginTypeIsolated, 1_700_000_000)

	first := uuid.New()
	if err := a.AddPosition(first); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}
	if err := a.AddPosition(first); !errors.Is(err, state.ErrDuplicateEntry) {
		t.Errorf("got %v, want ErrDuplicateEntry", err)
	}

	for i := 1; i < state.MaxPositions; i++ {
		if err := a.AddPosition(uuid.New()); err != nil {
			t.Fatalf("AddPosition %d: %v", i, err)
		}
	}
	if err := a.AddPosition(uuid.New()); !errors.Is(err, state.ErrTooManyPositions) {
		t.Errorf("got %v, want ErrTooManyPositions", err)
	}

	a.RemovePosition(first)
	a.RemovePosition(first) // absent removal is a no-op
	if len(a.Positions) != state.MaxPositions-1 {
		t.Errorf("positions length got %d, want %d", len(a.Positions), state.MaxPositions-1)
	}
}

func TestOrderList_Bounded(t *testing.T) {
	a := state.NewMarginAccount(testOwner, state.MarginTypeIsolated, 1_700_000_000)
	for i := 0; i < state.MaxOrders; i++ {
		if err := a.AddOrder(uuid.New()); err != nil {
			t.Fatalf("AddOrder %d: %v", i, err)
		}
	}
	if err := a.AddOrder(uuid.New()); !errors.Is(err, state.ErrTooManyOrders) {
		t.Errorf("got %v, want ErrTooManyOrders", err)
	}
}
