package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"PerpCore/internal/state"
	"PerpCore/internal/store"
)

func TestMemory_GetReturnsDetachedCopy(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	m := testMarket(t, "BTC-PERP")
	if err := st.CreateMarket(ctx, m); err != nil {
		t.Fatalf("create market: %v", err)
	}

	// Mutating a retrieved copy must not leak into the store until Update.
	got, err := st.GetMarket(ctx, "BTC-PERP")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	got.InsuranceFund = 9999

	reread, err := st.GetMarket(ctx, "BTC-PERP")
	if err != nil {
		t.Fatalf("reread market: %v", err)
	}
	if reread.InsuranceFund != 0 {
		t.Errorf("got insurance fund %d after aliased mutation, want 0", reread.InsuranceFund)
	}

	if err := st.UpdateMarket(ctx, got); err != nil {
		t.Fatalf("update market: %v", err)
	}
	reread, err = st.GetMarket(ctx, "BTC-PERP")
	if err != nil {
		t.Fatalf("reread after update: %v", err)
	}
	if reread.InsuranceFund != 9999 {
		t.Errorf("got insurance fund %d after update, want 9999", reread.InsuranceFund)
	}
}

func TestMemory_AccountListsDoNotAlias(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	a := state.NewMarginAccount(uuid.New(), state.MarginTypeIsolated, 1_700_000_000)
	if err := st.CreateAccount(ctx, a); err != nil {
		t.Fatalf("create account: %v", err)
	}

	got, err := st.GetAccount(ctx, a.Owner)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if err := got.AddPosition(uuid.New()); err != nil {
		t.Fatalf("add position: %v", err)
	}

	reread, err := st.GetAccount(ctx, a.Owner)
	if err != nil {
		t.Fatalf("reread account: %v", err)
	}
	if len(reread.Positions) != 0 {
		t.Errorf("got %d positions after aliased append, want 0", len(reread.Positions))
	}
}

func TestMemory_NotFoundSentinels(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	if _, err := st.GetMarket(ctx, "NOPE"); !errors.Is(err, store.ErrMarketNotFound) {
		t.Errorf("market: got %v, want %v", err, store.ErrMarketNotFound)
	}
	if _, err := st.GetAccount(ctx, uuid.New()); !errors.Is(err, store.ErrAccountNotFound) {
		t.Errorf("account: got %v, want %v", err, store.ErrAccountNotFound)
	}
	if _, err := st.GetPosition(ctx, uuid.New()); !errors.Is(err, store.ErrPositionNotFound) {
		t.Errorf("position: got %v, want %v", err, store.ErrPositionNotFound)
	}
	if _, err := st.GetOrder(ctx, uuid.New()); !errors.Is(err, store.ErrOrderNotFound) {
		t.Errorf("order: got %v, want %v", err, store.ErrOrderNotFound)
	}
	if err := st.UpdateMarket(ctx, testMarket(t, "NOPE")); !errors.Is(err, store.ErrMarketNotFound) {
		t.Errorf("update missing market: got %v, want %v", err, store.ErrMarketNotFound)
	}
}
