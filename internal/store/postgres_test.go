package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpCore/internal/state"
	"PerpCore/internal/store"
	"PerpCore/internal/testutil"
)

func setupPostgres(t *testing.T) (*store.Postgres, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	migrator := store.NewMigrator(db, testutil.MigrationsDir(t), zerolog.Nop())
	if err := migrator.Up(context.Background()); err != nil {
		cleanup()
		t.Fatalf("migrate up: %v", err)
	}
	return store.NewPostgres(db), cleanup
}

func testMarket(t *testing.T, symbol string) *state.Market {
	t.Helper()
	m, err := state.NewMarket(uuid.New(), state.MarketParams{
		Symbol:                 symbol,
		VirtualBaseReserve:     1_000_000_000,
		VirtualQuoteReserve:    1_000_000_000,
		FundingInterval:        3600,
		MaintenanceMarginRatio: 500,
		InitialMarginRatio:     1000,
		LiquidationFeeRatio:    100,
		MaxLeverage:            20,
	}, 1_700_000_000)
	if err != nil {
		t.Fatalf("new market: %v", err)
	}
	return m
}

func TestPostgres_MarketRoundTrip(t *testing.T) {
	st, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	m := testMarket(t, "BTC-PERP")
	if err := st.CreateMarket(ctx, m); err != nil {
		t.Fatalf("create market: %v", err)
	}
	if err := st.CreateMarket(ctx, m); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("duplicate create: got %v, want %v", err, store.ErrAlreadyExists)
	}

	got, err := st.GetMarket(ctx, "BTC-PERP")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if got.VirtualBaseReserve != m.VirtualBaseReserve || got.LastPrice != m.LastPrice {
		t.Errorf("got reserves %d/%d price %d, want %d/%d price %d",
			got.VirtualBaseReserve, got.VirtualQuoteReserve, got.LastPrice,
			m.VirtualBaseReserve, m.VirtualQuoteReserve, m.LastPrice)
	}

	got.InsuranceFund = 5000
	got.IsActive = false
	if err := st.UpdateMarket(ctx, got); err != nil {
		t.Fatalf("update market: %v", err)
	}
	got, err = st.GetMarket(ctx, "BTC-PERP")
	if err != nil {
		t.Fatalf("reload market: %v", err)
	}
	if got.InsuranceFund != 5000 || got.IsActive {
		t.Errorf("got insurance %d active %v, want 5000 false", got.InsuranceFund, got.IsActive)
	}

	if _, err := st.GetMarket(ctx, "ETH-PERP"); !errors.Is(err, store.ErrMarketNotFound) {
		t.Errorf("missing market: got %v, want %v", err, store.ErrMarketNotFound)
	}
}

func TestPostgres_AccountRoundTrip(t *testing.T) {
	st, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	owner := uuid.New()
	a := state.NewMarginAccount(owner, state.MarginTypeCross, 1_700_000_000)
	if err := st.CreateAccount(ctx, a); err != nil {
		t.Fatalf("create account: %v", err)
	}

	a.Collateral = 100_000
	a.AllocatedMargin = 40_000
	if err := a.AddPosition(uuid.New()); err != nil {
		t.Fatalf("add position: %v", err)
	}
	if err := a.AddOrder(uuid.New()); err != nil {
		t.Fatalf("add order: %v", err)
	}
	if err := st.UpdateAccount(ctx, a); err != nil {
		t.Fatalf("update account: %v", err)
	}

	got, err := st.GetAccount(ctx, owner)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.MarginType != state.MarginTypeCross {
		t.Errorf("got margin type %v, want %v", got.MarginType, state.MarginTypeCross)
	}
	if got.Collateral != 100_000 || got.AllocatedMargin != 40_000 {
		t.Errorf("got collateral %d allocated %d, want 100000/40000", got.Collateral, got.AllocatedMargin)
	}
	if len(got.Positions) != 1 || len(got.Orders) != 1 {
		t.Errorf("got %d positions %d orders, want 1/1", len(got.Positions), len(got.Orders))
	}
	if got.Positions[0] != a.Positions[0] {
		t.Errorf("got position id %s, want %s", got.Positions[0], a.Positions[0])
	}

	if _, err := st.GetAccount(ctx, uuid.New()); !errors.Is(err, store.ErrAccountNotFound) {
		t.Errorf("missing account: got %v, want %v", err, store.ErrAccountNotFound)
	}
}

func TestPostgres_PositionLifecycle(t *testing.T) {
	st, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	if err := st.CreateMarket(ctx, testMarket(t, "BTC-PERP")); err != nil {
		t.Fatalf("create market: %v", err)
	}

	pos := state.NewPosition(uuid.New(), uuid.New(), "BTC-PERP", state.SideLong,
		1_000_000, 1_000_100, 100_100, 10, 50, 1_700_000_000)
	if err := st.CreatePosition(ctx, pos); err != nil {
		t.Fatalf("create position: %v", err)
	}

	open, err := st.ListOpenPositions(ctx, "BTC-PERP")
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 || open[0].ID != pos.ID {
		t.Fatalf("got %d open positions, want 1 with id %s", len(open), pos.ID)
	}
	if open[0].EntryPrice != pos.EntryPrice || open[0].Side != state.SideLong {
		t.Errorf("got entry %d side %v, want %d %v",
			open[0].EntryPrice, open[0].Side, pos.EntryPrice, state.SideLong)
	}

	if err := pos.Close(-2000, 1_700_000_100); err != nil {
		t.Fatalf("close position: %v", err)
	}
	if err := st.UpdatePosition(ctx, pos); err != nil {
		t.Fatalf("update position: %v", err)
	}

	open, err = st.ListOpenPositions(ctx, "BTC-PERP")
	if err != nil {
		t.Fatalf("list open after close: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("got %d open positions after close, want 0", len(open))
	}

	got, err := st.GetPosition(ctx, pos.ID)
	if err != nil {
		t.Fatalf("get closed position: %v", err)
	}
	if got.Status != state.PositionStatusClosed || got.RealizedPnL != -2000 {
		t.Errorf("got status %v pnl %d, want %v -2000",
			got.Status, got.RealizedPnL, state.PositionStatusClosed)
	}

	if _, err := st.GetPosition(ctx, uuid.New()); !errors.Is(err, store.ErrPositionNotFound) {
		t.Errorf("missing position: got %v, want %v", err, store.ErrPositionNotFound)
	}
}

func TestPostgres_OrderLifecycle(t *testing.T) {
	st, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	if err := st.CreateMarket(ctx, testMarket(t, "BTC-PERP")); err != nil {
		t.Fatalf("create market: %v", err)
	}

	order, err := state.NewOrder(uuid.New(), uuid.New(), "BTC-PERP", state.OrderTypeLimit,
		state.SideShort, 1_000_000, 1_100_000, 5, 22_000, 1_700_000_000)
	if err != nil {
		t.Fatalf("new order: %v", err)
	}
	if err := st.CreateOrder(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	active, err := st.ListActiveOrders(ctx, "BTC-PERP")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != order.ID {
		t.Fatalf("got %d active orders, want 1 with id %s", len(active), order.ID)
	}
	if active[0].LimitPrice != order.LimitPrice || active[0].ReservedMargin != order.ReservedMargin {
		t.Errorf("got limit %d reserved %d, want %d/%d",
			active[0].LimitPrice, active[0].ReservedMargin, order.LimitPrice, order.ReservedMargin)
	}

	if err := order.Cancel(1_700_000_100); err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if err := st.UpdateOrder(ctx, order); err != nil {
		t.Fatalf("update order: %v", err)
	}

	active, err = st.ListActiveOrders(ctx, "BTC-PERP")
	if err != nil {
		t.Fatalf("list active after cancel: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("got %d active orders after cancel, want 0", len(active))
	}

	got, err := st.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get cancelled order: %v", err)
	}
	if got.Status != state.OrderStatusCancelled {
		t.Errorf("got status %v, want %v", got.Status, state.OrderStatusCancelled)
	}

	if _, err := st.GetOrder(ctx, uuid.New()); !errors.Is(err, store.ErrOrderNotFound) {
		t.Errorf("missing order: got %v, want %v", err, store.ErrOrderNotFound)
	}
}
