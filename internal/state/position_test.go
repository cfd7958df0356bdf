package state_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"PerpCore/internal/state"
)

func newTestPosition(t *testing.T, side state.Side, size, entryPrice, collateral, leverage uint64) *state.Position {
	t.Helper()
	return state.NewPosition(uuid.New(), testOwner, "BTC-PERP", side, size, entryPrice, collateral, leverage, 0, 1_700_000_000)
}

func TestUnrealizedPnL_Signs(t *testing.T) {
	long := newTestPosition(t, state.SideLong, 1_000_000, 1_000_000, 100_000, 10)
	short := newTestPosition(t, state.SideShort, 1_000_000, 1_000_000, 100_000, 10)

	cases := []struct {
		name string
		pos  *state.Position
		mark uint64
		want int64
	}{
		{"long gains on rise", long, 1_100_000, 100_000},
		{"long loses on fall", long, 900_000, -100_000},
		{"short gains on fall", short, 900_000, 100_000},
		{"short loses on rise", short, 1_100_000, -100_000},
		{"flat at entry", long, 1_000_000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.pos.UnrealizedPnL(tc.mark)
			if err != nil {
				t.Fatalf("UnrealizedPnL: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestEquity_FlooredAtZero(t *testing.T) {
	p := newTestPosition(t, state.SideLong, 1_000_000, 1_000_000, 50_000, 10)

	// Price collapse: loss of 900_000 dwarfs the 50_000 collateral.
	equity, err := p.Equity(100_000, p.Collateral)
	if err != nil {
		t.Fatalf("Equity: %v", err)
	}
	if equity != 0 {
		t.Errorf("equity got %d, want 0", equity)
	}
}

func TestRequiredInitialMargin_LeverageRoundTrip(t *testing.T) {
	// notional = 2_000_000 * 25_000_000 / 1e6 = 50_000_000
	p := newTestPosition(t, state.SideLong, 2_000_000, 25_000_000, 0, 10)
	got, err := p.RequiredInitialMargin(25_000_000, 1000)
	if err != nil {
		t.Fatalf("RequiredInitialMargin: %v", err)
	}
	// ceil(50_000_000 * 1000 / (10_000 * 10)) = 500_000
	if got != 500_000 {
		t.Errorf("got %d, want 500_000", got)
	}
}

func TestRequiredInitialMargin_RoundsUp(t *testing.T) {
	// notional = 333 * 1e6 / 1e6 = 333; 333*1000/(10000*7) = 4.757 -> 5
	p := newTestPosition(t, state.SideLong, 333, 1_000_000, 0, 7)
	got, err := p.RequiredInitialMargin(1_000_000, 1000)
	if err != nil {
		t.Fatalf("RequiredInitialMargin: %v", err)
	}
	if got != 5 {
		t.Errorf("got %d, want 5", got)
	}
}

func TestIsLiquidatable_StrictBoundary(t *testing.T) {
	// At entry price: notional 1_000_000, maintenance at 5% = 50_000.
	p := newTestPosition(t, state.SideLong, 1_000_000, 1_000_000, 50_000, 10)

	// Equity exactly equals maintenance: healthy.
	liq, err := p.IsLiquidatable(1_000_000, p.Collateral, 500)
	if err != nil {
		t.Fatalf("IsLiquidatable: %v", err)
	}
	if liq {
		t.Error("equity == maintenance must not be liquidatable")
	}

	// One tick below: equity dips under maintenance.
	liq, err = p.IsLiquidatable(999_000, p.Collateral, 500)
	if err != nil {
		t.Fatalf("IsLiquidatable: %v", err)
	}
	if !liq {
		t.Error("equity below maintenance must be liquidatable")
	}
}

func TestComputeLiquidationPrice_Long(t *testing.T) {
	p := newTestPosition(t, state.SideLong, 1_000_000, 1_000_000, 100_000, 10)
	got, err := p.ComputeLiquidationPrice(500)
	if err != nil {
		t.Fatalf("ComputeLiquidationPrice: %v", err)
	}
	// ceil((1e6*1e6 - 1e5*1e6) * 1e4 / (1e6 * 9500)) = ceil(947368.42)
	if got != 947_369 {
		t.Errorf("got %d, want 947_369", got)
	}

	liq, err := p.IsLiquidatable(947_000, p.Collateral, 500)
	if err != nil {
		t.Fatalf("IsLiquidatable: %v", err)
	}
	if !liq {
		t.Error("long below its liquidation price should be liquidatable")
	}
	liq, err = p.IsLiquidatable(1_000_000, p.Collateral, 500)
	if err != nil {
		t.Fatalf("IsLiquidatable: %v", err)
	}
	if liq {
		t.Error("long at entry should be healthy")
	}
}

func TestComputeLiquidationPrice_Short(t *testing.T) {
	p := newTestPosition(t, state.SideShort, 1_000_000, 1_000_000, 100_000, 10)
	got, err := p.ComputeLiquidationPrice(500)
	if err != nil {
		t.Fatalf("ComputeLiquidationPrice: %v", err)
	}
	// floor((1e6*1e6 + 1e5*1e6) * 1e4 / (1e6 * 10500)) = floor(1047619.04)
	if got != 1_047_619 {
		t.Errorf("got %d, want 1_047_619", got)
	}

	liq, err := p.IsLiquidatable(1_047_620, p.Collateral, 500)
	if err != nil {
		t.Fatalf("IsLiquidatable: %v", err)
	}
	if !liq {
		t.Error("short above its liquidation price should be liquidatable")
	}
}

func TestComputeLiquidationPrice_FullyCollateralizedLong(t *testing.T) {
	// Collateral covers the whole entry notional: no price can liquidate.
	p := newTestPosition(t, state.SideLong, 1_000_000, 1_000_000, 1_000_000, 1)
	got, err := p.ComputeLiquidationPrice(500)
	if err != nil {
		t.Fatalf("ComputeLiquidationPrice: %v", err)
	}
	if got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestMarginAdjustment_MovesLiquidationPrice(t *testing.T) {
	p := newTestPosition(t, state.SideLong, 1_000_000, 1_000_000, 100_000, 10)
	if err := p.RefreshLiquidationPrice(500, 1_700_000_001); err != nil {
		t.Fatalf("RefreshLiquidationPrice: %v", err)
	}
	before := p.LiquidationPrice

	if err := p.AddMargin(50_000, 1_700_000_002); err != nil {
		t.Fatalf("AddMargin: %v", err)
	}
	if err := p.RefreshLiquidationPrice(500, 1_700_000_002); err != nil {
		t.Fatalf("RefreshLiquidationPrice: %v", err)
	}
	if p.LiquidationPrice >= before {
		t.Errorf("adding margin should lower a long's liquidation price: %d -> %d", before, p.LiquidationPrice)
	}
}

func TestClose_Lifecycle(t *testing.T) {
	p := newTestPosition(t, state.SideLong, 1_000_000, 1_000_000, 100_000, 10)
	if err := p.Close(12_345, 1_700_000_100); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if p.Status != state.PositionStatusClosed {
		t.Errorf("status got %v, want Closed", p.Status)
	}
	if err := p.Close(0, 1_700_000_200); !errors.Is(err, state.ErrPositionClosed) {
		t.Errorf("got %v, want ErrPositionClosed", err)
	}
	if err := p.AddMargin(1000, 1_700_000_200); !errors.Is(err, state.ErrPositionClosed) {
		t.Errorf("got %v, want ErrPositionClosed", err)
	}
}

func TestMarkLiquidated(t *testing.T) {
	p := newTestPosition(t, state.SideShort, 1_000_000, 1_000_000, 100_000, 10)
	if err := p.MarkLiquidated(-100_000, 1_700_000_100); err != nil {
		t.Fatalf("MarkLiquidated: %v", err)
	}
	if p.Status != state.PositionStatusLiquidated {
		t.Errorf("status got %v, want Liquidated", p.Status)
	}
	if p.RealizedPnL != -100_000 {
		t.Errorf("realized pnl got %d, want -100_000", p.RealizedPnL)
	}
}
