package state

// Side is the direction of a position or order.
type Side int32

const (
	SideLong Side = iota
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "Long"
	case SideShort:
		return "Short"
	default:
		return "Unknown"
	}
}

// Opposite returns the other side. Used when a close or liquidation trades
// against the AMM in the reverse direction of the original entry.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Sign returns +1 for long, -1 for short.
func (s Side) Sign() int64 {
	if s == SideLong {
		return 1
	}
	return -1
}

// MarginType selects how an account's collateral backs its positions.
type MarginType int32

const (
	// MarginTypeIsolated allocates collateral explicitly per position;
	// losses on one position cannot consume margin reserved for another.
	MarginTypeIsolated MarginType = iota

	// MarginTypeCross shares all account collateral across open positions.
	MarginTypeCross
)

func (mt MarginType) String() string {
	switch mt {
	case MarginTypeIsolated:
		return "Isolated"
	case MarginTypeCross:
		return "Cross"
	default:
		return "Unknown"
	}
}

// OrderType discriminates trade intents. Market orders fill synchronously
// against the AMM; limit orders rest until the AMM price crosses the limit.
type OrderType int32

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
)

func (ot OrderType) String() string {
	switch ot {
	case OrderTypeMarket:
		return "Market"
	case OrderTypeLimit:
		return "Limit"
	default:
		return "Unknown"
	}
}
