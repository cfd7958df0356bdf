package state

import "github.com/google/uuid"

// OrderStatus tracks the lifecycle of a resting order.
type OrderStatus int32

const (
	OrderStatusActive OrderStatus = iota
	OrderStatusFilled
	OrderStatusCancelled
)

func (os OrderStatus) String() string {
	switch os {
	case OrderStatusActive:
		return "Active"
	case OrderStatusFilled:
		return "Filled"
	case OrderStatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Order is a trade intent. Market orders fill synchronously and only exist
// as records of the fill; limit orders rest with margin reserved until the
// AMM price crosses the limit or the owner cancels.
type Order struct {
	ID             uuid.UUID
	Owner          uuid.UUID
	Market         string
	OrderType      OrderType
	Side           Side
	Size           uint64
	LimitPrice     uint64 // zero for market orders
	Leverage       uint64
	ReservedMargin uint64
	Status         OrderStatus
	CreatedAt      int64
	ResolvedAt     int64
}

// NewOrder returns an active order. A limit order must carry a price; a
// market order must not.
func NewOrder(id, owner uuid.UUID, market string, orderType OrderType, side Side, size, limitPrice, leverage, reservedMargin uint64, now int64) (*Order, error) {
	if size == 0 {
		return nil, ErrInvalidOrderSize
	}
	switch orderType {
	case OrderTypeLimit:
		if limitPrice == 0 {
			return nil, ErrInvalidOrderPrice
		}
	case OrderTypeMarket:
		if limitPrice != 0 {
			return nil, ErrInvalidOrderPrice
		}
	default:
		return nil, ErrInvalidParameter
	}
	return &Order{
		ID:             id,
		Owner:          owner,
		Market:         market,
		OrderType:      orderType,
		Side:           side,
		Size:           size,
		LimitPrice:     limitPrice,
		Leverage:       leverage,
		ReservedMargin: reservedMargin,
		Status:         OrderStatusActive,
		CreatedAt:      now,
	}, nil
}

// IsActive reports whether the order can still fill or be cancelled.
func (o *Order) IsActive() bool {
	return o.Status == OrderStatusActive
}

// CrossesAt reports whether a resting limit order is executable at the
// given spot price. A buy (long) fills at or below its limit, a sell
// (short) at or above it.
func (o *Order) CrossesAt(spot uint64) bool {
	if o.OrderType != OrderTypeLimit || !o.IsActive() {
		return false
	}
	if o.Side == SideLong {
		return spot <= o.LimitPrice
	}
	return spot >= o.LimitPrice
}

// Fill marks the order executed.
func (o *Order) Fill(now int64) error {
	if !o.IsActive() {
		return ErrOrderNotActive
	}
	o.Status = OrderStatusFilled
	o.ResolvedAt = now
	return nil
}

// Cancel marks the order withdrawn by its owner.
func (o *Order) Cancel(now int64) error {
	if !o.IsActive() {
		return ErrOrderNotActive
	}
	o.Status = OrderStatusCancelled
	o.ResolvedAt = now
	return nil
}
