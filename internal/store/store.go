// Package store defines the durable-record interface for the engine.
// PostgreSQL is the source of truth in deployment; the in-memory
// implementation backs tests and local development.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"PerpCore/internal/state"
)

var (
	ErrMarketNotFound   = errors.New("market not found")
	ErrAccountNotFound  = errors.New("margin account not found")
	ErrPositionNotFound = errors.New("position not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrAlreadyExists    = errors.New("record already exists")
)

// Store persists the four engine aggregates. Get methods return detached
// copies: the engine mutates a copy and commits it back through the Update
// methods, so a failed operation never leaves a half-mutated record behind.
type Store interface {
	CreateMarket(ctx context.Context, m *state.Market) error
	GetMarket(ctx context.Context, symbol string) (*state.Market, error)
	UpdateMarket(ctx context.Context, m *state.Market) error
	ListMarkets(ctx context.Context) ([]*state.Market, error)

	CreateAccount(ctx context.Context, a *state.MarginAccount) error
	GetAccount(ctx context.Context, owner uuid.UUID) (*state.MarginAccount, error)
	UpdateAccount(ctx context.Context, a *state.MarginAccount) error

	CreatePosition(ctx context.Context, p *state.Position) error
	GetPosition(ctx context.Context, id uuid.UUID) (*state.Position, error)
	UpdatePosition(ctx context.Context, p *state.Position) error
	ListOpenPositions(ctx context.Context, market string) ([]*state.Position, error)

	CreateOrder(ctx context.Context, o *state.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*state.Order, error)
	UpdateOrder(ctx context.Context, o *state.Order) error
	ListActiveOrders(ctx context.Context, market string) ([]*state.Order, error)
}
