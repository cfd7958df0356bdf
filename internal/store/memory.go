package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"PerpCore/internal/state"
)

// Memory is the in-memory Store. All records are deep-copied on the way in
// and out so callers can never alias internal state.
type Memory struct {
	mu        sync.RWMutex
	markets   map[string]*state.Market
	accounts  map[uuid.UUID]*state.MarginAccount
	positions map[uuid.UUID]*state.Position
	orders    map[uuid.UUID]*state.Order
}

func NewMemory() *Memory {
	return &Memory{
		markets:   make(map[string]*state.Market),
		accounts:  make(map[uuid.UUID]*state.MarginAccount),
		positions: make(map[uuid.UUID]*state.Position),
		orders:    make(map[uuid.UUID]*state.Order),
	}
}

func copyMarket(m *state.Market) *state.Market {
	c := *m
	return &c
}

func copyAccount(a *state.MarginAccount) *state.MarginAccount {
	c := *a
	c.Positions = append([]uuid.UUID(nil), a.Positions...)
	c.Orders = append([]uuid.UUID(nil), a.Orders...)
	return &c
}

func copyPosition(p *state.Position) *state.Position {
	c := *p
	return &c
}

func copyOrder(o *state.Order) *state.Order {
	c := *o
	return &c
}

func (s *Memory) CreateMarket(_ context.Context, m *state.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.Symbol]; ok {
		return ErrAlreadyExists
	}
	s.markets[m.Symbol] = copyMarket(m)
	return nil
}

func (s *Memory) GetMarket(_ context.Context, symbol string) (*state.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[symbol]
	if !ok {
		return nil, ErrMarketNotFound
	}
	return copyMarket(m), nil
}

func (s *Memory) UpdateMarket(_ context.Context, m *state.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.Symbol]; !ok {
		return ErrMarketNotFound
	}
	s.markets[m.Symbol] = copyMarket(m)
	return nil
}

func (s *Memory) ListMarkets(_ context.Context) ([]*state.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*state.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, copyMarket(m))
	}
	return out, nil
}

func (s *Memory) CreateAccount(_ context.Context, a *state.MarginAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.Owner]; ok {
		return ErrAlreadyExists
	}
	s.accounts[a.Owner] = copyAccount(a)
	return nil
}

func (s *Memory) GetAccount(_ context.Context, owner uuid.UUID) (*state.MarginAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[owner]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return copyAccount(a), nil
}

func (s *Memory) UpdateAccount(_ context.Context, a *state.MarginAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.Owner]; !ok {
		return ErrAccountNotFound
	}
	s.accounts[a.Owner] = copyAccount(a)
	return nil
}

func (s *Memory) CreatePosition(_ context.Context, p *state.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.ID]; ok {
		return ErrAlreadyExists
	}
	s.positions[p.ID] = copyPosition(p)
	return nil
}

func (s *Memory) GetPosition(_ context.Context, id uuid.UUID) (*state.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, ErrPositionNotFound
	}
	return copyPosition(p), nil
}

func (s *Memory) UpdatePosition(_ context.Context, p *state.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.ID]; !ok {
		return ErrPositionNotFound
	}
	s.positions[p.ID] = copyPosition(p)
	return nil
}

func (s *Memory) ListOpenPositions(_ context.Context, market string) ([]*state.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*state.Position
	for _, p := range s.positions {
		if p.Market == market && p.IsOpen() {
			out = append(out, copyPosition(p))
		}
	}
	return out, nil
}

func (s *Memory) CreateOrder(_ context.Context, o *state.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return ErrAlreadyExists
	}
	s.orders[o.ID] = copyOrder(o)
	return nil
}

func (s *Memory) GetOrder(_ context.Context, id uuid.UUID) (*state.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (s *Memory) UpdateOrder(_ context.Context, o *state.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		return ErrOrderNotFound
	}
	s.orders[o.ID] = copyOrder(o)
	return nil
}

func (s *Memory) ListActiveOrders(_ context.Context, market string) ([]*state.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*state.Order
	for _, o := range s.orders {
		if o.Market == market && o.IsActive() {
			out = append(out, copyOrder(o))
		}
	}
	return out, nil
}
