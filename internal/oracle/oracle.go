// Package oracle defines the mark-price source the engine consults for
// margin checks, liquidation, and margin withdrawal. Retrieval is external;
// this package only validates what the source reports.
package oracle

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrStaleOraclePrice rejects a reading older than MaxPriceAge.
	ErrStaleOraclePrice = errors.New("oracle price is stale")

	// ErrPriceConfidenceTooLow rejects a reading whose confidence interval
	// exceeds MaxConfidenceRatio of the price.
	ErrPriceConfidenceTooLow = errors.New("oracle price confidence too low")

	// ErrInvalidOraclePrice rejects a zero or missing price.
	ErrInvalidOraclePrice = errors.New("oracle price is invalid")
)

const (
	// MaxPriceAge is the oldest acceptable reading, in seconds.
	MaxPriceAge int64 = 60

	// MaxConfidenceDivisor bounds the confidence interval to 1% of price.
	MaxConfidenceDivisor uint64 = 100
)

// Price is one oracle reading. Price is price-scaled; Confidence is the
// absolute half-width of the confidence interval on the same scale.
type Price struct {
	Price       uint64
	Confidence  uint64
	PublishTime int64
}

// Source reports the latest reading for a market symbol.
type Source interface {
	Latest(ctx context.Context, market string) (Price, error)
}

// Validate checks a reading against the engine's acceptance rules at the
// caller-supplied time.
func Validate(p Price, now int64) error {
	if p.Price == 0 {
		return ErrInvalidOraclePrice
	}
	if now-p.PublishTime > MaxPriceAge {
		return ErrStaleOraclePrice
	}
	if p.Confidence > p.Price/MaxConfidenceDivisor {
		return ErrPriceConfidenceTooLow
	}
	return nil
}

// Writer accepts readings pushed from outside the engine.
type Writer interface {
	Set(market string, p Price)
}

// PushSource holds the latest reading per market, fed by an external
// price publisher. Safe for concurrent use.
type PushSource struct {
	mu     sync.RWMutex
	prices map[string]Price
}

func NewPushSource() *PushSource {
	return &PushSource{prices: make(map[string]Price)}
}

func (s *PushSource) Latest(_ context.Context, market string) (Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[market]
	if !ok {
		return Price{}, ErrInvalidOraclePrice
	}
	return p, nil
}

// Set installs or replaces the reading for a market.
func (s *PushSource) Set(market string, p Price) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[market] = p
}

// FixtureSource serves preset readings keyed by market symbol. Used in
// tests and local development.
type FixtureSource struct {
	Prices map[string]Price
}

func (s *FixtureSource) Latest(_ context.Context, market string) (Price, error) {
	p, ok := s.Prices[market]
	if !ok {
		return Price{}, ErrInvalidOraclePrice
	}
	return p, nil
}

// Set installs or replaces the fixture reading for a market.
func (s *FixtureSource) Set(market string, p Price) {
	if s.Prices == nil {
		s.Prices = make(map[string]Price)
	}
	s.Prices[market] = p
}
