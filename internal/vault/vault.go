// Package vault abstracts custody. The engine does its bookkeeping first
// and then asks the transferer to move real value; custody mechanics stay
// outside the core.
package vault

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Direction of a transfer relative to the exchange vault.
type Direction int32

const (
	DirectionIn  Direction = iota // trader -> vault (deposit)
	DirectionOut                  // vault -> trader (withdrawal, liquidator fee)
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "in"
	case DirectionOut:
		return "out"
	default:
		return "unknown"
	}
}

// Transfer is one requested value movement, in quote units.
type Transfer struct {
	Party     uuid.UUID
	Amount    uint64
	Direction Direction
	Reference string
}

// Transferer executes value movements. Implementations settle against the
// host's custody system.
type Transferer interface {
	Transfer(ctx context.Context, t Transfer) error
}

// NopTransferer acknowledges every transfer without moving anything.
type NopTransferer struct{}

func (NopTransferer) Transfer(context.Context, Transfer) error { return nil }

// Recorder captures transfers for test assertions.
type Recorder struct {
	mu        sync.Mutex
	Transfers []Transfer
}

func (r *Recorder) Transfer(_ context.Context, t Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Transfers = append(r.Transfers, t)
	return nil
}

// All returns a copy of the recorded transfers.
func (r *Recorder) All() []Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Transfer, len(r.Transfers))
	copy(out, r.Transfers)
	return out
}
