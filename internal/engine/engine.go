// Package engine implements the exchange core: one exported method per
// caller intent. Every mutating call validates against copies of the stored
// records, commits all of them or none, and emits exactly one typed event
// on success. Timestamps are caller-supplied; the engine never reads the
// wall clock.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpCore/internal/event"
	"PerpCore/internal/fpmath"
	"PerpCore/internal/observability"
	"PerpCore/internal/oracle"
	"PerpCore/internal/state"
	"PerpCore/internal/store"
	"PerpCore/internal/vault"
)

// Engine orchestrates the four aggregates through the host collaborators.
// Mutations are serialized per market symbol; the host store remains the
// authority for cross-process serialization.
type Engine struct {
	store   store.Store
	oracle  oracle.Source
	vault   vault.Transferer
	sink    event.Sink
	metrics *observability.Metrics
	log     zerolog.Logger

	mu           sync.Mutex
	locks        map[string]*sync.Mutex
	accountLocks map[uuid.UUID]*sync.Mutex
}

func New(st store.Store, src oracle.Source, transferer vault.Transferer, sink event.Sink, metrics *observability.Metrics, log zerolog.Logger) *Engine {
	return &Engine{
		store:        st,
		oracle:       src,
		vault:        transferer,
		sink:         sink,
		metrics:      metrics,
		log:          log.With().Str("component", "engine").Logger(),
		locks:        make(map[string]*sync.Mutex),
		accountLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// lockMarket serializes mutating operations on one market. Returns the
// unlock func.
func (e *Engine) lockMarket(symbol string) func() {
	e.mu.Lock()
	l, ok := e.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		e.locks[symbol] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// lockAccount serializes mutating operations on one margin account.
// When both are held, the market lock is always acquired first.
func (e *Engine) lockAccount(owner uuid.UUID) func() {
	e.mu.Lock()
	l, ok := e.accountLocks[owner]
	if !ok {
		l = &sync.Mutex{}
		e.accountLocks[owner] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// lockAccounts acquires several account locks in a fixed order so that
// concurrent multi-account operations cannot deadlock.
func (e *Engine) lockAccounts(owners []uuid.UUID) func() {
	sorted := append([]uuid.UUID(nil), owners...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})
	unlocks := make([]func(), 0, len(sorted))
	for _, owner := range sorted {
		unlocks = append(unlocks, e.lockAccount(owner))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func (e *Engine) emit(ctx context.Context, evt event.Event) {
	if err := e.sink.Publish(ctx, evt); err != nil {
		e.log.Warn().Err(err).
			Str("event", evt.EventType().String()).
			Msg("event publish failed")
	}
}

// markPrice fetches and validates the oracle reading for a market.
func (e *Engine) markPrice(ctx context.Context, market string, now int64) (uint64, error) {
	reading, err := e.oracle.Latest(ctx, market)
	if err != nil {
		return 0, fmt.Errorf("oracle reading for %s: %w", market, err)
	}
	if err := oracle.Validate(reading, now); err != nil {
		return 0, err
	}
	return reading.Price, nil
}

// InitializeMarket creates an active market owned by the caller.
func (e *Engine) InitializeMarket(ctx context.Context, caller uuid.UUID, p state.MarketParams, now int64) (*state.Market, error) {
	m, err := state.NewMarket(caller, p, now)
	if err != nil {
		e.metrics.RecordRejection("initialize_market")
		return nil, err
	}
	if err := e.store.CreateMarket(ctx, m); err != nil {
		return nil, err
	}

	e.log.Info().Str("market", m.Symbol).Uint64("initial_price", m.LastPrice).Msg("market initialized")
	e.metrics.RecordMarketState(m.Symbol, m.LastPrice, m.InsuranceFund, m.FeePool)
	e.emit(ctx, event.MarketInitialized{
		Market:              m.Symbol,
		Authority:           m.Authority,
		VirtualBaseReserve:  m.VirtualBaseReserve,
		VirtualQuoteReserve: m.VirtualQuoteReserve,
		InitialPrice:        m.LastPrice,
		Timestamp:           now,
	})
	return m, nil
}

// PauseMarket halts trading on a market. Authority only.
func (e *Engine) PauseMarket(ctx context.Context, caller uuid.UUID, symbol string, now int64) error {
	unlock := e.lockMarket(symbol)
	defer unlock()

	m, err := e.store.GetMarket(ctx, symbol)
	if err != nil {
		return err
	}
	if err := m.Pause(caller); err != nil {
		e.metrics.RecordRejection("pause_market")
		return err
	}
	m.LastUpdateTime = now
	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return err
	}

	e.log.Info().Str("market", symbol).Msg("market paused")
	e.emit(ctx, event.MarketPaused{Market: symbol, Timestamp: now})
	return nil
}

// ResumeMarket reactivates a paused market. Authority only.
func (e *Engine) ResumeMarket(ctx context.Context, caller uuid.UUID, symbol string, now int64) error {
	unlock := e.lockMarket(symbol)
	defer unlock()

	m, err := e.store.GetMarket(ctx, symbol)
	if err != nil {
		return err
	}
	if err := m.Resume(caller); err != nil {
		e.metrics.RecordRejection("resume_market")
		return err
	}
	m.LastUpdateTime = now
	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return err
	}

	e.log.Info().Str("market", symbol).Msg("market resumed")
	e.emit(ctx, event.MarketResumed{Market: symbol, Timestamp: now})
	return nil
}

// UpdateMarketParams applies an authority parameter update.
func (e *Engine) UpdateMarketParams(ctx context.Context, caller uuid.UUID, symbol string, upd state.ParamUpdate, now int64) error {
	unlock := e.lockMarket(symbol)
	defer unlock()

	m, err := e.store.GetMarket(ctx, symbol)
	if err != nil {
		return err
	}
	if err := m.UpdateParams(caller, upd, now); err != nil {
		e.metrics.RecordRejection("update_market_params")
		return err
	}
	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return err
	}

	e.emit(ctx, event.MarketParamsUpdated{
		Market:                 symbol,
		MaintenanceMarginRatio: m.MaintenanceMarginRatio,
		InitialMarginRatio:     m.InitialMarginRatio,
		FundingInterval:        m.FundingInterval,
		MaxLeverage:            m.MaxLeverage,
		LiquidationFeeRatio:    m.LiquidationFeeRatio,
		Timestamp:              now,
	})
	return nil
}

// UpdateFundingRate replaces the per-interval funding rate. Authority only.
func (e *Engine) UpdateFundingRate(ctx context.Context, caller uuid.UUID, symbol string, rate int64, now int64) error {
	unlock := e.lockMarket(symbol)
	defer unlock()

	m, err := e.store.GetMarket(ctx, symbol)
	if err != nil {
		return err
	}
	if err := m.SetFundingRate(caller, rate, now); err != nil {
		e.metrics.RecordRejection("update_funding_rate")
		return err
	}
	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return err
	}

	e.emit(ctx, event.FundingRateUpdated{Market: symbol, Rate: rate, Timestamp: now})
	return nil
}

// CreateMarginAccount opens an empty account for the owner.
func (e *Engine) CreateMarginAccount(ctx context.Context, owner uuid.UUID, marginType state.MarginType, now int64) (*state.MarginAccount, error) {
	a := state.NewMarginAccount(owner, marginType, now)
	if err := e.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}

	e.log.Info().Str("owner", owner.String()).Str("margin_type", marginType.String()).Msg("margin account created")
	e.emit(ctx, event.MarginAccountCreated{Owner: owner, MarginType: marginType.String(), Timestamp: now})
	return a, nil
}

// Deposit credits collateral and settles the transfer in from custody.
func (e *Engine) Deposit(ctx context.Context, owner uuid.UUID, amount uint64, now int64) error {
	unlock := e.lockAccount(owner)
	defer unlock()

	a, err := e.store.GetAccount(ctx, owner)
	if err != nil {
		return err
	}
	if err := a.Deposit(amount, now); err != nil {
		e.metrics.RecordRejection("deposit")
		return err
	}
	if err := e.store.UpdateAccount(ctx, a); err != nil {
		return err
	}
	if err := e.vault.Transfer(ctx, vault.Transfer{
		Party:     owner,
		Amount:    amount,
		Direction: vault.DirectionIn,
		Reference: "deposit",
	}); err != nil {
		return fmt.Errorf("deposit transfer: %w", err)
	}

	e.metrics.RecordDeposit(amount)
	e.emit(ctx, event.CollateralDeposited{Owner: owner, Amount: amount, Collateral: a.Collateral, Timestamp: now})
	return nil
}

// Withdraw debits collateral after verifying margin requirements and
// settles the transfer out.
func (e *Engine) Withdraw(ctx context.Context, owner uuid.UUID, amount uint64, now int64) error {
	unlock := e.lockAccount(owner)
	defer unlock()

	a, err := e.store.GetAccount(ctx, owner)
	if err != nil {
		return err
	}

	var required uint64
	if a.MarginType == state.MarginTypeCross {
		required, err = e.aggregateRequiredMargin(ctx, a)
		if err != nil {
			return err
		}
	}
	if err := a.Withdraw(amount, required, now); err != nil {
		e.metrics.RecordRejection("withdraw")
		return err
	}
	if err := e.store.UpdateAccount(ctx, a); err != nil {
		return err
	}
	if err := e.vault.Transfer(ctx, vault.Transfer{
		Party:     owner,
		Amount:    amount,
		Direction: vault.DirectionOut,
		Reference: "withdrawal",
	}); err != nil {
		return fmt.Errorf("withdrawal transfer: %w", err)
	}

	e.metrics.RecordWithdrawal(amount)
	e.emit(ctx, event.CollateralWithdrawn{Owner: owner, Amount: amount, Collateral: a.Collateral, Timestamp: now})
	return nil
}

// aggregateRequiredMargin sums the initial margin requirement of every open
// position linked to the account, at entry prices.
func (e *Engine) aggregateRequiredMargin(ctx context.Context, a *state.MarginAccount) (uint64, error) {
	markets := make(map[string]*state.Market)
	var total uint64
	for _, id := range a.Positions {
		p, err := e.store.GetPosition(ctx, id)
		if err != nil {
			return 0, err
		}
		if !p.IsOpen() {
			continue
		}
		m, ok := markets[p.Market]
		if !ok {
			m, err = e.store.GetMarket(ctx, p.Market)
			if err != nil {
				return 0, err
			}
			markets[p.Market] = m
		}
		req, err := p.RequiredInitialMargin(p.EntryPrice, m.InitialMarginRatio)
		if err != nil {
			return 0, err
		}
		total, err = fpmath.AddU64(total, req)
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
