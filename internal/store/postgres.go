package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"PerpCore/internal/state"
)

const uniqueViolation = "23505"

// Postgres is the durable Store. Schema lives in migrations/ and is applied
// by the migrator before the engine starts.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Open connects and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(raw))
	for i, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse uuid %q: %w", s, err)
		}
		out[i] = id
	}
	return out, nil
}

func (s *Postgres) CreateMarket(ctx context.Context, m *state.Market) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markets (
			symbol, authority, virtual_base_reserve, virtual_quote_reserve,
			funding_rate, last_funding_time, funding_interval,
			maintenance_margin_ratio, initial_margin_ratio, liquidation_fee_ratio,
			max_leverage, insurance_fund, fee_pool, is_active, last_price, last_update_time
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		m.Symbol, m.Authority, int64(m.VirtualBaseReserve), int64(m.VirtualQuoteReserve),
		m.FundingRate, m.LastFundingTime, m.FundingInterval,
		int64(m.MaintenanceMarginRatio), int64(m.InitialMarginRatio), int64(m.LiquidationFeeRatio),
		int64(m.MaxLeverage), int64(m.InsuranceFund), int64(m.FeePool), m.IsActive,
		int64(m.LastPrice), m.LastUpdateTime,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert market %s: %w", m.Symbol, err)
	}
	return nil
}

func (s *Postgres) GetMarket(ctx context.Context, symbol string) (*state.Market, error) {
	var m state.Market
	var vb, vq, mmr, imr, liqFee, maxLev, insurance, feePool, lastPrice int64
	err := s.db.QueryRowContext(ctx, `
		SELECT symbol, authority, virtual_base_reserve, virtual_quote_reserve,
		       funding_rate, last_funding_time, funding_interval,
		       maintenance_margin_ratio, initial_margin_ratio, liquidation_fee_ratio,
		       max_leverage, insurance_fund, fee_pool, is_active, last_price, last_update_time
		FROM markets WHERE symbol = $1`, symbol,
	).Scan(
		&m.Symbol, &m.Authority, &vb, &vq,
		&m.FundingRate, &m.LastFundingTime, &m.FundingInterval,
		&mmr, &imr, &liqFee,
		&maxLev, &insurance, &feePool, &m.IsActive, &lastPrice, &m.LastUpdateTime,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select market %s: %w", symbol, err)
	}
	m.VirtualBaseReserve = uint64(vb)
	m.VirtualQuoteReserve = uint64(vq)
	m.MaintenanceMarginRatio = uint64(mmr)
	m.InitialMarginRatio = uint64(imr)
	m.LiquidationFeeRatio = uint64(liqFee)
	m.MaxLeverage = uint64(maxLev)
	m.InsuranceFund = uint64(insurance)
	m.FeePool = uint64(feePool)
	m.LastPrice = uint64(lastPrice)
	return &m, nil
}

func (s *Postgres) UpdateMarket(ctx context.Context, m *state.Market) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE markets SET
			virtual_base_reserve = $2, virtual_quote_reserve = $3,
			funding_rate = $4, last_funding_time = $5, funding_interval = $6,
			maintenance_margin_ratio = $7, initial_margin_ratio = $8,
			liquidation_fee_ratio = $9, max_leverage = $10,
			insurance_fund = $11, fee_pool = $12, is_active = $13,
			last_price = $14, last_update_time = $15
		WHERE symbol = $1`,
		m.Symbol, int64(m.VirtualBaseReserve), int64(m.VirtualQuoteReserve),
		m.FundingRate, m.LastFundingTime, m.FundingInterval,
		int64(m.MaintenanceMarginRatio), int64(m.InitialMarginRatio),
		int64(m.LiquidationFeeRatio), int64(m.MaxLeverage),
		int64(m.InsuranceFund), int64(m.FeePool), m.IsActive,
		int64(m.LastPrice), m.LastUpdateTime,
	)
	if err != nil {
		return fmt.Errorf("update market %s: %w", m.Symbol, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMarketNotFound
	}
	return nil
}

func (s *Postgres) ListMarkets(ctx context.Context) ([]*state.Market, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol FROM markets ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*state.Market, 0, len(symbols))
	for _, sym := range symbols {
		m, err := s.GetMarket(ctx, sym)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Postgres) CreateAccount(ctx context.Context, a *state.MarginAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO margin_accounts (
			owner, margin_type, collateral, allocated_margin,
			positions, orders, created_at, last_update_time
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.Owner, int32(a.MarginType), int64(a.Collateral), int64(a.AllocatedMargin),
		pq.Array(uuidStrings(a.Positions)), pq.Array(uuidStrings(a.Orders)),
		a.CreatedAt, a.LastUpdateTime,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert margin account %s: %w", a.Owner, err)
	}
	return nil
}

func (s *Postgres) GetAccount(ctx context.Context, owner uuid.UUID) (*state.MarginAccount, error) {
	var a state.MarginAccount
	var marginType int32
	var collateral, allocated int64
	var positions, orders []string
	err := s.db.QueryRowContext(ctx, `
		SELECT owner, margin_type, collateral, allocated_margin,
		       positions, orders, created_at, last_update_time
		FROM margin_accounts WHERE owner = $1`, owner,
	).Scan(
		&a.Owner, &marginType, &collateral, &allocated,
		pq.Array(&positions), pq.Array(&orders), &a.CreatedAt, &a.LastUpdateTime,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select margin account %s: %w", owner, err)
	}
	a.MarginType = state.MarginType(marginType)
	a.Collateral = uint64(collateral)
	a.AllocatedMargin = uint64(allocated)
	if a.Positions, err = parseUUIDs(positions); err != nil {
		return nil, err
	}
	if a.Orders, err = parseUUIDs(orders); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Postgres) UpdateAccount(ctx context.Context, a *state.MarginAccount) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE margin_accounts SET
			margin_type = $2, collateral = $3, allocated_margin = $4,
			positions = $5, orders = $6, last_update_time = $7
		WHERE owner = $1`,
		a.Owner, int32(a.MarginType), int64(a.Collateral), int64(a.AllocatedMargin),
		pq.Array(uuidStrings(a.Positions)), pq.Array(uuidStrings(a.Orders)),
		a.LastUpdateTime,
	)
	if err != nil {
		return fmt.Errorf("update margin account %s: %w", a.Owner, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *Postgres) CreatePosition(ctx context.Context, p *state.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (
			id, owner, market, side, size, entry_price, collateral, leverage,
			entry_funding_rate, liquidation_price, status, realized_pnl,
			opened_at, closed_at, last_update_time
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		p.ID, p.Owner, p.Market, int32(p.Side), int64(p.Size), int64(p.EntryPrice),
		int64(p.Collateral), int64(p.Leverage), p.EntryFundingRate,
		int64(p.LiquidationPrice), int32(p.Status), p.RealizedPnL,
		p.OpenedAt, p.ClosedAt, p.LastUpdateTime,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert position %s: %w", p.ID, err)
	}
	return nil
}

func scanPosition(row interface{ Scan(...any) error }) (*state.Position, error) {
	var p state.Position
	var side, status int32
	var size, entryPrice, collateral, leverage, liqPrice int64
	err := row.Scan(
		&p.ID, &p.Owner, &p.Market, &side, &size, &entryPrice, &collateral,
		&leverage, &p.EntryFundingRate, &liqPrice, &status, &p.RealizedPnL,
		&p.OpenedAt, &p.ClosedAt, &p.LastUpdateTime,
	)
	if err != nil {
		return nil, err
	}
	p.Side = state.Side(side)
	p.Status = state.PositionStatus(status)
	p.Size = uint64(size)
	p.EntryPrice = uint64(entryPrice)
	p.Collateral = uint64(collateral)
	p.Leverage = uint64(leverage)
	p.LiquidationPrice = uint64(liqPrice)
	return &p, nil
}

const positionColumns = `id, owner, market, side, size, entry_price, collateral, leverage,
	entry_funding_rate, liquidation_price, status, realized_pnl,
	opened_at, closed_at, last_update_time`

func (s *Postgres) GetPosition(ctx context.Context, id uuid.UUID) (*state.Position, error) {
	p, err := scanPosition(s.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select position %s: %w", id, err)
	}
	return p, nil
}

func (s *Postgres) UpdatePosition(ctx context.Context, p *state.Position) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE positions SET
			side = $2, size = $3, entry_price = $4, collateral = $5, leverage = $6,
			entry_funding_rate = $7, liquidation_price = $8, status = $9,
			realized_pnl = $10, closed_at = $11, last_update_time = $12
		WHERE id = $1`,
		p.ID, int32(p.Side), int64(p.Size), int64(p.EntryPrice), int64(p.Collateral),
		int64(p.Leverage), p.EntryFundingRate, int64(p.LiquidationPrice),
		int32(p.Status), p.RealizedPnL, p.ClosedAt, p.LastUpdateTime,
	)
	if err != nil {
		return fmt.Errorf("update position %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPositionNotFound
	}
	return nil
}

func (s *Postgres) ListOpenPositions(ctx context.Context, market string) ([]*state.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE market = $1 AND status = 0 ORDER BY opened_at`,
		market)
	if err != nil {
		return nil, fmt.Errorf("list open positions %s: %w", market, err)
	}
	defer rows.Close()

	var out []*state.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const orderColumns = `id, owner, market, order_type, side, size, limit_price,
	leverage, reserved_margin, status, created_at, resolved_at`

func (s *Postgres) CreateOrder(ctx context.Context, o *state.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, owner, market, order_type, side, size, limit_price,
			leverage, reserved_margin, status, created_at, resolved_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		o.ID, o.Owner, o.Market, int32(o.OrderType), int32(o.Side), int64(o.Size),
		int64(o.LimitPrice), int64(o.Leverage), int64(o.ReservedMargin),
		int32(o.Status), o.CreatedAt, o.ResolvedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

func scanOrder(row interface{ Scan(...any) error }) (*state.Order, error) {
	var o state.Order
	var orderType, side, status int32
	var size, limitPrice, leverage, reserved int64
	err := row.Scan(
		&o.ID, &o.Owner, &o.Market, &orderType, &side, &size, &limitPrice,
		&leverage, &reserved, &status, &o.CreatedAt, &o.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	o.OrderType = state.OrderType(orderType)
	o.Side = state.Side(side)
	o.Status = state.OrderStatus(status)
	o.Size = uint64(size)
	o.LimitPrice = uint64(limitPrice)
	o.Leverage = uint64(leverage)
	o.ReservedMargin = uint64(reserved)
	return &o, nil
}

func (s *Postgres) GetOrder(ctx context.Context, id uuid.UUID) (*state.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select order %s: %w", id, err)
	}
	return o, nil
}

func (s *Postgres) UpdateOrder(ctx context.Context, o *state.Order) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $2, resolved_at = $3 WHERE id = $1`,
		o.ID, int32(o.Status), o.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (s *Postgres) ListActiveOrders(ctx context.Context, market string) ([]*state.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE market = $1 AND status = 0 ORDER BY created_at`,
		market)
	if err != nil {
		return nil, fmt.Errorf("list active orders %s: %w", market, err)
	}
	defer rows.Close()

	var out []*state.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
