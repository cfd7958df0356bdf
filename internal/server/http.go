// Package server exposes the engine over a JSON HTTP API. Handlers are
// thin: decode, call the engine, map sentinel errors to status codes.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"PerpCore/internal/engine"
	"PerpCore/internal/oracle"
	"PerpCore/internal/state"
	"PerpCore/internal/store"
)

type Server struct {
	*httprouter.Router

	engine *engine.Engine
	store  store.Store
	prices oracle.Writer
	log    zerolog.Logger
}

func New(eng *engine.Engine, st store.Store, prices oracle.Writer, log zerolog.Logger) *Server {
	s := &Server{
		Router: httprouter.New(),
		engine: eng,
		store:  st,
		prices: prices,
		log:    log.With().Str("component", "http").Logger(),
	}

	s.POST("/v1/markets", s.initializeMarket)
	s.GET("/v1/markets", s.listMarkets)
	s.GET("/v1/markets/:symbol", s.getMarket)
	s.POST("/v1/markets/:symbol/pause", s.pauseMarket)
	s.POST("/v1/markets/:symbol/resume", s.resumeMarket)
	s.POST("/v1/markets/:symbol/params", s.updateParams)
	s.POST("/v1/markets/:symbol/funding-rate", s.updateFundingRate)
	s.POST("/v1/markets/:symbol/funding/settle", s.settleFunding)
	s.GET("/v1/markets/:symbol/positions", s.listOpenPositions)
	s.GET("/v1/markets/:symbol/orders", s.listActiveOrders)

	s.POST("/v1/accounts", s.createAccount)
	s.GET("/v1/accounts/:owner", s.getAccount)
	s.POST("/v1/accounts/:owner/deposit", s.deposit)
	s.POST("/v1/accounts/:owner/withdraw", s.withdraw)

	s.POST("/v1/positions", s.openPosition)
	s.GET("/v1/positions/:id", s.getPosition)
	s.POST("/v1/positions/:id/close", s.closePosition)
	s.POST("/v1/positions/:id/margin", s.adjustMargin)
	s.POST("/v1/positions/:id/liquidate", s.liquidate)

	s.POST("/v1/orders", s.placeOrder)
	s.GET("/v1/orders/:id", s.getOrder)
	s.POST("/v1/orders/:id/execute", s.executeOrder)
	s.POST("/v1/orders/:id/cancel", s.cancelOrder)

	s.POST("/v1/oracle/:symbol", s.pushOraclePrice)

	return s
}

// pushOraclePrice installs the latest external price reading for a
// market. The engine validates age and confidence on every use.
func (s *Server) pushOraclePrice(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req oraclePriceRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Price == 0 {
		s.writeError(w, oracle.ErrInvalidOraclePrice)
		return
	}
	s.prices.Set(ps.ByName("symbol"), oracle.Price{
		Price:       req.Price,
		Confidence:  req.Confidence,
		PublishTime: req.PublishTime,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) initializeMarket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req initMarketRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := uuid.Parse(req.CallerID)
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	m, err := s.engine.InitializeMarket(r.Context(), caller, state.MarketParams{
		Symbol:                 req.Symbol,
		VirtualBaseReserve:     req.VirtualBaseReserve,
		VirtualQuoteReserve:    req.VirtualQuoteReserve,
		InitialFundingRate:     req.InitialFundingRate,
		FundingInterval:        req.FundingInterval,
		MaintenanceMarginRatio: req.MaintenanceMarginRatio,
		InitialMarginRatio:     req.InitialMarginRatio,
		LiquidationFeeRatio:    req.LiquidationFeeRatio,
		MaxLeverage:            req.MaxLeverage,
	}, req.Timestamp)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toMarketResponse(m))
}

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]marketResponse, len(markets))
	for i, m := range markets {
		out[i] = toMarketResponse(m)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	m, err := s.store.GetMarket(r.Context(), ps.ByName("symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toMarketResponse(m))
}

func (s *Server) pauseMarket(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req callerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := uuid.Parse(req.CallerID)
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	if err := s.engine.PauseMarket(r.Context(), caller, ps.ByName("symbol"), req.Timestamp); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resumeMarket(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req callerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := uuid.Parse(req.CallerID)
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	if err := s.engine.ResumeMarket(r.Context(), caller, ps.ByName("symbol"), req.Timestamp); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updateParams(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req updateParamsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := uuid.Parse(req.CallerID)
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	upd := state.ParamUpdate{
		MaintenanceMarginRatio: req.MaintenanceMarginRatio,
		InitialMarginRatio:     req.InitialMarginRatio,
		FundingInterval:        req.FundingInterval,
		MaxLeverage:            req.MaxLeverage,
		LiquidationFeeRatio:    req.LiquidationFeeRatio,
	}
	if err := s.engine.UpdateMarketParams(r.Context(), caller, ps.ByName("symbol"), upd, req.Timestamp); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updateFundingRate(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req fundingRateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := uuid.Parse(req.CallerID)
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	if err := s.engine.UpdateFundingRate(r.Context(), caller, ps.ByName("symbol"), req.Rate, req.Timestamp); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) settleFunding(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req settleFundingRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.engine.SettleFunding(r.Context(), ps.ByName("symbol"), req.Timestamp)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"market":          res.Market,
		"rate":            res.Rate,
		"intervals":       res.Intervals,
		"net_distributed": res.NetDistributed,
		"positions":       res.Positions,
	})
}

func (s *Server) listOpenPositions(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	positions, err := s.store.ListOpenPositions(r.Context(), ps.ByName("symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]positionResponse, len(positions))
	for i, p := range positions {
		out[i] = toPositionResponse(p)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) listActiveOrders(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	orders, err := s.store.ListActiveOrders(r.Context(), ps.ByName("symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]orderResponse, len(orders))
	for i, o := range orders {
		out[i] = toOrderResponse(o)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createAccountRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	owner, err := uuid.Parse(req.Owner)
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	marginType, err := parseMarginType(req.MarginType)
	if err != nil {
		s.writeError(w, err)
		return
	}
	a, err := s.engine.CreateMarginAccount(r.Context(), owner, marginType, req.Timestamp)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toAccountResponse(a))
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	owner, err := uuid.Parse(ps.ByName("owner"))
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	a, err := s.store.GetAccount(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toAccountResponse(a))
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	owner, err := uuid.Parse(ps.ByName("owner"))
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	var req transferRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Deposit(r.Context(), owner, req.Amount, req.Timestamp); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	owner, err := uuid.Parse(ps.ByName("owner"))
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	var req transferRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Withdraw(r.Context(), owner, req.Amount, req.Timestamp); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) openPosition(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req openPositionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	owner, err := uuid.Parse(req.CallerID)
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		s.writeError(w, err)
		return
	}
	pos, err := s.engine.OpenPosition(r.Context(), owner, req.Market, side, req.Size, req.Leverage, req.Timestamp)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toPositionResponse(pos))
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := uuid.Parse(ps.ByName("id"))
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	pos, err := s.store.GetPosition(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

func (s *Server) closePosition(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := uuid.Parse(ps.ByName("id"))
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	var req callerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := uuid.Parse(req.CallerID)
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	pnl, err := s.engine.ClosePosition(r.Context(), caller, id, req.Timestamp)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"realized_pnl": pnl})
}

func (s *Server) adjustMargin(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := uuid.Parse(ps.ByName("id"))
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	var req adjustMarginRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := uuid.Parse(req.CallerID)
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	if err := s.engine.AdjustMargin(r.Context(), caller, id, req.Delta, req.Timestamp); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := uuid.Parse(ps.ByName("id"))
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	var req callerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	liquidator, err := uuid.Parse(req.CallerID)
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	res, err := s.engine.Liquidate(r.Context(), liquidator, id, req.Timestamp)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"position_id":    res.PositionID.String(),
		"mark_price":     res.MarkPrice,
		"loss":           res.Loss,
		"liquidator_fee": res.LiquidatorFee,
		"insurance_fee":  res.InsuranceFee,
	})
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req placeOrderRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	owner, err := uuid.Parse(req.CallerID)
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		s.writeError(w, err)
		return
	}
	switch req.OrderType {
	case "market":
		order, pos, err := s.engine.PlaceMarketOrder(r.Context(), owner, req.Market, side, req.Size, req.Leverage, req.Timestamp)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, map[string]any{
			"order":    toOrderResponse(order),
			"position": toPositionResponse(pos),
		})
	case "limit":
		order, err := s.engine.PlaceLimitOrder(r.Context(), owner, req.Market, side, req.Size, req.LimitPrice, req.Leverage, req.Timestamp)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, toOrderResponse(order))
	default:
		s.writeError(w, state.ErrInvalidParameter)
	}
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := uuid.Parse(ps.ByName("id"))
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	order, err := s.store.GetOrder(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (s *Server) executeOrder(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := uuid.Parse(ps.ByName("id"))
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	var req callerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	pos, err := s.engine.ExecuteLimitOrder(r.Context(), id, req.Timestamp)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := uuid.Parse(ps.ByName("id"))
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	var req callerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := uuid.Parse(req.CallerID)
	if err != nil {
		s.writeError(w, state.ErrInvalidParameter)
		return
	}
	if err := s.engine.CancelOrder(r.Context(), caller, id, req.Timestamp); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errBadBody
	}
	return nil
}

var errBadBody = errors.New("malformed request body")

func parseSide(s string) (state.Side, error) {
	switch s {
	case "long":
		return state.SideLong, nil
	case "short":
		return state.SideShort, nil
	default:
		return 0, state.ErrInvalidParameter
	}
}

func parseMarginType(s string) (state.MarginType, error) {
	switch s {
	case "isolated":
		return state.MarginTypeIsolated, nil
	case "cross":
		return state.MarginTypeCross, nil
	default:
		return 0, state.ErrInvalidParameter
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrMarketNotFound),
		errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrPositionNotFound),
		errors.Is(err, store.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, state.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, state.ErrMarketInactive),
		errors.Is(err, state.ErrMarketAlreadyPaused),
		errors.Is(err, state.ErrMarketAlreadyActive),
		errors.Is(err, state.ErrPositionClosed),
		errors.Is(err, state.ErrOrderNotActive),
		errors.Is(err, state.ErrOrderNotTriggered),
		errors.Is(err, state.ErrPositionNotLiquidatable):
		return http.StatusConflict
	case errors.Is(err, state.ErrInsufficientMargin),
		errors.Is(err, state.ErrInsufficientCollateral),
		errors.Is(err, state.ErrWithdrawalExceedsAvailableMargin),
		errors.Is(err, state.ErrWithdrawalBelowRequiredMargin),
		errors.Is(err, state.ErrTradeTooLarge),
		errors.Is(err, state.ErrTooManyPositions),
		errors.Is(err, state.ErrTooManyOrders):
		return http.StatusUnprocessableEntity
	case errors.Is(err, oracle.ErrStaleOraclePrice),
		errors.Is(err, oracle.ErrPriceConfidenceTooLow):
		return http.StatusServiceUnavailable
	case errors.Is(err, errBadBody),
		errors.Is(err, oracle.ErrInvalidOraclePrice),
		errors.Is(err, state.ErrInvalidParameter),
		errors.Is(err, state.ErrInvalidMarketSymbol),
		errors.Is(err, state.ErrInvalidFundingInterval),
		errors.Is(err, state.ErrInvalidMarginRatio),
		errors.Is(err, state.ErrInvalidLeverage),
		errors.Is(err, state.ErrLeverageTooHigh),
		errors.Is(err, state.ErrInvalidOrderSize),
		errors.Is(err, state.ErrInvalidOrderPrice),
		errors.Is(err, state.ErrDepositTooSmall),
		errors.Is(err, state.ErrWithdrawalTooSmall):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
