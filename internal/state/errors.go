package state

import "errors"

// Domain error taxonomy. Input-validation, state/authorization, and
// economic rejections are all terminal for the request: no partial state
// change is ever committed once one of these surfaces.
var (
	ErrUnauthorized            = errors.New("operation not authorized")
	ErrMarketInactive          = errors.New("market is currently inactive")
	ErrMarketAlreadyPaused     = errors.New("market is already paused")
	ErrMarketAlreadyActive     = errors.New("market is already active")
	ErrPositionClosed          = errors.New("position is already closed")
	ErrPositionNotLiquidatable = errors.New("position does not meet liquidation criteria")
	ErrInvalidOrderSize        = errors.New("order size is invalid")
	ErrInvalidOrderPrice       = errors.New("order price is invalid")
	ErrLeverageTooHigh         = errors.New("leverage exceeds maximum allowed")
	ErrInsufficientMargin      = errors.New("insufficient margin provided")
	ErrInsufficientCollateral  = errors.New("insufficient collateral for this operation")
	ErrInvalidParameter        = errors.New("invalid parameter supplied")
	ErrOrderNotActive          = errors.New("order is not active")
	ErrOrderNotTriggered       = errors.New("order limit price not reached")
	ErrInvalidMarketSymbol     = errors.New("invalid market symbol")
	ErrInvalidFundingInterval  = errors.New("invalid funding interval")
	ErrInvalidMarginRatio      = errors.New("invalid margin ratio")
	ErrInvalidLeverage         = errors.New("invalid leverage value")
	ErrTradeTooLarge           = errors.New("trade size exceeds reserve depth limit")
	ErrInvalidAMMState         = errors.New("invalid AMM state: virtual reserves violated")
	ErrDepositTooSmall         = errors.New("deposit amount is too small")
	ErrWithdrawalTooSmall      = errors.New("withdrawal amount is too small")

	ErrWithdrawalExceedsAvailableMargin = errors.New("withdrawal exceeds available margin")
	ErrWithdrawalBelowRequiredMargin    = errors.New("withdrawal would drop collateral below required margin")

	ErrTooManyPositions = errors.New("margin account position list is full")
	ErrTooManyOrders    = errors.New("margin account order list is full")
	ErrDuplicateEntry   = errors.New("entry already present in margin account list")
)
