package model

import "errors"

// Ошибки валидации: возвращаются до любой записи.
var (
	ErrInvalidAmount = errors.New("bid amount outside allowed range")
	ErrInvalidBidder = errors.New("invalid bidder identity")
	ErrInvalidStatus = errors.New("invalid shipment status")
	ErrForbidden     = errors.New("operation not allowed for caller")
)

// Конфликты состояния.
var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicateBid           = errors.New("bidder already has a pending bid for this shipment")
	ErrBidNotPending          = errors.New("bid is not pending")
	ErrShipmentNotBiddable    = errors.New("shipment is not open for bids")
	ErrCarrierAlreadyAssigned = errors.New("carrier already assigned")
	ErrNotDeletable           = errors.New("bid cannot be deleted")
	ErrInvalidTransition      = errors.New("shipment status transition not allowed")
)

// Ошибки журнала кошелька.
var (
	ErrDuplicateReference  = errors.New("wallet transaction reference already exists")
	ErrStageAlreadySettled = errors.New("payment stage already settled")
	ErrInsufficientFunds   = errors.New("insufficient funds")
)
