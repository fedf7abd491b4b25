package domain

import "errors"

// Code is a stable machine-readable failure code returned to clients.
type Code string

const (
	CodeInsufficientFunds      Code = "INSUFFICIENT_FUNDS"
	CodeOutOfStock             Code = "OUT_OF_STOCK"
	CodeDropUnavailable        Code = "DROP_UNAVAILABLE"
	CodeAntiHoardingLimit      Code = "ANTI_HOARDING_LIMIT"
	CodeIdempotentReplay       Code = "IDEMPOTENT_REPLAY"
	CodeNotEnoughItems         Code = "NOT_ENOUGH_ITEMS"
	CodeNoRecipe               Code = "NO_RECIPE"
	CodeOutputDisabled         Code = "OUTPUT_DISABLED"
	CodeSeasonNotEnded         Code = "SEASON_NOT_ENDED"
	CodeAlreadyRunning         Code = "ALREADY_RUNNING"
	CodeSeasonAlreadyFinalized Code = "SEASON_ALREADY_FINALIZED"
	CodeTypeNotFound           Code = "TYPE_NOT_FOUND"
	CodeInvalidInput           Code = "INVALID_INPUT"
	CodeUserNotFound           Code = "USER_NOT_FOUND"
	CodePayoutNotAvailable     Code = "PAYOUT_NOT_AVAILABLE"
)

// EconomyError is an expected business failure carrying a Code.
type EconomyError struct {
	Code    Code
	Message string
}

func (e *EconomyError) Error() string {
	return string(e.Code) + ": " + e.Message
}

var (
	ErrInsufficientFunds      = &EconomyError{CodeInsufficientFunds, "insufficient funds"}
	ErrOutOfStock             = &EconomyError{CodeOutOfStock, "item is out of stock"}
	ErrDropUnavailable        = &EconomyError{CodeDropUnavailable, "drop is not available"}
	ErrAntiHoardingLimit      = &EconomyError{CodeAntiHoardingLimit, "purchase limit reached"}
	ErrIdempotentReplay       = &EconomyError{CodeIdempotentReplay, "request with this idempotency key is still processing"}
	ErrNotEnoughItems         = &EconomyError{CodeNotEnoughItems, "not enough items"}
	ErrNoRecipe               = &EconomyError{CodeNoRecipe, "no recipe for this pair"}
	ErrOutputDisabled         = &EconomyError{CodeOutputDisabled, "recipe output is unavailable"}
	ErrSeasonNotEnded         = &EconomyError{CodeSeasonNotEnded, "season has not ended"}
	ErrAlreadyRunning         = &EconomyError{CodeAlreadyRunning, "finalize already running for this season"}
	ErrSeasonAlreadyFinalized = &EconomyError{CodeSeasonAlreadyFinalized, "season already finalized"}
	ErrTypeNotFound           = &EconomyError{CodeTypeNotFound, "item type not found"}
	ErrInvalidInput           = &EconomyError{CodeInvalidInput, "invalid input"}
	ErrUserNotFound           = &EconomyError{CodeUserNotFound, "user not found"}
	ErrPayoutNotAvailable     = &EconomyError{CodePayoutNotAvailable, "payout is not available"}
)

// CodeOf returns the Code carried by err, or "" for infrastructure errors.
func CodeOf(err error) Code {
	var e *EconomyError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
