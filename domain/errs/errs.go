// Package errs defines the error kinds returned by the matching core. Every
// kind carries a stable code; collaborators translate codes, not messages.
package errs

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodePairDisabled              Code = "PAIR_DISABLED"
	CodeCurrencyDisabled          Code = "CURRENCY_DISABLED"
	CodeExchangeDisabled          Code = "EXCHANGE_DISABLED"
	CodeInvalidQuantity           Code = "INVALID_QUANTITY"
	CodeInvalidPrice              Code = "INVALID_PRICE"
	CodeInvalidStop               Code = "INVALID_STOP"
	CodeUnknownOrderKind          Code = "UNKNOWN_ORDER_KIND"
	CodeMinOrderSize              Code = "MIN_ORDER_SIZE"
	CodeMaxOrderCost              Code = "MAX_ORDER_COST"
	CodeInsufficientFunds         Code = "INSUFFICIENT_FUNDS"
	CodePriceDeviation            Code = "PRICE_DEVIATION"
	CodeOrderNotFound             Code = "ORDER_NOT_FOUND"
	CodeOrderNotOpen              Code = "ORDER_NOT_OPEN"
	CodeCannotCancelMarket        Code = "CANNOT_CANCEL_MARKET"
	CodeCannotUpdateOrder         Code = "CANNOT_UPDATE_ORDER"
	CodeOTCOrdersDisabled         Code = "OTC_ORDERS_DISABLED"
	CodeAutoOrdersDisabledForUser Code = "AUTO_ORDERS_DISABLED_FOR_USER"
	CodeReverted                  Code = "REVERTED"
	CodeTimeout                   Code = "TIMEOUT"
	CodeUnavailable               Code = "UNAVAILABLE"
	CodeInternal                  Code = "INTERNAL"
)

// Error is a structured core error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New returns an error of the given kind.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

var (
	ErrPairDisabled              = &Error{Code: CodePairDisabled, Message: "pair disabled"}
	ErrCurrencyDisabled          = &Error{Code: CodeCurrencyDisabled, Message: "currency disabled"}
	ErrExchangeDisabled          = &Error{Code: CodeExchangeDisabled, Message: "exchange disabled"}
	ErrInvalidQuantity           = &Error{Code: CodeInvalidQuantity, Message: "invalid quantity"}
	ErrInvalidPrice              = &Error{Code: CodeInvalidPrice, Message: "invalid price"}
	ErrInvalidStop               = &Error{Code: CodeInvalidStop, Message: "invalid stop"}
	ErrUnknownOrderKind          = &Error{Code: CodeUnknownOrderKind, Message: "unknown order kind"}
	ErrMinOrderSize              = &Error{Code: CodeMinOrderSize, Message: "order below minimum size"}
	ErrMaxOrderCost              = &Error{Code: CodeMaxOrderCost, Message: "order above maximum cost"}
	ErrInsufficientFunds         = &Error{Code: CodeInsufficientFunds, Message: "insufficient funds"}
	ErrPriceDeviation            = &Error{Code: CodePriceDeviation, Message: "price deviation"}
	ErrOrderNotFound             = &Error{Code: CodeOrderNotFound, Message: "order not found"}
	ErrOrderNotOpen              = &Error{Code: CodeOrderNotOpen, Message: "order not open"}
	ErrCannotCancelMarket        = &Error{Code: CodeCannotCancelMarket, Message: "market orders cannot be cancelled"}
	ErrCannotUpdateOrder         = &Error{Code: CodeCannotUpdateOrder, Message: "order cannot be updated"}
	ErrOTCOrdersDisabled         = &Error{Code: CodeOTCOrdersDisabled, Message: "otc orders disabled"}
	ErrAutoOrdersDisabledForUser = &Error{Code: CodeAutoOrdersDisabledForUser, Message: "auto orders disabled for user"}
	ErrReverted                  = &Error{Code: CodeReverted, Message: "revert failed"}
	ErrTimeout                   = &Error{Code: CodeTimeout, Message: "request timed out"}
	ErrUnavailable               = &Error{Code: CodeUnavailable, Message: "worker unavailable"}
)
