package service

import (
	"errors"

	"Launchpad/internal/factory"
	"Launchpad/internal/ledger"
	"Launchpad/internal/token"
)

var (
	ErrNoIssuer        = errors.New("no voucher authority configured")
	ErrClockFixed      = errors.New("clock is not adjustable")
	ErrNotInitialized  = errors.New("genesis has not run")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthenticated = errors.New("request is not authenticated")
)

// otherCodes covers the errors ledger.ErrorCode does not know.
var otherCodes = []struct {
	err  error
	code string
}{
	{token.ErrTokenNotFound, "TokenNotFound"},
	{token.ErrTokenExists, "TokenExists"},
	{token.ErrInsufficientBalance, "InsufficientBalance"},
	{token.ErrInsufficientAllowance, "InsufficientAllowance"},
	{token.ErrInvalidReceiver, "InvalidReceiver"},
	{token.ErrInvalidAmount, "InvalidAmount"},
	{factory.ErrInvalidTokenAddress, "InvalidTokenAddress"},
	{factory.ErrInvalidSignerAddress, "InvalidSignerAddress"},
	{factory.ErrInvalidSellerPrice, "InvalidSellerPrice"},
	{factory.ErrInvalidPaymentToken, "InvalidPaymentToken"},
	{factory.ErrFactoryNotFound, "FactoryNotFound"},
	{factory.ErrFactoryExists, "FactoryExists"},
	{ErrNoIssuer, "NoIssuer"},
	{ErrClockFixed, "ClockFixed"},
	{ErrNotInitialized, "NotInitialized"},
	{ErrInvalidArgument, "InvalidArgument"},
	{ErrUnauthenticated, "Unauthenticated"},
}

// ErrorCode returns the stable kind of a domain error, or "" for internal failures.
func ErrorCode(err error) string {
	if code := ledger.ErrorCode(err); code != "" {
		return code
	}

	for _, c := range otherCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}

	return ""
}
