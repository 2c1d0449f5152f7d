package ledger

import (
	"errors"

	"Launchpad/internal/voucher"
)

var (
	ErrUnauthorized              = errors.New("caller is not the owner")
	ErrLaunchpadFinalized        = errors.New("launchpad is finalized")
	ErrClaimExpired              = errors.New("claim deadline has passed")
	ErrInvalidSignature          = voucher.ErrInvalidSignature
	ErrAlreadyClaimed            = errors.New("round already claimed")
	ErrAlreadyFinalized          = errors.New("launchpad already finalized")
	ErrWithdrawalNotYetAvailable = errors.New("withdrawal not yet available")
	ErrInvalidSigner             = errors.New("invalid signer address")
	ErrInvalidOwner              = errors.New("invalid owner address")
	ErrInvalidToken              = errors.New("invalid token address")
	ErrInvalidDomain             = errors.New("domain name and version are required")
	ErrLaunchpadNotFound         = errors.New("launchpad not found")
	ErrLaunchpadExists           = errors.New("launchpad already deployed")
	ErrSaleDisabled              = errors.New("launchpad does not sell tokens")
	ErrInvalidPurchase           = errors.New("purchase amount must be positive")
	ErrInvalidPrice              = errors.New("price must be positive when a payment token is set")
)

// codes maps each ledger error to its stable kind.
var codes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, "Unauthorized"},
	{ErrLaunchpadFinalized, "LaunchpadFinalized"},
	{ErrClaimExpired, "ClaimExpired"},
	{ErrInvalidSignature, "InvalidSignature"},
	{ErrAlreadyClaimed, "AlreadyClaimed"},
	{ErrAlreadyFinalized, "AlreadyFinalized"},
	{ErrWithdrawalNotYetAvailable, "WithdrawalNotYetAvailable"},
	{ErrInvalidSigner, "InvalidSigner"},
	{ErrInvalidOwner, "InvalidOwner"},
	{ErrInvalidToken, "InvalidToken"},
	{ErrInvalidDomain, "InvalidDomain"},
	{ErrLaunchpadNotFound, "LaunchpadNotFound"},
	{ErrLaunchpadExists, "LaunchpadExists"},
	{ErrSaleDisabled, "SaleDisabled"},
	{ErrInvalidPurchase, "InvalidPurchase"},
	{ErrInvalidPrice, "InvalidPrice"},
}

// ErrorCode returns the kind of a ledger error, or "" if err is not one.
func ErrorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}

	return ""
}
