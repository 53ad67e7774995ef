package vault

import "errors"

// Domain error taxonomy. The processor maps every rejection onto one of these
// sentinels (possibly wrapped with context) so callers can branch with
// errors.Is.
var (
	ErrInvalidInstruction   = errors.New("invalid instruction")
	ErrInvalidVaultAccount  = errors.New("invalid vault account")
	ErrInvalidPositionKey   = errors.New("invalid position account")
	ErrInvalidAuthority     = errors.New("invalid authority")
	ErrAccountAlreadyExists = errors.New("account already exists")
	ErrAccountNotFound      = errors.New("account not found")
	ErrInvalidRecord        = errors.New("invalid record data")
	ErrInvalidMarket        = errors.New("invalid market")
	ErrInvalidSize          = errors.New("invalid size")
	ErrInvalidPrice         = errors.New("invalid price")
	ErrInvalidLeverage      = errors.New("invalid leverage")
	ErrInvalidAccountID     = errors.New("invalid account id")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrNotLiquidatable      = errors.New("position not liquidatable")
	ErrConservationBreach   = errors.New("locked collateral conservation breach")
)
