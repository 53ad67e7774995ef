// Package vault defines the persisted records of the margin escrow ledger:
// the singleton VaultLedger and per-position records, their enums, and the
// versioned binary codec used to store them.
package vault

import (
	"encoding/hex"
	"fmt"
)

// Wallet identifies a fund owner. Serialized as 64-char hex in JSON and logs.
type Wallet [32]byte

func (w Wallet) String() string {
	return hex.EncodeToString(w[:])
}

func (w Wallet) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

func (w *Wallet) UnmarshalText(b []byte) error {
	d, err := hex.DecodeString(string(b))
	if err != nil {
		return fmt.Errorf("wallet: %w", err)
	}
	if len(d) != len(w) {
		return fmt.Errorf("wallet: want %d bytes, got %d", len(w), len(d))
	}
	copy(w[:], d)
	return nil
}

// IsZero reports whether the wallet is unset.
func (w Wallet) IsZero() bool {
	return w == Wallet{}
}

// Side is the position direction.
type Side uint8

const (
	SideLong Side = iota
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// IsLong reports the direction used by the PnL sign convention.
func (s Side) IsLong() bool { return s == SideLong }

// ParseSide maps the wire strings "long"/"short".
func ParseSide(s string) (Side, error) {
	switch s {
	case "long":
		return SideLong, nil
	case "short":
		return SideShort, nil
	default:
		return 0, fmt.Errorf("%w: side %q", ErrInvalidInstruction, s)
	}
}

// MarginMode selects cross or isolated margining. Carried on the record;
// margin accounting treats both identically today.
type MarginMode uint8

const (
	MarginCross MarginMode = iota
	MarginIsolated
)

func (m MarginMode) String() string {
	switch m {
	case MarginCross:
		return "cross"
	case MarginIsolated:
		return "isolated"
	default:
		return fmt.Sprintf("margin_mode(%d)", uint8(m))
	}
}

// ParseMarginMode maps the wire strings "cross"/"isolated".
func ParseMarginMode(s string) (MarginMode, error) {
	switch s {
	case "cross":
		return MarginCross, nil
	case "isolated":
		return MarginIsolated, nil
	default:
		return 0, fmt.Errorf("%w: margin mode %q", ErrInvalidInstruction, s)
	}
}

// LiquidationStatus is the coarse health band derived from the margin ratio.
type LiquidationStatus uint8

const (
	StatusNormal LiquidationStatus = iota
	StatusWarning
	StatusHedgeTrigger
	StatusLiquidatable
)

func (s LiquidationStatus) String() string {
	switch s {
	case StatusNormal:
		return "normal"
	case StatusWarning:
		return "warning"
	case StatusHedgeTrigger:
		return "hedge_trigger"
	case StatusLiquidatable:
		return "liquidatable"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Margin ratio bands in basis points. Bands are half-open and monotone:
// a lower ratio never maps to a healthier status.
const (
	NormalThresholdBP  = 15_000
	WarningThresholdBP = 11_000
	HedgeThresholdBP   = 10_000
)

// StatusForRatio maps a margin ratio in basis points onto its health band.
func StatusForRatio(ratioBP int64) LiquidationStatus {
	switch {
	case ratioBP >= NormalThresholdBP:
		return StatusNormal
	case ratioBP >= WarningThresholdBP:
		return StatusWarning
	case ratioBP >= HedgeThresholdBP:
		return StatusHedgeTrigger
	default:
		return StatusLiquidatable
	}
}

// Markets the vault accepts positions in.
var allowedMarkets = map[string]bool{
	"BTC-PERP": true,
	"ETH-PERP": true,
	"SOL-PERP": true,
}

// ValidMarket reports whether market is on the allow-list.
func ValidMarket(market string) bool {
	return allowedMarkets[market]
}

// Bounds on instruction fields.
const (
	MaxAccountIDLen = 64
	MaxMarketLen    = 32
	MinLeverage     = 1
	MaxLeverage     = 100
)

// ValidAccountID checks the 1..64 byte bound.
func ValidAccountID(id string) bool {
	return len(id) >= 1 && len(id) <= MaxAccountIDLen
}
