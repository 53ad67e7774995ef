// Package ledger implements the double-entry custody ledger behind the vault:
// typed account keys, journals, batches, a balance tracker, and the staged
// transfer plan that moves funds atomically with an instruction.
package ledger

import (
	"fmt"
)

// AccountScope partitions the chart of accounts.
type AccountScope uint8

const (
	// ScopeUser accounts hold funds owned by a wallet (custody).
	ScopeUser AccountScope = iota
	// ScopeSystem accounts hold vault-controlled funds (escrow, insurance, treasury).
	ScopeSystem
	// ScopeExternal accounts represent money entering or leaving the system.
	ScopeExternal
)

func (s AccountScope) String() string {
	switch s {
	case ScopeUser:
		return "user"
	case ScopeSystem:
		return "system"
	case ScopeExternal:
		return "external"
	default:
		return fmt.Sprintf("scope(%d)", uint8(s))
	}
}

// AccountSubType identifies the role of an account within its scope.
type AccountSubType uint8

const (
	SubTypeCustody AccountSubType = iota
	SubTypeEscrow
	SubTypeInsurance
	SubTypeTreasury
	SubTypeDeposits
)

func (s AccountSubType) String() string {
	switch s {
	case SubTypeCustody:
		return "custody"
	case SubTypeEscrow:
		return "escrow"
	case SubTypeInsurance:
		return "insurance"
	case SubTypeTreasury:
		return "treasury"
	case SubTypeDeposits:
		return "deposits"
	default:
		return fmt.Sprintf("subtype(%d)", uint8(s))
	}
}

// AssetID identifies the settlement asset. Collateral is USDC only.
type AssetID uint16

const AssetUSDC AssetID = 1

func (a AssetID) String() string {
	if a == AssetUSDC {
		return "USDC"
	}
	return fmt.Sprintf("asset(%d)", uint16(a))
}

// AccountKey uniquely identifies a ledger account.
type AccountKey struct {
	Scope    AccountScope
	EntityID [32]byte
	SubType  AccountSubType
	AssetID  AssetID
}

// AccountPath renders a stable human-readable path for logs and persistence.
func (k AccountKey) AccountPath() string {
	if k.Scope == ScopeUser {
		return fmt.Sprintf("user:%x:%s:%s", k.EntityID[:8], k.SubType, k.AssetID)
	}
	return fmt.Sprintf("%s:%s:%s", k.Scope, k.SubType, k.AssetID)
}

// CustodyAccount is the custody account of a wallet.
func CustodyAccount(wallet [32]byte) AccountKey {
	return AccountKey{Scope: ScopeUser, EntityID: wallet, SubType: SubTypeCustody, AssetID: AssetUSDC}
}

// EscrowAccount holds all locked position collateral.
func EscrowAccount() AccountKey {
	return AccountKey{Scope: ScopeSystem, SubType: SubTypeEscrow, AssetID: AssetUSDC}
}

// InsuranceAccount holds the insurance fund.
func InsuranceAccount() AccountKey {
	return AccountKey{Scope: ScopeSystem, SubType: SubTypeInsurance, AssetID: AssetUSDC}
}

// TreasuryAccount accumulates protocol fees.
func TreasuryAccount() AccountKey {
	return AccountKey{Scope: ScopeSystem, SubType: SubTypeTreasury, AssetID: AssetUSDC}
}

// DepositsAccount is the external contra account for funds entering custody.
func DepositsAccount() AccountKey {
	return AccountKey{Scope: ScopeExternal, SubType: SubTypeDeposits, AssetID: AssetUSDC}
}

// MayGoNegative reports whether the account is allowed to carry a negative
// balance. Only external contra accounts may; user and system accounts
// rejecting a transfer instead aborts the instruction.
func (k AccountKey) MayGoNegative() bool {
	return k.Scope == ScopeExternal
}
