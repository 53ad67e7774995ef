// Package processor applies vault instructions atomically: validate, verify
// addresses, compute, stage record mutations and fund movements, commit all
// or nothing, emit events on the hash chain.
package processor

import (
	"fmt"

	"MarginVault/internal/vault"
)

// Tag identifies an instruction kind on the wire. Values are part of the
// serialized format and never reordered.
type Tag uint8

const (
	TagInitializeVault       Tag = 0
	TagLockMargin            Tag = 1
	TagUnlockMargin          Tag = 2
	TagLiquidate             Tag = 3
	TagPartialCloseForHedge  Tag = 4
	TagCreateReentryPosition Tag = 5
	TagExecuteTpSl           Tag = 6
	TagUpdatePosition        Tag = 7
	TagWithdrawInsuranceFund Tag = 8
)

func (t Tag) String() string {
	switch t {
	case TagInitializeVault:
		return "initialize_vault"
	case TagLockMargin:
		return "lock_margin"
	case TagUnlockMargin:
		return "unlock_margin"
	case TagLiquidate:
		return "liquidate"
	case TagPartialCloseForHedge:
		return "partial_close_for_hedge"
	case TagCreateReentryPosition:
		return "create_reentry_position"
	case TagExecuteTpSl:
		return "execute_tp_sl"
	case TagUpdatePosition:
		return "update_position"
	case TagWithdrawInsuranceFund:
		return "withdraw_insurance_fund"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// Instruction is the tagged union of vault operations.
type Instruction interface {
	Tag() Tag
}

// InitializeVault creates the singleton vault ledger with the signer as admin.
type InitializeVault struct{}

func (InitializeVault) Tag() Tag { return TagInitializeVault }

// LockMargin opens a position, or merges into the signer's existing position
// on the same (account id, market) with a volume-weighted entry price.
type LockMargin struct {
	AccountID  string
	Market     string
	Side       vault.Side
	Size       int64
	EntryPrice int64
	Leverage   uint32
	MarginMode vault.MarginMode
}

func (LockMargin) Tag() Tag { return TagLockMargin }

// UnlockMargin closes part or all of the signer's position at an exit price,
// releasing collateral pro rata and settling PnL.
type UnlockMargin struct {
	AccountID string
	Market    string
	CloseSize int64
	ExitPrice int64
}

func (UnlockMargin) Tag() Tag { return TagUnlockMargin }

// Liquidate force-closes an undercollateralized position owned by the wallet
// named in the request. Any signer may liquidate; eligibility is recomputed
// at the supplied price.
type Liquidate struct {
	AccountID string
	Market    string
	Price     int64
}

func (Liquidate) Tag() Tag { return TagLiquidate }

// PartialCloseForHedge is reserved for the hedge workflow. Accepted, no effect.
type PartialCloseForHedge struct {
	AccountID    string
	Market       string
	CloseRatioBP uint32
	ExitPrice    int64
}

func (PartialCloseForHedge) Tag() Tag { return TagPartialCloseForHedge }

// CreateReentryPosition is reserved for the hedge workflow. Accepted, no effect.
type CreateReentryPosition struct {
	AccountID  string
	Market     string
	Size       int64
	EntryPrice int64
	Leverage   uint32
}

func (CreateReentryPosition) Tag() Tag { return TagCreateReentryPosition }

// ExecuteTpSl is reserved for take-profit/stop-loss automation. Accepted, no effect.
type ExecuteTpSl struct {
	AccountID string
	Market    string
	Price     int64
}

func (ExecuteTpSl) Tag() Tag { return TagExecuteTpSl }

// UpdatePosition re-marks a position at a new mark price. Admin only.
type UpdatePosition struct {
	AccountID string
	Market    string
	MarkPrice int64
}

func (UpdatePosition) Tag() Tag { return TagUpdatePosition }

// WithdrawInsuranceFund draws down the insurance fund to the admin's custody
// account. Admin only.
type WithdrawInsuranceFund struct {
	Amount int64
}

func (WithdrawInsuranceFund) Tag() Tag { return TagWithdrawInsuranceFund }
