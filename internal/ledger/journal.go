package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JournalType classifies the business meaning of a fund movement.
type JournalType uint8

const (
	JournalDeposit JournalType = iota
	JournalMarginLock
	JournalMarginRelease
	JournalLossAbsorption
	JournalLiquidatorFee
	JournalTreasuryFee
	JournalLiquidationReturn
	JournalInsuranceSweep
	JournalInsuranceWithdrawal
)

func (j JournalType) String() string {
	switch j {
	case JournalDeposit:
		return "deposit"
	case JournalMarginLock:
		return "margin_lock"
	case JournalMarginRelease:
		return "margin_release"
	case JournalLossAbsorption:
		return "loss_absorption"
	case JournalLiquidatorFee:
		return "liquidator_fee"
	case JournalTreasuryFee:
		return "treasury_fee"
	case JournalLiquidationReturn:
		return "liquidation_return"
	case JournalInsuranceSweep:
		return "insurance_sweep"
	case JournalInsuranceWithdrawal:
		return "insurance_withdrawal"
	default:
		return fmt.Sprintf("journal_type(%d)", uint8(j))
	}
}

// Journal is one double-entry movement: Amount flows from CreditAccount to
// DebitAccount. Amounts are always positive.
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	InstructionID uuid.UUID
	Sequence      int64
	DebitAccount  AccountKey
	CreditAccount AccountKey
	Amount        int64
	Type          JournalType
	Timestamp     time.Time
}

// Batch groups the journals of one instruction. The whole batch applies or
// none of it does.
type Batch struct {
	BatchID       uuid.UUID
	InstructionID uuid.UUID
	Sequence      int64
	Journals      []Journal
}

// Validate checks batch-level invariants before application.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s: no journals", b.BatchID)
	}
	for i, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("batch %s journal %d: non-positive amount %d", b.BatchID, i, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("batch %s journal %d: batch id mismatch %s", b.BatchID, i, j.BatchID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("batch %s journal %d: debit equals credit %s", b.BatchID, i, j.DebitAccount.AccountPath())
		}
		if j.DebitAccount.AssetID != j.CreditAccount.AssetID {
			return fmt.Errorf("batch %s journal %d: cross-asset movement", b.BatchID, i)
		}
	}
	return nil
}
