package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInsufficientBalance aborts a transfer whose source account would go
// negative. The processor maps it onto the domain's insufficient-funds error.
var ErrInsufficientBalance = errors.New("insufficient account balance")

// Transferer is the fund-movement collaborator used by the instruction
// processor. A returned error means no funds moved.
type Transferer interface {
	Move(from, to AccountKey, amount int64, jt JournalType) error
	Commit() error
	Discard()
}

// TransferPlan stages the fund movements of one instruction. Every Move is
// checked against the projected balance of its source account, so a plan
// that accepts all its moves is guaranteed to commit. Nothing reaches the
// tracker until Commit.
type TransferPlan struct {
	tracker   *BalanceTracker
	batch     *Batch
	projected map[AccountKey]int64
	now       time.Time
}

func NewTransferPlan(tracker *BalanceTracker, instructionID uuid.UUID, sequence int64, now time.Time) *TransferPlan {
	return &TransferPlan{
		tracker: tracker,
		batch: &Batch{
			BatchID:       uuid.New(),
			InstructionID: instructionID,
			Sequence:      sequence,
		},
		projected: make(map[AccountKey]int64),
		now:       now,
	}
}

func (p *TransferPlan) projectedBalance(key AccountKey) int64 {
	return p.tracker.GetBalance(key) + p.projected[key]
}

// Move stages amount flowing from -> to. Zero amounts are dropped silently;
// negative amounts and overdrafts fail the plan.
func (p *TransferPlan) Move(from, to AccountKey, amount int64, jt JournalType) error {
	if amount == 0 {
		return nil
	}
	if amount < 0 {
		return fmt.Errorf("transfer %s: negative amount %d", jt, amount)
	}
	if !from.MayGoNegative() && p.projectedBalance(from) < amount {
		return fmt.Errorf("%w: %s has %d, needs %d for %s",
			ErrInsufficientBalance, from.AccountPath(), p.projectedBalance(from), amount, jt)
	}
	p.batch.Journals = append(p.batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       p.batch.BatchID,
		InstructionID: p.batch.InstructionID,
		Sequence:      p.batch.Sequence,
		DebitAccount:  to,
		CreditAccount: from,
		Amount:        amount,
		Type:          jt,
		Timestamp:     p.now,
	})
	p.projected[to] += amount
	p.projected[from] -= amount
	return nil
}

// Commit validates and posts the staged batch. An empty plan commits as a
// no-op (instructions that move no funds).
func (p *TransferPlan) Commit() error {
	if len(p.batch.Journals) == 0 {
		return nil
	}
	if err := p.batch.Validate(); err != nil {
		return err
	}
	p.tracker.ApplyBatch(p.batch)
	return nil
}

// Discard drops the staged movements.
func (p *TransferPlan) Discard() {
	p.batch.Journals = nil
	p.projected = make(map[AccountKey]int64)
}

// Batch exposes the staged journals for persistence after commit.
func (p *TransferPlan) Batch() *Batch {
	return p.batch
}

// Deposit posts external funds into a wallet's custody account. Used at the
// service edge and in tests to seed balances.
func Deposit(tracker *BalanceTracker, wallet [32]byte, amount int64, now time.Time) Journal {
	j := Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  CustodyAccount(wallet),
		CreditAccount: DepositsAccount(),
		Amount:        amount,
		Type:          JournalDeposit,
		Timestamp:     now,
	}
	tracker.ApplyJournal(j)
	return j
}
