// Package persistence records every applied instruction, its journals, and
// its events into Postgres, and checkpoints full vault state as snapshots.
// The database is an audit trail and recovery source; the in-memory state is
// authoritative during operation.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// InstructionRow is one applied instruction in the append-only log.
type InstructionRow struct {
	Sequence      int64
	InstructionID uuid.UUID
	Op            string
	Signer        string
	Market        string
	Payload       json.RawMessage
	StateHash     string
	PrevHash      string
	AppliedAt     time.Time
}

// EventRow is one emitted event.
type EventRow struct {
	Sequence  int64
	EventType string
	Market    string
	Payload   json.RawMessage
	StateHash string
	PrevHash  string
	Timestamp time.Time
}

// JournalRow is one committed fund movement.
type JournalRow struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	InstructionID uuid.UUID
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Amount        int64
	JournalType   string
	Timestamp     time.Time
}

// Entry bundles everything one instruction produced.
type Entry struct {
	Instruction InstructionRow
	Events      []EventRow
	Journals    []JournalRow
}

// Writer persists entries with multi-row inserts. Re-persisting after a
// crash is safe: conflicts on the primary keys are ignored.
type Writer struct {
	db *sql.DB
}

func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// WriteEntries persists a batch of entries in one transaction.
func (w *Writer) WriteEntries(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := w.insertInstructions(ctx, tx, entries); err != nil {
		return err
	}
	if err := w.insertEvents(ctx, tx, entries); err != nil {
		return err
	}
	if err := w.insertJournals(ctx, tx, entries); err != nil {
		return err
	}
	return tx.Commit()
}

func (w *Writer) insertInstructions(ctx context.Context, tx *sql.Tx, entries []Entry) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO margin_vault.instructions
		(sequence, instruction_id, op, signer, market, payload, state_hash, prev_hash, applied_at) VALUES `)
	args := make([]any, 0, len(entries)*9)
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(",")
		}
		base := i * 9
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)
		r := e.Instruction
		args = append(args, r.Sequence, r.InstructionID, r.Op, r.Signer, nullable(r.Market),
			[]byte(r.Payload), r.StateHash, r.PrevHash, r.AppliedAt)
	}
	sb.WriteString(" ON CONFLICT (sequence) DO NOTHING")
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert instructions: %w", err)
	}
	return nil
}

func (w *Writer) insertEvents(ctx context.Context, tx *sql.Tx, entries []Entry) error {
	var rows []EventRow
	for _, e := range entries {
		rows = append(rows, e.Events...)
	}
	if len(rows) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO margin_vault.events
		(sequence, event_type, market, payload, state_hash, prev_hash, emitted_at) VALUES `)
	args := make([]any, 0, len(rows)*7)
	for i, r := range rows {
		if i > 0 {
			sb.WriteString(",")
		}
		base := i * 7
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, r.Sequence, r.EventType, nullable(r.Market), []byte(r.Payload),
			r.StateHash, r.PrevHash, r.Timestamp)
	}
	sb.WriteString(" ON CONFLICT (sequence, event_type) DO NOTHING")
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

func (w *Writer) insertJournals(ctx context.Context, tx *sql.Tx, entries []Entry) error {
	var rows []JournalRow
	for _, e := range entries {
		rows = append(rows, e.Journals...)
	}
	if len(rows) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO margin_vault.journal
		(journal_id, batch_id, instruction_id, sequence, debit_account, credit_account, amount, journal_type, created_at) VALUES `)
	args := make([]any, 0, len(rows)*9)
	for i, r := range rows {
		if i > 0 {
			sb.WriteString(",")
		}
		base := i * 9
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)
		args = append(args, r.JournalID, r.BatchID, r.InstructionID, r.Sequence,
			r.DebitAccount, r.CreditAccount, r.Amount, r.JournalType, r.Timestamp)
	}
	sb.WriteString(" ON CONFLICT (journal_id) DO NOTHING")
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert journals: %w", err)
	}
	return nil
}

// MaxSequence returns the highest persisted instruction sequence, 0 if none.
func (w *Writer) MaxSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM margin_vault.instructions`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max sequence: %w", err)
	}
	return seq.Int64, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
