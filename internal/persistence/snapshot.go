package persistence

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"MarginVault/internal/ledger"
	"MarginVault/internal/store"
)

// Snapshot is a full checkpoint of vault state at a sequence: every store
// record plus every ledger balance. Restoring a snapshot and replaying
// nothing reproduces the exact chain head.
type Snapshot struct {
	Sequence  int64
	StateHash [32]byte
	Records   map[store.Address][]byte
	Balances  map[ledger.AccountKey]int64
}

type recordJSON struct {
	Address string `json:"address"`
	Data    string `json:"data"`
}

type balanceJSON struct {
	Scope   uint8  `json:"scope"`
	Entity  string `json:"entity"`
	SubType uint8  `json:"sub_type"`
	Asset   uint16 `json:"asset"`
	Balance int64  `json:"balance"`
}

// SnapshotManager saves and loads checkpoints.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// Save persists a checkpoint.
func (m *SnapshotManager) Save(ctx context.Context, snap Snapshot) error {
	records := make([]recordJSON, 0, len(snap.Records))
	for addr, data := range snap.Records {
		records = append(records, recordJSON{
			Address: addr.String(),
			Data:    base64.StdEncoding.EncodeToString(data),
		})
	}
	balances := make([]balanceJSON, 0, len(snap.Balances))
	for key, bal := range snap.Balances {
		balances = append(balances, balanceJSON{
			Scope:   uint8(key.Scope),
			Entity:  hex.EncodeToString(key.EntityID[:]),
			SubType: uint8(key.SubType),
			Asset:   uint16(key.AssetID),
			Balance: bal,
		})
	}
	recordsData, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	balancesData, err := json.Marshal(balances)
	if err != nil {
		return fmt.Errorf("marshal balances: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO margin_vault.snapshots (sequence, state_hash, records, balances, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sequence) DO NOTHING`,
		snap.Sequence, hex.EncodeToString(snap.StateHash[:]), recordsData, balancesData, time.Now())
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LoadLatest returns the newest checkpoint, or nil if none exists.
func (m *SnapshotManager) LoadLatest(ctx context.Context) (*Snapshot, error) {
	var (
		seq          int64
		hashHex      string
		recordsData  []byte
		balancesData []byte
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash, records, balances
		FROM margin_vault.snapshots
		ORDER BY sequence DESC LIMIT 1`).
		Scan(&seq, &hashHex, &recordsData, &balancesData)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	snap := &Snapshot{
		Sequence: seq,
		Records:  make(map[store.Address][]byte),
		Balances: make(map[ledger.AccountKey]int64),
	}
	hashBytes, err := hex.DecodeString(hashHex)
	if err != nil || len(hashBytes) != 32 {
		return nil, fmt.Errorf("snapshot %d: malformed state hash %q", seq, hashHex)
	}
	copy(snap.StateHash[:], hashBytes)

	var records []recordJSON
	if err := json.Unmarshal(recordsData, &records); err != nil {
		return nil, fmt.Errorf("snapshot %d: records: %w", seq, err)
	}
	for _, r := range records {
		addr, ok := store.ParseAddress(r.Address)
		if !ok {
			return nil, fmt.Errorf("snapshot %d: malformed address %q", seq, r.Address)
		}
		data, err := base64.StdEncoding.DecodeString(r.Data)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: record %s: %w", seq, r.Address, err)
		}
		snap.Records[addr] = data
	}

	var balances []balanceJSON
	if err := json.Unmarshal(balancesData, &balances); err != nil {
		return nil, fmt.Errorf("snapshot %d: balances: %w", seq, err)
	}
	for _, b := range balances {
		key := ledger.AccountKey{
			Scope:   ledger.AccountScope(b.Scope),
			SubType: ledger.AccountSubType(b.SubType),
			AssetID: ledger.AssetID(b.Asset),
		}
		entity, err := hex.DecodeString(b.Entity)
		if err != nil || len(entity) != len(key.EntityID) {
			return nil, fmt.Errorf("snapshot %d: malformed entity %q", seq, b.Entity)
		}
		copy(key.EntityID[:], entity)
		snap.Balances[key] = b.Balance
	}
	return snap, nil
}

// CaptureRecords copies the whole store for a checkpoint.
func CaptureRecords(st store.Store) map[store.Address][]byte {
	out := make(map[store.Address][]byte)
	st.Range(func(addr store.Address, data []byte) bool {
		out[addr] = data
		return true
	})
	return out
}
