package event

import "MarginVault/internal/vault"

// VaultInitialized is emitted once when the vault ledger is created.
type VaultInitialized struct {
	Admin vault.Wallet `json:"admin"`
}

// PositionOpened is emitted for a new position or a merge into an existing
// one. Fields reflect the post-instruction record.
type PositionOpened struct {
	Wallet           vault.Wallet `json:"wallet"`
	AccountID        string       `json:"account_id"`
	Market           string       `json:"market"`
	Side             string       `json:"side"`
	Size             int64        `json:"size"`
	EntryPrice       int64        `json:"entry_price"`
	Leverage         uint32       `json:"leverage"`
	MarginMode       string       `json:"margin_mode"`
	LockedAdded      int64        `json:"locked_added"`
	LockedCollateral int64        `json:"locked_collateral"`
	LiquidationPrice int64        `json:"liquidation_price"`
	Merged           bool         `json:"merged"`
}

// PositionClosed is emitted on partial or full close.
type PositionClosed struct {
	Wallet         vault.Wallet `json:"wallet"`
	AccountID      string       `json:"account_id"`
	Market         string       `json:"market"`
	CloseSize      int64        `json:"close_size"`
	ExitPrice      int64        `json:"exit_price"`
	RealizedPnL    int64        `json:"realized_pnl"`
	Released       int64        `json:"released"`
	ReturnedToUser int64        `json:"returned_to_user"`
	LossAbsorbed   int64        `json:"loss_absorbed"`
	RemainingSize  int64        `json:"remaining_size"`
	FullyClosed    bool         `json:"fully_closed"`
}

// PositionLiquidated is emitted when a position is force-closed.
type PositionLiquidated struct {
	Wallet           vault.Wallet `json:"wallet"`
	AccountID        string       `json:"account_id"`
	Market           string       `json:"market"`
	Liquidator       vault.Wallet `json:"liquidator"`
	LiquidationPrice int64        `json:"liquidation_price"`
	MarginRatioBP    int64        `json:"margin_ratio_bp"`
	Locked           int64        `json:"locked"`
	LiquidatorFee    int64        `json:"liquidator_fee"`
	TreasuryFee      int64        `json:"treasury_fee"`
	UserReturn       int64        `json:"user_return"`
	InsuranceFund    int64        `json:"insurance_fund"`
}

// PositionMarked is emitted when the price relayer re-marks a position.
type PositionMarked struct {
	Wallet        vault.Wallet `json:"wallet"`
	AccountID     string       `json:"account_id"`
	Market        string       `json:"market"`
	MarkPrice     int64        `json:"mark_price"`
	UnrealizedPnL int64        `json:"unrealized_pnl"`
	MarginRatioBP int64        `json:"margin_ratio_bp"`
	Status        string       `json:"status"`
}

// InsuranceWithdrawn is emitted when the admin draws down the insurance fund.
type InsuranceWithdrawn struct {
	Admin     vault.Wallet `json:"admin"`
	Amount    int64        `json:"amount"`
	Remaining int64        `json:"remaining"`
}
