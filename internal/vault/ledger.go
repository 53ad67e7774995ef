package vault

// VaultLedger is the singleton aggregate record for the vault: running escrow
// totals, the insurance fund and fee treasury balances, and lifetime
// counters. One instance exists per deployment at the derived vault address.
type VaultLedger struct {
	Admin                 Wallet
	TotalLockedCollateral int64
	TotalPositions        uint64
	InsuranceFund         int64
	FeeTreasury           int64
	CumulativeVolume      int64
	CumulativeFees        int64
	CumulativeRealizedPnL int64
	TotalTrades           uint64
	TotalLiquidations     uint64
	CreatedAt             int64
	UpdatedAt             int64
}

// NewVaultLedger returns the initial vault state with admin as the sole
// authority for price marking and insurance withdrawals.
func NewVaultLedger(admin Wallet, now int64) *VaultLedger {
	return &VaultLedger{
		Admin:     admin,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
