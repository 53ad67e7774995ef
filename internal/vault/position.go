package vault

import (
	fpmath "MarginVault/internal/math"
)

// InitialMarginRatioBP is the ratio a fresh position opens at: equity equals
// the locked initial margin, which is twice the maintenance margin.
const InitialMarginRatioBP = 20_000

// Position is one leveraged position's escrow record, keyed by
// (wallet, account id, market).
type Position struct {
	Wallet            Wallet
	AccountID         string
	Market            string
	Side              Side
	Size              int64
	EntryPrice        int64
	MarkPrice         int64
	Leverage          uint32
	MarginMode        MarginMode
	LockedCollateral  int64
	MaintenanceMargin int64
	UnrealizedPnL     int64
	RealizedPnL       int64
	LiquidationPrice  int64
	MarginRatioBP     int64
	Status            LiquidationStatus
	TakeProfitPrice   int64
	StopLossPrice     int64
	OpenedAt          int64
	UpdatedAt         int64
}

// Equity is locked collateral plus unrealized PnL, the numerator of the
// margin ratio.
func (p *Position) Equity() (int64, error) {
	return fpmath.SafeAdd(p.LockedCollateral, p.UnrealizedPnL)
}

// UpdatePnL re-marks the position at markPrice: recomputes unrealized PnL,
// margin ratio, and the liquidation status band. The status is monotone in
// the ratio; a falling ratio never improves the band.
func (p *Position) UpdatePnL(markPrice, now int64) error {
	upnl, err := fpmath.UnrealizedPnL(p.Side.IsLong(), p.EntryPrice, markPrice, p.Size)
	if err != nil {
		return err
	}
	equity, err := fpmath.SafeAdd(p.LockedCollateral, upnl)
	if err != nil {
		return err
	}
	p.MarkPrice = markPrice
	p.UnrealizedPnL = upnl
	p.MarginRatioBP = fpmath.MarginRatioBP(equity, p.MaintenanceMargin)
	p.Status = StatusForRatio(p.MarginRatioBP)
	p.UpdatedAt = now
	return nil
}

// IsLiquidatable reports whether the last computed margin ratio is strictly
// below 100%.
func (p *Position) IsLiquidatable() bool {
	return fpmath.IsLiquidatable(p.MarginRatioBP)
}
