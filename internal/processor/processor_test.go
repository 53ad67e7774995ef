package processor

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"MarginVault/internal/event"
	"MarginVault/internal/ledger"
	"MarginVault/internal/store"
	"MarginVault/internal/vault"
)

var (
	adminWallet      = vault.Wallet{0xAA}
	userWallet       = vault.Wallet{0x01}
	liquidatorWallet = vault.Wallet{0x02}
)

type fixture struct {
	store *store.MemStore
	funds *ledger.BalanceTracker
	proc  *Processor
	now   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemStore()
	funds := ledger.NewBalanceTracker()
	return &fixture{
		store: st,
		funds: funds,
		proc:  New(st, funds, zerolog.Nop()),
		now:   1_700_000_000,
	}
}

func (f *fixture) deposit(wallet vault.Wallet, amount int64) {
	ledger.Deposit(f.funds, wallet, amount, time.Unix(f.now, 0))
}

func (f *fixture) apply(t *testing.T, signer vault.Wallet, in Instruction) *Result {
	t.Helper()
	res, err := f.proc.Apply(f.request(signer, vault.Wallet{}, in))
	if err != nil {
		t.Fatalf("apply %s: %v", in.Tag(), err)
	}
	return res
}

func (f *fixture) request(signer, owner vault.Wallet, in Instruction) Request {
	f.now++
	return Request{
		Instruction:   in,
		InstructionID: uuid.New(),
		Signer:        signer,
		Owner:         owner,
		VaultAddress:  store.DeriveVaultAddress(),
		Timestamp:     f.now,
	}
}

func (f *fixture) initVault(t *testing.T) {
	t.Helper()
	f.apply(t, adminWallet, InitializeVault{})
}

func (f *fixture) loadVault(t *testing.T) *vault.VaultLedger {
	t.Helper()
	data, ok := f.store.Get(store.DeriveVaultAddress())
	if !ok {
		t.Fatal("vault record missing")
	}
	v, err := vault.DecodeVaultLedger(data)
	if err != nil {
		t.Fatalf("decode vault: %v", err)
	}
	return v
}

func (f *fixture) loadPosition(t *testing.T, owner vault.Wallet, accountID, market string) *vault.Position {
	t.Helper()
	data, ok := f.store.Get(store.DerivePositionAddress(owner, accountID, market))
	if !ok {
		t.Fatalf("position %s/%s missing", accountID, market)
	}
	p, err := vault.DecodePosition(data)
	if err != nil {
		t.Fatalf("decode position: %v", err)
	}
	return p
}

func (f *fixture) conserve(t *testing.T) {
	t.Helper()
	if err := f.proc.CheckConservation(); err != nil {
		t.Fatalf("conservation: %v", err)
	}
}

const (
	btcEntry = 101_885_000_000 // $101,885
	btcSize  = 1_000_000       // 1 BTC
)

var specLock = LockMargin{
	AccountID:  "acct-1",
	Market:     "BTC-PERP",
	Side:       vault.SideLong,
	Size:       btcSize,
	EntryPrice: btcEntry,
	Leverage:   20,
	MarginMode: vault.MarginCross,
}

func TestInitializeVault(t *testing.T) {
	f := newFixture(t)
	res := f.apply(t, adminWallet, InitializeVault{})
	if res.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", res.Sequence)
	}
	if len(res.Events) != 1 || res.Events[0].Type != event.TypeVaultInitialized {
		t.Fatalf("events = %+v", res.Events)
	}
	v := f.loadVault(t)
	if v.Admin != adminWallet {
		t.Errorf("admin = %v, want %v", v.Admin, adminWallet)
	}

	_, err := f.proc.Apply(f.request(adminWallet, vault.Wallet{}, InitializeVault{}))
	if !errors.Is(err, vault.ErrAccountAlreadyExists) {
		t.Errorf("second init: err = %v, want ErrAccountAlreadyExists", err)
	}
}

func TestLockMarginOpensPosition(t *testing.T) {
	f := newFixture(t)
	f.initVault(t)
	f.deposit(userWallet, 10_000_000_000)

	res := f.apply(t, userWallet, specLock)

	pos := f.loadPosition(t, userWallet, "acct-1", "BTC-PERP")
	if pos.LockedCollateral != 5_094_250_000 {
		t.Errorf("locked = %d, want 5094250000", pos.LockedCollateral)
	}
	if pos.MaintenanceMargin != 2_547_125_000 {
		t.Errorf("mm = %d, want 2547125000", pos.MaintenanceMargin)
	}
	if pos.MarginRatioBP != 20_000 {
		t.Errorf("ratio = %d, want 20000", pos.MarginRatioBP)
	}
	if pos.Status != vault.StatusNormal {
		t.Errorf("status = %v, want normal", pos.Status)
	}
	// long 20x: entry * 0.95
	if pos.LiquidationPrice != 96_790_750_000 {
		t.Errorf("liq price = %d, want 96790750000", pos.LiquidationPrice)
	}

	v := f.loadVault(t)
	if v.TotalLockedCollateral != 5_094_250_000 {
		t.Errorf("vault locked = %d, want 5094250000", v.TotalLockedCollateral)
	}
	if v.TotalPositions != 1 || v.TotalTrades != 1 {
		t.Errorf("positions/trades = %d/%d, want 1/1", v.TotalPositions, v.TotalTrades)
	}
	if v.CumulativeVolume != 101_885_000_000 {
		t.Errorf("volume = %d, want 101885000000", v.CumulativeVolume)
	}

	if got := f.funds.GetBalance(ledger.EscrowAccount()); got != 5_094_250_000 {
		t.Errorf("escrow = %d, want 5094250000", got)
	}
	if got := f.funds.GetBalance(ledger.CustodyAccount(userWallet)); got != 4_905_750_000 {
		t.Errorf("custody = %d, want 4905750000", got)
	}

	if len(res.Events) != 1 || res.Events[0].Type != event.TypePositionOpened {
		t.Fatalf("events = %+v", res.Events)
	}
	payload := res.Events[0].Payload.(event.PositionOpened)
	if payload.Merged || payload.LockedAdded != 5_094_250_000 {
		t.Errorf("payload = %+v", payload)
	}
	f.conserve(t)
}

func TestLockMarginInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.initVault(t)
	f.deposit(userWallet, 1_000_000) // far below the required margin

	before, _ := f.store.Get(store.DeriveVaultAddress())
	_, err := f.proc.Apply(f.request(userWallet, vault.Wallet{}, specLock))
	if !errors.Is(err, vault.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	after, _ := f.store.Get(store.DeriveVaultAddress())
	if string(before) != string(after) {
		t.Error("failed instruction must leave the vault record byte-identical")
	}
	if _, ok := f.store.Get(store.DerivePositionAddress(userWallet, "acct-1", "BTC-PERP")); ok {
		t.Error("failed lock must not create a position")
	}
	if got := f.funds.GetBalance(ledger.CustodyAccount(userWallet)); got != 1_000_000 {
		t.Errorf("custody = %d, want untouched 1000000", got)
	}
	if f.proc.Sequence() != 1 {
		t.Errorf("sequence = %d, want 1 (init only)", f.proc.Sequence())
	}
	f.conserve(t)
}

func TestLockMarginValidation(t *testing.T) {
	f := newFixture(t)
	f.initVault(t)
	f.deposit(userWallet, 10_000_000_000)

	cases := []struct {
		name string
		mut  func(in LockMargin) LockMargin
		want error
	}{
		{"bad market", func(in LockMargin) LockMargin { in.Market = "DOGE-PERP"; return in }, vault.ErrInvalidMarket},
		{"empty account", func(in LockMargin) LockMargin { in.AccountID = ""; return in }, vault.ErrInvalidAccountID},
		{"long account", func(in LockMargin) LockMargin { in.AccountID = string(make([]byte, 65)); return in }, vault.ErrInvalidAccountID},
		{"zero size", func(in LockMargin) LockMargin { in.Size = 0; return in }, vault.ErrInvalidSize},
		{"negative size", func(in LockMargin) LockMargin { in.Size = -1; return in }, vault.ErrInvalidSize},
		{"zero price", func(in LockMargin) LockMargin { in.EntryPrice = 0; return in }, vault.ErrInvalidPrice},
		{"zero leverage", func(in LockMargin) LockMargin { in.Leverage = 0; return in }, vault.ErrInvalidLeverage},
		{"excess leverage", func(in LockMargin) LockMargin { in.Leverage = 101; return in }, vault.ErrInvalidLeverage},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.proc.Apply(f.request(userWallet, vault.Wallet{}, tt.mut(specLock)))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLockMarginMerge(t *testing.T) {
	f := newFixture(t)
	f.initVault(t)
	f.deposit(userWallet, 100_000_000_000)

	first := specLock
	first.EntryPrice = 100_000_000_000
	f.apply(t, userWallet, first)

	second := specLock
	second.EntryPrice = 102_000_000_000
	res := f.apply(t, userWallet, second)

	pos := f.loadPosition(t, userWallet, "acct-1", "BTC-PERP")
	if pos.Size != 2_000_000 {
		t.Errorf("size = %d, want 2000000", pos.Size)
	}
	if pos.EntryPrice != 101_000_000_000 {
		t.Errorf("entry = %d, want weighted 101000000000", pos.EntryPrice)
	}
	// locked = 5,000 + 5,100
	if pos.LockedCollateral != 10_100_000_000 {
		t.Errorf("locked = %d, want 10100000000", pos.LockedCollateral)
	}
	// Trigger price recomputed from the merged entry.
	if pos.LiquidationPrice != 95_950_000_000 {
		t.Errorf("liq price = %d, want 95950000000", pos.LiquidationPrice)
	}

	v := f.loadVault(t)
	if v.TotalPositions != 1 {
		t.Errorf("positions = %d, want 1 (merge, not a second record)", v.TotalPositions)
	}
	if v.TotalTrades != 2 {
		t.Errorf("trades = %d, want 2", v.TotalTrades)
	}

	payload := res.Events[0].Payload.(event.PositionOpened)
	if !payload.Merged {
		t.Error("merge must be flagged in the event")
	}
	f.conserve(t)
}

func TestLockMarginSideConflict(t *testing.T) {
	f := newFixture(t)
	f.initVault(t)
	f.deposit(userWallet, 100_000_000_000)
	f.apply(t, userWallet, specLock)

	flipped := specLock
	flipped.Side = vault.SideShort
	_, err := f.proc.Apply(f.request(userWallet, vault.Wallet{}, flipped))
	if !errors.Is(err, vault.ErrInvalidSize) {
		t.Errorf("err = %v, want ErrInvalidSize", err)
	}
}

func TestUnlockMarginPartialProfit(t *testing.T) {
	f := newFixture(t)
	f.initVault(t)
	f.deposit(userWallet, 10_000_000_000)
	f.apply(t, userWallet, specLock)

	res := f.apply(t, userWallet, UnlockMargin{
		AccountID: "acct-1",
		Market:    "BTC-PERP",
		CloseSize: 500_000,
		ExitPrice: 102_500_000_000,
	})

	payload := res.Events[0].Payload.(event.PositionClosed)
	if payload.RealizedPnL != 307_500_000 {
		t.Errorf("pnl = %d, want 307500000", payload.RealizedPnL)
	}
	if payload.Released != 2_547_125_000 {
		t.Errorf("released = %d, want 2547125000", payload.Released)
	}
	if payload.ReturnedToUser != 2_854_625_000 {
		t.Errorf("returned = %d, want released+pnl 2854625000", payload.ReturnedToUser)
	}
	if payload.LossAbsorbed != 0 || payload.FullyClosed {
		t.Errorf("payload = %+v", payload)
	}

	pos := f.loadPosition(t, userWallet, "acct-1", "BTC-PERP")
	if pos.Size != 500_000 {
		t.Errorf("size = %d, want 500000", pos.Size)
	}
	if pos.LockedCollateral != 2_547_125_000 {
		t.Errorf("locked = %d, want 2547125000", pos.LockedCollateral)
	}
	if pos.MaintenanceMargin != 1_273_562_500 {
		t.Errorf("mm = %d, want 1273562500", pos.MaintenanceMargin)
	}
	if pos.RealizedPnL != 307_500_000 {
		t.Errorf("realized = %d, want 307500000", pos.RealizedPnL)
	}

	v := f.loadVault(t)
	if v.TotalLockedCollateral != 2_547_125_000 {
		t.Errorf("vault locked = %d, want 2547125000", v.TotalLockedCollateral)
	}
	if v.CumulativeRealizedPnL != 307_500_000 {
		t.Errorf("cumulative pnl = %d, want 307500000", v.CumulativeRealizedPnL)
	}
	f.conserve(t)
}

func TestUnlockMarginFullLossAbsorbed(t *testing.T) {
	f := newFixture(t)
	f.initVault(t)
	f.deposit(userWallet, 10_000_000_000)

	in := specLock
	in.EntryPrice = 100_000_000_000 // locked 5,000, liquidation price 95,000
	f.apply(t, userWallet, in)

	custodyBefore := f.funds.GetBalance(ledger.CustodyAccount(userWallet))

	res := f.apply(t, userWallet, UnlockMargin{
		AccountID: "acct-1",
		Market:    "BTC-PERP",
		CloseSize: btcSize,
		ExitPrice: 95_000_000_000, // pnl exactly -locked: equity zero
	})

	payload := res.Events[0].Payload.(event.PositionClosed)
	if payload.RealizedPnL != -5_000_000_000 {
		t.Errorf("pnl = %d, want -5000000000", payload.RealizedPnL)
	}
	if payload.ReturnedToUser != 0 {
		t.Errorf("returned = %d, want 0", payload.ReturnedToUser)
	}
	if payload.LossAbsorbed != 5_000_000_000 {
		t.Errorf("absorbed = %d, want 5000000000", payload.LossAbsorbed)
	}
	if !payload.FullyClosed {
		t.Error("close of the full size must be flagged")
	}

	// Record cleared, count decremented.
	if _, ok := f.store.Get(store.DerivePositionAddress(userWallet, "acct-1", "BTC-PERP")); ok {
		t.Error("fully closed position must be deleted")
	}
	v := f.loadVault(t)
	if v.TotalPositions != 0 || v.TotalLockedCollateral != 0 {
		t.Errorf("vault = positions %d locked %d, want 0/0", v.TotalPositions, v.TotalLockedCollateral)
	}
	if v.InsuranceFund != 5_000_000_000 {
		t.Errorf("insurance fund = %d, want absorbed 5000000000", v.InsuranceFund)
	}

	if got := f.funds.GetBalance(ledger.CustodyAccount(userWallet)); got != custodyBefore {
		t.Errorf("custody = %d, want unchanged %d", got, custodyBefore)
	}
	if got := f.funds.GetBalance(ledger.InsuranceAccount()); got != 5_000_000_000 {
		t.Errorf("insurance account = %d, want 5000000000", got)
	}
	if got := f.funds.GetBalance(ledger.EscrowAccount()); got != 0 {
		t.Errorf("escrow = %d, want drained 0", got)
	}
	f.conserve(t)
}

func TestUnlockMarginOversizedClose(t *testing.T) {
	f := newFixture(t)
	f.initVault(t)
	f.deposit(userWallet, 10_000_000_000)
	f.apply(t, userWallet, specLock)

	_, err := f.proc.Apply(f.request(userWallet, vault.Wallet{}, UnlockMargin{
		AccountID: "acct-1",
		Market:    "BTC-PERP",
		CloseSize: btcSize + 1,
		ExitPrice: btcEntry,
	}))
	if !errors.Is(err, vault.ErrInvalidSize) {
		t.Errorf("err = %v, want ErrInvalidSize", err)
	}
}

func TestLiquidateWaterfall(t *testing.T) {
	f := newFixture(t)
	f.initVault(t)
	f.deposit(userWallet, 10_000_000_000)

	in := specLock
	in.EntryPrice = 100_000_000_000 // locked 5,000, mm 2,500
	f.apply(t, userWallet, in)

	custodyBefore := f.funds.GetBalance(ledger.CustodyAccount(userWallet))

	// mark 97,400: upnl -2,600, equity 2,400, ratio 9600 -> eligible
	res, err := f.proc.Apply(f.request(liquidatorWallet, userWallet, Liquidate{
		AccountID: "acct-1",
		Market:    "BTC-PERP",
		Price:     97_400_000_000,
	}))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	payload := res.Events[0].Payload.(event.PositionLiquidated)
	if payload.LiquidatorFee != 12_500_000 || payload.TreasuryFee != 12_500_000 {
		t.Errorf("fees = %d/%d, want 12500000/12500000", payload.LiquidatorFee, payload.TreasuryFee)
	}
	if payload.UserReturn != 2_400_000_000 {
		t.Errorf("user return = %d, want equity 2400000000", payload.UserReturn)
	}
	if payload.InsuranceFund != 2_575_000_000 {
		t.Errorf("insurance = %d, want 2575000000", payload.InsuranceFund)
	}
	if payload.MarginRatioBP != 9_600 {
		t.Errorf("ratio = %d, want 9600", payload.MarginRatioBP)
	}

	if got := f.funds.GetBalance(ledger.CustodyAccount(liquidatorWallet)); got != 12_500_000 {
		t.Errorf("liquidator custody = %d, want 12500000", got)
	}
	if got := f.funds.GetBalance(ledger.TreasuryAccount()); got != 12_500_000 {
		t.Errorf("treasury = %d, want 12500000", got)
	}
	if got := f.funds.GetBalance(ledger.CustodyAccount(userWallet)); got != custodyBefore+2_400_000_000 {
		t.Errorf("owner custody = %d, want +2400000000", got)
	}
	if got := f.funds.GetBalance(ledger.InsuranceAccount()); got != 2_575_000_000 {
		t.Errorf("insurance account = %d, want 2575000000", got)
	}
	if got := f.funds.GetBalance(ledger.EscrowAccount()); got != 0 {
		t.Errorf("escrow = %d, want 0", got)
	}

	v := f.loadVault(t)
	if v.TotalPositions != 0 || v.TotalLockedCollateral != 0 {
		t.Errorf("vault positions/locked = %d/%d, want 0/0", v.TotalPositions, v.TotalLockedCollateral)
	}
	if v.TotalLiquidations != 1 || v.CumulativeFees != 25_000_000 {
		t.Errorf("liquidations/fees = %d/%d, want 1/25000000", v.TotalLiquidations, v.CumulativeFees)
	}
	if v.InsuranceFund != 2_575_000_000 || v.FeeTreasury != 12_500_000 {
		t.Errorf("insurance/treasury = %d/%d", v.InsuranceFund, v.FeeTreasury)
	}

	if _, ok := f.store.Get(store.DerivePositionAddress(userWallet, "acct-1", "BTC-PERP")); ok {
		t.Error("liquidated position must be deleted")
	}
	f.conserve(t)
}

func TestLiquidateBoundaryNotEligible(t *testing.T) {
	f := newFixture(t)
	f.initVault(t)
	f.deposit(userWallet, 10_000_000_000)

	in := specLock
	in.EntryPrice = 100_000_000_000
	f.apply(t, userWallet, in)

	// mark 97,500: equity exactly mm, ratio exactly 10000 -> not liquidatable
	_, err := f.proc.Apply(f.request(liquidatorWallet, userWallet, Liquidate{
		AccountID: "acct-1",
		Market:    "BTC-PERP",
		Price:     97_500_000_000,
	}))
	if !errors.Is(err, vault.ErrNotLiquidatable) {
		t.Fatalf("err = %v, want ErrNotLiquidatable", err)
	}

	// Nothing changed: record intact, no fee paid.
	pos := f.loadPosition(t, userWallet, "acct-1", "BTC-PERP")
	if pos.LockedCollateral != 5_000_000_000 {
		t.Errorf("locked = %d, want untouched 5000000000", pos.LockedCollateral)
	}
	if got := f.funds.GetBalance(ledger.CustodyAccount(liquidatorWallet)); got != 0 {
		t.Errorf("liquidator custody = %d, want 0", got)
	}
	f.conserve(t)
}

func TestLiquidateRequiresOwner(t *testing.T) {
	f := newFixture(t)
	f.initVault(t)
	_, err := f.proc.Apply(f.request(liquidatorWallet, vault.Wallet{}, Liquidate{
		AccountID: "acct-1", Market: "BTC-PERP", Price: 1,
	}))
	if !errors.Is(err, vault.ErrInvalidInstruction) {
		t.Errorf("err = %v, want ErrInvalidInstruction", err)
	}
}

func TestUpdatePositionAdminOnly(t *testing.T) {
	f := newFixture(t)
	f.initVault(t)
	f.deposit(userWallet, 10_000_000_000)

	in := specLock
	in.EntryPrice = 100_000_000_000
	f.apply(t, userWallet, in)

	_, err := f.proc.Apply(f.request(userWallet, userWallet, UpdatePosition{
		AccountID: "acct-1", Market: "BTC-PERP", MarkPrice: 99_000_000_000,
	}))
	if !errors.Is(err, vault.ErrInvalidAuthority) {
		t.Fatalf("non-admin err = %v, want ErrInvalidAuthority", err)
	}

	res, err := f.proc.Apply(f.request(adminWallet, userWallet, UpdatePosition{
		AccountID: "acct-1", Market: "BTC-PERP", MarkPrice: 97_700_000_000,
	}))
	if err != nil {
		t.Fatalf("admin mark: %v", err)
	}
	payload := res.Events[0].Payload.(event.PositionMarked)
	if payload.MarginRatioBP != 10_800 {
		t.Errorf("ratio = %d, want 10800", payload.MarginRatioBP)
	}
	if payload.Status != "hedge_trigger" {
		t.Errorf("status = %q, want hedge_trigger", payload.Status)
	}
	pos := f.loadPosition(t, userWallet, "acct-1", "BTC-PERP")
	if pos.MarkPrice != 97_700_000_000 || pos.Status != vault.StatusHedgeTrigger {
		t.Errorf("record = mark %d status %v", pos.MarkPrice, pos.Status)
	}
	f.conserve(t)
}

func TestWithdrawInsurance(t *testing.T) {
	f := newFixture(t)
	f.initVault(t)
	f.deposit(userWallet, 10_000_000_000)

	// Build up the insurance fund through a full-loss close.
	in := specLock
	in.EntryPrice = 100_000_000_000
	f.apply(t, userWallet, in)
	f.apply(t, userWallet, UnlockMargin{AccountID: "acct-1", Market: "BTC-PERP", CloseSize: btcSize, ExitPrice: 95_000_000_000})

	_, err := f.proc.Apply(f.request(userWallet, vault.Wallet{}, WithdrawInsuranceFund{Amount: 1}))
	if !errors.Is(err, vault.ErrInvalidAuthority) {
		t.Fatalf("non-admin err = %v, want ErrInvalidAuthority", err)
	}
	_, err = f.proc.Apply(f.request(adminWallet, vault.Wallet{}, WithdrawInsuranceFund{Amount: 5_000_000_001}))
	if !errors.Is(err, vault.ErrInsufficientFunds) {
		t.Fatalf("over-withdraw err = %v, want ErrInsufficientFunds", err)
	}
	_, err = f.proc.Apply(f.request(adminWallet, vault.Wallet{}, WithdrawInsuranceFund{Amount: 0}))
	if !errors.Is(err, vault.ErrInvalidAmount) {
		t.Fatalf("zero amount err = %v, want ErrInvalidAmount", err)
	}

	res := f.apply(t, adminWallet, WithdrawInsuranceFund{Amount: 3_000_000_000})
	payload := res.Events[0].Payload.(event.InsuranceWithdrawn)
	if payload.Amount != 3_000_000_000 || payload.Remaining != 2_000_000_000 {
		t.Errorf("payload = %+v", payload)
	}
	if got := f.funds.GetBalance(ledger.CustodyAccount(adminWallet)); got != 3_000_000_000 {
		t.Errorf("admin custody = %d, want 3000000000", got)
	}
	if v := f.loadVault(t); v.InsuranceFund != 2_000_000_000 {
		t.Errorf("insurance fund = %d, want 2000000000", v.InsuranceFund)
	}
	f.conserve(t)
}

func TestHedgeInstructionsAcceptedNoEffect(t *testing.T) {
	f := newFixture(t)
	f.initVault(t)
	seqBefore := f.proc.Sequence()
	hashBefore := f.proc.StateHash()

	stubs := []Instruction{
		PartialCloseForHedge{AccountID: "a", Market: "BTC-PERP", CloseRatioBP: 5000, ExitPrice: 1},
		CreateReentryPosition{AccountID: "a", Market: "BTC-PERP", Size: 1, EntryPrice: 1, Leverage: 1},
		ExecuteTpSl{AccountID: "a", Market: "BTC-PERP", Price: 1},
	}
	for _, in := range stubs {
		res, err := f.proc.Apply(f.request(userWallet, vault.Wallet{}, in))
		if err != nil {
			t.Fatalf("%s: %v", in.Tag(), err)
		}
		if len(res.Events) != 0 {
			t.Errorf("%s must emit no events", in.Tag())
		}
	}
	if f.proc.Sequence() != seqBefore || f.proc.StateHash() != hashBefore {
		t.Error("deferred instructions must not advance the chain")
	}
}

func TestAddressVerification(t *testing.T) {
	f := newFixture(t)
	f.initVault(t)
	f.deposit(userWallet, 10_000_000_000)

	req := f.request(userWallet, vault.Wallet{}, specLock)
	req.VaultAddress = store.DerivePositionAddress(userWallet, "x", "y")
	if _, err := f.proc.Apply(req); !errors.Is(err, vault.ErrInvalidVaultAccount) {
		t.Errorf("vault addr err = %v, want ErrInvalidVaultAccount", err)
	}

	req = f.request(userWallet, vault.Wallet{}, specLock)
	req.PositionAddress = store.DerivePositionAddress(userWallet, "other", "BTC-PERP")
	if _, err := f.proc.Apply(req); !errors.Is(err, vault.ErrInvalidPositionKey) {
		t.Errorf("position addr err = %v, want ErrInvalidPositionKey", err)
	}

	// Correct supplied addresses pass.
	req = f.request(userWallet, vault.Wallet{}, specLock)
	req.PositionAddress = store.DerivePositionAddress(userWallet, "acct-1", "BTC-PERP")
	if _, err := f.proc.Apply(req); err != nil {
		t.Errorf("matching addresses rejected: %v", err)
	}
}

func TestConservationAcrossLifecycle(t *testing.T) {
	f := newFixture(t)
	f.initVault(t)
	f.deposit(userWallet, 100_000_000_000)
	f.deposit(liquidatorWallet, 100_000_000_000)

	eth := LockMargin{
		AccountID: "acct-2", Market: "ETH-PERP", Side: vault.SideShort,
		Size: 10_000_000, EntryPrice: 3_000_000_000, Leverage: 10, MarginMode: vault.MarginIsolated,
	}

	f.apply(t, userWallet, specLock)
	f.conserve(t)
	f.apply(t, liquidatorWallet, specLock) // independent position, same tuple keys but other wallet
	f.conserve(t)
	f.apply(t, userWallet, eth)
	f.conserve(t)
	f.apply(t, userWallet, specLock) // merge
	f.conserve(t)
	f.apply(t, userWallet, UnlockMargin{AccountID: "acct-1", Market: "BTC-PERP", CloseSize: 600_000, ExitPrice: 102_000_000_000})
	f.conserve(t)
	f.apply(t, userWallet, UnlockMargin{AccountID: "acct-2", Market: "ETH-PERP", CloseSize: 10_000_000, ExitPrice: 3_100_000_000})
	f.conserve(t)
	f.apply(t, liquidatorWallet, UnlockMargin{AccountID: "acct-1", Market: "BTC-PERP", CloseSize: btcSize, ExitPrice: 101_000_000_000})
	f.conserve(t)

	if f.funds.GlobalSum() != 0 {
		t.Errorf("global ledger sum = %d, want 0", f.funds.GlobalSum())
	}
}

func TestConservationBreachRejectedBeforeCommit(t *testing.T) {
	st := store.NewMemStore()
	now := int64(1_700_000_000)
	// Seed a position the vault totals do not account for.
	st.Put(store.DeriveVaultAddress(), vault.EncodeVaultLedger(vault.NewVaultLedger(adminWallet, now)))
	posAddr := store.DerivePositionAddress(userWallet, "acct-1", "BTC-PERP")
	st.Put(posAddr, vault.EncodePosition(&vault.Position{
		Wallet:            userWallet,
		AccountID:         "acct-1",
		Market:            "BTC-PERP",
		Side:              vault.SideLong,
		Size:              1_000_000,
		EntryPrice:        100_000_000_000,
		Leverage:          20,
		LockedCollateral:  5_000_000_000,
		MaintenanceMargin: 2_500_000_000,
		OpenedAt:          now,
	}))

	proc := New(st, ledger.NewBalanceTracker(), zerolog.Nop())
	recordBefore, _ := st.Get(posAddr)

	_, err := proc.Apply(Request{
		Instruction:   UpdatePosition{AccountID: "acct-1", Market: "BTC-PERP", MarkPrice: 99_000_000_000},
		InstructionID: uuid.New(),
		Signer:        adminWallet,
		Owner:         userWallet,
		Timestamp:     now + 1,
	})
	if !errors.Is(err, vault.ErrConservationBreach) {
		t.Fatalf("err = %v, want ErrConservationBreach", err)
	}

	// The breach is caught before commit: the store and chain are untouched.
	recordAfter, _ := st.Get(posAddr)
	if string(recordBefore) != string(recordAfter) {
		t.Error("breached instruction must leave the store byte-identical")
	}
	if proc.Sequence() != 0 {
		t.Errorf("sequence = %d, want 0", proc.Sequence())
	}
}

func TestHashChainAdvancesPerInstruction(t *testing.T) {
	f := newFixture(t)
	res1 := f.apply(t, adminWallet, InitializeVault{})
	f.deposit(userWallet, 10_000_000_000)
	res2 := f.apply(t, userWallet, specLock)

	if res2.Sequence != res1.Sequence+1 {
		t.Errorf("sequence = %d after %d", res2.Sequence, res1.Sequence)
	}
	if res1.StateHash == res2.StateHash {
		t.Error("state hash must change per applied instruction")
	}
	if res2.Events[0].PrevHash != event.HashHex(res1.StateHash) {
		t.Error("event prev_hash must link to the prior head")
	}
	if res2.Events[0].StateHash != event.HashHex(res2.StateHash) {
		t.Error("event state_hash must match the new head")
	}
}
