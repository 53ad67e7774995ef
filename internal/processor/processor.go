package processor

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"MarginVault/internal/event"
	"MarginVault/internal/ledger"
	"MarginVault/internal/liquidation"
	fpmath "MarginVault/internal/math"
	"MarginVault/internal/store"
	"MarginVault/internal/vault"
)

// Request carries one instruction plus the caller context the processor
// verifies: the authenticated signer, the caller-supplied record addresses,
// and the versioned timestamp. The processor never reads the wall clock.
type Request struct {
	Instruction   Instruction
	InstructionID uuid.UUID
	Signer        vault.Wallet
	// Owner is the position owner for Liquidate and UpdatePosition, where
	// the signer is not the owner. Zero means the signer owns the position.
	Owner vault.Wallet
	// VaultAddress and PositionAddress are caller-supplied and checked
	// against the derived addresses. A zero PositionAddress is filled in
	// from the instruction's key tuple.
	VaultAddress    store.Address
	PositionAddress store.Address
	Timestamp       int64
}

// Result reports an applied instruction: the emitted events, the advanced
// sequence, the new chain head, and the committed fund batch (empty for
// instructions that move no funds).
type Result struct {
	Sequence  int64
	StateHash [32]byte
	Events    []event.Event
	Batch     *ledger.Batch
}

// Processor applies instructions one at a time against the record store and
// the custody ledger. All staging is buffered; a failed instruction leaves
// both byte-identical to before the attempt.
type Processor struct {
	store     store.Store
	funds     *ledger.BalanceTracker
	checks    *ledger.InvariantValidator
	hasher    *event.StateHasher
	sequence  int64
	positions map[store.Address]bool
	log       zerolog.Logger
}

func New(st store.Store, funds *ledger.BalanceTracker, log zerolog.Logger) *Processor {
	p := &Processor{
		store:     st,
		funds:     funds,
		checks:    ledger.NewInvariantValidator(funds),
		hasher:    event.NewStateHasher(),
		positions: make(map[store.Address]bool),
		log:       log,
	}
	p.rebuildPositionIndex()
	return p
}

// Sequence returns the number of applied instructions.
func (p *Processor) Sequence() int64 { return p.sequence }

// StateHash returns the current chain head.
func (p *Processor) StateHash() [32]byte { return p.hasher.Current() }

// Restore resets sequence and chain head when resuming from a snapshot.
func (p *Processor) Restore(sequence int64, head [32]byte) {
	p.sequence = sequence
	p.hasher.Restore(head)
	p.rebuildPositionIndex()
}

func (p *Processor) rebuildPositionIndex() {
	p.positions = make(map[store.Address]bool)
	p.store.Range(func(addr store.Address, data []byte) bool {
		if _, err := vault.DecodePosition(data); err == nil {
			p.positions[addr] = true
		}
		return true
	})
}

// applyCtx bundles the per-instruction staging state handed to op handlers.
type applyCtx struct {
	req     Request
	tx      *store.Tx
	plan    *ledger.TransferPlan
	events  []event.Event
	touched [][]byte
	// position index mutations, applied only on commit
	addPos, delPos *store.Address
}

func (c *applyCtx) emit(t event.Type, market string, payload any) {
	c.events = append(c.events, event.Event{
		Envelope: event.Envelope{
			InstructionID: c.req.InstructionID,
			Type:          t,
			TypeName:      t.String(),
			Market:        market,
			Timestamp:     c.req.Timestamp,
		},
		Payload: payload,
	})
}

// Apply executes one instruction end to end. On error nothing has changed.
func (p *Processor) Apply(req Request) (*Result, error) {
	ctx := &applyCtx{
		req:  req,
		tx:   store.NewTx(p.store),
		plan: ledger.NewTransferPlan(p.funds, req.InstructionID, p.sequence+1, time.Unix(req.Timestamp, 0)),
	}

	var err error
	switch in := req.Instruction.(type) {
	case InitializeVault:
		err = p.applyInitializeVault(ctx)
	case LockMargin:
		err = p.applyLockMargin(ctx, in)
	case UnlockMargin:
		err = p.applyUnlockMargin(ctx, in)
	case Liquidate:
		err = p.applyLiquidate(ctx, in)
	case UpdatePosition:
		err = p.applyUpdatePosition(ctx, in)
	case WithdrawInsuranceFund:
		err = p.applyWithdrawInsurance(ctx, in)
	case PartialCloseForHedge, CreateReentryPosition, ExecuteTpSl:
		// Reserved hedge workflow: accepted without effect.
		p.log.Info().
			Str("op", req.Instruction.Tag().String()).
			Str("instruction_id", req.InstructionID.String()).
			Msg("deferred instruction accepted, no effect")
		return &Result{Sequence: p.sequence, StateHash: p.hasher.Current()}, nil
	default:
		err = fmt.Errorf("%w: unhandled instruction %T", vault.ErrInvalidInstruction, req.Instruction)
	}
	if err != nil {
		ctx.tx.Discard()
		ctx.plan.Discard()
		return nil, err
	}

	balancesBefore := p.funds.Snapshot()
	if err := ctx.plan.Commit(); err != nil {
		ctx.tx.Discard()
		return nil, fmt.Errorf("commit transfers: %w", err)
	}
	// Invariants are checked against the staged records. A breach rolls the
	// balances back and rejects before anything reaches the store.
	if err := p.verifyInvariants(ctx); err != nil {
		p.funds.Restore(balancesBefore)
		ctx.tx.Discard()
		p.log.Error().Err(err).
			Str("instruction_id", req.InstructionID.String()).
			Msg("invariant breach, instruction rolled back")
		return nil, err
	}
	ctx.tx.Commit()
	if ctx.addPos != nil {
		p.positions[*ctx.addPos] = true
	}
	if ctx.delPos != nil {
		delete(p.positions, *ctx.delPos)
	}

	p.sequence++
	prev := p.hasher.Current()
	head := p.hasher.Advance(p.sequence, event.DigestRecords(ctx.touched...))
	for i := range ctx.events {
		ctx.events[i].Sequence = p.sequence
		ctx.events[i].StateHash = event.HashHex(head)
		ctx.events[i].PrevHash = event.HashHex(prev)
	}

	return &Result{
		Sequence:  p.sequence,
		StateHash: head,
		Events:    ctx.events,
		Batch:     ctx.plan.Batch(),
	}, nil
}

// verifyInvariants runs the ledger and conservation checks over the staged
// instruction: committed balances plus the tx's record view and the position
// index as it would look after commit.
func (p *Processor) verifyInvariants(ctx *applyCtx) error {
	if err := p.checks.ValidateZeroSum(); err != nil {
		return fmt.Errorf("%w: %v", vault.ErrConservationBreach, err)
	}
	if err := p.checks.ValidateNonNegative(); err != nil {
		return fmt.Errorf("%w: %v", vault.ErrConservationBreach, err)
	}
	projected := make(map[store.Address]bool, len(p.positions)+1)
	for addr := range p.positions {
		projected[addr] = true
	}
	if ctx.addPos != nil {
		projected[*ctx.addPos] = true
	}
	if ctx.delPos != nil {
		delete(projected, *ctx.delPos)
	}
	return p.conserves(ctx.tx.Get, projected)
}

// CheckConservation verifies vault.total_locked_collateral equals the sum of
// locked collateral over all open positions in the committed store.
func (p *Processor) CheckConservation() error {
	return p.conserves(p.store.Get, p.positions)
}

func (p *Processor) conserves(get func(store.Address) ([]byte, bool), index map[store.Address]bool) error {
	data, ok := get(store.DeriveVaultAddress())
	if !ok {
		return nil
	}
	v, err := vault.DecodeVaultLedger(data)
	if err != nil {
		return fmt.Errorf("%w: %v", vault.ErrConservationBreach, err)
	}
	var sum int64
	var count uint64
	for addr := range index {
		posData, ok := get(addr)
		if !ok {
			return fmt.Errorf("%w: indexed position %s missing", vault.ErrConservationBreach, addr)
		}
		pos, err := vault.DecodePosition(posData)
		if err != nil {
			return fmt.Errorf("%w: %v", vault.ErrConservationBreach, err)
		}
		sum += pos.LockedCollateral
		count++
	}
	if sum != v.TotalLockedCollateral {
		return fmt.Errorf("%w: positions hold %d, vault says %d", vault.ErrConservationBreach, sum, v.TotalLockedCollateral)
	}
	if count != v.TotalPositions {
		return fmt.Errorf("%w: %d open positions, vault says %d", vault.ErrConservationBreach, count, v.TotalPositions)
	}
	return nil
}

func (p *Processor) verifyVaultAddress(req Request) error {
	derived := store.DeriveVaultAddress()
	if req.VaultAddress != (store.Address{}) && req.VaultAddress != derived {
		return fmt.Errorf("%w: supplied %s, derived %s", vault.ErrInvalidVaultAccount, req.VaultAddress, derived)
	}
	return nil
}

func (p *Processor) positionAddress(req Request, owner vault.Wallet, accountID, market string) (store.Address, error) {
	derived := store.DerivePositionAddress(owner, accountID, market)
	if req.PositionAddress != (store.Address{}) && req.PositionAddress != derived {
		return store.Address{}, fmt.Errorf("%w: supplied %s, derived %s", vault.ErrInvalidPositionKey, req.PositionAddress, derived)
	}
	return derived, nil
}

func (p *Processor) loadVault(ctx *applyCtx) (*vault.VaultLedger, error) {
	if err := p.verifyVaultAddress(ctx.req); err != nil {
		return nil, err
	}
	data, ok := ctx.tx.Get(store.DeriveVaultAddress())
	if !ok {
		return nil, fmt.Errorf("%w: vault not initialized", vault.ErrAccountNotFound)
	}
	return vault.DecodeVaultLedger(data)
}

func (p *Processor) applyInitializeVault(ctx *applyCtx) error {
	if err := p.verifyVaultAddress(ctx.req); err != nil {
		return err
	}
	addr := store.DeriveVaultAddress()
	if _, ok := ctx.tx.Get(addr); ok {
		return fmt.Errorf("%w: vault", vault.ErrAccountAlreadyExists)
	}
	v := vault.NewVaultLedger(ctx.req.Signer, ctx.req.Timestamp)
	data := vault.EncodeVaultLedger(v)
	ctx.tx.Put(addr, data)
	ctx.touched = append(ctx.touched, data)
	ctx.emit(event.TypeVaultInitialized, "", event.VaultInitialized{Admin: v.Admin})
	return nil
}

func validateLock(in LockMargin) error {
	if !vault.ValidAccountID(in.AccountID) {
		return fmt.Errorf("%w: %q", vault.ErrInvalidAccountID, in.AccountID)
	}
	if !vault.ValidMarket(in.Market) {
		return fmt.Errorf("%w: %q", vault.ErrInvalidMarket, in.Market)
	}
	if in.Size <= 0 {
		return fmt.Errorf("%w: size %d", vault.ErrInvalidSize, in.Size)
	}
	if in.EntryPrice <= 0 {
		return fmt.Errorf("%w: entry price %d", vault.ErrInvalidPrice, in.EntryPrice)
	}
	if in.Leverage < vault.MinLeverage || in.Leverage > vault.MaxLeverage {
		return fmt.Errorf("%w: %d", vault.ErrInvalidLeverage, in.Leverage)
	}
	return nil
}

func (p *Processor) applyLockMargin(ctx *applyCtx, in LockMargin) error {
	if err := validateLock(in); err != nil {
		return err
	}
	v, err := p.loadVault(ctx)
	if err != nil {
		return err
	}

	im, err := fpmath.InitialMargin(in.Size, in.EntryPrice, in.Leverage)
	if err != nil {
		return err
	}
	mm := fpmath.MaintenanceMargin(im)
	notional, err := fpmath.Notional(in.Size, in.EntryPrice)
	if err != nil {
		return err
	}

	posAddr, err := p.positionAddress(ctx.req, ctx.req.Signer, in.AccountID, in.Market)
	if err != nil {
		return err
	}

	var pos *vault.Position
	merged := false
	if data, ok := ctx.tx.Get(posAddr); ok {
		pos, err = vault.DecodePosition(data)
		if err != nil {
			return err
		}
		if pos.Side != in.Side {
			return fmt.Errorf("%w: side %s conflicts with open %s position", vault.ErrInvalidSize, in.Side, pos.Side)
		}
		entry, err := fpmath.WeightedEntryPrice(pos.Size, pos.EntryPrice, in.Size, in.EntryPrice)
		if err != nil {
			return err
		}
		if pos.Size, err = fpmath.SafeAdd(pos.Size, in.Size); err != nil {
			return err
		}
		if pos.LockedCollateral, err = fpmath.SafeAdd(pos.LockedCollateral, im); err != nil {
			return err
		}
		if pos.MaintenanceMargin, err = fpmath.SafeAdd(pos.MaintenanceMargin, mm); err != nil {
			return err
		}
		pos.EntryPrice = entry
		pos.Leverage = in.Leverage
		// Stale trigger prices after a merge are treated as a bug: recompute
		// from the new weighted entry.
		pos.LiquidationPrice = fpmath.LiquidationPrice(entry, pos.Side.IsLong(), in.Leverage)
		merged = true
	} else {
		pos = &vault.Position{
			Wallet:            ctx.req.Signer,
			AccountID:         in.AccountID,
			Market:            in.Market,
			Side:              in.Side,
			Size:              in.Size,
			EntryPrice:        in.EntryPrice,
			Leverage:          in.Leverage,
			MarginMode:        in.MarginMode,
			LockedCollateral:  im,
			MaintenanceMargin: mm,
			LiquidationPrice:  fpmath.LiquidationPrice(in.EntryPrice, in.Side.IsLong(), in.Leverage),
			MarginRatioBP:     vault.InitialMarginRatioBP,
			Status:            vault.StatusNormal,
			OpenedAt:          ctx.req.Timestamp,
		}
	}
	if err := pos.UpdatePnL(in.EntryPrice, ctx.req.Timestamp); err != nil {
		return err
	}

	if err := ctx.plan.Move(ledger.CustodyAccount(ctx.req.Signer), ledger.EscrowAccount(), im, ledger.JournalMarginLock); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return fmt.Errorf("%w: %v", vault.ErrInsufficientFunds, err)
		}
		return err
	}

	if v.TotalLockedCollateral, err = fpmath.SafeAdd(v.TotalLockedCollateral, im); err != nil {
		return err
	}
	if !merged {
		v.TotalPositions++
	}
	v.TotalTrades++
	if v.CumulativeVolume, err = fpmath.SafeAdd(v.CumulativeVolume, notional); err != nil {
		return err
	}
	v.UpdatedAt = ctx.req.Timestamp

	vaultData := vault.EncodeVaultLedger(v)
	posData := vault.EncodePosition(pos)
	ctx.tx.Put(store.DeriveVaultAddress(), vaultData)
	ctx.tx.Put(posAddr, posData)
	ctx.touched = append(ctx.touched, vaultData, posData)
	if !merged {
		addr := posAddr
		ctx.addPos = &addr
	}

	ctx.emit(event.TypePositionOpened, in.Market, event.PositionOpened{
		Wallet:           pos.Wallet,
		AccountID:        pos.AccountID,
		Market:           pos.Market,
		Side:             pos.Side.String(),
		Size:             pos.Size,
		EntryPrice:       pos.EntryPrice,
		Leverage:         pos.Leverage,
		MarginMode:       pos.MarginMode.String(),
		LockedAdded:      im,
		LockedCollateral: pos.LockedCollateral,
		LiquidationPrice: pos.LiquidationPrice,
		Merged:           merged,
	})
	return nil
}

func (p *Processor) applyUnlockMargin(ctx *applyCtx, in UnlockMargin) error {
	if in.CloseSize <= 0 {
		return fmt.Errorf("%w: close size %d", vault.ErrInvalidSize, in.CloseSize)
	}
	if in.ExitPrice <= 0 {
		return fmt.Errorf("%w: exit price %d", vault.ErrInvalidPrice, in.ExitPrice)
	}
	v, err := p.loadVault(ctx)
	if err != nil {
		return err
	}
	posAddr, err := p.positionAddress(ctx.req, ctx.req.Signer, in.AccountID, in.Market)
	if err != nil {
		return err
	}
	data, ok := ctx.tx.Get(posAddr)
	if !ok {
		return fmt.Errorf("%w: position %s/%s", vault.ErrAccountNotFound, in.AccountID, in.Market)
	}
	pos, err := vault.DecodePosition(data)
	if err != nil {
		return err
	}
	if in.CloseSize > pos.Size {
		return fmt.Errorf("%w: close %d exceeds open %d", vault.ErrInvalidSize, in.CloseSize, pos.Size)
	}

	pnl, err := fpmath.RealizedPnL(pos.Side.IsLong(), pos.EntryPrice, in.ExitPrice, in.CloseSize)
	if err != nil {
		return err
	}
	// Collateral releases pro rata to the closed size; a full close releases
	// everything, leaving no truncation dust behind.
	var released int64
	if in.CloseSize == pos.Size {
		released = pos.LockedCollateral
	} else {
		released, err = fpmath.MulDiv(pos.LockedCollateral, in.CloseSize, pos.Size)
		if err != nil {
			return err
		}
	}

	returned, err := fpmath.SafeAdd(released, pnl)
	if err != nil {
		return err
	}
	if returned < 0 {
		returned = 0
	}
	// A loss beyond the returned amount stays in the system: the escrowed
	// difference moves to the insurance fund rather than vanishing.
	var absorbed int64
	if pnl < 0 {
		absorbed = -pnl
		if absorbed > released {
			absorbed = released
		}
	}

	if err := ctx.plan.Move(ledger.EscrowAccount(), ledger.CustodyAccount(pos.Wallet), returned, ledger.JournalMarginRelease); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return fmt.Errorf("%w: %v", vault.ErrInsufficientFunds, err)
		}
		return err
	}
	if err := ctx.plan.Move(ledger.EscrowAccount(), ledger.InsuranceAccount(), absorbed, ledger.JournalLossAbsorption); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return fmt.Errorf("%w: %v", vault.ErrInsufficientFunds, err)
		}
		return err
	}

	notional, err := fpmath.Notional(in.CloseSize, in.ExitPrice)
	if err != nil {
		return err
	}
	if v.TotalLockedCollateral, err = fpmath.SafeSub(v.TotalLockedCollateral, released); err != nil {
		return err
	}
	if v.CumulativeRealizedPnL, err = fpmath.SafeAdd(v.CumulativeRealizedPnL, pnl); err != nil {
		return err
	}
	if v.CumulativeVolume, err = fpmath.SafeAdd(v.CumulativeVolume, notional); err != nil {
		return err
	}
	if absorbed > 0 {
		if v.InsuranceFund, err = fpmath.SafeAdd(v.InsuranceFund, absorbed); err != nil {
			return err
		}
	}
	v.TotalTrades++
	v.UpdatedAt = ctx.req.Timestamp

	fullyClosed := in.CloseSize == pos.Size
	pos.Size -= in.CloseSize
	if pos.LockedCollateral, err = fpmath.SafeSub(pos.LockedCollateral, released); err != nil {
		return err
	}
	pos.MaintenanceMargin = fpmath.MaintenanceMargin(pos.LockedCollateral)
	if pos.RealizedPnL, err = fpmath.SafeAdd(pos.RealizedPnL, pnl); err != nil {
		return err
	}

	vaultAddr := store.DeriveVaultAddress()
	if fullyClosed {
		// A zero-size record never lingers.
		v.TotalPositions--
		ctx.tx.Delete(posAddr)
		addr := posAddr
		ctx.delPos = &addr
		vaultData := vault.EncodeVaultLedger(v)
		ctx.tx.Put(vaultAddr, vaultData)
		ctx.touched = append(ctx.touched, vaultData)
	} else {
		if err := pos.UpdatePnL(in.ExitPrice, ctx.req.Timestamp); err != nil {
			return err
		}
		vaultData := vault.EncodeVaultLedger(v)
		posData := vault.EncodePosition(pos)
		ctx.tx.Put(vaultAddr, vaultData)
		ctx.tx.Put(posAddr, posData)
		ctx.touched = append(ctx.touched, vaultData, posData)
	}

	ctx.emit(event.TypePositionClosed, in.Market, event.PositionClosed{
		Wallet:         pos.Wallet,
		AccountID:      in.AccountID,
		Market:         in.Market,
		CloseSize:      in.CloseSize,
		ExitPrice:      in.ExitPrice,
		RealizedPnL:    pnl,
		Released:       released,
		ReturnedToUser: returned,
		LossAbsorbed:   absorbed,
		RemainingSize:  pos.Size,
		FullyClosed:    fullyClosed,
	})
	return nil
}

func (p *Processor) applyLiquidate(ctx *applyCtx, in Liquidate) error {
	if in.Price <= 0 {
		return fmt.Errorf("%w: liquidation price %d", vault.ErrInvalidPrice, in.Price)
	}
	owner := ctx.req.Owner
	if owner.IsZero() {
		return fmt.Errorf("%w: liquidate requires the position owner", vault.ErrInvalidInstruction)
	}
	v, err := p.loadVault(ctx)
	if err != nil {
		return err
	}
	posAddr, err := p.positionAddress(ctx.req, owner, in.AccountID, in.Market)
	if err != nil {
		return err
	}
	data, ok := ctx.tx.Get(posAddr)
	if !ok {
		return fmt.Errorf("%w: position %s/%s", vault.ErrAccountNotFound, in.AccountID, in.Market)
	}
	pos, err := vault.DecodePosition(data)
	if err != nil {
		return err
	}

	// Eligibility is recomputed at the supplied price, never trusted from
	// the stored record.
	if err := pos.UpdatePnL(in.Price, ctx.req.Timestamp); err != nil {
		return err
	}
	if !liquidation.Eligible(pos.MarginRatioBP) {
		return fmt.Errorf("%w: margin ratio %d bp", vault.ErrNotLiquidatable, pos.MarginRatioBP)
	}

	equity, err := pos.Equity()
	if err != nil {
		return err
	}
	w := liquidation.Plan(pos.LockedCollateral, equity)

	moves := []struct {
		to     ledger.AccountKey
		amount int64
		jt     ledger.JournalType
	}{
		{ledger.CustodyAccount(ctx.req.Signer), w.LiquidatorFee, ledger.JournalLiquidatorFee},
		{ledger.TreasuryAccount(), w.TreasuryFee, ledger.JournalTreasuryFee},
		{ledger.CustodyAccount(owner), w.UserReturn, ledger.JournalLiquidationReturn},
		{ledger.InsuranceAccount(), w.InsuranceFund, ledger.JournalInsuranceSweep},
	}
	for _, m := range moves {
		if err := ctx.plan.Move(ledger.EscrowAccount(), m.to, m.amount, m.jt); err != nil {
			if errors.Is(err, ledger.ErrInsufficientBalance) {
				return fmt.Errorf("%w: %v", vault.ErrInsufficientFunds, err)
			}
			return err
		}
	}

	if v.TotalLockedCollateral, err = fpmath.SafeSub(v.TotalLockedCollateral, pos.LockedCollateral); err != nil {
		return err
	}
	if v.InsuranceFund, err = fpmath.SafeAdd(v.InsuranceFund, w.InsuranceFund); err != nil {
		return err
	}
	if v.FeeTreasury, err = fpmath.SafeAdd(v.FeeTreasury, w.TreasuryFee); err != nil {
		return err
	}
	if v.CumulativeFees, err = fpmath.SafeAdd(v.CumulativeFees, w.Fee); err != nil {
		return err
	}
	v.TotalPositions--
	v.TotalLiquidations++
	v.UpdatedAt = ctx.req.Timestamp

	ctx.tx.Delete(posAddr)
	addr := posAddr
	ctx.delPos = &addr
	vaultData := vault.EncodeVaultLedger(v)
	ctx.tx.Put(store.DeriveVaultAddress(), vaultData)
	ctx.touched = append(ctx.touched, vaultData)

	ctx.emit(event.TypePositionLiquidated, in.Market, event.PositionLiquidated{
		Wallet:           owner,
		AccountID:        in.AccountID,
		Market:           in.Market,
		Liquidator:       ctx.req.Signer,
		LiquidationPrice: in.Price,
		MarginRatioBP:    pos.MarginRatioBP,
		Locked:           pos.LockedCollateral,
		LiquidatorFee:    w.LiquidatorFee,
		TreasuryFee:      w.TreasuryFee,
		UserReturn:       w.UserReturn,
		InsuranceFund:    w.InsuranceFund,
	})
	return nil
}

func (p *Processor) applyUpdatePosition(ctx *applyCtx, in UpdatePosition) error {
	if in.MarkPrice <= 0 {
		return fmt.Errorf("%w: mark price %d", vault.ErrInvalidPrice, in.MarkPrice)
	}
	v, err := p.loadVault(ctx)
	if err != nil {
		return err
	}
	// Only the admin relays prices.
	if ctx.req.Signer != v.Admin {
		return fmt.Errorf("%w: signer is not the price relayer", vault.ErrInvalidAuthority)
	}
	owner := ctx.req.Owner
	if owner.IsZero() {
		owner = ctx.req.Signer
	}
	posAddr, err := p.positionAddress(ctx.req, owner, in.AccountID, in.Market)
	if err != nil {
		return err
	}
	data, ok := ctx.tx.Get(posAddr)
	if !ok {
		return fmt.Errorf("%w: position %s/%s", vault.ErrAccountNotFound, in.AccountID, in.Market)
	}
	pos, err := vault.DecodePosition(data)
	if err != nil {
		return err
	}
	if err := pos.UpdatePnL(in.MarkPrice, ctx.req.Timestamp); err != nil {
		return err
	}

	posData := vault.EncodePosition(pos)
	ctx.tx.Put(posAddr, posData)
	ctx.touched = append(ctx.touched, posData)

	ctx.emit(event.TypePositionMarked, in.Market, event.PositionMarked{
		Wallet:        pos.Wallet,
		AccountID:     in.AccountID,
		Market:        in.Market,
		MarkPrice:     in.MarkPrice,
		UnrealizedPnL: pos.UnrealizedPnL,
		MarginRatioBP: pos.MarginRatioBP,
		Status:        pos.Status.String(),
	})
	return nil
}

func (p *Processor) applyWithdrawInsurance(ctx *applyCtx, in WithdrawInsuranceFund) error {
	if in.Amount <= 0 {
		return fmt.Errorf("%w: %d", vault.ErrInvalidAmount, in.Amount)
	}
	v, err := p.loadVault(ctx)
	if err != nil {
		return err
	}
	if ctx.req.Signer != v.Admin {
		return fmt.Errorf("%w: insurance withdrawals are admin only", vault.ErrInvalidAuthority)
	}
	if in.Amount > v.InsuranceFund {
		return fmt.Errorf("%w: insurance fund holds %d, requested %d", vault.ErrInsufficientFunds, v.InsuranceFund, in.Amount)
	}
	if err := ctx.plan.Move(ledger.InsuranceAccount(), ledger.CustodyAccount(v.Admin), in.Amount, ledger.JournalInsuranceWithdrawal); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return fmt.Errorf("%w: %v", vault.ErrInsufficientFunds, err)
		}
		return err
	}
	if v.InsuranceFund, err = fpmath.SafeSub(v.InsuranceFund, in.Amount); err != nil {
		return err
	}
	v.UpdatedAt = ctx.req.Timestamp

	vaultData := vault.EncodeVaultLedger(v)
	ctx.tx.Put(store.DeriveVaultAddress(), vaultData)
	ctx.touched = append(ctx.touched, vaultData)

	ctx.emit(event.TypeInsuranceWithdrawn, "", event.InsuranceWithdrawn{
		Admin:     v.Admin,
		Amount:    in.Amount,
		Remaining: v.InsuranceFund,
	})
	return nil
}
