// Package ingestion connects the vault to NATS JetStream: it parses inbound
// instruction messages into processor requests and publishes applied events
// back out.
package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"MarginVault/internal/processor"
	"MarginVault/internal/store"
	"MarginVault/internal/vault"
)

// instructionMessage is the JSON wire envelope for inbound instructions.
// Addresses are optional: the processor derives and verifies them either way.
type instructionMessage struct {
	InstructionID   string          `json:"instruction_id"`
	Op              string          `json:"op"`
	Signer          vault.Wallet    `json:"signer"`
	Owner           vault.Wallet    `json:"owner,omitempty"`
	VaultAddress    string          `json:"vault_address,omitempty"`
	PositionAddress string          `json:"position_address,omitempty"`
	Timestamp       int64           `json:"timestamp"`
	Params          json.RawMessage `json:"params"`
}

type lockParams struct {
	AccountID  string `json:"account_id"`
	Market     string `json:"market"`
	Side       string `json:"side"`
	Size       int64  `json:"size"`
	EntryPrice int64  `json:"entry_price"`
	Leverage   uint32 `json:"leverage"`
	MarginMode string `json:"margin_mode"`
}

type unlockParams struct {
	AccountID string `json:"account_id"`
	Market    string `json:"market"`
	CloseSize int64  `json:"close_size"`
	ExitPrice int64  `json:"exit_price"`
}

type liquidateParams struct {
	AccountID string `json:"account_id"`
	Market    string `json:"market"`
	Price     int64  `json:"price"`
}

type updateParams struct {
	AccountID string `json:"account_id"`
	Market    string `json:"market"`
	MarkPrice int64  `json:"mark_price"`
}

type withdrawParams struct {
	Amount int64 `json:"amount"`
}

type partialCloseParams struct {
	AccountID    string `json:"account_id"`
	Market       string `json:"market"`
	CloseRatioBP uint32 `json:"close_ratio_bp"`
	ExitPrice    int64  `json:"exit_price"`
}

type reentryParams struct {
	AccountID  string `json:"account_id"`
	Market     string `json:"market"`
	Size       int64  `json:"size"`
	EntryPrice int64  `json:"entry_price"`
	Leverage   uint32 `json:"leverage"`
}

type tpSlParams struct {
	AccountID string `json:"account_id"`
	Market    string `json:"market"`
	Price     int64  `json:"price"`
}

// ParseInstruction converts one inbound JSON message into a processor
// request. Structural problems are reported as ErrInvalidInstruction;
// semantic validation belongs to the processor.
func ParseInstruction(data []byte) (*processor.Request, error) {
	var msg instructionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", vault.ErrInvalidInstruction, err)
	}
	id, err := uuid.Parse(msg.InstructionID)
	if err != nil {
		return nil, fmt.Errorf("%w: instruction_id: %v", vault.ErrInvalidInstruction, err)
	}
	if msg.Signer.IsZero() {
		return nil, fmt.Errorf("%w: missing signer", vault.ErrInvalidInstruction)
	}
	if msg.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: missing timestamp", vault.ErrInvalidInstruction)
	}

	in, err := parseParams(msg.Op, msg.Params)
	if err != nil {
		return nil, err
	}

	req := &processor.Request{
		Instruction:   in,
		InstructionID: id,
		Signer:        msg.Signer,
		Owner:         msg.Owner,
		Timestamp:     msg.Timestamp,
	}
	if msg.VaultAddress != "" {
		addr, ok := store.ParseAddress(msg.VaultAddress)
		if !ok {
			return nil, fmt.Errorf("%w: malformed vault_address", vault.ErrInvalidInstruction)
		}
		req.VaultAddress = addr
	}
	if msg.PositionAddress != "" {
		addr, ok := store.ParseAddress(msg.PositionAddress)
		if !ok {
			return nil, fmt.Errorf("%w: malformed position_address", vault.ErrInvalidInstruction)
		}
		req.PositionAddress = addr
	}
	return req, nil
}

func parseParams(op string, raw json.RawMessage) (processor.Instruction, error) {
	unmarshal := func(v any) error {
		if len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("%w: params: %v", vault.ErrInvalidInstruction, err)
		}
		return nil
	}

	switch op {
	case processor.TagInitializeVault.String():
		return processor.InitializeVault{}, nil
	case processor.TagLockMargin.String():
		var p lockParams
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		side, err := vault.ParseSide(p.Side)
		if err != nil {
			return nil, err
		}
		mode, err := vault.ParseMarginMode(p.MarginMode)
		if err != nil {
			return nil, err
		}
		return processor.LockMargin{
			AccountID:  p.AccountID,
			Market:     p.Market,
			Side:       side,
			Size:       p.Size,
			EntryPrice: p.EntryPrice,
			Leverage:   p.Leverage,
			MarginMode: mode,
		}, nil
	case processor.TagUnlockMargin.String():
		var p unlockParams
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return processor.UnlockMargin{AccountID: p.AccountID, Market: p.Market, CloseSize: p.CloseSize, ExitPrice: p.ExitPrice}, nil
	case processor.TagLiquidate.String():
		var p liquidateParams
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return processor.Liquidate{AccountID: p.AccountID, Market: p.Market, Price: p.Price}, nil
	case processor.TagPartialCloseForHedge.String():
		var p partialCloseParams
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return processor.PartialCloseForHedge{AccountID: p.AccountID, Market: p.Market, CloseRatioBP: p.CloseRatioBP, ExitPrice: p.ExitPrice}, nil
	case processor.TagCreateReentryPosition.String():
		var p reentryParams
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return processor.CreateReentryPosition{AccountID: p.AccountID, Market: p.Market, Size: p.Size, EntryPrice: p.EntryPrice, Leverage: p.Leverage}, nil
	case processor.TagExecuteTpSl.String():
		var p tpSlParams
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return processor.ExecuteTpSl{AccountID: p.AccountID, Market: p.Market, Price: p.Price}, nil
	case processor.TagUpdatePosition.String():
		var p updateParams
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return processor.UpdatePosition{AccountID: p.AccountID, Market: p.Market, MarkPrice: p.MarkPrice}, nil
	case processor.TagWithdrawInsuranceFund.String():
		var p withdrawParams
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return processor.WithdrawInsuranceFund{Amount: p.Amount}, nil
	default:
		return nil, fmt.Errorf("%w: unknown op %q", vault.ErrInvalidInstruction, op)
	}
}
