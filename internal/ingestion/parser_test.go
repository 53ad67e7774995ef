package ingestion

import (
	"errors"
	"strings"
	"testing"

	"MarginVault/internal/processor"
	"MarginVault/internal/store"
	"MarginVault/internal/vault"
)

const signerHex = "0101010101010101010101010101010101010101010101010101010101010101"

func TestParseLockMargin(t *testing.T) {
	msg := `{
		"instruction_id": "f47ac10b-58cc-4372-a567-0e02b2c3d479",
		"op": "lock_margin",
		"signer": "` + signerHex + `",
		"timestamp": 1700000000,
		"params": {
			"account_id": "acct-1",
			"market": "BTC-PERP",
			"side": "long",
			"size": 1000000,
			"entry_price": 101885000000,
			"leverage": 20,
			"margin_mode": "cross"
		}
	}`
	req, err := ParseInstruction([]byte(msg))
	if err != nil {
		t.Fatalf("ParseInstruction: %v", err)
	}
	in, ok := req.Instruction.(processor.LockMargin)
	if !ok {
		t.Fatalf("instruction type %T", req.Instruction)
	}
	want := processor.LockMargin{
		AccountID:  "acct-1",
		Market:     "BTC-PERP",
		Side:       vault.SideLong,
		Size:       1_000_000,
		EntryPrice: 101_885_000_000,
		Leverage:   20,
		MarginMode: vault.MarginCross,
	}
	if in != want {
		t.Errorf("instruction = %+v, want %+v", in, want)
	}
	if req.Signer != (vault.Wallet{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}) {
		t.Errorf("signer = %v", req.Signer)
	}
	if req.Timestamp != 1_700_000_000 {
		t.Errorf("timestamp = %d", req.Timestamp)
	}
}

func TestParseLiquidateWithOwnerAndAddresses(t *testing.T) {
	ownerHex := strings.Repeat("02", 32)
	vaultAddr := store.DeriveVaultAddress()
	msg := `{
		"instruction_id": "f47ac10b-58cc-4372-a567-0e02b2c3d479",
		"op": "liquidate",
		"signer": "` + signerHex + `",
		"owner": "` + ownerHex + `",
		"vault_address": "` + vaultAddr.String() + `",
		"timestamp": 1700000001,
		"params": {"account_id": "acct-1", "market": "ETH-PERP", "price": 97400000000}
	}`
	req, err := ParseInstruction([]byte(msg))
	if err != nil {
		t.Fatalf("ParseInstruction: %v", err)
	}
	in := req.Instruction.(processor.Liquidate)
	if in.Price != 97_400_000_000 || in.Market != "ETH-PERP" {
		t.Errorf("instruction = %+v", in)
	}
	if req.Owner.IsZero() {
		t.Error("owner must be set")
	}
	if req.VaultAddress != vaultAddr {
		t.Error("vault address must round trip")
	}
}

func TestParseWithdraw(t *testing.T) {
	msg := `{
		"instruction_id": "f47ac10b-58cc-4372-a567-0e02b2c3d479",
		"op": "withdraw_insurance_fund",
		"signer": "` + signerHex + `",
		"timestamp": 1700000002,
		"params": {"amount": 3000000}
	}`
	req, err := ParseInstruction([]byte(msg))
	if err != nil {
		t.Fatalf("ParseInstruction: %v", err)
	}
	if in := req.Instruction.(processor.WithdrawInsuranceFund); in.Amount != 3_000_000 {
		t.Errorf("amount = %d", in.Amount)
	}
}

func TestParseRejects(t *testing.T) {
	valid := `{
		"instruction_id": "f47ac10b-58cc-4372-a567-0e02b2c3d479",
		"op": "initialize_vault",
		"signer": "` + signerHex + `",
		"timestamp": 1700000000
	}`
	if _, err := ParseInstruction([]byte(valid)); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}

	cases := []struct {
		name string
		msg  string
	}{
		{"not json", `{{{`},
		{"bad uuid", strings.Replace(valid, "f47ac10b-58cc-4372-a567-0e02b2c3d479", "nope", 1)},
		{"unknown op", strings.Replace(valid, "initialize_vault", "teleport_funds", 1)},
		{"missing signer", strings.Replace(valid, signerHex, "", 1)},
		{"bad side", `{
			"instruction_id": "f47ac10b-58cc-4372-a567-0e02b2c3d479",
			"op": "lock_margin",
			"signer": "` + signerHex + `",
			"timestamp": 1700000000,
			"params": {"side": "sideways", "margin_mode": "cross"}
		}`},
		{"bad vault address", strings.Replace(valid, `"timestamp"`, `"vault_address": "xyz", "timestamp"`, 1)},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseInstruction([]byte(tt.msg)); !errors.Is(err, vault.ErrInvalidInstruction) {
				t.Errorf("err = %v, want ErrInvalidInstruction", err)
			}
		})
	}
}
