package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// Address identifies a record in the store. Addresses are derived
// deterministically with SHA-256 over a namespace tag and the record's key
// tuple, so any holder of the key material computes the same address and a
// caller-supplied address can be checked against the derived one.
type Address [32]byte

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// ParseAddress decodes a 64-char hex string into an Address.
func ParseAddress(s string) (Address, bool) {
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(a) {
		return Address{}, false
	}
	copy(a[:], b)
	return a, true
}

const (
	vaultNamespace    = "margin_vault:vault:v1"
	positionNamespace = "margin_vault:position:v1"
)

// DeriveVaultAddress returns the singleton vault ledger address.
func DeriveVaultAddress() Address {
	return Address(sha256.Sum256([]byte(vaultNamespace)))
}

// DerivePositionAddress returns the address of the position identified by
// (wallet, accountID, market). Strings are length-prefixed so distinct tuples
// never collide.
func DerivePositionAddress(wallet [32]byte, accountID, market string) Address {
	h := sha256.New()
	h.Write([]byte(positionNamespace))
	h.Write(wallet[:])
	h.Write([]byte{byte(len(accountID))})
	h.Write([]byte(accountID))
	h.Write([]byte{byte(len(market))})
	h.Write([]byte(market))
	var a Address
	h.Sum(a[:0])
	return a
}
