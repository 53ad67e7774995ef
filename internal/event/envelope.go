// Package event defines the structured records the vault emits after every
// applied instruction, plus the hash chain that fingerprints vault state at
// each sequence number.
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// Type enumerates the outbound event kinds.
type Type int32

const (
	TypeUnknown Type = iota
	TypeVaultInitialized
	TypePositionOpened
	TypePositionClosed
	TypePositionLiquidated
	TypePositionMarked
	TypeInsuranceWithdrawn
)

func (t Type) String() string {
	switch t {
	case TypeVaultInitialized:
		return "vault_initialized"
	case TypePositionOpened:
		return "position_opened"
	case TypePositionClosed:
		return "position_closed"
	case TypePositionLiquidated:
		return "position_liquidated"
	case TypePositionMarked:
		return "position_marked"
	case TypeInsuranceWithdrawn:
		return "insurance_withdrawn"
	default:
		return fmt.Sprintf("event_type(%d)", int32(t))
	}
}

// Envelope carries the ordering and integrity metadata shared by all events.
type Envelope struct {
	Sequence      int64     `json:"sequence"`
	InstructionID uuid.UUID `json:"instruction_id"`
	Type          Type      `json:"-"`
	TypeName      string    `json:"type"`
	Market        string    `json:"market,omitempty"`
	Timestamp     int64     `json:"timestamp"`
	StateHash     string    `json:"state_hash"`
	PrevHash      string    `json:"prev_hash"`
}

// Event is one emitted record: envelope plus a typed payload.
type Event struct {
	Envelope
	Payload any `json:"payload"`
}
