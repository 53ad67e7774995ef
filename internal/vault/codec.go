package vault

import (
	"encoding/binary"
	"fmt"
)

// Persisted records carry an 8-byte type discriminator followed by a version
// byte as the very first bytes, so a record handed to the wrong decoder is
// rejected before any field is read. All integers are little-endian
// fixed-width; strings are length-prefixed with a single byte.

var (
	vaultTag    = [8]byte{'V', 'A', 'U', 'L', 'T', 'L', 'G', 'R'}
	positionTag = [8]byte{'U', 'S', 'E', 'R', 'P', 'O', 'S', 'N'}
)

const (
	recordVersion = 1
	headerLen     = 9
)

func appendInt64LE(b []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(b, uint64(v))
}

func appendString(b []byte, s string) []byte {
	b = append(b, byte(len(s)))
	return append(b, s...)
}

// EncodeVaultLedger serializes the vault record.
func EncodeVaultLedger(v *VaultLedger) []byte {
	b := make([]byte, 0, headerLen+32+10*8)
	b = append(b, vaultTag[:]...)
	b = append(b, recordVersion)
	b = append(b, v.Admin[:]...)
	b = appendInt64LE(b, v.TotalLockedCollateral)
	b = binary.LittleEndian.AppendUint64(b, v.TotalPositions)
	b = appendInt64LE(b, v.InsuranceFund)
	b = appendInt64LE(b, v.FeeTreasury)
	b = appendInt64LE(b, v.CumulativeVolume)
	b = appendInt64LE(b, v.CumulativeFees)
	b = appendInt64LE(b, v.CumulativeRealizedPnL)
	b = binary.LittleEndian.AppendUint64(b, v.TotalTrades)
	b = binary.LittleEndian.AppendUint64(b, v.TotalLiquidations)
	b = appendInt64LE(b, v.CreatedAt)
	b = appendInt64LE(b, v.UpdatedAt)
	return b
}

// DecodeVaultLedger deserializes a vault record, rejecting wrong tags and
// unknown versions before reading the body.
func DecodeVaultLedger(data []byte) (*VaultLedger, error) {
	r, err := newRecordReader(data, vaultTag, "vault ledger")
	if err != nil {
		return nil, err
	}
	v := &VaultLedger{}
	r.readBytes(v.Admin[:])
	v.TotalLockedCollateral = r.readInt64()
	v.TotalPositions = r.readUint64()
	v.InsuranceFund = r.readInt64()
	v.FeeTreasury = r.readInt64()
	v.CumulativeVolume = r.readInt64()
	v.CumulativeFees = r.readInt64()
	v.CumulativeRealizedPnL = r.readInt64()
	v.TotalTrades = r.readUint64()
	v.TotalLiquidations = r.readUint64()
	v.CreatedAt = r.readInt64()
	v.UpdatedAt = r.readInt64()
	if err := r.finish(); err != nil {
		return nil, err
	}
	return v, nil
}

// EncodePosition serializes a position record.
func EncodePosition(p *Position) []byte {
	b := make([]byte, 0, headerLen+32+2+len(p.AccountID)+len(p.Market)+16*8)
	b = append(b, positionTag[:]...)
	b = append(b, recordVersion)
	b = append(b, p.Wallet[:]...)
	b = appendString(b, p.AccountID)
	b = appendString(b, p.Market)
	b = append(b, byte(p.Side))
	b = appendInt64LE(b, p.Size)
	b = appendInt64LE(b, p.EntryPrice)
	b = appendInt64LE(b, p.MarkPrice)
	b = binary.LittleEndian.AppendUint32(b, p.Leverage)
	b = append(b, byte(p.MarginMode))
	b = appendInt64LE(b, p.LockedCollateral)
	b = appendInt64LE(b, p.MaintenanceMargin)
	b = appendInt64LE(b, p.UnrealizedPnL)
	b = appendInt64LE(b, p.RealizedPnL)
	b = appendInt64LE(b, p.LiquidationPrice)
	b = appendInt64LE(b, p.MarginRatioBP)
	b = append(b, byte(p.Status))
	b = appendInt64LE(b, p.TakeProfitPrice)
	b = appendInt64LE(b, p.StopLossPrice)
	b = appendInt64LE(b, p.OpenedAt)
	b = appendInt64LE(b, p.UpdatedAt)
	return b
}

// DecodePosition deserializes a position record.
func DecodePosition(data []byte) (*Position, error) {
	r, err := newRecordReader(data, positionTag, "position")
	if err != nil {
		return nil, err
	}
	p := &Position{}
	r.readBytes(p.Wallet[:])
	p.AccountID = r.readString()
	p.Market = r.readString()
	p.Side = Side(r.readByte())
	p.Size = r.readInt64()
	p.EntryPrice = r.readInt64()
	p.MarkPrice = r.readInt64()
	p.Leverage = r.readUint32()
	p.MarginMode = MarginMode(r.readByte())
	p.LockedCollateral = r.readInt64()
	p.MaintenanceMargin = r.readInt64()
	p.UnrealizedPnL = r.readInt64()
	p.RealizedPnL = r.readInt64()
	p.LiquidationPrice = r.readInt64()
	p.MarginRatioBP = r.readInt64()
	p.Status = LiquidationStatus(r.readByte())
	p.TakeProfitPrice = r.readInt64()
	p.StopLossPrice = r.readInt64()
	p.OpenedAt = r.readInt64()
	p.UpdatedAt = r.readInt64()
	if err := r.finish(); err != nil {
		return nil, err
	}
	return p, nil
}

// recordReader walks a serialized record, accumulating the first error so
// call sites stay linear.
type recordReader struct {
	data []byte
	pos  int
	kind string
	err  error
}

func newRecordReader(data []byte, tag [8]byte, kind string) (*recordReader, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("%w: %s record too short (%d bytes)", ErrInvalidRecord, kind, len(data))
	}
	var got [8]byte
	copy(got[:], data[:8])
	if got != tag {
		return nil, fmt.Errorf("%w: %s discriminator mismatch (got %q)", ErrInvalidRecord, kind, got[:])
	}
	if data[8] != recordVersion {
		return nil, fmt.Errorf("%w: %s unsupported version %d", ErrInvalidRecord, kind, data[8])
	}
	return &recordReader{data: data, pos: headerLen, kind: kind}, nil
}

func (r *recordReader) fail() {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s record truncated at offset %d", ErrInvalidRecord, r.kind, r.pos)
	}
}

func (r *recordReader) readByte() byte {
	if r.err != nil || r.pos+1 > len(r.data) {
		r.fail()
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *recordReader) readBytes(dst []byte) {
	if r.err != nil || r.pos+len(dst) > len(r.data) {
		r.fail()
		return
	}
	copy(dst, r.data[r.pos:r.pos+len(dst)])
	r.pos += len(dst)
}

func (r *recordReader) readInt64() int64 {
	return int64(r.readUint64())
}

func (r *recordReader) readUint64() uint64 {
	if r.err != nil || r.pos+8 > len(r.data) {
		r.fail()
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

func (r *recordReader) readUint32() uint32 {
	if r.err != nil || r.pos+4 > len(r.data) {
		r.fail()
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *recordReader) readString() string {
	n := int(r.readByte())
	if r.err != nil || r.pos+n > len(r.data) {
		r.fail()
		return ""
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return s
}

func (r *recordReader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.pos != len(r.data) {
		return fmt.Errorf("%w: %s record has %d trailing bytes", ErrInvalidRecord, r.kind, len(r.data)-r.pos)
	}
	return nil
}
