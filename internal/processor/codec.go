package processor

import (
	"encoding/binary"
	"fmt"

	"MarginVault/internal/vault"
)

// Instructions serialize as [tag][version][little-endian fields]. Identical
// parameters always produce identical bytes; strings are length-prefixed
// with a single byte.

const instructionVersion = 1

// EncodeInstruction serializes an instruction to its canonical bytes.
func EncodeInstruction(in Instruction) []byte {
	b := []byte{byte(in.Tag()), instructionVersion}
	switch v := in.(type) {
	case InitializeVault:
	case LockMargin:
		b = appendStr(b, v.AccountID)
		b = appendStr(b, v.Market)
		b = append(b, byte(v.Side))
		b = appendI64(b, v.Size)
		b = appendI64(b, v.EntryPrice)
		b = binary.LittleEndian.AppendUint32(b, v.Leverage)
		b = append(b, byte(v.MarginMode))
	case UnlockMargin:
		b = appendStr(b, v.AccountID)
		b = appendStr(b, v.Market)
		b = appendI64(b, v.CloseSize)
		b = appendI64(b, v.ExitPrice)
	case Liquidate:
		b = appendStr(b, v.AccountID)
		b = appendStr(b, v.Market)
		b = appendI64(b, v.Price)
	case PartialCloseForHedge:
		b = appendStr(b, v.AccountID)
		b = appendStr(b, v.Market)
		b = binary.LittleEndian.AppendUint32(b, v.CloseRatioBP)
		b = appendI64(b, v.ExitPrice)
	case CreateReentryPosition:
		b = appendStr(b, v.AccountID)
		b = appendStr(b, v.Market)
		b = appendI64(b, v.Size)
		b = appendI64(b, v.EntryPrice)
		b = binary.LittleEndian.AppendUint32(b, v.Leverage)
	case ExecuteTpSl:
		b = appendStr(b, v.AccountID)
		b = appendStr(b, v.Market)
		b = appendI64(b, v.Price)
	case UpdatePosition:
		b = appendStr(b, v.AccountID)
		b = appendStr(b, v.Market)
		b = appendI64(b, v.MarkPrice)
	case WithdrawInsuranceFund:
		b = appendI64(b, v.Amount)
	}
	return b
}

// DecodeInstruction parses canonical instruction bytes.
func DecodeInstruction(data []byte) (Instruction, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: instruction too short", vault.ErrInvalidInstruction)
	}
	if data[1] != instructionVersion {
		return nil, fmt.Errorf("%w: unsupported instruction version %d", vault.ErrInvalidInstruction, data[1])
	}
	r := &instrReader{data: data, pos: 2}
	tag := Tag(data[0])

	var in Instruction
	switch tag {
	case TagInitializeVault:
		in = InitializeVault{}
	case TagLockMargin:
		in = LockMargin{
			AccountID:  r.str(),
			Market:     r.str(),
			Side:       vault.Side(r.byte()),
			Size:       r.i64(),
			EntryPrice: r.i64(),
			Leverage:   r.u32(),
			MarginMode: vault.MarginMode(r.byte()),
		}
	case TagUnlockMargin:
		in = UnlockMargin{AccountID: r.str(), Market: r.str(), CloseSize: r.i64(), ExitPrice: r.i64()}
	case TagLiquidate:
		in = Liquidate{AccountID: r.str(), Market: r.str(), Price: r.i64()}
	case TagPartialCloseForHedge:
		in = PartialCloseForHedge{AccountID: r.str(), Market: r.str(), CloseRatioBP: r.u32(), ExitPrice: r.i64()}
	case TagCreateReentryPosition:
		in = CreateReentryPosition{AccountID: r.str(), Market: r.str(), Size: r.i64(), EntryPrice: r.i64(), Leverage: r.u32()}
	case TagExecuteTpSl:
		in = ExecuteTpSl{AccountID: r.str(), Market: r.str(), Price: r.i64()}
	case TagUpdatePosition:
		in = UpdatePosition{AccountID: r.str(), Market: r.str(), MarkPrice: r.i64()}
	case TagWithdrawInsuranceFund:
		in = WithdrawInsuranceFund{Amount: r.i64()}
	default:
		return nil, fmt.Errorf("%w: unknown instruction tag %d", vault.ErrInvalidInstruction, data[0])
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return in, nil
}

func appendI64(b []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(b, uint64(v))
}

func appendStr(b []byte, s string) []byte {
	b = append(b, byte(len(s)))
	return append(b, s...)
}

type instrReader struct {
	data []byte
	pos  int
	bad  bool
}

func (r *instrReader) byte() byte {
	if r.bad || r.pos+1 > len(r.data) {
		r.bad = true
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *instrReader) i64() int64 {
	if r.bad || r.pos+8 > len(r.data) {
		r.bad = true
		return 0
	}
	v := int64(binary.LittleEndian.Uint64(r.data[r.pos:]))
	r.pos += 8
	return v
}

func (r *instrReader) u32() uint32 {
	if r.bad || r.pos+4 > len(r.data) {
		r.bad = true
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *instrReader) str() string {
	n := int(r.byte())
	if r.bad || r.pos+n > len(r.data) {
		r.bad = true
		return ""
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return s
}

func (r *instrReader) finish() error {
	if r.bad {
		return fmt.Errorf("%w: instruction truncated", vault.ErrInvalidInstruction)
	}
	if r.pos != len(r.data) {
		return fmt.Errorf("%w: instruction has %d trailing bytes", vault.ErrInvalidInstruction, len(r.data)-r.pos)
	}
	return nil
}
