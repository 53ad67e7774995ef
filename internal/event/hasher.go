package event

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// GenesisHashSeed anchors the hash chain before any instruction applies.
const GenesisHashSeed = "MarginVault:genesis:v1"

// StateHasher maintains the running hash chain over applied instructions:
// hash(n) = sha256(hash(n-1) || sequence_le || digest(n)), where digest(n)
// covers the canonical bytes of every record the instruction touched. Two
// replicas that applied the same instructions hold the same head hash.
type StateHasher struct {
	current [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{current: sha256.Sum256([]byte(GenesisHashSeed))}
}

// Advance folds the digest for sequence into the chain and returns the new
// head hash.
func (h *StateHasher) Advance(sequence int64, digest [32]byte) [32]byte {
	buf := make([]byte, 0, 32+8+32)
	buf = append(buf, h.current[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(sequence))
	buf = append(buf, digest[:]...)
	h.current = sha256.Sum256(buf)
	return h.current
}

// Current returns the head hash.
func (h *StateHasher) Current() [32]byte {
	return h.current
}

// Restore resets the chain head, used when resuming from a snapshot.
func (h *StateHasher) Restore(head [32]byte) {
	h.current = head
}

// DigestRecords hashes the concatenation of the records an instruction
// touched, in the order given.
func DigestRecords(records ...[]byte) [32]byte {
	d := sha256.New()
	for _, r := range records {
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], uint64(len(r)))
		d.Write(n[:])
		d.Write(r)
	}
	var out [32]byte
	d.Sum(out[:0])
	return out
}

// HashHex renders a hash for envelopes and logs.
func HashHex(h [32]byte) string {
	return hex.EncodeToString(h[:])
}
