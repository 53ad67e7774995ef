// Package store provides the keyed record store backing the margin vault:
// deterministic SHA-256 addressing, an in-memory implementation, and a staged
// transaction that applies a whole instruction's writes atomically.
package store

// Store maps addresses to opaque serialized records.
type Store interface {
	// Get returns a copy of the record bytes and whether the record exists.
	Get(addr Address) ([]byte, bool)
	Put(addr Address, data []byte)
	Delete(addr Address)
	// Range calls fn for every record until fn returns false.
	Range(fn func(addr Address, data []byte) bool)
}

// MemStore is the in-memory Store used by the processor. Callers serialize
// access; the processor applies instructions one at a time.
type MemStore struct {
	records map[Address][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{records: make(map[Address][]byte)}
}

func (m *MemStore) Get(addr Address) ([]byte, bool) {
	data, ok := m.records[addr]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

func (m *MemStore) Put(addr Address, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.records[addr] = cp
}

func (m *MemStore) Delete(addr Address) {
	delete(m.records, addr)
}

func (m *MemStore) Range(fn func(addr Address, data []byte) bool) {
	for addr, data := range m.records {
		cp := make([]byte, len(data))
		copy(cp, data)
		if !fn(addr, cp) {
			return
		}
	}
}

// Len returns the number of stored records.
func (m *MemStore) Len() int {
	return len(m.records)
}
