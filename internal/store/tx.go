package store

// Tx stages puts and deletes against a base store. Nothing touches the base
// until Commit; a failed instruction discards the Tx and the base is
// byte-identical to before the attempt.
type Tx struct {
	base    Store
	staged  map[Address][]byte
	deleted map[Address]bool
}

func NewTx(base Store) *Tx {
	return &Tx{
		base:    base,
		staged:  make(map[Address][]byte),
		deleted: make(map[Address]bool),
	}
}

// Get reads through the staged writes first, then the base store.
func (t *Tx) Get(addr Address) ([]byte, bool) {
	if t.deleted[addr] {
		return nil, false
	}
	if data, ok := t.staged[addr]; ok {
		out := make([]byte, len(data))
		copy(out, data)
		return out, true
	}
	return t.base.Get(addr)
}

func (t *Tx) Put(addr Address, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	t.staged[addr] = cp
	delete(t.deleted, addr)
}

func (t *Tx) Delete(addr Address) {
	delete(t.staged, addr)
	t.deleted[addr] = true
}

// Commit applies every staged mutation to the base store.
func (t *Tx) Commit() {
	for addr := range t.deleted {
		t.base.Delete(addr)
	}
	for addr, data := range t.staged {
		t.base.Put(addr, data)
	}
	t.reset()
}

// Discard drops all staged mutations.
func (t *Tx) Discard() {
	t.reset()
}

func (t *Tx) reset() {
	t.staged = make(map[Address][]byte)
	t.deleted = make(map[Address]bool)
}
