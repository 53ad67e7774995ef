package ledger

// BalanceTracker maintains the running balance of every ledger account.
// Debits increase a balance, credits decrease it; the sum over all accounts
// (external contra accounts included) is always zero.
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{balances: make(map[AccountKey]int64)}
}

// ApplyJournal posts one movement.
func (t *BalanceTracker) ApplyJournal(j Journal) {
	t.balances[j.DebitAccount] += j.Amount
	t.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch posts every journal of a validated batch.
func (t *BalanceTracker) ApplyBatch(b *Batch) {
	for _, j := range b.Journals {
		t.ApplyJournal(j)
	}
}

// GetBalance returns the balance of an account, zero if never touched.
func (t *BalanceTracker) GetBalance(key AccountKey) int64 {
	return t.balances[key]
}

// GlobalSum adds up every account balance. Double entry keeps it at zero.
func (t *BalanceTracker) GlobalSum() int64 {
	var sum int64
	for _, v := range t.balances {
		sum += v
	}
	return sum
}

// Snapshot copies the balance map for persistence.
func (t *BalanceTracker) Snapshot() map[AccountKey]int64 {
	out := make(map[AccountKey]int64, len(t.balances))
	for k, v := range t.balances {
		out[k] = v
	}
	return out
}

// Restore replaces the balance map from a snapshot.
func (t *BalanceTracker) Restore(balances map[AccountKey]int64) {
	t.balances = make(map[AccountKey]int64, len(balances))
	for k, v := range balances {
		t.balances[k] = v
	}
}
