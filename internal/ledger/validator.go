package ledger

import "fmt"

// InvariantValidator checks ledger-wide invariants after an instruction has
// been applied. Violations indicate a bug, not a rejectable input.
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{tracker: tracker}
}

// ValidateZeroSum verifies the global double-entry sum is zero.
func (v *InvariantValidator) ValidateZeroSum() error {
	if sum := v.tracker.GlobalSum(); sum != 0 {
		return fmt.Errorf("global balance sum is %d, want 0", sum)
	}
	return nil
}

// ValidateNonNegative verifies no user or system account is negative.
func (v *InvariantValidator) ValidateNonNegative() error {
	for key, balance := range v.tracker.balances {
		if balance < 0 && !key.MayGoNegative() {
			return fmt.Errorf("account %s has negative balance %d", key.AccountPath(), balance)
		}
	}
	return nil
}
