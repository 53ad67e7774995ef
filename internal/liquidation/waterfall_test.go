package liquidation

import "testing"

func TestPlanConserves(t *testing.T) {
	cases := []struct {
		name   string
		locked int64
		equity int64
	}{
		{"healthy equity", 5_000_000, 2_000_000},
		{"zero equity", 5_000_000, 0},
		{"negative equity", 5_000_000, -1_000_000},
		{"equity above remainder", 5_000_000, 10_000_000},
		{"tiny position", 199, 50},
		{"odd fee split", 1_000_001, 500_000},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			w := Plan(tt.locked, tt.equity)
			sum := w.LiquidatorFee + w.TreasuryFee + w.UserReturn + w.InsuranceFund
			if sum != tt.locked {
				t.Errorf("parts sum to %d, want locked %d (%+v)", sum, tt.locked, w)
			}
			if w.UserReturn < 0 || w.InsuranceFund < 0 || w.LiquidatorFee < 0 || w.TreasuryFee < 0 {
				t.Errorf("negative waterfall part: %+v", w)
			}
		})
	}
}

func TestPlanAmounts(t *testing.T) {
	// Locked $5, equity $2: fee 25000, split 12500/12500, user gets equity,
	// insurance sweeps the rest.
	w := Plan(5_000_000, 2_000_000)
	if w.Fee != 25_000 {
		t.Errorf("fee = %d, want 25000", w.Fee)
	}
	if w.LiquidatorFee != 12_500 || w.TreasuryFee != 12_500 {
		t.Errorf("fee split = %d/%d, want 12500/12500", w.LiquidatorFee, w.TreasuryFee)
	}
	if w.UserReturn != 2_000_000 {
		t.Errorf("user return = %d, want equity 2000000", w.UserReturn)
	}
	if w.InsuranceFund != 2_975_000 {
		t.Errorf("insurance = %d, want 2975000", w.InsuranceFund)
	}
}

func TestPlanZeroEquity(t *testing.T) {
	w := Plan(5_000_000, 0)
	if w.UserReturn != 0 {
		t.Errorf("user return = %d, want 0", w.UserReturn)
	}
	if w.InsuranceFund != 4_975_000 {
		t.Errorf("insurance = %d, want 4975000", w.InsuranceFund)
	}
}

func TestPlanEquityAboveRemainder(t *testing.T) {
	// User can never receive more than locked minus the fee.
	w := Plan(5_000_000, 10_000_000)
	if w.UserReturn != 4_975_000 {
		t.Errorf("user return = %d, want 4975000", w.UserReturn)
	}
	if w.InsuranceFund != 0 {
		t.Errorf("insurance = %d, want 0", w.InsuranceFund)
	}
}

func TestPlanOddFeeSplit(t *testing.T) {
	// locked 1000300 * 5 / 1000 truncates to an odd fee of 5001.
	w := Plan(1_000_300, 0)
	if w.Fee != 5_001 {
		t.Fatalf("fee = %d, want 5001", w.Fee)
	}
	if w.LiquidatorFee != 2_500 || w.TreasuryFee != 2_501 {
		t.Errorf("split = %d/%d, want 2500/2501 (odd unit to treasury)", w.LiquidatorFee, w.TreasuryFee)
	}
}

func TestEligible(t *testing.T) {
	if Eligible(10_000) {
		t.Error("exactly 10000 bp must not be eligible")
	}
	if !Eligible(9_999) {
		t.Error("9999 bp must be eligible")
	}
}
