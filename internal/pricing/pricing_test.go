package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestNewModel_Valid(t *testing.T) {
	if _, err := NewModel(d(5), d(0.005), d(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewModel_NegativeRates(t *testing.T) {
	cases := []struct {
		name             string
		bps, comm, floor decimal.Decimal
	}{
		{"negative bps", d(-1), d(0.005), d(1)},
		{"negative commission", d(5), d(-0.005), d(1)},
		{"negative minimum", d(5), d(0.005), d(-1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewModel(tc.bps, tc.comm, tc.floor); err != ErrInvalidParams {
				t.Errorf("expected ErrInvalidParams, got %v", err)
			}
		})
	}
}

func TestSlippage_AlwaysAdverse(t *testing.T) {
	m, _ := NewModel(d(5), d(0), d(0))

	pay := m.Slippage(d(100), Pay)
	if !pay.Equal(d(0.05)) {
		t.Errorf("pay slippage at 5 bps on 100 should be 0.05, got %s", pay)
	}

	recv := m.Slippage(d(100), Receive)
	if !recv.Equal(d(-0.05)) {
		t.Errorf("receive slippage should be -0.05, got %s", recv)
	}
}

func TestExecutionPrice_RoundTripNeverFavorable(t *testing.T) {
	// Buying then selling the same quoted price must never come out
	// ahead: exec(buy) >= quote >= exec(sell) for any non-negative bps.
	m, _ := NewModel(d(12), d(0), d(0))

	quotes := []float64{0.01, 1, 55.5, 100, 4999.99}
	for _, q := range quotes {
		buy := m.ExecutionPrice(d(q), Pay)
		sell := m.ExecutionPrice(d(q), Receive)
		if buy.LessThan(d(q)) {
			t.Errorf("buy exec %s below quote %v", buy, q)
		}
		if sell.GreaterThan(d(q)) {
			t.Errorf("sell exec %s above quote %v", sell, q)
		}
		if buy.Sub(sell).IsNegative() {
			t.Errorf("round trip favorable at quote %v: buy=%s sell=%s", q, buy, sell)
		}
	}
}

func TestExecutionPrice_ZeroBps(t *testing.T) {
	m, _ := NewModel(d(0), d(0), d(0))
	if !m.ExecutionPrice(d(123.45), Pay).Equal(d(123.45)) {
		t.Error("zero bps should not move the price")
	}
	if !m.ExecutionPrice(d(123.45), Receive).Equal(d(123.45)) {
		t.Error("zero bps should not move the price on sells")
	}
}

func TestCommission_PerShareAndFloor(t *testing.T) {
	m, _ := NewModel(d(0), d(0.005), d(1))

	// 100 shares * 0.005 = 0.50 → floored to 1.00
	if got := m.Commission(d(100)); !got.Equal(d(1)) {
		t.Errorf("expected floor 1.00, got %s", got)
	}
	// 1000 shares * 0.005 = 5.00 → above floor
	if got := m.Commission(d(1000)); !got.Equal(d(5)) {
		t.Errorf("expected 5.00, got %s", got)
	}
}

func TestCommission_NegativeSharesUseAbs(t *testing.T) {
	m, _ := NewModel(d(0), d(0.01), d(0))
	if got := m.Commission(d(-500)); !got.Equal(d(5)) {
		t.Errorf("expected 5.00 for -500 shares, got %s", got)
	}
}
