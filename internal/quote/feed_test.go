package quote

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestSetGet(t *testing.T) {
	f := NewFeed()
	f.Set("AAPL", d(187.50))

	price, ok := f.Get("AAPL")
	if !ok {
		t.Fatal("expected a price for AAPL")
	}
	if !price.Equal(d(187.50)) {
		t.Errorf("price = %s, want 187.5", price)
	}
}

func TestGet_Missing(t *testing.T) {
	f := NewFeed()
	if _, ok := f.Get("MSFT"); ok {
		t.Error("expected no price for unknown ticker")
	}
}

func TestSet_Overwrites(t *testing.T) {
	f := NewFeed()
	f.Set("AAPL", d(100))
	f.Set("AAPL", d(105))

	price, _ := f.Get("AAPL")
	if !price.Equal(d(105)) {
		t.Errorf("price = %s, want 105", price)
	}
}

func TestSet_CaseInsensitiveTicker(t *testing.T) {
	f := NewFeed()
	f.Set("aapl", d(100))

	if _, ok := f.Get("AAPL"); !ok {
		t.Error("ticker lookup should be case-insensitive")
	}
}

func TestSet_RejectsNonPositive(t *testing.T) {
	f := NewFeed()
	f.Set("AAPL", decimal.Zero)
	f.Set("AAPL", d(-5))

	if _, ok := f.Get("AAPL"); ok {
		t.Error("non-positive prices should be dropped")
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	f := NewFeed()
	f.Set("AAPL", d(100))

	snap := f.Snapshot()
	snap["AAPL"] = d(1)

	price, _ := f.Get("AAPL")
	if !price.Equal(d(100)) {
		t.Error("mutating a snapshot should not affect the feed")
	}
}

func TestConcurrentAccess(t *testing.T) {
	f := NewFeed()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			f.Set("AAPL", d(float64(100+n)))
		}(i)
		go func() {
			defer wg.Done()
			f.Get("AAPL")
			f.Snapshot()
		}()
	}
	wg.Wait()

	if _, ok := f.Get("AAPL"); !ok {
		t.Error("expected a price after concurrent writes")
	}
}
