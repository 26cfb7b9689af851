package portfolio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finiq/paper-engine/internal/model"
	"github.com/finiq/paper-engine/internal/portfolio"
)

func prices(pairs ...any) map[string]decimal.Decimal {
	m := make(map[string]decimal.Decimal, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		m[pairs[i].(string)] = d(pairs[i+1].(float64))
	}
	return m
}

func TestLimitBuy_FillsAtOrBelowTarget(t *testing.T) {
	e, ms := newTestEngine(t)
	flatCosts(t, e)
	ctx := context.Background()

	ord, err := e.PlaceLimitOrder(ctx, "AAPL", model.OrderBuy, d(10), d(90), "stock", 0)
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if ord.Status != model.OrderPending {
		t.Fatalf("status = %s, want PENDING", ord.Status)
	}

	// Above target: untouched.
	fills, err := e.CheckAndFill(ctx, prices("AAPL", 95.0))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(fills) != 0 {
		t.Fatalf("expected no fills at 95, got %d", len(fills))
	}

	// At/below target: fills at the market print, not the target.
	fills, err = e.CheckAndFill(ctx, prices("AAPL", 88.0))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill at 88, got %d", len(fills))
	}
	if fills[0].Err != "" {
		t.Fatalf("fill error: %s", fills[0].Err)
	}
	if !fills[0].Fill.Price.Equal(d(88)) {
		t.Errorf("fill price = %s, want market 88", fills[0].Fill.Price)
	}

	stored, err := ms.GetOrder(ctx, ord.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != model.OrderFilled {
		t.Errorf("status = %s, want FILLED", stored.Status)
	}
	if stored.FilledAt == nil {
		t.Error("expected filled_at to be set")
	}

	// Re-sweep must not execute twice.
	fills, _ = e.CheckAndFill(ctx, prices("AAPL", 88.0))
	if len(fills) != 0 {
		t.Fatalf("order filled twice")
	}
	txns, _ := e.Transactions(ctx, 0)
	if len(txns) != 1 {
		t.Errorf("expected exactly 1 BUY transaction, got %d", len(txns))
	}
}

func TestLimitSell_FillsAtOrAboveTarget(t *testing.T) {
	e, _ := newTestEngine(t)
	flatCosts(t, e)
	ctx := context.Background()

	e.Buy(ctx, "AAPL", d(10), d(100), "stock")
	if _, err := e.PlaceLimitOrder(ctx, "AAPL", model.OrderSell, d(10), d(110), "stock", 0); err != nil {
		t.Fatalf("place order: %v", err)
	}

	fills, _ := e.CheckAndFill(ctx, prices("AAPL", 105.0))
	if len(fills) != 0 {
		t.Fatalf("limit sell fired below target")
	}

	fills, _ = e.CheckAndFill(ctx, prices("AAPL", 112.0))
	if len(fills) != 1 || fills[0].Err != "" {
		t.Fatalf("expected clean fill at 112, got %+v", fills)
	}
	if !fills[0].Fill.Price.Equal(d(112)) {
		t.Errorf("fill price = %s, want 112", fills[0].Fill.Price)
	}

	positions, _ := e.Positions(ctx)
	if len(positions) != 0 {
		t.Errorf("expected position closed by limit sell")
	}
}

func TestStopSell_TriggersAtOrBelowTarget(t *testing.T) {
	e, _ := newTestEngine(t)
	flatCosts(t, e)
	ctx := context.Background()

	e.Buy(ctx, "AAPL", d(10), d(100), "stock")
	if _, err := e.PlaceStopOrder(ctx, "AAPL", model.OrderSell, d(10), d(90), "stock", 0); err != nil {
		t.Fatalf("place order: %v", err)
	}

	fills, _ := e.CheckAndFill(ctx, prices("AAPL", 95.0))
	if len(fills) != 0 {
		t.Fatalf("stop-loss fired above target")
	}

	fills, _ = e.CheckAndFill(ctx, prices("AAPL", 85.0))
	if len(fills) != 1 || fills[0].Err != "" {
		t.Fatalf("expected stop-loss fill at 85, got %+v", fills)
	}
	if !fills[0].Fill.Price.Equal(d(85)) {
		t.Errorf("fill price = %s, want 85", fills[0].Fill.Price)
	}
}

func TestStopBuy_TriggersAtOrAboveTarget(t *testing.T) {
	e, _ := newTestEngine(t)
	flatCosts(t, e)
	ctx := context.Background()

	if _, err := e.PlaceStopOrder(ctx, "AAPL", model.OrderBuy, d(10), d(110), "stock", 0); err != nil {
		t.Fatalf("place order: %v", err)
	}

	fills, _ := e.CheckAndFill(ctx, prices("AAPL", 105.0))
	if len(fills) != 0 {
		t.Fatalf("stop-buy fired below target")
	}

	fills, _ = e.CheckAndFill(ctx, prices("AAPL", 115.0))
	if len(fills) != 1 || fills[0].Err != "" {
		t.Fatalf("expected stop-buy fill at 115, got %+v", fills)
	}
}

func TestCheckAndFill_MissingPriceSkipsOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	flatCosts(t, e)
	ctx := context.Background()

	ord, _ := e.PlaceLimitOrder(ctx, "AAPL", model.OrderBuy, d(10), d(90), "stock", 0)

	fills, err := e.CheckAndFill(ctx, prices("MSFT", 50.0))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(fills) != 0 {
		t.Fatalf("order without a quote must be skipped")
	}

	pending, _ := e.PendingOrders(ctx)
	if len(pending) != 1 || pending[0].ID != ord.ID {
		t.Error("order should remain pending")
	}
}

func TestOrder_LazyExpiration(t *testing.T) {
	e, ms := newTestEngine(t)
	flatCosts(t, e)
	ctx := context.Background()

	ord, err := e.PlaceLimitOrder(ctx, "AAPL", model.OrderBuy, d(10), d(90), "stock", time.Millisecond)
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	pending, err := e.PendingOrders(ctx)
	if err != nil {
		t.Fatalf("pending orders: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expired order still listed as pending")
	}

	stored, _ := ms.GetOrder(ctx, ord.ID)
	if stored.Status != model.OrderExpired {
		t.Errorf("status = %s, want EXPIRED", stored.Status)
	}

	// An expired order never fills, even at its target.
	fills, _ := e.CheckAndFill(ctx, prices("AAPL", 80.0))
	if len(fills) != 0 {
		t.Error("expired order executed")
	}
}

func TestCancelOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	flatCosts(t, e)
	ctx := context.Background()

	ord, _ := e.PlaceLimitOrder(ctx, "AAPL", model.OrderBuy, d(10), d(90), "stock", 0)

	cancelled, err := e.CancelOrder(ctx, ord.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != model.OrderCancelled {
		t.Errorf("status = %s, want CANCELLED", cancelled.Status)
	}

	// Cancelling again is a no-op, not an error.
	again, err := e.CancelOrder(ctx, ord.ID)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if again.Status != model.OrderCancelled {
		t.Errorf("status = %s, want CANCELLED", again.Status)
	}

	// Unknown ID.
	if _, err := e.CancelOrder(ctx, "no-such-order"); !errors.Is(err, portfolio.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}

	// A cancelled order never fills.
	fills, _ := e.CheckAndFill(ctx, prices("AAPL", 80.0))
	if len(fills) != 0 {
		t.Error("cancelled order executed")
	}
}

func TestOrderFill_ExecutionFailureRecorded(t *testing.T) {
	e, ms := newTestEngine(t)
	flatCosts(t, e)
	ctx := context.Background()

	// Order larger than the account can afford at fill time.
	ord, _ := e.PlaceLimitOrder(ctx, "AAPL", model.OrderBuy, d(10000), d(90), "stock", 0)

	fills, err := e.CheckAndFill(ctx, prices("AAPL", 88.0))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 result, got %d", len(fills))
	}
	if fills[0].Err == "" {
		t.Fatal("expected an execution error on the fill record")
	}
	if fills[0].Fill != nil {
		t.Error("failed execution must not carry a fill")
	}

	// The order was consumed regardless.
	stored, _ := ms.GetOrder(ctx, ord.ID)
	if stored.Status != model.OrderFilled {
		t.Errorf("status = %s, want FILLED", stored.Status)
	}
	txns, _ := e.Transactions(ctx, 0)
	if len(txns) != 0 {
		t.Errorf("failed execution must not write a transaction, got %d", len(txns))
	}
}

func TestPlaceOrder_Validation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.PlaceLimitOrder(ctx, "AAPL", "HOLD", d(10), d(90), "stock", 0); !errors.Is(err, portfolio.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for bad side, got %v", err)
	}
	if _, err := e.PlaceLimitOrder(ctx, "", model.OrderBuy, d(10), d(90), "stock", 0); !errors.Is(err, portfolio.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty ticker, got %v", err)
	}
	if _, err := e.PlaceStopOrder(ctx, "AAPL", model.OrderBuy, d(10), decimal.Zero, "stock", 0); !errors.Is(err, portfolio.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for zero target, got %v", err)
	}
}

func TestPlaceOrder_DefaultTTL(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	ord, err := e.PlaceLimitOrder(ctx, "AAPL", model.OrderBuy, d(10), d(90), "stock", 0)
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	ttl := ord.ExpiresAt.Sub(ord.CreatedAt)
	if ttl != portfolio.DefaultOrderTTL {
		t.Errorf("ttl = %s, want %s", ttl, portfolio.DefaultOrderTTL)
	}
}
