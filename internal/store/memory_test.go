package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finiq/paper-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func testAccount() model.Account {
	now := time.Now().UTC()
	return model.Account{
		Cash:               d(100000),
		MarginUsed:         decimal.Zero,
		SlippageBps:        d(5),
		CommissionPerShare: d(0.005),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func pendingOrder(id string, expiresAt time.Time) *model.PendingOrder {
	now := time.Now().UTC()
	return &model.PendingOrder{
		ID:          id,
		Ticker:      "AAPL",
		AssetType:   "stock",
		OrderType:   model.OrderLimit,
		Side:        model.OrderBuy,
		Shares:      d(10),
		TargetPrice: d(90),
		Status:      model.OrderPending,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}
}

func TestGetPosition_NotFound(t *testing.T) {
	s := NewMemoryStore(testAccount())

	_, err := s.GetPosition(context.Background(), "AAPL", model.SideLong)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPositions_KeyedByTickerAndSide(t *testing.T) {
	s := NewMemoryStore(testAccount())
	ctx := context.Background()
	now := time.Now().UTC()

	long := &model.Position{Ticker: "AAPL", Side: model.SideLong, Shares: d(10), AvgCost: d(100), OpenedAt: now, UpdatedAt: now}
	short := &model.Position{Ticker: "AAPL", Side: model.SideShort, Shares: d(5), AvgCost: d(110), OpenedAt: now, UpdatedAt: now}
	s.UpsertPosition(ctx, long)
	s.UpsertPosition(ctx, short)

	positions, _ := s.GetPositions(ctx)
	if len(positions) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(positions))
	}

	if err := s.DeletePosition(ctx, "AAPL", model.SideLong); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetPosition(ctx, "AAPL", model.SideShort); err != nil {
		t.Errorf("short row should survive the long's deletion: %v", err)
	}
}

func TestSetOrderStatus_GuardsTransition(t *testing.T) {
	s := NewMemoryStore(testAccount())
	ctx := context.Background()

	s.InsertOrder(ctx, pendingOrder("o1", time.Now().Add(time.Hour)))

	ok, err := s.SetOrderStatus(ctx, "o1", model.OrderPending, model.OrderCancelled, nil)
	if err != nil || !ok {
		t.Fatalf("PENDING→CANCELLED should apply, ok=%v err=%v", ok, err)
	}

	// Terminal states never transition again.
	now := time.Now().UTC()
	ok, err = s.SetOrderStatus(ctx, "o1", model.OrderPending, model.OrderFilled, &now)
	if err != nil {
		t.Fatalf("guarded transition errored: %v", err)
	}
	if ok {
		t.Error("CANCELLED order must not move to FILLED")
	}

	ord, _ := s.GetOrder(ctx, "o1")
	if ord.Status != model.OrderCancelled {
		t.Errorf("status = %s, want CANCELLED", ord.Status)
	}
}

func TestSetOrderStatus_UnknownOrder(t *testing.T) {
	s := NewMemoryStore(testAccount())

	ok, err := s.SetOrderStatus(context.Background(), "missing", model.OrderPending, model.OrderCancelled, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("unknown order must not report a transition")
	}
}

func TestExpireOrders(t *testing.T) {
	s := NewMemoryStore(testAccount())
	ctx := context.Background()
	now := time.Now().UTC()

	s.InsertOrder(ctx, pendingOrder("live", now.Add(time.Hour)))
	s.InsertOrder(ctx, pendingOrder("stale", now.Add(-time.Hour)))

	n, err := s.ExpireOrders(ctx, now)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d orders, want 1", n)
	}

	pending, _ := s.ListOrdersByStatus(ctx, model.OrderPending)
	if len(pending) != 1 || pending[0].ID != "live" {
		t.Errorf("expected only the live order to stay pending")
	}
	stale, _ := s.GetOrder(ctx, "stale")
	if stale.Status != model.OrderExpired {
		t.Errorf("status = %s, want EXPIRED", stale.Status)
	}
}

func TestTransactions_NewestFirstWithLimit(t *testing.T) {
	s := NewMemoryStore(testAccount())
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"t1", "t2", "t3"} {
		s.InsertTransaction(ctx, &model.Transaction{
			ID: id, Ticker: "AAPL", Action: model.ActionBuy, Side: model.SideLong,
			Shares: d(1), Price: d(100), Total: d(100),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	txns, _ := s.GetTransactions(ctx, 0)
	if len(txns) != 3 || txns[0].ID != "t3" {
		t.Fatalf("expected newest first, got %+v", txns)
	}

	limited, _ := s.GetTransactions(ctx, 2)
	if len(limited) != 2 || limited[0].ID != "t3" {
		t.Errorf("limit should keep the newest records")
	}
}

func TestEquityCurve_OldestFirst(t *testing.T) {
	s := NewMemoryStore(testAccount())
	ctx := context.Background()

	base := time.Now().UTC()
	for i, v := range []float64{100000, 100500, 101000} {
		s.InsertEquityPoint(ctx, &model.EquityPoint{
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			TotalValue: d(v),
			Cash:       d(v),
		})
	}

	curve, _ := s.GetEquityCurve(ctx, 0)
	if len(curve) != 3 || !curve[0].TotalValue.Equal(d(100000)) {
		t.Fatalf("expected chronological order, got %+v", curve)
	}

	// A limit keeps the most recent points, still chronological.
	tail, _ := s.GetEquityCurve(ctx, 2)
	if len(tail) != 2 || !tail[0].TotalValue.Equal(d(100500)) {
		t.Errorf("limited curve should keep the newest points in order, got %+v", tail)
	}

	last, err := s.LastEquityPoint(ctx)
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if !last.TotalValue.Equal(d(101000)) {
		t.Errorf("last total = %s, want 101000", last.TotalValue)
	}
}

func TestReset_ClearsEverything(t *testing.T) {
	s := NewMemoryStore(testAccount())
	ctx := context.Background()
	now := time.Now().UTC()

	s.UpsertPosition(ctx, &model.Position{Ticker: "AAPL", Side: model.SideLong, Shares: d(10), AvgCost: d(100), OpenedAt: now, UpdatedAt: now})
	s.InsertTransaction(ctx, &model.Transaction{ID: "t1", Ticker: "AAPL", Action: model.ActionBuy, Side: model.SideLong, Shares: d(10), Price: d(100), Total: d(1000), Timestamp: now})
	s.InsertOrder(ctx, pendingOrder("o1", now.Add(time.Hour)))
	s.InsertEquityPoint(ctx, &model.EquityPoint{Timestamp: now, TotalValue: d(99000), Cash: d(99000)})

	fresh := testAccount()
	if err := s.Reset(ctx, &fresh); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if positions, _ := s.GetPositions(ctx); len(positions) != 0 {
		t.Error("positions survived reset")
	}
	if txns, _ := s.GetTransactions(ctx, 0); len(txns) != 0 {
		t.Error("transactions survived reset")
	}
	if orders, _ := s.ListOrdersByStatus(ctx, model.OrderPending); len(orders) != 0 {
		t.Error("orders survived reset")
	}
	if curve, _ := s.GetEquityCurve(ctx, 0); len(curve) != 0 {
		t.Error("equity curve survived reset")
	}
	acct, _ := s.GetAccount(ctx)
	if !acct.Cash.Equal(d(100000)) {
		t.Errorf("cash = %s, want 100000", acct.Cash)
	}
}
