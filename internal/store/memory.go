package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finiq/paper-engine/internal/model"
)

type posKey struct {
	ticker string
	side   model.Side
}

// MemoryStore implements Store with in-memory maps and slices. Used
// for testing and development. Not suitable for production (no
// persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	account   model.Account
	positions map[posKey]*model.Position
	txns      []model.Transaction
	orders    map[string]*model.PendingOrder
	orderSeq  []string // insertion order for stable listings
	equity    []model.EquityPoint
	snapshots map[string]*model.DailySnapshot
}

// NewMemoryStore creates an in-memory store seeded with the given
// account state.
func NewMemoryStore(initial model.Account) *MemoryStore {
	s := &MemoryStore{}
	s.install(initial)
	return s
}

func (s *MemoryStore) install(acct model.Account) {
	s.account = acct
	s.positions = make(map[posKey]*model.Position)
	s.txns = nil
	s.orders = make(map[string]*model.PendingOrder)
	s.orderSeq = nil
	s.equity = nil
	s.snapshots = make(map[string]*model.DailySnapshot)
}

func (s *MemoryStore) GetAccount(_ context.Context) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct := s.account
	return &acct, nil
}

func (s *MemoryStore) SaveAccount(_ context.Context, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.account = *acct
	s.account.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateSettings(_ context.Context, slippageBps, commissionPerShare *decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slippageBps != nil {
		s.account.SlippageBps = *slippageBps
	}
	if commissionPerShare != nil {
		s.account.CommissionPerShare = *commissionPerShare
	}
	s.account.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetPositions(_ context.Context) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		positions = append(positions, *p)
	}
	// Stable order for callers and tests.
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Ticker != positions[j].Ticker {
			return positions[i].Ticker < positions[j].Ticker
		}
		return positions[i].Side < positions[j].Side
	})
	return positions, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, ticker string, side model.Side) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[posKey{ticker, side}]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *pos
	s.positions[posKey{pos.Ticker, pos.Side}] = &copy
	return nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, ticker string, side model.Side) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.positions, posKey{ticker, side})
	return nil
}

func (s *MemoryStore) InsertTransaction(_ context.Context, txn *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txns = append(s.txns, *txn)
	return nil
}

func (s *MemoryStore) GetTransactions(_ context.Context, limit int) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest first.
	result := make([]model.Transaction, 0, len(s.txns))
	for i := len(s.txns) - 1; i >= 0; i-- {
		result = append(result, s.txns[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertOrder(_ context.Context, ord *model.PendingOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *ord
	s.orders[ord.ID] = &copy
	s.orderSeq = append(s.orderSeq, ord.ID)
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.PendingOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *o
	return &copy, nil
}

func (s *MemoryStore) ListOrdersByStatus(_ context.Context, status model.OrderStatus) ([]model.PendingOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PendingOrder
	for i := len(s.orderSeq) - 1; i >= 0; i-- {
		if o := s.orders[s.orderSeq[i]]; o != nil && o.Status == status {
			result = append(result, *o)
		}
	}
	return result, nil
}

func (s *MemoryStore) SetOrderStatus(_ context.Context, id string, from, to model.OrderStatus, filledAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return false, nil
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	if filledAt != nil {
		t := *filledAt
		o.FilledAt = &t
	}
	return true, nil
}

func (s *MemoryStore) ExpireOrders(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for _, o := range s.orders {
		if o.Status == model.OrderPending && o.ExpiresAt.Before(now) {
			o.Status = model.OrderExpired
			expired++
		}
	}
	return expired, nil
}

func (s *MemoryStore) InsertEquityPoint(_ context.Context, pt *model.EquityPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.equity = append(s.equity, *pt)
	return nil
}

func (s *MemoryStore) GetEquityCurve(_ context.Context, limit int) ([]model.EquityPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.equity
	if limit > 0 && len(points) > limit {
		points = points[len(points)-limit:]
	}
	result := make([]model.EquityPoint, len(points))
	copy(result, points)
	return result, nil
}

func (s *MemoryStore) LastEquityPoint(_ context.Context) (*model.EquityPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.equity) == 0 {
		return nil, ErrNotFound
	}
	pt := s.equity[len(s.equity)-1]
	return &pt, nil
}

func (s *MemoryStore) UpsertDailySnapshot(_ context.Context, snap *model.DailySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *snap
	s.snapshots[snap.Date] = &copy
	return nil
}

func (s *MemoryStore) GetDailySnapshots(_ context.Context, limit int) ([]model.DailySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := make([]model.DailySnapshot, 0, len(s.snapshots))
	for _, sn := range s.snapshots {
		snaps = append(snaps, *sn)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Date < snaps[j].Date })
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[len(snaps)-limit:]
	}
	return snaps, nil
}

func (s *MemoryStore) Reset(_ context.Context, initial *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.install(*initial)
	return nil
}

// Tx runs fn directly against the store. The engine holds an
// exclusive writer section across every mutating call, so the
// in-memory implementation needs no extra isolation.
func (s *MemoryStore) Tx(_ context.Context, fn func(Store) error) error {
	return fn(s)
}
