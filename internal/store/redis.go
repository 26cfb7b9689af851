package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/finiq/paper-engine/internal/model"
)

const (
	accountKey   = "paper:account"
	positionsKey = "paper:positions"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache for the hot valuation reads (account and open
// positions). Writes go to the primary store and invalidate the
// cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey, data, s.ttl)
	}
	return a, nil
}

func (s *CachedStore) GetPositions(ctx context.Context) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey, data, s.ttl)
	}
	return positions, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveAccount(ctx context.Context, acct *model.Account) error {
	if err := s.primary.SaveAccount(ctx, acct); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey)
	return nil
}

func (s *CachedStore) UpdateSettings(ctx context.Context, slippageBps, commissionPerShare *decimal.Decimal) error {
	if err := s.primary.UpdateSettings(ctx, slippageBps, commissionPerShare); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey)
	return nil
}

func (s *CachedStore) UpsertPosition(ctx context.Context, pos *model.Position) error {
	if err := s.primary.UpsertPosition(ctx, pos); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey)
	return nil
}

func (s *CachedStore) DeletePosition(ctx context.Context, ticker string, side model.Side) error {
	if err := s.primary.DeletePosition(ctx, ticker, side); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey)
	return nil
}

func (s *CachedStore) Reset(ctx context.Context, initial *model.Account) error {
	if err := s.primary.Reset(ctx, initial); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey, positionsKey)
	return nil
}

// Tx runs against the primary store; everything a transaction may
// have touched is invalidated afterwards.
func (s *CachedStore) Tx(ctx context.Context, fn func(Store) error) error {
	err := s.primary.Tx(ctx, fn)
	s.rdb.Del(ctx, accountKey, positionsKey)
	return err
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetPosition(ctx context.Context, ticker string, side model.Side) (*model.Position, error) {
	return s.primary.GetPosition(ctx, ticker, side)
}

func (s *CachedStore) InsertTransaction(ctx context.Context, txn *model.Transaction) error {
	return s.primary.InsertTransaction(ctx, txn)
}

func (s *CachedStore) GetTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	return s.primary.GetTransactions(ctx, limit)
}

func (s *CachedStore) InsertOrder(ctx context.Context, ord *model.PendingOrder) error {
	return s.primary.InsertOrder(ctx, ord)
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.PendingOrder, error) {
	return s.primary.GetOrder(ctx, id)
}

func (s *CachedStore) ListOrdersByStatus(ctx context.Context, status model.OrderStatus) ([]model.PendingOrder, error) {
	return s.primary.ListOrdersByStatus(ctx, status)
}

func (s *CachedStore) SetOrderStatus(ctx context.Context, id string, from, to model.OrderStatus, filledAt *time.Time) (bool, error) {
	return s.primary.SetOrderStatus(ctx, id, from, to, filledAt)
}

func (s *CachedStore) ExpireOrders(ctx context.Context, now time.Time) (int, error) {
	return s.primary.ExpireOrders(ctx, now)
}

func (s *CachedStore) InsertEquityPoint(ctx context.Context, pt *model.EquityPoint) error {
	return s.primary.InsertEquityPoint(ctx, pt)
}

func (s *CachedStore) GetEquityCurve(ctx context.Context, limit int) ([]model.EquityPoint, error) {
	return s.primary.GetEquityCurve(ctx, limit)
}

func (s *CachedStore) LastEquityPoint(ctx context.Context) (*model.EquityPoint, error) {
	return s.primary.LastEquityPoint(ctx)
}

func (s *CachedStore) UpsertDailySnapshot(ctx context.Context, snap *model.DailySnapshot) error {
	return s.primary.UpsertDailySnapshot(ctx, snap)
}

func (s *CachedStore) GetDailySnapshots(ctx context.Context, limit int) ([]model.DailySnapshot, error) {
	return s.primary.GetDailySnapshots(ctx, limit)
}
