// Package store defines the persistence interface for the paper
// trading engine. Implementations include PostgreSQL (source of
// truth), Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finiq/paper-engine/internal/model"
)

// ErrNotFound is returned by lookups when no row matches. Callers
// distinguish "absent" from infrastructure failure with errors.Is.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. The engine serializes mutating
// calls; implementations guarantee that a Tx body is applied
// atomically (all writes commit or none do).
type Store interface {
	// --- Account ---

	// GetAccount returns the singleton account row.
	GetAccount(ctx context.Context) (*model.Account, error)

	// SaveAccount overwrites the account's cash and margin state.
	SaveAccount(ctx context.Context, acct *model.Account) error

	// UpdateSettings mutates the simulation parameters. Nil fields are
	// left unchanged.
	UpdateSettings(ctx context.Context, slippageBps, commissionPerShare *decimal.Decimal) error

	// --- Positions ---

	// GetPositions returns all open positions.
	GetPositions(ctx context.Context) ([]model.Position, error)

	// GetPosition returns the position for (ticker, side), or
	// ErrNotFound.
	GetPosition(ctx context.Context, ticker string, side model.Side) (*model.Position, error)

	// UpsertPosition creates or replaces the (ticker, side) row.
	UpsertPosition(ctx context.Context, pos *model.Position) error

	// DeletePosition removes the (ticker, side) row.
	DeletePosition(ctx context.Context, ticker string, side model.Side) error

	// --- Immutable transaction ledger ---

	// InsertTransaction appends an immutable trade record.
	InsertTransaction(ctx context.Context, txn *model.Transaction) error

	// GetTransactions returns up to limit records, newest first.
	// limit <= 0 means no limit.
	GetTransactions(ctx context.Context, limit int) ([]model.Transaction, error)

	// --- Pending orders ---

	// InsertOrder persists a new pending order.
	InsertOrder(ctx context.Context, ord *model.PendingOrder) error

	// GetOrder returns an order by ID, or ErrNotFound.
	GetOrder(ctx context.Context, id string) (*model.PendingOrder, error)

	// ListOrdersByStatus returns orders in the given state, newest
	// first.
	ListOrdersByStatus(ctx context.Context, status model.OrderStatus) ([]model.PendingOrder, error)

	// SetOrderStatus transitions an order from `from` to `to`,
	// guarding against double transitions. Returns false if the order
	// does not exist or was not in `from`.
	SetOrderStatus(ctx context.Context, id string, from, to model.OrderStatus, filledAt *time.Time) (bool, error)

	// ExpireOrders flips PENDING orders past their expiry to EXPIRED
	// and reports how many were flipped.
	ExpireOrders(ctx context.Context, now time.Time) (int, error)

	// --- Equity time series ---

	// InsertEquityPoint appends a point to the equity curve.
	InsertEquityPoint(ctx context.Context, pt *model.EquityPoint) error

	// GetEquityCurve returns up to limit points, oldest first.
	// limit <= 0 means no limit.
	GetEquityCurve(ctx context.Context, limit int) ([]model.EquityPoint, error)

	// LastEquityPoint returns the most recent point, or ErrNotFound
	// when the curve is empty.
	LastEquityPoint(ctx context.Context) (*model.EquityPoint, error)

	// UpsertDailySnapshot writes the snapshot keyed by its date.
	UpsertDailySnapshot(ctx context.Context, snap *model.DailySnapshot) error

	// GetDailySnapshots returns up to limit snapshots, oldest first.
	GetDailySnapshots(ctx context.Context, limit int) ([]model.DailySnapshot, error)

	// --- Lifecycle ---

	// Reset clears all state and reinstalls the given account row.
	Reset(ctx context.Context, initial *model.Account) error

	// Tx runs fn against a transactional view of the store. The
	// in-memory implementation relies on the engine's writer mutex;
	// the PostgreSQL implementation opens a database transaction.
	Tx(ctx context.Context, fn func(Store) error) error
}
