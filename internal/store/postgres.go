package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/finiq/paper-engine/internal/model"
)

// pgxQuerier is the subset of pgx satisfied by both *pgxpool.Pool and
// pgx.Tx, letting the same store methods run inside or outside a
// transaction.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of
// truth. All monetary values are stored as NUMERIC for exact decimal
// precision.
type PostgresStore struct {
	db   pgxQuerier
	pool *pgxpool.Pool // nil inside a transaction
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool, pool: pool}
}

// InitSchema creates the tables if they do not exist and seeds the
// singleton account row.
func (s *PostgresStore) InitSchema(ctx context.Context, initial *model.Account) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS account (
			id INT PRIMARY KEY CHECK (id = 1),
			cash NUMERIC NOT NULL,
			margin_used NUMERIC NOT NULL DEFAULT 0,
			slippage_bps NUMERIC NOT NULL,
			commission_per_share NUMERIC NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			ticker TEXT NOT NULL,
			side TEXT NOT NULL,
			asset_type TEXT NOT NULL DEFAULT 'stock',
			shares NUMERIC NOT NULL,
			avg_cost NUMERIC NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (ticker, side)
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			ticker TEXT NOT NULL,
			asset_type TEXT NOT NULL DEFAULT 'stock',
			action TEXT NOT NULL,
			side TEXT NOT NULL,
			shares NUMERIC NOT NULL,
			price NUMERIC NOT NULL,
			slippage NUMERIC NOT NULL DEFAULT 0,
			commission NUMERIC NOT NULL DEFAULT 0,
			total NUMERIC NOT NULL,
			pnl NUMERIC,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS pending_orders (
			id UUID PRIMARY KEY,
			ticker TEXT NOT NULL,
			asset_type TEXT NOT NULL DEFAULT 'stock',
			order_type TEXT NOT NULL,
			side TEXT NOT NULL,
			shares NUMERIC NOT NULL,
			target_price NUMERIC NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			filled_at TIMESTAMPTZ,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS equity_curve (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			total_value NUMERIC NOT NULL,
			cash NUMERIC NOT NULL,
			positions_value NUMERIC NOT NULL,
			daily_return NUMERIC NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS daily_snapshots (
			date TEXT PRIMARY KEY,
			total_value NUMERIC NOT NULL,
			cash NUMERIC NOT NULL,
			positions_value NUMERIC NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO account (id, cash, margin_used, slippage_bps, commission_per_share)
		 VALUES (1, $1::NUMERIC, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC)
		 ON CONFLICT (id) DO NOTHING`,
		initial.Cash.String(), initial.MarginUsed.String(),
		initial.SlippageBps.String(), initial.CommissionPerShare.String(),
	)
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context) (*model.Account, error) {
	var a model.Account
	var cash, margin, bps, comm string

	err := s.db.QueryRow(ctx,
		`SELECT cash::TEXT, margin_used::TEXT, slippage_bps::TEXT,
		        commission_per_share::TEXT, created_at, updated_at
		 FROM account WHERE id = 1`).
		Scan(&cash, &margin, &bps, &comm, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	a.Cash, _ = decimal.NewFromString(cash)
	a.MarginUsed, _ = decimal.NewFromString(margin)
	a.SlippageBps, _ = decimal.NewFromString(bps)
	a.CommissionPerShare, _ = decimal.NewFromString(comm)

	return &a, nil
}

func (s *PostgresStore) SaveAccount(ctx context.Context, acct *model.Account) error {
	_, err := s.db.Exec(ctx,
		`UPDATE account
		 SET cash = $1::NUMERIC, margin_used = $2::NUMERIC, updated_at = now()
		 WHERE id = 1`,
		acct.Cash.String(), acct.MarginUsed.String(),
	)
	return err
}

func (s *PostgresStore) UpdateSettings(ctx context.Context, slippageBps, commissionPerShare *decimal.Decimal) error {
	if slippageBps != nil {
		if _, err := s.db.Exec(ctx,
			`UPDATE account SET slippage_bps = $1::NUMERIC, updated_at = now() WHERE id = 1`,
			slippageBps.String()); err != nil {
			return err
		}
	}
	if commissionPerShare != nil {
		if _, err := s.db.Exec(ctx,
			`UPDATE account SET commission_per_share = $1::NUMERIC, updated_at = now() WHERE id = 1`,
			commissionPerShare.String()); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) GetPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.db.Query(ctx,
		`SELECT ticker, side, asset_type, shares::TEXT, avg_cost::TEXT, opened_at, updated_at
		 FROM positions ORDER BY ticker, side`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var shares, avgCost string
		if err := rows.Scan(&p.Ticker, &p.Side, &p.AssetType,
			&shares, &avgCost, &p.OpenedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Shares, _ = decimal.NewFromString(shares)
		p.AvgCost, _ = decimal.NewFromString(avgCost)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) GetPosition(ctx context.Context, ticker string, side model.Side) (*model.Position, error) {
	var p model.Position
	var shares, avgCost string

	err := s.db.QueryRow(ctx,
		`SELECT ticker, side, asset_type, shares::TEXT, avg_cost::TEXT, opened_at, updated_at
		 FROM positions WHERE ticker = $1 AND side = $2`, ticker, side).
		Scan(&p.Ticker, &p.Side, &p.AssetType, &shares, &avgCost, &p.OpenedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get position %s/%s: %w", ticker, side, err)
	}

	p.Shares, _ = decimal.NewFromString(shares)
	p.AvgCost, _ = decimal.NewFromString(avgCost)
	return &p, nil
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, pos *model.Position) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO positions (ticker, side, asset_type, shares, avg_cost, opened_at, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, now())
		 ON CONFLICT (ticker, side) DO UPDATE
		 SET shares = EXCLUDED.shares, avg_cost = EXCLUDED.avg_cost, updated_at = now()`,
		pos.Ticker, pos.Side, pos.AssetType,
		pos.Shares.String(), pos.AvgCost.String(), pos.OpenedAt,
	)
	return err
}

func (s *PostgresStore) DeletePosition(ctx context.Context, ticker string, side model.Side) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM positions WHERE ticker = $1 AND side = $2`, ticker, side)
	return err
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	var pnl *string
	if t.PnL != nil {
		v := t.PnL.String()
		pnl = &v
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO transactions (id, ticker, asset_type, action, side, shares, price, slippage, commission, total, pnl, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12)`,
		t.ID, t.Ticker, t.AssetType, t.Action, t.Side,
		t.Shares.String(), t.Price.String(), t.Slippage.String(),
		t.Commission.String(), t.Total.String(), pnl, t.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	q := `SELECT id, ticker, asset_type, action, side,
	             shares::TEXT, price::TEXT, slippage::TEXT, commission::TEXT, total::TEXT,
	             pnl::TEXT, timestamp
	      FROM transactions ORDER BY timestamp DESC, id DESC`
	var rows pgx.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(ctx, q+` LIMIT $1`, limit)
	} else {
		rows, err = s.db.Query(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var shares, price, slip, comm, total string
		var pnl *string
		if err := rows.Scan(&t.ID, &t.Ticker, &t.AssetType, &t.Action, &t.Side,
			&shares, &price, &slip, &comm, &total, &pnl, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Shares, _ = decimal.NewFromString(shares)
		t.Price, _ = decimal.NewFromString(price)
		t.Slippage, _ = decimal.NewFromString(slip)
		t.Commission, _ = decimal.NewFromString(comm)
		t.Total, _ = decimal.NewFromString(total)
		if pnl != nil {
			v, _ := decimal.NewFromString(*pnl)
			t.PnL = &v
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *PostgresStore) InsertOrder(ctx context.Context, o *model.PendingOrder) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO pending_orders (id, ticker, asset_type, order_type, side, shares, target_price, status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9, $10)`,
		o.ID, o.Ticker, o.AssetType, o.OrderType, o.Side,
		o.Shares.String(), o.TargetPrice.String(), o.Status, o.CreatedAt, o.ExpiresAt,
	)
	return err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.PendingOrder, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, selectOrders+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (s *PostgresStore) ListOrdersByStatus(ctx context.Context, status model.OrderStatus) ([]model.PendingOrder, error) {
	rows, err := s.db.Query(ctx, selectOrders+` WHERE status = $1 ORDER BY created_at DESC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.PendingOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) SetOrderStatus(ctx context.Context, id string, from, to model.OrderStatus, filledAt *time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE pending_orders SET status = $3, filled_at = COALESCE($4, filled_at)
		 WHERE id = $1 AND status = $2`,
		id, from, to, filledAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ExpireOrders(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE pending_orders SET status = 'EXPIRED'
		 WHERE status = 'PENDING' AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) InsertEquityPoint(ctx context.Context, pt *model.EquityPoint) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO equity_curve (timestamp, total_value, cash, positions_value, daily_return)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC)`,
		pt.Timestamp, pt.TotalValue.String(), pt.Cash.String(),
		pt.PositionsValue.String(), pt.DailyReturn.String(),
	)
	return err
}

func (s *PostgresStore) GetEquityCurve(ctx context.Context, limit int) ([]model.EquityPoint, error) {
	// Take the newest rows, then flip to chronological order.
	q := `SELECT timestamp, total_value::TEXT, cash::TEXT, positions_value::TEXT, daily_return::TEXT
	      FROM equity_curve ORDER BY id DESC`
	var rows pgx.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(ctx, q+` LIMIT $1`, limit)
	} else {
		rows, err = s.db.Query(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.EquityPoint
	for rows.Next() {
		var pt model.EquityPoint
		var total, cash, posVal, ret string
		if err := rows.Scan(&pt.Timestamp, &total, &cash, &posVal, &ret); err != nil {
			return nil, err
		}
		pt.TotalValue, _ = decimal.NewFromString(total)
		pt.Cash, _ = decimal.NewFromString(cash)
		pt.PositionsValue, _ = decimal.NewFromString(posVal)
		pt.DailyReturn, _ = decimal.NewFromString(ret)
		points = append(points, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

func (s *PostgresStore) LastEquityPoint(ctx context.Context) (*model.EquityPoint, error) {
	var pt model.EquityPoint
	var total, cash, posVal, ret string

	err := s.db.QueryRow(ctx,
		`SELECT timestamp, total_value::TEXT, cash::TEXT, positions_value::TEXT, daily_return::TEXT
		 FROM equity_curve ORDER BY id DESC LIMIT 1`).
		Scan(&pt.Timestamp, &total, &cash, &posVal, &ret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("last equity point: %w", err)
	}

	pt.TotalValue, _ = decimal.NewFromString(total)
	pt.Cash, _ = decimal.NewFromString(cash)
	pt.PositionsValue, _ = decimal.NewFromString(posVal)
	pt.DailyReturn, _ = decimal.NewFromString(ret)
	return &pt, nil
}

func (s *PostgresStore) UpsertDailySnapshot(ctx context.Context, snap *model.DailySnapshot) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO daily_snapshots (date, total_value, cash, positions_value)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC)
		 ON CONFLICT (date) DO UPDATE
		 SET total_value = EXCLUDED.total_value, cash = EXCLUDED.cash,
		     positions_value = EXCLUDED.positions_value`,
		snap.Date, snap.TotalValue.String(), snap.Cash.String(), snap.PositionsValue.String(),
	)
	return err
}

func (s *PostgresStore) GetDailySnapshots(ctx context.Context, limit int) ([]model.DailySnapshot, error) {
	q := `SELECT date, total_value::TEXT, cash::TEXT, positions_value::TEXT
	      FROM daily_snapshots ORDER BY date DESC`
	var rows pgx.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(ctx, q+` LIMIT $1`, limit)
	} else {
		rows, err = s.db.Query(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.DailySnapshot
	for rows.Next() {
		var sn model.DailySnapshot
		var total, cash, posVal string
		if err := rows.Scan(&sn.Date, &total, &cash, &posVal); err != nil {
			return nil, err
		}
		sn.TotalValue, _ = decimal.NewFromString(total)
		sn.Cash, _ = decimal.NewFromString(cash)
		sn.PositionsValue, _ = decimal.NewFromString(posVal)
		snaps = append(snaps, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(snaps)-1; i < j; i, j = i+1, j-1 {
		snaps[i], snaps[j] = snaps[j], snaps[i]
	}
	return snaps, nil
}

func (s *PostgresStore) Reset(ctx context.Context, initial *model.Account) error {
	return s.Tx(ctx, func(st Store) error {
		ps := st.(*PostgresStore)
		for _, table := range []string{"positions", "transactions", "pending_orders", "equity_curve", "daily_snapshots"} {
			if _, err := ps.db.Exec(ctx, `DELETE FROM `+table); err != nil {
				return err
			}
		}
		_, err := ps.db.Exec(ctx,
			`UPDATE account
			 SET cash = $1::NUMERIC, margin_used = $2::NUMERIC,
			     slippage_bps = $3::NUMERIC, commission_per_share = $4::NUMERIC,
			     updated_at = now()
			 WHERE id = 1`,
			initial.Cash.String(), initial.MarginUsed.String(),
			initial.SlippageBps.String(), initial.CommissionPerShare.String(),
		)
		return err
	})
}

// Tx opens a database transaction and runs fn against a store bound
// to it. Nested calls reuse the surrounding transaction.
func (s *PostgresStore) Tx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresStore{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const selectOrders = `SELECT id, ticker, asset_type, order_type, side,
       shares::TEXT, target_price::TEXT, status, created_at, filled_at, expires_at
FROM pending_orders`

func scanOrder(row pgx.Row) (*model.PendingOrder, error) {
	var o model.PendingOrder
	var shares, target string
	if err := row.Scan(&o.ID, &o.Ticker, &o.AssetType, &o.OrderType, &o.Side,
		&shares, &target, &o.Status, &o.CreatedAt, &o.FilledAt, &o.ExpiresAt); err != nil {
		return nil, err
	}
	o.Shares, _ = decimal.NewFromString(shares)
	o.TargetPrice, _ = decimal.NewFromString(target)
	return &o, nil
}
