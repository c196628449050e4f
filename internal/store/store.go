// Package store provides transactional access to accounts, symbols,
// positions, orders and executions — the relational state backing the
// exchange. It assumes the schema in schema.sql already exists (spec.md
// §6: "the server assumes the schema pre-exists").
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"ledger-exchange/internal/config"
	"ledger-exchange/internal/models"
)

// Connect opens the process-wide connection pool against cfg.DatabaseDSN.
// The pool is process-wide state with init-at-start/close-at-shutdown
// lifecycle (spec.md §9, "Process-wide pool") — callers own the returned
// *sql.DB and should Close it on shutdown; Connect never stores it in a
// package-level singleton so tests can substitute their own.
func Connect(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("store: open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)

	log.Info().Int("max_open_conns", cfg.DBMaxOpenConns).Msg("database connection pool ready")
	return db, nil
}

// Querier is satisfied by both *sql.DB and *sql.Tx, letting read-only
// helpers run either standalone or as part of an in-flight transaction.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store wraps the shared *sql.DB with the exchange's queries.
type Store struct {
	db *sql.DB
}

// New constructs a Store over an already-connected pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying pool for read-only queries that do not need a
// transaction (e.g. a plain, unlocked order lookup for <query>).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Begin starts a new transaction. spec.md §5: a single order or cancel
// request is a single transaction, committed on success, rolled back on
// any error (a query request reads through DB without one).
func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	return tx, nil
}

// --- Accounts ---------------------------------------------------------

// CreateAccount idempotently inserts an account. inserted is false (and no
// error) when the account already existed — the spec.md §4.1 "ON CONFLICT
// DO NOTHING" contract.
func (s *Store) CreateAccount(ctx context.Context, q Querier, id string, balance decimal.Decimal) (inserted bool, err error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO accounts (account_id, balance) VALUES ($1, $2)
		ON CONFLICT (account_id) DO NOTHING
	`, id, balance)
	if err != nil {
		return false, fmt.Errorf("store: insert account %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: rows affected for account %s: %w", id, err)
	}
	return n > 0, nil
}

// AccountExists reports whether account id is provisioned.
func (s *Store) AccountExists(ctx context.Context, q Querier, id string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE account_id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: account exists check for %s: %w", id, err)
	}
	return exists, nil
}

// BalanceForUpdate locks and returns the account's balance. Must be called
// inside a transaction.
func (s *Store) BalanceForUpdate(ctx context.Context, tx *sql.Tx, id string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE account_id = $1 FOR UPDATE`, id).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, ErrAccountNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("store: balance for update %s: %w", id, err)
	}
	return balance, nil
}

// AdjustBalance adds delta (may be negative) to the account's balance.
func (s *Store) AdjustBalance(ctx context.Context, q Querier, id string, delta decimal.Decimal) error {
	_, err := q.ExecContext(ctx, `UPDATE accounts SET balance = balance + $1 WHERE account_id = $2`, delta, id)
	if err != nil {
		return fmt.Errorf("store: adjust balance for %s: %w", id, err)
	}
	return nil
}

// --- Symbols ------------------------------------------------------------

// UpsertSymbol idempotently inserts a symbol.
func (s *Store) UpsertSymbol(ctx context.Context, q Querier, name string) error {
	_, err := q.ExecContext(ctx, `INSERT INTO symbols (symbol) VALUES ($1) ON CONFLICT DO NOTHING`, name)
	if err != nil {
		return fmt.Errorf("store: upsert symbol %s: %w", name, err)
	}
	return nil
}

// --- Positions ------------------------------------------------------------

// PositionForUpdate locks and returns the (account, symbol) position. ok is
// false when no row exists yet (treated as a zero position).
func (s *Store) PositionForUpdate(ctx context.Context, tx *sql.Tx, accountID, symbol string) (amount decimal.Decimal, ok bool, err error) {
	err = tx.QueryRowContext(ctx, `
		SELECT amount FROM positions WHERE account_id = $1 AND symbol = $2 FOR UPDATE
	`, accountID, symbol).Scan(&amount)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("store: position for update %s/%s: %w", accountID, symbol, err)
	}
	return amount, true, nil
}

// DebitPosition subtracts amount from an existing, already-locked position
// row. Callers must have verified sufficient shares via PositionForUpdate
// first.
func (s *Store) DebitPosition(ctx context.Context, q Querier, accountID, symbol string, amount decimal.Decimal) error {
	_, err := q.ExecContext(ctx, `
		UPDATE positions SET amount = amount - $1 WHERE account_id = $2 AND symbol = $3
	`, amount, accountID, symbol)
	if err != nil {
		return fmt.Errorf("store: debit position %s/%s: %w", accountID, symbol, err)
	}
	return nil
}

// CreditPosition additively upserts amount into a position, creating the
// row if needed (spec.md §4.1/§4.3.3 additive upsert).
func (s *Store) CreditPosition(ctx context.Context, q Querier, accountID, symbol string, amount decimal.Decimal) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO positions (account_id, symbol, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, symbol)
		DO UPDATE SET amount = positions.amount + EXCLUDED.amount
	`, accountID, symbol, amount)
	if err != nil {
		return fmt.Errorf("store: credit position %s/%s: %w", accountID, symbol, err)
	}
	return nil
}

// --- Orders ------------------------------------------------------------

// InsertOrder inserts a new open order, filling in o.ID and o.TimeCreated
// from the database-assigned values.
func (s *Store) InsertOrder(ctx context.Context, q Querier, o *models.Order) error {
	row := q.QueryRowContext(ctx, `
		INSERT INTO orders (account_id, symbol, amount, limit_price, remaining_amount, status, time_created)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING order_id, time_created
	`, o.AccountID, o.Symbol, o.Amount, o.LimitPrice, o.RemainingAmount, o.Status)
	if err := row.Scan(&o.ID, &o.TimeCreated); err != nil {
		return fmt.Errorf("store: insert order: %w", err)
	}
	return nil
}

// CounterOrdersForUpdate returns candidate counter-orders for an incoming
// order of the given side, under row-level exclusive lock, ordered by
// price-time priority (spec.md §4.3.2), with order_id as the final
// deterministic tie-break (spec.md §5).
func (s *Store) CounterOrdersForUpdate(ctx context.Context, tx *sql.Tx, symbol string, incomingIsBuy bool, limit decimal.Decimal) ([]*models.Order, error) {
	var rows *sql.Rows
	var err error
	if incomingIsBuy {
		rows, err = tx.QueryContext(ctx, `
			SELECT order_id, account_id, symbol, amount, limit_price, remaining_amount, status, time_created
			FROM orders
			WHERE symbol = $1 AND status = 'open' AND amount < 0 AND limit_price <= $2
			ORDER BY limit_price ASC, time_created ASC, order_id ASC
			FOR UPDATE
		`, symbol, limit)
	} else {
		rows, err = tx.QueryContext(ctx, `
			SELECT order_id, account_id, symbol, amount, limit_price, remaining_amount, status, time_created
			FROM orders
			WHERE symbol = $1 AND status = 'open' AND amount > 0 AND limit_price >= $2
			ORDER BY limit_price DESC, time_created ASC, order_id ASC
			FOR UPDATE
		`, symbol, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: select counter orders for %s: %w", symbol, err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.AccountID, &o.Symbol, &o.Amount, &o.LimitPrice, &o.RemainingAmount, &o.Status, &o.TimeCreated); err != nil {
			return nil, fmt.Errorf("store: scan counter order: %w", err)
		}
		orders = append(orders, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate counter orders: %w", err)
	}
	return orders, nil
}

// UpdateOrderProgress persists an order's remaining amount and status after
// a fill or cancellation.
func (s *Store) UpdateOrderProgress(ctx context.Context, q Querier, orderID int64, remaining decimal.Decimal, status models.OrderStatus) error {
	_, err := q.ExecContext(ctx, `
		UPDATE orders SET remaining_amount = $1, status = $2 WHERE order_id = $3
	`, remaining, status, orderID)
	if err != nil {
		return fmt.Errorf("store: update order %d progress: %w", orderID, err)
	}
	return nil
}

// GetOrder fetches an order by ID without locking.
func (s *Store) GetOrder(ctx context.Context, q Querier, orderID int64) (*models.Order, error) {
	return s.scanOrder(q.QueryRowContext(ctx, `
		SELECT order_id, account_id, symbol, amount, limit_price, remaining_amount, status, time_created
		FROM orders WHERE order_id = $1
	`, orderID))
}

// GetOrderForUpdate fetches and locks an order by ID.
func (s *Store) GetOrderForUpdate(ctx context.Context, tx *sql.Tx, orderID int64) (*models.Order, error) {
	return s.scanOrder(tx.QueryRowContext(ctx, `
		SELECT order_id, account_id, symbol, amount, limit_price, remaining_amount, status, time_created
		FROM orders WHERE order_id = $1 FOR UPDATE
	`, orderID))
}

func (s *Store) scanOrder(row *sql.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.AccountID, &o.Symbol, &o.Amount, &o.LimitPrice, &o.RemainingAmount, &o.Status, &o.TimeCreated)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan order: %w", err)
	}
	return &o, nil
}

// --- Executions ---------------------------------------------------------

// InsertExecution appends an execution row, filling in e.TimeExecuted.
func (s *Store) InsertExecution(ctx context.Context, q Querier, e *models.Execution) error {
	row := q.QueryRowContext(ctx, `
		INSERT INTO executions (order_id, shares, price, time_executed)
		VALUES ($1, $2, $3, NOW())
		RETURNING time_executed
	`, e.OrderID, e.Shares, e.Price)
	if err := row.Scan(&e.TimeExecuted); err != nil {
		return fmt.Errorf("store: insert execution for order %d: %w", e.OrderID, err)
	}
	return nil
}

// Fills returns all shares>0 executions for an order, ordered by time.
func (s *Store) Fills(ctx context.Context, q Querier, orderID int64) ([]*models.Execution, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT order_id, shares, price, time_executed FROM executions
		WHERE order_id = $1 AND shares > 0
		ORDER BY time_executed, order_id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("store: fills for order %d: %w", orderID, err)
	}
	defer rows.Close()

	var fills []*models.Execution
	for rows.Next() {
		var e models.Execution
		if err := rows.Scan(&e.OrderID, &e.Shares, &e.Price, &e.TimeExecuted); err != nil {
			return nil, fmt.Errorf("store: scan fill: %w", err)
		}
		fills = append(fills, &e)
	}
	return fills, rows.Err()
}

// CancelMarker returns the (shares=0, price=0) execution row recording an
// order's cancellation, if any.
func (s *Store) CancelMarker(ctx context.Context, q Querier, orderID int64) (*models.Execution, error) {
	var e models.Execution
	err := q.QueryRowContext(ctx, `
		SELECT order_id, shares, price, time_executed FROM executions
		WHERE order_id = $1 AND shares = 0
		ORDER BY time_executed DESC LIMIT 1
	`, orderID).Scan(&e.OrderID, &e.Shares, &e.Price, &e.TimeExecuted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: cancel marker for order %d: %w", orderID, err)
	}
	return &e, nil
}
