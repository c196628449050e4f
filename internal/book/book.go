// Package book retrieves candidate counter-orders under price-time
// priority (spec.md §4.3.2) and exposes a read-only top-of-book view for
// monitoring. Ownership of mutable order state is the database row lock
// acquired here, not any in-memory handle (spec.md §9): there is
// deliberately no in-process order book cache.
package book

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"ledger-exchange/internal/models"
	"ledger-exchange/internal/store"
)

// Book is the counter-order query surface shared by the Matcher and the
// read-only monitoring feed.
type Book struct {
	store *store.Store
}

// New constructs a Book over s.
func New(s *store.Store) *Book {
	return &Book{store: s}
}

// Candidates returns open counter-orders eligible to match an incoming
// order of the given side and limit, row-locked and ordered by
// price-time priority: best price first, earliest arrival breaking ties
// (spec.md §4.3.2), with order_id as the final deterministic tie-break
// (spec.md §5). Must run inside tx — the lock is released at commit.
func (b *Book) Candidates(ctx context.Context, tx *sql.Tx, symbol string, incomingIsBuy bool, limit decimal.Decimal) ([]*models.Order, error) {
	return b.store.CounterOrdersForUpdate(ctx, tx, symbol, incomingIsBuy, limit)
}

// Level is one aggregated price point for the read-only monitoring feed.
type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// TopOfBook aggregates the current resting book for symbol into up to
// depth bid levels (descending) and ask levels (ascending), without any
// lock — this is a best-effort snapshot for internal/monitor, never used
// by the matching path.
func (b *Book) TopOfBook(ctx context.Context, db *sql.DB, symbol string, depth int) (bids, asks []Level, err error) {
	bids, err = b.aggregate(ctx, db, symbol, true, depth)
	if err != nil {
		return nil, nil, err
	}
	asks, err = b.aggregate(ctx, db, symbol, false, depth)
	if err != nil {
		return nil, nil, err
	}
	return bids, asks, nil
}

func (b *Book) aggregate(ctx context.Context, db *sql.DB, symbol string, buySide bool, depth int) ([]Level, error) {
	sideFilter := "amount > 0"
	order := "limit_price DESC"
	if !buySide {
		sideFilter = "amount < 0"
		order = "limit_price ASC"
	}
	rows, err := db.QueryContext(ctx, `
		SELECT limit_price, SUM(remaining_amount)
		FROM orders
		WHERE symbol = $1 AND status = 'open' AND `+sideFilter+`
		GROUP BY limit_price
		ORDER BY `+order+`
		LIMIT $2
	`, symbol, depth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var levels []Level
	for rows.Next() {
		var l Level
		if err := rows.Scan(&l.Price, &l.Quantity); err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}
	return levels, rows.Err()
}
