// Package matcher implements the execution loop described in spec.md
// §4.3.3: for one newly-accepted order, repeatedly consume counter-orders
// from the Book under price-time priority, compute execution price and
// quantity, and settle funds and shares. Matcher and Book share one
// database transaction per order request (spec.md §4.3.1).
package matcher

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"ledger-exchange/internal/book"
	"ledger-exchange/internal/models"
	"ledger-exchange/internal/store"
)

// Matcher runs the execution loop for one incoming order against the Book.
type Matcher struct {
	store *store.Store
	book  *book.Book
}

// New constructs a Matcher.
func New(s *store.Store, b *book.Book) *Matcher {
	return &Matcher{store: s, book: b}
}

// Execution is one fill produced by a Match call, reported back to the
// caller for wire-protocol purposes (query and cancel responses read the
// persisted Execution rows directly, so this is informational only).
type Execution struct {
	CounterOrderID int64
	Shares         decimal.Decimal
	Price          decimal.Decimal
}

// Match runs the execution loop for order, which must already be inserted
// with status=open and a pre-debited submitter (spec.md §4.3.1). It must
// run inside tx, the same transaction that inserted order. Returns the
// fills produced against resting counter-orders.
func (m *Matcher) Match(ctx context.Context, tx *sql.Tx, order *models.Order) ([]Execution, error) {
	isBuy := order.IsBuy()

	candidates, err := m.book.Candidates(ctx, tx, order.Symbol, isBuy, order.LimitPrice)
	if err != nil {
		return nil, fmt.Errorf("matcher: candidates for order %d: %w", order.ID, err)
	}

	var fills []Execution
	remaining := order.RemainingAmount

	for _, counter := range candidates {
		if remaining.IsZero() {
			break
		}

		execPrice := order.LimitPrice
		if counter.TimeCreated.Before(order.TimeCreated) {
			execPrice = counter.LimitPrice
		}

		execQty := remaining
		if counter.RemainingAmount.LessThan(execQty) {
			execQty = counter.RemainingAmount
		}

		if err := m.recordFill(ctx, tx, order, counter, execQty, execPrice); err != nil {
			return nil, err
		}

		remaining = remaining.Sub(execQty)
		order.RemainingAmount = remaining
		counter.RemainingAmount = counter.RemainingAmount.Sub(execQty)

		counterStatus := counter.Status
		if counter.RemainingAmount.IsZero() {
			counterStatus = models.StatusExecuted
		}
		if err := m.store.UpdateOrderProgress(ctx, tx, counter.ID, counter.RemainingAmount, counterStatus); err != nil {
			return nil, fmt.Errorf("matcher: update counter order %d: %w", counter.ID, err)
		}
		counter.Status = counterStatus

		if err := m.settle(ctx, tx, order, counter, execQty, execPrice); err != nil {
			return nil, err
		}

		fills = append(fills, Execution{CounterOrderID: counter.ID, Shares: execQty, Price: execPrice})

		log.Debug().
			Int64("order_id", order.ID).
			Int64("counter_id", counter.ID).
			Str("symbol", order.Symbol).
			Str("shares", execQty.String()).
			Str("price", execPrice.String()).
			Msg("execution")
	}

	finalStatus := order.Status
	if remaining.IsZero() {
		finalStatus = models.StatusExecuted
	}
	if err := m.store.UpdateOrderProgress(ctx, tx, order.ID, remaining, finalStatus); err != nil {
		return nil, fmt.Errorf("matcher: update order %d: %w", order.ID, err)
	}
	order.Status = finalStatus

	return fills, nil
}

// recordFill inserts the paired execution rows for order and counter.
func (m *Matcher) recordFill(ctx context.Context, tx *sql.Tx, order, counter *models.Order, qty, price decimal.Decimal) error {
	forOrder := &models.Execution{OrderID: order.ID, Shares: qty, Price: price}
	if err := m.store.InsertExecution(ctx, tx, forOrder); err != nil {
		return fmt.Errorf("matcher: record fill for order %d: %w", order.ID, err)
	}
	forCounter := &models.Execution{OrderID: counter.ID, Shares: qty, Price: price}
	if err := m.store.InsertExecution(ctx, tx, forCounter); err != nil {
		return fmt.Errorf("matcher: record fill for counter %d: %w", counter.ID, err)
	}
	return nil
}

// settle applies the fund/share movements for one fill (spec.md §4.3.3
// step 6): the seller is credited in cash, the buyer's position grows,
// and — because the buyer was pre-debited at their limit price — any
// price improvement is refunded to the buyer.
func (m *Matcher) settle(ctx context.Context, tx *sql.Tx, order, counter *models.Order, qty, price decimal.Decimal) error {
	var buyer, seller string
	var buyerLimit decimal.Decimal
	if order.IsBuy() {
		buyer, seller = order.AccountID, counter.AccountID
		buyerLimit = order.LimitPrice
	} else {
		buyer, seller = counter.AccountID, order.AccountID
		buyerLimit = counter.LimitPrice
	}

	proceeds := qty.Mul(price)
	if err := m.store.AdjustBalance(ctx, tx, seller, proceeds); err != nil {
		return fmt.Errorf("matcher: credit seller %s: %w", seller, err)
	}

	if err := m.store.CreditPosition(ctx, tx, buyer, order.Symbol, qty); err != nil {
		return fmt.Errorf("matcher: credit buyer position %s: %w", buyer, err)
	}

	if buyerLimit.GreaterThan(price) {
		refund := qty.Mul(buyerLimit.Sub(price))
		if err := m.store.AdjustBalance(ctx, tx, buyer, refund); err != nil {
			return fmt.Errorf("matcher: refund buyer %s: %w", buyer, err)
		}
	}

	return nil
}
