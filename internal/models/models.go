// Package models defines the core entities of the exchange: accounts,
// symbols, positions, orders and executions.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an Order.
type OrderStatus string

const (
	StatusOpen OrderStatus = "open"
	// StatusExecuted is terminal: remaining_amount has reached zero.
	StatusExecuted OrderStatus = "executed"
	// StatusCanceled is terminal. Spelled with one "l" everywhere — in the
	// column, in the wire protocol, in Go — resolving the source's
	// inconsistent "cancelled"/"canceled" spelling in favor of the query
	// path's spelling.
	StatusCanceled OrderStatus = "canceled"
)

// Account holds a tradable cash balance for one participant.
type Account struct {
	ID      string
	Balance decimal.Decimal
}

// Symbol is a traded instrument identifier.
type Symbol struct {
	Name string
}

// Position is a participant's share holding in one symbol.
type Position struct {
	AccountID string
	Symbol    string
	Amount    decimal.Decimal
}

// Order is a limit order. Amount is signed: positive is buy, negative is
// sell. The sign never changes after creation.
type Order struct {
	ID              int64
	AccountID       string
	Symbol          string
	Amount          decimal.Decimal // signed; |Amount| is the original size
	LimitPrice      decimal.Decimal
	RemainingAmount decimal.Decimal
	Status          OrderStatus
	TimeCreated     time.Time
}

// IsBuy reports whether the order is a buy (positive signed amount).
func (o *Order) IsBuy() bool {
	return o.Amount.IsPositive()
}

// AbsAmount returns the unsigned original order size.
func (o *Order) AbsAmount() decimal.Decimal {
	return o.Amount.Abs()
}

// IsOpenAndEligible reports whether o may be selected as a counter-order
// (spec.md §3 invariant 5, book discipline).
func (o *Order) IsOpenAndEligible() bool {
	return o.Status == StatusOpen && o.RemainingAmount.IsPositive()
}

// Execution is one fill (or, when Shares is zero, a cancellation marker)
// against an order. Append-only.
type Execution struct {
	OrderID      int64
	Shares       decimal.Decimal
	Price        decimal.Decimal
	TimeExecuted time.Time
}

// IsCancelMarker reports whether this execution row records a cancellation
// rather than a fill.
func (e *Execution) IsCancelMarker() bool {
	return e.Shares.IsZero()
}
