// Package txn implements the TxnHandler: dispatching order/query/cancel
// children of a <transactions id=ACCT> envelope (spec.md §4.2-§4.5).
package txn

import (
	"context"
	"errors"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"ledger-exchange/internal/matcher"
	"ledger-exchange/internal/models"
	"ledger-exchange/internal/store"
	"ledger-exchange/internal/wire"
)

// Handler dispatches transaction children against the store and matcher.
type Handler struct {
	store   *store.Store
	matcher *matcher.Matcher
}

// New constructs a Handler.
func New(s *store.Store, m *matcher.Matcher) *Handler {
	return &Handler{store: s, matcher: m}
}

// Handle processes one <transactions id=ACCT> envelope's children in
// document order. If ACCT does not exist, every child is answered with
// "Invalid account" (spec.md §4.2 preflight); otherwise children are
// independent units, executed sequentially.
func (h *Handler) Handle(ctx context.Context, accountID string, txnsEl wire.Element) wire.Results {
	exists, err := h.store.AccountExists(ctx, h.store.DB(), accountID)
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("account exists check for transactions envelope")
		exists = false
	}

	var results wire.Results
	for _, child := range txnsEl.Children {
		switch child.Tag {
		case "order":
			if !exists {
				results = append(results, invalidAccountOrder(child))
				continue
			}
			results = append(results, h.handleOrder(ctx, accountID, child))
		case "query":
			if !exists {
				results = append(results, invalidAccountByID(child))
				continue
			}
			results = append(results, h.handleQuery(ctx, child))
		case "cancel":
			if !exists {
				results = append(results, invalidAccountByID(child))
				continue
			}
			results = append(results, h.handleCancel(ctx, child))
		default:
			log.Warn().Str("tag", child.Tag).Msg("unknown transaction child tag, dropped")
		}
	}
	return results
}

func invalidAccountOrder(el wire.Element) wire.Outcome {
	return wire.Error([]wire.KV{
		{Key: "sym", Val: el.Attr("sym")},
		{Key: "amount", Val: el.Attr("amount")},
		{Key: "limit", Val: el.Attr("limit")},
	}, "Invalid account")
}

func invalidAccountByID(el wire.Element) wire.Outcome {
	return wire.Error([]wire.KV{{Key: "id", Val: el.Attr("id")}}, "Invalid account")
}

// handleOrder implements spec.md §4.3.1: pre-debit the submitter, insert
// the order, then run the Matcher inside the same transaction.
func (h *Handler) handleOrder(ctx context.Context, accountID string, el wire.Element) wire.Outcome {
	sym := el.Attr("sym")
	amountStr := el.Attr("amount")
	limitStr := el.Attr("limit")
	orderAttrs := []wire.KV{{Key: "sym", Val: sym}, {Key: "amount", Val: amountStr}, {Key: "limit", Val: limitStr}}

	amount, err1 := decimal.NewFromString(amountStr)
	limit, err2 := decimal.NewFromString(limitStr)
	if err1 != nil || err2 != nil || amount.IsZero() || !limit.IsPositive() {
		return wire.Error(orderAttrs, "Invalid amount or limit value")
	}

	tx, err := h.store.Begin(ctx)
	if err != nil {
		log.Error().Err(err).Msg("begin transaction for order")
		return wire.Error(orderAttrs, "Database error")
	}

	isBuy := amount.IsPositive()
	absAmount := amount.Abs()

	if isBuy {
		balance, err := h.store.BalanceForUpdate(ctx, tx, accountID)
		if err != nil {
			tx.Rollback()
			if errors.Is(err, store.ErrAccountNotFound) {
				return wire.Error(orderAttrs, "Account not found")
			}
			log.Error().Err(err).Msg("balance lookup for order")
			return wire.Error(orderAttrs, "Database error")
		}
		cost := absAmount.Mul(limit)
		if balance.LessThan(cost) {
			tx.Rollback()
			return wire.Error(orderAttrs, "Insufficient funds")
		}
		if err := h.store.AdjustBalance(ctx, tx, accountID, cost.Neg()); err != nil {
			tx.Rollback()
			log.Error().Err(err).Msg("pre-debit balance for buy order")
			return wire.Error(orderAttrs, "Database error")
		}
	} else {
		position, ok, err := h.store.PositionForUpdate(ctx, tx, accountID, sym)
		if err != nil {
			tx.Rollback()
			log.Error().Err(err).Msg("position lookup for order")
			return wire.Error(orderAttrs, "Database error")
		}
		if !ok || position.LessThan(absAmount) {
			tx.Rollback()
			return wire.Error(orderAttrs, "Insufficient shares")
		}
		if err := h.store.DebitPosition(ctx, tx, accountID, sym, absAmount); err != nil {
			tx.Rollback()
			log.Error().Err(err).Msg("pre-debit position for sell order")
			return wire.Error(orderAttrs, "Database error")
		}
	}

	order := &models.Order{
		AccountID:       accountID,
		Symbol:          sym,
		Amount:          amount,
		LimitPrice:      limit,
		RemainingAmount: absAmount,
		Status:          models.StatusOpen,
	}
	if err := h.store.InsertOrder(ctx, tx, order); err != nil {
		tx.Rollback()
		log.Error().Err(err).Msg("insert order")
		return wire.Error(orderAttrs, "Database error")
	}

	if _, err := h.matcher.Match(ctx, tx, order); err != nil {
		tx.Rollback()
		log.Error().Err(err).Int64("order_id", order.ID).Msg("match order")
		return wire.Error(orderAttrs, "Database error")
	}

	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Int64("order_id", order.ID).Msg("commit order")
		return wire.Error(orderAttrs, "Database error")
	}

	return wire.Opened(sym, amountStr, limitStr, order.ID)
}

// handleQuery implements spec.md §4.4. It deliberately ignores the
// enclosing account (a documented authorization gap, preserved).
func (h *Handler) handleQuery(ctx context.Context, el wire.Element) wire.Outcome {
	idStr := el.Attr("id")
	idAttr := []wire.KV{{Key: "id", Val: idStr}}

	orderID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return wire.Error(idAttr, "Invalid transaction ID")
	}

	db := h.store.DB()
	order, err := h.store.GetOrder(ctx, db, orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			return wire.Error(idAttr, "Order not found")
		}
		log.Error().Err(err).Int64("order_id", orderID).Msg("query order")
		return wire.Error(idAttr, "Database error")
	}

	fills, err := h.fillViews(ctx, db, orderID)
	if err != nil {
		log.Error().Err(err).Int64("order_id", orderID).Msg("query fills")
		return wire.Error(idAttr, "Database error")
	}

	if order.Status == models.StatusCanceled {
		marker, err := h.store.CancelMarker(ctx, db, orderID)
		if err != nil || marker == nil {
			log.Error().Err(err).Int64("order_id", orderID).Msg("query cancel marker")
			return wire.Error(idAttr, "Database error")
		}
		return wire.StatusCanceled(orderID, order.RemainingAmount, marker.TimeExecuted, fills)
	}

	return wire.StatusOpen(orderID, order.RemainingAmount, fills)
}

// handleCancel implements spec.md §4.5: row-locked cancel, a single
// (shares=0, price=0) marker execution, and refund of the unfilled
// remainder. remaining_amount is left untouched (it doubles as the
// refunded-shares figure reported by query/cancel) — only status changes.
func (h *Handler) handleCancel(ctx context.Context, el wire.Element) wire.Outcome {
	idStr := el.Attr("id")
	idAttr := []wire.KV{{Key: "id", Val: idStr}}

	orderID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return wire.Error(idAttr, "Invalid transaction ID")
	}

	tx, err := h.store.Begin(ctx)
	if err != nil {
		log.Error().Err(err).Msg("begin transaction for cancel")
		return wire.Error(idAttr, "Database error")
	}

	order, err := h.store.GetOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		tx.Rollback()
		if errors.Is(err, store.ErrOrderNotFound) {
			return wire.Error(idAttr, "Order not found")
		}
		log.Error().Err(err).Int64("order_id", orderID).Msg("lock order for cancel")
		return wire.Error(idAttr, "Database error")
	}

	if order.Status != models.StatusOpen || !order.RemainingAmount.IsPositive() {
		tx.Rollback()
		return wire.Error(idAttr, "Order cannot be canceled")
	}

	if err := h.store.UpdateOrderProgress(ctx, tx, orderID, order.RemainingAmount, models.StatusCanceled); err != nil {
		tx.Rollback()
		log.Error().Err(err).Int64("order_id", orderID).Msg("mark order canceled")
		return wire.Error(idAttr, "Database error")
	}

	marker := &models.Execution{OrderID: orderID, Shares: decimal.Zero, Price: decimal.Zero}
	if err := h.store.InsertExecution(ctx, tx, marker); err != nil {
		tx.Rollback()
		log.Error().Err(err).Int64("order_id", orderID).Msg("insert cancel marker")
		return wire.Error(idAttr, "Database error")
	}

	refund := order.RemainingAmount
	if order.IsBuy() {
		if err := h.store.AdjustBalance(ctx, tx, order.AccountID, refund.Mul(order.LimitPrice)); err != nil {
			tx.Rollback()
			log.Error().Err(err).Int64("order_id", orderID).Msg("refund buyer on cancel")
			return wire.Error(idAttr, "Database error")
		}
	} else {
		if err := h.store.CreditPosition(ctx, tx, order.AccountID, order.Symbol, refund); err != nil {
			tx.Rollback()
			log.Error().Err(err).Int64("order_id", orderID).Msg("refund seller on cancel")
			return wire.Error(idAttr, "Database error")
		}
	}

	fills, err := h.fillViews(ctx, tx, orderID)
	if err != nil {
		tx.Rollback()
		log.Error().Err(err).Int64("order_id", orderID).Msg("fills for cancel response")
		return wire.Error(idAttr, "Database error")
	}

	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Int64("order_id", orderID).Msg("commit cancel")
		return wire.Error(idAttr, "Database error")
	}

	return wire.Canceled(orderID, refund, marker.TimeExecuted, fills)
}

func (h *Handler) fillViews(ctx context.Context, q store.Querier, orderID int64) ([]wire.FillView, error) {
	fills, err := h.store.Fills(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	views := make([]wire.FillView, 0, len(fills))
	for _, f := range fills {
		views = append(views, wire.FillView{Shares: f.Shares, Price: f.Price, Time: f.TimeExecuted})
	}
	return views, nil
}
