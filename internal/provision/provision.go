// Package provision implements the Provisioner: applying <create>
// envelopes to insert accounts, symbols and seed positions (spec.md §4.1).
package provision

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"ledger-exchange/internal/store"
	"ledger-exchange/internal/wire"
)

// Provisioner applies create requests.
type Provisioner struct {
	store *store.Store
}

// New constructs a Provisioner.
func New(s *store.Store) *Provisioner {
	return &Provisioner{store: s}
}

// Process walks a <create> element's children in document order and
// composes one <results> outcome per sub-operation that produces one
// (spec.md §4.1).
func (p *Provisioner) Process(ctx context.Context, createEl wire.Element) wire.Results {
	var results wire.Results
	for _, child := range createEl.Children {
		switch child.Tag {
		case "account":
			if outcome, ok := p.createAccount(ctx, child); ok {
				results = append(results, outcome)
			}
		case "symbol":
			results = append(results, p.createSymbol(ctx, child)...)
		default:
			log.Warn().Str("tag", child.Tag).Msg("unknown create child tag, dropped")
		}
	}
	return results
}

// createAccount inserts one account. ok is false when there is nothing to
// report (silent success on conflict, per spec.md §4.1).
func (p *Provisioner) createAccount(ctx context.Context, el wire.Element) (wire.Outcome, bool) {
	id := el.Attr("id")
	balanceStr := el.Attr("balance")

	if id == "" || balanceStr == "" {
		return wire.Error([]wire.KV{{Key: "id", Val: id}}, "Missing required attributes"), true
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil || balance.IsNegative() {
		return wire.Error([]wire.KV{{Key: "id", Val: id}}, "Invalid balance value"), true
	}

	tx, err := p.store.Begin(ctx)
	if err != nil {
		log.Error().Err(err).Str("account_id", id).Msg("begin transaction for create account")
		return wire.Error([]wire.KV{{Key: "id", Val: id}}, "Database error"), true
	}

	inserted, err := p.store.CreateAccount(ctx, tx, id, balance)
	if err != nil {
		tx.Rollback()
		log.Error().Err(err).Str("account_id", id).Msg("create account")
		return wire.Error([]wire.KV{{Key: "id", Val: id}}, "Database error"), true
	}
	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Str("account_id", id).Msg("commit create account")
		return wire.Error([]wire.KV{{Key: "id", Val: id}}, "Database error"), true
	}

	if !inserted {
		// Idempotent/silent on conflict: no outcome element at all.
		return "", false
	}
	return wire.CreatedAccount(id), true
}

// createSymbol idempotently inserts the symbol, then additively seeds each
// listed position, one outcome per seed account (spec.md §4.1).
func (p *Provisioner) createSymbol(ctx context.Context, el wire.Element) wire.Results {
	sym := el.Attr("sym")

	tx, err := p.store.Begin(ctx)
	if err != nil {
		log.Error().Err(err).Str("symbol", sym).Msg("begin transaction for create symbol")
	} else if err := p.store.UpsertSymbol(ctx, tx, sym); err != nil {
		tx.Rollback()
		log.Error().Err(err).Str("symbol", sym).Msg("upsert symbol")
	} else if err := tx.Commit(); err != nil {
		log.Error().Err(err).Str("symbol", sym).Msg("commit create symbol")
	}

	var results wire.Results
	for _, seed := range el.Children {
		if seed.Tag != "account" {
			continue
		}
		results = append(results, p.seedPosition(ctx, sym, seed))
	}
	return results
}

func (p *Provisioner) seedPosition(ctx context.Context, sym string, el wire.Element) wire.Outcome {
	id := el.Attr("id")
	amountText := el.Text
	if amountText == "" {
		amountText = "0"
	}

	amount, err := decimal.NewFromString(amountText)
	if err != nil || amount.IsNegative() {
		return wire.Error([]wire.KV{{Key: "sym", Val: sym}, {Key: "id", Val: id}}, "Invalid amount")
	}

	tx, err := p.store.Begin(ctx)
	if err != nil {
		log.Error().Err(err).Str("symbol", sym).Str("account_id", id).Msg("begin transaction for seed position")
		return wire.Error([]wire.KV{{Key: "sym", Val: sym}, {Key: "id", Val: id}}, "Database error")
	}

	exists, err := p.store.AccountExists(ctx, tx, id)
	if err != nil {
		tx.Rollback()
		log.Error().Err(err).Str("account_id", id).Msg("account exists check")
		return wire.Error([]wire.KV{{Key: "sym", Val: sym}, {Key: "id", Val: id}}, "Database error")
	}
	if !exists {
		tx.Rollback()
		return wire.Error([]wire.KV{{Key: "sym", Val: sym}, {Key: "id", Val: id}}, "Account does not exist")
	}

	if err := p.store.CreditPosition(ctx, tx, id, sym, amount); err != nil {
		tx.Rollback()
		log.Error().Err(err).Str("account_id", id).Str("symbol", sym).Msg("credit seed position")
		return wire.Error([]wire.KV{{Key: "sym", Val: sym}, {Key: "id", Val: id}}, "Database error")
	}
	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Str("account_id", id).Str("symbol", sym).Msg("commit seed position")
		return wire.Error([]wire.KV{{Key: "sym", Val: sym}, {Key: "id", Val: id}}, "Database error")
	}

	return wire.CreatedPosition(sym, id)
}
