// Package frontend is the XML dispatch boundary named by spec.md §2: it
// parses a request payload, routes <create> to the Provisioner and
// <transactions> to the TxnHandler, and serializes their results. Framing
// and the connection loop live in cmd/server; this package is the part of
// the "Frontend" component that is reusable and worth unit testing on its
// own.
package frontend

import (
	"context"

	"github.com/rs/zerolog/log"

	"ledger-exchange/internal/provision"
	"ledger-exchange/internal/txn"
	"ledger-exchange/internal/wire"
)

// Frontend dispatches one request payload to completion and returns the
// serialized response payload.
type Frontend struct {
	provisioner *provision.Provisioner
	txnHandler  *txn.Handler
}

// New constructs a Frontend.
func New(p *provision.Provisioner, h *txn.Handler) *Frontend {
	return &Frontend{provisioner: p, txnHandler: h}
}

// Process parses payload and returns the <results> response bytes
// (spec.md §7): malformed XML and unknown root tags are reported as a
// single top-level <error>; everything else is dispatched per child.
func (f *Frontend) Process(ctx context.Context, payload []byte) []byte {
	root, err := wire.ParseXML(payload)
	if err != nil {
		log.Error().Err(err).Msg("xml parse error")
		return []byte(wire.TopLevelError("Invalid XML format"))
	}

	var results wire.Results
	switch root.Tag {
	case "create":
		results = f.provisioner.Process(ctx, root)
	case "transactions":
		results = f.txnHandler.Handle(ctx, root.Attr("id"), root)
	default:
		log.Warn().Str("tag", root.Tag).Msg("unknown request root tag")
		return []byte(wire.TopLevelError("Unknown request type"))
	}

	return []byte(results.XML())
}
