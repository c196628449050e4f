// Package monitor exposes a strictly read-only WebSocket feed of
// top-of-book snapshots (SPEC_FULL.md §6.1). It never mutates state and
// never participates in a matching transaction: it re-issues Book's
// unlocked aggregate query on a timer, the same way a dashboard would
// poll. Grounded on gorilla/websocket, the pack's streaming-feed library
// (web3guy0-polybot, 0xtitan6-polymarket-mm).
package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"ledger-exchange/internal/book"
)

// snapshotInterval is how often a connected observer receives a refreshed
// top-of-book snapshot.
const snapshotInterval = 2 * time.Second

// defaultDepth is the number of price levels sent per side when the
// request omits ?depth=.
const defaultDepth = 10

// Monitor serves the read-only book feed.
type Monitor struct {
	book     *book.Book
	db       *sql.DB
	upgrader websocket.Upgrader
}

// New constructs a Monitor over an existing Book and connection pool.
func New(b *book.Book, db *sql.DB) *Monitor {
	return &Monitor{
		book: b,
		db:   db,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// snapshot is the JSON payload pushed to each observer.
type snapshot struct {
	Symbol string       `json:"symbol"`
	Bids   []book.Level `json:"bids"`
	Asks   []book.Level `json:"asks"`
	AsOf   time.Time    `json:"as_of"`
}

// Handler returns an http.HandlerFunc for the book feed. Clients connect
// with ?symbol=X[&depth=N].
func (m *Monitor) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		if symbol == "" {
			http.Error(w, "symbol is required", http.StatusBadRequest)
			return
		}
		depth := defaultDepth
		if d, err := strconv.Atoi(r.URL.Query().Get("depth")); err == nil && d > 0 {
			depth = d
		}

		conn, err := m.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("monitor: websocket upgrade failed")
			return
		}
		defer conn.Close()

		ctx := r.Context()
		ticker := time.NewTicker(snapshotInterval)
		defer ticker.Stop()

		for {
			if err := m.pushSnapshot(ctx, conn, symbol, depth); err != nil {
				log.Debug().Err(err).Str("symbol", symbol).Msg("monitor: observer disconnected")
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}

func (m *Monitor) pushSnapshot(ctx context.Context, conn *websocket.Conn, symbol string, depth int) error {
	bids, asks, err := m.book.TopOfBook(ctx, m.db, symbol, depth)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(snapshot{Symbol: symbol, Bids: bids, Asks: asks, AsOf: time.Now()})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
