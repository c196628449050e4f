package txn

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ledger-exchange/internal/book"
	"ledger-exchange/internal/matcher"
	"ledger-exchange/internal/store"
	"ledger-exchange/internal/wire"
)

func testHandler(t *testing.T) (*Handler, *store.Store, *sql.DB) {
	t.Helper()
	dsn := os.Getenv("EXCHANGE_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("EXCHANGE_TEST_DB_DSN not set; skipping txn integration test")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(store.SchemaSQL)
	require.NoError(t, err)
	for _, table := range []string{"executions", "orders", "positions", "symbols", "accounts"} {
		_, err := db.Exec("DELETE FROM " + table)
		require.NoError(t, err)
	}

	s := store.New(db)
	b := book.New(s)
	m := matcher.New(s, b)
	return New(s, m), s, db
}

func seedAccount(t *testing.T, ctx context.Context, s *store.Store, db *sql.DB, id string, balance int64) {
	t.Helper()
	_, err := s.CreateAccount(ctx, db, id, decimal.NewFromInt(balance))
	require.NoError(t, err)
}

func TestHandleOrderRejectsUnknownAccount(t *testing.T) {
	h, _, _ := testHandler(t)
	ctx := context.Background()

	root, err := wire.ParseXML([]byte(`<transactions id="GHOST"><order sym="SPY" amount="10" limit="100"/></transactions>`))
	require.NoError(t, err)

	results := h.Handle(ctx, "GHOST", root)
	require.Len(t, results, 1)
	require.Contains(t, string(results[0]), "Invalid account")
}

func TestHandleOrderInsufficientFunds(t *testing.T) {
	h, s, db := testHandler(t)
	ctx := context.Background()
	seedAccount(t, ctx, s, db, "A1", 10)
	require.NoError(t, s.UpsertSymbol(ctx, db, "SPY"))

	root, err := wire.ParseXML([]byte(`<transactions id="A1"><order sym="SPY" amount="10" limit="100"/></transactions>`))
	require.NoError(t, err)

	results := h.Handle(ctx, "A1", root)
	require.Len(t, results, 1)
	require.Contains(t, string(results[0]), "Insufficient funds")
}

func TestHandleOrderOpensThenQueryReportsOpen(t *testing.T) {
	h, s, db := testHandler(t)
	ctx := context.Background()
	seedAccount(t, ctx, s, db, "A1", 10000)
	require.NoError(t, s.UpsertSymbol(ctx, db, "SPY"))

	root, err := wire.ParseXML([]byte(`<transactions id="A1"><order sym="SPY" amount="10" limit="100"/></transactions>`))
	require.NoError(t, err)
	results := h.Handle(ctx, "A1", root)
	require.Len(t, results, 1)
	require.Contains(t, string(results[0]), "<opened")

	orderID := orderIDFrom(t, string(results[0]))
	queryRoot, err := wire.ParseXML([]byte(fmt.Sprintf(`<transactions id="A1"><query id="%d"/></transactions>`, orderID)))
	require.NoError(t, err)
	queryResults := h.Handle(ctx, "A1", queryRoot)
	require.Len(t, queryResults, 1)
	require.Contains(t, string(queryResults[0]), `<open shares="10"/>`)
}

func TestHandleCancelRefundsAndMarksCanceled(t *testing.T) {
	h, s, db := testHandler(t)
	ctx := context.Background()
	seedAccount(t, ctx, s, db, "A1", 10000)
	require.NoError(t, s.UpsertSymbol(ctx, db, "SPY"))

	root, err := wire.ParseXML([]byte(`<transactions id="A1"><order sym="SPY" amount="10" limit="100"/></transactions>`))
	require.NoError(t, err)
	opened := h.Handle(ctx, "A1", root)
	orderID := orderIDFrom(t, string(opened[0]))

	cancelRoot, err := wire.ParseXML([]byte(fmt.Sprintf(`<transactions id="A1"><cancel id="%d"/></transactions>`, orderID)))
	require.NoError(t, err)
	cancelResults := h.Handle(ctx, "A1", cancelRoot)
	require.Len(t, cancelResults, 1)
	require.Contains(t, string(cancelResults[0]), `<canceled id="`)
	require.Contains(t, string(cancelResults[0]), `shares="10"`)

	balance, err := balanceOf(ctx, db, "A1")
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(10000).Equal(balance))
}

func TestHandleCancelTwiceFailsSecondTime(t *testing.T) {
	h, s, db := testHandler(t)
	ctx := context.Background()
	seedAccount(t, ctx, s, db, "A1", 10000)
	require.NoError(t, s.UpsertSymbol(ctx, db, "SPY"))

	root, err := wire.ParseXML([]byte(`<transactions id="A1"><order sym="SPY" amount="10" limit="100"/></transactions>`))
	require.NoError(t, err)
	opened := h.Handle(ctx, "A1", root)
	orderID := orderIDFrom(t, string(opened[0]))

	cancelXML := []byte(fmt.Sprintf(`<transactions id="A1"><cancel id="%d"/></transactions>`, orderID))
	cancelRoot, err := wire.ParseXML(cancelXML)
	require.NoError(t, err)
	require.Len(t, h.Handle(ctx, "A1", cancelRoot), 1)

	cancelRoot2, err := wire.ParseXML(cancelXML)
	require.NoError(t, err)
	results := h.Handle(ctx, "A1", cancelRoot2)
	require.Contains(t, string(results[0]), "cannot be canceled")
}

func orderIDFrom(t *testing.T, openedXML string) int64 {
	t.Helper()
	el, err := wire.ParseXML([]byte(openedXML))
	require.NoError(t, err)
	var id int64
	_, err = fmt.Sscanf(el.Attr("id"), "%d", &id)
	require.NoError(t, err)
	return id
}

func balanceOf(ctx context.Context, db *sql.DB, acct string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := db.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE account_id = $1`, acct).Scan(&balance)
	return balance, err
}
