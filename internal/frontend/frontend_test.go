package frontend

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"ledger-exchange/internal/book"
	"ledger-exchange/internal/matcher"
	"ledger-exchange/internal/provision"
	"ledger-exchange/internal/store"
	"ledger-exchange/internal/txn"
)

func testFrontend(t *testing.T) *Frontend {
	t.Helper()
	dsn := os.Getenv("EXCHANGE_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("EXCHANGE_TEST_DB_DSN not set; skipping frontend integration test")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(store.SchemaSQL)
	require.NoError(t, err)
	for _, table := range []string{"executions", "orders", "positions", "symbols", "accounts"} {
		_, dberr := db.Exec("DELETE FROM " + table)
		require.NoError(t, dberr)
	}

	s := store.New(db)
	b := book.New(s)
	m := matcher.New(s, b)
	return New(provision.New(s), txn.New(s, m))
}

func TestProcessRoutesCreateAndTransactions(t *testing.T) {
	fe := testFrontend(t)
	ctx := context.Background()

	created := fe.Process(ctx, []byte(`<create><account id="A1" balance="1000"/></create>`))
	require.Contains(t, string(created), `<created id="A1"/>`)

	unknownAcct := fe.Process(ctx, []byte(`<transactions id="GHOST"><order sym="SPY" amount="5" limit="10"/></transactions>`))
	require.Contains(t, string(unknownAcct), "Invalid account")

	created2 := fe.Process(ctx, []byte(`<create><symbol sym="SPY"/></create>`))
	require.Equal(t, `<results></results>`, string(created2))

	opened := fe.Process(ctx, []byte(`<transactions id="A1"><order sym="SPY" amount="5" limit="10"/></transactions>`))
	require.Contains(t, string(opened), "<opened")
}

func TestProcessMalformedXMLReturnsTopLevelError(t *testing.T) {
	fe := testFrontend(t)
	ctx := context.Background()

	resp := fe.Process(ctx, []byte(`<create><account></create>`))
	require.Equal(t, `<results><error>Invalid XML format</error></results>`, string(resp))
}

func TestProcessUnknownRootReturnsTopLevelError(t *testing.T) {
	fe := testFrontend(t)
	ctx := context.Background()

	resp := fe.Process(ctx, []byte(`<bogus/>`))
	require.Equal(t, `<results><error>Unknown request type</error></results>`, string(resp))
}
