package book

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ledger-exchange/internal/models"
	"ledger-exchange/internal/store"
)

func testStore(t *testing.T) (*store.Store, *sql.DB) {
	t.Helper()
	dsn := os.Getenv("EXCHANGE_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("EXCHANGE_TEST_DB_DSN not set; skipping book integration test")
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

	return store.New(db), db
}

func seedRestingOrder(t *testing.T, ctx context.Context, s *store.Store, db *sql.DB, acct, sym string, amount, limit decimal.Decimal) {
	t.Helper()
	_, err := s.CreateAccount(ctx, db, acct, decimal.Zero)
	require.NoError(t, err)
	require.NoError(t, s.UpsertSymbol(ctx, db, sym))
	o := &models.Order{AccountID: acct, Symbol: sym, Amount: amount, LimitPrice: limit, RemainingAmount: amount.Abs(), Status: models.StatusOpen}
	require.NoError(t, s.InsertOrder(ctx, db, o))
}

func TestTopOfBookAggregatesByPriceLevel(t *testing.T) {
	s, db := testStore(t)
	ctx := context.Background()
	b := New(s)

	seedRestingOrder(t, ctx, s, db, "SELLER1", "SPY", decimal.NewFromInt(-10), decimal.NewFromInt(101))
	seedRestingOrder(t, ctx, s, db, "SELLER2", "SPY", decimal.NewFromInt(-5), decimal.NewFromInt(101))
	seedRestingOrder(t, ctx, s, db, "BUYER1", "SPY", decimal.NewFromInt(20), decimal.NewFromInt(99))

	bids, asks, err := b.TopOfBook(ctx, db, "SPY", 10)
	require.NoError(t, err)

	require.Len(t, asks, 1)
	require.True(t, decimal.NewFromInt(101).Equal(asks[0].Price))
	require.True(t, decimal.NewFromInt(15).Equal(asks[0].Quantity))

	require.Len(t, bids, 1)
	require.True(t, decimal.NewFromInt(99).Equal(bids[0].Price))
	require.True(t, decimal.NewFromInt(20).Equal(bids[0].Quantity))
}

func TestTopOfBookRespectsDepth(t *testing.T) {
	s, db := testStore(t)
	ctx := context.Background()
	b := New(s)

	for i, price := range []int64{101, 102, 103} {
		seedRestingOrder(t, ctx, s, db, "SELLER", "SPY", decimal.NewFromInt(-int64(i+1)), decimal.NewFromInt(price))
	}

	_, asks, err := b.TopOfBook(ctx, db, "SPY", 2)
	require.NoError(t, err)
	require.Len(t, asks, 2)
	require.True(t, decimal.NewFromInt(101).Equal(asks[0].Price))
	require.True(t, decimal.NewFromInt(102).Equal(asks[1].Price))
}

func TestCandidatesReturnsRestingSellForBuy(t *testing.T) {
	s, db := testStore(t)
	ctx := context.Background()
	b := New(s)

	seedRestingOrder(t, ctx, s, db, "SELLER", "SPY", decimal.NewFromInt(-10), decimal.NewFromInt(100))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	candidates, err := b.Candidates(ctx, tx, "SPY", true, decimal.NewFromInt(100))
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "SELLER", candidates[0].AccountID)
}
