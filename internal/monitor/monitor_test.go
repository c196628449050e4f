package monitor

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"ledger-exchange/internal/book"
	"ledger-exchange/internal/store"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("EXCHANGE_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("EXCHANGE_TEST_DB_DSN not set; skipping monitor integration test")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(store.SchemaSQL)
	require.NoError(t, err)
	return db
}

func TestHandlerRequiresSymbol(t *testing.T) {
	db := testDB(t)
	mon := New(book.New(store.New(db)), db)

	srv := httptest.NewServer(mon.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerStreamsSnapshot(t *testing.T) {
	db := testDB(t)
	mon := New(book.New(store.New(db)), db)

	srv := httptest.NewServer(mon.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?symbol=SPY"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(payload), `"symbol":"SPY"`)
}
