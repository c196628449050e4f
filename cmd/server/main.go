// Command server runs the networked limit-order exchange: a TCP listener
// speaking the line-framed XML protocol (spec.md §6), backed by a
// Postgres store and the matching engine, plus an optional read-only
// WebSocket book feed.
package main

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ledger-exchange/internal/book"
	"ledger-exchange/internal/config"
	"ledger-exchange/internal/frontend"
	"ledger-exchange/internal/logging"
	"ledger-exchange/internal/matcher"
	"ledger-exchange/internal/monitor"
	"ledger-exchange/internal/provision"
	"ledger-exchange/internal/store"
	"ledger-exchange/internal/txn"
	"ledger-exchange/internal/wire"
)

func main() {
	logging.Setup(os.Getenv("DEBUG") != "")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := store.Connect(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer func() {
		log.Info().Msg("closing database connection")
		db.Close()
	}()

	st := store.New(db)
	bk := book.New(st)
	mt := matcher.New(st, bk)
	provisioner := provision.New(st)
	txnHandler := txn.New(st, mt)
	fe := frontend.New(provisioner, txnHandler)

	addr := net.JoinHostPort(cfg.ListenHost, strconv.Itoa(cfg.ListenPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", addr).Msg("failed to start listener")
	}
	log.Info().Str("addr", addr).Msg("exchange listening")

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	wg.Add(1)
	go func() {
		defer wg.Done()
		acceptLoop(ctx, listener, fe)
	}()

	var httpServer *http.Server
	if cfg.MonitorEnabled {
		mon := monitor.New(bk, db)
		mux := http.NewServeMux()
		mux.HandleFunc("/ws/book", mon.Handler())
		httpServer = &http.Server{Addr: cfg.MonitorAddr, Handler: mux}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("addr", cfg.MonitorAddr).Msg("monitor feed listening")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("monitor server failed")
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutdown signal received, initiating graceful shutdown")

	cancel()
	listener.Close()
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("monitor server forced to shutdown")
		}
	}
	wg.Wait()
	log.Info().Msg("exchange stopped")
}

// acceptLoop accepts connections and spawns one worker goroutine per
// connection (spec.md §5: one listener, one worker per accepted
// connection, workers otherwise independent).
func acceptLoop(ctx context.Context, listener net.Listener, fe *frontend.Frontend) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Error().Err(err).Msg("accept failed")
				continue
			}
		}
		go handleConnection(ctx, conn, fe)
	}
}

// handleConnection services one TCP connection: requests on it are
// processed strictly in received order because a connection is serviced
// by exactly one worker goroutine (spec.md §5). There is no per-request
// server-side timeout; a database lock-wait timeout bounds worst-case
// latency.
func handleConnection(ctx context.Context, conn net.Conn, fe *frontend.Frontend) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	log.Info().Str("remote", remote).Msg("connection accepted")

	reader := bufio.NewReader(conn)
	for {
		payload, err := wire.ReadFrame(reader)
		if err != nil {
			log.Debug().Err(err).Str("remote", remote).Msg("connection closed")
			return
		}

		response := fe.Process(ctx, payload)

		if err := wire.WriteFrame(conn, response); err != nil {
			log.Error().Err(err).Str("remote", remote).Msg("failed to write response")
			return
		}
	}
}

