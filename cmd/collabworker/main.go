// collabworker is the serving entrypoint: it wires the Edge Dispatcher, the
// Room Registry, the Admin Service Client, and durable SQLite storage
// together behind one HTTP server, following cmd/four/server/main.go's
// flag/signal/graceful-shutdown shape.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"log/slog"

	"github.com/dalive/collabworker/internal/adminclient"
	"github.com/dalive/collabworker/internal/dispatcher"
	"github.com/dalive/collabworker/internal/room"
	"github.com/dalive/collabworker/internal/storage"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "localhost:8080", "the address to listen on")
	dbVar := flag.String("db", "collabworker.sqlite3", "path to the SQLite durable storage database")
	flag.Parse()

	returnStackTraces, _ := strconv.ParseBool(os.Getenv("RETURN_STACK_TRACES"))
	sharedSecret := os.Getenv("COLLAB_SHARED_SECRET")
	if sharedSecret == "" {
		slog.Warn("COLLAB_SHARED_SECRET is unset, admin endpoints are unauthenticated")
	}

	slog.Info("opening durable storage", "path", *dbVar)
	store, err := storage.OpenSQLiteStore(*dbVar)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := room.NewRegistry()
	admin := adminclient.New()
	d := dispatcher.New(registry, admin, store, sharedSecret, returnStackTraces)

	httpServer := &http.Server{Addr: *addrVar, Handler: d.Router()}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", *addrVar)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1) // reserve buffer size 1 so the notifier is never blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("signal caught", "sig", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "err", err)
		_ = httpServer.Close()
	}

	wg.Wait()
	return nil
}
