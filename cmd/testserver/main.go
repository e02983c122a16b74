// testserver starts a weft API server backed by an in-memory database, with
// the stub executors registered next to the built-ins, for E2E testing.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/weft/internal/api"
	"github.com/seantiz/weft/internal/engine"
	"github.com/seantiz/weft/internal/node"
	"github.com/seantiz/weft/internal/node/builtin"
	"github.com/seantiz/weft/internal/node/stub"
	"github.com/seantiz/weft/internal/store"
)

func main() {
	addr := ":8080"
	if v := os.Getenv("WEFT_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg := node.NewRegistry()
	if err := builtin.Register(reg); err != nil {
		log.Fatalf("register builtin executors: %v", err)
	}
	if err := stub.Register(reg); err != nil {
		log.Fatalf("register stub executors: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	eng := engine.NewEngine(db, reg, logger)
	srv := api.NewServer(addr, db, eng, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
