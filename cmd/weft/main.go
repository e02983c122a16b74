// weft runs graph workflows, either as an HTTP service or once from a
// definition file.
//
// Usage:
//
//	weft [serve]
//	weft run -f graph.yaml [-input key=value ...] [-timeout 30s]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/seantiz/weft/internal/api"
	"github.com/seantiz/weft/internal/config"
	"github.com/seantiz/weft/internal/definition"
	"github.com/seantiz/weft/internal/engine"
	"github.com/seantiz/weft/internal/node"
	"github.com/seantiz/weft/internal/node/builtin"
	"github.com/seantiz/weft/internal/store"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "weft: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	cfg := config.Load()
	switch cmd {
	case "serve":
		return serve(cfg, stdout)
	case "run":
		return runOnce(cfg, args, stdout, stderr)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func newRegistry() (*node.Registry, error) {
	reg := node.NewRegistry()
	if err := builtin.Register(reg); err != nil {
		return nil, fmt.Errorf("register builtin executors: %w", err)
	}
	return reg, nil
}

func engineOptions(cfg config.Config) []engine.Option {
	return []engine.Option{
		engine.WithTimeout(cfg.RunTimeout),
		engine.WithMaxWorkers(cfg.MaxWorkers),
	}
}

func serve(cfg config.Config, stdout io.Writer) error {
	logger := config.NewLogger(stdout, cfg.LogLevel)

	logger.Info("weft: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"run_timeout", cfg.RunTimeout,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	reg, err := newRegistry()
	if err != nil {
		return err
	}

	eng := engine.NewEngine(db, reg, logger, engineOptions(cfg)...)
	srv := api.NewServer(cfg.ListenAddr, db, eng, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// inputFlags collects repeated -input key=value flags. Values that parse as
// JSON keep their JSON type; anything else is taken as a string.
type inputFlags map[string]any

func (f inputFlags) String() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	return strings.Join(keys, ",")
}

func (f inputFlags) Set(s string) error {
	key, raw, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return errors.New("expected key=value")
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}
	f[key] = v
	return nil
}

// runOnce executes a definition file in-process, without persistence, and
// prints the flattened result as JSON.
func runOnce(cfg config.Config, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("f", "", "graph definition file (.yaml, .yml, .json or .hcl)")
	timeout := fs.Duration("timeout", 0, "run timeout (defaults to WEFT_RUN_TIMEOUT)")
	inputs := inputFlags{}
	fs.Var(inputs, "input", "run input as key=value; repeatable")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("run: -f is required")
	}

	g, err := definition.LoadFile(*file)
	if err != nil {
		return err
	}

	reg, err := newRegistry()
	if err != nil {
		return err
	}

	logger := config.NewLogger(stderr, cfg.LogLevel)
	executor := engine.NewGraphExecutor(reg, logger, engineOptions(cfg)...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []engine.RunOption
	if *timeout > 0 {
		opts = append(opts, engine.WithRunTimeout(*timeout))
	}

	start := time.Now()
	res, runErr := executor.Execute(ctx, "", g, inputs, opts...)
	logger.Debug("run finished", "run_id", res.RunID, "duration", time.Since(start))

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res.Flatten()); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return runErr
}
