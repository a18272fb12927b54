package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/testopt/capture"
	"github.com/wippyai/testopt/engine"
)

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "Usage: topt [-engine file.wasm] [-tests N] [-fail] [-skip] [-capture runs.db] [-i]")
		os.Exit(2)
	}

	code, err := run(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(int(code))
}

func run(cfg *config) (int32, error) {
	ctx := context.Background()

	log, err := cfg.logger()
	if err != nil {
		return 0, fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	engine.SetLogger(log)

	lib, engineName, err := openLibrary(ctx, cfg)
	if err != nil {
		return 0, fmt.Errorf("open engine: %w", err)
	}
	defer lib.Close(ctx)

	started := time.Now()
	rep := runScenario(ctx, cfg, lib, log)

	printSettings(os.Stdout, rep)
	printTree(os.Stdout, rep.spans)

	if cfg.Capture != "" {
		id, err := saveRun(ctx, cfg.Capture, engineName, started, rep)
		if err != nil {
			return 0, fmt.Errorf("capture: %w", err)
		}
		log.Info("run captured", zap.String("run", id), zap.String("file", cfg.Capture), zap.Int("spans", len(rep.spans)))
	}

	if cfg.Interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return 0, fmt.Errorf("interactive mode needs a terminal")
		}
		if err := runInteractive(rep.spans); err != nil {
			return 0, err
		}
	}

	return rep.exitCode, nil
}

func saveRun(ctx context.Context, path, engineName string, started time.Time, rep *report) (string, error) {
	store, err := capture.Open(path)
	if err != nil {
		return "", err
	}
	defer store.Close()

	id := uuid.NewString()
	err = store.SaveRun(ctx, capture.Run{
		ID:      id,
		Engine:  engineName,
		Started: started,
	}, rep.spans)
	return id, err
}
