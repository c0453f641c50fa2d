package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/notnil/chess"

	"github.com/kibitz-hq/kibitz"
	"github.com/kibitz-hq/kibitz/internal/logger"
	"github.com/kibitz-hq/kibitz/pkg/client"
)

type command struct{}

// Evaluate analyses one position. With --api-url the request goes to a
// running daemon, otherwise a throwaway engine process is spawned.
func (c command) Evaluate(f EvaluateFlags, configPath string) error {
	if f.FEN == "" {
		return fmt.Errorf("fen is required")
	}
	if _, err := chess.FEN(f.FEN); err != nil {
		return fmt.Errorf("invalid fen: %w", err)
	}
	if f.Depth <= 0 {
		f.Depth = 12
	}

	if f.APIUrl != "" {
		return c.evaluateViaAPI(f)
	}
	return c.evaluateLocal(f, configPath)
}

func (c command) evaluateViaAPI(f EvaluateFlags) error {
	cl := client.New(client.Config{
		BaseURL: f.APIUrl,
		Timeout: f.APITimeout,
		Logger:  quietLogger(),
	})
	ctx := context.Background()
	if !cl.IsReachable(ctx) {
		return fmt.Errorf("daemon not reachable at %s - please start daemon first with 'kibitz serve'", f.APIUrl)
	}
	res, err := cl.Evaluate(ctx, f.FEN, f.Depth)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

func (c command) evaluateLocal(f EvaluateFlags, configPath string) error {
	ecfg := kibitz.EngineConfig{Command: f.Engine, MultiPV: f.MultiPV, EvalTimeout: f.Timeout}
	if configPath != "" {
		cfg, err := kibitz.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		ecfg, err = cfg.EngineConfig()
		if err != nil {
			return err
		}
		// Flags override the config file.
		if f.Engine != "" {
			ecfg.Command = f.Engine
		}
		if f.MultiPV > 0 {
			ecfg.MultiPV = f.MultiPV
		}
		if f.Timeout > 0 {
			ecfg.EvalTimeout = f.Timeout
		}
		// One-shot runs keep no transcript files.
		ecfg.Log.Dir = ""
		ecfg.Log.TranscriptPath = ""
		ecfg.Log.StderrPath = ""
	}
	if ecfg.Command == "" {
		return fmt.Errorf("engine command required: pass --engine or --config")
	}
	ecfg.Logger = quietLogger()

	e := kibitz.NewEngine(ecfg)
	if err := e.Init(context.Background()); err != nil {
		return fmt.Errorf("engine init: %w", err)
	}
	defer e.Quit()

	res, err := e.Evaluate(context.Background(), f.FEN, f.Depth)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

// Status prints pool counters and per-driver state of a running daemon.
func (c command) Status(f StatusFlags) error {
	apiUrl := f.APIUrl
	if apiUrl == "" {
		apiUrl = "http://127.0.0.1:8080/api/v1" // Default local daemon
	}

	cl := client.New(client.Config{
		BaseURL: apiUrl,
		Timeout: f.APITimeout,
		Logger:  quietLogger(),
	})
	ctx := context.Background()
	if !cl.IsReachable(ctx) {
		return fmt.Errorf("daemon not reachable at %s - please start daemon first with 'kibitz serve'", apiUrl)
	}
	st, err := cl.Status(ctx)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

// quietLogger keeps client/engine chatter off the CLI's JSON output.
func quietLogger() *slog.Logger {
	return slog.New(logger.NewColorTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("error formatting output: %v\n", err)
		return
	}
	fmt.Println(string(b))
}
