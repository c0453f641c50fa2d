package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// EvaluateFlags holds flags for the evaluate command
type EvaluateFlags struct {
	FEN     string
	Depth   int
	Engine  string
	MultiPV int
	Timeout time.Duration
	// API connection
	APIUrl     string
	APITimeout time.Duration
}

// StatusFlags holds flags for the status command
type StatusFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// InitFlags holds flags for the init command
type InitFlags struct {
	Preset string
	Name   string
	Output string
	Force  bool
}

// buildRoot creates the root command with all subcommands attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	evaluateFlags := &EvaluateFlags{}
	statusFlags := &StatusFlags{}
	initFlags := &InitFlags{}

	kibitzCommand := command{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createEvaluateCommand(kibitzCommand, globalFlags, evaluateFlags),
		createStatusCommand(kibitzCommand, statusFlags),
		createInitCommand(kibitzCommand, initFlags),
		createVersionCommand(),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "kibitz",
		Short: "Chess engine evaluation service",
		Long: `Kibitz runs a pool of UCI chess engines and serves position
evaluations over HTTP, or evaluates single positions from the command line.

Examples:
  kibitz serve --config=config.toml
  kibitz evaluate --engine=stockfish --fen="..." --depth=18
  kibitz status --api-url=http://remote:8080/api/v1`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the kibitz daemon",
		Long: `Start the kibitz daemon: spawn the engine pool and serve the
evaluation API. All configuration is loaded from a TOML file.

Examples:
  kibitz serve config.toml
  kibitz serve --config=config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeCommand(globalFlags, args)
		},
	}
	return cmd
}

// createEvaluateCommand creates the evaluate subcommand
func createEvaluateCommand(kibitzCommand command, globalFlags *GlobalFlags, flags *EvaluateFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a single position",
		Long: `Evaluate one position and print the result as JSON. Without
--api-url a single engine process is spawned just for this request;
with it the request goes to a running daemon.

Examples:
  kibitz evaluate --engine=stockfish --fen="rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1" --depth=18
  kibitz evaluate --config=config.toml --fen="..."
  kibitz evaluate --api-url=http://127.0.0.1:8080/api/v1 --fen="..."`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return kibitzCommand.Evaluate(*flags, globalFlags.ConfigPath)
		},
	}

	cmd.Flags().StringVar(&flags.FEN, "fen", "", "position in FEN notation (required)")
	cmd.Flags().IntVar(&flags.Depth, "depth", 12, "search depth in plies")
	cmd.Flags().StringVar(&flags.Engine, "engine", "", "engine executable (overrides config)")
	cmd.Flags().IntVar(&flags.MultiPV, "multipv", 0, "number of analysis lines")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 0, "per-evaluation timeout")

	// Remote daemon connection
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api/v1)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 2*time.Minute, "request timeout")

	if err := cmd.MarkFlagRequired("fen"); err != nil {
		panic(err)
	}

	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(kibitzCommand command, flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon pool status",
		Long: `Show pool counters and per-driver state of a running daemon.

Examples:
  kibitz status
  kibitz status --api-url=http://remote:8080/api/v1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return kibitzCommand.Status(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api/v1)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return cmd
}

// createInitCommand creates the init subcommand
func createInitCommand(kibitzCommand command, flags *InitFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a starter config file",
		Long: `Create a starter TOML configuration for a common engine setup.

Supported presets:
  stockfish - Stockfish pool with MultiPV analysis
  lc0       - Leela Chess Zero single-engine setup
  minimal   - smallest possible config
  full      - every section populated (store, retention, tls)

Examples:
  kibitz init --preset=stockfish
  kibitz init --preset=full --output=./deploy/config.toml
  kibitz init --preset=lc0 --name=leela --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return kibitzCommand.InitConfig(*flags)
		},
	}

	cmd.Flags().StringVar(&flags.Preset, "preset", "", "config preset (required): stockfish, lc0, minimal, full")
	cmd.Flags().StringVar(&flags.Name, "name", "", "engine name label (defaults to the preset)")
	cmd.Flags().StringVar(&flags.Output, "output", "", "output file path (defaults to config.toml)")
	cmd.Flags().BoolVar(&flags.Force, "force", false, "overwrite existing config file")

	if err := cmd.MarkFlagRequired("preset"); err != nil {
		panic(err)
	}

	return cmd
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the kibitz version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("kibitz", version)
		},
	}
}
