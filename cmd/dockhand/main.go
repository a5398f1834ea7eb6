package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/parcade/dockhand/internal/shell/store"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess      = 0
	ExitConfigError  = 1
	ExitInputError   = 2
	ExitStageError   = 3
	ExitJournalError = 4
)

// exitError carries a process exit code alongside the cause.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func main() {
	os.Exit(run())
}

func run() int {
	// The config flag has to be read before cobra runs so the logger and
	// journal exist when commands execute. Cobra re-parses it afterwards.
	configPath := peekConfigFlag(os.Args[1:])

	if hasVersionFlag(os.Args[1:]) {
		fmt.Printf("dockhand %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	logger, logCloser, err := SetupLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		return ExitConfigError
	}
	defer logCloser.Close()

	journal, err := openJournal(cfg)
	if err != nil {
		logger.Error("failed to open deployment journal", "error", err)
		return ExitJournalError
	}
	defer journal.Close()

	a := &app{
		cfg:     &cobraConfig{},
		config:  cfg,
		logger:  logger,
		journal: journal,
		prompt:  newPrompter(os.Stdin, os.Stdout),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(a)
	root.Version = Version
	if err := root.ExecuteContext(ctx); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			// Stage failures already printed their single-line summary.
			if ee.code != ExitStageError {
				fmt.Fprintf(os.Stderr, "error: %v\n", ee.err)
			}
			return ee.code
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitConfigError
	}
	return ExitSuccess
}

func openJournal(cfg *Config) (store.Journal, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Journal.DSN), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	j, err := store.NewSQLiteJournal(cfg.Journal.DSN)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// peekConfigFlag extracts --config without disturbing cobra's parse.
func peekConfigFlag(args []string) string {
	fs := flag.NewFlagSet("peek", flag.ContinueOnError)
	fs.SetOutput(discardWriter{})
	configPath := fs.String("config", "", "")
	for i, arg := range args {
		if arg == "--config" || arg == "-config" {
			_ = fs.Parse(args[i:])
			break
		}
		if len(arg) > 9 && arg[:9] == "--config=" {
			_ = fs.Parse([]string{arg})
			break
		}
	}
	return *configPath
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
