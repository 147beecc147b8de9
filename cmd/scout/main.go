package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/scout-cli/cmd"
	"github.com/xkilldash9x/scout-cli/internal/observability"
)

// main is the entry point of the application.
func main() {
	defer handlePanic()

	// Listen for interrupt signals (SIGINT, SIGTERM) for graceful shutdown:
	// the first signal cancels the context so the agent can close the
	// browser; a second one kills the process the usual way.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		// A graceful shutdown during a task surfaces as context.Canceled;
		// cmd.Execute already logged it.
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

// handlePanic flushes buffered log entries before the process dies, so the
// crash context is not lost, then reports the stack on stderr.
func handlePanic() {
	if r := recover(); r != nil {
		observability.Sync()
		fmt.Fprintf(os.Stderr, "panic: %v\n\n%s", r, debug.Stack())
		os.Exit(1)
	}
}
