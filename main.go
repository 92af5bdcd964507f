package main

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2"

	"github.com/vsalomaa/spmirror/internal/catalog"
	"github.com/vsalomaa/spmirror/internal/graph"
)

// Exit codes form the CLI contract: scripts key off them.
const (
	exitConfig         = 1
	exitConnection     = 2
	exitSyncFailed     = 3
	exitAlreadyRunning = 4
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error identity to the documented exit codes. Anything not
// recognized counts as a failed operation.
func exitCode(err error) int {
	var (
		cfgErr   *configError
		tokenErr *oauth2.RetrieveError
	)

	switch {
	case errors.As(err, &cfgErr):
		return exitConfig
	case errors.Is(err, catalog.ErrAlreadyRunning):
		return exitAlreadyRunning
	case errors.Is(err, graph.ErrUnauthorized),
		errors.Is(err, graph.ErrForbidden),
		errors.As(err, &tokenErr):
		return exitConnection
	default:
		return exitSyncFailed
	}
}
