package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vsalomaa/spmirror/internal/sync"
)

// errVerifyMismatch marks a verification pass that found problems, so the
// command exits non-zero without a noisy wrapped error.
var errVerifyMismatch = errors.New("storage verification found problems")

func newVerifyStorageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-storage",
		Short: "Rehash every stored blob against the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			a, err := newApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.orch.VerifyStorage(cmd.Context())
			if err != nil {
				return err
			}

			if flagJSON {
				if err := json.NewEncoder(os.Stdout).Encode(report); err != nil {
					return err
				}
			} else {
				printVerifyReport(report)
			}

			if !report.Clean() {
				return errVerifyMismatch
			}

			return nil
		},
	}
}

func printVerifyReport(report *sync.VerifyReport) {
	fmt.Printf("OK: %d  Missing: %d  Corrupt: %d  Orphans: %d\n",
		report.OK, len(report.Missing), len(report.Corrupt), len(report.Orphans))

	for _, sha := range report.Missing {
		fmt.Printf("missing  %s\n", sha)
	}

	for _, sha := range report.Corrupt {
		fmt.Printf("corrupt  %s\n", sha)
	}

	for _, sha := range report.Orphans {
		fmt.Printf("orphan   %s\n", sha)
	}
}
