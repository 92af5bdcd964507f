package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newClearCursorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cursors",
		Short: "Drop all delta cursors so the next sync re-enumerates from scratch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			a, err := newApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.orch.ClearCursors(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Cleared %d cursors\n", n)

			return nil
		},
	}
}
