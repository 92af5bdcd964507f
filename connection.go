package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newTestConnectionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection",
		Short: "Verify credentials and site access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			a, err := newApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.orch.TestConnection(cmd.Context())
			if err != nil {
				return err
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(report)
			}

			fmt.Printf("Connected to %s (%s)\n", report.Site.Name, report.Site.ID)

			for _, d := range report.Drives {
				fmt.Printf("  %s  %s (%s)\n", d.ID, d.Name, d.DriveType)
			}

			return nil
		},
	}
}
