package main

import (
	"github.com/spf13/cobra"

	"github.com/vsalomaa/spmirror/internal/config"
	"github.com/vsalomaa/spmirror/internal/events"
	"github.com/vsalomaa/spmirror/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	var (
		flagInterval    string
		flagMetricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the periodic sync daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()
			ctx := shutdownContext(cmd.Context(), logger)

			if cmd.Flags().Changed("interval") {
				resolvedCfg.Worker.Interval = flagInterval
			}

			if cmd.Flags().Changed("metrics-addr") {
				resolvedCfg.Worker.MetricsAddr = flagMetricsAddr
			}

			// Flag overrides land after Resolve validated, so recheck.
			if err := config.Validate(resolvedCfg); err != nil {
				return &configError{err}
			}

			a, err := newApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			publisher, err := events.NewPublisher(ctx, a.cfg.Events, logger)
			if err != nil {
				return err
			}

			w := worker.New(a.orch, a.cat, a.holder, publisher, logger)

			return w.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&flagInterval, "interval", "", "sync cadence, e.g. 15m (overrides config)")
	cmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "metrics listen address (overrides config; empty disables)")

	return cmd
}
