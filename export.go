package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vsalomaa/spmirror/internal/sync"
)

func newExportCmd() *cobra.Command {
	var (
		flagFormat    string
		flagOutput    string
		flagDeleted   bool
		flagBlobPaths bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export catalog metadata as JSON, JSONL, or CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			a, err := newApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer a.Close()

			var w io.Writer = os.Stdout

			if flagOutput != "" {
				f, err := os.Create(flagOutput)
				if err != nil {
					return fmt.Errorf("creating %s: %w", flagOutput, err)
				}
				defer f.Close()

				w = f
			}

			n, err := a.orch.ExportMetadata(cmd.Context(), w, sync.ExportOptions{
				Format:          sync.ExportFormat(flagFormat),
				IncludeDeleted:  flagDeleted,
				IncludeBlobPath: flagBlobPaths,
			})
			if err != nil {
				return err
			}

			statusf(flagQuiet, "Exported %d documents\n", n)

			return nil
		},
	}

	cmd.Flags().StringVar(&flagFormat, "format", "jsonl", "output format: json, jsonl, or csv")
	cmd.Flags().StringVar(&flagOutput, "output", "", "write to a file instead of stdout")
	cmd.Flags().BoolVar(&flagDeleted, "deleted", false, "include soft-deleted documents")
	cmd.Flags().BoolVar(&flagBlobPaths, "blob-paths", false, "include local blob file paths")

	return cmd
}
