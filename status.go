package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vsalomaa/spmirror/internal/catalog"
	"github.com/vsalomaa/spmirror/internal/sync"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show mirror state: runs, totals, cursors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			a, err := newApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.orch.Status(cmd.Context())
			if err != nil {
				return err
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(statusResultOf(report))
			}

			printStatus(report)

			return nil
		},
	}
}

type runResult struct {
	RunID           int64  `json:"run_id"`
	Status          string `json:"status"`
	IsFull          bool   `json:"is_full"`
	StartedAt       string `json:"started_at"`
	CompletedAt     string `json:"completed_at,omitempty"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
	Added           int64  `json:"added"`
	Modified        int64  `json:"modified"`
	Removed         int64  `json:"removed"`
	ErrorMessage    string `json:"error_message,omitempty"`
}

type statusResult struct {
	InProgress    bool       `json:"in_progress"`
	CurrentRun    *runResult `json:"current_run,omitempty"`
	LastRun       *runResult `json:"last_run,omitempty"`
	Documents     int64      `json:"documents"`
	DocumentBytes int64      `json:"document_bytes"`
	Blobs         int64      `json:"blobs"`
	BlobBytes     int64      `json:"blob_bytes"`
	Cursors       int        `json:"cursors"`
}

func runResultOf(run *catalog.Run) *runResult {
	if run == nil {
		return nil
	}

	res := &runResult{
		RunID:        run.ID,
		Status:       string(run.Status),
		IsFull:       run.IsFull,
		StartedAt:    run.StartedAt.UTC().Format(time.RFC3339),
		Added:        run.Counters.Added,
		Modified:     run.Counters.Modified,
		Removed:      run.Counters.Removed,
		ErrorMessage: run.ErrorMessage,
	}

	if run.CompletedAt != nil {
		res.CompletedAt = run.CompletedAt.UTC().Format(time.RFC3339)
		res.DurationSeconds = int64(run.Duration().Seconds())
	}

	return res
}

func statusResultOf(report *sync.StatusReport) statusResult {
	return statusResult{
		InProgress:    report.InProgress,
		CurrentRun:    runResultOf(report.CurrentRun),
		LastRun:       runResultOf(report.LastRun),
		Documents:     report.Totals.Documents,
		DocumentBytes: report.Totals.DocumentBytes,
		Blobs:         report.Totals.Blobs,
		BlobBytes:     report.Totals.BlobBytes,
		Cursors:       len(report.Cursors),
	}
}

func printStatus(report *sync.StatusReport) {
	if report.InProgress {
		fmt.Printf("Sync in progress (run %d, started %s)\n",
			report.CurrentRun.ID, formatTime(report.CurrentRun.StartedAt))
	} else {
		fmt.Println("No sync in progress")
	}

	if last := report.LastRun; last != nil {
		fmt.Printf("Last run: %d (%s) started %s",
			last.ID, last.Status, formatTime(last.StartedAt))

		if last.CompletedAt != nil {
			fmt.Printf(", took %s", last.Duration().Round(time.Second))
		}

		fmt.Println()

		if last.ErrorMessage != "" {
			fmt.Printf("  error: %s\n", last.ErrorMessage)
		}

		c := last.Counters
		fmt.Printf("  added %d, modified %d, removed %d, unchanged %d, skipped %d, downloaded %s\n",
			c.Added, c.Modified, c.Removed, c.Unchanged, c.Skipped, formatSize(c.BytesDownloaded))
	}

	fmt.Printf("Documents: %d (%s)  Blobs: %d (%s)\n",
		report.Totals.Documents, formatSize(report.Totals.DocumentBytes),
		report.Totals.Blobs, formatSize(report.Totals.BlobBytes))

	for _, cur := range report.Cursors {
		fmt.Printf("Cursor: %s (%s) updated %s\n",
			cur.DriveName, cur.DriveID, formatTime(cur.UpdatedAt))
	}
}
