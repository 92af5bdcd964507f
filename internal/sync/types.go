// Package sync implements the mirror's orchestrator: it drives Microsoft
// Graph delta queries over the site's document drives, reconciles the change
// stream against the catalog, deduplicates file bytes into the blob store,
// and records an auditable history of runs and per-item events. It also
// carries the maintenance operations the CLI exposes: status, listing,
// metadata export, connection probing, cursor reset, and storage
// verification.
package sync

import (
	"context"
	"io"

	"github.com/vsalomaa/spmirror/internal/catalog"
	"github.com/vsalomaa/spmirror/internal/graph"
)

// Remote is the Graph API surface the orchestrator consumes. The production
// implementation is *graph.Client; tests script a fake.
type Remote interface {
	// Site resolves the configured SharePoint site.
	Site(ctx context.Context, hostname, sitePath string) (*graph.Site, error)
	// Drives lists the site's document libraries.
	Drives(ctx context.Context, siteID string) ([]graph.Drive, error)
	// Delta fetches one fully-materialized page of a drive's change stream.
	Delta(ctx context.Context, driveID, link string) (*graph.DeltaPage, error)
	// Content opens a streaming reader over an item's bytes.
	Content(ctx context.Context, item graph.Item) (io.ReadCloser, error)
}

// Options select the behavior of a single Run invocation.
type Options struct {
	// Full ignores persisted delta cursors and re-enumerates every drive.
	// Cursors are only replaced when the traversal commits, so an
	// interrupted full run keeps its incremental resumption point.
	Full bool
	// DryRun walks the full state machine, Graph traversal included, but
	// mutates neither the catalog nor the blob store.
	DryRun bool
	// Library restricts the run to one document library by name,
	// overriding the configured library_name.
	Library string
}

// PreviewEvent is one would-be event reported by a dry run.
type PreviewEvent struct {
	Type catalog.EventType `json:"type"`
	Path string            `json:"path"`
	Name string            `json:"name"`
	Size int64             `json:"size"`
}

// Report is the outcome of a Run.
type Report struct {
	// Run is the finalized run row. Nil for dry runs, which never create
	// one.
	Run *catalog.Run
	// Counters are the run's tallies. For live runs they mirror the run
	// row; for dry runs they are the in-memory preview.
	Counters catalog.Counters
	// DryRun records which mode produced the report.
	DryRun bool
	// Drives are the libraries the run traversed.
	Drives []graph.Drive
	// Errors collects per-item failures that were skipped over.
	Errors []string
	// Events previews the event stream a dry run would have logged.
	Events []PreviewEvent
}

// Failed reports whether the run finalized with an error.
func (r *Report) Failed() bool {
	return r.Run != nil && r.Run.Status == catalog.RunFailed
}
