package sync

import (
	"context"
	"fmt"

	"github.com/vsalomaa/spmirror/internal/catalog"
	"github.com/vsalomaa/spmirror/internal/graph"
)

// StatusReport is the orchestrator's view of the mirror's state.
type StatusReport struct {
	InProgress bool
	CurrentRun *catalog.Run
	LastRun    *catalog.Run
	Totals     catalog.Totals
	Cursors    []catalog.CursorState
}

// Status reads the current and last run, the aggregate document and blob
// counts, and the persisted cursors.
func (o *Orchestrator) Status(ctx context.Context) (*StatusReport, error) {
	current, err := o.cat.CurrentRun(ctx)
	if err != nil {
		return nil, err
	}

	last, err := o.cat.LastRun(ctx)
	if err != nil {
		return nil, err
	}

	totals, err := o.cat.GetTotals(ctx)
	if err != nil {
		return nil, err
	}

	cursors, err := o.cat.CursorStates(ctx)
	if err != nil {
		return nil, err
	}

	return &StatusReport{
		InProgress: current != nil,
		CurrentRun: current,
		LastRun:    last,
		Totals:     *totals,
		Cursors:    cursors,
	}, nil
}

// List returns catalog rows, optionally filtered by a full-text search over
// name and path.
func (o *Orchestrator) List(ctx context.Context, opts catalog.ListOptions) ([]catalog.Document, error) {
	return o.cat.ListDocuments(ctx, opts)
}

// ClearCursors drops every persisted delta cursor so the next run
// re-enumerates all drives from scratch. Returns the number of cursors
// dropped.
func (o *Orchestrator) ClearCursors(ctx context.Context) (int64, error) {
	return o.cat.ClearDeltaCursors(ctx)
}

// ConnectionReport describes a successful connectivity probe.
type ConnectionReport struct {
	Site   graph.Site
	Drives []graph.Drive
}

// TestConnection acquires a token, resolves the configured site, and lists
// its drives. Any failure surfaces with its cause intact so the CLI can map
// auth errors to the right exit code.
func (o *Orchestrator) TestConnection(ctx context.Context) (*ConnectionReport, error) {
	cfg := o.holder.Config()

	site, err := o.remote.Site(ctx, cfg.SharePoint.SiteHostname, cfg.SharePoint.SitePath)
	if err != nil {
		return nil, fmt.Errorf("sync: connection test: %w", err)
	}

	drives, err := o.remote.Drives(ctx, site.ID)
	if err != nil {
		return nil, fmt.Errorf("sync: connection test: %w", err)
	}

	return &ConnectionReport{Site: *site, Drives: drives}, nil
}
