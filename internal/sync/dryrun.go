package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vsalomaa/spmirror/internal/catalog"
	"github.com/vsalomaa/spmirror/internal/config"
	"github.com/vsalomaa/spmirror/internal/graph"
)

// dryRun executes the run state machine without mutating the catalog or the
// blob store: no latch, no run row, no cursor movement. Drives are walked
// sequentially so the event preview has a stable order.
func (o *Orchestrator) dryRun(
	ctx context.Context,
	cfg *config.Config,
	filter *Filter,
	drives []graph.Drive,
	opts Options,
) (*Report, error) {
	state := &runState{}

	for _, drive := range drives {
		if err := o.dryRunDrive(ctx, drive, opts.Full, cfg, filter, state); err != nil {
			return nil, err
		}
	}

	o.logger.Info("dry run complete",
		slog.Int64("would_add", state.counters.Added),
		slog.Int64("would_modify", state.counters.Modified),
		slog.Int64("would_remove", state.counters.Removed),
	)

	return &Report{
		Counters: state.counters,
		DryRun:   true,
		Drives:   drives,
		Errors:   state.errors,
		Events:   state.events,
	}, nil
}

func (o *Orchestrator) dryRunDrive(
	ctx context.Context,
	drive graph.Drive,
	full bool,
	cfg *config.Config,
	filter *Filter,
	state *runState,
) error {
	link := ""

	if !full {
		stored, err := o.cat.GetDeltaLink(ctx, drive.ID)
		if err != nil {
			return err
		}

		link = stored
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := o.remote.Delta(ctx, drive.ID, link)
		if err != nil && errors.Is(err, graph.ErrGone) {
			// A dry run may not clear the cursor; preview from a full
			// enumeration instead.
			link = ""
			page, err = o.remote.Delta(ctx, drive.ID, "")
		}

		if err != nil {
			return fmt.Errorf("sync: delta for drive %s: %w", drive.ID, err)
		}

		for _, item := range page.Items {
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := o.previewItem(ctx, drive.ID, item, cfg, filter, state); err != nil {
				return err
			}
		}

		if page.NextLink == "" {
			return nil
		}

		link = page.NextLink
	}
}

// previewItem tallies what processItem would have done, without doing it.
func (o *Orchestrator) previewItem(
	ctx context.Context,
	driveID string,
	item graph.Item,
	cfg *config.Config,
	filter *Filter,
	state *runState,
) error {
	if item.IsDeleted {
		existing, err := o.cat.GetDocument(ctx, item.ID, driveID)
		if err != nil {
			return err
		}

		if existing != nil && !existing.IsDeleted {
			state.addCounters(catalog.Counters{Removed: 1})
			state.addEvent(PreviewEvent{
				Type: catalog.EventRemove,
				Path: existing.Path,
				Name: existing.Name,
				Size: existing.Size,
			})
		}

		return nil
	}

	if item.IsRoot || item.IsFolder || item.IsPackage {
		return nil
	}

	existing, err := o.cat.GetDocument(ctx, item.ID, driveID)
	if err != nil {
		return err
	}

	if decision := filter.Evaluate(item.Path(), item.Name, item.Size); !decision.Included {
		if existing != nil && !existing.IsDeleted {
			state.addCounters(catalog.Counters{Removed: 1})
			state.addEvent(PreviewEvent{
				Type: catalog.EventRemove,
				Path: existing.Path,
				Name: existing.Name,
				Size: existing.Size,
			})

			return nil
		}

		state.addCounters(catalog.Counters{Skipped: 1})

		return nil
	}

	if cfg.Sync.MetadataOnly {
		if existing == nil {
			state.addCounters(catalog.Counters{Added: 1})
			state.addEvent(previewOf(catalog.EventAdd, item))
		} else {
			state.addCounters(catalog.Counters{Unchanged: 1})
		}

		return nil
	}

	if !needsDownload(existing, item) {
		state.addCounters(catalog.Counters{Unchanged: 1})
		return nil
	}

	counters := catalog.Counters{BytesDownloaded: item.Size}

	if existing != nil && !existing.IsDeleted && existing.BlobID != nil {
		counters.Modified = 1

		state.addEvent(PreviewEvent{
			Type: catalog.EventModifyRemove,
			Path: existing.Path,
			Name: existing.Name,
			Size: existing.Size,
		})
		state.addEvent(previewOf(catalog.EventModifyAdd, item))
	} else {
		counters.Added = 1

		state.addEvent(previewOf(catalog.EventAdd, item))
	}

	state.addCounters(counters)

	return nil
}

func previewOf(typ catalog.EventType, item graph.Item) PreviewEvent {
	return PreviewEvent{
		Type: typ,
		Path: item.Path(),
		Name: item.Name,
		Size: item.Size,
	}
}
