package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vsalomaa/spmirror/internal/blob"
	"github.com/vsalomaa/spmirror/internal/catalog"
	"github.com/vsalomaa/spmirror/internal/config"
	"github.com/vsalomaa/spmirror/internal/graph"
)

// ErrLibraryNotFound is returned when a requested document library does not
// exist on the site.
var ErrLibraryNotFound = errors.New("sync: document library not found")

// cancelledMessage is the error_message recorded for interrupted runs.
const cancelledMessage = "cancelled"

// Orchestrator coordinates sync runs and the maintenance operations exposed
// to the CLI. It is the only component that advances delta cursors.
type Orchestrator struct {
	remote Remote
	cat    *catalog.Catalog
	blobs  *blob.Store
	holder *config.Holder
	logger *slog.Logger
}

// New wires an orchestrator. The holder supplies a config snapshot per run
// so worker-mode reloads take effect at run boundaries.
func New(remote Remote, cat *catalog.Catalog, blobs *blob.Store, holder *config.Holder, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		remote: remote,
		cat:    cat,
		blobs:  blobs,
		holder: holder,
		logger: logger,
	}
}

// runState is the mutable state shared by a run's drive loops.
type runState struct {
	mu       sync.Mutex
	counters catalog.Counters // dry-run tallies; live runs count in the catalog
	errors   []string
	events   []PreviewEvent
}

func (s *runState) addCounters(c catalog.Counters) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters.Add(c)
}

func (s *runState) addError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errors = append(s.errors, msg)
}

func (s *runState) addEvent(ev PreviewEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, ev)
}

// Run executes one sync run end to end: resolve the site, enumerate drives,
// walk each drive's delta stream, and finalize. Per-item errors are skipped
// and reported; run-level errors finalize the run as failed with cursors
// unadvanced on the affected drives.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Report, error) {
	cfg := o.holder.Config()
	filter := NewFilter(&cfg.Sync)

	drives, err := o.resolveDrives(ctx, cfg, opts.Library)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		return o.dryRun(ctx, cfg, filter, drives, opts)
	}

	for _, d := range drives {
		err := o.cat.UpsertDrive(ctx, catalog.DriveInfo{
			ID:        d.ID,
			Name:      d.Name,
			DriveType: d.DriveType,
			WebURL:    d.WebURL,
		})
		if err != nil {
			return nil, err
		}
	}

	run, err := o.cat.StartRun(ctx, opts.Full)
	if err != nil {
		return nil, err
	}

	// The latch is held: stale temp files cannot belong to a live Put.
	if err := o.blobs.CleanTmp(); err != nil {
		o.logger.Warn("cleaning blob temp dir", slog.String("error", err.Error()))
	}

	state := &runState{}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(cfg.Sync.MaxParallelDrives)

	for _, d := range drives {
		group.Go(func() error {
			return o.syncDrive(groupCtx, run.ID, d, opts.Full, cfg, filter, state)
		})
	}

	runErr := group.Wait()

	errMsg := ""

	switch {
	case ctx.Err() != nil:
		errMsg = cancelledMessage
	case runErr != nil:
		errMsg = runErr.Error()
	}

	// Finalize even when the parent context is gone, so the latch is
	// released and the run row goes terminal.
	final, finishErr := o.cat.FinishRun(context.WithoutCancel(ctx), run.ID, errMsg)
	if finishErr != nil {
		return nil, finishErr
	}

	report := &Report{
		Run:      final,
		Counters: final.Counters,
		Drives:   drives,
		Errors:   state.errors,
	}

	if runErr != nil {
		return report, fmt.Errorf("sync: run %d failed: %w", run.ID, runErr)
	}

	return report, nil
}

// resolveDrives resolves the site and selects the drives to traverse.
// A named library that matches nothing is an error; an unfiltered site with
// no drives is just an empty run.
func (o *Orchestrator) resolveDrives(ctx context.Context, cfg *config.Config, library string) ([]graph.Drive, error) {
	site, err := o.remote.Site(ctx, cfg.SharePoint.SiteHostname, cfg.SharePoint.SitePath)
	if err != nil {
		return nil, fmt.Errorf("sync: resolving site: %w", err)
	}

	drives, err := o.remote.Drives(ctx, site.ID)
	if err != nil {
		return nil, fmt.Errorf("sync: listing drives: %w", err)
	}

	if library == "" {
		library = cfg.SharePoint.LibraryName
	}

	if library == "" {
		return drives, nil
	}

	for _, d := range drives {
		if d.Name == library {
			return []graph.Drive{d}, nil
		}
	}

	return nil, fmt.Errorf("sync: %w: %q", ErrLibraryNotFound, library)
}

// syncDrive walks one drive's delta stream page by page. The cursor is
// persisted only when the traversal reaches its terminal deltaLink, so an
// interrupted drive resumes from the last committed point.
func (o *Orchestrator) syncDrive(
	ctx context.Context,
	runID int64,
	drive graph.Drive,
	full bool,
	cfg *config.Config,
	filter *Filter,
	state *runState,
) error {
	logger := o.logger.With(slog.String("drive_id", drive.ID), slog.String("drive", drive.Name))

	link := ""

	if !full {
		stored, err := o.cat.GetDeltaLink(ctx, drive.ID)
		if err != nil {
			return err
		}

		link = stored
	}

	logger.Info("syncing drive", slog.Bool("incremental", link != ""))

	goneRestarted := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := o.remote.Delta(ctx, drive.ID, link)

		if err != nil && errors.Is(err, graph.ErrGone) && !goneRestarted {
			// The cursor expired server-side. Drop it and restart this
			// drive from a full enumeration, once per run.
			logger.Warn("delta cursor expired, restarting drive from full enumeration")

			if err := o.clearCursor(ctx, drive.ID); err != nil {
				return err
			}

			link = ""
			goneRestarted = true

			continue
		}

		if err != nil {
			return fmt.Errorf("sync: delta for drive %s: %w", drive.ID, err)
		}

		for _, item := range page.Items {
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := o.processItem(ctx, runID, drive.ID, item, cfg, filter, state); err != nil {
				return err
			}
		}

		if page.NextLink != "" {
			link = page.NextLink
			continue
		}

		if page.DeltaLink != "" {
			if err := o.persistCursor(ctx, drive.ID, page.DeltaLink); err != nil {
				return err
			}
		}

		logger.Info("drive traversal complete")

		return nil
	}
}

func (o *Orchestrator) persistCursor(ctx context.Context, driveID, link string) error {
	tx, err := o.cat.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := tx.SetDeltaLink(ctx, driveID, link); err != nil {
		return err
	}

	return tx.Commit()
}

func (o *Orchestrator) clearCursor(ctx context.Context, driveID string) error {
	tx, err := o.cat.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := tx.ClearDeltaLink(ctx, driveID); err != nil {
		return err
	}

	return tx.Commit()
}
