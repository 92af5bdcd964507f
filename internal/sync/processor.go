package sync

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/vsalomaa/spmirror/internal/blob"
	"github.com/vsalomaa/spmirror/internal/catalog"
	"github.com/vsalomaa/spmirror/internal/config"
	"github.com/vsalomaa/spmirror/internal/graph"
	"github.com/vsalomaa/spmirror/pkg/quickxorhash"
)

// errQuickXorMismatch marks a download whose streamed QuickXorHash differed
// from the server-advertised one. Per-item, never fatal for the run.
var errQuickXorMismatch = errors.New("sync: quickxorhash mismatch")

// processItem applies one delta entry to the catalog and blob store. Item
// mutations, event rows, and counter updates for an entry share a single
// catalog transaction. Per-item failures (vanished content, hash mismatch)
// are counted as skipped; anything else fails the run.
func (o *Orchestrator) processItem(
	ctx context.Context,
	runID int64,
	driveID string,
	item graph.Item,
	cfg *config.Config,
	filter *Filter,
	state *runState,
) error {
	if item.IsDeleted {
		return o.applyDeletion(ctx, runID, driveID, item)
	}

	if item.IsRoot || item.IsFolder || item.IsPackage {
		return nil
	}

	itemPath := item.Path()

	if decision := filter.Evaluate(itemPath, item.Name, item.Size); !decision.Included {
		return o.applyRejection(ctx, runID, driveID, item, decision)
	}

	if cfg.Sync.MetadataOnly {
		return o.applyMetadataOnly(ctx, runID, driveID, item)
	}

	return o.applyContent(ctx, runID, driveID, item, cfg, state)
}

// applyDeletion soft-deletes a mirrored item and releases its content.
// Deletions of unknown or already-deleted items are silently ignored.
func (o *Orchestrator) applyDeletion(ctx context.Context, runID int64, driveID string, item graph.Item) error {
	tx, err := o.cat.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	doc, ref, err := tx.SoftDelete(ctx, item.ID, driveID)
	if err != nil {
		return err
	}

	if doc == nil {
		return tx.Rollback()
	}

	if err := tx.LogEvent(ctx, runID, catalog.EventRemove, snapshotOf(doc)); err != nil {
		return err
	}

	if err := tx.AddCounters(ctx, runID, catalog.Counters{Removed: 1}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	o.logger.Info("removed document", slog.String("path", doc.Path))

	return o.collectBlob(ref)
}

// applyRejection counts a filtered-out item as skipped, unless the item was
// previously mirrored and live: a filter change retracts it exactly like a
// deletion.
func (o *Orchestrator) applyRejection(
	ctx context.Context, runID int64, driveID string, item graph.Item, decision Decision,
) error {
	existing, err := o.cat.GetDocument(ctx, item.ID, driveID)
	if err != nil {
		return err
	}

	if existing != nil && !existing.IsDeleted {
		o.logger.Info("retracting document no longer matching filter",
			slog.String("path", existing.Path),
			slog.String("reason", decision.Reason),
		)

		return o.applyDeletion(ctx, runID, driveID, item)
	}

	o.logger.Debug("skipping item",
		slog.String("path", item.Path()),
		slog.String("reason", decision.Reason),
	)

	return o.countSkipped(ctx, runID)
}

// applyMetadataOnly upserts the catalog row without touching content. An
// existing blob reference is preserved: switching a mirror to metadata-only
// must not discard bytes already downloaded.
func (o *Orchestrator) applyMetadataOnly(ctx context.Context, runID int64, driveID string, item graph.Item) error {
	tx, err := o.cat.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	existing, err := tx.GetDocument(ctx, item.ID, driveID)
	if err != nil {
		return err
	}

	var blobID *int64
	if existing != nil && !existing.IsDeleted {
		blobID = existing.BlobID
	}

	doc, action, err := tx.UpsertDocument(ctx, item.ID, driveID, fieldsOf(item, item.MIMEType, item.Size), blobID)
	if err != nil {
		return err
	}

	counters := catalog.Counters{Unchanged: 1}

	if action == catalog.ActionInserted {
		counters = catalog.Counters{Added: 1}

		if err := tx.LogEvent(ctx, runID, catalog.EventAdd, snapshotOf(doc)); err != nil {
			return err
		}
	}

	if err := tx.AddCounters(ctx, runID, counters); err != nil {
		return err
	}

	return tx.Commit()
}

// applyContent reconciles an accepted file: reuse the stored blob when the
// server-advertised hash proves the content unchanged, otherwise download,
// verify, and swap.
func (o *Orchestrator) applyContent(
	ctx context.Context,
	runID int64,
	driveID string,
	item graph.Item,
	cfg *config.Config,
	state *runState,
) error {
	existing, err := o.cat.GetDocument(ctx, item.ID, driveID)
	if err != nil {
		return err
	}

	if !needsDownload(existing, item) {
		return o.applyReuse(ctx, runID, driveID, item, existing)
	}

	res, err := o.download(ctx, item, cfg)

	switch {
	case err == nil:
	case errors.Is(err, graph.ErrNotFound), errors.Is(err, graph.ErrNoContent):
		// Deleted or converted between the delta page and the fetch; the
		// next delta page will carry the deletion.
		o.logger.Warn("content vanished before download, skipping",
			slog.String("path", item.Path()),
		)
		state.addError(fmt.Sprintf("%s: %v", item.Path(), err))

		return o.countSkipped(ctx, runID)
	case errors.Is(err, errQuickXorMismatch):
		o.logger.Warn("quickxorhash mismatch, discarding download",
			slog.String("path", item.Path()),
		)
		state.addError(fmt.Sprintf("%s: hash mismatch", item.Path()))

		return o.countSkipped(ctx, runID)
	default:
		return fmt.Errorf("sync: downloading %s: %w", item.Path(), err)
	}

	return o.applySwap(ctx, runID, driveID, item, res)
}

// needsDownload decides whether stored content can be reused. The server's
// SHA-256 is authoritative when present; otherwise an unchanged modification
// timestamp and size are accepted as proof.
func needsDownload(existing *catalog.Document, item graph.Item) bool {
	if existing == nil || existing.IsDeleted || existing.BlobID == nil {
		return true
	}

	if item.SHA256Hash != "" {
		return !strings.EqualFold(item.SHA256Hash, existing.BlobSHA256) ||
			item.Size != existing.BlobSize
	}

	return !item.ModifiedAt.Equal(existing.RemoteModifiedAt) || item.Size != existing.Size
}

// applyReuse refreshes metadata on a document whose content is already
// stored. Metadata changes (renames included) log no event.
func (o *Orchestrator) applyReuse(
	ctx context.Context, runID int64, driveID string, item graph.Item, existing *catalog.Document,
) error {
	tx, err := o.cat.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	mime := item.MIMEType
	if mime == "" {
		mime = existing.MIME
	}

	_, _, err = tx.UpsertDocument(ctx, item.ID, driveID, fieldsOf(item, mime, existing.BlobSize), existing.BlobID)
	if err != nil {
		return err
	}

	if err := tx.AddCounters(ctx, runID, catalog.Counters{Unchanged: 1}); err != nil {
		return err
	}

	return tx.Commit()
}

// applySwap installs freshly downloaded content: acquire the blob, upsert
// the row, log events, release any replaced blob, and advance counters, all
// in one transaction. Blob files released to refcount zero are removed from
// disk after commit.
func (o *Orchestrator) applySwap(
	ctx context.Context,
	runID int64,
	driveID string,
	item graph.Item,
	res blob.PutResult,
) error {
	tx, err := o.cat.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	existing, err := tx.GetDocument(ctx, item.ID, driveID)
	if err != nil {
		return err
	}

	mime := item.MIMEType
	if mime == "" {
		mime = res.MIME
	}

	var blobID int64

	if existing != nil && existing.BlobID != nil && existing.BlobSHA256 == res.SHA256 {
		// The bytes did not change after all; keep the existing reference.
		blobID = *existing.BlobID
	} else {
		blobID, err = tx.AcquireBlob(ctx, res.SHA256, res.Size, mime)
		if err != nil {
			return err
		}
	}

	var oldSnapshot *catalog.EventSnapshot

	if existing != nil && !existing.IsDeleted && existing.BlobID != nil && *existing.BlobID != blobID {
		snap := snapshotOf(existing)
		oldSnapshot = &snap
	}

	doc, action, err := tx.UpsertDocument(ctx, item.ID, driveID, fieldsOf(item, mime, res.Size), &blobID)
	if err != nil {
		return err
	}

	counters := catalog.Counters{BytesDownloaded: res.Size}

	var released *catalog.BlobRef

	switch {
	case oldSnapshot != nil:
		// Content replacement: before/after snapshots under the same run.
		if err := tx.LogEvent(ctx, runID, catalog.EventModifyRemove, *oldSnapshot); err != nil {
			return err
		}

		if err := tx.LogEvent(ctx, runID, catalog.EventModifyAdd, snapshotOf(doc)); err != nil {
			return err
		}

		released, err = tx.ReleaseBlob(ctx, *oldSnapshot.BlobID)
		if err != nil {
			return err
		}

		counters.Modified = 1
	case action == catalog.ActionInserted || existing == nil || existing.IsDeleted || existing.BlobID == nil:
		// First content for this document (new, revived, or upgraded from
		// a metadata-only row).
		if err := tx.LogEvent(ctx, runID, catalog.EventAdd, snapshotOf(doc)); err != nil {
			return err
		}

		counters.Added = 1
	default:
		counters.Unchanged = 1
	}

	if err := tx.AddCounters(ctx, runID, counters); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	o.logger.Info("stored document",
		slog.String("path", doc.Path),
		slog.Int64("size", res.Size),
		slog.String("sha256", res.SHA256),
	)

	return o.collectBlob(released)
}

// download streams an item's content into the blob store, verifying the
// QuickXorHash alongside when configured and the server advertised one.
func (o *Orchestrator) download(ctx context.Context, item graph.Item, cfg *config.Config) (blob.PutResult, error) {
	if timeout := cfg.DownloadTimeout(); timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rc, err := o.remote.Content(ctx, item)
	if err != nil {
		return blob.PutResult{}, err
	}
	defer rc.Close()

	var (
		qx     hash.Hash
		reader io.Reader = rc
	)

	if cfg.Sync.VerifyQuickXorHash {
		if item.QuickXorHash == "" {
			// Some tenants suppress hashes; rejecting here would wedge the
			// mirror, so accept and note it.
			o.logger.Warn("server reported no quickxorhash, accepting unverified",
				slog.String("path", item.Path()),
			)
		} else {
			qx = quickxorhash.New()
			reader = io.TeeReader(rc, qx)
		}
	}

	res, err := o.blobs.Put(reader)
	if err != nil {
		return blob.PutResult{}, err
	}

	if qx != nil {
		computed := base64.StdEncoding.EncodeToString(qx.Sum(nil))
		if computed != item.QuickXorHash {
			o.discardUnreferenced(ctx, res.SHA256)

			return blob.PutResult{}, fmt.Errorf("%w: got %s, want %s",
				errQuickXorMismatch, computed, item.QuickXorHash)
		}
	}

	return res, nil
}

// discardUnreferenced removes a just-written blob file, but only when no
// catalog row references the hash: identical bytes may already be mirrored
// under another document.
func (o *Orchestrator) discardUnreferenced(ctx context.Context, sha string) {
	existing, err := o.cat.GetBlobBySHA(ctx, sha)
	if err != nil || existing != nil {
		return
	}

	if err := o.blobs.Remove(sha); err != nil {
		o.logger.Warn("discarding rejected blob", slog.String("error", err.Error()))
	}
}

// collectBlob removes the on-disk file of a blob whose last reference was
// released. Called after the releasing transaction committed.
func (o *Orchestrator) collectBlob(ref *catalog.BlobRef) error {
	if ref == nil || ref.Refcount > 0 {
		return nil
	}

	return o.blobs.Remove(ref.SHA256)
}

// countSkipped advances the skipped counter in its own transaction.
func (o *Orchestrator) countSkipped(ctx context.Context, runID int64) error {
	tx, err := o.cat.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := tx.AddCounters(ctx, runID, catalog.Counters{Skipped: 1}); err != nil {
		return err
	}

	return tx.Commit()
}

// fieldsOf maps a normalized Graph item to catalog document fields. Names
// and paths are NFC-normalized so macOS-composed and server-decomposed
// spellings of the same name land on one row.
func fieldsOf(item graph.Item, mime string, size int64) catalog.DocumentFields {
	return catalog.DocumentFields{
		Name:             norm.NFC.String(item.Name),
		Path:             norm.NFC.String(item.Path()),
		MIME:             mime,
		Size:             size,
		WebURL:           item.WebURL,
		CreatedBy:        item.CreatedBy,
		LastModifiedBy:   item.LastModifiedBy,
		QuickXorHash:     item.QuickXorHash,
		RemoteCreatedAt:  item.CreatedAt,
		RemoteModifiedAt: item.ModifiedAt,
	}
}

// snapshotOf captures a document's current state for the event log.
func snapshotOf(doc *catalog.Document) catalog.EventSnapshot {
	return catalog.EventSnapshot{
		DocumentID: doc.ID,
		ItemID:     doc.ItemID,
		Name:       doc.Name,
		Path:       doc.Path,
		Size:       doc.Size,
		BlobID:     doc.BlobID,
	}
}
