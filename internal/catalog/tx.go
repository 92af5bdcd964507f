package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Document queries.
const (
	sqlInsertDocument = `INSERT INTO documents
		(item_id, drive_id, name, path, mime, size, web_url,
		 created_by, last_modified_by, quickxor_hash,
		 remote_created_at, remote_modified_at, blob_id, is_deleted,
		 synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`

	sqlUpdateDocument = `UPDATE documents SET
		 name = ?, path = ?, mime = ?, size = ?, web_url = ?,
		 created_by = ?, last_modified_by = ?, quickxor_hash = ?,
		 remote_created_at = ?, remote_modified_at = ?, blob_id = ?,
		 is_deleted = 0, synced_at = ?, updated_at = ?
		WHERE id = ?`

	sqlTouchDocument = `UPDATE documents SET synced_at = ? WHERE id = ?`

	sqlSoftDeleteDocument = `UPDATE documents
		SET is_deleted = 1, blob_id = NULL, updated_at = ?
		WHERE id = ?`
)

// Blob queries.
const (
	sqlAcquireBlob = `INSERT INTO file_blobs (sha256, size, mime, refcount, created_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(sha256) DO UPDATE SET refcount = refcount + 1`

	sqlBlobIDBySHA = `SELECT id FROM file_blobs WHERE sha256 = ?`

	sqlBlobByID = `SELECT sha256, refcount FROM file_blobs WHERE id = ?`

	sqlUpdateRefcount = `UPDATE file_blobs SET refcount = ? WHERE id = ?`

	sqlDeleteBlob = `DELETE FROM file_blobs WHERE id = ?`
)

// Cursor, event, and counter queries.
const (
	sqlSetDeltaLink = `INSERT INTO delta_cursors (drive_id, delta_link, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(drive_id) DO UPDATE SET
		 delta_link = excluded.delta_link,
		 updated_at = excluded.updated_at`

	sqlClearDeltaLink = `DELETE FROM delta_cursors WHERE drive_id = ?`

	sqlInsertEvent = `INSERT INTO sync_events
		(run_id, document_id, type, item_id, name, path, size, blob_id, logged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlAddCounters = `UPDATE sync_runs SET
		 added = added + ?,
		 modified = modified + ?,
		 removed = removed + ?,
		 unchanged = unchanged + ?,
		 skipped = skipped + ?,
		 bytes_downloaded = bytes_downloaded + ?
		WHERE id = ?`
)

// Tx is a unit of work over the catalog. Mutations that span rows (swap a
// blob on a document, delete plus release, mutation plus counters) must
// share one Tx so a crash never leaves them half-applied. Callers commit on
// success and defer Rollback.
type Tx struct {
	tx      *sql.Tx
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Begin opens a write transaction.
func (c *Catalog) Begin(ctx context.Context) (*Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: beginning transaction: %w", err)
	}

	return &Tx{tx: tx, logger: c.logger, nowFunc: c.nowFunc}, nil
}

// Commit makes the unit of work durable.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("catalog: committing transaction: %w", err)
	}

	return nil
}

// Rollback abandons the unit of work. Safe to call after Commit, so it can
// be deferred unconditionally.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("catalog: rolling back transaction: %w", err)
	}

	return nil
}

// GetDocument looks up a document by its remote key inside the transaction.
// Returns (nil, nil) when no row exists.
func (t *Tx) GetDocument(ctx context.Context, itemID, driveID string) (*Document, error) {
	return getDocument(ctx, t.tx, itemID, driveID)
}

// UpsertDocument inserts or updates a document matched on (item_id,
// drive_id) and classifies the change: updated_content when the blob
// reference changed, updated_metadata when any other field changed (or the
// row was revived from soft-delete), unchanged otherwise. An unchanged
// upsert only refreshes synced_at.
func (t *Tx) UpsertDocument(
	ctx context.Context, itemID, driveID string, fields DocumentFields, blobID *int64,
) (*Document, UpsertAction, error) {
	existing, err := getDocument(ctx, t.tx, itemID, driveID)
	if err != nil {
		return nil, "", err
	}

	now := toUnixNano(t.nowFunc())

	if existing == nil {
		_, err := t.tx.ExecContext(ctx, sqlInsertDocument,
			itemID, driveID, fields.Name, fields.Path, fields.MIME, fields.Size,
			fields.WebURL, fields.CreatedBy, fields.LastModifiedBy, fields.QuickXorHash,
			toUnixNano(fields.RemoteCreatedAt), toUnixNano(fields.RemoteModifiedAt),
			nullInt64(blobID), now, now, now,
		)
		if err != nil {
			return nil, "", fmt.Errorf("catalog: inserting document %s/%s: %w", driveID, itemID, err)
		}

		doc, err := getDocument(ctx, t.tx, itemID, driveID)
		if err != nil {
			return nil, "", err
		}

		return doc, ActionInserted, nil
	}

	action := classifyUpsert(existing, fields, blobID)

	if action == ActionUnchanged {
		if _, err := t.tx.ExecContext(ctx, sqlTouchDocument, now, existing.ID); err != nil {
			return nil, "", fmt.Errorf("catalog: touching document %s/%s: %w", driveID, itemID, err)
		}

		existing.SyncedAt = fromUnixNano(now)

		return existing, action, nil
	}

	_, err = t.tx.ExecContext(ctx, sqlUpdateDocument,
		fields.Name, fields.Path, fields.MIME, fields.Size, fields.WebURL,
		fields.CreatedBy, fields.LastModifiedBy, fields.QuickXorHash,
		toUnixNano(fields.RemoteCreatedAt), toUnixNano(fields.RemoteModifiedAt),
		nullInt64(blobID), now, now, existing.ID,
	)
	if err != nil {
		return nil, "", fmt.Errorf("catalog: updating document %s/%s: %w", driveID, itemID, err)
	}

	doc, err := getDocument(ctx, t.tx, itemID, driveID)
	if err != nil {
		return nil, "", err
	}

	return doc, action, nil
}

// classifyUpsert decides what an upsert against an existing row amounts to.
func classifyUpsert(existing *Document, fields DocumentFields, blobID *int64) UpsertAction {
	if !sameBlobRef(existing.BlobID, blobID) {
		return ActionUpdatedContent
	}

	if existing.IsDeleted || metadataChanged(existing, fields) {
		return ActionUpdatedMetadata
	}

	return ActionUnchanged
}

func sameBlobRef(a, b *int64) bool {
	if a == nil && b == nil {
		return true
	}

	if a == nil || b == nil {
		return false
	}

	return *a == *b
}

func metadataChanged(existing *Document, fields DocumentFields) bool {
	return existing.Name != fields.Name ||
		existing.Path != fields.Path ||
		existing.MIME != fields.MIME ||
		existing.Size != fields.Size ||
		existing.WebURL != fields.WebURL ||
		existing.CreatedBy != fields.CreatedBy ||
		existing.LastModifiedBy != fields.LastModifiedBy ||
		existing.QuickXorHash != fields.QuickXorHash ||
		toUnixNano(existing.RemoteCreatedAt) != toUnixNano(fields.RemoteCreatedAt) ||
		toUnixNano(existing.RemoteModifiedAt) != toUnixNano(fields.RemoteModifiedAt)
}

// SoftDelete marks a document deleted, nulls its blob reference, and
// releases the reference. Returns the document as it was before deletion and
// the released blob's state (nil when the document held no content); a
// returned refcount of zero means the caller owns removing the file after
// commit. Unknown or already-deleted documents return (nil, nil, nil).
func (t *Tx) SoftDelete(ctx context.Context, itemID, driveID string) (*Document, *BlobRef, error) {
	existing, err := getDocument(ctx, t.tx, itemID, driveID)
	if err != nil {
		return nil, nil, err
	}

	if existing == nil || existing.IsDeleted {
		return nil, nil, nil
	}

	now := toUnixNano(t.nowFunc())

	if _, err := t.tx.ExecContext(ctx, sqlSoftDeleteDocument, now, existing.ID); err != nil {
		return nil, nil, fmt.Errorf("catalog: soft-deleting document %s/%s: %w", driveID, itemID, err)
	}

	var ref *BlobRef

	if existing.BlobID != nil {
		ref, err = t.ReleaseBlob(ctx, *existing.BlobID)
		if err != nil {
			return nil, nil, err
		}
	}

	t.logger.Debug("soft-deleted document",
		slog.String("drive_id", driveID),
		slog.String("item_id", itemID),
		slog.String("path", existing.Path),
	)

	return existing, ref, nil
}

// AcquireBlob inserts a blob row for sha256 or increments the refcount of
// the existing one, returning the blob id.
func (t *Tx) AcquireBlob(ctx context.Context, sha256 string, size int64, mime string) (int64, error) {
	_, err := t.tx.ExecContext(ctx, sqlAcquireBlob, sha256, size, mime, toUnixNano(t.nowFunc()))
	if err != nil {
		return 0, fmt.Errorf("catalog: acquiring blob %s: %w", sha256, err)
	}

	var id int64
	if err := t.tx.QueryRowContext(ctx, sqlBlobIDBySHA, sha256).Scan(&id); err != nil {
		return 0, fmt.Errorf("catalog: reading blob id for %s: %w", sha256, err)
	}

	return id, nil
}

// ReleaseBlob decrements a blob's refcount, deleting the row when it
// reaches zero. The caller removes the file after commit when Refcount == 0.
func (t *Tx) ReleaseBlob(ctx context.Context, blobID int64) (*BlobRef, error) {
	var (
		sha      string
		refcount int64
	)

	if err := t.tx.QueryRowContext(ctx, sqlBlobByID, blobID).Scan(&sha, &refcount); err != nil {
		return nil, fmt.Errorf("catalog: releasing unknown blob %d: %w", blobID, err)
	}

	refcount--

	if refcount <= 0 {
		refcount = 0

		if _, err := t.tx.ExecContext(ctx, sqlDeleteBlob, blobID); err != nil {
			return nil, fmt.Errorf("catalog: deleting blob row %d: %w", blobID, err)
		}
	} else if _, err := t.tx.ExecContext(ctx, sqlUpdateRefcount, refcount, blobID); err != nil {
		return nil, fmt.Errorf("catalog: updating blob refcount %d: %w", blobID, err)
	}

	return &BlobRef{ID: blobID, SHA256: sha, Refcount: refcount}, nil
}

// SetDeltaLink persists the cursor for a drive, replacing any previous one.
func (t *Tx) SetDeltaLink(ctx context.Context, driveID, link string) error {
	_, err := t.tx.ExecContext(ctx, sqlSetDeltaLink, driveID, link, toUnixNano(t.nowFunc()))
	if err != nil {
		return fmt.Errorf("catalog: setting delta link for %s: %w", driveID, err)
	}

	return nil
}

// ClearDeltaLink drops a drive's cursor so the next traversal re-enumerates
// from scratch.
func (t *Tx) ClearDeltaLink(ctx context.Context, driveID string) error {
	if _, err := t.tx.ExecContext(ctx, sqlClearDeltaLink, driveID); err != nil {
		return fmt.Errorf("catalog: clearing delta link for %s: %w", driveID, err)
	}

	return nil
}

// LogEvent appends one event under a run.
func (t *Tx) LogEvent(ctx context.Context, runID int64, typ EventType, snap EventSnapshot) error {
	var docID sql.NullInt64
	if snap.DocumentID != 0 {
		docID = sql.NullInt64{Int64: snap.DocumentID, Valid: true}
	}

	_, err := t.tx.ExecContext(ctx, sqlInsertEvent,
		runID, docID, string(typ), snap.ItemID, snap.Name, snap.Path,
		snap.Size, nullInt64(snap.BlobID), toUnixNano(t.nowFunc()),
	)
	if err != nil {
		return fmt.Errorf("catalog: logging %s event for %s: %w", typ, snap.Path, err)
	}

	return nil
}

// AddCounters advances the run's tallies. Called inside the same transaction
// as the mutation the counters describe.
func (t *Tx) AddCounters(ctx context.Context, runID int64, c Counters) error {
	_, err := t.tx.ExecContext(ctx, sqlAddCounters,
		c.Added, c.Modified, c.Removed, c.Unchanged, c.Skipped, c.BytesDownloaded,
		runID,
	)
	if err != nil {
		return fmt.Errorf("catalog: updating counters for run %d: %w", runID, err)
	}

	return nil
}
