package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Read-side queries.
const (
	sqlGetDeltaLink = `SELECT delta_link FROM delta_cursors WHERE drive_id = ?`

	sqlClearAllCursors = `DELETE FROM delta_cursors`

	sqlCursorStates = `SELECT c.drive_id, COALESCE(d.name, ''), c.updated_at
		FROM delta_cursors c
		LEFT JOIN drives d ON d.drive_id = c.drive_id
		ORDER BY c.drive_id`

	sqlUpsertDrive = `INSERT INTO drives (drive_id, site_id, name, drive_type, web_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(drive_id) DO UPDATE SET
		 site_id = excluded.site_id,
		 name = excluded.name,
		 drive_type = excluded.drive_type,
		 web_url = excluded.web_url,
		 updated_at = excluded.updated_at`

	sqlDocumentTotals = `SELECT COUNT(*), COALESCE(SUM(size), 0)
		FROM documents WHERE is_deleted = 0`

	sqlBlobTotals = `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM file_blobs`

	sqlBlobBySHA = `SELECT id, sha256, size, mime, refcount, created_at
		FROM file_blobs WHERE sha256 = ?`

	sqlForEachBlob = `SELECT id, sha256, size, mime, refcount, created_at
		FROM file_blobs ORDER BY sha256`

	sqlEventsForRun = `SELECT id, run_id, document_id, type, item_id, name, path,
		size, blob_id, logged_at
		FROM sync_events WHERE run_id = ? ORDER BY id`
)

// GetDocument looks up a document by its remote key. Returns (nil, nil) when
// no row exists.
func (c *Catalog) GetDocument(ctx context.Context, itemID, driveID string) (*Document, error) {
	return getDocument(ctx, c.db, itemID, driveID)
}

// ListOptions control ListDocuments.
type ListOptions struct {
	// Search filters by FTS match over name and path when non-empty.
	Search string
	// Limit caps the result; zero or negative means no cap.
	Limit int
	// IncludeDeleted keeps soft-deleted rows in the result.
	IncludeDeleted bool
}

// ListDocuments returns catalog rows ordered by path, optionally filtered by
// a full-text search over name and path.
func (c *Catalog) ListDocuments(ctx context.Context, opts ListOptions) ([]Document, error) {
	query := documentSelect
	args := []any{}

	var clauses []string

	if opts.Search != "" {
		query += ` JOIN documents_fts ON documents_fts.rowid = d.id`

		clauses = append(clauses, `documents_fts MATCH ?`)
		args = append(args, ftsQuery(opts.Search))
	}

	if !opts.IncludeDeleted {
		clauses = append(clauses, `d.is_deleted = 0`)
	}

	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}

	query += ` ORDER BY d.path`

	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document

	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scanning document: %w", err)
		}

		docs = append(docs, *doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: listing documents: %w", err)
	}

	return docs, nil
}

// ftsQuery turns user input into a quoted prefix query so FTS5 operators in
// the input cannot break the statement.
func ftsQuery(input string) string {
	return `"` + strings.ReplaceAll(input, `"`, `""`) + `"*`
}

// ForEachDocument streams documents ordered by path into fn. Returning an
// error from fn stops the iteration.
func (c *Catalog) ForEachDocument(ctx context.Context, includeDeleted bool, fn func(Document) error) error {
	query := documentSelect
	if !includeDeleted {
		query += ` WHERE d.is_deleted = 0`
	}

	query += ` ORDER BY d.path`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("catalog: iterating documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return fmt.Errorf("catalog: scanning document: %w", err)
		}

		if err := fn(*doc); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("catalog: iterating documents: %w", err)
	}

	return nil
}

// ForEachBlob streams blob rows ordered by hash into fn.
func (c *Catalog) ForEachBlob(ctx context.Context, fn func(Blob) error) error {
	rows, err := c.db.QueryContext(ctx, sqlForEachBlob)
	if err != nil {
		return fmt.Errorf("catalog: iterating blobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		blob, err := scanBlob(rows)
		if err != nil {
			return fmt.Errorf("catalog: scanning blob: %w", err)
		}

		if err := fn(*blob); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("catalog: iterating blobs: %w", err)
	}

	return nil
}

// GetBlobBySHA looks up a blob row by content hash. Returns (nil, nil) when
// no row exists.
func (c *Catalog) GetBlobBySHA(ctx context.Context, sha256 string) (*Blob, error) {
	blob, err := scanBlob(c.db.QueryRowContext(ctx, sqlBlobBySHA, sha256))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("catalog: loading blob %s: %w", sha256, err)
	}

	return blob, nil
}

func scanBlob(row rowScanner) (*Blob, error) {
	var (
		blob      Blob
		createdAt int64
	)

	err := row.Scan(&blob.ID, &blob.SHA256, &blob.Size, &blob.MIME, &blob.Refcount, &createdAt)
	if err != nil {
		return nil, err
	}

	blob.CreatedAt = fromUnixNano(createdAt)

	return &blob, nil
}

// GetDeltaLink returns the persisted cursor for a drive, or "" when the
// drive has never completed a traversal.
func (c *Catalog) GetDeltaLink(ctx context.Context, driveID string) (string, error) {
	var link string

	err := c.db.QueryRowContext(ctx, sqlGetDeltaLink, driveID).Scan(&link)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("catalog: reading delta link for %s: %w", driveID, err)
	}

	return link, nil
}

// ClearDeltaCursors drops every drive's cursor, forcing full re-enumeration
// on the next run. Returns how many cursors were dropped.
func (c *Catalog) ClearDeltaCursors(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, sqlClearAllCursors)
	if err != nil {
		return 0, fmt.Errorf("catalog: clearing delta cursors: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("catalog: counting cleared cursors: %w", err)
	}

	return n, nil
}

// CursorStates lists persisted cursors with their drive names for display.
func (c *Catalog) CursorStates(ctx context.Context) ([]CursorState, error) {
	rows, err := c.db.QueryContext(ctx, sqlCursorStates)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing cursors: %w", err)
	}
	defer rows.Close()

	var states []CursorState

	for rows.Next() {
		var (
			state     CursorState
			updatedAt int64
		)

		if err := rows.Scan(&state.DriveID, &state.DriveName, &updatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scanning cursor: %w", err)
		}

		state.UpdatedAt = fromUnixNano(updatedAt)
		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: listing cursors: %w", err)
	}

	return states, nil
}

// UpsertDrive records a document library seen during drive enumeration.
func (c *Catalog) UpsertDrive(ctx context.Context, drive DriveInfo) error {
	_, err := c.db.ExecContext(ctx, sqlUpsertDrive,
		drive.ID, drive.SiteID, drive.Name, drive.DriveType, drive.WebURL,
		toUnixNano(c.nowFunc()),
	)
	if err != nil {
		return fmt.Errorf("catalog: upserting drive %s: %w", drive.ID, err)
	}

	return nil
}

// GetTotals aggregates live document and blob counts for status output.
func (c *Catalog) GetTotals(ctx context.Context) (*Totals, error) {
	var totals Totals

	err := c.db.QueryRowContext(ctx, sqlDocumentTotals).
		Scan(&totals.Documents, &totals.DocumentBytes)
	if err != nil {
		return nil, fmt.Errorf("catalog: aggregating documents: %w", err)
	}

	err = c.db.QueryRowContext(ctx, sqlBlobTotals).
		Scan(&totals.Blobs, &totals.BlobBytes)
	if err != nil {
		return nil, fmt.Errorf("catalog: aggregating blobs: %w", err)
	}

	return &totals, nil
}

// EventsForRun returns a run's events in logged order.
func (c *Catalog) EventsForRun(ctx context.Context, runID int64) ([]Event, error) {
	rows, err := c.db.QueryContext(ctx, sqlEventsForRun, runID)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing events for run %d: %w", runID, err)
	}
	defer rows.Close()

	var events []Event

	for rows.Next() {
		var (
			event    Event
			docID    sql.NullInt64
			blobID   sql.NullInt64
			typ      string
			loggedAt int64
		)

		err := rows.Scan(
			&event.ID, &event.RunID, &docID, &typ, &event.ItemID,
			&event.Name, &event.Path, &event.Size, &blobID, &loggedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("catalog: scanning event: %w", err)
		}

		event.Type = EventType(typ)
		event.LoggedAt = fromUnixNano(loggedAt)

		if docID.Valid {
			event.DocumentID = &docID.Int64
		}

		if blobID.Valid {
			event.BlobID = &blobID.Int64
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: listing events for run %d: %w", runID, err)
	}

	return events, nil
}
