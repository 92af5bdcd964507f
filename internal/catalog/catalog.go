// Package catalog is the durable relational state of the mirror: documents,
// content blobs, delta cursors, runs, and events in a single SQLite file.
// It is the sole writer of every row; multi-row mutations go through an
// explicit transaction (Begin) so catalog rows and blob reference counts
// never drift apart. The sync_in_progress latch lives here too, making
// mutual exclusion correct across processes sharing an instance directory.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// ErrAlreadyRunning is returned by StartRun when another sync run holds the
// latch.
var ErrAlreadyRunning = errors.New("catalog: a sync run is already in progress")

// latchKey is the app_settings row that serializes runs across processes.
const latchKey = "sync_in_progress"

// Catalog wraps the SQLite database holding all mirror state.
type Catalog struct {
	db     *sql.DB
	logger *slog.Logger

	nowFunc func() time.Time // injectable for deterministic tests
}

// Open opens (creating and migrating if needed) the catalog database at
// path. Use a file under t.TempDir() in tests.
func Open(path string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: opening database %s: %w", path, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("catalog ready", slog.String("db_path", path))

	return &Catalog{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("catalog: closing database: %w", err)
	}

	return nil
}

// SchemaVersion reads the schema version stamped by migrations.
func (c *Catalog) SchemaVersion(ctx context.Context) (int, error) {
	var version int

	err := c.db.QueryRowContext(ctx,
		`SELECT value FROM db_metadata WHERE key = 'schema_version'`,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("catalog: reading schema version: %w", err)
	}

	return version, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx so document reads work
// inside and outside transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// documentSelect joins blob identity into every document read; the processor
// needs the stored content hash to decide whether a download is required.
const documentSelect = `SELECT
	d.id, d.item_id, d.drive_id, d.name, d.path, d.mime, d.size, d.web_url,
	d.created_by, d.last_modified_by, d.quickxor_hash,
	d.remote_created_at, d.remote_modified_at, d.blob_id, d.is_deleted,
	d.synced_at, d.created_at, d.updated_at,
	b.sha256, b.size
	FROM documents d
	LEFT JOIN file_blobs b ON b.id = d.blob_id`

// rowScanner is the common surface of *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc              Document
		remoteCreatedAt  int64
		remoteModifiedAt int64
		blobID           sql.NullInt64
		syncedAt         int64
		createdAt        int64
		updatedAt        int64
		blobSHA          sql.NullString
		blobSize         sql.NullInt64
	)

	err := row.Scan(
		&doc.ID, &doc.ItemID, &doc.DriveID, &doc.Name, &doc.Path,
		&doc.MIME, &doc.Size, &doc.WebURL,
		&doc.CreatedBy, &doc.LastModifiedBy, &doc.QuickXorHash,
		&remoteCreatedAt, &remoteModifiedAt, &blobID, &doc.IsDeleted,
		&syncedAt, &createdAt, &updatedAt,
		&blobSHA, &blobSize,
	)
	if err != nil {
		return nil, err
	}

	doc.RemoteCreatedAt = fromUnixNano(remoteCreatedAt)
	doc.RemoteModifiedAt = fromUnixNano(remoteModifiedAt)
	doc.SyncedAt = fromUnixNano(syncedAt)
	doc.CreatedAt = fromUnixNano(createdAt)
	doc.UpdatedAt = fromUnixNano(updatedAt)

	if blobID.Valid {
		doc.BlobID = &blobID.Int64
		doc.BlobSHA256 = blobSHA.String
		doc.BlobSize = blobSize.Int64
	}

	return &doc, nil
}

// getDocument looks up a document by its remote key. Returns (nil, nil) when
// no row exists.
func getDocument(ctx context.Context, q querier, itemID, driveID string) (*Document, error) {
	row := q.QueryRowContext(ctx,
		documentSelect+` WHERE d.item_id = ? AND d.drive_id = ?`,
		itemID, driveID,
	)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("catalog: loading document %s/%s: %w", driveID, itemID, err)
	}

	return doc, nil
}

// fromUnixNano converts a stored nanosecond timestamp back to time.Time.
// Zero stays the zero time so "never" roundtrips.
func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}

	return time.Unix(0, n).UTC()
}

// toUnixNano is the storage form of a timestamp.
func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

// nullInt64 maps a nilable id to its SQL representation.
func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: *p, Valid: true}
}
