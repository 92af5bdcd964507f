package catalog

import "time"

// UpsertAction classifies what an upsert did to a document row.
type UpsertAction string

const (
	ActionInserted        UpsertAction = "inserted"
	ActionUpdatedMetadata UpsertAction = "updated_metadata"
	ActionUpdatedContent  UpsertAction = "updated_content"
	ActionUnchanged       UpsertAction = "unchanged"
)

// EventType is the kind of a sync event. Content changes are recorded as a
// modify_remove (old snapshot) + modify_add (new snapshot) pair under the
// same run; metadata-only changes log nothing.
type EventType string

const (
	EventAdd          EventType = "add"
	EventRemove       EventType = "remove"
	EventModifyAdd    EventType = "modify_add"
	EventModifyRemove EventType = "modify_remove"
)

// RunStatus is the lifecycle state of a sync run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Document is a mirrored file's catalog row. Blob fields are joined in from
// file_blobs when the document references content.
type Document struct {
	ID               int64
	ItemID           string
	DriveID          string
	Name             string
	Path             string
	MIME             string
	Size             int64
	WebURL           string
	CreatedBy        string
	LastModifiedBy   string
	QuickXorHash     string
	RemoteCreatedAt  time.Time
	RemoteModifiedAt time.Time
	BlobID           *int64
	BlobSHA256       string
	BlobSize         int64
	IsDeleted        bool
	SyncedAt         time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DocumentFields is the mutable metadata written by an upsert. The remote
// keys (item_id, drive_id) and the blob reference are passed separately.
type DocumentFields struct {
	Name             string
	Path             string
	MIME             string
	Size             int64
	WebURL           string
	CreatedBy        string
	LastModifiedBy   string
	QuickXorHash     string
	RemoteCreatedAt  time.Time
	RemoteModifiedAt time.Time
}

// Blob is a unique content body with its reference count.
type Blob struct {
	ID        int64
	SHA256    string
	Size      int64
	MIME      string
	Refcount  int64
	CreatedAt time.Time
}

// BlobRef reports the state of a blob after a reference was released. A
// refcount of zero means the caller owns removing the file.
type BlobRef struct {
	ID       int64
	SHA256   string
	Refcount int64
}

// Counters are the per-run tallies. They are advanced inside the same
// transaction as the catalog mutation they describe.
type Counters struct {
	Added           int64
	Modified        int64
	Removed         int64
	Unchanged       int64
	Skipped         int64
	BytesDownloaded int64
}

// Add accumulates other into c.
func (c *Counters) Add(other Counters) {
	c.Added += other.Added
	c.Modified += other.Modified
	c.Removed += other.Removed
	c.Unchanged += other.Unchanged
	c.Skipped += other.Skipped
	c.BytesDownloaded += other.BytesDownloaded
}

// Total returns the number of items the counters account for, downloads
// excluded.
func (c Counters) Total() int64 {
	return c.Added + c.Modified + c.Removed + c.Unchanged + c.Skipped
}

// Run is one orchestrator invocation.
type Run struct {
	ID           int64
	Status       RunStatus
	IsFull       bool
	StartedAt    time.Time
	CompletedAt  *time.Time
	Counters     Counters
	ErrorMessage string
}

// Duration returns the run's wall-clock time, zero while still running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}

	return r.CompletedAt.Sub(r.StartedAt)
}

// EventSnapshot captures the item state recorded with an event. Snapshots
// survive document mutation so history stays readable after the row moves on.
type EventSnapshot struct {
	DocumentID int64
	ItemID     string
	Name       string
	Path       string
	Size       int64
	BlobID     *int64
}

// Event is a logged sync event row.
type Event struct {
	ID         int64
	RunID      int64
	DocumentID *int64
	Type       EventType
	ItemID     string
	Name       string
	Path       string
	Size       int64
	BlobID     *int64
	LoggedAt   time.Time
}

// DriveInfo is the catalog's record of a remote document library.
type DriveInfo struct {
	ID        string
	SiteID    string
	Name      string
	DriveType string
	WebURL    string
}

// CursorState pairs a persisted delta cursor with its drive's display name.
type CursorState struct {
	DriveID   string
	DriveName string
	UpdatedAt time.Time
}

// Totals are the aggregate counts shown by status.
type Totals struct {
	Documents     int64
	DocumentBytes int64
	Blobs         int64
	BlobBytes     int64
}
