package sync

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/vsalomaa/spmirror/internal/catalog"
)

// ExportFormat selects the metadata export encoding.
type ExportFormat string

const (
	ExportJSON  ExportFormat = "json"
	ExportJSONL ExportFormat = "jsonl"
	ExportCSV   ExportFormat = "csv"
)

// ExportOptions control ExportMetadata.
type ExportOptions struct {
	Format          ExportFormat
	IncludeDeleted  bool
	IncludeBlobPath bool
}

// exportRecord is the wire shape of one exported document.
type exportRecord struct {
	ItemID           string `json:"item_id"`
	DriveID          string `json:"drive_id"`
	Name             string `json:"name"`
	Path             string `json:"path"`
	MIME             string `json:"mime"`
	Size             int64  `json:"size"`
	WebURL           string `json:"web_url"`
	CreatedBy        string `json:"created_by"`
	LastModifiedBy   string `json:"last_modified_by"`
	RemoteCreatedAt  string `json:"remote_created_at"`
	RemoteModifiedAt string `json:"remote_modified_at"`
	SHA256           string `json:"sha256,omitempty"`
	BlobPath         string `json:"blob_path,omitempty"`
	IsDeleted        bool   `json:"is_deleted"`
	SyncedAt         string `json:"synced_at"`
}

// ExportMetadata streams the catalog's documents to w in the requested
// format, returning how many records were written. Documents stream straight
// from the catalog so exports of large mirrors stay flat in memory.
func (o *Orchestrator) ExportMetadata(ctx context.Context, w io.Writer, opts ExportOptions) (int, error) {
	switch opts.Format {
	case ExportJSON:
		return o.exportJSON(ctx, w, opts)
	case ExportJSONL:
		return o.exportJSONL(ctx, w, opts)
	case ExportCSV:
		return o.exportCSV(ctx, w, opts)
	default:
		return 0, fmt.Errorf("sync: unknown export format %q", opts.Format)
	}
}

func (o *Orchestrator) exportJSON(ctx context.Context, w io.Writer, opts ExportOptions) (int, error) {
	count := 0

	if _, err := io.WriteString(w, "["); err != nil {
		return count, fmt.Errorf("sync: writing export: %w", err)
	}

	err := o.cat.ForEachDocument(ctx, opts.IncludeDeleted, func(doc catalog.Document) error {
		data, err := json.MarshalIndent(o.recordOf(doc, opts), "  ", "  ")
		if err != nil {
			return fmt.Errorf("sync: encoding document %s: %w", doc.Path, err)
		}

		sep := "\n  "
		if count > 0 {
			sep = ",\n  "
		}

		if _, err := io.WriteString(w, sep+string(data)); err != nil {
			return fmt.Errorf("sync: writing export: %w", err)
		}

		count++

		return nil
	})
	if err != nil {
		return count, err
	}

	if _, err := io.WriteString(w, "\n]\n"); err != nil {
		return count, fmt.Errorf("sync: writing export: %w", err)
	}

	return count, nil
}

func (o *Orchestrator) exportJSONL(ctx context.Context, w io.Writer, opts ExportOptions) (int, error) {
	count := 0
	enc := json.NewEncoder(w)

	err := o.cat.ForEachDocument(ctx, opts.IncludeDeleted, func(doc catalog.Document) error {
		if err := enc.Encode(o.recordOf(doc, opts)); err != nil {
			return fmt.Errorf("sync: encoding document %s: %w", doc.Path, err)
		}

		count++

		return nil
	})

	return count, err
}

var csvHeader = []string{
	"item_id", "drive_id", "name", "path", "mime", "size", "web_url",
	"created_by", "last_modified_by", "remote_created_at",
	"remote_modified_at", "sha256", "blob_path", "is_deleted", "synced_at",
}

func (o *Orchestrator) exportCSV(ctx context.Context, w io.Writer, opts ExportOptions) (int, error) {
	count := 0
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return count, fmt.Errorf("sync: writing export header: %w", err)
	}

	err := o.cat.ForEachDocument(ctx, opts.IncludeDeleted, func(doc catalog.Document) error {
		rec := o.recordOf(doc, opts)

		row := []string{
			rec.ItemID, rec.DriveID, rec.Name, rec.Path, rec.MIME,
			strconv.FormatInt(rec.Size, 10), rec.WebURL,
			rec.CreatedBy, rec.LastModifiedBy, rec.RemoteCreatedAt,
			rec.RemoteModifiedAt, rec.SHA256, rec.BlobPath,
			strconv.FormatBool(rec.IsDeleted), rec.SyncedAt,
		}

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("sync: writing document %s: %w", doc.Path, err)
		}

		count++

		return nil
	})
	if err != nil {
		return count, err
	}

	cw.Flush()

	if err := cw.Error(); err != nil {
		return count, fmt.Errorf("sync: flushing export: %w", err)
	}

	return count, nil
}

func (o *Orchestrator) recordOf(doc catalog.Document, opts ExportOptions) exportRecord {
	rec := exportRecord{
		ItemID:           doc.ItemID,
		DriveID:          doc.DriveID,
		Name:             doc.Name,
		Path:             doc.Path,
		MIME:             doc.MIME,
		Size:             doc.Size,
		WebURL:           doc.WebURL,
		CreatedBy:        doc.CreatedBy,
		LastModifiedBy:   doc.LastModifiedBy,
		RemoteCreatedAt:  formatExportTime(doc.RemoteCreatedAt),
		RemoteModifiedAt: formatExportTime(doc.RemoteModifiedAt),
		SHA256:           doc.BlobSHA256,
		IsDeleted:        doc.IsDeleted,
		SyncedAt:         formatExportTime(doc.SyncedAt),
	}

	if opts.IncludeBlobPath && doc.BlobSHA256 != "" {
		rec.BlobPath = o.blobs.Path(doc.BlobSHA256)
	}

	return rec
}

// formatExportTime renders a timestamp as ISO-8601 UTC, "" for never-set.
func formatExportTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339)
}
