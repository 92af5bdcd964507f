package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Timestamp validation bounds. Timestamps outside this range are replaced
// with the current time and a warning is logged.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// driveItemResponse mirrors the Graph API driveItem JSON exactly.
// Unexported: callers only see Item via toItem() normalization.
type driveItemResponse struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Size                 int64            `json:"size"`
	WebURL               string           `json:"webUrl"`
	CreatedDateTime      string           `json:"createdDateTime"`
	LastModifiedDateTime string           `json:"lastModifiedDateTime"`
	ParentReference      *parentRef       `json:"parentReference"`
	CreatedBy            *identitySet     `json:"createdBy"`
	LastModifiedBy       *identitySet     `json:"lastModifiedBy"`
	File                 *fileFacet       `json:"file"`
	Folder               *folderFacet     `json:"folder"`
	Root                 *json.RawMessage `json:"root"`
	Deleted              *json.RawMessage `json:"deleted"`
	Package              *json.RawMessage `json:"package"`
	DownloadURL          string           `json:"@microsoft.graph.downloadUrl"` //nolint:tagliatelle // Graph API annotation key
}

type parentRef struct {
	ID      string `json:"id"`
	DriveID string `json:"driveId"`
	Path    string `json:"path"` // "/drives/{id}/root:/sub/folder"
}

type identitySet struct {
	User *identity `json:"user"`
}

type identity struct {
	DisplayName string `json:"displayName"`
}

type fileFacet struct {
	MimeType string     `json:"mimeType"`
	Hashes   *hashFacet `json:"hashes"`
}

type hashFacet struct {
	QuickXorHash string `json:"quickXorHash"`
	SHA256Hash   string `json:"sha256Hash"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

// toItem normalizes a Graph driveItem response into our Item type.
func (d *driveItemResponse) toItem(logger *slog.Logger) Item {
	item := Item{
		ID:          d.ID,
		Name:        normalizeName(d.Name, logger),
		Size:        d.Size,
		WebURL:      d.WebURL,
		IsFolder:    d.Folder != nil,
		IsPackage:   d.Package != nil,
		IsDeleted:   d.Deleted != nil,
		IsRoot:      d.Root != nil,
		DownloadURL: d.DownloadURL,
	}

	if d.ParentReference != nil {
		// Drive IDs come back with inconsistent casing across endpoints.
		item.DriveID = strings.ToLower(d.ParentReference.DriveID)
		item.ParentPath = parseParentPath(d.ParentReference.Path)
	} else {
		item.ParentPath = "/"
	}

	if d.CreatedBy != nil && d.CreatedBy.User != nil {
		item.CreatedBy = d.CreatedBy.User.DisplayName
	}

	if d.LastModifiedBy != nil && d.LastModifiedBy.User != nil {
		item.LastModifiedBy = d.LastModifiedBy.User.DisplayName
	}

	if d.File != nil {
		item.MIMEType = d.File.MimeType

		if d.File.Hashes != nil {
			item.QuickXorHash = d.File.Hashes.QuickXorHash
			item.SHA256Hash = strings.ToLower(d.File.Hashes.SHA256Hash)
		}
	}

	// Deleted entries sometimes carry stale hashes; clear them so the
	// processor never mistakes a tombstone for content.
	if item.IsDeleted {
		item.QuickXorHash = ""
		item.SHA256Hash = ""
		item.DownloadURL = ""
	}

	item.CreatedAt = parseTimestamp(d.CreatedDateTime, "createdDateTime", d.ID, logger)
	item.ModifiedAt = parseTimestamp(d.LastModifiedDateTime, "lastModifiedDateTime", d.ID, logger)

	return item
}

// parseParentPath extracts the in-drive folder path from a parentReference
// path of the form "/drives/{id}/root:/sub/folder". Items at the drive root
// have no suffix after "root:"; deleted items may omit the path entirely.
// The result always starts with "/".
func parseParentPath(raw string) string {
	if raw == "" {
		return "/"
	}

	_, after, found := strings.Cut(raw, "root:")
	if !found || after == "" {
		return "/"
	}

	if decoded, err := url.PathUnescape(after); err == nil {
		after = decoded
	}

	if !strings.HasPrefix(after, "/") {
		after = "/" + after
	}

	return norm.NFC.String(after)
}

// normalizeName NFC-normalizes an item name and undoes the percent-encoding
// Graph occasionally leaves in delta responses.
func normalizeName(name string, logger *slog.Logger) string {
	unescaped, err := url.PathUnescape(name)
	if err != nil {
		// Malformed percent-encoding from the API; keep the raw name.
		logger.Debug("failed to URL-decode item name, keeping original",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)

		unescaped = name
	}

	return norm.NFC.String(unescaped)
}

// parseTimestamp parses an RFC3339 timestamp and validates the year range.
// Invalid or out-of-range values are replaced with time.Now().UTC().
func parseTimestamp(raw, field, itemID string, logger *slog.Logger) time.Time {
	if raw == "" {
		logger.Warn("empty timestamp, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
		)

		return time.Now().UTC()
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid timestamp, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)

		return time.Now().UTC()
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logger.Warn("timestamp out of valid range, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("raw", raw),
		)

		return time.Now().UTC()
	}

	return t
}

// GetItem retrieves a single drive item by ID. Used to refresh a stale
// pre-authenticated download URL.
func (c *Client) GetItem(ctx context.Context, driveID, itemID string) (*Item, error) {
	var resp driveItemResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/drives/%s/items/%s", driveID, itemID), &resp); err != nil {
		return nil, err
	}

	item := resp.toItem(c.logger)

	return &item, nil
}
