package graph

import "time"

// Site is a SharePoint site resolved from a hostname and server-relative path.
type Site struct {
	ID     string // composite Graph site id: "host,collectionId,webId"
	Name   string
	WebURL string
}

// Drive is a document library exposed through the Graph drives collection.
type Drive struct {
	ID        string
	Name      string
	DriveType string // "documentLibrary" for SharePoint libraries
	WebURL    string
}

// Item is a normalized drive item from a delta page or a single-item fetch.
// ParentPath is the server-reported path of the containing folder within the
// drive, always starting with "/" ("/" for items directly under the root).
type Item struct {
	ID             string
	DriveID        string
	Name           string
	ParentPath     string
	Size           int64
	WebURL         string
	CreatedBy      string
	LastModifiedBy string
	CreatedAt      time.Time
	ModifiedAt     time.Time
	MIMEType       string
	QuickXorHash   string // base64, as reported by the server
	SHA256Hash     string // lowercase hex, as reported by the server
	DownloadURL    string // pre-authenticated, ephemeral; never log
	IsFolder       bool
	IsPackage      bool // OneNote packages — not downloadable as files
	IsDeleted      bool
	IsRoot         bool
}

// Path returns the item's full path within its drive: ParentPath joined
// with Name, with duplicate slashes collapsed.
func (it Item) Path() string {
	if it.IsRoot {
		return "/"
	}

	parent := it.ParentPath
	if parent == "" || parent == "/" {
		return "/" + it.Name
	}

	return parent + "/" + it.Name
}

// DeltaPage is one fully-materialized page of a drive's delta stream.
// Exactly one of NextLink and DeltaLink is set: NextLink means more pages
// follow; DeltaLink is the terminal cursor to persist for the next sync.
type DeltaPage struct {
	Items     []Item
	NextLink  string
	DeltaLink string
}
