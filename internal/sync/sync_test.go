package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vsalomaa/spmirror/internal/blob"
	"github.com/vsalomaa/spmirror/internal/catalog"
	"github.com/vsalomaa/spmirror/internal/config"
	"github.com/vsalomaa/spmirror/internal/graph"
)

// fakeRemote scripts Graph responses for orchestrator tests. Pages are keyed
// by drive id and link; content by item id.
type fakeRemote struct {
	mu gosync.Mutex

	site   graph.Site
	drives []graph.Drive

	pages      map[string]*graph.DeltaPage
	pageErrs   map[string]error
	content    map[string]string
	contentErr map[string]error

	siteErr   error
	drivesErr error

	deltaCalls   []string
	contentCalls []string

	// onDelta runs before each Delta response, for cancellation tests.
	onDelta func(driveID, link string)
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		site: graph.Site{ID: "contoso,site1,web1", Name: "Engineering"},
		drives: []graph.Drive{
			{ID: "drive1", Name: "Documents", DriveType: "documentLibrary"},
		},
		pages:      make(map[string]*graph.DeltaPage),
		pageErrs:   make(map[string]error),
		content:    make(map[string]string),
		contentErr: make(map[string]error),
	}
}

func pageKey(driveID, link string) string {
	return driveID + "|" + link
}

func (f *fakeRemote) Site(_ context.Context, _, _ string) (*graph.Site, error) {
	if f.siteErr != nil {
		return nil, f.siteErr
	}

	site := f.site

	return &site, nil
}

func (f *fakeRemote) Drives(_ context.Context, _ string) ([]graph.Drive, error) {
	if f.drivesErr != nil {
		return nil, f.drivesErr
	}

	return f.drives, nil
}

func (f *fakeRemote) Delta(_ context.Context, driveID, link string) (*graph.DeltaPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deltaCalls = append(f.deltaCalls, pageKey(driveID, link))

	if f.onDelta != nil {
		f.onDelta(driveID, link)
	}

	if err, ok := f.pageErrs[pageKey(driveID, link)]; ok {
		return nil, err
	}

	page, ok := f.pages[pageKey(driveID, link)]
	if !ok {
		return nil, fmt.Errorf("fakeRemote: no page scripted for %s", pageKey(driveID, link))
	}

	return page, nil
}

func (f *fakeRemote) Content(_ context.Context, item graph.Item) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.contentCalls = append(f.contentCalls, item.ID)

	if err, ok := f.contentErr[item.ID]; ok {
		return nil, err
	}

	body, ok := f.content[item.ID]
	if !ok {
		return nil, fmt.Errorf("fakeRemote: no content scripted for item %s", item.ID)
	}

	return io.NopCloser(strings.NewReader(body)), nil
}

// testEnv bundles a real catalog and blob store under t.TempDir() with a
// scripted remote.
type testEnv struct {
	remote *fakeRemote
	cat    *catalog.Catalog
	blobs  *blob.Store
	holder *config.Holder
	orch   *Orchestrator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	cat, err := catalog.Open(filepath.Join(dir, "catalog.db"), logger)
	require.NoError(t, err)

	t.Cleanup(func() { cat.Close() })

	blobs, err := blob.New(filepath.Join(dir, "blobs"), logger)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.SharePoint = config.SharePointConfig{
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: "secret",
		SiteHostname: "contoso.sharepoint.com",
		SitePath:     "/sites/engineering",
	}

	remote := newFakeRemote()
	holder := config.NewHolder(cfg, "")

	return &testEnv{
		remote: remote,
		cat:    cat,
		blobs:  blobs,
		holder: holder,
		orch:   New(remote, cat, blobs, holder, logger),
	}
}

func (e *testEnv) config() *config.Config {
	return e.holder.Config()
}

// fileItem builds an upsert entry whose server hash matches body, and
// registers the body as downloadable content.
func (e *testEnv) fileItem(id, name, parentPath string, body string) graph.Item {
	e.remote.content[id] = body

	sum := sha256.Sum256([]byte(body))

	return graph.Item{
		ID:             id,
		DriveID:        "drive1",
		Name:           name,
		ParentPath:     parentPath,
		Size:           int64(len(body)),
		WebURL:         "https://contoso.sharepoint.com/" + name,
		CreatedBy:      "Alice",
		LastModifiedBy: "Bob",
		CreatedAt:      time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		ModifiedAt:     time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC),
		MIMEType:       "application/octet-stream",
		SHA256Hash:     hex.EncodeToString(sum[:]),
	}
}

func deletedItem(id string) graph.Item {
	return graph.Item{ID: id, DriveID: "drive1", IsDeleted: true}
}

// seedColdStart scripts a first enumeration: three files on one drive,
// one page, terminal delta link.
func (e *testEnv) seedColdStart() {
	a := e.fileItem("itemA", "A.pdf", "/", strings.Repeat("a", 100))
	b := e.fileItem("itemB", "B.docx", "/", strings.Repeat("b", 200))
	c := e.fileItem("itemC", "C.txt", "/", strings.Repeat("c", 50))

	e.remote.pages[pageKey("drive1", "")] = &graph.DeltaPage{
		Items:     []graph.Item{a, b, c},
		DeltaLink: "https://graph.microsoft.com/v1.0/drives/drive1/root/delta?token=t1",
	}
}

// runSync executes a live run and requires it to complete.
func (e *testEnv) runSync(t *testing.T, opts Options) *Report {
	t.Helper()

	report, err := e.orch.Run(context.Background(), opts)
	require.NoError(t, err)
	require.NotNil(t, report.Run)
	require.Equal(t, catalog.RunCompleted, report.Run.Status)

	return report
}

func sha256hex(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}
