package sync

import (
	"context"
	"encoding/base64"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsalomaa/spmirror/internal/blob"
	"github.com/vsalomaa/spmirror/internal/catalog"
	"github.com/vsalomaa/spmirror/internal/graph"
	"github.com/vsalomaa/spmirror/pkg/quickxorhash"
)

const deltaLink1 = "https://graph.microsoft.com/v1.0/drives/drive1/root/delta?token=t1"
const deltaLink2 = "https://graph.microsoft.com/v1.0/drives/drive1/root/delta?token=t2"

func TestColdStartSingleDrive(t *testing.T) {
	env := newTestEnv(t)
	env.seedColdStart()

	report := env.runSync(t, Options{})

	assert.Equal(t, int64(3), report.Counters.Added)
	assert.Equal(t, int64(350), report.Counters.BytesDownloaded)
	assert.Zero(t, report.Counters.Modified)
	assert.Zero(t, report.Counters.Removed)

	ctx := context.Background()

	// Three documents, each referencing a blob with refcount 1.
	docs, err := env.cat.ListDocuments(ctx, catalog.ListOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 3)

	for _, doc := range docs {
		require.NotNil(t, doc.BlobID)

		b, err := env.cat.GetBlobBySHA(ctx, doc.BlobSHA256)
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.Equal(t, int64(1), b.Refcount)

		state, err := env.blobs.Verify(doc.BlobSHA256, doc.BlobSize)
		require.NoError(t, err)
		assert.Equal(t, blob.VerifyOK, state)
	}

	// Cursor persisted from the terminal delta link.
	link, err := env.cat.GetDeltaLink(ctx, "drive1")
	require.NoError(t, err)
	assert.Equal(t, deltaLink1, link)

	// One add event per file.
	events, err := env.cat.EventsForRun(ctx, report.Run.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)

	for _, ev := range events {
		assert.Equal(t, catalog.EventAdd, ev.Type)
	}
}

func TestIncrementalNoChanges(t *testing.T) {
	env := newTestEnv(t)
	env.seedColdStart()
	env.runSync(t, Options{})

	// The stored cursor points at deltaLink1; the next traversal starts
	// there and yields an empty page with a rotated cursor.
	env.remote.pages[pageKey("drive1", deltaLink1)] = &graph.DeltaPage{DeltaLink: deltaLink2}

	report := env.runSync(t, Options{})

	assert.Zero(t, report.Counters.Added)
	assert.Zero(t, report.Counters.Unchanged)
	assert.Zero(t, report.Counters.BytesDownloaded)

	ctx := context.Background()

	link, err := env.cat.GetDeltaLink(ctx, "drive1")
	require.NoError(t, err)
	assert.Equal(t, deltaLink2, link)

	events, err := env.cat.EventsForRun(ctx, report.Run.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRenameWithoutContentChange(t *testing.T) {
	env := newTestEnv(t)
	env.seedColdStart()
	env.runSync(t, Options{})

	renamed := env.fileItem("itemA", "A_v2.pdf", "/", strings.Repeat("a", 100))
	env.remote.pages[pageKey("drive1", deltaLink1)] = &graph.DeltaPage{
		Items:     []graph.Item{renamed},
		DeltaLink: deltaLink2,
	}

	env.remote.contentCalls = nil

	report := env.runSync(t, Options{})

	assert.Equal(t, int64(1), report.Counters.Unchanged)
	assert.Zero(t, report.Counters.Modified)
	assert.Zero(t, report.Counters.BytesDownloaded)
	assert.Empty(t, env.remote.contentCalls, "matching server hash must not trigger a download")

	ctx := context.Background()

	doc, err := env.cat.GetDocument(ctx, "itemA", "drive1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "A_v2.pdf", doc.Name)
	assert.Equal(t, sha256hex(strings.Repeat("a", 100)), doc.BlobSHA256)

	events, err := env.cat.EventsForRun(ctx, report.Run.ID)
	require.NoError(t, err)
	assert.Empty(t, events, "metadata-only changes log no event")
}

func TestContentChangeSwapsBlobAndLogsPair(t *testing.T) {
	env := newTestEnv(t)
	env.seedColdStart()
	env.runSync(t, Options{})

	oldSHA := sha256hex(strings.Repeat("b", 200))
	newBody := strings.Repeat("B", 250)

	changed := env.fileItem("itemB", "B.docx", "/", newBody)
	env.remote.pages[pageKey("drive1", deltaLink1)] = &graph.DeltaPage{
		Items:     []graph.Item{changed},
		DeltaLink: deltaLink2,
	}

	report := env.runSync(t, Options{})

	assert.Equal(t, int64(1), report.Counters.Modified)
	assert.Equal(t, int64(250), report.Counters.BytesDownloaded)

	ctx := context.Background()

	doc, err := env.cat.GetDocument(ctx, "itemB", "drive1")
	require.NoError(t, err)
	assert.Equal(t, sha256hex(newBody), doc.BlobSHA256)
	assert.Equal(t, int64(250), doc.Size)

	// Old blob row gone and its file removed.
	old, err := env.cat.GetBlobBySHA(ctx, oldSHA)
	require.NoError(t, err)
	assert.Nil(t, old)

	_, statErr := os.Stat(env.blobs.Path(oldSHA))
	assert.True(t, os.IsNotExist(statErr))

	// modify_remove with the old snapshot, then modify_add with the new.
	events, err := env.cat.EventsForRun(ctx, report.Run.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, catalog.EventModifyRemove, events[0].Type)
	assert.Equal(t, int64(200), events[0].Size)
	assert.Equal(t, catalog.EventModifyAdd, events[1].Type)
	assert.Equal(t, int64(250), events[1].Size)
	assert.Equal(t, events[0].RunID, events[1].RunID)
}

func TestDeletionSoftDeletesAndReleasesBlob(t *testing.T) {
	env := newTestEnv(t)
	env.seedColdStart()
	env.runSync(t, Options{})

	sha := sha256hex(strings.Repeat("c", 50))

	env.remote.pages[pageKey("drive1", deltaLink1)] = &graph.DeltaPage{
		Items:     []graph.Item{deletedItem("itemC")},
		DeltaLink: deltaLink2,
	}

	report := env.runSync(t, Options{})

	assert.Equal(t, int64(1), report.Counters.Removed)

	ctx := context.Background()

	doc, err := env.cat.GetDocument(ctx, "itemC", "drive1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.True(t, doc.IsDeleted)
	assert.Nil(t, doc.BlobID)

	b, err := env.cat.GetBlobBySHA(ctx, sha)
	require.NoError(t, err)
	assert.Nil(t, b)

	_, statErr := os.Stat(env.blobs.Path(sha))
	assert.True(t, os.IsNotExist(statErr))

	events, err := env.cat.EventsForRun(ctx, report.Run.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, catalog.EventRemove, events[0].Type)
	assert.Equal(t, "C.txt", events[0].Name)
}

func TestUnknownDeletionIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.remote.pages[pageKey("drive1", "")] = &graph.DeltaPage{
		Items:     []graph.Item{deletedItem("never-seen")},
		DeltaLink: deltaLink1,
	}

	report := env.runSync(t, Options{})

	assert.Zero(t, report.Counters.Removed)
	assert.Zero(t, report.Counters.Skipped)
}

func TestFilterRetraction(t *testing.T) {
	env := newTestEnv(t)
	env.seedColdStart()
	env.runSync(t, Options{})

	// Tighten the filter, then replay the full enumeration.
	cfg := env.config()
	cfg.Sync.IncludeExtensions = []string{"pdf", "docx"}
	env.holder.Update(cfg)

	report := env.runSync(t, Options{Full: true})

	assert.Equal(t, int64(1), report.Counters.Removed)
	assert.Equal(t, int64(2), report.Counters.Unchanged)
	assert.Zero(t, report.Counters.BytesDownloaded)

	ctx := context.Background()

	doc, err := env.cat.GetDocument(ctx, "itemC", "drive1")
	require.NoError(t, err)
	assert.True(t, doc.IsDeleted)

	events, err := env.cat.EventsForRun(ctx, report.Run.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, catalog.EventRemove, events[0].Type)
}

func TestFilterRejectionOfUnmirroredItemSkips(t *testing.T) {
	env := newTestEnv(t)

	cfg := env.config()
	cfg.Sync.IncludeExtensions = []string{"pdf"}
	env.holder.Update(cfg)

	env.seedColdStart()

	report := env.runSync(t, Options{})

	assert.Equal(t, int64(1), report.Counters.Added)
	assert.Equal(t, int64(2), report.Counters.Skipped)
}

func TestDryRunIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	env.seedColdStart()

	report, err := env.orch.Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Nil(t, report.Run)
	assert.Equal(t, int64(3), report.Counters.Added)
	assert.Equal(t, int64(350), report.Counters.BytesDownloaded)
	require.Len(t, report.Events, 3)
	assert.Equal(t, catalog.EventAdd, report.Events[0].Type)

	ctx := context.Background()

	// Nothing was written: no documents, no cursor, no blob files, no run.
	docs, err := env.cat.ListDocuments(ctx, catalog.ListOptions{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Empty(t, docs)

	link, err := env.cat.GetDeltaLink(ctx, "drive1")
	require.NoError(t, err)
	assert.Empty(t, link)

	last, err := env.cat.LastRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	blobCount := 0
	require.NoError(t, env.blobs.Walk(func(string, int64) error {
		blobCount++
		return nil
	}))
	assert.Zero(t, blobCount)
}

func TestAlreadyRunning(t *testing.T) {
	env := newTestEnv(t)
	env.seedColdStart()

	// Another process holds the latch.
	_, err := env.cat.StartRun(context.Background(), false)
	require.NoError(t, err)

	_, err = env.orch.Run(context.Background(), Options{})
	require.ErrorIs(t, err, catalog.ErrAlreadyRunning)
}

func TestCancellationFinalizesRunAsCancelled(t *testing.T) {
	env := newTestEnv(t)

	a := env.fileItem("itemA", "A.pdf", "/", strings.Repeat("a", 100))
	next := "https://graph.microsoft.com/v1.0/drives/drive1/root/delta?skiptoken=s1"

	env.remote.pages[pageKey("drive1", "")] = &graph.DeltaPage{
		Items:    []graph.Item{a},
		NextLink: next,
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Cancel between the first and second page. The second request fails
	// the way a real transport does once its context is gone.
	env.remote.onDelta = func(_, link string) {
		if link == next {
			cancel()
		}
	}
	env.remote.pageErrs[pageKey("drive1", next)] = context.Canceled

	report, err := env.orch.Run(ctx, Options{})
	require.Error(t, err)
	require.NotNil(t, report)
	require.NotNil(t, report.Run)

	assert.Equal(t, catalog.RunFailed, report.Run.Status)
	assert.Equal(t, "cancelled", report.Run.ErrorMessage)

	bg := context.Background()

	// The first page's mutations stayed committed; the cursor did not
	// advance past the interrupted traversal.
	doc, docErr := env.cat.GetDocument(bg, "itemA", "drive1")
	require.NoError(t, docErr)
	assert.NotNil(t, doc)

	link, linkErr := env.cat.GetDeltaLink(bg, "drive1")
	require.NoError(t, linkErr)
	assert.Empty(t, link)

	// The latch is released for the next run.
	current, curErr := env.cat.CurrentRun(bg)
	require.NoError(t, curErr)
	assert.Nil(t, current)
}

func TestFatalDeltaErrorFailsRunWithoutAdvancingCursor(t *testing.T) {
	env := newTestEnv(t)
	env.seedColdStart()
	env.runSync(t, Options{})

	env.remote.pageErrs[pageKey("drive1", deltaLink1)] = &graph.Error{
		StatusCode: 500,
		Message:    "boom",
		Err:        graph.ErrServerError,
	}

	report, err := env.orch.Run(context.Background(), Options{})
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, catalog.RunFailed, report.Run.Status)

	link, linkErr := env.cat.GetDeltaLink(context.Background(), "drive1")
	require.NoError(t, linkErr)
	assert.Equal(t, deltaLink1, link, "failed run must not advance the cursor")
}

func TestGoneCursorRestartsFullEnumeration(t *testing.T) {
	env := newTestEnv(t)
	env.seedColdStart()
	env.runSync(t, Options{})

	// The stored cursor has expired server-side; a full enumeration
	// returns the same three unchanged files.
	env.remote.pageErrs[pageKey("drive1", deltaLink1)] = &graph.Error{
		StatusCode: 410,
		Err:        graph.ErrGone,
	}

	coldPage := env.remote.pages[pageKey("drive1", "")]
	env.remote.pages[pageKey("drive1", "")] = &graph.DeltaPage{
		Items:     coldPage.Items,
		DeltaLink: deltaLink2,
	}

	report := env.runSync(t, Options{})

	assert.Equal(t, int64(3), report.Counters.Unchanged)
	assert.Zero(t, report.Counters.BytesDownloaded)

	link, err := env.cat.GetDeltaLink(context.Background(), "drive1")
	require.NoError(t, err)
	assert.Equal(t, deltaLink2, link)
}

func TestMetadataOnly(t *testing.T) {
	env := newTestEnv(t)

	cfg := env.config()
	cfg.Sync.MetadataOnly = true
	env.holder.Update(cfg)

	env.seedColdStart()

	report := env.runSync(t, Options{})

	assert.Equal(t, int64(3), report.Counters.Added)
	assert.Zero(t, report.Counters.BytesDownloaded)
	assert.Empty(t, env.remote.contentCalls)

	doc, err := env.cat.GetDocument(context.Background(), "itemA", "drive1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Nil(t, doc.BlobID)
	assert.Equal(t, "A.pdf", doc.Name)
}

func TestQuickXorMismatchSkipsItem(t *testing.T) {
	env := newTestEnv(t)

	cfg := env.config()
	cfg.Sync.VerifyQuickXorHash = true
	env.holder.Update(cfg)

	item := env.fileItem("itemA", "A.pdf", "/", "correct bytes")
	item.QuickXorHash = base64.StdEncoding.EncodeToString(make([]byte, 20)) // wrong

	env.remote.pages[pageKey("drive1", "")] = &graph.DeltaPage{
		Items:     []graph.Item{item},
		DeltaLink: deltaLink1,
	}

	report := env.runSync(t, Options{})

	assert.Equal(t, int64(1), report.Counters.Skipped)
	assert.Zero(t, report.Counters.Added)
	assert.NotEmpty(t, report.Errors)

	ctx := context.Background()

	doc, err := env.cat.GetDocument(ctx, "itemA", "drive1")
	require.NoError(t, err)
	assert.Nil(t, doc)

	// The rejected blob file was discarded.
	_, statErr := os.Stat(env.blobs.Path(sha256hex("correct bytes")))
	assert.True(t, os.IsNotExist(statErr))
}

func TestQuickXorMatchAccepts(t *testing.T) {
	env := newTestEnv(t)

	cfg := env.config()
	cfg.Sync.VerifyQuickXorHash = true
	env.holder.Update(cfg)

	body := "verified bytes"
	qx := quickxorhash.New()
	qx.Write([]byte(body))

	item := env.fileItem("itemA", "A.pdf", "/", body)
	item.QuickXorHash = base64.StdEncoding.EncodeToString(qx.Sum(nil))

	env.remote.pages[pageKey("drive1", "")] = &graph.DeltaPage{
		Items:     []graph.Item{item},
		DeltaLink: deltaLink1,
	}

	report := env.runSync(t, Options{})

	assert.Equal(t, int64(1), report.Counters.Added)
}

func TestMissingServerHashAcceptedWhenVerifying(t *testing.T) {
	env := newTestEnv(t)

	cfg := env.config()
	cfg.Sync.VerifyQuickXorHash = true
	env.holder.Update(cfg)

	item := env.fileItem("itemA", "A.pdf", "/", "no hash advertised")
	item.QuickXorHash = ""

	env.remote.pages[pageKey("drive1", "")] = &graph.DeltaPage{
		Items:     []graph.Item{item},
		DeltaLink: deltaLink1,
	}

	report := env.runSync(t, Options{})

	assert.Equal(t, int64(1), report.Counters.Added)
	assert.Zero(t, report.Counters.Skipped)
}

func TestVanishedContentSkipsItem(t *testing.T) {
	env := newTestEnv(t)

	item := env.fileItem("itemA", "A.pdf", "/", "body")
	env.remote.contentErr["itemA"] = &graph.Error{StatusCode: 404, Err: graph.ErrNotFound}

	env.remote.pages[pageKey("drive1", "")] = &graph.DeltaPage{
		Items:     []graph.Item{item},
		DeltaLink: deltaLink1,
	}

	report := env.runSync(t, Options{})

	assert.Equal(t, int64(1), report.Counters.Skipped)
	assert.NotEmpty(t, report.Errors)
}

func TestFoldersAndRootIgnored(t *testing.T) {
	env := newTestEnv(t)

	env.remote.pages[pageKey("drive1", "")] = &graph.DeltaPage{
		Items: []graph.Item{
			{ID: "root", DriveID: "drive1", Name: "root", IsRoot: true, IsFolder: true},
			{ID: "folder1", DriveID: "drive1", Name: "Reports", ParentPath: "/", IsFolder: true},
		},
		DeltaLink: deltaLink1,
	}

	report := env.runSync(t, Options{})

	assert.Zero(t, report.Counters.Total())
}

func TestLibrarySelection(t *testing.T) {
	env := newTestEnv(t)
	env.remote.drives = []graph.Drive{
		{ID: "drive1", Name: "Documents", DriveType: "documentLibrary"},
		{ID: "drive2", Name: "Archive", DriveType: "documentLibrary"},
	}
	env.seedColdStart()

	report := env.runSync(t, Options{Library: "Documents"})
	require.Len(t, report.Drives, 1)
	assert.Equal(t, "drive1", report.Drives[0].ID)

	_, err := env.orch.Run(context.Background(), Options{Library: "Nope"})
	require.ErrorIs(t, err, ErrLibraryNotFound)
}

func TestMultiDrivePagination(t *testing.T) {
	env := newTestEnv(t)
	env.remote.drives = []graph.Drive{
		{ID: "drive1", Name: "Documents", DriveType: "documentLibrary"},
		{ID: "drive2", Name: "Archive", DriveType: "documentLibrary"},
	}

	a := env.fileItem("itemA", "A.pdf", "/", "drive one page one")
	b := env.fileItem("itemB", "B.pdf", "/", "drive one page two")

	next := "https://graph.microsoft.com/v1.0/drives/drive1/root/delta?skiptoken=s1"
	env.remote.pages[pageKey("drive1", "")] = &graph.DeltaPage{Items: []graph.Item{a}, NextLink: next}
	env.remote.pages[pageKey("drive1", next)] = &graph.DeltaPage{Items: []graph.Item{b}, DeltaLink: deltaLink1}

	c := graph.Item{
		ID: "itemC", DriveID: "drive2", Name: "C.pdf", ParentPath: "/", Size: 9,
		SHA256Hash: sha256hex("archived!"),
	}
	env.remote.content["itemC"] = "archived!"
	env.remote.pages[pageKey("drive2", "")] = &graph.DeltaPage{
		Items:     []graph.Item{c},
		DeltaLink: "https://graph.microsoft.com/v1.0/drives/drive2/root/delta?token=z1",
	}

	report := env.runSync(t, Options{})

	assert.Equal(t, int64(3), report.Counters.Added)

	ctx := context.Background()

	link1, err := env.cat.GetDeltaLink(ctx, "drive1")
	require.NoError(t, err)
	assert.Equal(t, deltaLink1, link1)

	link2, err := env.cat.GetDeltaLink(ctx, "drive2")
	require.NoError(t, err)
	assert.NotEmpty(t, link2)
}

func TestDuplicateContentSharesOneBlob(t *testing.T) {
	env := newTestEnv(t)

	body := "identical bytes in two documents"
	a := env.fileItem("itemA", "A.txt", "/", body)
	b := env.fileItem("itemB", "B.txt", "/Copies", body)

	env.remote.pages[pageKey("drive1", "")] = &graph.DeltaPage{
		Items:     []graph.Item{a, b},
		DeltaLink: deltaLink1,
	}

	report := env.runSync(t, Options{})

	assert.Equal(t, int64(2), report.Counters.Added)

	blob, err := env.cat.GetBlobBySHA(context.Background(), sha256hex(body))
	require.NoError(t, err)
	require.NotNil(t, blob)
	assert.Equal(t, int64(2), blob.Refcount)

	files := 0
	require.NoError(t, env.blobs.Walk(func(string, int64) error {
		files++
		return nil
	}))
	assert.Equal(t, 1, files)
}
